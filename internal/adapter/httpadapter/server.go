package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check is a named readiness dependency. The name prefixes its error in the
// /readyz body.
type Check struct {
	Name    string
	Checker sharedobs.ReadinessChecker
}

// Server serves the operational endpoints of the scoring service.
type Server struct {
	srv    *http.Server
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer wires /healthz, /readyz, and /metrics. /readyz reports ready only
// when every check passes; with no checks it is always ready.
func NewServer(addr string, logger *slog.Logger, checks ...Check) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(readiness{checks: checks, logger: logger}))
	mux.Handle("GET /metrics", promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		mux:    mux,
		logger: logger,
	}
}

type readiness struct {
	checks []Check
	logger *slog.Logger
}

func (r readiness) CheckReadiness(ctx context.Context) error {
	var errs []error
	for _, c := range r.checks {
		if err := c.Checker.CheckReadiness(ctx); err != nil {
			r.logger.Debug("readiness check failed", "check", c.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Start listens until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown drains open connections until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
