package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/community-scoring-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/community-scoring-service/internal/adapter/kafka"
	"github.com/couchcryptid/community-scoring-service/internal/config"
	"github.com/couchcryptid/community-scoring-service/internal/observability"
	"github.com/couchcryptid/community-scoring-service/internal/pipeline"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the health/metrics server and, when enabled, the Kafka refresh pipeline",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close error", "error", err)
		}
	}()

	checks := []httpadapter.Check{{Name: "store", Checker: a.store}}

	var reader *kafkaadapter.Reader
	var p *pipeline.Pipeline
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		transformer := pipeline.NewTransformer(a.ingest, a.ingest, logger)
		p = pipeline.New(reader, transformer, a.writer, logger, a.metrics, pipeline.Config{
			BatchSize: cfg.BatchSize,
			Workers:   cfg.FetchConcurrency,
		})
		checks = append(checks, httpadapter.Check{Name: "pipeline", Checker: p})
	} else {
		logger.Info("kafka pipeline disabled")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, logger, checks...)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start refresh pipeline.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if p == nil {
			return
		}
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}
