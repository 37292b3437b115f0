package httpadapter_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/couchcryptid/community-scoring-service/internal/adapter/httpadapter"
	"github.com/stretchr/testify/assert"
)

type stubCheck struct {
	err error
}

func (s stubCheck) CheckReadiness(context.Context) error { return s.err }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func get(srv http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz_IgnoresReadiness(t *testing.T) {
	srv := httpadapter.NewServer(":0", quietLogger(), httpadapter.Check{Name: "store", Checker: stubCheck{errors.New("closed")}})
	assert.Equal(t, http.StatusOK, get(srv, "/healthz").Code)
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name     string
		store    error
		pipeline error
		want     int
	}{
		{name: "all ready", want: http.StatusOK},
		{name: "store unreachable", store: errors.New("ping failed"), want: http.StatusServiceUnavailable},
		{name: "pipeline idle", pipeline: errors.New("no score events yet"), want: http.StatusServiceUnavailable},
		{name: "both failing", store: errors.New("ping failed"), pipeline: errors.New("no score events yet"), want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httpadapter.NewServer(":0", quietLogger(),
				httpadapter.Check{Name: "store", Checker: stubCheck{tt.store}},
				httpadapter.Check{Name: "pipeline", Checker: stubCheck{tt.pipeline}},
			)
			assert.Equal(t, tt.want, get(srv, "/readyz").Code)
		})
	}
}

func TestReadyz_NoChecks(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(httpadapter.NewServer(":0", quietLogger()), "/readyz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(httpadapter.NewServer(":0", quietLogger()), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHealthz_RejectsPost(t *testing.T) {
	srv := httpadapter.NewServer(":0", quietLogger())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
