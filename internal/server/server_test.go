package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	apperrors "github.com/3leaps/simstat/internal/errors"
	"github.com/3leaps/simstat/internal/server/handlers"
	"github.com/3leaps/simstat/pkg/crawler"
)

func do(srv *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func fullServer(t *testing.T) *Server {
	t.Helper()
	cache := handlers.NewJobsCache(func(ctx context.Context) (*crawler.JobSet, error) {
		return &crawler.JobSet{Root: "/sims"}, nil
	}, time.Minute)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# HELP simstat_jobs Jobs by status.\n"))
	})
	return New("127.0.0.1", 0,
		WithJobs(handlers.NewJobsHandler(cache, nil, nil)),
		WithMetrics(metrics),
		WithPprof(true),
		WithTimeouts(time.Second, 0, 0),
	)
}

func TestServer_Routes(t *testing.T) {
	handlers.InitHealthManager("test")
	bare := New("127.0.0.1", 0)
	full := fullServer(t)

	tests := []struct {
		method   string
		path     string
		bareWant int
		fullWant int
	}{
		{http.MethodGet, "/health", http.StatusOK, http.StatusOK},
		{http.MethodGet, "/health/live", http.StatusOK, http.StatusOK},
		{http.MethodGet, "/health/ready", http.StatusOK, http.StatusOK},
		{http.MethodGet, "/health/startup", http.StatusOK, http.StatusOK},
		{http.MethodGet, "/version", http.StatusOK, http.StatusOK},
		{http.MethodGet, "/jobs", http.StatusNotFound, http.StatusOK},
		{http.MethodGet, "/diagnostics", http.StatusNotFound, http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusNotFound, http.StatusOK},
		{http.MethodGet, "/debug/pprof/", http.StatusNotFound, http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound, http.StatusNotFound},
		{http.MethodPost, "/version", http.StatusMethodNotAllowed, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.bareWant, do(bare, tt.method, tt.path).Code, "without options")
			assert.Equal(t, tt.fullWant, do(full, tt.method, tt.path).Code, "with options")
		})
	}
}

func TestServer_ErrorEnvelopes(t *testing.T) {
	srv := New("127.0.0.1", 0)

	tests := []struct {
		method   string
		path     string
		wantCode string
	}{
		{http.MethodGet, "/status.json", apperrors.CodeNotFound},
		{http.MethodDelete, "/health", apperrors.CodeMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			rec := do(srv, tt.method, tt.path)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body apperrors.HTTPErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Contains(t, body.Error.Message, tt.path)
			assert.NotEmpty(t, body.Error.RequestID)
		})
	}
}

func TestServer_RequestIDEchoed(t *testing.T) {
	srv := New("127.0.0.1", 0)
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	req.Header.Set(apperrors.RequestIDHeader, "abc-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc-1", rec.Header().Get(apperrors.RequestIDHeader))
}

func TestServer_AccessLogUsesLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	srv := New("127.0.0.1", 0, WithLogger(zap.New(core)))

	do(srv, http.MethodGet, "/version")

	require.Equal(t, 1, logs.FilterMessage("Request").Len())
	assert.Equal(t, "/version", logs.All()[0].ContextMap()["path"])
}

func TestServer_Timeouts(t *testing.T) {
	defaults := New("127.0.0.1", 0)
	assert.Equal(t, 30*time.Second, defaults.httpServer.ReadTimeout)
	assert.Equal(t, 2*time.Minute, defaults.httpServer.IdleTimeout)

	custom := fullServer(t)
	assert.Equal(t, time.Second, custom.httpServer.ReadTimeout)
	assert.Equal(t, time.Second, custom.httpServer.ReadHeaderTimeout)
	assert.Equal(t, 30*time.Second, custom.httpServer.WriteTimeout, "zero keeps default")
}

func TestServer_Addr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"127.0.0.1", 8080, "127.0.0.1:8080"},
		{"localhost", 0, "localhost:0"},
		{"::1", 9000, "[::1]:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			srv := New(tt.host, tt.port)
			assert.Equal(t, tt.want, srv.Addr())
			assert.Equal(t, tt.port, srv.Port())
		})
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	assert.NoError(t, New("127.0.0.1", 0).Shutdown(context.Background()))
}
