package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/panel-one/internal/api/gateway"
	"github.com/cuongbtq/panel-one/internal/api/handler"
	"github.com/cuongbtq/panel-one/internal/domain"
	"github.com/cuongbtq/panel-one/shared/logger"
)

type checker struct{ err error }

func (c checker) HealthCheck(context.Context) error { return c.err }

type nopSubmitter struct{}

func (nopSubmitter) Submit(context.Context, []gateway.Upload) (gateway.Submission, error) {
	return gateway.Submission{}, domain.ErrNoValidImages
}

type nopNotifier struct{}

func (nopNotifier) Poll(context.Context, string) (domain.Record, error) {
	return domain.Record{}, domain.ErrJobNotFound
}

func (nopNotifier) Watch(context.Context, string, func(domain.Record) error) error {
	return domain.ErrJobNotFound
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(opts Options) *gin.Engine {
	return SetupRouter(&handler.Dependencies{
		Logger:   logger.NewNop(),
		Gateway:  nopSubmitter{},
		Notifier: nopNotifier{},
	}, opts)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantCode   int
		wantStatus string
	}{
		{
			name:       "no dependencies",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "all dependencies up",
			checks:     map[string]HealthChecker{"redis": checker{}, "rabbitmq": checker{}},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "one dependency down",
			checks:     map[string]HealthChecker{"redis": checker{err: errors.New("dial tcp: refused")}, "rabbitmq": checker{}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(Options{HealthChecks: tt.checks})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, w.Code)

			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Len(t, body.Checks, len(tt.checks))
		})
	}
}

func TestBlobServing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "outputs", "job-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "outputs", "job-1", "panel.png"), []byte("png-bytes"), 0o644))

	r := newRouter(Options{BlobDir: dir, BlobServePath: "/blobs"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/blobs/outputs/job-1/panel.png", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png-bytes", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/blobs/outputs/job-2/panel.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes(t *testing.T) {
	r := newRouter(Options{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/job/0b9f3c6e-2a53-4d0c-9f59-2f9f7d8e1a22", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/job/0b9f3c6e-2a53-4d0c-9f59-2f9f7d8e1a22", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/generate", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	defer rl.Stop()

	r := newRouter(Options{RateLimiter: rl})

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/generate", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	// first request passes the limiter and fails validation
	assert.Equal(t, http.StatusBadRequest, send())
	assert.Equal(t, http.StatusTooManyRequests, send())

	// other routes are not limited
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 2, rl.Count())

	rl.cleanup(time.Now().Add(time.Hour))
	assert.Zero(t, rl.Count())

	rl.Stop()
	rl.Stop()
}
