package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordedRequest struct {
	method string
	route  string
	status int
}

type captureRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (c *captureRecorder) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, recordedRequest{method: method, route: route, status: status})
}

func TestRequestMetrics(t *testing.T) {
	t.Run("labels by route pattern not raw path", func(t *testing.T) {
		recorder := &captureRecorder{}

		r := chi.NewRouter()
		r.Use(RequestMetrics(recorder))
		r.Get("/api/security-log/{seq}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/api/security-log/42", nil)
		r.ServeHTTP(httptest.NewRecorder(), req)

		require.Len(t, recorder.requests, 1)
		assert.Equal(t, "GET", recorder.requests[0].method)
		assert.Equal(t, "/api/security-log/{seq}", recorder.requests[0].route)
		assert.Equal(t, http.StatusOK, recorder.requests[0].status)
	})

	t.Run("unmatched routes collapse into one label", func(t *testing.T) {
		recorder := &captureRecorder{}

		r := chi.NewRouter()
		r.Use(RequestMetrics(recorder))
		r.Get("/known", func(w http.ResponseWriter, r *http.Request) {})

		req := httptest.NewRequest(http.MethodGet, "/no/such/path", nil)
		r.ServeHTTP(httptest.NewRecorder(), req)

		require.Len(t, recorder.requests, 1)
		assert.Equal(t, "unmatched", recorder.requests[0].route)
		assert.Equal(t, http.StatusNotFound, recorder.requests[0].status)
	})

	t.Run("records the written status", func(t *testing.T) {
		recorder := &captureRecorder{}

		r := chi.NewRouter()
		r.Use(RequestMetrics(recorder))
		r.Post("/ingest", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})

		req := httptest.NewRequest(http.MethodPost, "/ingest", nil)
		r.ServeHTTP(httptest.NewRecorder(), req)

		require.Len(t, recorder.requests, 1)
		assert.Equal(t, http.StatusAccepted, recorder.requests[0].status)
	})
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	r := chi.NewRouter()
	r.Use(RequestLogger(logger))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "http request", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/health", fields["path"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
}
