package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bluelight-hub/app-sub009/models"
	"github.com/bluelight-hub/app-sub009/services/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	return NewRecorder(prometheus.NewRegistry())
}

func TestRecorder(t *testing.T) {
	t.Run("chain starts out valid", func(t *testing.T) {
		r := newTestRecorder(t)
		assert.Equal(t, 1.0, testutil.ToFloat64(r.chainValid))
	})

	t.Run("verification outcome drives the chain gauge", func(t *testing.T) {
		r := newTestRecorder(t)

		r.ObserveVerification(10*time.Millisecond, false)
		assert.Equal(t, 0.0, testutil.ToFloat64(r.chainValid))

		r.ObserveVerification(10*time.Millisecond, true)
		assert.Equal(t, 1.0, testutil.ToFloat64(r.chainValid))
	})

	t.Run("queue gauges follow the counts snapshot", func(t *testing.T) {
		r := newTestRecorder(t)

		r.SetQueueJobs(queue.JobCounts{Waiting: 12, Active: 3, Delayed: 1, Failed: 2})

		assert.Equal(t, 12.0, testutil.ToFloat64(r.queueJobs.WithLabelValues("waiting")))
		assert.Equal(t, 3.0, testutil.ToFloat64(r.queueJobs.WithLabelValues("active")))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.queueJobs.WithLabelValues("delayed")))
		assert.Equal(t, 2.0, testutil.ToFloat64(r.queueJobs.WithLabelValues("failed")))
	})

	t.Run("event counters are labeled", func(t *testing.T) {
		r := newTestRecorder(t)

		r.IncSecurityEvent(models.EventTypeLoginFailure, models.SeverityWarning)
		r.IncSecurityEvent(models.EventTypeLoginFailure, models.SeverityWarning)
		r.IncCriticalEvent(models.EventTypeUnauthorizedAccess)
		r.IncJobFailed(models.EventTypeDataExport, "buffer full")

		assert.Equal(t, 2.0, testutil.ToFloat64(r.securityEvents.WithLabelValues("login_failure", "warning")))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.criticalEvents.WithLabelValues("unauthorized_access")))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.jobsFailed.WithLabelValues("data_export", "buffer full")))
	})

	t.Run("archive size gauge", func(t *testing.T) {
		r := newTestRecorder(t)
		r.SetArchiveSize(4096)
		assert.Equal(t, 4096.0, testutil.ToFloat64(r.archiveSizeBytes))
	})

	t.Run("http observations are labeled by method route and status", func(t *testing.T) {
		r := newTestRecorder(t)

		r.ObserveHTTPRequest("POST", "/api/security-log/", 202, 5*time.Millisecond)
		r.ObserveHTTPRequest("POST", "/api/security-log/", 202, 7*time.Millisecond)
		r.ObserveHTTPRequest("GET", "/health", 200, time.Millisecond)

		assert.Equal(t, 2.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("POST", "/api/security-log/", "202")))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("GET", "/health", "200")))
	})

	t.Run("render produces the text exposition", func(t *testing.T) {
		r := newTestRecorder(t)
		r.IncSecurityEvent(models.EventTypeLoginSuccess, models.SeverityInfo)

		text, err := r.Render()
		require.NoError(t, err)
		assert.Contains(t, text, "securitylog_chain_valid 1")
		assert.Contains(t, text, `securitylog_events_total{event_type="login_success",severity="info"} 1`)
		assert.Contains(t, text, "# HELP securitylog_queue_jobs")
	})

	t.Run("handler serves the registry", func(t *testing.T) {
		r := newTestRecorder(t)

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		r.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "securitylog_chain_valid")
	})
}
