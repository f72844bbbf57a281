// Package metrics maintains the process-wide counters, gauges and
// histograms for the security log pipeline. The registry is constructed
// explicitly and injected into every component that records; nothing here
// touches the prometheus default registry.
package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bluelight-hub/app-sub009/models"
	"github.com/bluelight-hub/app-sub009/services/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Recorder owns all instruments and offers typed recording methods so
// callers never deal with label plumbing.
type Recorder struct {
	registry *prometheus.Registry

	queueJobs        *prometheus.GaugeVec
	jobDuration      *prometheus.HistogramVec
	jobsFailed       *prometheus.CounterVec
	chainValid       prometheus.Gauge
	verifyDuration   prometheus.Histogram
	securityEvents   *prometheus.CounterVec
	criticalEvents   *prometheus.CounterVec
	archiveSizeBytes prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewRecorder creates all instruments and registers them on reg.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	r := &Recorder{
		registry: reg,
		queueJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "securitylog_queue_jobs",
			Help: "Current number of ingestion queue jobs by state.",
		}, []string{"state"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "securitylog_job_duration_seconds",
			Help:    "Time spent appending a dequeued security event to the chain.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "securitylog_jobs_failed_total",
			Help: "Dead-lettered ingestion jobs by event type and reason.",
		}, []string{"event_type", "reason"}),
		chainValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "securitylog_chain_valid",
			Help: "1 when the last chain verification succeeded, 0 otherwise.",
		}),
		verifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "securitylog_chain_verification_duration_seconds",
			Help:    "Duration of chain integrity verification runs.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		securityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "securitylog_events_total",
			Help: "Appended security events by type and severity.",
		}, []string{"event_type", "severity"}),
		criticalEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "securitylog_critical_events_total",
			Help: "Appended security events with critical severity.",
		}, []string{"event_type"}),
		archiveSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "securitylog_archive_size_bytes",
			Help: "Current size of the archive directory.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method, route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		r.queueJobs,
		r.jobDuration,
		r.jobsFailed,
		r.chainValid,
		r.verifyDuration,
		r.securityEvents,
		r.criticalEvents,
		r.archiveSizeBytes,
		r.httpRequests,
		r.httpDuration,
	)

	// The chain is considered intact until a verification says otherwise.
	r.chainValid.Set(1)

	return r
}

// SetQueueJobs updates the queue depth gauges from a counts snapshot.
func (r *Recorder) SetQueueJobs(counts queue.JobCounts) {
	r.queueJobs.WithLabelValues("waiting").Set(float64(counts.Waiting))
	r.queueJobs.WithLabelValues("active").Set(float64(counts.Active))
	r.queueJobs.WithLabelValues("delayed").Set(float64(counts.Delayed))
	r.queueJobs.WithLabelValues("failed").Set(float64(counts.Failed))
}

// ObserveJobDuration records one append's processing time.
func (r *Recorder) ObserveJobDuration(eventType models.SecurityEventType, d time.Duration) {
	r.jobDuration.WithLabelValues(string(eventType)).Observe(d.Seconds())
}

// IncJobFailed counts a dead-lettered job.
func (r *Recorder) IncJobFailed(eventType models.SecurityEventType, reason string) {
	r.jobsFailed.WithLabelValues(string(eventType), reason).Inc()
}

// IncSecurityEvent counts an appended security event.
func (r *Recorder) IncSecurityEvent(eventType models.SecurityEventType, severity models.SecuritySeverity) {
	r.securityEvents.WithLabelValues(string(eventType), string(severity)).Inc()
}

// IncCriticalEvent counts a critical security event.
func (r *Recorder) IncCriticalEvent(eventType models.SecurityEventType) {
	r.criticalEvents.WithLabelValues(string(eventType)).Inc()
}

// ObserveVerification records a chain verification run.
func (r *Recorder) ObserveVerification(d time.Duration, valid bool) {
	r.verifyDuration.Observe(d.Seconds())
	if valid {
		r.chainValid.Set(1)
	} else {
		r.chainValid.Set(0)
	}
}

// SetArchiveSize updates the archive directory size gauge.
func (r *Recorder) SetArchiveSize(bytes int64) {
	r.archiveSizeBytes.Set(float64(bytes))
}

// ObserveHTTPRequest records one served HTTP request.
func (r *Recorder) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	r.httpRequests.WithLabelValues(method, route, code).Inc()
	r.httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// Handler returns the pull-based exposition endpoint for the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Render returns the registry contents in the text exposition format,
// used by the extended snapshot.
func (r *Recorder) Render() (string, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", fmt.Errorf("failed to encode metrics: %w", err)
		}
	}
	return buf.String(), nil
}
