package health

import (
	"context"

	"github.com/bluelight-hub/app-sub009/services/queue"
)

// QueueInfo is the broker surface the queue and durability checks read.
type QueueInfo interface {
	Counts(ctx context.Context) (queue.JobCounts, error)
	IsPaused() bool
	Ping(ctx context.Context) error
	PersistenceStatus(ctx context.Context) (queue.PersistenceStatus, error)
}

// QueueCheckConfig holds queue health thresholds
type QueueCheckConfig struct {
	FailedThreshold  int64 // Dead-lettered jobs at or above this are unhealthy
	BacklogThreshold int64 // waiting+active+delayed at or above this are unhealthy
}

// DefaultQueueCheckConfig returns the default thresholds
func DefaultQueueCheckConfig() QueueCheckConfig {
	return QueueCheckConfig{
		FailedThreshold:  100,
		BacklogThreshold: 10000,
	}
}

// QueueCheck reports the ingestion queue unhealthy when it is paused, its
// dead-letter count or backlog crosses a threshold, or the broker does not
// answer a ping.
type QueueCheck struct {
	queue QueueInfo
	cfg   QueueCheckConfig
}

// NewQueueCheck creates a new queue health check
func NewQueueCheck(q QueueInfo, cfg QueueCheckConfig) *QueueCheck {
	return &QueueCheck{queue: q, cfg: cfg}
}

// Name implements Checker
func (c *QueueCheck) Name() string { return "queue" }

// Check implements Checker
func (c *QueueCheck) Check(ctx context.Context) CheckResult {
	if err := c.queue.Ping(ctx); err != nil {
		return Unhealthy("broker ping failed: "+err.Error(), nil)
	}

	counts, err := c.queue.Counts(ctx)
	if err != nil {
		return Unhealthy("failed to read job counts: "+err.Error(), nil)
	}

	details := map[string]interface{}{
		"waiting":           counts.Waiting,
		"active":            counts.Active,
		"delayed":           counts.Delayed,
		"failed":            counts.Failed,
		"paused":            c.queue.IsPaused(),
		"failed_threshold":  c.cfg.FailedThreshold,
		"backlog_threshold": c.cfg.BacklogThreshold,
	}

	if c.queue.IsPaused() {
		return Unhealthy("queue is paused", details)
	}
	if counts.Failed >= c.cfg.FailedThreshold {
		return Unhealthy("failed job count at or above threshold", details)
	}
	if counts.Backlog() >= c.cfg.BacklogThreshold {
		return Unhealthy("queue backlog at or above threshold", details)
	}

	return Healthy(details)
}
