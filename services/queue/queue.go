// Package queue provides the ingestion queue that decouples security event
// producers from the chain writer. Producers enqueue SecurityLogPayload
// values; workers deliver them to a registered handler with retry and
// backoff. Only the broker contract matters to the rest of the system.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/bluelight-hub/app-sub009/models"
)

var (
	// ErrQueueFull is returned when the broker cannot accept more jobs.
	ErrQueueFull = errors.New("queue: buffer full")

	// ErrQueueNotStarted is returned for operations on a stopped broker.
	ErrQueueNotStarted = errors.New("queue: not started")

	// ErrInvalidPayload is returned when a payload fails validation at enqueue.
	ErrInvalidPayload = errors.New("queue: invalid payload")
)

// Job is one unit of work flowing from producers to the chain writer.
type Job struct {
	ID         string                     `json:"id"`
	Payload    *models.SecurityLogPayload `json:"payload"`
	Attempts   int                        `json:"attempts"`
	EnqueuedAt time.Time                  `json:"enqueued_at"`
}

// Handler processes a dequeued job. Returning a non-retryable error (see
// NonRetryable) dead-letters the job immediately; any other error triggers
// redelivery with backoff until the attempt budget is exhausted.
type Handler func(ctx context.Context, job *Job) error

// JobCounts is a point-in-time snapshot of queue depth by state.
// Eventually consistent: states shift while the snapshot is taken.
type JobCounts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Failed  int64 `json:"failed"`
}

// Backlog is the total of jobs not yet terminally processed.
func (c JobCounts) Backlog() int64 {
	return c.Waiting + c.Active + c.Delayed
}

// PersistenceStatus is the broker-level durability signal. A broker running
// without durable writes silently risks losing accepted jobs on crash, so
// health checks treat this as a first-class input.
type PersistenceStatus struct {
	DurableWritesEnabled bool  `json:"durable_writes_enabled"`
	LastWriteOK          bool  `json:"last_write_ok"`
	RewriteInProgress    bool  `json:"rewrite_in_progress"`
	LogSizeBytes         int64 `json:"log_size_bytes"`
}

// FailedJob records a job that exhausted its retries or was rejected as
// non-retryable, together with the final failure reason.
type FailedJob struct {
	Job      *Job      `json:"job"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// Queue is the broker contract consumed by the core pipeline.
type Queue interface {
	// Enqueue validates and accepts a payload. It never blocks on
	// persistence and fails only when the broker is unavailable or the
	// payload is invalid.
	Enqueue(ctx context.Context, payload *models.SecurityLogPayload) (string, error)

	// Counts returns a point-in-time snapshot of job counts by state.
	Counts(ctx context.Context) (JobCounts, error)

	// IsPaused reports whether job processing is paused.
	IsPaused() bool

	// Workers returns the number of configured workers.
	Workers() int

	// Ping checks liveness of the broker connection.
	Ping(ctx context.Context) error

	// PersistenceStatus returns the broker durability signal.
	PersistenceStatus(ctx context.Context) (PersistenceStatus, error)
}

// nonRetryableError marks a handler failure that must not be redelivered.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }

func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable wraps err so the queue dead-letters the job instead of
// redelivering it. Used for malformed payloads that can never succeed.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err was wrapped with NonRetryable.
func IsNonRetryable(err error) bool {
	var nre *nonRetryableError
	return errors.As(err, &nre)
}
