package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluelight-hub/app-sub009/models"
	"github.com/bluelight-hub/app-sub009/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// processTimeout bounds handler execution per job.
const processTimeout = 10 * time.Second

// Config holds configuration for the in-process broker
type Config struct {
	BufferSize   int           // Size of the job buffer channel
	WorkerCount  int           // Number of concurrent workers
	MaxAttempts  int           // Attempts per job before dead-lettering
	RetryBackoff time.Duration // Base redelivery delay, multiplied by attempt count
	JournalPath  string        // Append-only journal path; empty disables durable writes
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   10000,
		WorkerCount:  4,
		MaxAttempts:  3,
		RetryBackoff: 2 * time.Second,
	}
}

// MemoryQueue is an in-process broker implementing the Queue contract:
// a buffered channel drained by a worker pool, with redelivery on handler
// failure, a dead-letter ledger and an optional append-only journal that
// provides the durability signal.
type MemoryQueue struct {
	cfg     Config
	handler Handler
	logger  *zap.Logger

	jobs    chan *Job
	journal *journal

	wg      sync.WaitGroup
	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	started bool
	closed  bool

	active  atomic.Int64
	delayed atomic.Int64

	failedMu sync.Mutex
	failed   []FailedJob
	onFailed func(job *Job, reason string)
}

// NewMemoryQueue creates a new in-process broker. The handler is invoked by
// workers for every dequeued job; it is typically the chain writer.
func NewMemoryQueue(handler Handler, logger *zap.Logger, cfg Config) (*MemoryQueue, error) {
	q := &MemoryQueue{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		jobs:    make(chan *Job, cfg.BufferSize),
	}
	q.cond = sync.NewCond(&q.mu)

	if cfg.JournalPath != "" {
		j, err := openJournal(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open queue journal: %w", err)
		}
		q.journal = j
	}

	return q, nil
}

// OnJobFailed registers a listener invoked when a job is dead-lettered.
// Must be called before Start.
func (q *MemoryQueue) OnJobFailed(fn func(job *Job, reason string)) {
	q.onFailed = fn
}

// Start starts the worker pool
func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return fmt.Errorf("queue already started")
	}

	if q.journal != nil {
		q.replayRecovered()
	}

	for i := 0; i < q.cfg.WorkerCount; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.started = true
	q.logger.Info("started ingestion queue",
		zap.Int("worker_count", q.cfg.WorkerCount),
		zap.Int("buffer_size", q.cfg.BufferSize),
		zap.Bool("durable", q.journal != nil))

	return nil
}

// replayRecovered re-enqueues jobs the journal accepted in a previous run
// but never marked done. Called from Start with q.mu held, before workers
// exist, so the channel sends cannot race Stop.
func (q *MemoryQueue) replayRecovered() {
	recovered := q.journal.recoveredJobs()
	if len(recovered) == 0 {
		return
	}

	requeued := 0
	for _, job := range recovered {
		select {
		case q.jobs <- job:
			requeued++
		default:
			q.markFailed(job, errors.New("recovered job dropped, buffer full"))
		}
	}
	q.logger.Info("replayed journaled jobs",
		zap.Int("recovered", len(recovered)),
		zap.Int("requeued", requeued))
}

// Stop gracefully stops the broker, waiting for in-flight jobs up to timeout.
func (q *MemoryQueue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.started || q.closed {
		q.mu.Unlock()
		return ErrQueueNotStarted
	}
	q.closed = true
	// Senders check closed and send while holding q.mu, so closing under
	// the same lock cannot race an in-flight send.
	close(q.jobs)
	q.cond.Broadcast()
	pending := len(q.jobs)
	q.mu.Unlock()

	q.logger.Info("stopping ingestion queue", zap.Int("pending_jobs", pending))

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	var stopErr error
	select {
	case <-done:
		q.logger.Info("ingestion queue stopped")
	case <-time.After(timeout):
		stopErr = fmt.Errorf("queue stop timeout after %v", timeout)
	}

	if q.journal != nil {
		if err := q.journal.close(); err != nil && stopErr == nil {
			stopErr = fmt.Errorf("failed to close queue journal: %w", err)
		}
	}
	return stopErr
}

// Enqueue validates and accepts a payload, returning the assigned job ID.
// Never blocks: a full buffer is reported as broker unavailability.
func (q *MemoryQueue) Enqueue(ctx context.Context, payload *models.SecurityLogPayload) (string, error) {
	q.mu.Lock()
	if !q.started || q.closed {
		q.mu.Unlock()
		return "", ErrQueueNotStarted
	}
	q.mu.Unlock()

	if err := utils.ValidateStruct(payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	job := &Job{
		ID:         uuid.NewString(),
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}

	if q.journal != nil {
		if err := q.journal.appendEnqueue(job); err != nil {
			// Job is still accepted; the durability health check
			// surfaces the failed write.
			q.logger.Warn("queue journal write failed", zap.Error(err), zap.String("job_id", job.ID))
		}
	}

	if !q.send(job) {
		// Cancel the write-ahead record so a restart does not replay a
		// job the caller saw rejected.
		if q.journal != nil {
			_ = q.journal.appendDone(job.ID)
		}
		q.logger.Warn("queue buffer full, rejecting job",
			zap.String("action", string(payload.Action)))
		return "", ErrQueueFull
	}
	return job.ID, nil
}

// send attempts a non-blocking delivery to the job channel. The closed
// check and the send happen under q.mu so Stop cannot close the channel
// between them; a stopped queue reports false, same as a full buffer.
func (q *MemoryQueue) send(job *Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// Counts returns a point-in-time snapshot of job counts by state
func (q *MemoryQueue) Counts(ctx context.Context) (JobCounts, error) {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return JobCounts{}, ErrQueueNotStarted
	}
	q.mu.Unlock()

	q.failedMu.Lock()
	failed := int64(len(q.failed))
	q.failedMu.Unlock()

	return JobCounts{
		Waiting: int64(len(q.jobs)),
		Active:  q.active.Load(),
		Delayed: q.delayed.Load(),
		Failed:  failed,
	}, nil
}

// Pause stops workers from picking up new jobs
func (q *MemoryQueue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
	q.logger.Warn("ingestion queue paused")
}

// Resume restarts job processing after a pause
func (q *MemoryQueue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	q.cond.Broadcast()
	q.logger.Info("ingestion queue resumed")
}

// IsPaused reports whether job processing is paused
func (q *MemoryQueue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Workers returns the configured worker count
func (q *MemoryQueue) Workers() int {
	return q.cfg.WorkerCount
}

// Ping checks broker liveness
func (q *MemoryQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started || q.closed {
		return ErrQueueNotStarted
	}
	return nil
}

// PersistenceStatus returns the broker durability signal. Without a journal
// the broker is memory-only and durable writes are reported disabled.
func (q *MemoryQueue) PersistenceStatus(ctx context.Context) (PersistenceStatus, error) {
	if q.journal == nil {
		return PersistenceStatus{
			DurableWritesEnabled: false,
			LastWriteOK:          true,
		}, nil
	}
	return q.journal.status(), nil
}

// FailedJobs returns a copy of the dead-letter ledger
func (q *MemoryQueue) FailedJobs() []FailedJob {
	q.failedMu.Lock()
	defer q.failedMu.Unlock()
	out := make([]FailedJob, len(q.failed))
	copy(out, q.failed)
	return out
}

// worker drains the job channel until it is closed
func (q *MemoryQueue) worker(id int) {
	defer q.wg.Done()

	q.logger.Debug("queue worker started", zap.Int("worker_id", id))

	for job := range q.jobs {
		q.waitIfPaused()

		q.active.Add(1)
		err := q.process(job)
		q.active.Add(-1)

		if err == nil {
			if q.journal != nil {
				_ = q.journal.appendDone(job.ID)
			}
			continue
		}

		job.Attempts++
		if IsNonRetryable(err) || job.Attempts >= q.cfg.MaxAttempts {
			q.markFailed(job, err)
			continue
		}
		q.redeliver(job, err)
	}

	q.logger.Debug("queue worker stopped", zap.Int("worker_id", id))
}

func (q *MemoryQueue) process(job *Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()
	return q.handler(ctx, job)
}

// redeliver schedules the job for another attempt after a linear backoff.
func (q *MemoryQueue) redeliver(job *Job, cause error) {
	delay := q.cfg.RetryBackoff * time.Duration(job.Attempts)
	q.logger.Warn("job processing failed, scheduling redelivery",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempts),
		zap.Duration("delay", delay),
		zap.Error(cause))

	q.delayed.Add(1)
	time.AfterFunc(delay, func() {
		defer q.delayed.Add(-1)

		if !q.send(job) {
			q.markFailed(job, fmt.Errorf("redelivery dropped, queue stopped or buffer full: %w", cause))
		}
	})
}

func (q *MemoryQueue) markFailed(job *Job, cause error) {
	reason := cause.Error()

	// Dead-lettering is terminal; a restart must not replay the job.
	if q.journal != nil {
		_ = q.journal.appendDone(job.ID)
	}

	q.failedMu.Lock()
	q.failed = append(q.failed, FailedJob{
		Job:      job,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	})
	q.failedMu.Unlock()

	q.logger.Error("job dead-lettered",
		zap.String("job_id", job.ID),
		zap.String("action", string(job.Payload.Action)),
		zap.Int("attempts", job.Attempts),
		zap.String("reason", reason))

	if q.onFailed != nil {
		q.onFailed(job, reason)
	}
}

func (q *MemoryQueue) waitIfPaused() {
	q.mu.Lock()
	for q.paused && !q.closed {
		q.cond.Wait()
	}
	q.mu.Unlock()
}
