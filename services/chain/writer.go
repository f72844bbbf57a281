package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bluelight-hub/app-sub009/models"
	"github.com/bluelight-hub/app-sub009/repositories"
	"github.com/bluelight-hub/app-sub009/services/queue"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// MetricsRecorder is the slice of the metrics registry the chain components
// write to. Satisfied by *metrics.Recorder.
type MetricsRecorder interface {
	ObserveJobDuration(eventType models.SecurityEventType, d time.Duration)
	IncSecurityEvent(eventType models.SecurityEventType, severity models.SecuritySeverity)
	IncCriticalEvent(eventType models.SecurityEventType)
	ObserveVerification(d time.Duration, valid bool)
}

// WriterConfig holds chain writer configuration
type WriterConfig struct {
	HashAlgorithm    string
	AppendMaxElapsed time.Duration // Upper bound for append-conflict retries
}

// DefaultWriterConfig returns the default configuration
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		HashAlgorithm:    HashAlgorithmSHA256,
		AppendMaxElapsed: 15 * time.Second,
	}
}

// Writer transforms dequeued payloads into chained log entries. It is the
// only component that appends to the store. Multiple workers may call
// Process concurrently; the store's tail lock serializes the read-tail →
// compute → insert critical section, and a lost race surfaces as a
// sequence conflict that restarts the append from the new tail.
type Writer struct {
	repo     repositories.SecurityLogRepository
	logger   *zap.Logger
	recorder MetricsRecorder
	cfg      WriterConfig
}

// NewWriter creates a new chain writer
func NewWriter(repo repositories.SecurityLogRepository, recorder MetricsRecorder, logger *zap.Logger, cfg WriterConfig) *Writer {
	return &Writer{
		repo:     repo,
		logger:   logger,
		recorder: recorder,
		cfg:      cfg,
	}
}

// Process implements queue.Handler. No partial state is committed on
// failure, so queue redelivery reprocesses the same payload safely:
// exactly-once effect, not exactly-once delivery.
func (w *Writer) Process(ctx context.Context, job *queue.Job) error {
	start := time.Now()

	metadata, err := buildMetadata(job.Payload)
	if err != nil {
		// Uncanonicalizable payloads can never succeed; dead-letter
		// with a reason instead of redelivering.
		return queue.NonRetryable(fmt.Errorf("failed to canonicalize payload metadata: %w", err))
	}

	entry, err := w.append(ctx, job.Payload, metadata)
	if err != nil {
		return err
	}

	w.recorder.ObserveJobDuration(entry.EventType, time.Since(start))
	w.recorder.IncSecurityEvent(entry.EventType, entry.Severity)
	if entry.Severity == models.SeverityCritical {
		w.recorder.IncCriticalEvent(entry.EventType)
	}

	w.logger.Debug("security event appended to chain",
		zap.Int64("sequence", entry.SequenceNumber),
		zap.String("event_type", string(entry.EventType)),
		zap.String("job_id", job.ID))
	return nil
}

// append retries the whole critical section on sequence conflicts: the tail
// observed in the losing transaction is stale and the next attempt reads
// the fresh one.
func (w *Writer) append(ctx context.Context, payload *models.SecurityLogPayload, metadata json.RawMessage) (*models.SecurityLogEntry, error) {
	var appended *models.SecurityLogEntry

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = w.cfg.AppendMaxElapsed

	operation := func() error {
		entry, err := w.repo.Append(ctx, func(tail *models.SecurityLogEntry) (*models.SecurityLogEntry, error) {
			return w.buildEntry(tail, payload, metadata)
		})
		if err != nil {
			if errors.Is(err, repositories.ErrSequenceConflict) {
				w.logger.Debug("append conflict, retrying from tail")
				return err
			}
			// Store unavailability is handled by queue redelivery,
			// not by spinning here.
			return backoff.Permanent(err)
		}
		appended = entry
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("failed to append security log entry: %w", err)
	}
	return appended, nil
}

// buildEntry runs inside the store's append critical section.
func (w *Writer) buildEntry(tail *models.SecurityLogEntry, payload *models.SecurityLogPayload, metadata json.RawMessage) (*models.SecurityLogEntry, error) {
	entry := &models.SecurityLogEntry{
		SequenceNumber: 1,
		EventType:      payload.Action,
		Severity:       payload.EffectiveSeverity(),
		UserID:         payload.EffectiveUserID(),
		IPAddress:      payload.IP,
		SessionID:      payload.SessionID,
		Metadata:       metadata,
		Message:        payload.Message,
		CreatedAt:      time.Now().UTC(),
		PreviousHash:   models.GenesisPreviousHash,
		HashAlgorithm:  w.cfg.HashAlgorithm,
	}
	if payload.UserAgent != nil {
		entry.UserAgent = *payload.UserAgent
	}

	if tail != nil {
		entry.SequenceNumber = tail.SequenceNumber + 1
		entry.PreviousHash = tail.CurrentHash
		// created_at is non-decreasing with sequence even if clocks
		// step backwards between appends.
		if entry.CreatedAt.Before(tail.CreatedAt) {
			entry.CreatedAt = tail.CreatedAt
		}
	}

	hash, err := ComputeHash(entry)
	if err != nil {
		return nil, err
	}
	entry.CurrentHash = hash

	return entry, nil
}

// buildMetadata folds the payload's optional request fields into a single
// metadata document stored alongside the caller-supplied metadata.
func buildMetadata(payload *models.SecurityLogPayload) (json.RawMessage, error) {
	m := make(map[string]interface{}, len(payload.Metadata)+5)
	for k, v := range payload.Metadata {
		m[k] = v
	}
	if payload.Method != nil {
		m["method"] = *payload.Method
	}
	if payload.Path != nil {
		m["path"] = *payload.Path
	}
	if payload.StatusCode != nil {
		m["status_code"] = strconv.Itoa(*payload.StatusCode)
	}
	if payload.OrganizationID != nil {
		m["organization_id"] = *payload.OrganizationID
	}
	if payload.TenantID != nil {
		m["tenant_id"] = *payload.TenantID
	}

	if len(m) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return data, nil
}
