package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/bluelight-hub/app-sub009/models"
)

// ErrSequenceConflict is returned by Append when another writer committed the
// same sequence number first. Callers retry the whole append from the tail.
var ErrSequenceConflict = errors.New("security log sequence conflict")

// EventTypeCount is one row of the event-type aggregation.
type EventTypeCount struct {
	EventType models.SecurityEventType `json:"event_type"`
	Count     int64                    `json:"count"`
}

// BuildEntryFunc computes the next chain entry from the current tail.
// The tail is nil for the genesis append. The callback runs inside the
// store's append critical section.
type BuildEntryFunc func(tail *models.SecurityLogEntry) (*models.SecurityLogEntry, error)

// SecurityLogRepository is the durable, sequence-ordered log store.
// The chain writer is the only component that appends; everything else reads.
type SecurityLogRepository interface {
	// Append runs build under at-most-one-writer-at-a-time semantics
	// (tail row locking inside a transaction) and persists the result.
	// Returns ErrSequenceConflict when a concurrent writer won the race.
	Append(ctx context.Context, build BuildEntryFunc) (*models.SecurityLogEntry, error)

	// FindTail returns the entry with the highest sequence number,
	// or nil when the log is empty.
	FindTail(ctx context.Context) (*models.SecurityLogEntry, error)

	// FindBySequenceRange returns entries with from <= sequence <= to,
	// ordered by sequence ascending.
	FindBySequenceRange(ctx context.Context, from, to int64) ([]*models.SecurityLogEntry, error)

	// Count returns the total number of entries.
	Count(ctx context.Context) (int64, error)

	// CountSince returns the number of entries created at or after ts.
	CountSince(ctx context.Context, ts time.Time) (int64, error)

	// GroupByEventType returns the topN most frequent event types.
	GroupByEventType(ctx context.Context, topN int) ([]EventTypeCount, error)
}
