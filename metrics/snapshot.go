package metrics

import (
	"context"
	"time"

	"github.com/bluelight-hub/app-sub009/repositories"
	"github.com/bluelight-hub/app-sub009/services/queue"
	"go.uber.org/zap"
)

// DatabaseAggregates summarizes the log store for the extended snapshot.
type DatabaseAggregates struct {
	TotalEntries  int64                          `json:"total_entries"`
	Last24h       int64                          `json:"last_24h"`
	Last7d        int64                          `json:"last_7d"`
	TopEventTypes []repositories.EventTypeCount `json:"top_event_types"`
}

// QueueAggregates summarizes the broker for the extended snapshot.
type QueueAggregates struct {
	Counts  queue.JobCounts `json:"counts"`
	Workers int             `json:"workers"`
}

// Snapshot is the extended metrics view: the text exposition plus log-store
// and queue aggregates. The database and queue sections each fail
// independently and are null when their source is unavailable.
type Snapshot struct {
	Prometheus string              `json:"prometheus"`
	Database   *DatabaseAggregates `json:"database"`
	Queue      *QueueAggregates    `json:"queue"`
	Timestamp  time.Time           `json:"timestamp"`
}

// SnapshotQueue is the queue surface the snapshotter reads.
type SnapshotQueue interface {
	Counts(ctx context.Context) (queue.JobCounts, error)
	Workers() int
}

const topEventTypesLimit = 10

// Snapshotter assembles extended snapshots on demand.
type Snapshotter struct {
	recorder *Recorder
	repo     repositories.SecurityLogRepository
	queue    SnapshotQueue
	logger   *zap.Logger
}

// NewSnapshotter creates a new snapshotter
func NewSnapshotter(recorder *Recorder, repo repositories.SecurityLogRepository, q SnapshotQueue, logger *zap.Logger) *Snapshotter {
	return &Snapshotter{
		recorder: recorder,
		repo:     repo,
		queue:    q,
		logger:   logger,
	}
}

// Collect builds a snapshot. The base exposition text is always present;
// a failing aggregate logs, nulls its own section and leaves the other
// intact.
func (s *Snapshotter) Collect(ctx context.Context) (*Snapshot, error) {
	text, err := s.recorder.Render()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Prometheus: text,
		Timestamp:  time.Now().UTC(),
	}

	if db, err := s.collectDatabase(ctx); err != nil {
		s.logger.Warn("snapshot database aggregation failed", zap.Error(err))
	} else {
		snap.Database = db
	}

	if q, err := s.collectQueue(ctx); err != nil {
		s.logger.Warn("snapshot queue aggregation failed", zap.Error(err))
	} else {
		snap.Queue = q
	}

	return snap, nil
}

func (s *Snapshotter) collectDatabase(ctx context.Context) (*DatabaseAggregates, error) {
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	last24h, err := s.repo.CountSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	last7d, err := s.repo.CountSince(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}
	top, err := s.repo.GroupByEventType(ctx, topEventTypesLimit)
	if err != nil {
		return nil, err
	}

	return &DatabaseAggregates{
		TotalEntries:  total,
		Last24h:       last24h,
		Last7d:        last7d,
		TopEventTypes: top,
	}, nil
}

func (s *Snapshotter) collectQueue(ctx context.Context) (*QueueAggregates, error) {
	counts, err := s.queue.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueAggregates{
		Counts:  counts,
		Workers: s.queue.Workers(),
	}, nil
}
