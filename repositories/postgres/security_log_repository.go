package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bluelight-hub/app-sub009/models"
	"github.com/bluelight-hub/app-sub009/repositories"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const entryColumns = `sequence_number, event_type, severity, user_id, ip_address,
	       user_agent, session_id, metadata, message, created_at,
	       previous_hash, current_hash, hash_algorithm`

// SecurityLogRepository implements repositories.SecurityLogRepository on PostgreSQL
type SecurityLogRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSecurityLogRepository creates a new security log repository
func NewSecurityLogRepository(db *DB, logger *zap.Logger) repositories.SecurityLogRepository {
	return &SecurityLogRepository{
		db:     db,
		logger: logger,
	}
}

// Append locks the tail row inside a transaction, invokes build with it and
// inserts the resulting entry. The SELECT ... FOR UPDATE on the highest
// sequence serializes concurrent writers; a unique-violation on insert (two
// writers racing on an empty log, or a writer that read a stale tail) is
// reported as repositories.ErrSequenceConflict so the caller retries.
func (r *SecurityLogRepository) Append(ctx context.Context, build repositories.BuildEntryFunc) (*models.SecurityLogEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tailQuery := `
		SELECT ` + entryColumns + `
		FROM security_log_entries
		ORDER BY sequence_number DESC
		LIMIT 1
		FOR UPDATE
	`

	tail := &models.SecurityLogEntry{}
	err = scanEntry(tx.QueryRowContext(ctx, tailQuery), tail)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to read chain tail: %w", err)
		}
		tail = nil // genesis append
	}

	entry, err := build(tail)
	if err != nil {
		return nil, err
	}

	insertQuery := `
		INSERT INTO security_log_entries (
			sequence_number, event_type, severity, user_id, ip_address,
			user_agent, session_id, metadata, message, created_at,
			previous_hash, current_hash, hash_algorithm
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err = tx.ExecContext(ctx, insertQuery,
		entry.SequenceNumber,
		entry.EventType,
		entry.Severity,
		entry.UserID,
		entry.IPAddress,
		entry.UserAgent,
		entry.SessionID,
		entry.Metadata,
		entry.Message,
		entry.CreatedAt,
		entry.PreviousHash,
		entry.CurrentHash,
		entry.HashAlgorithm,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repositories.ErrSequenceConflict
		}
		return nil, fmt.Errorf("failed to insert security log entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, repositories.ErrSequenceConflict
		}
		return nil, fmt.Errorf("failed to commit append: %w", err)
	}

	r.logger.Debug("security log entry appended",
		zap.Int64("sequence", entry.SequenceNumber),
		zap.String("event_type", string(entry.EventType)))
	return entry, nil
}

// FindTail returns the entry with the highest sequence number, or nil when empty
func (r *SecurityLogRepository) FindTail(ctx context.Context) (*models.SecurityLogEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM security_log_entries
		ORDER BY sequence_number DESC
		LIMIT 1
	`

	entry := &models.SecurityLogEntry{}
	if err := scanEntry(r.db.QueryRowContext(ctx, query), entry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find chain tail: %w", err)
	}
	return entry, nil
}

// FindBySequenceRange returns entries with from <= sequence <= to, ascending
func (r *SecurityLogRepository) FindBySequenceRange(ctx context.Context, from, to int64) ([]*models.SecurityLogEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM security_log_entries
		WHERE sequence_number >= $1 AND sequence_number <= $2
		ORDER BY sequence_number ASC
	`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query security log range: %w", err)
	}
	defer rows.Close()

	var entries []*models.SecurityLogEntry
	for rows.Next() {
		entry := &models.SecurityLogEntry{}
		if err := scanEntry(rows, entry); err != nil {
			return nil, fmt.Errorf("failed to scan security log entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security log rows: %w", err)
	}

	return entries, nil
}

// Count returns the total number of entries
func (r *SecurityLogRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_log_entries`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count security log entries: %w", err)
	}
	return count, nil
}

// CountSince returns the number of entries created at or after ts
func (r *SecurityLogRepository) CountSince(ctx context.Context, ts time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_log_entries WHERE created_at >= $1`, ts).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count security log entries since %s: %w", ts.Format(time.RFC3339), err)
	}
	return count, nil
}

// GroupByEventType returns the topN most frequent event types
func (r *SecurityLogRepository) GroupByEventType(ctx context.Context, topN int) ([]repositories.EventTypeCount, error) {
	query := `
		SELECT event_type, COUNT(*) AS cnt
		FROM security_log_entries
		GROUP BY event_type
		ORDER BY cnt DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to group security log entries: %w", err)
	}
	defer rows.Close()

	var counts []repositories.EventTypeCount
	for rows.Next() {
		var c repositories.EventTypeCount
		if err := rows.Scan(&c.EventType, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan event type count: %w", err)
		}
		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event type counts: %w", err)
	}

	return counts, nil
}

// scanner abstracts sql.Row and sql.Rows for scanEntry
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner, entry *models.SecurityLogEntry) error {
	return s.Scan(
		&entry.SequenceNumber,
		&entry.EventType,
		&entry.Severity,
		&entry.UserID,
		&entry.IPAddress,
		&entry.UserAgent,
		&entry.SessionID,
		&entry.Metadata,
		&entry.Message,
		&entry.CreatedAt,
		&entry.PreviousHash,
		&entry.CurrentHash,
		&entry.HashAlgorithm,
	)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
