package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bluelight-hub/app-sub009/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the security log schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Append-only hash-chained security log.
		-- sequence_number is assigned by the chain writer; the primary key
		-- doubles as the no-duplicate-sequence constraint that turns a
		-- concurrent append into a retryable conflict.
		CREATE TABLE IF NOT EXISTS security_log_entries (
			sequence_number BIGINT PRIMARY KEY,
			event_type VARCHAR(100) NOT NULL,
			severity VARCHAR(20) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			ip_address VARCHAR(45) NOT NULL,
			user_agent TEXT NOT NULL DEFAULT '',
			session_id VARCHAR(255),
			metadata JSONB,
			message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			previous_hash VARCHAR(64) NOT NULL,
			current_hash VARCHAR(64) NOT NULL,
			hash_algorithm VARCHAR(20) NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_security_log_event_type ON security_log_entries(event_type);
		CREATE INDEX IF NOT EXISTS idx_security_log_created_at ON security_log_entries(created_at);
		CREATE INDEX IF NOT EXISTS idx_security_log_user_id ON security_log_entries(user_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("security log schema initialized")
	return nil
}
