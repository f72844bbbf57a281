package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bluelight-hub/app-sub009/config"
	"github.com/bluelight-hub/app-sub009/metrics"
	"github.com/bluelight-hub/app-sub009/repositories"
	"github.com/bluelight-hub/app-sub009/repositories/postgres"
	"github.com/bluelight-hub/app-sub009/services/chain"
	"github.com/bluelight-hub/app-sub009/services/health"
	"github.com/bluelight-hub/app-sub009/services/queue"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Log store
	SecurityLogs repositories.SecurityLogRepository

	// Metrics (explicit registry, no process-global state)
	Registry    *prometheus.Registry
	Metrics     *metrics.Recorder
	Refresher   *metrics.Refresher
	Snapshotter *metrics.Snapshotter

	// Pipeline
	Queue    *queue.MemoryQueue
	Writer   *chain.Writer
	Verifier *chain.Verifier

	// Health
	Health *health.Aggregator
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initMetrics()

	if err := deps.initPipeline(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	deps.initHealth(cfg)
	deps.initRefresh(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection and the log store
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	d.DB = db

	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	d.SecurityLogs = postgres.NewSecurityLogRepository(db, d.Logger)
	return nil
}

// initMetrics constructs the registry and recorder
func (d *Dependencies) initMetrics() {
	d.Registry = prometheus.NewRegistry()
	d.Metrics = metrics.NewRecorder(d.Registry)
}

// initPipeline wires writer, verifier and the ingestion queue
func (d *Dependencies) initPipeline(cfg *config.Config) error {
	d.Writer = chain.NewWriter(d.SecurityLogs, d.Metrics, d.Logger, chain.WriterConfig{
		HashAlgorithm:    cfg.Chain.HashAlgorithm,
		AppendMaxElapsed: cfg.Chain.AppendMaxElapsed,
	})

	d.Verifier = chain.NewVerifier(d.SecurityLogs, d.Metrics, d.Logger, chain.VerifierConfig{
		RecomputeHash: cfg.Chain.VerifyRecomputeHash,
	})

	q, err := queue.NewMemoryQueue(d.Writer.Process, d.Logger, queue.Config{
		BufferSize:   cfg.Queue.BufferSize,
		WorkerCount:  cfg.Queue.WorkerCount,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		RetryBackoff: cfg.Queue.RetryBackoff,
		JournalPath:  cfg.Queue.JournalPath,
	})
	if err != nil {
		return err
	}

	recorder := d.Metrics
	q.OnJobFailed(func(job *queue.Job, reason string) {
		recorder.IncJobFailed(job.Payload.Action, reason)
	})
	d.Queue = q
	return nil
}

// initHealth assembles the composite health aggregator
func (d *Dependencies) initHealth(cfg *config.Config) {
	d.Health = health.NewAggregator(d.Logger, cfg.Health.CheckTimeout,
		health.NewQueueCheck(d.Queue, health.QueueCheckConfig{
			FailedThreshold:  cfg.Health.QueueFailedThreshold,
			BacklogThreshold: cfg.Health.QueueBacklogThreshold,
		}),
		health.NewBrokerDurabilityCheck(d.Queue),
		health.NewChainCheck(d.Verifier, health.ChainCheckConfig{
			VerifyWindow: cfg.Health.ChainVerifyWindow,
		}),
		health.NewDiskCheck(health.DiskCheckConfig{
			ArchivePath:    cfg.Archive.Path,
			FreeFloorBytes: cfg.Health.DiskFreeFloorBytes,
			UsedPercentMax: cfg.Health.DiskUsedPercentMax,
			ProbeTimeout:   cfg.Health.CheckTimeout,
		}, d.Metrics, d.Logger),
	)
}

// initRefresh constructs the background gauge refresher and snapshotter
func (d *Dependencies) initRefresh(cfg *config.Config) {
	d.Refresher = metrics.NewRefresher(d.Metrics, d.Queue, d.Verifier, d.Logger, metrics.RefresherConfig{
		QueueInterval: cfg.Metrics.QueueRefreshInterval,
		ChainInterval: cfg.Metrics.ChainRefreshInterval,
		VerifyWindow:  cfg.Health.ChainVerifyWindow,
		TickTimeout:   30 * time.Second,
	})
	d.Snapshotter = metrics.NewSnapshotter(d.Metrics, d.SecurityLogs, d.Queue, d.Logger)
}

// Start launches the background components
func (d *Dependencies) Start() error {
	if err := d.Queue.Start(); err != nil {
		return fmt.Errorf("failed to start queue: %w", err)
	}
	if err := d.Refresher.Start(); err != nil {
		return fmt.Errorf("failed to start metrics refresher: %w", err)
	}
	return nil
}

// Shutdown stops background components and closes connections
func (d *Dependencies) Shutdown(timeout time.Duration) {
	d.Refresher.Stop()
	if err := d.Queue.Stop(timeout); err != nil {
		d.Logger.Warn("queue shutdown incomplete", zap.Error(err))
	}
	if err := d.DB.Close(); err != nil {
		d.Logger.Warn("failed to close database", zap.Error(err))
	}
}
