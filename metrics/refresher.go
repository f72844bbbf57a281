package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluelight-hub/app-sub009/services/chain"
	"github.com/bluelight-hub/app-sub009/services/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// QueueStats is the queue surface the refresher polls.
type QueueStats interface {
	Counts(ctx context.Context) (queue.JobCounts, error)
}

// ChainVerifier is the verifier surface the refresher polls.
type ChainVerifier interface {
	Verify(ctx context.Context, limit int) (*chain.VerificationResult, error)
}

// RefresherConfig holds background refresh configuration
type RefresherConfig struct {
	QueueInterval time.Duration // Queue gauge refresh cadence
	ChainInterval time.Duration // Chain integrity refresh cadence
	VerifyWindow  int           // Most-recent entries verified per refresh
	TickTimeout   time.Duration // Bound per refresh tick
}

// DefaultRefresherConfig returns the default configuration
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		QueueInterval: 5 * time.Second,
		ChainInterval: 60 * time.Second,
		VerifyWindow:  100,
		TickTimeout:   30 * time.Second,
	}
}

// Refresher keeps the queue-derived gauges and the chain-integrity gauge
// current. A failed refresh logs and leaves the previous gauge value in
// place; overlapping slow ticks are collapsed by a single-flight guard so
// they never run concurrently.
type Refresher struct {
	recorder *Recorder
	queue    QueueStats
	verifier ChainVerifier
	logger   *zap.Logger
	cfg      RefresherConfig

	sf      singleflight.Group
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewRefresher creates a new background refresher
func NewRefresher(recorder *Recorder, q QueueStats, verifier ChainVerifier, logger *zap.Logger, cfg RefresherConfig) *Refresher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Refresher{
		recorder: recorder,
		queue:    q,
		verifier: verifier,
		logger:   logger,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the refresh loops
func (r *Refresher) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("metrics refresher already started")
	}

	r.wg.Add(2)
	go r.loop("queue", r.cfg.QueueInterval, r.refreshQueue)
	go r.loop("chain", r.cfg.ChainInterval, r.refreshChain)

	r.started = true
	r.logger.Info("started metrics refresher",
		zap.Duration("queue_interval", r.cfg.QueueInterval),
		zap.Duration("chain_interval", r.cfg.ChainInterval))
	return nil
}

// Stop cancels the refresh loops and waits for them to exit
func (r *Refresher) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("metrics refresher stopped")
}

func (r *Refresher) loop(name string, interval time.Duration, refresh func(ctx context.Context) error) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.tick(name, refresh)
		}
	}
}

// tick runs one refresh through the single-flight guard without waiting on
// it, so a slow refresh never stacks concurrent duplicates.
func (r *Refresher) tick(name string, refresh func(ctx context.Context) error) {
	r.sf.DoChan(name, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.TickTimeout)
		defer cancel()

		if err := refresh(ctx); err != nil {
			// Stale-but-available beats crashing: keep the previous
			// gauge value.
			r.logger.Warn("metrics refresh failed",
				zap.String("refresh", name),
				zap.Error(err))
		}
		return nil, nil
	})
}

func (r *Refresher) refreshQueue(ctx context.Context) error {
	counts, err := r.queue.Counts(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue counts: %w", err)
	}
	r.recorder.SetQueueJobs(counts)
	return nil
}

func (r *Refresher) refreshChain(ctx context.Context) error {
	// Verify updates the chain gauge and duration histogram itself.
	if _, err := r.verifier.Verify(ctx, r.cfg.VerifyWindow); err != nil {
		return fmt.Errorf("chain verification failed: %w", err)
	}
	return nil
}
