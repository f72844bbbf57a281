package health

import (
	"context"
	"time"

	"github.com/bluelight-hub/app-sub009/services/chain"
)

// ChainVerifier is the verifier surface the chain check uses.
type ChainVerifier interface {
	Verify(ctx context.Context, limit int) (*chain.VerificationResult, error)
}

// ChainCheckConfig holds chain integrity check configuration
type ChainCheckConfig struct {
	VerifyWindow int // Most-recent entries verified per check
}

// DefaultChainCheckConfig returns the default configuration
func DefaultChainCheckConfig() ChainCheckConfig {
	return ChainCheckConfig{VerifyWindow: 100}
}

// ChainCheck verifies the most recent window of the hash chain. A break is
// never auto-repaired; the result carries the exact sequence for operator
// action.
type ChainCheck struct {
	verifier ChainVerifier
	cfg      ChainCheckConfig
}

// NewChainCheck creates a new chain integrity check
func NewChainCheck(verifier ChainVerifier, cfg ChainCheckConfig) *ChainCheck {
	return &ChainCheck{verifier: verifier, cfg: cfg}
}

// Name implements Checker
func (c *ChainCheck) Name() string { return "chain_integrity" }

// Check implements Checker
func (c *ChainCheck) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result, err := c.verifier.Verify(ctx, c.cfg.VerifyWindow)
	duration := time.Since(start)

	if err != nil {
		return Unhealthy("chain verification failed: "+err.Error(), map[string]interface{}{
			"verify_window":        c.cfg.VerifyWindow,
			"verification_time_ms": duration.Milliseconds(),
		})
	}

	details := map[string]interface{}{
		"verify_window":        c.cfg.VerifyWindow,
		"total_checked":        result.TotalChecked,
		"verification_time_ms": duration.Milliseconds(),
	}

	if !result.Valid {
		if result.BrokenAtSequence != nil {
			details["broken_at_sequence"] = *result.BrokenAtSequence
		}
		return Unhealthy("security log chain is broken", details)
	}

	return Healthy(details)
}
