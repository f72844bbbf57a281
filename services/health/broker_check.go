package health

import (
	"context"
)

// BrokerDurabilityCheck reports the broker unhealthy when durable writes are
// disabled or the last durability write failed. An in-memory-only broker
// configuration silently risks losing accepted events on crash, which is why
// this is a dedicated sub-check rather than part of the queue check.
type BrokerDurabilityCheck struct {
	queue QueueInfo
}

// NewBrokerDurabilityCheck creates a new broker durability check
func NewBrokerDurabilityCheck(q QueueInfo) *BrokerDurabilityCheck {
	return &BrokerDurabilityCheck{queue: q}
}

// Name implements Checker
func (c *BrokerDurabilityCheck) Name() string { return "broker_durability" }

// Check implements Checker
func (c *BrokerDurabilityCheck) Check(ctx context.Context) CheckResult {
	status, err := c.queue.PersistenceStatus(ctx)
	if err != nil {
		return Unhealthy("failed to read broker persistence status: "+err.Error(), nil)
	}

	details := map[string]interface{}{
		"durable_writes_enabled": status.DurableWritesEnabled,
		"last_write_ok":          status.LastWriteOK,
		"rewrite_in_progress":    status.RewriteInProgress,
		"log_size_bytes":         status.LogSizeBytes,
	}

	if !status.DurableWritesEnabled {
		return Unhealthy("broker durable writes are disabled", details)
	}
	if !status.LastWriteOK {
		return Unhealthy("last broker durability write failed", details)
	}

	return Healthy(details)
}
