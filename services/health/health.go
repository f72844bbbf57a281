// Package health evaluates the composite health of the security log
// pipeline: ingestion queue, broker durability, chain integrity and archive
// disk space. Sub-checks are isolated from each other; one failing or
// panicking dependency never hides the status of the rest.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the outcome of a check or of the composite report.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// CheckResult is one sub-check's outcome with a machine-readable detail
// object (observed values, thresholds, durations, error messages).
type CheckResult struct {
	Status  Status                 `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Healthy returns an up result with the given details
func Healthy(details map[string]interface{}) CheckResult {
	return CheckResult{Status: StatusUp, Details: details}
}

// Unhealthy returns a down result with a reason and details
func Unhealthy(reason string, details map[string]interface{}) CheckResult {
	return CheckResult{Status: StatusDown, Details: details, Error: reason}
}

// Checker is one independent health evaluation.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Report is the composite result: up iff every sub-check is up.
type Report struct {
	Status    Status                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// Aggregator runs all registered checkers and combines their results.
// It is stateless; every call recomputes.
type Aggregator struct {
	checkers []Checker
	timeout  time.Duration
	logger   *zap.Logger
}

// NewAggregator creates a new health aggregator
func NewAggregator(logger *zap.Logger, timeout time.Duration, checkers ...Checker) *Aggregator {
	return &Aggregator{
		checkers: checkers,
		timeout:  timeout,
		logger:   logger,
	}
}

// Check evaluates every sub-check with its own timeout and panic isolation.
// No short-circuiting: all checks always run, concurrently, and a failure
// in one is attached to the report without suppressing the others.
func (a *Aggregator) Check(ctx context.Context) Report {
	report := Report{
		Status:    StatusUp,
		Checks:    make(map[string]CheckResult, len(a.checkers)),
		Timestamp: time.Now().UTC(),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, checker := range a.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			result := a.runChecker(ctx, c)

			mu.Lock()
			report.Checks[c.Name()] = result
			if result.Status != StatusUp {
				report.Status = StatusDown
			}
			mu.Unlock()
		}(checker)
	}
	wg.Wait()

	if report.Status == StatusDown {
		a.logger.Warn("composite health check is down", zap.Any("checks", report.Checks))
	}
	return report
}

// runChecker bounds one sub-check with a timeout and converts a panic into
// an unhealthy result instead of taking the process down.
func (a *Aggregator) runChecker(ctx context.Context, c Checker) (result CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("health check panicked",
				zap.String("check", c.Name()),
				zap.Any("panic", r))
			result = Unhealthy(fmt.Sprintf("check panicked: %v", r), nil)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Unhealthy(fmt.Sprintf("check panicked: %v", r), nil)
			}
		}()
		done <- c.Check(ctx)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		// A timeout is an error: the sub-check is unhealthy, the
		// process is not.
		return Unhealthy(fmt.Sprintf("check timed out after %v", a.timeout), nil)
	}
}
