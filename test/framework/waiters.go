package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/casparian/flow/pkg/catalog"
	"github.com/casparian/flow/pkg/types"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter returns a waiter with sensible defaults (30s timeout, 1s interval)
func DefaultWaiter() *Waiter {
	return NewWaiter(30*time.Second, 1*time.Second)
}

// WaitFor waits for a condition to become true
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForJobStatus waits for a job in the catalog to reach a given status.
func (w *Waiter) WaitForJobStatus(ctx context.Context, store catalog.Store, jobID string, status types.JobStatus) error {
	return w.WaitFor(ctx, func() bool {
		job, err := store.GetJob(jobID)
		if err != nil {
			return false
		}
		return job.Status == status
	}, fmt.Sprintf("job %s to reach status %s", jobID, status))
}

// WaitForJobCount waits for the catalog to have at least n jobs in the
// given status, used by scenarios that dispatch a batch and wait for the
// whole batch to drain.
func (w *Waiter) WaitForJobCount(ctx context.Context, store catalog.Store, status types.JobStatus, n int) error {
	return w.WaitFor(ctx, func() bool {
		jobs, err := store.ListJobsByStatus(status)
		if err != nil {
			return false
		}
		return len(jobs) >= n
	}, fmt.Sprintf("at least %d jobs in status %s", n, status))
}

// WaitForActivePlugin waits for a plugin manifest to become the active
// version for its name, as happens after a Deploy.
func (w *Waiter) WaitForActivePlugin(ctx context.Context, store catalog.Store, name, sourceHash string) error {
	return w.WaitFor(ctx, func() bool {
		m, err := store.GetActivePluginByName(name)
		if err != nil {
			return false
		}
		return m.SourceHash == sourceHash
	}, fmt.Sprintf("plugin %s to activate source %s", name, sourceHash))
}

// WaitForConditionWithRetry waits for a condition with exponential backoff retry
func (w *Waiter) WaitForConditionWithRetry(ctx context.Context, condition func() (bool, error), description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	interval := w.interval
	maxInterval := 10 * time.Second

	for {
		ok, err := condition()
		if err != nil {
			return fmt.Errorf("error checking condition '%s': %w", description, err)
		}

		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-time.After(interval):
			interval = interval * 2
			if interval > maxInterval {
				interval = maxInterval
			}
		}
	}
}

// PollUntil polls a condition until it returns true or context is cancelled
func PollUntil(ctx context.Context, interval time.Duration, condition func() bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// PollUntilWithError polls a condition that can return an error
func PollUntilWithError(ctx context.Context, interval time.Duration, condition func() (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if ok, err := condition(); err != nil {
		return err
	} else if ok {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ok, err := condition(); err != nil {
				return err
			} else if ok {
				return nil
			}
		}
	}
}

// Retry retries an operation with exponential backoff
func Retry(ctx context.Context, attempts int, initialDelay time.Duration, operation func() error) error {
	var err error
	delay := initialDelay

	for i := 0; i < attempts; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
				delay = delay * 2
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
}
