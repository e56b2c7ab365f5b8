package framework

import (
	"context"
	"strings"
	"time"

	"github.com/casparian/flow/pkg/catalog"
	"github.com/casparian/flow/pkg/types"
)

// Assertions provides test assertion helpers
type Assertions struct {
	t TestingT
}

// NewAssertions creates a new Assertions instance
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// JobCompleted asserts that a job exists and is COMPLETED. It does not
// check how many rows the job accepted.
func (a *Assertions) JobCompleted(store catalog.Store, jobID string) {
	a.t.Helper()

	job, err := store.GetJob(jobID)
	if err != nil {
		a.t.Fatalf("job %s does not exist: %v", jobID, err)
	}
	if job.Status != types.JobCompleted {
		a.t.Fatalf("job %s has status %s, expected %s (error: %s)", jobID, job.Status, types.JobCompleted, job.ErrorMessage)
	}
}

// JobFailed asserts that a job exists and reached FAILED.
func (a *Assertions) JobFailed(store catalog.Store, jobID string) {
	a.t.Helper()

	job, err := store.GetJob(jobID)
	if err != nil {
		a.t.Fatalf("job %s does not exist: %v", jobID, err)
	}
	if job.Status != types.JobFailed {
		a.t.Fatalf("job %s has status %s, expected %s", jobID, job.Status, types.JobFailed)
	}
}

// LocationActive asserts that a file location exists for the given
// source root and relative path and has not been marked missing.
func (a *Assertions) LocationActive(store catalog.Store, sourceRootID, relPath string) {
	a.t.Helper()

	loc, err := store.GetLocation(sourceRootID, relPath)
	if err != nil {
		a.t.Fatalf("location %s not found: %v", relPath, err)
	}
	if loc.Status != types.LocationActive {
		a.t.Fatalf("location %s has status %s, expected %s", relPath, loc.Status, types.LocationActive)
	}
}

// Eventually repeatedly runs a condition until it returns true or timeout occurs
func (a *Assertions) Eventually(condition func() bool, timeout, interval time.Duration, msg string) {
	a.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.t.Fatalf("Timeout waiting for condition: %s (timeout: %v)", msg, timeout)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// EventuallyWithContext is like Eventually but uses a provided context
func (a *Assertions) EventuallyWithContext(ctx context.Context, condition func() bool, interval time.Duration, msg string) {
	a.t.Helper()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.t.Fatalf("Context cancelled waiting for condition: %s (error: %v)", msg, ctx.Err())
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// NoError asserts that the error is nil
func (a *Assertions) NoError(err error, msg string) {
	a.t.Helper()

	if err != nil {
		a.t.Fatalf("%s: %v", msg, err)
	}
}

// Error asserts that the error is not nil
func (a *Assertions) Error(err error, msg string) {
	a.t.Helper()

	if err == nil {
		a.t.Fatalf("%s: expected error but got nil", msg)
	}
}

// Equal asserts that two values are equal
func (a *Assertions) Equal(expected, actual interface{}, msg string) {
	a.t.Helper()

	if expected != actual {
		a.t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// NotEqual asserts that two values are not equal
func (a *Assertions) NotEqual(expected, actual interface{}, msg string) {
	a.t.Helper()

	if expected == actual {
		a.t.Fatalf("%s: expected values to be different, but both are %v", msg, expected)
	}
}

// True asserts that a condition is true
func (a *Assertions) True(condition bool, msg string) {
	a.t.Helper()

	if !condition {
		a.t.Fatalf("%s: expected true, got false", msg)
	}
}

// False asserts that a condition is false
func (a *Assertions) False(condition bool, msg string) {
	a.t.Helper()

	if condition {
		a.t.Fatalf("%s: expected false, got true", msg)
	}
}

// Contains asserts that a string contains a substring
func (a *Assertions) Contains(haystack, needle, msg string) {
	a.t.Helper()

	if !strings.Contains(haystack, needle) {
		a.t.Fatalf("%s: expected %q to contain %q", msg, haystack, needle)
	}
}

// NotContains asserts that a string does not contain a substring
func (a *Assertions) NotContains(haystack, needle, msg string) {
	a.t.Helper()

	if strings.Contains(haystack, needle) {
		a.t.Fatalf("%s: expected %q not to contain %q", msg, haystack, needle)
	}
}

// Len asserts that a slice or map has a specific length
func (a *Assertions) Len(obj interface{}, expected int, msg string) {
	a.t.Helper()

	var length int

	switch v := obj.(type) {
	case []interface{}:
		length = len(v)
	case map[string]interface{}:
		length = len(v)
	case string:
		length = len(v)
	default:
		a.t.Fatalf("%s: unsupported type for Len assertion: %T", msg, obj)
		return
	}

	if length != expected {
		a.t.Fatalf("%s: expected length %d, got %d", msg, expected, length)
	}
}

// Nil asserts that a value is nil
func (a *Assertions) Nil(obj interface{}, msg string) {
	a.t.Helper()

	if obj != nil {
		a.t.Fatalf("%s: expected nil, got %v", msg, obj)
	}
}

// NotNil asserts that a value is not nil
func (a *Assertions) NotNil(obj interface{}, msg string) {
	a.t.Helper()

	if obj == nil {
		a.t.Fatalf("%s: expected non-nil value", msg)
	}
}

// Logf logs a formatted message (non-failing)
func (a *Assertions) Logf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Logf(format, args...)
}

// Step logs a test step (for visibility in test output)
func (a *Assertions) Step(step string) {
	a.t.Helper()
	a.t.Logf("\n==> %s", step)
}

// Errorf logs an error and fails the test
func (a *Assertions) Errorf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Errorf(format, args...)
}

// Fatalf logs a fatal error and stops the test immediately
func (a *Assertions) Fatalf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Fatalf(format, args...)
}

// FailNow fails the test immediately without logging
func (a *Assertions) FailNow() {
	a.t.Helper()
	a.t.FailNow()
}
