package framework

import (
	"context"
	"time"
)

// HarnessConfig configures a local integration harness: one sentinel
// process and a number of worker processes, all pointed at a shared
// catalog directory.
type HarnessConfig struct {
	// Binary is the path to the built casparian binary.
	Binary string
	// DataDir is the base directory for the harness's catalog and sink output.
	DataDir string
	// NumWorkers is the number of worker processes to start.
	NumWorkers int
	// BindAddr is the sentinel's dispatch listen address.
	BindAddr string
	// KeepOnFailure leaves processes running (and DataDir intact) on test failure.
	KeepOnFailure bool
	// LogLevel is passed as --log-level to every spawned process.
	LogLevel string
}

// TestingT is an interface matching the subset of testing.T the framework
// needs, so assertions and waiters can be used from table-driven subtests
// without importing "testing" into this package.
type TestingT interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	FailNow()
	Failed() bool
	Name() string
	Helper()
}

// TestContext bundles a context, its cancel func, and per-test cleanup.
type TestContext struct {
	T       TestingT
	Ctx     context.Context
	Cancel  context.CancelFunc
	Timeout time.Duration
	cleanup []func()
}

// NewTestContext creates a TestContext with the given timeout.
func NewTestContext(t TestingT, timeout time.Duration) *TestContext {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &TestContext{T: t, Ctx: ctx, Cancel: cancel, Timeout: timeout}
}

// Defer registers a cleanup function to run when Close is called.
func (tc *TestContext) Defer(fn func()) {
	tc.cleanup = append(tc.cleanup, fn)
}

// Close cancels the context and runs cleanup functions in reverse order.
func (tc *TestContext) Close() {
	tc.Cancel()
	for i := len(tc.cleanup) - 1; i >= 0; i-- {
		tc.cleanup[i]()
	}
}
