package framework

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultHarnessConfig returns a harness configuration read from the
// environment, falling back to sane local defaults.
func DefaultHarnessConfig() *HarnessConfig {
	binary := os.Getenv("CASPARIAN_TEST_BINARY")
	if binary == "" {
		binary = "bin/casparian"
	}

	dataDir := os.Getenv("CASPARIAN_TEST_DATA_DIR")
	if dataDir == "" {
		dataDir = filepath.Join(os.TempDir(), "casparian-test")
	}

	return &HarnessConfig{
		Binary:     binary,
		DataDir:    dataDir,
		NumWorkers: 1,
		BindAddr:   "127.0.0.1:17171",
		LogLevel:   "info",
	}
}

// Harness manages one sentinel process and N worker processes as real
// child processes, sharing a catalog directory on disk. Unlike the
// distributed clusters this framework once drove, Casparian Flow has a
// single dispatcher; there is no quorum to wait for, only the sentinel's
// listener coming up and workers joining its roster.
type Harness struct {
	Config  *HarnessConfig
	Sentinel *Process
	Workers []*Process

	addr string
}

// NewHarness creates a new Harness with the given configuration.
func NewHarness(config *HarnessConfig) (*Harness, error) {
	if config == nil {
		config = DefaultHarnessConfig()
	}
	if config.NumWorkers < 0 {
		return nil, fmt.Errorf("invalid harness config: NumWorkers must be >= 0, got %d", config.NumWorkers)
	}
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create harness data dir: %w", err)
	}
	return &Harness{Config: config, Workers: make([]*Process, 0, config.NumWorkers)}, nil
}

// Start starts the sentinel, waits for its listener to come up, then
// starts every configured worker.
func (h *Harness) Start() error {
	if err := h.startSentinel(); err != nil {
		return fmt.Errorf("start sentinel: %w", err)
	}
	if err := h.WaitForSentinelReady(10 * time.Second); err != nil {
		return fmt.Errorf("sentinel did not become ready: %w", err)
	}
	for i := 0; i < h.Config.NumWorkers; i++ {
		if err := h.startWorker(i); err != nil {
			return fmt.Errorf("start worker-%d: %w", i, err)
		}
	}
	return nil
}

// Stop stops every worker, then the sentinel, each with SIGTERM and a
// bounded grace period before escalating to SIGKILL (Process.Stop's
// behavior).
func (h *Harness) Stop() error {
	for _, w := range h.Workers {
		if w.IsRunning() {
			if err := w.Stop(); err != nil {
				return fmt.Errorf("stop worker: %w", err)
			}
		}
	}
	if h.Sentinel != nil && h.Sentinel.IsRunning() {
		if err := h.Sentinel.Stop(); err != nil {
			return fmt.Errorf("stop sentinel: %w", err)
		}
	}
	return nil
}

// Cleanup stops the harness and, unless Config.KeepOnFailure is set,
// removes its data directory.
func (h *Harness) Cleanup() {
	if err := h.Stop(); err != nil {
		fmt.Printf("warning: harness stop failed: %v\n", err)
	}
	if !h.Config.KeepOnFailure {
		_ = os.RemoveAll(h.Config.DataDir)
	}
}

// Addr returns the sentinel's actual bind address, once known.
func (h *Harness) Addr() string {
	return h.addr
}

// DatabaseDir is the catalog directory shared by every process in the harness.
func (h *Harness) DatabaseDir() string {
	return filepath.Join(h.Config.DataDir, "catalog")
}

func (h *Harness) startSentinel() error {
	p := NewProcess(h.Config.Binary)
	p.Args = []string{
		"start",
		"--bind", h.Config.BindAddr,
		"--database", h.DatabaseDir(),
		"--metrics-addr", "127.0.0.1:0",
		"--log-level", h.Config.LogLevel,
	}
	p.LogFile = filepath.Join(h.Config.DataDir, "sentinel.log")
	if err := p.Start(); err != nil {
		return err
	}
	h.Sentinel = p
	h.addr = h.Config.BindAddr
	return nil
}

func (h *Harness) startWorker(i int) error {
	p := NewProcess(h.Config.Binary)
	outputDir := filepath.Join(h.Config.DataDir, fmt.Sprintf("worker-%d-sink", i))
	p.Args = []string{
		"worker",
		"--connect", h.addr,
		"--output", outputDir,
		"--worker-id", fmt.Sprintf("test-worker-%d", i),
		"--log-level", h.Config.LogLevel,
	}
	p.LogFile = filepath.Join(h.Config.DataDir, fmt.Sprintf("worker-%d.log", i))
	if err := p.Start(); err != nil {
		return err
	}
	h.Workers = append(h.Workers, p)
	return nil
}

// WaitForSentinelReady polls the sentinel's log for its "sentinel started"
// line, which is only emitted once the wire listener is bound and the
// metrics server goroutine has been launched.
func (h *Harness) WaitForSentinelReady(timeout time.Duration) error {
	return h.Sentinel.WaitForLog("sentinel started", timeout)
}
