package sentinel

import "time"

// MaxWorkerCap is the hard ceiling on concurrent worker registrations
// (spec section 4.5); Config.MaxWorkers is clamped to it.
const MaxWorkerCap = 8

// DefaultMaxWorkers is the default worker registration cap.
const DefaultMaxWorkers = 4

// Config configures a Dispatcher.
type Config struct {
	BindAddr string

	MaxWorkers int

	// HeartbeatInterval is the expected worker heartbeat period T.
	HeartbeatInterval time.Duration

	// OfflineAfter is how long without a heartbeat before a worker is
	// considered offline; spec defines it as 3T.
	OfflineAfter time.Duration

	// LeaseSeconds is the lease duration granted to a claimed job.
	LeaseSeconds int

	// RetryCeiling bounds how many times a Retryable Err requeues a job
	// before it is failed outright.
	RetryCeiling int
}

// DefaultConfig returns a Config with the heartbeat cadence from spec
// section 9 (T=5s, offline at 3T=15s).
func DefaultConfig(bindAddr string) Config {
	return Config{
		BindAddr:          bindAddr,
		MaxWorkers:        DefaultMaxWorkers,
		HeartbeatInterval: 5 * time.Second,
		OfflineAfter:      15 * time.Second,
		LeaseSeconds:      15,
		RetryCeiling:      3,
	}
}

func (c Config) clamp() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.MaxWorkers > MaxWorkerCap {
		c.MaxWorkers = MaxWorkerCap
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.OfflineAfter <= 0 {
		c.OfflineAfter = 3 * c.HeartbeatInterval
	}
	if c.LeaseSeconds <= 0 {
		c.LeaseSeconds = 15
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = 3
	}
	return c
}
