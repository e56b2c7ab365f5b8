package workerrt

import "time"

// Config configures a Runtime.
type Config struct {
	ConnectAddr string
	OutputDir   string

	// EnvCacheDir holds one subdirectory per plugin name that this worker
	// has a pre-installed execution environment for. A plugin with no
	// entry here fails fast with EnvMissing rather than being installed
	// on demand (ADR-018 / spec section 4.6 step 1).
	EnvCacheDir string

	// WorkDirRoot is where each job's isolated working directory is
	// created.
	WorkDirRoot string

	// Interpreter is the command line used to run a plugin's shell
	// source. It reads CASPARIAN_PLUGIN_SOURCE from its environment,
	// base64-decodes it, and evaluates it; the decoded script receives
	// the input file path as its first argument and writes one
	// newline-delimited JSON row per accepted record to stdout.
	Interpreter []string

	// BatchRowCount is how many validated rows accumulate before a sink
	// commit.
	BatchRowCount int

	// QuarantineFraction is the fraction of seen rows that may be
	// quarantined before the job is failed as ContractBreach.
	QuarantineFraction float64

	HeartbeatInterval time.Duration
	JobTimeout        time.Duration
	SocketReadTimeout time.Duration
}

// DefaultConfig returns a Config matching spec section 5's defaults.
func DefaultConfig(connectAddr, outputDir string) Config {
	return Config{
		ConnectAddr:        connectAddr,
		OutputDir:          outputDir,
		EnvCacheDir:        "",
		WorkDirRoot:        "",
		Interpreter:        []string{"sh", "-c", `eval "$(printf '%s' "$CASPARIAN_PLUGIN_SOURCE" | base64 -d)"`},
		BatchRowCount:      500,
		QuarantineFraction: 0.1,
		HeartbeatInterval:  5 * time.Second,
		JobTimeout:         time.Hour,
		SocketReadTimeout:  30 * time.Second,
	}
}
