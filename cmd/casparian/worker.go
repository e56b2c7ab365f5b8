package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/casparian/flow/pkg/ferrors"
	"github.com/casparian/flow/pkg/log"
	"github.com/casparian/flow/pkg/workerrt"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker: connect to a sentinel and execute the jobs it dispatches",
	RunE: func(cmd *cobra.Command, args []string) error {
		connectAddr, _ := cmd.Flags().GetString("connect")
		if connectAddr == "" {
			return ferrors.InputInvalid("worker requires --connect <addr>", nil)
		}

		outputDir, _ := cmd.Flags().GetString("output")
		if outputDir == "" {
			outputDir = fmt.Sprintf("%s/sink", defaultStateRoot())
		}

		workerID, _ := cmd.Flags().GetString("worker-id")
		if workerID == "" {
			workerID = uuid.NewString()
		}

		cfg := workerrt.DefaultConfig(connectAddr, outputDir)
		if envCacheDir, _ := cmd.Flags().GetString("env-cache-dir"); envCacheDir != "" {
			cfg.EnvCacheDir = envCacheDir
		}

		logger := log.WithComponent("worker").With().Str("worker_id", workerID).Logger()

		stop := make(chan struct{})
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sig
			close(stop)
		}()

		// Run dials once per attempt; a dropped connection (sentinel
		// restart, network blip) is retried with a fixed backoff rather
		// than treated as fatal, matching spec §7's Retryable class for
		// transient worker-timeout conditions.
		for {
			rt := workerrt.New(cfg, workerID)
			logger.Info().Str("connect", connectAddr).Msg("connecting to sentinel")

			runErr := make(chan error, 1)
			go func() { runErr <- rt.Run() }()

			select {
			case <-stop:
				rt.Stop()
				<-runErr
				logger.Info().Msg("worker shut down")
				return nil
			case err := <-runErr:
				logger.Warn().Err(err).Msg("sentinel connection lost, retrying")
				select {
				case <-stop:
					return nil
				case <-time.After(2 * time.Second):
				}
			}
		}
	},
}

func init() {
	workerCmd.Flags().String("connect", "", "Sentinel address to connect to")
	workerCmd.Flags().String("output", "", "Sink output directory (default: ~/.casparian_flow/sink)")
	workerCmd.Flags().String("worker-id", "", "Worker identity (default: a generated UUID)")
	workerCmd.Flags().String("env-cache-dir", "", "Directory of pre-installed per-plugin execution environments")
}
