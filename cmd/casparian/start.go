package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/casparian/flow/pkg/events"
	"github.com/casparian/flow/pkg/ferrors"
	"github.com/casparian/flow/pkg/log"
	"github.com/casparian/flow/pkg/metrics"
	"github.com/casparian/flow/pkg/sentinel"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the sentinel dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		addr := bindAddr(cmd, "bind", "127.0.0.1:7070")

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		cfg := sentinel.DefaultConfig(addr)
		if n, _ := cmd.Flags().GetInt("max-workers"); n > 0 {
			cfg.MaxWorkers = n
		}

		d := sentinel.New(cfg, store, broker)
		if err := d.Run(); err != nil {
			return ferrors.Fatal("start dispatcher", err)
		}
		defer d.Stop()

		collector := metrics.NewCollector(store)
		collector.Start()
		defer collector.Stop()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("catalog", true, "ready")
		metrics.RegisterComponent("wire", true, fmt.Sprintf("listening on %s", d.Addr()))
		metrics.RegisterComponent("roster", true, "empty")

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithComponent("sentinel").Error().Err(err).Msg("metrics server stopped")
			}
		}()

		logger := log.WithComponent("sentinel")
		logger.Info().Str("addr", d.Addr().String()).Str("metrics_addr", metricsAddr).Msg("sentinel started")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		logger.Info().Msg("sentinel shutting down")
		metricsSrv.Close()
		return nil
	},
}

func init() {
	startCmd.Flags().String("bind", "", "Wire protocol bind address (default: $CASPARIAN_BIND or 127.0.0.1:7070)")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Metrics/health HTTP listen address")
	startCmd.Flags().Int("max-workers", 0, "Override the dispatcher's worker cap (default per sentinel.DefaultConfig)")
}
