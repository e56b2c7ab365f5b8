package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/casparian/flow/pkg/catalog"
	"github.com/casparian/flow/pkg/ferrors"
	"github.com/casparian/flow/pkg/log"
	"github.com/casparian/flow/pkg/ruleengine"
	"github.com/casparian/flow/pkg/scout"
	"github.com/casparian/flow/pkg/types"
)

// scoutFileConfig is the TOML document `scout run --config` loads:
// source roots, routing rules, and scan tuning knobs. CLI flags override
// these values, matching the teacher's flag-then-config layering.
type scoutFileConfig struct {
	SourceRoots []string `toml:"source_roots"`
	Rules       []struct {
		Pattern  string `toml:"pattern"`
		Tag      string `toml:"tag"`
		Priority int    `toml:"priority"`
	} `toml:"rules"`
	WalkerConcurrency int64 `toml:"walker_concurrency"`
	HashConcurrency   int64 `toml:"hash_concurrency"`
	BatchSize         int   `toml:"batch_size"`
	IntervalSeconds   int   `toml:"interval_seconds"`
}

var scoutCmd = &cobra.Command{
	Use:   "scout",
	Short: "Scout scanner commands",
}

var scoutRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scout scanner daemon over configured source roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			return ferrors.InputInvalid("scout run requires --config <toml>", nil)
		}
		data, err := os.ReadFile(configPath)
		if err != nil {
			return ferrors.InputInvalid("read scout config", err)
		}
		var fc scoutFileConfig
		if err := toml.Unmarshal(data, &fc); err != nil {
			return ferrors.InputInvalid("parse scout config", err)
		}
		if len(fc.SourceRoots) == 0 {
			return ferrors.InputInvalid("scout config declares no source_roots", nil)
		}

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		rules, err := reconcileRules(store, fc)
		if err != nil {
			return err
		}
		engine, err := ruleengine.New(rules)
		if err != nil {
			return ferrors.InputInvalid("compile scout config rules", err)
		}

		scanners := make([]*scout.Scanner, 0, len(fc.SourceRoots))
		for _, path := range fc.SourceRoots {
			root, err := getOrCreateSourceRoot(store, path)
			if err != nil {
				return err
			}
			cfg := scout.DefaultConfig(root.ID, path)
			if w, _ := cmd.Flags().GetInt("workers"); w > 0 {
				cfg.WalkerConcurrency = int64(w)
			} else if fc.WalkerConcurrency > 0 {
				cfg.WalkerConcurrency = fc.WalkerConcurrency
			}
			if fc.HashConcurrency > 0 {
				cfg.HashConcurrency = fc.HashConcurrency
			}
			if fc.BatchSize > 0 {
				cfg.BatchSize = fc.BatchSize
			}
			scanners = append(scanners, scout.New(cfg, store, engine))
		}

		logger := log.WithComponent("scout")
		runPass := func() {
			for i, sc := range scanners {
				result, err := sc.Scan(context.Background())
				if err != nil {
					logger.Warn().Err(err).Str("root", fc.SourceRoots[i]).Msg("scan pass failed")
					continue
				}
				logger.Info().
					Str("root", fc.SourceRoots[i]).
					Int("added", result.Added).Int("modified", result.Modified).
					Int("unchanged", result.Unchanged).Int("renamed", result.Renamed).
					Int("missing", result.Missing).
					Msg("scan pass complete")
			}
		}

		once, _ := cmd.Flags().GetBool("once")
		if once {
			runPass()
			return nil
		}

		interval := time.Duration(fc.IntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

		runPass()
		for {
			select {
			case <-ticker.C:
				runPass()
			case <-sig:
				logger.Info().Msg("scout daemon shutting down")
				return nil
			}
		}
	},
}

func init() {
	scoutRunCmd.Flags().String("config", "", "TOML config: source roots, routing rules, scan tuning")
	scoutRunCmd.Flags().Bool("once", false, "Run a single scan pass over every configured root and exit")
	scoutRunCmd.Flags().Int("workers", 0, "Override walker concurrency from the config file")
	scoutCmd.AddCommand(scoutRunCmd)
}

// reconcileRules merges the config file's declared rules into the
// catalog's routing_rules table (creating any not already present by
// pattern+tag) and returns the catalog's current full rule set, so a
// config-declared rule set is durable across restarts rather than only
// living in memory for this process.
func reconcileRules(store catalog.Store, fc scoutFileConfig) ([]*types.RoutingRule, error) {
	existing, err := store.ListRoutingRules()
	if err != nil {
		return nil, ferrors.Fatal("list routing rules", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[r.Pattern+"\x1f"+r.Tag] = true
	}
	for _, fr := range fc.Rules {
		key := fr.Pattern + "\x1f" + fr.Tag
		if seen[key] {
			continue
		}
		rule := &types.RoutingRule{Pattern: fr.Pattern, Tag: fr.Tag, Priority: fr.Priority, Enabled: true}
		if err := store.CreateRoutingRule(rule); err != nil {
			return nil, ferrors.Fatal("create routing rule", err)
		}
		existing = append(existing, rule)
	}
	return existing, nil
}
