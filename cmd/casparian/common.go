package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/casparian/flow/pkg/catalog"
	"github.com/casparian/flow/pkg/ferrors"
)

// defaultStateRoot is ~/.casparian_flow, the per-user root under which the
// catalog file, sink output, and plugin environment cache live, each
// exclusively owned by one component.
func defaultStateRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".casparian_flow")
}

// databaseDir resolves the catalog directory from, in order: the
// --database flag, CASPARIAN_DATABASE, or the default state root.
func databaseDir(cmd *cobra.Command) (string, error) {
	flagVal, _ := cmd.Flags().GetString("database")
	if flagVal == "" {
		flagVal, _ = cmd.Root().PersistentFlags().GetString("database")
	}
	if flagVal != "" {
		return flagVal, nil
	}
	if env := os.Getenv("CASPARIAN_DATABASE"); env != "" {
		return env, nil
	}
	return filepath.Join(defaultStateRoot(), "catalog"), nil
}

// openStore resolves the catalog directory for cmd and opens it,
// creating the directory tree if absent.
func openStore(cmd *cobra.Command) (*catalog.BoltStore, error) {
	dir, err := databaseDir(cmd)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ferrors.Fatal("create catalog directory", err)
	}
	store, err := catalog.NewBoltStore(dir)
	if err != nil {
		return nil, ferrors.Fatal("open catalog", err)
	}
	return store, nil
}

// bindAddr resolves a dispatcher/worker bind or connect address from a
// flag, falling back to CASPARIAN_BIND then a default.
func bindAddr(cmd *cobra.Command, flagName, def string) string {
	v, _ := cmd.Flags().GetString(flagName)
	if v != "" {
		return v
	}
	if env := os.Getenv("CASPARIAN_BIND"); env != "" {
		return env
	}
	return def
}
