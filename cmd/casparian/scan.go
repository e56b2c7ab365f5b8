package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/casparian/flow/pkg/catalog"
	"github.com/casparian/flow/pkg/ferrors"
	"github.com/casparian/flow/pkg/ruleengine"
	"github.com/casparian/flow/pkg/scout"
	"github.com/casparian/flow/pkg/types"
)

var scanCmd = &cobra.Command{
	Use:   "scan <path>",
	Short: "Run one scan pass over a directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		path, err := filepath.Abs(args[0])
		if err != nil {
			return ferrors.InputInvalid("resolve scan path", err)
		}

		root, err := getOrCreateSourceRoot(store, path)
		if err != nil {
			return err
		}

		rules, err := store.ListRoutingRules()
		if err != nil {
			return ferrors.Fatal("list routing rules", err)
		}

		if tag, _ := cmd.Flags().GetString("tag"); tag != "" {
			rules = append(rules, &types.RoutingRule{
				ID: "cli-tag", Pattern: "**", Tag: tag, Priority: 1 << 30, Enabled: true,
			})
		}

		engine, err := ruleengine.New(rules)
		if err != nil {
			return ferrors.InputInvalid("compile routing rules", err)
		}

		scanner := scout.New(scout.DefaultConfig(root.ID, path), store, engine)
		result, err := scanner.Scan(context.Background())
		if err != nil {
			return ferrors.Retryable("scan pass", err)
		}

		fmt.Printf("added=%d modified=%d unchanged=%d renamed=%d missing=%d\n",
			result.Added, result.Modified, result.Unchanged, result.Renamed, result.Missing)
		for _, e := range result.Errors {
			fmt.Printf("warning: %v\n", e)
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().String("tag", "", "Apply this tag to every file in the scan, in addition to routing-rule tags")
}

// getOrCreateSourceRoot finds the catalog's source root for path, creating
// one if this is the first time it has been scanned.
func getOrCreateSourceRoot(store catalog.Store, path string) (*types.SourceRoot, error) {
	roots, err := store.ListSourceRoots()
	if err != nil {
		return nil, ferrors.Fatal("list source roots", err)
	}
	for _, r := range roots {
		if r.Path == path {
			return r, nil
		}
	}
	root := &types.SourceRoot{Path: path, Active: true, CreatedAt: time.Now()}
	if err := store.CreateSourceRoot(root); err != nil {
		return nil, ferrors.Fatal("create source root", err)
	}
	return root, nil
}
