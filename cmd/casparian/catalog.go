package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/casparian/flow/pkg/ferrors"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Catalog maintenance commands",
}

var catalogRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Drop and recreate every catalog bucket (destroys all state)",
	Long: `Pre-v1, a schema change destroys the store rather than migrating it.
This drops every bucket in the catalog and recreates them empty, then
stamps the current schema version. There is no undo.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			return ferrors.InputInvalid("rebuild destroys all catalog state; pass --force to proceed", nil)
		}

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Rebuild(); err != nil {
			return ferrors.Fatal("rebuild catalog", err)
		}
		fmt.Println("catalog rebuilt")
		return nil
	},
}

func init() {
	catalogRebuildCmd.Flags().Bool("force", false, "Confirm the destructive rebuild")
	catalogCmd.AddCommand(catalogRebuildCmd)
}
