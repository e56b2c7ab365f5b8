package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/casparian/flow/pkg/ferrors"
	"github.com/casparian/flow/pkg/log"
)

// Version information, set via ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes per the CLI surface's external contract: 0 success, 2
// invalid invocation, 3 unrecoverable runtime error, 4 contract breach.
const (
	exitSuccess           = 0
	exitInvalidInvocation = 2
	exitRuntimeError      = 3
	exitContractBreach    = 4
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "casparian: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error to the external exit-code contract
// using the ferrors taxonomy where available; an error with no ferrors
// class (what cobra surfaces on its own: bad flags, bad arguments, etc.)
// maps to the invalid-invocation code.
func exitCodeFor(err error) int {
	class, ok := ferrors.ClassOf(err)
	if !ok {
		return exitInvalidInvocation
	}
	switch class {
	case ferrors.ClassInputInvalid:
		return exitInvalidInvocation
	case ferrors.ClassContractBreach:
		return exitContractBreach
	default:
		return exitRuntimeError
	}
}

var rootCmd = &cobra.Command{
	Use:   "casparian",
	Short: "Casparian Flow — a deterministic, governed build system for file artifacts",
	Long: `Casparian Flow turns a tree of files into validated, lineage-stamped
columnar output through three cooperating parts: a scanner that detects
change cheaply, a dispatcher that hands work to workers under lease, and a
worker runtime that runs a plugin, validates every row against its schema
contract, and commits only what passes.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"casparian version %s\ncommit: %s\nbuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("database", "", "Catalog directory (default: $CASPARIAN_DATABASE or ~/.casparian_flow/catalog)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(scoutCmd)
	rootCmd.AddCommand(catalogCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}
