package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/zeebo/blake3"

	"github.com/casparian/flow/pkg/ferrors"
	"github.com/casparian/flow/pkg/types"
	"github.com/casparian/flow/pkg/wire"
	"github.com/casparian/flow/pkg/workerrt"
)

var runCmd = &cobra.Command{
	Use:   "run <parser> <file>",
	Short: "One-shot parse of a single file with an already-approved plugin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pluginName, filePath := args[0], args[1]

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		manifest, err := store.GetActivePluginByName(pluginName)
		if err != nil {
			return ferrors.EnvMissing(fmt.Sprintf("no active plugin named %s", pluginName), err)
		}

		absPath, err := filepath.Abs(filePath)
		if err != nil {
			return ferrors.InputInvalid("resolve file path", err)
		}
		hash, _, err := hashFile(absPath)
		if err != nil {
			return ferrors.InputInvalid("read input file", err)
		}

		topics, err := topicsForPlugin(store, pluginName)
		if err != nil {
			return err
		}
		if sinkURI, _ := cmd.Flags().GetString("sink"); sinkURI != "" && len(topics) > 0 {
			topics[0].SinkURI = sinkURI
		}

		jobID := uuid.NewString()
		d := wire.DispatchMsg{
			JobID:         jobID,
			LocationPath:  absPath,
			ContentHash:   hash,
			PluginName:    pluginName,
			PluginSource:  manifest.SourceCode,
			PluginVersion: manifest.Version,
			Topics:        topics,
		}

		outputDir, _ := cmd.Flags().GetString("output")
		if outputDir == "" {
			outputDir = filepath.Join(defaultStateRoot(), "sink")
		}
		cfg := workerrt.DefaultConfig("", outputDir)

		rt := workerrt.New(cfg, "cli-run")
		concl := rt.RunOnce(d)

		fmt.Printf("status=%s accepted=%d quarantined=%d\n", concl.Status, concl.RowsAccepted, concl.RowsQuarantined)
		if concl.Status != "completed" {
			fmt.Fprintln(os.Stderr, concl.ErrorMessage)
			// ConcludeMsg carries the worker's classified error rendered as
			// text ("<class>: <msg>..."); the prefix is all that survives
			// the wire round-trip, so that is what exitCodeFor keys off.
			if strings.HasPrefix(concl.ErrorMessage, string(ferrors.ClassContractBreach)+":") {
				return ferrors.ContractBreach(concl.ErrorMessage, nil)
			}
			return ferrors.Retryable(concl.ErrorMessage, nil)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("sink", "", "Override the first output topic's sink URI")
	runCmd.Flags().String("output", "", "Sink output directory (default: ~/.casparian_flow/sink)")
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}

	h := blake3.New()
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil)), info.Size(), nil
}

func topicsForPlugin(store interface {
	ListTopicConfigs() ([]*types.TopicConfig, error)
}, pluginName string) ([]wire.TopicSpec, error) {
	cfgs, err := store.ListTopicConfigs()
	if err != nil {
		return nil, ferrors.Fatal("list topic configs", err)
	}
	var specs []wire.TopicSpec
	for _, c := range cfgs {
		if c.PluginName != pluginName {
			continue
		}
		cols := make([]wire.TopicColumn, 0, len(c.Contract.Columns))
		for _, col := range c.Contract.Columns {
			cols = append(cols, wire.TopicColumn{
				Name: col.Name, Type: string(col.Type), Nullable: col.Nullable,
				DecimalScale: col.DecimalScale, Timezone: col.Timezone,
			})
		}
		specs = append(specs, wire.TopicSpec{
			TopicName: c.TopicName, SinkURI: c.SinkURI, Mode: string(c.Mode), Columns: cols,
		})
	}
	return specs, nil
}
