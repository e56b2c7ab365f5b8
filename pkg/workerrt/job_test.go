package workerrt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casparian/flow/pkg/wire"
)

func testTopic(t *testing.T, dir string) wire.TopicSpec {
	t.Helper()
	return wire.TopicSpec{
		TopicName: "rows",
		SinkURI:   filepath.Join(dir, "rows.parquet"),
		Mode:      "append",
		Columns: []wire.TopicColumn{
			{Name: "id", Type: "string"},
			{Name: "value", Type: "int32"},
		},
	}
}

func TestRunJob_EnvMissingFailsFast(t *testing.T) {
	cacheDir := t.TempDir()
	cfg := DefaultConfig("unused:0", t.TempDir())
	cfg.EnvCacheDir = cacheDir // no "csv_parser" subdirectory exists

	rt := New(cfg, "w-test")
	d := wire.DispatchMsg{
		JobID:      "job-1",
		PluginName: "csv_parser",
		Topics:     []wire.TopicSpec{testTopic(t, t.TempDir())},
	}

	concl := rt.runJob(d, make(chan struct{}))
	assert.Equal(t, "failed", concl.Status)
	assert.Contains(t, concl.ErrorMessage, "env_missing")
}

func TestRunJob_AcceptsAndQuarantinesRows(t *testing.T) {
	outDir := t.TempDir()
	cfg := DefaultConfig("unused:0", outDir)
	cfg.QuarantineFraction = 0.5 // exactly 1/2 quarantined must still pass

	rt := New(cfg, "w-test")
	script := `printf '{"id":"1","value":"10"}\n{"id":"2","value":"not-a-number"}\n'`
	d := wire.DispatchMsg{
		JobID:         "job-2",
		PluginName:    "csv_parser",
		PluginSource:  script,
		PluginVersion: "1.0.0",
		ContentHash:   "hash-xyz",
		LocationPath:  "/does/not/need/to/exist.csv",
		Topics:        []wire.TopicSpec{testTopic(t, outDir)},
	}

	concl := rt.runJob(d, make(chan struct{}))
	require.Equal(t, "completed", concl.Status, concl.ErrorMessage)
	assert.EqualValues(t, 1, concl.RowsAccepted)
	assert.EqualValues(t, 1, concl.RowsQuarantined)

	info, err := os.Stat(filepath.Join(outDir, "rows.parquet"))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestRunJob_ExcessQuarantineFailsAsContractBreach(t *testing.T) {
	outDir := t.TempDir()
	cfg := DefaultConfig("unused:0", outDir)
	cfg.QuarantineFraction = 0.1

	rt := New(cfg, "w-test")
	script := `printf '{"id":"1","value":"nope"}\n{"id":"2","value":"also-nope"}\n'`
	d := wire.DispatchMsg{
		JobID:        "job-3",
		PluginName:   "csv_parser",
		PluginSource: script,
		Topics:       []wire.TopicSpec{testTopic(t, outDir)},
	}

	concl := rt.runJob(d, make(chan struct{}))
	assert.Equal(t, "failed", concl.Status)
	assert.Contains(t, concl.ErrorMessage, "contract_breach")
}

func TestRunJob_AbortStopsChildAndReportsFailed(t *testing.T) {
	outDir := t.TempDir()
	cfg := DefaultConfig("unused:0", outDir)
	cfg.JobTimeout = 10 * time.Second

	rt := New(cfg, "w-test")
	script := `sleep 5; printf '{"id":"1","value":"1"}\n'`
	d := wire.DispatchMsg{
		JobID:        "job-4",
		PluginName:   "csv_parser",
		PluginSource: script,
		Topics:       []wire.TopicSpec{testTopic(t, outDir)},
	}

	abort := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(abort)
	}()

	start := time.Now()
	concl := rt.runJob(d, abort)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, "failed", concl.Status)
	assert.Equal(t, "aborted", concl.ErrorMessage)
}
