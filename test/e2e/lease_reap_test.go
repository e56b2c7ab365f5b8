package e2e

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/casparian/flow/pkg/catalog"
	"github.com/casparian/flow/pkg/types"
	"github.com/casparian/flow/pkg/wire"
	"github.com/casparian/flow/test/framework"
)

// TestWorkerDisconnectReclaimsJob drives spec scenario S4 end to end
// across real sentinel/worker-facing processes: a worker disconnects
// mid-job, and the sentinel must release the job's lease so a second
// worker can claim and finish it, with no operator intervention.
//
// bbolt is single-writer, so the sentinel subprocess holds the catalog
// file open as its exclusive writer for as long as the harness is up.
// This test therefore seeds catalog state with its own BoltStore before
// starting the harness (closing it before Start), drives the live
// portion purely through the wire protocol via framework.WireClient,
// and only reopens the catalog directly once the harness has been
// stopped and released the file lock.
func TestWorkerDisconnectReclaimsJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping cross-process reap test in short mode")
	}

	config := framework.DefaultHarnessConfig()
	config.DataDir = t.TempDir()
	config.NumWorkers = 0
	config.BindAddr = "127.0.0.1:17271"

	jobID, fileVersionID := seedLeaseReapFixture(t, filepath.Join(config.DataDir, "catalog"))

	harness, err := framework.NewHarness(config)
	if err != nil {
		t.Fatalf("new harness: %v", err)
	}
	defer harness.Cleanup()

	if err := harness.Start(); err != nil {
		t.Fatalf("start harness: %v", err)
	}

	assert := framework.NewAssertions(t)

	worker1, err := framework.DialWorker(harness.Addr(), "worker-1")
	if err != nil {
		t.Fatalf("dial worker-1: %v", err)
	}

	dispatch1, err := worker1.ReadDispatch(10 * time.Second)
	if err != nil {
		t.Fatalf("worker-1 never received a dispatch: %v", err)
	}
	assert.Equal(jobID, dispatch1.JobID, "worker-1's dispatch should carry the seeded job")
	assert.Equal(fileVersionID, dispatch1.FileVersionID, "dispatch should reference the seeded file version")

	// Simulate worker-1 crashing mid-job: close the connection without a
	// CONCLUDE. The sentinel's readPump sees EOF and releases the job's
	// lease back to QUEUED (pkg/sentinel/dispatch.go's handleDisconnect).
	if err := worker1.Close(); err != nil {
		t.Fatalf("close worker-1: %v", err)
	}

	worker2, err := framework.DialWorker(harness.Addr(), "worker-2")
	if err != nil {
		t.Fatalf("dial worker-2: %v", err)
	}
	defer worker2.Close()

	// Registering worker-2 triggers an immediate dispatch attempt; if the
	// disconnect hasn't been processed yet, the heartbeat ticker retries
	// within one interval, so a generous timeout covers both cases.
	dispatch2, err := worker2.ReadDispatch(20 * time.Second)
	if err != nil {
		t.Fatalf("job was never reclaimed and redispatched to worker-2: %v", err)
	}
	assert.Equal(jobID, dispatch2.JobID, "the same job must be redispatched, not a duplicate")

	if err := worker2.Conclude(wire.ConcludeMsg{
		JobID:        dispatch2.JobID,
		Status:       "completed",
		RowsAccepted: 1,
	}); err != nil {
		t.Fatalf("worker-2 conclude: %v", err)
	}

	// Give the sentinel a moment to persist the conclude before the
	// catalog file is reopened outside the harness.
	time.Sleep(500 * time.Millisecond)

	if err := harness.Stop(); err != nil {
		t.Fatalf("stop harness: %v", err)
	}

	store, err := catalog.NewBoltStore(harness.DatabaseDir())
	if err != nil {
		t.Fatalf("reopen catalog after harness stop: %v", err)
	}
	defer store.Close()

	assert.JobCompleted(store, jobID)
}

// seedLeaseReapFixture opens its own BoltStore on dbDir, writes a source
// root, an active plugin manifest, a file version, and one QUEUED job
// referencing it, then closes the store so the sentinel subprocess can
// take exclusive ownership of the file. Returns the seeded job and file
// version ids.
func seedLeaseReapFixture(t *testing.T, dbDir string) (jobID, fileVersionID string) {
	t.Helper()

	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		t.Fatalf("seed: create catalog dir: %v", err)
	}
	store, err := catalog.NewBoltStore(dbDir)
	if err != nil {
		t.Fatalf("seed: open catalog: %v", err)
	}
	defer store.Close()

	root := &types.SourceRoot{Path: "/data/lease-reap-fixture", Active: true}
	if err := store.CreateSourceRoot(root); err != nil {
		t.Fatalf("seed: create source root: %v", err)
	}

	if err := store.PutPluginManifest(&types.PluginManifest{
		SourceHash: "lease-reap-plugin-h1",
		Name:       "csv_parser",
		Version:    "1.0.0",
		SourceCode: "def run(row): return row",
		Status:     types.PluginActive,
	}); err != nil {
		t.Fatalf("seed: put plugin manifest: %v", err)
	}

	loc := &types.FileLocation{SourceRootID: root.ID, RelPath: "inbox/orders.csv"}
	version, _, err := store.UpsertFileVersion(loc, "lease-reap-hash", 128, time.Now(), []string{"csv"}, "")
	if err != nil {
		t.Fatalf("seed: upsert file version: %v", err)
	}

	job := &types.ProcessingJob{
		FileVersionID: version.ID,
		PluginName:    "csv_parser",
		Status:        types.JobQueued,
		Priority:      1,
	}
	if err := store.CreateJob(job); err != nil {
		t.Fatalf("seed: create job: %v", err)
	}

	return job.ID, version.ID
}
