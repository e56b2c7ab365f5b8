package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casparian/flow/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertFileVersion_AddedThenUnchangedThenModified(t *testing.T) {
	store := newTestStore(t)

	loc := &types.FileLocation{SourceRootID: "root-1", RelPath: "a/b.csv"}
	now := time.Now()

	v1, delta, err := store.UpsertFileVersion(loc, "hash-a", 100, now, []string{"csv"}, "")
	require.NoError(t, err)
	assert.Equal(t, types.DeltaAdded, delta)
	assert.NotEmpty(t, v1.ID)

	v2, delta, err := store.UpsertFileVersion(loc, "hash-a", 100, now.Add(time.Minute), nil, "")
	require.NoError(t, err)
	assert.Equal(t, types.DeltaUnchanged, delta)
	assert.Equal(t, v1.ID, v2.ID)

	v3, delta, err := store.UpsertFileVersion(loc, "hash-b", 200, now.Add(2*time.Minute), nil, "")
	require.NoError(t, err)
	assert.Equal(t, types.DeltaModified, delta)
	assert.NotEqual(t, v1.ID, v3.ID)

	refreshed, err := store.GetLocation("root-1", "a/b.csv")
	require.NoError(t, err)
	assert.Equal(t, v3.ID, refreshed.CurrentVersion)
}

func TestUpsertFileVersion_RenamedFrom(t *testing.T) {
	store := newTestStore(t)

	loc := &types.FileLocation{SourceRootID: "root-1", RelPath: "new/path.csv"}
	_, delta, err := store.UpsertFileVersion(loc, "hash-x", 10, time.Now(), nil, "old-location-id")
	require.NoError(t, err)
	assert.Equal(t, types.DeltaRenamedFrom, delta)
}

func TestBulkUpsertFileVersions_AppliesEveryItemInOneTransaction(t *testing.T) {
	store := newTestStore(t)

	locA := &types.FileLocation{SourceRootID: "root-1", RelPath: "a.csv"}
	locB := &types.FileLocation{SourceRootID: "root-1", RelPath: "b.csv"}

	results, err := store.BulkUpsertFileVersions([]FileVersionUpsert{
		{Location: locA, Hash: "hash-a", Size: 10, Mtime: time.Now(), Tags: []string{"csv"}},
		{Location: locB, Hash: "hash-b", Size: 20, Mtime: time.Now(), Tags: []string{"csv"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, types.DeltaAdded, results[0].Delta)
	assert.Equal(t, types.DeltaAdded, results[1].Delta)

	refreshed, err := store.GetLocation("root-1", "a.csv")
	require.NoError(t, err)
	assert.Equal(t, results[0].Version.ID, refreshed.CurrentVersion)
}

// TestBulkUpsertFileVersions_RollsBackOnPartialFailure guards the "each
// batch is a single transaction" requirement: a later item's failure
// (here, a relative path long enough to exceed bbolt's key size limit)
// must undo every earlier item's write in the same call, not just abort
// before committing the bad one.
func TestBulkUpsertFileVersions_RollsBackOnPartialFailure(t *testing.T) {
	store := newTestStore(t)

	good := &types.FileLocation{SourceRootID: "root-1", RelPath: "a.csv"}
	bad := &types.FileLocation{SourceRootID: "root-1", RelPath: strings.Repeat("x", 40000)}

	_, err := store.BulkUpsertFileVersions([]FileVersionUpsert{
		{Location: good, Hash: "hash-a", Size: 10, Mtime: time.Now(), Tags: []string{"csv"}},
		{Location: bad, Hash: "hash-b", Size: 10, Mtime: time.Now()},
	})
	require.Error(t, err)

	_, getErr := store.GetLocation("root-1", "a.csv")
	assert.Error(t, getErr, "the first item's write must not survive a later item's failure")
}

func TestClaimJobs_ExclusivityAndLease(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		job := &types.ProcessingJob{
			FileVersionID: "fv-" + string(rune('a'+i)),
			PluginName:    "csv_parser",
			Status:        types.JobQueued,
		}
		require.NoError(t, store.CreateJob(job))
	}

	claimed, err := store.ClaimJobs("worker-1", 2, 30)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
	for _, j := range claimed {
		assert.Equal(t, types.JobRunning, j.Status)
		assert.Equal(t, "worker-1", j.WorkerHost)
		assert.False(t, j.LeaseExpiresAt.IsZero())
	}

	// A second claim sees only the one remaining QUEUED job; the two
	// already claimed are RUNNING and so no longer claimable.
	claimed2, err := store.ClaimJobs("worker-2", 5, 30)
	require.NoError(t, err)
	assert.Len(t, claimed2, 1)
}

func TestClaimJobs_OrdersByPriorityThenID(t *testing.T) {
	store := newTestStore(t)

	low := &types.ProcessingJob{ID: "job-low", FileVersionID: "fv-low", PluginName: "csv_parser", Status: types.JobQueued, Priority: 1}
	high := &types.ProcessingJob{ID: "job-high", FileVersionID: "fv-high", PluginName: "csv_parser", Status: types.JobQueued, Priority: 10}
	mid := &types.ProcessingJob{ID: "job-mid", FileVersionID: "fv-mid", PluginName: "csv_parser", Status: types.JobQueued, Priority: 5}
	require.NoError(t, store.CreateJob(low))
	require.NoError(t, store.CreateJob(high))
	require.NoError(t, store.CreateJob(mid))

	claimed, err := store.ClaimJobs("worker-1", 2, 30)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "job-high", claimed[0].ID)
	assert.Equal(t, "job-mid", claimed[1].ID)
}

func TestReapExpiredLeases(t *testing.T) {
	store := newTestStore(t)

	job := &types.ProcessingJob{FileVersionID: "fv-1", PluginName: "csv_parser", Status: types.JobQueued}
	require.NoError(t, store.CreateJob(job))

	claimed, err := store.ClaimJobs("worker-1", 1, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	reaped, err := store.ReapExpiredLeases(time.Now().Add(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	got, err := store.GetJob(claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestGetActivePluginByName(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutPluginManifest(&types.PluginManifest{
		SourceHash: "h1", Name: "csv_parser", Status: types.PluginDeprecated,
	}))
	require.NoError(t, store.PutPluginManifest(&types.PluginManifest{
		SourceHash: "h2", Name: "csv_parser", Status: types.PluginActive,
	}))

	active, err := store.GetActivePluginByName("csv_parser")
	require.NoError(t, err)
	assert.Equal(t, "h2", active.SourceHash)
}

func TestSchemaVersionRoundTrip(t *testing.T) {
	store := newTestStore(t)

	v, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	require.NoError(t, store.SetSchemaVersion(3))
	v, err = store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}
