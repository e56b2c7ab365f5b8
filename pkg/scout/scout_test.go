package scout

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casparian/flow/pkg/catalog"
	"github.com/casparian/flow/pkg/ruleengine"
	"github.com/casparian/flow/pkg/types"
)

func newTestScanner(t *testing.T, rootPath string) (*Scanner, catalog.Store) {
	t.Helper()
	store, err := catalog.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rules, err := ruleengine.New([]*types.RoutingRule{
		{ID: "r1", Pattern: "**/*.csv", Tag: "csv", Priority: 1, Enabled: true},
	})
	require.NoError(t, err)

	cfg := DefaultConfig("root-1", rootPath)
	return New(cfg, store, rules), store
}

func TestScan_AddsNewFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("one,two\n1,2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("three,four\n3,4\n"), 0o644))

	sc, store := newTestScanner(t, dir)
	result, err := sc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 0, result.Modified)

	locs, err := store.ListActiveLocations("root-1")
	require.NoError(t, err)
	assert.Len(t, locs, 2)

	for _, loc := range locs {
		v, err := store.GetFileVersion(loc.CurrentVersion)
		require.NoError(t, err)
		assert.Equal(t, []string{"csv"}, v.AppliedTags)
	}
}

func TestScan_SecondScanIsUnchanged(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("stable content"), 0o644))

	sc, _ := newTestScanner(t, dir)
	_, err := sc.Scan(context.Background())
	require.NoError(t, err)

	result, err := sc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 1, result.Unchanged)
}

func TestScan_ModifiedFileGetsNewVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.csv")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	sc, store := newTestScanner(t, dir)
	_, err := sc.Scan(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("v2, longer content"), 0o644))
	result, err := sc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Modified)

	loc, err := store.GetLocation("root-1", "a.csv")
	require.NoError(t, err)
	v, err := store.GetFileVersion(loc.CurrentVersion)
	require.NoError(t, err)
	assert.Equal(t, int64(len("v2, longer content")), v.Size)
}

func TestScan_DeletedFileMarkedMissingThenGCConsumed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.csv")
	require.NoError(t, os.WriteFile(path, []byte("will vanish"), 0o644))

	sc, store := newTestScanner(t, dir)
	_, err := sc.Scan(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	result, err := sc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Missing)

	loc, err := store.GetLocation("root-1", "a.csv")
	require.NoError(t, err)
	assert.Equal(t, types.LocationMissing, loc.Status)

	loc.MissingSince = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.PutLocation(loc))

	consumed, err := sc.GC(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, consumed)

	loc, err = store.GetLocationByID(loc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LocationConsumed, loc.Status)
}

func TestScan_EnqueuesJobForActivePluginBoundToTag(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("one,two\n1,2\n"), 0o644))

	sc, store := newTestScanner(t, dir)
	require.NoError(t, store.PutPluginManifest(&types.PluginManifest{
		SourceHash: "hash-1", Name: "csv", Version: "v1", Status: types.PluginActive,
	}))

	result, err := sc.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)

	loc, err := store.GetLocation("root-1", "a.csv")
	require.NoError(t, err)

	job, err := store.GetJobByKey(loc.CurrentVersion, "csv")
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, job.Status)

	// A second scan with no content change must not duplicate the job.
	result, err = sc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Unchanged)
	jobs, err := store.ListJobs()
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestScan_NoEnqueueWithoutActivePlugin(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("one,two\n1,2\n"), 0o644))

	sc, store := newTestScanner(t, dir)
	result, err := sc.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)

	jobs, err := store.ListJobs()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestScan_RenameDetectedByContentHash(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.csv")
	require.NoError(t, os.WriteFile(oldPath, []byte("identical bytes"), 0o644))

	sc, store := newTestScanner(t, dir)
	_, err := sc.Scan(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Rename(oldPath, filepath.Join(dir, "new.csv")))
	result, err := sc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Renamed)

	newLoc, err := store.GetLocation("root-1", "new.csv")
	require.NoError(t, err)
	assert.Equal(t, types.LocationActive, newLoc.Status)
}
