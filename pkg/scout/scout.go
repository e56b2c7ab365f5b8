// Package scout is the Casparian Flow scanner (C3): it walks a source
// root, content-hashes every file with a bounded worker pool, detects
// renames by content-hash match against files that vanished in the same
// scan, and upserts the result into the catalog in batches.
package scout

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/casparian/flow/pkg/catalog"
	"github.com/casparian/flow/pkg/log"
	"github.com/casparian/flow/pkg/metrics"
	"github.com/casparian/flow/pkg/ruleengine"
	"github.com/casparian/flow/pkg/types"
)

// hashBufSize is the read buffer size for streaming BLAKE3 over a file,
// chosen to amortize syscall overhead without holding large buffers per
// concurrent hash worker.
const hashBufSize = 64 * 1024

// defaultBatchSize is the target number of upserts flushed to the
// catalog per transaction, per spec §4.3.
const defaultBatchSize = 1000

// Config tunes one scan cycle.
type Config struct {
	SourceRootID      string
	RootPath          string
	WalkerConcurrency int64
	HashConcurrency   int64
	BatchSize         int
	GraceWindow       time.Duration // how long a missing location stays "missing" before GC
}

// DefaultConfig returns sane defaults. Every file the walk visits is
// content-hashed; there is no mtime/size pre-check that skips hashing
// unchanged files.
func DefaultConfig(sourceRootID, rootPath string) Config {
	return Config{
		SourceRootID:      sourceRootID,
		RootPath:          rootPath,
		WalkerConcurrency: 8,
		HashConcurrency:   4,
		BatchSize:         defaultBatchSize,
		GraceWindow:       24 * time.Hour,
	}
}

// observation is one file seen during the walk, after hashing.
type observation struct {
	relPath string
	size    int64
	mtime   time.Time
	hash    string
}

// Scanner runs scan cycles against one source root. It logs through
// log.WithSourceID directly rather than threading a logger interface
// through every call, matching the teacher's global-logger idiom.
type Scanner struct {
	cfg   Config
	store catalog.Store
	rules *ruleengine.Engine
}

// New builds a Scanner for cfg, backed by store and matching relative
// paths against rules.
func New(cfg Config, store catalog.Store, rules *ruleengine.Engine) *Scanner {
	return &Scanner{cfg: cfg, store: store, rules: rules}
}

// Result summarizes one completed scan cycle.
type Result struct {
	Added     int
	Modified  int
	Unchanged int
	Renamed   int
	Missing   int
	Errors    []error
}

// Scan performs one full walk-hash-upsert-sweep cycle.
func (sc *Scanner) Scan(ctx context.Context) (Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ScanDuration)

	logger := log.WithSourceID(sc.cfg.SourceRootID)
	logger.Info().Str("root", sc.cfg.RootPath).Msg("scan starting")

	seenRelPaths := make(map[string]struct{})
	var seenMu sync.Mutex

	observations, walkErrs := sc.walkAndHash(ctx, func(relPath string) {
		seenMu.Lock()
		seenRelPaths[relPath] = struct{}{}
		seenMu.Unlock()
	})

	result := Result{Errors: walkErrs}

	existing, err := sc.store.ListActiveLocations(sc.cfg.SourceRootID)
	if err != nil {
		return result, err
	}
	existingByPath := make(map[string]*types.FileLocation, len(existing))
	for _, loc := range existing {
		existingByPath[loc.RelPath] = loc
	}

	// Track content hashes of locations that disappeared this scan, for
	// rename detection: a new path with a previously-missing path's hash
	// is a rename, not an independent add.
	missingByHash := make(map[string]*types.FileLocation)
	for relPath, loc := range existingByPath {
		if _, ok := seenRelPaths[relPath]; !ok {
			missingByHash[currentHash(sc.store, loc)] = loc
		}
	}

	batch := make([]observation, 0, sc.cfg.BatchSize)
	flush := func() error {
		if err := sc.flushBatch(batch, existingByPath, missingByHash, &result); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for obs := range observations {
		batch = append(batch, obs)
		if len(batch) >= sc.cfg.BatchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}
	result.Errors = append(walkErrs(), result.Errors...)

	missingCount, err := sc.sweepMissing(existingByPath, seenRelPaths)
	if err != nil {
		return result, err
	}
	result.Missing = missingCount

	metrics.FilesScannedTotal.WithLabelValues("added").Add(float64(result.Added))
	metrics.FilesScannedTotal.WithLabelValues("modified").Add(float64(result.Modified))
	metrics.FilesScannedTotal.WithLabelValues("unchanged").Add(float64(result.Unchanged))
	metrics.FilesScannedTotal.WithLabelValues("renamed").Add(float64(result.Renamed))

	logger.Info().
		Int("added", result.Added).
		Int("modified", result.Modified).
		Int("unchanged", result.Unchanged).
		Int("renamed", result.Renamed).
		Int("missing", result.Missing).
		Msg("scan complete")

	return result, nil
}

func currentHash(store catalog.Store, loc *types.FileLocation) string {
	if loc.CurrentVersion == "" {
		return ""
	}
	v, err := store.GetFileVersion(loc.CurrentVersion)
	if err != nil {
		return ""
	}
	return v.ContentHash
}

// flushBatch resolves tags and rename candidates for every observation in
// batch, then upserts the whole set in one catalog transaction (spec
// §4.1's bulk_upsert contract, §4.3 step 6: "each batch is a single
// transaction"). If the transaction fails, the whole batch is rolled
// back and recorded as one scan error rather than silently applying part
// of it; the scan continues with the next batch.
func (sc *Scanner) flushBatch(batch []observation, existingByPath map[string]*types.FileLocation, missingByHash map[string]*types.FileLocation, result *Result) error {
	if len(batch) == 0 {
		return nil
	}

	items := make([]catalog.FileVersionUpsert, 0, len(batch))
	for _, obs := range batch {
		loc, exists := existingByPath[obs.relPath]
		if !exists {
			loc = &types.FileLocation{SourceRootID: sc.cfg.SourceRootID, RelPath: obs.relPath}
		}

		tags, err := sc.rules.Match(obs.relPath)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}

		renamedFrom := ""
		if !exists {
			if prior, ok := missingByHash[obs.hash]; ok {
				renamedFrom = prior.ID
				delete(missingByHash, obs.hash)
			}
		}

		items = append(items, catalog.FileVersionUpsert{
			Location:              loc,
			Hash:                  obs.hash,
			Size:                  obs.size,
			Mtime:                 obs.mtime,
			Tags:                  tags,
			RenamedFromLocationID: renamedFrom,
		})
	}

	results, err := sc.store.BulkUpsertFileVersions(items)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return nil
	}

	for _, r := range results {
		switch r.Delta {
		case types.DeltaAdded:
			result.Added++
		case types.DeltaModified:
			result.Modified++
		case types.DeltaUnchanged:
			result.Unchanged++
		case types.DeltaRenamedFrom:
			result.Renamed++
		}

		if r.Delta != types.DeltaUnchanged {
			if err := sc.enqueue(r.Version); err != nil {
				return err
			}
		}
	}
	return nil
}

// enqueue is the "separate enqueue step" of spec §4.1: it materializes one
// ProcessingJob per tag on a changed version, keyed (file_version_id,
// plugin_name). A tag names the plugin bound to process files carrying
// it, so a tag with no active plugin of the same name is simply not
// processed yet; enqueue for an already-queued (version, plugin) pair is
// a no-op, making it safe to call on every changed observation, including
// ones a rule reload later re-tags.
func (sc *Scanner) enqueue(version *types.FileVersion) error {
	for _, tag := range version.AppliedTags {
		manifest, err := sc.store.GetActivePluginByName(tag)
		if err != nil {
			continue
		}
		if _, err := sc.store.GetJobByKey(version.ID, manifest.Name); err == nil {
			continue
		}
		job := &types.ProcessingJob{
			FileVersionID: version.ID,
			PluginName:    manifest.Name,
			Status:        types.JobQueued,
		}
		if err := sc.store.CreateJob(job); err != nil {
			return err
		}
		metrics.JobsQueuedTotal.Inc()
	}
	return nil
}

// sweepMissing marks every previously-active location not observed this
// scan as missing, per spec §6's cleanup/delete resolution: cleanup runs
// after the catalog commit, and a missing location is never immediately
// deleted, only flagged, so a later GC pass (or a future scan that sees
// it again) can act on it.
func (sc *Scanner) sweepMissing(existingByPath map[string]*types.FileLocation, seenRelPaths map[string]struct{}) (int, error) {
	count := 0
	now := time.Now()
	for relPath, loc := range existingByPath {
		if _, ok := seenRelPaths[relPath]; ok {
			continue
		}
		if loc.Status == types.LocationMissing {
			continue
		}
		loc.Status = types.LocationMissing
		loc.MissingSince = now
		if err := sc.store.PutLocation(loc); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// GC marks locations consumed once they have been missing longer than
// the configured grace window, disabling rename-binding against them in
// future scans (spec §6).
func (sc *Scanner) GC(ctx context.Context) (int, error) {
	locs, err := sc.store.ListLocations(sc.cfg.SourceRootID)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	consumed := 0
	for _, loc := range locs {
		if loc.Status != types.LocationMissing {
			continue
		}
		if now.Sub(loc.MissingSince) < sc.cfg.GraceWindow {
			continue
		}
		loc.Status = types.LocationConsumed
		if err := sc.store.PutLocation(loc); err != nil {
			return consumed, err
		}
		consumed++
	}
	return consumed, nil
}

// walkAndHash walks RootPath with a bounded goroutine pool and streams
// hashed observations back on the returned channel. Per-file errors are
// collected and returned rather than aborting the whole walk, matching
// the teacher's errgroup usage of isolating a single subtree's failure.
func (sc *Scanner) walkAndHash(ctx context.Context, onSeen func(relPath string)) (<-chan observation, []error) {
	out := make(chan observation, sc.cfg.BatchSize)
	var errsMu sync.Mutex
	var errs []error

	sem := semaphore.NewWeighted(sc.cfg.HashConcurrency)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return filepath.WalkDir(sc.cfg.RootPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				errsMu.Lock()
				errs = append(errs, err)
				errsMu.Unlock()
				return nil
			}
			if d.IsDir() {
				return nil
			}
			relPath, relErr := filepath.Rel(sc.cfg.RootPath, path)
			if relErr != nil {
				errsMu.Lock()
				errs = append(errs, relErr)
				errsMu.Unlock()
				return nil
			}
			onSeen(relPath)

			info, statErr := d.Info()
			if statErr != nil {
				errsMu.Lock()
				errs = append(errs, statErr)
				errsMu.Unlock()
				return nil
			}

			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			g.Go(func() error {
				defer sem.Release(1)
				hash, hashErr := hashFile(path)
				if hashErr != nil {
					errsMu.Lock()
					errs = append(errs, hashErr)
					errsMu.Unlock()
					return nil
				}
				select {
				case out <- observation{relPath: relPath, size: info.Size(), mtime: info.ModTime(), hash: hash}:
				case <-gctx.Done():
					return gctx.Err()
				}
				return nil
			})
			return nil
		})
	})

	go func() {
		_ = g.Wait()
		close(out)
	}()

	return out, func() []error {
		errsMu.Lock()
		defer errsMu.Unlock()
		return errs
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, hashBufSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hashToHex(h.Sum(nil)), nil
}

func hashToHex(sum []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
