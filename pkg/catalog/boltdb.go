package catalog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/casparian/flow/pkg/types"
)

var (
	bucketSourceRoots    = []byte("source_roots")
	bucketLocations      = []byte("locations")
	bucketLocationIndex  = []byte("location_index") // sourceRootID\x1frelPath -> location id
	bucketContentHashes  = []byte("content_hashes")
	bucketFileVersions   = []byte("file_versions")
	bucketRoutingRules   = []byte("routing_rules")
	bucketPluginManifest = []byte("plugin_manifests")
	bucketJobs           = []byte("jobs")
	bucketJobIndex       = []byte("job_index") // fileVersionID\x1fpluginName -> job id
	bucketTopicConfigs   = []byte("topic_configs")
	bucketMeta           = []byte("meta")

	metaSchemaVersionKey = []byte("schema_version")
)

const indexSep = "\x1f"

// BoltStore implements Store on top of a single bbolt file. All writes go
// through db.Update and are therefore serialized; Casparian Flow has
// exactly one catalog writer per process, matching spec §4.1.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the catalog database at
// <dataDir>/casparian.db and ensures every bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "casparian.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSourceRoots,
			bucketLocations,
			bucketLocationIndex,
			bucketContentHashes,
			bucketFileVersions,
			bucketRoutingRules,
			bucketPluginManifest,
			bucketJobs,
			bucketJobIndex,
			bucketTopicConfigs,
			bucketMeta,
		}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// --- source roots ---

func (s *BoltStore) CreateSourceRoot(root *types.SourceRoot) error {
	if root.ID == "" {
		root.ID = uuid.NewString()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(root)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSourceRoots).Put([]byte(root.ID), data)
	})
}

func (s *BoltStore) GetSourceRoot(id string) (*types.SourceRoot, error) {
	var root types.SourceRoot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSourceRoots).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("source root not found: %s", id)
		}
		return json.Unmarshal(data, &root)
	})
	return &root, err
}

func (s *BoltStore) ListSourceRoots() ([]*types.SourceRoot, error) {
	var roots []*types.SourceRoot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSourceRoots).ForEach(func(k, v []byte) error {
			var root types.SourceRoot
			if err := json.Unmarshal(v, &root); err != nil {
				return err
			}
			roots = append(roots, &root)
			return nil
		})
	})
	return roots, err
}

func (s *BoltStore) DeleteSourceRoot(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSourceRoots).Delete([]byte(id))
	})
}

// --- locations ---

func locationIndexKey(sourceRootID, relPath string) []byte {
	return []byte(sourceRootID + indexSep + relPath)
}

func (s *BoltStore) GetLocation(sourceRootID, relPath string) (*types.FileLocation, error) {
	var loc types.FileLocation
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketLocationIndex).Get(locationIndexKey(sourceRootID, relPath))
		if id == nil {
			return fmt.Errorf("location not found: %s/%s", sourceRootID, relPath)
		}
		data := tx.Bucket(bucketLocations).Get(id)
		if data == nil {
			return fmt.Errorf("dangling location index entry: %s/%s", sourceRootID, relPath)
		}
		return json.Unmarshal(data, &loc)
	})
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (s *BoltStore) GetLocationByID(id string) (*types.FileLocation, error) {
	var loc types.FileLocation
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLocations).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("location not found: %s", id)
		}
		return json.Unmarshal(data, &loc)
	})
	return &loc, err
}

func (s *BoltStore) PutLocation(loc *types.FileLocation) error {
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(loc)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketLocations).Put([]byte(loc.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketLocationIndex).Put(locationIndexKey(loc.SourceRootID, loc.RelPath), []byte(loc.ID))
	})
}

func (s *BoltStore) ListLocations(sourceRootID string) ([]*types.FileLocation, error) {
	var locs []*types.FileLocation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocations).ForEach(func(k, v []byte) error {
			var loc types.FileLocation
			if err := json.Unmarshal(v, &loc); err != nil {
				return err
			}
			if sourceRootID == "" || loc.SourceRootID == sourceRootID {
				locs = append(locs, &loc)
			}
			return nil
		})
	})
	return locs, err
}

func (s *BoltStore) ListActiveLocations(sourceRootID string) ([]*types.FileLocation, error) {
	all, err := s.ListLocations(sourceRootID)
	if err != nil {
		return nil, err
	}
	var active []*types.FileLocation
	for _, loc := range all {
		if loc.Status == types.LocationActive {
			active = append(active, loc)
		}
	}
	return active, nil
}

// --- content hash registry ---

func (s *BoltStore) GetContentHash(hash string) (*types.ContentHashEntry, error) {
	var entry types.ContentHashEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketContentHashes).Get([]byte(hash))
		if data == nil {
			return fmt.Errorf("content hash not found: %s", hash)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *BoltStore) PutContentHash(entry *types.ContentHashEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContentHashes)
		if existing := b.Get([]byte(entry.Hash)); existing != nil {
			return nil // first-seen wins, dedup registry is append-only
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(entry.Hash), data)
	})
}

// --- file versions ---

func (s *BoltStore) PutFileVersion(v *types.FileVersion) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketFileVersions).Put([]byte(v.ID), data)
	})
}

func (s *BoltStore) GetFileVersion(id string) (*types.FileVersion, error) {
	var v types.FileVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFileVersions).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("file version not found: %s", id)
		}
		return json.Unmarshal(data, &v)
	})
	return &v, err
}

func (s *BoltStore) ListVersionsByLocation(locationID string) ([]*types.FileVersion, error) {
	var versions []*types.FileVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFileVersions).ForEach(func(k, v []byte) error {
			var ver types.FileVersion
			if err := json.Unmarshal(v, &ver); err != nil {
				return err
			}
			if ver.LocationID == locationID {
				versions = append(versions, &ver)
			}
			return nil
		})
	})
	return versions, err
}

func (s *BoltStore) ListCurrentVersions(sourceRootID string) ([]*types.FileVersion, error) {
	locs, err := s.ListActiveLocations(sourceRootID)
	if err != nil {
		return nil, err
	}
	var out []*types.FileVersion
	for _, loc := range locs {
		if loc.CurrentVersion == "" {
			continue
		}
		v, err := s.GetFileVersion(loc.CurrentVersion)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *BoltStore) UpsertFileVersion(loc *types.FileLocation, hash string, size int64, mtime time.Time, tags []string, renamedFromLocationID string) (*types.FileVersion, types.Delta, error) {
	var version *types.FileVersion
	var delta types.Delta

	err := s.db.Update(func(tx *bolt.Tx) error {
		v, d, err := s.upsertFileVersionTx(tx, loc, hash, size, mtime, tags, renamedFromLocationID)
		if err != nil {
			return err
		}
		version, delta = v, d
		return nil
	})
	if err != nil {
		return nil, types.DeltaUnchanged, err
	}
	return version, delta, nil
}

// BulkUpsertFileVersions runs every item's upsert inside one transaction,
// so a batch either commits in full or, on the first failing item,
// rolls back in full rather than leaving a partially-applied batch.
func (s *BoltStore) BulkUpsertFileVersions(items []FileVersionUpsert) ([]FileVersionUpsertResult, error) {
	if len(items) == 0 {
		return nil, nil
	}
	results := make([]FileVersionUpsertResult, len(items))
	err := s.db.Update(func(tx *bolt.Tx) error {
		for i, item := range items {
			v, d, err := s.upsertFileVersionTx(tx, item.Location, item.Hash, item.Size, item.Mtime, item.Tags, item.RenamedFromLocationID)
			if err != nil {
				return fmt.Errorf("bulk upsert item %d (%s): %w", i, item.Location.RelPath, err)
			}
			results[i] = FileVersionUpsertResult{Version: v, Delta: d}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// upsertFileVersionTx is the shared body of UpsertFileVersion and
// BulkUpsertFileVersions: the per-item write logic, scoped to a
// caller-owned transaction so a caller can run many items atomically.
func (s *BoltStore) upsertFileVersionTx(tx *bolt.Tx, loc *types.FileLocation, hash string, size int64, mtime time.Time, tags []string, renamedFromLocationID string) (*types.FileVersion, types.Delta, error) {
	var version *types.FileVersion
	var delta types.Delta

	err := func() error {
		locBucket := tx.Bucket(bucketLocations)
		verBucket := tx.Bucket(bucketFileVersions)
		hashBucket := tx.Bucket(bucketContentHashes)

		if loc.ID == "" {
			loc.ID = uuid.NewString()
		}

		var priorHash string
		if loc.CurrentVersion != "" {
			data := verBucket.Get([]byte(loc.CurrentVersion))
			if data != nil {
				var prior types.FileVersion
				if err := json.Unmarshal(data, &prior); err == nil {
					priorHash = prior.ContentHash
				}
			}
		}

		switch {
		case loc.CurrentVersion == "":
			if renamedFromLocationID != "" {
				delta = types.DeltaRenamedFrom
			} else {
				delta = types.DeltaAdded
			}
		case priorHash == hash:
			delta = types.DeltaUnchanged
		default:
			delta = types.DeltaModified
		}

		loc.LastMtime = mtime
		loc.LastSize = size
		loc.Status = types.LocationActive
		loc.MissingSince = time.Time{}

		if delta != types.DeltaUnchanged {
			v := &types.FileVersion{
				ID:          uuid.NewString(),
				LocationID:  loc.ID,
				ContentHash: hash,
				Size:        size,
				Mtime:       mtime,
				DetectedAt:  time.Now(),
				AppliedTags: tags,
			}
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if err := verBucket.Put([]byte(v.ID), data); err != nil {
				return err
			}
			loc.CurrentVersion = v.ID
			version = v

			if hashBucket.Get([]byte(hash)) == nil {
				entry := &types.ContentHashEntry{Hash: hash, Size: size, FirstSeen: time.Now()}
				entryData, err := json.Marshal(entry)
				if err != nil {
					return err
				}
				if err := hashBucket.Put([]byte(hash), entryData); err != nil {
					return err
				}
			}
		} else {
			v, err := s.getFileVersionTx(tx, loc.CurrentVersion)
			if err != nil {
				return err
			}
			version = v
		}

		locData, err := json.Marshal(loc)
		if err != nil {
			return err
		}
		if err := locBucket.Put([]byte(loc.ID), locData); err != nil {
			return err
		}
		return tx.Bucket(bucketLocationIndex).Put(locationIndexKey(loc.SourceRootID, loc.RelPath), []byte(loc.ID))
	}()
	if err != nil {
		return nil, types.DeltaUnchanged, err
	}
	return version, delta, nil
}

func (s *BoltStore) getFileVersionTx(tx *bolt.Tx, id string) (*types.FileVersion, error) {
	data := tx.Bucket(bucketFileVersions).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("file version not found: %s", id)
	}
	var v types.FileVersion
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// --- routing rules ---

func (s *BoltStore) CreateRoutingRule(rule *types.RoutingRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	return s.putRoutingRule(rule)
}

func (s *BoltStore) UpdateRoutingRule(rule *types.RoutingRule) error {
	return s.putRoutingRule(rule)
}

func (s *BoltStore) putRoutingRule(rule *types.RoutingRule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rule)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRoutingRules).Put([]byte(rule.ID), data)
	})
}

func (s *BoltStore) GetRoutingRule(id string) (*types.RoutingRule, error) {
	var rule types.RoutingRule
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRoutingRules).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("routing rule not found: %s", id)
		}
		return json.Unmarshal(data, &rule)
	})
	return &rule, err
}

func (s *BoltStore) ListRoutingRules() ([]*types.RoutingRule, error) {
	var rules []*types.RoutingRule
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoutingRules).ForEach(func(k, v []byte) error {
			var rule types.RoutingRule
			if err := json.Unmarshal(v, &rule); err != nil {
				return err
			}
			rules = append(rules, &rule)
			return nil
		})
	})
	return rules, err
}

func (s *BoltStore) DeleteRoutingRule(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoutingRules).Delete([]byte(id))
	})
}

// --- plugin manifests ---

func (s *BoltStore) PutPluginManifest(m *types.PluginManifest) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPluginManifest).Put([]byte(m.SourceHash), data)
	})
}

func (s *BoltStore) GetPluginManifest(sourceHash string) (*types.PluginManifest, error) {
	var m types.PluginManifest
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPluginManifest).Get([]byte(sourceHash))
		if data == nil {
			return fmt.Errorf("plugin manifest not found: %s", sourceHash)
		}
		return json.Unmarshal(data, &m)
	})
	return &m, err
}

func (s *BoltStore) GetActivePluginByName(name string) (*types.PluginManifest, error) {
	var found *types.PluginManifest
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPluginManifest).ForEach(func(k, v []byte) error {
			var m types.PluginManifest
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.Name == name && m.Status == types.PluginActive {
				mm := m
				found = &mm
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("no active plugin named %s", name)
	}
	return found, nil
}

func (s *BoltStore) ListPluginManifests() ([]*types.PluginManifest, error) {
	var manifests []*types.PluginManifest
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPluginManifest).ForEach(func(k, v []byte) error {
			var m types.PluginManifest
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			manifests = append(manifests, &m)
			return nil
		})
	})
	return manifests, err
}

// --- processing jobs ---

func jobIndexKey(fileVersionID, pluginName string) []byte {
	return []byte(fileVersionID + indexSep + pluginName)
}

func (s *BoltStore) CreateJob(job *types.ProcessingJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketJobs).Put([]byte(job.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketJobIndex).Put(jobIndexKey(job.FileVersionID, job.PluginName), []byte(job.ID))
	})
}

func (s *BoltStore) GetJob(id string) (*types.ProcessingJob, error) {
	var job types.ProcessingJob
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("job not found: %s", id)
		}
		return json.Unmarshal(data, &job)
	})
	return &job, err
}

func (s *BoltStore) GetJobByKey(fileVersionID, pluginName string) (*types.ProcessingJob, error) {
	var job types.ProcessingJob
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketJobIndex).Get(jobIndexKey(fileVersionID, pluginName))
		if id == nil {
			return fmt.Errorf("job not found for %s/%s", fileVersionID, pluginName)
		}
		data := tx.Bucket(bucketJobs).Get(id)
		if data == nil {
			return fmt.Errorf("dangling job index entry for %s/%s", fileVersionID, pluginName)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobs() ([]*types.ProcessingJob, error) {
	var jobs []*types.ProcessingJob
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job types.ProcessingJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) ListJobsByStatus(status types.JobStatus) ([]*types.ProcessingJob, error) {
	all, err := s.ListJobs()
	if err != nil {
		return nil, err
	}
	var out []*types.ProcessingJob
	for _, j := range all {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateJob(job *types.ProcessingJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketJobs).Put([]byte(job.ID), data)
	})
}

// ClaimJobs runs inside a single bbolt write transaction, which is the
// catalog's only exclusion mechanism: two workers calling ClaimJobs
// concurrently cannot both observe and claim the same job because bbolt
// serializes writers.
func (s *BoltStore) ClaimJobs(workerHost string, n int, leaseSeconds int) ([]*types.ProcessingJob, error) {
	if n <= 0 {
		return nil, nil
	}
	var claimed []*types.ProcessingJob
	now := time.Now()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		c := b.Cursor()

		type candidate struct {
			key []byte
			job types.ProcessingJob
		}
		var candidates []candidate

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job types.ProcessingJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.Claimable(now) {
				candidates = append(candidates, candidate{key: append([]byte(nil), k...), job: job})
			}
		}

		// claim_jobs selects the top-n QUEUED jobs by (priority DESC, id
		// ASC), matching ruleengine's tag-priority ordering.
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].job.Priority != candidates[j].job.Priority {
				return candidates[i].job.Priority > candidates[j].job.Priority
			}
			return candidates[i].job.ID < candidates[j].job.ID
		})
		if len(candidates) > n {
			candidates = candidates[:n]
		}

		for _, cand := range candidates {
			job := cand.job
			job.Status = types.JobRunning
			job.WorkerHost = workerHost
			job.ClaimTime = now
			job.LeaseExpiresAt = now.Add(time.Duration(leaseSeconds) * time.Second)

			data, err := json.Marshal(job)
			if err != nil {
				return err
			}
			if err := b.Put(cand.key, data); err != nil {
				return err
			}
			jobCopy := job
			claimed = append(claimed, &jobCopy)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *BoltStore) ReleaseLease(jobID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(jobID))
		if data == nil {
			return fmt.Errorf("job not found: %s", jobID)
		}
		var job types.ProcessingJob
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		job.Status = types.JobQueued
		job.WorkerHost = ""
		job.LeaseExpiresAt = time.Time{}
		out, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(jobID), out)
	})
}

func (s *BoltStore) ReapExpiredLeases(now time.Time) (int, error) {
	reaped := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job types.ProcessingJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.Status != types.JobRunning {
				continue
			}
			if job.LeaseExpiresAt.IsZero() || now.Before(job.LeaseExpiresAt) {
				continue
			}
			job.Status = types.JobQueued
			job.WorkerHost = ""
			job.LeaseExpiresAt = time.Time{}
			job.RetryCount++
			data, err := json.Marshal(job)
			if err != nil {
				return err
			}
			if err := b.Put(k, data); err != nil {
				return err
			}
			reaped++
		}
		return nil
	})
	return reaped, err
}

// --- topic configs ---

func topicConfigKey(pluginName, topicName string) []byte {
	return []byte(pluginName + indexSep + topicName)
}

func (s *BoltStore) PutTopicConfig(cfg *types.TopicConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTopicConfigs).Put(topicConfigKey(cfg.PluginName, cfg.TopicName), data)
	})
}

func (s *BoltStore) GetTopicConfig(pluginName, topicName string) (*types.TopicConfig, error) {
	var cfg types.TopicConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTopicConfigs).Get(topicConfigKey(pluginName, topicName))
		if data == nil {
			return fmt.Errorf("topic config not found: %s/%s", pluginName, topicName)
		}
		return json.Unmarshal(data, &cfg)
	})
	return &cfg, err
}

func (s *BoltStore) ListTopicConfigs() ([]*types.TopicConfig, error) {
	var cfgs []*types.TopicConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTopicConfigs).ForEach(func(k, v []byte) error {
			var cfg types.TopicConfig
			if err := json.Unmarshal(v, &cfg); err != nil {
				return err
			}
			cfgs = append(cfgs, &cfg)
			return nil
		})
	})
	return cfgs, err
}

// --- schema version ---

func (s *BoltStore) SchemaVersion() (int, error) {
	var version int
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(metaSchemaVersionKey)
		if data == nil {
			version = 0
			return nil
		}
		version = int(binary.BigEndian.Uint32(data))
		return nil
	})
	return version, err
}

func (s *BoltStore) SetSchemaVersion(v int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(v))
		return tx.Bucket(bucketMeta).Put(metaSchemaVersionKey, buf)
	})
}

// CurrentSchemaVersion is stamped into a freshly rebuilt catalog. Bump it
// whenever a bucket layout or row shape changes incompatibly; pre-v1 there
// is no migration path, only Rebuild.
const CurrentSchemaVersion = 1

// Rebuild drops every bucket and recreates them empty, then stamps
// CurrentSchemaVersion. Spec §6's pre-v1 rule is that schema changes
// destroy the store rather than migrate it; this is the operator-invoked
// tool that performs that destruction deliberately, in the shape of the
// teacher's dedicated migrate binary, rather than as a side effect of
// opening a stale file.
func (s *BoltStore) Rebuild() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSourceRoots,
			bucketLocations,
			bucketLocationIndex,
			bucketContentHashes,
			bucketFileVersions,
			bucketRoutingRules,
			bucketPluginManifest,
			bucketJobs,
			bucketJobIndex,
			bucketTopicConfigs,
			bucketMeta,
		}
		for _, b := range buckets {
			if err := tx.DeleteBucket(b); err != nil && err != bolt.ErrBucketNotFound {
				return fmt.Errorf("drop bucket %s: %w", b, err)
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return fmt.Errorf("recreate bucket %s: %w", b, err)
			}
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(CurrentSchemaVersion))
		return tx.Bucket(bucketMeta).Put(metaSchemaVersionKey, buf)
	})
}
