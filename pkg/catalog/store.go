// Package catalog is the single-writer embedded store backing every
// Casparian Flow entity: source roots, file locations, content hashes,
// file versions, routing rules, plugin manifests, processing jobs, and
// topic configs. There is exactly one writer process per catalog file;
// concurrent writers are not supported pre-v1, and schema changes destroy
// and recreate the store rather than migrate it.
package catalog

import (
	"time"

	"github.com/casparian/flow/pkg/types"
)

// Store is the catalog's storage contract. It is implemented by BoltStore;
// the interface exists so callers (scout, sentinel, worker runtime) can be
// tested against an in-memory fake without touching disk.
type Store interface {
	// Source roots
	CreateSourceRoot(root *types.SourceRoot) error
	GetSourceRoot(id string) (*types.SourceRoot, error)
	ListSourceRoots() ([]*types.SourceRoot, error)
	DeleteSourceRoot(id string) error

	// File locations
	GetLocation(sourceRootID, relPath string) (*types.FileLocation, error)
	GetLocationByID(id string) (*types.FileLocation, error)
	PutLocation(loc *types.FileLocation) error
	ListLocations(sourceRootID string) ([]*types.FileLocation, error)
	ListActiveLocations(sourceRootID string) ([]*types.FileLocation, error)

	// Content hash registry
	GetContentHash(hash string) (*types.ContentHashEntry, error)
	PutContentHash(entry *types.ContentHashEntry) error

	// File versions
	PutFileVersion(v *types.FileVersion) error
	GetFileVersion(id string) (*types.FileVersion, error)
	ListVersionsByLocation(locationID string) ([]*types.FileVersion, error)
	ListCurrentVersions(sourceRootID string) ([]*types.FileVersion, error)

	// UpsertFileVersion is the scout's central write path (spec §4.3): given
	// an observed (location, hash, size, mtime), it records a new version
	// only if content actually changed, and reports what changed.
	// renamedFromLocationID, when non-empty, marks this as a rename the
	// scout has already detected (matching content hash at a newly
	// appeared location against a location gone missing in the same scan);
	// the returned delta is then DeltaRenamedFrom instead of DeltaAdded.
	UpsertFileVersion(loc *types.FileLocation, hash string, size int64, mtime time.Time, tags []string, renamedFromLocationID string) (*types.FileVersion, types.Delta, error)

	// BulkUpsertFileVersions runs every item through the same upsert logic
	// as UpsertFileVersion, but inside a single transaction (spec §4.1's
	// bulk_upsert contract and §4.3 step 6, "each batch is a single
	// transaction"): either every item in the batch commits, or, on the
	// first per-item error, none of them do and that error is returned.
	BulkUpsertFileVersions(items []FileVersionUpsert) ([]FileVersionUpsertResult, error)

	// Routing rules
	CreateRoutingRule(rule *types.RoutingRule) error
	GetRoutingRule(id string) (*types.RoutingRule, error)
	ListRoutingRules() ([]*types.RoutingRule, error)
	UpdateRoutingRule(rule *types.RoutingRule) error
	DeleteRoutingRule(id string) error

	// Plugin manifests
	PutPluginManifest(m *types.PluginManifest) error
	GetPluginManifest(sourceHash string) (*types.PluginManifest, error)
	GetActivePluginByName(name string) (*types.PluginManifest, error)
	ListPluginManifests() ([]*types.PluginManifest, error)

	// Processing jobs
	CreateJob(job *types.ProcessingJob) error
	GetJob(id string) (*types.ProcessingJob, error)
	GetJobByKey(fileVersionID, pluginName string) (*types.ProcessingJob, error)
	ListJobs() ([]*types.ProcessingJob, error)
	ListJobsByStatus(status types.JobStatus) ([]*types.ProcessingJob, error)
	UpdateJob(job *types.ProcessingJob) error

	// ClaimJobs atomically claims up to n QUEUED jobs with no live lease,
	// moves them to RUNNING, stamps WorkerHost/ClaimTime/LeaseExpiresAt, and
	// returns the claimed set. Exclusivity of claim_jobs across workers is
	// the single-writer invariant of spec §4.1.
	ClaimJobs(workerHost string, n int, leaseSeconds int) ([]*types.ProcessingJob, error)

	// ReleaseLease returns a job to QUEUED, clearing its lease, for a
	// worker that is shutting down cleanly mid-job.
	ReleaseLease(jobID string) error

	// ReapExpiredLeases finds RUNNING jobs whose lease has expired without a
	// Conclude, returns them to QUEUED (incrementing RetryCount), and
	// reports how many were reclaimed.
	ReapExpiredLeases(now time.Time) (int, error)

	// Topic configs
	PutTopicConfig(cfg *types.TopicConfig) error
	GetTopicConfig(pluginName, topicName string) (*types.TopicConfig, error)
	ListTopicConfigs() ([]*types.TopicConfig, error)

	// SchemaVersion returns the schema version marker stored in the
	// catalog, or 0 if the catalog was never stamped.
	SchemaVersion() (int, error)
	SetSchemaVersion(v int) error

	Close() error
}

// FileVersionUpsert is one pending observation for BulkUpsertFileVersions:
// the location it was observed at, its content hash and stat info, and
// the tags the rule engine resolved for it.
type FileVersionUpsert struct {
	Location              *types.FileLocation
	Hash                  string
	Size                  int64
	Mtime                 time.Time
	Tags                  []string
	RenamedFromLocationID string
}

// FileVersionUpsertResult is BulkUpsertFileVersions' per-item outcome, in
// the same order as the input batch.
type FileVersionUpsertResult struct {
	Version *types.FileVersion
	Delta   types.Delta
}
