// Package types defines the Casparian Flow data model: the catalog entities
// shared by the scanner, dispatcher, and worker, plus the enums that back
// every status column. Every enum here is a distinct Go type wrapping
// string, never a bare string comparison at a boundary.
package types

import "time"

// SourceRoot is a directory tree registered for scanning.
type SourceRoot struct {
	ID        string
	Path      string
	Active    bool
	CreatedAt time.Time
}

// LocationStatus is the authoritative enum for a FileLocation's lifecycle.
type LocationStatus string

const (
	LocationActive   LocationStatus = "active"
	LocationMissing  LocationStatus = "missing"
	LocationConsumed LocationStatus = "consumed"
)

// Valid reports whether s is one of the declared LocationStatus values.
func (s LocationStatus) Valid() bool {
	switch s {
	case LocationActive, LocationMissing, LocationConsumed:
		return true
	default:
		return false
	}
}

// FileLocation is a (source_root, relative_path) pair, the scanner's unit
// of cheap change detection.
type FileLocation struct {
	ID             string
	SourceRootID   string
	RelPath        string
	LastMtime      time.Time
	LastSize       int64
	CurrentVersion string // FileVersion.ID, empty if none yet
	Status         LocationStatus
	MissingSince   time.Time
}

// ContentHashEntry deduplicates bytes across locations.
type ContentHashEntry struct {
	Hash      string // blake3-256 hex
	Size      int64
	FirstSeen time.Time
}

// FileVersion is a concrete snapshot observed at a location. Versions are
// never mutated after creation; AppliedTags is frozen at creation time.
type FileVersion struct {
	ID          string
	LocationID  string
	ContentHash string
	Size        int64
	Mtime       time.Time
	DetectedAt  time.Time
	AppliedTags []string
}

// RoutingRule is one entry of the glob-rule engine.
type RoutingRule struct {
	ID          string
	Pattern     string
	Tag         string
	Priority    int
	Enabled     bool
	Description string
}

// PluginStatus is the authoritative enum for a PluginManifest's lifecycle.
type PluginStatus string

const (
	PluginPending    PluginStatus = "pending"
	PluginActive     PluginStatus = "active"
	PluginDeprecated PluginStatus = "deprecated"
	PluginDisabled   PluginStatus = "disabled"
)

func (s PluginStatus) Valid() bool {
	switch s {
	case PluginPending, PluginActive, PluginDeprecated, PluginDisabled:
		return true
	default:
		return false
	}
}

// validPluginTransitions enumerates the allowed PluginStatus edges. Status
// transitions form a DAG except for the Active<->Deprecated cycle.
var validPluginTransitions = map[PluginStatus][]PluginStatus{
	PluginPending:    {PluginActive, PluginDisabled},
	PluginActive:     {PluginDeprecated, PluginDisabled},
	PluginDeprecated: {PluginActive, PluginDisabled},
	PluginDisabled:   {},
}

// CanTransitionPlugin reports whether from->to is a legal PluginStatus edge.
func CanTransitionPlugin(from, to PluginStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range validPluginTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// PluginManifest is a content-addressed parser bundle.
type PluginManifest struct {
	SourceHash string // blake3(source + lockfile)
	Name       string
	Version    string
	SourceCode string
	Lockfile   string
	EnvHash    string
	Status     PluginStatus
	CreatedAt  time.Time
}

// JobStatus is the authoritative enum for ProcessingJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobQueued    JobStatus = "queued"
	JobStaged    JobStatus = "staged"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobQueued, JobStaged, JobRunning, JobCompleted, JobFailed, JobSkipped:
		return true
	default:
		return false
	}
}

// validJobTransitions is the total order of spec.md §5: PENDING -> QUEUED ->
// RUNNING -> {COMPLETED|FAILED} (-> QUEUED on retry).
var validJobTransitions = map[JobStatus][]JobStatus{
	JobPending:   {JobQueued, JobSkipped},
	JobQueued:    {JobStaged, JobRunning, JobSkipped},
	JobStaged:    {JobRunning, JobQueued},
	JobRunning:   {JobCompleted, JobFailed, JobQueued},
	JobCompleted: {},
	JobFailed:    {JobQueued},
	JobSkipped:   {},
}

// CanTransitionJob reports whether from->to is a legal JobStatus edge.
func CanTransitionJob(from, to JobStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range validJobTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ProcessingJob is a (file_version, plugin) pair scheduled for execution.
type ProcessingJob struct {
	ID             string
	FileVersionID  string
	PluginName     string
	Status         JobStatus
	Priority       int
	ClaimTime      time.Time
	EndTime        time.Time
	WorkerHost     string
	WorkerPID      int
	ResultSummary  string
	ErrorMessage   string
	RetryCount     int
	LeaseExpiresAt time.Time
}

// Claimable reports whether a job is eligible for claim_jobs: QUEUED with no
// live lease.
func (j *ProcessingJob) Claimable(now time.Time) bool {
	return j.Status == JobQueued && (j.LeaseExpiresAt.IsZero() || now.After(j.LeaseExpiresAt))
}

// SinkMode is the authoritative enum for TopicConfig.Mode.
type SinkMode string

const (
	SinkModeAppend    SinkMode = "append"
	SinkModeOverwrite SinkMode = "overwrite"
)

func (m SinkMode) Valid() bool {
	switch m {
	case SinkModeAppend, SinkModeOverwrite:
		return true
	default:
		return false
	}
}

// TopicConfig maps a (plugin, topic) pair to its sink and contract.
type TopicConfig struct {
	PluginName string
	TopicName  string
	SinkURI    string
	Mode       SinkMode
	Contract   SchemaContract
}

// ColumnType is the authoritative enum of logical column types a schema
// contract can declare.
type ColumnType string

const (
	ColumnString  ColumnType = "string"
	ColumnInt32   ColumnType = "int32"
	ColumnInt64   ColumnType = "int64"
	ColumnFloat64 ColumnType = "float64"
	ColumnBool    ColumnType = "bool"
	ColumnDecimal ColumnType = "decimal"
	ColumnTime    ColumnType = "timestamp"
)

func (t ColumnType) Valid() bool {
	switch t {
	case ColumnString, ColumnInt32, ColumnInt64, ColumnFloat64, ColumnBool, ColumnDecimal, ColumnTime:
		return true
	default:
		return false
	}
}

// ColumnContract is the post-approval description of one output column.
type ColumnContract struct {
	Name         string
	Type         ColumnType
	Nullable     bool
	DecimalScale int    // meaningful only for ColumnDecimal
	Timezone     string // meaningful only for ColumnTime; IANA name, default "UTC"
}

// SchemaContract is the post-approval, authoritative description of every
// output column's logical type, nullability, and normalization rules.
type SchemaContract struct {
	Columns []ColumnContract
}

// LineageColumns are the four columns stamped by the worker on every
// accepted row. The parser cannot forge them.
type LineageColumns struct {
	SourceHash    string
	JobID         string
	ProcessedAt   time.Time
	ParserVersion string
}

// QuarantinedRow is one row rejected by the validation gate.
type QuarantinedRow struct {
	JobID    string
	BatchSeq int
	RowIndex int
	Column   string
	RawValue string
	Reason   string
}

// Delta is the outcome of upsert_file_version.
type Delta int

const (
	DeltaUnchanged Delta = iota
	DeltaModified
	DeltaAdded
	DeltaRenamedFrom
)

func (d Delta) String() string {
	switch d {
	case DeltaUnchanged:
		return "unchanged"
	case DeltaModified:
		return "modified"
	case DeltaAdded:
		return "added"
	case DeltaRenamedFrom:
		return "renamed_from"
	default:
		return "unknown"
	}
}

// WorkerStatus is the authoritative enum for a roster entry.
type WorkerStatus string

const (
	WorkerIdle     WorkerStatus = "idle"
	WorkerBusy     WorkerStatus = "busy"
	WorkerDraining WorkerStatus = "draining"
	WorkerOffline  WorkerStatus = "offline"
)

func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerIdle, WorkerBusy, WorkerDraining, WorkerOffline:
		return true
	default:
		return false
	}
}

// RosterEntry is the dispatcher's in-memory view of one connected worker.
type RosterEntry struct {
	WorkerID      string
	Endpoint      string
	LastHeartbeat time.Time
	Status        WorkerStatus
	CurrentJobID  string
}

// Event is a cluster-visible occurrence surfaced to external collaborators
// (CLI, TUI, MCP) via the events broker.
type Event struct {
	Type      string
	Timestamp time.Time
	SourceID  string
	JobID     string
	Message   string
	Data      map[string]string
}
