package wire

import "time"

// IdentifyMsg is sent by a worker immediately after connecting, before it
// is added to the dispatcher's roster.
type IdentifyMsg struct {
	WorkerID string `json:"worker_id"`
	Endpoint string `json:"endpoint"` // loopback address the dispatcher probes for liveness
	PID      int    `json:"pid"`
}

// DispatchMsg assigns one job to a worker.
type DispatchMsg struct {
	JobID         string      `json:"job_id"`
	FileVersionID string      `json:"file_version_id"`
	LocationPath  string      `json:"location_path"`
	ContentHash   string      `json:"content_hash"`
	PluginName    string      `json:"plugin_name"`
	PluginSource  string      `json:"plugin_source"` // plain source text; the worker base64-encodes it into the child's environment at spawn
	PluginVersion string      `json:"plugin_version"`
	Tags          []string    `json:"tags"`
	Topics        []TopicSpec `json:"topics"`
}

// TopicSpec is the worker's complete view of one output topic: where the
// plugin's rows for that topic land and what schema they must satisfy.
// The worker has no catalog access of its own, so Dispatch carries
// everything the validation gate and sink writer need.
type TopicSpec struct {
	TopicName string        `json:"topic_name"`
	SinkURI   string        `json:"sink_uri"`
	Mode      string        `json:"mode"` // types.SinkMode
	Columns   []TopicColumn `json:"columns"`
}

// TopicColumn mirrors types.ColumnContract for wire transport.
type TopicColumn struct {
	Name         string `json:"name"`
	Type         string `json:"type"` // types.ColumnType
	Nullable     bool   `json:"nullable"`
	DecimalScale int    `json:"decimal_scale,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

// AbortMsg asks a worker to cancel its currently running job.
type AbortMsg struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

// HeartbeatMsg is sent periodically by a worker to the dispatcher to
// prove liveness. The dispatcher does not send heartbeats.
type HeartbeatMsg struct {
	WorkerID  string    `json:"worker_id"`
	JobID     string    `json:"job_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConcludeMsg reports a job's terminal outcome.
type ConcludeMsg struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"` // "completed" or "failed"
	RowsAccepted    int64  `json:"rows_accepted"`
	RowsQuarantined int64  `json:"rows_quarantined"`
	ResultSummary   string `json:"result_summary"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// ErrMsg carries a classified error back across the wire.
type ErrMsg struct {
	JobID     string `json:"job_id,omitempty"`
	Class     string `json:"class"` // matches ferrors taxonomy names
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ReloadMsg tells a worker (or the scout) that routing rules or plugin
// manifests changed and any cached copy must be re-fetched.
type ReloadMsg struct {
	Kind string `json:"kind"` // "routing_rules" | "plugin_manifest"
}

// DeployMsg pushes a newly activated plugin manifest's source hash so a
// worker can pre-warm its environment before the next Dispatch.
type DeployMsg struct {
	PluginName string `json:"plugin_name"`
	SourceHash string `json:"source_hash"`
}

// AckMsg is a generic acknowledgement for Reload/Deploy.
type AckMsg struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}
