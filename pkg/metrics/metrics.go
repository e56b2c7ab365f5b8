package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scout metrics
	FilesScannedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casparian_scout_files_scanned_total",
			Help: "Total number of files observed by the walker, by delta kind",
		},
		[]string{"delta"},
	)

	ScanThroughputBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casparian_scout_bytes_hashed_total",
			Help: "Total bytes passed through the content hasher",
		},
	)

	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "casparian_scout_scan_duration_seconds",
			Help:    "Time taken for one full scan cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	LocationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "casparian_scout_locations_total",
			Help: "Total number of known file locations by status",
		},
		[]string{"status"},
	)

	// Sentinel metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "casparian_sentinel_queue_depth",
			Help: "Number of jobs currently queued for dispatch",
		},
	)

	WorkersConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "casparian_sentinel_workers_connected",
			Help: "Number of workers in the roster, by status",
		},
		[]string{"status"},
	)

	JobsQueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casparian_scout_jobs_queued_total",
			Help: "Total number of processing jobs materialized by the enqueue step",
		},
	)

	JobsDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casparian_sentinel_jobs_dispatched_total",
			Help: "Total number of jobs dispatched to a worker",
		},
	)

	JobsConcludedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casparian_sentinel_jobs_concluded_total",
			Help: "Total number of jobs concluded, by terminal status",
		},
		[]string{"status"},
	)

	LeasesReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casparian_sentinel_leases_reaped_total",
			Help: "Total number of expired job leases reclaimed by the reaper",
		},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "casparian_sentinel_dispatch_latency_seconds",
			Help:    "Time from a job becoming queued to being dispatched",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Worker / validation gate metrics
	RowsValidatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casparian_worker_rows_validated_total",
			Help: "Total number of rows passed through the validation gate, by outcome",
		},
		[]string{"outcome"},
	)

	ValidationRejectRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "casparian_worker_validation_reject_ratio",
			Help: "Fraction of rows quarantined in the most recently completed batch",
		},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "casparian_worker_job_duration_seconds",
			Help:    "Wall-clock duration of a single job, from claim to conclude",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sink metrics
	SinkCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "casparian_sink_commit_duration_seconds",
			Help:    "Time taken to commit a batch to the sink",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	SinkBatchesCommittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casparian_sink_batches_committed_total",
			Help: "Total number of batches committed to a sink",
		},
	)
)

func init() {
	prometheus.MustRegister(FilesScannedTotal)
	prometheus.MustRegister(ScanThroughputBytes)
	prometheus.MustRegister(ScanDuration)
	prometheus.MustRegister(LocationsTotal)

	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(WorkersConnected)
	prometheus.MustRegister(JobsQueuedTotal)
	prometheus.MustRegister(JobsDispatchedTotal)
	prometheus.MustRegister(JobsConcludedTotal)
	prometheus.MustRegister(LeasesReapedTotal)
	prometheus.MustRegister(DispatchLatency)

	prometheus.MustRegister(RowsValidatedTotal)
	prometheus.MustRegister(ValidationRejectRate)
	prometheus.MustRegister(JobDuration)

	prometheus.MustRegister(SinkCommitDuration)
	prometheus.MustRegister(SinkBatchesCommittedTotal)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer started at the current time.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
