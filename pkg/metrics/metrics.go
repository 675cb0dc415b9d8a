package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job Manager metrics
	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentnode_jobs_in_flight",
			Help: "Number of jobs with a task currently executing",
		},
	)

	JobQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentnode_job_queue_depth",
			Help: "Number of unprocessed messages queued per job",
		},
		[]string{"job_id"},
	)

	JobIterationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentnode_job_iteration_duration_seconds",
			Help:    "Time taken for one inference-chain iteration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentnode_jobs_failed_total",
			Help: "Total jobs that transitioned to failed, by cause",
		},
		[]string{"cause"},
	)

	// Vector Filesystem metrics
	VFSSearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentnode_vfs_search_duration_seconds",
			Help:    "Time taken for a vector_search call",
			Buckets: prometheus.DefBuckets,
		},
	)

	VFSPermissionDenials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentnode_vfs_permission_denials_total",
			Help: "Total VFS operations rejected by permission resolution",
		},
	)

	// Tool Runner metrics
	ToolSpawnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentnode_tool_spawns_total",
			Help: "Total tool subprocess spawns, by tool key",
		},
		[]string{"tool_key"},
	)

	ToolRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentnode_tool_run_duration_seconds",
			Help:    "Tool subprocess wall-clock duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool_key"},
	)

	ToolTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentnode_tool_timeouts_total",
			Help: "Total tool runs terminated for exceeding their timeout",
		},
		[]string{"tool_key"},
	)

	ToolSemaphoreInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentnode_tool_semaphore_in_use",
			Help: "Concurrent tool subprocesses currently running",
		},
	)

	// Identity Resolver metrics
	IdentityCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentnode_identity_cache_hits_total",
			Help: "Identity resolutions served from cache",
		},
	)

	IdentityCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentnode_identity_cache_misses_total",
			Help: "Identity resolutions that required a registry fetch",
		},
	)

	IdentityResolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentnode_identity_resolve_duration_seconds",
			Help:    "Time taken to resolve a name, including registry fetches",
			Buckets: prometheus.DefBuckets,
		},
	)

	// P2P Transport metrics
	TransportSendQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentnode_transport_send_queue_depth",
			Help: "Outbound envelopes queued per peer",
		},
		[]string{"peer"},
	)

	TransportRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentnode_transport_retries_total",
			Help: "Total retry-queue redelivery attempts",
		},
	)

	TransportSendBusyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentnode_transport_send_busy_total",
			Help: "Total sends rejected because the peer's queue was full",
		},
	)

	// Subscription Manager metrics
	SubscriptionSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentnode_subscription_sync_duration_seconds",
			Help:    "Time taken to diff and sync one shared folder manifest",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		JobsInFlight,
		JobQueueDepth,
		JobIterationDuration,
		JobsFailedTotal,
		VFSSearchDuration,
		VFSPermissionDenials,
		ToolSpawnsTotal,
		ToolRunDuration,
		ToolTimeoutsTotal,
		ToolSemaphoreInUse,
		IdentityCacheHits,
		IdentityCacheMisses,
		IdentityResolveDuration,
		TransportSendQueueDepth,
		TransportRetriesTotal,
		TransportSendBusyTotal,
		SubscriptionSyncDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
