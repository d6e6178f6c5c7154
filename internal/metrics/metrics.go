// Package metrics exposes Prometheus instrumentation for the stream pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mlstream"

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Envelopes committed to the broker log, by kind.",
	}, []string{"kind"})

	eventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_duplicate_total",
		Help:      "Publishes suppressed by the idempotency window.",
	})

	publishRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_retries_total",
		Help:      "Append attempts retried after a transient broker error.",
	})

	windowsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "windows_closed_total",
		Help:      "Window emissions, by job.",
	}, []string{"job"})

	lateEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "late_events_dropped_total",
		Help:      "Events beyond the grace period, routed to the audit channel.",
	}, []string{"job"})

	enrichFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrich_failures_total",
		Help:      "Prediction collaborator timeouts/errors; results degraded.",
	}, []string{"job"})

	alertsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_delivered_total",
		Help:      "Alerts delivered to sinks, by alert type.",
	}, []string{"alert_type"})

	alertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_suppressed_total",
		Help:      "Alerts collapsed into a surviving alert inside the dedup window.",
	}, []string{"alert_type"})

	checkpointsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkpoints_completed_total",
		Help:      "Checkpoints written durably, by job.",
	}, []string{"job"})

	checkpointsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkpoints_failed_total",
		Help:      "Checkpoints aborted on timeout or store error, by job.",
	}, []string{"job"})

	checkpointDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "checkpoint_duration_seconds",
		Help:      "Wall time of completed checkpoints.",
		Buckets:   prometheus.DefBuckets,
	})

	jobRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_restarts_total",
		Help:      "Recoverable job restarts, by job.",
	}, []string{"job"})

	activeJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_jobs",
		Help:      "Jobs currently in RUNNING state, by job.",
	}, []string{"job"})
)

func Published(kind string)        { eventsPublished.WithLabelValues(kind).Inc() }
func PublishDuplicate()            { eventsDuplicate.Inc() }
func PublishRetry()                { publishRetries.Inc() }
func WindowClosed(job string)      { windowsClosed.WithLabelValues(job).Inc() }
func LateEventDropped(job string)  { lateEventsDropped.WithLabelValues(job).Inc() }
func EnrichFailed(job string)      { enrichFailures.WithLabelValues(job).Inc() }
func AlertDelivered(t string)      { alertsDelivered.WithLabelValues(t).Inc() }
func AlertSuppressed(t string)     { alertsSuppressed.WithLabelValues(t).Inc() }
func CheckpointCompleted(job string, d time.Duration) {
	checkpointsCompleted.WithLabelValues(job).Inc()
	checkpointDuration.Observe(d.Seconds())
}
func CheckpointFailed(job string) { checkpointsFailed.WithLabelValues(job).Inc() }
func JobRestarted(job string)     { jobRestarts.WithLabelValues(job).Inc() }
func JobStarted(job string)       { activeJobs.WithLabelValues(job).Inc() }
func JobStopped(job string)       { activeJobs.WithLabelValues(job).Dec() }
