// Package metrics defines the Prometheus instrumentation surfaced at
// /metrics: job lifecycle counters, outbox delivery counters, and search
// request counts, using the standard *_total counter / *_duration_seconds
// histogram naming convention.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the registry every collector in this package is registered
// to; pkg/api exposes it at /metrics via promhttp.HandlerFor.
var Registry = prometheus.NewRegistry()

var (
	// JobsClaimedTotal counts jobs claimed by a worker, by kind.
	JobsClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbackend_jobs_claimed_total",
			Help: "Total number of jobs claimed by a worker, by kind.",
		},
		[]string{"kind"},
	)

	// JobsCompletedTotal counts jobs that reached completed_at, by kind.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbackend_jobs_completed_total",
			Help: "Total number of jobs completed successfully, by kind.",
		},
		[]string{"kind"},
	)

	// JobsFailedTotal counts handler failures that scheduled a retry, by kind.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbackend_jobs_failed_total",
			Help: "Total number of job handler failures that scheduled a retry, by kind.",
		},
		[]string{"kind"},
	)

	// JobsDeadLetteredTotal counts jobs that exhausted their retry budget.
	JobsDeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbackend_jobs_dead_lettered_total",
			Help: "Total number of jobs that exhausted their retry budget, by kind.",
		},
		[]string{"kind"},
	)

	// JobDurationSeconds observes handler execution time, by kind.
	JobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentbackend_job_duration_seconds",
			Help:    "Duration of job handler execution in seconds, by kind.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
		},
		[]string{"kind"},
	)

	// OutboxDeliveredTotal counts successful webhook deliveries.
	OutboxDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbackend_outbox_delivered_total",
			Help: "Total number of outbox messages delivered successfully, by kind.",
		},
		[]string{"kind"},
	)

	// OutboxDeadLetteredTotal counts webhook deliveries that exhausted retries.
	OutboxDeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbackend_outbox_dead_lettered_total",
			Help: "Total number of outbox messages dead-lettered, by kind.",
		},
		[]string{"kind"},
	)

	// OutboxDeliveryDurationSeconds observes webhook delivery round-trip time.
	OutboxDeliveryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentbackend_outbox_delivery_duration_seconds",
			Help:    "Duration of webhook delivery attempts in seconds, by kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// SearchRequestsTotal counts hybrid search requests by the search type
	// actually used (hybrid, text, vector) — distinguishing degraded-mode
	// requests from full hybrid ones.
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbackend_search_requests_total",
			Help: "Total number of search requests, by search_type actually used.",
		},
		[]string{"search_type"},
	)

	// SearchDurationSeconds observes hybrid search request latency.
	SearchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentbackend_search_duration_seconds",
			Help:    "Duration of hybrid search requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	Registry.MustRegister(
		JobsClaimedTotal, JobsCompletedTotal, JobsFailedTotal, JobsDeadLetteredTotal, JobDurationSeconds,
		OutboxDeliveredTotal, OutboxDeadLetteredTotal, OutboxDeliveryDurationSeconds,
		SearchRequestsTotal, SearchDurationSeconds,
	)
}
