// Package metrics provides Prometheus collectors for the gateway.
// It tracks variant assignments, upstream attempts and outcomes, inbound
// HTTP latency, live conversation sessions and database pool usage.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "abgate"

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.0, 3.0, 5.0, 7.5, 10.0, 15.0, 20.0,
	30.0, 45.0, 60.0, 120.0,
}

// =============================================================================
// Experiment Metrics
// =============================================================================

var (
	// VariantAssignments counts assignments by variant and outcome.
	VariantAssignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variant_assignments_total",
			Help:      "Experiment variant assignments by outcome (assigned, fallback, unavailable)",
		},
		[]string{"variant", "outcome"},
	)

	// ExperimentPoolSize tracks the pool size seen by the last assignment.
	ExperimentPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "experiment_pool_size",
			Help:      "Number of entries in the experiment pool at the last read",
		},
	)
)

// =============================================================================
// Upstream Metrics
// =============================================================================

var (
	// UpstreamAttempts counts individual HTTP attempts, including retries.
	UpstreamAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Upstream HTTP attempts including retries",
		},
		[]string{"upstream", "result"},
	)

	// UpstreamRequests counts completed gateway calls by final status.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Model gateway calls by variant and final status code",
		},
		[]string{"upstream", "model", "status_code"},
	)

	// UpstreamLatency tracks gateway call latency including retries.
	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_seconds",
			Help:      "Model gateway call latency in seconds, retries included",
			Buckets:   LatencyBuckets,
		},
		[]string{"upstream", "model"},
	)

	// UpstreamTokens counts token usage reported by the upstream.
	UpstreamTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_tokens_total",
			Help:      "Token usage reported by the upstream",
		},
		[]string{"upstream", "model", "type"}, // type: input, output
	)
)

// =============================================================================
// HTTP Metrics
// =============================================================================

var (
	// HTTPRequests counts inbound requests by route and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Inbound HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestLatency tracks inbound request latency.
	HTTPRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Inbound HTTP request latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"method", "route"},
	)
)

// =============================================================================
// Resource Metrics
// =============================================================================

var (
	// ConversationSessions tracks live conversation sessions.
	ConversationSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_sessions",
			Help:      "Conversation sessions currently held in memory",
		},
	)

	// DBConnectionPoolSize tracks database connection pool usage.
	DBConnectionPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connection_pool_size",
			Help:      "Database connection pool size by state",
		},
		[]string{"pool_type"},
	)
)
