package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Framework-level collectors. All registered on the default registry so that
// the server's /metrics endpoint picks them up without extra wiring.
var (
	// TokenValidations counts token validation layer outcomes. The layer label
	// is the pipeline stage name ("format", "signature", ...); outcome is "ok"
	// or the security error code that terminated the pipeline at that layer.
	TokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eaf_token_validation_total",
		Help: "Token validation outcomes per pipeline layer.",
	}, []string{"layer", "outcome"})

	// TenantPushes counts tenant context pushes across all entry points.
	TenantPushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eaf_tenant_context_pushes_total",
		Help: "Number of tenant ids pushed onto a tenant context stack.",
	})

	// TenantLeaks counts units of work that finished with a non-empty tenant
	// stack. A non-zero rate means a push was not paired with a pop.
	TenantLeaks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eaf_tenant_context_leaks_total",
		Help: "Units of work that ended with residual tenant context depth.",
	})

	// CommandDuration observes end-to-end command interceptor chain latency.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenant_command_interceptor_duration_seconds",
		Help:    "Command dispatch duration through the interceptor chain.",
		Buckets: prometheus.DefBuckets,
	}, []string{"command_type"})

	// CommandOutcomes counts command dispatch results per command type.
	CommandOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eaf_command_dispatch_total",
		Help: "Command dispatch outcomes.",
	}, []string{"command_type", "outcome"})

	// QueryDuration observes query interceptor chain latency.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenant_query_interceptor_duration_seconds",
		Help:    "Query dispatch duration through the interceptor chain.",
		Buckets: prometheus.DefBuckets,
	}, []string{"query_type"})

	// QueryFailures counts failed queries with a coarse error classification.
	QueryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eaf_query_failures_total",
		Help: "Query dispatch failures.",
	}, []string{"query_type", "error_type"})

	// EventDuration observes async event interceptor chain latency.
	EventDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenant_event_interceptor_duration_seconds",
		Help:    "Event delivery duration through the interceptor chain.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})

	// EventOutcomes counts event deliveries per event type.
	EventOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eaf_event_dispatch_total",
		Help: "Event dispatch outcomes.",
	}, []string{"event_type", "outcome"})

	// RateLimitErrors counts rate-limit counter store failures. These do not
	// reject traffic (the limiter degrades gracefully) but they must be
	// visible on a dashboard.
	RateLimitErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eaf_rate_limit_errors_total",
		Help: "Rate limit counter store failures (degraded mode).",
	})

	// RateLimitRejections counts events rejected by the per-tenant limiter.
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eaf_rate_limit_rejections_total",
		Help: "Events rejected by the per-tenant rate limiter.",
	})

	// AppendConflicts counts optimistic concurrency conflicts on append.
	AppendConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eaf_eventstore_append_conflicts_total",
		Help: "Event store appends rejected with a version conflict.",
	})

	// AppendDuration observes event store append latency.
	AppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eaf_eventstore_append_duration_seconds",
		Help:    "Event store append duration.",
		Buckets: prometheus.DefBuckets,
	})
)
