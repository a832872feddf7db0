// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderLatency tracks outbound call latency in seconds.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tavily_provider_latency_seconds",
			Help:    "Outbound provider call latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status"},
	)

	// ToolCallsTotal counts tool invocations by tool and outcome.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavily_tool_calls_total",
			Help: "Total number of tool calls by tool and outcome.",
		},
		[]string{"tool", "outcome"}, // outcome: "success", "error"
	)

	// CacheHitsTotal tracks the total number of cache hits.
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tavily_cache_hits_total",
			Help: "Total number of result cache hits.",
		},
	)

	// CacheLookupsTotal tracks the total number of cache lookups.
	CacheLookupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tavily_cache_lookups_total",
			Help: "Total number of result cache lookups.",
		},
	)

	// CacheHitRatio mirrors hits / lookups for dashboards that do not compute it.
	CacheHitRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tavily_cache_hit_ratio",
			Help: "Current cache hit ratio (hits / lookups).",
		},
	)

	// DedupSharedTotal counts callers that received another caller's in-flight result.
	DedupSharedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tavily_dedup_shared_total",
			Help: "Total number of calls served by an identical in-flight call.",
		},
	)

	// CircuitBreakerState tracks the provider circuit breaker.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tavily_circuit_breaker_state",
			Help: "Current circuit breaker state: 0=closed, 1=open, 2=half-open.",
		},
		[]string{"provider"},
	)

	// ExecutingRequests is the number of admitted calls currently running.
	ExecutingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tavily_dispatch_executing",
			Help: "Number of outbound calls currently executing.",
		},
	)

	// QueuedRequests is the number of calls waiting for a concurrency slot.
	QueuedRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tavily_dispatch_queued",
			Help: "Number of outbound calls waiting for a concurrency slot.",
		},
	)

	// PoolKeys reports the credential pool size by state.
	PoolKeys = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tavily_pool_keys",
			Help: "Number of API keys in the pool by state.",
		},
		[]string{"state"}, // "total", "active"
	)

	// KeyFailuresTotal counts failures charged to credentials.
	KeyFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavily_key_failures_total",
			Help: "Total number of failures charged to API keys.",
		},
		[]string{"endpoint"},
	)

	// KeyDeactivationsTotal counts keys taken out of rotation.
	KeyDeactivationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tavily_key_deactivations_total",
			Help: "Total number of API keys deactivated after reaching their error threshold.",
		},
	)

	// SSESessions is the number of connected SSE clients.
	SSESessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tavily_sse_sessions",
			Help: "Number of connected SSE clients.",
		},
	)

	ratioMu      sync.Mutex
	totalHits    float64
	totalLookups float64
)

// RecordCacheLookup records a cache lookup and updates the hit ratio.
func RecordCacheLookup(hit bool) {
	CacheLookupsTotal.Inc()
	if hit {
		CacheHitsTotal.Inc()
	}

	ratioMu.Lock()
	defer ratioMu.Unlock()
	totalLookups++
	if hit {
		totalHits++
	}
	CacheHitRatio.Set(totalHits / totalLookups)
}

// RecordPool publishes the credential pool counts.
func RecordPool(total, active int) {
	PoolKeys.WithLabelValues("total").Set(float64(total))
	PoolKeys.WithLabelValues("active").Set(float64(active))
}

// RecordToolCall counts one tool invocation.
func RecordToolCall(tool string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}
