// Package metrics provides Prometheus instrumentation for the mediator.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestLatency tracks end-to-end orchestrator latency in seconds.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediator_request_latency_seconds",
			Help:    "End-to-end request latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"mode", "cache_status"},
	)

	// ProviderCallsTotal counts individual provider invocations.
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_provider_calls_total",
			Help: "Provider invocations by outcome (success or error kind).",
		},
		[]string{"provider", "model", "outcome"},
	)

	// FallbacksTotal counts fallback attempts.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_fallbacks_total",
			Help: "Fallback attempts by level.",
		},
		[]string{"level"}, // "model" or "provider"
	)

	// CacheHitsTotal tracks the total number of cache hits.
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediator_cache_hits_total",
			Help: "Total number of response cache hits.",
		},
	)

	// CacheLookupsTotal tracks the total number of cache lookups.
	CacheLookupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediator_cache_lookups_total",
			Help: "Total number of response cache lookups.",
		},
	)

	// CacheHitRatio mirrors cache_hits_total / cache_lookups_total.
	CacheHitRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediator_cache_hit_ratio",
			Help: "Current cache hit ratio (hits / lookups). Computed per-update.",
		},
	)

	// CacheSize is the number of entries in the in-process cache.
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediator_cache_entries",
			Help: "Number of entries held by the in-process response cache.",
		},
	)

	// CacheEvictionsTotal counts capacity evictions.
	CacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediator_cache_evictions_total",
			Help: "Entries evicted to stay within capacity.",
		},
	)

	// CircuitBreakerState tracks the current state of each circuit breaker.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediator_circuit_breaker_state",
			Help: "Current circuit breaker state: 0=closed, 1=open, 2=half-open.",
		},
		[]string{"provider"},
	)

	// ActiveRequests tracks the number of currently in-flight requests.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediator_active_requests",
			Help: "Number of currently in-flight requests.",
		},
	)

	// RequestsTotal tracks total requests by status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_requests_total",
			Help: "Total number of requests by status.",
		},
		[]string{"status"}, // "success", "error", "cache_hit"
	)

	// ChunksTotal counts chunk outcomes in chunked processing.
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_chunks_total",
			Help: "Chunks processed by outcome.",
		},
		[]string{"outcome"}, // "success" or "failed"
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

// RecordRemoteHit turns the most recent local miss into a hit served by the
// second cache tier. The lookup itself was already counted.
func RecordRemoteHit() {
	CacheHitsTotal.Inc()

	ratioMu.Lock()
	defer ratioMu.Unlock()
	totalHits++
	if totalLookups > 0 {
		CacheHitRatio.Set(totalHits / totalLookups)
	}
}
