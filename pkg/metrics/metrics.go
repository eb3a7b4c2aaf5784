// Package metrics exposes the operational counters and histograms named
// in the execution plane's external interfaces: order placement outcomes
// per venue, retry counts, OCO-emulation fallbacks, cache hit ratio, and
// reconciliation drift events.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the execution plane emits. Constructed
// once per process and injected into component constructors, mirroring
// the teacher's SystemMetrics-as-constructor-field shape.
type Registry struct {
	OrderResults  *prometheus.CounterVec
	RetryCount    *prometheus.HistogramVec
	OCOFallbacks  prometheus.Counter
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	ReconDrift    *prometheus.CounterVec
}

// NewRegistry builds and registers all metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		OrderResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execplane_order_results_total",
			Help: "Order placement outcomes per venue.",
		}, []string{"venue", "result"}),
		RetryCount: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "execplane_venue_retry_attempts",
			Help:    "Number of retry attempts consumed per venue call.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7},
		}, []string{"venue"}),
		OCOFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execplane_oco_emulation_fallbacks_total",
			Help: "Count of OCO orders emulated with sequential LIMIT+STOP legs.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execplane_symbolinfo_cache_hits_total",
			Help: "Symbol info cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execplane_symbolinfo_cache_misses_total",
			Help: "Symbol info cache misses (fetched from venue).",
		}),
		ReconDrift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execplane_reconciliation_drift_total",
			Help: "Reconciliation events where local and venue state diverged.",
		}, []string{"venue"}),
	}
	reg.MustRegister(m.OrderResults, m.RetryCount, m.OCOFallbacks, m.CacheHits, m.CacheMisses, m.ReconDrift)
	return m
}

// CacheHitRatio returns hits / (hits+misses), 0 when no samples exist yet.
func CacheHitRatio(hits, misses float64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return hits / total
}
