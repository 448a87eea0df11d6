package proximity

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricCacheLookupsTotal   = "distance_cache_lookups_total"
	MetricPrecomputedDistance = "distance_precompute_rows_total"
)

// Cache lookup results.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultStale = "stale"
	ResultError = "error"
)

// Metrics contains Prometheus metrics for proximity lookups.
type Metrics struct {
	cacheLookups *prometheus.CounterVec
	precomputed  prometheus.Counter
}

// NewMetrics creates unregistered proximity metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCacheLookupsTotal,
				Help: "Total number of precomputed distance lookups by result",
			},
			[]string{"result"},
		),
		precomputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPrecomputedDistance,
			Help: "Total number of listing-to-POI distances written by precomputation",
		}),
	}
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncCacheLookup counts one cache lookup with the given result.
func (m *Metrics) IncCacheLookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

// AddPrecomputed counts written distance rows.
func (m *Metrics) AddPrecomputed(n int) {
	m.precomputed.Add(float64(n))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.cacheLookups,
		m.precomputed,
	}
}
