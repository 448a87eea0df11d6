package scoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricListingsScoredTotal  = "scoring_listings_scored_total"
	MetricRuleEvaluationsTotal = "scoring_rule_evaluations_total"
	MetricComputeDuration      = "scoring_compute_duration_seconds"
	MetricLastComputeTimestamp = "scoring_last_compute_timestamp"
	MetricStaleUpsertsTotal    = "scoring_stale_upserts_total"
)

// Metrics contains Prometheus metrics for scoring passes.
// All operations are thread-safe.
type Metrics struct {
	listingsScored       prometheus.Counter
	ruleEvaluations      *prometheus.CounterVec
	computeDuration      prometheus.Histogram
	lastComputeTimestamp prometheus.Gauge
	staleUpserts         prometheus.Counter
}

// NewMetrics creates unregistered scoring metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		listingsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricListingsScoredTotal,
			Help: "Total number of listing scores written",
		}),
		ruleEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRuleEvaluationsTotal,
				Help: "Total number of rule evaluations by rule type and outcome",
			},
			[]string{"rule_type", "outcome"},
		),
		computeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricComputeDuration,
			Help:    "Histogram of profile compute duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		}),
		lastComputeTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastComputeTimestamp,
			Help: "Unix timestamp of the last completed profile compute",
		}),
		staleUpserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricStaleUpsertsTotal,
			Help: "Total number of score upserts ignored because a newer score was stored",
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

// IncListingsScored counts one written score.
func (m *Metrics) IncListingsScored() {
	m.listingsScored.Inc()
}

// IncRuleEvaluation counts one rule evaluation.
func (m *Metrics) IncRuleEvaluation(ruleType RuleType, outcome string) {
	if outcome == OutcomeUnknownType {
		ruleType = "unknown"
	}
	m.ruleEvaluations.WithLabelValues(string(ruleType), outcome).Inc()
}

// ObserveComputeDuration records a compute pass duration.
func (m *Metrics) ObserveComputeDuration(seconds float64) {
	m.computeDuration.Observe(seconds)
}

// SetLastComputeTimestamp sets the last compute timestamp gauge.
func (m *Metrics) SetLastComputeTimestamp(ts float64) {
	m.lastComputeTimestamp.Set(ts)
}

// IncStaleUpserts counts one ignored upsert.
func (m *Metrics) IncStaleUpserts() {
	m.staleUpserts.Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.listingsScored,
		m.ruleEvaluations,
		m.computeDuration,
		m.lastComputeTimestamp,
		m.staleUpserts,
	}
}
