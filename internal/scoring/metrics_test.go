package scoring

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() returned error: %v", err)
	}

	m.IncListingsScored()
	m.IncRuleEvaluation(RuleDensity, OutcomeOK)
	m.ObserveComputeDuration(0.3)
	m.SetLastComputeTimestamp(1700000000)
	m.IncStaleUpserts()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() returned error: %v", err)
	}
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{
		MetricListingsScoredTotal,
		MetricRuleEvaluationsTotal,
		MetricComputeDuration,
		MetricLastComputeTimestamp,
		MetricStaleUpsertsTotal,
	} {
		if !found[name] {
			t.Errorf("metric %s not gathered", name)
		}
	}

	if err := NewMetrics().Register(reg); err == nil {
		t.Error("duplicate registration should fail")
	}
}

func TestMetrics_IncRuleEvaluation(t *testing.T) {
	m := NewMetrics()
	m.IncRuleEvaluation(RuleProximity, OutcomeOK)
	m.IncRuleEvaluation(RuleProximity, OutcomeOK)
	m.IncRuleEvaluation("ai_sentiment", OutcomeUnknownType)
	m.IncRuleEvaluation("price_value", OutcomeUnknownType)

	if got := counterValue(t, m.ruleEvaluations.WithLabelValues(string(RuleProximity), OutcomeOK)); got != 2 {
		t.Errorf("proximity ok = %v, want 2", got)
	}
	// Unknown types share one label value.
	if got := counterValue(t, m.ruleEvaluations.WithLabelValues("unknown", OutcomeUnknownType)); got != 2 {
		t.Errorf("unknown = %v, want 2", got)
	}
}
