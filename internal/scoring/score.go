package scoring

import (
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/onnwee/nestscout/internal/catalog"
)

// BreakdownEntry traces one rule's contribution to a total.
type BreakdownEntry struct {
	RawValue float64 `json:"raw_value"`
	Weight   float64 `json:"weight"`
	Weighted float64 `json:"weighted"`
	Note     string  `json:"note,omitempty"`
}

// Breakdown maps Rule.Key to its contribution. Unsaved or repeated rules get
// the key suffixed with their position in the rule set.
type Breakdown map[string]BreakdownEntry

// Score is the materialized result for one (listing, profile) pair.
// TotalScore is rounded for display; ranking compares the unrounded total.
type Score struct {
	ListingID  int64     `json:"listing_id"`
	ProfileID  int64     `json:"profile_id"`
	TotalScore float64   `json:"total_score"`
	Breakdown  Breakdown `json:"breakdown"`
	ComputedAt time.Time `json:"computed_at"`

	exact float64
}

// rankingTotal is the unrounded total, or TotalScore for scores built
// without one. A zero exact total always rounds to a zero TotalScore.
func (s Score) rankingTotal() float64 {
	if s.exact != 0 {
		return s.exact
	}
	return s.TotalScore
}

func (s Score) clone() Score {
	s.Breakdown = maps.Clone(s.Breakdown)
	return s
}

// RankedListing is a listing with its stored score.
type RankedListing struct {
	catalog.Listing
	Geohash string `json:"geohash,omitempty"`
	Score   Score  `json:"score"`
}

// Aggregate combines rule evaluations into a 0-100 total rounded to two
// places. The total is the weight-normalized mean of raw values; an empty
// rule set or a zero weight sum yields 0.
func Aggregate(rules []Rule, evals []Evaluation) (float64, Breakdown) {
	exact, breakdown := aggregate(rules, evals)
	return roundTotal(exact), breakdown
}

func aggregate(rules []Rule, evals []Evaluation) (float64, Breakdown) {
	breakdown := make(Breakdown, len(rules))
	var total, weightSum float64
	for i, rule := range rules {
		w := rule.EffectiveWeight()
		raw := evals[i].Raw
		total += raw * w
		weightSum += w
		breakdown[breakdownKey(breakdown, rule, i)] = BreakdownEntry{
			RawValue: round(raw, 3),
			Weight:   w,
			Weighted: round(raw*w, 3),
			Note:     evals[i].Note,
		}
	}

	if weightSum <= 0 {
		return 0, breakdown
	}
	return math.Min(100, math.Max(0, total/weightSum*100)), breakdown
}

// breakdownKey is Rule.Key, suffixed with the rule's position for unsaved
// rules (ID 0) and for repeated keys, so every rule keeps its own entry.
func breakdownKey(b Breakdown, rule Rule, i int) string {
	key := rule.Key()
	_, taken := b[key]
	if !taken && rule.ID != 0 {
		return key
	}
	for n := 0; ; n++ {
		candidate := fmt.Sprintf("%s_%d", key, i)
		if n > 0 {
			candidate = fmt.Sprintf("%s_%d_%d", key, i, n)
		}
		if _, taken := b[candidate]; !taken {
			return candidate
		}
	}
}

func roundTotal(exact float64) float64 {
	return round(exact, 2)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
