// Package scoring ranks listings against user-defined profiles of weighted
// rules.
//
// A Registry maps each rule type to its Evaluator, which turns one
// (rule, listing) pair into a raw value in [0,1]. The Engine combines the raw
// values of a profile's rules into a 0-100 total with a per-rule breakdown,
// scores whole catalogs on a worker pool and materializes the results in a
// ScoreStore.
//
// Scoring is total over its input: unknown rule types, rules missing
// parameters and listings without coordinates all contribute 0 instead of
// failing the pass.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RuleType names a rule variant. The values are the wire names.
type RuleType string

const (
	RuleProximity   RuleType = "poi_proximity"
	RuleDensity     RuleType = "poi_density"
	RuleAttribute   RuleType = "property_attr"
	RuleWalkability RuleType = "walkability"
)

// Rule defaults.
const (
	DefaultWeight       = 0.1
	DefaultMaxDistanceM = 1000.0
	DefaultTargetCount  = 5.0
)

// Scoring errors.
var (
	// ErrInvalidRule marks a rule whose parameters cannot be evaluated.
	// It never aborts a pass; the rule scores 0 with a note.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrMissingGeometry marks a listing without a usable coordinate.
	ErrMissingGeometry = errors.New("missing geometry")
	// ErrProfileNotFound is returned for unknown profile ids.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrScoreNotFound is returned when no score is stored for a pair.
	ErrScoreNotFound = errors.New("score not found")
	// ErrInvalidWeight rejects rule weights outside [0,1] on write.
	ErrInvalidWeight = errors.New("weight must be between 0 and 1")
	// ErrMissingRuleType rejects rules without a type on write.
	ErrMissingRuleType = errors.New("rule_type is required")
)

// Rule is one weighted criterion of a profile.
type Rule struct {
	ID           int64    `json:"id"`
	ProfileID    int64    `json:"profile_id"`
	Type         RuleType `json:"rule_type"`
	CategoryID   int64    `json:"poi_category_id,omitempty"`
	MaxDistanceM *float64 `json:"max_distance_m,omitempty"`
	Weight       float64  `json:"weight"`
	Params       Params   `json:"parameters,omitempty"`
}

// Key identifies the rule in a breakdown.
func (r Rule) Key() string {
	return fmt.Sprintf("rule_%d_%s", r.ID, r.Type)
}

// MaxDistance returns the rule's radius, DefaultMaxDistanceM when unset or
// not positive.
func (r Rule) MaxDistance() float64 {
	if r.MaxDistanceM == nil || !(*r.MaxDistanceM > 0) || math.IsInf(*r.MaxDistanceM, 1) {
		return DefaultMaxDistanceM
	}
	return *r.MaxDistanceM
}

// EffectiveWeight clamps the weight into [0,1]; NaN counts as 0.
func (r Rule) EffectiveWeight() float64 {
	switch {
	case math.IsNaN(r.Weight), r.Weight < 0:
		return 0
	case r.Weight > 1:
		return 1
	default:
		return r.Weight
	}
}

// Validate checks the fields a rule must satisfy to be stored.
func (r Rule) Validate() error {
	if strings.TrimSpace(string(r.Type)) == "" {
		return ErrMissingRuleType
	}
	if math.IsNaN(r.Weight) || r.Weight < 0 || r.Weight > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidWeight, r.Weight)
	}
	return nil
}

// ValidateRules validates every rule, reporting the first failure by index.
func ValidateRules(rules []Rule) error {
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

// Params is the type-specific parameter bag of a rule, decoded from JSON or
// YAML.
type Params map[string]any

// Float returns a numeric parameter. Numeric strings are accepted; booleans,
// NaN and infinities are not.
func (p Params) Float(key string) (v float64, present, ok bool) {
	raw, present := p[key]
	if !present || raw == nil {
		return 0, false, false
	}
	v, ok = toFloat(raw)
	return v, true, ok
}

// String returns a string parameter.
func (p Params) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Int64s returns a list of integer ids. Any non-integral element makes the
// whole list invalid.
func (p Params) Int64s(key string) ([]int64, bool) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return nil, false
	}

	var items []any
	switch list := raw.(type) {
	case []any:
		items = list
	case []int64:
		return list, true
	case []int:
		out := make([]int64, len(list))
		for i, v := range list {
			out[i] = int64(v)
		}
		return out, true
	default:
		return nil, false
	}

	out := make([]int64, 0, len(items))
	for _, item := range items {
		f, ok := toFloat(item)
		if !ok || f != math.Trunc(f) {
			return nil, false
		}
		out = append(out, int64(f))
	}
	return out, true
}

// toFloat coerces a decoded scalar into a finite float64.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case uint:
		f = float64(n)
	case interface{ Float64() (float64, error) }: // json.Number
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
