package scoring

import (
	"encoding/json"
	"errors"
	"math"
	"slices"
	"testing"
)

func TestRule_Key(t *testing.T) {
	r := Rule{ID: 12, Type: RuleWalkability}
	if got := r.Key(); got != "rule_12_walkability" {
		t.Errorf("Key() = %q", got)
	}
}

func TestRule_MaxDistance(t *testing.T) {
	tests := []struct {
		name string
		max  *float64
		want float64
	}{
		{"unset", nil, DefaultMaxDistanceM},
		{"zero", floatPtr(0), DefaultMaxDistanceM},
		{"negative", floatPtr(-5), DefaultMaxDistanceM},
		{"infinite", floatPtr(math.Inf(1)), DefaultMaxDistanceM},
		{"set", floatPtr(750), 750},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Rule{MaxDistanceM: tt.max}).MaxDistance(); got != tt.want {
				t.Errorf("MaxDistance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr error
	}{
		{"valid", Rule{Type: RuleProximity, Weight: 0.5}, nil},
		{"bounds inclusive", Rule{Type: RuleDensity, Weight: 1}, nil},
		{"unknown types may be stored", Rule{Type: "ai_sentiment", Weight: 0}, nil},
		{"missing type", Rule{Weight: 0.5}, ErrMissingRuleType},
		{"weight above one", Rule{Type: RuleProximity, Weight: 1.5}, ErrInvalidWeight},
		{"negative weight", Rule{Type: RuleProximity, Weight: -0.1}, ErrInvalidWeight},
		{"NaN weight", Rule{Type: RuleProximity, Weight: math.NaN()}, ErrInvalidWeight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	err := ValidateRules([]Rule{{Type: RuleProximity, Weight: 0.5}, {Type: RuleDensity, Weight: 2}})
	if !errors.Is(err, ErrInvalidWeight) {
		t.Errorf("ValidateRules() = %v, want ErrInvalidWeight", err)
	}
}

func TestParams_Float(t *testing.T) {
	p := Params{
		"int":     3,
		"float":   2.5,
		"string":  " 7 ",
		"number":  json.Number("1.25"),
		"bool":    true,
		"word":    "many",
		"nan":     math.NaN(),
		"nothing": nil,
	}

	tests := []struct {
		key         string
		want        float64
		wantPresent bool
		wantOK      bool
	}{
		{"int", 3, true, true},
		{"float", 2.5, true, true},
		{"string", 7, true, true},
		{"number", 1.25, true, true},
		{"bool", 0, true, false},
		{"word", 0, true, false},
		{"nan", 0, true, false},
		{"nothing", 0, false, false},
		{"absent", 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v, present, ok := p.Float(tt.key)
			if present != tt.wantPresent || ok != tt.wantOK || (ok && v != tt.want) {
				t.Errorf("Float(%q) = (%v, %v, %v), want (%v, %v, %v)",
					tt.key, v, present, ok, tt.want, tt.wantPresent, tt.wantOK)
			}
		})
	}
}

func TestParams_Int64s(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   []int64
		wantOK bool
	}{
		{"json decoded", []any{1.0, 2.0}, []int64{1, 2}, true},
		{"yaml decoded", []any{3, 4}, []int64{3, 4}, true},
		{"typed ints", []int{5}, []int64{5}, true},
		{"numeric strings", []any{"6"}, []int64{6}, true},
		{"fractional", []any{1.0, 2.5}, nil, false},
		{"not a list", "1,2", nil, false},
		{"mixed garbage", []any{1.0, "x"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Params{"categories": tt.value}.Int64s("categories")
			if ok != tt.wantOK || !slices.Equal(got, tt.want) {
				t.Errorf("Int64s() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRule_JSON(t *testing.T) {
	raw := `{"id":3,"profile_id":1,"rule_type":"poi_density","poi_category_id":2,
		"max_distance_m":500,"weight":0.4,"parameters":{"target_count":5}}`

	var r Rule
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if r.Type != RuleDensity || r.CategoryID != 2 || r.MaxDistance() != 500 || r.Weight != 0.4 {
		t.Errorf("decoded rule = %+v", r)
	}
	if v, _, ok := r.Params.Float("target_count"); !ok || v != 5 {
		t.Errorf("target_count = %v, %v", v, ok)
	}
}
