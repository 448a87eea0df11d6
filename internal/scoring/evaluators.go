package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/geo"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidRule}, args...)...)
}

// proximityEvaluator scores the nearest POI of one category with a linear
// decay over the rule's max distance.
type proximityEvaluator struct {
	prox Proximity
}

func (proximityEvaluator) Type() RuleType { return RuleProximity }

func (e proximityEvaluator) Evaluate(ctx context.Context, rule Rule, l *catalog.Listing) (float64, error) {
	if rule.CategoryID == catalog.AnyCategory {
		return 0, invalid("poi_category_id is required")
	}
	if !geo.Located(l.Location) {
		return 0, ErrMissingGeometry
	}

	maxDist := rule.MaxDistance()
	m, ok := e.prox.NearestForListing(ctx, l, rule.CategoryID)
	if !ok || m.DistanceM > maxDist {
		return 0, nil
	}
	return decay(m.DistanceM, maxDist), nil
}

// densityEvaluator counts POIs of one category within the rule's radius
// against a target count.
type densityEvaluator struct {
	prox Proximity
}

func (densityEvaluator) Type() RuleType { return RuleDensity }

func (e densityEvaluator) Evaluate(_ context.Context, rule Rule, l *catalog.Listing) (float64, error) {
	if rule.CategoryID == catalog.AnyCategory {
		return 0, invalid("poi_category_id is required")
	}

	target := DefaultTargetCount
	if v, present, ok := rule.Params.Float("target_count"); present {
		if !ok || v <= 0 {
			return 0, invalid("target_count must be a positive number")
		}
		target = v
	}

	if !geo.Located(l.Location) {
		return 0, ErrMissingGeometry
	}

	count := e.prox.CountWithin(l, rule.MaxDistance(), rule.CategoryID)
	return math.Min(float64(count)/target, 1), nil
}

// attributeEvaluator compares a listing attribute with an ideal value.
type attributeEvaluator struct{}

func (attributeEvaluator) Type() RuleType { return RuleAttribute }

func (attributeEvaluator) Evaluate(_ context.Context, rule Rule, l *catalog.Listing) (float64, error) {
	name, _ := rule.Params.String("attribute")
	if name == "" {
		return 0, invalid("attribute is required")
	}
	ideal, present, ok := rule.Params.Float("ideal")
	if !present {
		return 0, invalid("ideal is required")
	}
	if !ok {
		return 0, invalid("ideal must be numeric")
	}
	tolerance, present, ok := rule.Params.Float("tolerance")
	if present && !ok {
		return 0, invalid("tolerance must be numeric")
	}
	tolerance = math.Abs(tolerance)

	raw, found := l.Attribute(name)
	if !found {
		return 0, nil
	}
	actual, ok := toFloat(raw)
	if !ok {
		return 0, nil
	}

	if tolerance == 0 {
		if actual == ideal {
			return 1, nil
		}
		return 0, nil
	}
	return math.Max(0, 1-math.Abs(actual-ideal)/tolerance), nil
}

// walkabilityEvaluator averages the proximity decay over several
// categories. A category without any located POI contributes 0.
type walkabilityEvaluator struct {
	prox Proximity
}

func (walkabilityEvaluator) Type() RuleType { return RuleWalkability }

func (e walkabilityEvaluator) Evaluate(ctx context.Context, rule Rule, l *catalog.Listing) (float64, error) {
	categories, ok := rule.Params.Int64s("categories")
	if !ok || len(categories) == 0 {
		return 0, invalid("categories must be a non-empty list of category ids")
	}
	if !geo.Located(l.Location) {
		return 0, ErrMissingGeometry
	}

	maxDist := rule.MaxDistance()
	var sum float64
	for _, categoryID := range categories {
		if m, found := e.prox.NearestForListing(ctx, l, categoryID); found {
			sum += decay(m.DistanceM, maxDist)
		}
	}
	return sum / float64(len(categories)), nil
}
