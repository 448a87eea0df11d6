package scoring

import (
	"context"
	"errors"
	"math"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/proximity"
)

// Proximity is the spatial lookup used by location-based evaluators.
// *proximity.Index implements it.
type Proximity interface {
	NearestForListing(ctx context.Context, l *catalog.Listing, categoryID int64) (proximity.Match, bool)
	CountWithin(l *catalog.Listing, radiusM float64, categoryID int64) int
}

// Evaluator scores one listing against one rule of its type.
//
// Evaluate returns a raw value in [0,1]. ErrInvalidRule and
// ErrMissingGeometry are expected outcomes and score 0.
type Evaluator interface {
	Type() RuleType
	Evaluate(ctx context.Context, rule Rule, l *catalog.Listing) (float64, error)
}

// Evaluation outcomes, used as metric labels.
const (
	OutcomeOK              = "ok"
	OutcomeInvalid         = "invalid"
	OutcomeMissingGeometry = "missing_geometry"
	OutcomeUnknownType     = "unknown_type"
)

// Evaluation is the result of one rule against one listing.
type Evaluation struct {
	Raw     float64
	Outcome string
	Note    string
}

// Registry is the closed set of evaluators, one per rule type.
type Registry struct {
	evaluators map[RuleType]Evaluator
}

// NewRegistry registers the four built-in evaluators over prox.
func NewRegistry(prox Proximity) *Registry {
	r := &Registry{evaluators: make(map[RuleType]Evaluator)}
	for _, e := range []Evaluator{
		proximityEvaluator{prox: prox},
		densityEvaluator{prox: prox},
		attributeEvaluator{},
		walkabilityEvaluator{prox: prox},
	} {
		r.evaluators[e.Type()] = e
	}
	return r
}

// Supports reports whether t has an evaluator.
func (r *Registry) Supports(t RuleType) bool {
	_, ok := r.evaluators[t]
	return ok
}

// Evaluate dispatches on rule.Type. It never fails: unknown types and
// invalid rules score 0 with a note, missing geometry scores 0 silently.
func (r *Registry) Evaluate(ctx context.Context, rule Rule, l *catalog.Listing) Evaluation {
	e, ok := r.evaluators[rule.Type]
	if !ok {
		return Evaluation{Outcome: OutcomeUnknownType, Note: "unsupported rule type " + string(rule.Type)}
	}

	raw, err := e.Evaluate(ctx, rule, l)
	switch {
	case errors.Is(err, ErrMissingGeometry):
		return Evaluation{Outcome: OutcomeMissingGeometry}
	case err != nil:
		return Evaluation{Outcome: OutcomeInvalid, Note: err.Error()}
	}
	return Evaluation{Raw: clampUnit(raw), Outcome: OutcomeOK}
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// decay is the linear falloff shared by proximity and walkability:
// 1 at distance 0, 0 at maxDistance and beyond.
func decay(distanceM, maxDistanceM float64) float64 {
	return math.Max(0, 1-distanceM/maxDistanceM)
}
