// Package proximity answers "which POIs are near this point" queries.
//
// Two Searcher implementations share one contract: results are ascending by
// distance, inclusive of the radius, ties broken by POI id, and POIs without
// a valid location never appear. ScanIndex checks every POI; CellIndex buckets
// POIs into S2 cells and only measures candidates from cells covering the
// search cap.
//
// Index layers an optional DistanceCache of precomputed listing-to-POI
// distances on top of a Searcher for listing-centred nearest lookups.
package proximity

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/geo"
)

// Searcher kinds accepted by NewSearcher.
const (
	KindScan = "scan"
	KindCell = "cell"
)

// ErrUnknownSearcher is returned by NewSearcher for an unknown kind.
var ErrUnknownSearcher = errors.New("unknown spatial index kind")

// Match is a POI together with its distance from the query centre.
type Match struct {
	POI       catalog.POI `json:"poi"`
	DistanceM float64     `json:"distance_m"`
}

// Searcher finds POIs around a point.
type Searcher interface {
	// FindNearby returns POIs within radiusM of center, optionally restricted
	// to one category (catalog.AnyCategory searches all).
	FindNearby(center geo.Coordinate, radiusM float64, categoryID int64) []Match
	// NearestOf returns the closest POI of the category, or false if the
	// category has no located POI.
	NearestOf(center geo.Coordinate, categoryID int64) (Match, bool)
	// POI looks up an indexed POI by id.
	POI(id int64) (catalog.POI, bool)
	// Len is the number of indexed POIs.
	Len() int
}

// NewSearcher builds a searcher of the given kind over pois.
func NewSearcher(kind string, pois []catalog.POI) (Searcher, error) {
	switch kind {
	case KindScan:
		return NewScanIndex(pois), nil
	case KindCell, "":
		return NewCellIndex(pois, DefaultCellLevel), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSearcher, kind)
	}
}

// LoadSearcher reads every POI from src and indexes it.
func LoadSearcher(ctx context.Context, kind string, src catalog.POISource) (Searcher, error) {
	pois, err := src.ListPOIs(ctx, catalog.AnyCategory)
	if err != nil {
		return nil, fmt.Errorf("failed to load pois: %w", err)
	}
	return NewSearcher(kind, pois)
}

// located drops POIs without a usable location.
func located(pois []catalog.POI) []catalog.POI {
	out := make([]catalog.POI, 0, len(pois))
	for _, p := range pois {
		if geo.Located(p.Location) {
			out = append(out, p)
		}
	}
	return out
}

func matchesCategory(p catalog.POI, categoryID int64) bool {
	return categoryID == catalog.AnyCategory || p.CategoryID == categoryID
}

func compareMatches(a, b Match) int {
	if c := cmp.Compare(a.DistanceM, b.DistanceM); c != 0 {
		return c
	}
	return cmp.Compare(a.POI.ID, b.POI.ID)
}

func sortMatches(ms []Match) {
	slices.SortFunc(ms, compareMatches)
}
