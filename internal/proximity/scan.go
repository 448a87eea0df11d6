package proximity

import (
	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/geo"
)

// ScanIndex measures the distance to every POI on each query.
// It is immutable after construction and safe for concurrent use.
type ScanIndex struct {
	pois []catalog.POI
	byID map[int64]catalog.POI
}

// NewScanIndex indexes the located POIs in pois.
func NewScanIndex(pois []catalog.POI) *ScanIndex {
	kept := located(pois)
	byID := make(map[int64]catalog.POI, len(kept))
	for _, p := range kept {
		byID[p.ID] = p
	}
	return &ScanIndex{pois: kept, byID: byID}
}

// FindNearby implements Searcher.
func (s *ScanIndex) FindNearby(center geo.Coordinate, radiusM float64, categoryID int64) []Match {
	if !center.Valid() || radiusM < 0 {
		return nil
	}

	var out []Match
	for _, p := range s.pois {
		if !matchesCategory(p, categoryID) {
			continue
		}
		d := geo.GreatCircleDistance(center, *p.Location)
		if d <= radiusM {
			out = append(out, Match{POI: p, DistanceM: d})
		}
	}
	sortMatches(out)
	return out
}

// NearestOf implements Searcher.
func (s *ScanIndex) NearestOf(center geo.Coordinate, categoryID int64) (Match, bool) {
	if !center.Valid() {
		return Match{}, false
	}
	return nearestIn(s.pois, center, categoryID)
}

// POI implements Searcher.
func (s *ScanIndex) POI(id int64) (catalog.POI, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// Len implements Searcher.
func (s *ScanIndex) Len() int {
	return len(s.pois)
}

func nearestIn(pois []catalog.POI, center geo.Coordinate, categoryID int64) (Match, bool) {
	var (
		best  Match
		found bool
	)
	for _, p := range pois {
		if !matchesCategory(p, categoryID) {
			continue
		}
		m := Match{POI: p, DistanceM: geo.GreatCircleDistance(center, *p.Location)}
		if !found || compareMatches(m, best) < 0 {
			best, found = m, true
		}
	}
	return best, found
}
