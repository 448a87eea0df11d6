package proximity

import (
	"github.com/golang/geo/s2"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/geo"
)

// DefaultCellLevel buckets POIs into S2 cells roughly 1 km across.
const DefaultCellLevel = 13

// maxCoverRadiusM is the largest radius answered from a cell covering.
// Wider searches scan the category directly, which is cheaper than
// enumerating thousands of cells.
const maxCoverRadiusM = 20000.0

// nearestSearchRadii are the growing radii tried by NearestOf before it
// falls back to a full scan.
var nearestSearchRadii = []float64{1000, 4000, 16000}

// CellIndex buckets POIs by S2 cell. It is immutable after construction and
// safe for concurrent use.
type CellIndex struct {
	level      int
	cells      map[s2.CellID][]catalog.POI
	byCategory map[int64][]catalog.POI
	all        []catalog.POI
	byID       map[int64]catalog.POI
}

// NewCellIndex indexes the located POIs in pois at the given S2 level.
func NewCellIndex(pois []catalog.POI, level int) *CellIndex {
	if level <= 0 || level > s2.MaxLevel {
		level = DefaultCellLevel
	}

	kept := located(pois)
	idx := &CellIndex{
		level:      level,
		cells:      make(map[s2.CellID][]catalog.POI),
		byCategory: make(map[int64][]catalog.POI),
		all:        kept,
		byID:       make(map[int64]catalog.POI, len(kept)),
	}
	for _, p := range kept {
		cell := s2.CellIDFromLatLng(p.Location.LatLng()).Parent(level)
		idx.cells[cell] = append(idx.cells[cell], p)
		idx.byCategory[p.CategoryID] = append(idx.byCategory[p.CategoryID], p)
		idx.byID[p.ID] = p
	}
	return idx
}

// FindNearby implements Searcher.
func (c *CellIndex) FindNearby(center geo.Coordinate, radiusM float64, categoryID int64) []Match {
	if !center.Valid() || radiusM < 0 {
		return nil
	}
	if radiusM > maxCoverRadiusM {
		return c.scan(center, radiusM, categoryID)
	}

	capRegion := s2.CapFromCenterAngle(s2.PointFromLatLng(center.LatLng()), geo.AngleForDistance(radiusM))
	coverer := &s2.RegionCoverer{MinLevel: c.level, MaxLevel: c.level, LevelMod: 1, MaxCells: 64}

	var out []Match
	collect := func(cell s2.CellID) {
		for _, p := range c.cells[cell] {
			if !matchesCategory(p, categoryID) {
				continue
			}
			d := geo.GreatCircleDistance(center, *p.Location)
			if d <= radiusM {
				out = append(out, Match{POI: p, DistanceM: d})
			}
		}
	}

	for _, cell := range coverer.Covering(capRegion) {
		if cell.Level() == c.level {
			collect(cell)
			continue
		}
		// Coarser cells can appear if the covering gets normalized.
		for child := cell.ChildBeginAtLevel(c.level); child != cell.ChildEndAtLevel(c.level); child = child.Next() {
			collect(child)
		}
	}

	sortMatches(out)
	return out
}

// NearestOf implements Searcher. It widens the search radius until a POI of
// the category turns up, then falls back to scanning the category.
func (c *CellIndex) NearestOf(center geo.Coordinate, categoryID int64) (Match, bool) {
	if !center.Valid() {
		return Match{}, false
	}

	candidates := c.candidates(categoryID)
	if len(candidates) == 0 {
		return Match{}, false
	}

	for _, r := range nearestSearchRadii {
		if ms := c.FindNearby(center, r, categoryID); len(ms) > 0 {
			return ms[0], true
		}
	}
	return nearestIn(candidates, center, categoryID)
}

// POI implements Searcher.
func (c *CellIndex) POI(id int64) (catalog.POI, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Len implements Searcher.
func (c *CellIndex) Len() int {
	return len(c.all)
}

func (c *CellIndex) candidates(categoryID int64) []catalog.POI {
	if categoryID == catalog.AnyCategory {
		return c.all
	}
	return c.byCategory[categoryID]
}

func (c *CellIndex) scan(center geo.Coordinate, radiusM float64, categoryID int64) []Match {
	var out []Match
	for _, p := range c.candidates(categoryID) {
		d := geo.GreatCircleDistance(center, *p.Location)
		if d <= radiusM {
			out = append(out, Match{POI: p, DistanceM: d})
		}
	}
	sortMatches(out)
	return out
}
