package proximity

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/geo"
	"github.com/onnwee/nestscout/internal/geo/geotest"
)

var barcelona = geo.Coordinate{Lat: 41.389, Lng: 2.159}

const (
	metro  int64 = 1
	school int64 = 2
)

func poiAt(id, category int64, bearing, distanceM float64) catalog.POI {
	loc := geotest.Destination(barcelona, bearing, distanceM)
	return catalog.POI{ID: id, Name: "poi", CategoryID: category, Location: &loc}
}

func fixturePOIs() []catalog.POI {
	return []catalog.POI{
		poiAt(1, metro, 0, 400),
		poiAt(2, metro, 90, 800),
		poiAt(3, school, 180, 300),
		poiAt(4, metro, 270, 2500),
		{ID: 5, Name: "unlocated", CategoryID: metro},
		{ID: 6, Name: "invalid", CategoryID: metro, Location: &geo.Coordinate{Lat: 123, Lng: 2}},
	}
}

func searchers(pois []catalog.POI) map[string]Searcher {
	return map[string]Searcher{
		KindScan: NewScanIndex(pois),
		KindCell: NewCellIndex(pois, DefaultCellLevel),
	}
}

func ids(ms []Match) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.POI.ID
	}
	return out
}

func TestFindNearby(t *testing.T) {
	tests := []struct {
		name     string
		radius   float64
		category int64
		want     []int64
	}{
		{name: "metro within 1km", radius: 1000, category: metro, want: []int64{1, 2}},
		{name: "all categories within 1km", radius: 1000, category: catalog.AnyCategory, want: []int64{3, 1, 2}},
		{name: "school only", radius: 1000, category: school, want: []int64{3}},
		{name: "wide radius", radius: 5000, category: metro, want: []int64{1, 2, 4}},
		{name: "nothing in range", radius: 100, category: metro, want: []int64{}},
		{name: "unknown category", radius: 5000, category: 99, want: []int64{}},
	}

	for kind, s := range searchers(fixturePOIs()) {
		for _, tt := range tests {
			t.Run(kind+"/"+tt.name, func(t *testing.T) {
				got := s.FindNearby(barcelona, tt.radius, tt.category)
				if !slices.Equal(ids(got), tt.want) {
					t.Errorf("expected %v, got %v", tt.want, ids(got))
				}
				for i, m := range got {
					if m.DistanceM > tt.radius {
						t.Errorf("match %d at %.1fm exceeds radius %.1f", m.POI.ID, m.DistanceM, tt.radius)
					}
					if i > 0 && got[i-1].DistanceM > m.DistanceM {
						t.Errorf("results not ascending at %d", i)
					}
				}
			})
		}
	}
}

func TestFindNearby_RadiusInclusive(t *testing.T) {
	pois := fixturePOIs()
	exact := geo.GreatCircleDistance(barcelona, *pois[1].Location)

	for kind, s := range searchers(pois) {
		t.Run(kind, func(t *testing.T) {
			got := s.FindNearby(barcelona, exact, metro)
			if !slices.Equal(ids(got), []int64{1, 2}) {
				t.Errorf("expected POI at exactly the radius to be included, got %v", ids(got))
			}
		})
	}
}

func TestFindNearby_TiesByID(t *testing.T) {
	loc := geotest.Destination(barcelona, 45, 500)
	pois := []catalog.POI{
		{ID: 9, CategoryID: metro, Location: &loc},
		{ID: 3, CategoryID: metro, Location: &loc},
		{ID: 7, CategoryID: metro, Location: &loc},
	}

	for kind, s := range searchers(pois) {
		t.Run(kind, func(t *testing.T) {
			got := s.FindNearby(barcelona, 1000, metro)
			if !slices.Equal(ids(got), []int64{3, 7, 9}) {
				t.Errorf("expected ties ordered by id, got %v", ids(got))
			}
		})
	}
}

func TestFindNearby_InvalidInput(t *testing.T) {
	for kind, s := range searchers(fixturePOIs()) {
		t.Run(kind, func(t *testing.T) {
			if got := s.FindNearby(geo.Coordinate{Lat: 91, Lng: 0}, 1000, metro); len(got) != 0 {
				t.Errorf("expected no matches for invalid centre, got %v", ids(got))
			}
			if got := s.FindNearby(barcelona, -1, metro); len(got) != 0 {
				t.Errorf("expected no matches for negative radius, got %v", ids(got))
			}
		})
	}
}

func TestNearestOf(t *testing.T) {
	for kind, s := range searchers(fixturePOIs()) {
		t.Run(kind, func(t *testing.T) {
			m, ok := s.NearestOf(barcelona, metro)
			if !ok {
				t.Fatal("expected a metro match")
			}
			if m.POI.ID != 1 {
				t.Errorf("expected POI 1, got %d", m.POI.ID)
			}
			if m.DistanceM < 399 || m.DistanceM > 401 {
				t.Errorf("expected ~400m, got %.2f", m.DistanceM)
			}

			if _, ok := s.NearestOf(barcelona, 99); ok {
				t.Error("expected no match for empty category")
			}

			// Far away from everything: only the full scan fallback finds it.
			far := geotest.Destination(barcelona, 0, 300000)
			m, ok = s.NearestOf(far, school)
			if !ok || m.POI.ID != 3 {
				t.Errorf("expected distant school 3, got %v (%v)", m.POI.ID, ok)
			}
		})
	}
}

func TestSearcher_POIAndLen(t *testing.T) {
	for kind, s := range searchers(fixturePOIs()) {
		t.Run(kind, func(t *testing.T) {
			if s.Len() != 4 {
				t.Errorf("expected 4 located POIs, got %d", s.Len())
			}
			if _, ok := s.POI(1); !ok {
				t.Error("expected POI 1 to be indexed")
			}
			if _, ok := s.POI(5); ok {
				t.Error("expected unlocated POI 5 to be excluded")
			}
		})
	}
}

func TestCellIndex_MatchesScan(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 7))
	pois := make([]catalog.POI, 0, 500)
	for i := range 500 {
		pois = append(pois, poiAt(int64(i+1), int64(r.IntN(3)+1), r.Float64()*360, r.Float64()*6000))
	}

	scan := NewScanIndex(pois)
	cell := NewCellIndex(pois, DefaultCellLevel)

	for _, radius := range []float64{0, 150, 750, 1500, 4000, 25000} {
		for _, category := range []int64{catalog.AnyCategory, 1, 2, 3} {
			want := ids(scan.FindNearby(barcelona, radius, category))
			got := ids(cell.FindNearby(barcelona, radius, category))
			if !slices.Equal(want, got) {
				t.Errorf("radius %.0f category %d: cell index returned %d matches, scan %d",
					radius, category, len(got), len(want))
			}
		}
	}

	for _, category := range []int64{1, 2, 3} {
		a, _ := scan.NearestOf(barcelona, category)
		b, _ := cell.NearestOf(barcelona, category)
		if a.POI.ID != b.POI.ID {
			t.Errorf("category %d: nearest differs, scan %d cell %d", category, a.POI.ID, b.POI.ID)
		}
	}
}

func TestNewSearcher(t *testing.T) {
	tests := []struct {
		kind    string
		wantErr bool
	}{
		{kind: KindScan},
		{kind: KindCell},
		{kind: ""},
		{kind: "rtree", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			s, err := NewSearcher(tt.kind, fixturePOIs())
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownSearcher) {
					t.Errorf("expected ErrUnknownSearcher, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Len() != 4 {
				t.Errorf("expected 4 POIs, got %d", s.Len())
			}
		})
	}
}
