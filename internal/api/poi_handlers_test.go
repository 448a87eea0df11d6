package api

import (
	"net/http"
	"testing"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/proximity"
)

func TestNearby(t *testing.T) {
	s := newServer(t, nil)

	rr := s.do(t, http.MethodGet, "/pois/nearby?lat=41.389&lng=2.159", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rr.Code, rr.Body.String())
	}
	resp := decode[NearbyResponse](t, rr)
	if resp.Total != 2 {
		t.Fatalf("expected the two POIs within 1000 m, got %+v", resp)
	}
	if resp.Items[0].ID != 2 || resp.Items[1].ID != 1 {
		t.Errorf("results should be nearest first: %d, %d", resp.Items[0].ID, resp.Items[1].ID)
	}
	if d := resp.Items[0].DistanceM; d < 199.9 || d > 200.1 {
		t.Errorf("distance = %v, want ~200", d)
	}
	if w := resp.Items[0].WalkTimeMin; w != 2.4 {
		t.Errorf("walk time = %v, want 2.4", w)
	}

	filtered := decode[NearbyResponse](t, s.do(t, http.MethodGet, "/pois/nearby?lat=41.389&lng=2.159&radius=10000&category_id=2", nil))
	if filtered.Total != 2 || filtered.Items[1].ID != 3 {
		t.Errorf("category filter = %+v", filtered)
	}
}

func TestNearby_Validation(t *testing.T) {
	s := newServer(t, nil)
	tests := []struct {
		name  string
		query string
	}{
		{"missing coordinates", ""},
		{"missing lng", "?lat=41"},
		{"latitude out of range", "?lat=91&lng=2"},
		{"non-numeric radius", "?lat=41&lng=2&radius=far"},
		{"zero radius", "?lat=41&lng=2&radius=0"},
		{"huge radius", "?lat=41&lng=2&radius=1e9"},
		{"negative category", "?lat=41&lng=2&category_id=-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertError(t, s.do(t, http.MethodGet, "/pois/nearby"+tt.query, nil), http.StatusBadRequest, ErrCodeValidation)
		})
	}
}

func TestNearbyItems_Rounding(t *testing.T) {
	items := NearbyItems([]proximity.Match{{POI: catalog.POI{ID: 9}, DistanceM: 1234.5678}})
	if items[0].DistanceM != 1234.6 {
		t.Errorf("distance = %v, want 1234.6", items[0].DistanceM)
	}
	// 1234.5678 m at 5 km/h is 14.81 minutes.
	if items[0].WalkTimeMin != 14.8 {
		t.Errorf("walk time = %v, want 14.8", items[0].WalkTimeMin)
	}
}
