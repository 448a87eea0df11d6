package api

import (
	"math"
	"net/http"
	"strconv"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/geo"
	"github.com/onnwee/nestscout/internal/proximity"
)

// Nearby search bounds.
const (
	DefaultNearbyRadiusM = 1000.0
	MaxNearbyRadiusM     = 50000.0
)

// NearbyPOI is one result of GET /pois/nearby.
type NearbyPOI struct {
	catalog.POI
	DistanceM   float64 `json:"distance_m"`
	WalkTimeMin float64 `json:"walk_time_min"`
}

// NearbyResponse is the body of GET /pois/nearby.
type NearbyResponse struct {
	Items []NearbyPOI `json:"items"`
	Total int         `json:"total"`
}

// POIHandlers serves point-of-interest searches.
type POIHandlers struct {
	index *proximity.Index
}

// NewPOIHandlers creates a new POIHandlers instance.
func NewPOIHandlers(index *proximity.Index) *POIHandlers {
	return &POIHandlers{index: index}
}

// Nearby handles GET /pois/nearby?lat=&lng=&radius=&category_id=.
func (h *POIHandlers) Nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "lat and lng are required")
		return
	}
	center := geo.Coordinate{Lat: lat, Lng: lng}
	if !center.Valid() {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "lat must be in [-90,90] and lng in [-180,180]")
		return
	}

	radius := DefaultNearbyRadiusM
	if raw := q.Get("radius"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || !(v > 0) || v > MaxNearbyRadiusM {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "radius must be a positive number of meters up to 50000")
			return
		}
		radius = v
	}

	categoryID := catalog.AnyCategory
	if raw := q.Get("category_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "category_id must be a non-negative integer")
			return
		}
		categoryID = v
	}

	items := NearbyItems(h.index.FindNearby(center, radius, categoryID))
	writeJSON(w, r.Context(), http.StatusOK, NearbyResponse{Items: items, Total: len(items)})
}

// NearbyItems converts matches into response items with distance and
// walking time rounded to one decimal.
func NearbyItems(matches []proximity.Match) []NearbyPOI {
	items := make([]NearbyPOI, len(matches))
	for i, m := range matches {
		items[i] = NearbyPOI{
			POI:         m.POI,
			DistanceM:   round1(m.DistanceM),
			WalkTimeMin: round1(geo.WalkTimeMinutes(m.DistanceM, geo.DefaultWalkSpeedKmh)),
		}
	}
	return items
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
