package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/geo"
	"github.com/onnwee/nestscout/internal/geo/geotest"
	"github.com/onnwee/nestscout/internal/middleware"
	"github.com/onnwee/nestscout/internal/proximity"
	"github.com/onnwee/nestscout/internal/scoring"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var center = geo.Coordinate{Lat: 41.389, Lng: 2.159}

const (
	metroCategory int64 = 1
	parkCategory  int64 = 2
)

func floatPtr(f float64) *float64 { return &f }

func offset(bearing, distanceM float64) *geo.Coordinate {
	c := geotest.Destination(center, bearing, distanceM)
	return &c
}

func testPOIs() []catalog.POI {
	return []catalog.POI{
		{ID: 1, Name: "Diagonal", CategoryID: metroCategory, Location: offset(0, 400)},
		{ID: 2, Name: "Park east", CategoryID: parkCategory, Location: offset(90, 200)},
		{ID: 3, Name: "Park far", CategoryID: parkCategory, Location: offset(180, 5000)},
	}
}

// server wires the router over in-memory collaborators.
type server struct {
	handler  http.Handler
	engine   *scoring.Engine
	profiles *scoring.InMemoryProfileRepository
	store    *scoring.InMemoryScoreStore
	dirty    *scoring.DirtyTracker
}

func newServer(t *testing.T, limiter *middleware.Limiter) *server {
	t.Helper()
	ctx := context.Background()

	cat := catalog.NewInMemoryRepository()
	for _, c := range []catalog.Category{{ID: metroCategory, Name: "metro"}, {ID: parkCategory, Name: "park"}} {
		if err := cat.InsertCategory(ctx, &c); err != nil {
			t.Fatalf("InsertCategory failed: %v", err)
		}
	}
	for _, l := range []catalog.Listing{
		{ID: 10, Title: "Flat in Gracia", Price: floatPtr(250000), City: "Barcelona", Location: &center},
		{ID: 11, Title: "Unlocated loft"},
		{ID: 12, Title: "House far north", Location: offset(0, 3000)},
	} {
		if err := cat.InsertListing(ctx, &l); err != nil {
			t.Fatalf("InsertListing failed: %v", err)
		}
	}
	pois := testPOIs()
	for _, p := range pois {
		if err := cat.InsertPOI(ctx, &p); err != nil {
			t.Fatalf("InsertPOI failed: %v", err)
		}
	}

	index := proximity.NewIndex(proximity.NewScanIndex(pois), proximity.IndexConfig{Logger: quietLogger})
	s := &server{
		profiles: scoring.NewInMemoryProfileRepository(),
		store:    scoring.NewInMemoryScoreStore(cat),
		dirty:    scoring.NewDirtyTracker(),
	}
	s.engine = scoring.NewEngine(scoring.EngineConfig{Workers: 2, Logger: quietLogger},
		cat, s.profiles, s.store, scoring.NewRegistry(index))

	s.handler = NewRouter(RouterConfig{
		Scores:         NewScoreHandlers(s.engine),
		Profiles:       NewProfileHandlers(s.profiles, s.dirty),
		POIs:           NewPOIHandlers(index),
		Jobs:           NewJobHandlers(s.engine.Tracker(), 10*time.Millisecond),
		Health:         NewHealthHandlers(),
		ComputeLimiter: limiter,
	})
	return s
}

// createProfile stores a profile whose single rule gives listing 10 a
// total of 60.
func (s *server) createProfile(t *testing.T) int64 {
	t.Helper()
	p := &scoring.Profile{UserID: 1, Name: "commuter", Rules: []scoring.Rule{
		{Type: scoring.RuleProximity, CategoryID: metroCategory, MaxDistanceM: floatPtr(1000), Weight: 1},
	}}
	if err := s.profiles.CreateProfile(context.Background(), p); err != nil {
		t.Fatalf("CreateProfile failed: %v", err)
	}
	return p.ID
}

func (s *server) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "192.0.2.10:4000"
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode body: %v, body: %s", err, rr.Body.String())
	}
	return v
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d, body: %s", rr.Code, status, rr.Body.String())
	}
	if resp := decode[ErrorResponse](t, rr); resp.Error.Code != code {
		t.Errorf("error code = %q, want %q", resp.Error.Code, code)
	}
}
