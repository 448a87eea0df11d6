package scoring

import (
	"context"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/geo"
	"github.com/onnwee/nestscout/internal/geo/geotest"
	"github.com/onnwee/nestscout/internal/proximity"
)

var quietLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

var barcelona = geo.Coordinate{Lat: 41.389, Lng: 2.159}

const (
	metro  int64 = 1
	school int64 = 2
	park   int64 = 3
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func at(bearing, distanceM float64) *geo.Coordinate {
	c := geotest.Destination(barcelona, bearing, distanceM)
	return &c
}

// fixtureCategories, fixtureListings and fixturePOIs describe a small
// neighbourhood around one flat in Barcelona.
func fixtureCategories() []catalog.Category {
	return []catalog.Category{
		{ID: metro, Name: "metro"},
		{ID: school, Name: "school"},
		{ID: park, Name: "park"},
	}
}

func fixtureListings() []catalog.Listing {
	return []catalog.Listing{
		{
			ID:       10,
			Title:    "Flat in Gracia",
			Price:    floatPtr(250000),
			Bedrooms: intPtr(3),
			City:     "Barcelona",
			Location: &barcelona,
			Extra:    map[string]any{"floor": "4"},
		},
		{ID: 11, Title: "Unlocated loft", Price: floatPtr(180000), Bedrooms: intPtr(2)},
		{ID: 12, Title: "House far north", Price: floatPtr(400000), Bedrooms: intPtr(4), Location: at(0, 3000)},
	}
}

func fixturePOIs() []catalog.POI {
	return []catalog.POI{
		{ID: 1, Name: "Diagonal", CategoryID: metro, Location: at(0, 400)},
		{ID: 2, Name: "Park east", CategoryID: park, Location: at(90, 200)},
		{ID: 3, Name: "Park south", CategoryID: park, Location: at(180, 450)},
		{ID: 4, Name: "Park west", CategoryID: park, Location: at(270, 900)},
		{ID: 5, Name: "School", CategoryID: school, Location: at(45, 1500)},
	}
}

func newIndex(pois []catalog.POI) *proximity.Index {
	return proximity.NewIndex(proximity.NewScanIndex(pois), proximity.IndexConfig{Logger: quietLogger})
}

func newCatalog(t *testing.T, w catalog.Writer) {
	t.Helper()
	ctx := context.Background()
	for _, c := range fixtureCategories() {
		if err := w.InsertCategory(ctx, &c); err != nil {
			t.Fatalf("InsertCategory failed: %v", err)
		}
	}
	for _, l := range fixtureListings() {
		if err := w.InsertListing(ctx, &l); err != nil {
			t.Fatalf("InsertListing failed: %v", err)
		}
	}
	for _, p := range fixturePOIs() {
		if err := w.InsertPOI(ctx, &p); err != nil {
			t.Fatalf("InsertPOI failed: %v", err)
		}
	}
}

// fixture wires an engine over in-memory collaborators.
type fixture struct {
	catalog  *catalog.InMemoryRepository
	profiles *InMemoryProfileRepository
	store    *InMemoryScoreStore
	registry *Registry
	engine   *Engine
}

func newFixture(t *testing.T, cfg EngineConfig) *fixture {
	t.Helper()
	cat := catalog.NewInMemoryRepository()
	newCatalog(t, cat)

	f := &fixture{
		catalog:  cat,
		profiles: NewInMemoryProfileRepository(),
		store:    NewInMemoryScoreStore(cat),
		registry: NewRegistry(newIndex(fixturePOIs())),
	}
	if cfg.Logger == nil {
		cfg.Logger = quietLogger
	}
	f.engine = NewEngine(cfg, cat, f.profiles, f.store, f.registry)
	return f
}

func (f *fixture) createProfile(t *testing.T, rules ...Rule) int64 {
	t.Helper()
	p := &Profile{UserID: 7, Name: "family", Rules: rules}
	if err := f.profiles.CreateProfile(context.Background(), p); err != nil {
		t.Fatalf("CreateProfile failed: %v", err)
	}
	return p.ID
}

// fixedClock returns a clock that advances by one second per call.
func fixedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}
