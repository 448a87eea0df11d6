package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/nestscout/internal/db/dbtest"
	"github.com/onnwee/nestscout/internal/geo"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

// repositoryUnderTest is satisfied by both catalog implementations.
type repositoryUnderTest interface {
	ListingSource
	POISource
	Writer
}

func repositories(t *testing.T) map[string]repositoryUnderTest {
	t.Helper()
	return map[string]repositoryUnderTest{
		"memory": NewInMemoryRepository(),
		"sqlite": NewSQLRepository(dbtest.NewSQLite(t)),
	}
}

func seedCatalog(t *testing.T, repo Writer) {
	t.Helper()
	ctx := context.Background()

	for _, c := range []*Category{
		{ID: 1, Name: "metro", Icon: "train", Color: "#ff0000"},
		{ID: 2, Name: "school"},
	} {
		if err := repo.InsertCategory(ctx, c); err != nil {
			t.Fatalf("InsertCategory failed: %v", err)
		}
	}

	listings := []*Listing{
		{
			ID:         10,
			ExternalID: "ext-10",
			Title:      "Flat in Gracia",
			Price:      floatPtr(350000),
			Bedrooms:   intPtr(3),
			AreaM2:     floatPtr(85),
			City:       "Barcelona",
			Location:   &geo.Coordinate{Lat: 41.389, Lng: 2.159},
			Extra:      map[string]any{"floor": 4.0},
		},
		{ID: 11, Title: "Unlocated loft"},
	}
	for _, l := range listings {
		if err := repo.InsertListing(ctx, l); err != nil {
			t.Fatalf("InsertListing failed: %v", err)
		}
	}

	pois := []*POI{
		{ID: 100, Name: "Diagonal", CategoryID: 1, Location: &geo.Coordinate{Lat: 41.392, Lng: 2.159}, Rating: floatPtr(4.2)},
		{ID: 101, Name: "Escola", CategoryID: 2, Location: &geo.Coordinate{Lat: 41.388, Lng: 2.160}},
		{ID: 102, Name: "Ghost station", CategoryID: 1},
	}
	for _, p := range pois {
		if err := repo.InsertPOI(ctx, p); err != nil {
			t.Fatalf("InsertPOI failed: %v", err)
		}
	}
}

func TestRepository_Listings(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			seedCatalog(t, repo)
			ctx := context.Background()

			listings, err := repo.ListListings(ctx)
			if err != nil {
				t.Fatalf("ListListings failed: %v", err)
			}
			if len(listings) != 2 {
				t.Fatalf("expected 2 listings, got %d", len(listings))
			}
			if listings[0].ID != 10 || listings[1].ID != 11 {
				t.Errorf("expected listings ordered by id, got %d, %d", listings[0].ID, listings[1].ID)
			}

			l, err := repo.GetListing(ctx, 10)
			if err != nil {
				t.Fatalf("GetListing failed: %v", err)
			}
			if l.Title != "Flat in Gracia" || l.City != "Barcelona" {
				t.Errorf("unexpected listing: %+v", l)
			}
			if l.Price == nil || *l.Price != 350000 {
				t.Errorf("expected price 350000, got %v", l.Price)
			}
			if l.Bedrooms == nil || *l.Bedrooms != 3 {
				t.Errorf("expected 3 bedrooms, got %v", l.Bedrooms)
			}
			if l.Location == nil || l.Location.Lat != 41.389 {
				t.Errorf("expected location, got %v", l.Location)
			}
			if v, ok := l.Attribute("floor"); !ok || v != 4.0 {
				t.Errorf("expected extra floor 4, got %v (%v)", v, ok)
			}

			unlocated, err := repo.GetListing(ctx, 11)
			if err != nil {
				t.Fatalf("GetListing failed: %v", err)
			}
			if unlocated.Location != nil {
				t.Errorf("expected nil location, got %v", unlocated.Location)
			}

			if _, err := repo.GetListing(ctx, 999); !errors.Is(err, ErrListingNotFound) {
				t.Errorf("expected ErrListingNotFound, got %v", err)
			}
		})
	}
}

func TestRepository_POIs(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			seedCatalog(t, repo)
			ctx := context.Background()

			all, err := repo.ListPOIs(ctx, AnyCategory)
			if err != nil {
				t.Fatalf("ListPOIs failed: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("expected 3 pois, got %d", len(all))
			}

			metro, err := repo.ListPOIs(ctx, 1)
			if err != nil {
				t.Fatalf("ListPOIs failed: %v", err)
			}
			if len(metro) != 2 {
				t.Fatalf("expected 2 metro pois, got %d", len(metro))
			}
			if metro[0].Rating == nil || *metro[0].Rating != 4.2 {
				t.Errorf("expected rating 4.2, got %v", metro[0].Rating)
			}
			if metro[1].Location != nil {
				t.Errorf("expected ghost station without location, got %v", metro[1].Location)
			}

			categories, err := repo.ListCategories(ctx)
			if err != nil {
				t.Fatalf("ListCategories failed: %v", err)
			}
			if len(categories) != 2 || categories[0].Name != "metro" || categories[0].Color != "#ff0000" {
				t.Errorf("unexpected categories: %+v", categories)
			}
		})
	}
}

func TestRepository_AssignsIDs(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := &Category{Name: "park"}
			if err := repo.InsertCategory(ctx, c); err != nil {
				t.Fatalf("InsertCategory failed: %v", err)
			}
			if c.ID == 0 {
				t.Error("expected category id to be assigned")
			}

			l := &Listing{Title: "New build"}
			if err := repo.InsertListing(ctx, l); err != nil {
				t.Fatalf("InsertListing failed: %v", err)
			}
			if l.ID == 0 {
				t.Error("expected listing id to be assigned")
			}
		})
	}
}

func TestListingAttribute(t *testing.T) {
	l := Listing{
		Title:     "Flat",
		Price:     floatPtr(200000),
		Bedrooms:  intPtr(2),
		City:      "Girona",
		Operation: "rent",
		Extra:     map[string]any{"floor": 3.0, "terrace": true, "nothing": nil},
	}

	tests := []struct {
		name   string
		attr   string
		want   any
		wantOK bool
	}{
		{"price", "price", 200000.0, true},
		{"bedrooms", "bedrooms", 2, true},
		{"missing bathrooms", "bathrooms", nil, false},
		{"missing area", "area_m2", nil, false},
		{"city", "city", "Girona", true},
		{"operation", "operation", "rent", true},
		{"empty postal code", "postal_code", "", false},
		{"extra numeric", "floor", 3.0, true},
		{"extra bool", "terrace", true, true},
		{"extra nil", "nothing", nil, false},
		{"unknown", "pool", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := l.Attribute(tt.attr)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if ok && got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
