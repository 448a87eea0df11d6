package catalog

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// ListingSource gives read access to listings.
type ListingSource interface {
	// ListListings returns every listing ordered by id.
	ListListings(ctx context.Context) ([]Listing, error)
	// GetListing returns ErrListingNotFound for unknown ids.
	GetListing(ctx context.Context, id int64) (*Listing, error)
}

// POISource gives read access to points of interest.
type POISource interface {
	// ListPOIs returns the POIs of one category, or all when categoryID is AnyCategory.
	ListPOIs(ctx context.Context, categoryID int64) ([]POI, error)
	ListCategories(ctx context.Context) ([]Category, error)
}

// Writer stores catalog records. Zero ids are assigned by the store.
type Writer interface {
	InsertCategory(ctx context.Context, c *Category) error
	InsertListing(ctx context.Context, l *Listing) error
	InsertPOI(ctx context.Context, p *POI) error
}

// InMemoryRepository is a thread-safe catalog used in tests and seed mode.
type InMemoryRepository struct {
	mu         sync.RWMutex
	listings   map[int64]Listing
	pois       map[int64]POI
	categories map[int64]Category
	nextID     int64
}

// NewInMemoryRepository creates an empty catalog.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		listings:   make(map[int64]Listing),
		pois:       make(map[int64]POI),
		categories: make(map[int64]Category),
	}
}

func (r *InMemoryRepository) assignID(id int64) int64 {
	if id == 0 {
		r.nextID++
		return r.nextID
	}
	if id > r.nextID {
		r.nextID = id
	}
	return id
}

// InsertCategory adds or replaces a category.
func (r *InMemoryRepository) InsertCategory(_ context.Context, c *Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.assignID(c.ID)
	r.categories[c.ID] = *c
	return nil
}

// InsertListing adds or replaces a listing.
func (r *InMemoryRepository) InsertListing(_ context.Context, l *Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.ID = r.assignID(l.ID)
	r.listings[l.ID] = *l
	return nil
}

// InsertPOI adds or replaces a POI.
func (r *InMemoryRepository) InsertPOI(_ context.Context, p *POI) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.assignID(p.ID)
	r.pois[p.ID] = *p
	return nil
}

// ListListings returns every listing ordered by id.
func (r *InMemoryRepository) ListListings(_ context.Context) ([]Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Listing, 0, len(r.listings))
	for _, id := range slices.Sorted(maps.Keys(r.listings)) {
		out = append(out, r.listings[id])
	}
	return out, nil
}

// GetListing returns a copy of the listing with the given id.
func (r *InMemoryRepository) GetListing(_ context.Context, id int64) (*Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	return &l, nil
}

// ListPOIs returns POIs ordered by id, optionally filtered by category.
func (r *InMemoryRepository) ListPOIs(_ context.Context, categoryID int64) ([]POI, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]POI, 0, len(r.pois))
	for _, id := range slices.Sorted(maps.Keys(r.pois)) {
		p := r.pois[id]
		if categoryID != AnyCategory && p.CategoryID != categoryID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ListCategories returns categories ordered by id.
func (r *InMemoryRepository) ListCategories(_ context.Context) ([]Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Category, 0, len(r.categories))
	for _, id := range slices.Sorted(maps.Keys(r.categories)) {
		out = append(out, r.categories[id])
	}
	return out, nil
}
