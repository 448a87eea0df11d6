package proximity

import (
	"context"
	"slices"
	"sync"
)

// CachedDistance is a precomputed listing-to-POI distance.
type CachedDistance struct {
	ListingID   int64   `cbor:"listing_id" json:"listing_id"`
	POIID       int64   `cbor:"poi_id" json:"poi_id"`
	CategoryID  int64   `cbor:"category_id" json:"category_id"`
	DistanceM   float64 `cbor:"distance_m" json:"distance_m"`
	WalkTimeMin float64 `cbor:"walk_time_min" json:"walk_time_min"`
}

// DistanceCache is the fast path consulted before live searches.
type DistanceCache interface {
	// NearestCached returns the closest cached POI of the category for the
	// listing. A false result means the cache has nothing for that pair.
	NearestCached(ctx context.Context, listingID, categoryID int64) (CachedDistance, bool, error)
}

// DistanceWriter stores precomputed distances.
type DistanceWriter interface {
	// ReplaceDistances swaps every cached distance of a listing for ds.
	ReplaceDistances(ctx context.Context, listingID int64, ds []CachedDistance) error
}

// InMemoryDistanceCache is a thread-safe DistanceCache and DistanceWriter.
type InMemoryDistanceCache struct {
	mu        sync.RWMutex
	byListing map[int64][]CachedDistance
}

// NewInMemoryDistanceCache creates an empty cache.
func NewInMemoryDistanceCache() *InMemoryDistanceCache {
	return &InMemoryDistanceCache{byListing: make(map[int64][]CachedDistance)}
}

// ReplaceDistances implements DistanceWriter.
func (c *InMemoryDistanceCache) ReplaceDistances(_ context.Context, listingID int64, ds []CachedDistance) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ds) == 0 {
		delete(c.byListing, listingID)
		return nil
	}
	c.byListing[listingID] = slices.Clone(ds)
	return nil
}

// NearestCached implements DistanceCache.
func (c *InMemoryDistanceCache) NearestCached(_ context.Context, listingID, categoryID int64) (CachedDistance, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return nearestCached(c.byListing[listingID], categoryID)
}

// Len returns the number of cached distances.
func (c *InMemoryDistanceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, ds := range c.byListing {
		n += len(ds)
	}
	return n
}

func nearestCached(ds []CachedDistance, categoryID int64) (CachedDistance, bool, error) {
	var (
		best  CachedDistance
		found bool
	)
	for _, d := range ds {
		if d.CategoryID != categoryID {
			continue
		}
		if !found || d.DistanceM < best.DistanceM || (d.DistanceM == best.DistanceM && d.POIID < best.POIID) {
			best, found = d, true
		}
	}
	return best, found, nil
}
