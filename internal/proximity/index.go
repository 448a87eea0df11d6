package proximity

import (
	"context"
	"log/slog"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/geo"
)

// IndexConfig configures an Index.
type IndexConfig struct {
	// Cache is the optional precomputed distance fast path.
	Cache DistanceCache
	// Logger for cache failures. Defaults to slog.Default().
	Logger *slog.Logger
	// Metrics counts cache lookups. Optional.
	Metrics *Metrics
}

// Index is the proximity entry point used by scoring. Without a cache it is
// a thin wrapper over its Searcher.
type Index struct {
	searcher Searcher
	cache    DistanceCache
	logger   *slog.Logger
	metrics  *Metrics
}

// NewIndex wraps searcher.
func NewIndex(searcher Searcher, cfg IndexConfig) *Index {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Index{
		searcher: searcher,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Searcher returns the live searcher.
func (x *Index) Searcher() Searcher {
	return x.searcher
}

// FindNearby returns POIs within radiusM of center.
func (x *Index) FindNearby(center geo.Coordinate, radiusM float64, categoryID int64) []Match {
	return x.searcher.FindNearby(center, radiusM, categoryID)
}

// NearestOf returns the closest POI of the category to center.
func (x *Index) NearestOf(center geo.Coordinate, categoryID int64) (Match, bool) {
	return x.searcher.NearestOf(center, categoryID)
}

// NearestForListing returns the closest POI of the category to the listing.
// The cache is consulted first; a miss, a cache error or a cached POI the
// live index no longer knows falls back to a live search. Unlocated listings
// never match.
func (x *Index) NearestForListing(ctx context.Context, l *catalog.Listing, categoryID int64) (Match, bool) {
	if l == nil || !geo.Located(l.Location) {
		return Match{}, false
	}

	if x.cache != nil {
		cd, ok, err := x.cache.NearestCached(ctx, l.ID, categoryID)
		switch {
		case err != nil:
			x.count(ResultError)
			x.logger.WarnContext(ctx, "distance cache lookup failed, using live search",
				slog.Int64("listing_id", l.ID),
				slog.Int64("category_id", categoryID),
				slog.String("error", err.Error()))
		case !ok:
			x.count(ResultMiss)
		default:
			if poi, known := x.searcher.POI(cd.POIID); known {
				x.count(ResultHit)
				return Match{POI: poi, DistanceM: cd.DistanceM}, true
			}
			x.count(ResultStale)
		}
	}

	return x.searcher.NearestOf(*l.Location, categoryID)
}

// CountWithin counts POIs of the category within radiusM of the listing.
func (x *Index) CountWithin(l *catalog.Listing, radiusM float64, categoryID int64) int {
	if l == nil || !geo.Located(l.Location) {
		return 0
	}
	return len(x.searcher.FindNearby(*l.Location, radiusM, categoryID))
}

func (x *Index) count(result string) {
	if x.metrics != nil {
		x.metrics.IncCacheLookup(result)
	}
}
