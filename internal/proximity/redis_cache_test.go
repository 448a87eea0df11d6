package proximity

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// countingCache records how often the backing store is consulted.
type countingCache struct {
	*InMemoryDistanceCache
	lookups int
}

func (c *countingCache) NearestCached(ctx context.Context, listingID, categoryID int64) (CachedDistance, bool, error) {
	c.lookups++
	return c.InMemoryDistanceCache.NearestCached(ctx, listingID, categoryID)
}

// TestRedisDistanceCache requires REDIS_URL, e.g. redis://localhost:6379/15.
func TestRedisDistanceCache(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping Redis integration test")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("invalid REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}

	listingID := time.Now().UnixNano()
	backing := &countingCache{InMemoryDistanceCache: NewInMemoryDistanceCache()}
	cache := NewRedisDistanceCache(client, backing, time.Minute)
	defer client.Del(context.Background(), redisKey(listingID))

	ctx = context.Background()
	if err := cache.ReplaceDistances(ctx, listingID, []CachedDistance{
		{ListingID: listingID, POIID: 1, CategoryID: metro, DistanceM: 400, WalkTimeMin: 4.8},
	}); err != nil {
		t.Fatalf("ReplaceDistances failed: %v", err)
	}

	for range 3 {
		cd, ok, err := cache.NearestCached(ctx, listingID, metro)
		if err != nil || !ok {
			t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
		}
		if cd.POIID != 1 || cd.DistanceM != 400 || cd.WalkTimeMin != 4.8 {
			t.Errorf("unexpected cached distance: %+v", cd)
		}
	}
	if backing.lookups != 1 {
		t.Errorf("expected backing store to be read once, got %d", backing.lookups)
	}

	// Negative results are cached too.
	for range 2 {
		if _, ok, err := cache.NearestCached(ctx, listingID, school); ok || err != nil {
			t.Errorf("expected miss, got ok=%v err=%v", ok, err)
		}
	}
	if backing.lookups != 2 {
		t.Errorf("expected one backing read for the miss, got %d total", backing.lookups)
	}

	// Replacing invalidates.
	if err := cache.ReplaceDistances(ctx, listingID, []CachedDistance{
		{ListingID: listingID, POIID: 2, CategoryID: metro, DistanceM: 100},
	}); err != nil {
		t.Fatalf("ReplaceDistances failed: %v", err)
	}
	cd, ok, _ := cache.NearestCached(ctx, listingID, metro)
	if !ok || cd.POIID != 2 {
		t.Errorf("expected refreshed POI 2, got %+v (%v)", cd, ok)
	}
}
