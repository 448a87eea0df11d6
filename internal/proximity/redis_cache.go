package proximity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL is how long a cached nearest lookup lives in Redis.
const DefaultRedisTTL = time.Hour

const redisKeyPrefix = "nestscout:nearest:"

// redisEntry is the CBOR payload stored per (listing, category). Found is
// false for negative results so repeated misses skip the backing store.
type redisEntry struct {
	Found    bool           `cbor:"found"`
	Distance CachedDistance `cbor:"distance"`
}

// backingCache is the store behind RedisDistanceCache.
type backingCache interface {
	DistanceCache
	DistanceWriter
}

// RedisDistanceCache is a read-through cache in front of another distance
// cache. Each listing owns one hash keyed by category id.
type RedisDistanceCache struct {
	client  *redis.Client
	backing backingCache
	ttl     time.Duration
}

// NewRedisDistanceCache wraps backing with Redis. A non-positive ttl uses
// DefaultRedisTTL.
func NewRedisDistanceCache(client *redis.Client, backing backingCache, ttl time.Duration) *RedisDistanceCache {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisDistanceCache{client: client, backing: backing, ttl: ttl}
}

func redisKey(listingID int64) string {
	return redisKeyPrefix + strconv.FormatInt(listingID, 10)
}

// NearestCached implements DistanceCache.
func (c *RedisDistanceCache) NearestCached(ctx context.Context, listingID, categoryID int64) (CachedDistance, bool, error) {
	key := redisKey(listingID)
	field := strconv.FormatInt(categoryID, 10)

	raw, err := c.client.HGet(ctx, key, field).Bytes()
	switch {
	case err == nil:
		var e redisEntry
		if err := cbor.Unmarshal(raw, &e); err != nil {
			return CachedDistance{}, false, fmt.Errorf("failed to decode cached distance: %w", err)
		}
		return e.Distance, e.Found, nil
	case !errors.Is(err, redis.Nil):
		return CachedDistance{}, false, fmt.Errorf("failed to read cached distance: %w", err)
	}

	cd, found, err := c.backing.NearestCached(ctx, listingID, categoryID)
	if err != nil {
		return CachedDistance{}, false, err
	}

	payload, err := cbor.Marshal(redisEntry{Found: found, Distance: cd})
	if err != nil {
		return CachedDistance{}, false, fmt.Errorf("failed to encode cached distance: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, field, payload)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return CachedDistance{}, false, fmt.Errorf("failed to store cached distance: %w", err)
	}
	return cd, found, nil
}

// ReplaceDistances writes through to the backing store and drops the
// listing's Redis entries.
func (c *RedisDistanceCache) ReplaceDistances(ctx context.Context, listingID int64, ds []CachedDistance) error {
	if err := c.backing.ReplaceDistances(ctx, listingID, ds); err != nil {
		return err
	}
	if err := c.client.Del(ctx, redisKey(listingID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached distances: %w", err)
	}
	return nil
}
