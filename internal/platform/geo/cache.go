package geo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL = 24 * time.Hour
	cacheKeyPrefix  = "geo:geocode:"
)

// Geocoder resolves addresses to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}

// CachedGeocoder memoises geocode results in Redis. Cache failures fall through to the wrapped geocoder.
type CachedGeocoder struct {
	next   Geocoder
	client redis.Cmdable
	ttl    time.Duration
	logf   func(format string, args ...any)
}

// CacheOption customises the CachedGeocoder.
type CacheOption func(*CachedGeocoder)

// WithCacheLogf installs a logger for cache errors.
func WithCacheLogf(logf func(format string, args ...any)) CacheOption {
	return func(c *CachedGeocoder) {
		if logf != nil {
			c.logf = logf
		}
	}
}

// NewCachedGeocoder wraps next with a Redis-backed cache.
func NewCachedGeocoder(next Geocoder, client redis.Cmdable, ttl time.Duration, opts ...CacheOption) *CachedGeocoder {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cached := &CachedGeocoder{
		next:   next,
		client: client,
		ttl:    ttl,
		logf:   func(string, ...any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cached)
		}
	}
	return cached
}

// Geocode returns the cached point or resolves and stores it.
func (c *CachedGeocoder) Geocode(ctx context.Context, address string) (Point, error) {
	key := cacheKey(address)
	if c.client != nil {
		raw, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var point Point
			if jsonErr := json.Unmarshal(raw, &point); jsonErr == nil {
				return point, nil
			}
		case !errors.Is(err, redis.Nil):
			c.logf("geo: cache get failed: %v", err)
		}
	}

	point, err := c.next.Geocode(ctx, address)
	if err != nil {
		return Point{}, err
	}
	if c.client != nil {
		if raw, err := json.Marshal(point); err == nil {
			if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
				c.logf("geo: cache set failed: %v", err)
			}
		}
	}
	return point, nil
}

func cacheKey(address string) string {
	sum := sha256.Sum256([]byte(address))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
