package rates

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const cacheKeyPrefix = "rates:usd:"

// RedisCache caches USD rates in Redis with a fixed TTL. A short TTL keeps
// invoice amounts close to the live market while absorbing issuance bursts.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache returns a RateCache backed by the given Redis client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached rate for a feed ID, if present and parseable.
// Cache errors are treated as misses so a Redis outage only costs an extra
// feed call, never a failed conversion.
func (c *RedisCache) Get(ctx context.Context, feedID string) (decimal.Decimal, bool) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+feedID).Result()
	if err != nil {
		return decimal.Decimal{}, false
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || !rate.IsPositive() {
		return decimal.Decimal{}, false
	}
	return rate, true
}

// Set stores a rate; write errors are ignored for the same reason.
func (c *RedisCache) Set(ctx context.Context, feedID string, rate decimal.Decimal) {
	_ = c.client.Set(ctx, cacheKeyPrefix+feedID, rate.String(), c.ttl).Err()
}
