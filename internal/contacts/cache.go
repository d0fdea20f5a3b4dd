package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores caller lookup results, including misses.
type Cache interface {
	Get(ctx context.Context, number string) (Match, bool, error)
	Set(ctx context.Context, number string, m Match) error
	Invalidate(ctx context.Context, numbers ...string) error
}

// RedisCache keeps lookup results under "lookup:<number>" with a TTL.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache wraps a go-redis client.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func lookupKey(number string) string {
	return "lookup:" + number
}

func (c *RedisCache) Get(ctx context.Context, number string) (Match, bool, error) {
	val, err := c.client.Get(ctx, lookupKey(number)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Match{}, false, nil
	}
	if err != nil {
		return Match{}, false, err
	}
	var m Match
	if err := json.Unmarshal(val, &m); err != nil {
		return Match{}, false, err
	}
	return m, true, nil
}

func (c *RedisCache) Set(ctx context.Context, number string, m Match) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, lookupKey(number), payload, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, numbers ...string) error {
	if len(numbers) == 0 {
		return nil
	}
	keys := make([]string, len(numbers))
	for i, n := range numbers {
		keys[i] = lookupKey(n)
	}
	return c.client.Del(ctx, keys...).Err()
}
