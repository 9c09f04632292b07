package dedupe

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisCache backs Cache with a Redis SETNX — the first caller to mark
// a key wins, every later caller within ttl is told it was already
// seen, giving the publish guard its at-most-once-within-window shape.
type RedisCache struct {
	client *goredis.Client
}

// NewRedisCache builds a RedisCache against addr ("host:port").
func NewRedisCache(addr string) *RedisCache {
	return &RedisCache{client: goredis.NewClient(&goredis.Options{Addr: addr})}
}

func (c *RedisCache) SeenAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	marked, err := c.client.SetNX(ctx, "dedupe:"+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: redis SETNX: %w", err)
	}
	// marked == true means this call won the race and the key was not
	// previously seen.
	return !marked, nil
}

// Close releases the underlying Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
