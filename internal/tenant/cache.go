package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/matchrank/internal/tracing"
)

// DefaultCacheTTL is how long a tenant blob stays cached when no TTL is
// configured.
const DefaultCacheTTL = 5 * time.Minute

// Cache stores raw tenant blobs. Get reports a miss with ok == false.
type Cache interface {
	Get(ctx context.Context, tenantID string) (blob []byte, ok bool, err error)
	Set(ctx context.Context, tenantID string, blob []byte) error
	Delete(ctx context.Context, tenantID string) error
}

// RedisCache caches blobs in Redis under ranking:config:<tenant>.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache. A non-positive ttl uses
// DefaultCacheTTL.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(tenantID string) string {
	return "ranking:config:" + tenantID
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, tenantID string) (_ []byte, _ bool, err error) {
	key := cacheKey(tenantID)
	ctx, endSpan := tracing.StartCacheSpan(ctx, "get", key)
	defer func() { endSpan(err) }()

	blob, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return blob, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, tenantID string, blob []byte) (err error) {
	key := cacheKey(tenantID)
	ctx, endSpan := tracing.StartCacheSpan(ctx, "set", key)
	defer func() { endSpan(err) }()

	if err = c.client.Set(ctx, key, blob, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, tenantID string) error {
	key := cacheKey(tenantID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
