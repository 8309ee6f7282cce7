package tiers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces tier snapshots in Redis.
const redisKeyPrefix = "ranking:tier:"

// RedisStore implements Store on Redis. Snapshots are JSON encoded, one key
// per member.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed tier store. A zero ttl keeps
// snapshots until overwritten.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(key MemberKey) string {
	return redisKeyPrefix + key.TenantID + ":" + key.MemberID
}

// SaveTier stores a tier snapshot.
func (s *RedisStore) SaveTier(ctx context.Context, t MemberTier) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode tier snapshot: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(t.Key()), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save tier snapshot %s: %w", t.Key(), err)
	}
	return nil
}

// GetTier retrieves a tier snapshot. Returns nil, nil when absent.
func (s *RedisStore) GetTier(ctx context.Context, key MemberKey) (*MemberTier, error) {
	data, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tier snapshot %s: %w", key, err)
	}

	var t MemberTier
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode tier snapshot %s: %w", key, err)
	}
	return &t, nil
}
