package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "idem:"

// RedisDeduper stores applied idempotency keys in Redis so every API instance
// rejects a replayed mutation.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(tenantID, key string) string {
	return dedupeKeyPrefix + tenantID + ":" + key
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, tenantID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(tenantID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key so the caller may retry.
func (r *RedisDeduper) Remove(ctx context.Context, tenantID, key string) error {
	return r.client.Del(ctx, r.key(tenantID, key)).Err()
}
