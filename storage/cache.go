package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"slotboard/domain"
)

// Backend is the remote slot store contract shared by the table and SQLite
// implementations.
type Backend interface {
	FetchInitiatives(ctx context.Context, tenantID string) ([]domain.Initiative, error)
	Assign(ctx context.Context, tenantID, initiativeID string, slot int) error
	RemoveFromSlot(ctx context.Context, tenantID, initiativeID string) error
	Swap(ctx context.Context, tenantID, draggedID string, targetSlot int, targetID string) (domain.SwapResult, error)
}

// Cache wraps a Backend with Redis-backed caching of the initiative list.
// Every mutation evicts the tenant's cached list, whatever its outcome, since
// a failed mutation usually means the cached view was stale.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchInitiatives(ctx context.Context, tenantID string) ([]domain.Initiative, error) {
	if initiatives, ok := c.load(ctx, tenantID); ok {
		return initiatives, nil
	}
	initiatives, err := c.base.FetchInitiatives(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, tenantID, initiatives)
	return initiatives, nil
}

func (c *Cache) Assign(ctx context.Context, tenantID, initiativeID string, slot int) error {
	defer c.evict(ctx, tenantID)
	return c.base.Assign(ctx, tenantID, initiativeID, slot)
}

func (c *Cache) RemoveFromSlot(ctx context.Context, tenantID, initiativeID string) error {
	defer c.evict(ctx, tenantID)
	return c.base.RemoveFromSlot(ctx, tenantID, initiativeID)
}

func (c *Cache) Swap(ctx context.Context, tenantID, draggedID string, targetSlot int, targetID string) (domain.SwapResult, error) {
	defer c.evict(ctx, tenantID)
	return c.base.Swap(ctx, tenantID, draggedID, targetSlot, targetID)
}

func (c *Cache) load(ctx context.Context, tenantID string) ([]domain.Initiative, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, initiativesCacheKey(tenantID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, initiativesCacheKey(tenantID)).Err()
		}
		return nil, false
	}
	var initiatives []domain.Initiative
	if err := sonic.Unmarshal(data, &initiatives); err != nil {
		_ = c.redis.Del(ctx, initiativesCacheKey(tenantID)).Err()
		return nil, false
	}
	return initiatives, true
}

func (c *Cache) store(ctx context.Context, tenantID string, initiatives []domain.Initiative) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(initiatives)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, initiativesCacheKey(tenantID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, tenantID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(context.WithoutCancel(ctx), initiativesCacheKey(tenantID)).Err()
}

func initiativesCacheKey(tenantID string) string {
	return "initiatives:" + tenantID
}
