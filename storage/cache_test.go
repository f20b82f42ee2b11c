package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"slotboard/domain"
)

type stubBackend struct {
	fetchFn  func(ctx context.Context, tenantID string) ([]domain.Initiative, error)
	assignFn func(ctx context.Context, tenantID, id string, slot int) error
	removeFn func(ctx context.Context, tenantID, id string) error
	swapFn   func(ctx context.Context, tenantID, dragged string, slot int, target string) (domain.SwapResult, error)
}

func (s *stubBackend) FetchInitiatives(ctx context.Context, tenantID string) ([]domain.Initiative, error) {
	if s.fetchFn == nil {
		return nil, errors.New("unexpected FetchInitiatives call")
	}
	return s.fetchFn(ctx, tenantID)
}

func (s *stubBackend) Assign(ctx context.Context, tenantID, id string, slot int) error {
	if s.assignFn == nil {
		return errors.New("unexpected Assign call")
	}
	return s.assignFn(ctx, tenantID, id, slot)
}

func (s *stubBackend) RemoveFromSlot(ctx context.Context, tenantID, id string) error {
	if s.removeFn == nil {
		return errors.New("unexpected RemoveFromSlot call")
	}
	return s.removeFn(ctx, tenantID, id)
}

func (s *stubBackend) Swap(ctx context.Context, tenantID, dragged string, slot int, target string) (domain.SwapResult, error) {
	if s.swapFn == nil {
		return domain.SwapResult{}, errors.New("unexpected Swap call")
	}
	return s.swapFn(ctx, tenantID, dragged, slot, target)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheFetchMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	expected := []domain.Initiative{
		{ID: "a", Title: "Alpha", Slot: domain.IntPtr(1)},
		{ID: "b", Title: "Beta"},
	}

	var calls int
	cache := NewCache(&stubBackend{
		fetchFn: func(ctx context.Context, tenant string) ([]domain.Initiative, error) {
			calls++
			if tenant != "org" {
				t.Fatalf("unexpected tenant: %s", tenant)
			}
			return append([]domain.Initiative(nil), expected...), nil
		},
	}, client, time.Minute)

	got, err := cache.FetchInitiatives(ctx, "org")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Fatalf("unexpected initiatives (-want +got):\n%s", diff)
	}
	if ttl := mr.TTL(initiativesCacheKey("org")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.FetchInitiatives(ctx, "org")
	if err != nil {
		t.Fatalf("fetch cached: %v", err)
	}
	if diff := cmp.Diff(expected, cached); diff != "" {
		t.Fatalf("unexpected cached initiatives (-want +got):\n%s", diff)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheEvictsOnMutation(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	backend := &stubBackend{
		fetchFn: func(ctx context.Context, tenant string) ([]domain.Initiative, error) {
			return []domain.Initiative{{ID: "a", Title: "A"}}, nil
		},
		assignFn: func(ctx context.Context, tenant, id string, slot int) error { return nil },
		removeFn: func(ctx context.Context, tenant, id string) error { return domain.ErrNotSlotted },
		swapFn: func(ctx context.Context, tenant, dragged string, slot int, target string) (domain.SwapResult, error) {
			return domain.SwapResult{Dragged: domain.Initiative{ID: dragged, Slot: domain.IntPtr(slot)}}, nil
		},
	}
	cache := NewCache(backend, client, time.Minute)

	mutations := map[string]func() error{
		"assign": func() error { return cache.Assign(ctx, "org", "a", 2) },
		"remove": func() error {
			if err := cache.RemoveFromSlot(ctx, "org", "a"); !errors.Is(err, domain.ErrNotSlotted) {
				return err
			}
			return nil
		},
		"swap": func() error {
			_, err := cache.Swap(ctx, "org", "a", 3, "")
			return err
		},
	}
	for name, mutate := range mutations {
		if _, err := cache.FetchInitiatives(ctx, "org"); err != nil {
			t.Fatalf("%s: prime: %v", name, err)
		}
		if !mr.Exists(initiativesCacheKey("org")) {
			t.Fatalf("%s: expected cache entry", name)
		}
		if err := mutate(); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if mr.Exists(initiativesCacheKey("org")) {
			t.Fatalf("%s: expected cache eviction", name)
		}
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	if err := mr.Set(initiativesCacheKey("org"), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var calls int
	cache := NewCache(&stubBackend{
		fetchFn: func(ctx context.Context, tenant string) ([]domain.Initiative, error) {
			calls++
			return []domain.Initiative{{ID: "a"}}, nil
		},
	}, client, time.Minute)

	got, err := cache.FetchInitiatives(context.Background(), "org")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls != 1 || len(got) != 1 {
		t.Fatalf("expected backend fallback, calls=%d got=%v", calls, got)
	}
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	var calls int
	cache := NewCache(&stubBackend{
		fetchFn: func(ctx context.Context, tenant string) ([]domain.Initiative, error) {
			calls++
			return nil, nil
		},
	}, nil, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.FetchInitiatives(context.Background(), "org"); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected every fetch to reach the backend, got %d", calls)
	}
}

func TestNewCachePanicsOnNilBase(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewCache(nil, nil, time.Minute)
}
