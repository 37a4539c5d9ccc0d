// --- File: internal/storage/cache/setstore.go ---
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedSetStore is a Decorator that adds Read-Aside caching of Members to any SetStore.
type CachedSetStore struct {
	realStore dispatch.SetStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedSetStore(realStore dispatch.SetStore, cache CacheClient, ttl time.Duration) *CachedSetStore {
	return &CachedSetStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedSetStore) Members(ctx context.Context, key string) ([]string, error) {
	cacheKey := s.cacheKey(key)

	var cached []string
	if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.Members(ctx, key)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction. If Redis is down we serve from the DB.
	_ = s.cache.Set(ctx, cacheKey, fresh, s.ttl)

	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedSetStore) Add(ctx context.Context, key, member string) (bool, error) {
	changed, err := s.realStore.Add(ctx, key, member)
	if err != nil {
		return false, err
	}
	return changed, s.invalidate(ctx, key)
}

// Remove must clear the cache even when the DB write was a no-op, so a stale
// cached set cannot keep targeting a removed device.
func (s *CachedSetStore) Remove(ctx context.Context, key, member string) (bool, error) {
	changed, err := s.realStore.Remove(ctx, key, member)
	if err != nil {
		return false, err
	}
	return changed, s.invalidate(ctx, key)
}

// --- Helpers ---

func (s *CachedSetStore) invalidate(ctx context.Context, key string) error {
	if err := s.cache.Del(ctx, s.cacheKey(key)); err != nil {
		return fmt.Errorf("cache invalidation failed: %w", err)
	}
	return nil
}

func (s *CachedSetStore) cacheKey(key string) string {
	return fmt.Sprintf("fanout:tokens:%s", key)
}
