// --- File: internal/storage/cache/setstore_test.go ---
package cache_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-fanout-service/internal/registry"
	"github.com/tinywideclouds/go-fanout-service/internal/storage/cache"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) Add(ctx context.Context, key, member string) (bool, error) {
	args := m.Called(ctx, key, member)
	return args.Bool(0), args.Error(1)
}
func (m *MockRealStore) Remove(ctx context.Context, key, member string) (bool, error) {
	args := m.Called(ctx, key, member)
	return args.Bool(0), args.Error(1)
}
func (m *MockRealStore) Members(ctx context.Context, key string) ([]string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func TestCachedStore_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)

	// Decorate the DB
	store := cache.NewCachedSetStore(mockDB, mockCache, 1*time.Hour)
	cacheKey := "fanout:tokens:annoyed-user"

	t.Run("Remove invalidates cache immediately", func(t *testing.T) {
		mockDB.On("Remove", ctx, "annoyed-user", "old-token").Return(true, nil)
		mockCache.On("Del", ctx, cacheKey).Return(nil).Once()

		changed, err := store.Remove(ctx, "annoyed-user", "old-token")

		require.NoError(t, err)
		assert.True(t, changed)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Subsequent Members hits DB (Cache Miss)", func(t *testing.T) {
		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(assert.AnError) // Error implies miss

		// Return empty set (user removed every device)
		mockDB.On("Members", ctx, "annoyed-user").Return([]string{}, nil)
		mockCache.On("Set", ctx, cacheKey, []string{}, time.Hour).Return(nil)

		members, err := store.Members(ctx, "annoyed-user")

		require.NoError(t, err)
		require.Empty(t, members)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})
}

func TestCachedStore_FailurePaths(t *testing.T) {
	ctx := context.Background()

	t.Run("DB failure skips invalidation", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedSetStore(mockDB, mockCache, time.Hour)
		mockDB.On("Add", ctx, "u", "t").Return(false, errors.New("db down"))

		_, err := store.Add(ctx, "u", "t")

		require.Error(t, err)
		mockCache.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
	})

	t.Run("Failed invalidation converges on retry", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedSetStore(mockDB, mockCache, time.Hour)
		reg := registry.New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

		mockDB.On("Add", ctx, "42", "A").Return(true, nil).Once()
		mockDB.On("Add", ctx, "42", "A").Return(false, nil).Once()
		mockCache.On("Del", ctx, "fanout:tokens:42").Return(errors.New("redis down")).Once()
		mockCache.On("Del", ctx, "fanout:tokens:42").Return(nil).Once()

		// the write landed but the stale entry could not be dropped
		_, err := reg.Register(ctx, "42", "A")
		require.ErrorIs(t, err, dispatch.ErrStoreUnavailable)

		changed, err := reg.Register(ctx, "42", "A")
		require.NoError(t, err)
		assert.False(t, changed)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Cache write failure still serves from DB", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedSetStore(mockDB, mockCache, time.Hour)
		mockCache.On("Get", ctx, "fanout:tokens:u", mock.Anything).Return(goredis.Nil)
		mockDB.On("Members", ctx, "u").Return([]string{"A"}, nil)
		mockCache.On("Set", ctx, "fanout:tokens:u", []string{"A"}, time.Hour).Return(errors.New("redis down"))

		members, err := store.Members(ctx, "u")

		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, members)
	})
}

func TestCachedStore_WithRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mockDB := new(MockRealStore)
	store := cache.NewCachedSetStore(mockDB, cache.NewRedisClient(rdb), time.Minute)

	mockDB.On("Members", ctx, "42").Return([]string{"A", "B"}, nil).Once()

	// First read fills the cache, second is served from Redis
	first, err := store.Members(ctx, "42")
	require.NoError(t, err)
	second, err := store.Members(ctx, "42")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, mr.Exists("fanout:tokens:42"))
	mockDB.AssertNumberOfCalls(t, "Members", 1)

	// A write drops the cached entry
	mockDB.On("Add", ctx, "42", "C").Return(true, nil)
	changed, err := store.Add(ctx, "42", "C")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, mr.Exists("fanout:tokens:42"))
}
