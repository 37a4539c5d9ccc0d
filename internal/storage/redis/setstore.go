// --- File: internal/storage/redis/setstore.go ---
// Package redis implements the token SetStore on native Redis sets.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetStore implements dispatch.SetStore with SADD/SREM/SMEMBERS. Each command is
// atomic in Redis, which is the only synchronization the registry relies on.
type SetStore struct {
	rdb       redis.Cmdable
	keyPrefix string
}

// NewSetStore stores each user's tokens under keyPrefix+user.
func NewSetStore(rdb redis.Cmdable, keyPrefix string) *SetStore {
	return &SetStore{rdb: rdb, keyPrefix: keyPrefix}
}

func (s *SetStore) Add(ctx context.Context, key, member string) (bool, error) {
	n, err := s.rdb.SAdd(ctx, s.key(key), member).Result()
	if err != nil {
		return false, fmt.Errorf("redis sadd failed: %w", err)
	}
	return n > 0, nil
}

func (s *SetStore) Remove(ctx context.Context, key, member string) (bool, error) {
	n, err := s.rdb.SRem(ctx, s.key(key), member).Result()
	if err != nil {
		return false, fmt.Errorf("redis srem failed: %w", err)
	}
	return n > 0, nil
}

func (s *SetStore) Members(ctx context.Context, key string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, s.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	return members, nil
}

func (s *SetStore) key(user string) string {
	return s.keyPrefix + user
}

// NewClient builds a client from a redis:// URL when one is given, otherwise
// from the discrete address fields.
func NewClient(url, addr, password string, db int) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
	if url != "" {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	}
	rdb := redis.NewClient(opts)

	// Fail fast if connection is bad
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}
