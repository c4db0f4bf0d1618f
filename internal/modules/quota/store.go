// Package quota enforces the per-client daily cap on live computations.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is an atomic counter keyed by string with a TTL set on creation
type Store interface {
	// Incr increments key and returns the new count. A newly created key gets ttl.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Decr undoes one Incr
	Decr(ctx context.Context, key string) (int64, error)
	// Count returns the current count, 0 for a missing key
	Count(ctx context.Context, key string) (int64, error)
}

// RedisStore counts with INCR + EXPIRE in a single MULTI/EXEC
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed counter store
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "verdict"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	key = s.wrapKey(key)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// The key carries the date, so refreshing the TTL never extends a day's window
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("quota incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Decr(ctx, s.wrapKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("quota decr %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Count(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, s.wrapKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota get %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) wrapKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

type counter struct {
	value    int64
	expireAt time.Time
}

// MemoryStore is a mutex-guarded counter store for single-process deployments
type MemoryStore struct {
	counters map[string]*counter
	mu       sync.Mutex
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory counter store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	c, ok := s.counters[key]
	if !ok {
		c = &counter{expireAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.value++
	return c.value, nil
}

func (s *MemoryStore) Decr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		return 0, nil
	}
	if c.value > 0 {
		c.value--
	}
	return c.value, nil
}

func (s *MemoryStore) Count(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !s.now().Before(c.expireAt) {
		return 0, nil
	}
	return c.value, nil
}

// sweep drops expired counters; caller holds mu
func (s *MemoryStore) sweep(now time.Time) {
	for key, c := range s.counters {
		if !now.Before(c.expireAt) {
			delete(s.counters, key)
		}
	}
}
