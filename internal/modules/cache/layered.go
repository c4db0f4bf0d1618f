package cache

import (
	"context"
	"time"
)

// LayeredStore implements two-level cache (L1: Memory, L2: Redis).
type LayeredStore struct {
	l1 *MemoryStore
	l2 Store
}

var _ Store = (*LayeredStore)(nil)

// NewLayeredStore creates a layered store over l2 with an L1 of the given options.
func NewLayeredStore(l2 Store, opts ...MemoryOption) *LayeredStore {
	return &LayeredStore{
		l1: NewMemoryStore(opts...),
		l2: l2,
	}
}

// l1TTL caps how long a value promoted from L2 lives in process memory
const l1TTL = 5 * time.Minute

func (ls *LayeredStore) Get(ctx context.Context, key string) ([]byte, error) {
	if data, err := ls.l1.Get(ctx, key); err == nil {
		return data, nil
	}

	data, err := ls.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	_ = ls.l1.Set(ctx, key, data, l1TTL)
	return data, nil
}

func (ls *LayeredStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	// Write-through: L2 first, then memory
	if err := ls.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	l1 := ttl
	if l1 <= 0 || l1 > l1TTL {
		l1 = l1TTL
	}
	_ = ls.l1.Set(ctx, key, value, l1)
	return nil
}

func (ls *LayeredStore) Delete(ctx context.Context, keys ...string) error {
	_ = ls.l1.Delete(ctx, keys...)
	return ls.l2.Delete(ctx, keys...)
}

// Close closes both layers.
func (ls *LayeredStore) Close() error {
	_ = ls.l1.Close()
	return ls.l2.Close()
}
