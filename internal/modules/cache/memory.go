package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value    []byte
	expireAt time.Time
	accessed time.Time
}

// MemoryStore is an in-process Store with LRU eviction and periodic expiry sweeps
type MemoryStore struct {
	data    map[string]*memoryItem
	mu      sync.Mutex
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
	once    sync.Once
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store and starts its cleanup loop
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ms := &MemoryStore{
		data:    make(map[string]*memoryItem),
		maxSize: cfg.MaxSize,
		ticker:  time.NewTicker(cfg.CleanupInterval),
		done:    make(chan struct{}),
	}

	go ms.cleanupExpired()
	return ms
}

func (ms *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	item, ok := ms.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	now := time.Now()
	if !now.Before(item.expireAt) {
		delete(ms.data, key)
		return nil, ErrCacheMiss
	}

	item.accessed = now
	return item.value, nil
}

func (ms *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.data[key]; !exists && len(ms.data) >= ms.maxSize {
		ms.evictLRU()
	}

	now := time.Now()
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	// Copy so callers may reuse their buffer
	buf := make([]byte, len(value))
	copy(buf, value)

	ms.data[key] = &memoryItem{value: buf, expireAt: now.Add(ttl), accessed: now}
	return nil
}

func (ms *MemoryStore) Delete(_ context.Context, keys ...string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, key := range keys {
		delete(ms.data, key)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included until swept
func (ms *MemoryStore) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.data)
}

// Close stops the cleanup loop
func (ms *MemoryStore) Close() error {
	ms.once.Do(func() {
		ms.ticker.Stop()
		close(ms.done)
	})
	return nil
}

func (ms *MemoryStore) evictLRU() {
	var oldestKey string
	var oldest time.Time

	for key, item := range ms.data {
		if oldestKey == "" || item.accessed.Before(oldest) {
			oldestKey = key
			oldest = item.accessed
		}
	}

	if oldestKey != "" {
		delete(ms.data, oldestKey)
	}
}

func (ms *MemoryStore) cleanupExpired() {
	for {
		select {
		case <-ms.done:
			return
		case now := <-ms.ticker.C:
			ms.mu.Lock()
			for key, item := range ms.data {
				if !now.Before(item.expireAt) {
					delete(ms.data, key)
				}
			}
			ms.mu.Unlock()
		}
	}
}
