// Package cache provides the short-lived analysis cache tier.
//
// Values are msgpack-encoded Entries stored in a byte Store. Stores are a
// process-local LRU (MemoryStore), Redis (RedisStore) or both (LayeredStore).
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrCacheMiss is returned when a key is absent or expired
	ErrCacheMiss = errors.New("cache: key not found")
)

// Store is a byte-oriented key/value store with per-key TTL.
// Every Set is a full replace of the value.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Key builds "<recordType>:<symbol>[:<variant>]"
func Key(recordType, symbol string, variant ...string) string {
	parts := make([]string, 0, 2+len(variant))
	parts = append(parts, recordType, symbol)
	for _, v := range variant {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ":")
}
