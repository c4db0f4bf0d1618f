package cache

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aristath/verdict/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// RecordTypeAnalysis is the key namespace for consensus records
const RecordTypeAnalysis = "analysis"

// Entry is the stored envelope around a cached payload
type Entry struct {
	Payload   []byte    `msgpack:"payload"`
	CachedAt  time.Time `msgpack:"cached_at"`
	ExpiresAt time.Time `msgpack:"expires_at"`
}

// Hit is a decoded analysis record plus its cache metadata
type Hit struct {
	Record    *domain.AnalysisRecord
	CachedAt  time.Time
	ExpiresAt time.Time
}

// Age returns how long ago the entry was written
func (h *Hit) Age(now time.Time) time.Duration {
	return now.Sub(h.CachedAt)
}

// AnalysisCache stores AnalysisRecords under analysis:<SYMBOL>
type AnalysisCache struct {
	store Store
	ttl   time.Duration
	log   zerolog.Logger
}

// NewAnalysisCache creates the typed analysis cache. ttl bounds how long the
// backing store keeps an entry; freshness is decided by the reader from CachedAt.
func NewAnalysisCache(store Store, ttl time.Duration, log zerolog.Logger) *AnalysisCache {
	return &AnalysisCache{
		store: store,
		ttl:   ttl,
		log:   log.With().Str("component", "analysis_cache").Logger(),
	}
}

// Get returns the cached record for symbol, or ErrCacheMiss
func (c *AnalysisCache) Get(ctx context.Context, symbol string) (*Hit, error) {
	key := Key(RecordTypeAnalysis, domain.NormalizeSymbol(symbol))

	raw, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := msgpack.Unmarshal(raw, &entry); err != nil {
		// Corrupt entries are dropped so the next write replaces them
		_ = c.store.Delete(ctx, key)
		return nil, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}

	record, err := decodeRecord(entry.Payload)
	if err != nil {
		_ = c.store.Delete(ctx, key)
		return nil, fmt.Errorf("failed to decode cached record %s: %w", key, err)
	}

	return &Hit{
		Record:    record,
		CachedAt:  entry.CachedAt.UTC(),
		ExpiresAt: entry.ExpiresAt.UTC(),
	}, nil
}

// Put replaces the cached record for its symbol
func (c *AnalysisCache) Put(ctx context.Context, record *domain.AnalysisRecord, cachedAt time.Time) error {
	payload, err := encodeRecord(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", record.Symbol, err)
	}

	entry := Entry{
		Payload:   payload,
		CachedAt:  cachedAt.UTC(),
		ExpiresAt: cachedAt.Add(c.ttl).UTC(),
	}
	raw, err := msgpack.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", record.Symbol, err)
	}

	key := Key(RecordTypeAnalysis, domain.NormalizeSymbol(record.Symbol))
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}

	c.log.Debug().Str("key", key).Time("cached_at", entry.CachedAt).Msg("Cached analysis record")
	return nil
}

// Invalidate removes the cached record for symbol
func (c *AnalysisCache) Invalidate(ctx context.Context, symbol string) error {
	return c.store.Delete(ctx, Key(RecordTypeAnalysis, domain.NormalizeSymbol(symbol)))
}

func encodeRecord(record *domain.AnalysisRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(record); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(payload []byte) (*domain.AnalysisRecord, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.SetCustomStructTag("json")

	var record domain.AnalysisRecord
	if err := dec.Decode(&record); err != nil {
		return nil, err
	}
	record.ComputedAt = record.ComputedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	return &record, nil
}
