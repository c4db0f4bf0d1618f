// Package coordinator serves analysis requests through the tiered fallback chain:
// cache, persisted store, quota-gated live computation, stale record, structured error.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/aristath/verdict/internal/domain"
	"github.com/aristath/verdict/internal/metrics"
	"github.com/aristath/verdict/internal/modules/analysis"
	"github.com/aristath/verdict/internal/modules/cache"
	"github.com/aristath/verdict/internal/modules/quota"
	"github.com/aristath/verdict/internal/modules/scoring"
	"github.com/rs/zerolog"
)

// CacheTier is the short-lived record cache
type CacheTier interface {
	Get(ctx context.Context, symbol string) (*cache.Hit, error)
	Put(ctx context.Context, record *domain.AnalysisRecord, cachedAt time.Time) error
}

// PersistentTier is the durable record store
type PersistentTier interface {
	Save(ctx context.Context, record *domain.AnalysisRecord) error
	GetLatestFresh(ctx context.Context, symbol string, maxAge time.Duration, now time.Time) (*domain.AnalysisRecord, error)
	GetLatest(ctx context.Context, symbol string) (*domain.AnalysisRecord, error)
}

// QuotaGate decides whether a client may trigger a live computation
type QuotaGate interface {
	TryConsume(ctx context.Context, clientID string) (bool, quota.Usage, error)
}

// ComponentRunner fans a symbol out to the analyzers
type ComponentRunner interface {
	Run(ctx context.Context, symbol string) map[string]domain.ComponentResult
}

// ConsensusScorer combines component results
type ConsensusScorer interface {
	Score(results map[string]domain.ComponentResult) scoring.ConsensusResult
}

// RefreshScheduler queues a best-effort background recomputation
type RefreshScheduler interface {
	Schedule(symbol string, delay time.Duration) bool
}

// Config holds the freshness windows
type Config struct {
	CacheFreshness     time.Duration // Max cache entry age served as "cache"
	PersistedFreshness time.Duration // Max record age served as "persisted"
	RecordTTL          time.Duration // expires_at = computed_at + RecordTTL
}

// Dependencies groups the collaborators of a Coordinator
type Dependencies struct {
	Cache     CacheTier
	Store     PersistentTier
	Quota     QuotaGate
	Analyzers ComponentRunner
	Scorer    ConsensusScorer
	Refresher RefreshScheduler // optional
	Metrics   *metrics.Recorder
}

// Coordinator never returns an error or panics to its caller: every outcome,
// including total failure, is expressed in the Result.
type Coordinator struct {
	deps Dependencies
	cfg  Config
	now  func() time.Time
	log  zerolog.Logger
}

// New creates a coordinator
func New(deps Dependencies, cfg Config, log zerolog.Logger) *Coordinator {
	if cfg.CacheFreshness <= 0 {
		cfg.CacheFreshness = 15 * time.Minute
	}
	if cfg.PersistedFreshness <= 0 {
		cfg.PersistedFreshness = 90 * time.Minute
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = cfg.PersistedFreshness
	}

	return &Coordinator{
		deps: deps,
		cfg:  cfg,
		now:  time.Now,
		log:  log.With().Str("service", "coordinator").Logger(),
	}
}

// SetClock overrides the time source (tests)
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// SetRefresher attaches the background refresher after construction.
// The refresher usually calls back into Refresh, so it cannot exist before the coordinator.
func (c *Coordinator) SetRefresher(r RefreshScheduler) {
	c.deps.Refresher = r
}

// Get returns the best available analysis for symbol on behalf of clientID.
// An empty clientID identifies an internal caller and is never quota limited.
func (c *Coordinator) Get(ctx context.Context, symbol, clientID string) (result *Result) {
	symbol = domain.NormalizeSymbol(symbol)

	defer func() {
		if p := recover(); p != nil {
			c.log.Error().Interface("panic", p).Str("symbol", symbol).Msg("Recovered panic while serving analysis")
			result = c.errorResult(symbol, domain.ErrorKindAllSourcesExhausted,
				"internal error while serving analysis", nil)
		}
		c.deps.Metrics.RecordResult(string(result.Source()))
	}()

	if !domain.ValidSymbol(symbol) {
		return c.errorResult(symbol, domain.ErrorKindInvalidSymbol,
			fmt.Sprintf("%q is not a valid symbol", symbol),
			[]string{"Use an exchange ticker such as AAPL or BRK.B"})
	}

	now := c.now()

	// 1. Cache
	var staleHit *cache.Hit
	hit, err := c.deps.Cache.Get(ctx, symbol)
	switch {
	case err == nil && hit.Record != nil:
		if hit.Age(now) < c.cfg.CacheFreshness {
			return c.recordResult(hit.Record, domain.SourceCache, now, &hit.CachedAt, nil)
		}
		staleHit = hit
	case err != nil && !errors.Is(err, cache.ErrCacheMiss):
		c.tierUnavailable("cache", symbol, err)
	}

	// 2. Persisted
	record, err := c.deps.Store.GetLatestFresh(ctx, symbol, c.cfg.PersistedFreshness, now)
	switch {
	case err == nil:
		if err := c.deps.Cache.Put(ctx, record, now); err != nil {
			c.tierUnavailable("cache", symbol, err)
		}
		return c.recordResult(record, domain.SourcePersisted, now, nil, nil)
	case !errors.Is(err, analysis.ErrNotFound):
		c.tierUnavailable("persisted", symbol, err)
	}

	// 3. Live, gated by quota
	var reason string
	var usage *quota.Usage
	allowed, u, err := c.deps.Quota.TryConsume(ctx, clientID)
	switch {
	case err != nil:
		c.tierUnavailable("quota", symbol, err)
		reason = "live analysis unavailable: quota service error"
	case !allowed:
		usage = &u
		c.deps.Metrics.RecordQuotaDenied()
		c.log.Info().
			Str("symbol", symbol).
			Str("client_id", clientID).
			Str("kind", string(domain.ErrorKindQuotaExceeded)).
			Msg("Live analysis denied by daily quota")
		reason = fmt.Sprintf("daily live analysis quota exhausted (%d/%d used)", u.RequestsUsedToday, u.DailyLimit)
	default:
		if clientID != "" {
			usage = &u
		}
		record, warnings, err := c.compute(ctx, symbol, now)
		if err == nil {
			if c.deps.Refresher != nil {
				c.deps.Refresher.Schedule(symbol, c.cfg.CacheFreshness)
			}
			res := c.recordResult(record, domain.SourceLive, now, nil, warnings)
			res.Quota = usage
			return res
		}
		c.tierUnavailable("live", symbol, err)
		reason = "live analysis failed: " + err.Error()
	}

	// 4. Stale: the newest record anywhere, regardless of age
	stale := c.newestStale(ctx, symbol, staleHit)
	if stale != nil {
		age := stale.AgeMinutes(now)
		res := c.recordResult(stale, domain.SourceStale, now, nil, []string{
			fmt.Sprintf("Serving stale analysis computed %d minutes ago: %s", age, reason),
		})
		res.CacheInfo.IsStale = true
		res.CacheInfo.StalenessMinutes = age
		res.Quota = usage
		return res
	}

	// 5. Nothing anywhere
	suggestions := []string{
		"Retry in a few minutes; a background refresh may populate this symbol",
		"Verify the symbol is listed and actively traded",
	}
	if usage != nil && usage.RequestsRemaining == 0 {
		suggestions = append([]string{"Daily live analysis quota resets at 00:00 UTC"}, suggestions...)
	}
	res := c.errorResult(symbol, domain.ErrorKindAllSourcesExhausted,
		fmt.Sprintf("no analysis available for %s: %s", symbol, reason), suggestions)
	res.Quota = usage
	return res
}

// Refresh recomputes symbol without quota and writes both tiers.
// Used by the background refresh queue.
func (c *Coordinator) Refresh(ctx context.Context, symbol string) error {
	symbol = domain.NormalizeSymbol(symbol)
	if !domain.ValidSymbol(symbol) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidSymbol, symbol)
	}
	_, _, err := c.compute(ctx, symbol, c.now())
	return err
}

// compute runs the analyzers and scorer, then persists and caches the record.
// Storage failures degrade to warnings; the fresh record is still returned.
func (c *Coordinator) compute(ctx context.Context, symbol string, now time.Time) (*domain.AnalysisRecord, []string, error) {
	start := time.Now()
	results := c.deps.Analyzers.Run(ctx, symbol)
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("request cancelled: %w", err)
	}

	var warnings []string
	substituted := 0
	for _, name := range slices.Sorted(maps.Keys(results)) {
		if r := results[name]; r.Neutral {
			substituted++
			warnings = append(warnings, fmt.Sprintf("Component %s unavailable, neutral score used: %s", name, r.Error))
		}
	}
	if len(results) == 0 || substituted == len(results) {
		return nil, nil, errors.New("every analyzer failed")
	}

	consensus := c.deps.Scorer.Score(results)
	record := scoring.BuildRecord(symbol, consensus, now, c.cfg.RecordTTL)
	c.deps.Metrics.RecordLiveCompute(time.Since(start).Seconds())

	if err := c.deps.Store.Save(ctx, record); err != nil {
		c.tierUnavailable("persisted", symbol, err)
		warnings = append(warnings, "Result could not be persisted")
	}
	if err := c.deps.Cache.Put(ctx, record, now); err != nil {
		c.tierUnavailable("cache", symbol, err)
	}

	c.log.Info().
		Str("symbol", symbol).
		Float64("score", record.FinalScore).
		Str("recommendation", string(record.Recommendation)).
		Str("confidence", string(record.ConfidenceLevel)).
		Int("substituted", substituted).
		Dur("duration", time.Since(start)).
		Msg("Live analysis computed")

	return record, warnings, nil
}

// newestStale picks the most recent record from the persisted store and any
// cache entry that was too old to serve directly
func (c *Coordinator) newestStale(ctx context.Context, symbol string, staleHit *cache.Hit) *domain.AnalysisRecord {
	var best *domain.AnalysisRecord
	if staleHit != nil {
		best = staleHit.Record
	}

	record, err := c.deps.Store.GetLatest(ctx, symbol)
	switch {
	case err == nil:
		if best == nil || record.ComputedAt.After(best.ComputedAt) {
			best = record
		}
	case !errors.Is(err, analysis.ErrNotFound):
		c.tierUnavailable("persisted", symbol, err)
	}

	return best
}

func (c *Coordinator) recordResult(record *domain.AnalysisRecord, source domain.Source, now time.Time, cachedAt *time.Time, warnings []string) *Result {
	if warnings == nil {
		warnings = []string{}
	}
	return &Result{
		AnalysisRecord: record,
		Symbol:         record.Symbol,
		Warnings:       warnings,
		CacheInfo: CacheInfo{
			Source:           source,
			FreshnessMinutes: record.AgeMinutes(now),
			CachedAt:         cachedAt,
		},
	}
}

func (c *Coordinator) errorResult(symbol string, kind domain.ErrorKind, message string, suggestions []string) *Result {
	if suggestions == nil {
		suggestions = []string{}
	}
	c.log.Warn().
		Str("symbol", symbol).
		Str("kind", string(kind)).
		Msg(message)

	return &Result{
		Symbol:    symbol,
		Warnings:  []string{},
		CacheInfo: CacheInfo{Source: domain.SourceError},
		Error: &ErrorInfo{
			Kind:        kind,
			Message:     message,
			Suggestions: suggestions,
		},
	}
}

func (c *Coordinator) tierUnavailable(tier, symbol string, err error) {
	c.deps.Metrics.RecordTierError(tier)
	c.log.Warn().
		Err(err).
		Str("tier", tier).
		Str("symbol", symbol).
		Str("kind", string(domain.ErrorKindTierUnavailable)).
		Msg("Tier unavailable, falling through")
}
