package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/verdict/internal/domain"
	"github.com/aristath/verdict/internal/modules/analysis"
	"github.com/aristath/verdict/internal/modules/analyzers"
	"github.com/aristath/verdict/internal/modules/cache"
	"github.com/aristath/verdict/internal/modules/quota"
	"github.com/aristath/verdict/internal/modules/scoring"
	testutil "github.com/aristath/verdict/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

type harness struct {
	coord     *Coordinator
	cache     *cache.AnalysisCache
	repo      *analysis.Repository
	calls     *atomic.Int32
	refresher *fakeRefresher
	now       time.Time
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

type fakeRefresher struct {
	mu        sync.Mutex
	scheduled []string
}

func (f *fakeRefresher) Schedule(symbol string, delay time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, symbol)
	return true
}

func scenarioAnalyzers(calls *atomic.Int32, overrides map[string]domain.Analyzer) []domain.Analyzer {
	scores := map[string]float64{"technical": 80, "news": 70, "social": 60, "earnings": 50, "market": 50}
	out := make([]domain.Analyzer, 0, len(scores))
	for name, score := range scores {
		if a, ok := overrides[name]; ok {
			out = append(out, a)
			continue
		}
		score := score
		out = append(out, domain.AnalyzerFunc{
			ComponentName: name,
			Fn: func(ctx context.Context, symbol string) (domain.ComponentResult, error) {
				calls.Add(1)
				return domain.ComponentResult{Score: score, Confidence: domain.ConfidenceMedium}, nil
			},
		})
	}
	return out
}

type harnessOpts struct {
	dailyLimit int
	overrides  map[string]domain.Analyzer
	cacheTier  CacheTier
	store      PersistentTier
	scorer     ConsensusScorer
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	db, cleanup := testutil.NewTestDB(t, "analysis")
	t.Cleanup(cleanup)

	memStore := cache.NewMemoryStore()
	t.Cleanup(func() { _ = memStore.Close() })

	h := &harness{
		cache:     cache.NewAnalysisCache(memStore, 2*time.Hour, zerolog.Nop()),
		repo:      analysis.NewRepository(db.Conn(), zerolog.Nop()),
		calls:     &atomic.Int32{},
		refresher: &fakeRefresher{},
		now:       baseTime,
	}

	weights := testutil.DefaultWeights()
	scorer, err := scoring.NewScorer(weights)
	require.NoError(t, err)

	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	orch := analyzers.NewOrchestrator(names, scenarioAnalyzers(h.calls, opts.overrides),
		analyzers.Config{Timeout: 100 * time.Millisecond, MaxConcurrency: 5}, nil, zerolog.Nop())

	if opts.dailyLimit == 0 {
		opts.dailyLimit = 10
	}

	deps := Dependencies{
		Cache:     h.cache,
		Store:     h.repo,
		Quota:     quota.NewService(quota.NewMemoryStore(), opts.dailyLimit, zerolog.Nop()),
		Analyzers: orch,
		Scorer:    scorer,
		Refresher: h.refresher,
	}
	if opts.cacheTier != nil {
		deps.Cache = opts.cacheTier
	}
	if opts.store != nil {
		deps.Store = opts.store
	}
	if opts.scorer != nil {
		deps.Scorer = opts.scorer
	}

	h.coord = New(deps, Config{
		CacheFreshness:     15 * time.Minute,
		PersistedFreshness: 90 * time.Minute,
		RecordTTL:          90 * time.Minute,
	}, zerolog.Nop())
	h.coord.SetClock(func() time.Time { return h.now })

	return h
}

func TestGet_LiveThenCacheIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{})

	first := h.coord.Get(ctx, "aapl", "client-1")
	require.Equal(t, domain.SourceLive, first.Source())
	assert.Equal(t, "AAPL", first.Symbol)
	assert.Equal(t, 67.5, first.FinalScore)
	assert.Equal(t, domain.RecommendationBuy, first.Recommendation)
	assert.Equal(t, domain.ConfidenceLow, first.ConfidenceLevel)
	require.NotNil(t, first.Quota)
	assert.Equal(t, int64(1), first.Quota.RequestsUsedToday)
	assert.Equal(t, int32(5), h.calls.Load())
	assert.Equal(t, []string{"AAPL"}, h.refresher.scheduled)

	h.advance(5 * time.Minute)
	second := h.coord.Get(ctx, "AAPL", "client-1")
	require.Equal(t, domain.SourceCache, second.Source())
	assert.Equal(t, first.FinalScore, second.FinalScore)
	assert.Equal(t, first.Recommendation, second.Recommendation)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, second.CacheInfo.FreshnessMinutes)
	assert.False(t, second.CacheInfo.IsStale)
	assert.Equal(t, int32(5), h.calls.Load(), "cache hit must not run analyzers")
}

func TestGet_PersistedBackfillsCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{})

	record := testutil.NewAnalysisRecordFixture("MSFT", baseTime.Add(-30*time.Minute))
	require.NoError(t, h.repo.Save(ctx, record))

	res := h.coord.Get(ctx, "MSFT", "client-1")
	require.Equal(t, domain.SourcePersisted, res.Source())
	assert.Equal(t, record.ID, res.ID)
	assert.Equal(t, 30, res.CacheInfo.FreshnessMinutes)
	assert.Zero(t, h.calls.Load())

	hit, err := h.cache.Get(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, record.ID, hit.Record.ID)

	again := h.coord.Get(ctx, "MSFT", "client-1")
	assert.Equal(t, domain.SourceCache, again.Source())
}

func TestGet_ExpiredCacheFallsThroughToPersisted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{})

	live := h.coord.Get(ctx, "AAPL", "")
	require.Equal(t, domain.SourceLive, live.Source())

	h.advance(20 * time.Minute)
	res := h.coord.Get(ctx, "AAPL", "")
	assert.Equal(t, domain.SourcePersisted, res.Source())
	assert.Equal(t, live.ID, res.ID)
	assert.Equal(t, 20, res.CacheInfo.FreshnessMinutes)
}

func TestGet_QuotaExceededNeverLive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{dailyLimit: 2})

	old := testutil.NewAnalysisRecordFixture("OLD", baseTime.Add(-3*time.Hour))
	require.NoError(t, h.repo.Save(ctx, old))

	assert.Equal(t, domain.SourceLive, h.coord.Get(ctx, "AAA", "client-1").Source())
	assert.Equal(t, domain.SourceLive, h.coord.Get(ctx, "BBB", "client-1").Source())

	// Quota spent: no data at all gives an error
	res := h.coord.Get(ctx, "CCC", "client-1")
	require.Equal(t, domain.SourceError, res.Source())
	require.NotNil(t, res.Error)
	assert.Equal(t, domain.ErrorKindAllSourcesExhausted, res.Error.Kind)
	assert.NotEmpty(t, res.Error.Suggestions)
	assert.Contains(t, res.Error.Suggestions[0], "quota resets")
	assert.Nil(t, res.Record())
	require.NotNil(t, res.Quota)
	assert.Equal(t, int64(0), res.Quota.RequestsRemaining)

	// Old data is served stale with an annotation
	res = h.coord.Get(ctx, "OLD", "client-1")
	require.Equal(t, domain.SourceStale, res.Source())
	assert.True(t, res.CacheInfo.IsStale)
	assert.Equal(t, 180, res.CacheInfo.StalenessMinutes)
	assert.Equal(t, old.ID, res.ID)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "quota exhausted")

	// A different client still has quota
	assert.Equal(t, domain.SourceLive, h.coord.Get(ctx, "CCC", "client-2").Source())
	assert.Equal(t, int32(15), h.calls.Load())
}

func TestGet_EmptyClientIsNeverLimited(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{dailyLimit: 1})

	for _, symbol := range []string{"AAA", "BBB", "CCC"} {
		res := h.coord.Get(ctx, symbol, "")
		assert.Equal(t, domain.SourceLive, res.Source())
		assert.Nil(t, res.Quota)
	}
}

func TestGet_AnalyzerTimeoutStillLive(t *testing.T) {
	ctx := context.Background()
	slow := domain.AnalyzerFunc{
		ComponentName: "news",
		Fn: func(ctx context.Context, symbol string) (domain.ComponentResult, error) {
			<-ctx.Done()
			return domain.ComponentResult{}, ctx.Err()
		},
	}
	h := newHarness(t, harnessOpts{overrides: map[string]domain.Analyzer{"news": slow}})

	res := h.coord.Get(ctx, "AAPL", "client-1")

	require.Equal(t, domain.SourceLive, res.Source())
	require.Len(t, res.Components, 5)
	assert.True(t, res.Components["news"].Neutral)
	// news contributes 50 * 0.25 instead of 70 * 0.25
	assert.Equal(t, 62.5, res.FinalScore)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Component news unavailable")
}

func TestGet_AllAnalyzersFailFallsBackToStale(t *testing.T) {
	ctx := context.Background()
	failing := func(name string) domain.Analyzer {
		return domain.AnalyzerFunc{
			ComponentName: name,
			Fn: func(ctx context.Context, symbol string) (domain.ComponentResult, error) {
				return domain.ComponentResult{}, errors.New("provider down")
			},
		}
	}
	overrides := map[string]domain.Analyzer{}
	for _, name := range []string{"technical", "news", "social", "earnings", "market"} {
		overrides[name] = failing(name)
	}
	h := newHarness(t, harnessOpts{overrides: overrides})

	old := testutil.NewAnalysisRecordFixture("AAPL", baseTime.Add(-26*time.Hour))
	require.NoError(t, h.repo.Save(ctx, old))

	res := h.coord.Get(ctx, "AAPL", "client-1")
	require.Equal(t, domain.SourceStale, res.Source())
	assert.Contains(t, res.Warnings[0], "every analyzer failed")

	res = h.coord.Get(ctx, "NONE", "client-1")
	assert.Equal(t, domain.SourceError, res.Source())
}

func TestGet_InvalidSymbol(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	for _, symbol := range []string{"", "   ", "DROP TABLE", "WAY-TOO-LONG-SYMBOL"} {
		res := h.coord.Get(context.Background(), symbol, "client-1")
		require.Equal(t, domain.SourceError, res.Source(), symbol)
		assert.Equal(t, domain.ErrorKindInvalidSymbol, res.Error.Kind)
	}
	assert.Zero(t, h.calls.Load())
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, symbol string) (*cache.Hit, error) {
	args := m.Called(ctx, symbol)
	hit, _ := args.Get(0).(*cache.Hit)
	return hit, args.Error(1)
}

func (m *mockCache) Put(ctx context.Context, record *domain.AnalysisRecord, cachedAt time.Time) error {
	return m.Called(ctx, record, cachedAt).Error(0)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Save(ctx context.Context, record *domain.AnalysisRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockStore) GetLatestFresh(ctx context.Context, symbol string, maxAge time.Duration, now time.Time) (*domain.AnalysisRecord, error) {
	args := m.Called(ctx, symbol, maxAge, now)
	rec, _ := args.Get(0).(*domain.AnalysisRecord)
	return rec, args.Error(1)
}

func (m *mockStore) GetLatest(ctx context.Context, symbol string) (*domain.AnalysisRecord, error) {
	args := m.Called(ctx, symbol)
	rec, _ := args.Get(0).(*domain.AnalysisRecord)
	return rec, args.Error(1)
}

func TestGet_TierFailuresFallThroughToLive(t *testing.T) {
	ctx := context.Background()

	mc := &mockCache{}
	mc.On("Get", mock.Anything, "AAPL").Return(nil, errors.New("redis: connection refused"))
	mc.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis: connection refused"))

	ms := &mockStore{}
	ms.On("GetLatestFresh", mock.Anything, "AAPL", mock.Anything, mock.Anything).Return(nil, errors.New("database is locked"))
	ms.On("Save", mock.Anything, mock.Anything).Return(errors.New("database is locked"))

	h := newHarness(t, harnessOpts{cacheTier: mc, store: ms})

	res := h.coord.Get(ctx, "AAPL", "client-1")

	require.Equal(t, domain.SourceLive, res.Source())
	assert.Equal(t, 67.5, res.FinalScore)
	assert.Contains(t, res.Warnings, "Result could not be persisted")
	mc.AssertExpectations(t)
	ms.AssertExpectations(t)
	ms.AssertNotCalled(t, "GetLatest", mock.Anything, mock.Anything)
}

func TestGet_AllTiersDownReturnsError(t *testing.T) {
	ctx := context.Background()

	mc := &mockCache{}
	mc.On("Get", mock.Anything, "AAPL").Return(nil, cache.ErrCacheMiss)

	ms := &mockStore{}
	ms.On("GetLatestFresh", mock.Anything, "AAPL", mock.Anything, mock.Anything).Return(nil, errors.New("disk I/O error"))
	ms.On("GetLatest", mock.Anything, "AAPL").Return(nil, errors.New("disk I/O error"))

	h := newHarness(t, harnessOpts{cacheTier: mc, store: ms, dailyLimit: 1})
	// Use up the quota so live is denied
	_, _, err := h.coord.deps.Quota.TryConsume(ctx, "client-1")
	require.NoError(t, err)

	res := h.coord.Get(ctx, "AAPL", "client-1")
	require.Equal(t, domain.SourceError, res.Source())
	assert.Equal(t, domain.ErrorKindAllSourcesExhausted, res.Error.Kind)
	assert.Zero(t, h.calls.Load())
}

type panickingScorer struct{}

func (panickingScorer) Score(map[string]domain.ComponentResult) scoring.ConsensusResult {
	panic("scorer bug")
}

func TestGet_NeverPanics(t *testing.T) {
	h := newHarness(t, harnessOpts{scorer: panickingScorer{}})

	var res *Result
	require.NotPanics(t, func() {
		res = h.coord.Get(context.Background(), "AAPL", "client-1")
	})
	assert.Equal(t, domain.SourceError, res.Source())
}

func TestGet_CancelledContextDoesNotGoLive(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.coord.Get(ctx, "AAPL", "")
	assert.NotEqual(t, domain.SourceLive, res.Source())
}

func TestRefresh_WritesBothTiers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{dailyLimit: 1})

	require.NoError(t, h.coord.Refresh(ctx, "nvda"))

	rec, err := h.repo.GetLatest(ctx, "NVDA")
	require.NoError(t, err)
	hit, err := h.cache.Get(ctx, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, hit.Record.ID)

	assert.ErrorIs(t, h.coord.Refresh(ctx, ""), domain.ErrInvalidSymbol)
}

func TestResult_JSONEnvelope(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	res := h.coord.Get(context.Background(), "AAPL", "client-1")

	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &envelope))

	for _, key := range []string{
		"symbol", "computed_at", "expires_at", "confidence_score", "confidence_level",
		"recommendation", "recommendation_strength", "risk_assessment", "component_scores",
		"cache_info", "warnings",
	} {
		assert.Contains(t, envelope, key)
	}
	assert.NotContains(t, envelope, "error")
	assert.Equal(t, "AAPL", envelope["symbol"])
	assert.Equal(t, "live", envelope["cache_info"].(map[string]interface{})["source"])

	errRes := h.coord.Get(context.Background(), "", "client-1")
	raw, err = json.Marshal(errRes)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &envelope))
	assert.Contains(t, envelope, "error")
}
