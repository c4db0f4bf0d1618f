package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/verdict/internal/config"
	"github.com/aristath/verdict/internal/domain"
	"github.com/aristath/verdict/internal/metrics"
	"github.com/aristath/verdict/internal/modules/analyzers"
	"github.com/aristath/verdict/internal/modules/cache"
	"github.com/aristath/verdict/internal/modules/classification"
	"github.com/aristath/verdict/internal/modules/coordinator"
	"github.com/aristath/verdict/internal/modules/quota"
	"github.com/aristath/verdict/internal/modules/scoring"
	"github.com/aristath/verdict/internal/work"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// cacheRetention bounds how long the cache backend keeps an entry. Freshness is
// decided from the entry's write time, so expired-but-retained entries still
// serve the stale path.
const cacheRetention = 24 * time.Hour

// redisKeyPrefix namespaces every key this service writes to a shared Redis
const redisKeyPrefix = "verdict"

// InitializeServices creates the request path and classification services
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	// Metrics
	container.Registry = prometheus.NewRegistry()
	container.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	container.Metrics = metrics.New(container.Registry)

	// Cache and quota backends: Redis when configured and reachable, in-process otherwise
	initializeBackends(container, cfg, log)

	container.AnalysisCache = cache.NewAnalysisCache(container.CacheStore, cacheRetention, log)
	container.QuotaService = quota.NewService(container.QuotaStore, cfg.Quota.DailyLimit, log)

	// Consensus scorer
	scorer, err := scoring.NewScorer(cfg.Weights)
	if err != nil {
		return fmt.Errorf("failed to create scorer: %w", err)
	}
	container.Scorer = scorer

	// Component analyzers
	container.Orchestrator = analyzers.NewOrchestrator(
		scorer.Components(),
		buildAnalyzers(scorer.Components(), cfg, log),
		analyzers.Config{
			Timeout:        cfg.Analyzers.Timeout,
			MaxConcurrency: cfg.Analyzers.MaxConcurrency,
		},
		container.Metrics,
		log,
	)

	// Coordinator
	container.Coordinator = coordinator.New(coordinator.Dependencies{
		Cache:     container.AnalysisCache,
		Store:     container.AnalysisRepo,
		Quota:     container.QuotaService,
		Analyzers: container.Orchestrator,
		Scorer:    container.Scorer,
		Metrics:   container.Metrics,
	}, coordinator.Config{
		CacheFreshness:     cfg.Freshness.Cache,
		PersistedFreshness: cfg.Freshness.Persisted,
		RecordTTL:          cfg.Freshness.RecordTTL,
	}, log)

	// Background refresh queue calls back into the coordinator
	container.RefreshQueue = work.NewRefreshQueue(
		container.Coordinator.Refresh,
		work.QueueConfig{
			Workers: cfg.Analyzers.RefreshWorkers,
			Buffer:  cfg.Analyzers.RefreshBuffer,
			Timeout: 2 * cfg.Analyzers.Timeout,
		},
		container.Metrics,
		log,
	)
	container.Coordinator.SetRefresher(container.RefreshQueue)

	// Classification
	container.Classifier = classification.NewClassifier(
		container.ClassificationRepo,
		classification.Config{
			Enabled: cfg.Classification.Enabled,
			Thresholds: classification.Thresholds{
				MinPrice:            cfg.Classification.MinPrice,
				MinVolume:           cfg.Classification.MinVolume,
				MinMarketCap:        cfg.Classification.MinMarketCap,
				MaxDataAge:          cfg.Classification.MaxDataAge,
				PennyStockThreshold: cfg.Classification.PennyStockThreshold,
			},
			DemoteAfterDays: cfg.Classification.DemoteAfterDays,
		},
		container.Metrics,
		log,
	)

	container.SignalSource = classification.NewRecordSignalSource(
		container.ClassificationRepo,
		container.AnalysisRepo,
		cfg.Classification.SignalMinScore,
		cfg.Classification.SignalMaxAge,
	)
	if cfg.Analyzers.RemoteURL != "" {
		container.UniverseSource = classification.NewHTTPUniverseSource(cfg.Analyzers.RemoteURL, 0)
	} else {
		log.Warn().Msg("No remote service configured, universe screen disabled")
	}

	log.Info().
		Strs("components", scorer.Components()).
		Bool("redis", container.Redis != nil).
		Bool("classification_enabled", cfg.Classification.Enabled).
		Msg("Services initialized")

	return nil
}

func initializeBackends(container *Container, cfg *config.Config, log zerolog.Logger) {
	memoryOpts := []cache.MemoryOption{cache.WithMemoryMaxSize(cfg.Freshness.CacheCapacity)}

	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(context.Background(),
			cache.WithRedisAddr(cfg.Redis.Addr),
			cache.WithRedisPassword(cfg.Redis.Password),
			cache.WithRedisDB(cfg.Redis.DB),
		)
		if err == nil {
			container.Redis = client
			container.CacheStore = cache.NewLayeredStore(cache.NewRedisStore(client, redisKeyPrefix), memoryOpts...)
			container.QuotaStore = quota.NewRedisStore(client, redisKeyPrefix)
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis for cache and quota")
			return
		}
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, falling back to in-process stores")
	}

	container.CacheStore = cache.NewMemoryStore(memoryOpts...)
	container.QuotaStore = quota.NewMemoryStore()
}

// buildAnalyzers creates one remote analyzer per component sharing a single rate limit.
// Without a remote service every component falls back to its neutral substitute.
func buildAnalyzers(components []string, cfg *config.Config, log zerolog.Logger) []domain.Analyzer {
	if cfg.Analyzers.RemoteURL == "" {
		log.Warn().Msg("No remote scoring service configured, live computations will fail")
		return nil
	}

	burst := int(cfg.Analyzers.RequestsPerSec)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.Analyzers.RequestsPerSec), burst)

	result := make([]domain.Analyzer, 0, len(components))
	for _, name := range components {
		result = append(result, analyzers.NewHTTPAnalyzer(cfg.Analyzers.RemoteURL, name, analyzers.WithLimiter(limiter)))
	}
	return result
}
