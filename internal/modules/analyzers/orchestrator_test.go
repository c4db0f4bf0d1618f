package analyzers

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/verdict/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(name string, score float64) domain.Analyzer {
	return domain.AnalyzerFunc{
		ComponentName: name,
		Fn: func(ctx context.Context, symbol string) (domain.ComponentResult, error) {
			return domain.ComponentResult{Score: score, Confidence: domain.ConfidenceMedium}, nil
		},
	}
}

var components = []string{"technical", "news", "social", "earnings", "market"}

func TestOrchestrator_AllSucceed(t *testing.T) {
	o := NewOrchestrator(components, []domain.Analyzer{
		fixed("technical", 80), fixed("news", 70), fixed("social", 60),
		fixed("earnings", 50), fixed("market", 50),
	}, Config{Timeout: time.Second, MaxConcurrency: 2}, nil, zerolog.Nop())

	results := o.Run(context.Background(), "AAPL")

	require.Len(t, results, 5)
	assert.Equal(t, 80.0, results["technical"].Score)
	assert.Equal(t, "technical", results["technical"].Name)
	for _, r := range results {
		assert.False(t, r.Neutral)
	}
}

func TestOrchestrator_TimeoutBecomesNeutral(t *testing.T) {
	slow := domain.AnalyzerFunc{
		ComponentName: "news",
		Fn: func(ctx context.Context, symbol string) (domain.ComponentResult, error) {
			<-ctx.Done()
			return domain.ComponentResult{}, ctx.Err()
		},
	}

	o := NewOrchestrator(components, []domain.Analyzer{
		fixed("technical", 80), slow, fixed("social", 60),
		fixed("earnings", 50), fixed("market", 50),
	}, Config{Timeout: 50 * time.Millisecond, MaxConcurrency: 5}, nil, zerolog.Nop())

	results := o.Run(context.Background(), "AAPL")

	require.Len(t, results, 5)
	news := results["news"]
	assert.True(t, news.Neutral)
	assert.Equal(t, domain.NeutralScore, news.Score)
	assert.Equal(t, domain.ConfidenceLow, news.Confidence)
	assert.Contains(t, news.Error, "deadline exceeded")
	assert.False(t, results["technical"].Neutral)
}

func TestOrchestrator_UncooperativeAnalyzerIsAbandoned(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	stuck := domain.AnalyzerFunc{
		ComponentName: "social",
		Fn: func(ctx context.Context, symbol string) (domain.ComponentResult, error) {
			<-block
			return domain.ComponentResult{Score: 99}, nil
		},
	}

	o := NewOrchestrator([]string{"social", "technical"}, []domain.Analyzer{stuck, fixed("technical", 70)},
		Config{Timeout: 30 * time.Millisecond}, nil, zerolog.Nop())

	start := time.Now()
	results := o.Run(context.Background(), "AAPL")

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, results["social"].Neutral)
	assert.Equal(t, 70.0, results["technical"].Score)
}

func TestOrchestrator_ErrorsPanicsAndMissing(t *testing.T) {
	failing := domain.AnalyzerFunc{
		ComponentName: "earnings",
		Fn: func(ctx context.Context, symbol string) (domain.ComponentResult, error) {
			return domain.ComponentResult{}, errors.New("upstream 503")
		},
	}
	panicking := domain.AnalyzerFunc{
		ComponentName: "market",
		Fn: func(ctx context.Context, symbol string) (domain.ComponentResult, error) {
			panic("nil map")
		},
	}
	nan := domain.AnalyzerFunc{
		ComponentName: "social",
		Fn: func(ctx context.Context, symbol string) (domain.ComponentResult, error) {
			return domain.ComponentResult{Score: math.NaN()}, nil
		},
	}

	// "news" is configured but never registered
	o := NewOrchestrator(components, []domain.Analyzer{fixed("technical", 120), failing, panicking, nan},
		Config{Timeout: time.Second}, nil, zerolog.Nop())

	results := o.Run(context.Background(), "AAPL")

	require.Len(t, results, 5)
	assert.Equal(t, 100.0, results["technical"].Score, "scores are clamped")
	assert.Contains(t, results["earnings"].Error, "upstream 503")
	assert.Contains(t, results["market"].Error, "analyzer panic")
	assert.Contains(t, results["news"].Error, "not registered")
	assert.True(t, results["social"].Neutral)
	for _, name := range []string{"earnings", "market", "news", "social"} {
		assert.Equal(t, domain.NeutralScore, results[name].Score, name)
	}
}

func TestOrchestrator_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32

	track := func(name string) domain.Analyzer {
		return domain.AnalyzerFunc{
			ComponentName: name,
			Fn: func(ctx context.Context, symbol string) (domain.ComponentResult, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				inFlight.Add(-1)
				return domain.ComponentResult{Score: 50}, nil
			},
		}
	}

	analyzers := make([]domain.Analyzer, 0, len(components))
	for _, c := range components {
		analyzers = append(analyzers, track(c))
	}

	o := NewOrchestrator(components, analyzers, Config{Timeout: time.Second, MaxConcurrency: 2}, nil, zerolog.Nop())
	results := o.Run(context.Background(), "AAPL")

	assert.Len(t, results, 5)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestOrchestrator_Components(t *testing.T) {
	o := NewOrchestrator(components, nil, Config{}, nil, zerolog.Nop())
	assert.Equal(t, []string{"earnings", "market", "news", "social", "technical"}, o.Components())
}
