// Package analyzers fans a symbol out to the component analyzers.
package analyzers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/verdict/internal/domain"
	"github.com/aristath/verdict/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Config controls the fan-out
type Config struct {
	Timeout        time.Duration // Per-analyzer call timeout
	MaxConcurrency int           // Concurrent analyzer calls per request
}

// Orchestrator runs every configured component analyzer for a symbol.
// It never fails as a unit: failed components come back as neutral substitutes.
type Orchestrator struct {
	analyzers  map[string]domain.Analyzer
	components []string
	cfg        Config
	metrics    *metrics.Recorder
	log        zerolog.Logger
}

// NewOrchestrator creates an orchestrator for the given component names.
// Components without a registered analyzer always yield a neutral substitute.
func NewOrchestrator(components []string, analyzers []domain.Analyzer, cfg Config, recorder *metrics.Recorder, log zerolog.Logger) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = len(components)
	}

	byName := make(map[string]domain.Analyzer, len(analyzers))
	for _, a := range analyzers {
		byName[a.Name()] = a
	}

	names := append([]string(nil), components...)
	sort.Strings(names)

	return &Orchestrator{
		analyzers:  byName,
		components: names,
		cfg:        cfg,
		metrics:    recorder,
		log:        log.With().Str("component", "analyzer_orchestrator").Logger(),
	}
}

// Components returns the configured component names, sorted
func (o *Orchestrator) Components() []string {
	return append([]string(nil), o.components...)
}

// Run invokes every analyzer concurrently and returns one entry per configured component
func (o *Orchestrator) Run(ctx context.Context, symbol string) map[string]domain.ComponentResult {
	results := make([]domain.ComponentResult, len(o.components))

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrency)

	for i, name := range o.components {
		g.Go(func() error {
			results[i] = o.runOne(ctx, name, symbol)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]domain.ComponentResult, len(results))
	failed := 0
	for _, r := range results {
		out[r.Name] = r
		if r.Neutral {
			failed++
		}
	}

	o.log.Debug().
		Str("symbol", symbol).
		Int("components", len(out)).
		Int("substituted", failed).
		Msg("Analyzer fan-out completed")

	return out
}

type outcome struct {
	result domain.ComponentResult
	err    error
}

func (o *Orchestrator) runOne(ctx context.Context, name, symbol string) domain.ComponentResult {
	analyzer, ok := o.analyzers[name]
	if !ok {
		return o.substitute(name, symbol, "not_registered", errors.New("analyzer not registered"))
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan outcome, 1)

	// Analyzers that ignore ctx are abandoned at the deadline; the buffered
	// channel lets their goroutine finish without blocking.
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("analyzer panic: %v", p)}
			}
		}()
		res, err := analyzer.Analyze(callCtx, symbol)
		ch <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-callCtx.Done():
		out = outcome{err: callCtx.Err()}
	}

	elapsed := time.Since(start)
	o.metrics.RecordAnalyzerLatency(name, elapsed.Seconds())

	if out.err != nil {
		reason := "error"
		if errors.Is(out.err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		sub := o.substitute(name, symbol, reason, out.err)
		sub.DurationMs = elapsed.Milliseconds()
		return sub
	}

	res := out.result
	if math.IsNaN(res.Score) || math.IsInf(res.Score, 0) {
		sub := o.substitute(name, symbol, "invalid_score", fmt.Errorf("analyzer returned non-finite score"))
		sub.DurationMs = elapsed.Milliseconds()
		return sub
	}

	res.Name = name
	res.Score = domain.Clamp(res.Score, 0, 100)
	if res.Confidence == "" {
		res.Confidence = domain.ConfidenceLow
	}
	res.DurationMs = elapsed.Milliseconds()
	return res
}

func (o *Orchestrator) substitute(name, symbol, reason string, err error) domain.ComponentResult {
	o.metrics.RecordAnalyzerFailure(name, reason)
	o.log.Warn().
		Err(err).
		Str("symbol", symbol).
		Str("analyzer", name).
		Str("kind", string(domain.ErrorKindComponentFailure)).
		Msg("Analyzer failed, using neutral substitute")

	return domain.NeutralComponent(name, err.Error())
}
