package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/verdict/internal/modules/classification"
	"github.com/aristath/verdict/internal/scheduler/base"
	"github.com/rs/zerolog"
)

// batchHistory keeps the report of the latest classification batch
type batchHistory struct {
	mu   sync.Mutex
	last *classification.BatchReport
}

func (h *batchHistory) store(report classification.BatchReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &report
}

// LastReport returns the most recent batch report, nil before the first run
func (h *batchHistory) LastReport() *classification.BatchReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// UniverseScreenJob fetches market snapshots and runs the universe screen
type UniverseScreenJob struct {
	base.JobBase
	batchHistory
	source   classification.UniverseSource
	screener UniverseScreener
	timeout  time.Duration
	log      zerolog.Logger
}

// NewUniverseScreenJob creates a new UniverseScreenJob
func NewUniverseScreenJob(source classification.UniverseSource, screener UniverseScreener, log zerolog.Logger) *UniverseScreenJob {
	return &UniverseScreenJob{
		source:   source,
		screener: screener,
		timeout:  15 * time.Minute,
		log:      log.With().Str("job", "universe_screen").Logger(),
	}
}

// Name returns the job name
func (j *UniverseScreenJob) Name() string {
	return "universe_screen"
}

// Run executes the universe screen
func (j *UniverseScreenJob) Run() error {
	if !j.screener.Enabled() {
		j.log.Debug().Msg("Classification disabled, skipping universe screen")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	snapshots, err := j.source.Snapshots(ctx)
	if err != nil {
		return fmt.Errorf("failed to load universe snapshots: %w", err)
	}

	report := j.screener.ScreenUniverse(ctx, snapshots)
	j.store(report)

	if report.Failed() {
		j.log.Warn().
			Int("failed", len(report.Errors)).
			Int("evaluated", report.Evaluated).
			Msg("Universe screen completed with item failures")
	}
	return nil
}

// DailyReviewJob collects signal observations and runs the daily review
type DailyReviewJob struct {
	base.JobBase
	batchHistory
	source   classification.SignalSource
	reviewer DailyReviewer
	timeout  time.Duration
	log      zerolog.Logger
}

// NewDailyReviewJob creates a new DailyReviewJob
func NewDailyReviewJob(source classification.SignalSource, reviewer DailyReviewer, log zerolog.Logger) *DailyReviewJob {
	return &DailyReviewJob{
		source:   source,
		reviewer: reviewer,
		timeout:  10 * time.Minute,
		log:      log.With().Str("job", "daily_review").Logger(),
	}
}

// Name returns the job name
func (j *DailyReviewJob) Name() string {
	return "daily_review"
}

// Run executes the daily review
func (j *DailyReviewJob) Run() error {
	if !j.reviewer.Enabled() {
		j.log.Debug().Msg("Classification disabled, skipping daily review")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	observations, err := j.source.Signals(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect signals: %w", err)
	}

	report := j.reviewer.DailyReview(ctx, observations)
	j.store(report)

	if report.Failed() {
		j.log.Warn().
			Int("failed", len(report.Errors)).
			Int("evaluated", report.Evaluated).
			Msg("Daily review completed with item failures")
	}
	return nil
}
