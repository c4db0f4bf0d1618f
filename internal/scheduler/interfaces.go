package scheduler

import (
	"context"

	"github.com/aristath/verdict/internal/modules/classification"
)

// UniverseScreener runs the slow-cadence ALL/ACTIVE screen
type UniverseScreener interface {
	Enabled() bool
	ScreenUniverse(ctx context.Context, snapshots []classification.SecuritySnapshot) classification.BatchReport
}

// DailyReviewer runs the ACTIVE/QUALIFIED daily review
type DailyReviewer interface {
	Enabled() bool
	DailyReview(ctx context.Context, observations []classification.SignalObservation) classification.BatchReport
}

var (
	_ UniverseScreener = (*classification.Classifier)(nil)
	_ DailyReviewer    = (*classification.Classifier)(nil)
)
