package classification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/verdict/internal/domain"
	"github.com/go-resty/resty/v2"
)

// UniverseSource supplies the market snapshots for the universe screen
type UniverseSource interface {
	Snapshots(ctx context.Context) ([]SecuritySnapshot, error)
}

// SignalSource supplies the daily signal observations
type SignalSource interface {
	Signals(ctx context.Context) ([]SignalObservation, error)
}

// HTTPUniverseSource fetches snapshots from the market data service:
// GET {base}/universe/snapshots
type HTTPUniverseSource struct {
	client *resty.Client
}

var _ UniverseSource = (*HTTPUniverseSource)(nil)

// NewHTTPUniverseSource creates a universe source for baseURL
func NewHTTPUniverseSource(baseURL string, timeout time.Duration) *HTTPUniverseSource {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetRetryCount(2)

	return &HTTPUniverseSource{client: client}
}

type snapshotsResponse struct {
	Securities []SecuritySnapshot `json:"securities"`
}

// Snapshots implements UniverseSource
func (s *HTTPUniverseSource) Snapshots(ctx context.Context) ([]SecuritySnapshot, error) {
	var body snapshotsResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/universe/snapshots")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch universe snapshots: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("market data service error %d: %s", resp.StatusCode(), resp.String())
	}
	return body.Securities, nil
}

// LatestRecordReader reads the newest consensus record of a symbol
type LatestRecordReader interface {
	GetLatest(ctx context.Context, symbol string) (*domain.AnalysisRecord, error)
}

// RecordSignalSource derives daily signals from stored consensus records.
// A symbol qualifies when its newest record is recent enough and scores at or
// above MinScore with better than LOW confidence.
type RecordSignalSource struct {
	store    StateStore
	records  LatestRecordReader
	minScore float64
	maxAge   time.Duration
	now      func() time.Time
}

var _ SignalSource = (*RecordSignalSource)(nil)

// NewRecordSignalSource creates a signal source over the ACTIVE and QUALIFIED tiers
func NewRecordSignalSource(store StateStore, records LatestRecordReader, minScore float64, maxAge time.Duration) *RecordSignalSource {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &RecordSignalSource{
		store:    store,
		records:  records,
		minScore: minScore,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// SetClock overrides the time source (tests)
func (s *RecordSignalSource) SetClock(now func() time.Time) {
	s.now = now
}

// Signals implements SignalSource. Symbols without any record are reported as not qualifying.
func (s *RecordSignalSource) Signals(ctx context.Context) ([]SignalObservation, error) {
	var observations []SignalObservation
	now := s.now()

	for _, tier := range []Tier{TierActive, TierQualified} {
		states, err := s.store.ListByTier(ctx, tier)
		if err != nil {
			return nil, err
		}

		for _, state := range states {
			obs := SignalObservation{Symbol: state.Symbol}

			record, err := s.records.GetLatest(ctx, state.Symbol)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			switch {
			case err != nil:
				obs.Reason = "no consensus record"
			case now.Sub(record.ComputedAt) > s.maxAge:
				obs.Reason = "consensus record too old"
			case record.FinalScore < s.minScore:
				obs.Reason = fmt.Sprintf("consensus score %.2f below %.2f", record.FinalScore, s.minScore)
			case record.ConfidenceLevel == domain.ConfidenceLow:
				obs.Reason = "consensus confidence LOW"
			default:
				obs.Qualifying = true
				obs.Reason = fmt.Sprintf("consensus %s at %.2f", record.Recommendation, record.FinalScore)
			}
			observations = append(observations, obs)
		}
	}

	return observations, nil
}
