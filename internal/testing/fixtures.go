package testing

import (
	"time"

	"github.com/aristath/verdict/internal/domain"
	"github.com/google/uuid"
)

// NewAnalysisRecordFixture returns a valid BUY record for symbol computed at computedAt
func NewAnalysisRecordFixture(symbol string, computedAt time.Time) *domain.AnalysisRecord {
	computedAt = computedAt.UTC()
	return &domain.AnalysisRecord{
		ID:                     uuid.NewString(),
		Symbol:                 symbol,
		ComputedAt:             computedAt,
		ExpiresAt:              computedAt.Add(90 * time.Minute),
		FinalScore:             67.5,
		Recommendation:         domain.RecommendationBuy,
		ConfidenceLevel:        domain.ConfidenceLow,
		RecommendationStrength: 18.2,
		ScoreStdDev:            11.66,
		Components: map[string]domain.ComponentScore{
			"technical": {Name: "technical", RawScore: 80, Weight: 35, WeightedScore: 28, Confidence: domain.ConfidenceHigh},
			"news":      {Name: "news", RawScore: 70, Weight: 25, WeightedScore: 17.5, Confidence: domain.ConfidenceMedium},
			"social":    {Name: "social", RawScore: 60, Weight: 20, WeightedScore: 12, Confidence: domain.ConfidenceMedium},
			"earnings":  {Name: "earnings", RawScore: 50, Weight: 15, WeightedScore: 7.5, Confidence: domain.ConfidenceLow},
			"market":    {Name: "market", RawScore: 50, Weight: 5, WeightedScore: 2.5, Confidence: domain.ConfidenceLow},
		},
		Risk: domain.RiskAssessment{
			RiskLevel:       domain.RiskMedium,
			DownsidePct:     10,
			UpsidePct:       10,
			RiskRewardRatio: 1,
			CurrentPrice:    100,
			StopLoss:        95,
			TakeProfit:      110,
			MaxPositionPct:  1,
		},
	}
}

// DefaultWeights returns the standard five-component weight set (sums to 100)
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"technical": 35,
		"news":      25,
		"social":    20,
		"earnings":  15,
		"market":    5,
	}
}
