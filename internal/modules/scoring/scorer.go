// Package scoring combines component scores into one weighted consensus verdict.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/verdict/internal/domain"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// Recommendation bands on the weighted score
const (
	strongBuyThreshold  = 75.0
	buyThreshold        = 60.0
	weakBuyThreshold    = 55.0
	strongSellThreshold = 25.0
	sellThreshold       = 40.0
	weakSellThreshold   = 45.0
)

// Dispersion above this removes all agreement credit from the strength
const agreementScale = 25.0

// ConsensusResult is the scorer output for one symbol
type ConsensusResult struct {
	Components             map[string]domain.ComponentScore
	Recommendation         domain.Recommendation
	ConfidenceLevel        domain.ConfidenceLevel
	Risk                   domain.RiskAssessment
	FinalScore             float64
	RecommendationStrength float64
	ScoreStdDev            float64
}

// Scorer applies fixed component weights
type Scorer struct {
	weights map[string]float64
	order   []string // weight desc, then name
}

// NewScorer validates weights (non-negative, summing to exactly 100)
func NewScorer(weights map[string]float64) (*Scorer, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: no components configured", domain.ErrInvalidWeights)
	}

	sum := 0.0
	for name, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: weight for %s is %v", domain.ErrInvalidWeights, name, w)
		}
		sum += w
	}
	if math.Abs(sum-100) > 1e-9 {
		return nil, fmt.Errorf("%w: got %v", domain.ErrInvalidWeights, sum)
	}

	copied := make(map[string]float64, len(weights))
	order := make([]string, 0, len(weights))
	for name, w := range weights {
		copied[name] = w
		order = append(order, name)
	}
	sort.Slice(order, func(i, j int) bool {
		if copied[order[i]] != copied[order[j]] {
			return copied[order[i]] > copied[order[j]]
		}
		return order[i] < order[j]
	})

	return &Scorer{weights: copied, order: order}, nil
}

// Components returns configured component names, heaviest first
func (s *Scorer) Components() []string {
	return append([]string(nil), s.order...)
}

// Weights returns a copy of the configured weights
func (s *Scorer) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out
}

// Score combines component results. Configured components missing from
// results count as neutral; results for unconfigured components are ignored.
func (s *Scorer) Score(results map[string]domain.ComponentResult) ConsensusResult {
	breakdown := make(map[string]domain.ComponentScore, len(s.order))
	present := make([]float64, 0, len(s.order))
	weighted := 0.0

	for _, name := range s.order {
		weight := s.weights[name]

		r, ok := results[name]
		if !ok {
			r = domain.NeutralComponent(name, "component missing from results")
		} else {
			present = append(present, domain.Clamp(r.Score, 0, 100))
		}

		score := domain.Clamp(r.Score, 0, 100)
		contribution := score * weight / 100
		weighted += contribution

		breakdown[name] = domain.ComponentScore{
			Name:          name,
			RawScore:      score,
			Weight:        weight,
			WeightedScore: round2(contribution),
			Confidence:    r.Confidence,
			Error:         r.Error,
			Neutral:       r.Neutral,
		}
	}

	// Bands and confidence use the unrounded score; only the stored field is rounded
	score := settle(domain.Clamp(weighted, 0, 100))
	stddev := 0.0
	if len(present) >= 2 {
		stddev = math.Sqrt(stat.PopVariance(present, nil))
	}

	confidence := ConfidenceFor(score, stddev, len(present))

	return ConsensusResult{
		Components:             breakdown,
		FinalScore:             round2(score),
		Recommendation:         RecommendationFor(score),
		ConfidenceLevel:        confidence,
		RecommendationStrength: StrengthFor(score, stddev),
		ScoreStdDev:            round2(stddev),
		Risk:                   AssessRisk(s.priceLevels(results), confidence),
	}
}

// priceLevels picks the first component (heaviest first) reporting a positive price
func (s *Scorer) priceLevels(results map[string]domain.ComponentResult) *domain.PriceLevels {
	for _, name := range s.order {
		if r, ok := results[name]; ok && r.Levels != nil && r.Levels.Price > 0 {
			return r.Levels
		}
	}
	return nil
}

// RecommendationFor maps a weighted score onto the recommendation bands
func RecommendationFor(score float64) domain.Recommendation {
	switch {
	case score >= strongBuyThreshold:
		return domain.RecommendationStrongBuy
	case score >= buyThreshold:
		return domain.RecommendationBuy
	case score >= weakBuyThreshold:
		return domain.RecommendationWeakBuy
	case score <= strongSellThreshold:
		return domain.RecommendationStrongSell
	case score <= sellThreshold:
		return domain.RecommendationSell
	case score <= weakSellThreshold:
		return domain.RecommendationWeakSell
	default:
		return domain.RecommendationHold
	}
}

// ConfidenceFor combines score extremity with cross-component agreement.
// Fewer than two components is always LOW.
func ConfidenceFor(score, stddev float64, components int) domain.ConfidenceLevel {
	if components < 2 {
		return domain.ConfidenceLow
	}
	if (score >= 80 || score <= 20) && stddev < 15 {
		return domain.ConfidenceHigh
	}
	if (score >= 70 || score <= 30) && stddev < 20 {
		return domain.ConfidenceMedium
	}
	return domain.ConfidenceLow
}

// StrengthFor returns min(|score-50|*2, 100) scaled by max(0, 1-stddev/25), in [0,100]
func StrengthFor(score, stddev float64) float64 {
	distance := math.Min(math.Abs(score-50)*2, 100)
	agreement := math.Max(0, 1-stddev/agreementScale)
	return round2(domain.Clamp(distance*agreement, 0, 100))
}

// BuildRecord turns a consensus result into an immutable AnalysisRecord
func BuildRecord(symbol string, result ConsensusResult, computedAt time.Time, ttl time.Duration) *domain.AnalysisRecord {
	computedAt = computedAt.UTC()
	return &domain.AnalysisRecord{
		ID:                     uuid.NewString(),
		Symbol:                 symbol,
		ComputedAt:             computedAt,
		ExpiresAt:              computedAt.Add(ttl),
		FinalScore:             result.FinalScore,
		Recommendation:         result.Recommendation,
		ConfidenceLevel:        result.ConfidenceLevel,
		RecommendationStrength: result.RecommendationStrength,
		ScoreStdDev:            result.ScoreStdDev,
		Components:             result.Components,
		Risk:                   result.Risk,
	}
}
