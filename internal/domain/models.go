// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Recommendation is the discrete trading verdict derived from the weighted score
type Recommendation string

const (
	RecommendationStrongBuy  Recommendation = "STRONG_BUY"
	RecommendationBuy        Recommendation = "BUY"
	RecommendationWeakBuy    Recommendation = "WEAK_BUY"
	RecommendationHold       Recommendation = "HOLD"
	RecommendationWeakSell   Recommendation = "WEAK_SELL"
	RecommendationSell       Recommendation = "SELL"
	RecommendationStrongSell Recommendation = "STRONG_SELL"
)

// ConfidenceLevel is a discretized trust indicator
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "LOW"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceHigh   ConfidenceLevel = "HIGH"
)

// RiskLevel classifies the downside profile of a recommendation
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Source describes which tier produced a returned record
type Source string

const (
	SourceCache     Source = "cache"
	SourcePersisted Source = "persisted"
	SourceLive      Source = "live"
	SourceStale     Source = "stale"
	SourceError     Source = "error"
)

// NeutralScore is the placeholder score used when an analyzer fails
const NeutralScore = 50.0

// PriceLevels carries the market levels an analyzer observed for the symbol.
// Zero values mean "not available".
type PriceLevels struct {
	Price      float64 `json:"price"`
	Support    float64 `json:"support,omitempty"`
	Resistance float64 `json:"resistance,omitempty"`
}

// ComponentResult is the output of one analyzer for one symbol
type ComponentResult struct {
	Levels     *PriceLevels       `json:"levels,omitempty"`
	Details    map[string]float64 `json:"details,omitempty"`
	Name       string             `json:"name"`
	Confidence ConfidenceLevel    `json:"confidence"`
	Error      string             `json:"error,omitempty"`
	Score      float64            `json:"score"`
	DurationMs int64              `json:"duration_ms"`
	Neutral    bool               `json:"neutral,omitempty"`
}

// NeutralComponent builds the substitute used when an analyzer errors or times out
func NeutralComponent(name string, reason string) ComponentResult {
	return ComponentResult{
		Name:       name,
		Score:      NeutralScore,
		Confidence: ConfidenceLow,
		Error:      reason,
		Neutral:    true,
	}
}

// ComponentScore is the per-component breakdown stored on an AnalysisRecord
type ComponentScore struct {
	Name          string          `json:"name"`
	Confidence    ConfidenceLevel `json:"confidence"`
	Error         string          `json:"error,omitempty"`
	RawScore      float64         `json:"raw_score"`
	Weight        float64         `json:"weight"`
	WeightedScore float64         `json:"weighted_score"`
	Neutral       bool            `json:"neutral,omitempty"`
}

// RiskAssessment is the risk and position-size guidance block
type RiskAssessment struct {
	RiskLevel       RiskLevel `json:"risk_level"`
	DownsidePct     float64   `json:"downside_pct"`
	UpsidePct       float64   `json:"upside_pct"`
	RiskRewardRatio float64   `json:"risk_reward_ratio"`
	CurrentPrice    float64   `json:"current_price"`
	StopLoss        float64   `json:"stop_loss"`
	TakeProfit      float64   `json:"take_profit"`
	MaxPositionPct  float64   `json:"max_position_pct"`
}

// AnalysisRecord is one immutable consensus verdict for a symbol.
// A newer record for the same symbol supersedes it; records are never mutated.
type AnalysisRecord struct {
	ComputedAt             time.Time                 `json:"computed_at"`
	ExpiresAt              time.Time                 `json:"expires_at"`
	Components             map[string]ComponentScore `json:"component_scores"`
	ID                     string                    `json:"id"`
	Symbol                 string                    `json:"symbol"`
	Recommendation         Recommendation            `json:"recommendation"`
	ConfidenceLevel        ConfidenceLevel           `json:"confidence_level"`
	Risk                   RiskAssessment            `json:"risk_assessment"`
	FinalScore             float64                   `json:"confidence_score"`
	RecommendationStrength float64                   `json:"recommendation_strength"`
	ScoreStdDev            float64                   `json:"score_stddev"`
}

// Validate checks the record invariants
func (r *AnalysisRecord) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("analysis record: symbol is required")
	}
	if !r.ExpiresAt.After(r.ComputedAt) {
		return fmt.Errorf("analysis record %s: expires_at must be after computed_at", r.Symbol)
	}
	if math.IsNaN(r.FinalScore) || r.FinalScore < 0 || r.FinalScore > 100 {
		return fmt.Errorf("analysis record %s: final score %.2f outside [0,100]", r.Symbol, r.FinalScore)
	}
	return nil
}

// IsExpired reports whether the record has passed its own expiry at time now
func (r *AnalysisRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// AgeMinutes returns the whole minutes elapsed since the record was computed
func (r *AnalysisRecord) AgeMinutes(now time.Time) int {
	age := now.Sub(r.ComputedAt)
	if age < 0 {
		return 0
	}
	return int(age / time.Minute)
}

// NormalizeSymbol trims and upper-cases a ticker
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidSymbol reports whether a normalized symbol looks like an exchange ticker:
// 1-15 characters of A-Z, 0-9, '.' or '-'
func ValidSymbol(symbol string) bool {
	if symbol == "" || len(symbol) > 15 {
		return false
	}
	return strings.IndexFunc(symbol, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '-')
	}) < 0
}

// Clamp limits v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
