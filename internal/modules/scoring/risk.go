package scoring

import (
	"math"

	"github.com/aristath/verdict/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	defaultDownsidePct = 10.0
	defaultUpsidePct   = 10.0
	defaultStopFactor  = 0.95
	defaultTakeFactor  = 1.10
	maxPositionPct     = 10.0
	maxRiskRewardRatio = 100.0
)

// positionBase is the max position size (% of portfolio) per confidence level
var positionBase = map[domain.ConfidenceLevel]float64{
	domain.ConfidenceHigh:   5,
	domain.ConfidenceMedium: 3,
	domain.ConfidenceLow:    1,
}

// AssessRisk derives the risk block from price levels and the confidence level.
// Missing support/resistance fall back to 10% either side; a non-positive downside counts as 10.
func AssessRisk(levels *domain.PriceLevels, confidence domain.ConfidenceLevel) domain.RiskAssessment {
	var price, support, resistance float64
	if levels != nil {
		price = positiveOrZero(levels.Price)
		support = positiveOrZero(levels.Support)
		resistance = positiveOrZero(levels.Resistance)
	}

	downside := defaultDownsidePct
	upside := defaultUpsidePct
	if price > 0 {
		if support > 0 {
			downside = (price - support) * 100 / price
		}
		if resistance > 0 {
			upside = (resistance - price) * 100 / price
		}
	}
	if downside <= 0 {
		downside = defaultDownsidePct
	}
	upside = domain.Clamp(upside, 0, 100)
	downside = domain.Clamp(downside, 0, 100)

	ratio := domain.Clamp(upside/downside, 0, maxRiskRewardRatio)

	position := positionBase[confidence]
	if position == 0 {
		position = positionBase[domain.ConfidenceLow]
	}
	switch {
	case downside > 15:
		position /= 2
	case downside < 5:
		position *= 1.5
	}

	stop := price * defaultStopFactor
	if support > 0 {
		stop = support
	}
	target := price * defaultTakeFactor
	if resistance > 0 {
		target = resistance
	}

	return domain.RiskAssessment{
		RiskLevel:       riskLevelFor(downside, ratio),
		DownsidePct:     round2(downside),
		UpsidePct:       round2(upside),
		RiskRewardRatio: round2(ratio),
		CurrentPrice:    round2(price),
		StopLoss:        round2(stop),
		TakeProfit:      round2(target),
		MaxPositionPct:  round2(domain.Clamp(position, 0, maxPositionPct)),
	}
}

func riskLevelFor(downside, ratio float64) domain.RiskLevel {
	switch {
	case downside > 15 || ratio < 1:
		return domain.RiskHigh
	case downside > 8 || ratio < 2:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// round2 rounds half away from zero to two decimals (cents for prices)
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// settle drops floating-point accumulation noise below 1e-9 so that a weighted
// sum landing exactly on a band edge is not pushed under it
func settle(v float64) float64 {
	return decimal.NewFromFloat(v).Round(9).InexactFloat64()
}

// positiveOrZero maps NaN, infinities and non-positive values to 0
func positiveOrZero(v float64) float64 {
	if v > 0 && !math.IsInf(v, 1) {
		return v
	}
	return 0
}
