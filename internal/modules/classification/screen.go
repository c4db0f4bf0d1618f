package classification

import (
	"math"
	"time"
)

// Thresholds are the minimums a security must meet to leave the ALL tier
type Thresholds struct {
	MinPrice            float64
	MinVolume           float64
	MinMarketCap        float64
	MaxDataAge          time.Duration
	PennyStockThreshold float64
}

// DefaultThresholds returns the standard screen: $5, 500k shares/day, $300M cap, data under a day old
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinPrice:            5,
		MinVolume:           500_000,
		MinMarketCap:        300_000_000,
		MaxDataAge:          24 * time.Hour,
		PennyStockThreshold: 1,
	}
}

// Screen checks a snapshot against the thresholds at time now.
// Returns (passed, reason); reason names the first failed check.
func Screen(s SecuritySnapshot, th Thresholds, now time.Time) (bool, string) {
	// 1. Data quality
	if s.DataAsOf.IsZero() {
		return false, "missing_data_timestamp"
	}
	if now.Sub(s.DataAsOf) > th.MaxDataAge {
		return false, "stale_data"
	}
	if invalid(s.Price) || invalid(s.Volume) || invalid(s.MarketCap) {
		return false, "invalid_market_data"
	}

	// 2. Exclusion flags
	if s.RecentIPO {
		return false, "recent_ipo"
	}
	if s.DelistingRisk {
		return false, "delisting_risk"
	}
	if s.PennyStock || s.Price < th.PennyStockThreshold {
		return false, "penny_stock"
	}

	// 3. Liquidity and size minimums
	if s.Price < th.MinPrice {
		return false, "price_below_minimum"
	}
	if s.Volume < th.MinVolume {
		return false, "volume_below_minimum"
	}
	if s.MarketCap < th.MinMarketCap {
		return false, "market_cap_below_minimum"
	}

	return true, ""
}

func invalid(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0) || v < 0
}
