// Package classification maintains the candidate funnel: every tracked symbol
// sits in exactly one tier and only the Classifier moves it between tiers.
package classification

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Tier is a stage of the candidate-narrowing funnel
type Tier string

const (
	TierAll       Tier = "ALL"
	TierActive    Tier = "ACTIVE"
	TierQualified Tier = "QUALIFIED"
	TierShortList Tier = "SHORT_LIST"
	TierPicks     Tier = "PICKS"
)

// Tiers lists every tier from widest to narrowest
var Tiers = []Tier{TierAll, TierActive, TierQualified, TierShortList, TierPicks}

var (
	// ErrUnknownTier is returned when parsing a tier name that does not exist
	ErrUnknownTier = errors.New("unknown tier")

	// ErrIllegalTransition is returned when a tier change is not allowed by the funnel
	ErrIllegalTransition = errors.New("illegal tier transition")

	// ErrNotTracked is returned for symbols the classifier has never seen
	ErrNotTracked = errors.New("symbol not tracked")

	// ErrDisabled is returned by single-symbol operations while classification is switched off
	ErrDisabled = errors.New("classification disabled")

	// ErrStateChanged is returned when another writer updated the symbol after it was read
	ErrStateChanged = errors.New("classification state changed concurrently")
)

// legalTransitions maps each tier to the tiers it may move to.
// Any tier may fall back to ALL when the universe screen fails.
var legalTransitions = map[Tier][]Tier{
	TierAll:       {TierActive},
	TierActive:    {TierAll, TierQualified},
	TierQualified: {TierAll, TierActive, TierShortList},
	TierShortList: {TierAll, TierPicks},
	TierPicks:     {TierAll, TierQualified},
}

// ParseTier converts a case-insensitive tier name
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if t.Valid() {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

// Valid reports whether t is one of the five funnel tiers
func (t Tier) Valid() bool {
	for _, known := range Tiers {
		if t == known {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer
func (t Tier) String() string {
	return string(t)
}

// CanTransition reports whether the funnel allows moving from one tier to another
func CanTransition(from, to Tier) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// State is the classification record of one symbol.
// Version is the stored row version the state was read at, 0 for a symbol not yet stored.
type State struct {
	LastQualifiedAt     *time.Time `json:"last_qualified_at,omitempty"`
	LastReviewedAt      *time.Time `json:"last_reviewed_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
	Symbol              string     `json:"symbol"`
	Tier                Tier       `json:"tier"`
	LastReason          string     `json:"last_reason"`
	QualificationStreak int        `json:"qualification_streak"`
	DaysWithoutSignal   int        `json:"days_without_signal"`
	SelectionFatigue    int        `json:"selection_fatigue"`
	Version             int64      `json:"-"`
}

// Transition is one audited tier change
type Transition struct {
	OccurredAt time.Time `json:"occurred_at"`
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	From       Tier      `json:"from_tier"`
	To         Tier      `json:"to_tier"`
	Reason     string    `json:"reason"`
}

// SecuritySnapshot is the market data the universe screen evaluates
type SecuritySnapshot struct {
	DataAsOf      time.Time `json:"data_as_of"`
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Volume        float64   `json:"volume"`
	MarketCap     float64   `json:"market_cap"`
	RecentIPO     bool      `json:"recent_ipo"`
	DelistingRisk bool      `json:"delisting_risk"`
	PennyStock    bool      `json:"penny_stock"`
}

// SignalObservation is the outcome of one symbol's daily signal check
type SignalObservation struct {
	Symbol     string `json:"symbol"`
	Reason     string `json:"reason"`
	Qualifying bool   `json:"qualifying"`
}

// ItemError is a single symbol that failed inside a batch
type ItemError struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// BatchReport summarises one classification batch
type BatchReport struct {
	StartedAt time.Time     `json:"started_at"`
	Batch     string        `json:"batch"`
	Errors    []ItemError   `json:"errors"`
	Duration  time.Duration `json:"duration"`
	Evaluated int           `json:"evaluated"`
	Promoted  int           `json:"promoted"`
	Demoted   int           `json:"demoted"`
	Disabled  bool          `json:"disabled,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
}

// Failed reports whether any symbol in the batch failed
func (r BatchReport) Failed() bool {
	return len(r.Errors) > 0
}
