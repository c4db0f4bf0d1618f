package classification

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aristath/verdict/internal/domain"
	"github.com/aristath/verdict/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	BatchUniverseScreen = "universe_screen"
	BatchDailyReview    = "daily_review"
	BatchSelectionCycle = "selection_cycle"
)

// StateStore persists classification states and transitions
type StateStore interface {
	Get(ctx context.Context, symbol string) (*State, error)
	ListByTier(ctx context.Context, tier Tier) ([]*State, error)
	Counts(ctx context.Context) (map[Tier]int, error)
	Apply(ctx context.Context, state *State, transition *Transition) error
	LastTransition(ctx context.Context, symbol string) (*Transition, error)
}

var _ StateStore = (*Repository)(nil)

// Config holds the classifier settings
type Config struct {
	Enabled         bool
	Thresholds      Thresholds
	DemoteAfterDays int // Consecutive days without a qualifying signal before QUALIFIED drops to ACTIVE
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomePromoted
	outcomeDemoted
)

// Classifier is the only writer of classification states
type Classifier struct {
	store   StateStore
	cfg     Config
	enabled atomic.Bool
	metrics *metrics.Recorder
	now     func() time.Time
	log     zerolog.Logger
}

// NewClassifier creates a classifier
func NewClassifier(store StateStore, cfg Config, recorder *metrics.Recorder, log zerolog.Logger) *Classifier {
	if cfg.DemoteAfterDays <= 0 {
		cfg.DemoteAfterDays = 3
	}
	if cfg.Thresholds.MaxDataAge <= 0 {
		cfg.Thresholds.MaxDataAge = 24 * time.Hour
	}

	c := &Classifier{
		store:   store,
		cfg:     cfg,
		metrics: recorder,
		now:     time.Now,
		log:     log.With().Str("service", "classifier").Logger(),
	}
	c.enabled.Store(cfg.Enabled)
	return c
}

// SetClock overrides the time source (tests)
func (c *Classifier) SetClock(now func() time.Time) {
	c.now = now
}

// SetEnabled switches classification on or off. Batches already running are not affected.
func (c *Classifier) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Enabled reports whether batches currently run
func (c *Classifier) Enabled() bool {
	return c.enabled.Load()
}

// ScreenUniverse promotes ALL symbols that pass the screen to ACTIVE and demotes
// any tracked symbol that fails it back to ALL. Unknown symbols start in ALL.
func (c *Classifier) ScreenUniverse(ctx context.Context, snapshots []SecuritySnapshot) BatchReport {
	report, ok := c.begin(BatchUniverseScreen)
	if !ok {
		return report
	}
	start := time.Now()

	for _, snap := range snapshots {
		symbol := domain.NormalizeSymbol(snap.Symbol)
		if !c.evaluate(ctx, &report, symbol, func() (outcome, error) {
			return c.screenOne(ctx, symbol, snap)
		}) {
			break
		}
	}

	c.finish(&report, start)
	return report
}

func (c *Classifier) screenOne(ctx context.Context, symbol string, snap SecuritySnapshot) (outcome, error) {
	if symbol == "" {
		return outcomeUnchanged, domain.ErrInvalidSymbol
	}

	now := c.now()
	state, err := c.store.Get(ctx, symbol)
	isNew := errors.Is(err, ErrNotTracked)
	if err != nil && !isNew {
		return outcomeUnchanged, err
	}
	if isNew {
		state = &State{Symbol: symbol, Tier: TierAll}
	}

	passed, reason := Screen(snap, c.cfg.Thresholds, now)
	switch {
	case passed && state.Tier == TierAll:
		return outcomePromoted, c.move(ctx, state, TierActive, "passed universe screen")

	case !passed && state.Tier != TierAll:
		state.QualificationStreak = 0
		state.DaysWithoutSignal = 0
		return outcomeDemoted, c.move(ctx, state, TierAll, "failed universe screen: "+reason)

	case !passed && (isNew || state.LastReason != reason):
		state.LastReason = reason
		state.UpdatedAt = now
		return outcomeUnchanged, c.store.Apply(ctx, state, nil)
	}

	return outcomeUnchanged, nil
}

// DailyReview promotes ACTIVE symbols with a qualifying signal to QUALIFIED and
// demotes QUALIFIED symbols after DemoteAfterDays consecutive days without one.
// QUALIFIED symbols absent from observations count as having no signal. A QUALIFIED
// symbol is counted once per UTC day, however often the review runs.
func (c *Classifier) DailyReview(ctx context.Context, observations []SignalObservation) BatchReport {
	report, ok := c.begin(BatchDailyReview)
	if !ok {
		return report
	}
	start := time.Now()

	signals := make(map[string]SignalObservation, len(observations))
	var order []string
	for _, obs := range observations {
		symbol := domain.NormalizeSymbol(obs.Symbol)
		if _, seen := signals[symbol]; !seen {
			order = append(order, symbol)
		}
		signals[symbol] = obs
	}

	qualified, err := c.store.ListByTier(ctx, TierQualified)
	if err != nil {
		c.itemFailed(&report, "", fmt.Errorf("failed to list qualified symbols: %w", err))
	}
	for _, state := range qualified {
		if _, seen := signals[state.Symbol]; !seen {
			order = append(order, state.Symbol)
		}
	}

	for _, symbol := range order {
		obs, observed := signals[symbol]
		qualifying := observed && obs.Qualifying
		if !c.evaluate(ctx, &report, symbol, func() (outcome, error) {
			return c.reviewOne(ctx, symbol, qualifying, obs.Reason)
		}) {
			break
		}
	}

	c.finish(&report, start)
	return report
}

func (c *Classifier) reviewOne(ctx context.Context, symbol string, qualifying bool, signal string) (outcome, error) {
	if symbol == "" {
		return outcomeUnchanged, domain.ErrInvalidSymbol
	}

	state, err := c.store.Get(ctx, symbol)
	if err != nil {
		return outcomeUnchanged, err
	}

	now := c.now()
	if signal == "" {
		signal = "qualifying signal"
	}

	switch state.Tier {
	case TierActive:
		if !qualifying {
			return outcomeUnchanged, nil
		}
		qualify(state, now)
		reviewed(state, now)
		return outcomePromoted, c.move(ctx, state, TierQualified, "daily review: "+signal)

	case TierQualified:
		// One review per UTC day; repeat runs leave the streak and quiet-day count alone
		if sameUTCDay(state.LastReviewedAt, now) {
			return outcomeUnchanged, nil
		}
		reviewed(state, now)

		if qualifying {
			qualify(state, now)
			state.LastReason = "daily review: " + signal
			state.UpdatedAt = now
			return outcomeUnchanged, c.store.Apply(ctx, state, nil)
		}

		state.DaysWithoutSignal++
		state.QualificationStreak = 0
		if state.DaysWithoutSignal >= c.cfg.DemoteAfterDays {
			days := state.DaysWithoutSignal
			state.DaysWithoutSignal = 0
			return outcomeDemoted, c.move(ctx, state, TierActive,
				fmt.Sprintf("no qualifying signal for %d consecutive days", days))
		}
		state.LastReason = fmt.Sprintf("no qualifying signal (%d/%d days)", state.DaysWithoutSignal, c.cfg.DemoteAfterDays)
		state.UpdatedAt = now
		return outcomeUnchanged, c.store.Apply(ctx, state, nil)
	}

	return outcomeUnchanged, nil
}

func qualify(state *State, now time.Time) {
	state.QualificationStreak++
	state.DaysWithoutSignal = 0
	qualifiedAt := now.UTC()
	state.LastQualifiedAt = &qualifiedAt
}

func reviewed(state *State, now time.Time) {
	reviewedAt := now.UTC()
	state.LastReviewedAt = &reviewedAt
}

func sameUTCDay(t *time.Time, now time.Time) bool {
	if t == nil {
		return false
	}
	y1, m1, d1 := t.UTC().Date()
	y2, m2, d2 := now.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// RecordShortlist moves a QUALIFIED symbol to SHORT_LIST. Shortlisting a symbol
// that is already on the short list counts as selection fatigue.
func (c *Classifier) RecordShortlist(ctx context.Context, symbol, reason string) (*State, error) {
	if !c.enabled.Load() {
		return nil, ErrDisabled
	}

	symbol = domain.NormalizeSymbol(symbol)
	state, err := c.store.Get(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "consensus shortlist"
	}

	switch state.Tier {
	case TierQualified:
		if err := c.move(ctx, state, TierShortList, "shortlisted: "+reason); err != nil {
			return nil, err
		}
	case TierShortList:
		state.SelectionFatigue++
		state.LastReason = "re-shortlisted without selection: " + reason
		state.UpdatedAt = c.now()
		if err := c.store.Apply(ctx, state, nil); err != nil {
			return nil, err
		}
		c.log.Info().
			Str("symbol", symbol).
			Int("selection_fatigue", state.SelectionFatigue).
			Msg("Symbol re-shortlisted")
	default:
		return nil, fmt.Errorf("%w: %s is %s, only QUALIFIED symbols can be shortlisted",
			ErrIllegalTransition, symbol, state.Tier)
	}

	return state, nil
}

// CloseSelectionCycle ends a selection cycle: previous PICKS return to QUALIFIED,
// picked SHORT_LIST symbols become PICKS with fatigue reset, and the rest of the
// short list stays put with fatigue incremented.
func (c *Classifier) CloseSelectionCycle(ctx context.Context, picked []string) BatchReport {
	report, ok := c.begin(BatchSelectionCycle)
	if !ok {
		return report
	}
	start := time.Now()

	pickedSet := make(map[string]bool, len(picked))
	for _, symbol := range picked {
		pickedSet[domain.NormalizeSymbol(symbol)] = true
	}

	previous, err := c.store.ListByTier(ctx, TierPicks)
	if err != nil {
		c.itemFailed(&report, "", fmt.Errorf("failed to list previous picks: %w", err))
	}
	shortlist, err := c.store.ListByTier(ctx, TierShortList)
	if err != nil {
		c.itemFailed(&report, "", fmt.Errorf("failed to list short list: %w", err))
	}

	for _, state := range previous {
		if !c.evaluate(ctx, &report, state.Symbol, func() (outcome, error) {
			state.DaysWithoutSignal = 0
			return outcomeDemoted, c.move(ctx, state, TierQualified, "selection cycle closed")
		}) {
			c.finish(&report, start)
			return report
		}
	}

	onShortlist := make(map[string]bool, len(shortlist))
	for _, state := range shortlist {
		onShortlist[state.Symbol] = true
		if !c.evaluate(ctx, &report, state.Symbol, func() (outcome, error) {
			if pickedSet[state.Symbol] {
				state.SelectionFatigue = 0
				return outcomePromoted, c.move(ctx, state, TierPicks, "selected in cycle")
			}
			state.SelectionFatigue++
			state.LastReason = "shortlisted but not selected"
			state.UpdatedAt = c.now()
			return outcomeUnchanged, c.store.Apply(ctx, state, nil)
		}) {
			c.finish(&report, start)
			return report
		}
	}

	for _, symbol := range picked {
		symbol := domain.NormalizeSymbol(symbol)
		if onShortlist[symbol] {
			continue
		}
		c.itemFailed(&report, symbol, fmt.Errorf("%w: %s is not on the short list", ErrIllegalTransition, symbol))
	}

	c.finish(&report, start)
	return report
}

// Get returns the classification state of symbol
func (c *Classifier) Get(ctx context.Context, symbol string) (*State, error) {
	return c.store.Get(ctx, domain.NormalizeSymbol(symbol))
}

// Counts returns the number of symbols in every tier
func (c *Classifier) Counts(ctx context.Context) (map[Tier]int, error) {
	return c.store.Counts(ctx)
}

// LastTransition returns the latest tier change of symbol with its reasoning
func (c *Classifier) LastTransition(ctx context.Context, symbol string) (*Transition, error) {
	return c.store.LastTransition(ctx, domain.NormalizeSymbol(symbol))
}

// ListByTier returns the symbols currently in tier
func (c *Classifier) ListByTier(ctx context.Context, tier Tier) ([]*State, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return c.store.ListByTier(ctx, tier)
}

// move applies a tier change and appends it to the audit trail
func (c *Classifier) move(ctx context.Context, state *State, to Tier, reason string) error {
	from := state.Tier
	now := c.now()

	state.Tier = to
	state.LastReason = reason
	state.UpdatedAt = now

	transition := &Transition{
		Symbol:     state.Symbol,
		From:       from,
		To:         to,
		Reason:     reason,
		OccurredAt: now,
	}
	if err := c.store.Apply(ctx, state, transition); err != nil {
		return err
	}

	c.metrics.RecordTransition(string(from), string(to))
	c.log.Info().
		Str("symbol", state.Symbol).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("Tier transition")

	return nil
}

func (c *Classifier) begin(batch string) (BatchReport, bool) {
	report := BatchReport{
		Batch:     batch,
		StartedAt: c.now(),
		Errors:    []ItemError{},
	}
	if !c.enabled.Load() {
		report.Disabled = true
		c.log.Info().Str("batch", batch).Msg("Classification disabled, skipping batch")
		return report, false
	}
	return report, true
}

// evaluate runs one symbol of a batch, recording its outcome or failure.
// Returns false when the batch context is done and the loop should stop.
func (c *Classifier) evaluate(ctx context.Context, report *BatchReport, symbol string, fn func() (outcome, error)) bool {
	if ctx.Err() != nil {
		report.Cancelled = true
		return false
	}

	report.Evaluated++
	result, err := c.safely(fn)
	if err != nil {
		c.itemFailed(report, symbol, err)
		return true
	}

	switch result {
	case outcomePromoted:
		report.Promoted++
	case outcomeDemoted:
		report.Demoted++
	}
	return true
}

func (c *Classifier) safely(fn func() (outcome, error)) (result outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during evaluation: %v", p)
		}
	}()
	return fn()
}

func (c *Classifier) itemFailed(report *BatchReport, symbol string, err error) {
	report.Errors = append(report.Errors, ItemError{Symbol: symbol, Error: err.Error()})
	c.metrics.RecordBatchError(report.Batch)
	c.log.Warn().
		Err(err).
		Str("batch", report.Batch).
		Str("symbol", symbol).
		Str("kind", string(domain.ErrorKindClassificationItem)).
		Msg("Classification item failed, continuing batch")
}

func (c *Classifier) finish(report *BatchReport, start time.Time) {
	report.Duration = time.Since(start)
	c.log.Info().
		Str("batch", report.Batch).
		Int("evaluated", report.Evaluated).
		Int("promoted", report.Promoted).
		Int("demoted", report.Demoted).
		Int("errors", len(report.Errors)).
		Bool("cancelled", report.Cancelled).
		Dur("duration", report.Duration).
		Msg("Classification batch complete")
}
