package classification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/verdict/internal/database"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const stateColumns = `symbol, tier, qualification_streak, days_without_signal,
	last_qualified_at, selection_fatigue, last_reason, last_reviewed_at, updated_at, version`

// Repository stores classification states and the transition audit trail in classification.db
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new classification repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "classification").Logger(),
	}
}

// Get returns the state of symbol, or ErrNotTracked
func (r *Repository) Get(ctx context.Context, symbol string) (*State, error) {
	query := `SELECT ` + stateColumns + ` FROM classification_states WHERE symbol = ?`
	return scanState(r.db.QueryRowContext(ctx, query, symbol))
}

// ListByTier returns every symbol currently in tier, ordered by symbol
func (r *Repository) ListByTier(ctx context.Context, tier Tier) ([]*State, error) {
	query := `SELECT ` + stateColumns + ` FROM classification_states WHERE tier = ? ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query, string(tier))
	if err != nil {
		return nil, fmt.Errorf("failed to list tier %s: %w", tier, err)
	}
	defer rows.Close()

	var states []*State
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tier %s: %w", tier, err)
	}

	return states, nil
}

// Counts returns the number of symbols per tier. Every tier is present, empty ones as zero.
func (r *Repository) Counts(ctx context.Context) (map[Tier]int, error) {
	counts := make(map[Tier]int, len(Tiers))
	for _, tier := range Tiers {
		counts[tier] = 0
	}

	rows, err := r.db.QueryContext(ctx, "SELECT tier, COUNT(*) FROM classification_states GROUP BY tier")
	if err != nil {
		return nil, fmt.Errorf("failed to count tiers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("failed to scan tier count: %w", err)
		}
		counts[Tier(tier)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tier counts: %w", err)
	}

	return counts, nil
}

// Apply writes state and, when transition is non-nil, appends it to the audit trail.
// Both writes share one transaction.
//
// Writes are compare-and-set: a stored symbol is only updated while its row is still
// at state.Version and in the tier the write started from, and a new symbol (Version 0)
// is only inserted if no other writer stored it first. Losing that race returns
// ErrStateChanged, also wrapping ErrIllegalTransition when the stored tier moved.
// On success state.Version is advanced to the stored version.
func (r *Repository) Apply(ctx context.Context, state *State, transition *Transition) error {
	if !state.Tier.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTier, state.Tier)
	}

	expected := state.Tier
	if transition != nil {
		if transition.To != state.Tier || !CanTransition(transition.From, transition.To) {
			return fmt.Errorf("%w: %s -> %s for %s", ErrIllegalTransition, transition.From, transition.To, state.Symbol)
		}
		// Untracked symbols start in ALL
		if state.Version == 0 && transition.From != TierAll {
			return fmt.Errorf("%w: %s is not tracked, cannot leave %s", ErrIllegalTransition, state.Symbol, transition.From)
		}
		if transition.ID == "" {
			transition.ID = uuid.NewString()
		}
		expected = transition.From
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var (
			res sql.Result
			err error
		)
		if state.Version == 0 {
			res, err = tx.ExecContext(ctx, `INSERT INTO classification_states (`+stateColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
				ON CONFLICT(symbol) DO NOTHING`,
				state.Symbol,
				string(state.Tier),
				state.QualificationStreak,
				state.DaysWithoutSignal,
				unixOrNull(state.LastQualifiedAt),
				state.SelectionFatigue,
				state.LastReason,
				unixOrNull(state.LastReviewedAt),
				state.UpdatedAt.Unix(),
			)
		} else {
			res, err = tx.ExecContext(ctx, `UPDATE classification_states SET
					tier = ?,
					qualification_streak = ?,
					days_without_signal = ?,
					last_qualified_at = ?,
					selection_fatigue = ?,
					last_reason = ?,
					last_reviewed_at = ?,
					updated_at = ?,
					version = version + 1
				WHERE symbol = ? AND version = ? AND tier = ?`,
				string(state.Tier),
				state.QualificationStreak,
				state.DaysWithoutSignal,
				unixOrNull(state.LastQualifiedAt),
				state.SelectionFatigue,
				state.LastReason,
				unixOrNull(state.LastReviewedAt),
				state.UpdatedAt.Unix(),
				state.Symbol,
				state.Version,
				string(expected),
			)
		}
		if err != nil {
			return fmt.Errorf("failed to save state for %s: %w", state.Symbol, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to save state for %s: %w", state.Symbol, err)
		}
		if affected == 0 {
			return conflict(ctx, tx, state.Symbol, expected)
		}

		if transition == nil {
			return nil
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO tier_transitions (id, symbol, from_tier, to_tier, reason, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			transition.ID,
			transition.Symbol,
			string(transition.From),
			string(transition.To),
			transition.Reason,
			transition.OccurredAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to record transition for %s: %w", state.Symbol, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	state.Version++
	return nil
}

// conflict explains why a compare-and-set write matched no row
func conflict(ctx context.Context, tx *sql.Tx, symbol string, expected Tier) error {
	var stored string
	err := tx.QueryRowContext(ctx, "SELECT tier FROM classification_states WHERE symbol = ?", symbol).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s is no longer tracked", ErrStateChanged, symbol)
	case err != nil:
		return fmt.Errorf("failed to read state for %s: %w", symbol, err)
	case Tier(stored) != expected:
		return fmt.Errorf("%w: %w: %s is %s, expected %s", ErrStateChanged, ErrIllegalTransition, symbol, stored, expected)
	}
	return fmt.Errorf("%w: %s was updated by another writer", ErrStateChanged, symbol)
}

func unixOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

// LastTransition returns the most recent tier change of symbol, or ErrNotTracked
func (r *Repository) LastTransition(ctx context.Context, symbol string) (*Transition, error) {
	transitions, err := r.Transitions(ctx, symbol, 1)
	if err != nil {
		return nil, err
	}
	if len(transitions) == 0 {
		return nil, ErrNotTracked
	}
	return transitions[0], nil
}

// Transitions returns up to limit transitions of symbol, newest first
func (r *Repository) Transitions(ctx context.Context, symbol string, limit int) ([]*Transition, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id, symbol, from_tier, to_tier, reason, occurred_at
		FROM tier_transitions
		WHERE symbol = ?
		ORDER BY occurred_at DESC
		LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions for %s: %w", symbol, err)
	}
	defer rows.Close()

	var transitions []*Transition
	for rows.Next() {
		var t Transition
		var from, to string
		var occurredAt int64
		if err := rows.Scan(&t.ID, &t.Symbol, &from, &to, &t.Reason, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.From = Tier(from)
		t.To = Tier(to)
		t.OccurredAt = time.Unix(0, occurredAt).UTC()
		transitions = append(transitions, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions for %s: %w", symbol, err)
	}

	return transitions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanState(row rowScanner) (*State, error) {
	var (
		state         State
		tier          string
		lastQualified sql.NullInt64
		lastReviewed  sql.NullInt64
		updatedAt     int64
	)

	err := row.Scan(
		&state.Symbol,
		&tier,
		&state.QualificationStreak,
		&state.DaysWithoutSignal,
		&lastQualified,
		&state.SelectionFatigue,
		&state.LastReason,
		&lastReviewed,
		&updatedAt,
		&state.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotTracked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan classification state: %w", err)
	}

	state.Tier = Tier(tier)
	state.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if lastQualified.Valid {
		t := time.Unix(lastQualified.Int64, 0).UTC()
		state.LastQualifiedAt = &t
	}
	if lastReviewed.Valid {
		t := time.Unix(lastReviewed.Int64, 0).UTC()
		state.LastReviewedAt = &t
	}

	return &state, nil
}
