package classification

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/aristath/verdict/internal/database"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := database.Schema("classification")
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	return db
}

func TestRepository_ApplyAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	_, err := repo.Get(ctx, "AAPL")
	assert.ErrorIs(t, err, ErrNotTracked)

	qualifiedAt := time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC)
	state := &State{
		Symbol:              "AAPL",
		Tier:                TierQualified,
		QualificationStreak: 4,
		DaysWithoutSignal:   1,
		LastQualifiedAt:     &qualifiedAt,
		SelectionFatigue:    2,
		LastReason:          "daily review",
		UpdatedAt:           qualifiedAt,
	}
	require.NoError(t, repo.Apply(ctx, state, nil))

	got, err := repo.Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, state, got)

	// Tier changes need a transition
	state.Tier = TierActive
	err = repo.Apply(ctx, state, nil)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	reviewedAt := qualifiedAt.Add(24 * time.Hour)
	state.Tier = TierQualified
	state.LastQualifiedAt = nil
	state.LastReviewedAt = &reviewedAt
	require.NoError(t, repo.Apply(ctx, state, nil))
	assert.Equal(t, int64(2), state.Version)

	got, err = repo.Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.Nil(t, got.LastQualifiedAt)
	require.NotNil(t, got.LastReviewedAt)
	assert.Equal(t, reviewedAt, *got.LastReviewedAt)
	assert.Equal(t, int64(2), got.Version)
}

func TestRepository_ApplyIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupTestDB(t), zerolog.Nop())
	now := time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC)

	require.NoError(t, repo.Apply(ctx, &State{Symbol: "NVDA", Tier: TierQualified, UpdatedAt: now}, nil))

	first, err := repo.Get(ctx, "NVDA")
	require.NoError(t, err)
	second, err := repo.Get(ctx, "NVDA")
	require.NoError(t, err)

	// First writer shortlists
	first.Tier = TierShortList
	require.NoError(t, repo.Apply(ctx, first, &Transition{
		Symbol: "NVDA", From: TierQualified, To: TierShortList, Reason: "shortlisted", OccurredAt: now,
	}))

	// Second writer still believes NVDA is QUALIFIED
	second.Tier = TierActive
	err = repo.Apply(ctx, second, &Transition{
		Symbol: "NVDA", From: TierQualified, To: TierActive, Reason: "quiet", OccurredAt: now.Add(time.Second),
	})
	assert.ErrorIs(t, err, ErrStateChanged)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	// Same tier, stale version
	stale, err := repo.Get(ctx, "NVDA")
	require.NoError(t, err)
	fresh, err := repo.Get(ctx, "NVDA")
	require.NoError(t, err)
	fresh.SelectionFatigue = 1
	require.NoError(t, repo.Apply(ctx, fresh, nil))
	stale.SelectionFatigue = 5
	err = repo.Apply(ctx, stale, nil)
	assert.ErrorIs(t, err, ErrStateChanged)
	assert.NotErrorIs(t, err, ErrIllegalTransition)

	// A second insert of the same symbol loses too
	err = repo.Apply(ctx, &State{Symbol: "NVDA", Tier: TierAll, UpdatedAt: now}, nil)
	assert.ErrorIs(t, err, ErrStateChanged)

	got, err := repo.Get(ctx, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, TierShortList, got.Tier)
	assert.Equal(t, 1, got.SelectionFatigue)

	history, err := repo.Transitions(ctx, "NVDA", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, TierShortList, history[0].To)
}

func TestRepository_ApplyRejectsIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupTestDB(t), zerolog.Nop())
	now := time.Now().UTC()

	state := &State{Symbol: "MSFT", Tier: TierPicks, UpdatedAt: now}
	err := repo.Apply(ctx, state, &Transition{Symbol: "MSFT", From: TierAll, To: TierPicks, OccurredAt: now})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	// Transition target must match the stored tier
	state.Tier = TierActive
	err = repo.Apply(ctx, state, &Transition{Symbol: "MSFT", From: TierAll, To: TierQualified, OccurredAt: now})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	err = repo.Apply(ctx, &State{Symbol: "MSFT", Tier: "WATCH"}, nil)
	assert.ErrorIs(t, err, ErrUnknownTier)

	_, err = repo.Get(ctx, "MSFT")
	assert.ErrorIs(t, err, ErrNotTracked, "rejected writes must not persist")
}

func TestRepository_TransitionsAndCounts(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupTestDB(t), zerolog.Nop())
	base := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

	steps := []struct {
		from, to Tier
		reason   string
	}{
		{TierAll, TierActive, "passed universe screen"},
		{TierActive, TierQualified, "daily review"},
		{TierQualified, TierShortList, "shortlisted"},
	}
	state := &State{Symbol: "NVDA", Tier: TierAll}
	for i, step := range steps {
		at := base.Add(time.Duration(i) * time.Hour)
		tr := &Transition{Symbol: "NVDA", From: step.from, To: step.to, Reason: step.reason, OccurredAt: at}
		state.Tier = step.to
		state.UpdatedAt = at
		require.NoError(t, repo.Apply(ctx, state, tr))
		assert.NotEmpty(t, tr.ID)
	}
	assert.Equal(t, int64(3), state.Version)
	require.NoError(t, repo.Apply(ctx, &State{Symbol: "AMD", Tier: TierAll, UpdatedAt: base}, nil))

	last, err := repo.LastTransition(ctx, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, TierQualified, last.From)
	assert.Equal(t, TierShortList, last.To)
	assert.Equal(t, "shortlisted", last.Reason)
	assert.Equal(t, base.Add(2*time.Hour), last.OccurredAt)

	history, err := repo.Transitions(ctx, "NVDA", 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	_, err = repo.LastTransition(ctx, "AMD")
	assert.ErrorIs(t, err, ErrNotTracked)

	counts, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Tier]int{
		TierAll:       1,
		TierActive:    0,
		TierQualified: 0,
		TierShortList: 1,
		TierPicks:     0,
	}, counts)

	listed, err := repo.ListByTier(ctx, TierShortList)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "NVDA", listed[0].Symbol)
}
