package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/verdict/internal/modules/classification"
	testutil "github.com/aristath/verdict/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC)

func setupRouter(t *testing.T) (chi.Router, *classification.Classifier, *classification.Repository) {
	t.Helper()

	db, cleanup := testutil.NewTestDB(t, "classification")
	t.Cleanup(cleanup)

	repo := classification.NewRepository(db.Conn(), zerolog.Nop())
	classifier := classification.NewClassifier(repo, classification.Config{
		Enabled:         true,
		Thresholds:      classification.DefaultThresholds(),
		DemoteAfterDays: 3,
	}, nil, zerolog.Nop())
	classifier.SetClock(func() time.Time { return now })

	router := chi.NewRouter()
	NewHandler(classifier, zerolog.Nop()).RegisterRoutes(router)
	return router, classifier, repo
}

func seed(t *testing.T, repo *classification.Repository, symbol string, tier classification.Tier) {
	t.Helper()
	require.NoError(t, repo.Apply(context.Background(), &classification.State{
		Symbol:    symbol,
		Tier:      tier,
		UpdatedAt: now,
	}, nil))
}

func serve(router chi.Router, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleGetTiers(t *testing.T) {
	router, _, repo := setupRouter(t)
	seed(t, repo, "AAPL", classification.TierActive)
	seed(t, repo, "MSFT", classification.TierActive)
	seed(t, repo, "NVDA", classification.TierQualified)

	rec := serve(router, http.MethodGet, "/api/tiers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var response TiersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	assert.True(t, response.Enabled)
	assert.Equal(t, 3, response.Total)
	require.Len(t, response.Tiers, len(classification.Tiers))
	assert.Equal(t, TierCount{Tier: classification.TierAll, Count: 0}, response.Tiers[0])
	assert.Equal(t, TierCount{Tier: classification.TierActive, Count: 2}, response.Tiers[1])
	assert.Equal(t, TierCount{Tier: classification.TierQualified, Count: 1}, response.Tiers[2])
}

func TestHandleListTier(t *testing.T) {
	router, _, repo := setupRouter(t)
	seed(t, repo, "MSFT", classification.TierQualified)
	seed(t, repo, "AAPL", classification.TierQualified)

	rec := serve(router, http.MethodGet, "/api/tiers/qualified/symbols", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Tier    classification.Tier     `json:"tier"`
		Symbols []*classification.State `json:"symbols"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, classification.TierQualified, response.Tier)
	require.Len(t, response.Symbols, 2)
	assert.Equal(t, "AAPL", response.Symbols[0].Symbol)
	assert.Equal(t, "MSFT", response.Symbols[1].Symbol)

	rec = serve(router, http.MethodGet, "/api/tiers/picks/symbols", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbols":[]`)

	rec = serve(router, http.MethodGet, "/api/tiers/WATCHLIST/symbols", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetSymbol(t *testing.T) {
	router, classifier, repo := setupRouter(t)
	seed(t, repo, "AAPL", classification.TierQualified)

	_, err := classifier.RecordShortlist(context.Background(), "AAPL", "top consensus")
	require.NoError(t, err)

	rec := serve(router, http.MethodGet, "/api/tiers/symbol/aapl", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var response SymbolResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.NotNil(t, response.State)
	assert.Equal(t, classification.TierShortList, response.State.Tier)
	require.NotNil(t, response.LastTransition)
	assert.Equal(t, classification.TierQualified, response.LastTransition.From)
	assert.Equal(t, classification.TierShortList, response.LastTransition.To)
	assert.Equal(t, "shortlisted: top consensus", response.LastTransition.Reason)

	rec = serve(router, http.MethodGet, "/api/tiers/symbol/GHOST", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetSymbol_NoTransitions(t *testing.T) {
	router, _, repo := setupRouter(t)
	seed(t, repo, "AAPL", classification.TierAll)

	rec := serve(router, http.MethodGet, "/api/tiers/symbol/AAPL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "last_transition")
}

func TestHandleShortlist(t *testing.T) {
	router, classifier, repo := setupRouter(t)
	seed(t, repo, "AAPL", classification.TierQualified)
	seed(t, repo, "MSFT", classification.TierActive)

	t.Run("qualified symbol without body", func(t *testing.T) {
		rec := serve(router, http.MethodPost, "/api/tiers/symbol/AAPL/shortlist", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var state classification.State
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
		assert.Equal(t, classification.TierShortList, state.Tier)
	})

	t.Run("active symbol is a conflict", func(t *testing.T) {
		rec := serve(router, http.MethodPost, "/api/tiers/symbol/MSFT/shortlist", `{"reason":"momentum"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		rec := serve(router, http.MethodPost, "/api/tiers/symbol/GHOST/shortlist", `{}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := serve(router, http.MethodPost, "/api/tiers/symbol/AAPL/shortlist", `{"reason":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		classifier.SetEnabled(false)
		defer classifier.SetEnabled(true)

		rec := serve(router, http.MethodPost, "/api/tiers/symbol/AAPL/shortlist", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleCloseCycle(t *testing.T) {
	router, classifier, repo := setupRouter(t)
	seed(t, repo, "AAPL", classification.TierShortList)
	seed(t, repo, "MSFT", classification.TierShortList)

	rec := serve(router, http.MethodPost, "/api/tiers/cycle", `{"picked":["aapl"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var report classification.BatchReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, classification.BatchSelectionCycle, report.Batch)
	assert.Equal(t, 1, report.Promoted)

	aapl, err := classifier.Get(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, classification.TierPicks, aapl.Tier)

	msft, err := classifier.Get(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, classification.TierShortList, msft.Tier)
	assert.Equal(t, 1, msft.SelectionFatigue)

	rec = serve(router, http.MethodPost, "/api/tiers/cycle", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	classifier.SetEnabled(false)
	rec = serve(router, http.MethodPost, "/api/tiers/cycle", `{"picked":[]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
