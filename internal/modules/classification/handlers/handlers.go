// Package handlers provides HTTP handlers for the classification funnel.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/aristath/verdict/internal/modules/classification"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles classification HTTP requests
type Handler struct {
	classifier *classification.Classifier
	log        zerolog.Logger
}

// NewHandler creates a new classification handler
func NewHandler(classifier *classification.Classifier, log zerolog.Logger) *Handler {
	return &Handler{
		classifier: classifier,
		log:        log.With().Str("handler", "classification").Logger(),
	}
}

// TierCount is one row of the funnel summary
type TierCount struct {
	Tier  classification.Tier `json:"tier"`
	Count int                 `json:"count"`
}

// TiersResponse is the funnel summary
type TiersResponse struct {
	Tiers   []TierCount `json:"tiers"`
	Total   int         `json:"total"`
	Enabled bool        `json:"enabled"`
}

// SymbolResponse is a symbol's state with the reasoning of its last tier change
type SymbolResponse struct {
	State          *classification.State      `json:"state"`
	LastTransition *classification.Transition `json:"last_transition,omitempty"`
}

// HandleGetTiers handles GET /api/tiers
func (h *Handler) HandleGetTiers(w http.ResponseWriter, r *http.Request) {
	counts, err := h.classifier.Counts(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to count tiers")
		h.writeError(w, http.StatusInternalServerError, "failed to count tiers")
		return
	}

	response := TiersResponse{Enabled: h.classifier.Enabled()}
	for _, tier := range classification.Tiers {
		response.Tiers = append(response.Tiers, TierCount{Tier: tier, Count: counts[tier]})
		response.Total += counts[tier]
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleListTier handles GET /api/tiers/{tier}/symbols
func (h *Handler) HandleListTier(w http.ResponseWriter, r *http.Request) {
	tier, err := classification.ParseTier(chi.URLParam(r, "tier"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	states, err := h.classifier.ListByTier(r.Context(), tier)
	if err != nil {
		h.log.Error().Err(err).Str("tier", tier.String()).Msg("Failed to list tier")
		h.writeError(w, http.StatusInternalServerError, "failed to list tier")
		return
	}
	if states == nil {
		states = []*classification.State{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tier":    tier,
		"symbols": states,
	})
}

// HandleGetSymbol handles GET /api/tiers/symbol/{symbol}
func (h *Handler) HandleGetSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	state, err := h.classifier.Get(r.Context(), symbol)
	if err != nil {
		h.writeClassificationError(w, err)
		return
	}

	response := SymbolResponse{State: state}
	last, err := h.classifier.LastTransition(r.Context(), symbol)
	switch {
	case err == nil:
		response.LastTransition = last
	case !errors.Is(err, classification.ErrNotTracked):
		h.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to load last transition")
	}

	h.writeJSON(w, http.StatusOK, response)
}

type shortlistRequest struct {
	Reason string `json:"reason"`
}

// HandleShortlist handles POST /api/tiers/symbol/{symbol}/shortlist
func (h *Handler) HandleShortlist(w http.ResponseWriter, r *http.Request) {
	var request shortlistRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	state, err := h.classifier.RecordShortlist(r.Context(), chi.URLParam(r, "symbol"), request.Reason)
	if err != nil {
		h.writeClassificationError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, state)
}

type cycleRequest struct {
	Picked []string `json:"picked"`
}

// HandleCloseCycle handles POST /api/tiers/cycle
func (h *Handler) HandleCloseCycle(w http.ResponseWriter, r *http.Request) {
	var request cycleRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	report := h.classifier.CloseSelectionCycle(r.Context(), request.Picked)
	if report.Disabled {
		h.writeError(w, http.StatusServiceUnavailable, classification.ErrDisabled.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) writeClassificationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, classification.ErrNotTracked):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, classification.ErrIllegalTransition), errors.Is(err, classification.ErrStateChanged):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, classification.ErrDisabled):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error().Err(err).Msg("Classification request failed")
		h.writeError(w, http.StatusInternalServerError, "classification request failed")
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
