// Package handlers provides HTTP handlers for analysis requests and quota usage.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aristath/verdict/internal/domain"
	"github.com/aristath/verdict/internal/modules/coordinator"
	"github.com/aristath/verdict/internal/modules/quota"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ClientIDHeader identifies the caller for quota accounting
const ClientIDHeader = "X-Client-ID"

// AnalysisService serves tiered analysis results
type AnalysisService interface {
	Get(ctx context.Context, symbol, clientID string) *coordinator.Result
}

// QuotaService charges and reports a client's live computations
type QuotaService interface {
	TryConsume(ctx context.Context, clientID string) (bool, quota.Usage, error)
	Usage(ctx context.Context, clientID string) (quota.Usage, error)
}

// RefreshEnqueuer queues a background recomputation
type RefreshEnqueuer interface {
	Enqueue(symbol string) bool
	IsPending(symbol string) bool
}

// Handler handles analysis HTTP requests
type Handler struct {
	service AnalysisService
	quota   QuotaService
	refresh RefreshEnqueuer
	log     zerolog.Logger
}

// NewHandler creates a new analysis handler. refresh may be nil.
func NewHandler(service AnalysisService, quotas QuotaService, refresh RefreshEnqueuer, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		quota:   quotas,
		refresh: refresh,
		log:     log.With().Str("handler", "analysis").Logger(),
	}
}

// HandleGetAnalysis handles GET /api/analysis/{symbol}
func (h *Handler) HandleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	clientID := strings.TrimSpace(r.Header.Get(ClientIDHeader))

	result := h.service.Get(r.Context(), symbol, clientID)

	status := http.StatusOK
	if result.Error != nil {
		switch result.Error.Kind {
		case domain.ErrorKindInvalidSymbol:
			status = http.StatusBadRequest
		default:
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("X-Data-Source", string(result.Source()))
	h.writeJSON(w, status, result)
}

// RefreshResponse acknowledges a refresh request
type RefreshResponse struct {
	Quota  *quota.Usage `json:"quota,omitempty"`
	Symbol string       `json:"symbol"`
	Status string       `json:"status"`
}

// QuotaExceededResponse is returned when the client has no live computations left today
type QuotaExceededResponse struct {
	Error string      `json:"error"`
	Quota quota.Usage `json:"quota"`
}

// HandleRefresh handles POST /api/analysis/{symbol}/refresh. A queued refresh is a
// live computation and costs the X-Client-ID client one unit of daily quota; a symbol
// that is already pending is acknowledged without charge.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if !domain.ValidSymbol(symbol) {
		h.writeError(w, http.StatusBadRequest, "invalid symbol: "+chi.URLParam(r, "symbol"))
		return
	}
	if h.refresh == nil {
		h.writeError(w, http.StatusServiceUnavailable, "background refresh is not running")
		return
	}
	if h.refresh.IsPending(symbol) {
		h.writeJSON(w, http.StatusAccepted, RefreshResponse{Symbol: symbol, Status: "already_queued"})
		return
	}

	clientID := strings.TrimSpace(r.Header.Get(ClientIDHeader))
	allowed, usage, err := h.quota.TryConsume(r.Context(), clientID)
	if err != nil {
		h.log.Error().Err(err).Str("client_id", clientID).Msg("Failed to charge quota for refresh")
		h.writeError(w, http.StatusServiceUnavailable, "quota service unavailable")
		return
	}
	if !allowed {
		h.log.Info().
			Str("symbol", symbol).
			Str("client_id", clientID).
			Str("kind", string(domain.ErrorKindQuotaExceeded)).
			Msg("Refresh denied by daily quota")
		h.writeJSON(w, http.StatusTooManyRequests, QuotaExceededResponse{
			Error: "daily live analysis quota exhausted",
			Quota: usage,
		})
		return
	}

	response := RefreshResponse{Symbol: symbol, Status: "queued"}
	if clientID != "" {
		response.Quota = &usage
	}

	if !h.refresh.Enqueue(symbol) {
		// Another request queued it in between
		if h.refresh.IsPending(symbol) {
			response.Status = "already_queued"
			h.writeJSON(w, http.StatusAccepted, response)
			return
		}
		h.writeError(w, http.StatusServiceUnavailable, "refresh queue is full, try again later")
		return
	}

	h.writeJSON(w, http.StatusAccepted, response)
}

// HandleGetQuota handles GET /api/quota
func (h *Handler) HandleGetQuota(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.Header.Get(ClientIDHeader))
	if clientID == "" {
		h.writeError(w, http.StatusBadRequest, ClientIDHeader+" header is required")
		return
	}

	usage, err := h.quota.Usage(r.Context(), clientID)
	if err != nil {
		h.log.Error().Err(err).Str("client_id", clientID).Msg("Failed to read quota usage")
		h.writeError(w, http.StatusServiceUnavailable, "quota service unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, usage)
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
