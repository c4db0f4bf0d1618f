package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the analysis and quota routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/analysis/{symbol}", func(r chi.Router) {
		r.Get("/", h.HandleGetAnalysis)
		r.Post("/refresh", h.HandleRefresh)
	})
	r.Get("/api/quota", h.HandleGetQuota)
}
