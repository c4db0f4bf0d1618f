package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all classification routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/tiers", func(r chi.Router) {
		r.Get("/", h.HandleGetTiers)
		r.Post("/cycle", h.HandleCloseCycle)

		r.Route("/symbol/{symbol}", func(r chi.Router) {
			r.Get("/", h.HandleGetSymbol)
			r.Post("/shortlist", h.HandleShortlist)
		})

		r.Get("/{tier}/symbols", h.HandleListTier)
	})
}
