package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the routes. metrics and limit may be nil.
func NewRouter(h *Handler, metrics http.Handler, limit func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", h.HandleHealth)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/workflows/generate", h.HandleGenerate)
		r.Post("/workflows/analyze", h.HandleAnalyze)
		r.Get("/status", h.HandleStatus)
		r.Post("/status/test", h.HandleTestConnection)
		r.Delete("/cache", h.HandleClearCache)
		r.Patch("/config", h.HandleUpdateConfig)
		r.Get("/usage", h.HandleUsage)
	})
	return r
}
