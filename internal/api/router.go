package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"indication-validation-service/internal/observability"
)

func Router(h *ValidationHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// generous enough for a cold config fetch on the request path
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/health", h.Health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/validate", h.Validate)
		r.Post("/validate/batch", h.ValidateBatch)
		r.Get("/config", h.GetConfig)
		r.Get("/stats", h.Stats)
		r.Post("/revalidate", h.Revalidate)
	})
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
