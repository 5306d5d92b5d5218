package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/seojun/maildrain/internal/queuestore"
)

// NewRouter creates a chi.Mux with all routes, middleware, and handlers
// configured. apiKeyHash guards the trigger and stats endpoints; empty
// disables auth.
func NewRouter(drainer Drainer, store queuestore.Store, log zerolog.Logger, apiKeyHash string) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))

	// Health endpoints (no auth required)
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(store))

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes (auth required when a key hash is configured)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APIKeyAuth(apiKeyHash))

		r.Post("/process", ProcessHandler(drainer))
		r.Get("/stats", StatsHandler(store))
	})

	return r
}
