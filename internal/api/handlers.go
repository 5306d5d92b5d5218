package api

import (
	"context"
	"net/http"
	"time"

	"github.com/seojun/maildrain/internal/logger"
	"github.com/seojun/maildrain/internal/processor"
	"github.com/seojun/maildrain/internal/queuestore"
)

// Drainer triggers a drain pass. Satisfied by *processor.Processor.
type Drainer interface {
	ProcessPendingBatch(ctx context.Context) (*processor.BatchResult, error)
}

// HealthzHandler reports liveness. It always returns 200.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler reports readiness by pinging the queue store.
func ReadyzHandler(store queuestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			w.Header().Set("Retry-After", "30")
			respondError(w, http.StatusServiceUnavailable, "queue store unavailable")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ProcessHandler triggers one drain pass and returns its result.
func ProcessHandler(drainer Drainer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := drainer.ProcessPendingBatch(r.Context())
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("drain pass failed")
			respondError(w, http.StatusInternalServerError, "failed to process pending messages")
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

// StatsHandler returns exact queue counts per status.
func StatsHandler(store queuestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.Stats(r.Context())
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("failed to read queue stats")
			respondError(w, http.StatusInternalServerError, "failed to read queue stats")
			return
		}
		respondJSON(w, http.StatusOK, stats)
	}
}
