package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/seojun/maildrain/internal/auth"
	"github.com/seojun/maildrain/internal/logger"
)

// CorrelationIDMiddleware ensures every request carries a correlation ID.
// An incoming X-Correlation-ID header is reused; otherwise a new ID is
// generated. The ID is stored in the request context and echoed in the
// response header.
func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logger.NewCorrelationID()
		}

		ctx := logger.WithCorrelationID(r.Context(), correlationID)
		w.Header().Set("X-Correlation-ID", correlationID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusWriter captures the response status code for logging.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sw *statusWriter) WriteHeader(status int) {
	if sw.written {
		return
	}
	sw.written = true
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.written = true
	}
	return sw.ResponseWriter.Write(b)
}

// LoggingMiddleware logs each request with method, path, status, duration,
// and correlation ID. It also places a request-scoped logger into the
// context so handlers log with the correlation ID attached.
func LoggingMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			reqLog := log.With().
				Str("correlation_id", logger.CorrelationIDFromContext(r.Context())).
				Logger()
			ctx := logger.WithLogger(r.Context(), reqLog)

			next.ServeHTTP(sw, r.WithContext(ctx))

			reqLog.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("http request")
		})
	}
}

// RecoverMiddleware recovers from handler panics and responds 500.
func RecoverMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().
						Interface("panic", rec).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Msg("handler panicked")
					respondError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// APIKeyAuth requires a bearer key matching the configured bcrypt hash.
// An empty hash disables the check.
func APIKeyAuth(apiKeyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKeyHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			key, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || key == "" {
				respondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			if err := auth.VerifyAPIKey(apiKeyHash, key); err != nil {
				respondError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
