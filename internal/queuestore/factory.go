package queuestore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/seojun/maildrain/internal/auth"
)

// Config selects and configures a store backend.
type Config struct {
	// Backend is "rest" or "postgres".
	Backend string

	// REST backend.
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Tokens  auth.TokenSource

	// Postgres backend.
	Postgres PostgresConfig
}

// New creates a Store for the configured backend.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "rest":
		if cfg.Tokens == nil {
			return nil, ErrMissingCredential
		}
		return NewRESTStore(cfg.BaseURL, cfg.APIKey, cfg.Tokens, cfg.Timeout, nil, log), nil
	case "postgres":
		return NewPostgresStore(ctx, cfg.Postgres, log)
	default:
		return nil, fmt.Errorf("queuestore: unsupported backend %q", cfg.Backend)
	}
}
