package queuestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresStore implements Store directly against the queue database. It is
// the deployment variant for installations that run next to the store's
// Postgres rather than going through its REST API.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// PostgresConfig holds pool settings for the direct-access store.
type PostgresConfig struct {
	URL            string
	PoolMin        int32
	PoolMax        int32
	ConnectTimeout time.Duration
}

// NewPostgresStore creates a PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, log zerolog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("queuestore: parse database URL: %w", err)
	}
	poolCfg.MinConns = cfg.PoolMin
	poolCfg.MaxConns = cfg.PoolMax
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("queuestore: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("queuestore: ping database: %w", err)
	}

	return &PostgresStore{pool: pool, log: log}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// ListPending returns at most limit pending messages, oldest first.
func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, recipient, subject, body_text, body_html, status,
		       retry_count, max_retries, last_error,
		       scheduled_at, sent_at, created_at, updated_at
		FROM mail_queue
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`,
		StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("queuestore: list pending: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			m         Message
			bodyHTML  sql.NullString
			lastError sql.NullString
		)
		if err := rows.Scan(
			&m.ID, &m.Recipient, &m.Subject, &m.BodyText, &bodyHTML,
			&m.Status, &m.RetryCount, &m.MaxRetries, &lastError,
			&m.ScheduledAt, &m.SentAt, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("queuestore: scan pending row: %w", err)
		}
		m.BodyHTML = bodyHTML.String
		m.LastError = lastError.String
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queuestore: list pending: %w", err)
	}

	s.log.Debug().Int("count", len(messages)).Int("limit", limit).Msg("listed pending messages")
	return messages, nil
}

// MarkSent sets a message to sent, stamps sent_at, and clears last_error.
func (s *PostgresStore) MarkSent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mail_queue
		SET status = $1, sent_at = now(), last_error = NULL, updated_at = now()
		WHERE id = $2`,
		StatusSent, id)
	if err != nil {
		return &UpdateError{Op: "mark_sent", MessageID: id, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &UpdateError{Op: "mark_sent", MessageID: id, Err: errors.New("no such message")}
	}
	return nil
}

// MarkFailed records a failed attempt. The message goes back to pending
// while retries remain, otherwise it is finalized as failed.
func (s *PostgresStore) MarkFailed(ctx context.Context, id, errDescription string, retryCount, maxRetries int) error {
	status := StatusFailed
	if shouldRetry(retryCount, maxRetries) {
		status = StatusPending
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE mail_queue
		SET status = $1, retry_count = $2, last_error = $3, updated_at = now()
		WHERE id = $4`,
		status, retryCount+1, errDescription, id)
	if err != nil {
		return &UpdateError{Op: "mark_failed", MessageID: id, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &UpdateError{Op: "mark_failed", MessageID: id, Err: errors.New("no such message")}
	}
	return nil
}

// CountByStatus returns the exact number of messages in the given status.
func (s *PostgresStore) CountByStatus(ctx context.Context, status Status) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM mail_queue WHERE status = $1`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queuestore: count %s: %w", status, err)
	}
	return n, nil
}

// Stats returns exact counts for all statuses in one query.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3)
		FROM mail_queue`,
		StatusPending, StatusSent, StatusFailed).
		Scan(&stats.Pending, &stats.Sent, &stats.Failed)
	if err != nil {
		return Stats{}, fmt.Errorf("queuestore: stats: %w", err)
	}
	return stats, nil
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("queuestore: ping: %w", err)
	}
	return nil
}
