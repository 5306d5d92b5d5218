package queuestore

import (
	"context"
	"time"
)

// Status is a message's delivery state in the queue store.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// maxListLimit caps a single listing request. The store enforces this bound
// on larger limits to keep responses bounded.
const maxListLimit = 100

// Message is a queued email as persisted by the store. The processor only
// reads messages and updates them through MarkSent/MarkFailed.
type Message struct {
	ID          string     `json:"id"`
	Recipient   string     `json:"recipient"`
	Subject     string     `json:"subject"`
	BodyText    string     `json:"body_text"`
	BodyHTML    string     `json:"body_html,omitempty"`
	Status      Status     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	LastError   string     `json:"last_error,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Stats holds exact per-status message counts.
type Stats struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Store is the queue store contract the processor drives.
//
// MarkFailed owns the retry decision: a message whose retryCount is still
// below maxRetries goes back to pending, otherwise it is finalized as
// failed. Both implementations compute this identically.
type Store interface {
	// ListPending returns at most limit pending messages. Limits above
	// the store's maximum page size are clamped.
	ListPending(ctx context.Context, limit int) ([]Message, error)

	// MarkSent sets a message to sent, stamps sent_at, and clears
	// last_error.
	MarkSent(ctx context.Context, id string) error

	// MarkFailed records a failed attempt: increments retry_count,
	// stores errDescription, and either re-queues the message as
	// pending or finalizes it as failed.
	MarkFailed(ctx context.Context, id, errDescription string, retryCount, maxRetries int) error

	// CountByStatus returns the exact number of messages in the given
	// status.
	CountByStatus(ctx context.Context, status Status) (int, error)

	// Stats returns exact counts for all statuses.
	Stats(ctx context.Context) (Stats, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

// shouldRetry is the single retry-policy decision: a failed attempt
// re-queues the message only while attempts remain.
func shouldRetry(retryCount, maxRetries int) bool {
	return retryCount < maxRetries
}
