// Package processor drains pending messages from the queue store to the
// delivery provider, one batch at a time.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/seojun/maildrain/internal/lease"
	"github.com/seojun/maildrain/internal/logger"
	"github.com/seojun/maildrain/internal/provider"
	"github.com/seojun/maildrain/internal/queuestore"
)

// Config holds batch drain settings.
type Config struct {
	// MaxBatchSize bounds how many pending messages one pass fetches.
	MaxBatchSize int
	// SendDelay is the pause between delivery attempts within a batch.
	// Zero disables pacing.
	SendDelay time.Duration
	// UseIdempotencyKeys makes each send carry the message ID as an
	// idempotency key. A message redelivered because MarkSent failed is
	// then deduplicated by providers that honor the key.
	UseIdempotencyKeys bool
}

// SendError records one message that could not be delivered.
type SendError struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// BatchResult summarizes one drain pass.
type BatchResult struct {
	// Processed counts messages delivered and confirmed by the provider.
	Processed int `json:"processed"`
	// Failed counts messages whose delivery attempt errored.
	Failed int `json:"failed"`
	// Skipped counts messages left alone because another worker held
	// their claim.
	Skipped int `json:"skipped"`
	// Errors carries one entry per failed message.
	Errors []SendError `json:"errors,omitempty"`
}

// Processor drains the queue store through a delivery provider.
type Processor struct {
	store    queuestore.Store
	provider provider.Provider
	claimer  lease.Claimer
	cfg      Config
}

// New creates a Processor. A nil claimer disables message leasing.
func New(store queuestore.Store, prov provider.Provider, claimer lease.Claimer, cfg Config) *Processor {
	if claimer == nil {
		claimer = lease.NopClaimer{}
	}
	return &Processor{
		store:    store,
		provider: prov,
		claimer:  claimer,
		cfg:      cfg,
	}
}

// ProcessPendingBatch fetches up to MaxBatchSize pending messages and
// attempts delivery for each, oldest first. Every fetched message is
// reconciled exactly once: delivered messages are marked sent, failed
// attempts are marked failed with their retry budget consulted. A failed
// status update never aborts the pass; the remaining messages still get
// their attempt.
func (p *Processor) ProcessPendingBatch(ctx context.Context) (*BatchResult, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	messages, err := p.store.ListPending(ctx, p.cfg.MaxBatchSize)
	if err != nil {
		return nil, fmt.Errorf("processor: fetch pending messages: %w", err)
	}

	result := &BatchResult{}
	if len(messages) == 0 {
		log.Debug().Msg("no pending messages")
		return result, nil
	}

	log.Info().Int("count", len(messages)).Msg("draining pending messages")

	for i := range messages {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		p.processOne(ctx, &messages[i], result, log)

		// Pace between attempts, but not after the last one.
		if p.cfg.SendDelay > 0 && i < len(messages)-1 {
			select {
			case <-time.After(p.cfg.SendDelay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}

	BatchDuration.Observe(time.Since(start).Seconds())
	log.Info().
		Int("processed", result.Processed).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Dur("elapsed", time.Since(start)).
		Msg("drain pass complete")

	return result, nil
}

func (p *Processor) processOne(ctx context.Context, msg *queuestore.Message, result *BatchResult, log zerolog.Logger) {
	claimed, err := p.claimer.Claim(ctx, msg.ID)
	if err != nil {
		// Treat a broken claim backend like a held claim: skipping is
		// safe, double delivery is not.
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("claim check failed, skipping message")
		result.Skipped++
		MessagesSkippedTotal.Inc()
		return
	}
	if !claimed {
		log.Debug().Str("message_id", msg.ID).Msg("message claimed by another worker, skipping")
		result.Skipped++
		MessagesSkippedTotal.Inc()
		return
	}
	defer func() {
		if err := p.claimer.Release(ctx, msg.ID); err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to release claim")
		}
	}()

	out := &provider.Message{
		ID:        msg.ID,
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		TextBody:  msg.BodyText,
		HTMLBody:  msg.BodyHTML,
	}
	if p.cfg.UseIdempotencyKeys {
		out.IdempotencyKey = msg.ID
	}

	sendStart := time.Now()
	delivery, sendErr := p.provider.Send(ctx, out)
	SendDuration.WithLabelValues(p.provider.Name()).Observe(time.Since(sendStart).Seconds())

	if sendErr != nil {
		result.Failed++
		result.Errors = append(result.Errors, SendError{MessageID: msg.ID, Error: sendErr.Error()})
		MessagesProcessedTotal.WithLabelValues("failed").Inc()

		log.Warn().
			Err(sendErr).
			Str("message_id", msg.ID).
			Int("retry_count", msg.RetryCount).
			Int("max_retries", msg.MaxRetries).
			Bool("permanent", provider.IsPermanent(sendErr)).
			Msg("delivery attempt failed")

		if err := p.store.MarkFailed(ctx, msg.ID, sendErr.Error(), msg.RetryCount, msg.MaxRetries); err != nil {
			// The attempt already happened; escalating here would
			// not undo it. Log and move on.
			ReconcileErrorsTotal.WithLabelValues("mark_failed").Inc()
			log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to record delivery failure")
		}
		return
	}

	result.Processed++
	MessagesProcessedTotal.WithLabelValues("sent").Inc()

	log.Info().
		Str("message_id", msg.ID).
		Str("provider_message_id", delivery.ProviderMessageID).
		Str("recipient", msg.Recipient).
		Msg("message delivered")

	if err := p.store.MarkSent(ctx, msg.ID); err != nil {
		// The message went out but still reads pending. With
		// idempotency keys on, the next pass redelivers harmlessly;
		// without them the provider may send a duplicate.
		ReconcileErrorsTotal.WithLabelValues("mark_sent").Inc()
		log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to record delivery")
	}
}

// RefreshQueueDepth updates the pending-depth gauge from the store.
func (p *Processor) RefreshQueueDepth(ctx context.Context) {
	n, err := p.store.CountByStatus(ctx, queuestore.StatusPending)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("failed to count pending messages")
		return
	}
	QueueDepth.Set(float64(n))
}
