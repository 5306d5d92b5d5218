package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/seojun/maildrain/internal/provider"
	"github.com/seojun/maildrain/internal/queuestore"
)

// fakeStore implements queuestore.Store in memory and records reconciliation calls.
type fakeStore struct {
	mu       sync.Mutex
	pending  []queuestore.Message
	listErr  error
	sentErr  error
	failErr  error
	countErr error
	sentIDs  []string
	failures []failCall
}

type failCall struct {
	id         string
	errDesc    string
	retryCount int
	maxRetries int
}

func (s *fakeStore) ListPending(ctx context.Context, limit int) ([]queuestore.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	if limit > len(s.pending) {
		limit = len(s.pending)
	}
	out := make([]queuestore.Message, limit)
	copy(out, s.pending[:limit])
	return out, nil
}

func (s *fakeStore) MarkSent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sentErr != nil {
		return s.sentErr
	}
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, id, errDesc string, retryCount, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.failures = append(s.failures, failCall{id, errDesc, retryCount, maxRetries})
	return nil
}

func (s *fakeStore) CountByStatus(ctx context.Context, status queuestore.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	return len(s.pending), nil
}

func (s *fakeStore) Stats(ctx context.Context) (queuestore.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queuestore.Stats{Pending: len(s.pending)}, nil
}

func (s *fakeStore) Ping(ctx context.Context) error { return nil }

// fakeProvider fails delivery for IDs listed in failIDs and records what it saw.
type fakeProvider struct {
	mu      sync.Mutex
	failIDs map[string]error
	sent    []*provider.Message
}

func (p *fakeProvider) Send(ctx context.Context, msg *provider.Message) (*provider.DeliveryResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failIDs[msg.ID]; ok {
		return nil, err
	}
	p.sent = append(p.sent, msg)
	return &provider.DeliveryResult{ProviderMessageID: "prov-" + msg.ID, Timestamp: time.Now()}, nil
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) HealthCheck(ctx context.Context) error { return nil }

// denyClaimer refuses claims for the listed message IDs.
type denyClaimer struct {
	deny map[string]bool
}

func (c *denyClaimer) Claim(ctx context.Context, id string) (bool, error) { return !c.deny[id], nil }
func (c *denyClaimer) Release(ctx context.Context, id string) error       { return nil }

func pendingMessages(n int) []queuestore.Message {
	messages := make([]queuestore.Message, n)
	for i := range messages {
		messages[i] = queuestore.Message{
			ID:         fmt.Sprintf("m%d", i+1),
			Recipient:  fmt.Sprintf("r%d@example.com", i+1),
			Subject:    "subject",
			BodyText:   "body",
			Status:     queuestore.StatusPending,
			RetryCount: 0,
			MaxRetries: 3,
		}
	}
	return messages
}

func TestProcessPendingBatch_AllDelivered(t *testing.T) {
	store := &fakeStore{pending: pendingMessages(3)}
	prov := &fakeProvider{}
	p := New(store, prov, nil, Config{MaxBatchSize: 10})

	result, err := p.ProcessPendingBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 3 || result.Failed != 0 || result.Skipped != 0 {
		t.Errorf("unexpected result %+v", result)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
	if len(store.sentIDs) != 3 {
		t.Errorf("expected 3 MarkSent calls, got %v", store.sentIDs)
	}
	if store.sentIDs[0] != "m1" || store.sentIDs[2] != "m3" {
		t.Errorf("expected order preserved, got %v", store.sentIDs)
	}
}

func TestProcessPendingBatch_EmptyQueue(t *testing.T) {
	store := &fakeStore{}
	prov := &fakeProvider{}
	p := New(store, prov, nil, Config{MaxBatchSize: 10})

	result, err := p.ProcessPendingBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 0 || result.Failed != 0 {
		t.Errorf("expected zero result, got %+v", result)
	}
	if len(prov.sent) != 0 {
		t.Error("expected no provider calls for an empty queue")
	}
}

func TestProcessPendingBatch_FetchError(t *testing.T) {
	store := &fakeStore{listErr: errors.New("store down")}
	p := New(store, &fakeProvider{}, nil, Config{MaxBatchSize: 10})

	if _, err := p.ProcessPendingBatch(context.Background()); err == nil {
		t.Fatal("expected error when fetch fails")
	}
}

func TestProcessPendingBatch_MixedOutcomes(t *testing.T) {
	messages := pendingMessages(4)
	messages[1].RetryCount = 2 // still below max
	messages[3].RetryCount = 3 // budget exhausted

	store := &fakeStore{pending: messages}
	prov := &fakeProvider{failIDs: map[string]error{
		"m2": errors.New("connection reset"),
		"m4": errors.New("mailbox does not exist"),
	}}
	p := New(store, prov, nil, Config{MaxBatchSize: 10})

	result, err := p.ProcessPendingBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Processed != 2 || result.Failed != 2 {
		t.Errorf("unexpected result %+v", result)
	}
	if result.Processed+result.Failed+result.Skipped != 4 {
		t.Errorf("outcome counts do not cover the batch: %+v", result)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 error entries, got %v", result.Errors)
	}
	if result.Errors[0].MessageID != "m2" || result.Errors[1].MessageID != "m4" {
		t.Errorf("unexpected error entries %v", result.Errors)
	}

	if len(store.failures) != 2 {
		t.Fatalf("expected 2 MarkFailed calls, got %d", len(store.failures))
	}
	// The store receives the retry budget as observed at fetch time.
	if store.failures[0].retryCount != 2 || store.failures[0].maxRetries != 3 {
		t.Errorf("unexpected retry budget for m2: %+v", store.failures[0])
	}
	if store.failures[1].retryCount != 3 || store.failures[1].maxRetries != 3 {
		t.Errorf("unexpected retry budget for m4: %+v", store.failures[1])
	}
	if store.failures[0].errDesc != "connection reset" {
		t.Errorf("expected provider error recorded, got %q", store.failures[0].errDesc)
	}
}

func TestProcessPendingBatch_ReconcileFailureDoesNotAbort(t *testing.T) {
	store := &fakeStore{pending: pendingMessages(3), sentErr: errors.New("store down")}
	prov := &fakeProvider{}
	p := New(store, prov, nil, Config{MaxBatchSize: 10})

	result, err := p.ProcessPendingBatch(context.Background())
	if err != nil {
		t.Fatalf("expected reconcile failures to stay local, got %v", err)
	}
	// Every message still got its delivery attempt.
	if len(prov.sent) != 3 {
		t.Errorf("expected 3 delivery attempts, got %d", len(prov.sent))
	}
	if result.Processed != 3 {
		t.Errorf("expected 3 processed, got %+v", result)
	}
}

func TestProcessPendingBatch_MarkFailedFailureDoesNotAbort(t *testing.T) {
	store := &fakeStore{pending: pendingMessages(2), failErr: errors.New("store down")}
	prov := &fakeProvider{failIDs: map[string]error{"m1": errors.New("timeout")}}
	p := New(store, prov, nil, Config{MaxBatchSize: 10})

	result, err := p.ProcessPendingBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failed != 1 || result.Processed != 1 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestProcessPendingBatch_RespectsMaxBatchSize(t *testing.T) {
	store := &fakeStore{pending: pendingMessages(5)}
	prov := &fakeProvider{}
	p := New(store, prov, nil, Config{MaxBatchSize: 2})

	result, err := p.ProcessPendingBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 2 {
		t.Errorf("expected 2 processed, got %+v", result)
	}
}

func TestProcessPendingBatch_PacingDelay(t *testing.T) {
	store := &fakeStore{pending: pendingMessages(3)}
	prov := &fakeProvider{}
	p := New(store, prov, nil, Config{MaxBatchSize: 10, SendDelay: 20 * time.Millisecond})

	start := time.Now()
	if _, err := p.ProcessPendingBatch(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	elapsed := time.Since(start)

	// Two gaps between three messages; no pause after the last.
	if elapsed < 40*time.Millisecond {
		t.Errorf("expected at least 40ms of pacing, pass took %v", elapsed)
	}
}

func TestProcessPendingBatch_SkipsClaimedMessages(t *testing.T) {
	store := &fakeStore{pending: pendingMessages(3)}
	prov := &fakeProvider{}
	claimer := &denyClaimer{deny: map[string]bool{"m2": true}}
	p := New(store, prov, claimer, Config{MaxBatchSize: 10})

	result, err := p.ProcessPendingBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 2 || result.Skipped != 1 {
		t.Errorf("unexpected result %+v", result)
	}
	for _, msg := range prov.sent {
		if msg.ID == "m2" {
			t.Error("claimed message must not reach the provider")
		}
	}
	for _, id := range store.sentIDs {
		if id == "m2" {
			t.Error("claimed message must not be reconciled")
		}
	}
}

func TestProcessPendingBatch_IdempotencyKeys(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		store := &fakeStore{pending: pendingMessages(1)}
		prov := &fakeProvider{}
		p := New(store, prov, nil, Config{MaxBatchSize: 10, UseIdempotencyKeys: true})

		if _, err := p.ProcessPendingBatch(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if prov.sent[0].IdempotencyKey != "m1" {
			t.Errorf("expected idempotency key m1, got %q", prov.sent[0].IdempotencyKey)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		store := &fakeStore{pending: pendingMessages(1)}
		prov := &fakeProvider{}
		p := New(store, prov, nil, Config{MaxBatchSize: 10})

		if _, err := p.ProcessPendingBatch(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if prov.sent[0].IdempotencyKey != "" {
			t.Errorf("expected no idempotency key, got %q", prov.sent[0].IdempotencyKey)
		}
	})
}

func TestProcessPendingBatch_ContextCancelled(t *testing.T) {
	store := &fakeStore{pending: pendingMessages(3)}
	prov := &fakeProvider{}
	p := New(store, prov, nil, Config{MaxBatchSize: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.ProcessPendingBatch(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result == nil {
		t.Fatal("expected partial result alongside cancellation error")
	}
	if result.Processed != 0 {
		t.Errorf("expected no deliveries after cancellation, got %+v", result)
	}
}
