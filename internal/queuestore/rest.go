package queuestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/seojun/maildrain/internal/auth"
)

// restTable is the queue table exposed by the store's REST API.
const restTable = "mail_queue"

// RESTStore talks to a PostgREST-style queue store API. Every call carries
// the bearer credential from the token source plus the optional static
// apikey header.
type RESTStore struct {
	baseURL string
	apiKey  string
	tokens  auth.TokenSource
	client  *http.Client
	log     zerolog.Logger
}

// NewRESTStore creates a RESTStore. The client may be nil, in which case a
// default client with the given timeout is used.
func NewRESTStore(baseURL, apiKey string, tokens auth.TokenSource, timeout time.Duration, client *http.Client, log zerolog.Logger) *RESTStore {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &RESTStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		tokens:  tokens,
		client:  client,
		log:     log,
	}
}

// ListPending returns at most limit pending messages, oldest first.
func (s *RESTStore) ListPending(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := url.Values{}
	query.Set("select", "*")
	query.Set("status", "eq."+string(StatusPending))
	query.Set("order", "created_at.asc")
	query.Set("limit", strconv.Itoa(limit))

	resp, err := s.do(ctx, http.MethodGet, s.tableURL(query), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("queuestore: list pending: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("queuestore: list pending: status %d", resp.StatusCode)
	}

	var messages []Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("queuestore: decode pending list: %w", err)
	}

	s.log.Debug().Int("count", len(messages)).Int("limit", limit).Msg("listed pending messages")
	return messages, nil
}

// MarkSent sets a message to sent, stamps sent_at, and clears last_error.
func (s *RESTStore) MarkSent(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	patch := map[string]interface{}{
		"status":     StatusSent,
		"sent_at":    now,
		"last_error": nil,
		"updated_at": now,
	}
	if err := s.update(ctx, id, patch); err != nil {
		return &UpdateError{Op: "mark_sent", MessageID: id, StatusCode: statusCodeOf(err), Err: err}
	}
	return nil
}

// MarkFailed records a failed attempt. The message goes back to pending
// while retries remain, otherwise it is finalized as failed.
func (s *RESTStore) MarkFailed(ctx context.Context, id, errDescription string, retryCount, maxRetries int) error {
	status := StatusFailed
	if shouldRetry(retryCount, maxRetries) {
		status = StatusPending
	}

	patch := map[string]interface{}{
		"status":      status,
		"retry_count": retryCount + 1,
		"last_error":  errDescription,
		"updated_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.update(ctx, id, patch); err != nil {
		return &UpdateError{Op: "mark_failed", MessageID: id, StatusCode: statusCodeOf(err), Err: err}
	}
	return nil
}

// CountByStatus returns the exact number of messages in the given status.
// The count comes from the Content-Range header of a zero-row page with
// Prefer: count=exact, never from page length.
func (s *RESTStore) CountByStatus(ctx context.Context, status Status) (int, error) {
	query := url.Values{}
	query.Set("select", "id")
	query.Set("status", "eq."+string(status))

	headers := map[string]string{
		"Prefer":     "count=exact",
		"Range-Unit": "items",
		"Range":      "0-0",
	}

	resp, err := s.do(ctx, http.MethodGet, s.tableURL(query), nil, headers)
	if err != nil {
		return 0, fmt.Errorf("queuestore: count %s: %w", status, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("queuestore: count %s: status %d", status, resp.StatusCode)
	}

	return parseContentRangeTotal(resp.Header.Get("Content-Range"))
}

// Stats returns exact counts for all statuses.
func (s *RESTStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	for _, pair := range []struct {
		status Status
		dest   *int
	}{
		{StatusPending, &stats.Pending},
		{StatusSent, &stats.Sent},
		{StatusFailed, &stats.Failed},
	} {
		n, err := s.CountByStatus(ctx, pair.status)
		if err != nil {
			return Stats{}, err
		}
		*pair.dest = n
	}
	return stats, nil
}

// Ping verifies the store answers an empty listing request.
func (s *RESTStore) Ping(ctx context.Context) error {
	query := url.Values{}
	query.Set("select", "id")
	query.Set("limit", "1")

	resp, err := s.do(ctx, http.MethodGet, s.tableURL(query), nil, nil)
	if err != nil {
		return fmt.Errorf("queuestore: ping: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("queuestore: ping: status %d", resp.StatusCode)
	}
	return nil
}

func (s *RESTStore) tableURL(query url.Values) string {
	return s.baseURL + "/" + restTable + "?" + query.Encode()
}

// update PATCHes a single row by id.
func (s *RESTStore) update(ctx context.Context, id string, patch map[string]interface{}) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}

	query := url.Values{}
	query.Set("id", "eq."+id)

	headers := map[string]string{
		"Content-Type": "application/json",
		"Prefer":       "return=minimal",
	}

	resp, err := s.do(ctx, http.MethodPatch, s.tableURL(query), body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{code: resp.StatusCode}
	}
	return nil
}

// do builds and executes an authenticated request. The credential is
// resolved before the request is built so a missing credential never
// reaches the network. Only an absent credential is a configuration
// failure; a failed token refresh stays a plain fetch error.
func (s *RESTStore) do(ctx context.Context, method, reqURL string, body []byte, headers map[string]string) (*http.Response, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			return nil, fmt.Errorf("%w: %v", ErrMissingCredential, err)
		}
		return nil, fmt.Errorf("resolve token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return s.client.Do(req)
}

// httpStatusError carries a non-2xx update status for UpdateError.
type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d", e.code)
}

func statusCodeOf(err error) int {
	if se, ok := err.(*httpStatusError); ok {
		return se.code
	}
	return 0
}

// parseContentRangeTotal extracts the total from a Content-Range header of
// the form "0-0/57" or "*/0".
func parseContentRangeTotal(header string) (int, error) {
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return 0, fmt.Errorf("queuestore: malformed Content-Range %q", header)
	}

	total := header[idx+1:]
	if total == "*" {
		return 0, fmt.Errorf("queuestore: store returned no exact count in %q", header)
	}

	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("queuestore: malformed Content-Range %q: %w", header, err)
	}
	return n, nil
}
