package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// fakeHTTPClient records requests and returns scripted responses.
type fakeHTTPClient struct {
	requests []*HTTPRequest
	resp     *HTTPResponse
	err      error
}

func (f *fakeHTTPClient) Do(req *HTTPRequest) (*HTTPResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestResend_Send_Success(t *testing.T) {
	client := &fakeHTTPClient{
		resp: &HTTPResponse{
			StatusCode: 200,
			Body:       []byte(`{"id":"re_abc123"}`),
		},
	}
	r := NewResend(Config{
		Type:        "resend",
		APIKey:      "re-key",
		FromAddress: "queue@example.com",
		FromName:    "Queue",
	}, client)

	result, err := r.Send(context.Background(), &Message{
		ID:        "msg-1",
		Recipient: "user@example.com",
		Subject:   "Hello",
		TextBody:  "hi there",
		HTMLBody:  "<p>hi there</p>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ProviderMessageID != "re_abc123" {
		t.Errorf("expected provider id re_abc123, got %q", result.ProviderMessageID)
	}

	if len(client.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(client.requests))
	}
	req := client.requests[0]
	if req.Method != "POST" {
		t.Errorf("expected POST, got %s", req.Method)
	}
	if req.URL != "https://api.resend.com/emails" {
		t.Errorf("unexpected URL %s", req.URL)
	}
	if req.Headers["Authorization"] != "Bearer re-key" {
		t.Errorf("unexpected auth header %q", req.Headers["Authorization"])
	}

	var payload resendPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		t.Fatalf("invalid payload JSON: %v", err)
	}
	if payload.From != "Queue <queue@example.com>" {
		t.Errorf("unexpected from %q", payload.From)
	}
	if len(payload.To) != 1 || payload.To[0] != "user@example.com" {
		t.Errorf("unexpected to %v", payload.To)
	}
	if payload.Text != "hi there" || payload.HTML != "<p>hi there</p>" {
		t.Errorf("unexpected bodies text=%q html=%q", payload.Text, payload.HTML)
	}
}

func TestResend_Send_IdempotencyKeyHeader(t *testing.T) {
	client := &fakeHTTPClient{
		resp: &HTTPResponse{StatusCode: 200, Body: []byte(`{"id":"re_1"}`)},
	}
	r := NewResend(Config{APIKey: "k", FromAddress: "q@e.com"}, client)

	_, err := r.Send(context.Background(), &Message{
		ID:             "msg-7",
		Recipient:      "user@example.com",
		IdempotencyKey: "msg-7",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := client.requests[0].Headers["Idempotency-Key"]; got != "msg-7" {
		t.Errorf("expected Idempotency-Key msg-7, got %q", got)
	}

	// Without a key the header must be absent.
	client.requests = nil
	if _, err := r.Send(context.Background(), &Message{ID: "msg-8", Recipient: "u@e.com"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.requests[0].Headers["Idempotency-Key"]; ok {
		t.Error("expected no Idempotency-Key header")
	}
}

func TestResend_Send_OmitsEmptyBodies(t *testing.T) {
	client := &fakeHTTPClient{
		resp: &HTTPResponse{StatusCode: 200, Body: []byte(`{"id":"re_1"}`)},
	}
	r := NewResend(Config{APIKey: "k", FromAddress: "q@e.com"}, client)

	if _, err := r.Send(context.Background(), &Message{
		Recipient: "u@e.com",
		Subject:   "text only",
		TextBody:  "body",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(client.requests[0].Body, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["html"]; ok {
		t.Error("expected html field to be omitted when empty")
	}
}

func TestResend_Send_APIError(t *testing.T) {
	client := &fakeHTTPClient{
		resp: &HTTPResponse{
			StatusCode: 422,
			Body:       []byte(`{"message":"Invalid ` + "`to`" + ` field"}`),
		},
	}
	r := NewResend(Config{APIKey: "k", FromAddress: "q@e.com"}, client)

	_, err := r.Send(context.Background(), &Message{Recipient: "not-an-address"})
	if err == nil {
		t.Fatal("expected error")
	}

	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if pe.Provider != "resend" {
		t.Errorf("expected provider resend, got %s", pe.Provider)
	}
	if pe.StatusCode != 422 {
		t.Errorf("expected status 422, got %d", pe.StatusCode)
	}
}

func TestResend_Send_TransportError(t *testing.T) {
	client := &fakeHTTPClient{err: errors.New("connection refused")}
	r := NewResend(Config{APIKey: "k", FromAddress: "q@e.com"}, client)

	_, err := r.Send(context.Background(), &Message{Recipient: "u@e.com"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsPermanent(err) {
		t.Error("transport errors must not be classified permanent")
	}
}

func TestResend_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		client := &fakeHTTPClient{resp: &HTTPResponse{StatusCode: 200}}
		r := NewResend(Config{APIKey: "k", FromAddress: "q@e.com"}, client)
		if err := r.HealthCheck(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		client := &fakeHTTPClient{resp: &HTTPResponse{StatusCode: 401}}
		r := NewResend(Config{APIKey: "k", FromAddress: "q@e.com"}, client)
		if err := r.HealthCheck(context.Background()); err == nil {
			t.Error("expected error for 401")
		}
	})
}
