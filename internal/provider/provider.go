package provider

import (
	"context"
	"time"
)

// Provider defines the interface for delivering a queued message through an
// external email service.
type Provider interface {
	// Send delivers a message and returns a delivery result. It makes
	// exactly one outbound call; retry policy lives with the caller.
	Send(ctx context.Context, msg *Message) (*DeliveryResult, error)
	// Name returns the provider's identifier (e.g., "resend", "ses").
	Name() string
	// HealthCheck verifies the provider is reachable and functional.
	HealthCheck(ctx context.Context) error
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *HTTPRequest) (*HTTPResponse, error)
}

// HTTPRequest represents an outgoing HTTP request.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// HTTPResponse represents an HTTP response from a provider API.
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Message is the delivery-side view of a queued message.
type Message struct {
	ID        string
	From      string
	FromName  string
	Recipient string
	Subject   string
	TextBody  string
	HTMLBody  string
	// IdempotencyKey, when non-empty, is sent to providers that support
	// request deduplication so a redelivered message is not sent twice.
	IdempotencyKey string
}

// DeliveryResult contains the outcome of a successful delivery attempt.
type DeliveryResult struct {
	ProviderMessageID string
	Timestamp         time.Time
	Metadata          map[string]string
}
