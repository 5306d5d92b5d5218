package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	resendDefaultEndpoint = "https://api.resend.com"
	resendSendPath        = "/emails"
	resendDomainsPath     = "/domains"
)

// Resend implements the Provider interface for the Resend API.
type Resend struct {
	apiKey   string
	from     string
	endpoint string
	client   HTTPClient
}

// NewResend creates a Resend provider from the given configuration.
func NewResend(cfg Config, client HTTPClient) *Resend {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = resendDefaultEndpoint
	}
	return &Resend{
		apiKey:   cfg.APIKey,
		from:     cfg.Sender(),
		endpoint: endpoint,
		client:   client,
	}
}

func (r *Resend) Name() string { return "resend" }

// Send delivers a message via the Resend emails API. When the message
// carries an idempotency key it is passed through so the API deduplicates
// repeated sends of the same message.
func (r *Resend) Send(ctx context.Context, msg *Message) (*DeliveryResult, error) {
	payload := resendPayload{
		From:    r.from,
		To:      []string{msg.Recipient},
		Subject: msg.Subject,
		Text:    msg.TextBody,
		HTML:    msg.HTMLBody,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("resend: marshal request: %w", err)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + r.apiKey,
		"Content-Type":  "application/json",
	}
	if msg.IdempotencyKey != "" {
		headers["Idempotency-Key"] = msg.IdempotencyKey
	}

	resp, err := r.client.Do(&HTTPRequest{
		Method:  "POST",
		URL:     r.endpoint + resendSendPath,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("resend: send request: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var rr resendResponse
		messageID := ""
		if err := json.Unmarshal(resp.Body, &rr); err == nil {
			messageID = rr.ID
		}
		return &DeliveryResult{
			ProviderMessageID: messageID,
			Timestamp:         time.Now(),
			Metadata: map[string]string{
				"status_code": fmt.Sprintf("%d", resp.StatusCode),
			},
		}, nil
	}

	return nil, classifyHTTPError("resend", resp.StatusCode, string(resp.Body))
}

// HealthCheck verifies Resend API connectivity by listing domains.
func (r *Resend) HealthCheck(ctx context.Context) error {
	resp, err := r.client.Do(&HTTPRequest{
		Method: "GET",
		URL:    r.endpoint + resendDomainsPath,
		Headers: map[string]string{
			"Authorization": "Bearer " + r.apiKey,
		},
	})
	if err != nil {
		return fmt.Errorf("resend: health check request: %w", err)
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("resend: health check returned status %d", resp.StatusCode)
	}
	return nil
}

type resendPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}

type resendResponse struct {
	ID string `json:"id"`
}
