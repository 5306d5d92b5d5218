package provider

import (
	"context"
	"fmt"
)

// New creates a provider instance from the given config. The HTTP client is
// used by the API-backed providers; SES and SMTP manage their own transport.
func New(ctx context.Context, cfg Config, client HTTPClient) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}

	switch cfg.Type {
	case "resend":
		return NewResend(cfg, client), nil
	case "sendgrid":
		return NewSendGrid(cfg, client), nil
	case "ses":
		return NewSES(ctx, cfg)
	case "smtp":
		return NewSMTPRelay(cfg), nil
	case "stdout":
		return NewStdout(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}
