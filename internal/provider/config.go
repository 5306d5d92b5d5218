package provider

import (
	"errors"
	"time"
)

// Config holds configuration for a delivery provider.
type Config struct {
	// Type identifies the provider: "resend", "sendgrid", "ses", "smtp", "stdout".
	Type string

	// APIKey is the authentication credential for API-based providers.
	APIKey string

	// Endpoint overrides the default API URL (useful for testing).
	Endpoint string

	// FromAddress is the sender address stamped on every message.
	FromAddress string

	// FromName is the sender display name.
	FromName string

	// Timeout is the maximum duration for API calls.
	Timeout time.Duration

	// SES-specific fields.
	Region    string
	AccessKey string
	SecretKey string

	// SMTP relay fields.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

const defaultTimeout = 30 * time.Second

// Validate checks that required fields are set based on provider type.
func (c *Config) Validate() error {
	if c.Type == "" {
		return errors.New("provider type is required")
	}
	if c.FromAddress == "" && c.Type != "stdout" {
		return errors.New("from_address is required")
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}

	switch c.Type {
	case "resend":
		if c.APIKey == "" {
			return errors.New("resend: api_key is required")
		}
	case "sendgrid":
		if c.APIKey == "" {
			return errors.New("sendgrid: api_key is required")
		}
	case "ses":
		if c.Region == "" {
			return errors.New("ses: region is required")
		}
		if c.AccessKey == "" || c.SecretKey == "" {
			return errors.New("ses: access_key and secret_key are required")
		}
	case "smtp":
		if c.SMTPHost == "" {
			return errors.New("smtp: smtp_host is required")
		}
		if c.SMTPPort == 0 {
			c.SMTPPort = 587
		}
	case "stdout":
		// No configuration required.
	default:
		return errors.New("unknown provider type: " + c.Type)
	}

	return nil
}

// Sender returns the RFC 5322 from value, including the display name when
// one is configured.
func (c *Config) Sender() string {
	if c.FromName == "" {
		return c.FromAddress
	}
	return c.FromName + " <" + c.FromAddress + ">"
}
