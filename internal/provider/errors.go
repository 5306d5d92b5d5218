package provider

import (
	"errors"
	"strings"
)

// Error wraps a delivery provider failure with classification metadata.
type Error struct {
	// Provider is the name of the service that rejected the message.
	Provider string
	// StatusCode is the HTTP status code, when the failure came from an
	// API response. Zero for transport-level failures.
	StatusCode int
	// Message is the error description from the provider.
	Message string
	// Permanent indicates the send will not succeed on retry.
	Permanent bool
}

func (e *Error) Error() string {
	return e.Provider + ": " + e.Message
}

// IsPermanent returns true if the error is a permanent failure that a
// retry cannot fix (invalid recipient, revoked credential).
func IsPermanent(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Permanent
	}
	return false
}

// classifyHTTPError creates an Error from an HTTP status code and response
// body, classifying it as permanent or transient. Returns nil for 2xx.
func classifyHTTPError(providerName string, statusCode int, body string) *Error {
	pe := &Error{
		Provider:   providerName,
		StatusCode: statusCode,
		Message:    body,
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil

	case statusCode == 400:
		pe.Permanent = containsPermanentIndicator(body)

	case statusCode == 401, statusCode == 403, statusCode == 404:
		pe.Permanent = true

	case statusCode == 429:
		// Rate limited - always transient.
		pe.Permanent = false

	case statusCode >= 500:
		pe.Permanent = containsPermanentServerIndicator(body)

	default:
		pe.Permanent = statusCode >= 400 && statusCode < 500
	}

	return pe
}

// containsPermanentIndicator checks if a 400 response body indicates a
// failure that will not change on retry (e.g., invalid recipient).
func containsPermanentIndicator(body string) bool {
	lower := strings.ToLower(body)
	permanentPatterns := []string{
		"invalid recipient",
		"invalid email",
		"invalid `to`",
		"invalid from",
		"does not exist",
		"recipient rejected",
		"validation error",
		"invalid address",
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// containsPermanentServerIndicator checks if a 5xx response body indicates
// a permanent server-side failure (e.g., invalid auth configuration).
func containsPermanentServerIndicator(body string) bool {
	lower := strings.ToLower(body)
	permanentPatterns := []string{
		"invalid api key",
		"authentication failed",
		"account suspended",
		"account disabled",
		"unauthorized",
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
