package queuestore

import (
	"errors"
	"fmt"
)

// ErrMissingCredential is returned before any network call when no bearer
// credential is available for the store.
var ErrMissingCredential = errors.New("queuestore: missing bearer credential")

// UpdateError reports a failed status update. The processor logs these and
// continues the batch rather than aborting it.
type UpdateError struct {
	Op         string // "mark_sent" or "mark_failed"
	MessageID  string
	StatusCode int
	Err        error
}

func (e *UpdateError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("queuestore: %s %s: status %d", e.Op, e.MessageID, e.StatusCode)
	}
	return fmt.Sprintf("queuestore: %s %s: %v", e.Op, e.MessageID, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }
