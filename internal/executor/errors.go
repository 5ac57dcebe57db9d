package executor

import (
	"errors"
	"fmt"
)

// ActionError is the typed failure an effector surfaces. Transient
// failures feed the queue's retry counter; permanent ones terminate the
// item without retry.
type ActionError struct {
	Action    string
	Transient bool
	Err       error
}

// Error implements error.
func (e *ActionError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s action %s failed: %v", kind, e.Action, e.Err)
}

// Unwrap supports errors.Is/As chains.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure.
func Transient(action string, err error) error {
	return &ActionError{Action: action, Transient: true, Err: err}
}

// Permanent wraps err as a terminal failure.
func Permanent(action string, err error) error {
	return &ActionError{Action: action, Transient: false, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors
// are treated as transient so infrastructure hiccups get their retries.
func IsTransient(err error) bool {
	var actionErr *ActionError
	if errors.As(err, &actionErr) {
		return actionErr.Transient
	}
	return true
}
