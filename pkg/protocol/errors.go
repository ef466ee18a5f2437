package protocol

import (
	"errors"
	"fmt"
)

// TransientBackendError represents a recoverable backend failure (timeout,
// connection refused). It counts toward a backend's consecutive failures and
// may be retried with backoff.
type TransientBackendError struct {
	BackendID string
	Op        string // probe | request | dispatch
	Err       error
}

func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("backend %s %s: %v", e.BackendID, e.Op, e.Err)
}

func (e *TransientBackendError) Unwrap() error { return e.Err }

// ConfigurationError is fatal at startup: the daemon refuses to start.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// ActionSafetyViolation marks an action the safety policy refused. Such an
// action is never dispatched.
type ActionSafetyViolation struct {
	ActionID string
	Target   string
	Rule     string
}

func (e *ActionSafetyViolation) Error() string {
	return fmt.Sprintf("action %s on %q violates policy: %s", ShortID(e.ActionID), e.Target, e.Rule)
}

// ExecutionFailure means a backend ran the action and reported failure. It is
// recorded as an outcome and not retried automatically.
type ExecutionFailure struct {
	ActionID  string
	BackendID string
	Output    string
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("action %s failed on %s: %s", ShortID(e.ActionID), e.BackendID, e.Output)
}

// IsTransient reports whether err is (or wraps) a TransientBackendError.
func IsTransient(err error) bool {
	var t *TransientBackendError
	return errors.As(err, &t)
}
