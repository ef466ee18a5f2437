package protocol_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"vigil/pkg/protocol"
)

func TestTransientBackendError_ErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("infer: %w", &protocol.TransientBackendError{
		BackendID: "local",
		Op:        "request",
		Err:       context.DeadlineExceeded,
	})

	var target *protocol.TransientBackendError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to extract TransientBackendError")
	}
	if target.BackendID != "local" {
		t.Errorf("expected BackendID 'local', got %q", target.BackendID)
	}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Error("expected wrapped error to unwrap to context.DeadlineExceeded")
	}
	if !protocol.IsTransient(wrapped) {
		t.Error("IsTransient should report true for a wrapped transient error")
	}
	if protocol.IsTransient(errors.New("boom")) {
		t.Error("IsTransient should report false for a plain error")
	}
}

func TestActionSafetyViolation_Message(t *testing.T) {
	err := &protocol.ActionSafetyViolation{
		ActionID: "0123456789abcdef",
		Target:   ".git/config",
		Rule:     "deny .git/**",
	}
	msg := err.Error()
	if !strings.Contains(msg, "01234567") {
		t.Errorf("expected short action id in %q", msg)
	}
	if strings.Contains(msg, "89abcdef") {
		t.Errorf("expected action id to be shortened in %q", msg)
	}
	if !strings.Contains(msg, "deny .git/**") {
		t.Errorf("expected rule in %q", msg)
	}
}

func TestConfigurationError_Message(t *testing.T) {
	err := &protocol.ConfigurationError{Field: "workspace.capacity", Reason: "must be positive"}
	if got, want := err.Error(), "invalid configuration workspace.capacity: must be positive"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExecutionFailure_ErrorsAs(t *testing.T) {
	var err error = &protocol.ExecutionFailure{ActionID: "a1", BackendID: "direct", Output: "disk full"}
	var target *protocol.ExecutionFailure
	if !errors.As(err, &target) {
		t.Fatal("errors.As failed to extract ExecutionFailure")
	}
	if target.Output != "disk full" {
		t.Errorf("expected Output 'disk full', got %q", target.Output)
	}
}
