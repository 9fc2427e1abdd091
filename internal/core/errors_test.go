package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Is(t *testing.T) {
	err := ErrSandbox(CodePathEscape, "path escapes workspace")
	target := &DomainError{Category: ErrCatSandbox, Code: CodePathEscape}

	if !errors.Is(err, target) {
		t.Error("expected errors.Is match on category+code")
	}

	other := &DomainError{Category: ErrCatSandbox, Code: CodeCommandDenied}
	if errors.Is(err, other) {
		t.Error("different codes must not match")
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := ErrResource(CodeFileTooLarge, "file exceeds ceiling").WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("expected unwrap to reach the cause")
	}
	if got := err.Error(); got == "" || !errors.Is(err, cause) {
		t.Errorf("unexpected error string: %q", got)
	}
}

func TestDomainError_Wrapped(t *testing.T) {
	inner := ErrTimeout("command timed out after 30s")
	wrapped := fmt.Errorf("run_command: %w", inner)

	if GetCategory(wrapped) != ErrCatTimeout {
		t.Errorf("category lost through wrapping: %v", GetCategory(wrapped))
	}
	if !IsRetryable(wrapped) {
		t.Error("timeout should be retryable")
	}
}

func TestGetCategory_PlainError(t *testing.T) {
	if GetCategory(errors.New("boom")) != ErrCatInternal {
		t.Error("plain errors default to internal category")
	}
}
