package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := New("JobStore.Create", ErrConflict)
	want := "JobStore.Create: resource already exists"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	withMsg := NewWithMessage("JobStore.Create", ErrConflict, "job already exists")
	want = "JobStore.Create: job already exists"
	if withMsg.Error() != want {
		t.Errorf("Error() = %q, want %q", withMsg.Error(), want)
	}
}

func TestWrap_NilPassthrough(t *testing.T) {
	if Wrap("op", nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WrapWithMessage("op", nil, "msg") != nil {
		t.Error("WrapWithMessage(nil) should return nil")
	}
}

func TestUnwrap_SentinelChain(t *testing.T) {
	wrapped := Wrap("Library.Resolve", fmt.Errorf("resolving track: %w", ErrAccessDenied))
	if !errors.Is(wrapped, ErrAccessDenied) {
		t.Error("wrapped error should match ErrAccessDenied")
	}
	if IsNotFound(wrapped) {
		t.Error("wrapped error should not match ErrNotFound")
	}
}

func TestCode_FromSentinel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{Wrap("op", ErrNotFound), "NOT_FOUND"},
		{Wrap("op", ErrConflict), "CONFLICT"},
		{Wrap("op", ErrValidation), "VALIDATION_ERROR"},
		{Wrap("op", ErrInvalidState), "INVALID_STATE"},
		{Wrap("op", ErrAccessDenied), "SECURITY_VIOLATION"},
		{Wrap("op", ErrSeparation), "SEPARATION_ERROR"},
		{Wrap("op", ErrCancelled), "CANCELLED"},
		{errors.New("plain"), "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestCode_ExplicitOverridesSentinel(t *testing.T) {
	err := NewWithCode("Files.Download", ErrValidation, "SECURITY_VIOLATION", "path escapes library")
	if got := Code(err); got != "SECURITY_VIOLATION" {
		t.Errorf("Code() = %q, want explicit SECURITY_VIOLATION", got)
	}
}
