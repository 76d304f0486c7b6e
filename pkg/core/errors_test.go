package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:    ErrReasoning,
		Message: "model output never validated",
	}

	expected := "reasoning_failure: model output never validated"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithCode(t *testing.T) {
	err := NewAdmissionRejected("too many voice commands", 12)

	expected := "admission_rejected: too many voice commands (code: rate_limited)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if err.RetryAfter == nil || *err.RetryAfter != 12 {
		t.Errorf("RetryAfter = %v, want 12", err.RetryAfter)
	}
}

func TestError_UnwrapAndTypeOf(t *testing.T) {
	cause := errors.New("deepgram returned 503")
	err := fmt.Errorf("round 3: %w", NewTranscriptionError("speech service unavailable", cause))

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is did not find the cause through the chain")
	}
	if got := TypeOf(err); got != ErrTranscription {
		t.Fatalf("TypeOf = %q, want %q", got, ErrTranscription)
	}
	if got := TypeOf(cause); got != "" {
		t.Fatalf("TypeOf(plain) = %q, want empty", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{NewAdmissionRejected("slow down", 1), true},
		{NewReasoningError("x", nil), true},
		{NewTranscriptionError("x", nil), true},
		{NewActionRejected("x", nil), false},
		{NewSnapshotMalformed("x", nil), false},
		{NewTransportError(nil), false},
		{NewAuthenticationError("x"), false},
	}
	for _, tt := range tests {
		if got := tt.err.IsRetryable(); got != tt.want {
			t.Errorf("%s.IsRetryable() = %v, want %v", tt.err.Type, got, tt.want)
		}
	}
}
