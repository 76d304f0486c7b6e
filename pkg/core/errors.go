package core

import (
	"errors"
	"fmt"
)

// Error is the failure value surfaced by the voice-to-diagram pipeline and the
// HTTP surface. Type is stable and safe to branch on; Message is human text.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`

	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrAdmissionRejected ErrorType = "admission_rejected"
	ErrTranscription     ErrorType = "transcription_failure"
	ErrReasoning         ErrorType = "reasoning_failure"
	ErrActionRejected    ErrorType = "action_rejected"
	ErrSnapshotMalformed ErrorType = "snapshot_malformed"
	ErrTransport         ErrorType = "transport_failure"
	ErrRender            ErrorType = "render_failure"

	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrAPI            ErrorType = "api_error"
)

// NewAdmissionRejected creates a rate-limit rejection carrying a retry hint in seconds.
func NewAdmissionRejected(message string, retryAfter int) *Error {
	return &Error{
		Type:       ErrAdmissionRejected,
		Message:    message,
		Code:       "rate_limited",
		RetryAfter: &retryAfter,
	}
}

// NewTranscriptionError wraps a speech-to-text failure.
func NewTranscriptionError(message string, cause error) *Error {
	return &Error{Type: ErrTranscription, Message: message, Cause: cause}
}

// NewReasoningError wraps a reasoning failure.
func NewReasoningError(message string, cause error) *Error {
	return &Error{Type: ErrReasoning, Message: message, Cause: cause}
}

// NewActionRejected reports an action the graph refused to apply.
func NewActionRejected(message string, cause error) *Error {
	return &Error{Type: ErrActionRejected, Message: message, Cause: cause}
}

// NewSnapshotMalformed reports a canvas snapshot that could not be folded in.
func NewSnapshotMalformed(message string, cause error) *Error {
	return &Error{Type: ErrSnapshotMalformed, Message: message, Cause: cause}
}

// NewTransportError wraps a socket failure.
func NewTransportError(cause error) *Error {
	msg := "transport failure"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Type: ErrTransport, Message: msg, Cause: cause}
}

// NewRenderError wraps a layout failure.
func NewRenderError(message string, cause error) *Error {
	return &Error{Type: ErrRender, Message: message, Cause: cause}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{Type: ErrAuthentication, Message: message}
}

// IsRetryable reports whether a round that failed with this error may be retried
// by the user without changing anything.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrAdmissionRejected, ErrTranscription, ErrReasoning, ErrRender, ErrOverloaded, ErrAPI:
		return true
	default:
		return false
	}
}

// TypeOf returns the ErrorType of the first *Error in err's chain, or "" if none.
func TypeOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ""
}
