package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error shape shared by every layer. Stage and
// persistence failures are wrapped into one of these at the boundary where
// they become user-visible.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest        ErrorType = "invalid_request"
	ErrUnauthorized          ErrorType = "unauthorized"
	ErrForbidden             ErrorType = "forbidden"
	ErrNotFound              ErrorType = "not_found"
	ErrSessionExpired        ErrorType = "session_expired"
	ErrSessionClosed         ErrorType = "session_closed"
	ErrTranscriptionFailed   ErrorType = "transcription_failed"
	ErrGenerationInterrupted ErrorType = "generation_interrupted"
	ErrSynthesisFailed       ErrorType = "synthesis_failed"
	ErrPersistenceFailure    ErrorType = "persistence_failure"
	ErrUnsupportedFormat     ErrorType = "unsupported_format"
	ErrRateLimit             ErrorType = "rate_limited"
	ErrInternal              ErrorType = "internal"
)

// NewUnauthorizedError reports a missing or invalid identity.
func NewUnauthorizedError(message string) *Error {
	return &Error{Type: ErrUnauthorized, Message: message}
}

// NewForbiddenError reports an ownership mismatch.
func NewForbiddenError(message string) *Error {
	return &Error{Type: ErrForbidden, Message: message}
}

// NewNotFoundError reports an unknown session identifier.
func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

// NewSessionExpiredError reports a stale session identifier whose resume
// window has elapsed.
func NewSessionExpiredError(message string) *Error {
	return &Error{Type: ErrSessionExpired, Message: message}
}

// NewSessionClosedError reports an operation against a closed session.
func NewSessionClosedError(message string) *Error {
	return &Error{Type: ErrSessionClosed, Message: message}
}

// NewTranscriptionError wraps a speech-to-text failure. The utterance is
// discarded; the caller re-prompts the user rather than retrying here.
func NewTranscriptionError(cause error) *Error {
	return &Error{Type: ErrTranscriptionFailed, Message: "transcription failed", Cause: cause}
}

// NewGenerationInterruptedError wraps a mid-stream generation failure.
// Partial text produced so far is persisted as an incomplete turn.
func NewGenerationInterruptedError(cause error) *Error {
	return &Error{Type: ErrGenerationInterrupted, Message: "generation interrupted", Cause: cause}
}

// NewSynthesisError wraps a text-to-speech failure. The turn degrades to
// text-only delivery.
func NewSynthesisError(cause error) *Error {
	return &Error{Type: ErrSynthesisFailed, Message: "synthesis failed", Cause: cause}
}

// NewPersistenceError wraps a durability failure. The turn is not considered
// to have happened and no sequence number was consumed.
func NewPersistenceError(cause error) *Error {
	return &Error{Type: ErrPersistenceFailure, Message: "durable append failed", Cause: cause}
}

// NewUnsupportedFormatError reports an audio format the codec cannot handle.
// Fatal to the current utterance only, never to the session.
func NewUnsupportedFormatError(message string) *Error {
	return &Error{Type: ErrUnsupportedFormat, Message: message}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message, Param: param}
}

// NewInternalError creates a generic internal error.
func NewInternalError(message string) *Error {
	return &Error{Type: ErrInternal, Message: message}
}

// IsType reports whether err is (or wraps) a core.Error of the given type.
func IsType(err error, t ErrorType) bool {
	var ce *Error
	if errors.As(err, &ce) && ce != nil {
		return ce.Type == t
	}
	return false
}

// Recoverable reports whether the error is a per-utterance failure the user
// can simply retry, as opposed to one that terminates the operation.
func (e *Error) Recoverable() bool {
	switch e.Type {
	case ErrTranscriptionFailed, ErrSynthesisFailed, ErrGenerationInterrupted, ErrUnsupportedFormat:
		return true
	default:
		return false
	}
}
