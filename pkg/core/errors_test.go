package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := &Error{Type: ErrNotFound, Message: "no such session"}
	if got := err.Error(); got != "not_found: no such session" {
		t.Fatalf("Error()=%q", got)
	}
	err = &Error{Type: ErrInvalidRequest, Message: "bad frame", Code: "bad_request"}
	if got := err.Error(); got != "invalid_request: bad frame (code: bad_request)" {
		t.Fatalf("Error()=%q", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewPersistenceError(cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable via errors.Is")
	}
}

func TestIsType(t *testing.T) {
	err := fmt.Errorf("append turn: %w", NewSessionClosedError("session s_1 is closed"))
	if !IsType(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed through wrapping")
	}
	if IsType(err, ErrNotFound) {
		t.Fatalf("did not expect ErrNotFound")
	}
	if IsType(errors.New("plain"), ErrNotFound) {
		t.Fatalf("plain error should not match any type")
	}
}

func TestRecoverable(t *testing.T) {
	cases := []struct {
		err  *Error
		want bool
	}{
		{NewTranscriptionError(nil), true},
		{NewSynthesisError(nil), true},
		{NewGenerationInterruptedError(nil), true},
		{NewUnsupportedFormatError("mp3 is not supported"), true},
		{NewPersistenceError(nil), false},
		{NewForbiddenError("owner mismatch"), false},
		{NewSessionExpiredError("resume window elapsed"), false},
	}
	for _, tc := range cases {
		if got := tc.err.Recoverable(); got != tc.want {
			t.Fatalf("Recoverable(%s)=%v, want %v", tc.err.Type, got, tc.want)
		}
	}
}
