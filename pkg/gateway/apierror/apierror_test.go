package apierror

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/attune-voice/attune/pkg/core"
)

func TestFromErrorCanonical(t *testing.T) {
	in := core.NewForbiddenError("session belongs to another owner")
	out, status := FromError(in, "req_1")
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}
	if out.RequestID != "req_1" {
		t.Fatalf("RequestID = %q, want req_1", out.RequestID)
	}
	if out.Type != core.ErrForbidden {
		t.Fatalf("Type = %q, want %q", out.Type, core.ErrForbidden)
	}
}

func TestFromErrorWrapped(t *testing.T) {
	in := fmt.Errorf("activating: %w", core.NewSessionExpiredError("resume window lapsed"))
	out, status := FromError(in, "req_2")
	if status != http.StatusGone {
		t.Fatalf("status = %d, want 410", status)
	}
	if out.Type != core.ErrSessionExpired {
		t.Fatalf("Type = %q, want %q", out.Type, core.ErrSessionExpired)
	}
}

func TestFromErrorUnknownDoesNotLeak(t *testing.T) {
	out, status := FromError(fmt.Errorf("pq: secret detail"), "req_3")
	if status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", status)
	}
	if out.Message != "internal error" {
		t.Fatalf("Message = %q, want generic internal error", out.Message)
	}
}

func TestFromErrorContext(t *testing.T) {
	if _, status := FromError(context.DeadlineExceeded, ""); status != http.StatusGatewayTimeout {
		t.Fatalf("deadline status = %d, want 504", status)
	}
	if _, status := FromError(context.Canceled, ""); status != http.StatusRequestTimeout {
		t.Fatalf("cancel status = %d, want 408", status)
	}
}
