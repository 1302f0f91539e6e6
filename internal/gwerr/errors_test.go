package gwerr

import (
	"fmt"
	"testing"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(KindStaleSnapshot, "uid 1_4 not found")
	wrapped := fmt.Errorf("take_snapshot: %w", err)

	if !Is(wrapped, KindStaleSnapshot) {
		t.Fatalf("expected Is to match KindStaleSnapshot through a wrapped error")
	}
	if Is(wrapped, KindTimeout) {
		t.Fatalf("did not expect Is to match an unrelated kind")
	}
}

func TestCDPErrorFormatting(t *testing.T) {
	err := CDP(-32000, "Cannot find context with specified id")
	if err.Kind != KindCDP {
		t.Fatalf("expected KindCDP, got %s", err.Kind)
	}
	got := err.Error()
	want := "cdp-error: Cannot find context with specified id (code=-32000)"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestRetryableDefaults(t *testing.T) {
	if !IsRetryable(New(KindTimeout, "deadline exceeded")) {
		t.Fatalf("timeout should be retryable by default")
	}
	if IsRetryable(New(KindLastTab, "cannot close last tab")) {
		t.Fatalf("last-tab should not be retryable")
	}
}

func TestWithContextChaining(t *testing.T) {
	err := New(KindTargetNotInSession, "uid belongs to another session").
		WithContext("session_id", "A").
		WithContext("uid", "1_2")

	if err.Context["session_id"] != "A" || err.Context["uid"] != "1_2" {
		t.Fatalf("expected context to carry both keys, got %+v", err.Context)
	}
}
