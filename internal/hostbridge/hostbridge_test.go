package hostbridge

import (
	"strings"
	"testing"
)

func TestGuestToHostPathMntConversion(t *testing.T) {
	b := &wslBridge{}
	got := b.GuestToHostPath("/mnt/c/Users/alice/file.txt")
	want := `C:\Users\alice\file.txt`
	if got != want {
		t.Fatalf("GuestToHostPath = %q, want %q", got, want)
	}
}

func TestGuestToHostPathPassthrough(t *testing.T) {
	b := &wslBridge{}
	got := b.GuestToHostPath("/home/alice/file.txt")
	if got != "/home/alice/file.txt" {
		t.Fatalf("expected non-/mnt path to pass through unchanged, got %q", got)
	}
}

func TestHostToGuestPathConversion(t *testing.T) {
	b := &wslBridge{}
	got := b.HostToGuestPath(`C:\Users\alice\file.txt`)
	want := "/mnt/c/Users/alice/file.txt"
	if got != want {
		t.Fatalf("HostToGuestPath = %q, want %q", got, want)
	}
}

func TestHostToGuestPathPassthrough(t *testing.T) {
	b := &wslBridge{}
	if got := b.HostToGuestPath("relative/path"); got != "relative/path" {
		t.Fatalf("expected non-drive path to pass through unchanged, got %q", got)
	}
}

func TestResolveConfNameserverSkipsLoopback(t *testing.T) {
	if ip := resolveConfNameserver(); ip != "" {
		if strings.HasPrefix(ip, "127.") {
			t.Fatalf("resolveConfNameserver returned loopback nameserver %s", ip)
		}
		t.Logf("host resolv.conf nameserver detected: %s (not asserting a value, environment dependent)", ip)
	}
}

func TestRunHostCommandFailsWithoutInterop(t *testing.T) {
	b := &wslBridge{}
	b.once.Do(func() {})
	b.inGuest = false
	_, _, _, err := b.RunHostCommand(nil, "echo hi", 0) //nolint:staticcheck // nil ctx intentional: path never reaches context use
	if err == nil {
		t.Fatalf("expected error when not running in a guest")
	}
}
