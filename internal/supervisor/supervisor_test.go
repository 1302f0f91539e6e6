package supervisor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func TestAllocatePortSkipsInUse(t *testing.T) {
	s := New(nil, nil, 40000, 40010, nil)
	p1, err := s.AllocatePort()
	if err != nil {
		t.Fatalf("AllocatePort: %v", err)
	}
	p2, err := s.AllocatePort()
	if err != nil {
		t.Fatalf("AllocatePort (second): %v", err)
	}
	if p1 == p2 {
		t.Fatalf("expected distinct ports, got %d twice", p1)
	}
	s.ReleasePort(p1)
	s.ReleasePort(p2)
}

func TestAdoptOrLaunchAdoptsRunningBrowser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/json/version" {
			json.NewEncoder(w).Encode(map[string]string{"Browser": "Chrome/test"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}

	s := New(nil, nil, 0, 0, nil)
	h, err := s.AdoptOrLaunch(context.Background(), port, Isolated, "", false)
	if err != nil {
		t.Fatalf("AdoptOrLaunch: %v", err)
	}
	if h.Owned {
		t.Fatalf("expected adopted handle to be unowned")
	}
}

func TestBuildChromeArgsIncludesCanonicalFlags(t *testing.T) {
	args := buildChromeArgs(9222, "/tmp/profile", Isolated, "", false)
	want := []string{
		"--remote-debugging-port=9222",
		"--remote-debugging-address=0.0.0.0",
		"--remote-allow-origins=*",
		"--user-data-dir=/tmp/profile",
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-popup-blocking",
	}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestBuildChromeArgsSharedProfileAndHeadless(t *testing.T) {
	args := buildChromeArgs(9222, "/home/u/.config/chrome", SharedProfile, "Default", true)
	foundProfile, foundHeadless := false, false
	for _, a := range args {
		if a == "--profile-directory=Default" {
			foundProfile = true
		}
		if a == "--headless=new" {
			foundHeadless = true
		}
	}
	if !foundProfile || !foundHeadless {
		t.Fatalf("expected --profile-directory and --headless=new in %v", args)
	}
}
