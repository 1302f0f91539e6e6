package portforward

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/portforwardchild"
)

func TestMain(m *testing.M) {
	if len(os.Args) > 2 && os.Args[1] == ChildSubcommand {
		port, err := strconv.Atoi(os.Args[2])
		if err != nil {
			os.Exit(2)
		}
		if err := portforwardchild.Run(port, os.Stdout); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func fakeChromeDebugger(t *testing.T) (*httptest.Server, int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/json/version" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"Browser":"Chrome/test"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	addr := srv.Listener.Addr().(*net.TCPAddr)
	return srv, addr.Port
}

func TestForwarderStartAndHealthCheck(t *testing.T) {
	srv, chromePort := fakeChromeDebugger(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f, err := Start(ctx, chromePort, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()

	if f.ListenPort == 0 {
		t.Fatalf("expected a nonzero listen port")
	}

	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(f.ListenPort) + "/json/version")
	if err != nil {
		t.Fatalf("GET through forwarder: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestManagerReusesHealthyForwarder(t *testing.T) {
	srv, chromePort := fakeChromeDebugger(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mgr := NewManager(nil)
	defer mgr.StopAll()

	f1, err := mgr.Ensure(ctx, chromePort)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	f2, err := mgr.Ensure(ctx, chromePort)
	if err != nil {
		t.Fatalf("Ensure (second call): %v", err)
	}
	if f1 != f2 {
		t.Fatalf("expected Ensure to reuse the same healthy forwarder")
	}
}
