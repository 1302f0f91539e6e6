package transport

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/relaychild"
	"go.uber.org/zap"
)

// TestMain lets the compiled test binary double as the relay child: when
// invoked with RelayChildSubcommand as os.Args[1] (exactly how relay.go's
// generated script re-execs os.Executable()), it runs the actual bridge
// instead of the test suite. This is the standard trick for exercising a
// self-exec subprocess without shipping a second binary.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == RelayChildSubcommand {
		wsURL := os.Args[2]
		if err := relaychild.Main(context.Background(), wsURL); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestRelaySendReceivesResult(t *testing.T) {
	srv := fakeCDPServer(t)
	defer srv.Close()

	r := NewRelay(wsURL(srv.URL), zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer r.Disconnect(ctx)

	res, err := r.Send(ctx, "Page.navigate", map[string]string{"url": "https://example.com"}, 3*time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var out struct {
		FrameID string `json:"frameId"`
	}
	if err := res.Unmarshal(&out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.FrameID != "F1" {
		t.Fatalf("frameId = %q, want F1", out.FrameID)
	}
}

func TestRelayDisconnectCleansScriptDir(t *testing.T) {
	srv := fakeCDPServer(t)
	defer srv.Close()

	r := NewRelay(wsURL(srv.URL), zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	dir := r.scriptDir
	if dir == "" {
		t.Fatalf("expected non-empty scriptDir after Connect")
	}
	if err := r.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected scriptDir %s to be removed, stat err=%v", dir, err)
	}
}
