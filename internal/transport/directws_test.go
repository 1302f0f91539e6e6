package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tmc/misc/cdp-gateway/internal/cdpmsg"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{}

// fakeCDPServer answers Page.navigate with a canned result and otherwise
// echoes nothing, emitting one Page.loadEventFired event right after.
func fakeCDPServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd struct {
				ID     int64  `json:"id"`
				Method string `json:"method"`
			}
			if err := json.Unmarshal(data, &cmd); err != nil {
				continue
			}
			switch cmd.Method {
			case "Page.navigate":
				resp := map[string]interface{}{"id": cmd.ID, "result": map[string]string{"frameId": "F1"}}
				b, _ := json.Marshal(resp)
				conn.WriteMessage(websocket.TextMessage, b)
				evt := map[string]interface{}{"method": "Page.loadEventFired", "params": map[string]float64{"timestamp": 1.0}}
				eb, _ := json.Marshal(evt)
				conn.WriteMessage(websocket.TextMessage, eb)
			case "Runtime.evaluate":
				resp := map[string]interface{}{"id": cmd.ID, "error": map[string]interface{}{"code": -32000, "message": "boom"}}
				b, _ := json.Marshal(resp)
				conn.WriteMessage(websocket.TextMessage, b)
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestDirectWSSendReceivesResult(t *testing.T) {
	srv := fakeCDPServer(t)
	defer srv.Close()

	tr := NewDirectWS(wsURL(srv.URL), zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect(ctx)

	res, err := tr.Send(ctx, "Page.navigate", map[string]string{"url": "https://example.com"}, time.Second)
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

func TestDirectWSDispatchesEvents(t *testing.T) {
	srv := fakeCDPServer(t)
	defer srv.Close()

	tr := NewDirectWS(wsURL(srv.URL), zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect(ctx)

	got := make(chan cdpmsg.Event, 1)
	tr.On("Page.loadEventFired", func(e cdpmsg.Event) { got <- e })

	if _, err := tr.Send(ctx, "Page.navigate", map[string]string{"url": "https://example.com"}, time.Second); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case e := <-got:
		if e.Method != "Page.loadEventFired" {
			t.Fatalf("Method = %q, want Page.loadEventFired", e.Method)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for dispatched event")
	}
}

func TestDirectWSErrorPropagates(t *testing.T) {
	srv := fakeCDPServer(t)
	defer srv.Close()

	tr := NewDirectWS(wsURL(srv.URL), zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect(ctx)

	_, err := tr.Send(ctx, "Runtime.evaluate", nil, time.Second)
	if err == nil {
		t.Fatalf("expected error from Runtime.evaluate")
	}
}

func TestDirectWSDisconnectFailsPending(t *testing.T) {
	srv := fakeCDPServer(t)
	defer srv.Close()

	tr := NewDirectWS(wsURL(srv.URL), zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// The fake server never answers Page.enable, so this Send stays pending
	// until Disconnect fails it.
	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Send(ctx, "Page.enable", nil, 3*time.Second)
		errCh <- err
	}()
	time.Sleep(100 * time.Millisecond)

	if err := tr.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if tr.Connected() {
		t.Fatalf("expected Connected() false after Disconnect")
	}
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected pending Send to fail after Disconnect")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("pending Send did not return after Disconnect")
	}
}
