package targetdirectory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fakeDebugger(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"Browser":              "Chrome/test",
			"webSocketDebuggerUrl": "ws://127.0.0.1:9222/devtools/browser/abc",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{
			{"id": "T1", "type": "page", "title": "Example", "url": "https://example.com",
				"webSocketDebuggerUrl": "ws://127.0.0.1:9222/devtools/page/T1"},
			{"id": "T2", "type": "background_page", "title": "", "url": ""},
		})
	})
	mux.HandleFunc("/json/new", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"id": "T3", "type": "page", "url": "about:blank",
			"webSocketDebuggerUrl": "ws://127.0.0.1:9222/devtools/page/T3",
		})
	})
	mux.HandleFunc("/json/close/T1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Target is closing"))
	})
	return httptest.NewServer(mux)
}

func TestListTargetsFiltersMissingWebSocketURL(t *testing.T) {
	srv := fakeDebugger(t)
	defer srv.Close()

	d := New(srv.URL, srv.Client())
	targets, err := d.ListTargets(context.Background())
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if len(targets) != 1 || targets[0].ID != "T1" {
		t.Fatalf("expected only T1 to survive the filter, got %+v", targets)
	}
}

func TestNewPageReturnsDescriptor(t *testing.T) {
	srv := fakeDebugger(t)
	defer srv.Close()

	d := New(srv.URL, srv.Client())
	target, err := d.NewPage(context.Background(), "about:blank")
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if target.ID != "T3" {
		t.Fatalf("ID = %q, want T3", target.ID)
	}
}

func TestClosePageSucceeds(t *testing.T) {
	srv := fakeDebugger(t)
	defer srv.Close()

	d := New(srv.URL, srv.Client())
	if err := d.ClosePage(context.Background(), "T1"); err != nil {
		t.Fatalf("ClosePage: %v", err)
	}
}

func TestGetVersion(t *testing.T) {
	srv := fakeDebugger(t)
	defer srv.Close()

	d := New(srv.URL, srv.Client())
	v, err := d.GetVersion(context.Background())
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v.Browser != "Chrome/test" {
		t.Fatalf("Browser = %q, want Chrome/test", v.Browser)
	}
}
