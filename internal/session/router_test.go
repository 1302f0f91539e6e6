package session

import (
	"encoding/json"
	"testing"

	"github.com/tmc/misc/cdp-gateway/internal/cdpmsg"
)

func TestOnConsoleAPICalledPrefersValue(t *testing.T) {
	s := newSession("A", 0)
	params, _ := json.Marshal(map[string]interface{}{
		"type": "log",
		"args": []map[string]interface{}{
			{"value": "hello"},
		},
	})
	onConsoleAPICalled(s, cdpmsg.Event{Method: "Runtime.consoleAPICalled", Params: params})

	msgs := s.SnapshotConsole()
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Fatalf("expected text 'hello', got %+v", msgs)
	}
}

func TestOnConsoleAPICalledFallsBackToDescription(t *testing.T) {
	s := newSession("A", 0)
	params, _ := json.Marshal(map[string]interface{}{
		"type": "error",
		"args": []map[string]interface{}{
			{"description": "Error: boom"},
		},
	})
	onConsoleAPICalled(s, cdpmsg.Event{Params: params})

	msgs := s.SnapshotConsole()
	if len(msgs) != 1 || msgs[0].Text != "Error: boom" {
		t.Fatalf("expected description fallback, got %+v", msgs)
	}
}

func TestOnRequestAndResponseLifecycle(t *testing.T) {
	s := newSession("A", 0)
	reqParams, _ := json.Marshal(map[string]interface{}{
		"requestId": "R1",
		"request":   map[string]string{"url": "https://example.com", "method": "GET"},
	})
	onRequestWillBeSent(s, cdpmsg.Event{Params: reqParams})

	respParams, _ := json.Marshal(map[string]interface{}{
		"requestId": "R1",
		"response":  map[string]interface{}{"status": 200, "mimeType": "text/html"},
	})
	onResponseReceived(s, cdpmsg.Event{Params: respParams})

	records := s.SnapshotNetwork()
	if len(records) != 1 || records[0].StatusCode != 200 {
		t.Fatalf("expected filled network record, got %+v", records)
	}
}

func TestOnFrameNavigatedClearsOnlyForMainFrame(t *testing.T) {
	s := newSession("A", 0)
	s.AppendConsole(ConsoleMessage{Text: "x"})

	subframe, _ := json.Marshal(map[string]interface{}{
		"frame": map[string]string{"parentId": "parent-1"},
	})
	onFrameNavigated(s, cdpmsg.Event{Params: subframe})
	if len(s.SnapshotConsole()) != 1 {
		t.Fatalf("expected subframe navigation to leave console intact")
	}

	mainframe, _ := json.Marshal(map[string]interface{}{
		"frame": map[string]string{"parentId": ""},
	})
	onFrameNavigated(s, cdpmsg.Event{Params: mainframe})
	if len(s.SnapshotConsole()) != 0 {
		t.Fatalf("expected main-frame navigation to clear console")
	}
}

func TestOnDialogOpeningAndClosed(t *testing.T) {
	s := newSession("A", 0)
	params, _ := json.Marshal(map[string]interface{}{
		"type":    "confirm",
		"message": "Leave page?",
	})
	onDialogOpening(s, cdpmsg.Event{Params: params})
	if s.PendingDialog == nil || s.PendingDialog.Message != "Leave page?" {
		t.Fatalf("expected dialog populated")
	}
	s.ClearDialog()
	if s.PendingDialog != nil {
		t.Fatalf("expected dialog cleared")
	}
}

func TestTracingBufferIgnoredWhenInactive(t *testing.T) {
	s := newSession("A", 0)
	params, _ := json.Marshal(map[string]interface{}{"foo": "bar"})
	onTracingDataCollected(s, cdpmsg.Event{Params: params})
	if len(s.TraceEvents) != 0 {
		t.Fatalf("expected no trace events recorded while inactive")
	}
}

func TestTracingBufferCollectsWhileActive(t *testing.T) {
	s := newSession("A", 0)
	s.TraceActive = true
	params, _ := json.Marshal(map[string]interface{}{"foo": "bar"})
	onTracingDataCollected(s, cdpmsg.Event{Params: params})
	if len(s.TraceEvents) != 1 {
		t.Fatalf("expected one trace event recorded, got %d", len(s.TraceEvents))
	}
}
