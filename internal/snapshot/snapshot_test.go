package snapshot

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/tmc/misc/cdp-gateway/internal/cdpmsg"
)

func rawResult(t *testing.T, v interface{}) cdpmsg.Result {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return cdpmsg.Result{Value: b}
}

func TestCaptureBasicTree(t *testing.T) {
	nodes := []map[string]interface{}{
		{"nodeId": "1", "role": map[string]string{"value": "RootWebArea"}, "name": map[string]string{"value": "Example"}},
		{"nodeId": "2", "parentId": "1", "role": map[string]string{"value": "button"}, "name": map[string]string{"value": "Submit"}, "backendDOMNodeId": 42},
	}
	result := rawResult(t, map[string]interface{}{"nodes": nodes})

	snap, err := Capture(result, 1, false)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if snap.ElementCount != 2 {
		t.Fatalf("ElementCount = %d, want 2", snap.ElementCount)
	}
	if !strings.Contains(snap.Text, `uid=1_0`) || !strings.Contains(snap.Text, `uid=1_1`) {
		t.Fatalf("expected sequential uids in text, got:\n%s", snap.Text)
	}
	if !strings.Contains(snap.Text, `"Submit"`) {
		t.Fatalf("expected quoted name in text, got:\n%s", snap.Text)
	}
	if bid, ok := snap.BackendNodeIDs["1_1"]; !ok || bid != 42 {
		t.Fatalf("expected backend node id 42 for uid 1_1, got %v", snap.BackendNodeIDs)
	}
}

func TestCaptureSkipsIgnoredNodesButKeepsChildren(t *testing.T) {
	nodes := []map[string]interface{}{
		{"nodeId": "1", "role": map[string]string{"value": "RootWebArea"}},
		{"nodeId": "2", "parentId": "1", "ignored": true, "role": map[string]string{"value": "none"}},
		{"nodeId": "3", "parentId": "2", "role": map[string]string{"value": "text"}, "name": map[string]string{"value": "hi"}},
	}
	result := rawResult(t, map[string]interface{}{"nodes": nodes})

	snap, err := Capture(result, 1, false)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if snap.ElementCount != 2 {
		t.Fatalf("expected ignored node to be skipped from element count, got %d", snap.ElementCount)
	}
	if !strings.Contains(snap.Text, `"hi"`) {
		t.Fatalf("expected ignored node's child to still be rendered, got:\n%s", snap.Text)
	}
}

func TestCaptureEmptyTree(t *testing.T) {
	result := rawResult(t, map[string]interface{}{"nodes": []map[string]interface{}{}})
	snap, err := Capture(result, 1, false)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if snap.Text != "No accessibility tree available." {
		t.Fatalf("Text = %q", snap.Text)
	}
}

func TestCaptureBooleanPropertyNames(t *testing.T) {
	nodes := []map[string]interface{}{
		{
			"nodeId": "1",
			"role":   map[string]string{"value": "textbox"},
			"properties": []map[string]interface{}{
				{"name": "focused", "value": map[string]interface{}{"value": true}},
				{"name": "disabled", "value": map[string]interface{}{"value": false}},
			},
		},
	}
	result := rawResult(t, map[string]interface{}{"nodes": nodes})
	snap, err := Capture(result, 2, false)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !strings.Contains(snap.Text, "focusable") || !strings.Contains(snap.Text, "focused") {
		t.Fatalf("expected focusable+focused attrs, got:\n%s", snap.Text)
	}
	if strings.Contains(snap.Text, "disableable") {
		t.Fatalf("disabled=false should not surface disableable, got:\n%s", snap.Text)
	}
}
