package toolsurface

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/cdpmsg"
	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/session"
	"github.com/tmc/misc/cdp-gateway/internal/transport"
)

type cdpCall struct {
	Method string
	Params map[string]interface{}
}

// fakeTransport is a scripted Transport: Send records the call and answers
// from a method-keyed table, defaulting to an empty object result.
type fakeTransport struct {
	mu        sync.Mutex
	calls     []cdpCall
	responses map[string]cdpmsg.Result
	errs      map[string]error
}

func (f *fakeTransport) Connect(ctx context.Context) error          { return nil }
func (f *fakeTransport) Disconnect(ctx context.Context) error       { return nil }
func (f *fakeTransport) Connected() bool                            { return true }
func (f *fakeTransport) On(event string, h transport.EventHandler)  {}
func (f *fakeTransport) Off(event string, h transport.EventHandler) {}

func (f *fakeTransport) Send(ctx context.Context, method string, params interface{}, timeout time.Duration) (cdpmsg.Result, error) {
	var decoded map[string]interface{}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return cdpmsg.Result{}, err
		}
		_ = json.Unmarshal(b, &decoded)
	}
	f.mu.Lock()
	f.calls = append(f.calls, cdpCall{Method: method, Params: decoded})
	f.mu.Unlock()

	if err, ok := f.errs[method]; ok {
		return cdpmsg.Result{}, err
	}
	if res, ok := f.responses[method]; ok {
		return res, nil
	}
	return cdpmsg.Result{Value: json.RawMessage(`{}`)}, nil
}

func (f *fakeTransport) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Method
	}
	return out
}

func (f *fakeTransport) lastCall(method string) *cdpCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method {
			return &f.calls[i]
		}
	}
	return nil
}

func okResult(t *testing.T, v interface{}) cdpmsg.Result {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling fake result: %v", err)
	}
	return cdpmsg.Result{Value: b}
}

func newTestContext(ft *fakeTransport) *Context {
	s := &session.Session{
		ID:            "test",
		OwnedTargets:  map[string]bool{"T1": true},
		Network:       make(map[string]*session.NetworkRequest),
		SnapshotCache: make(map[string]session.SnapshotEntry),
	}
	s.CurrentTargetID = "T1"
	s.PageTransport = ft
	return &Context{Session: s}
}

var allToolNames = []string{
	"click", "click_at", "close_page", "drag", "emulate", "evaluate",
	"fill", "fill_form", "generate_pdf", "get_console",
	"get_console_message", "get_html", "get_network",
	"get_network_request", "handle_dialog", "hover", "list_pages",
	"navigate_page", "new_page", "performance_analyze_insight",
	"performance_start_trace", "performance_stop_trace", "press_key",
	"scroll", "select_page", "take_screenshot", "take_snapshot",
	"upload_file", "wait_for",
}

func TestRegistryHasEveryStandardTool(t *testing.T) {
	r := New(nil, nil)
	for _, name := range allToolNames {
		if _, ok := r.Get(name); !ok {
			t.Errorf("registry is missing tool %q", name)
		}
	}
	if got := len(r.List()); got != len(allToolNames) {
		t.Errorf("registry has %d tools, want %d", got, len(allToolNames))
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	r := New(nil, nil)
	_, err := r.Dispatch(context.Background(), "s", "no_such_tool", nil)
	if err == nil || !strings.Contains(err.Error(), "no_such_tool") {
		t.Fatalf("expected unknown-tool error, got %v", err)
	}
}

func TestClickDispatchesPressAndRelease(t *testing.T) {
	ft := &fakeTransport{responses: map[string]cdpmsg.Result{
		"DOM.getBoxModel": okResult(t, map[string]interface{}{
			"model": map[string]interface{}{
				"content": []float64{10, 20, 110, 20, 110, 60, 10, 60},
			},
		}),
	}}
	tc := newTestContext(ft)
	tc.Session.SnapshotCache["1_0"] = session.SnapshotEntry{BackendNodeID: 42, Role: "button"}

	res, err := handleClick(context.Background(), tc, map[string]interface{}{"uid": "1_0"})
	if err != nil {
		t.Fatalf("click failed: %v", err)
	}
	if len(res.Content) != 1 || !strings.Contains(res.Content[0].Text, "1_0") {
		t.Fatalf("unexpected click result: %+v", res)
	}

	want := []string{"DOM.scrollIntoViewIfNeeded", "DOM.getBoxModel", "Input.dispatchMouseEvent", "Input.dispatchMouseEvent"}
	got := ft.methods()
	if len(got) != len(want) {
		t.Fatalf("CDP call sequence %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("CDP call sequence %v, want %v", got, want)
		}
	}

	press := ft.calls[2].Params
	if press["type"] != "mousePressed" || press["x"].(float64) != 60 || press["y"].(float64) != 40 {
		t.Errorf("press event should target the quad center, got %+v", press)
	}
	if release := ft.calls[3].Params; release["type"] != "mouseReleased" {
		t.Errorf("second dispatch should be mouseReleased, got %+v", release)
	}
}

func TestClickStaleUID(t *testing.T) {
	tc := newTestContext(&fakeTransport{})
	_, err := handleClick(context.Background(), tc, map[string]interface{}{"uid": "99_0"})
	if !gwerr.Is(err, gwerr.KindStaleSnapshot) {
		t.Fatalf("expected stale-snapshot error, got %v", err)
	}
}

func TestFillTextboxUsesInsertText(t *testing.T) {
	ft := &fakeTransport{}
	tc := newTestContext(ft)
	tc.Session.SnapshotCache["1_3"] = session.SnapshotEntry{BackendNodeID: 7, Role: "textbox"}

	_, err := handleFill(context.Background(), tc, map[string]interface{}{
		"uid": "1_3", "value": "hello", "clear_first": true,
	})
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	want := []string{"DOM.focus", "Input.dispatchKeyEvent", "Input.dispatchKeyEvent", "Input.insertText"}
	got := ft.methods()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("CDP call sequence %v, want %v", got, want)
	}
	if insert := ft.lastCall("Input.insertText"); insert.Params["text"] != "hello" {
		t.Errorf("insertText text = %v, want hello", insert.Params["text"])
	}
}

func TestFillComboboxUsesNativeSetter(t *testing.T) {
	ft := &fakeTransport{responses: map[string]cdpmsg.Result{
		"DOM.resolveNode": okResult(t, map[string]interface{}{
			"object": map[string]interface{}{"objectId": "obj-1"},
		}),
	}}
	tc := newTestContext(ft)
	tc.Session.SnapshotCache["1_5"] = session.SnapshotEntry{BackendNodeID: 9, Role: "combobox"}

	_, err := handleFill(context.Background(), tc, map[string]interface{}{"uid": "1_5", "value": "b"})
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	call := ft.lastCall("Runtime.callFunctionOn")
	if call == nil {
		t.Fatalf("combobox fill should go through Runtime.callFunctionOn, calls: %v", ft.methods())
	}
	if call.Params["objectId"] != "obj-1" {
		t.Errorf("callFunctionOn objectId = %v, want obj-1", call.Params["objectId"])
	}
	if ft.lastCall("Input.insertText") != nil {
		t.Errorf("combobox fill must not type through Input.insertText")
	}
}

func TestPressKeyCombos(t *testing.T) {
	tests := []struct {
		combo     string
		key       string
		modifiers int
	}{
		{"Enter", "Enter", 0},
		{"Control+a", "a", 2},
		{"Control+Shift+Tab", "Tab", 10},
		{"Meta+c", "c", 4},
	}
	for _, tt := range tests {
		key, mods := parseKeyCombo(tt.combo)
		if key != tt.key || mods != tt.modifiers {
			t.Errorf("parseKeyCombo(%q) = (%q, %d), want (%q, %d)", tt.combo, key, mods, tt.key, tt.modifiers)
		}
	}
}

func TestGetConsoleFiltersAndPaginates(t *testing.T) {
	tc := newTestContext(&fakeTransport{})
	tc.Session.AppendConsole(session.ConsoleMessage{Type: "log", Text: "one"})
	tc.Session.AppendConsole(session.ConsoleMessage{Type: "error", Text: "boom"})
	tc.Session.AppendConsole(session.ConsoleMessage{Type: "log", Text: "two"})

	res, err := handleGetConsole(context.Background(), tc, map[string]interface{}{"type": "log"})
	if err != nil {
		t.Fatalf("get_console failed: %v", err)
	}
	text := res.Content[0].Text
	if strings.Contains(text, "boom") || !strings.Contains(text, "one") || !strings.Contains(text, "two") {
		t.Fatalf("type filter not applied: %q", text)
	}

	res, err = handleGetConsole(context.Background(), tc, map[string]interface{}{
		"limit": float64(1), "offset": float64(1),
	})
	if err != nil {
		t.Fatalf("get_console failed: %v", err)
	}
	if text := res.Content[0].Text; !strings.Contains(text, "boom") || strings.Contains(text, "one") {
		t.Fatalf("pagination not applied: %q", text)
	}
}

func TestGetConsoleJQFilter(t *testing.T) {
	tc := newTestContext(&fakeTransport{})
	tc.Session.AppendConsole(session.ConsoleMessage{Type: "log", Text: "keep"})
	tc.Session.AppendConsole(session.ConsoleMessage{Type: "error", Text: "drop"})

	res, err := handleGetConsole(context.Background(), tc, map[string]interface{}{
		"jq": `.[] | select(.Type == "log") | .Text`,
	})
	if err != nil {
		t.Fatalf("get_console jq failed: %v", err)
	}
	if text := res.Content[0].Text; !strings.Contains(text, "keep") || strings.Contains(text, "drop") {
		t.Fatalf("jq filter not applied: %q", text)
	}
}

func TestGetNetworkRequestFetchesBodyLazily(t *testing.T) {
	ft := &fakeTransport{responses: map[string]cdpmsg.Result{
		"Network.getResponseBody": okResult(t, map[string]interface{}{
			"body": "<html>hi</html>", "base64Encoded": false,
		}),
	}}
	tc := newTestContext(ft)
	tc.Session.InsertNetworkRequest(&session.NetworkRequest{
		RequestID: "R1", URL: "https://example.com", Method: "GET",
	})
	tc.Session.FillNetworkResponse("R1", 200, "text/html", nil)

	res, err := handleGetNetworkRequest(context.Background(), tc, map[string]interface{}{"requestId": "R1"})
	if err != nil {
		t.Fatalf("get_network_request failed: %v", err)
	}
	if ft.lastCall("Network.getResponseBody") != nil {
		t.Fatalf("body must not be fetched unless includeBody is set")
	}
	if !strings.Contains(res.Content[0].Text, "200 text/html") {
		t.Fatalf("missing response meta: %q", res.Content[0].Text)
	}

	res, err = handleGetNetworkRequest(context.Background(), tc, map[string]interface{}{
		"requestId": "R1", "includeBody": true,
	})
	if err != nil {
		t.Fatalf("get_network_request with body failed: %v", err)
	}
	if ft.lastCall("Network.getResponseBody") == nil {
		t.Fatalf("includeBody should trigger Network.getResponseBody")
	}
	if !strings.Contains(res.Content[0].Text, "<html>hi</html>") {
		t.Fatalf("missing response body: %q", res.Content[0].Text)
	}
}

func TestGetNetworkRequestUnknownID(t *testing.T) {
	tc := newTestContext(&fakeTransport{})
	if _, err := handleGetNetworkRequest(context.Background(), tc, map[string]interface{}{"requestId": "nope"}); err == nil {
		t.Fatalf("expected error for unknown request id")
	}
}

func TestEmulateOfflineProfile(t *testing.T) {
	ft := &fakeTransport{}
	tc := newTestContext(ft)

	_, err := handleEmulate(context.Background(), tc, map[string]interface{}{"networkConditions": "Offline"})
	if err != nil {
		t.Fatalf("emulate failed: %v", err)
	}
	call := ft.lastCall("Network.emulateNetworkConditions")
	if call == nil || call.Params["offline"] != true {
		t.Fatalf("expected offline network conditions, got %+v", call)
	}
	if tc.Session.Emulation.NetworkProfile != "Offline" {
		t.Errorf("session emulation state not recorded")
	}
}

func TestEmulateNoEmulationRestoresDefaults(t *testing.T) {
	ft := &fakeTransport{}
	tc := newTestContext(ft)

	_, err := handleEmulate(context.Background(), tc, map[string]interface{}{"networkConditions": noEmulation})
	if err != nil {
		t.Fatalf("emulate failed: %v", err)
	}
	call := ft.lastCall("Network.emulateNetworkConditions")
	if call == nil || call.Params["offline"] != false || call.Params["downloadThroughput"].(float64) != -1 {
		t.Fatalf("expected defaults restored, got %+v", call)
	}
}

func TestEmulateUnknownProfile(t *testing.T) {
	tc := newTestContext(&fakeTransport{})
	if _, err := handleEmulate(context.Background(), tc, map[string]interface{}{"networkConditions": "Carrier Pigeon"}); err == nil {
		t.Fatalf("expected unknown-profile error")
	}
}

func TestEmulateColorSchemeAutoClearsOverride(t *testing.T) {
	ft := &fakeTransport{}
	tc := newTestContext(ft)

	if _, err := handleEmulate(context.Background(), tc, map[string]interface{}{"colorScheme": "dark"}); err != nil {
		t.Fatalf("emulate dark failed: %v", err)
	}
	dark := ft.lastCall("Emulation.setEmulatedMedia")
	if dark == nil || len(dark.Params["features"].([]interface{})) != 1 {
		t.Fatalf("dark scheme should set one media feature, got %+v", dark)
	}

	if _, err := handleEmulate(context.Background(), tc, map[string]interface{}{"colorScheme": "auto"}); err != nil {
		t.Fatalf("emulate auto failed: %v", err)
	}
	auto := ft.lastCall("Emulation.setEmulatedMedia")
	if auto == nil || len(auto.Params["features"].([]interface{})) != 0 {
		t.Fatalf("auto scheme should clear media features, got %+v", auto)
	}
}

func TestHandleDialogWithoutPendingDialog(t *testing.T) {
	tc := newTestContext(&fakeTransport{})
	if _, err := handleHandleDialog(context.Background(), tc, map[string]interface{}{"action": "accept"}); err == nil {
		t.Fatalf("expected error when no dialog is pending")
	}
}

func TestHandleDialogAcceptClearsSlot(t *testing.T) {
	ft := &fakeTransport{}
	tc := newTestContext(ft)
	tc.Session.SetDialog(&session.Dialog{Type: "confirm", Message: "sure?"})

	_, err := handleHandleDialog(context.Background(), tc, map[string]interface{}{
		"action": "accept", "promptText": "yes",
	})
	if err != nil {
		t.Fatalf("handle_dialog failed: %v", err)
	}
	call := ft.lastCall("Page.handleJavaScriptDialog")
	if call == nil || call.Params["accept"] != true || call.Params["promptText"] != "yes" {
		t.Fatalf("unexpected dialog command: %+v", call)
	}
	if tc.Session.CurrentDialog() != nil {
		t.Fatalf("dialog slot should be cleared after handling")
	}
}

func TestAnalyzeCLSFormatsFourDecimals(t *testing.T) {
	events := []map[string]interface{}{
		{"name": "LayoutShift", "args": map[string]interface{}{"data": map[string]interface{}{"score": 0.05}}},
		{"name": "LayoutShift", "args": map[string]interface{}{"data": map[string]interface{}{"score": 0.025}}},
		{"name": "Paint"},
	}
	got := analyzeCLS(events)
	if got != "CLS: 0.0750 (2 layout shifts)" {
		t.Fatalf("analyzeCLS = %q", got)
	}
}

func TestTakeSnapshotPopulatesCache(t *testing.T) {
	tree := map[string]interface{}{
		"nodes": []map[string]interface{}{
			{
				"nodeId":           "n1",
				"backendDOMNodeId": 100,
				"role":             map[string]interface{}{"value": "button"},
				"name":             map[string]interface{}{"value": "Submit"},
			},
		},
	}
	ft := &fakeTransport{responses: map[string]cdpmsg.Result{
		"Accessibility.getFullAXTree": okResult(t, tree),
	}}
	tc := newTestContext(ft)

	res, err := handleTakeSnapshot(context.Background(), tc, map[string]interface{}{})
	if err != nil {
		t.Fatalf("take_snapshot failed: %v", err)
	}
	text := res.Content[0].Text
	if !strings.Contains(text, "uid=1_0") || !strings.Contains(text, "button") {
		t.Fatalf("unexpected snapshot text: %q", text)
	}
	if _, err := tc.Session.ResolveUID("1_0"); err != nil {
		t.Fatalf("snapshot cache missing uid 1_0: %v", err)
	}
	if id, err := tc.Session.BackendNodeID("1_0"); err != nil || id != 100 {
		t.Fatalf("BackendNodeID(1_0) = (%d, %v), want (100, nil)", id, err)
	}
	if tc.Session.SnapshotCounterValue() != 1 {
		t.Fatalf("snapshot counter = %d, want 1", tc.Session.SnapshotCounterValue())
	}

	// A second snapshot renumbers and invalidates the previous UIDs.
	if _, err := handleTakeSnapshot(context.Background(), tc, map[string]interface{}{}); err != nil {
		t.Fatalf("second take_snapshot failed: %v", err)
	}
	if _, err := tc.Session.ResolveUID("1_0"); !gwerr.Is(err, gwerr.KindStaleSnapshot) {
		t.Fatalf("uid from first snapshot should be stale, got %v", err)
	}
	if _, err := tc.Session.ResolveUID("2_0"); err != nil {
		t.Fatalf("second snapshot uid should resolve: %v", err)
	}
}

func TestEvaluateReturnsValueText(t *testing.T) {
	ft := &fakeTransport{responses: map[string]cdpmsg.Result{
		"Runtime.evaluate": okResult(t, map[string]interface{}{
			"result": map[string]interface{}{"value": "hello"},
		}),
	}}
	tc := newTestContext(ft)

	res, err := handleEvaluate(context.Background(), tc, map[string]interface{}{"expression": "1+1"})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if res.Content[0].Text != "hello" {
		t.Fatalf("evaluate result = %q, want hello", res.Content[0].Text)
	}
	call := ft.lastCall("Runtime.evaluate")
	if call.Params["awaitPromise"] != true || call.Params["returnByValue"] != true {
		t.Fatalf("evaluate must set awaitPromise and returnByValue: %+v", call.Params)
	}
}
