package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/cdpmsg"
	"github.com/tmc/misc/cdp-gateway/internal/transport"
)

// WireEvents subscribes s's page transport to every CDP event the Event
// Router cares about, silently enabling the domains that
// produce them. Handlers are non-blocking and idempotent, as required by
// the transport's single receive-task contract.
func WireEvents(s *Session, tr transport.Transport) {
	tr.On("Runtime.consoleAPICalled", func(e cdpmsg.Event) { onConsoleAPICalled(s, e) })
	tr.On("Network.requestWillBeSent", func(e cdpmsg.Event) { onRequestWillBeSent(s, e) })
	tr.On("Network.responseReceived", func(e cdpmsg.Event) { onResponseReceived(s, e) })
	tr.On("Page.javascriptDialogOpening", func(e cdpmsg.Event) { onDialogOpening(s, e) })
	tr.On("Page.javascriptDialogClosed", func(e cdpmsg.Event) { s.ClearDialog() })
	tr.On("Page.frameNavigated", func(e cdpmsg.Event) { onFrameNavigated(s, e) })
	tr.On("Tracing.dataCollected", func(e cdpmsg.Event) { onTracingDataCollected(s, e) })
	tr.On("Tracing.tracingComplete", func(e cdpmsg.Event) {
		s.mu.Lock()
		s.TraceActive = false
		s.mu.Unlock()
	})
	// Enable the producing domains off the caller's goroutine; the results
	// are not needed, so failures are ignored.
	go func() {
		for _, m := range []string{"Runtime.enable", "Network.enable", "Page.enable"} {
			_, _ = tr.Send(context.Background(), m, nil, 0)
		}
	}()
}

// UnwireEvents removes every handler WireEvents registered, used when a
// session's page transport is being torn down or swapped during
// reconnection.
func UnwireEvents(tr transport.Transport) {
	for _, ev := range []string{
		"Runtime.consoleAPICalled",
		"Network.requestWillBeSent",
		"Network.responseReceived",
		"Page.javascriptDialogOpening",
		"Page.javascriptDialogClosed",
		"Page.frameNavigated",
		"Tracing.dataCollected",
		"Tracing.tracingComplete",
	} {
		tr.Off(ev, nil)
	}
}

func onConsoleAPICalled(s *Session, e cdpmsg.Event) {
	var params struct {
		Type string `json:"type"`
		Args []struct {
			Value       json.RawMessage `json:"value"`
			Description string          `json:"description"`
			Preview     *struct {
				Description string `json:"description"`
			} `json:"preview"`
		} `json:"args"`
		Timestamp float64 `json:"timestamp"`
	}
	if err := json.Unmarshal(e.Params, &params); err != nil {
		return
	}
	text := synthesizeConsoleText(params.Args)
	s.AppendConsole(ConsoleMessage{
		Type:      params.Type,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// synthesizeConsoleText renders console arguments with value taking
// precedence over description, then preview description, joined across
// arguments.
func synthesizeConsoleText(args []struct {
	Value       json.RawMessage `json:"value"`
	Description string          `json:"description"`
	Preview     *struct {
		Description string `json:"description"`
	} `json:"preview"`
}) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch {
		case len(a.Value) > 0 && string(a.Value) != "null":
			var v interface{}
			if err := json.Unmarshal(a.Value, &v); err == nil {
				if s, ok := v.(string); ok {
					parts = append(parts, s)
					continue
				}
			}
			parts = append(parts, string(a.Value))
		case a.Description != "":
			parts = append(parts, a.Description)
		case a.Preview != nil:
			parts = append(parts, a.Preview.Description)
		}
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

func onRequestWillBeSent(s *Session, e cdpmsg.Event) {
	var params struct {
		RequestID string `json:"requestId"`
		Request   struct {
			URL         string            `json:"url"`
			Method      string            `json:"method"`
			Headers     map[string]string `json:"headers"`
			PostData    string            `json:"postData"`
			HasPostData bool              `json:"hasPostData"`
		} `json:"request"`
	}
	if err := json.Unmarshal(e.Params, &params); err != nil {
		return
	}
	s.InsertNetworkRequest(&NetworkRequest{
		RequestID:      params.RequestID,
		URL:            params.Request.URL,
		Method:         params.Request.Method,
		RequestHeaders: params.Request.Headers,
		RequestBody:    params.Request.PostData,
		Timestamp:      time.Now(),
	})
}

func onResponseReceived(s *Session, e cdpmsg.Event) {
	var params struct {
		RequestID string `json:"requestId"`
		Response  struct {
			Status   int               `json:"status"`
			MimeType string            `json:"mimeType"`
			Headers  map[string]string `json:"headers"`
		} `json:"response"`
	}
	if err := json.Unmarshal(e.Params, &params); err != nil {
		return
	}
	s.FillNetworkResponse(params.RequestID, params.Response.Status, params.Response.MimeType, params.Response.Headers)
}

func onDialogOpening(s *Session, e cdpmsg.Event) {
	var params struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		URL     string `json:"url"`
	}
	if err := json.Unmarshal(e.Params, &params); err != nil {
		return
	}
	s.SetDialog(&Dialog{Type: params.Type, Message: params.Message, URL: params.URL})
}

func onFrameNavigated(s *Session, e cdpmsg.Event) {
	var params struct {
		Frame struct {
			ParentID string `json:"parentId"`
		} `json:"frame"`
	}
	if err := json.Unmarshal(e.Params, &params); err != nil {
		return
	}
	if params.Frame.ParentID == "" {
		s.ClearOnMainFrameNavigation()
	}
}

// MaxTraceEvents bounds the trace buffer; a long trace on a busy page
// would otherwise grow without limit, so events beyond the cap are
// dropped and counted rather than retained.
const MaxTraceEvents = 20000

func onTracingDataCollected(s *Session, e cdpmsg.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.TraceActive {
		return
	}
	if len(s.TraceEvents) >= MaxTraceEvents {
		s.TraceEventsDropped++
		return
	}
	var value map[string]interface{}
	if err := json.Unmarshal(e.Params, &value); err != nil {
		return
	}
	s.TraceEvents = append(s.TraceEvents, value)
}
