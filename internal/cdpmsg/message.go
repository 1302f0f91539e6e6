// Package cdpmsg defines the wire-level shapes of Chrome DevTools Protocol
// traffic: outbound commands, inbound responses and events, and the target
// descriptors returned by the browser's HTTP debugger endpoints.
//
// CDP payloads are arbitrary, version-skewed JSON. Rather than generating a
// struct per domain method, messages are carried as json.RawMessage and
// decoded into small typed records only where the gateway actually reads
// fields (target descriptors, dialog info, network records); everything
// else is passed through opaquely, per the "dynamic typing -> tagged
// variants" design note.
package cdpmsg

import (
	"encoding/json"
	"fmt"
)

// Command is an outbound CDP request. ID is assigned by the transport and
// is unique for the lifetime of one connection.
type Command struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseError is the `error` member of a CDP response.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// Envelope is the shape every inbound frame is first decoded into, so the
// receive loop can tell a response (has ID) from an event (has Method, no
// ID) without assuming which one it is ahead of time.
type Envelope struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// IsResponse reports whether the envelope carries a command response
// rather than an event. CDP responses always have a nonzero id; events
// never do.
func (e *Envelope) IsResponse() bool { return e.ID != 0 }

// Event is a decoded CDP event ready for dispatch to subscribers.
type Event struct {
	Method string
	Params json.RawMessage
}

// Result is the CDP result/error sum used internally by the transport:
// either a result payload or a code/message rejection, never both.
type Result struct {
	Value json.RawMessage
	Err   *ResponseError
}

func (r Result) Unmarshal(v interface{}) error {
	if r.Err != nil {
		return r.Err
	}
	if len(r.Value) == 0 {
		return nil
	}
	return json.Unmarshal(r.Value, v)
}

// Target is a CDP target descriptor as returned by /json/list, /json/new,
// and /json/version's nested entries.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	Description          string `json:"description,omitempty"`
}

// VersionInfo is the body of GET /json/version.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion       string `json:"Protocol-Version"`
	UserAgent             string `json:"User-Agent"`
	V8Version             string `json:"V8-Version"`
	WebKitVersion         string `json:"WebKit-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Params marshals v into a Command's Params field, panicking only on a
// programmer error (an unmarshalable Go value). Marshal failures of
// internally-constructed values are bugs, not runtime errors.
func Params(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("cdpmsg: marshaling params: %v", err))
	}
	return b
}
