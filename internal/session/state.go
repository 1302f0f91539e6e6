// Package session implements the session pool: mapping session-id to
// session state, isolated and shared-profile operating modes,
// reconnect-after-crash reconciliation, and tab ownership.
package session

import (
	"sync"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/supervisor"
	"github.com/tmc/misc/cdp-gateway/internal/transport"
)

func staleSnapshotErr(uid string) *gwerr.Error {
	return gwerr.Newf(gwerr.KindStaleSnapshot, "uid %q is not in the current snapshot; retake the snapshot", uid).
		WithContext("uid", uid)
}

// ConsoleMessage is one Runtime.consoleAPICalled record.
type ConsoleMessage struct {
	Type      string
	Text      string
	Timestamp time.Time
}

// NetworkRequest is one Network.requestWillBeSent record, filled in by a
// later Network.responseReceived. Response bodies are deliberately absent
// here; get_network_request calls Network.getResponseBody on demand
// instead of caching bodies eagerly.
type NetworkRequest struct {
	RequestID       string
	URL             string
	Method          string
	RequestHeaders  map[string]string
	RequestBody     string
	Timestamp       time.Time
	StatusCode      int
	MimeType        string
	ResponseHeaders map[string]string
	Responded       bool
}

// Dialog is the at-most-one pending JavaScript dialog for a session.
type Dialog struct {
	Type    string
	Message string
	URL     string
}

// SnapshotEntry maps a stable UID to the backend node id and element
// metadata the Snapshot Engine produced for it.
type SnapshotEntry struct {
	BackendNodeID int64
	Role          string
	Name          string
	Value         string
}

// EmulationSettings holds the session's current device/network/locale
// overrides currently applied to the page.
type EmulationSettings struct {
	NetworkProfile string
	UserAgent      string
	Viewport       *ViewportSize
	Locale         string
	TimezoneID     string
}

type ViewportSize struct {
	Width, Height int
	Mobile        bool
}

// Session is the gateway's unit of isolation: one consumer-chosen
// session-id holding a browser handle, a focused page transport, the tabs
// it owns, and all per-session event state.
type Session struct {
	ID string

	mu sync.Mutex

	Handle          *supervisor.Handle
	CurrentTargetID string
	OwnedTargets    map[string]bool
	BrowserContextID string

	PageTransport transport.Transport

	Console       []ConsoleMessage
	MaxConsole    int
	Network       map[string]*NetworkRequest
	NetworkOrder  []string
	PendingDialog *Dialog

	SnapshotCache   map[string]SnapshotEntry
	SnapshotNodeIDs map[string]int64
	SnapshotCounter int

	TraceActive        bool
	TraceEvents        []map[string]interface{}
	TraceEventsDropped int

	Emulation EmulationSettings
}

func newSession(id string, maxConsole int) *Session {
	return &Session{
		ID:              id,
		OwnedTargets:    make(map[string]bool),
		MaxConsole:      maxConsole,
		Network:         make(map[string]*NetworkRequest),
		SnapshotCache:   make(map[string]SnapshotEntry),
		SnapshotNodeIDs: make(map[string]int64),
	}
}

// AppendConsole inserts a console record, trimming to MaxConsole when set.
func (s *Session) AppendConsole(msg ConsoleMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Console = append(s.Console, msg)
	if s.MaxConsole > 0 && len(s.Console) > s.MaxConsole {
		s.Console = s.Console[len(s.Console)-s.MaxConsole:]
	}
}

// InsertNetworkRequest records a new Network.requestWillBeSent.
func (s *Session) InsertNetworkRequest(req *NetworkRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.Network[req.RequestID]; !exists {
		s.NetworkOrder = append(s.NetworkOrder, req.RequestID)
	}
	s.Network[req.RequestID] = req
}

// FillNetworkResponse fills response metadata on an existing record, a
// no-op if the request id was never seen (out-of-order or pre-existing
// navigation).
func (s *Session) FillNetworkResponse(requestID string, statusCode int, mimeType string, headers map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.Network[requestID]; ok {
		req.StatusCode = statusCode
		req.MimeType = mimeType
		req.ResponseHeaders = headers
		req.Responded = true
	}
}

// SetDialog populates the pending dialog slot.
func (s *Session) SetDialog(d *Dialog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingDialog = d
}

// ClearDialog empties the pending dialog slot.
func (s *Session) ClearDialog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingDialog = nil
}

// IncrementSnapshotCounter advances the per-session monotonic snapshot
// number; UIDs are stable within one snapshot only.
func (s *Session) IncrementSnapshotCounter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SnapshotCounter++
}

// SnapshotCounterValue returns the current snapshot counter.
func (s *Session) SnapshotCounterValue() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SnapshotCounter
}

// ReplaceSnapshotCache overwrites the UID->element cache and the
// UID->backend-node-id map after a fresh take_snapshot; earlier UIDs
// become unresolvable (stale) from this point.
func (s *Session) ReplaceSnapshotCache(entries map[string]SnapshotEntry, nodeIDs map[string]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SnapshotCache = entries
	if nodeIDs == nil {
		nodeIDs = make(map[string]int64)
	}
	s.SnapshotNodeIDs = nodeIDs
}

// BackendNodeID resolves a snapshot UID straight to its backend node id,
// with the same staleness contract as ResolveUID; UIDs whose node carried
// no backend id resolve through ResolveUID but not here.
func (s *Session) BackendNodeID(uid string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.SnapshotNodeIDs[uid]
	if !ok {
		return 0, staleSnapshotErr(uid)
	}
	return id, nil
}

// ResolveUID looks up a snapshot UID, returning gwerr.KindStaleSnapshot
// when it is absent from the current cache.
func (s *Session) ResolveUID(uid string) (SnapshotEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.SnapshotCache[uid]
	if !ok {
		return SnapshotEntry{}, staleSnapshotErr(uid)
	}
	return e, nil
}

// SetTraceActive flips the trace-active flag and, when starting a fresh
// trace, clears any previously buffered events.
func (s *Session) SetTraceActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TraceActive = active
	if active {
		s.TraceEvents = nil
		s.TraceEventsDropped = 0
	}
}

// TraceCounts returns how many trace events were buffered and how many
// were dropped past the buffer cap.
func (s *Session) TraceCounts() (collected, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.TraceEvents), s.TraceEventsDropped
}

// SnapshotTraceEvents returns a defensive copy of the buffered trace
// events for performance_analyze_insight.
func (s *Session) SnapshotTraceEvents() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]interface{}, len(s.TraceEvents))
	copy(out, s.TraceEvents)
	return out
}

// CurrentDialog returns a copy of the pending dialog, or nil if none.
func (s *Session) CurrentDialog() *Dialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PendingDialog == nil {
		return nil
	}
	d := *s.PendingDialog
	return &d
}

// CurrentTarget returns the session's focused target id.
func (s *Session) CurrentTarget() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CurrentTargetID
}

// ClearOnMainFrameNavigation drops console, network, and snapshot state on
// a top-level navigation.
func (s *Session) ClearOnMainFrameNavigation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Console = nil
	s.Network = make(map[string]*NetworkRequest)
	s.NetworkOrder = nil
	s.SnapshotCache = make(map[string]SnapshotEntry)
	s.SnapshotNodeIDs = make(map[string]int64)
}

// SnapshotConsole returns a defensive copy of console messages for tool reads.
func (s *Session) SnapshotConsole() []ConsoleMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConsoleMessage, len(s.Console))
	copy(out, s.Console)
	return out
}

// SnapshotNetwork returns network records in insertion order.
func (s *Session) SnapshotNetwork() []*NetworkRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*NetworkRequest, 0, len(s.NetworkOrder))
	for _, id := range s.NetworkOrder {
		if req, ok := s.Network[id]; ok {
			out = append(out, req)
		}
	}
	return out
}
