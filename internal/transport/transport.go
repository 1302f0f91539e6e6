// Package transport implements the gateway's CDP Transport contract: one
// open, full-duplex JSON channel to a single CDP endpoint, with a single
// background receive task per transport. Two
// implementations satisfy the same Transport interface: a direct WebSocket
// (directws.go) and a subprocess relay for guests where direct TCP to the
// browser is blocked (relay.go).
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/cdpmsg"
	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"go.uber.org/zap"
)

// DefaultTimeout is the default deadline for Send when the caller does
// not override it.
const DefaultTimeout = 30 * time.Second

// MaxFrameBytes is the minimum large-frame allowance; full accessibility
// dumps can be large.
const MaxFrameBytes = 16 * 1024 * 1024

// EventHandler observes a decoded CDP event. It must not block and must
// not call Send on the same transport: handlers run on the receive task,
// so a send from one would deadlock waiting for its own response.
type EventHandler func(event cdpmsg.Event)

// Transport is the contract every CDP connection implementation satisfies.
type Transport interface {
	// Connect opens the transport. Idempotent: calling Connect on an
	// already-open transport is a no-op.
	Connect(ctx context.Context) error
	// Disconnect closes the transport, cancels every in-flight Send with
	// gwerr.KindDisconnected, and stops the receive task. Idempotent.
	Disconnect(ctx context.Context) error
	// Connected reports whether the transport is currently open.
	Connected() bool
	// Send issues a CDP command and waits for its matching response.
	Send(ctx context.Context, method string, params interface{}, timeout time.Duration) (cdpmsg.Result, error)
	// On registers a handler for a named CDP event.
	On(event string, handler EventHandler)
	// Off removes a specific handler, or every handler for event if
	// handler is nil.
	Off(event string, handler EventHandler)
}

// pending tracks one in-flight Send awaiting its response.
type pending struct {
	resultCh chan cdpmsg.Result
}

// base holds the bookkeeping shared by every Transport implementation: the
// id counter, the pending-response table, and the event subscriber lists.
// Each transport has a single receive task, and all mutation happens from
// it or from Send's own goroutine under mu, so a single mutex is
// sufficient.
type base struct {
	mu       sync.Mutex
	nextID   int64
	pendingM map[int64]*pending
	handlers map[string][]EventHandler
	log      *zap.Logger
}

func newBase(log *zap.Logger) base {
	return base{
		pendingM: make(map[int64]*pending),
		handlers: make(map[string][]EventHandler),
		log:      log,
	}
}

func (b *base) allocID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *base) register(id int64) *pending {
	p := &pending{resultCh: make(chan cdpmsg.Result, 1)}
	b.mu.Lock()
	b.pendingM[id] = p
	b.mu.Unlock()
	return p
}

func (b *base) unregister(id int64) {
	b.mu.Lock()
	delete(b.pendingM, id)
	b.mu.Unlock()
}

// completeResponse routes an inbound response to its pending Send, if any
// is still waiting (it may have already timed out and unregistered).
func (b *base) completeResponse(env *cdpmsg.Envelope) {
	b.mu.Lock()
	p, ok := b.pendingM[env.ID]
	if ok {
		delete(b.pendingM, env.ID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	p.resultCh <- cdpmsg.Result{Value: env.Result, Err: env.Error}
}

// failAllPending cancels every in-flight Send with the given error;
// called on disconnect.
func (b *base) failAllPending(kind gwerr.Kind, msg string) {
	b.mu.Lock()
	pendingCopy := make([]*pending, 0, len(b.pendingM))
	for id, p := range b.pendingM {
		pendingCopy = append(pendingCopy, p)
		delete(b.pendingM, id)
	}
	b.mu.Unlock()
	for _, p := range pendingCopy {
		p.resultCh <- cdpmsg.Result{Err: &cdpmsg.ResponseError{Message: msg}}
		_ = kind
	}
}

// On registers a handler for event.
func (b *base) On(event string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Off removes handler, or every handler for event when handler is nil.
func (b *base) Off(event string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if handler == nil {
		delete(b.handlers, event)
		return
	}
	existing := b.handlers[event]
	filtered := existing[:0]
	for _, h := range existing {
		// Go func values aren't comparable unless one side is nil, so
		// sameFunc matches handlers by code pointer (reflect.Value.Pointer);
		// callers that need Off(event, handler) must pass the same func
		// value they passed to On. Handler slices stay small (one per
		// session/event), so linear removal is acceptable here.
		if !sameFunc(h, handler) {
			filtered = append(filtered, h)
		}
	}
	b.handlers[event] = filtered
}

// dispatch runs every handler registered for event.Method in registration
// order, catching and logging panics so one bad handler never kills the
// receive task.
func (b *base) dispatch(event cdpmsg.Event) {
	b.mu.Lock()
	handlers := append([]EventHandler(nil), b.handlers[event.Method]...)
	b.mu.Unlock()

	for _, h := range handlers {
		b.runHandler(h, event)
	}
}

func (b *base) runHandler(h EventHandler, event cdpmsg.Event) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.Error("event handler panicked",
				zap.String("event", event.Method),
				zap.Any("recover", r))
		}
	}()
	h(event)
}
