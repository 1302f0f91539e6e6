// Package gwerr defines the error kinds the gateway surfaces to tool-call
// consumers, mirroring the taxonomy in the session-gateway specification.
package gwerr

import (
	"fmt"
)

// Kind identifies one of the gateway's well-known error conditions. Tool
// handlers and internal components never return bare errors across a
// component boundary; they return or wrap a *Error with one of these kinds
// so the Tool Surface can map it to a stable string for the consumer.
type Kind string

const (
	// KindCDP means the browser rejected a command outright.
	KindCDP Kind = "cdp-error"
	// KindTimeout means no response arrived within the command deadline.
	KindTimeout Kind = "timeout"
	// KindDisconnected means the transport closed mid-request.
	KindDisconnected Kind = "disconnected"
	// KindBrowserDead means every page target for a session's handle is gone.
	KindBrowserDead Kind = "browser-dead"
	// KindHostExecUnavailable means the host interop channel is absent.
	KindHostExecUnavailable Kind = "host-exec-unavailable"
	// KindBrowserNotFound means no browser executable was found on the host.
	KindBrowserNotFound Kind = "browser-not-found"
	// KindBrowserStartTimeout means the launched process never answered
	// /json/version within the startup deadline.
	KindBrowserStartTimeout Kind = "browser-start-timeout"
	// KindForwarderStartFailed means the port-forwarder relay never printed
	// its listen port within the startup deadline.
	KindForwarderStartFailed Kind = "forwarder-start-failed"
	// KindForwarderHealthFailed means the relay's end-to-end health check
	// did not succeed.
	KindForwarderHealthFailed Kind = "forwarder-health-failed"
	// KindTabCreateFailed means every tab-creation tier in shared-profile
	// mode was exhausted without detecting a new target.
	KindTabCreateFailed Kind = "tab-create-failed"
	// KindStaleSnapshot means a UID references a node the browser no longer
	// knows about.
	KindStaleSnapshot Kind = "stale-snapshot"
	// KindTargetNotInSession means an input UID or tab id belongs to
	// another session.
	KindTargetNotInSession Kind = "target-not-in-session"
	// KindLastTab means the caller tried to close the only tab in a session.
	KindLastTab Kind = "last-tab"
	// KindUnknownSession means the session-id was never created, or was
	// already destroyed.
	KindUnknownSession Kind = "unknown-session"
	// KindInternal is a catch-all for conditions that should never surface
	// a panic to a tool-call consumer.
	KindInternal Kind = "internal"
)

// retryableByDefault marks the kinds where a retry has a realistic
// chance of succeeding without operator intervention.
var retryableByDefault = map[Kind]bool{
	KindTimeout:               true,
	KindDisconnected:          true,
	KindForwarderHealthFailed: true,
}

// Error is the gateway's uniform error type. CDPCode/CDPMessage are
// populated only for KindCDP; Context carries ad hoc key/value pairs for
// logging (session id, uid, url, ...).
type Error struct {
	Kind       Kind
	Message    string
	Cause      error
	Context    map[string]interface{}
	Retryable  bool
	CDPCode    int
	CDPMessage string
}

func (e *Error) Error() string {
	if e.Kind == KindCDP {
		return fmt.Sprintf("%s: %s (code=%d)", e.Kind, e.CDPMessage, e.CDPCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match on Kind alone, the way callers actually compare
// these ("if gwerr.Is(err, gwerr.KindStaleSnapshot) { ... }").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a bare *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryableByDefault[kind]}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause to a new *Error of the given kind.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: err, Retryable: retryableByDefault[kind]}
}

// Wrapf is Wrap with fmt.Sprintf formatting.
func Wrapf(err error, kind Kind, format string, args ...interface{}) *Error {
	return Wrap(err, kind, fmt.Sprintf(format, args...))
}

// CDP builds the error for a command the browser itself rejected.
func CDP(code int, message string) *Error {
	return &Error{Kind: KindCDP, Message: message, CDPCode: code, CDPMessage: message}
}

// WithContext attaches a key/value pair and returns the same error for
// chaining at the call site.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Is reports whether err is a *Error of the given kind, unwrapping through
// any pkg/errors wraps along the way.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ge, ok := err.(*Error); ok {
			return ge.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	for err != nil {
		if ge, ok := err.(*Error); ok {
			return ge, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// IsRetryable reports whether err (or the *Error within its chain) is
// marked retryable.
func IsRetryable(err error) bool {
	if ge, ok := As(err); ok {
		return ge.Retryable
	}
	return false
}
