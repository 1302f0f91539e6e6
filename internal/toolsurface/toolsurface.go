// Package toolsurface implements the Tool Surface: a registry
// of named operations, each with a declared input schema, that resolve
// into CDP commands against a session's page transport. It is the layer a
// tool-call consumer actually talks to; everything below it (transport,
// session pool, snapshot engine) is driven through the Context this
// package hands to each handler.
package toolsurface

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/session"
)

// Content is one item of a tool result, mirroring the tool-call
// transport's {text, image, resource} union. The transport
// itself is out of scope; this is the shape the Tool Surface hands to it.
type Content struct {
	Type     string // "text", "image", or "resource"
	Text     string
	Bytes    []byte
	MimeType string
	URI      string
}

func TextContent(s string) Content { return Content{Type: "text", Text: s} }

// Result is what every tool handler returns: zero or more content items.
// Handlers return a *gwerr.Error as err; Dispatch recovers a handler panic
// and returns it as a gwerr.KindInternal error instead.
type Result struct {
	Content []Content
}

func textResult(s string) Result { return Result{Content: []Content{TextContent(s)}} }

// Handler implements one tool's behavior against a resolved session.
type Handler func(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error)

// Tool is one registry entry: name, declared input schema, and the
// handler that executes it.
type Tool struct {
	Name        string
	Category    string
	Description string
	ReadOnly    bool
	// InputSchema is a JSON-Schema-shaped map describing args, not a
	// validated type: the handlers themselves do the narrow argument
	// parsing they need.
	InputSchema map[string]interface{}
	Handler     Handler
}

// Registry holds every named tool operation the gateway exposes.
type Registry struct {
	pool  *session.Pool
	log   *zap.Logger
	tools map[string]*Tool
	order []string
}

// New builds a Registry with every standard tool registered, bound to
// pool for session resolution.
func New(pool *session.Pool, log *zap.Logger) *Registry {
	r := &Registry{pool: pool, log: log, tools: make(map[string]*Tool)}
	r.registerNavigationTools()
	r.registerTabTools()
	r.registerSnapshotTools()
	r.registerInputTools()
	r.registerCaptureTools()
	r.registerLogTools()
	r.registerWaitTools()
	r.registerDialogTools()
	r.registerEmulationTools()
	r.registerTraceTools()
	return r
}

func (r *Registry) register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool, name-sorted for stable display.
func (r *Registry) List() []*Tool {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	out := make([]*Tool, 0, len(names))
	for _, n := range names {
		out = append(out, r.tools[n])
	}
	return out
}

// Dispatch resolves sessionID and runs the named tool's handler against it,
// the single entry point a front end (cmd/cdp's REPL, or any other tool-call
// transport) needs to drive the whole registry.
func (r *Registry) Dispatch(ctx context.Context, sessionID, name string, args map[string]interface{}) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = Result{}, gwerr.Newf(gwerr.KindInternal, "tool %s panicked: %v", name, rec)
		}
	}()
	t, ok := r.Get(name)
	if !ok {
		return Result{}, unknownToolErr(name)
	}
	tc, err := Resolve(ctx, r.pool, sessionID)
	if err != nil {
		return Result{}, err
	}
	return t.Handler(ctx, tc, args)
}
