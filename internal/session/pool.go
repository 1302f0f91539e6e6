package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/audit"
	"github.com/tmc/misc/cdp-gateway/internal/cdpmsg"
	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/supervisor"
	"github.com/tmc/misc/cdp-gateway/internal/targetdirectory"
	"github.com/tmc/misc/cdp-gateway/internal/transport"
	"go.uber.org/zap"
)

// PoolMode mirrors supervisor.Mode; kept as its own name at this layer so
// callers configuring a Pool don't need to import the supervisor package
// just for the constant.
type PoolMode = supervisor.Mode

const (
	Isolated      = supervisor.Isolated
	SharedProfile = supervisor.SharedProfile
)

// Config configures a Pool for its lifetime; the mode is fixed per
// instance.
type Config struct {
	Mode        PoolMode
	ProfileName string // shared-profile mode only
	Headless    bool
	PortMin     int // debug port range, used in both modes
	PortMax     int
	MaxConsole  int // 0 disables trimming

	// Audit records lifecycle events (create/destroy/reconnect/crash-rebuild)
	// for operator visibility. Nil disables the audit trail entirely.
	Audit *audit.Log
}

// RebuildRetryBudget bounds how many times GetOrCreate rebuilds a dead
// isolated-mode session on a fresh port before giving up.
const RebuildRetryBudget = 2

// Pool is the Session Pool: session-id -> Session, in either isolated or
// shared-profile mode.
type Pool struct {
	log        *zap.Logger
	supervisor *supervisor.Supervisor
	cfg        Config

	mu       sync.Mutex
	sessions map[string]*Session

	// shared-profile mode only
	sharedHandle  *supervisor.Handle
	sharedBrowser transport.Transport // browser-level CDP connection for Target.* commands

	closedDefaultsOnce bool
}

func New(log *zap.Logger, sup *supervisor.Supervisor, cfg Config) *Pool {
	return &Pool{
		log:        log,
		supervisor: sup,
		cfg:        cfg,
		sessions:   make(map[string]*Session),
	}
}

// GetOrCreate returns the session for id, creating it if absent and
// reconciling it first if its page transport has dropped.
func (p *Pool) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	p.mu.Lock()
	existing := p.sessions[id]
	p.mu.Unlock()

	if existing != nil {
		if existing.PageTransport != nil && existing.PageTransport.Connected() {
			return existing, nil
		}
		return p.reconcile(ctx, existing)
	}

	return p.createFresh(ctx, id)
}

// reconcile recovers a session whose page transport dropped: probe the
// target list, reconnect if the tracked target still exists, adopt another
// page target if one exists, or (isolated: rebuild; shared: invalidate and
// retry once) if the handle itself is gone.
func (p *Pool) reconcile(ctx context.Context, s *Session) (*Session, error) {
	dir := p.supervisor.Directory(s.Handle.DebuggerURL())
	targets, err := dir.ListTargets(ctx)
	if err != nil {
		return p.handleDeadBrowser(ctx, s)
	}

	s.mu.Lock()
	trackedID := s.CurrentTargetID
	s.mu.Unlock()

	for _, t := range targets {
		if t.ID == trackedID {
			return p.reconnectPage(ctx, s, t)
		}
	}

	for _, t := range targets {
		if t.Type == "page" && s.OwnedTargets[t.ID] {
			return p.reconnectPage(ctx, s, t)
		}
	}
	for _, t := range targets {
		if t.Type == "page" {
			s.mu.Lock()
			s.OwnedTargets[t.ID] = true
			s.mu.Unlock()
			return p.reconnectPage(ctx, s, t)
		}
	}

	return p.handleDeadBrowser(ctx, s)
}

func (p *Pool) reconnectPage(ctx context.Context, s *Session, t cdpmsg.Target) (*Session, error) {
	if s.PageTransport != nil {
		UnwireEvents(s.PageTransport)
		_ = s.PageTransport.Disconnect(ctx)
	}
	mgr := transport.NewManager(p.log)
	tr, err := mgr.Open(ctx, t.WebSocketDebuggerURL)
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.KindDisconnected, "reconnecting page transport")
	}
	s.mu.Lock()
	s.PageTransport = tr
	s.CurrentTargetID = t.ID
	s.mu.Unlock()
	WireEvents(s, tr)
	p.cfg.Audit.Record(ctx, s.ID, audit.EventReconnect, fmt.Sprintf("target=%s", t.ID))
	return s, nil
}

func (p *Pool) handleDeadBrowser(ctx context.Context, s *Session) (*Session, error) {
	p.cfg.Audit.Record(ctx, s.ID, audit.EventCrashRebuild, "")
	if p.cfg.Mode == Isolated {
		_ = p.supervisor.Kill(s.Handle)
		p.mu.Lock()
		delete(p.sessions, s.ID)
		p.mu.Unlock()

		var lastErr error
		for attempt := 0; attempt < RebuildRetryBudget; attempt++ {
			fresh, err := p.createFresh(ctx, s.ID)
			if err == nil {
				return fresh, nil
			}
			lastErr = err
		}
		return nil, gwerr.Wrap(lastErr, gwerr.KindBrowserDead, "rebuilding isolated session after browser death")
	}

	// Shared mode: invalidate every session sharing the handle, kill it,
	// and retry once.
	p.mu.Lock()
	for id, sess := range p.sessions {
		if sess.Handle == p.sharedHandle {
			delete(p.sessions, id)
		}
	}
	dead := p.sharedHandle
	deadBrowser := p.sharedBrowser
	p.sharedHandle = nil
	p.sharedBrowser = nil
	p.mu.Unlock()
	if deadBrowser != nil {
		_ = deadBrowser.Disconnect(ctx)
	}
	if dead != nil {
		_ = p.supervisor.Kill(dead)
	}
	return p.createFresh(ctx, s.ID)
}

func (p *Pool) createFresh(ctx context.Context, id string) (*Session, error) {
	if p.cfg.Mode == Isolated {
		return p.createIsolatedSession(ctx, id)
	}
	return p.createSharedSession(ctx, id)
}

func (p *Pool) createIsolatedSession(ctx context.Context, id string) (*Session, error) {
	port, err := p.supervisor.AllocatePort()
	if err != nil {
		return nil, err
	}
	handle, err := p.supervisor.AdoptOrLaunch(ctx, port, Isolated, "", p.cfg.Headless)
	if err != nil {
		p.supervisor.ReleasePort(port)
		return nil, err
	}

	dir := p.supervisor.Directory(handle.DebuggerURL())
	targets, err := dir.ListTargets(ctx)
	if err != nil {
		p.teardownIsolated(handle, port)
		return nil, gwerr.Wrap(err, gwerr.KindInternal, "listing targets on fresh isolated browser")
	}

	var target cdpmsg.Target
	if existing := firstPageTarget(targets); existing != nil {
		target = *existing
	} else {
		target, err = dir.NewPage(ctx, "about:blank")
		if err != nil {
			p.teardownIsolated(handle, port)
			return nil, err
		}
	}

	s := newSession(id, p.cfg.MaxConsole)
	s.Handle = handle
	s.CurrentTargetID = target.ID
	s.OwnedTargets[target.ID] = true

	mgr := transport.NewManager(p.log)
	tr, err := mgr.Open(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		p.teardownIsolated(handle, port)
		return nil, gwerr.Wrap(err, gwerr.KindDisconnected, "connecting page transport")
	}
	s.PageTransport = tr
	WireEvents(s, tr)

	p.mu.Lock()
	p.sessions[id] = s
	p.mu.Unlock()

	// Startup-race rule: close every other default tab exactly once, only
	// for a browser this process launched.
	p.closeDefaultsOnce(ctx, dir, handle, target.ID)

	if p.log != nil {
		p.log.Info("created isolated session", zap.String("session_id", id), zap.Int("port", port))
	}
	p.cfg.Audit.Record(ctx, id, audit.EventCreate, fmt.Sprintf("isolated port=%d", port))
	return s, nil
}

func (p *Pool) teardownIsolated(handle *supervisor.Handle, port int) {
	_ = p.supervisor.Kill(handle)
	p.supervisor.ReleasePort(port)
}

func (p *Pool) createSharedSession(ctx context.Context, id string) (*Session, error) {
	handle, dir, err := p.ensureSharedHandle(ctx)
	if err != nil {
		return nil, err
	}

	// Default path: a private browser context per session, so cookies and
	// storage never cross sessions. Profiles that can't be reached through
	// the private-context machinery fall back to the tiered tab creation.
	contextID, target, err := p.createContextTab(ctx, dir, "about:blank")
	if err != nil {
		if p.log != nil {
			p.log.Debug("private browser context unavailable, using tiered tab creation", zap.Error(err))
		}
		target, err = p.createSharedTab(ctx, handle, dir, "", "about:blank")
		if err != nil {
			return nil, err
		}
	}

	s := newSession(id, p.cfg.MaxConsole)
	s.Handle = handle
	s.CurrentTargetID = target.ID
	s.OwnedTargets[target.ID] = true
	s.BrowserContextID = contextID

	mgr := transport.NewManager(p.log)
	tr, err := mgr.Open(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.KindDisconnected, "connecting page transport")
	}
	s.PageTransport = tr
	WireEvents(s, tr)

	p.mu.Lock()
	p.sessions[id] = s
	p.mu.Unlock()

	p.closeDefaultsOnce(ctx, dir, handle, target.ID)

	if p.log != nil {
		p.log.Info("created shared-profile session", zap.String("session_id", id))
	}
	p.cfg.Audit.Record(ctx, id, audit.EventCreate, fmt.Sprintf("shared profile=%s", p.cfg.ProfileName))
	return s, nil
}

func (p *Pool) ensureSharedHandle(ctx context.Context) (*supervisor.Handle, *targetdirectory.Directory, error) {
	p.mu.Lock()
	handle := p.sharedHandle
	p.mu.Unlock()
	if handle != nil {
		return handle, p.supervisor.Directory(handle.DebuggerURL()), nil
	}

	port, err := p.supervisor.AllocatePort()
	if err != nil {
		return nil, nil, err
	}
	handle, err = p.supervisor.AdoptOrLaunch(ctx, port, SharedProfile, p.cfg.ProfileName, p.cfg.Headless)
	if err != nil {
		p.supervisor.ReleasePort(port)
		return nil, nil, err
	}

	dir := p.supervisor.Directory(handle.DebuggerURL())

	// The browser-level connection carries Target.* and Browser.* commands
	// for every session sharing this handle. Losing it is not fatal: tab
	// creation degrades to the tiered fallback.
	var browserTr transport.Transport
	if version, err := dir.GetVersion(ctx); err == nil && version.WebSocketDebuggerURL != "" {
		mgr := transport.NewManager(p.log)
		if tr, err := mgr.Open(ctx, version.WebSocketDebuggerURL); err == nil {
			browserTr = tr
		} else if p.log != nil {
			p.log.Warn("browser-level transport unavailable", zap.Error(err))
		}
	}

	p.mu.Lock()
	p.sharedHandle = handle
	p.sharedBrowser = browserTr
	p.mu.Unlock()

	return handle, dir, nil
}

// createContextTab is shared mode's default first-tab path: create a
// private browser context, open the session's first tab inside it, and
// resolve the new target's descriptor from the directory.
func (p *Pool) createContextTab(ctx context.Context, dir *targetdirectory.Directory, url string) (string, cdpmsg.Target, error) {
	p.mu.Lock()
	browser := p.sharedBrowser
	p.mu.Unlock()
	if browser == nil || !browser.Connected() {
		return "", cdpmsg.Target{}, gwerr.New(gwerr.KindTabCreateFailed, "no browser-level transport")
	}

	res, err := browser.Send(ctx, "Target.createBrowserContext", map[string]interface{}{"disposeOnDetach": false}, 0)
	if err != nil {
		return "", cdpmsg.Target{}, err
	}
	var created struct {
		BrowserContextID string `json:"browserContextId"`
	}
	if err := res.Unmarshal(&created); err != nil {
		return "", cdpmsg.Target{}, err
	}

	res, err = browser.Send(ctx, "Target.createTarget", map[string]interface{}{
		"url": url, "browserContextId": created.BrowserContextID,
	}, 0)
	if err != nil {
		p.disposeBrowserContext(ctx, created.BrowserContextID)
		return "", cdpmsg.Target{}, err
	}
	var opened struct {
		TargetID string `json:"targetId"`
	}
	if err := res.Unmarshal(&opened); err != nil {
		p.disposeBrowserContext(ctx, created.BrowserContextID)
		return "", cdpmsg.Target{}, err
	}

	target, err := p.resolveTarget(ctx, dir, opened.TargetID)
	if err != nil {
		p.disposeBrowserContext(ctx, created.BrowserContextID)
		return "", cdpmsg.Target{}, err
	}
	return created.BrowserContextID, target, nil
}

// resolveTarget polls the directory until targetID shows up with a
// WebSocket URL; createTarget can answer before /json/list reflects it.
func (p *Pool) resolveTarget(ctx context.Context, dir *targetdirectory.Directory, targetID string) (cdpmsg.Target, error) {
	deadline := time.Now().Add(DiffPollDeadline)
	for {
		targets, err := dir.ListTargets(ctx)
		if err == nil {
			for _, t := range targets {
				if t.ID == targetID {
					return t, nil
				}
			}
		}
		if time.Now().After(deadline) {
			return cdpmsg.Target{}, gwerr.Newf(gwerr.KindTabCreateFailed, "target %s never appeared in the directory", targetID)
		}
		select {
		case <-ctx.Done():
			return cdpmsg.Target{}, gwerr.Wrap(ctx.Err(), gwerr.KindTabCreateFailed, "resolving created target")
		case <-time.After(DiffPollInterval):
		}
	}
}

func (p *Pool) disposeBrowserContext(ctx context.Context, contextID string) {
	if contextID == "" {
		return
	}
	p.mu.Lock()
	browser := p.sharedBrowser
	p.mu.Unlock()
	if browser == nil || !browser.Connected() {
		return
	}
	_, _ = browser.Send(ctx, "Target.disposeBrowserContext", map[string]interface{}{"browserContextId": contextID}, 0)
}

// closeDefaultsOnce closes every page target on handle other than keepID,
// exactly once per pool lifetime, and only when this process launched the
// browser (never for an adopted one).
func (p *Pool) closeDefaultsOnce(ctx context.Context, dir *targetdirectory.Directory, handle *supervisor.Handle, keepID string) {
	p.mu.Lock()
	if p.closedDefaultsOnce || !handle.Owned {
		p.mu.Unlock()
		return
	}
	p.closedDefaultsOnce = true
	p.mu.Unlock()

	targets, err := dir.ListTargets(ctx)
	if err != nil {
		return
	}
	for _, t := range targets {
		if t.Type != "page" || t.ID == keepID {
			continue
		}
		_ = dir.ClosePage(ctx, t.ID)
	}
}

// Destroy closes the session's page transport and tabs, and in isolated
// mode kills the browser process and releases its port.
func (p *Pool) Destroy(ctx context.Context, id string) error {
	p.mu.Lock()
	s, ok := p.sessions[id]
	if ok {
		delete(p.sessions, id)
	}
	p.mu.Unlock()
	if !ok {
		return gwerr.Newf(gwerr.KindUnknownSession, "session %q does not exist", id)
	}

	if s.PageTransport != nil {
		UnwireEvents(s.PageTransport)
		_ = s.PageTransport.Disconnect(ctx)
	}

	if s.BrowserContextID != "" {
		// Disposing the private context closes its tabs with it.
		p.disposeBrowserContext(ctx, s.BrowserContextID)
	} else {
		dir := p.supervisor.Directory(s.Handle.DebuggerURL())
		for targetID := range s.OwnedTargets {
			_ = dir.ClosePage(ctx, targetID)
		}
	}

	if p.cfg.Mode == Isolated {
		port := s.Handle.Port
		_ = p.supervisor.Kill(s.Handle)
		p.supervisor.ReleasePort(port)
	}
	p.cfg.Audit.Record(ctx, id, audit.EventDestroy, "")
	return nil
}

// CleanupAll destroys every session and, in shared mode, kills the shared
// handle.
func (p *Pool) CleanupAll(ctx context.Context) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		_ = p.Destroy(ctx, id)
	}

	if p.cfg.Mode == SharedProfile {
		p.mu.Lock()
		handle := p.sharedHandle
		browser := p.sharedBrowser
		p.sharedHandle = nil
		p.sharedBrowser = nil
		p.mu.Unlock()
		if browser != nil {
			_ = browser.Disconnect(ctx)
		}
		if handle != nil {
			_ = p.supervisor.Kill(handle)
		}
	}
}

// CloseLastTabGuard is consulted by the Tool Surface before closing a tab:
// closing a session's only owned target is forbidden.
func CloseLastTabGuard(s *Session, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.OwnedTargets) <= 1 {
		return gwerr.Newf(gwerr.KindLastTab, "refusing to close the only tab in session")
	}
	if !s.OwnedTargets[targetID] {
		return gwerr.Newf(gwerr.KindTargetNotInSession, "target %q does not belong to this session", targetID)
	}
	return nil
}
