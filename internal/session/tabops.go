package session

import (
	"context"

	"github.com/tmc/misc/cdp-gateway/internal/cdpmsg"
	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
)

// ListPages returns the target descriptors for every tab s owns. A tab
// created by another session never appears here.
func (p *Pool) ListPages(ctx context.Context, s *Session) ([]cdpmsg.Target, error) {
	dir := p.supervisor.Directory(s.Handle.DebuggerURL())
	targets, err := dir.ListTargets(ctx)
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.KindDisconnected, "listing targets")
	}

	s.mu.Lock()
	owned := make(map[string]bool, len(s.OwnedTargets))
	for id := range s.OwnedTargets {
		owned[id] = true
	}
	s.mu.Unlock()

	var out []cdpmsg.Target
	for _, t := range targets {
		if owned[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

// SelectPage switches s's focused transport to one of its owned tabs.
func (p *Pool) SelectPage(ctx context.Context, s *Session, targetID string) error {
	s.mu.Lock()
	owned := s.OwnedTargets[targetID]
	same := s.CurrentTargetID == targetID
	s.mu.Unlock()
	if !owned {
		return gwerr.Newf(gwerr.KindTargetNotInSession, "target %q does not belong to this session", targetID)
	}
	if same && s.PageTransport != nil && s.PageTransport.Connected() {
		return nil
	}

	dir := p.supervisor.Directory(s.Handle.DebuggerURL())
	targets, err := dir.ListTargets(ctx)
	if err != nil {
		return gwerr.Wrap(err, gwerr.KindDisconnected, "listing targets")
	}
	for _, t := range targets {
		if t.ID == targetID {
			_, err := p.reconnectPage(ctx, s, t)
			return err
		}
	}
	return gwerr.Newf(gwerr.KindTargetNotInSession, "target %q no longer exists", targetID)
}

// NewTab opens a new tab owned by s and selects it, using the mode-
// appropriate creation path: isolated gets a plain page create against
// s's own handle; shared goes through s's private browser context when
// one exists, or the tiered fallback in tabcreate.go otherwise.
func (p *Pool) NewTab(ctx context.Context, s *Session, url string) (cdpmsg.Target, error) {
	if url == "" {
		url = "about:blank"
	}
	dir := p.supervisor.Directory(s.Handle.DebuggerURL())

	var target cdpmsg.Target
	var err error
	switch {
	case p.cfg.Mode == Isolated:
		target, err = dir.NewPage(ctx, url)
	case s.BrowserContextID != "":
		// A tab opened any other way would land outside the session's
		// private context.
		target, err = p.tierCreateTarget(ctx, s.Handle, s.BrowserContextID, url)
	default:
		target, err = p.createSharedTab(ctx, s.Handle, dir, "", url)
	}
	if err != nil {
		return cdpmsg.Target{}, err
	}

	s.mu.Lock()
	s.OwnedTargets[target.ID] = true
	s.mu.Unlock()

	if _, err := p.reconnectPage(ctx, s, target); err != nil {
		return cdpmsg.Target{}, err
	}
	return target, nil
}

// ClosePage closes one of s's owned tabs, refusing to close the last one.
func (p *Pool) ClosePage(ctx context.Context, s *Session, targetID string) error {
	if err := CloseLastTabGuard(s, targetID); err != nil {
		return err
	}

	dir := p.supervisor.Directory(s.Handle.DebuggerURL())
	if err := dir.ClosePage(ctx, targetID); err != nil {
		return gwerr.Wrap(err, gwerr.KindInternal, "closing page")
	}

	s.mu.Lock()
	delete(s.OwnedTargets, targetID)
	wasCurrent := s.CurrentTargetID == targetID
	var fallback string
	for id := range s.OwnedTargets {
		fallback = id
		break
	}
	s.mu.Unlock()

	if wasCurrent && fallback != "" {
		dirTargets, err := dir.ListTargets(ctx)
		if err == nil {
			for _, t := range dirTargets {
				if t.ID == fallback {
					_, _ = p.reconnectPage(ctx, s, t)
					break
				}
			}
		}
	}
	return nil
}
