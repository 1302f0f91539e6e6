package session

import (
	"context"
	"os/exec"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/cdpmsg"
	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/supervisor"
	"github.com/tmc/misc/cdp-gateway/internal/targetdirectory"
	"github.com/tmc/misc/cdp-gateway/internal/transport"
	"go.uber.org/zap"
)

// DiffPollInterval and DiffPollDeadline bound how long the three-tier
// fallback waits for a new target to appear after each attempt.
const (
	DiffPollInterval = 400 * time.Millisecond
	DiffPollDeadline = 6 * time.Second
)

// createSharedTab opens a new tab in shared-profile mode using a
// three-tier fallback: window.open via an existing page,
// then Target.createTarget against the profile's browser context, then
// re-invoking the browser with --profile-directory --new-window.
func (p *Pool) createSharedTab(ctx context.Context, handle *supervisor.Handle, dir *targetdirectory.Directory, browserContextID, url string) (cdpmsg.Target, error) {
	before, err := dir.ListTargets(ctx)
	if err != nil {
		return cdpmsg.Target{}, gwerr.Wrap(err, gwerr.KindTabCreateFailed, "listing targets before tier 1")
	}

	if existing := firstPageTarget(before); existing != nil {
		if target, err := p.tierWindowOpen(ctx, dir, *existing, before, url); err == nil {
			return target, nil
		} else if p.log != nil {
			p.log.Debug("tier 1 window.open failed, falling back", zap.Error(err))
		}
	}

	if target, err := p.tierCreateTarget(ctx, handle, browserContextID, url); err == nil {
		return target, nil
	} else if p.log != nil {
		p.log.Debug("tier 2 Target.createTarget failed, falling back", zap.Error(err))
	}

	if target, err := p.tierRelaunchNewWindow(ctx, handle, dir, before, url); err == nil {
		return target, nil
	}

	return cdpmsg.Target{}, gwerr.New(gwerr.KindTabCreateFailed, "all three tab-creation tiers failed")
}

func firstPageTarget(targets []cdpmsg.Target) *cdpmsg.Target {
	for i := range targets {
		if targets[i].Type == "page" {
			return &targets[i]
		}
	}
	return nil
}

// tierWindowOpen runs window.open(url, '_blank') with a user gesture
// inside an existing page of the profile, then detects the new tab by
// diffing the target list.
func (p *Pool) tierWindowOpen(ctx context.Context, dir *targetdirectory.Directory, existing cdpmsg.Target, before []cdpmsg.Target, url string) (cdpmsg.Target, error) {
	tr := transport.NewDirectWS(existing.WebSocketDebuggerURL, p.log)
	if err := tr.Connect(ctx); err != nil {
		return cdpmsg.Target{}, err
	}
	defer tr.Disconnect(ctx)

	script := "window.open(" + jsStringLiteral(url) + ", '_blank')"
	_, err := tr.Send(ctx, "Runtime.evaluate", map[string]interface{}{
		"expression":  script,
		"userGesture": true,
	}, 5*time.Second)
	if err != nil {
		return cdpmsg.Target{}, err
	}

	return p.pollForNewTarget(ctx, dir, before)
}

// tierCreateTarget asks the browser directly for a new target, inside the
// given browser context when one is known, over the shared handle's
// browser-level transport. Without that transport it degrades to the
// directory's /json/new endpoint.
func (p *Pool) tierCreateTarget(ctx context.Context, handle *supervisor.Handle, browserContextID, url string) (cdpmsg.Target, error) {
	dir := p.supervisor.Directory(handle.DebuggerURL())

	p.mu.Lock()
	browser := p.sharedBrowser
	p.mu.Unlock()
	if browser == nil || !browser.Connected() {
		return dir.NewPage(ctx, url)
	}

	params := map[string]interface{}{"url": url}
	if browserContextID != "" {
		params["browserContextId"] = browserContextID
	}
	res, err := browser.Send(ctx, "Target.createTarget", params, 0)
	if err != nil {
		return cdpmsg.Target{}, err
	}
	var opened struct {
		TargetID string `json:"targetId"`
	}
	if err := res.Unmarshal(&opened); err != nil {
		return cdpmsg.Target{}, err
	}
	return p.resolveTarget(ctx, dir, opened.TargetID)
}

// tierRelaunchNewWindow re-invokes the browser on the host with
// --profile-directory and --new-window, relying on Chrome's singleton-IPC
// placement, then detects the new target by diffing.
func (p *Pool) tierRelaunchNewWindow(ctx context.Context, handle *supervisor.Handle, dir *targetdirectory.Directory, before []cdpmsg.Target, url string) (cdpmsg.Target, error) {
	execPath, err := p.supervisor.FindExecutable()
	if err != nil {
		return cdpmsg.Target{}, err
	}
	args := []string{
		"--profile-directory=" + p.cfg.ProfileName,
		"--new-window",
		url,
	}
	cmd := exec.CommandContext(context.Background(), execPath, args...)
	if err := cmd.Start(); err != nil {
		return cdpmsg.Target{}, gwerr.Wrap(err, gwerr.KindTabCreateFailed, "re-invoking browser for tier 3")
	}
	go cmd.Wait()

	return p.pollForNewTarget(ctx, dir, before)
}

func (p *Pool) pollForNewTarget(ctx context.Context, dir *targetdirectory.Directory, before []cdpmsg.Target) (cdpmsg.Target, error) {
	beforeIDs := make(map[string]bool, len(before))
	for _, t := range before {
		beforeIDs[t.ID] = true
	}

	deadline := time.Now().Add(DiffPollDeadline)
	ticker := time.NewTicker(DiffPollInterval)
	defer ticker.Stop()

	for {
		after, err := dir.ListTargets(ctx)
		if err == nil {
			for _, t := range after {
				if !beforeIDs[t.ID] && t.Type == "page" {
					return t, nil
				}
			}
		}
		if time.Now().After(deadline) {
			return cdpmsg.Target{}, gwerr.New(gwerr.KindTabCreateFailed, "no new target detected within poll deadline")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return cdpmsg.Target{}, gwerr.Wrap(ctx.Err(), gwerr.KindTabCreateFailed, "poll canceled")
		}
	}
}

func jsStringLiteral(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for _, r := range s {
		if r == '\'' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, string(r)...)
	}
	out = append(out, '\'')
	return string(out)
}
