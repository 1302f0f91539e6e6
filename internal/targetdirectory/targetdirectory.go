// Package targetdirectory is the thin HTTP facade over Chrome's debugger
// endpoints: /json/version, /json/list, /json/new, /json/close. It holds
// no connection state; CDP clients and their caching live in
// internal/transport and internal/session.
package targetdirectory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/cdpmsg"
	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
)

// Directory queries one browser's debugger HTTP endpoints. debuggerURL has
// no trailing slash, e.g. "http://127.0.0.1:9222".
type Directory struct {
	debuggerURL string
	client      *http.Client
}

// New returns a Directory for the given debugger HTTP base URL. The client
// is expected to already route to the right place (directly, or through a
// Port Forwarder / Host Bridge HTTP relay) — this package does not decide
// that routing.
func New(debuggerURL string, client *http.Client) *Directory {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Directory{debuggerURL: debuggerURL, client: client}
}

// GetVersion returns the browser's /json/version payload.
func (d *Directory) GetVersion(ctx context.Context) (cdpmsg.VersionInfo, error) {
	var v cdpmsg.VersionInfo
	if err := d.getJSON(ctx, "/json/version", &v); err != nil {
		return cdpmsg.VersionInfo{}, err
	}
	return v, nil
}

// ListTargets returns every debuggable target, filtered to those
// carrying a WebSocket debugger URL (targets without one, such as some
// "background_page" entries, aren't addressable).
func (d *Directory) ListTargets(ctx context.Context) ([]cdpmsg.Target, error) {
	var raw []cdpmsg.Target
	if err := d.getJSON(ctx, "/json/list", &raw); err != nil {
		return nil, err
	}
	targets := make([]cdpmsg.Target, 0, len(raw))
	for _, t := range raw {
		if t.WebSocketDebuggerURL == "" {
			continue
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// NewPage creates a new page target at the given URL ("about:blank" for a
// blank tab) and returns its descriptor.
func (d *Directory) NewPage(ctx context.Context, pageURL string) (cdpmsg.Target, error) {
	if pageURL == "" {
		pageURL = "about:blank"
	}
	endpoint := fmt.Sprintf("%s/json/new?%s", d.debuggerURL, url.QueryEscape(pageURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return cdpmsg.Target{}, gwerr.Wrap(err, gwerr.KindInternal, "building new_page request")
	}
	var t cdpmsg.Target
	if err := d.do(req, &t); err != nil {
		return cdpmsg.Target{}, err
	}
	return t, nil
}

// ClosePage closes the target with the given id.
func (d *Directory) ClosePage(ctx context.Context, targetID string) error {
	endpoint := fmt.Sprintf("%s/json/close/%s", d.debuggerURL, url.PathEscape(targetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gwerr.Wrap(err, gwerr.KindInternal, "building close_page request")
	}
	return d.do(req, nil)
}

func (d *Directory) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.debuggerURL+path, nil)
	if err != nil {
		return gwerr.Wrap(err, gwerr.KindInternal, "building request for "+path)
	}
	return d.do(req, out)
}

func (d *Directory) do(req *http.Request, out interface{}) error {
	resp, err := d.client.Do(req)
	if err != nil {
		return gwerr.Wrap(err, gwerr.KindDisconnected, "debugger HTTP request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gwerr.Newf(gwerr.KindDisconnected, "debugger endpoint %s returned status %d", req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return gwerr.Wrap(err, gwerr.KindInternal, "decoding debugger response")
	}
	return nil
}
