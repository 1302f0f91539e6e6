package toolsurface

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/validation"
)

// readyPollInterval is the document.readyState polling cadence.
const readyPollInterval = 100 * time.Millisecond

func (r *Registry) registerNavigationTools() {
	r.register(&Tool{
		Name:        "navigate_page",
		Category:    "Navigation",
		Description: "Navigate the current page: to a URL, or back/forward/reload through history",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"type":         map[string]interface{}{"type": "string", "enum": []string{"url", "back", "forward", "reload"}},
				"url":          map[string]interface{}{"type": "string"},
				"ignoreCache":  map[string]interface{}{"type": "boolean"},
				"initScript":   map[string]interface{}{"type": "string"},
				"timeout":      map[string]interface{}{"type": "integer"},
				"includeSnapshot": map[string]interface{}{"type": "boolean"},
			},
			"required": []string{"type"},
		},
		Handler: handleNavigatePage,
	})
}

func handleNavigatePage(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	navType, _ := args["type"].(string)
	deadline := 30 * time.Second
	if t, ok := args["timeout"].(float64); ok && t > 0 {
		if err := validation.ValidateTimeoutMillis(int64(t)); err != nil {
			return Result{}, gwerr.Wrap(err, gwerr.KindInternal, "invalid navigate timeout")
		}
		deadline = time.Duration(t) * time.Millisecond
	}

	switch navType {
	case "url":
		if err := doNavigateURL(ctx, tc, args, deadline); err != nil {
			return Result{}, err
		}
	case "back", "forward":
		if err := doNavigateHistory(ctx, tc, navType); err != nil {
			return Result{}, err
		}
	case "reload":
		ignoreCache, _ := args["ignoreCache"].(bool)
		if _, err := tc.SendCDP(ctx, "Page.reload", map[string]interface{}{"ignoreCache": ignoreCache}); err != nil {
			return Result{}, err
		}
	default:
		return Result{}, gwerr.Newf(gwerr.KindInternal, "unknown navigate type %q", navType)
	}

	return maybeWithSnapshot(ctx, tc, args, textResult(fmt.Sprintf("navigated (%s)", navType)))
}

func doNavigateURL(ctx context.Context, tc *Context, args map[string]interface{}, deadline time.Duration) error {
	url, _ := args["url"].(string)
	if err := validation.ValidateURL(url, []string{"http", "https", "file", "about", "data"}); err != nil {
		return gwerr.Wrap(err, gwerr.KindInternal, "invalid navigate url")
	}
	if _, err := tc.SendCDP(ctx, "Page.enable", nil); err != nil {
		return err
	}

	var scriptID string
	if init, ok := args["initScript"].(string); ok && init != "" {
		res, err := tc.SendCDP(ctx, "Page.addScriptToEvaluateOnNewDocument", map[string]interface{}{"source": init})
		if err != nil {
			return err
		}
		var body struct {
			Identifier string `json:"identifier"`
		}
		_ = res.Unmarshal(&body)
		scriptID = body.Identifier
	}
	// The init-script identifier is unregistered on every exit path.
	defer func() {
		if scriptID != "" {
			_, _ = tc.SendCDP(ctx, "Page.removeScriptToEvaluateOnNewDocument", map[string]interface{}{"identifier": scriptID})
		}
	}()

	if _, err := tc.SendCDP(ctx, "Page.navigate", map[string]interface{}{"url": url}); err != nil {
		return err
	}

	return pollReadyState(ctx, tc, deadline)
}

func pollReadyState(ctx context.Context, tc *Context, deadline time.Duration) error {
	cutoff := time.Now().Add(deadline)
	for {
		var state string
		if err := tc.evaluateJSValue(ctx, "document.readyState", &state); err == nil && state == "complete" {
			return nil
		}
		if time.Now().After(cutoff) {
			return gwerr.Newf(gwerr.KindTimeout, "navigation did not reach readyState=complete within %s", deadline)
		}
		select {
		case <-ctx.Done():
			return gwerr.Wrap(ctx.Err(), gwerr.KindTimeout, "navigate_page")
		case <-time.After(readyPollInterval):
		}
	}
}

func doNavigateHistory(ctx context.Context, tc *Context, direction string) error {
	res, err := tc.SendCDP(ctx, "Page.getNavigationHistory", nil)
	if err != nil {
		return err
	}
	var body struct {
		CurrentIndex int `json:"currentIndex"`
		Entries      []struct {
			ID int64 `json:"id"`
		} `json:"entries"`
	}
	if err := res.Unmarshal(&body); err != nil {
		return err
	}
	target := body.CurrentIndex - 1
	if direction == "forward" {
		target = body.CurrentIndex + 1
	}
	if target < 0 || target >= len(body.Entries) {
		return gwerr.Newf(gwerr.KindInternal, "no %s history entry available", direction)
	}
	_, err = tc.SendCDP(ctx, "Page.navigateToHistoryEntry", map[string]interface{}{"entryId": body.Entries[target].ID})
	return err
}

// maybeWithSnapshot implements the snapshot-after-action option:
// mutating tools accept includeSnapshot and append a fresh
// snapshot to their result when true.
func maybeWithSnapshot(ctx context.Context, tc *Context, args map[string]interface{}, base Result) (Result, error) {
	include, _ := args["includeSnapshot"].(bool)
	if !include {
		return base, nil
	}
	snap, err := takeSnapshotText(ctx, tc, false)
	if err != nil {
		return base, err
	}
	base.Content = append(base.Content, TextContent(snap))
	return base, nil
}
