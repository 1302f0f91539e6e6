package toolsurface

import (
	"context"
	"os"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/session"
	"github.com/tmc/misc/cdp-gateway/internal/snapshot"
)

func (r *Registry) registerSnapshotTools() {
	r.register(&Tool{
		Name: "take_snapshot", Category: "Snapshot", ReadOnly: true,
		Description: "Render the page's accessibility tree as text with stable UIDs input tools can reference",
		InputSchema: objSchema(map[string]interface{}{
			"verbose":  boolSchema(),
			"filePath": strSchema(),
		}, nil),
		Handler: handleTakeSnapshot,
	})
}

func handleTakeSnapshot(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	verbose, _ := args["verbose"].(bool)
	text, err := takeSnapshotText(ctx, tc, verbose)
	if err != nil {
		return Result{}, err
	}
	if path, ok := args["filePath"].(string); ok && path != "" {
		path, err := sanitizedOutputPath(path)
		if err != nil {
			return Result{}, gwerr.Wrap(err, gwerr.KindInternal, "invalid snapshot filePath")
		}
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			return Result{}, gwerr.Wrap(err, gwerr.KindInternal, "writing snapshot file")
		}
	}
	return textResult(text), nil
}

// takeSnapshotText is the shared core: issued by take_snapshot directly
// and by every mutating tool's includeSnapshot option.
func takeSnapshotText(ctx context.Context, tc *Context, verbose bool) (string, error) {
	if _, err := tc.SendCDP(ctx, "Accessibility.enable", nil); err != nil {
		return "", err
	}
	raw, err := tc.SendCDP(ctx, "Accessibility.getFullAXTree", nil)
	if err != nil {
		return "", err
	}

	s := tc.Session
	s.IncrementSnapshotCounter()
	result, err := snapshot.Capture(raw, s.SnapshotCounterValue(), verbose)
	if err != nil {
		return "", err
	}

	entries := make(map[string]session.SnapshotEntry, len(result.Entries))
	for uid, e := range result.Entries {
		entries[uid] = e
	}
	s.ReplaceSnapshotCache(entries, result.BackendNodeIDs)
	return result.Text, nil
}
