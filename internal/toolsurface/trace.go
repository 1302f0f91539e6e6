package toolsurface

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
)

// traceCategories is the fixed category list used for
// performance_start_trace.
var traceCategories = []string{
	"devtools.timeline",
	"disabled-by-default-devtools.timeline",
	"disabled-by-default-devtools.timeline.frame",
	"loading",
	"rail",
}

func (r *Registry) registerTraceTools() {
	r.register(&Tool{
		Name: "performance_start_trace", Category: "Performance",
		Description: "Start collecting a performance trace (optionally reloading first)",
		InputSchema: objSchema(map[string]interface{}{
			"reload":   boolSchema(),
			"autoStop": boolSchema(),
		}, nil),
		Handler: handleStartTrace,
	})
	r.register(&Tool{
		Name: "performance_stop_trace", Category: "Performance",
		Description: "Stop the active performance trace",
		InputSchema: objSchema(nil, nil),
		Handler:     handleStopTrace,
	})
	r.register(&Tool{
		Name: "performance_analyze_insight", Category: "Performance", ReadOnly: true,
		Description: "Digest the collected trace into a named insight summary",
		InputSchema: objSchema(map[string]interface{}{
			"insightName": map[string]interface{}{"type": "string", "enum": []string{"CLSContributors", "CoreWebVitals", "CategoryCounts"}},
		}, []string{"insightName"}),
		Handler: handleAnalyzeInsight,
	})
}

func handleStartTrace(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	reload, _ := args["reload"].(bool)

	if _, err := tc.SendCDP(ctx, "Tracing.start", map[string]interface{}{
		"categories":      strings.Join(traceCategories, ","),
		"transferMode":    "ReturnAsStream",
		"bufferUsageReportingInterval": 1000,
	}); err != nil {
		return Result{}, err
	}
	tc.Session.SetTraceActive(true)

	if reload {
		if _, err := tc.SendCDP(ctx, "Page.reload", map[string]interface{}{"ignoreCache": false}); err != nil {
			return Result{}, err
		}
	}

	autoStop, _ := args["autoStop"].(bool)
	if autoStop {
		if _, err := tc.SendCDP(ctx, "Tracing.end", nil); err != nil {
			return Result{}, err
		}
	}
	return textResult("trace started"), nil
}

func handleStopTrace(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	if _, err := tc.SendCDP(ctx, "Tracing.end", nil); err != nil {
		return Result{}, err
	}
	collected, dropped := tc.Session.TraceCounts()
	if dropped > 0 {
		return textResult(fmt.Sprintf("trace stopped: %d events collected, %d dropped past the buffer cap", collected, dropped)), nil
	}
	return textResult(fmt.Sprintf("trace stopped: %d events collected", collected)), nil
}

func handleAnalyzeInsight(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	insight, _ := args["insightName"].(string)
	events := tc.Session.SnapshotTraceEvents()

	switch insight {
	case "CLSContributors":
		return textResult(analyzeCLS(events)), nil
	case "CoreWebVitals":
		return textResult(analyzeCoreWebVitals(events)), nil
	case "CategoryCounts":
		return textResult(analyzeCategoryCounts(events)), nil
	default:
		return Result{}, gwerr.Newf(gwerr.KindInternal, "unknown insight %q", insight)
	}
}

// analyzeCLS sums args.data.score across captured LayoutShift events,
// formatted to four decimals.
func analyzeCLS(events []map[string]interface{}) string {
	var total float64
	count := 0
	for _, e := range events {
		if name, _ := e["name"].(string); name != "LayoutShift" {
			continue
		}
		args, ok := e["args"].(map[string]interface{})
		if !ok {
			continue
		}
		data, ok := args["data"].(map[string]interface{})
		if !ok {
			continue
		}
		score, _ := data["score"].(float64)
		total += score
		count++
	}
	return fmt.Sprintf("CLS: %.4f (%d layout shifts)", total, count)
}

// analyzeCoreWebVitals extracts LCP/FCP timestamps from the trace buffer
// by name, a coarse heuristic.
func analyzeCoreWebVitals(events []map[string]interface{}) string {
	var lcp, fcp float64
	for _, e := range events {
		name, _ := e["name"].(string)
		ts, _ := e["ts"].(float64)
		switch name {
		case "largestContentfulPaint::Candidate":
			lcp = ts
		case "firstContentfulPaint":
			fcp = ts
		}
	}
	return fmt.Sprintf("FCP=%.0f LCP=%.0f", fcp, lcp)
}

func analyzeCategoryCounts(events []map[string]interface{}) string {
	counts := map[string]int{}
	for _, e := range events {
		if cat, ok := e["cat"].(string); ok {
			counts[cat]++
		}
	}
	out := ""
	for cat, n := range counts {
		out += fmt.Sprintf("%s: %d\n", cat, n)
	}
	return out
}
