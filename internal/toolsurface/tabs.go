package toolsurface

import (
	"context"
	"fmt"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
)

func (r *Registry) registerTabTools() {
	r.register(&Tool{
		Name: "list_pages", Category: "Tabs", ReadOnly: true,
		Description: "List every tab owned by this session",
		InputSchema: objSchema(nil, nil),
		Handler:     handleListPages,
	})
	r.register(&Tool{
		Name: "select_page", Category: "Tabs",
		Description: "Focus one of this session's tabs",
		InputSchema: objSchema(map[string]interface{}{
			"targetId": strSchema(),
		}, []string{"targetId"}),
		Handler: handleSelectPage,
	})
	r.register(&Tool{
		Name: "new_page", Category: "Tabs",
		Description: "Open a new tab owned by this session and focus it",
		InputSchema: objSchema(map[string]interface{}{
			"url": strSchema(),
		}, nil),
		Handler: handleNewPage,
	})
	r.register(&Tool{
		Name: "close_page", Category: "Tabs",
		Description: "Close one of this session's tabs; refuses to close the last one",
		InputSchema: objSchema(map[string]interface{}{
			"targetId": strSchema(),
		}, []string{"targetId"}),
		Handler: handleClosePage,
	})
}

func handleListPages(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	targets, err := tc.Pool.ListPages(ctx, tc.Session)
	if err != nil {
		return Result{}, err
	}
	lines := make([]string, 0, len(targets))
	for _, t := range targets {
		marker := " "
		if t.ID == tc.Session.CurrentTarget() {
			marker = "*"
		}
		lines = append(lines, fmt.Sprintf("%s %s  %s  %s", marker, t.ID, t.URL, t.Title))
	}
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return textResult(out), nil
}

func handleSelectPage(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	targetID, _ := args["targetId"].(string)
	if targetID == "" {
		return Result{}, gwerr.New(gwerr.KindInternal, "targetId is required")
	}
	if err := tc.Pool.SelectPage(ctx, tc.Session, targetID); err != nil {
		return Result{}, err
	}
	return textResult("selected " + targetID), nil
}

func handleNewPage(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	url, _ := args["url"].(string)
	target, err := tc.Pool.NewTab(ctx, tc.Session, url)
	if err != nil {
		return Result{}, err
	}
	return textResult("created " + target.ID), nil
}

func handleClosePage(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	targetID, _ := args["targetId"].(string)
	if targetID == "" {
		return Result{}, gwerr.New(gwerr.KindInternal, "targetId is required")
	}
	if err := tc.Pool.ClosePage(ctx, tc.Session, targetID); err != nil {
		return Result{}, err
	}
	return textResult("closed " + targetID), nil
}

// objSchema and strSchema are small literal-builder helpers so every tool
// registration below doesn't repeat the same map[string]interface{}
// boilerplate; they describe, they don't validate (see toolsurface.go).
func objSchema(props map[string]interface{}, required []string) map[string]interface{} {
	s := map[string]interface{}{"type": "object"}
	if props != nil {
		s["properties"] = props
	}
	if required != nil {
		s["required"] = required
	}
	return s
}

func strSchema() map[string]interface{}  { return map[string]interface{}{"type": "string"} }
func boolSchema() map[string]interface{} { return map[string]interface{}{"type": "boolean"} }
func numSchema() map[string]interface{}  { return map[string]interface{}{"type": "number"} }
