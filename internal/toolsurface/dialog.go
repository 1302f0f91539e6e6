package toolsurface

import (
	"context"
	"fmt"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
)

func (r *Registry) registerDialogTools() {
	r.register(&Tool{
		Name: "handle_dialog", Category: "Dialog",
		Description: "Accept or dismiss the session's pending JavaScript dialog",
		InputSchema: objSchema(map[string]interface{}{
			"action":     map[string]interface{}{"type": "string", "enum": []string{"accept", "dismiss"}},
			"promptText": strSchema(),
		}, []string{"action"}),
		Handler: handleHandleDialog,
	})
}

func handleHandleDialog(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	action, _ := args["action"].(string)
	if tc.Session.CurrentDialog() == nil {
		return Result{}, gwerr.New(gwerr.KindInternal, "no pending dialog")
	}
	params := map[string]interface{}{"accept": action == "accept"}
	if promptText, ok := args["promptText"].(string); ok && promptText != "" {
		params["promptText"] = promptText
	}
	if _, err := tc.SendCDP(ctx, "Page.handleJavaScriptDialog", params); err != nil {
		return Result{}, err
	}
	tc.Session.ClearDialog()
	return textResult(fmt.Sprintf("dialog %sed", action)), nil
}
