package toolsurface

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/validation"
)

const waitPollInterval = 200 * time.Millisecond

func (r *Registry) registerWaitTools() {
	r.register(&Tool{
		Name: "wait_for", Category: "Wait", ReadOnly: true,
		Description: "Poll until the page body's text contains a substring, or time out",
		InputSchema: objSchema(map[string]interface{}{
			"text":    strSchema(),
			"timeout": numSchema(),
		}, []string{"text"}),
		Handler: handleWaitFor,
	})
}

func handleWaitFor(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	text, _ := args["text"].(string)
	deadline := 30 * time.Second
	if t, ok := args["timeout"].(float64); ok && t > 0 {
		if err := validation.ValidateTimeoutMillis(int64(t)); err != nil {
			return Result{}, gwerr.Wrap(err, gwerr.KindInternal, "invalid wait_for timeout")
		}
		deadline = time.Duration(t) * time.Millisecond
	}

	expr := fmt.Sprintf("document.body && document.body.innerText.includes(%s)", jsStringLiteral(text))
	cutoff := time.Now().Add(deadline)
	for {
		var found bool
		if err := tc.evaluateJSValue(ctx, expr, &found); err == nil && found {
			return textResult(fmt.Sprintf("found %q", text)), nil
		}
		if time.Now().After(cutoff) {
			return Result{}, gwerr.Newf(gwerr.KindTimeout, "text %q not found within %s", text, deadline)
		}
		select {
		case <-ctx.Done():
			return Result{}, gwerr.Wrap(ctx.Err(), gwerr.KindTimeout, "wait_for")
		case <-time.After(waitPollInterval):
		}
	}
}
