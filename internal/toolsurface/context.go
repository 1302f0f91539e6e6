package toolsurface

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/cdpmsg"
	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/session"
)

// Context is the per-call tool context: the current session's page
// transport, a convenience EvaluateJS, the mutable session state, and
// access back to the session pool for tools that create or switch tabs.
type Context struct {
	Pool    *session.Pool
	Session *session.Session
}

// Resolve obtains the session for id, creating or reconciling it as
// needed, and wraps it in a Context.
func Resolve(ctx context.Context, pool *session.Pool, id string) (*Context, error) {
	s, err := pool.GetOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Context{Pool: pool, Session: s}, nil
}

// SendCDP issues a command on the session's current page transport with
// the transport's default timeout.
func (tc *Context) SendCDP(ctx context.Context, method string, params interface{}) (cdpmsg.Result, error) {
	return tc.SendCDPTimeout(ctx, method, params, 0)
}

// SendCDPTimeout is SendCDP with an explicit timeout override.
func (tc *Context) SendCDPTimeout(ctx context.Context, method string, params interface{}, timeout time.Duration) (cdpmsg.Result, error) {
	if tc.Session.PageTransport == nil {
		return cdpmsg.Result{}, gwerr.New(gwerr.KindDisconnected, "session has no page transport")
	}
	return tc.Session.PageTransport.Send(ctx, method, params, timeout)
}

// EvaluateJS wraps Runtime.evaluate with awaitPromise and returnByValue.
func (tc *Context) EvaluateJS(ctx context.Context, expression string) (cdpmsg.Result, error) {
	return tc.SendCDP(ctx, "Runtime.evaluate", map[string]interface{}{
		"expression":    expression,
		"awaitPromise":  true,
		"returnByValue": true,
	})
}

// evaluateJSValue evaluates expression and unmarshals result.result.value.
func (tc *Context) evaluateJSValue(ctx context.Context, expression string, out interface{}) error {
	res, err := tc.EvaluateJS(ctx, expression)
	if err != nil {
		return err
	}
	var body struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := res.Unmarshal(&body); err != nil {
		return err
	}
	if body.ExceptionDetails != nil {
		return gwerr.Newf(gwerr.KindCDP, "evaluate threw: %s", body.ExceptionDetails.Text)
	}
	if len(body.Result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(body.Result.Value, out)
}
