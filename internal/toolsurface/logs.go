package toolsurface

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/session"
)

func (r *Registry) registerLogTools() {
	r.register(&Tool{
		Name: "get_console", Category: "Logs", ReadOnly: true,
		Description: "List this session's buffered console messages, newest last",
		InputSchema: objSchema(map[string]interface{}{
			"type":   strSchema(),
			"limit":  numSchema(),
			"offset": numSchema(),
			"jq":     strSchema(),
		}, nil),
		Handler: handleGetConsole,
	})
	r.register(&Tool{
		Name: "get_console_message", Category: "Logs", ReadOnly: true,
		Description: "Return one console message by index",
		InputSchema: objSchema(map[string]interface{}{"index": numSchema()}, []string{"index"}),
		Handler:     handleGetConsoleMessage,
	})
	r.register(&Tool{
		Name: "get_network", Category: "Logs", ReadOnly: true,
		Description: "List this session's buffered network requests, insertion-ordered",
		InputSchema: objSchema(map[string]interface{}{
			"method": strSchema(),
			"limit":  numSchema(),
			"offset": numSchema(),
			"jq":     strSchema(),
		}, nil),
		Handler: handleGetNetwork,
	})
	r.register(&Tool{
		Name: "get_network_request", Category: "Logs", ReadOnly: true,
		Description: "Return one network request by request-id, fetching its response body on demand",
		InputSchema: objSchema(map[string]interface{}{
			"requestId":   strSchema(),
			"truncate":    numSchema(),
			"includeBody": boolSchema(),
		}, []string{"requestId"}),
		Handler: handleGetNetworkRequest,
	})
}

func handleGetConsole(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	typeFilter, _ := args["type"].(string)
	all := tc.Session.SnapshotConsole()

	if jq, ok := args["jq"].(string); ok && jq != "" {
		v, err := toJSONValue(all)
		if err != nil {
			return Result{}, err
		}
		out, err := applyJQFilter(v, jq)
		if err != nil {
			return Result{}, err
		}
		return textResult(out), nil
	}

	filtered := make([]string, 0, len(all))
	for i, m := range all {
		if typeFilter != "" && m.Type != typeFilter {
			continue
		}
		filtered = append(filtered, fmt.Sprintf("[%d] %s: %s", i, m.Type, m.Text))
	}
	filtered = paginate(filtered, args)
	return textResult(strings.Join(filtered, "\n")), nil
}

func handleGetConsoleMessage(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	idx, _ := args["index"].(float64)
	all := tc.Session.SnapshotConsole()
	i := int(idx)
	if i < 0 || i >= len(all) {
		return Result{}, gwerr.Newf(gwerr.KindInternal, "console index %d out of range (have %d)", i, len(all))
	}
	m := all[i]
	return textResult(fmt.Sprintf("%s: %s (%s)", m.Type, m.Text, m.Timestamp.Format("15:04:05.000"))), nil
}

func handleGetNetwork(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	methodFilter, _ := args["method"].(string)
	all := tc.Session.SnapshotNetwork()

	if jq, ok := args["jq"].(string); ok && jq != "" {
		v, err := toJSONValue(all)
		if err != nil {
			return Result{}, err
		}
		out, err := applyJQFilter(v, jq)
		if err != nil {
			return Result{}, err
		}
		return textResult(out), nil
	}

	filtered := make([]string, 0, len(all))
	for _, req := range all {
		if methodFilter != "" && !strings.EqualFold(req.Method, methodFilter) {
			continue
		}
		status := "pending"
		if req.Responded {
			status = fmt.Sprintf("%d %s", req.StatusCode, req.MimeType)
		}
		filtered = append(filtered, fmt.Sprintf("%s %s %s [%s]", req.RequestID, req.Method, req.URL, status))
	}
	filtered = paginate(filtered, args)
	return textResult(strings.Join(filtered, "\n")), nil
}

func handleGetNetworkRequest(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	requestID, _ := args["requestId"].(string)
	all := tc.Session.SnapshotNetwork()
	var found *session.NetworkRequest
	for _, req := range all {
		if req.RequestID == requestID {
			found = req
			break
		}
	}
	if found == nil {
		return Result{}, gwerr.Newf(gwerr.KindInternal, "unknown request id %q", requestID)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\nstatus: %d %s\n", found.Method, found.URL, found.StatusCode, found.MimeType)
	for k, v := range found.RequestHeaders {
		fmt.Fprintf(&sb, "request-header %s: %s\n", k, v)
	}
	for k, v := range found.ResponseHeaders {
		fmt.Fprintf(&sb, "response-header %s: %s\n", k, v)
	}
	if found.RequestBody != "" {
		fmt.Fprintf(&sb, "request-body: %s\n", truncateString(found.RequestBody, args))
	}

	includeBody, _ := args["includeBody"].(bool)
	if includeBody && found.Responded {
		res, err := tc.SendCDP(ctx, "Network.getResponseBody", map[string]interface{}{"requestId": requestID})
		if err != nil {
			return Result{}, err
		}
		var body struct {
			Body          string `json:"body"`
			Base64Encoded bool   `json:"base64Encoded"`
		}
		if err := res.Unmarshal(&body); err == nil && !body.Base64Encoded {
			fmt.Fprintf(&sb, "response-body: %s\n", truncateString(body.Body, args))
		}
	}
	return textResult(sb.String()), nil
}

func truncateString(s string, args map[string]interface{}) string {
	limit := 2000
	if t, ok := args["truncate"].(float64); ok && t > 0 {
		limit = int(t)
	}
	if len(s) > limit {
		return s[:limit] + "...(truncated)"
	}
	return s
}

func paginate(lines []string, args map[string]interface{}) []string {
	offset := 0
	if o, ok := args["offset"].(float64); ok && o > 0 {
		offset = int(o)
	}
	if offset > len(lines) {
		offset = len(lines)
	}
	lines = lines[offset:]
	if l, ok := args["limit"].(float64); ok && l > 0 && int(l) < len(lines) {
		lines = lines[:int(l)]
	}
	return lines
}
