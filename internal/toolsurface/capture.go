package toolsurface

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/validation"
)

// sanitizedOutputPath validates path against traversal/null-byte attacks
// and rewrites its base name through SanitizeFilename, so a caller-supplied
// filePath for a screenshot or PDF can never escape its directory or write
// to a dot-file/reserved name.
func sanitizedOutputPath(path string) (string, error) {
	if err := validation.ValidatePath(path, nil); err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	name := validation.SanitizeFilename(filepath.Base(path))
	return filepath.Join(dir, name), nil
}

func (r *Registry) registerCaptureTools() {
	r.register(&Tool{
		Name: "take_screenshot", Category: "Capture", ReadOnly: true,
		Description: "Capture a screenshot of the page, an element, or the full scrollable page",
		InputSchema: objSchema(map[string]interface{}{
			"fullPage": boolSchema(),
			"format":   map[string]interface{}{"type": "string", "enum": []string{"png", "jpeg", "webp"}},
			"quality":  numSchema(),
			"uid":      strSchema(),
			"filePath": strSchema(),
		}, nil),
		Handler: handleTakeScreenshot,
	})
	r.register(&Tool{
		Name: "generate_pdf", Category: "Capture", ReadOnly: true,
		Description: "Print the current page to PDF",
		InputSchema: objSchema(map[string]interface{}{
			"landscape":      boolSchema(),
			"printBackground": boolSchema(),
			"filePath":       strSchema(),
		}, nil),
		Handler: handleGeneratePDF,
	})
	r.register(&Tool{
		Name: "get_html", Category: "Capture", ReadOnly: true,
		Description: "Return the page's (or an element's) outerHTML",
		InputSchema: objSchema(map[string]interface{}{"selector": strSchema()}, nil),
		Handler:     handleGetHTML,
	})
	r.register(&Tool{
		Name: "evaluate", Category: "Capture",
		Description: "Evaluate a JavaScript expression in the page and return its value",
		InputSchema: objSchema(map[string]interface{}{"expression": strSchema()}, []string{"expression"}),
		Handler:     handleEvaluate,
	})
}

func handleTakeScreenshot(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	format, _ := args["format"].(string)
	if format == "" {
		format = "png"
	}
	params := map[string]interface{}{"format": format}
	if q, ok := args["quality"].(float64); ok && format != "png" {
		params["quality"] = int(q)
	}

	if uid, ok := args["uid"].(string); ok && uid != "" {
		entry, err := tc.Session.ResolveUID(uid)
		if err != nil {
			return Result{}, err
		}
		res, err := tc.SendCDP(ctx, "DOM.getBoxModel", map[string]interface{}{"backendNodeId": entry.BackendNodeID})
		if err != nil {
			return Result{}, err
		}
		var body struct {
			Model struct {
				Content []float64 `json:"content"`
				Width   float64   `json:"width"`
				Height  float64   `json:"height"`
			} `json:"model"`
		}
		if err := res.Unmarshal(&body); err != nil {
			return Result{}, err
		}
		if len(body.Model.Content) >= 2 {
			params["clip"] = map[string]interface{}{
				"x": body.Model.Content[0], "y": body.Model.Content[1],
				"width": body.Model.Width, "height": body.Model.Height, "scale": 1,
			}
		}
	} else if fullPage, _ := args["fullPage"].(bool); fullPage {
		res, err := tc.SendCDP(ctx, "Page.getLayoutMetrics", nil)
		if err != nil {
			return Result{}, err
		}
		var body struct {
			ContentSize struct {
				Width, Height float64
			} `json:"contentSize"`
		}
		if err := res.Unmarshal(&body); err != nil {
			return Result{}, err
		}
		params["clip"] = map[string]interface{}{
			"x": 0, "y": 0, "width": body.ContentSize.Width, "height": body.ContentSize.Height, "scale": 1,
		}
		params["captureBeyondViewport"] = true
	}

	res, err := tc.SendCDPTimeout(ctx, "Page.captureScreenshot", params, 0)
	if err != nil {
		return Result{}, err
	}
	var body struct {
		Data string `json:"data"`
	}
	if err := res.Unmarshal(&body); err != nil {
		return Result{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(body.Data)
	if err != nil {
		return Result{}, gwerr.Wrap(err, gwerr.KindInternal, "decoding screenshot")
	}

	mime := "image/" + format
	if path, ok := args["filePath"].(string); ok && path != "" {
		path, err := sanitizedOutputPath(path)
		if err != nil {
			return Result{}, gwerr.Wrap(err, gwerr.KindInternal, "invalid screenshot filePath")
		}
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return Result{}, gwerr.Wrap(err, gwerr.KindInternal, "writing screenshot file")
		}
		return textResult("wrote screenshot to " + path), nil
	}
	return Result{Content: []Content{{Type: "image", Bytes: raw, MimeType: mime}}}, nil
}

func handleGeneratePDF(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	landscape, _ := args["landscape"].(bool)
	printBackground, _ := args["printBackground"].(bool)
	res, err := tc.SendCDPTimeout(ctx, "Page.printToPDF", map[string]interface{}{
		"landscape":        landscape,
		"printBackground":  printBackground,
		"preferCSSPageSize": true,
	}, 0)
	if err != nil {
		return Result{}, err
	}
	var body struct {
		Data string `json:"data"`
	}
	if err := res.Unmarshal(&body); err != nil {
		return Result{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(body.Data)
	if err != nil {
		return Result{}, gwerr.Wrap(err, gwerr.KindInternal, "decoding pdf")
	}
	if path, ok := args["filePath"].(string); ok && path != "" {
		path, err := sanitizedOutputPath(path)
		if err != nil {
			return Result{}, gwerr.Wrap(err, gwerr.KindInternal, "invalid pdf filePath")
		}
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return Result{}, gwerr.Wrap(err, gwerr.KindInternal, "writing pdf file")
		}
		return textResult("wrote pdf to " + path), nil
	}
	return Result{Content: []Content{{Type: "resource", Bytes: raw, MimeType: "application/pdf"}}}, nil
}

func handleGetHTML(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	selector, _ := args["selector"].(string)
	expr := "document.documentElement.outerHTML"
	if selector != "" {
		expr = "(function(sel){var e=document.querySelector(sel); return e ? e.outerHTML : null;})(" + jsStringLiteral(selector) + ")"
	}
	var html string
	if err := tc.evaluateJSValue(ctx, expr, &html); err != nil {
		return Result{}, err
	}
	return textResult(html), nil
}

func handleEvaluate(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	expr, _ := args["expression"].(string)
	if err := validation.ValidateJavaScript(expr, true); err != nil {
		return Result{}, gwerr.Wrap(err, gwerr.KindInternal, "invalid expression")
	}
	res, err := tc.EvaluateJS(ctx, expr)
	if err != nil {
		return Result{}, err
	}
	var body struct {
		Result struct {
			Type        string `json:"type"`
			Description string `json:"description"`
			Value       interface{} `json:"value"`
		} `json:"result"`
	}
	if err := res.Unmarshal(&body); err != nil {
		return Result{}, err
	}
	if body.Result.Value != nil {
		return textResult(toText(body.Result.Value)), nil
	}
	return textResult(body.Result.Description), nil
}
