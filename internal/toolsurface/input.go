package toolsurface

import (
	"context"
	"fmt"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/session"
)

func (r *Registry) registerInputTools() {
	uidArg := objSchema(map[string]interface{}{
		"uid":             strSchema(),
		"includeSnapshot": boolSchema(),
	}, []string{"uid"})

	r.register(&Tool{Name: "click", Category: "Input", Description: "Click the element identified by a snapshot UID", InputSchema: uidArg, Handler: handleClick})
	r.register(&Tool{Name: "hover", Category: "Input", Description: "Move the pointer over the element identified by a snapshot UID", InputSchema: uidArg, Handler: handleHover})
	r.register(&Tool{
		Name: "fill", Category: "Input",
		Description: "Set an input/textarea/select element's value",
		InputSchema: objSchema(map[string]interface{}{
			"uid":             strSchema(),
			"value":           strSchema(),
			"clear_first":     boolSchema(),
			"includeSnapshot": boolSchema(),
		}, []string{"uid", "value"}),
		Handler: handleFill,
	})
	r.register(&Tool{
		Name: "drag", Category: "Input",
		Description: "Drag from one element to another",
		InputSchema: objSchema(map[string]interface{}{
			"fromUid":         strSchema(),
			"toUid":           strSchema(),
			"includeSnapshot": boolSchema(),
		}, []string{"fromUid", "toUid"}),
		Handler: handleDrag,
	})
	r.register(&Tool{
		Name: "click_at", Category: "Input",
		Description: "Click at raw viewport coordinates, bypassing the UID resolver",
		InputSchema: objSchema(map[string]interface{}{
			"x": numSchema(), "y": numSchema(),
		}, []string{"x", "y"}),
		Handler: handleClickAt,
	})
	r.register(&Tool{
		Name: "press_key", Category: "Input",
		Description: "Dispatch a key combo (e.g. \"Enter\", \"Control+a\")",
		InputSchema: objSchema(map[string]interface{}{"combo": strSchema()}, []string{"combo"}),
		Handler:     handlePressKey,
	})
	r.register(&Tool{
		Name: "scroll", Category: "Input",
		Description: "Scroll the page or an element by a direction and amount",
		InputSchema: objSchema(map[string]interface{}{
			"direction": map[string]interface{}{"type": "string", "enum": []string{"up", "down", "left", "right"}},
			"amount":    numSchema(),
			"uid":       strSchema(),
		}, []string{"direction"}),
		Handler: handleScroll,
	})
	r.register(&Tool{
		Name: "upload_file", Category: "Input",
		Description: "Set the files on a file input identified by UID",
		InputSchema: objSchema(map[string]interface{}{
			"uid":      strSchema(),
			"filePath": strSchema(),
		}, []string{"uid", "filePath"}),
		Handler: handleUploadFile,
	})
	r.register(&Tool{
		Name: "fill_form", Category: "Input",
		Description: "Fill multiple elements in one batch call",
		InputSchema: objSchema(map[string]interface{}{
			"elements": map[string]interface{}{
				"type": "array",
				"items": objSchema(map[string]interface{}{
					"uid": strSchema(), "value": strSchema(),
				}, []string{"uid", "value"}),
			},
			"includeSnapshot": boolSchema(),
		}, []string{"elements"}),
		Handler: handleFillForm,
	})
}

// resolveBox looks up uid's backend node, scrolls it into view, and
// returns the center point of its content quad.
func resolveBox(ctx context.Context, tc *Context, uid string) (session.SnapshotEntry, float64, float64, error) {
	entry, err := tc.Session.ResolveUID(uid)
	if err != nil {
		return entry, 0, 0, err
	}
	if _, err := tc.SendCDP(ctx, "DOM.scrollIntoViewIfNeeded", map[string]interface{}{"backendNodeId": entry.BackendNodeID}); err != nil {
		return entry, 0, 0, err
	}
	res, err := tc.SendCDP(ctx, "DOM.getBoxModel", map[string]interface{}{"backendNodeId": entry.BackendNodeID})
	if err != nil {
		return entry, 0, 0, err
	}
	var body struct {
		Model struct {
			Content []float64 `json:"content"`
		} `json:"model"`
	}
	if err := res.Unmarshal(&body); err != nil {
		return entry, 0, 0, err
	}
	if len(body.Model.Content) < 8 {
		return entry, 0, 0, gwerr.Newf(gwerr.KindInternal, "box model for uid %q has no content quad", uid)
	}
	// content is 4 (x,y) pairs; center = average of opposing corners.
	q := body.Model.Content
	x := (q[0] + q[4]) / 2
	y := (q[1] + q[5]) / 2
	return entry, x, y, nil
}

func dispatchClick(ctx context.Context, tc *Context, x, y float64, clickCount int) error {
	base := map[string]interface{}{
		"x": x, "y": y, "button": "left", "clickCount": clickCount,
	}
	press := map[string]interface{}{"type": "mousePressed"}
	release := map[string]interface{}{"type": "mouseReleased"}
	for k, v := range base {
		press[k] = v
		release[k] = v
	}
	if _, err := tc.SendCDP(ctx, "Input.dispatchMouseEvent", press); err != nil {
		return err
	}
	_, err := tc.SendCDP(ctx, "Input.dispatchMouseEvent", release)
	return err
}

func handleClick(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	uid, _ := args["uid"].(string)
	_, x, y, err := resolveBox(ctx, tc, uid)
	if err != nil {
		return Result{}, err
	}
	if err := dispatchClick(ctx, tc, x, y, 1); err != nil {
		return Result{}, err
	}
	return maybeWithSnapshot(ctx, tc, args, textResult(fmt.Sprintf("clicked %s", uid)))
}

func handleHover(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	uid, _ := args["uid"].(string)
	_, x, y, err := resolveBox(ctx, tc, uid)
	if err != nil {
		return Result{}, err
	}
	if _, err := tc.SendCDP(ctx, "Input.dispatchMouseEvent", map[string]interface{}{
		"type": "mouseMoved", "x": x, "y": y,
	}); err != nil {
		return Result{}, err
	}
	return maybeWithSnapshot(ctx, tc, args, textResult(fmt.Sprintf("hovered %s", uid)))
}

// comboboxRoles lists the roles whose value must be set through the
// native prototype setter rather than a plain Input.insertText typing
// sequence.
var comboboxRoles = map[string]bool{
	"combobox": true, "listbox": true, "select": true,
}

func handleFill(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	uid, _ := args["uid"].(string)
	value, _ := args["value"].(string)
	clearFirst, _ := args["clear_first"].(bool)

	entry, err := tc.Session.ResolveUID(uid)
	if err != nil {
		return Result{}, err
	}

	if comboboxRoles[entry.Role] {
		if err := fillViaNativeSetter(ctx, tc, entry, value); err != nil {
			return Result{}, err
		}
	} else if err := fillViaInsertText(ctx, tc, entry, value, clearFirst); err != nil {
		return Result{}, err
	}

	return maybeWithSnapshot(ctx, tc, args, textResult(fmt.Sprintf("filled %s", uid)))
}

// fillViaInsertText focuses the node and types through Input.insertText,
// deliberately avoiding a resolved objectId that can go stale across a
// virtual-DOM re-render.
func fillViaInsertText(ctx context.Context, tc *Context, entry session.SnapshotEntry, value string, clearFirst bool) error {
	if _, err := tc.SendCDP(ctx, "DOM.focus", map[string]interface{}{"backendNodeId": entry.BackendNodeID}); err != nil {
		return err
	}
	if clearFirst {
		if err := selectAllAndDelete(ctx, tc); err != nil {
			return err
		}
	}
	_, err := tc.SendCDP(ctx, "Input.insertText", map[string]interface{}{"text": value})
	return err
}

func selectAllAndDelete(ctx context.Context, tc *Context) error {
	if _, err := tc.SendCDP(ctx, "Input.dispatchKeyEvent", map[string]interface{}{
		"type": "keyDown", "key": "a", "code": "KeyA", "modifiers": 2, "commands": []string{"selectAll"},
	}); err != nil {
		return err
	}
	_, err := tc.SendCDP(ctx, "Input.dispatchKeyEvent", map[string]interface{}{
		"type": "keyDown", "key": "Backspace", "code": "Backspace", "windowsVirtualKeyCode": 8,
	})
	return err
}

// fillViaNativeSetter calls the element's native value setter through
// Runtime.callFunctionOn on a resolved DOM node, then fires input/change
// so framework listeners observe the change.
func fillViaNativeSetter(ctx context.Context, tc *Context, entry session.SnapshotEntry, value string) error {
	res, err := tc.SendCDP(ctx, "DOM.resolveNode", map[string]interface{}{"backendNodeId": entry.BackendNodeID})
	if err != nil {
		return err
	}
	var body struct {
		Object struct {
			ObjectID string `json:"objectId"`
		} `json:"object"`
	}
	if err := res.Unmarshal(&body); err != nil {
		return err
	}

	const fn = `function(v) {
		const proto = Object.getPrototypeOf(this);
		const setter = Object.getOwnPropertyDescriptor(proto, 'value') &&
			Object.getOwnPropertyDescriptor(proto, 'value').set;
		if (setter) { setter.call(this, v); } else { this.value = v; }
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
	}`
	_, err = tc.SendCDP(ctx, "Runtime.callFunctionOn", map[string]interface{}{
		"functionDeclaration": fn,
		"objectId":            body.Object.ObjectID,
		"arguments":           []map[string]interface{}{{"value": value}},
	})
	return err
}

func handleDrag(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	fromUID, _ := args["fromUid"].(string)
	toUID, _ := args["toUid"].(string)

	_, fx, fy, err := resolveBox(ctx, tc, fromUID)
	if err != nil {
		return Result{}, err
	}
	_, tx, ty, err := resolveBox(ctx, tc, toUID)
	if err != nil {
		return Result{}, err
	}

	if _, err := tc.SendCDP(ctx, "Input.dispatchMouseEvent", map[string]interface{}{
		"type": "mousePressed", "x": fx, "y": fy, "button": "left", "clickCount": 1,
	}); err != nil {
		return Result{}, err
	}
	if _, err := tc.SendCDP(ctx, "Input.dispatchMouseEvent", map[string]interface{}{
		"type": "mouseMoved", "x": tx, "y": ty, "button": "left",
	}); err != nil {
		return Result{}, err
	}
	if _, err := tc.SendCDP(ctx, "Input.dispatchMouseEvent", map[string]interface{}{
		"type": "mouseReleased", "x": tx, "y": ty, "button": "left", "clickCount": 1,
	}); err != nil {
		return Result{}, err
	}
	return maybeWithSnapshot(ctx, tc, args, textResult(fmt.Sprintf("dragged %s to %s", fromUID, toUID)))
}

func handleClickAt(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	x, _ := args["x"].(float64)
	y, _ := args["y"].(float64)
	if err := dispatchClick(ctx, tc, x, y, 1); err != nil {
		return Result{}, err
	}
	return textResult(fmt.Sprintf("clicked (%.0f, %.0f)", x, y)), nil
}

func handlePressKey(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	combo, _ := args["combo"].(string)
	key, modifiers := parseKeyCombo(combo)
	if _, err := tc.SendCDP(ctx, "Input.dispatchKeyEvent", map[string]interface{}{
		"type": "keyDown", "key": key, "modifiers": modifiers,
	}); err != nil {
		return Result{}, err
	}
	if _, err := tc.SendCDP(ctx, "Input.dispatchKeyEvent", map[string]interface{}{
		"type": "keyUp", "key": key, "modifiers": modifiers,
	}); err != nil {
		return Result{}, err
	}
	return textResult("pressed " + combo), nil
}

// parseKeyCombo splits "Control+Shift+a"-style combos into the final key
// and CDP's bitmask modifiers (Alt=1, Ctrl=2, Meta=4, Shift=8).
func parseKeyCombo(combo string) (string, int) {
	parts := splitPlus(combo)
	if len(parts) == 0 {
		return combo, 0
	}
	key := parts[len(parts)-1]
	modifiers := 0
	for _, p := range parts[:len(parts)-1] {
		switch p {
		case "Alt":
			modifiers |= 1
		case "Control", "Ctrl":
			modifiers |= 2
		case "Meta", "Cmd":
			modifiers |= 4
		case "Shift":
			modifiers |= 8
		}
	}
	return key, modifiers
}

func splitPlus(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == '+' && cur != "" {
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func handleScroll(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	direction, _ := args["direction"].(string)
	amount, _ := args["amount"].(float64)
	if amount == 0 {
		amount = 300
	}
	dx, dy := 0.0, 0.0
	switch direction {
	case "up":
		dy = -amount
	case "down":
		dy = amount
	case "left":
		dx = -amount
	case "right":
		dx = amount
	}

	x, y := 100.0, 100.0
	if uid, ok := args["uid"].(string); ok && uid != "" {
		_, ex, ey, err := resolveBox(ctx, tc, uid)
		if err != nil {
			return Result{}, err
		}
		x, y = ex, ey
	}

	_, err := tc.SendCDP(ctx, "Input.dispatchMouseEvent", map[string]interface{}{
		"type": "mouseWheel", "x": x, "y": y, "deltaX": dx, "deltaY": dy,
	})
	if err != nil {
		return Result{}, err
	}
	return textResult(fmt.Sprintf("scrolled %s by %.0f", direction, amount)), nil
}

func handleUploadFile(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	uid, _ := args["uid"].(string)
	filePath, _ := args["filePath"].(string)
	entry, err := tc.Session.ResolveUID(uid)
	if err != nil {
		return Result{}, err
	}
	_, err = tc.SendCDP(ctx, "DOM.setFileInputFiles", map[string]interface{}{
		"files":         []string{filePath},
		"backendNodeId": entry.BackendNodeID,
	})
	if err != nil {
		return Result{}, err
	}
	return textResult("uploaded " + filePath + " to " + uid), nil
}

func handleFillForm(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	elements, _ := args["elements"].([]interface{})
	filled := 0
	for _, raw := range elements {
		el, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		uid, _ := el["uid"].(string)
		value, _ := el["value"].(string)
		if _, err := handleFill(ctx, tc, map[string]interface{}{"uid": uid, "value": value}); err != nil {
			return Result{}, gwerr.Wrapf(err, gwerr.KindInternal, "filling %s", uid)
		}
		filled++
	}
	return maybeWithSnapshot(ctx, tc, args, textResult(fmt.Sprintf("filled %d elements", filled)))
}
