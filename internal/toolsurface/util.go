package toolsurface

import (
	"encoding/json"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
)

// unknownToolErr reports a Dispatch call naming a tool the registry doesn't
// have, distinct from an in-tool internal error.
func unknownToolErr(name string) error {
	return gwerr.Newf(gwerr.KindInternal, "unknown tool %q", name)
}

// jsStringLiteral renders s as a JSON string literal, safe to splice into
// a JS expression as a string argument.
func jsStringLiteral(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// toText renders an arbitrary evaluate() result value as display text:
// strings pass through, everything else is JSON-encoded.
func toText(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
