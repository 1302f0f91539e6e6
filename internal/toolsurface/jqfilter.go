package toolsurface

import (
	"encoding/json"

	"github.com/itchyny/gojq"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
)

// applyJQFilter runs a jq-style expression over an arbitrary JSON-shaped
// Go value, used by the log-reading tools' optional jq argument to let a
// caller narrow a console/network dump without a round trip. Results are
// rendered back to display text since tool results are text content.
func applyJQFilter(v interface{}, expr string) (string, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return "", gwerr.Wrapf(err, gwerr.KindInternal, "parsing jq filter %q", expr)
	}

	iter := query.Run(v)
	var lines []string
	for {
		result, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := result.(error); ok {
			return "", gwerr.Wrap(err, gwerr.KindInternal, "running jq filter")
		}
		b, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return "", gwerr.Wrap(err, gwerr.KindInternal, "marshaling jq result")
		}
		lines = append(lines, string(b))
	}
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out, nil
}

// toJSONValue round-trips v through JSON so gojq sees plain
// maps/slices/scalars rather than Go struct types.
func toJSONValue(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
