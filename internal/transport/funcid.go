package transport

import "reflect"

// sameFunc compares two EventHandler values by underlying code pointer.
// Go func values aren't otherwise comparable; this mirrors the pattern
// net/http's multiplexers use internally for handler dedup and is the only
// reliable way to support Off(event, handler) symmetric with On.
func sameFunc(a, b EventHandler) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
