// Package validation guards every path, URL, and expression the Tool
// Surface accepts from a tool-call consumer before it reaches the browser
// or the filesystem: navigate_page's url, take_snapshot/take_screenshot/
// generate_pdf's filePath, evaluate's expression, emulate's userAgent, and
// the Browser Supervisor's profile name and port range.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// profileNamePattern admits the names Chrome itself generates ("Default",
// "Profile 1") plus conservative operator-chosen ones.
var profileNamePattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

// windowsReservedNames can't be used as file or directory names on the
// host that owns the profile directory.
var windowsReservedNames = map[string]bool{
	".": true, "..": true, "CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// dangerousJSPatterns flags expressions that reach outside the page's own
// evaluation context (storage, workers, network, permissions) when
// evaluate is called without an explicit allowDangerous opt-in.
var dangerousJSPatterns = []string{
	"eval(", "Function(", "setTimeout(", "setInterval(",
	".innerHTML", "document.write", "window.location", "document.cookie",
	"localStorage", "sessionStorage", "XMLHttpRequest", "fetch(", "import(",
	"new Worker(", "postMessage(", "WebSocket", "EventSource", "SharedWorker",
	"ServiceWorker", "navigator.geolocation", "navigator.mediaDevices",
	"navigator.permissions", "Notification", "indexedDB", "crypto.subtle",
	"crypto.getRandomValues", "atob(", "btoa(", "unescape(", "decodeURI(",
	"decodeURIComponent(",
}

func hasControlChars(s string, allowed ...rune) bool {
	permit := make(map[rune]bool, len(allowed))
	for _, r := range allowed {
		permit[r] = true
	}
	for _, r := range s {
		if unicode.IsControl(r) && !permit[r] {
			return true
		}
	}
	return false
}

// ValidateProfileName ensures a shared-profile mode --profile-directory
// value is safe to hand to the filesystem and the browser CLI.
func ValidateProfileName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("profile name is empty")
	case len(name) > 255:
		return fmt.Errorf("profile name exceeds 255 characters")
	case strings.ContainsAny(name, `/\`) || strings.Contains(name, ".."):
		return fmt.Errorf("profile name contains path separators")
	case windowsReservedNames[strings.ToUpper(name)]:
		return fmt.Errorf("profile name %q is reserved on the host", name)
	case hasControlChars(name):
		return fmt.Errorf("profile name contains control characters")
	case !profileNamePattern.MatchString(name):
		return fmt.Errorf("profile name may only contain letters, digits, spaces, underscores, and hyphens")
	}
	return nil
}

// ValidatePath ensures a filePath argument (screenshot/PDF/snapshot
// output) is a well-formed, traversal-free path, optionally confined to
// allowedDirs.
func ValidatePath(path string, allowedDirs []string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("path contains a null byte")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal")
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if filepath.Clean(abs) != abs {
		return fmt.Errorf("path contains directory traversal")
	}
	if len(allowedDirs) == 0 {
		return nil
	}
	for _, dir := range allowedDirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if strings.HasPrefix(abs, filepath.Clean(absDir)) {
			return nil
		}
	}
	return fmt.Errorf("path is outside the allowed directories")
}

// ValidateURL ensures navigate_page's url argument is well-formed and
// restricted to allowedProtocols.
func ValidateURL(rawURL string, allowedProtocols []string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is empty")
	}
	if hasControlChars(rawURL) {
		return fmt.Errorf("URL contains control characters")
	}
	lower := strings.ToLower(rawURL)
	if strings.Contains(lower, "javascript:") || strings.Contains(lower, "vbscript:") {
		return fmt.Errorf("script-scheme URLs are not navigable")
	}
	if strings.Contains(lower, "file:") && !strings.HasPrefix(lower, "file://") {
		return fmt.Errorf("malformed file URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing URL: %w", err)
	}
	if len(allowedProtocols) > 0 {
		ok := false
		for _, proto := range allowedProtocols {
			if u.Scheme == proto {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("protocol %q is not allowed", u.Scheme)
		}
	}
	if u.Scheme == "file" {
		if u.Path == "" {
			return fmt.Errorf("file URL has no path")
		}
		if err := ValidatePath(u.Path, nil); err != nil {
			return fmt.Errorf("file URL path: %w", err)
		}
	}
	return nil
}

// ValidatePort ensures a debug port is in the usable range and not a
// privileged port this process would need elevation to bind.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d is outside 1-65535", port)
	}
	if port < 1024 {
		return fmt.Errorf("port %d is privileged", port)
	}
	return nil
}

// ValidateJavaScript validates an evaluate/initScript expression: size,
// control characters, balanced delimiters, and (unless allowDangerous) a
// denylist of APIs that reach outside the page's own evaluation context.
func ValidateJavaScript(script string, allowDangerous bool) error {
	if script == "" {
		return fmt.Errorf("script is empty")
	}
	if len(script) > 1<<20 {
		return fmt.Errorf("script exceeds 1MB")
	}
	if hasControlChars(script, '\n', '\t', '\r') {
		return fmt.Errorf("script contains control characters")
	}
	if !allowDangerous {
		lower := strings.ToLower(script)
		for _, pattern := range dangerousJSPatterns {
			if strings.Contains(lower, strings.ToLower(pattern)) {
				return fmt.Errorf("expression uses restricted API %q", pattern)
			}
		}
	}
	for _, pair := range [][2]string{{"{", "}"}, {"(", ")"}, {"[", "]"}} {
		if strings.Count(script, pair[0]) != strings.Count(script, pair[1]) {
			return fmt.Errorf("unbalanced %s%s in script", pair[0], pair[1])
		}
	}
	return nil
}

// ValidateTimeoutMillis ensures a tool argument's timeout, expressed in
// milliseconds the way navigate_page/wait_for declare it, is positive and
// under one hour.
func ValidateTimeoutMillis(timeoutMs int64) error {
	if timeoutMs <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if timeoutMs > 3600*1000 {
		return fmt.Errorf("timeout exceeds one hour")
	}
	return nil
}

// ValidateUserAgent ensures emulate's userAgent override is a reasonable
// string before it reaches Network.setUserAgentOverride.
func ValidateUserAgent(userAgent string) error {
	if userAgent == "" {
		return fmt.Errorf("user agent is empty")
	}
	if len(userAgent) > 1024 {
		return fmt.Errorf("user agent exceeds 1024 characters")
	}
	if hasControlChars(userAgent, '\t') {
		return fmt.Errorf("user agent contains control characters")
	}
	return nil
}

// SanitizeFilename rewrites a caller-supplied filePath's base name to a
// safe filesystem name: ASCII letters/digits/dot/underscore/hyphen only,
// no leading dot, bounded length. Used alongside ValidatePath so a
// screenshot/PDF/snapshot filePath can neither traverse directories nor
// land on a hidden or reserved name.
func SanitizeFilename(filename string) string {
	base := filepath.Base(filename)

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "output"
	}
	if out[0] == '.' {
		out = "file_" + out
	}
	if len(out) > 255 {
		out = out[:255]
	}
	return out
}
