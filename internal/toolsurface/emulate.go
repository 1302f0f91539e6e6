package toolsurface

import (
	"context"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/session"
	"github.com/tmc/misc/cdp-gateway/internal/validation"
)

func unknownProfileErr(profile string) error {
	return gwerr.Newf(gwerr.KindInternal, "unknown network profile %q", profile)
}

// networkProfiles is the fixed table of named network conditions,
// mirroring Chrome DevTools' own presets.
var networkProfiles = map[string]struct {
	Offline   bool
	Latency   float64 // ms
	Download  float64 // bytes/s
	Upload    float64 // bytes/s
}{
	"Slow 3G":  {Latency: 400, Download: 50 * 1024 / 8, Upload: 50 * 1024 / 8},
	"Fast 3G":  {Latency: 150, Download: 1.6 * 1024 * 1024 / 8, Upload: 750 * 1024 / 8},
	"Slow 4G":  {Latency: 80, Download: 4 * 1024 * 1024 / 8, Upload: 3 * 1024 * 1024 / 8},
	"Fast 4G":  {Latency: 20, Download: 10 * 1024 * 1024 / 8, Upload: 5 * 1024 * 1024 / 8},
	"Offline":  {Offline: true},
}

const noEmulation = "No emulation"

func (r *Registry) registerEmulationTools() {
	r.register(&Tool{
		Name: "emulate", Category: "Emulation",
		Description: "Apply device/network/locale emulation overrides",
		InputSchema: objSchema(map[string]interface{}{
			"networkConditions":  strSchema(),
			"cpuThrottlingRate":  numSchema(),
			"geolocation":        objSchema(map[string]interface{}{"latitude": numSchema(), "longitude": numSchema()}, nil),
			"userAgent":          strSchema(),
			"colorScheme":        map[string]interface{}{"type": "string", "enum": []string{"light", "dark", "auto"}},
			"viewport":           objSchema(map[string]interface{}{"width": numSchema(), "height": numSchema(), "mobile": boolSchema()}, nil),
		}, nil),
		Handler: handleEmulate,
	})
}

func handleEmulate(ctx context.Context, tc *Context, args map[string]interface{}) (Result, error) {
	applied := []string{}

	if profile, ok := args["networkConditions"].(string); ok && profile != "" {
		if err := applyNetworkProfile(ctx, tc, profile); err != nil {
			return Result{}, err
		}
		tc.Session.Emulation.NetworkProfile = profile
		applied = append(applied, "network:"+profile)
	}

	if rate, ok := args["cpuThrottlingRate"].(float64); ok {
		if _, err := tc.SendCDP(ctx, "Emulation.setCPUThrottlingRate", map[string]interface{}{"rate": rate}); err != nil {
			return Result{}, err
		}
		applied = append(applied, "cpu")
	}

	if geo, ok := args["geolocation"].(map[string]interface{}); ok {
		if _, err := tc.SendCDP(ctx, "Emulation.setGeolocationOverride", map[string]interface{}{
			"latitude": geo["latitude"], "longitude": geo["longitude"], "accuracy": 1,
		}); err != nil {
			return Result{}, err
		}
		applied = append(applied, "geolocation")
	}

	if ua, ok := args["userAgent"].(string); ok && ua != "" {
		if err := validation.ValidateUserAgent(ua); err != nil {
			return Result{}, gwerr.Wrap(err, gwerr.KindInternal, "invalid userAgent")
		}
		if _, err := tc.SendCDP(ctx, "Network.setUserAgentOverride", map[string]interface{}{"userAgent": ua}); err != nil {
			return Result{}, err
		}
		tc.Session.Emulation.UserAgent = ua
		applied = append(applied, "userAgent")
	}

	if scheme, ok := args["colorScheme"].(string); ok && scheme != "" {
		if err := applyColorScheme(ctx, tc, scheme); err != nil {
			return Result{}, err
		}
		applied = append(applied, "colorScheme:"+scheme)
	}

	if vp, ok := args["viewport"].(map[string]interface{}); ok {
		width, _ := vp["width"].(float64)
		height, _ := vp["height"].(float64)
		mobile, _ := vp["mobile"].(bool)
		if _, err := tc.SendCDP(ctx, "Emulation.setDeviceMetricsOverride", map[string]interface{}{
			"width": int(width), "height": int(height), "mobile": mobile, "deviceScaleFactor": 1,
		}); err != nil {
			return Result{}, err
		}
		tc.Session.Emulation.Viewport = &session.ViewportSize{Width: int(width), Height: int(height), Mobile: mobile}
		applied = append(applied, "viewport")
	}

	return textResult("applied: " + joinStrings(applied)), nil
}

// applyNetworkProfile maps a named profile to Network.emulateNetworkConditions,
// restoring defaults for the "No emulation" sentinel.
func applyNetworkProfile(ctx context.Context, tc *Context, profile string) error {
	if profile == noEmulation {
		_, err := tc.SendCDP(ctx, "Network.emulateNetworkConditions", map[string]interface{}{
			"offline": false, "latency": 0, "downloadThroughput": -1, "uploadThroughput": -1,
		})
		return err
	}
	p, ok := networkProfiles[profile]
	if !ok {
		return unknownProfileErr(profile)
	}
	_, err := tc.SendCDP(ctx, "Network.emulateNetworkConditions", map[string]interface{}{
		"offline": p.Offline, "latency": p.Latency,
		"downloadThroughput": p.Download, "uploadThroughput": p.Upload,
	})
	return err
}

// applyColorScheme maps "auto" to clearing the override (restoring the
// pre-emulation media-query value).
func applyColorScheme(ctx context.Context, tc *Context, scheme string) error {
	if scheme == "auto" {
		_, err := tc.SendCDP(ctx, "Emulation.setEmulatedMedia", map[string]interface{}{"features": []interface{}{}})
		return err
	}
	_, err := tc.SendCDP(ctx, "Emulation.setEmulatedMedia", map[string]interface{}{
		"features": []map[string]string{{"name": "prefers-color-scheme", "value": scheme}},
	})
	return err
}

func joinStrings(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
