// Package discovery locates a CDP-capable browser binary for the Browser
// Supervisor: it scans platform install locations (including the
// WSL-mounted Windows drives when the gateway runs as a guest), then
// $PATH, and returns the best-ranked hit.
package discovery

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// candidate is one probed install location. Lower ranks win; Chrome
// outranks Chromium outranks the rest because its CDP surface is what the
// gateway is tested against.
type candidate struct {
	rank int
	path string
}

// pathNames are the $PATH spellings probed after the absolute locations.
var pathNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"brave-browser",
	"microsoft-edge",
}

func absoluteCandidates() []candidate {
	switch runtime.GOOS {
	case "darwin":
		return []candidate{
			{0, "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"},
			{1, "/Applications/Chromium.app/Contents/MacOS/Chromium"},
			{2, "/Applications/Brave Browser.app/Contents/MacOS/Brave Browser"},
			{3, "/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"},
		}
	case "windows":
		return []candidate{
			{0, `C:\Program Files\Google\Chrome\Application\chrome.exe`},
			{0, `C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`},
			{1, `C:\Program Files\Chromium\Application\chrome.exe`},
			{2, `C:\Program Files\BraveSoftware\Brave-Browser\Application\brave.exe`},
			{3, `C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`},
		}
	default:
		out := []candidate{
			{0, "/usr/bin/google-chrome"},
			{0, "/usr/bin/google-chrome-stable"},
			{0, "/opt/google/chrome/chrome"},
			{1, "/usr/bin/chromium"},
			{1, "/usr/bin/chromium-browser"},
			{1, "/snap/bin/chromium"},
			{2, "/usr/bin/brave-browser"},
			{3, "/usr/bin/microsoft-edge"},
		}
		// A WSL guest launches the Windows browser through the drive
		// mounts; probe every mounted drive rather than assuming C:.
		if entries, err := os.ReadDir("/mnt"); err == nil {
			for _, e := range entries {
				if !e.IsDir() || len(e.Name()) != 1 {
					continue
				}
				root := filepath.Join("/mnt", e.Name())
				out = append(out,
					candidate{0, filepath.Join(root, "Program Files/Google/Chrome/Application/chrome.exe")},
					candidate{0, filepath.Join(root, "Program Files (x86)/Google/Chrome/Application/chrome.exe")},
					candidate{3, filepath.Join(root, "Program Files (x86)/Microsoft/Edge/Application/msedge.exe")},
				)
			}
		}
		return out
	}
}

// FindBestBrowser returns the path of the best browser found, or "" when
// none is installed.
func FindBestBrowser() string {
	best := candidate{rank: 1 << 30}
	for _, c := range absoluteCandidates() {
		if c.rank < best.rank && isExecutable(c.path) {
			best = c
		}
	}
	if best.path != "" {
		return best.path
	}
	for _, name := range pathNames {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" || filepath.Ext(path) == ".exe" {
		return true
	}
	return info.Mode().Perm()&0111 != 0
}
