// Package chromeprofiles copies a real Chrome user-data profile into a
// session's isolated user-data-dir so shared-profile-mode launches
// inherit the operator's cookies, bookmarks, and local
// storage instead of starting from an empty profile.
package chromeprofiles

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/tmc/misc/cdp-gateway/internal/secureio"
)

type profileManager struct {
	baseDir string
	workDir string
	verbose bool
	log     *zap.Logger
}

// NewProfileManager creates a new profile manager with the given options
func NewProfileManager(opts ...Option) (*profileManager, error) {
	baseDir, err := getChromeProfileDir()
	if err != nil {
		return nil, err
	}
	pm := &profileManager{
		baseDir: baseDir,
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm, nil
}

func (pm *profileManager) logf(format string, args ...interface{}) {
	if pm.verbose && pm.log != nil {
		pm.log.Sugar().Debugf(format, args...)
	}
}

func (pm *profileManager) SetupWorkdir() error {
	dir, err := secureio.CreateSecureTempDir("cdp-gateway-sharedprofile-")
	if err != nil {
		return errors.Wrap(err, "creating temp directory")
	}
	pm.workDir = dir
	pm.logf("Created temporary working directory: %s", dir)
	return nil
}

func (pm *profileManager) Cleanup() error {
	if pm.workDir != "" {
		pm.logf("Cleaning up working directory: %s", pm.workDir)
		return secureio.SecureRemoveAll(pm.workDir)
	}
	return nil
}

// WorkDir returns the current working directory
func (pm *profileManager) WorkDir() string {
	return pm.workDir
}

func (pm *profileManager) ListProfiles() ([]string, error) {
	entries, err := os.ReadDir(pm.baseDir)
	if err != nil {
		return nil, errors.Wrap(err, "reading profile directory")
	}

	var profiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			profilePath := filepath.Join(pm.baseDir, entry.Name())
			if isValidProfile(profilePath) {
				profiles = append(profiles, entry.Name())
				pm.logf("Found valid profile: %s", entry.Name())
			}
		}
	}
	return profiles, nil
}

func (pm *profileManager) CopyProfile(name string, cookieDomains []string) error {
	if pm.workDir == "" {
		return fmt.Errorf("working directory not set up")
	}

	srcDir := filepath.Join(pm.baseDir, name)
	if !isValidProfile(srcDir) {
		return fmt.Errorf("invalid profile: %s", name)
	}

	dstDir := filepath.Join(pm.workDir, "Default")
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return errors.Wrap(err, "creating profile directory")
	}

	pm.logf("Copying profile from %s to %s", srcDir, dstDir)

	// Handle cookies with domain filtering
	if len(cookieDomains) > 0 {
		pm.logf("Filtering cookies for domains: %v", cookieDomains)
		if err := pm.CopyCookiesWithDomains(srcDir, dstDir, cookieDomains); err != nil {
			return errors.Wrap(err, "copying cookies")
		}
	} else {
		if err := secureio.SecureCopyFile(filepath.Join(srcDir, "Cookies"), filepath.Join(dstDir, "Cookies"), 0); err != nil {
			if !stderrors.Is(err, os.ErrNotExist) {
				return errors.Wrap(err, "copying cookies")
			}
		}
	}

	// Essential profile components
	essentials := map[string]bool{
		"Login Data":               false,
		"Web Data":                 false,
		"Preferences":              false,
		"Bookmarks":                false,
		"History":                  false,
		"Favicons":                 false,
		"Network Action Predictor": false,
		"Network Persistent State": false,
		"Extension Cookies":        false,
		"Local Storage":            true,
		"IndexedDB":                true,
		"Session Storage":          true,
	}

	for name, isDir := range essentials {
		src := filepath.Join(srcDir, name)
		dst := filepath.Join(dstDir, name)

		if isDir {
			if err := secureio.SecureCopyDir(src, dst, 0); err != nil {
				if !stderrors.Is(err, os.ErrNotExist) {
					pm.logf("Warning: error copying directory %s: %v", name, err)
				}
			} else {
				pm.logf("Copied directory: %s", name)
			}
		} else {
			if err := secureio.SecureCopyFile(src, dst, 0); err != nil {
				if !stderrors.Is(err, os.ErrNotExist) {
					pm.logf("Warning: error copying file %s: %v", name, err)
				}
			} else {
				pm.logf("Copied file: %s", name)
			}
		}
	}

	// Create minimal Local State file
	localState := `{"os_crypt":{"encrypted_key":""}}`
	if err := os.WriteFile(filepath.Join(pm.workDir, "Local State"), []byte(localState), 0644); err != nil {
		return errors.Wrap(err, "writing local state")
	}
	pm.logf("Created Local State file")

	return nil
}

// CopyCookiesWithDomains copies the source cookie database and deletes every
// row whose host_key doesn't match one of domains, keeping the filter query
// parameterized (secureio.BuildDomainFilterQuery) instead of interpolating
// domain strings into SQL.
func (pm *profileManager) CopyCookiesWithDomains(srcDir, dstDir string, domains []string) error {
	srcDB := filepath.Join(srcDir, "Cookies")
	dstDB := filepath.Join(dstDir, "Cookies")

	// sql.Open is lazy and does not touch the file; a missing source
	// database surfaces as an error from the copy below.
	src, err := sql.Open("sqlite", srcDB+"?mode=ro")
	if err != nil {
		return errors.Wrap(err, "opening source cookies database")
	}
	defer src.Close()

	if err := secureio.SecureCopyFile(srcDB, dstDB, 0); err != nil {
		return errors.Wrap(err, "creating initial cookies database")
	}

	dst, err := sql.Open("sqlite", dstDB)
	if err != nil {
		return errors.Wrap(err, "opening destination cookies database")
	}
	defer dst.Close()

	query, args := secureio.BuildDomainFilterQuery(domains)
	if query == "" {
		return nil
	}
	if _, err := secureio.SecureSQLExec(dst, query, args...); err != nil {
		return errors.Wrap(err, "filtering cookies")
	}

	pm.logf("Copied and filtered cookies for domains: %v", domains)
	return nil
}

func getChromeProfileDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "Google", "Chrome", "User Data"), nil
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "Google", "Chrome"), nil
	case "linux":
		native := filepath.Join(os.Getenv("HOME"), ".config", "google-chrome")
		if _, err := os.Stat(native); err == nil {
			return native, nil
		}
		// A WSL guest drives the Windows-side Chrome: its profiles live
		// under the mounted Windows user directory, not under $HOME.
		if dir := windowsProfileDirFromWSL(); dir != "" {
			return dir, nil
		}
		return native, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// windowsProfileDirFromWSL scans the mounted Windows drives for a Chrome
// user-data directory, returning "" when none is found.
func windowsProfileDirFromWSL() string {
	drives, err := os.ReadDir("/mnt")
	if err != nil {
		return ""
	}
	for _, d := range drives {
		if !d.IsDir() || len(d.Name()) != 1 {
			continue
		}
		usersDir := filepath.Join("/mnt", d.Name(), "Users")
		users, err := os.ReadDir(usersDir)
		if err != nil {
			continue
		}
		for _, u := range users {
			if !u.IsDir() {
				continue
			}
			candidate := filepath.Join(usersDir, u.Name(), "AppData", "Local", "Google", "Chrome", "User Data")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

func isValidProfile(dir string) bool {
	indicators := []string{"Preferences", "History", "Cookies"}
	for _, indicator := range indicators {
		if _, err := os.Stat(filepath.Join(dir, indicator)); err == nil {
			return true
		}
	}
	return false
}

