// Package supervisor finds, adopts, launches, and kills browser
// processes, allocates user-data-dirs and debug ports, and detects
// liveness. Adoption is always tried first: if a browser already answers
// /json/version on the requested port we attach to it and never touch
// its process or profile directory on teardown.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/chromeprofiles"
	"github.com/tmc/misc/cdp-gateway/internal/discovery"
	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/hostbridge"
	"github.com/tmc/misc/cdp-gateway/internal/limits"
	"github.com/tmc/misc/cdp-gateway/internal/portforward"
	"github.com/tmc/misc/cdp-gateway/internal/secureio"
	"github.com/tmc/misc/cdp-gateway/internal/targetdirectory"
	"github.com/tmc/misc/cdp-gateway/internal/validation"
	"go.uber.org/zap"
)

// DefaultMaxConcurrentLaunches bounds how many AdoptOrLaunch calls may be
// spawning a Chrome process at once, absorbing a burst of brand-new
// sessions without forking them all simultaneously.
const DefaultMaxConcurrentLaunches = 4

// DefaultLaunchMemoryCeilingMB is the gateway process's own heap ceiling
// checked before each launch; it bounds the broker, not Chrome itself.
const DefaultLaunchMemoryCeilingMB = 512

// Mode selects isolated vs shared-profile operation, mirroring the
// Session Pool's two operating modes.
type Mode int

const (
	Isolated Mode = iota
	SharedProfile
)

// Handle is a live browser process or adopted connection, identified by
// its debugger host+port pair.
type Handle struct {
	Port        int
	Host        string
	PID         int
	UserDataDir string
	Owned       bool // true if this process launched it and owns teardown
	Mode        Mode

	// ForwardedPort is non-zero when the Port Forwarder is
	// relaying this handle's debugger port onto all interfaces, for a
	// caller that cannot reach Port directly.
	ForwardedPort int

	cmd *exec.Cmd
}

// DebuggerURL is the HTTP base URL for this handle's debugger endpoints.
func (h *Handle) DebuggerURL() string {
	return fmt.Sprintf("http://%s:%d", h.Host, h.Port)
}

// PollInterval and StartupDeadline bound the post-launch wait for the
// debugger endpoint to come up.
const (
	PollInterval    = time.Second
	StartupDeadline = 30 * time.Second
)

// Supervisor finds, adopts, launches, and kills browser processes.
type Supervisor struct {
	log            *zap.Logger
	profiles       chromeprofiles.ProfileManager
	executablePath string
	httpClient     *http.Client
	forwarders     *portforward.Manager
	forwardEnabled bool
	cookieDomains  []string
	launches       *limits.LaunchLimiter

	mu        sync.Mutex
	portMin   int
	portMax   int
	allocated map[int]bool

	orphanMu sync.Mutex
}

// Option configures optional Supervisor behavior.
type Option func(*Supervisor)

// WithForwarding makes every launched or adopted handle also get a Port
// Forwarder relay, for browsers that bind debugger ports to
// loopback regardless of --remote-debugging-address.
func WithForwarding() Option {
	return func(s *Supervisor) { s.forwardEnabled = true }
}

// WithExecutablePath pins the browser binary instead of probing install
// locations, for operators running a nonstandard build.
func WithExecutablePath(path string) Option {
	return func(s *Supervisor) { s.executablePath = path }
}

// WithCookieDomains restricts the cookies copied into a shared-profile
// launch dir to hosts matching one of domains; empty copies everything.
func WithCookieDomains(domains []string) Option {
	return func(s *Supervisor) { s.cookieDomains = domains }
}

// New returns a Supervisor that allocates ports in [portMin, portMax).
// When bridge is non-nil and reports InGuest, every debugger HTTP call this
// Supervisor issues (and every Directory it hands out) is relayed through
// the Host Bridge instead of dialing loopback directly.
func New(log *zap.Logger, profiles chromeprofiles.ProfileManager, portMin, portMax int, bridge hostbridge.Bridge, opts ...Option) *Supervisor {
	s := &Supervisor{
		log:        log,
		profiles:   profiles,
		portMin:    portMin,
		portMax:    portMax,
		allocated:  make(map[int]bool),
		forwarders: portforward.NewManager(log),
		launches:   limits.NewLaunchLimiter(DefaultMaxConcurrentLaunches, false),
	}
	if bridge != nil && bridge.InGuest() {
		s.httpClient = &http.Client{Transport: hostbridge.RoundTripper(bridge)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) maxLaunchMemoryMB() uint64 {
	return DefaultLaunchMemoryCeilingMB
}

// Directory returns a Target Directory client for the given debugger base
// URL, routed through the guest-aware HTTP client configured in New.
func (s *Supervisor) Directory(debuggerURL string) *targetdirectory.Directory {
	return targetdirectory.New(debuggerURL, s.httpClient)
}

// FindExecutable probes standard install locations and caches the first
// match for the lifetime of the Supervisor.
func (s *Supervisor) FindExecutable() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.executablePath != "" {
		return s.executablePath, nil
	}
	path := discovery.FindBestBrowser()
	if path == "" {
		return "", gwerr.New(gwerr.KindBrowserNotFound, "no Chrome-family browser found on this host")
	}
	s.executablePath = path
	return path, nil
}

// AllocatePort reserves an unused port in [portMin, portMax) by binding
// and immediately releasing a listener; isolated mode takes one per
// session's browser process, shared mode one for the single shared browser.
func (s *Supervisor) AllocatePort() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := s.portMin; p < s.portMax; p++ {
		if s.allocated[p] {
			continue
		}
		if err := validation.ValidatePort(p); err != nil {
			continue
		}
		if !portFree(p) {
			continue
		}
		s.allocated[p] = true
		return p, nil
	}
	return 0, gwerr.New(gwerr.KindInternal, "no free port in configured range")
}

// ReleasePort returns a previously allocated port to the pool.
func (s *Supervisor) ReleasePort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allocated, port)
}

func portFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// AdoptOrLaunch probes /json/version on port first; if the browser answers,
// the handle is marked adopted (we do not own the process or its
// user-data-dir). Otherwise it launches a new browser with the canonical
// flag set and polls until it answers or the startup deadline elapses.
func (s *Supervisor) AdoptOrLaunch(ctx context.Context, port int, mode Mode, profileName string, headless bool) (*Handle, error) {
	if mode == SharedProfile && profileName != "" {
		if err := validation.ValidateProfileName(profileName); err != nil {
			return nil, gwerr.Wrap(err, gwerr.KindInternal, "invalid profile name")
		}
	}
	dir := s.Directory(fmt.Sprintf("http://127.0.0.1:%d", port))
	if _, err := dir.GetVersion(ctx); err == nil {
		if s.log != nil {
			s.log.Info("adopted existing browser", zap.Int("port", port))
		}
		handle := &Handle{Port: port, Host: "127.0.0.1", Owned: false, Mode: mode}
		s.maybeForward(ctx, handle)
		return handle, nil
	}

	execPath, err := s.FindExecutable()
	if err != nil {
		return nil, err
	}

	userDataDir, err := s.prepareUserDataDir(mode, profileName)
	if err != nil {
		return nil, err
	}

	if err := s.launches.Acquire(ctx); err != nil {
		if mode == Isolated {
			os.RemoveAll(userDataDir)
		}
		return nil, gwerr.Wrap(err, gwerr.KindBrowserStartTimeout, "waiting for a free launch slot")
	}
	defer s.launches.Release()

	if err := limits.CheckMemoryUsage(s.maxLaunchMemoryMB()); err != nil && s.log != nil {
		s.log.Warn("launching browser under memory pressure", zap.Error(err))
	}

	args := buildChromeArgs(port, userDataDir, mode, profileName, headless)
	cmd := exec.CommandContext(context.Background(), execPath, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		if mode == Isolated {
			os.RemoveAll(userDataDir)
		}
		return nil, gwerr.Wrap(err, gwerr.KindBrowserStartTimeout, "starting browser process")
	}

	handle := &Handle{
		Port:        port,
		Host:        "127.0.0.1",
		PID:         cmd.Process.Pid,
		UserDataDir: userDataDir,
		Owned:       true,
		Mode:        mode,
		cmd:         cmd,
	}

	if err := s.waitReady(ctx, dir); err != nil {
		s.teardownFailedLaunch(handle)
		return nil, err
	}

	if s.log != nil {
		s.log.Info("launched browser", zap.Int("port", port), zap.Int("pid", handle.PID))
	}
	s.maybeForward(ctx, handle)
	return handle, nil
}

// maybeForward starts (or reuses) a Port Forwarder relay for h.Port when
// forwarding is enabled, recording the relay's listen port on the handle.
// Failure is logged, not fatal: the forwarder is an optional reliability
// measure on top of a debugger port that is already reachable at h.Port.
func (s *Supervisor) maybeForward(ctx context.Context, h *Handle) {
	if !s.forwardEnabled {
		return
	}
	f, err := s.forwarders.Ensure(ctx, h.Port)
	if err != nil {
		if s.log != nil {
			s.log.Warn("port forwarder unavailable", zap.Int("chrome_port", h.Port), zap.Error(err))
		}
		return
	}
	h.ForwardedPort = f.ListenPort
}

func (s *Supervisor) prepareUserDataDir(mode Mode, profileName string) (string, error) {
	if mode == SharedProfile && s.profiles != nil {
		if err := s.profiles.SetupWorkdir(); err != nil {
			return "", gwerr.Wrap(err, gwerr.KindInternal, "setting up shared profile workdir")
		}
		// Shared-profile mode exists to inherit the operator's real
		// browsing data; a profile that can't be copied (first run, name
		// typo) degrades to a fresh one rather than failing the launch.
		if profileName != "" {
			if err := s.profiles.CopyProfile(profileName, s.cookieDomains); err != nil && s.log != nil {
				s.log.Warn("could not copy operator profile, launching with a fresh one",
					zap.String("profile", profileName), zap.Error(err))
			}
		}
		return s.profiles.WorkDir(), nil
	}
	dir, err := secureio.CreateSecureTempDir("cdp-gateway-profile-")
	if err != nil {
		return "", gwerr.Wrap(err, gwerr.KindInternal, "creating isolated user-data-dir")
	}
	return dir, nil
}

func buildChromeArgs(port int, userDataDir string, mode Mode, profileName string, headless bool) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--remote-debugging-address=0.0.0.0",
		"--remote-allow-origins=*",
		fmt.Sprintf("--user-data-dir=%s", userDataDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-popup-blocking",
	}
	if mode == SharedProfile && profileName != "" {
		args = append(args, fmt.Sprintf("--profile-directory=%s", profileName))
	}
	if headless {
		args = append(args, "--headless=new")
	}
	return args
}

func (s *Supervisor) waitReady(ctx context.Context, dir *targetdirectory.Directory) error {
	deadline := time.Now().Add(StartupDeadline)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		if _, err := dir.GetVersion(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return gwerr.New(gwerr.KindBrowserStartTimeout, "browser did not answer /json/version within startup deadline")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return gwerr.Wrap(ctx.Err(), gwerr.KindBrowserStartTimeout, "launch canceled")
		}
	}
}

func (s *Supervisor) teardownFailedLaunch(h *Handle) {
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	if h.Owned && h.Mode == Isolated && h.UserDataDir != "" {
		os.RemoveAll(h.UserDataDir)
	}
}

// Kill terminates an owned handle's process and removes its owned
// user-data-dir. Adopted handles are never touched.
func (s *Supervisor) Kill(h *Handle) error {
	if h.ForwardedPort != 0 {
		s.forwarders.Stop(h.Port)
		h.ForwardedPort = 0
	}
	if !h.Owned {
		return nil
	}
	if h.cmd != nil && h.cmd.Process != nil {
		if err := h.cmd.Process.Kill(); err != nil {
			return gwerr.Wrap(err, gwerr.KindInternal, "killing browser process")
		}
		_ = h.cmd.Wait()
	}
	if h.Mode == Isolated && h.UserDataDir != "" {
		os.RemoveAll(h.UserDataDir)
	}
	return nil
}

// CleanupOrphanDirs best-effort deletes our own temporary user-data-dirs
// older than 24h, run once at startup to recover from a prior crash.
func (s *Supervisor) CleanupOrphanDirs() {
	s.orphanMu.Lock()
	defer s.orphanMu.Unlock()

	entries, err := os.ReadDir(os.TempDir())
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-24 * time.Hour)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) < len("cdp-gateway-profile-") || name[:len("cdp-gateway-profile-")] != "cdp-gateway-profile-" {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		full := filepath.Join(os.TempDir(), name)
		if s.log != nil {
			s.log.Info("removing orphaned user-data-dir", zap.String("path", full))
		}
		os.RemoveAll(full)
	}
}
