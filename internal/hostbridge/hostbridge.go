// Package hostbridge detects whether the gateway runs inside a guest
// environment whose loopback is disjoint from the host OS that owns the
// browser, and provides the interop primitives needed to launch/kill the
// browser and translate filesystem paths across that boundary. WSL with
// PowerShell interop is the one containment layer implemented; the Bridge
// interface keeps other environments pluggable.
package hostbridge

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"go.uber.org/zap"
)

// Bridge is the Host Bridge contract.
type Bridge interface {
	InGuest() bool
	RunHostCommand(ctx context.Context, script string, timeout time.Duration) (exitCode int, stdout, stderr string, err error)
	ResolveHostAddress(ctx context.Context) (string, error)
	GuestToHostPath(guestPath string) string
	HostToGuestPath(hostPath string) string
}

// wslBridge is the concrete Bridge for a WSL guest talking to a Windows
// host via PowerShell, the only interop channel in scope.
type wslBridge struct {
	log *zap.Logger

	once         sync.Once
	inGuest      bool
	powershell   string
	powershellOK bool

	addrMu     sync.Mutex
	addrCached string
}

// New returns the Bridge implementation for the current process. When the
// process is not running inside a recognized guest, InGuest reports false
// and RunHostCommand fails with gwerr.KindHostExecUnavailable;
// ResolveHostAddress never fails (it falls back to 127.0.0.1).
func New(log *zap.Logger) Bridge {
	b := &wslBridge{log: log}
	b.detect()
	return b
}

func (b *wslBridge) detect() {
	b.once.Do(func() {
		b.inGuest = detectWSL()
		if b.inGuest {
			b.powershell, b.powershellOK = findWindowsExecutable("powershell.exe")
		}
	})
}

func detectWSL() bool {
	if _, err := os.Stat("/proc/sys/fs/binfmt_misc/WSLInterop"); err == nil {
		return true
	}
	if data, err := os.ReadFile("/proc/version"); err == nil {
		lower := strings.ToLower(string(data))
		if strings.Contains(lower, "microsoft") || strings.Contains(lower, "wsl") {
			return true
		}
	}
	return os.Getenv("WSL_DISTRO_NAME") != ""
}

func (b *wslBridge) InGuest() bool {
	b.detect()
	return b.inGuest
}

// RunHostCommand executes a PowerShell script on the Windows host that owns
// the guest's WSL VM.
func (b *wslBridge) RunHostCommand(ctx context.Context, script string, timeout time.Duration) (int, string, string, error) {
	b.detect()
	if !b.inGuest || !b.powershellOK {
		return -1, "", "", gwerr.New(gwerr.KindHostExecUnavailable, "no host interop channel available")
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.powershell, "-NoProfile", "-NonInteractive", "-Command", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return -1, stdout.String(), stderr.String(), gwerr.Wrap(err, gwerr.KindHostExecUnavailable, "running host command")
		}
	}
	return exitCode, stdout.String(), stderr.String(), nil
}

// ResolveHostAddress returns the IP by which the guest can reach the host,
// probing /etc/resolv.conf, WSL_HOST_IP, `ip route`, then PowerShell, in
// that order, and caching the first success for the process lifetime.
// When every probe fails it returns 127.0.0.1, which is cached as well.
func (b *wslBridge) ResolveHostAddress(ctx context.Context) (string, error) {
	b.addrMu.Lock()
	defer b.addrMu.Unlock()
	if b.addrCached != "" {
		return b.addrCached, nil
	}

	if ip := resolveConfNameserver(); ip != "" {
		b.addrCached = ip
		return ip, nil
	}
	if ip := os.Getenv("WSL_HOST_IP"); ip != "" {
		b.addrCached = ip
		return ip, nil
	}
	if ip := resolveIPRouteGateway(ctx); ip != "" {
		b.addrCached = ip
		return ip, nil
	}
	if b.powershellOK {
		if ip := b.resolvePowershellAdapter(ctx); ip != "" {
			b.addrCached = ip
			return ip, nil
		}
	}

	b.addrCached = "127.0.0.1"
	if b.log != nil {
		b.log.Warn("could not resolve host address, falling back to loopback")
	}
	return b.addrCached, nil
}

func resolveConfNameserver() string {
	data, err := os.ReadFile("/etc/resolv.conf")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "nameserver") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip := fields[1]
		if !strings.HasPrefix(ip, "127.") {
			return ip
		}
	}
	return ""
}

func resolveIPRouteGateway(ctx context.Context) string {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(runCtx, "ip", "route", "show", "default").Output()
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(out))
	for i, f := range fields {
		if f == "via" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

func (b *wslBridge) resolvePowershellAdapter(ctx context.Context) string {
	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	script := "(Get-NetIPAddress -InterfaceAlias 'vEthernet (WSL*)' -AddressFamily IPv4 " +
		"-ErrorAction SilentlyContinue).IPAddress"
	out, err := exec.CommandContext(runCtx, b.powershell, "-NoProfile", "-NonInteractive", "-Command", script).Output()
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// findWindowsExecutable locates a Windows executable from a WSL guest by
// checking PATH, then the WSL-mounted drives under /mnt, without
// hardcoding a drive letter.
func findWindowsExecutable(name string) (string, bool) {
	if path, err := exec.LookPath(name); err == nil {
		return path, true
	}

	mnt := "/mnt"
	entries, err := os.ReadDir(mnt)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() || len(e.Name()) != 1 {
			continue
		}
		candidates := []string{
			filepath.Join(mnt, e.Name(), "Windows/System32/WindowsPowerShell/v1.0", name),
			filepath.Join(mnt, e.Name(), "Windows/System32", name),
		}
		for _, c := range candidates {
			if _, statErr := os.Stat(c); statErr == nil {
				return c, true
			}
		}
	}
	return "", false
}

// GuestToHostPath rewrites a WSL-style path (/mnt/c/Users/...) to its
// Windows equivalent (C:\Users\...) by pure string manipulation. A path
// not under /mnt/<drive>/ is returned unchanged.
func (b *wslBridge) GuestToHostPath(guestPath string) string {
	if !strings.HasPrefix(guestPath, "/mnt/") || len(guestPath) <= 5 {
		return guestPath
	}
	drive := strings.ToUpper(string(guestPath[5]))
	rest := strings.ReplaceAll(guestPath[6:], "/", `\`)
	return drive + ":" + rest
}

// HostToGuestPath rewrites a Windows-style path (C:\Users\...) to its WSL
// equivalent (/mnt/c/Users/...).
func (b *wslBridge) HostToGuestPath(hostPath string) string {
	if len(hostPath) < 2 || hostPath[1] != ':' {
		return hostPath
	}
	drive := strings.ToLower(string(hostPath[0]))
	rest := strings.ReplaceAll(hostPath[2:], `\`, "/")
	return "/mnt/" + drive + rest
}
