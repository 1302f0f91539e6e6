// Package portforward implements the optional Port Forwarder:
// a host-side TCP relay exposing a loopback-bound Chrome debugger port on
// all interfaces, for browsers that ignore
// --remote-debugging-address=0.0.0.0.
package portforward

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/audit"
	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"go.uber.org/zap"
)

// ChildSubcommand is the hidden cmd/cdp argument that re-execs this
// binary as a portforwardchild.Run proxy.
const ChildSubcommand = "__portforward-child"

// StartDeadline bounds how long Start waits for the relay to print its
// listen port before failing with forwarder-start-failed.
const StartDeadline = 10 * time.Second

// HealthCheckTimeout bounds the end-to-end GET /json/version check.
const HealthCheckTimeout = 5 * time.Second

// Forwarder is one running relay for a single chrome_port.
type Forwarder struct {
	ChromePort int
	ListenPort int

	cmd *exec.Cmd
}

// Start spawns the relay, reads its advertised listen port, and performs an
// end-to-end health check before returning.
func Start(ctx context.Context, chromePort int, log *zap.Logger) (*Forwarder, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.KindForwarderStartFailed, "resolving gateway binary path")
	}

	cmd := exec.Command(self, ChildSubcommand, strconv.Itoa(chromePort))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.KindForwarderStartFailed, "opening relay stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, gwerr.Wrap(err, gwerr.KindForwarderStartFailed, "starting relay process")
	}

	portCh := make(chan int, 1)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		if !scanner.Scan() {
			errCh <- fmt.Errorf("relay exited before advertising a port")
			return
		}
		port, err := strconv.Atoi(scanner.Text())
		if err != nil {
			errCh <- fmt.Errorf("relay printed a non-numeric port: %q", scanner.Text())
			return
		}
		portCh <- port
	}()

	var listenPort int
	select {
	case listenPort = <-portCh:
	case err := <-errCh:
		_ = cmd.Process.Kill()
		return nil, gwerr.Wrap(err, gwerr.KindForwarderStartFailed, "reading relay listen port")
	case <-time.After(StartDeadline):
		_ = cmd.Process.Kill()
		return nil, gwerr.New(gwerr.KindForwarderStartFailed, "relay did not advertise a listen port in time")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return nil, gwerr.Wrap(ctx.Err(), gwerr.KindForwarderStartFailed, "start canceled")
	}

	f := &Forwarder{ChromePort: chromePort, ListenPort: listenPort, cmd: cmd}
	if err := f.healthCheck(ctx); err != nil {
		_ = f.Stop()
		return nil, err
	}
	if log != nil {
		log.Info("port forwarder started", zap.Int("chrome_port", chromePort), zap.Int("listen_port", listenPort))
	}
	return f, nil
}

func (f *Forwarder) healthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", f.ListenPort)
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, url, nil)
	if err != nil {
		return gwerr.Wrap(err, gwerr.KindForwarderHealthFailed, "building health check request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return gwerr.Wrap(err, gwerr.KindForwarderHealthFailed, "relay health check request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return gwerr.Newf(gwerr.KindForwarderHealthFailed, "relay health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Stop terminates the relay process, releasing resources on every exit
// path.
func (f *Forwarder) Stop() error {
	if f.cmd == nil || f.cmd.Process == nil {
		return nil
	}
	_ = f.cmd.Process.Kill()
	_ = f.cmd.Wait()
	return nil
}

// Manager keeps at most one Forwarder per chrome_port and recreates it
// transparently, with bounded retries, when its health check fails.
type Manager struct {
	log   *zap.Logger
	audit *audit.Log

	mu         sync.Mutex
	forwarders map[int]*Forwarder
}

func NewManager(log *zap.Logger) *Manager {
	return &Manager{log: log, forwarders: make(map[int]*Forwarder)}
}

// SetAudit attaches an audit log that Ensure records failover events to.
// A nil log (the default) disables recording.
func (m *Manager) SetAudit(a *audit.Log) {
	m.audit = a
}

// MaxRecreateAttempts bounds how many times Ensure retries a failed
// forwarder before giving up.
const MaxRecreateAttempts = 3

// Ensure returns a healthy forwarder for chromePort, starting one if none
// exists yet, or recreating it if the existing one has gone unhealthy.
func (m *Manager) Ensure(ctx context.Context, chromePort int) (*Forwarder, error) {
	m.mu.Lock()
	existing := m.forwarders[chromePort]
	m.mu.Unlock()

	if existing != nil {
		if err := existing.healthCheck(ctx); err == nil {
			return existing, nil
		}
		_ = existing.Stop()
		m.mu.Lock()
		delete(m.forwarders, chromePort)
		m.mu.Unlock()
		m.audit.Record(ctx, fmt.Sprintf("port:%d", chromePort), audit.EventForwarderRetry, "health check failed, recreating")
	}

	var lastErr error
	for attempt := 0; attempt < MaxRecreateAttempts; attempt++ {
		f, err := Start(ctx, chromePort, m.log)
		if err == nil {
			m.mu.Lock()
			m.forwarders[chromePort] = f
			m.mu.Unlock()
			return f, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// StopAll terminates every managed forwarder.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for port, f := range m.forwarders {
		_ = f.Stop()
		delete(m.forwarders, port)
	}
}

// Stop terminates the managed forwarder for chromePort, if any.
func (m *Manager) Stop(chromePort int) {
	m.mu.Lock()
	f := m.forwarders[chromePort]
	delete(m.forwarders, chromePort)
	m.mu.Unlock()
	if f != nil {
		_ = f.Stop()
	}
}
