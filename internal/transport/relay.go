package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/cdpmsg"
	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/relaychild"
	"github.com/tmc/misc/cdp-gateway/internal/secureio"
	"go.uber.org/zap"
)

// RelayChildSubcommand is the hidden cmd/cdp argument that re-executes
// this binary as a relaychild.Run bridge. Kept here so transport and
// cmd/cdp agree on the literal without an import cycle.
const RelayChildSubcommand = "__relay-child"

// ConnectTimeout bounds how long Connect waits for the child's CONNECTED
// sentinel on stderr before giving up.
const ConnectTimeout = 15 * time.Second

// Relay is a Transport backed by a host-side subprocess that holds the
// actual WebSocket and bridges newline-delimited JSON over its stdio,
// used when a guest cannot open a direct TCP connection to the browser.
type Relay struct {
	base

	wsURL     string
	scriptDir string

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	connected bool
	writeMu   sync.Mutex
}

// NewRelay returns a Relay transport that will bridge to wsURL via a
// spawned subprocess when Connect is called.
func NewRelay(wsURL string, log *zap.Logger) *Relay {
	return &Relay{base: newBase(log), wsURL: wsURL}
}

func (r *Relay) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.connected {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	scriptDir, err := secureio.CreateSecureTempDir("cdp-relay-")
	if err != nil {
		return gwerr.Wrap(err, gwerr.KindDisconnected, "creating relay script dir")
	}

	self, err := os.Executable()
	if err != nil {
		os.RemoveAll(scriptDir)
		return gwerr.Wrap(err, gwerr.KindDisconnected, "resolving gateway binary path")
	}

	scriptPath := filepath.Join(scriptDir, "relay.sh")
	script := fmt.Sprintf("#!/bin/sh\nexec %q %s %q\n", self, RelayChildSubcommand, r.wsURL)
	if runtime.GOOS == "windows" {
		// The relay helper is a POSIX shell script; a Windows host runs
		// the gateway from inside WSL, never natively.
		os.RemoveAll(scriptDir)
		return gwerr.New(gwerr.KindDisconnected, "subprocess relay unsupported on windows host")
	}
	if err := os.WriteFile(scriptPath, []byte(script), 0o700); err != nil {
		os.RemoveAll(scriptDir)
		return gwerr.Wrap(err, gwerr.KindDisconnected, "writing relay script")
	}

	cmd := exec.CommandContext(context.Background(), "/bin/sh", scriptPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.RemoveAll(scriptDir)
		return gwerr.Wrap(err, gwerr.KindDisconnected, "opening relay stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.RemoveAll(scriptDir)
		return gwerr.Wrap(err, gwerr.KindDisconnected, "opening relay stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		os.RemoveAll(scriptDir)
		return gwerr.Wrap(err, gwerr.KindDisconnected, "opening relay stderr")
	}

	if err := cmd.Start(); err != nil {
		os.RemoveAll(scriptDir)
		return gwerr.Wrap(err, gwerr.KindDisconnected, "starting relay subprocess")
	}

	sentinel := make(chan error, 1)
	go r.waitForSentinel(stderr, sentinel)

	select {
	case err := <-sentinel:
		if err != nil {
			_ = cmd.Process.Kill()
			os.RemoveAll(scriptDir)
			return gwerr.Wrap(err, gwerr.KindDisconnected, "relay handshake")
		}
	case <-time.After(ConnectTimeout):
		_ = cmd.Process.Kill()
		os.RemoveAll(scriptDir)
		return gwerr.New(gwerr.KindTimeout, "relay subprocess did not report CONNECTED in time")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		os.RemoveAll(scriptDir)
		return gwerr.Wrap(ctx.Err(), gwerr.KindTimeout, "relay connect canceled")
	}

	r.mu.Lock()
	r.cmd = cmd
	r.stdin = stdin
	r.scriptDir = scriptDir
	r.connected = true
	r.mu.Unlock()

	go r.receiveLoop(stdout)
	go r.waitExit(cmd)
	return nil
}

func (r *Relay) waitForSentinel(stderr io.Reader, done chan<- error) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if line == relaychild.ConnectedSentinel {
			done <- nil
			return
		}
		if r.log != nil {
			r.log.Debug("relay stderr", zap.String("line", line))
		}
	}
	done <- fmt.Errorf("relay process exited before CONNECTED")
}

func (r *Relay) receiveLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), MaxFrameBytes)
	for scanner.Scan() {
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var env cdpmsg.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			if r.log != nil {
				r.log.Warn("invalid relay frame", zap.Error(err))
			}
			continue
		}
		if env.IsResponse() {
			r.completeResponse(&env)
			continue
		}
		if env.Method != "" {
			r.dispatch(cdpmsg.Event{Method: env.Method, Params: env.Params})
		}
	}
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
	r.failAllPending(gwerr.KindDisconnected, "relay stdout closed")
}

func (r *Relay) waitExit(cmd *exec.Cmd) {
	_ = cmd.Wait()
}

func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *Relay) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return nil
	}
	r.connected = false
	cmd := r.cmd
	stdin := r.stdin
	scriptDir := r.scriptDir
	r.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	if cmd != nil && cmd.Process != nil {
		done := make(chan struct{})
		go func() { cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			_ = cmd.Process.Kill()
			<-done
		case <-ctx.Done():
			_ = cmd.Process.Kill()
		}
	}

	if scriptDir != "" {
		os.RemoveAll(scriptDir)
	}

	r.failAllPending(gwerr.KindDisconnected, "transport disconnected")
	return nil
}

func (r *Relay) Send(ctx context.Context, method string, params interface{}, timeout time.Duration) (cdpmsg.Result, error) {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return cdpmsg.Result{}, gwerr.New(gwerr.KindDisconnected, "transport not connected")
	}
	stdin := r.stdin
	r.mu.Unlock()

	id := r.allocID()
	cmd := cdpmsg.Command{ID: id, Method: method, Params: cdpmsg.Params(params)}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return cdpmsg.Result{}, err
	}
	payload = append(payload, '\n')

	p := r.register(id)
	defer r.unregister(id)

	r.writeMu.Lock()
	_, writeErr := stdin.Write(payload)
	r.writeMu.Unlock()
	if writeErr != nil {
		return cdpmsg.Result{}, gwerr.Wrap(writeErr, gwerr.KindDisconnected, "writing to relay stdin")
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.resultCh:
		if res.Err != nil {
			return res, gwerr.CDP(res.Err.Code, res.Err.Message)
		}
		return res, nil
	case <-timer.C:
		return cdpmsg.Result{}, gwerr.Newf(gwerr.KindTimeout, "%s: no response within %s", method, timeout)
	case <-ctx.Done():
		return cdpmsg.Result{}, gwerr.Wrap(ctx.Err(), gwerr.KindTimeout, method)
	}
}
