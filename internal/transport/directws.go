package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/tmc/misc/cdp-gateway/internal/cdpmsg"
	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"go.uber.org/zap"
)

// DirectWS is a Transport backed by a native WebSocket connection straight
// to the browser's debugger endpoint.
type DirectWS struct {
	base

	url        string
	writeMu    sync.Mutex
	conn       *websocket.Conn
	connected  bool
	cancelRecv context.CancelFunc
	recvDone   chan struct{}
}

// NewDirectWS returns a DirectWS transport targeting wsURL. Connect must be
// called before Send.
func NewDirectWS(wsURL string, log *zap.Logger) *DirectWS {
	return &DirectWS{base: newBase(log), url: wsURL}
}

var dialer = &websocket.Dialer{
	// Accessibility dumps and full-page screenshots routinely exceed the
	// gorilla defaults, so frames up to MaxFrameBytes must be allowed.
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
	HandshakeTimeout: 10 * time.Second,
}

func (d *DirectWS) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.connected {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	conn, _, err := dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return errors.Wrap(err, "dialing CDP websocket")
	}
	conn.SetReadLimit(MaxFrameBytes)

	recvCtx, cancel := context.WithCancel(context.Background())

	d.mu.Lock()
	d.conn = conn
	d.connected = true
	d.cancelRecv = cancel
	d.recvDone = make(chan struct{})
	d.mu.Unlock()

	go d.receiveLoop(recvCtx, conn, d.recvDone)
	return nil
}

func (d *DirectWS) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *DirectWS) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}
	d.connected = false
	conn := d.conn
	cancel := d.cancelRecv
	done := d.recvDone
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
	}

	d.failAllPending(gwerr.KindDisconnected, "transport disconnected")
	return nil
}

func (d *DirectWS) Send(ctx context.Context, method string, params interface{}, timeout time.Duration) (cdpmsg.Result, error) {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return cdpmsg.Result{}, gwerr.New(gwerr.KindDisconnected, "transport not connected")
	}
	conn := d.conn
	d.mu.Unlock()

	id := d.allocID()
	cmd := cdpmsg.Command{ID: id, Method: method, Params: cdpmsg.Params(params)}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return cdpmsg.Result{}, errors.Wrap(err, "marshaling CDP command")
	}

	p := d.register(id)
	defer d.unregister(id)

	d.writeMu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, payload)
	d.writeMu.Unlock()
	if writeErr != nil {
		return cdpmsg.Result{}, gwerr.Wrap(writeErr, gwerr.KindDisconnected, "writing CDP command")
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

// receiveLoop is the transport's single background receive task: it reads
// frames, decodes them, and either completes a pending Send or dispatches
// an event, never both in parallel.
func (d *DirectWS) receiveLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			d.mu.Lock()
			d.connected = false
			d.mu.Unlock()
			d.failAllPending(gwerr.KindDisconnected, "websocket read error: "+err.Error())
			if d.log != nil {
				d.log.Warn("CDP websocket closed", zap.Error(err), zap.String("url", d.url))
			}
			return
		}

		var env cdpmsg.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			if d.log != nil {
				d.log.Warn("invalid CDP frame", zap.Error(err))
			}
			continue
		}

		if env.IsResponse() {
			d.completeResponse(&env)
			continue
		}
		if env.Method != "" {
			d.dispatch(cdpmsg.Event{Method: env.Method, Params: env.Params})
		}
	}
}
