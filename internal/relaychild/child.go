// Package relaychild implements the small program that the Subprocess relay
// transport spawns on the host: it holds a single WebSocket connection to
// the browser's debugger endpoint and bridges newline-delimited JSON frames
// over its own stdin/stdout, used when the gateway process itself cannot
// reach the browser directly.
//
// Run is invoked from a hidden cmd/cdp subcommand rather than compiled
// as its own binary, so the relay can be spawned by re-executing the
// gateway's own binary path instead of shipping a second artifact.
package relaychild

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gorilla/websocket"
)

const ConnectedSentinel = "CONNECTED"

// Run dials wsURL, prints ConnectedSentinel to stderr once the handshake
// succeeds, then bridges frames until either side closes or ctx is done.
// Inbound WebSocket frames are written as single stdout lines; lines read
// from stdin are written as single WebSocket text frames.
func Run(ctx context.Context, wsURL string, stdin io.Reader, stdout io.Writer, stderr io.Writer) error {
	dialer := &websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		fmt.Fprintf(stderr, "dial failed: %v\n", err)
		return err
	}
	defer conn.Close()
	conn.SetReadLimit(16 * 1024 * 1024)

	fmt.Fprintln(stderr, ConnectedSentinel)

	var wg sync.WaitGroup
	var writeMu sync.Mutex
	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() { closeOnce.Do(func() { close(done) }) }

	// stdin -> websocket. Not waited on: a blocked stdin read would otherwise
	// keep Run alive after the WebSocket side has closed.
	go func() {
		scanner := bufio.NewScanner(stdin)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			writeMu.Lock()
			werr := conn.WriteMessage(websocket.TextMessage, line)
			writeMu.Unlock()
			if werr != nil {
				fmt.Fprintf(stderr, "write failed: %v\n", werr)
				closeDone()
				return
			}
		}
		closeDone()
	}()

	// websocket -> stdout
	wg.Add(1)
	go func() {
		defer wg.Done()
		w := bufio.NewWriter(stdout)
		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				closeDone()
				return
			}
			w.Write(data)
			w.WriteByte('\n')
			if ferr := w.Flush(); ferr != nil {
				closeDone()
				return
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	// Closing the connection unblocks the websocket reader.
	_ = conn.Close()
	wg.Wait()
	return nil
}

// Main exposes Run with os.Stdin/os.Stdout/os.Stderr for the gateway's
// hidden relay-child subcommand.
func Main(ctx context.Context, wsURL string) error {
	return Run(ctx, wsURL, os.Stdin, os.Stdout, os.Stderr)
}
