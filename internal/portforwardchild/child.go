// Package portforwardchild implements the small program the Port Forwarder
// spawns: a TCP listener on an OS-assigned port on all interfaces that
// proxies every accepted connection to the loopback debugger port Chrome
// actually bound, used when Chrome refuses
// --remote-debugging-address=0.0.0.0 and binds 127.0.0.1 regardless.
// It listens on :0, prints the assigned port to stdout immediately, then
// bidirectionally copies bytes between each accepted connection and a
// fresh loopback dial.
package portforwardchild

import (
	"fmt"
	"io"
	"net"
	"strconv"
)

// Run listens on 0.0.0.0:0, writes the assigned port to stdout followed by
// a newline, then forwards every accepted connection to
// 127.0.0.1:chromePort until the listener is closed (by the parent killing
// this process).
func Run(chromePort int, stdout io.Writer) error {
	ln, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return err
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	fmt.Fprintln(stdout, strconv.Itoa(port))
	if f, ok := stdout.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}

	target := "127.0.0.1:" + strconv.Itoa(chromePort)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go proxyConn(conn, target)
	}
}

func proxyConn(client net.Conn, target string) {
	defer client.Close()
	upstream, err := net.Dial("tcp", target)
	if err != nil {
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstream, client)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, upstream)
		done <- struct{}{}
	}()
	<-done
}
