package hostbridge

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
)

// roundTripTimeout bounds one relayed HTTP call issued through the host
// command channel.
const roundTripTimeout = 10 * time.Second

// RoundTripper returns an http.RoundTripper that issues requests by
// running curl on the host through bridge.RunHostCommand, for guests
// whose loopback cannot reach the host-bound debugger port directly.
// Only GET and PUT with no body are needed by the Target Directory.
func RoundTripper(bridge Bridge) http.RoundTripper {
	return &hostRoundTripper{bridge: bridge}
}

type hostRoundTripper struct {
	bridge Bridge
}

func (t *hostRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	script := fmt.Sprintf("curl -sS -X %s %q", req.Method, req.URL.String())
	exitCode, stdout, stderr, err := t.bridge.RunHostCommand(req.Context(), script, roundTripTimeout)
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.KindHostExecUnavailable, "relaying debugger HTTP call through host bridge")
	}
	if exitCode != 0 {
		return nil, gwerr.Newf(gwerr.KindDisconnected, "host curl exited %d: %s", exitCode, stderr)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Body:       io.NopCloser(bytes.NewReader([]byte(stdout))),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}
