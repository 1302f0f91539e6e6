package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DirectDialRetries is the number of direct WebSocket connect attempts
// tried before the Manager falls back to the subprocess relay.
const DirectDialRetries = 2

// useRelayGlobally remembers, process-wide, that Direct WebSocket has
// failed often enough that every future connection should skip straight to
// the Subprocess relay rather than re-probing a transport known to be
// unusable in this environment.
var useRelayGlobally atomic.Bool

// ResetFallbackForTesting clears the process-wide relay fallback flag. Only
// meant for tests that need a clean slate between cases.
func ResetFallbackForTesting() {
	useRelayGlobally.Store(false)
}

// Manager selects between Direct WebSocket and Subprocess relay for a given
// CDP endpoint, remembering a failed Direct WebSocket across targets for
// the lifetime of the process.
type Manager struct {
	log *zap.Logger

	mu      sync.Mutex
	current Transport
}

func NewManager(log *zap.Logger) *Manager {
	return &Manager{log: log}
}

// Open connects to wsURL, preferring Direct WebSocket unless the
// process-wide fallback flag is already set, and returns the live
// Transport. On repeated Direct WebSocket failure it sets the fallback
// flag and retries once via Subprocess relay before giving up.
func (m *Manager) Open(ctx context.Context, wsURL string) (Transport, error) {
	if !useRelayGlobally.Load() {
		tr, err := m.tryDirect(ctx, wsURL)
		if err == nil {
			return tr, nil
		}
		if m.log != nil {
			m.log.Warn("direct websocket transport failed, falling back to subprocess relay",
				zap.String("url", wsURL), zap.Error(err))
		}
		useRelayGlobally.Store(true)
	}

	relay := NewRelay(wsURL, m.log)
	if err := relay.Connect(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.current = relay
	m.mu.Unlock()
	return relay, nil
}

func (m *Manager) tryDirect(ctx context.Context, wsURL string) (Transport, error) {
	var lastErr error
	for attempt := 0; attempt < DirectDialRetries; attempt++ {
		direct := NewDirectWS(wsURL, m.log)
		if err := direct.Connect(ctx); err != nil {
			lastErr = err
			continue
		}
		m.mu.Lock()
		m.current = direct
		m.mu.Unlock()
		return direct, nil
	}
	return nil, lastErr
}

// Current returns the most recently opened transport, or nil if Open has
// never succeeded.
func (m *Manager) Current() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
