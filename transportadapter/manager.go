package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"sipline.dev/core/internal/sipmsg/parser"
	"sipline.dev/core/internal/sipmsg/types"
)

// sessionAddr satisfies net.Addr for a WebSocket session that has no
// meaningful per-message remote address; every message travels over the
// same signaling-server connection.
type sessionAddr string

func (a sessionAddr) Network() string { return "ws" }
func (a sessionAddr) String() string  { return string(a) }

// wsTransport adapts a single Session into the Transport interface the
// transaction layer expects (one registered transport per network name).
type wsTransport struct {
	sess   Session
	parser parser.Parser
	addr   sessionAddr

	mu      sync.RWMutex
	onMsg   MessageHandler
	onErr   ErrorHandler
	started bool

	stats Stats
}

// NewWSTransport wraps sess as a Transport keyed by network "ws". It wires
// the Session's OnMessage/OnError callbacks to parse inbound frames with
// the codec and hands the typed Message up to whatever the
// TransportManager registered as its own OnMessage handler.
func NewWSTransport(sess Session, localAddr string) Transport {
	t := &wsTransport{
		sess:   sess,
		parser: parser.NewParser(),
		addr:   sessionAddr(localAddr),
	}
	sess.OnMessage(t.handleFrame)
	sess.OnError(func(err error) {
		t.mu.RLock()
		h := t.onErr
		t.mu.RUnlock()
		atomic.AddUint64(&t.stats.Errors, 1)
		if h != nil {
			h(err, t)
		}
	})
	return t
}

func (t *wsTransport) Network() string { return "ws" }
func (t *wsTransport) Reliable() bool  { return true }
func (t *wsTransport) Secure() bool    { return false }

func (t *wsTransport) Send(msg types.Message, addr string) error {
	text := msg.String()
	if err := t.sess.Send(text); err != nil {
		atomic.AddUint64(&t.stats.Errors, 1)
		return &Error{Op: "send", Err: err}
	}
	atomic.AddUint64(&t.stats.MessagesSent, 1)
	atomic.AddUint64(&t.stats.BytesSent, uint64(len(text)))
	return nil
}

func (t *wsTransport) OnMessage(handler MessageHandler) {
	t.mu.Lock()
	t.onMsg = handler
	t.mu.Unlock()
}

func (t *wsTransport) OnError(handler ErrorHandler) {
	t.mu.Lock()
	t.onErr = handler
	t.mu.Unlock()
}

func (t *wsTransport) LocalAddr() net.Addr { return t.addr }

func (t *wsTransport) handleFrame(text string) {
	atomic.AddUint64(&t.stats.MessagesReceived, 1)
	atomic.AddUint64(&t.stats.BytesReceived, uint64(len(text)))

	msg, err := t.parser.ParseMessage([]byte(text))
	if err != nil {
		// Protocol errors are contained: the frame is dropped, not fatal
		// (spec §4.1, §7 "Protocol errors on one frame are contained").
		t.mu.RLock()
		h := t.onErr
		t.mu.RUnlock()
		if h != nil {
			h(fmt.Errorf("discarding malformed frame: %w", err), t)
		}
		return
	}

	t.mu.RLock()
	h := t.onMsg
	t.mu.RUnlock()
	if h != nil {
		h(msg, t.addr, t)
	}
}

// SessionTransportManager implements TransportManager over exactly one
// registered Transport, grounded on the teacher's DefaultTransportManager
// (pkg/sip/transport/manager.go) but narrowed from multi-protocol routing
// to the single-session-per-account model spec §4.8 requires.
type SessionTransportManager struct {
	mu         sync.RWMutex
	transports map[string]Transport
	onMsg      MessageHandler
	onConn     ConnectionHandler
}

// NewSessionTransportManager creates a manager with no transport
// registered yet; call RegisterTransport(NewWSTransport(sess, addr)) once
// the account's Session is open.
func NewSessionTransportManager() *SessionTransportManager {
	return &SessionTransportManager{transports: make(map[string]Transport)}
}

func (m *SessionTransportManager) RegisterTransport(t Transport) error {
	if t == nil {
		return fmt.Errorf("transport: nil transport")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t.OnMessage(m.handleMessage)
	m.transports[t.Network()] = t
	return nil
}

func (m *SessionTransportManager) GetTransport(network string) (Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transports[network]
	return t, ok
}

// GetPreferredTransport ignores target entirely: every target routes over
// the account's single WebSocket session.
func (m *SessionTransportManager) GetPreferredTransport(_ string) (Transport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transports["ws"]
	if !ok {
		return nil, ErrNotOpen
	}
	return t, nil
}

func (m *SessionTransportManager) Send(msg types.Message, target string) error {
	t, err := m.GetPreferredTransport(target)
	if err != nil {
		return err
	}
	return t.Send(msg, target)
}

func (m *SessionTransportManager) OnMessage(handler MessageHandler) {
	m.mu.Lock()
	m.onMsg = handler
	m.mu.Unlock()
}

func (m *SessionTransportManager) OnConnection(handler ConnectionHandler) {
	m.mu.Lock()
	m.onConn = handler
	m.mu.Unlock()
}

func (m *SessionTransportManager) Start() error { return nil }

func (m *SessionTransportManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transports {
		if wt, ok := t.(*wsTransport); ok {
			_ = wt.sess.Close(1000, "stopping")
		}
	}
	m.transports = make(map[string]Transport)
	return nil
}

func (m *SessionTransportManager) handleMessage(msg types.Message, addr net.Addr, t Transport) {
	m.mu.RLock()
	h := m.onMsg
	m.mu.RUnlock()
	if h != nil {
		h(msg, addr, t)
	}
}

// NotifyConnection lets the manager's owner push a
// ConnectionOpened/Closed/Error event to subscribers without exposing the
// internal transports map. Nothing in this module calls it; the
// reconnection controller does not use it.
func (m *SessionTransportManager) NotifyConnection(event ConnectionEvent) {
	m.mu.RLock()
	h := m.onConn
	m.mu.RUnlock()
	if h != nil {
		h(nil, event)
	}
}
