package transport

import (
	"net"
	"time"

	"sipline.dev/core/internal/sipmsg/types"
)

// Transport is a single network transport (this module only ever registers
// one: "ws"). It is kept as an interface, rather than collapsed into
// Session below, so the transaction layer can keep addressing peers by
// string target the way it already does for UDP/TCP in the wider SIP
// stack literature, without caring that every target here resolves to the
// same WebSocket session.
type Transport interface {
	Network() string // always "ws" in this module
	Reliable() bool  // always true: WebSocket is a reliable transport
	Secure() bool

	Send(msg types.Message, addr string) error
	OnMessage(handler MessageHandler)
	OnError(handler ErrorHandler)

	LocalAddr() net.Addr
}

// TransportManager is the contract the transaction layer (§4.2) and dialog
// store (§4.3) depend on. One TransportManager wraps exactly one Session
// per account — see SessionTransportManager.
type TransportManager interface {
	RegisterTransport(t Transport) error
	GetTransport(network string) (Transport, bool)
	GetPreferredTransport(target string) (Transport, error)

	Send(msg types.Message, target string) error

	OnMessage(handler MessageHandler)
	OnConnection(handler ConnectionHandler)

	Start() error
	Stop() error
}

type MessageHandler func(msg types.Message, addr net.Addr, t Transport)
type ConnectionHandler func(conn Connection, event ConnectionEvent)
type ErrorHandler func(err error, t Transport)

type ConnectionEvent int

const (
	ConnectionOpened ConnectionEvent = iota
	ConnectionClosed
	ConnectionError
)

// Connection is the handle a ConnectionHandler receives; the WS session
// itself is the only connection this module manages, and
// SessionTransportManager.NotifyConnection passes nil for it.
type Connection interface {
	ID() string
	RemoteAddr() net.Addr
	Send(msg types.Message) error
	Close() error
	IsClosed() bool
}

// Stats mirrors the counters the teacher's transport layer exposed
// (pkg/sip/transport's TransportStats), narrowed to what a single
// WebSocket session can report.
type Stats struct {
	MessagesReceived uint64
	MessagesSent     uint64
	BytesReceived    uint64
	BytesSent        uint64
	Errors           uint64
	LastPongAt       time.Time
}
