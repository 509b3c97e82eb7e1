package transport

import "time"

// Session is the contract the SIP core consumes from its WebSocket
// collaborator (spec §4.8). The core never frames or dials a socket
// itself; it only calls these four methods and registers the five
// callbacks below. A reference implementation over gobwas/ws is provided
// in ws.go for local testing and as documentation of the wire contract
// (RFC 7118: Sec-WebSocket-Protocol: sip); production apps are expected
// to supply their own Session bound to their platform's socket stack.
type Session interface {
	Open() error
	Send(text string) error
	Close(code int, reason string) error
	IsOpen() bool

	OnOpen(fn func())
	OnMessage(fn func(text string))
	OnClose(fn func(code int, reason string))
	OnError(fn func(err error))
	OnPong(fn func())
}

// KeepaliveConfig controls the ping/pong and renewal-hint cadence a
// Session implementation should apply. The core does not enforce these
// itself — they are documentation for Session authors (WSSession reads
// PingInterval and PongTimeout). RenewalInterval is carried but not read
// by SessionTransportManager or anything else in this module.
type KeepaliveConfig struct {
	PingInterval    time.Duration // default 30s, per spec §4.8
	PongTimeout     time.Duration // treated as OnError when exceeded
	RenewalInterval time.Duration // default 30s soft-refresh hint
}

func DefaultKeepaliveConfig() KeepaliveConfig {
	return KeepaliveConfig{
		PingInterval:    30 * time.Second,
		PongTimeout:     10 * time.Second,
		RenewalInterval: 30 * time.Second,
	}
}
