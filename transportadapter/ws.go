package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// WSSession is a reference Session (§4.8) over github.com/gobwas/ws,
// speaking RFC 7118 SIP-over-WebSocket: it negotiates the "sip"
// subprotocol and sends the Origin header the spec's external-interface
// section requires. Production hosts are free to substitute their own
// Session — this one exists so the core is exercisable end to end without
// a platform WebSocket stack, and to ground the transport contract in a
// concrete dependency the way the teacher's transport package grounds
// TCP/TLS against net/crypto-tls.
type WSSession struct {
	url          string
	originDomain string
	keepalive    KeepaliveConfig

	mu     sync.Mutex
	conn   net.Conn
	open   bool
	cancel context.CancelFunc

	onOpen    func()
	onMessage func(text string)
	onClose   func(code int, reason string)
	onError   func(err error)
	onPong    func()
}

// NewWSSession builds a session that will dial url (e.g.
// "wss://sip.example.com:7443") with Origin "https://telephony.<originDomain>"
// and Sec-WebSocket-Protocol "sip", per spec §6.
func NewWSSession(url, originDomain string, keepalive KeepaliveConfig) *WSSession {
	return &WSSession{url: url, originDomain: originDomain, keepalive: keepalive}
}

func (s *WSSession) OnOpen(fn func())                         { s.onOpen = fn }
func (s *WSSession) OnMessage(fn func(text string))            { s.onMessage = fn }
func (s *WSSession) OnClose(fn func(code int, reason string))  { s.onClose = fn }
func (s *WSSession) OnError(fn func(err error))                { s.onError = fn }
func (s *WSSession) OnPong(fn func())                          { s.onPong = fn }

func (s *WSSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *WSSession) Open() error {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.mu.Unlock()

	dialer := ws.Dialer{
		Protocols: []string{"sip"},
		Header: ws.HandshakeHeaderHTTP(map[string][]string{
			"Origin": {fmt.Sprintf("https://telephony.%s", s.originDomain)},
		}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn, _, _, err := dialer.Dial(ctx, s.url)
	if err != nil {
		cancel()
		return &Error{Op: "dial", Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.open = true
	s.cancel = cancel
	s.mu.Unlock()

	go s.readLoop(ctx, conn)
	if s.keepalive.PingInterval > 0 {
		go s.pingLoop(ctx, conn)
	}

	if s.onOpen != nil {
		s.onOpen()
	}
	return nil
}

func (s *WSSession) Send(text string) error {
	s.mu.Lock()
	conn, open := s.conn, s.open
	s.mu.Unlock()
	if !open {
		return ErrNotOpen
	}
	if err := wsutil.WriteClientMessage(conn, ws.OpText, []byte(text)); err != nil {
		return &Error{Op: "send", Err: err}
	}
	return nil
}

func (s *WSSession) Close(code int, reason string) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil
	}
	conn := s.conn
	s.open = false
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	closeCode := ws.StatusCode(code)
	_ = wsutil.WriteClientMessage(conn, ws.OpClose, ws.NewCloseFrameBody(closeCode, reason))
	err := conn.Close()
	if s.onClose != nil {
		s.onClose(code, reason)
	}
	if err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}

func (s *WSSession) readLoop(ctx context.Context, conn net.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			s.mu.Lock()
			wasOpen := s.open
			s.open = false
			s.mu.Unlock()
			if wasOpen && s.onError != nil {
				s.onError(&Error{Op: "read", Err: err})
			}
			return
		}

		switch op {
		case ws.OpText:
			if s.onMessage != nil {
				s.onMessage(string(data))
			}
		case ws.OpPong:
			if s.onPong != nil {
				s.onPong()
			}
		case ws.OpClose:
			s.mu.Lock()
			s.open = false
			s.mu.Unlock()
			if s.onClose != nil {
				s.onClose(1000, "server close")
			}
			return
		}
	}
}

// pingLoop sends keepalive pings at PingInterval and treats a missing pong
// within PongTimeout as an onError (§4.8: "pong timeout treated as
// onError").
func (s *WSSession) pingLoop(ctx context.Context, conn net.Conn) {
	ticker := time.NewTicker(s.keepalive.PingInterval)
	defer ticker.Stop()

	pongCh := make(chan struct{}, 1)
	prevOnPong := s.onPong
	s.onPong = func() {
		select {
		case pongCh <- struct{}{}:
		default:
		}
		if prevOnPong != nil {
			prevOnPong()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wsutil.WriteClientMessage(conn, ws.OpPing, nil); err != nil {
				if s.onError != nil {
					s.onError(&Error{Op: "ping", Err: err})
				}
				return
			}
			select {
			case <-pongCh:
			case <-time.After(s.keepalive.PongTimeout):
				if s.onError != nil {
					s.onError(ErrPongTimeout)
				}
			case <-ctx.Done():
				return
			}
		}
	}
}
