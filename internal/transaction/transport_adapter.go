package transaction

import (
	"net"

	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/transportadapter"
)

// TransportAdapter narrows a transportadapter.TransportManager down to the
// send/receive/reliability surface TransactionTransport needs, so the
// transaction layer never has to know about connection pools or transport
// registration.
type TransportAdapter struct {
	manager transport.TransportManager
}

// NewTransportAdapter wraps manager as a TransactionTransport.
func NewTransportAdapter(manager transport.TransportManager) TransactionTransport {
	return &TransportAdapter{
		manager: manager,
	}
}

// Send hands msg to the transport manager for delivery to addr.
func (a *TransportAdapter) Send(msg types.Message, addr string) error {
	return a.manager.Send(msg, addr)
}

// OnMessage registers handler for inbound messages, dropping the
// transportadapter.Transport argument a TransactionTransport consumer never
// needs.
func (a *TransportAdapter) OnMessage(handler func(msg types.Message, addr net.Addr)) {
	a.manager.OnMessage(func(msg types.Message, addr net.Addr, t transport.Transport) {
		handler(msg, addr)
	})
}

// IsReliable reports whether the manager's registered transport is
// reliable. This module only ever registers "ws" (transportadapter.Session
// wraps a single WebSocket connection, always Reliable() == true), which is
// exactly why AdjustForReliableTransport zeroes the retransmission timers
// for every transaction this adapter backs; falling through to false keeps
// the generic RFC 3261 (unreliable-transport) timer profile for any target
// the manager can't yet resolve a transport for, rather than guessing.
func (a *TransportAdapter) IsReliable() bool {
	if t, ok := a.manager.GetTransport("ws"); ok {
		return t.Reliable()
	}
	return false
}
