package creator

import (
	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/internal/transaction"
	"sipline.dev/core/internal/transaction/client"
	"sipline.dev/core/internal/transaction/server"
)

// DefaultCreator implements transaction.TransactionCreator using the
// client/server state machines in this module.
type DefaultCreator struct{}

// NewDefaultCreator returns the default transaction creator.
func NewDefaultCreator() transaction.TransactionCreator {
	return &DefaultCreator{}
}

// CreateClientInviteTransaction creates a client INVITE transaction (ICT).
func (c *DefaultCreator) CreateClientInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request types.Message,
	transport transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) transaction.Transaction {
	return client.NewInviteTransaction(id, key, request, transport, timers)
}

// CreateClientNonInviteTransaction creates a client non-INVITE transaction
// (NICT).
func (c *DefaultCreator) CreateClientNonInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request types.Message,
	transport transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) transaction.Transaction {
	return client.NewNonInviteTransaction(id, key, request, transport, timers)
}

// CreateServerInviteTransaction creates a server INVITE transaction (IST).
func (c *DefaultCreator) CreateServerInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request types.Message,
	transport transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) transaction.Transaction {
	return server.NewInviteTransaction(id, key, request, transport, timers)
}

// CreateServerNonInviteTransaction creates a server non-INVITE transaction
// (NIST).
func (c *DefaultCreator) CreateServerNonInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request types.Message,
	transport transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) transaction.Transaction {
	return server.NewNonInviteTransaction(id, key, request, transport, timers)
}
