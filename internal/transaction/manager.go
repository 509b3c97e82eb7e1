package transaction

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"sipline.dev/core/internal/obslog"
	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/transportadapter"
)

// TransactionCreator builds the four transaction kinds (client/server ×
// INVITE/non-INVITE). Manager defers construction to it instead of
// switching on method+role itself, so sipcore can swap in its own creator
// (see internal/transaction/creator) without Manager knowing about the
// concrete state-machine types.
type TransactionCreator interface {
	CreateClientInviteTransaction(id string, key TransactionKey, request types.Message, transport TransactionTransport, timers TransactionTimers) Transaction
	CreateClientNonInviteTransaction(id string, key TransactionKey, request types.Message, transport TransactionTransport, timers TransactionTimers) Transaction
	CreateServerInviteTransaction(id string, key TransactionKey, request types.Message, transport TransactionTransport, timers TransactionTimers) Transaction
	CreateServerNonInviteTransaction(id string, key TransactionKey, request types.Message, transport TransactionTransport, timers TransactionTimers) Transaction
}

// Manager is the transaction layer's single entry point: it demultiplexes
// inbound transport messages onto the matching transaction (RFC 3261 §17),
// owns the transaction table, and dispatches unmatched requests/responses
// to the dialog layer above it.
type Manager struct {
	store *Store

	transport transport.TransportManager

	timers TransactionTimers

	creator TransactionCreator

	mu                sync.RWMutex
	requestHandlers   []RequestHandler
	responseHandlers  []ResponseHandler

	stats TransactionStats

	log *obslog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a transaction manager with no creator wired in; the
// caller must call SetDefaultCreator before the first CreateClientTransaction/
// CreateServerTransaction call, or those return an error instead of a
// transaction.
func NewManager(transportManager transport.TransportManager) *Manager {
	return NewManagerWithCreator(transportManager, nil)
}

// SetDefaultCreator wires the transaction factory in after construction,
// breaking the import cycle between this package and internal/transaction/creator
// (which imports client/server, which import this package for their shared
// Transaction/TransactionKey types).
func (m *Manager) SetDefaultCreator(creator TransactionCreator) {
	m.creator = creator
}

// NewManagerWithCreator creates a transaction manager and registers it as
// the transport's message sink.
func NewManagerWithCreator(transportManager transport.TransportManager, creator TransactionCreator) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		store:     NewStore(),
		transport: transportManager,
		timers:    DefaultTimers(),
		creator:   creator,
		log:       obslog.New().WithComponent("transaction"),
		ctx:       ctx,
		cancel:    cancel,
	}

	transportManager.OnMessage(m.handleIncomingMessage)

	return m
}

// CreateClientTransaction starts a new client transaction for an outgoing
// request (RFC 3261 §17.1). Returns the existing transaction, with an
// error, if the computed key already has one in flight.
func (m *Manager) CreateClientTransaction(req types.Message) (Transaction, error) {
	if !req.IsRequest() {
		return nil, fmt.Errorf("cannot create client transaction from response")
	}

	key, err := GenerateTransactionKey(req, true)
	if err != nil {
		return nil, fmt.Errorf("failed to generate transaction key: %w", err)
	}

	if existing, ok := m.store.Get(key); ok {
		return existing, fmt.Errorf("transaction already exists")
	}

	id := GenerateTransactionID()

	transportAdapter := NewTransportAdapter(m.transport)

	var tx Transaction
	if req.Method() == "INVITE" {
		if m.creator != nil {
			tx = m.creator.CreateClientInviteTransaction(id, key, req, transportAdapter, m.timers)
		} else {
			return nil, fmt.Errorf("transaction creator not set")
		}
	} else {
		if m.creator != nil {
			tx = m.creator.CreateClientNonInviteTransaction(id, key, req, transportAdapter, m.timers)
		} else {
			return nil, fmt.Errorf("transaction creator not set")
		}
	}

	if err := m.store.Add(tx); err != nil {
		return nil, fmt.Errorf("failed to add transaction to store: %w", err)
	}

	m.incrementStat(&m.stats.ClientTransactions)
	m.incrementStat(&m.stats.ActiveTransactions)
	m.log.Debug(m.ctx, "client transaction created",
		obslog.String("method", req.Method()), obslog.String("tx_id", id))

	tx.OnStateChange(func(tx Transaction, oldState, newState TransactionState) {
		m.log.Debug(m.ctx, "client transaction state change",
			obslog.String("tx_id", tx.ID()), obslog.String("from", oldState.String()), obslog.String("to", newState.String()))
		if newState == TransactionTerminated {
			m.store.Remove(tx.Key())
			m.decrementStat(&m.stats.ActiveTransactions)
			m.incrementStat(&m.stats.TerminatedTransactions)
		} else if newState == TransactionCompleted && oldState != TransactionCompleted {
			m.incrementStat(&m.stats.CompletedTransactions)
		}
	})

	return tx, nil
}

// CreateServerTransaction starts a new server transaction for an incoming
// request (RFC 3261 §17.2).
func (m *Manager) CreateServerTransaction(req types.Message) (Transaction, error) {
	if !req.IsRequest() {
		return nil, fmt.Errorf("cannot create server transaction from response")
	}

	key, err := GenerateTransactionKey(req, false)
	if err != nil {
		return nil, fmt.Errorf("failed to generate transaction key: %w", err)
	}

	if existing, ok := m.store.Get(key); ok {
		return existing, fmt.Errorf("transaction already exists")
	}

	id := GenerateTransactionID()

	transportAdapter := NewTransportAdapter(m.transport)

	var tx Transaction
	if req.Method() == "INVITE" {
		if m.creator != nil {
			tx = m.creator.CreateServerInviteTransaction(id, key, req, transportAdapter, m.timers)
		} else {
			return nil, fmt.Errorf("transaction creator not set")
		}
	} else {
		if m.creator != nil {
			tx = m.creator.CreateServerNonInviteTransaction(id, key, req, transportAdapter, m.timers)
		} else {
			return nil, fmt.Errorf("transaction creator not set")
		}
	}

	if err := m.store.Add(tx); err != nil {
		return nil, fmt.Errorf("failed to add transaction to store: %w", err)
	}

	m.incrementStat(&m.stats.ServerTransactions)
	m.incrementStat(&m.stats.ActiveTransactions)
	m.log.Debug(m.ctx, "server transaction created",
		obslog.String("method", req.Method()), obslog.String("tx_id", id))

	tx.OnStateChange(func(tx Transaction, oldState, newState TransactionState) {
		m.log.Debug(m.ctx, "server transaction state change",
			obslog.String("tx_id", tx.ID()), obslog.String("from", oldState.String()), obslog.String("to", newState.String()))
		if newState == TransactionTerminated {
			m.store.Remove(tx.Key())
			m.decrementStat(&m.stats.ActiveTransactions)
			m.incrementStat(&m.stats.TerminatedTransactions)
		} else if newState == TransactionCompleted && oldState != TransactionCompleted {
			m.incrementStat(&m.stats.CompletedTransactions)
		}
	})

	return tx, nil
}

// FindTransaction looks a transaction up by its exact key.
func (m *Manager) FindTransaction(key TransactionKey) (Transaction, bool) {
	return m.store.Get(key)
}

// FindTransactionByMessage matches an inbound message to the transaction it
// belongs to: an exact key match first, falling back to the store's looser
// message-based index for messages the exact key misses (e.g. a response
// whose Via branch doesn't quite round-trip through an intermediate proxy).
func (m *Manager) FindTransactionByMessage(msg types.Message) (Transaction, bool) {
	key, err := MatchingKey(msg)
	if err != nil {
		return nil, false
	}

	if tx, ok := m.store.Get(key); ok {
		return tx, true
	}

	txs := m.store.FindByMessage(msg)
	if len(txs) > 0 {
		for _, tx := range txs {
			if m.isMatchingTransaction(tx, msg) {
				return tx, true
			}
		}
	}

	return nil, false
}

// HandleRequest is the transport layer's entry point for an inbound
// request: it resolves retransmissions against the existing transaction
// table before creating a new server transaction (RFC 3261 §17.2.3).
func (m *Manager) HandleRequest(req types.Message, addr net.Addr) error {
	if !req.IsRequest() {
		return fmt.Errorf("not a request")
	}

	// ACK to a 2xx response has no transaction of its own (RFC 3261
	// §13.2.2.4); ACK to a non-2xx is absorbed by the INVITE server
	// transaction itself. Either way it never creates a new transaction
	// here — just forward it to whatever is listening (the dialog layer
	// disambiguates by Call-ID/CSeq).
	if req.Method() == "ACK" {
		m.notifyRequestHandlers(nil, req)
		return nil
	}

	key, err := GenerateTransactionKey(req, false)
	if err != nil {
		return fmt.Errorf("failed to generate transaction key: %w", err)
	}

	if tx, ok := m.store.Get(key); ok {
		m.incrementStat(&m.stats.DuplicateRequests)
		m.log.Debug(m.ctx, "duplicate request", obslog.String("method", req.Method()), obslog.String("tx_id", tx.ID()))
		m.notifyRequestHandlers(tx, req)
		return nil
	}

	m.incrementStat(&m.stats.RequestsReceived)

	tx, err := m.CreateServerTransaction(req)
	if err != nil {
		m.notifyRequestHandlers(nil, req)
		return fmt.Errorf("failed to create server transaction: %w", err)
	}

	m.notifyRequestHandlers(tx, req)

	return nil
}

// HandleResponse is the transport layer's entry point for an inbound
// response: it must match an existing client transaction, since this
// module never sends requests without one.
func (m *Manager) HandleResponse(resp types.Message, addr net.Addr) error {
	if !resp.IsResponse() {
		return fmt.Errorf("not a response")
	}

	m.incrementStat(&m.stats.ResponsesReceived)

	tx, ok := m.FindTransactionByMessage(resp)
	if !ok {
		m.incrementStat(&m.stats.InvalidMessages)
		m.log.Warn(m.ctx, "response matched no transaction", obslog.Int("status", resp.StatusCode()))
		return fmt.Errorf("no transaction found for response")
	}

	m.notifyResponseHandlers(tx, resp)

	return nil
}

// OnRequest registers a handler invoked for every inbound request, matched
// or not (a nil Transaction means no transaction could be created/matched
// for it — the handler decides what, if anything, to do).
func (m *Manager) OnRequest(handler RequestHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHandlers = append(m.requestHandlers, handler)
}

// OnResponse registers a handler invoked for every inbound response matched
// to a transaction.
func (m *Manager) OnResponse(handler ResponseHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseHandlers = append(m.responseHandlers, handler)
}

// SetTimers overrides the RFC 3261 §17 timer values new transactions are
// constructed with (spec §4.2's WebSocket-only model disables A/E/G and
// shortens D/K to zero — see DefaultTimers/AdjustForReliableTransport).
func (m *Manager) SetTimers(timers TransactionTimers) {
	m.timers = timers
}

// Stats returns a point-in-time snapshot of transaction counters, with the
// live active-transaction count read straight from the store rather than
// the locally tracked counter (which only moves on create/terminate
// events and can drift under concurrent access).
func (m *Manager) Stats() TransactionStats {
	stats := m.stats

	storeStats := m.store.Stats()
	stats.ActiveTransactions = storeStats.ActiveTransactions

	return stats
}

// Close cancels the manager's context and releases the transaction store.
func (m *Manager) Close() error {
	m.cancel()

	if err := m.store.Close(); err != nil {
		return err
	}

	return nil
}

// handleIncomingMessage is the transport layer's MessageHandler callback.
func (m *Manager) handleIncomingMessage(msg types.Message, addr net.Addr, t transport.Transport) {
	var err error

	if msg.IsRequest() {
		err = m.HandleRequest(msg, addr)
	} else {
		err = m.HandleResponse(msg, addr)
	}

	if err != nil {
		m.log.Debug(m.ctx, "message handling failed", obslog.Err(err))
	}
}

// isMatchingTransaction is the fallback matcher used when the exact
// transaction key misses but the store's loose message index still found
// candidates (CSeq-for-responses, method-for-requests).
func (m *Manager) isMatchingTransaction(tx Transaction, msg types.Message) bool {
	if msg.IsResponse() && tx.IsClient() {
		reqCSeq := tx.Request().GetHeader("CSeq")
		respCSeq := msg.GetHeader("CSeq")
		return reqCSeq == respCSeq
	}

	if msg.IsRequest() && tx.IsServer() {
		return tx.Request().Method() == msg.Method()
	}

	return false
}

// notifyRequestHandlers copies the handler slice under RLock and invokes
// it unlocked, so a handler registering another handler doesn't deadlock.
func (m *Manager) notifyRequestHandlers(tx Transaction, req types.Message) {
	m.mu.RLock()
	handlers := make([]RequestHandler, len(m.requestHandlers))
	copy(handlers, m.requestHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		handler(tx, req)
	}
}

// notifyResponseHandlers mirrors notifyRequestHandlers for responses.
func (m *Manager) notifyResponseHandlers(tx Transaction, resp types.Message) {
	m.mu.RLock()
	handlers := make([]ResponseHandler, len(m.responseHandlers))
	copy(handlers, m.responseHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		handler(tx, resp)
	}
}

func (m *Manager) incrementStat(stat *uint64) {
	atomic.AddUint64(stat, 1)
}

func (m *Manager) decrementStat(stat *uint64) {
	atomic.AddUint64(stat, ^uint64(0)) // unsigned -1
}
