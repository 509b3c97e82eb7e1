package server

import (
	"context"
	"fmt"
	"sync"

	"sipline.dev/core/internal/obslog"
	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/internal/transaction"
)

// BaseTransaction is the state, timer bookkeeping, and handler fan-out
// shared by the server INVITE and non-INVITE state machines (invite.go,
// non_invite.go embed it and add their own SendResponse-driven state logic
// on top).
type BaseTransaction struct {
	id  string
	key transaction.TransactionKey

	mu    sync.RWMutex
	state transaction.TransactionState

	request   types.Message
	responses []types.Message

	timerManager *transaction.TimerManager
	timers       transaction.TransactionTimers

	transport transaction.TransactionTransport
	reliable  bool

	stateChangeHandlers    []transaction.StateChangeHandler
	responseHandlers       []transaction.ResponseHandler
	timeoutHandlers        []transaction.TimeoutHandler
	transportErrorHandlers []transaction.TransportErrorHandler

	ctx    context.Context
	cancel context.CancelFunc

	log *obslog.Logger
}

// NewBaseTransaction creates a server transaction for req, starting in
// Trying and with its timers pre-adjusted for the transport's reliability.
func NewBaseTransaction(
	id string,
	key transaction.TransactionKey,
	request types.Message,
	transport transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) *BaseTransaction {
	ctx, cancel := context.WithCancel(context.Background())

	if transport.IsReliable() {
		timers = timers.AdjustForReliableTransport()
	}

	return &BaseTransaction{
		id:           id,
		key:          key,
		state:        transaction.TransactionTrying,
		request:      request,
		responses:    make([]types.Message, 0),
		timerManager: transaction.NewTimerManager(),
		timers:       timers,
		transport:    transport,
		reliable:     transport.IsReliable(),
		ctx:          ctx,
		cancel:       cancel,
		log:          obslog.New().WithComponent("transaction.server"),
	}
}

// ID returns the transaction's generated identifier.
func (t *BaseTransaction) ID() string {
	return t.id
}

// Key returns the RFC 3261 matching key this transaction was created with.
func (t *BaseTransaction) Key() transaction.TransactionKey {
	return t.key
}

// IsClient always reports false for a server transaction.
func (t *BaseTransaction) IsClient() bool {
	return false
}

// IsServer always reports true for a server transaction.
func (t *BaseTransaction) IsServer() bool {
	return true
}

// State returns the transaction's current state.
func (t *BaseTransaction) State() transaction.TransactionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// IsCompleted reports whether the transaction has reached Completed.
func (t *BaseTransaction) IsCompleted() bool {
	state := t.State()
	return state == transaction.TransactionCompleted
}

// IsTerminated reports whether the transaction has reached Terminated.
func (t *BaseTransaction) IsTerminated() bool {
	state := t.State()
	return state == transaction.TransactionTerminated
}

// Request returns the request this transaction was created for.
func (t *BaseTransaction) Request() types.Message {
	return t.request
}

// Response returns the first response sent, if any.
func (t *BaseTransaction) Response() types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.responses) > 0 {
		return t.responses[0]
	}
	return nil
}

// LastResponse returns the most recently sent response, if any.
func (t *BaseTransaction) LastResponse() types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.responses) > 0 {
		return t.responses[len(t.responses)-1]
	}
	return nil
}

// SendRequest always fails: a server transaction never sends requests.
func (t *BaseTransaction) SendRequest(req types.Message) error {
	return fmt.Errorf("server transaction cannot send requests")
}

// SendResponse sends resp back to the request's source address, derived
// from its top Via header (RFC 3261 §18.2.2's received/rport handling).
func (t *BaseTransaction) SendResponse(resp types.Message) error {
	if !resp.IsResponse() {
		return fmt.Errorf("not a response")
	}

	reqCSeq := t.request.GetHeader("CSeq")
	respCSeq := resp.GetHeader("CSeq")
	if reqCSeq != respCSeq {
		return fmt.Errorf("CSeq mismatch: request has %s, response has %s", reqCSeq, respCSeq)
	}

	t.mu.Lock()
	t.responses = append(t.responses, resp)
	t.mu.Unlock()

	viaHeader := t.request.GetHeader("Via")
	if viaHeader == "" {
		return fmt.Errorf("no Via header in request")
	}

	via, err := types.ParseVia(viaHeader)
	if err != nil {
		return fmt.Errorf("failed to parse Via header: %v", err)
	}

	target := via.GetAddress()

	return t.transport.Send(resp, target)
}

// Cancel always fails: CANCEL targets a client transaction, never a
// server one.
func (t *BaseTransaction) Cancel() error {
	return fmt.Errorf("server transaction cannot be cancelled")
}

// OnStateChange registers a state-transition handler.
func (t *BaseTransaction) OnStateChange(handler transaction.StateChangeHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateChangeHandlers = append(t.stateChangeHandlers, handler)
}

// OnResponse registers a response handler.
func (t *BaseTransaction) OnResponse(handler transaction.ResponseHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responseHandlers = append(t.responseHandlers, handler)
}

// OnTimeout registers a timeout handler.
func (t *BaseTransaction) OnTimeout(handler transaction.TimeoutHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeoutHandlers = append(t.timeoutHandlers, handler)
}

// OnTransportError registers a transport-error handler.
func (t *BaseTransaction) OnTransportError(handler transaction.TransportErrorHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transportErrorHandlers = append(t.transportErrorHandlers, handler)
}

// Context returns the transaction's lifetime context, canceled on
// Terminate.
func (t *BaseTransaction) Context() context.Context {
	return t.ctx
}

// HandleRequest retransmits the last response sent, if any — an inbound
// request hitting an existing server transaction is by definition a
// retransmit (RFC 3261 §17.2.1/§17.2.2), never a new one.
func (t *BaseTransaction) HandleRequest(req types.Message) error {
	lastResp := t.LastResponse()
	if lastResp != nil {
		t.log.Debug(t.ctx, "retransmitting last response for duplicate request", obslog.String("tx_id", t.id))
		return t.SendResponse(lastResp)
	}

	return nil
}

// Terminate moves the transaction to Terminated, stops every running timer,
// and cancels its context.
func (t *BaseTransaction) Terminate() {
	t.changeState(transaction.TransactionTerminated)
	t.timerManager.StopAll()
	t.cancel()
}

// changeState transitions the transaction and notifies OnStateChange
// handlers; a no-op if newState equals the current state.
func (t *BaseTransaction) changeState(newState transaction.TransactionState) {
	t.mu.Lock()
	oldState := t.state
	if oldState == newState {
		t.mu.Unlock()
		return
	}
	t.state = newState
	t.mu.Unlock()

	t.log.Debug(t.ctx, "server transaction state changed",
		obslog.String("tx_id", t.id),
		obslog.String("from", oldState.String()),
		obslog.String("to", newState.String()))

	t.notifyStateChangeHandlers(oldState, newState)
}

func (t *BaseTransaction) notifyStateChangeHandlers(oldState, newState transaction.TransactionState) {
	t.mu.RLock()
	handlers := make([]transaction.StateChangeHandler, len(t.stateChangeHandlers))
	copy(handlers, t.stateChangeHandlers)
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(t, oldState, newState)
	}
}

func (t *BaseTransaction) notifyResponseHandlers(resp types.Message) {
	t.mu.RLock()
	handlers := make([]transaction.ResponseHandler, len(t.responseHandlers))
	copy(handlers, t.responseHandlers)
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(t, resp)
	}
}

func (t *BaseTransaction) notifyTimeoutHandlers(timer string) {
	t.log.Warn(t.ctx, "transaction timer fired", obslog.String("tx_id", t.id), obslog.String("timer", timer))

	t.mu.RLock()
	handlers := make([]transaction.TimeoutHandler, len(t.timeoutHandlers))
	copy(handlers, t.timeoutHandlers)
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(t, timer)
	}
}

func (t *BaseTransaction) notifyTransportErrorHandlers(err error) {
	t.log.Warn(t.ctx, "transport error", obslog.String("tx_id", t.id), obslog.Err(err))

	t.mu.RLock()
	handlers := make([]transaction.TransportErrorHandler, len(t.transportErrorHandlers))
	copy(handlers, t.transportErrorHandlers)
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(t, err)
	}
}

// startTimer starts timer id with its configured duration, a no-op if that
// duration is non-positive (the reliable-transport profile zeroes several).
func (t *BaseTransaction) startTimer(id transaction.TimerID, callback func()) {
	duration := t.timers.GetTimerDuration(id)
	if duration > 0 {
		t.timerManager.Start(id, duration, callback)
	}
}

func (t *BaseTransaction) stopTimer(id transaction.TimerID) {
	t.timerManager.Stop(id)
}

func (t *BaseTransaction) isTimerActive(id transaction.TimerID) bool {
	return t.timerManager.IsActive(id)
}

// HandleResponse always fails: a server transaction never handles
// responses, only sends them.
func (t *BaseTransaction) HandleResponse(resp types.Message) error {
	return fmt.Errorf("server transaction cannot handle responses")
}
