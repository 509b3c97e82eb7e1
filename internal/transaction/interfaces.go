package transaction

import (
	"context"
	"net"
	"time"

	"sipline.dev/core/internal/sipmsg/types"
)

// Transaction is one RFC 3261 §17 client or server transaction.
type Transaction interface {
	ID() string
	Key() TransactionKey
	IsClient() bool
	IsServer() bool

	State() TransactionState
	IsCompleted() bool
	IsTerminated() bool

	Request() types.Message
	Response() types.Message
	LastResponse() types.Message

	// Server-transaction operation.
	SendResponse(resp types.Message) error

	// Client-transaction operations.
	SendRequest(req types.Message) error
	Cancel() error

	HandleRequest(req types.Message) error
	HandleResponse(resp types.Message) error

	OnStateChange(handler StateChangeHandler)
	OnResponse(handler ResponseHandler)
	OnTimeout(handler TimeoutHandler)
	OnTransportError(handler TransportErrorHandler)

	Context() context.Context
}

// TransactionManager is the contract Manager implements; dialog and
// registrar code above this package depend on the interface so tests can
// swap in a fake.
type TransactionManager interface {
	CreateClientTransaction(req types.Message) (Transaction, error)
	CreateServerTransaction(req types.Message) (Transaction, error)

	FindTransaction(key TransactionKey) (Transaction, bool)
	FindTransactionByMessage(msg types.Message) (Transaction, bool)

	HandleRequest(req types.Message, addr net.Addr) error
	HandleResponse(resp types.Message, addr net.Addr) error

	OnRequest(handler RequestHandler)
	OnResponse(handler ResponseHandler)

	SetTimers(timers TransactionTimers)
	Stats() TransactionStats
	Close() error
}

// TransactionKey identifies a transaction the way RFC 3261 §17.1.3/17.2.3
// do: by the top Via branch, the CSeq method and the direction.
// GenerateTransactionKey rejects branches without the RFC 3261 magic
// cookie prefix.
type TransactionKey struct {
	Branch    string // Via branch
	Method    string // CSeq method
	Direction bool   // true = client, false = server
}

// TransactionState is one state of the RFC 3261 §17 state machines (client
// INVITE/non-INVITE and server INVITE/non-INVITE share this enum; not every
// state is reachable from every machine — see client/server invite.go and
// non_invite.go for which subset each uses).
type TransactionState int

const (
	// Client states
	TransactionCalling TransactionState = iota
	TransactionProceeding
	TransactionCompleted
	TransactionTerminated

	// Server states
	TransactionTrying
	TransactionConfirmed
)

// String renders a TransactionState for logging.
func (s TransactionState) String() string {
	switch s {
	case TransactionCalling:
		return "Calling"
	case TransactionProceeding:
		return "Proceeding"
	case TransactionCompleted:
		return "Completed"
	case TransactionTerminated:
		return "Terminated"
	case TransactionTrying:
		return "Trying"
	case TransactionConfirmed:
		return "Confirmed"
	default:
		return "Unknown"
	}
}

// TransactionTimers holds one transaction's RFC 3261 §17 timer durations.
type TransactionTimers struct {
	T1 time.Duration // RTT estimate (default 500ms)
	T2 time.Duration // Max retransmit interval (default 4s)
	T4 time.Duration // Max duration transaction (default 5s)

	TimerA time.Duration // INVITE request retransmit
	TimerB time.Duration // INVITE transaction timeout
	TimerC time.Duration // Proxy INVITE timeout
	TimerD time.Duration // Response retransmit
	TimerE time.Duration // Non-INVITE request retransmit
	TimerF time.Duration // Non-INVITE transaction timeout
	TimerG time.Duration // INVITE response retransmit
	TimerH time.Duration // ACK receipt
	TimerI time.Duration // ACK retransmit
	TimerJ time.Duration // Non-INVITE response wait
	TimerK time.Duration // Non-INVITE response retransmit
}

// DefaultTimers returns the RFC 3261 default timer values before any
// transport-specific adjustment (see AdjustForReliableTransport); this is
// the generic baseline, not the WebSocket-only profile every transaction in
// this tree is actually constructed with.
func DefaultTimers() TransactionTimers {
	t1 := 500 * time.Millisecond
	t2 := 4 * time.Second
	t4 := 5 * time.Second

	return TransactionTimers{
		T1: t1,
		T2: t2,
		T4: t4,

		TimerA: t1,                // initially T1
		TimerB: 64 * t1,           // 64*T1
		TimerC: 180 * time.Second, // > 3 minutes
		TimerD: 32 * time.Second,  // >= 32s for UDP, 0 for others
		TimerE: t1,                // initially T1
		TimerF: 64 * t1,           // 64*T1
		TimerG: t1,                // initially T1
		TimerH: 64 * t1,           // 64*T1
		TimerI: t4,                // T4 for UDP, 0 for others
		TimerJ: 64 * t1,           // 64*T1 for UDP, 0 for others
		TimerK: t4,                // T4 for UDP, 0 for others
	}
}

// TransactionStats counts one Manager's transaction and message traffic.
type TransactionStats struct {
	ClientTransactions     uint64
	ServerTransactions     uint64
	ActiveTransactions     uint64
	CompletedTransactions  uint64
	TerminatedTransactions uint64
	TimedOutTransactions   uint64

	RequestsSent      uint64
	RequestsReceived  uint64
	ResponsesSent     uint64
	ResponsesReceived uint64

	Retransmissions    uint64
	DuplicateRequests  uint64
	DuplicateResponses uint64

	TransportErrors uint64
	InvalidMessages uint64
}

type StateChangeHandler func(tx Transaction, oldState, newState TransactionState)
type ResponseHandler func(tx Transaction, resp types.Message)
type TimeoutHandler func(tx Transaction, timer string)
type TransportErrorHandler func(tx Transaction, err error)
type RequestHandler func(tx Transaction, req types.Message)

// TransactionTransport is the transport seam a transaction talks through;
// deliberately narrower than transportadapter.TransportManager so a
// transaction never sees anything beyond "send" and "is this reliable".
type TransactionTransport interface {
	Send(msg types.Message, addr string) error
	OnMessage(handler func(msg types.Message, addr net.Addr))
	IsReliable() bool
}

// TransactionError reports a failed operation against a transaction,
// annotated with the transaction's id and state at the time of failure.
type TransactionError struct {
	Transaction string
	Operation   string
	State       TransactionState
	Err         error
}

func (e *TransactionError) Error() string {
	return "transaction " + e.Transaction + " in state " + e.State.String() +
		": " + e.Operation + ": " + e.Err.Error()
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// NewTransactionError wraps err with the transaction id/operation/state
// that produced it.
func NewTransactionError(tx string, op string, state TransactionState, err error) error {
	return &TransactionError{
		Transaction: tx,
		Operation:   op,
		State:       state,
		Err:         err,
	}
}
