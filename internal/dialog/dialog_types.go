package dialog

import (
	"context"
	"errors"
	"net"

	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/internal/transaction"
)

// DialogID identifies a dialog by Call-ID plus the local/remote tag pair,
// per RFC 3261 §12. It is the in-memory counterpart of DialogKey (key.go),
// kept as a distinct type because sipDialog stores it by value and compares
// it without the formatting String() carries.
type DialogID struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

// Key renders the id as the store-lookup DialogKey.
func (id DialogID) Key() DialogKey {
	return DialogKey{CallID: id.CallID, LocalTag: id.LocalTag, RemoteTag: id.RemoteTag}
}

// DialogDirection records which side of the dialog this UA played.
type DialogDirection int

const (
	// DialogDirectionUAC means this UA sent the initial INVITE.
	DialogDirectionUAC DialogDirection = iota
	// DialogDirectionUAS means this UA received the initial INVITE.
	DialogDirectionUAS
)

func (d DialogDirection) String() string {
	if d == DialogDirectionUAS {
		return "UAS"
	}
	return "UAC"
}

// DialogTransactionManager is the subset of transaction.TransactionManager a
// dialog needs to originate and correlate requests; it matches
// transaction.TransactionManager's shape so *transaction.Manager satisfies
// it directly, but names its two creation entry points explicitly (client
// vs server) since a dialog always knows which one it wants.
type DialogTransactionManager interface {
	CreateClientTransaction(req types.Message) (transaction.Transaction, error)
	CreateServerTransaction(req types.Message) (transaction.Transaction, error)
	FindTransaction(key transaction.TransactionKey) (transaction.Transaction, bool)
	FindTransactionByMessage(msg types.Message) (transaction.Transaction, bool)
	HandleRequest(req types.Message, addr net.Addr) error
	HandleResponse(resp types.Message, addr net.Addr) error
	OnRequest(handler transaction.RequestHandler)
	OnResponse(handler transaction.ResponseHandler)
	SetTimers(timers transaction.TransactionTimers)
	Stats() transaction.TransactionStats
	Close() error
}

// DialogStateHandler, DialogRequestHandler and DialogResponseHandler are the
// callback shapes sipDialog notifies on state transitions, in-dialog
// requests, and responses to its own requests, respectively.
type (
	DialogStateHandler    func(d *sipDialog, oldState, newState DialogState)
	DialogRequestHandler  func(d *sipDialog, req types.Message, tx transaction.Transaction)
	DialogResponseHandler func(d *sipDialog, resp types.Message, tx transaction.Transaction)
)

// Dialog is the narrow, typed surface callers outside this package consume;
// it mirrors sipDialog's exported methods so account/registrar/callstate
// code can depend on an interface rather than the concrete struct.
type Dialog interface {
	ID() DialogID
	CallID() string
	LocalTag() string
	RemoteTag() string
	State() DialogState
	Direction() DialogDirection
	LocalURI() types.URI
	RemoteURI() types.URI
	LocalTarget() types.URI
	RemoteTarget() types.URI
	RouteSet() []types.URI
	LocalCSeq() uint32
	RemoteCSeq() uint32
	SendRequest(method string) (transaction.Transaction, error)
	SendRequestWithBody(method string, body []byte, contentType string) (transaction.Transaction, error)
	Cancel() error
	Terminate() error
	OnStateChange(handler DialogStateHandler)
	OnRequest(handler DialogRequestHandler)
	OnResponse(handler DialogResponseHandler)

	// REFER (RFC 3515 call transfer), implemented in refer.go.
	SendRefer(ctx context.Context, targetURI string, opts *ReferOpts) error
	WaitRefer(ctx context.Context) (*ReferSubscription, error)
	ProcessNotify(notify types.Message) error
}

// ErrDialogTerminated is returned by operations attempted against a
// terminated dialog.
var ErrDialogTerminated = errors.New("dialog: terminated")
