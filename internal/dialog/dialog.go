package dialog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/internal/transaction"
)

// sipDialog implements the Dialog interface.
type sipDialog struct {
	// Identity
	id        DialogID
	idMu      sync.RWMutex // guards id.RemoteTag, mutated post-construction by updateFromResponse's rekey
	direction DialogDirection

	// State
	state   DialogState
	stateMu sync.RWMutex

	// URIs and addresses
	localURI     types.URI
	remoteURI    types.URI
	localTarget  types.URI // local side's Contact URI
	remoteTarget types.URI // remote side's Contact URI

	// Route set (from Record-Route headers)
	routeSet []types.URI
	routeMu  sync.RWMutex

	// Sequence numbers
	localCSeq  uint32 // CSeq for outgoing requests
	remoteCSeq uint32 // CSeq of the last incoming request
	cseqMu     sync.Mutex

	// Transactions
	txManager DialogTransactionManager

	// Event handlers
	stateHandlers    []DialogStateHandler
	requestHandlers  []DialogRequestHandler
	responseHandlers []DialogResponseHandler
	handlersMu       sync.RWMutex

	// Context and arbitrary data
	ctx    context.Context
	cancel context.CancelFunc
	values sync.Map // arbitrary caller-set data

	// Flags
	secure bool // use SIPS

	// REFER (RFC 3515 call transfer)
	referMu sync.Mutex
	refer   *referState

	// store holds the dialog table this dialog was registered in, non-nil
	// only for UAC dialogs created by NewOutgoingDialog; it lets
	// updateFromResponse rekey the dialog once the remote tag is learned
	// from the first response, per Store.Rekey's caller-responsibility
	// contract.
	store *Store

	// inviteTx is the client transaction for this dialog's initial INVITE,
	// set by SendRequestWithBody and consumed by Cancel. It is only ever
	// non-nil on the UAC side — a UAS dialog cancels by replying to the
	// incoming INVITE's server transaction, not by building its own CANCEL.
	inviteTxMu sync.Mutex
	inviteTx   transaction.Transaction
}

// NewDialog creates a new dialog.
func NewDialog(id DialogID, direction DialogDirection, txManager DialogTransactionManager) *sipDialog {
	ctx, cancel := context.WithCancel(context.Background())

	return &sipDialog{
		id:        id,
		direction: direction,
		state:     DialogStateInit,
		txManager: txManager,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ID returns the dialog's identifier.
func (d *sipDialog) ID() DialogID {
	d.idMu.RLock()
	defer d.idMu.RUnlock()
	return d.id
}

// CallID returns the dialog's Call-ID.
func (d *sipDialog) CallID() string {
	d.idMu.RLock()
	defer d.idMu.RUnlock()
	return d.id.CallID
}

// LocalTag returns the local tag.
func (d *sipDialog) LocalTag() string {
	d.idMu.RLock()
	defer d.idMu.RUnlock()
	return d.id.LocalTag
}

// RemoteTag returns the remote tag.
func (d *sipDialog) RemoteTag() string {
	d.idMu.RLock()
	defer d.idMu.RUnlock()
	return d.id.RemoteTag
}

// State returns the dialog's current state.
func (d *sipDialog) State() DialogState {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

// Direction returns the dialog's role (UAC/UAS).
func (d *sipDialog) Direction() DialogDirection {
	return d.direction
}

// LocalURI returns the local URI.
func (d *sipDialog) LocalURI() types.URI {
	return d.localURI
}

// RemoteURI returns the remote URI.
func (d *sipDialog) RemoteURI() types.URI {
	return d.remoteURI
}

// LocalTarget returns the local target (Contact).
func (d *sipDialog) LocalTarget() types.URI {
	return d.localTarget
}

// RemoteTarget returns the remote target (Contact).
func (d *sipDialog) RemoteTarget() types.URI {
	return d.remoteTarget
}

// RouteSet returns the dialog's route set.
func (d *sipDialog) RouteSet() []types.URI {
	d.routeMu.RLock()
	defer d.routeMu.RUnlock()

	// Return a copy so callers can't mutate our state.
	routes := make([]types.URI, len(d.routeSet))
	copy(routes, d.routeSet)
	return routes
}

// LocalCSeq returns the local CSeq.
func (d *sipDialog) LocalCSeq() uint32 {
	return atomic.LoadUint32(&d.localCSeq)
}

// RemoteCSeq returns the remote CSeq.
func (d *sipDialog) RemoteCSeq() uint32 {
	return atomic.LoadUint32(&d.remoteCSeq)
}

// SendRequest sends a bodyless in-dialog request.
func (d *sipDialog) SendRequest(method string) (transaction.Transaction, error) {
	return d.SendRequestWithBody(method, nil, "")
}

// SendRequestWithBody sends an in-dialog request with an optional body.
func (d *sipDialog) SendRequestWithBody(method string, body []byte, contentType string) (transaction.Transaction, error) {
	state := d.State()
	if state == DialogStateTerminated {
		return nil, ErrDialogTerminated
	}

	// Some methods require an established (confirmed) dialog.
	if state != DialogStateEstablished {
		switch method {
		case "BYE", "UPDATE", "INFO", "NOTIFY":
			return nil, &DialogError{
				Code:    481,
				Message: fmt.Sprintf("dialog must be confirmed for %s", method),
			}
		}
	}

	d.cseqMu.Lock()
	d.localCSeq++
	cseq := d.localCSeq
	d.cseqMu.Unlock()

	// Determine the Request-URI: the first route set entry if one exists,
	// otherwise the remote target.
	var requestURI types.URI
	routes := d.RouteSet()

	if len(routes) > 0 {
		// A loose-routing (lr) first route leaves the remote target as the
		// Request-URI; a strict-routing one becomes the Request-URI itself
		// and is dropped from the Route headers.
		firstRoute := routes[0]
		if hasLRParam(firstRoute) {
			requestURI = d.remoteTarget
		} else {
			requestURI = firstRoute
			routes = routes[1:]
		}
	} else {
		requestURI = d.remoteTarget
	}

	if requestURI == nil {
		requestURI = d.remoteURI
	}

	if requestURI == nil {
		return nil, &DialogError{
			Code:    500,
			Message: "no valid request URI available",
		}
	}

	req := types.NewRequest(method, requestURI)

	// From is always the local URI with the local tag.
	if d.localURI != nil {
		fromAddr := types.NewAddress("", d.localURI)
		fromAddr.SetParameter("tag", d.LocalTag())
		req.SetHeader(types.HeaderFrom, fromAddr.String())
	} else {
		return nil, &DialogError{
			Code:    500,
			Message: "local URI not set",
		}
	}

	// To is always the remote URI with the remote tag.
	if d.remoteURI != nil {
		toAddr := types.NewAddress("", d.remoteURI)
		toAddr.SetParameter("tag", d.RemoteTag())
		req.SetHeader(types.HeaderTo, toAddr.String())
	} else {
		return nil, &DialogError{
			Code:    500,
			Message: "remote URI not set",
		}
	}

	req.SetHeader(types.HeaderCallID, d.CallID())

	cseqValue := fmt.Sprintf("%d %s", cseq, method)
	req.SetHeader(types.HeaderCSeq, cseqValue)

	if d.localTarget != nil {
		contactAddr := types.NewAddress("", d.localTarget)
		req.SetHeader(types.HeaderContact, contactAddr.String())
	}

	for _, route := range routes {
		routeAddr := types.NewAddress("", route)
		req.AddHeader(types.HeaderRoute, routeAddr.String())
	}

	req.SetHeader(types.HeaderMaxForwards, "70")

	if body != nil && len(body) > 0 {
		req.SetBody(body)
		if contentType != "" {
			req.SetHeader(types.HeaderContentType, contentType)
		}
		req.SetHeader(types.HeaderContentLength, fmt.Sprintf("%d", len(body)))
	} else {
		req.SetHeader(types.HeaderContentLength, "0")
	}

	tx, err := d.txManager.CreateClientTransaction(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	if method == "INVITE" {
		d.inviteTxMu.Lock()
		d.inviteTx = tx
		d.inviteTxMu.Unlock()
	}

	// Every response on this transaction is also a dialog event: it may
	// carry the remote tag (first response on an early UAC dialog), a
	// route set (2xx on INVITE), or a state transition.
	tx.OnResponse(func(_ transaction.Transaction, resp types.Message) {
		_ = d.processResponse(resp, tx)
	})

	return tx, nil
}

// Cancel sends CANCEL for this dialog's own initial INVITE (RFC 3261 §9.1):
// valid only on the UAC side, before a final response has moved the
// transaction out of Calling/Proceeding. Terminating an established dialog
// must use SendRequest("BYE") instead — CANCEL has no effect once a 2xx has
// already answered the INVITE.
func (d *sipDialog) Cancel() error {
	d.inviteTxMu.Lock()
	tx := d.inviteTx
	d.inviteTxMu.Unlock()

	if tx == nil {
		return &DialogError{Code: 500, Message: "no initial INVITE transaction to cancel"}
	}

	cs := transaction.NewCancelSupport(d.txManager)
	return cs.CancelTransaction(tx)
}

// hasLRParam reports whether uri carries the lr parameter.
func hasLRParam(uri types.URI) bool {
	if uri == nil {
		return false
	}
	params := uri.Parameters()
	_, hasLR := params["lr"]
	return hasLR
}

// Terminate ends the dialog.
func (d *sipDialog) Terminate() error {
	d.stateMu.Lock()
	oldState := d.state
	if oldState == DialogStateTerminated {
		d.stateMu.Unlock()
		return nil
	}
	d.state = DialogStateTerminated
	d.stateMu.Unlock()

	d.cancel()

	d.notifyStateChange(oldState, DialogStateTerminated)

	return nil
}

// OnStateChange registers a state-change handler.
func (d *sipDialog) OnStateChange(handler DialogStateHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.stateHandlers = append(d.stateHandlers, handler)
}

// OnRequest registers an inbound-request handler.
func (d *sipDialog) OnRequest(handler DialogRequestHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.requestHandlers = append(d.requestHandlers, handler)
}

// OnResponse registers a response handler.
func (d *sipDialog) OnResponse(handler DialogResponseHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.responseHandlers = append(d.responseHandlers, handler)
}

// Context returns the dialog's lifetime context.
func (d *sipDialog) Context() context.Context {
	return d.ctx
}

// SetValue stores an arbitrary value against key on this dialog.
func (d *sipDialog) SetValue(key string, value interface{}) {
	d.values.Store(key, value)
}

// GetValue retrieves a value previously stored with SetValue.
func (d *sipDialog) GetValue(key string) interface{} {
	value, _ := d.values.Load(key)
	return value
}

// setState transitions the dialog and notifies OnStateChange handlers; a
// no-op if newState equals the current state.
func (d *sipDialog) setState(newState DialogState) {
	d.stateMu.Lock()
	oldState := d.state
	if oldState != newState {
		d.state = newState
		d.stateMu.Unlock()
		d.notifyStateChange(oldState, newState)
	} else {
		d.stateMu.Unlock()
	}
}

func (d *sipDialog) notifyStateChange(oldState, newState DialogState) {
	d.handlersMu.RLock()
	handlers := make([]DialogStateHandler, len(d.stateHandlers))
	copy(handlers, d.stateHandlers)
	d.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(d, oldState, newState)
	}
}

func (d *sipDialog) notifyRequest(req types.Message, tx transaction.Transaction) {
	d.handlersMu.RLock()
	handlers := make([]DialogRequestHandler, len(d.requestHandlers))
	copy(handlers, d.requestHandlers)
	d.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(d, req, tx)
	}
}

func (d *sipDialog) notifyResponse(resp types.Message, tx transaction.Transaction) {
	d.handlersMu.RLock()
	handlers := make([]DialogResponseHandler, len(d.responseHandlers))
	copy(handlers, d.responseHandlers)
	d.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(d, resp, tx)
	}
}

// updateFromRequest folds an inbound in-dialog request's state into the
// dialog (remote CSeq, remote target).
func (d *sipDialog) updateFromRequest(req types.Message) error {
	// CSeq monotonicity itself is enforced in processRequest; this just
	// records the latest value (ParseCSeq/sequence.go).
	cseqHeader := req.GetHeader("CSeq")
	if cseqHeader != "" {
		cseq, _, err := ParseCSeq(cseqHeader)
		if err == nil {
			atomic.StoreUint32(&d.remoteCSeq, cseq)
		}
	}

	// REGISTER's Contact is a set of bindings, not a dialog target.
	contactHeader := req.GetHeader("Contact")
	if contactHeader != "" && req.Method() != "REGISTER" {
		if uri, err := parseContactURI(contactHeader); err == nil {
			d.remoteTarget = uri
		}
	}

	return nil
}

// updateFromResponse folds a response's state into the dialog (early-dialog
// remote tag, remote target, route set).
func (d *sipDialog) updateFromResponse(resp types.Message) error {
	// An early UAC dialog learns its remote tag from the first response
	// that carries one (RFC 3261 §12.1). Rekey in the store so later
	// in-dialog lookups (by-message, full key) can find this dialog.
	if d.direction == DialogDirectionUAC && d.RemoteTag() == "" {
		if toHeader := resp.GetHeader(types.HeaderTo); toHeader != "" {
			if tag := extractTag(toHeader); tag != "" {
				d.idMu.Lock()
				d.id.RemoteTag = tag
				newID := d.id
				d.idMu.Unlock()
				if d.store != nil {
					d.store.Rekey(newID.CallID, newID.LocalTag, newID)
				}
			}
		}
	}

	// 2xx on any method updates the remote target from Contact.
	if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
		contactHeader := resp.GetHeader("Contact")
		if contactHeader != "" {
			if uri, err := parseContactURI(contactHeader); err == nil {
				d.remoteTarget = uri
			}
		}
	}

	// The route set only comes from a 2xx answering an INVITE.
	if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
		cseqHeader := resp.GetHeader(types.HeaderCSeq)
		if cseqHeader != "" {
			cseq, err := types.ParseCSeq(cseqHeader)
			if err == nil && cseq.Method == "INVITE" {
				if err := d.ProcessRecordRoute(resp); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// ProcessRecordRoute builds the dialog's route set from a response's
// Record-Route headers, per RFC 3261.
func (d *sipDialog) ProcessRecordRoute(resp types.Message) error {
	// The route set is fixed by the first 2xx to INVITE and never revised.
	d.routeMu.Lock()
	defer d.routeMu.Unlock()

	if len(d.routeSet) > 0 {
		return nil
	}

	recordRouteHeaders := resp.GetHeaders(types.HeaderRecordRoute)
	if len(recordRouteHeaders) == 0 {
		return nil
	}

	var allRoutes []*types.Route
	for _, rrHeader := range recordRouteHeaders {
		routes, err := types.ParseRouteHeader(rrHeader)
		if err != nil {
			return fmt.Errorf("failed to parse Record-Route header: %w", err)
		}
		allRoutes = append(allRoutes, routes...)
	}

	// Route set order depends on the UAC/UAS role.
	isUAC := d.direction == DialogDirectionUAC

	if isUAC {
		d.routeSet = make([]types.URI, 0, len(allRoutes))
		for _, route := range allRoutes {
			if route.Address != nil && route.Address.URI() != nil {
				d.routeSet = append(d.routeSet, route.Address.URI())
			}
		}
	} else {
		d.routeSet = make([]types.URI, 0, len(allRoutes))
		for i := len(allRoutes) - 1; i >= 0; i-- {
			route := allRoutes[i]
			if route.Address != nil && route.Address.URI() != nil {
				d.routeSet = append(d.routeSet, route.Address.URI())
			}
		}
	}

	return nil
}

// processRequest handles an inbound in-dialog request.
func (d *sipDialog) processRequest(req types.Message, tx transaction.Transaction) error {
	state := d.State()
	if state == DialogStateTerminated {
		return ErrDialogTerminated
	}

	// CSeq must not go backwards relative to the last accepted value, except
	// for retransmits and ACKs to our own INVITE.
	if cseqHeader := req.GetHeader(types.HeaderCSeq); cseqHeader != "" {
		if cseq, method, err := ParseCSeq(cseqHeader); err == nil {
			prev := atomic.LoadUint32(&d.remoteCSeq)
			if prev != 0 && method != "ACK" && cseq < prev {
				return &DialogError{Code: 500, Message: "CSeq value is lower than expected"}
			}
		}
	}

	if err := d.updateFromRequest(req); err != nil {
		return err
	}

	switch req.Method() {
	case "BYE":
		d.setState(DialogStateTerminated)
	case "INVITE":
		// re-INVITE only makes sense once the dialog is established.
		if state != DialogStateEstablished {
			return &DialogError{
				Code:    491,
				Message: "Request Pending",
			}
		}
	}

	d.notifyRequest(req, tx)

	return nil
}

// processResponse handles a response on an in-dialog transaction.
func (d *sipDialog) processResponse(resp types.Message, tx transaction.Transaction) error {
	if err := d.updateFromResponse(resp); err != nil {
		return err
	}

	if tx.Request().Method() == "INVITE" {
		statusCode := resp.StatusCode()

		if statusCode >= 100 && statusCode < 200 {
			// A tagged provisional response establishes an early dialog.
			if d.State() == DialogStateInit && d.RemoteTag() != "" {
				d.setState(DialogStateRinging)
			}
		} else if statusCode >= 200 && statusCode < 300 {
			d.setState(DialogStateEstablished)
		} else if statusCode >= 300 {
			d.setState(DialogStateTerminated)
		}
	}

	d.notifyResponse(resp, tx)

	return nil
}
