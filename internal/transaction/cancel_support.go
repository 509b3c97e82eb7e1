package transaction

import (
	"fmt"

	"sipline.dev/core/internal/sipmsg/builder"
	"sipline.dev/core/internal/sipmsg/types"
)

// CancelSupport builds and tracks CANCEL requests (RFC 3261 §9) against a
// transaction manager. dialog.sipDialog.Cancel is its main caller: a UAC
// dialog holds onto the client transaction its initial INVITE created and
// hands it straight to CancelTransaction once the user hangs up before the
// call was answered.
type CancelSupport struct {
	manager TransactionManager
	builder *MessageBuilder
}

// NewCancelSupport wraps a TransactionManager with CANCEL support.
func NewCancelSupport(manager TransactionManager) *CancelSupport {
	return &CancelSupport{
		manager: manager,
		builder: NewMessageBuilder(),
	}
}

// CancelTransaction builds a CANCEL for tx's original request and sends it
// as its own client transaction. Only valid for a client INVITE transaction
// still in Proceeding — RFC 3261 §9.1 forbids CANCELing anything else, and
// a completed/terminated INVITE has already received its final response.
func (cs *CancelSupport) CancelTransaction(tx Transaction) error {
	if !tx.IsClient() {
		return fmt.Errorf("can only cancel client transactions")
	}

	if tx.State() != TransactionProceeding {
		return fmt.Errorf("can only cancel transaction in Proceeding state, current: %s", tx.State())
	}

	request := tx.Request()
	if request == nil {
		return fmt.Errorf("no request found in transaction")
	}

	if request.Method() == "ACK" || request.Method() == "CANCEL" {
		return fmt.Errorf("cannot cancel %s request", request.Method())
	}

	cancel, err := cs.builder.BuildCANCEL(request)
	if err != nil {
		return fmt.Errorf("failed to build CANCEL: %w", err)
	}

	// CANCEL is its own transaction (RFC 3261 §9.1); its fate is tracked
	// independently of the INVITE transaction it's canceling, which keeps
	// running until the 487 it provokes arrives.
	_, err = cs.manager.CreateClientTransaction(cancel)
	if err != nil {
		return fmt.Errorf("failed to create CANCEL transaction: %w", err)
	}

	return nil
}

// CreateCANCELResponse builds a response to an inbound CANCEL request.
func (cs *CancelSupport) CreateCANCELResponse(cancel types.Message, statusCode int) (types.Message, error) {
	if !cancel.IsRequest() || cancel.Method() != "CANCEL" {
		return nil, fmt.Errorf("not a CANCEL request")
	}

	respBuilder := builder.CreateResponse(cancel, statusCode, getReasonPhrase(statusCode))
	respBuilder.SetHeader("Content-Length", "0")

	return respBuilder.Build()
}

// getReasonPhrase returns the standard reason phrase for the status codes
// CANCEL handling cares about.
func getReasonPhrase(code int) string {
	switch code {
	case 200:
		return "OK"
	case 481:
		return "Call/Transaction Does Not Exist"
	case 487:
		return "Request Terminated"
	default:
		return ""
	}
}
