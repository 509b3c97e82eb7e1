package server

import (
	"fmt"

	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/internal/transaction"
)

// NonInviteTransaction is the server non-INVITE transaction (NIST) state
// machine, RFC 3261 §17.2.2: Trying -> Proceeding -> Completed ->
// Terminated.
type NonInviteTransaction struct {
	*BaseTransaction

	finalResponse types.Message
}

// NewNonInviteTransaction creates an NIST for request, starting in Trying
// (BaseTransaction's default).
func NewNonInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request types.Message,
	transport transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) *NonInviteTransaction {
	return &NonInviteTransaction{
		BaseTransaction: NewBaseTransaction(id, key, request, transport, timers),
	}
}

// SendResponse sends resp and advances the state machine according to its
// status code.
func (t *NonInviteTransaction) SendResponse(resp types.Message) error {
	if err := t.BaseTransaction.SendResponse(resp); err != nil {
		return err
	}

	statusCode := resp.StatusCode()
	state := t.State()

	switch state {
	case transaction.TransactionTrying:
		return t.handleResponseInTrying(resp, statusCode)
	case transaction.TransactionProceeding:
		return t.handleResponseInProceeding(resp, statusCode)
	case transaction.TransactionCompleted:
		return t.handleResponseInCompleted(resp, statusCode)
	case transaction.TransactionTerminated:
		return fmt.Errorf("cannot send response in Terminated state")
	default:
		return fmt.Errorf("unexpected state %s", state)
	}
}

func (t *NonInviteTransaction) handleResponseInTrying(resp types.Message, statusCode int) error {
	if statusCode >= 100 && statusCode <= 199 {
		t.changeState(transaction.TransactionProceeding)
		t.notifyResponseHandlers(resp)
		return nil
	}

	if statusCode >= 200 && statusCode <= 699 {
		t.changeState(transaction.TransactionCompleted)
		t.finalResponse = resp

		t.startCompletedTimers()

		t.notifyResponseHandlers(resp)
		return nil
	}

	return fmt.Errorf("invalid status code: %d", statusCode)
}

func (t *NonInviteTransaction) handleResponseInProceeding(resp types.Message, statusCode int) error {
	if statusCode >= 100 && statusCode <= 199 {
		t.notifyResponseHandlers(resp)
		return nil
	}

	if statusCode >= 200 && statusCode <= 699 {
		t.changeState(transaction.TransactionCompleted)
		t.finalResponse = resp

		t.startCompletedTimers()

		t.notifyResponseHandlers(resp)
		return nil
	}

	return fmt.Errorf("invalid status code: %d", statusCode)
}

// handleResponseInCompleted only allows retransmitting the same final
// response Completed was entered with.
func (t *NonInviteTransaction) handleResponseInCompleted(resp types.Message, statusCode int) error {
	if t.finalResponse != nil && resp.StatusCode() == t.finalResponse.StatusCode() {
		t.notifyResponseHandlers(resp)
		return nil
	}

	return fmt.Errorf("cannot send different response in Completed state")
}

// startCompletedTimers arms Timer J over an unreliable transport to absorb
// request retransmits; over a reliable one there's nothing left to absorb,
// so the transaction moves straight to Terminated (RFC 3261 §17.2.2).
func (t *NonInviteTransaction) startCompletedTimers() {
	if !t.reliable && t.timers.TimerJ > 0 {
		t.startTimer(transaction.TimerJ, func() {
			t.handleTimerJ()
		})
	} else {
		t.Terminate()
	}
}

func (t *NonInviteTransaction) handleTimerJ() {
	state := t.State()
	if state == transaction.TransactionCompleted {
		t.Terminate()
	}
}

// HandleRequest only accepts a retransmit of the same method this
// transaction was created for.
func (t *NonInviteTransaction) HandleRequest(req types.Message) error {
	if req.Method() != t.request.Method() {
		return fmt.Errorf("method mismatch: expected %s, got %s", t.request.Method(), req.Method())
	}

	return t.BaseTransaction.HandleRequest(req)
}
