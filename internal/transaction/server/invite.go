package server

import (
	"fmt"
	"time"

	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/internal/transaction"
)

// InviteTransaction is the server INVITE transaction (IST) state machine,
// RFC 3261 §17.2.1: Proceeding -> Completed -> Confirmed -> Terminated,
// with the 2xx shortcut straight from Proceeding to Terminated.
type InviteTransaction struct {
	*BaseTransaction

	retransmitCount   int
	currentRetransmit time.Duration
	finalResponse     types.Message
}

// NewInviteTransaction creates an IST for request, starting directly in
// Proceeding — unlike the client side, a server INVITE transaction has no
// Calling-equivalent state.
func NewInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request types.Message,
	transport transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) *InviteTransaction {
	ist := &InviteTransaction{
		BaseTransaction:   NewBaseTransaction(id, key, request, transport, timers),
		currentRetransmit: timers.TimerG,
	}

	ist.state = transaction.TransactionProceeding

	return ist
}

// SendResponse sends resp and advances the state machine according to its
// status code.
func (t *InviteTransaction) SendResponse(resp types.Message) error {
	if err := t.BaseTransaction.SendResponse(resp); err != nil {
		return err
	}

	statusCode := resp.StatusCode()
	state := t.State()

	switch state {
	case transaction.TransactionProceeding:
		return t.handleResponseInProceeding(resp, statusCode)
	case transaction.TransactionCompleted:
		return t.handleResponseInCompleted(resp, statusCode)
	case transaction.TransactionConfirmed:
		return fmt.Errorf("cannot send response in Confirmed state")
	case transaction.TransactionTerminated:
		return fmt.Errorf("cannot send response in Terminated state")
	default:
		return fmt.Errorf("unexpected state %s", state)
	}
}

func (t *InviteTransaction) handleResponseInProceeding(resp types.Message, statusCode int) error {
	if statusCode >= 100 && statusCode <= 199 {
		t.notifyResponseHandlers(resp)
		return nil
	}

	if statusCode >= 200 && statusCode <= 299 {
		// No Completed state for 2xx (RFC 3261 §17.2.1): once the UAC has
		// its ACK-free 2xx, this transaction's job is done.
		t.Terminate()
		t.notifyResponseHandlers(resp)
		return nil
	}

	if statusCode >= 300 && statusCode <= 699 {
		t.changeState(transaction.TransactionCompleted)
		t.finalResponse = resp

		t.startCompletedTimers()

		t.notifyResponseHandlers(resp)
		return nil
	}

	return fmt.Errorf("invalid status code: %d", statusCode)
}

// handleResponseInCompleted only allows retransmitting the same final
// response Completed was entered with — anything else would mean sending a
// second, different final response to the same request.
func (t *InviteTransaction) handleResponseInCompleted(resp types.Message, statusCode int) error {
	if t.finalResponse != nil && resp.StatusCode() == t.finalResponse.StatusCode() {
		t.notifyResponseHandlers(resp)
		return nil
	}

	return fmt.Errorf("cannot send different response in Completed state")
}

func (t *InviteTransaction) startCompletedTimers() {
	// Timer G: final-response retransmit, unreliable transport only.
	if !t.reliable && t.timers.TimerG > 0 {
		t.startTimer(transaction.TimerG, func() {
			t.handleTimerG()
		})
	}

	// Timer H: ACK wait timeout, always armed.
	t.startTimer(transaction.TimerH, func() {
		t.handleTimerH()
	})
}

// handleTimerG retransmits the final response and reschedules itself at
// double the interval, capped at T2 (RFC 3261 §17.2.1).
func (t *InviteTransaction) handleTimerG() {
	state := t.State()
	if state != transaction.TransactionCompleted {
		return
	}

	if t.finalResponse != nil {
		if err := t.SendResponse(t.finalResponse); err != nil {
			t.notifyTransportErrorHandlers(err)
			return
		}

		t.retransmitCount++
		t.currentRetransmit = transaction.GetNextRetransmitInterval(t.currentRetransmit, t.timers.T2)
		t.timerManager.Reset(transaction.TimerG, t.currentRetransmit)
	}
}

// handleTimerH fires if no ACK arrives before the INVITE transaction gives
// up waiting for one.
func (t *InviteTransaction) handleTimerH() {
	state := t.State()
	if state == transaction.TransactionCompleted {
		t.notifyTimeoutHandlers("Timer H")
		t.Terminate()
	}
}

// HandleACK processes an inbound ACK to this transaction's non-2xx final
// response, moving Completed -> Confirmed (RFC 3261 §17.2.1); an ACK
// arriving while already Confirmed is a harmless retransmit.
func (t *InviteTransaction) HandleACK(ack types.Message) error {
	if ack.Method() != "ACK" {
		return fmt.Errorf("not an ACK request")
	}

	state := t.State()

	switch state {
	case transaction.TransactionCompleted:
		t.changeState(transaction.TransactionConfirmed)

		t.stopTimer(transaction.TimerG)
		t.stopTimer(transaction.TimerH)

		t.startConfirmedTimers()

		return nil

	case transaction.TransactionConfirmed:
		return nil

	default:
		return fmt.Errorf("unexpected ACK in state %s", state)
	}
}

// startConfirmedTimers arms Timer I over an unreliable transport to absorb
// any ACK retransmits; over a reliable one there's nothing left to absorb,
// so the transaction moves straight to Terminated.
func (t *InviteTransaction) startConfirmedTimers() {
	if !t.reliable && t.timers.TimerI > 0 {
		t.startTimer(transaction.TimerI, func() {
			t.handleTimerI()
		})
	} else {
		t.Terminate()
	}
}

func (t *InviteTransaction) handleTimerI() {
	state := t.State()
	if state == transaction.TransactionConfirmed {
		t.Terminate()
	}
}

// HandleRequest only accepts retransmitted INVITEs; ACK is handled
// separately through HandleACK, and nothing else shares this transaction's
// key.
func (t *InviteTransaction) HandleRequest(req types.Message) error {
	if req.Method() != "INVITE" {
		return fmt.Errorf("expected INVITE, got %s", req.Method())
	}

	return t.BaseTransaction.HandleRequest(req)
}
