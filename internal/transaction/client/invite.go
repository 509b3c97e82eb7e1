package client

import (
	"fmt"
	"time"

	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/internal/transaction"
)

// InviteTransaction is the client INVITE transaction (ICT) state machine,
// RFC 3261 §17.1.1: Calling -> Proceeding -> Completed -> Terminated, with
// the 2xx shortcut straight from Calling/Proceeding to Terminated.
type InviteTransaction struct {
	*BaseTransaction

	retransmitCount   int
	currentRetransmit time.Duration

	// finalResponse is the non-2xx final response that moved this
	// transaction to Completed. A retransmitted final response in Completed
	// gets a freshly built ACK (handleResponseInCompleted).
	finalResponse types.Message
}

// NewInviteTransaction creates an ICT for request and starts it: sends the
// INVITE immediately and arms the Calling-state timers.
func NewInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request types.Message,
	transport transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) *InviteTransaction {
	ict := &InviteTransaction{
		BaseTransaction:   NewBaseTransaction(id, key, request, transport, timers),
		currentRetransmit: timers.TimerA,
	}

	go ict.start()

	return ict
}

func (t *InviteTransaction) start() {
	if err := t.SendRequest(t.request); err != nil {
		t.notifyTransportErrorHandlers(err)
		t.Terminate()
		return
	}

	t.startCallingTimers()
}

func (t *InviteTransaction) startCallingTimers() {
	// Timer A: request retransmit, unreliable transport only.
	if !t.reliable && t.timers.TimerA > 0 {
		t.startTimer(transaction.TimerA, func() {
			t.handleTimerA()
		})
	}

	// Timer B: transaction timeout, always armed.
	t.startTimer(transaction.TimerB, func() {
		t.handleTimerB()
	})
}

// handleTimerA retransmits the INVITE and reschedules itself at double the
// interval, capped at T2 (RFC 3261 §17.1.1.2).
func (t *InviteTransaction) handleTimerA() {
	state := t.State()
	if state != transaction.TransactionCalling {
		return
	}

	if err := t.SendRequest(t.request); err != nil {
		t.notifyTransportErrorHandlers(err)
		t.Terminate()
		return
	}

	t.retransmitCount++
	t.currentRetransmit = transaction.GetNextRetransmitInterval(t.currentRetransmit, t.timers.T2)
	t.timerManager.Reset(transaction.TimerA, t.currentRetransmit)
}

// handleTimerB fires the transaction timeout if no final response has
// arrived yet.
func (t *InviteTransaction) handleTimerB() {
	state := t.State()
	if state == transaction.TransactionCalling || state == transaction.TransactionProceeding {
		t.notifyTimeoutHandlers("Timer B")
		t.Terminate()
	}
}

// HandleResponse dispatches an inbound response to the per-state handler
// after BaseTransaction's CSeq check.
func (t *InviteTransaction) HandleResponse(resp types.Message) error {
	if err := t.BaseTransaction.HandleResponse(resp); err != nil {
		return err
	}

	statusCode := resp.StatusCode()
	state := t.State()

	switch state {
	case transaction.TransactionCalling:
		return t.handleResponseInCalling(resp, statusCode)
	case transaction.TransactionProceeding:
		return t.handleResponseInProceeding(resp, statusCode)
	case transaction.TransactionCompleted:
		return t.handleResponseInCompleted(resp, statusCode)
	default:
		return fmt.Errorf("unexpected response in state %s", state)
	}
}

func (t *InviteTransaction) handleResponseInCalling(resp types.Message, statusCode int) error {
	if statusCode >= 100 && statusCode <= 199 {
		t.changeState(transaction.TransactionProceeding)
		t.stopTimer(transaction.TimerA)
		return nil
	}

	if statusCode >= 200 && statusCode <= 299 {
		// No Completed state for 2xx (RFC 3261 §17.1.1.2): the INVITE
		// transaction's job ends here, ACK is the dialog layer's to send.
		t.Terminate()
		return nil
	}

	if statusCode >= 300 && statusCode <= 699 {
		t.changeState(transaction.TransactionCompleted)
		t.finalResponse = resp

		t.stopTimer(transaction.TimerA)
		t.stopTimer(transaction.TimerB)

		if err := t.sendACK(resp); err != nil {
			return fmt.Errorf("failed to send ACK: %w", err)
		}

		t.startCompletedTimers()

		return nil
	}

	return fmt.Errorf("invalid status code: %d", statusCode)
}

func (t *InviteTransaction) handleResponseInProceeding(resp types.Message, statusCode int) error {
	if statusCode >= 100 && statusCode <= 199 {
		return nil
	}

	if statusCode >= 200 && statusCode <= 299 {
		t.Terminate()
		return nil
	}

	if statusCode >= 300 && statusCode <= 699 {
		t.changeState(transaction.TransactionCompleted)
		t.finalResponse = resp

		t.stopTimer(transaction.TimerB)

		if err := t.sendACK(resp); err != nil {
			return fmt.Errorf("failed to send ACK: %w", err)
		}

		t.startCompletedTimers()

		return nil
	}

	return fmt.Errorf("invalid status code: %d", statusCode)
}

// handleResponseInCompleted retransmits ACK for every retransmitted non-2xx
// final response received in Completed (RFC 3261 §17.1.1.2).
func (t *InviteTransaction) handleResponseInCompleted(resp types.Message, statusCode int) error {
	if statusCode >= 300 && statusCode <= 699 {
		if err := t.sendACK(resp); err != nil {
			return fmt.Errorf("failed to retransmit ACK: %w", err)
		}
	}

	return nil
}

func (t *InviteTransaction) startCompletedTimers() {
	// Timer D: time spent absorbing response retransmits before moving to
	// Terminated.
	t.startTimer(transaction.TimerD, func() {
		t.handleTimerD()
	})
}

func (t *InviteTransaction) handleTimerD() {
	state := t.State()
	if state == transaction.TransactionCompleted {
		t.Terminate()
	}
}

// sendACK builds and sends the ACK for a non-2xx final response, to the
// same target the INVITE itself went to.
func (t *InviteTransaction) sendACK(resp types.Message) error {
	builder := transaction.NewMessageBuilder()

	ack, err := builder.BuildACKForNon2xx(t.request, resp)
	if err != nil {
		return fmt.Errorf("failed to build ACK: %w", err)
	}

	target := fmt.Sprintf("%s:%d", t.request.RequestURI().Host(), t.request.RequestURI().Port())
	if t.request.RequestURI().Port() == 0 {
		target = t.request.RequestURI().Host() + ":5060"
	}
	if err := t.transport.Send(ack, target); err != nil {
		return fmt.Errorf("failed to send ACK: %w", err)
	}

	return nil
}

// Cancel defers to BaseTransaction — CANCEL only ever applies to an INVITE
// transaction, so there's nothing INVITE-specific to add here.
func (t *InviteTransaction) Cancel() error {
	return t.BaseTransaction.Cancel()
}
