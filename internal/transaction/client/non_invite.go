package client

import (
	"fmt"
	"time"

	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/internal/transaction"
)

// NonInviteTransaction is the client non-INVITE transaction (NICT) state
// machine, RFC 3261 §17.1.2: Trying -> Proceeding -> Completed ->
// Terminated.
type NonInviteTransaction struct {
	*BaseTransaction

	retransmitCount   int
	currentRetransmit time.Duration
}

// NewNonInviteTransaction creates an NICT for request, starting in Trying
// (not Calling — NICT has no Calling state) and sending the request
// immediately.
func NewNonInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request types.Message,
	transport transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) *NonInviteTransaction {
	nict := &NonInviteTransaction{
		BaseTransaction:   NewBaseTransaction(id, key, request, transport, timers),
		currentRetransmit: timers.TimerE,
	}

	nict.state = transaction.TransactionTrying

	go nict.start()

	return nict
}

func (t *NonInviteTransaction) start() {
	if err := t.SendRequest(t.request); err != nil {
		t.notifyTransportErrorHandlers(err)
		t.Terminate()
		return
	}

	t.startTryingTimers()
}

func (t *NonInviteTransaction) startTryingTimers() {
	// Timer E: request retransmit, unreliable transport only.
	if !t.reliable && t.timers.TimerE > 0 {
		t.startTimer(transaction.TimerE, func() {
			t.handleTimerE()
		})
	}

	// Timer F: transaction timeout, always armed.
	t.startTimer(transaction.TimerF, func() {
		t.handleTimerF()
	})
}

// handleTimerE retransmits the request; the backoff differs by state
// (RFC 3261 §17.1.2.2): doubling up to T2 in Trying, flat at T2 once in
// Proceeding.
func (t *NonInviteTransaction) handleTimerE() {
	state := t.State()
	if state != transaction.TransactionTrying && state != transaction.TransactionProceeding {
		return
	}

	if err := t.SendRequest(t.request); err != nil {
		t.notifyTransportErrorHandlers(err)
		t.Terminate()
		return
	}

	t.retransmitCount++

	if state == transaction.TransactionTrying {
		t.currentRetransmit = transaction.GetNextRetransmitInterval(t.currentRetransmit, t.timers.T2)
	} else {
		t.currentRetransmit = t.timers.T2
	}

	t.timerManager.Reset(transaction.TimerE, t.currentRetransmit)
}

func (t *NonInviteTransaction) handleTimerF() {
	state := t.State()
	if state == transaction.TransactionTrying || state == transaction.TransactionProceeding {
		t.notifyTimeoutHandlers("Timer F")
		t.Terminate()
	}
}

// HandleResponse dispatches an inbound response to the per-state handler
// after BaseTransaction's CSeq check; Completed silently absorbs
// retransmitted final responses.
func (t *NonInviteTransaction) HandleResponse(resp types.Message) error {
	if err := t.BaseTransaction.HandleResponse(resp); err != nil {
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
		return nil
	default:
		return fmt.Errorf("unexpected response in state %s", state)
	}
}

func (t *NonInviteTransaction) handleResponseInTrying(resp types.Message, statusCode int) error {
	if statusCode >= 100 && statusCode <= 199 {
		t.changeState(transaction.TransactionProceeding)
		return nil
	}

	if statusCode >= 200 && statusCode <= 699 {
		t.changeState(transaction.TransactionCompleted)

		t.stopTimer(transaction.TimerE)
		t.stopTimer(transaction.TimerF)

		t.startCompletedTimers()

		return nil
	}

	return fmt.Errorf("invalid status code: %d", statusCode)
}

func (t *NonInviteTransaction) handleResponseInProceeding(resp types.Message, statusCode int) error {
	if statusCode >= 100 && statusCode <= 199 {
		return nil
	}

	if statusCode >= 200 && statusCode <= 699 {
		t.changeState(transaction.TransactionCompleted)

		t.stopTimer(transaction.TimerE)
		t.stopTimer(transaction.TimerF)

		t.startCompletedTimers()

		return nil
	}

	return fmt.Errorf("invalid status code: %d", statusCode)
}

// startCompletedTimers arms Timer K over an unreliable transport; over a
// reliable one there's nothing left to absorb, so the transaction moves
// straight to Terminated (RFC 3261 §17.1.2.2).
func (t *NonInviteTransaction) startCompletedTimers() {
	if !t.reliable && t.timers.TimerK > 0 {
		t.startTimer(transaction.TimerK, func() {
			t.handleTimerK()
		})
	} else {
		t.Terminate()
	}
}

func (t *NonInviteTransaction) handleTimerK() {
	state := t.State()
	if state == transaction.TransactionCompleted {
		t.Terminate()
	}
}

// Cancel always fails: CANCEL only ever applies to an INVITE transaction
// (RFC 3261 §9.1).
func (t *NonInviteTransaction) Cancel() error {
	return fmt.Errorf("cannot cancel non-INVITE transaction")
}
