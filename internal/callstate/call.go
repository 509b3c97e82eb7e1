package callstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"sipline.dev/core/internal/dialog"
	"sipline.dev/core/internal/obslog"
	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/mediaadapter"
)

// terminateGrace is the pause between sending BYE and disposing the media
// session, per spec §4.5 invariant 2 ("BYE -> wait 500ms grace -> dispose
// media -> emit Ended").
const terminateGrace = 500 * time.Millisecond

// Direction records which side originated the call.
type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

// Call binds one dialog to the call-state machine and the media session it
// owns for the duration of the call.
type Call struct {
	accountKey string
	direction  Direction

	dlg   dialog.Dialog
	media mediaadapter.Session

	machine *fsm.FSM

	mu             sync.Mutex
	history        []Record
	classification Classification
	endedOnce      sync.Once

	handlersMu sync.RWMutex
	handlers   []func(from, to State)

	log *obslog.Logger
}

// New creates a Call bound to dlg and media, in state Idle. The caller
// drives it into OutgoingInit/IncomingReceived via StartOutgoing/
// ReceiveInvite immediately after construction.
func New(accountKey string, direction Direction, dlg dialog.Dialog, media mediaadapter.Session, log *obslog.Logger) *Call {
	if log == nil {
		log = obslog.New()
	}
	c := &Call{
		accountKey: accountKey,
		direction:  direction,
		dlg:        dlg,
		media:      media,
		log:        log.WithComponent("callstate").WithFields(obslog.String("account", accountKey)),
	}
	c.machine = newMachine(c.onEnter)
	return c
}

func (c *Call) onEnter(_ context.Context, from, to State) {
	rec := Record{State: to, CallID: c.dlg.CallID(), Timestamp: time.Now()}
	c.mu.Lock()
	c.history = append(c.history, rec)
	c.mu.Unlock()
	c.log.Debug(context.Background(), "call state transition",
		obslog.String("from", string(from)), obslog.String("to", string(to)))

	c.handlersMu.RLock()
	handlers := append([]func(from, to State){}, c.handlers...)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		h(from, to)
	}
}

// OnStateChange registers a callback invoked on every state transition,
// mirroring internal/dialog's OnStateChange observer idiom so callers one
// layer up (sipcore) can publish call-state events without polling
// History.
func (c *Call) OnStateChange(fn func(from, to State)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// State returns the current state.
func (c *Call) State() State { return State(c.machine.Current()) }

// History returns the observable sequence of call-state records so far.
func (c *Call) History() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.history...)
}

// Classification returns the terminal call-log classification, valid once
// the call has reached Ended or Error.
func (c *Call) Classification() Classification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classification
}

func (c *Call) setClassification(cl Classification) {
	c.mu.Lock()
	c.classification = cl
	c.mu.Unlock()
}

// StartOutgoing moves Idle -> OutgoingInit and sends the initial INVITE
// with a freshly created local SDP offer.
func (c *Call) StartOutgoing(ctx context.Context) error {
	if err := c.machine.Event(ctx, evStartOutgoing); err != nil {
		return fmt.Errorf("callstate: %w", err)
	}
	if err := c.media.Initialize(ctx); err != nil {
		return c.fail(ctx, ErrorReasonMediaError, err)
	}
	offer, err := c.media.CreateOffer(ctx)
	if err != nil {
		return c.fail(ctx, ErrorReasonMediaError, err)
	}
	if _, err := c.dlg.SendRequestWithBody("INVITE", []byte(offer), "application/sdp"); err != nil {
		return c.fail(ctx, ErrorReasonNetworkError, err)
	}
	return nil
}

// ReceiveInvite moves Idle -> IncomingReceived for an inbound INVITE the
// dialog layer has already accepted at the transaction level.
func (c *Call) ReceiveInvite(ctx context.Context) error {
	if err := c.machine.Event(ctx, evIncomingInvite); err != nil {
		return fmt.Errorf("callstate: %w", err)
	}
	return nil
}

// HandleProvisional processes a 1xx response/request on an outgoing call.
func (c *Call) HandleProvisional(ctx context.Context, code int) error {
	if code == 100 {
		return c.machine.Event(ctx, evProvisional)
	}
	return c.machine.Event(ctx, evRinging)
}

// HandleFinalResponse processes the final response to the initiating
// INVITE (outgoing) or the local accept/decline result (incoming, driven
// through Accept/Decline instead). 2xx moves to Connected; >=300 fails.
func (c *Call) HandleFinalResponse(ctx context.Context, code int, reason string) error {
	if code >= 200 && code < 300 {
		if err := c.machine.Event(ctx, evConnect); err != nil {
			return fmt.Errorf("callstate: %w", err)
		}
		answer, err := c.media.CreateAnswer(ctx, reason)
		_ = answer
		if err != nil {
			return c.fail(ctx, ErrorReasonMediaError, err)
		}
		return c.machine.Event(ctx, evStreamsUp)
	}

	classification := ClassAborted
	if c.direction == DirectionIncoming {
		classification = ClassMissed
	}
	c.setClassification(classification)
	c.markRecordCode(code, reason)
	return c.machine.Event(ctx, evError)
}

// Accept answers an incoming call with 200 OK once local SDP is ready
// (invariant: 2xx is not sent until local SDP is produced).
func (c *Call) Accept(ctx context.Context, remoteOffer string) error {
	if err := c.media.Initialize(ctx); err != nil {
		return c.fail(ctx, ErrorReasonMediaError, err)
	}
	answer, err := c.media.CreateAnswer(ctx, remoteOffer)
	if err != nil {
		return c.fail(ctx, ErrorReasonMediaError, err)
	}
	if _, err := c.dlg.SendRequestWithBody("200", []byte(answer), "application/sdp"); err != nil {
		return c.fail(ctx, ErrorReasonNetworkError, err)
	}
	if err := c.machine.Event(ctx, evConnect); err != nil {
		return fmt.Errorf("callstate: %w", err)
	}
	return c.machine.Event(ctx, evStreamsUp)
}

// Decline rejects an incoming call with 603 Declined while still
// IncomingReceived.
func (c *Call) Decline(ctx context.Context) error {
	if c.State() != StateIncomingReceived {
		return fmt.Errorf("callstate: decline requires IncomingReceived, have %s", c.State())
	}
	if _, err := c.dlg.SendRequest("603"); err != nil {
		c.log.Warn(ctx, "sending 603 Declined failed", obslog.Err(err))
	}
	c.setClassification(ClassDeclined)
	c.markRecordCode(603, "Declined")
	return c.terminateFrom(ctx, StateIncomingReceived)
}

// Deflect redirects an incoming call with 302 Moved Temporarily while still
// IncomingReceived (spec §9 open question: Deflected is its own
// classification, distinct from Declined but IsDeclinedLike()).
func (c *Call) Deflect(ctx context.Context, newContact string) error {
	if c.State() != StateIncomingReceived {
		return fmt.Errorf("callstate: deflect requires IncomingReceived, have %s", c.State())
	}
	if _, err := c.dlg.SendRequest("302"); err != nil {
		c.log.Warn(ctx, "sending 302 Moved Temporarily failed", obslog.Err(err))
	}
	c.setClassification(ClassDeflected)
	c.markRecordCode(302, "Moved Temporarily")
	return c.terminateFrom(ctx, StateIncomingReceived)
}

// Hold re-INVITEs with a=sendonly/inactive and moves StreamsRunning ->
// Pausing -> Paused on success.
func (c *Call) Hold(ctx context.Context) error {
	if err := c.machine.Event(ctx, evHold); err != nil {
		return fmt.Errorf("callstate: %w", err)
	}
	sdp, err := c.media.HoldLocal(ctx)
	if err != nil {
		return c.fail(ctx, ErrorReasonMediaError, err)
	}
	if _, err := c.dlg.SendRequestWithBody("INVITE", []byte(sdp), "application/sdp"); err != nil {
		return c.fail(ctx, ErrorReasonNetworkError, err)
	}
	return c.machine.Event(ctx, evHoldOk)
}

// Resume re-INVITEs with a=sendrecv and moves Paused -> Resuming ->
// StreamsRunning on success.
func (c *Call) Resume(ctx context.Context) error {
	if err := c.machine.Event(ctx, evResume); err != nil {
		return fmt.Errorf("callstate: %w", err)
	}
	sdp, err := c.media.ResumeLocal(ctx)
	if err != nil {
		return c.fail(ctx, ErrorReasonMediaError, err)
	}
	if _, err := c.dlg.SendRequestWithBody("INVITE", []byte(sdp), "application/sdp"); err != nil {
		return c.fail(ctx, ErrorReasonNetworkError, err)
	}
	return c.machine.Event(ctx, evResumeOk)
}

// SetMuted/SetAudioEnabled pass straight through to the media session;
// they carry no state-machine transition.
func (c *Call) SetMuted(muted bool)        { c.media.SetMuted(muted) }
func (c *Call) SetAudioEnabled(on bool)    { c.media.SetAudioEnabled(on) }

// SendDTMF is only valid in Connected/StreamsRunning (invariant 3).
func (c *Call) SendDTMF(ctx context.Context, digits string, durationMS, gapMS int) (bool, error) {
	switch c.State() {
	case StateConnected, StateStreamsRunning:
	default:
		return false, fmt.Errorf("callstate: DTMF rejected outside Connected/StreamsRunning (state %s)", c.State())
	}
	return c.media.SendDTMF(ctx, digits, durationMS, gapMS)
}

// Transfer issues a REFER toward target (RFC 3515 call transfer) and waits
// for the NOTIFY subscription to resolve.
func (c *Call) Transfer(ctx context.Context, target string) (*dialog.ReferSubscription, error) {
	if err := c.dlg.SendRefer(ctx, target, nil); err != nil {
		return nil, fmt.Errorf("callstate: %w", err)
	}
	sub, err := c.dlg.WaitRefer(ctx)
	if err != nil {
		return sub, fmt.Errorf("callstate: %w", err)
	}
	return sub, nil
}

// NotifyTransferResult feeds an incoming NOTIFY (Event: refer) into the
// dialog's pending REFER subscription.
func (c *Call) NotifyTransferResult(notify types.Message) error {
	return c.dlg.ProcessNotify(notify)
}

// Terminate hangs up the call: send BYE, wait the grace period, dispose the
// media session, and emit exactly one Ended record (invariant 4).
func (c *Call) Terminate(ctx context.Context) error {
	cur := c.State()
	switch cur {
	case StateEnded, StateEnding:
		return nil
	}

	// Before the far end has answered, the dialog is still early: ending
	// the call means CANCELing the outstanding INVITE, not BYEing a dialog
	// that was never confirmed (RFC 3261 §9.1/§15).
	switch cur {
	case StateOutgoingInit, StateOutgoingProgress, StateOutgoingRinging:
		if err := c.dlg.Cancel(); err != nil {
			c.log.Warn(ctx, "sending CANCEL failed", obslog.Err(err))
		}
	default:
		if _, err := c.dlg.SendRequest("BYE"); err != nil {
			c.log.Warn(ctx, "sending BYE failed", obslog.Err(err))
		}
	}
	c.setClassification(ClassSuccess)
	return c.terminateFrom(ctx, cur)
}

func (c *Call) terminateFrom(ctx context.Context, _ State) error {
	if err := c.machine.Event(ctx, evTerminate); err != nil {
		return fmt.Errorf("callstate: %w", err)
	}

	select {
	case <-time.After(terminateGrace):
	case <-ctx.Done():
	}
	c.media.Dispose()

	var endErr error
	c.endedOnce.Do(func() {
		endErr = c.machine.Event(ctx, evEnded)
	})
	return endErr
}

// fail records a Network/Media/Timeout error and transitions to Error.
func (c *Call) fail(ctx context.Context, reason ErrorReason, cause error) error {
	c.mu.Lock()
	if len(c.history) > 0 {
		c.history[len(c.history)-1].ErrorReason = reason
	}
	c.mu.Unlock()
	c.log.Error(ctx, "call failed", obslog.String("reason", string(reason)), obslog.Err(cause))
	if evErr := c.machine.Event(ctx, evError); evErr != nil {
		return fmt.Errorf("callstate: %s: %w (and transition failed: %v)", reason, cause, evErr)
	}
	return fmt.Errorf("callstate: %s: %w", reason, cause)
}

func (c *Call) markRecordCode(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) > 0 {
		c.history[len(c.history)-1].SIPCode = code
		c.history[len(c.history)-1].SIPReason = reason
	}
}

// HandleTransportDrop implements the spec §4.5 failure semantics: dropped
// transport during the early phase aborts immediately; during a confirmed
// call it is tolerated for up to graceWindow before failing.
func (c *Call) HandleTransportDrop(ctx context.Context, graceWindow time.Duration) error {
	switch c.State() {
	case StateConnected, StateStreamsRunning, StatePausing, StatePaused, StateResuming:
		timer := time.NewTimer(graceWindow)
		defer timer.Stop()
		select {
		case <-timer.C:
			c.setClassification(ClassAborted)
			return c.fail(ctx, ErrorReasonNetworkError, fmt.Errorf("transport did not recover within %s", graceWindow))
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		classification := ClassAborted
		if c.direction == DirectionIncoming {
			classification = ClassMissed
		}
		c.setClassification(classification)
		return c.fail(ctx, ErrorReasonNetworkError, fmt.Errorf("transport dropped before call was confirmed"))
	}
}
