package sipcore

import (
	"context"
	"fmt"
	"time"

	"sipline.dev/core/internal/callstate"
	"sipline.dev/core/internal/dialog"
	"sipline.dev/core/internal/sipmsg/types"
)

// MakeCall implements spec §6's makeCall(to, from_username, from_domain):
// it originates an outgoing INVITE dialog on the named account and drives
// the call-state machine into OutgoingInit.
func (c *Core) MakeCall(ctx context.Context, to, fromUsername, fromDomain string) (string, error) {
	accountKey := fromUsername + "@" + fromDomain
	acct, ok := c.registry.Get(accountKey)
	if !ok {
		return "", newError(KindState, "makeCall", fmt.Errorf("account %s not registered", accountKey))
	}

	target, err := types.ParseAddress(to)
	if err != nil {
		target, err = types.NewAddressFromString("sip:" + to)
		if err != nil {
			return "", newError(KindProtocol, "makeCall", fmt.Errorf("invalid target %q: %w", to, err))
		}
	}

	dlg := dialog.NewOutgoingDialog(acct.TxManager(), c.dialogs, acct.AOR(), target.URI(), acct.Contact())
	c.dialogs.Add(dlg)

	media := c.newMediaSession()
	call, err := acct.Calls.StartOutgoing(ctx, dlg, media)
	if err != nil {
		c.dialogs.Remove(dlg)
		return "", c.classifyCallErr("makeCall", err)
	}

	c.wireCallEvents(accountKey, dlg.CallID(), call)
	c.trackCall(accountKey, acct, call, dlg.CallID())
	c.metrics.CallStarted()
	return dlg.CallID(), nil
}

// wireCallEvents publishes a CallEvent for every state call passes
// through from here on (spec §6 "per-call call state" subscription).
func (c *Core) wireCallEvents(accountKey, callID string, call *callstate.Call) {
	call.OnStateChange(func(from, to callstate.State) {
		c.callEvents.Publish(CallEvent{
			TraceID: newTraceID(), CallID: callID, AccountKey: accountKey,
			State: to, Timestamp: time.Now(),
		})
		terminal := to == callstate.StateEnded || to == callstate.StateError
		c.metrics.CallStateChanged(string(from), string(to), terminal, time.Time{})
	})
}

// EndCall implements spec §6's endCall(call_id?): BYE, grace period,
// media teardown.
func (c *Core) EndCall(ctx context.Context, callID string) error {
	tc, err := c.resolveCall(callID)
	if err != nil {
		return err
	}
	if err := tc.call.Terminate(ctx); err != nil {
		return c.classifyCallErr("endCall", err)
	}
	c.finishCall(tc)
	return nil
}

// AcceptCall implements spec §6's acceptCall(call_id?).
func (c *Core) AcceptCall(ctx context.Context, callID, remoteOfferSDP string) error {
	tc, err := c.resolveCall(callID)
	if err != nil {
		return err
	}
	if err := tc.call.Accept(ctx, remoteOfferSDP); err != nil {
		return c.classifyCallErr("acceptCall", err)
	}
	return nil
}

// DeclineCall implements spec §6's declineCall(call_id?).
func (c *Core) DeclineCall(ctx context.Context, callID string) error {
	tc, err := c.resolveCall(callID)
	if err != nil {
		return err
	}
	if err := tc.call.Decline(ctx); err != nil {
		return c.classifyCallErr("declineCall", err)
	}
	c.finishCall(tc)
	return nil
}

// Hold implements spec §6's hold(call_id?).
func (c *Core) Hold(ctx context.Context, callID string) error {
	tc, err := c.resolveCall(callID)
	if err != nil {
		return err
	}
	return c.classifyCallErr("hold", tc.call.Hold(ctx))
}

// Resume implements spec §6's resume(call_id?).
func (c *Core) Resume(ctx context.Context, callID string) error {
	tc, err := c.resolveCall(callID)
	if err != nil {
		return err
	}
	return c.classifyCallErr("resume", tc.call.Resume(ctx))
}

// Mute implements spec §6's mute(); it applies to the sole active call,
// matching the spec's zero-argument signature.
func (c *Core) Mute(muted bool) error {
	tc, err := c.resolveCall("")
	if err != nil {
		return err
	}
	tc.call.SetMuted(muted)
	return nil
}

// SendDtmf implements spec §6's sendDtmf(digit, duration_ms=160).
func (c *Core) SendDtmf(ctx context.Context, callID, digit string, durationMS int) error {
	if durationMS <= 0 {
		durationMS = 160
	}
	tc, err := c.resolveCall(callID)
	if err != nil {
		return err
	}
	ok, err := tc.call.SendDTMF(ctx, digit, durationMS, durationMS/2)
	if err != nil {
		return c.classifyCallErr("sendDtmf", err)
	}
	if !ok {
		return newError(KindMedia, "sendDtmf", fmt.Errorf("DTMF not accepted"))
	}
	return nil
}

// SendDtmfSequence implements spec §6's sendDtmfSequence(digits): each
// digit uses the same default cadence as SendDtmf, sent back to back.
func (c *Core) SendDtmfSequence(ctx context.Context, callID, digits string) error {
	tc, err := c.resolveCall(callID)
	if err != nil {
		return err
	}
	ok, err := tc.call.SendDTMF(ctx, digits, 160, 80)
	if err != nil {
		return c.classifyCallErr("sendDtmfSequence", err)
	}
	if !ok {
		return newError(KindMedia, "sendDtmfSequence", fmt.Errorf("DTMF sequence not accepted"))
	}
	return nil
}

// Transfer implements spec §6's transfer(to, call_id?): RFC 3515 REFER.
func (c *Core) Transfer(ctx context.Context, callID, to string) (*dialog.ReferSubscription, error) {
	tc, err := c.resolveCall(callID)
	if err != nil {
		return nil, err
	}
	sub, err := tc.call.Transfer(ctx, to)
	if err != nil {
		return nil, c.classifyCallErr("transfer", err)
	}
	return sub, nil
}

// Deflect implements spec §6's deflect(to, call_id?): a 302 Moved
// Temporarily response to an incoming call still in IncomingReceived.
func (c *Core) Deflect(ctx context.Context, callID, to string) error {
	tc, err := c.resolveCall(callID)
	if err != nil {
		return err
	}
	if err := tc.call.Deflect(ctx, to); err != nil {
		return c.classifyCallErr("deflect", err)
	}
	c.finishCall(tc)
	return nil
}

func (c *Core) finishCall(tc *trackedCall) {
	callID := tc.call.History()
	var id string
	if len(callID) > 0 {
		id = callID[0].CallID
	}
	c.untrackCall(id)
	tc.account.Calls.Release(tc.call)
}

// classifyCallErr maps a callstate/dialog failure into the sipcore.Error
// kind taxonomy spec §7 requires callers be able to switch on. nil passes
// through unchanged so callers can write `return c.classifyCallErr(op,
// tc.call.Hold(ctx))` directly.
func (c *Core) classifyCallErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case err == dialog.ErrDialogTerminated:
		return newError(KindState, op, err)
	default:
		return newError(KindProtocol, op, err)
	}
}
