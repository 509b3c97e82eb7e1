package dialog

import (
	"context"
	"fmt"
	"sync"

	"sipline.dev/core/internal/sipmsg/types"
)

// referState tracks the single outstanding REFER this dialog may have in
// flight; RFC 3515 §2.4.7 expects one subscription per REFER, so a second
// REFER while one is pending is rejected outright (ErrReferPending).
type referState struct {
	mu           sync.Mutex
	subscription *ReferSubscription
}

// SendRefer issues a REFER request asking the peer to initiate a new dialog
// toward targetURI (call transfer, RFC 3515). The dialog must be
// Established; a REFER already in flight is rejected.
func (d *sipDialog) SendRefer(ctx context.Context, targetURI string, opts *ReferOpts) error {
	if d.State() != DialogStateEstablished {
		return &DialogError{Code: 491, Message: "dialog must be established to send REFER"}
	}

	d.referMu.Lock()
	if d.refer != nil && d.refer.subscription != nil && d.refer.subscription.State != "terminated" {
		d.referMu.Unlock()
		return ErrReferPending
	}
	d.refer = &referState{}
	d.referMu.Unlock()

	target, err := types.ParseURI(targetURI)
	if err != nil {
		return fmt.Errorf("dialog: parsing Refer-To target: %w", err)
	}

	tx, err := d.SendRequestWithBody("REFER", nil, "")
	if err != nil {
		return err
	}
	req := tx.Request()
	req.SetHeader("Refer-To", "<"+target.String()+">")
	if opts != nil {
		if opts.NoReferSub {
			req.SetHeader("Refer-Sub", "false")
		} else if opts.ReferSub != nil {
			req.SetHeader("Refer-Sub", *opts.ReferSub)
		}
		for name, value := range opts.Headers {
			req.SetHeader(name, value)
		}
	}
	if err := tx.SendRequest(req); err != nil {
		return fmt.Errorf("dialog: sending REFER: %w", err)
	}

	sub := &ReferSubscription{ID: d.id.CallID + ":refer", Event: "refer", State: "pending", Done: make(chan struct{})}
	d.referMu.Lock()
	d.refer.subscription = sub
	d.referMu.Unlock()

	return nil
}

// WaitRefer blocks until the REFER's NOTIFY subscription reports a terminal
// sipfrag status or ctx is cancelled.
func (d *sipDialog) WaitRefer(ctx context.Context) (*ReferSubscription, error) {
	d.referMu.Lock()
	r := d.refer
	d.referMu.Unlock()
	if r == nil || r.subscription == nil {
		return nil, fmt.Errorf("dialog: no REFER in progress")
	}

	select {
	case <-r.subscription.Done:
		return r.subscription, r.subscription.Error
	case <-ctx.Done():
		return r.subscription, ctx.Err()
	}
}

// ProcessNotify consumes a NOTIFY carrying a message/sipfrag body reporting
// REFER progress (RFC 3515 §2.4.4) and resolves WaitRefer once the fragment
// carries a final status line, or once the Subscription-State header itself
// reports "terminated" (RFC 6665 §4.1.3 — the header is authoritative over
// the body, a subscriber NOTIFY'd out without a final sipfrag must still
// stop waiting).
func (d *sipDialog) ProcessNotify(notify types.Message) error {
	d.referMu.Lock()
	r := d.refer
	d.referMu.Unlock()
	if r == nil || r.subscription == nil {
		return nil
	}

	var subState *types.SubscriptionState
	if raw := notify.GetHeader("Subscription-State"); raw != "" {
		subState, _ = types.ParseSubscriptionState(raw)
	}

	status := parseSipfragStatus(notify.Body())
	if status != 0 {
		r.subscription.Progress = status
		if status >= 300 {
			r.subscription.Error = fmt.Errorf("refer: transfer failed with status %d", status)
		}
	}

	terminate := status >= 200 || (subState != nil && subState.State == types.SubscriptionStateTerminated)
	if terminate {
		if subState != nil && subState.State == types.SubscriptionStateTerminated && status == 0 && r.subscription.Error == nil {
			reason := subState.Reason
			if reason == "" {
				reason = "unspecified"
			}
			r.subscription.Error = fmt.Errorf("refer: subscription terminated: %s", reason)
		}
		r.subscription.State = "terminated"
		select {
		case <-r.subscription.Done:
		default:
			close(r.subscription.Done)
		}
	} else if status != 0 {
		r.subscription.State = "active"
	}
	return nil
}

// parseSipfragStatus extracts the status code from a message/sipfrag body
// ("SIP/2.0 200 OK" as the first line); returns 0 if none is found.
func parseSipfragStatus(body []byte) int {
	line := string(body)
	for i, c := range line {
		if c == '\n' || c == '\r' {
			line = line[:i]
			break
		}
	}
	var version string
	var code int
	if _, err := fmt.Sscanf(line, "%s %d", &version, &code); err != nil {
		return 0
	}
	return code
}
