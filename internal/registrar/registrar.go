// Package registrar implements the per-account REGISTER client (spec §4.4):
// challenge/response auth with a retry-once policy, refresh scheduling, and
// the registration state machine from spec §3. The state machine itself is
// built on github.com/looplab/fsm, the same library and callback idiom the
// internal/callstate package uses for the call state machine.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"sipline.dev/core/internal/auth"
	"sipline.dev/core/internal/obslog"
	"sipline.dev/core/internal/sipmsg/builder"
	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/internal/transaction"
)

// registrationTimeout bounds a single REGISTER attempt end to end,
// including one challenge retry, per spec §5 ("registration attempt 30s
// timeout -> Failed/Timeout").
const registrationTimeout = 30 * time.Second

// refreshSafetyMargin is subtracted from the granted/requested expiry when
// scheduling the refresh timer, per spec §4.4.
const refreshSafetyMargin = 60 * time.Second

// TxManager is the subset of transaction.TransactionManager the registrar
// needs to originate REGISTER requests; it matches *transaction.Manager's
// shape directly.
type TxManager interface {
	CreateClientTransaction(req types.Message) (transaction.Transaction, error)
}

// StateChangeHandler is notified on every registration state transition.
type StateChangeHandler func(old, new RegState)

// Options configures a Registrar for one account.
type Options struct {
	AccountKey   string // "username@domain"
	AOR          types.Address
	RegistrarURI types.URI
	Contact      types.Address // host/port filled by the transport, transport=ws set here
	Credentials  auth.Credentials

	// UABase is the base User-Agent string; " Push" is appended when in
	// background mode (spec §4.4).
	UABase string

	// DefaultExpires is requested when the caller does not override it.
	DefaultExpires int
	// MaxExpires caps the refresh schedule regardless of what the
	// registrar grants (spec §4.4: "min(expires, configured_max) - 60s").
	MaxExpires time.Duration

	TxManager TxManager
	Logger    *obslog.Logger
}

// Registrar drives one account's REGISTER lifecycle.
type Registrar struct {
	opts Options
	log  *obslog.Logger

	machine *fsm.FSM
	mu      sync.Mutex

	callID     string
	cseq       uint32 // atomic
	background bool
	nonce      *auth.NonceState
	lastError  error

	refreshTimer *time.Timer

	handlersMu sync.Mutex
	handlers   []StateChangeHandler
}

// New creates a Registrar in state None.
func New(opts Options) *Registrar {
	log := opts.Logger
	if log == nil {
		log = obslog.New()
	}
	r := &Registrar{
		opts:   opts,
		log:    log.WithComponent("registrar").WithFields(obslog.String("account", opts.AccountKey)),
		callID: newCallID(opts.AccountKey),
		cseq:   0,
	}
	r.machine = fsm.NewFSM(
		string(StateNone),
		fsm.Events{
			{Name: evStart, Src: []string{string(StateNone)}, Dst: string(StateInProgress)},
			{Name: evChallenge, Src: []string{string(StateInProgress)}, Dst: string(StateInProgress)},
			{Name: evSuccess, Src: []string{string(StateInProgress)}, Dst: string(StateOk)},
			{Name: evFail, Src: []string{string(StateInProgress)}, Dst: string(StateFailed)},
			{Name: evRefresh, Src: []string{string(StateOk)}, Dst: string(StateInProgress)},
			{Name: evClear, Src: []string{string(StateNone), string(StateInProgress), string(StateOk), string(StateFailed)}, Dst: string(StateCleared)},
			{Name: evDrop, Src: []string{string(StateOk), string(StateFailed)}, Dst: string(StateNone)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				r.notify(RegState(e.Src), RegState(e.Dst))
			},
		},
	)
	return r
}

// State returns the current registration state.
func (r *Registrar) State() RegState {
	return RegState(r.machine.Current())
}

// OnStateChange registers a callback invoked on every transition.
func (r *Registrar) OnStateChange(h StateChangeHandler) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.handlers = append(r.handlers, h)
}

func (r *Registrar) notify(old, new RegState) {
	r.handlersMu.Lock()
	handlers := append([]StateChangeHandler(nil), r.handlers...)
	r.handlersMu.Unlock()
	for _, h := range handlers {
		h(old, new)
	}
}

// LastError returns the error that produced the most recent Failed state,
// or nil.
func (r *Registrar) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

// SetBackground switches the UA-string mode (" Push" suffix appended in
// background). Per spec §4.4 the switch requires the account to already be
// Ok, and forces an immediate refresh REGISTER under the new UA string.
func (r *Registrar) SetBackground(ctx context.Context, background bool) error {
	r.mu.Lock()
	r.background = background
	r.mu.Unlock()

	if r.State() != StateOk {
		return fmt.Errorf("registrar: mode switch requires state Ok, have %s", r.State())
	}
	return r.refresh(ctx)
}

func (r *Registrar) uaString() string {
	if r.background {
		return r.opts.UABase + " Push"
	}
	return r.opts.UABase
}

// Register performs the initial REGISTER for this account, including one
// digest challenge retry, and on success schedules the refresh timer.
func (r *Registrar) Register(ctx context.Context, expires int) error {
	if expires <= 0 {
		expires = r.opts.DefaultExpires
	}
	if err := r.machine.Event(ctx, evStart); err != nil {
		return fmt.Errorf("registrar: %w", err)
	}
	return r.send(ctx, expires)
}

// refresh re-REGISTERs an account that is currently Ok, per the refresh
// timer or an explicit mode switch.
func (r *Registrar) refresh(ctx context.Context) error {
	if err := r.machine.Event(ctx, evRefresh); err != nil {
		return fmt.Errorf("registrar: %w", err)
	}
	return r.send(ctx, r.opts.DefaultExpires)
}

// Unregister sends Expires: 0 and transitions to Cleared regardless of the
// outcome, per spec §3 ("any -> Cleared on explicit unregister").
func (r *Registrar) Unregister(ctx context.Context) error {
	r.stopRefreshTimer()
	_, err := r.doRegister(ctx, 0)
	_ = r.machine.Event(ctx, evClear)
	return err
}

// NotifyTransportDrop moves an Ok/Failed account back to None, per spec §3
// ("Ok/Failed -> None on transport drop pending reconnect"). A no-op from
// any other state (e.g. already None, or mid-attempt).
func (r *Registrar) NotifyTransportDrop(ctx context.Context) {
	r.stopRefreshTimer()
	_ = r.machine.Event(ctx, evDrop)
}

func (r *Registrar) send(ctx context.Context, expires int) error {
	attemptCtx, cancel := context.WithTimeout(ctx, registrationTimeout)
	defer cancel()

	resp, err := r.doRegister(attemptCtx, expires)
	if err != nil {
		r.mu.Lock()
		r.lastError = err
		r.mu.Unlock()
		_ = r.machine.Event(ctx, evFail)
		return err
	}

	if resp.StatusCode() == 401 || resp.StatusCode() == 407 {
		// evChallenge is a self-transition (InProgress -> InProgress), which
		// looplab/fsm reports as NoTransitionError; that is not a failure.
		if err := r.machine.Event(ctx, evChallenge); err != nil {
			var noTransition fsm.NoTransitionError
			if !errors.As(err, &noTransition) {
				return fmt.Errorf("registrar: %w", err)
			}
		}
		resp2, err := r.doRegisterChallenged(attemptCtx, expires, resp)
		if err != nil {
			r.mu.Lock()
			r.lastError = err
			r.mu.Unlock()
			_ = r.machine.Event(ctx, evFail)
			return err
		}
		if resp2.StatusCode() == 401 || resp2.StatusCode() == 407 {
			// Second challenge is terminal regardless of realm (spec §9 open
			// question, resolved: retry exactly once).
			err := fmt.Errorf("registrar: second challenge received, terminal")
			r.mu.Lock()
			r.lastError = err
			r.mu.Unlock()
			_ = r.machine.Event(ctx, evFail)
			return err
		}
		return r.finish(ctx, resp2, expires)
	}

	return r.finish(ctx, resp, expires)
}

func (r *Registrar) finish(ctx context.Context, resp types.Message, requestedExpires int) error {
	if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
		if err := r.machine.Event(ctx, evSuccess); err != nil {
			return fmt.Errorf("registrar: %w", err)
		}
		r.scheduleRefresh(grantedExpires(resp, requestedExpires))
		return nil
	}
	err := fmt.Errorf("registrar: REGISTER failed with %d %s", resp.StatusCode(), resp.ReasonPhrase())
	r.mu.Lock()
	r.lastError = err
	r.mu.Unlock()
	_ = r.machine.Event(ctx, evFail)
	return err
}

// doRegister builds and sends one REGISTER request without credentials.
func (r *Registrar) doRegister(ctx context.Context, expires int) (types.Message, error) {
	req := r.buildRequest(expires)
	return r.roundTrip(ctx, req)
}

// doRegisterChallenged retries the prior REGISTER with an Authorization
// header computed from the 401/407 challenge. The CSeq is bumped so it
// strictly increases across the retry, per spec §4.4.
func (r *Registrar) doRegisterChallenged(ctx context.Context, expires int, challenge types.Message) (types.Message, error) {
	kind := auth.KindWWW
	challengeHeader := challenge.GetHeader(types.HeaderWWWAuthenticate)
	if challengeHeader == "" {
		kind = auth.KindProxy
		challengeHeader = challenge.GetHeader(types.HeaderProxyAuthenticate)
	}

	req := r.buildRequest(expires)
	headerValue, state, err := auth.BuildAuthorization(req.Method(), req.RequestURI().String(), challengeHeader, r.opts.Credentials, r.nonce)
	if err != nil {
		return nil, fmt.Errorf("registrar: building Authorization: %w", err)
	}
	r.nonce = &state
	req.SetHeader(kind.AuthorizationHeaderName(), headerValue)

	return r.roundTrip(ctx, req)
}

func (r *Registrar) buildRequest(expires int) types.Message {
	seq := atomic.AddUint32(&r.cseq, 1)

	b := builder.NewMessageBuilder().NewRequest("REGISTER", r.opts.RegistrarURI)
	b.SetFrom(r.opts.AOR).
		SetTo(r.opts.AOR).
		SetCallID(r.callID).
		SetCSeq(seq, "REGISTER").
		SetContact(r.opts.Contact).
		SetHeader(types.HeaderExpires, fmt.Sprintf("%d", expires)).
		SetHeader(types.HeaderUserAgent, r.uaString()).
		SetMaxForwards(70)

	req, err := b.Build()
	if err != nil {
		// Build only fails on missing mandatory headers, all of which are
		// set above unconditionally; a Via is added by the transport layer
		// before the transaction sends the request.
		req, _ = b.SetVia(types.NewVia("SIP", "0.0.0.0", 0)).Build()
	}
	return req
}

// roundTrip creates a client transaction for req, sends it, and blocks for
// its final response or ctx cancellation.
func (r *Registrar) roundTrip(ctx context.Context, req types.Message) (types.Message, error) {
	tx, err := r.opts.TxManager.CreateClientTransaction(req)
	if err != nil {
		return nil, fmt.Errorf("registrar: creating transaction: %w", err)
	}

	respCh := make(chan types.Message, 1)
	errCh := make(chan error, 1)

	tx.OnResponse(func(_ transaction.Transaction, resp types.Message) {
		select {
		case respCh <- resp:
		default:
		}
	})
	tx.OnTimeout(func(_ transaction.Transaction, timer string) {
		select {
		case errCh <- fmt.Errorf("registrar: transaction timeout (%s)", timer):
		default:
		}
	})
	tx.OnTransportError(func(_ transaction.Transaction, err error) {
		select {
		case errCh <- fmt.Errorf("registrar: transport error: %w", err):
		default:
		}
	})

	if err := tx.SendRequest(req); err != nil {
		return nil, fmt.Errorf("registrar: sending REGISTER: %w", err)
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registrar) scheduleRefresh(granted time.Duration) {
	r.stopRefreshTimer()

	window := granted
	if r.opts.MaxExpires > 0 && r.opts.MaxExpires < window {
		window = r.opts.MaxExpires
	}
	window -= refreshSafetyMargin
	if window <= 0 {
		window = time.Second
	}

	r.mu.Lock()
	r.refreshTimer = time.AfterFunc(window, func() {
		if err := r.refresh(context.Background()); err != nil {
			r.log.Warn(context.Background(), "refresh REGISTER failed", obslog.Err(err))
		}
	})
	r.mu.Unlock()
}

func (r *Registrar) stopRefreshTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refreshTimer != nil {
		r.refreshTimer.Stop()
		r.refreshTimer = nil
	}
}

func grantedExpires(resp types.Message, requested int) time.Duration {
	if v := resp.GetHeader(types.HeaderExpires); v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(requested) * time.Second
}

func newCallID(accountKey string) string {
	return fmt.Sprintf("%s-%d@registrar", accountKey, time.Now().UnixNano())
}
