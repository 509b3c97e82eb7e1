// Package sipcore is the public facade (spec §6): the single entry point
// host applications embed, exposing register/unregister, call control, and
// channel-based event subscriptions over the account/registrar/callstate/
// reconnect/transport layers underneath. Grounded on the higher-level
// coordinator idiom of the teacher's pkg/dialog/stack.go (IStack),
// generalized from "one stack" to "one registry of per-account stacks".
package sipcore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sipline.dev/core/internal/account"
	"sipline.dev/core/internal/auth"
	"sipline.dev/core/internal/callstate"
	"sipline.dev/core/internal/dialog"
	"sipline.dev/core/internal/obslog"
	"sipline.dev/core/internal/reconnect"
	"sipline.dev/core/internal/registrar"
	"sipline.dev/core/internal/sipmsg/builder"
	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/internal/transaction"
	"sipline.dev/core/mediaadapter"
	"sipline.dev/core/metrics"
	transport "sipline.dev/core/transportadapter"
)

// Core is the library's single entry point. One Core multiplexes every
// registered account, per spec §2.
type Core struct {
	cfg Config
	log *obslog.Logger

	registry   *account.Registry
	reconnect  *reconnect.Controller
	metrics    *metrics.Collector
	dialogs    *dialog.Store
	mediaNext  uint64 // atomic-free, guarded by mu (media session id source)
	localAddr  string

	mu    sync.Mutex
	calls map[string]*trackedCall // callID -> call

	registrations   *broadcaster[RegistrationEvent]
	callEvents      *broadcaster[CallEvent]
	incomingCalls   *broadcaster[IncomingCallEvent]
	transportEvents *broadcaster[TransportEvent]
}

type trackedCall struct {
	accountKey string
	account    *account.Account
	call       *callstate.Call
}

// New builds a Core from cfg. It does not open any transport itself;
// accounts dial lazily on Register.
func New(cfg Config) *Core {
	log := cfg.Logger
	if log == nil {
		log = obslog.New()
	}
	log = log.WithComponent("sipcore")

	if cfg.MaxConcurrentReconnects <= 0 {
		cfg.MaxConcurrentReconnects = 4
	}

	return &Core{
		cfg:             cfg,
		log:             log,
		registry:        account.NewRegistry(),
		reconnect:       reconnect.NewController(reconnect.DefaultBackoffConfig(), cfg.MaxConcurrentReconnects, log),
		metrics:         metrics.NewCollector(cfg.Metrics),
		dialogs:         dialog.NewStore(),
		localAddr:       "sipline-core",
		calls:           make(map[string]*trackedCall),
		registrations:   newBroadcaster[RegistrationEvent](),
		callEvents:      newBroadcaster[CallEvent](),
		incomingCalls:   newBroadcaster[IncomingCallEvent](),
		transportEvents: newBroadcaster[TransportEvent](),
	}
}

// Register implements spec §6's register(username, password, domain,
// provider, pushToken): it builds an account bundle, dials its transport,
// and drives the initial REGISTER. The account is tracked by the registry
// and its reconnection path is armed regardless of whether this first
// attempt succeeds, per spec §4.7's always-armed reconnect policy.
func (c *Core) Register(ctx context.Context, params AccountParams) error {
	key := params.accountKey()
	if _, exists := c.registry.Get(key); exists {
		return newError(KindState, "register", fmt.Errorf("account %s already registered", key))
	}

	wsURL := params.WebSocketURL
	if wsURL == "" {
		wsURL = c.cfg.DefaultWebSocketURL
	}
	if wsURL == "" {
		return newError(KindState, "register", fmt.Errorf("no WebSocket URL configured for %s", key))
	}

	defaultExpires := params.DefaultExpires
	if defaultExpires <= 0 {
		defaultExpires = registrarDefaultExpires
	}
	maxExpires := params.MaxExpires
	if maxExpires <= 0 {
		maxExpires = registrarMaxExpires
	}

	aor := types.NewAddress(params.DisplayName, types.NewSipURI(params.Username, params.Domain))
	registrarURI := types.NewSipURI("", params.Domain)

	var acct *account.Account
	acct = account.New(account.Options{
		AccountKey:     key,
		AOR:            aor,
		RegistrarURI:   registrarURI,
		Contact:        aor,
		Credentials:    auth.Credentials{Username: params.Username, Password: params.Password},
		PushToken:      params.PushToken,
		PushProvider:   params.PushProvider,
		UABase:         c.cfg.UserAgent,
		DefaultExpires: defaultExpires,
		MaxExpires:     maxExpires,
		SessionFactory: c.sessionFactory(key, wsURL, func() *account.Account { return acct }),
		Logger:         c.log,
	})

	acct.Registrar.OnStateChange(func(old, new registrar.RegState) {
		c.metrics.RegistrationStateChanged(string(old), string(new), 0)
		c.registrations.Publish(RegistrationEvent{
			TraceID: newTraceID(), AccountKey: key, State: new, Timestamp: time.Now(),
		})
	})
	c.wireIncomingRequests(acct)

	c.registry.Add(acct)
	c.metrics.RegistrationStarted()

	if err := acct.Open(ctx); err != nil {
		c.metrics.Error("register", "open_failed")
		c.reconnect.Trigger(acct)
		return newError(KindTransport, "register", err)
	}
	return nil
}

// Unregister implements spec §6's unregister(username, domain): it cancels
// any in-flight reconnect loop, sends a zero-expires REGISTER, and removes
// the account from the registry.
func (c *Core) Unregister(ctx context.Context, username, domain string) error {
	key := username + "@" + domain
	acct, ok := c.registry.Get(key)
	if !ok {
		return newError(KindState, "unregister", fmt.Errorf("account %s not registered", key))
	}

	c.reconnect.Cancel(key)
	err := acct.Unregister(ctx)
	c.registry.Remove(key)
	if err != nil {
		return newError(KindTransport, "unregister", err)
	}
	return nil
}

// Rehydrate loads accounts from store and arms their reconnection path,
// per spec §4.7's durable-storage recovery contract.
func (c *Core) Rehydrate(ctx context.Context, store account.Store) error {
	return c.registry.Rehydrate(ctx, store, func(acct *account.Account) {
		c.wireIncomingRequests(acct)
		c.reconnect.Trigger(acct)
	})
}

// sessionFactory builds the per-attempt transport.Session closure an
// Account dials on Open/reconnect: it wires the session's OnOpen/OnClose/
// OnError callbacks straight into the transport-event broadcaster and the
// reconnection controller, so a dropped socket is both observable and
// self-healing without the account package depending on either.
func (c *Core) sessionFactory(accountKey, wsURL string, acctOf func() *account.Account) account.SessionFactory {
	return func() transport.Session {
		sess := transport.NewWSSession(wsURL, c.cfg.DefaultDomain, sessionKeepalive(c.cfg))
		sess.OnOpen(func() {
			c.transportEvents.Publish(TransportEvent{AccountKey: accountKey, Open: true, Timestamp: time.Now()})
		})
		drop := func(err error) {
			c.transportEvents.Publish(TransportEvent{AccountKey: accountKey, Open: false, Err: err, Timestamp: time.Now()})
			if acct := acctOf(); acct != nil {
				c.reconnect.HandleTransportDrop(context.Background(), acct)
			}
		}
		sess.OnClose(func(code int, reason string) { drop(fmt.Errorf("closed: %d %s", code, reason)) })
		sess.OnError(func(err error) { drop(err) })
		return sess
	}
}

func sessionKeepalive(cfg Config) transport.KeepaliveConfig {
	kc := transport.DefaultKeepaliveConfig()
	if cfg.PingInterval > 0 {
		kc.PingInterval = cfg.PingInterval
	}
	return kc
}

// wireIncomingRequests registers the handler that turns an inbound INVITE
// into a tracked call (spec §6 "incoming-call events"); out-of-dialog
// requests for any other method are left for the transaction layer's
// default handling.
func (c *Core) wireIncomingRequests(acct *account.Account) {
	acct.TxManager().OnRequest(func(tx transaction.Transaction, req types.Message) {
		if req.Method() != "INVITE" {
			return
		}
		c.handleIncomingInvite(acct, tx, req)
	})
}

func (c *Core) handleIncomingInvite(acct *account.Account, tx transaction.Transaction, req types.Message) {
	ctx := context.Background()

	fromAddr, err := types.ParseAddress(req.GetHeader(types.HeaderFrom))
	var remoteURI types.URI
	if err == nil && fromAddr != nil {
		remoteURI = fromAddr.URI()
	}

	dlg, err := dialog.NewIncomingDialog(req, acct.TxManager(), acct.AOR(), remoteURI, acct.Contact())
	if err != nil {
		c.log.Warn(ctx, "rejecting malformed incoming INVITE", obslog.Err(err))
		resp, berr := builder.CreateResponse(req, 400, "Bad Request").Build()
		if berr == nil {
			_ = tx.SendResponse(resp)
		}
		return
	}
	c.dialogs.Add(dlg)

	media := c.newMediaSession()
	call, accepted, err := acct.Calls.AcceptIncoming(ctx, dlg, media)
	if err != nil {
		c.log.Error(ctx, "incoming call setup failed", obslog.Err(err))
		return
	}
	if !accepted {
		return // 486 Busy Here already sent by AcceptIncoming
	}

	c.trackCall(acct.AccountKey(), acct, call, dlg.CallID())
	c.metrics.CallStarted()

	if resp, err := builder.CreateResponse(req, 180, "Ringing").Build(); err == nil {
		_ = tx.SendResponse(resp)
	}

	c.incomingCalls.Publish(IncomingCallEvent{
		TraceID: newTraceID(), CallID: dlg.CallID(), AccountKey: acct.AccountKey(),
		From: req.GetHeader(types.HeaderFrom), Timestamp: time.Now(),
	})
}

// Registrations subscribes to every account's registration-state
// transitions (spec §6 "per-account registration state"). Call the
// returned func to unsubscribe.
func (c *Core) Registrations() (<-chan RegistrationEvent, func()) {
	return c.registrations.Subscribe()
}

// CallEvents subscribes to every call's state transitions (spec §6
// "per-call call state").
func (c *Core) CallEvents() (<-chan CallEvent, func()) {
	return c.callEvents.Subscribe()
}

// IncomingCalls subscribes to inbound-call notifications (spec §6
// "incoming-call events").
func (c *Core) IncomingCalls() (<-chan IncomingCallEvent, func()) {
	return c.incomingCalls.Subscribe()
}

// TransportEvents subscribes to every account's transport open/close
// notifications (spec §6 "transport events").
func (c *Core) TransportEvents() (<-chan TransportEvent, func()) {
	return c.transportEvents.Subscribe()
}

func (c *Core) newMediaSession() mediaadapter.Session {
	c.mu.Lock()
	c.mediaNext++
	id := c.mediaNext
	c.mu.Unlock()
	return mediaadapter.NewSession(c.localAddr, 0, id)
}

func (c *Core) trackCall(accountKey string, acct *account.Account, call *callstate.Call, callID string) {
	c.mu.Lock()
	c.calls[callID] = &trackedCall{accountKey: accountKey, account: acct, call: call}
	c.mu.Unlock()
}

func (c *Core) untrackCall(callID string) {
	c.mu.Lock()
	delete(c.calls, callID)
	c.mu.Unlock()
}

// resolveCall returns the call named by callID, or the sole active call
// if callID is empty (spec §6's "call_id?" optional-argument convention).
func (c *Core) resolveCall(callID string) (*trackedCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if callID != "" {
		tc, ok := c.calls[callID]
		if !ok {
			return nil, newError(KindState, "resolveCall", fmt.Errorf("no call %s", callID))
		}
		return tc, nil
	}

	if len(c.calls) != 1 {
		return nil, newError(KindState, "resolveCall", fmt.Errorf("call_id required: %d calls active", len(c.calls)))
	}
	for _, tc := range c.calls {
		return tc, nil
	}
	return nil, newError(KindState, "resolveCall", fmt.Errorf("no active call"))
}
