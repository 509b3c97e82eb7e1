// Package account bundles one SIP account's identity, transport,
// registration state machine, and active-call slot into the single unit
// spec §4.7 calls "account bundle", and implements the thread-safe
// registry that holds all of them.
package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sipline.dev/core/internal/auth"
	"sipline.dev/core/internal/callstate"
	"sipline.dev/core/internal/obslog"
	"sipline.dev/core/internal/registrar"
	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/internal/transaction"
	transport "sipline.dev/core/transportadapter"
)

// SessionFactory builds a fresh transport Session for one connection
// attempt. A WebSocket session cannot be reopened once closed, so the
// reconnection controller (internal/reconnect) calls this again on every
// retry rather than reusing a session from a failed attempt.
type SessionFactory func() transport.Session

// Options configures one Account bundle.
type Options struct {
	AccountKey   string // "username@domain"
	AOR          types.Address
	RegistrarURI types.URI
	Contact      types.Address
	Credentials  auth.Credentials

	// PushToken/PushProvider are carried for the storage collaborator's
	// persisted account record (spec §6); the core never dials a push
	// service itself, it only advertises background mode via UABase's
	// " Push" suffix (SetBackground).
	PushToken    string
	PushProvider string

	UABase         string
	DefaultExpires int
	MaxExpires     time.Duration

	SessionFactory SessionFactory
	Logger         *obslog.Logger
}

// Account bundles everything spec §4.7 attaches to one account key:
// identity and credentials, its transport session and transaction
// manager, its registration state machine (internal/registrar), and its
// single active-call slot (internal/callstate.Manager). It implements
// reconnect.Reconnectable so internal/reconnect.Controller can drive it
// directly, without either package importing the other.
type Account struct {
	opts Options
	log  *obslog.Logger

	transportMgr *transport.SessionTransportManager
	txMgr        *transaction.Manager

	mu             sync.Mutex
	session        transport.Session
	registeredAt   time.Time
	grantedExpires time.Duration

	Registrar *registrar.Registrar
	Calls     *callstate.Manager
}

// New builds an Account with its own transport manager, transaction
// manager, registrar, and call manager wired together. The account has no
// open transport yet; call Open (directly, or via internal/reconnect) to
// dial one.
func New(opts Options) *Account {
	log := opts.Logger
	if log == nil {
		log = obslog.New()
	}
	log = log.WithComponent("account").WithFields(obslog.String("account", opts.AccountKey))

	transportMgr := transport.NewSessionTransportManager()
	txMgr := transaction.NewManager(transportMgr)

	a := &Account{
		opts:         opts,
		log:          log,
		transportMgr: transportMgr,
		txMgr:        txMgr,
		Calls:        callstate.NewManager(opts.AccountKey, log),
	}

	a.Registrar = registrar.New(registrar.Options{
		AccountKey:     opts.AccountKey,
		AOR:            opts.AOR,
		RegistrarURI:   opts.RegistrarURI,
		Contact:        opts.Contact,
		Credentials:    opts.Credentials,
		UABase:         opts.UABase,
		DefaultExpires: opts.DefaultExpires,
		MaxExpires:     opts.MaxExpires,
		TxManager:      txMgr,
		Logger:         log,
	})
	a.Registrar.OnStateChange(a.onRegStateChange)

	return a
}

func (a *Account) onRegStateChange(_, new registrar.RegState) {
	if new != registrar.StateOk {
		return
	}
	a.mu.Lock()
	a.registeredAt = time.Now()
	a.mu.Unlock()
}

// AccountKey implements reconnect.Reconnectable.
func (a *Account) AccountKey() string { return a.opts.AccountKey }

// Open implements reconnect.Reconnectable: it dials a fresh transport
// session, registers it with the transaction layer, and drives a fresh
// REGISTER through the account's Registrar. Called both for the initial
// connection and for every reconnect attempt.
func (a *Account) Open(ctx context.Context) error {
	if a.opts.SessionFactory == nil {
		return fmt.Errorf("account: no SessionFactory configured")
	}
	sess := a.opts.SessionFactory()
	if err := sess.Open(); err != nil {
		return fmt.Errorf("account: opening transport: %w", err)
	}

	wt := transport.NewWSTransport(sess, a.opts.AccountKey)
	if err := a.transportMgr.RegisterTransport(wt); err != nil {
		_ = sess.Close(1011, "registration failed")
		return fmt.Errorf("account: registering transport: %w", err)
	}

	a.mu.Lock()
	a.session = sess
	a.mu.Unlock()

	if err := a.Registrar.Register(ctx, a.opts.DefaultExpires); err != nil {
		return fmt.Errorf("account: registering: %w", err)
	}
	return nil
}

// NotifyDrop implements reconnect.Reconnectable: it tells the registrar
// the transport is gone (Ok/Failed -> None, spec §3) without attempting
// to reopen anything itself; internal/reconnect.Controller drives that.
func (a *Account) NotifyDrop(ctx context.Context) {
	a.Registrar.NotifyTransportDrop(ctx)
}

// SetBackground toggles push/foreground mode, per spec §4.4.
func (a *Account) SetBackground(ctx context.Context, background bool) error {
	return a.Registrar.SetBackground(ctx, background)
}

// Unregister sends a zero-expires REGISTER, then closes the transport
// session regardless of whether the REGISTER succeeded.
func (a *Account) Unregister(ctx context.Context) error {
	err := a.Registrar.Unregister(ctx)

	a.mu.Lock()
	sess := a.session
	a.session = nil
	a.mu.Unlock()
	if sess != nil {
		_ = sess.Close(1000, "unregister")
	}
	return err
}

// TxManager exposes the account's transaction manager so dialog creation
// can originate requests over this account's transport.
func (a *Account) TxManager() *transaction.Manager { return a.txMgr }

// AOR returns the account's own address-of-record URI, used as a dialog's
// localURI on the UAC side and remoteURI on the UAS side.
func (a *Account) AOR() types.URI { return a.opts.AOR.URI() }

// Contact returns the account's own Contact URI, used as a dialog's
// localTarget on either side.
func (a *Account) Contact() types.URI { return a.opts.Contact.URI() }

// RegisteredSince reports when the account last reached registrar.StateOk,
// or the zero Time if it never has.
func (a *Account) RegisteredSince() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registeredAt
}

// IsRegistered reports whether the registrar currently holds StateOk.
func (a *Account) IsRegistered() bool {
	return a.Registrar.State() == registrar.StateOk
}
