// Package reconnect implements the per-account reconnection controller
// (spec §4.6): exponential backoff after a transport drop, a global
// concurrency cap on in-flight reconnect attempts, and the network-loss /
// network-restore handling that drives every account's registration back
// up once connectivity returns.
package reconnect

import (
	"context"
	"sync"
	"time"

	"sipline.dev/core/internal/obslog"
)

// stabilizationWindow is how long the controller waits after a
// network-restored signal before it starts reconnecting, so a single flap
// doesn't trigger a reconnect storm (spec §4.6).
const stabilizationWindow = 2 * time.Second

// Reconnectable is the narrow surface the controller drives. Open must
// (re)open the account's transport session and let registration proceed
// on top of it; NotifyDrop tells the account's registrar the transport is
// gone, per the registration state machine's Ok/Failed -> None transition
// (internal/registrar). internal/account.Account implements this.
type Reconnectable interface {
	AccountKey() string
	Open(ctx context.Context) error
	NotifyDrop(ctx context.Context)
}

type runEntry struct {
	cancel context.CancelFunc
}

// Controller runs the reconnect state machine described in spec §4.6: on
// transport loss it retries with exponential backoff up to MaxAttempts,
// then leaves the account for the caller to report Failed; cancellation
// (explicit unregister, account removal) must leave the account wherever
// NotifyDrop left it, never mid-attempt. The backoff arithmetic and the
// ctx-aware wait-or-cancel loop are grounded on calculateDelay and the
// retry loop in the teacher's pkg/dialog/retry.go; a process-wide
// semaphore bounds concurrent reconnects, the same buffered-channel
// concurrency-cap idiom pkg/media_builder uses.
type Controller struct {
	backoff BackoffConfig
	log     *obslog.Logger

	sem chan struct{}

	mu      sync.Mutex
	running map[string]*runEntry
}

// NewController creates a controller with the given backoff schedule and
// a global concurrency cap on simultaneous reconnect attempts.
func NewController(backoff BackoffConfig, maxConcurrent int, log *obslog.Logger) *Controller {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if log == nil {
		log = obslog.New()
	}
	return &Controller{
		backoff: backoff,
		log:     log.WithComponent("reconnect.controller"),
		sem:     make(chan struct{}, maxConcurrent),
		running: make(map[string]*runEntry),
	}
}

// Trigger starts (or restarts) the reconnect loop for acct following a
// transport drop. A second Trigger for the same account cancels whatever
// loop was already running for it first — only one reconnect loop per
// account runs at a time (spec §4.6 "per-account serialization").
func (c *Controller) Trigger(acct Reconnectable) {
	key := acct.AccountKey()

	c.mu.Lock()
	if prev, ok := c.running[key]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	entry := &runEntry{cancel: cancel}
	c.running[key] = entry
	c.mu.Unlock()

	go c.run(ctx, acct, entry)
}

// Cancel stops any in-flight reconnect loop for accountKey without
// starting a new one, e.g. when the account is explicitly unregistered or
// removed from the registry. The account is left in whatever state its
// last NotifyDrop put it in (None), never InProgress.
func (c *Controller) Cancel(accountKey string) {
	c.mu.Lock()
	entry, ok := c.running[accountKey]
	if ok {
		delete(c.running, accountKey)
	}
	c.mu.Unlock()
	if ok {
		entry.cancel()
	}
}

// HandleTransportDrop is the entry point a transport session's OnClose /
// OnError callback calls: it tells the registrar the transport is gone,
// then starts the reconnect loop.
func (c *Controller) HandleTransportDrop(ctx context.Context, acct Reconnectable) {
	acct.NotifyDrop(ctx)
	c.Trigger(acct)
}

// HandleNetworkLoss marks every account as dropped and cancels any
// in-flight reconnect loops; nothing is retried until HandleNetworkRestored
// fires for the same account set.
func (c *Controller) HandleNetworkLoss(ctx context.Context, accounts []Reconnectable) {
	for _, a := range accounts {
		c.Cancel(a.AccountKey())
		a.NotifyDrop(ctx)
	}
}

// HandleNetworkRestored waits out the stabilization window, then triggers
// a reconnect for every account in accounts. It
// blocks for the window's duration, so callers invoke it in their own
// goroutine. Callers should derive ctx from a cancellable context tied to
// the current network epoch so a second loss during the window aborts
// this wait instead of racing a reconnect attempt against it.
func (c *Controller) HandleNetworkRestored(ctx context.Context, accounts []Reconnectable) {
	select {
	case <-time.After(stabilizationWindow):
	case <-ctx.Done():
		return
	}
	for _, a := range accounts {
		c.Trigger(a)
	}
}

func (c *Controller) run(ctx context.Context, acct Reconnectable, entry *runEntry) {
	key := acct.AccountKey()
	log := c.log.WithFields(obslog.String("account", key))
	defer c.clearIfCurrent(key, entry)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			log.Debug(ctx, "reconnect cancelled")
			return
		default:
		}

		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		err := acct.Open(ctx)
		<-c.sem

		if err == nil {
			log.Info(ctx, "reconnected", obslog.Int("attempt", attempt))
			return
		}

		if c.backoff.exhausted(attempt) {
			log.Error(ctx, "reconnect attempts exhausted", obslog.Int("attempts", attempt), obslog.Err(err))
			return
		}

		d := c.backoff.delay(attempt)
		log.Warn(ctx, "reconnect attempt failed, retrying",
			obslog.Int("attempt", attempt), obslog.Duration("delay", d), obslog.Err(err))

		select {
		case <-time.After(d):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) clearIfCurrent(key string, entry *runEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[key] == entry {
		delete(c.running, key)
	}
}
