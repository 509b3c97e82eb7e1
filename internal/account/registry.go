package account

import (
	"context"
	"fmt"
	"sync"

	"sipline.dev/core/internal/registrar"
)

// Store is the durable-storage contract spec §4.7 requires: accounts
// persisted here that are absent from the in-memory Registry at startup
// get rehydrated with Registered = false and their reconnection path
// invoked, rather than silently dropped.
type Store interface {
	LoadAll() ([]Options, error)
	Save(opts Options) error
	Delete(accountKey string) error
}

// Registry is the thread-safe account-key -> Account bundle map spec
// §4.7 describes, grounded on the sync.Map-keyed registry idiom in
// pkg/sip/dialog/manager.go and pkg/sip/transaction/store.go. It also
// tracks the "currentAccount" primary used by single-account convenience
// APIs, re-electing it whenever the holder drops out of registrar.StateOk.
type Registry struct {
	accounts sync.Map // account key -> *Account

	mu      sync.Mutex
	primary *Account
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers acct and, if there is no current primary, elects it.
func (r *Registry) Add(acct *Account) {
	r.accounts.Store(acct.AccountKey(), acct)
	acct.Registrar.OnStateChange(func(_, new registrar.RegState) {
		r.onAccountStateChange(acct, new)
	})

	r.mu.Lock()
	if r.primary == nil {
		r.primary = acct
	}
	r.mu.Unlock()
}

// Remove drops accountKey from the registry, re-electing a new primary if
// it held that role.
func (r *Registry) Remove(accountKey string) {
	r.accounts.Delete(accountKey)

	r.mu.Lock()
	wasPrimary := r.primary != nil && r.primary.AccountKey() == accountKey
	if wasPrimary {
		r.primary = nil
	}
	r.mu.Unlock()

	if wasPrimary {
		r.electPrimary()
	}
}

// Get returns the account registered under accountKey, if any.
func (r *Registry) Get(accountKey string) (*Account, bool) {
	v, ok := r.accounts.Load(accountKey)
	if !ok {
		return nil, false
	}
	return v.(*Account), true
}

// All returns every registered account, in no particular order.
func (r *Registry) All() []*Account {
	var out []*Account
	r.accounts.Range(func(_, v interface{}) bool {
		out = append(out, v.(*Account))
		return true
	})
	return out
}

// Primary returns the current primary account. The first account added
// becomes primary whatever its registration state; once the holder leaves
// registrar.StateOk (or is removed) the role passes to the first account
// found in StateOk, and Primary returns nil while no account is in StateOk.
func (r *Registry) Primary() *Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.primary
}

// onAccountStateChange re-elects the primary once the account holding
// that role drops out of StateOk, per spec §4.7: "on loss (deregister or
// crash), it is re-elected as the first account whose registration state
// is Ok".
func (r *Registry) onAccountStateChange(acct *Account, new registrar.RegState) {
	r.mu.Lock()
	holderDropped := r.primary == acct && new != registrar.StateOk
	noPrimary := r.primary == nil
	r.mu.Unlock()

	if holderDropped || noPrimary {
		r.electPrimary()
	}
}

func (r *Registry) electPrimary() {
	r.mu.Lock()
	if r.primary != nil && r.primary.IsRegistered() {
		r.mu.Unlock()
		return
	}
	r.primary = nil
	r.mu.Unlock()

	var elected *Account
	r.accounts.Range(func(_, v interface{}) bool {
		a := v.(*Account)
		if a.IsRegistered() {
			elected = a
			return false
		}
		return true
	})

	r.mu.Lock()
	if r.primary == nil {
		r.primary = elected
	}
	r.mu.Unlock()
}

// Rehydrate loads every account persisted in store. Accounts not already
// present in memory are added with a fresh (unregistered) Account and
// their reconnection path invoked via reconnectFn, per spec §4.7's
// durable-storage recovery contract. reconnectFn is typically
// internal/reconnect.Controller.Trigger, passed in by the caller so this
// package does not need to import internal/reconnect.
func (r *Registry) Rehydrate(ctx context.Context, store Store, reconnectFn func(acct *Account)) error {
	persisted, err := store.LoadAll()
	if err != nil {
		return fmt.Errorf("account: loading persisted accounts: %w", err)
	}
	for _, opts := range persisted {
		if _, exists := r.Get(opts.AccountKey); exists {
			continue
		}
		acct := New(opts)
		r.Add(acct)
		if reconnectFn != nil {
			reconnectFn(acct)
		}
	}
	return nil
}
