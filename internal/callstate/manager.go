package callstate

import (
	"context"
	"fmt"
	"sync"

	"sipline.dev/core/internal/dialog"
	"sipline.dev/core/internal/obslog"
	"sipline.dev/core/mediaadapter"
)

// ErrCallAlreadyActive is returned by StartOutgoing when the account
// already has an active call (spec invariant 1: exactly one active call
// per account).
var ErrCallAlreadyActive = fmt.Errorf("callstate: %s", ErrorReasonCallAlreadyActive)

// Manager enforces the one-active-call-per-account invariant for a single
// account. A second incoming INVITE while a call is active gets 486 Busy
// Here; a second outgoing attempt returns ErrCallAlreadyActive.
type Manager struct {
	accountKey string
	log        *obslog.Logger

	mu     sync.Mutex
	active *Call
}

// NewManager creates an empty per-account call manager.
func NewManager(accountKey string, log *obslog.Logger) *Manager {
	if log == nil {
		log = obslog.New()
	}
	return &Manager{accountKey: accountKey, log: log.WithComponent("callstate.manager")}
}

// Active returns the currently active call, or nil.
func (m *Manager) Active() *Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// StartOutgoing creates and starts an outgoing call if none is active.
func (m *Manager) StartOutgoing(ctx context.Context, dlg dialog.Dialog, media mediaadapter.Session) (*Call, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrCallAlreadyActive
	}
	call := New(m.accountKey, DirectionOutgoing, dlg, media, m.log)
	m.active = call
	m.mu.Unlock()

	if err := call.StartOutgoing(ctx); err != nil {
		m.clearIfCurrent(call)
		return nil, err
	}
	return call, nil
}

// AcceptIncoming registers dlg as the active call, or immediately responds
// 486 Busy Here and returns false if one is already active.
func (m *Manager) AcceptIncoming(ctx context.Context, dlg dialog.Dialog, media mediaadapter.Session) (*Call, bool, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		if _, err := dlg.SendRequest("486"); err != nil {
			return nil, false, fmt.Errorf("callstate: sending 486 Busy Here: %w", err)
		}
		return nil, false, nil
	}
	call := New(m.accountKey, DirectionIncoming, dlg, media, m.log)
	m.active = call
	m.mu.Unlock()

	if err := call.ReceiveInvite(ctx); err != nil {
		m.clearIfCurrent(call)
		return nil, false, err
	}
	return call, true, nil
}

// Release clears the active call once it has reached a terminal state; the
// media adapter is disposed by the caller once active_calls == 0, per the
// shared-resource policy in spec §4.5.
func (m *Manager) Release(call *Call) {
	m.clearIfCurrent(call)
}

func (m *Manager) clearIfCurrent(call *Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == call {
		m.active = nil
	}
}
