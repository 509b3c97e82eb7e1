package dialog

import (
	"fmt"
	"sync"
)

// DialogStateMachine drives dialog state per RFC 3261.
//
// States:
//   - Init: initial state
//   - Trying: INVITE sent (UAC) or received (UAS)
//   - Ringing: 180 Ringing sent/received
//   - Established: dialog established (2xx + ACK)
//   - Terminating: BYE sent/received
//   - Terminated: dialog ended
type DialogStateMachine struct {
	mu             sync.RWMutex
	currentState   DialogState
	isUAC          bool
	callbacks      []func(DialogState)
	allowedMethods map[DialogState][]string // methods allowed in each state
}

// NewDialogStateMachine creates a new dialog state machine.
func NewDialogStateMachine(isUAC bool) *DialogStateMachine {
	dsm := &DialogStateMachine{
		currentState: DialogStateInit,
		isUAC:        isUAC,
		callbacks:    make([]func(DialogState), 0),
	}

	dsm.allowedMethods = map[DialogState][]string{
		DialogStateInit:        {"INVITE"},
		DialogStateTrying:      {"CANCEL", "PRACK", "UPDATE"},
		DialogStateRinging:     {"CANCEL", "PRACK", "UPDATE"},
		DialogStateEstablished: {"BYE", "INVITE", "UPDATE", "INFO", "REFER", "NOTIFY", "MESSAGE", "OPTIONS"},
		DialogStateTerminating: {},
		DialogStateTerminated:  {},
	}

	return dsm
}

// GetState returns the current state.
func (dsm *DialogStateMachine) GetState() DialogState {
	dsm.mu.RLock()
	defer dsm.mu.RUnlock()
	return dsm.currentState
}

// OnStateChange registers a state-change callback.
func (dsm *DialogStateMachine) OnStateChange(callback func(DialogState)) {
	dsm.mu.Lock()
	defer dsm.mu.Unlock()
	dsm.callbacks = append(dsm.callbacks, callback)
}

// TransitionTo moves to newState if the transition is legal.
func (dsm *DialogStateMachine) TransitionTo(newState DialogState) error {
	dsm.mu.Lock()
	oldState := dsm.currentState

	if !dsm.isValidTransition(oldState, newState) {
		dsm.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", oldState, newState)
	}

	dsm.currentState = newState
	callbacks := append([]func(DialogState){}, dsm.callbacks...) // copy so callbacks run unlocked
	dsm.mu.Unlock()

	for _, cb := range callbacks {
		cb(newState)
	}

	return nil
}

// ProcessRequest handles an inbound request and advances state.
func (dsm *DialogStateMachine) ProcessRequest(method string, statusCode int) error {
	dsm.mu.Lock()
	defer dsm.mu.Unlock()

	switch dsm.currentState {
	case DialogStateInit:
		if method == "INVITE" {
			callbacks := append([]func(DialogState){}, dsm.callbacks...)
			dsm.currentState = DialogStateTrying
			dsm.mu.Unlock()

			for _, cb := range callbacks {
				cb(DialogStateTrying)
			}
			dsm.mu.Lock() // re-acquire for the deferred unlock
			return nil
		}

	case DialogStateTrying, DialogStateRinging:
		if method == "CANCEL" {
			callbacks := append([]func(DialogState){}, dsm.callbacks...)
			dsm.currentState = DialogStateTerminated
			dsm.mu.Unlock()

			for _, cb := range callbacks {
				cb(DialogStateTerminated)
			}
			dsm.mu.Lock()
			return nil
		}

	case DialogStateEstablished:
		if method == "BYE" {
			callbacks := append([]func(DialogState){}, dsm.callbacks...)
			dsm.currentState = DialogStateTerminating
			dsm.mu.Unlock()

			for _, cb := range callbacks {
				cb(DialogStateTerminating)
			}
			dsm.mu.Lock()
			return nil
		}
	}

	if !dsm.isMethodAllowed(dsm.currentState, method) {
		return fmt.Errorf("method %s not allowed in state %s", method, dsm.currentState)
	}

	return nil
}

// ProcessResponse handles a response and advances state.
func (dsm *DialogStateMachine) ProcessResponse(method string, statusCode int) error {
	dsm.mu.Lock()
	defer dsm.mu.Unlock()

	switch dsm.currentState {
	case DialogStateTrying:
		if method == "INVITE" {
			if statusCode >= 100 && statusCode < 200 {
				if statusCode == 180 || statusCode == 183 {
					callbacks := append([]func(DialogState){}, dsm.callbacks...)
					dsm.currentState = DialogStateRinging
					dsm.mu.Unlock()

					for _, cb := range callbacks {
						cb(DialogStateRinging)
					}
					dsm.mu.Lock()
					return nil
				}
			} else if statusCode >= 200 && statusCode < 300 {
				// 2xx establishes the dialog.
				callbacks := append([]func(DialogState){}, dsm.callbacks...)
				dsm.currentState = DialogStateEstablished
				dsm.mu.Unlock()

				for _, cb := range callbacks {
					cb(DialogStateEstablished)
				}
				dsm.mu.Lock()
				return nil
			} else if statusCode >= 300 {
				// 3xx/4xx/5xx/6xx ends the dialog.
				callbacks := append([]func(DialogState){}, dsm.callbacks...)
				dsm.currentState = DialogStateTerminated
				dsm.mu.Unlock()

				for _, cb := range callbacks {
					cb(DialogStateTerminated)
				}
				dsm.mu.Lock()
				return nil
			}
		}

	case DialogStateRinging:
		if method == "INVITE" && statusCode >= 200 && statusCode < 300 {
			callbacks := append([]func(DialogState){}, dsm.callbacks...)
			dsm.currentState = DialogStateEstablished
			dsm.mu.Unlock()

			for _, cb := range callbacks {
				cb(DialogStateEstablished)
			}
			dsm.mu.Lock()
			return nil
		}

	case DialogStateTerminating:
		if method == "BYE" && statusCode >= 200 && statusCode < 300 {
			callbacks := append([]func(DialogState){}, dsm.callbacks...)
			dsm.currentState = DialogStateTerminated
			dsm.mu.Unlock()

			for _, cb := range callbacks {
				cb(DialogStateTerminated)
			}
			dsm.mu.Lock()
			return nil
		}
	}

	return nil
}

// IsEstablished reports whether the dialog has been established.
func (dsm *DialogStateMachine) IsEstablished() bool {
	dsm.mu.RLock()
	defer dsm.mu.RUnlock()
	return dsm.currentState == DialogStateEstablished
}

// IsTerminated reports whether the dialog has ended.
func (dsm *DialogStateMachine) IsTerminated() bool {
	dsm.mu.RLock()
	defer dsm.mu.RUnlock()
	return dsm.currentState == DialogStateTerminated
}

// CanSendRequest reports whether method may be sent in the current state.
func (dsm *DialogStateMachine) CanSendRequest(method string) bool {
	dsm.mu.RLock()
	defer dsm.mu.RUnlock()

	// CANCEL only makes sense in Trying/Ringing.
	if method == "CANCEL" {
		return dsm.currentState == DialogStateTrying || dsm.currentState == DialogStateRinging
	}

	// ACK gets special-cased below, always allowed.
	if method == "ACK" {
		return true
	}

	return dsm.isMethodAllowed(dsm.currentState, method)
}

// isValidTransition reports whether the state graph allows from -> to.
func (dsm *DialogStateMachine) isValidTransition(from, to DialogState) bool {
	validTransitions := map[DialogState][]DialogState{
		DialogStateInit:        {DialogStateTrying},
		DialogStateTrying:      {DialogStateRinging, DialogStateEstablished, DialogStateTerminated},
		DialogStateRinging:     {DialogStateEstablished, DialogStateTerminated},
		DialogStateEstablished: {DialogStateTerminating},
		DialogStateTerminating: {DialogStateTerminated},
		DialogStateTerminated:  {}, // terminal
	}

	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}

	for _, state := range allowed {
		if state == to {
			return true
		}
	}

	return false
}

// isMethodAllowed reports whether method may be sent/received in state.
func (dsm *DialogStateMachine) isMethodAllowed(state DialogState, method string) bool {
	allowed, ok := dsm.allowedMethods[state]
	if !ok {
		return false
	}

	for _, m := range allowed {
		if m == method {
			return true
		}
	}

	// ACK is always allowed, handled specially.
	if method == "ACK" {
		return true
	}

	return false
}

// Reset returns the state machine to its initial state.
func (dsm *DialogStateMachine) Reset() {
	dsm.mu.Lock()
	defer dsm.mu.Unlock()

	dsm.currentState = DialogStateInit
	// callbacks are kept as-is.
}
