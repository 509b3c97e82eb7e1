package server

import "sipline.dev/core/internal/transaction"

// ServerStateMachine documents the server transaction state graphs (RFC 3261
// Figures 7/8); the logic itself lives in the Validate/Get functions below.
type ServerStateMachine struct {
	// INVITE Server Transaction States (RFC 3261 Figure 7)
	// Proceeding -> Completed -> Confirmed -> Terminated
	// Proceeding -> Terminated (for a 2xx)

	// Non-INVITE Server Transaction States (RFC 3261 Figure 8)
	// Trying -> Proceeding -> Completed -> Terminated
	// Trying -> Completed -> Terminated
}

// ValidateStateTransition reports whether moving a server transaction from
// from to to is legal.
func ValidateStateTransition(from, to transaction.TransactionState, isInvite bool) bool {
	if isInvite {
		return validateInviteStateTransition(from, to)
	}
	return validateNonInviteStateTransition(from, to)
}

func validateInviteStateTransition(from, to transaction.TransactionState) bool {
	switch from {
	case transaction.TransactionProceeding:
		// Completed (3xx-6xx sent) or Terminated (2xx sent).
		return to == transaction.TransactionCompleted ||
			to == transaction.TransactionTerminated

	case transaction.TransactionCompleted:
		// Confirmed (ACK received) or Terminated (timeout).
		return to == transaction.TransactionConfirmed ||
			to == transaction.TransactionTerminated

	case transaction.TransactionConfirmed:
		return to == transaction.TransactionTerminated

	case transaction.TransactionTerminated:
		return false

	default:
		return false
	}
}

func validateNonInviteStateTransition(from, to transaction.TransactionState) bool {
	switch from {
	case transaction.TransactionTrying:
		// Proceeding (1xx sent) or Completed (final response sent).
		return to == transaction.TransactionProceeding ||
			to == transaction.TransactionCompleted

	case transaction.TransactionProceeding:
		return to == transaction.TransactionCompleted

	case transaction.TransactionCompleted:
		return to == transaction.TransactionTerminated

	case transaction.TransactionTerminated:
		return false

	default:
		return false
	}
}

// GetTimersForState lists the timers that should be running while a server
// transaction sits in state.
func GetTimersForState(state transaction.TransactionState, isInvite bool, reliable bool) []transaction.TimerID {
	if isInvite {
		return getInviteTimers(state, reliable)
	}
	return getNonInviteTimers(state, reliable)
}

func getInviteTimers(state transaction.TransactionState, reliable bool) []transaction.TimerID {
	switch state {
	case transaction.TransactionProceeding:
		return []transaction.TimerID{}

	case transaction.TransactionCompleted:
		if reliable {
			return []transaction.TimerID{transaction.TimerH}
		}
		return []transaction.TimerID{transaction.TimerG, transaction.TimerH}

	case transaction.TransactionConfirmed:
		if reliable {
			return []transaction.TimerID{}
		}
		return []transaction.TimerID{transaction.TimerI}

	default:
		return []transaction.TimerID{}
	}
}

func getNonInviteTimers(state transaction.TransactionState, reliable bool) []transaction.TimerID {
	switch state {
	case transaction.TransactionTrying:
		return []transaction.TimerID{}

	case transaction.TransactionProceeding:
		return []transaction.TimerID{}

	case transaction.TransactionCompleted:
		if reliable {
			return []transaction.TimerID{}
		}
		return []transaction.TimerID{transaction.TimerJ}

	default:
		return []transaction.TimerID{}
	}
}

// GetInitialState returns the state a new server transaction starts in.
func GetInitialState(isInvite bool) transaction.TransactionState {
	if isInvite {
		return transaction.TransactionProceeding
	}
	return transaction.TransactionTrying
}
