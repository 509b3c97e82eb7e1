package client

import "sipline.dev/core/internal/transaction"

// ValidateStateTransition reports whether moving a client transaction from
// from to to is legal under its state graph (RFC 3261 Figures 5/6): INVITE
// transactions follow validateInviteStateTransition, everything else
// validateNonInviteStateTransition.
//
// INVITE: Calling -> Proceeding -> Completed -> Terminated
//
//	Calling -> Terminated directly on a 2xx or on timeout
//
// non-INVITE: Trying -> Proceeding -> Completed -> Terminated
//
//	Trying -> Terminated directly on timeout
func ValidateStateTransition(from, to transaction.TransactionState, isInvite bool) bool {
	if isInvite {
		return validateInviteStateTransition(from, to)
	}
	return validateNonInviteStateTransition(from, to)
}

func validateInviteStateTransition(from, to transaction.TransactionState) bool {
	switch from {
	case transaction.TransactionCalling:
		return to == transaction.TransactionProceeding ||
			to == transaction.TransactionCompleted ||
			to == transaction.TransactionTerminated

	case transaction.TransactionProceeding:
		return to == transaction.TransactionCompleted ||
			to == transaction.TransactionTerminated

	case transaction.TransactionCompleted:
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
		return to == transaction.TransactionProceeding ||
			to == transaction.TransactionCompleted ||
			to == transaction.TransactionTerminated

	case transaction.TransactionProceeding:
		return to == transaction.TransactionCompleted ||
			to == transaction.TransactionTerminated

	case transaction.TransactionCompleted:
		return to == transaction.TransactionTerminated

	case transaction.TransactionTerminated:
		return false

	default:
		return false
	}
}

// GetTimersForState lists the timers that should be running while a client
// transaction sits in state, given whether it's an INVITE transaction and
// whether its transport is reliable.
func GetTimersForState(state transaction.TransactionState, isInvite bool, reliable bool) []transaction.TimerID {
	if isInvite {
		return getInviteTimers(state, reliable)
	}
	return getNonInviteTimers(state, reliable)
}

func getInviteTimers(state transaction.TransactionState, reliable bool) []transaction.TimerID {
	switch state {
	case transaction.TransactionCalling:
		if reliable {
			return []transaction.TimerID{transaction.TimerB}
		}
		return []transaction.TimerID{transaction.TimerA, transaction.TimerB}

	case transaction.TransactionProceeding:
		return []transaction.TimerID{transaction.TimerB}

	case transaction.TransactionCompleted:
		if reliable {
			return []transaction.TimerID{}
		}
		return []transaction.TimerID{transaction.TimerD}

	default:
		return []transaction.TimerID{}
	}
}

func getNonInviteTimers(state transaction.TransactionState, reliable bool) []transaction.TimerID {
	switch state {
	case transaction.TransactionTrying:
		if reliable {
			return []transaction.TimerID{transaction.TimerF}
		}
		return []transaction.TimerID{transaction.TimerE, transaction.TimerF}

	case transaction.TransactionProceeding:
		if reliable {
			return []transaction.TimerID{transaction.TimerF}
		}
		return []transaction.TimerID{transaction.TimerE, transaction.TimerF}

	case transaction.TransactionCompleted:
		if reliable {
			return []transaction.TimerID{}
		}
		return []transaction.TimerID{transaction.TimerK}

	default:
		return []transaction.TimerID{}
	}
}
