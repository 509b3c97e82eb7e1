package dialog

// DialogState represents dialog lifecycle state per RFC 3261 §12, matching
// the transitions DialogStateMachine (state_machine.go) enforces.
type DialogState int

const (
	// DialogStateInit is the state before any INVITE has been sent/received.
	DialogStateInit DialogState = iota
	// DialogStateTrying is entered once an INVITE is sent/received.
	DialogStateTrying
	// DialogStateRinging is entered on a tagged 180/183 response to INVITE.
	DialogStateRinging
	// DialogStateEstablished is entered on a 2xx response/request to INVITE.
	DialogStateEstablished
	// DialogStateTerminating is entered when BYE has been sent/received.
	DialogStateTerminating
	// DialogStateTerminated is the final state.
	DialogStateTerminated
)

func (s DialogState) String() string {
	switch s {
	case DialogStateInit:
		return "Init"
	case DialogStateTrying:
		return "Trying"
	case DialogStateRinging:
		return "Ringing"
	case DialogStateEstablished:
		return "Established"
	case DialogStateTerminating:
		return "Terminating"
	case DialogStateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// ReferSubscription is the NOTIFY subscription created by a REFER.
type ReferSubscription struct {
	// ID uniquely identifies the subscription.
	ID string
	// Event is the Event header from SUBSCRIBE/NOTIFY.
	Event string
	// State is the subscription's current state.
	State string
	// Progress is the transfer's progress (parsed from a sipfrag body).
	Progress int
	// Done is closed when the subscription ends.
	Done chan struct{}
	// Error holds the last error, if any.
	Error error
}
