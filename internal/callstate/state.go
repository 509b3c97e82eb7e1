// Package callstate implements the per-call state machine (spec §4.5):
// the full Idle/Outgoing/Incoming/Connected/hold/transfer/teardown graph,
// the call-state record history, and the one-active-call-per-account and
// exactly-one-Ended invariants. Built on github.com/looplab/fsm, the same
// library the registration state machine in internal/registrar uses.
package callstate

import "time"

// State is one node of the spec §4.5 call-state graph.
type State string

const (
	StateIdle             State = "Idle"
	StateOutgoingInit     State = "OutgoingInit"
	StateOutgoingProgress State = "OutgoingProgress"
	StateOutgoingRinging  State = "OutgoingRinging"
	StateIncomingReceived State = "IncomingReceived"
	StateConnected        State = "Connected"
	StateStreamsRunning   State = "StreamsRunning"
	StatePausing          State = "Pausing"
	StatePaused           State = "Paused"
	StateResuming         State = "Resuming"
	StateEnding           State = "Ending"
	StateEnded            State = "Ended"
	StateError            State = "Error"
)

// Classification is the terminal call-log outcome recorded alongside the
// final Ended/Error record.
type Classification string

const (
	ClassSuccess  Classification = "Success"
	ClassAborted  Classification = "Aborted"
	ClassMissed   Classification = "Missed"
	ClassDeclined Classification = "Declined"
	// ClassDeflected is the spec §9 open-question resolution: a 302 is
	// distinct from an outright Declined, but callers that only know about
	// Declined can treat it as one (IsDeclinedLike).
	ClassDeflected Classification = "Deflected"
)

// IsDeclinedLike lets callers that don't distinguish deflection from
// decline treat both the same way.
func (c Classification) IsDeclinedLike() bool {
	return c == ClassDeclined || c == ClassDeflected
}

// ErrorReason enumerates the non-SIP failure causes a call record may
// carry (spec §7's Network/Timeout/Media kinds surfacing into call state).
type ErrorReason string

const (
	ErrorReasonNone           ErrorReason = ""
	ErrorReasonNetworkError   ErrorReason = "NetworkError"
	ErrorReasonMediaError     ErrorReason = "MediaError"
	ErrorReasonTimeout        ErrorReason = "Timeout"
	ErrorReasonCallAlreadyActive ErrorReason = "CallAlreadyActive"
)

// Record is one entry of a call's observable state-transition history
// (spec §3 "Call-state record").
type Record struct {
	State       State
	CallID      string
	Timestamp   time.Time
	ErrorReason ErrorReason
	SIPCode     int
	SIPReason   string
}
