package registrar

// RegState is the registration state of one account, per spec §3.
type RegState string

const (
	StateNone       RegState = "None"
	StateInProgress RegState = "InProgress"
	StateOk         RegState = "Ok"
	StateFailed     RegState = "Failed"
	StateCleared    RegState = "Cleared"
)

// FSM event names driving the transitions in the spec §3 table.
const (
	evStart     = "start"      // None -> InProgress (REGISTER sent)
	evChallenge = "challenge"  // InProgress -> InProgress (401/407 retry)
	evSuccess   = "success"    // InProgress -> Ok (2xx)
	evFail      = "fail"       // InProgress -> Failed (terminal/transport-error/retry-exhausted)
	evRefresh   = "refresh"    // Ok -> InProgress (refresh timer or mode switch)
	evClear     = "clear"      // any -> Cleared (explicit unregister)
	evDrop      = "drop"       // Ok/Failed -> None (transport drop, pending reconnect)
)
