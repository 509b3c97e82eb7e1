package callstate

import (
	"context"

	"github.com/looplab/fsm"
)

// Event names driving the spec §4.5 state graph.
const (
	evStartOutgoing  = "startOutgoing"
	evProvisional    = "provisional"    // 100 Trying
	evRinging        = "ringing"        // 180/183
	evIncomingInvite = "incomingInvite"
	evConnect        = "connect"        // 2xx + ACK sent, or local accept
	evStreamsUp      = "streamsUp"      // media peer reports connected
	evHold           = "hold"
	evHoldOk         = "holdOk"
	evResume         = "resume"
	evResumeOk       = "resumeOk"
	evTerminate      = "terminate"
	evEnded          = "ended"
	evError          = "error"
	evResetToIdle    = "resetToIdle"
)

func activeStates() []string {
	return []string{
		string(StateOutgoingInit), string(StateOutgoingProgress), string(StateOutgoingRinging),
		string(StateIncomingReceived), string(StateConnected), string(StateStreamsRunning),
		string(StatePausing), string(StatePaused), string(StateResuming),
	}
}

// newMachine builds the call FSM starting from Idle. onEnter is invoked on
// every transition (including the initial no-op into Idle is skipped by
// looplab/fsm, which only calls enter_state on an actual Src->Dst move).
func newMachine(onEnter func(ctx context.Context, from, to State)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: evStartOutgoing, Src: []string{string(StateIdle)}, Dst: string(StateOutgoingInit)},
			{Name: evProvisional, Src: []string{string(StateOutgoingInit)}, Dst: string(StateOutgoingProgress)},
			{Name: evRinging, Src: []string{string(StateOutgoingInit), string(StateOutgoingProgress)}, Dst: string(StateOutgoingRinging)},
			{Name: evIncomingInvite, Src: []string{string(StateIdle)}, Dst: string(StateIncomingReceived)},
			{Name: evConnect, Src: []string{string(StateOutgoingInit), string(StateOutgoingProgress), string(StateOutgoingRinging), string(StateIncomingReceived)}, Dst: string(StateConnected)},
			{Name: evStreamsUp, Src: []string{string(StateConnected)}, Dst: string(StateStreamsRunning)},
			{Name: evHold, Src: []string{string(StateStreamsRunning)}, Dst: string(StatePausing)},
			{Name: evHoldOk, Src: []string{string(StatePausing)}, Dst: string(StatePaused)},
			{Name: evResume, Src: []string{string(StatePaused)}, Dst: string(StateResuming)},
			{Name: evResumeOk, Src: []string{string(StateResuming)}, Dst: string(StateStreamsRunning)},
			{Name: evTerminate, Src: activeStates(), Dst: string(StateEnding)},
			{Name: evEnded, Src: []string{string(StateEnding)}, Dst: string(StateEnded)},
			{Name: evError, Src: activeStates(), Dst: string(StateError)},
			{Name: evResetToIdle, Src: []string{
				string(StateIdle), string(StateOutgoingInit), string(StateOutgoingProgress), string(StateOutgoingRinging),
				string(StateIncomingReceived), string(StateConnected), string(StateStreamsRunning), string(StatePausing),
				string(StatePaused), string(StateResuming), string(StateEnding), string(StateEnded), string(StateError),
			}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				onEnter(ctx, State(e.Src), State(e.Dst))
			},
		},
	)
}
