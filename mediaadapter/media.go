// Package mediaadapter defines the media-adapter contract (spec §4.9): a
// narrow capability interface treating SDP as opaque text, plus a reference
// implementation that negotiates hold/resume directions with
// github.com/pion/sdp/v3 without driving any actual RTP (the real audio
// path lives outside this library, same as the browser-side WebRTC stack
// the spec's original source delegates to).
package mediaadapter

import "context"

// EventKind enumerates the asynchronous events a Session reports through
// its event sink.
type EventKind int

const (
	EventConnected EventKind = iota
	EventClosed
	EventRemoteAudioAvailable
	EventAudioDeviceChanged
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventClosed:
		return "closed"
	case EventRemoteAudioAvailable:
		return "remoteAudioAvailable"
	case EventAudioDeviceChanged:
		return "audioDeviceChanged"
	default:
		return "unknown"
	}
}

// Event is one occurrence reported on a Session's event sink.
type Event struct {
	Kind   EventKind
	Detail string
}

// Session is the per-call media adapter contract. SDP is always opaque
// text in and out; no method here parses codec negotiation results beyond
// what's needed to flip direction attributes for hold/resume.
type Session interface {
	Initialize(ctx context.Context) error
	IsInitialized() bool

	CreateOffer(ctx context.Context) (sdp string, err error)
	CreateAnswer(ctx context.Context, remoteSDP string) (sdp string, err error)

	SetMuted(muted bool)
	SetAudioEnabled(enabled bool)

	// SendDTMF reports whether the tone sequence was accepted for playout;
	// durationMS/gapMS control per-digit and inter-digit timing.
	SendDTMF(ctx context.Context, digits string, durationMS, gapMS int) (bool, error)

	// HoldLocal/ResumeLocal re-negotiate the local direction attribute
	// (sendonly/inactive vs sendrecv) and return the updated local SDP.
	HoldLocal(ctx context.Context) (sdp string, err error)
	ResumeLocal(ctx context.Context) (sdp string, err error)

	Dispose()

	Events() <-chan Event
}
