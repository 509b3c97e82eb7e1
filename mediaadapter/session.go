package mediaadapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/sdp/v3"
)

// direction is one of the four RFC 4566 §6 media-direction attributes.
type direction string

const (
	dirSendRecv direction = "sendrecv"
	dirSendOnly direction = "sendonly"
	dirRecvOnly direction = "recvonly"
	dirInactive direction = "inactive"
)

// DefaultCodecs lists the payload types offered, matching the teacher's
// media_builder reference attribute set (PCMU/PCMA plus telephone-event for
// DTMF per RFC 4733).
var DefaultCodecs = []sdp.Attribute{
	{Key: "rtpmap", Value: "0 PCMU/8000"},
	{Key: "rtpmap", Value: "8 PCMA/8000"},
	{Key: "rtpmap", Value: "101 telephone-event/8000"},
	{Key: "fmtp", Value: "101 0-16"},
}

// sessionImpl is the reference Session implementation. It tracks direction
// state and emits lifecycle events, but does not move any RTP packets — the
// contract only promises opaque SDP exchange, so this is deliberately a
// pure negotiation bookkeeper, not a media engine.
type sessionImpl struct {
	mu          sync.Mutex
	initialized bool
	muted       bool
	audioOn     bool
	localDir    direction
	localAddr   string
	localPort   int
	sessionID   uint64

	events chan Event
}

// NewSession creates a reference media adapter bound to the given local
// RTP endpoint (the address/port the real RTP engine, outside this
// library, would actually listen on).
func NewSession(localAddr string, localPort int, sessionID uint64) Session {
	return &sessionImpl{
		localDir:  dirSendRecv,
		localAddr: localAddr,
		localPort: localPort,
		sessionID: sessionID,
		audioOn:   true,
		events:    make(chan Event, 16),
	}
}

func (s *sessionImpl) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}

func (s *sessionImpl) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *sessionImpl) CreateOffer(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return "", fmt.Errorf("mediaadapter: session not initialized")
	}
	return s.buildDescription().Marshal()
}

func (s *sessionImpl) CreateAnswer(_ context.Context, remoteSDP string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return "", fmt.Errorf("mediaadapter: session not initialized")
	}

	var remote sdp.SessionDescription
	if err := remote.Unmarshal([]byte(remoteSDP)); err != nil {
		return "", fmt.Errorf("mediaadapter: parsing remote offer: %w", err)
	}

	// Mirror the offer's direction unless we're already locally holding.
	if s.localDir != dirInactive && s.localDir != dirSendOnly {
		s.localDir = answerDirectionFor(remoteDirection(&remote))
	}

	sdpBytes, err := s.buildDescription().Marshal()
	if err != nil {
		return "", err
	}
	s.emit(Event{Kind: EventConnected})
	return sdpBytes, nil
}

func (s *sessionImpl) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *sessionImpl) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	s.audioOn = enabled
	s.mu.Unlock()
}

func (s *sessionImpl) SendDTMF(ctx context.Context, digits string, durationMS, gapMS int) (bool, error) {
	s.mu.Lock()
	initialized, muted, audioOn := s.initialized, s.muted, s.audioOn
	s.mu.Unlock()

	if !initialized || !audioOn || muted {
		return false, nil
	}
	if digits == "" {
		return false, fmt.Errorf("mediaadapter: empty DTMF digit string")
	}

	// The real RTP-event playout lives outside this package; this just
	// paces the call the way the spec's sendDtmfSequence expects so
	// callers relying on the timing contract behave correctly against the
	// reference adapter.
	for i, d := range digits {
		if !strings.ContainsRune("0123456789ABCD*#", d) {
			return false, fmt.Errorf("mediaadapter: invalid DTMF digit %q", d)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Duration(durationMS) * time.Millisecond):
		}
		if i < len(digits)-1 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(time.Duration(gapMS) * time.Millisecond):
			}
		}
	}
	return true, nil
}

func (s *sessionImpl) HoldLocal(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localDir = dirSendOnly
	return s.buildDescription().Marshal()
}

func (s *sessionImpl) ResumeLocal(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localDir = dirSendRecv
	return s.buildDescription().Marshal()
}

func (s *sessionImpl) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		s.emit(Event{Kind: EventClosed})
	}
	s.initialized = false
}

func (s *sessionImpl) Events() <-chan Event {
	return s.events
}

// emit is non-blocking: a full event channel drops the oldest-style
// backpressure is the caller's problem to drain, not this adapter's to
// block on.
func (s *sessionImpl) emit(e Event) {
	select {
	case s.events <- e:
	default:
	}
}

func (s *sessionImpl) buildDescription() *sdp.SessionDescription {
	formats := make([]string, 0, len(DefaultCodecs))
	seen := map[string]bool{}
	for _, a := range DefaultCodecs {
		if a.Key != "rtpmap" {
			continue
		}
		pt := strings.SplitN(a.Value, " ", 2)[0]
		if !seen[pt] {
			seen[pt] = true
			formats = append(formats, pt)
		}
	}

	attrs := append([]sdp.Attribute(nil), DefaultCodecs...)
	attrs = append(attrs, sdp.Attribute{Key: string(s.localDir)})

	return &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      s.sessionID,
			SessionVersion: s.sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: s.localAddr,
		},
		SessionName: "-",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: s.localAddr},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: s.localPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attrs,
			},
		},
	}
}

func remoteDirection(desc *sdp.SessionDescription) direction {
	for _, md := range desc.MediaDescriptions {
		for _, a := range md.Attributes {
			switch a.Key {
			case string(dirSendRecv), string(dirSendOnly), string(dirRecvOnly), string(dirInactive):
				return direction(a.Key)
			}
		}
	}
	return dirSendRecv
}

// answerDirectionFor mirrors RFC 3264 §6.1's direction-negotiation table
// for the subset of directions this adapter cares about.
func answerDirectionFor(remote direction) direction {
	switch remote {
	case dirSendOnly:
		return dirRecvOnly
	case dirRecvOnly:
		return dirSendOnly
	case dirInactive:
		return dirInactive
	default:
		return dirSendRecv
	}
}
