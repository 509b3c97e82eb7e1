package dialog

import (
	"fmt"
	"strconv"
	"sync"
)

// SequenceManager tracks CSeq numbers for a dialog.
//
// RFC 3261 Section 8.1.1.5:
//   - CSeq must increase for each new request within a dialog
//   - CSeq is a number plus a method
//   - the ACK to a non-2xx response reuses the INVITE's CSeq number
//   - the ACK to a 2xx response reuses the INVITE's CSeq number but with
//     method ACK
type SequenceManager struct {
	mu           sync.Mutex
	localCSeq    uint32 // current local CSeq
	remoteCSeq   uint32 // last accepted remote CSeq
	isUAC        bool   // role in the dialog
	inviteCSeq   uint32 // CSeq from the INVITE (for ACK)
	inviteMethod string // INVITE's method (always "INVITE")
}

// NewSequenceManager creates a CSeq manager.
//
// initialLocal is the starting local CSeq (usually a random number);
// isUAC is true if this UA initiated the dialog.
func NewSequenceManager(initialLocal uint32, isUAC bool) *SequenceManager {
	return &SequenceManager{
		localCSeq:  initialLocal,
		remoteCSeq: 0,
		isUAC:      isUAC,
	}
}

// NextLocalCSeq returns the next local CSeq for a new request.
//
// RFC 3261: CSeq must strictly increase for each new request.
func (sm *SequenceManager) NextLocalCSeq() uint32 {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.localCSeq++
	return sm.localCSeq
}

// GetLocalCSeq returns the current local CSeq without incrementing it.
func (sm *SequenceManager) GetLocalCSeq() uint32 {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return sm.localCSeq
}

// ValidateRemoteCSeq validates an inbound CSeq from the remote side.
//
// RFC 3261 Section 12.2.2:
//   - CSeq must strictly increase
//   - exceptions: retransmits and ACK
//
// Returns true if cseq is valid.
func (sm *SequenceManager) ValidateRemoteCSeq(cseq uint32, method string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// First request from the remote side.
	if sm.remoteCSeq == 0 {
		sm.remoteCSeq = cseq
		return true
	}

	// ACK may carry the same CSeq number as its INVITE.
	if method == "ACK" {
		return cseq == sm.inviteCSeq || cseq == sm.remoteCSeq
	}

	// Retransmit (same CSeq).
	if cseq == sm.remoteCSeq {
		return true
	}

	// A new request must have a larger CSeq.
	if cseq > sm.remoteCSeq {
		sm.remoteCSeq = cseq
		return true
	}

	return false
}

// SetInviteCSeq stores the INVITE's CSeq so later ACKs can reuse it.
func (sm *SequenceManager) SetInviteCSeq(cseq uint32, method string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if method == "INVITE" {
		sm.inviteCSeq = cseq
		sm.inviteMethod = method
	}
}

// GetInviteCSeq returns the stored INVITE CSeq.
func (sm *SequenceManager) GetInviteCSeq() uint32 {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return sm.inviteCSeq
}

// ParseCSeq splits a CSeq header into its number and method.
//
// Format: "number method", e.g. "1 INVITE".
func ParseCSeq(cseqHeader string) (uint32, string, error) {
	spaceIdx := -1
	for i, ch := range cseqHeader {
		if ch == ' ' || ch == '\t' {
			spaceIdx = i
			break
		}
	}

	if spaceIdx == -1 {
		return 0, "", fmt.Errorf("invalid CSeq format: %s", cseqHeader)
	}

	numStr := cseqHeader[:spaceIdx]
	num, err := strconv.ParseUint(numStr, 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("invalid CSeq number: %s", numStr)
	}

	methodStart := spaceIdx + 1
	for methodStart < len(cseqHeader) && (cseqHeader[methodStart] == ' ' || cseqHeader[methodStart] == '\t') {
		methodStart++
	}

	if methodStart >= len(cseqHeader) {
		return 0, "", fmt.Errorf("missing method in CSeq: %s", cseqHeader)
	}

	method := cseqHeader[methodStart:]

	methodEnd := len(method)
	for methodEnd > 0 && (method[methodEnd-1] == ' ' || method[methodEnd-1] == '\t') {
		methodEnd--
	}
	method = method[:methodEnd]

	return uint32(num), method, nil
}

// FormatCSeq formats a CSeq header value.
func FormatCSeq(cseq uint32, method string) string {
	return fmt.Sprintf("%d %s", cseq, method)
}

// GenerateInitialCSeq generates a starting CSeq number.
//
// RFC 3261 recommends a random initial value.
func GenerateInitialCSeq() uint32 {
	// TODO: switch to crypto/rand before exposing this beyond local dialogs.
	return uint32(timeNow().UnixNano() % 2147483647) // max 31-bit
}
