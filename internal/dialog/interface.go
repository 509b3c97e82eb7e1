package dialog

import "fmt"

// DialogKey is a SIP dialog's unique key.
//
// Per RFC 3261 it has three components:
//   - Call-ID: the call's unique identifier
//   - LocalTag: the local tag (from-tag for a UAC, to-tag for a UAS)
//   - RemoteTag: the remote tag (to-tag for a UAC, from-tag for a UAS)
//
// The combination uniquely identifies a dialog.
type DialogKey struct {
	// CallID is the call's unique identifier, from the Call-ID header.
	CallID string
	// LocalTag is this UA's tag.
	LocalTag string
	// RemoteTag is the peer's tag.
	RemoteTag string
}

// String returns the dialog key's string form.
func (dk DialogKey) String() string {
	return fmt.Sprintf("%s:%s:%s", dk.CallID, dk.LocalTag, dk.RemoteTag)
}

// ReferOpts holds options for a REFER request (call transfer).
//
// REFER implements call transfer per RFC 3515, supporting both a plain
// blind transfer and an attended transfer with consultation.
type ReferOpts struct {
	// ReferSub controls the Refer-Sub header governing NOTIFY subscription
	// (RFC 4488).
	ReferSub *string
	// NoReferSub disables the NOTIFY subscription entirely.
	NoReferSub bool
	// Headers carries extra headers to add to the REFER request.
	Headers map[string]string
}
