package dialog

import (
	"time"

	"sipline.dev/core/internal/sipmsg/types"
)

// GenerateDialogKey builds a dialog key from a SIP message, accounting for
// the local UA's UAC/UAS role.
//
// RFC 3261 Section 12: a dialog is identified by three components:
//   - Call-ID
//   - From tag (local tag for a UAC, remote tag for a UAS)
//   - To tag (remote tag for a UAC, local tag for a UAS)
//
// msg is a request or response; isUAS is true if this UA received the
// INVITE. Returns an error if msg is missing a required header.
func GenerateDialogKey(msg types.Message, isUAS bool) (DialogKey, error) {
	callID := msg.GetHeader("Call-ID")
	if callID == "" {
		return DialogKey{}, &DialogError{
			Code:    400,
			Message: "Missing Call-ID header",
		}
	}

	fromHeader := msg.GetHeader("From")
	if fromHeader == "" {
		return DialogKey{}, &DialogError{
			Code:    400,
			Message: "Missing From header",
		}
	}
	fromTag := extractTag(fromHeader)
	if fromTag == "" {
		return DialogKey{}, &DialogError{
			Code:    400,
			Message: "Missing From tag",
		}
	}

	// To tag may be absent on an initial request.
	toHeader := msg.GetHeader("To")
	if toHeader == "" {
		return DialogKey{}, &DialogError{
			Code:    400,
			Message: "Missing To header",
		}
	}
	toTag := extractTag(toHeader)

	var localTag, remoteTag string
	if isUAS {
		// UAS: local = To tag, remote = From tag.
		localTag = toTag
		remoteTag = fromTag
	} else {
		// UAC: local = From tag, remote = To tag.
		localTag = fromTag
		remoteTag = toTag
	}

	return DialogKey{
		CallID:    callID,
		LocalTag:  localTag,
		RemoteTag: remoteTag,
	}, nil
}

// GenerateLocalTag generates a unique local tag for a dialog.
//
// RFC 3261 recommends cryptographically random tags for uniqueness and
// security.
func GenerateLocalTag() string {
	// TODO: switch to crypto/rand before exposing this beyond local dialogs.
	return generateRandomString(8)
}

// extractTag pulls the tag parameter's value out of a From/To header.
//
// Format: "Display Name" <sip:user@host>;tag=value
func extractTag(header string) string {
	tagIndex := findParameter(header, "tag")
	if tagIndex == -1 {
		return ""
	}

	start := tagIndex + 4 // len("tag=")
	end := start
	for end < len(header) && header[end] != ';' && header[end] != ' ' {
		end++
	}

	return header[start:end]
}

// findParameter finds the position of param within header.
func findParameter(header, param string) int {
	paramWithEquals := param + "="
	idx := 0
	for idx < len(header) {
		pos := findSubstring(header[idx:], paramWithEquals)
		if pos == -1 {
			return -1
		}
		idx += pos

		// Confirm this is a parameter start (preceded by ; or space, or at
		// the start of the string).
		if idx == 0 || header[idx-1] == ';' || header[idx-1] == ' ' {
			return idx
		}
		idx++
	}
	return -1
}

// findSubstring is a straightforward substring search.
func findSubstring(s, substr string) int {
	if len(substr) > len(s) {
		return -1
	}
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// generateRandomString generates a random string of the given length.
func generateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)

	// TODO: switch to crypto/rand before exposing this beyond local dialogs.
	for i := range result {
		result[i] = charset[(i*17+int(timeNow().UnixNano()))%len(charset)]
	}

	return string(result)
}

// timeNow is a seam for testing.
var timeNow = func() time.Time {
	return time.Now()
}

// DialogError is a dialog error carrying a SIP status code.
type DialogError struct {
	Code    int
	Message string
}

func (e *DialogError) Error() string {
	return e.Message
}
