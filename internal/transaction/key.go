package transaction

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"sipline.dev/core/internal/sipmsg/types"
)

// GenerateTransactionKey derives a TransactionKey from a message: the Via
// branch, the CSeq method (or the message's own method for a request), and
// client/server direction (RFC 3261 §17.1.3/§17.2.3).
func GenerateTransactionKey(msg types.Message, isClient bool) (TransactionKey, error) {
	via := msg.GetHeader("Via")
	if via == "" {
		return TransactionKey{}, fmt.Errorf("missing Via header")
	}

	branch := extractBranch(via)
	if branch == "" {
		return TransactionKey{}, fmt.Errorf("missing branch parameter in Via header")
	}

	// RFC 3261 §8.1.1.7: a compliant branch always carries this magic
	// cookie prefix; anything without it predates RFC 3261 and this stack
	// doesn't attempt the older matching rules.
	if !strings.HasPrefix(branch, "z9hG4bK") {
		return TransactionKey{}, fmt.Errorf("invalid branch parameter: must start with z9hG4bK")
	}

	var method string
	if msg.IsRequest() {
		method = msg.Method()
	} else {
		// A response carries no method of its own — it belongs to
		// whichever transaction its CSeq method names.
		cseq := msg.GetHeader("CSeq")
		if cseq == "" {
			return TransactionKey{}, fmt.Errorf("missing CSeq header")
		}
		method = extractMethodFromCSeq(cseq)
		if method == "" {
			return TransactionKey{}, fmt.Errorf("invalid CSeq header")
		}
	}

	return TransactionKey{
		Branch:    branch,
		Method:    method,
		Direction: isClient,
	}, nil
}

// GenerateBranch produces a fresh Via branch parameter, magic-cookie
// prefixed per RFC 3261 §8.1.1.7.
func GenerateBranch() string {
	b := make([]byte, 16)
	rand.Read(b)
	return "z9hG4bK" + hex.EncodeToString(b)
}

// extractBranch pulls the branch parameter value out of a raw Via header,
// e.g. "SIP/2.0/WS host;branch=z9hG4bK776asdhds" -> "z9hG4bK776asdhds".
func extractBranch(via string) string {
	parts := strings.Split(via, ";")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.Contains(part, "branch") {
			if idx := strings.Index(part, "="); idx != -1 {
				return strings.TrimSpace(part[idx+1:])
			}
		}
	}
	return ""
}

// extractMethodFromCSeq pulls the method token out of a raw CSeq header,
// e.g. "314159 INVITE" -> "INVITE".
func extractMethodFromCSeq(cseq string) string {
	parts := strings.Fields(cseq)
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}

// String renders a TransactionKey for logging and map-key use.
func (k TransactionKey) String() string {
	direction := "server"
	if k.Direction {
		direction = "client"
	}
	return fmt.Sprintf("%s|%s|%s", k.Branch, k.Method, direction)
}

// Equals compares two transaction keys for equality.
func (k TransactionKey) Equals(other TransactionKey) bool {
	return k.Branch == other.Branch &&
		k.Method == other.Method &&
		k.Direction == other.Direction
}

// IsClientKey reports whether this key identifies a client transaction.
func (k TransactionKey) IsClientKey() bool {
	return k.Direction
}

// IsServerKey reports whether this key identifies a server transaction.
func (k TransactionKey) IsServerKey() bool {
	return !k.Direction
}

// ValidateTransactionKey checks a key is well-formed before it's used to
// index the Store.
func ValidateTransactionKey(key TransactionKey) error {
	if key.Branch == "" {
		return fmt.Errorf("empty branch")
	}
	if !strings.HasPrefix(key.Branch, "z9hG4bK") {
		return fmt.Errorf("invalid branch: must start with z9hG4bK")
	}
	if key.Method == "" {
		return fmt.Errorf("empty method")
	}
	return nil
}

// MatchingKey builds the key a message should be looked up under: a request
// matches against a server transaction, a response against a client one.
func MatchingKey(msg types.Message) (TransactionKey, error) {
	if msg.IsRequest() {
		return GenerateTransactionKey(msg, false)
	}
	return GenerateTransactionKey(msg, true)
}
