// Package auth implements the digest challenge-response engine (spec §4.10).
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/icholy/digest"
)

// Kind distinguishes WWW-Authenticate/Authorization from
// Proxy-Authenticate/Proxy-Authorization; both are handled identically
// otherwise.
type Kind int

const (
	KindWWW Kind = iota
	KindProxy
)

func (k Kind) HeaderName() string {
	if k == KindProxy {
		return "Proxy-Authenticate"
	}
	return "WWW-Authenticate"
}

func (k Kind) AuthorizationHeaderName() string {
	if k == KindProxy {
		return "Proxy-Authorization"
	}
	return "Authorization"
}

// Credentials are the account-scoped secrets presented to a challenge.
type Credentials struct {
	Username string
	Password string
}

// NonceState tracks nc and cnonce for one (realm, nonce) pair, per
// account, per spec §4.10 ("nc is per-(realm, nonce) and monotonic hex;
// cnonce is 128 bits from a CSPRNG").
type NonceState struct {
	Realm  string
	Nonce  string
	Count  int
	Cnonce string
}

// nextCnonce draws 16 random bytes (128 bits) from a CSPRNG and hex-encodes
// them, matching the spec's "cnonce is 16 random bytes hex" wording
// exactly.
func nextCnonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generating cnonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// BuildAuthorization parses a WWW-Authenticate/Proxy-Authenticate header
// value and returns the Authorization/Proxy-Authorization header value to
// retry the request with, along with the updated NonceState the caller
// must persist on the account for any subsequent in-dialog challenge
// against the same realm+nonce.
//
// Per spec §4.4: accepts algorithm MD5 and MD5-sess, qop "auth"; nc is
// incremented (hex, 8 digits) and a fresh cnonce is generated on every
// call — the caller is responsible for enforcing the "retry exactly
// once" policy (§4.4, §9 open question: a second challenge, even with a
// different realm, is terminal).
func BuildAuthorization(method, requestURI, challengeHeader string, cred Credentials, prev *NonceState) (headerValue string, state NonceState, err error) {
	chal, err := digest.ParseChallenge(challengeHeader)
	if err != nil {
		return "", NonceState{}, fmt.Errorf("auth: parsing challenge: %w", err)
	}

	if !supportsAlgorithm(chal.Algorithm) {
		return "", NonceState{}, fmt.Errorf("auth: unsupported algorithm %q", chal.Algorithm)
	}
	if len(chal.QOP) > 0 && !containsFold(chal.QOP, "auth") {
		return "", NonceState{}, fmt.Errorf("auth: unsupported qop %v", chal.QOP)
	}

	count := 1
	if prev != nil && prev.Realm == chal.Realm && prev.Nonce == chal.Nonce {
		count = prev.Count + 1
	}

	cnonce, err := nextCnonce()
	if err != nil {
		return "", NonceState{}, err
	}

	cred2, err := digest.Digest(chal, digest.Options{
		Method:   method,
		URI:      requestURI,
		Count:    count,
		Cnonce:   cnonce,
		Username: cred.Username,
		Password: cred.Password,
	})
	if err != nil {
		return "", NonceState{}, fmt.Errorf("auth: computing digest response: %w", err)
	}

	return cred2.String(), NonceState{
		Realm:  chal.Realm,
		Nonce:  chal.Nonce,
		Count:  count,
		Cnonce: cnonce,
	}, nil
}

func supportsAlgorithm(alg string) bool {
	switch strings.ToUpper(alg) {
	case "", "MD5", "MD5-SESS":
		return true
	default:
		return false
	}
}

func containsFold(list []string, want string) bool {
	for _, v := range list {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
