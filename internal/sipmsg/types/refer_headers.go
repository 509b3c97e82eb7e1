package types

import (
	"fmt"
	"net/url"
	"strings"
)

// ReferTo is a Refer-To header.
type ReferTo struct {
	Address         Address           // REFER target address
	EmbeddedHeaders map[string]string // Embedded headers (e.g. Replaces)
}

// NewReferTo creates a new Refer-To header.
func NewReferTo(address Address) *ReferTo {
	return &ReferTo{
		Address:         address,
		EmbeddedHeaders: make(map[string]string),
	}
}

// ParseReferTo parses a string into a Refer-To header.
// Format: <sip:dave@denver.example.org?Replaces=12345%40192.168.118.3%3Bto-tag%3D12345%3Bfrom-tag%3D5FFE-3994>
func ParseReferTo(value string) (*ReferTo, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty Refer-To value")
	}

	// Parse as a regular address.
	addr, err := ParseAddress(value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Refer-To address: %v", err)
	}

	referTo := &ReferTo{
		Address:         addr,
		EmbeddedHeaders: make(map[string]string),
	}

	// Pull any embedded headers out of the URI.
	if sipAddr, ok := addr.(*SipAddress); ok && sipAddr.uri != nil {
		headers := sipAddr.uri.Headers()
		for name, value := range headers {
			// URL-decode the value.
			decodedValue, err := url.QueryUnescape(value)
			if err != nil {
				// Fall back to the raw value if decoding fails.
				decodedValue = value
			}
			referTo.EmbeddedHeaders[name] = decodedValue
		}
	}

	return referTo, nil
}

// String returns the Refer-To's wire representation.
func (r *ReferTo) String() string {
	if r.Address == nil {
		return ""
	}

	// If there are embedded headers, the URI needs to be rebuilt.
	if len(r.EmbeddedHeaders) > 0 {
		// Clone the address so the original is untouched.
		addrCopy := r.Address.Clone()
		if sipAddr, ok := addrCopy.(*SipAddress); ok && sipAddr.uri != nil {
			// Replace the URI's existing headers with ours.
			if sipURI, ok := sipAddr.uri.(*SipURI); ok {
				sipURI.headers = make(map[string]string)
				for name, value := range r.EmbeddedHeaders {
					// URL-encode the value.
					encodedValue := url.QueryEscape(value)
					sipURI.headers[name] = encodedValue
				}
			}
		}
		return addrCopy.String()
	}

	return r.Address.String()
}

// HasReplaces reports whether an embedded Replaces header is present.
func (r *ReferTo) HasReplaces() bool {
	_, exists := r.EmbeddedHeaders["Replaces"]
	return exists
}

// GetReplaces returns the embedded Replaces header, if present.
func (r *ReferTo) GetReplaces() (*Replaces, error) {
	replacesValue, exists := r.EmbeddedHeaders["Replaces"]
	if !exists {
		return nil, fmt.Errorf("no Replaces header in Refer-To")
	}
	return ParseReplaces(replacesValue)
}

// ReferredBy is a Referred-By header.
type ReferredBy struct {
	Address    Address           // Address of the REFER initiator
	CSeq       string            // Optional cseq parameter
	Parameters map[string]string // Additional parameters
}

// NewReferredBy creates a new Referred-By header.
func NewReferredBy(address Address) *ReferredBy {
	return &ReferredBy{
		Address:    address,
		Parameters: make(map[string]string),
	}
}

// ParseReferredBy parses a string into a Referred-By header.
// Format: <sip:alice@atlanta.example.com>;cseq=1
func ParseReferredBy(value string) (*ReferredBy, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty Referred-By value")
	}

	// Find the end of the address (after '>').
	addrEnd := strings.Index(value, ">")
	if addrEnd == -1 {
		// Address with no angle brackets: look for the first semicolon.
		if paramStart := strings.Index(value, ";"); paramStart != -1 {
			addrEnd = paramStart - 1
		} else {
			addrEnd = len(value) - 1
		}
	}

	// Parse the address portion.
	addrPart := value[:addrEnd+1]
	addr, err := ParseAddress(addrPart)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Referred-By address: %v", err)
	}

	referredBy := &ReferredBy{
		Address:    addr,
		Parameters: make(map[string]string),
	}

	// Parse parameters following the address.
	if addrEnd+1 < len(value) {
		paramStr := strings.TrimSpace(value[addrEnd+1:])
		if strings.HasPrefix(paramStr, ";") {
			paramStr = paramStr[1:]
			params := strings.Split(paramStr, ";")
			for _, param := range params {
				if param == "" {
					continue
				}
				parts := strings.SplitN(param, "=", 2)
				if len(parts) == 2 {
					name := strings.TrimSpace(parts[0])
					value := strings.TrimSpace(parts[1])
					if name == "cseq" {
						referredBy.CSeq = value
					} else {
						referredBy.Parameters[name] = value
					}
				} else {
					referredBy.Parameters[parts[0]] = ""
				}
			}
		}
	}

	return referredBy, nil
}

// String returns the Referred-By's wire representation.
func (r *ReferredBy) String() string {
	var sb strings.Builder

	if r.Address != nil {
		sb.WriteString(r.Address.String())
	}

	// Append cseq, if set.
	if r.CSeq != "" {
		sb.WriteString(";cseq=")
		sb.WriteString(r.CSeq)
	}

	// Append the remaining parameters.
	for name, value := range r.Parameters {
		sb.WriteString(";")
		sb.WriteString(name)
		if value != "" {
			sb.WriteString("=")
			sb.WriteString(value)
		}
	}

	return sb.String()
}

// Replaces is a Replaces header.
type Replaces struct {
	CallID    string // Call-ID of the dialog being replaced
	ToTag     string // to-tag of the dialog being replaced
	FromTag   string // from-tag of the dialog being replaced
	EarlyOnly bool   // early-only flag
}

// NewReplaces creates a new Replaces header.
func NewReplaces(callID, toTag, fromTag string) *Replaces {
	return &Replaces{
		CallID:  callID,
		ToTag:   toTag,
		FromTag: fromTag,
	}
}

// ParseReplaces parses a string into a Replaces header.
// Format: 98732@sip.example.com;to-tag=r33th4x0r;from-tag=ff87ff;early-only
func ParseReplaces(value string) (*Replaces, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty Replaces value")
	}

	replaces := &Replaces{}

	// Split into call-id and parameters.
	parts := strings.Split(value, ";")
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid Replaces format")
	}

	// The first part is the Call-ID.
	replaces.CallID = strings.TrimSpace(parts[0])
	if replaces.CallID == "" {
		return nil, fmt.Errorf("empty Call-ID in Replaces")
	}

	// Parse parameters.
	for i := 1; i < len(parts); i++ {
		param := strings.TrimSpace(parts[i])
		if param == "" {
			continue
		}

		if param == "early-only" {
			replaces.EarlyOnly = true
			continue
		}

		paramParts := strings.SplitN(param, "=", 2)
		if len(paramParts) != 2 {
			continue
		}

		name := strings.TrimSpace(paramParts[0])
		value := strings.TrimSpace(paramParts[1])

		switch name {
		case "to-tag":
			replaces.ToTag = value
		case "from-tag":
			replaces.FromTag = value
		}
	}

	// Check required parameters.
	if replaces.ToTag == "" {
		return nil, fmt.Errorf("missing to-tag in Replaces")
	}
	if replaces.FromTag == "" {
		return nil, fmt.Errorf("missing from-tag in Replaces")
	}

	return replaces, nil
}

// String returns the Replaces's wire representation.
func (r *Replaces) String() string {
	var sb strings.Builder

	sb.WriteString(r.CallID)
	sb.WriteString(";to-tag=")
	sb.WriteString(r.ToTag)
	sb.WriteString(";from-tag=")
	sb.WriteString(r.FromTag)

	if r.EarlyOnly {
		sb.WriteString(";early-only")
	}

	return sb.String()
}

// Encode returns the URL-encoded form for embedding in a URI.
func (r *Replaces) Encode() string {
	return url.QueryEscape(r.String())
}

// normalizeReferHeaderName normalizes header names for REFER-family headers.
func normalizeReferHeaderName(name string) string {
	switch strings.ToLower(name) {
	case "refer-to":
		return HeaderReferTo
	case "referred-by":
		return HeaderReferredBy
	case "replaces":
		return HeaderReplaces
	case "refer-sub":
		return HeaderReferSub
	case "accept-refer-sub":
		return HeaderAcceptReferSub
	case "notify-refer-sub":
		return HeaderNotifyReferSub
	case "refer-events-at":
		return HeaderReferEvents
	default:
		// Fall back to standard normalization for other headers:
		// title-case each hyphen-separated part.
		parts := strings.Split(name, "-")
		for i, part := range parts {
			if len(part) > 0 {
				parts[i] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
			}
		}
		return strings.Join(parts, "-")
	}
}
