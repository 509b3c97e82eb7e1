package types

import (
	"fmt"
	"strings"
)

// Address is a SIP address, as used in From, To, and Contact headers.
type Address interface {
	DisplayName() string
	URI() URI
	Parameters() map[string]string
	Parameter(name string) string
	SetParameter(name string, value string)
	String() string
	Clone() Address
}

// SipAddress is the Address implementation.
type SipAddress struct {
	displayName string
	uri         URI
	parameters  map[string]string
}

// NewAddress creates an address from a display name and URI.
func NewAddress(displayName string, uri URI) *SipAddress {
	return &SipAddress{
		displayName: displayName,
		uri:         uri,
		parameters:  make(map[string]string),
	}
}

// NewAddressFromString creates an address from a bare URI string.
func NewAddressFromString(uriStr string) (*SipAddress, error) {
	uri, err := ParseURI(uriStr)
	if err != nil {
		return nil, err
	}
	return NewAddress("", uri), nil
}

// ParseAddress parses a name-addr or addr-spec header value into an Address.
func ParseAddress(str string) (Address, error) {
	str = strings.TrimSpace(str)

	if str == "*" {
		return &WildcardAddress{}, nil
	}

	addr := &SipAddress{
		parameters: make(map[string]string),
	}

	if strings.HasPrefix(str, "\"") {
		// Quoted display name.
		endQuote := 1
		for endQuote < len(str) {
			if str[endQuote] == '"' && (endQuote == 1 || str[endQuote-1] != '\\') {
				break
			}
			endQuote++
		}
		if endQuote >= len(str) {
			return nil, fmt.Errorf("unterminated quoted display name")
		}
		addr.displayName = strings.ReplaceAll(str[1:endQuote], "\\\"", "\"")
		str = strings.TrimSpace(str[endQuote+1:])
	} else if idx := strings.Index(str, "<"); idx > 0 {
		// Unquoted display name.
		addr.displayName = strings.TrimSpace(str[:idx])
		str = strings.TrimSpace(str[idx:])
	}

	if !strings.HasPrefix(str, "<") {
		// No angle brackets: the whole string is the URI (addr-spec form).
		uri, err := ParseURI(str)
		if err != nil {
			return nil, fmt.Errorf("failed to parse URI: %v", err)
		}
		addr.uri = uri
		return addr, nil
	}

	endBracket := strings.Index(str, ">")
	if endBracket == -1 {
		return nil, fmt.Errorf("unterminated URI")
	}

	uriStr := str[1:endBracket]
	uri, err := ParseURI(uriStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URI: %v", err)
	}
	addr.uri = uri

	// Parameters after the closing bracket belong to the address, not the URI.
	if endBracket+1 < len(str) {
		paramStr := strings.TrimSpace(str[endBracket+1:])
		if strings.HasPrefix(paramStr, ";") {
			paramStr = paramStr[1:]
			params := strings.Split(paramStr, ";")
			for _, param := range params {
				if param == "" {
					continue
				}

				parts := strings.SplitN(param, "=", 2)
				if len(parts) == 2 {
					addr.parameters[parts[0]] = parts[1]
				} else {
					addr.parameters[parts[0]] = ""
				}
			}
		}
	}

	return addr, nil
}

// DisplayName returns the address's display name.
func (a *SipAddress) DisplayName() string {
	return a.displayName
}

// URI returns the address's URI.
func (a *SipAddress) URI() URI {
	return a.uri
}

// Parameters returns a copy of all address parameters.
func (a *SipAddress) Parameters() map[string]string {
	result := make(map[string]string)
	for k, v := range a.parameters {
		result[k] = v
	}
	return result
}

// Parameter returns a parameter's value.
func (a *SipAddress) Parameter(name string) string {
	return a.parameters[name]
}

// SetParameter sets a parameter.
func (a *SipAddress) SetParameter(name string, value string) {
	a.parameters[name] = value
}

// RemoveParameter deletes a parameter.
func (a *SipAddress) RemoveParameter(name string) {
	delete(a.parameters, name)
}

// String returns the address's wire representation.
func (a *SipAddress) String() string {
	var sb strings.Builder

	if a.displayName != "" {
		if strings.ContainsAny(a.displayName, " \t\"") {
			sb.WriteString("\"")
			escaped := strings.ReplaceAll(a.displayName, "\"", "\\\"")
			sb.WriteString(escaped)
			sb.WriteString("\" ")
		} else {
			sb.WriteString(a.displayName)
			sb.WriteString(" ")
		}
	}

	sb.WriteString("<")
	sb.WriteString(a.uri.String())
	sb.WriteString(">")

	for name, value := range a.parameters {
		sb.WriteString(";")
		sb.WriteString(name)
		if value != "" {
			sb.WriteString("=")
			sb.WriteString(value)
		}
	}

	return sb.String()
}

// Clone deep-copies the address.
func (a *SipAddress) Clone() Address {
	clone := &SipAddress{
		displayName: a.displayName,
		parameters:  make(map[string]string),
	}

	if a.uri != nil {
		clone.uri = a.uri.Clone()
	}

	for k, v := range a.parameters {
		clone.parameters[k] = v
	}

	return clone
}

// SetDisplayName sets the display name.
func (a *SipAddress) SetDisplayName(name string) {
	a.displayName = name
}

// SetURI sets the URI.
func (a *SipAddress) SetURI(uri URI) {
	a.uri = uri
}

// Tag returns the tag parameter (common on From/To).
func (a *SipAddress) Tag() string {
	return a.parameters["tag"]
}

// SetTag sets the tag parameter.
func (a *SipAddress) SetTag(tag string) {
	a.SetParameter("tag", tag)
}

// HasTag reports whether a tag parameter is present.
func (a *SipAddress) HasTag() bool {
	_, exists := a.parameters["tag"]
	return exists
}

// Equals compares two addresses by URI and tag; display name is not
// significant in SIP address comparison.
func (a *SipAddress) Equals(other Address) bool {
	if other == nil {
		return false
	}

	o, ok := other.(*SipAddress)
	if !ok {
		return false
	}

	if a.uri == nil && o.uri == nil {
		// both nil, fall through
	} else if a.uri == nil || o.uri == nil {
		return false
	} else if !a.uri.Equals(o.uri) {
		return false
	}

	if a.Tag() != o.Tag() {
		return false
	}

	return true
}

// WildcardAddress is the "*" address used to unregister all bindings.
type WildcardAddress struct{}

// NewWildcardAddress creates a wildcard address.
func NewWildcardAddress() *WildcardAddress {
	return &WildcardAddress{}
}

// DisplayName always returns "" for a wildcard address.
func (w *WildcardAddress) DisplayName() string {
	return ""
}

// URI always returns nil for a wildcard address.
func (w *WildcardAddress) URI() URI {
	return nil
}

// Parameters always returns an empty map for a wildcard address.
func (w *WildcardAddress) Parameters() map[string]string {
	return make(map[string]string)
}

// Parameter always returns "" for a wildcard address.
func (w *WildcardAddress) Parameter(name string) string {
	return ""
}

// SetParameter is a no-op for a wildcard address.
func (w *WildcardAddress) SetParameter(name string, value string) {
	// No-op
}

// String always returns "*" for a wildcard address.
func (w *WildcardAddress) String() string {
	return "*"
}

// Clone returns a new wildcard address.
func (w *WildcardAddress) Clone() Address {
	return &WildcardAddress{}
}
