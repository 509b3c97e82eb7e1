package types

import (
	"fmt"
	"strings"
)

// Header is a generic SIP header.
type Header interface {
	Name() string
	Value() string
	String() string
	Clone() Header
}

// GenericHeader is the base Header implementation.
type GenericHeader struct {
	name  string
	value string
}

// NewHeader creates a new header.
func NewHeader(name, value string) Header {
	return &GenericHeader{
		name:  normalizeHeaderName(name),
		value: strings.TrimSpace(value),
	}
}

// Name returns the header's name.
func (h *GenericHeader) Name() string {
	return h.name
}

// Value returns the header's value.
func (h *GenericHeader) Value() string {
	return h.value
}

// String returns the header's wire representation.
func (h *GenericHeader) String() string {
	return fmt.Sprintf("%s: %s", h.name, h.value)
}

// Clone copies the header.
func (h *GenericHeader) Clone() Header {
	return &GenericHeader{
		name:  h.name,
		value: h.value,
	}
}

// Via is a parsed Via header.
type Via struct {
	Protocol  string // SIP/2.0/UDP, SIP/2.0/TCP, etc
	Host      string
	Port      int
	Branch    string
	Received  string // received parameter
	RPort     int    // rport parameter
	TTL       int    // ttl parameter
	MAddr     string // maddr parameter
	Extension map[string]string
}

// NewVia creates a new Via header.
func NewVia(protocol, host string, port int) *Via {
	return &Via{
		Protocol:  protocol,
		Host:      host,
		Port:      port,
		Extension: make(map[string]string),
	}
}

// GetAddress returns the host:port a response to this Via is sent to:
// received replaces the sent-by host and a numeric rport replaces its port
// (RFC 3261 §18.2.2, RFC 3581). An IPv6 host is bracketed when a port
// follows; with no port the host is returned alone.
func (v *Via) GetAddress() string {
	host := v.Host
	if v.Received != "" {
		host = v.Received
	}
	port := v.Port
	if v.RPort > 0 {
		port = v.RPort
	}
	if port <= 0 {
		return host
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// ParseVia parses a string into a Via header.
func ParseVia(value string) (*Via, error) {
	via := &Via{
		Extension: make(map[string]string),
	}

	// Split on whitespace.
	parts := strings.Fields(value)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid Via header")
	}

	// Protocol.
	via.Protocol = parts[0]

	// host:port and parameters.
	remaining := strings.Join(parts[1:], " ")

	// Split on ;.
	segments := strings.Split(remaining, ";")
	if len(segments) == 0 {
		return nil, fmt.Errorf("invalid Via header: missing host")
	}

	// Parse host:port.
	hostPort := strings.TrimSpace(segments[0])
	if colonIndex := strings.LastIndex(hostPort, ":"); colonIndex != -1 {
		via.Host = hostPort[:colonIndex]
		if port, err := parsePort(hostPort[colonIndex+1:]); err == nil {
			via.Port = port
		}
	} else {
		via.Host = hostPort
	}

	// Parse parameters.
	for i := 1; i < len(segments); i++ {
		param := strings.TrimSpace(segments[i])
		if param == "" {
			continue
		}

		parts := strings.SplitN(param, "=", 2)
		name := strings.ToLower(parts[0])
		value := ""
		if len(parts) == 2 {
			value = parts[1]
		}

		switch name {
		case "branch":
			via.Branch = value
		case "received":
			via.Received = value
		case "rport":
			if value != "" {
				if port, err := parsePort(value); err == nil {
					via.RPort = port
				}
			} else {
				via.RPort = -1 // rport with no value
			}
		case "ttl":
			if ttl, err := parsePort(value); err == nil {
				via.TTL = ttl
			}
		case "maddr":
			via.MAddr = value
		default:
			via.Extension[name] = value
		}
	}

	return via, nil
}

// String returns the Via header's wire representation.
func (v *Via) String() string {
	var sb strings.Builder

	sb.WriteString(v.Protocol)
	sb.WriteString(" ")
	sb.WriteString(v.Host)

	if v.Port > 0 {
		sb.WriteString(":")
		sb.WriteString(fmt.Sprintf("%d", v.Port))
	}

	// branch is mandatory per RFC 3261.
	if v.Branch != "" {
		sb.WriteString(";branch=")
		sb.WriteString(v.Branch)
	}

	if v.Received != "" {
		sb.WriteString(";received=")
		sb.WriteString(v.Received)
	}

	if v.RPort > 0 {
		sb.WriteString(";rport=")
		sb.WriteString(fmt.Sprintf("%d", v.RPort))
	} else if v.RPort == -1 {
		sb.WriteString(";rport")
	}

	if v.TTL > 0 {
		sb.WriteString(";ttl=")
		sb.WriteString(fmt.Sprintf("%d", v.TTL))
	}

	if v.MAddr != "" {
		sb.WriteString(";maddr=")
		sb.WriteString(v.MAddr)
	}

	// Extension parameters.
	for name, value := range v.Extension {
		sb.WriteString(";")
		sb.WriteString(name)
		if value != "" {
			sb.WriteString("=")
			sb.WriteString(value)
		}
	}

	return sb.String()
}

// CSeq is a parsed CSeq header.
type CSeq struct {
	Sequence uint32
	Method   string
}

// ParseCSeq parses a string into a CSeq.
func ParseCSeq(value string) (*CSeq, error) {
	parts := strings.Fields(value)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid CSeq header")
	}

	var seq uint32
	if _, err := fmt.Sscanf(parts[0], "%d", &seq); err != nil {
		return nil, fmt.Errorf("invalid CSeq number: %v", err)
	}

	return &CSeq{
		Sequence: seq,
		Method:   parts[1],
	}, nil
}

// String returns the CSeq header's wire representation.
func (c *CSeq) String() string {
	return fmt.Sprintf("%d %s", c.Sequence, c.Method)
}

// ContentType is a parsed Content-Type header.
type ContentType struct {
	Type       string
	SubType    string
	Parameters map[string]string
}

// ParseContentType parses a string into a ContentType.
func ParseContentType(value string) (*ContentType, error) {
	ct := &ContentType{
		Parameters: make(map[string]string),
	}

	// Split into type and parameters.
	parts := strings.Split(value, ";")
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty Content-Type")
	}

	// Parse type/subtype.
	typeParts := strings.Split(strings.TrimSpace(parts[0]), "/")
	if len(typeParts) != 2 {
		return nil, fmt.Errorf("invalid Content-Type format")
	}

	ct.Type = strings.TrimSpace(typeParts[0])
	ct.SubType = strings.TrimSpace(typeParts[1])

	// Parse parameters.
	for i := 1; i < len(parts); i++ {
		param := strings.TrimSpace(parts[i])
		if param == "" {
			continue
		}

		paramParts := strings.SplitN(param, "=", 2)
		if len(paramParts) == 2 {
			ct.Parameters[strings.TrimSpace(paramParts[0])] = strings.TrimSpace(paramParts[1])
		}
	}

	return ct, nil
}

// String returns the ContentType's wire representation.
func (ct *ContentType) String() string {
	var sb strings.Builder

	sb.WriteString(ct.Type)
	sb.WriteString("/")
	sb.WriteString(ct.SubType)

	for name, value := range ct.Parameters {
		sb.WriteString("; ")
		sb.WriteString(name)
		sb.WriteString("=")
		sb.WriteString(value)
	}

	return sb.String()
}

// parsePort parses a port number from a string.
func parsePort(s string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, err
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %d", port)
	}
	return port, nil
}

// Predefined header names.
const (
	HeaderVia                = "Via"
	HeaderFrom               = "From"
	HeaderTo                 = "To"
	HeaderCallID             = "Call-ID"
	HeaderCSeq               = "CSeq"
	HeaderContact            = "Contact"
	HeaderMaxForwards        = "Max-Forwards"
	HeaderRoute              = "Route"
	HeaderRecordRoute        = "Record-Route"
	HeaderContentType        = "Content-Type"
	HeaderContentLength      = "Content-Length"
	HeaderAuthorization      = "Authorization"
	HeaderWWWAuthenticate    = "WWW-Authenticate"
	HeaderProxyAuthenticate  = "Proxy-Authenticate"
	HeaderProxyAuthorization = "Proxy-Authorization"
	HeaderExpires            = "Expires"
	HeaderAllow              = "Allow"
	HeaderSupported          = "Supported"
	HeaderRequire            = "Require"
	HeaderProxyRequire       = "Proxy-Require"
	HeaderUnsupported        = "Unsupported"
	HeaderRetryAfter         = "Retry-After"
	HeaderUserAgent          = "User-Agent"
	HeaderServer             = "Server"
	HeaderSubject            = "Subject"
	HeaderDate               = "Date"
	HeaderTimestamp          = "Timestamp"
	HeaderWarning            = "Warning"
	HeaderPriority           = "Priority"
	HeaderOrganization       = "Organization"
	HeaderAccept             = "Accept"
	HeaderAcceptEncoding     = "Accept-Encoding"
	HeaderAcceptLanguage     = "Accept-Language"
	HeaderAlertInfo          = "Alert-Info"
	HeaderErrorInfo          = "Error-Info"
	HeaderInReplyTo          = "In-Reply-To"
	HeaderMIMEVersion        = "MIME-Version"
	HeaderMinExpires         = "Min-Expires"
	HeaderReplyTo            = "Reply-To"
	HeaderAuthenticationInfo = "Authentication-Info"
	HeaderEvent              = "Event"
	HeaderSubscriptionState  = "Subscription-State"
	HeaderAllowEvents        = "Allow-Events"
	HeaderReferTo            = "Refer-To"
	HeaderReferredBy         = "Referred-By"
	HeaderReplaces           = "Replaces"
	HeaderReferSub           = "Refer-Sub"
	HeaderAcceptReferSub     = "Accept-Refer-Sub"
	HeaderNotifyReferSub     = "Notify-Refer-Sub"
	HeaderReferEvents        = "Refer-Events-At"
)

// compactForms maps compact header forms to their full names.
var compactForms = map[string]string{
	"i": HeaderCallID,
	"m": HeaderContact,
	"f": HeaderFrom,
	"t": HeaderTo,
	"v": HeaderVia,
	"c": HeaderContentType,
	"l": HeaderContentLength,
	"k": HeaderSupported,
	"s": HeaderSubject,
}

// GetCompactFormMapping returns the full name for a compact form.
func GetCompactFormMapping(compact string) (string, bool) {
	full, ok := compactForms[compact]
	return full, ok
}

// Route is a Route or Record-Route header.
type Route struct {
	Address    Address
	Parameters map[string]string
}

// NewRoute creates a new Route header.
func NewRoute(addr Address) *Route {
	return &Route{
		Address:    addr,
		Parameters: make(map[string]string),
	}
}

// ParseRoute parses a string into a Route header.
func ParseRoute(value string) (*Route, error) {
	// Reject an empty string.
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty route value")
	}

	// A Route header holds a SIP address with optional parameters.
	addr, err := ParseAddress(value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse route address: %v", err)
	}

	route := &Route{
		Address:    addr,
		Parameters: make(map[string]string),
	}

	// Route parameters are already parsed into the Address.

	return route, nil
}

// ParseRouteHeader parses a Route/Record-Route header, which may carry
// several addresses.
func ParseRouteHeader(value string) ([]*Route, error) {
	var routes []*Route

	// Split on commas, respecting quotes and angle brackets.
	addresses := splitHeaderValues(value)

	for _, addr := range addresses {
		trimmedAddr := strings.TrimSpace(addr)
		if trimmedAddr == "" {
			continue // Skip empty values.
		}

		route, err := ParseRoute(trimmedAddr)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}

	return routes, nil
}

// String returns the Route's wire representation.
func (r *Route) String() string {
	var sb strings.Builder
	sb.WriteString(r.Address.String())

	// Append route parameters.
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

// splitHeaderValues splits header values on commas, respecting quotes and
// angle brackets.
func splitHeaderValues(value string) []string {
	values := []string{}
	var current strings.Builder
	inQuotes := false
	inBrackets := false
	escapeNext := false

	for i := 0; i < len(value); i++ {
		ch := value[i]

		if escapeNext {
			current.WriteByte(ch)
			escapeNext = false
			continue
		}

		switch ch {
		case '\\':
			escapeNext = true
			current.WriteByte(ch)
		case '"':
			inQuotes = !inQuotes
			current.WriteByte(ch)
		case '<':
			if !inQuotes {
				inBrackets = true
			}
			current.WriteByte(ch)
		case '>':
			if !inQuotes {
				inBrackets = false
			}
			current.WriteByte(ch)
		case ',':
			if !inQuotes && !inBrackets {
				// A comma outside quotes and brackets is a separator.
				if current.Len() > 0 {
					values = append(values, current.String())
					current.Reset()
				}
			} else {
				current.WriteByte(ch)
			}
		default:
			current.WriteByte(ch)
		}
	}

	// Append the last value.
	if current.Len() > 0 {
		values = append(values, current.String())
	}

	return values
}
