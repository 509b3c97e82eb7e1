package types

import (
	"strconv"
	"strings"
)

// Message is the common interface for all SIP messages (requests and
// responses).
type Message interface {
	// Message kind.
	IsRequest() bool
	IsResponse() bool

	// Requests.
	Method() string
	RequestURI() URI

	// Responses.
	StatusCode() int
	ReasonPhrase() string

	// Common.
	SIPVersion() string

	// Headers.
	GetHeader(name string) string
	GetHeaders(name string) []string
	SetHeader(name string, value string)
	AddHeader(name string, value string)
	RemoveHeader(name string)
	Headers() map[string][]string

	// Body.
	Body() []byte
	SetBody(body []byte)
	ContentLength() int

	// Serialization.
	String() string
	Bytes() []byte

	// Cloning.
	Clone() Message
}

// baseMessage is the shared implementation behind Request and Response.
type baseMessage struct {
	sipVersion string
	headers    map[string][]string
	body       []byte
}

// newBaseMessage creates a new baseMessage.
func newBaseMessage() baseMessage {
	return baseMessage{
		sipVersion: "SIP/2.0",
		headers:    make(map[string][]string),
	}
}

// SIPVersion returns the SIP version.
func (m *baseMessage) SIPVersion() string {
	return m.sipVersion
}

// GetHeader returns the first value of a header.
func (m *baseMessage) GetHeader(name string) string {
	name = normalizeHeaderName(name)
	if values, ok := m.headers[name]; ok && len(values) > 0 {
		return values[0]
	}
	return ""
}

// GetHeaders returns all values of a header.
func (m *baseMessage) GetHeaders(name string) []string {
	name = normalizeHeaderName(name)
	return m.headers[name]
}

// SetHeader sets a header's value, replacing any existing one.
func (m *baseMessage) SetHeader(name string, value string) {
	name = normalizeHeaderName(name)
	m.headers[name] = []string{value}

	// Keep Content-Length in sync with the body.
	if name == "Content-Length" && m.body != nil {
		m.headers[name] = []string{strconv.Itoa(len(m.body))}
	}
}

// AddHeader appends a value to a header.
func (m *baseMessage) AddHeader(name string, value string) {
	name = normalizeHeaderName(name)
	m.headers[name] = append(m.headers[name], value)
}

// RemoveHeader deletes a header.
func (m *baseMessage) RemoveHeader(name string) {
	name = normalizeHeaderName(name)
	delete(m.headers, name)
}

// Headers returns all headers.
func (m *baseMessage) Headers() map[string][]string {
	// Return a copy so callers can't mutate our state.
	result := make(map[string][]string)
	for k, v := range m.headers {
		result[k] = append([]string(nil), v...)
	}
	return result
}

// Body returns the message body.
func (m *baseMessage) Body() []byte {
	if m.body == nil {
		return nil
	}
	// Return a copy so callers can't mutate our state.
	return append([]byte(nil), m.body...)
}

// SetBody sets the message body.
func (m *baseMessage) SetBody(body []byte) {
	if body == nil {
		m.body = nil
	} else {
		m.body = append([]byte(nil), body...)
	}
	// Keep Content-Length in sync with the body.
	m.SetHeader("Content-Length", strconv.Itoa(len(m.body)))
}

// ContentLength returns the body's length.
func (m *baseMessage) ContentLength() int {
	if clHeader := m.GetHeader("Content-Length"); clHeader != "" {
		if length, err := strconv.Atoi(clHeader); err == nil {
			return length
		}
	}
	return len(m.body)
}

// normalizeHeaderName canonicalizes a header name for case-insensitive
// comparison.
func normalizeHeaderName(name string) string {
	// A few headers don't follow simple title-case.
	special := map[string]string{
		"call-id":            "Call-ID",
		"cseq":               "CSeq",
		"www-authenticate":   "WWW-Authenticate",
		"event":              "Event",
		"subscription-state": "Subscription-State",
		"allow-events":       "Allow-Events",
	}

	lower := strings.ToLower(name)
	if canonical, ok := special[lower]; ok {
		return canonical
	}

	// Title-case each hyphen-separated part.
	parts := strings.Split(name, "-")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
		}
	}
	return strings.Join(parts, "-")
}

// Request is a SIP request.
type Request struct {
	baseMessage
	method     string
	requestURI URI
}

// NewRequest creates a new SIP request.
func NewRequest(method string, requestURI URI) *Request {
	return &Request{
		baseMessage: newBaseMessage(),
		method:      method,
		requestURI:  requestURI,
	}
}

// IsRequest always returns true for a Request.
func (r *Request) IsRequest() bool {
	return true
}

// IsResponse always returns false for a Request.
func (r *Request) IsResponse() bool {
	return false
}

// Method returns the request method.
func (r *Request) Method() string {
	return r.method
}

// RequestURI returns the Request-URI.
func (r *Request) RequestURI() URI {
	return r.requestURI
}

// StatusCode always returns 0 for a Request.
func (r *Request) StatusCode() int {
	return 0
}

// ReasonPhrase always returns "" for a Request.
func (r *Request) ReasonPhrase() string {
	return ""
}

// String returns the request's wire representation.
func (r *Request) String() string {
	var sb strings.Builder

	// Request line.
	sb.WriteString(r.method)
	sb.WriteString(" ")
	sb.WriteString(r.requestURI.String())
	sb.WriteString(" ")
	sb.WriteString(r.sipVersion)
	sb.WriteString("\r\n")

	// Headers.
	for name, values := range r.headers {
		for _, value := range values {
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(value)
			sb.WriteString("\r\n")
		}
	}

	// Empty line.
	sb.WriteString("\r\n")

	// Body.
	if r.body != nil {
		sb.Write(r.body)
	}

	return sb.String()
}

// Bytes returns the request's wire representation as bytes.
func (r *Request) Bytes() []byte {
	return []byte(r.String())
}

// Clone deep-copies the request.
func (r *Request) Clone() Message {
	clone := &Request{
		baseMessage: baseMessage{
			sipVersion: r.sipVersion,
			headers:    make(map[string][]string),
			body:       nil,
		},
		method:     r.method,
		requestURI: r.requestURI,
	}

	for k, v := range r.headers {
		clone.headers[k] = append([]string(nil), v...)
	}

	if r.body != nil {
		clone.body = append([]byte(nil), r.body...)
	}

	// Clone the URI too, if it supports cloning.
	if r.requestURI != nil {
		clone.requestURI = r.requestURI.Clone()
	}

	return clone
}

// Response is a SIP response.
type Response struct {
	baseMessage
	statusCode   int
	reasonPhrase string
}

// NewResponse creates a new SIP response.
func NewResponse(statusCode int, reasonPhrase string) *Response {
	return &Response{
		baseMessage:  newBaseMessage(),
		statusCode:   statusCode,
		reasonPhrase: reasonPhrase,
	}
}

// IsRequest always returns false for a Response.
func (r *Response) IsRequest() bool {
	return false
}

// IsResponse always returns true for a Response.
func (r *Response) IsResponse() bool {
	return true
}

// Method always returns "" for a Response.
func (r *Response) Method() string {
	return ""
}

// RequestURI always returns nil for a Response.
func (r *Response) RequestURI() URI {
	return nil
}

// StatusCode returns the response's status code.
func (r *Response) StatusCode() int {
	return r.statusCode
}

// ReasonPhrase returns the response's reason phrase.
func (r *Response) ReasonPhrase() string {
	return r.reasonPhrase
}

// String returns the response's wire representation.
func (r *Response) String() string {
	var sb strings.Builder

	// Status line.
	sb.WriteString(r.sipVersion)
	sb.WriteString(" ")
	sb.WriteString(strconv.Itoa(r.statusCode))
	sb.WriteString(" ")
	sb.WriteString(r.reasonPhrase)
	sb.WriteString("\r\n")

	// Headers.
	for name, values := range r.headers {
		for _, value := range values {
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(value)
			sb.WriteString("\r\n")
		}
	}

	// Empty line.
	sb.WriteString("\r\n")

	// Body.
	if r.body != nil {
		sb.Write(r.body)
	}

	return sb.String()
}

// Bytes returns the response's wire representation as bytes.
func (r *Response) Bytes() []byte {
	return []byte(r.String())
}

// Clone deep-copies the response.
func (r *Response) Clone() Message {
	clone := &Response{
		baseMessage: baseMessage{
			sipVersion: r.sipVersion,
			headers:    make(map[string][]string),
			body:       nil,
		},
		statusCode:   r.statusCode,
		reasonPhrase: r.reasonPhrase,
	}

	for k, v := range r.headers {
		clone.headers[k] = append([]string(nil), v...)
	}

	if r.body != nil {
		clone.body = append([]byte(nil), r.body...)
	}

	return clone
}

// SIP request methods.
const (
	MethodINVITE    = "INVITE"
	MethodACK       = "ACK"
	MethodBYE       = "BYE"
	MethodCANCEL    = "CANCEL"
	MethodOPTIONS   = "OPTIONS"
	MethodREGISTER  = "REGISTER"
	MethodPRACK     = "PRACK"
	MethodSUBSCRIBE = "SUBSCRIBE"
	MethodNOTIFY    = "NOTIFY"
	MethodPUBLISH   = "PUBLISH"
	MethodINFO      = "INFO"
	MethodREFER     = "REFER"
	MethodMESSAGE   = "MESSAGE"
	MethodUPDATE    = "UPDATE"
)

// SIP response status codes.
const (
	StatusTrying                       = 100
	StatusRinging                      = 180
	StatusCallIsBeingForwarded         = 181
	StatusQueued                       = 182
	StatusSessionProgress              = 183
	StatusEarlyDialogTerminated        = 199
	StatusOK                           = 200
	StatusAccepted                     = 202
	StatusNoNotification               = 204
	StatusMultipleChoices              = 300
	StatusMovedPermanently             = 301
	StatusMovedTemporarily             = 302
	StatusUseProxy                     = 305
	StatusAlternativeService           = 380
	StatusBadRequest                   = 400
	StatusUnauthorized                 = 401
	StatusPaymentRequired              = 402
	StatusForbidden                    = 403
	StatusNotFound                     = 404
	StatusMethodNotAllowed             = 405
	StatusNotAcceptable                = 406
	StatusProxyAuthenticationRequired  = 407
	StatusRequestTimeout               = 408
	StatusGone                         = 410
	StatusConditionalRequestFailed     = 412
	StatusRequestEntityTooLarge        = 413
	StatusRequestURITooLong            = 414
	StatusUnsupportedMediaType         = 415
	StatusUnsupportedURIScheme         = 416
	StatusUnknownResourcePriority      = 417
	StatusBadExtension                 = 420
	StatusExtensionRequired            = 421
	StatusSessionIntervalTooSmall      = 422
	StatusIntervalTooBrief             = 423
	StatusBadLocationInformation       = 424
	StatusUseIdentityHeader            = 428
	StatusProvideReferrerIdentity      = 429
	StatusFlowFailed                   = 430
	StatusAnonymityDisallowed          = 433
	StatusBadIdentityInfo              = 436
	StatusUnsupportedCertificate       = 437
	StatusInvalidIdentityHeader        = 438
	StatusFirstHopLacksOutboundSupport = 439
	StatusMaxBreadthExceeded           = 440
	StatusBadInfoPackage               = 469
	StatusConsentNeeded                = 470
	StatusTemporarilyUnavailable       = 480
	StatusCallTransactionDoesNotExist  = 481
	StatusLoopDetected                 = 482
	StatusTooManyHops                  = 483
	StatusAddressIncomplete            = 484
	StatusAmbiguous                    = 485
	StatusBusyHere                     = 486
	StatusRequestTerminated            = 487
	StatusNotAcceptableHere            = 488
	StatusBadEvent                     = 489
	StatusRequestPending               = 491
	StatusUndecipherable               = 493
	StatusSecurityAgreementRequired    = 494
	StatusInternalServerError          = 500
	StatusNotImplemented               = 501
	StatusBadGateway                   = 502
	StatusServiceUnavailable           = 503
	StatusServerTimeout                = 504
	StatusVersionNotSupported          = 505
	StatusMessageTooLarge              = 513
	StatusPreconditionFailure          = 580
	StatusBusyEverywhere               = 600
	StatusDecline                      = 603
	StatusDoesNotExistAnywhere         = 604
	StatusNotAcceptableGlobal          = 606
	StatusUnwanted                     = 607
	StatusRejected                     = 608
)
