package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	sipmsgerrors "sipline.dev/core/internal/sipmsg/errors"
	"sipline.dev/core/internal/sipmsg/types"
)

// Parser parses SIP messages.
type Parser interface {
	// ParseMessage parses a full message.
	ParseMessage(data []byte) (types.Message, error)

	// Component parsers.
	ParseURI(str string) (types.URI, error)
	ParseAddress(str string) (types.Address, error)
	ParseHeader(name, value string) (types.Header, error)

	// Parser options.
	SetStrict(strict bool)
	SetMaxHeaderLength(length int)
	SetMaxHeaders(count int)
}

// ParserOption configures a parser.
type ParserOption func(*DefaultParser)

// DefaultParser is the default Parser implementation.
type DefaultParser struct {
	strict          bool
	maxHeaderLength int
	maxHeaders      int
}

// NewParser creates a new parser.
func NewParser(opts ...ParserOption) Parser {
	p := &DefaultParser{
		strict:          true,
		maxHeaderLength: 8192,
		maxHeaders:      128,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// WithStrict sets strict parsing mode.
func WithStrict(strict bool) ParserOption {
	return func(p *DefaultParser) {
		p.strict = strict
	}
}

// WithMaxHeaderLength sets the maximum header length.
func WithMaxHeaderLength(length int) ParserOption {
	return func(p *DefaultParser) {
		p.maxHeaderLength = length
	}
}

// WithMaxHeaders sets the maximum header count.
func WithMaxHeaders(count int) ParserOption {
	return func(p *DefaultParser) {
		p.maxHeaders = count
	}
}

// SetStrict sets strict mode.
func (p *DefaultParser) SetStrict(strict bool) {
	p.strict = strict
}

// SetMaxHeaderLength sets the maximum header length.
func (p *DefaultParser) SetMaxHeaderLength(length int) {
	p.maxHeaderLength = length
}

// SetMaxHeaders sets the maximum header count.
func (p *DefaultParser) SetMaxHeaders(count int) {
	p.maxHeaders = count
}

// ParseMessage parses a SIP message.
func (p *DefaultParser) ParseMessage(data []byte) (types.Message, error) {
	reader := bufio.NewReader(bytes.NewReader(data))

	// Read the first line.
	firstLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read first line: %v", err)
	}

	firstLine = strings.TrimRight(firstLine, "\r\n")

	// Determine the message type.
	if strings.HasPrefix(firstLine, "SIP/") {
		// It's a response.
		return p.parseResponse(firstLine, reader)
	} else {
		// It's a request.
		return p.parseRequest(firstLine, reader)
	}
}

// parseRequest parses a SIP request.
func (p *DefaultParser) parseRequest(requestLine string, reader *bufio.Reader) (types.Message, error) {
	// Parse the request line: METHOD Request-URI SIP-Version.
	parts := strings.Fields(requestLine)
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid request line: %s", requestLine)
	}

	method := parts[0]
	requestURIStr := parts[1]
	sipVersion := parts[2]

	// Check the SIP version.
	if p.strict && sipVersion != "SIP/2.0" {
		return nil, fmt.Errorf("unsupported SIP version: %s", sipVersion)
	}

	// Parse the URI.
	requestURI, err := p.ParseURI(requestURIStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse request URI: %v", err)
	}

	// Create the request.
	request := types.NewRequest(method, requestURI)

	// Parse headers.
	headers, err := p.parseHeaders(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse headers: %v", err)
	}

	// Install headers.
	for name, values := range headers {
		for _, value := range values {
			request.AddHeader(name, value)
		}
	}

	// Read the body if Content-Length is present.
	if contentLengthStr := request.GetHeader("Content-Length"); contentLengthStr != "" {
		contentLength, err := strconv.Atoi(contentLengthStr)
		if err != nil {
			return nil, fmt.Errorf("invalid Content-Length: %v", err)
		}

		if contentLength > 0 {
			body := make([]byte, contentLength)
			n, err := reader.Read(body)
			if err != nil {
				return nil, fmt.Errorf("failed to read body: %v", err)
			}
			if n != contentLength {
				return nil, fmt.Errorf("body length mismatch: expected %d, got %d", contentLength, n)
			}
			request.SetBody(body)
		}
	} else {
		// No Content-Length: read whatever remains, for leniency.
		remaining, err := reader.Peek(1)
		if err == nil && len(remaining) > 0 {
			body := []byte{}
			for {
				line, err := reader.ReadBytes('\n')
				if err != nil {
					if len(line) > 0 {
						body = append(body, line...)
					}
					break
				}
				body = append(body, line...)
			}
			if len(body) > 0 {
				// Strip a trailing line terminator, if any.
				if len(body) >= 2 && body[len(body)-2] == '\r' && body[len(body)-1] == '\n' {
					body = body[:len(body)-2]
				} else if len(body) >= 1 && body[len(body)-1] == '\n' {
					body = body[:len(body)-1]
				}
				request.SetBody(body)
			}
		}
	}

	// Validate required headers.
	if p.strict {
		if err := p.validateRequest(request); err != nil {
			return nil, err
		}
	}

	return request, nil
}

// parseResponse parses a SIP response.
func (p *DefaultParser) parseResponse(statusLine string, reader *bufio.Reader) (types.Message, error) {
	// Parse the status line: SIP-Version Status-Code Reason-Phrase.
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid status line: %s", statusLine)
	}

	sipVersion := parts[0]
	statusCodeStr := parts[1]
	reasonPhrase := ""
	if len(parts) >= 3 {
		reasonPhrase = parts[2]
	}

	// Check the SIP version.
	if p.strict && sipVersion != "SIP/2.0" {
		return nil, fmt.Errorf("unsupported SIP version: %s", sipVersion)
	}

	// Parse the status code.
	statusCode, err := strconv.Atoi(statusCodeStr)
	if err != nil {
		return nil, fmt.Errorf("invalid status code: %v", err)
	}
	if statusCode < 100 || statusCode > 699 {
		return nil, fmt.Errorf("invalid status code: %d", statusCode)
	}

	// Create the response.
	response := types.NewResponse(statusCode, reasonPhrase)

	// Parse headers.
	headers, err := p.parseHeaders(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse headers: %v", err)
	}

	// Install headers.
	for name, values := range headers {
		for _, value := range values {
			response.AddHeader(name, value)
		}
	}

	// Read the body if Content-Length is present.
	if contentLengthStr := response.GetHeader("Content-Length"); contentLengthStr != "" {
		contentLength, err := strconv.Atoi(contentLengthStr)
		if err != nil {
			return nil, fmt.Errorf("invalid Content-Length: %v", err)
		}

		if contentLength > 0 {
			body := make([]byte, contentLength)
			n, err := reader.Read(body)
			if err != nil {
				return nil, fmt.Errorf("failed to read body: %v", err)
			}
			if n != contentLength {
				return nil, fmt.Errorf("body length mismatch: expected %d, got %d", contentLength, n)
			}
			response.SetBody(body)
		}
	} else {
		// No Content-Length: read whatever remains, for leniency.
		remaining, err := reader.Peek(1)
		if err == nil && len(remaining) > 0 {
			body := []byte{}
			for {
				line, err := reader.ReadBytes('\n')
				if err != nil {
					if len(line) > 0 {
						body = append(body, line...)
					}
					break
				}
				body = append(body, line...)
			}
			if len(body) > 0 {
				// Strip a trailing line terminator, if any.
				if len(body) >= 2 && body[len(body)-2] == '\r' && body[len(body)-1] == '\n' {
					body = body[:len(body)-2]
				} else if len(body) >= 1 && body[len(body)-1] == '\n' {
					body = body[:len(body)-1]
				}
				response.SetBody(body)
			}
		}
	}

	// Validate required headers.
	if p.strict {
		if err := p.validateResponse(response); err != nil {
			return nil, err
		}
	}

	return response, nil
}

// parseHeaders parses the header block.
func (p *DefaultParser) parseHeaders(reader *bufio.Reader) (map[string][]string, error) {
	headers := make(map[string][]string)
	headerCount := 0

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("failed to read header line: %v", err)
		}

		line = strings.TrimRight(line, "\r\n")

		// An empty line ends the headers.
		if line == "" {
			break
		}

		// Check limits.
		if len(line) > p.maxHeaderLength {
			return nil, fmt.Errorf("header too long: %d bytes", len(line))
		}

		headerCount++
		if headerCount > p.maxHeaders {
			return nil, fmt.Errorf("too many headers: %d", headerCount)
		}

		// Handle folded (multiline) headers.
		for {
			next, err := reader.Peek(1)
			if err != nil {
				break
			}
			if next[0] != ' ' && next[0] != '\t' {
				break
			}

			// Read the continuation line.
			continuation, err := reader.ReadString('\n')
			if err != nil {
				return nil, fmt.Errorf("failed to read header continuation: %v", err)
			}
			continuation = strings.TrimRight(continuation, "\r\n")
			line += " " + strings.TrimLeft(continuation, " \t")
		}

		// Parse the header.
		colonIndex := strings.Index(line, ":")
		if colonIndex == -1 {
			return nil, fmt.Errorf("invalid header: no colon found in %s", line)
		}

		name := strings.TrimSpace(line[:colonIndex])
		if name == "" {
			return nil, fmt.Errorf("invalid header: empty name in %q", line)
		}
		value := strings.TrimSpace(line[colonIndex+1:])

		// Expand compact forms.
		if len(name) == 1 {
			if fullName, ok := types.GetCompactFormMapping(name); ok {
				name = fullName
			}
		}

		// Normalize the header name.
		name = normalizeHeaderName(name)

		// Append to the map.
		headers[name] = append(headers[name], value)
	}

	return headers, nil
}

// ParseURI parses a URI.
func (p *DefaultParser) ParseURI(str string) (types.URI, error) {
	return types.ParseURI(str)
}

// ParseAddress parses an address.
func (p *DefaultParser) ParseAddress(str string) (types.Address, error) {
	return types.ParseAddress(str)
}

// ParseHeader parses a single header.
func (p *DefaultParser) ParseHeader(name, value string) (types.Header, error) {
	// Some headers get a specialized type.
	switch normalizeHeaderName(name) {
	case types.HeaderVia:
		via, err := types.ParseVia(value)
		if err != nil {
			return nil, err
		}
		return &ViaHeader{Via: via, name: types.HeaderVia}, nil

	case types.HeaderCSeq:
		cseq, err := types.ParseCSeq(value)
		if err != nil {
			return nil, err
		}
		return &CSeqHeader{CSeq: cseq, name: types.HeaderCSeq}, nil

	case types.HeaderContentType:
		ct, err := types.ParseContentType(value)
		if err != nil {
			return nil, err
		}
		return &ContentTypeHeader{ContentType: ct, name: types.HeaderContentType}, nil

	default:
		return types.NewHeader(name, value), nil
	}
}

// validateRequest validates a request's required headers.
func (p *DefaultParser) validateRequest(req types.Message) error {
	// RFC 3261: headers required on every request.
	required := []string{
		types.HeaderTo,
		types.HeaderFrom,
		types.HeaderCSeq,
		types.HeaderCallID,
		types.HeaderMaxForwards,
		types.HeaderVia,
	}

	for _, header := range required {
		if req.GetHeader(header) == "" {
			return fmt.Errorf("%w: %s", sipmsgerrors.ErrMissingHeader, header)
		}
	}

	// Check CSeq.
	cseqValue := req.GetHeader(types.HeaderCSeq)
	cseq, err := types.ParseCSeq(cseqValue)
	if err != nil {
		return fmt.Errorf("%w: invalid CSeq header: %v", sipmsgerrors.ErrInvalidHeader, err)
	}
	if cseq.Method != req.Method() {
		return fmt.Errorf("%w: CSeq method mismatch: %s != %s", sipmsgerrors.ErrInvalidMessage, cseq.Method, req.Method())
	}

	return nil
}

// validateResponse validates a response's required headers.
func (p *DefaultParser) validateResponse(resp types.Message) error {
	// RFC 3261: headers required on every response.
	required := []string{
		types.HeaderTo,
		types.HeaderFrom,
		types.HeaderCSeq,
		types.HeaderCallID,
		types.HeaderVia,
	}

	for _, header := range required {
		if resp.GetHeader(header) == "" {
			return fmt.Errorf("%w: %s", sipmsgerrors.ErrMissingHeader, header)
		}
	}

	return nil
}

// normalizeHeaderName normalizes a header name.
func normalizeHeaderName(name string) string {
	parts := strings.Split(name, "-")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
		}
	}
	return strings.Join(parts, "-")
}

// Specialized header types used by the parser.

// ViaHeader wraps a parsed Via.
type ViaHeader struct {
	*types.Via
	name string
}

func (h *ViaHeader) Name() string  { return h.name }
func (h *ViaHeader) Value() string { return h.Via.String() }
func (h *ViaHeader) Clone() types.Header {
	return &ViaHeader{Via: h.Via, name: h.name}
}

// CSeqHeader wraps a parsed CSeq.
type CSeqHeader struct {
	*types.CSeq
	name string
}

func (h *CSeqHeader) Name() string  { return h.name }
func (h *CSeqHeader) Value() string { return h.CSeq.String() }
func (h *CSeqHeader) Clone() types.Header {
	return &CSeqHeader{CSeq: h.CSeq, name: h.name}
}

// ContentTypeHeader wraps a parsed ContentType.
type ContentTypeHeader struct {
	*types.ContentType
	name string
}

func (h *ContentTypeHeader) Name() string  { return h.name }
func (h *ContentTypeHeader) Value() string { return h.ContentType.String() }
func (h *ContentTypeHeader) Clone() types.Header {
	return &ContentTypeHeader{ContentType: h.ContentType, name: h.name}
}
