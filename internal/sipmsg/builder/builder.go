package builder

import (
	"fmt"
	"strconv"

	"sipline.dev/core/internal/sipmsg/types"
)

// MessageBuilder builds SIP messages.
type MessageBuilder interface {
	// NewRequest starts a new request.
	NewRequest(method string, requestURI types.URI) RequestBuilder

	// NewResponse starts a new response.
	NewResponse(statusCode int, reasonPhrase string) ResponseBuilder

	// FromMessage starts a builder from an existing message.
	FromMessage(msg types.Message) MessageBuilder
}

// RequestBuilder builds SIP requests.
type RequestBuilder interface {
	SetRequestURI(uri types.URI) RequestBuilder
	SetMethod(method string) RequestBuilder

	// Methods shared with ResponseBuilder.
	MessageBuilderCommon
}

// ResponseBuilder builds SIP responses.
type ResponseBuilder interface {
	SetStatusCode(code int) ResponseBuilder
	SetReasonPhrase(phrase string) ResponseBuilder

	// Methods shared with RequestBuilder.
	MessageBuilderCommon
}

// MessageBuilderCommon holds the methods shared by both builders.
type MessageBuilderCommon interface {
	// Generic headers.
	AddHeader(name, value string) MessageBuilderCommon
	SetHeader(name, value string) MessageBuilderCommon
	RemoveHeader(name string) MessageBuilderCommon

	// Well-known headers.
	SetFrom(addr types.Address) MessageBuilderCommon
	SetTo(addr types.Address) MessageBuilderCommon
	SetCallID(callID string) MessageBuilderCommon
	SetCSeq(seq uint32, method string) MessageBuilderCommon
	SetVia(via *types.Via) MessageBuilderCommon
	AddVia(via *types.Via) MessageBuilderCommon
	SetContact(addr types.Address) MessageBuilderCommon
	SetMaxForwards(max int) MessageBuilderCommon

	// Body.
	SetBody(body []byte, contentType string) MessageBuilderCommon

	// Build finalizes the message.
	Build() (types.Message, error)
}

// DefaultMessageBuilder is the default MessageBuilder implementation.
type DefaultMessageBuilder struct{}

// NewMessageBuilder creates a new MessageBuilder.
func NewMessageBuilder() MessageBuilder {
	return &DefaultMessageBuilder{}
}

// NewRequest creates a new RequestBuilder.
func (b *DefaultMessageBuilder) NewRequest(method string, requestURI types.URI) RequestBuilder {
	return &defaultRequestBuilder{
		request: types.NewRequest(method, requestURI),
	}
}

// NewResponse creates a new ResponseBuilder.
func (b *DefaultMessageBuilder) NewResponse(statusCode int, reasonPhrase string) ResponseBuilder {
	return &defaultResponseBuilder{
		response: types.NewResponse(statusCode, reasonPhrase),
	}
}

// FromMessage returns a new, empty MessageBuilder; the headers, body and
// start line of msg are not carried over into it.
func (b *DefaultMessageBuilder) FromMessage(msg types.Message) MessageBuilder {
	if msg.IsRequest() {
		_ = msg.Clone()
		return &DefaultMessageBuilder{}
	} else {
		_ = msg.Clone()
		return &DefaultMessageBuilder{}
	}
}

// defaultRequestBuilder is the RequestBuilder implementation.
type defaultRequestBuilder struct {
	request *types.Request
}

// SetRequestURI sets the Request-URI.
func (b *defaultRequestBuilder) SetRequestURI(uri types.URI) RequestBuilder {
	method := b.request.Method()
	oldHeaders := b.request.Headers()
	oldBody := b.request.Body()

	b.request = types.NewRequest(method, uri)
	// Carry over the existing headers.
	for name, values := range oldHeaders {
		for _, value := range values {
			b.request.AddHeader(name, value)
		}
	}
	// Carry over the body, if any.
	if oldBody != nil {
		b.request.SetBody(oldBody)
	}
	return b
}

// SetMethod sets the method.
func (b *defaultRequestBuilder) SetMethod(method string) RequestBuilder {
	uri := b.request.RequestURI()
	oldHeaders := b.request.Headers()
	oldBody := b.request.Body()

	b.request = types.NewRequest(method, uri)
	// Carry over the existing headers.
	for name, values := range oldHeaders {
		for _, value := range values {
			b.request.AddHeader(name, value)
		}
	}
	// Carry over the body, if any.
	if oldBody != nil {
		b.request.SetBody(oldBody)
	}
	return b
}

// AddHeader appends a header.
func (b *defaultRequestBuilder) AddHeader(name, value string) MessageBuilderCommon {
	b.request.AddHeader(name, value)
	return b
}

// SetHeader sets a header.
func (b *defaultRequestBuilder) SetHeader(name, value string) MessageBuilderCommon {
	b.request.SetHeader(name, value)
	return b
}

// RemoveHeader removes a header.
func (b *defaultRequestBuilder) RemoveHeader(name string) MessageBuilderCommon {
	b.request.RemoveHeader(name)
	return b
}

// SetFrom sets the From header.
func (b *defaultRequestBuilder) SetFrom(addr types.Address) MessageBuilderCommon {
	b.request.SetHeader(types.HeaderFrom, addr.String())
	return b
}

// SetTo sets the To header.
func (b *defaultRequestBuilder) SetTo(addr types.Address) MessageBuilderCommon {
	b.request.SetHeader(types.HeaderTo, addr.String())
	return b
}

// SetCallID sets the Call-ID.
func (b *defaultRequestBuilder) SetCallID(callID string) MessageBuilderCommon {
	b.request.SetHeader(types.HeaderCallID, callID)
	return b
}

// SetCSeq sets CSeq.
func (b *defaultRequestBuilder) SetCSeq(seq uint32, method string) MessageBuilderCommon {
	cseq := &types.CSeq{
		Sequence: seq,
		Method:   method,
	}
	b.request.SetHeader(types.HeaderCSeq, cseq.String())
	return b
}

// SetVia sets the Via header.
func (b *defaultRequestBuilder) SetVia(via *types.Via) MessageBuilderCommon {
	b.request.SetHeader(types.HeaderVia, via.String())
	return b
}

// AddVia appends a Via header.
func (b *defaultRequestBuilder) AddVia(via *types.Via) MessageBuilderCommon {
	b.request.AddHeader(types.HeaderVia, via.String())
	return b
}

// SetContact sets the Contact header.
func (b *defaultRequestBuilder) SetContact(addr types.Address) MessageBuilderCommon {
	b.request.SetHeader(types.HeaderContact, addr.String())
	return b
}

// SetMaxForwards sets Max-Forwards.
func (b *defaultRequestBuilder) SetMaxForwards(max int) MessageBuilderCommon {
	b.request.SetHeader(types.HeaderMaxForwards, strconv.Itoa(max))
	return b
}

// SetBody sets the message body.
func (b *defaultRequestBuilder) SetBody(body []byte, contentType string) MessageBuilderCommon {
	b.request.SetBody(body)
	if contentType != "" {
		b.request.SetHeader(types.HeaderContentType, contentType)
	}
	return b
}

// Build finalizes the request.
func (b *defaultRequestBuilder) Build() (types.Message, error) {
	// Validate required headers.
	if b.request.GetHeader(types.HeaderTo) == "" {
		return nil, fmt.Errorf("missing required header: To")
	}
	if b.request.GetHeader(types.HeaderFrom) == "" {
		return nil, fmt.Errorf("missing required header: From")
	}
	if b.request.GetHeader(types.HeaderCallID) == "" {
		return nil, fmt.Errorf("missing required header: Call-ID")
	}
	if b.request.GetHeader(types.HeaderCSeq) == "" {
		return nil, fmt.Errorf("missing required header: CSeq")
	}
	if b.request.GetHeader(types.HeaderVia) == "" {
		return nil, fmt.Errorf("missing required header: Via")
	}

	// Default Max-Forwards if unset.
	if b.request.GetHeader(types.HeaderMaxForwards) == "" {
		b.request.SetHeader(types.HeaderMaxForwards, "70")
	}

	return b.request, nil
}

// defaultResponseBuilder is the ResponseBuilder implementation.
type defaultResponseBuilder struct {
	response *types.Response
}

// SetStatusCode sets the status code.
func (b *defaultResponseBuilder) SetStatusCode(code int) ResponseBuilder {
	reasonPhrase := b.response.ReasonPhrase()
	oldHeaders := b.response.Headers()
	oldBody := b.response.Body()

	b.response = types.NewResponse(code, reasonPhrase)
	// Carry over the existing headers.
	for name, values := range oldHeaders {
		for _, value := range values {
			b.response.AddHeader(name, value)
		}
	}
	// Carry over the body, if any.
	if oldBody != nil {
		b.response.SetBody(oldBody)
	}
	return b
}

// SetReasonPhrase sets the reason phrase.
func (b *defaultResponseBuilder) SetReasonPhrase(phrase string) ResponseBuilder {
	statusCode := b.response.StatusCode()
	oldHeaders := b.response.Headers()
	oldBody := b.response.Body()

	b.response = types.NewResponse(statusCode, phrase)
	// Carry over the existing headers.
	for name, values := range oldHeaders {
		for _, value := range values {
			b.response.AddHeader(name, value)
		}
	}
	// Carry over the body, if any.
	if oldBody != nil {
		b.response.SetBody(oldBody)
	}
	return b
}

// AddHeader appends a header.
func (b *defaultResponseBuilder) AddHeader(name, value string) MessageBuilderCommon {
	b.response.AddHeader(name, value)
	return b
}

// SetHeader sets a header.
func (b *defaultResponseBuilder) SetHeader(name, value string) MessageBuilderCommon {
	b.response.SetHeader(name, value)
	return b
}

// RemoveHeader removes a header.
func (b *defaultResponseBuilder) RemoveHeader(name string) MessageBuilderCommon {
	b.response.RemoveHeader(name)
	return b
}

// SetFrom sets the From header.
func (b *defaultResponseBuilder) SetFrom(addr types.Address) MessageBuilderCommon {
	b.response.SetHeader(types.HeaderFrom, addr.String())
	return b
}

// SetTo sets the To header.
func (b *defaultResponseBuilder) SetTo(addr types.Address) MessageBuilderCommon {
	b.response.SetHeader(types.HeaderTo, addr.String())
	return b
}

// SetCallID sets the Call-ID.
func (b *defaultResponseBuilder) SetCallID(callID string) MessageBuilderCommon {
	b.response.SetHeader(types.HeaderCallID, callID)
	return b
}

// SetCSeq sets CSeq.
func (b *defaultResponseBuilder) SetCSeq(seq uint32, method string) MessageBuilderCommon {
	cseq := &types.CSeq{
		Sequence: seq,
		Method:   method,
	}
	b.response.SetHeader(types.HeaderCSeq, cseq.String())
	return b
}

// SetVia sets the Via header.
func (b *defaultResponseBuilder) SetVia(via *types.Via) MessageBuilderCommon {
	b.response.SetHeader(types.HeaderVia, via.String())
	return b
}

// AddVia appends a Via header.
func (b *defaultResponseBuilder) AddVia(via *types.Via) MessageBuilderCommon {
	b.response.AddHeader(types.HeaderVia, via.String())
	return b
}

// SetContact sets the Contact header.
func (b *defaultResponseBuilder) SetContact(addr types.Address) MessageBuilderCommon {
	b.response.SetHeader(types.HeaderContact, addr.String())
	return b
}

// SetMaxForwards sets Max-Forwards.
func (b *defaultResponseBuilder) SetMaxForwards(max int) MessageBuilderCommon {
	b.response.SetHeader(types.HeaderMaxForwards, strconv.Itoa(max))
	return b
}

// SetBody sets the message body.
func (b *defaultResponseBuilder) SetBody(body []byte, contentType string) MessageBuilderCommon {
	b.response.SetBody(body)
	if contentType != "" {
		b.response.SetHeader(types.HeaderContentType, contentType)
	}
	return b
}

// Build finalizes the response.
func (b *defaultResponseBuilder) Build() (types.Message, error) {
	// Validate required headers.
	if b.response.GetHeader(types.HeaderTo) == "" {
		return nil, fmt.Errorf("missing required header: To")
	}
	if b.response.GetHeader(types.HeaderFrom) == "" {
		return nil, fmt.Errorf("missing required header: From")
	}
	if b.response.GetHeader(types.HeaderCallID) == "" {
		return nil, fmt.Errorf("missing required header: Call-ID")
	}
	if b.response.GetHeader(types.HeaderCSeq) == "" {
		return nil, fmt.Errorf("missing required header: CSeq")
	}
	if b.response.GetHeader(types.HeaderVia) == "" {
		return nil, fmt.Errorf("missing required header: Via")
	}

	return b.response, nil
}

// Helpers for constructing common messages.

// CreateRequest creates a request with the base dialog-identifying headers.
func CreateRequest(method string, from, to types.Address, callID string, cseq uint32) RequestBuilder {
	builder := NewMessageBuilder()
	uri := to.URI()

	reqBuilder := builder.NewRequest(method, uri)
	reqBuilder.SetFrom(from).
		SetTo(to).
		SetCallID(callID).
		SetCSeq(cseq, method).
		SetMaxForwards(70)

	return reqBuilder
}

// CreateResponse creates a response to a request.
func CreateResponse(request types.Message, statusCode int, reasonPhrase string) ResponseBuilder {
	builder := NewMessageBuilder()

	resp := builder.NewResponse(statusCode, reasonPhrase)

	// Carry over the required headers from the request.
	resp.SetHeader(types.HeaderFrom, request.GetHeader(types.HeaderFrom))
	resp.SetHeader(types.HeaderTo, request.GetHeader(types.HeaderTo))
	resp.SetHeader(types.HeaderCallID, request.GetHeader(types.HeaderCallID))
	resp.SetHeader(types.HeaderCSeq, request.GetHeader(types.HeaderCSeq))

	// Carry over the Via headers.
	for _, via := range request.GetHeaders(types.HeaderVia) {
		resp.AddHeader(types.HeaderVia, via)
	}

	return resp
}
