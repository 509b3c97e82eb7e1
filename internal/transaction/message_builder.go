package transaction

import (
	"fmt"
	"strings"

	"sipline.dev/core/internal/sipmsg/builder"
	"sipline.dev/core/internal/sipmsg/types"
)

// MessageBuilder assembles the handful of request types a transaction
// itself needs to synthesize — ACK to a non-2xx and CANCEL — as opposed to
// the application-level requests sipmsg/builder.MessageBuilder produces for
// the dialog and account layers above.
type MessageBuilder struct{}

// NewMessageBuilder returns an empty MessageBuilder; it carries no state of
// its own; every method is a pure function of its arguments.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{}
}

// BuildACKForNon2xx builds the ACK a client INVITE transaction sends on a
// non-2xx final response (RFC 3261 §17.1.1.3): this ACK belongs to the
// INVITE transaction itself, not a transaction of its own, and so copies
// Via/From/Call-ID straight from the INVITE rather than generating new
// values.
func (b *MessageBuilder) BuildACKForNon2xx(invite types.Message, response types.Message) (types.Message, error) {
	if !invite.IsRequest() || invite.Method() != "INVITE" {
		return nil, fmt.Errorf("not an INVITE request")
	}

	if !response.IsResponse() || response.StatusCode() < 300 {
		return nil, fmt.Errorf("not a non-2xx response")
	}

	msgBuilder := builder.NewMessageBuilder()
	ackBuilder := msgBuilder.NewRequest("ACK", invite.RequestURI())

	if via := invite.GetHeader("Via"); via != "" {
		ackBuilder.SetHeader("Via", via)
	}

	if from := invite.GetHeader("From"); from != "" {
		ackBuilder.SetHeader("From", from)
	}

	// To comes from the response, not the INVITE — it carries the remote
	// tag the far end assigned when answering with the non-2xx.
	if to := response.GetHeader("To"); to != "" {
		ackBuilder.SetHeader("To", to)
	}

	if callID := invite.GetHeader("Call-ID"); callID != "" {
		ackBuilder.SetHeader("Call-ID", callID)
	}

	// Same CSeq number as the INVITE, ACK in place of the method.
	if cseq := invite.GetHeader("CSeq"); cseq != "" {
		parts := strings.Fields(cseq)
		if len(parts) >= 1 {
			ackBuilder.SetHeader("CSeq", parts[0]+" ACK")
		}
	}

	if route := invite.GetHeader("Route"); route != "" {
		ackBuilder.SetHeader("Route", route)
	}

	ackBuilder.SetMaxForwards(70)
	ackBuilder.SetHeader("Content-Length", "0")

	return ackBuilder.Build()
}

// BuildCANCEL builds the CANCEL for an outstanding request (RFC 3261 §9.1).
// CANCEL reuses the Via/From/To/Call-ID of the request it cancels verbatim
// and carries the same CSeq number with its own CANCEL method, so the
// far end can correlate it without a shared transaction.
func (b *MessageBuilder) BuildCANCEL(request types.Message) (types.Message, error) {
	if !request.IsRequest() {
		return nil, fmt.Errorf("not a request")
	}

	if request.Method() == "ACK" || request.Method() == "CANCEL" {
		return nil, fmt.Errorf("cannot cancel %s request", request.Method())
	}

	msgBuilder := builder.NewMessageBuilder()
	cancelBuilder := msgBuilder.NewRequest("CANCEL", request.RequestURI())

	if via := request.GetHeader("Via"); via != "" {
		cancelBuilder.SetHeader("Via", via)
	}

	if from := request.GetHeader("From"); from != "" {
		cancelBuilder.SetHeader("From", from)
	}

	// To without a tag — CANCEL precedes any response that would have
	// carried one.
	if to := request.GetHeader("To"); to != "" {
		cancelBuilder.SetHeader("To", to)
	}

	if callID := request.GetHeader("Call-ID"); callID != "" {
		cancelBuilder.SetHeader("Call-ID", callID)
	}

	if cseq := request.GetHeader("CSeq"); cseq != "" {
		parts := strings.Fields(cseq)
		if len(parts) >= 1 {
			cancelBuilder.SetHeader("CSeq", parts[0]+" CANCEL")
		}
	}

	if route := request.GetHeader("Route"); route != "" {
		cancelBuilder.SetHeader("Route", route)
	}

	cancelBuilder.SetMaxForwards(70)
	cancelBuilder.SetHeader("Content-Length", "0")

	return cancelBuilder.Build()
}
