package models

import "time"

// MessageKind tags the payload variant carried by a message.
type MessageKind string

const (
	// KindRequest asks the recipient to do something and expects a response.
	KindRequest MessageKind = "request"
	// KindResponse answers an earlier request, matched by correlation ID.
	KindResponse MessageKind = "response"
	// KindNotification is one-way information; no response is expected.
	KindNotification MessageKind = "notification"
	// KindTerminate tells the recipient to finish its current unit of work
	// and stop. Terminal for the receiving agent.
	KindTerminate MessageKind = "terminate"
)

// Valid returns true if the kind is a known value.
func (k MessageKind) Valid() bool {
	switch k {
	case KindRequest, KindResponse, KindNotification, KindTerminate:
		return true
	default:
		return false
	}
}

// Broadcast is the recipient marker that fans a message out to every
// registered agent except the sender.
const Broadcast = "*"

// Message is one unit of inter-agent communication. The router assigns Seq
// per receiving inbox; within one inbox messages from the same sender are
// observed in send order.
type Message struct {
	// Seq is the monotonic sequence number scoped to the receiving inbox.
	Seq int64 `json:"seq"`
	// From is the sending agent's ID.
	From string `json:"from"`
	// To is the recipient agent's ID, or Broadcast.
	To string `json:"to"`
	// Kind selects the payload variant.
	Kind MessageKind `json:"kind"`
	// CorrelationID links a response to its originating request. Required on
	// responses; set on requests by the protocol engine.
	CorrelationID string `json:"correlation_id,omitempty"`
	// Payload is the kind-specific body, opaque to the router.
	Payload Payload `json:"payload"`
	// SentAt is when the sender enqueued the message.
	SentAt time.Time `json:"sent_at"`
}

// Payload is the tagged variant carried by a message. Exactly the fields for
// the message's kind are set, so receivers dispatch on Kind without runtime
// type inspection.
type Payload struct {
	// Request describes what the sender wants done (kind=request).
	Request *RequestPayload `json:"request,omitempty"`
	// Response carries the outcome of a request (kind=response).
	Response *ResponsePayload `json:"response,omitempty"`
	// Note carries free-form information (kind=notification).
	Note string `json:"note,omitempty"`
	// Reason explains a terminate message (kind=terminate).
	Reason string `json:"reason,omitempty"`
}

// RequestPayload is the body of a request message.
type RequestPayload struct {
	// Subject names what is being asked for.
	Subject string `json:"subject"`
	// Body is the request detail.
	Body string `json:"body,omitempty"`
	// TaskID links the request to a task, if one is involved.
	TaskID string `json:"task_id,omitempty"`
}

// ResponsePayload is the body of a response message.
type ResponsePayload struct {
	// OK reports whether the request was satisfied.
	OK bool `json:"ok"`
	// Body is the response detail.
	Body string `json:"body,omitempty"`
}
