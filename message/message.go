// Package message defines the unit the bus carries between processes.
//
// A Message wraps an opaque envelope body with routing and correlation data.
// The codec layer serializes it and the protocol layer frames it; the ID rides
// in the frame header so replies can be matched without decoding the body.
package message

import (
	"bytes"
	"fmt"

	"caller-rpc/address"
)

// Kind distinguishes calls that await a reply from casts and replies.
type Kind byte

const (
	KindRequest  Kind = 0 // Caller → process, a correlated reply is expected
	KindCast     Kind = 1 // Caller → process, fire-and-forget
	KindResponse Kind = 2 // Process → caller, ID matches the request
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindCast:
		return "cast"
	case KindResponse:
		return "response"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Status is the bus-level delivery status of a response. Anything other than
// StatusOK means the body is empty and the target did not handle the request.
type Status byte

const (
	StatusOK              Status = 0
	StatusProcessNotFound Status = 1 // Node reached, no such process
	StatusNodeOffline     Status = 2 // Node unreachable or connection lost
	StatusRejected        Status = 3 // Node refused the message (rate limit, undecodable envelope)
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusProcessNotFound:
		return "process_not_found"
	case StatusNodeOffline:
		return "node_offline"
	case StatusRejected:
		return "rejected"
	}
	return fmt.Sprintf("status(%d)", byte(s))
}

// Message is one bus message.
//
//   - Request/Cast: Source is the calling process, Body is the encoded envelope.
//   - Response:     ID equals the request's ID, Status reports delivery, Body is the encoded result.
type Message struct {
	ID     uint64          `json:"-"`
	Kind   Kind            `json:"kind"`
	Source address.Address `json:"source"`
	Target address.Address `json:"target"`
	Status Status          `json:"status"`
	Body   []byte          `json:"body,omitempty"`
}

// Reply builds the correlated response to m.
func (m *Message) Reply(status Status, body []byte) *Message {
	return &Message{
		ID:     m.ID,
		Kind:   KindResponse,
		Source: m.Target,
		Target: m.Source,
		Status: status,
		Body:   bytes.Clone(body),
	}
}

// ExpectsReply reports whether the sender is waiting for a response.
func (m *Message) ExpectsReply() bool {
	return m.Kind == KindRequest
}
