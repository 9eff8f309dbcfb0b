// Package bus is the contract between the caller-side dispatch layer and the
// message bus that moves messages between processes.
//
// The bus is addressed and asynchronous: Send hands a message over and returns
// as soon as it is accepted or refused. Replies come back later through the
// function registered with Subscribe, matched to their call by message ID.
package bus

import (
	"context"
	"errors"

	"caller-rpc/message"
)

// Errors a Bus reports synchronously from Send.
var (
	ErrProcessNotFound = errors.New("bus: process not found")
	ErrNodeOffline     = errors.New("bus: node offline")
	ErrRejected        = errors.New("bus: message rejected")
	ErrClosed          = errors.New("bus: closed")
)

// Bus moves messages to processes and reports replies.
type Bus interface {
	// Send submits msg for delivery to msg.Target. It must not block waiting
	// for a reply.
	Send(ctx context.Context, msg *message.Message) error
	// Subscribe registers fn to receive every response the bus gets back.
	// fn is called from the bus's own goroutines and must not block. The
	// returned function removes the subscription.
	Subscribe(fn func(*message.Message)) (unsubscribe func())
}

// ErrNoReply, returned by a Handler, suppresses the response entirely.
var ErrNoReply = errors.New("bus: no reply")

// Handler is a process on the receiving end. The returned bytes become the
// body of an OK response; any other error produces a Rejected response.
type Handler interface {
	ServeMessage(ctx context.Context, msg *message.Message) ([]byte, error)
}

type HandlerFunc func(ctx context.Context, msg *message.Message) ([]byte, error)

func (f HandlerFunc) ServeMessage(ctx context.Context, msg *message.Message) ([]byte, error) {
	return f(ctx, msg)
}

// StatusFor maps a Send error to the response status a remote node would
// have reported for it.
func StatusFor(err error) message.Status {
	switch {
	case err == nil:
		return message.StatusOK
	case errors.Is(err, ErrProcessNotFound):
		return message.StatusProcessNotFound
	case errors.Is(err, ErrNodeOffline):
		return message.StatusNodeOffline
	}
	return message.StatusRejected
}
