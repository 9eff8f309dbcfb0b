// Package middleware wraps the node-side message handler.
//
// A handler returns the reply to write back, or nil when nothing should be
// written (casts, dropped requests).
package middleware

import (
	"context"

	"caller-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.Message) *message.Message

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one listed runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
