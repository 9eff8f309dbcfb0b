package middleware

import (
	"context"
	"time"

	"caller-rpc/message"
)

// TimeOutMiddleware bounds the handler. A request that overruns gets no reply
// at all, leaving the caller's own timer to settle the call.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Message, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case reply := <-done:
				return reply
			case <-ctx.Done():
				return nil
			}
		}
	}
}
