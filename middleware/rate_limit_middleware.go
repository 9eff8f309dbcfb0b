package middleware

import (
	"context"

	"caller-rpc/message"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware admits messages through a token bucket. Requests over
// the limit are answered with StatusRejected; casts over the limit are dropped.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			if !limiter.Allow() {
				if !req.ExpectsReply() {
					return nil
				}
				return req.Reply(message.StatusRejected, nil)
			}
			return next(ctx, req)
		}
	}
}
