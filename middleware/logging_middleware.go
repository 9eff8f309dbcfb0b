package middleware

import (
	"context"
	"time"

	"caller-rpc/message"

	"go.uber.org/zap"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			start := time.Now()
			reply := next(ctx, req)

			fields := []zap.Field{
				zap.Stringer("source", req.Source),
				zap.Stringer("target", req.Target),
				zap.Uint64("id", req.ID),
				zap.Stringer("kind", req.Kind),
				zap.Duration("duration", time.Since(start)),
			}
			switch {
			case reply == nil:
				logger.Debug("message handled, no reply", fields...)
			case reply.Status != message.StatusOK:
				logger.Info("message refused", append(fields, zap.Stringer("status", reply.Status))...)
			default:
				logger.Debug("message handled", fields...)
			}
			return reply
		}
	}
}
