package dispatch

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultTimeout applies to calls whose request sets no timeout.
const DefaultTimeout = 30 * time.Second

type Option func(*Caller)

func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Caller) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithRateLimit caps outbound calls with a token bucket. Calls over the limit
// fail locally with DeliveryFailure and never reach the bus.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Caller) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Caller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Caller) {
		if m != nil {
			c.metrics = m
		}
	}
}
