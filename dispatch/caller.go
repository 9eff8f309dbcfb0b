// Package dispatch implements the asynchronous send primitive every stub uses.
//
// A Caller multiplexes any number of concurrent calls over one bus. Each call
// gets a fresh correlation id and an entry in the pending table, then waits for
// exactly one of: the correlated reply, its timeout, or its context ending.
//
//	goroutine-1 ──Send(id=1)──┐
//	goroutine-2 ──Send(id=2)──┼──→ bus ──→ processes
//	goroutine-3 ──Send(id=3)──┘
//
//	bus reply(id=2) → deliver → pending[2] → goroutine-2 wakes up
//
// Replies are matched by id only; arrival order means nothing. A reply whose
// entry is gone (timed out, cancelled) is an orphan: logged, counted, dropped.
// Nothing here retries. Every failure is classified and handed back to the
// caller, who owns the retry policy.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"caller-rpc/address"
	"caller-rpc/bus"
	"caller-rpc/envelope"
	"caller-rpc/message"
	"caller-rpc/outcome"
	"caller-rpc/request"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrCallerClosed       = errors.New("dispatch: caller closed")
	ErrRateLimited        = errors.New("dispatch: outbound rate limit exceeded")
	ErrNilRequest         = errors.New("dispatch: nil request")
	ErrNoResponseExpected = errors.New("dispatch: request expects no response, use Cast")
	ErrResponseExpected   = errors.New("dispatch: request expects a response, use Send")
)

// Caller sends requests on behalf of the process at its own address. Use one
// Caller per process address: replies are routed to it by that address.
type Caller struct {
	bus            bus.Bus
	self           address.Address
	seq            atomic.Uint64
	pending        *pendingTable
	closed         atomic.Bool
	defaultTimeout time.Duration
	limiter        *rate.Limiter
	logger         *zap.Logger
	metrics        *Metrics
	unsubscribe    func()
}

// New creates a Caller for self and subscribes it to replies on b.
func New(b bus.Bus, self address.Address, opts ...Option) *Caller {
	c := &Caller{
		bus:            b,
		self:           self,
		pending:        newPendingTable(),
		defaultTimeout: DefaultTimeout,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	c.unsubscribe = b.Subscribe(c.deliver)
	return c
}

func (c *Caller) Self() address.Address { return c.self }

// Pending reports how many calls are waiting for a reply.
func (c *Caller) Pending() int { return c.pending.len() }

// Send dispatches req and suspends until its outcome is known. The reply body
// is decoded into T.
func Send[T any](ctx context.Context, c *Caller, req *request.Request) outcome.SendResult[T] {
	start := time.Now()
	reply, kind, err := c.roundTrip(ctx, req)

	var res outcome.SendResult[T]
	switch {
	case kind != outcome.Success:
		res = outcome.Fail[T](kind, err)
	default:
		v, derr := envelope.Decode[T](reply.Body)
		if derr != nil {
			res = outcome.Undecodable[T](reply.Body, derr)
		} else {
			res = outcome.Succeed(v)
		}
	}

	c.record(req, res.Kind(), time.Since(start), res.Err())
	return res
}

// Cast delivers req without registering a correlation or waiting for a reply.
// Success means the bus accepted the message.
func (c *Caller) Cast(ctx context.Context, req *request.Request) outcome.SendResult[struct{}] {
	start := time.Now()
	kind, err := c.cast(ctx, req)

	var res outcome.SendResult[struct{}]
	if kind == outcome.Success {
		res = outcome.Succeed(struct{}{})
	} else {
		res = outcome.Fail[struct{}](kind, err)
	}
	c.record(req, res.Kind(), time.Since(start), res.Err())
	return res
}

func (c *Caller) roundTrip(ctx context.Context, req *request.Request) (*message.Message, outcome.Kind, error) {
	if req == nil {
		return nil, outcome.Invalid, ErrNilRequest
	}
	if !req.ExpectsResponse() {
		return nil, outcome.Invalid, ErrNoResponseExpected
	}
	if err := c.admit(); err != nil {
		return nil, outcome.DeliveryFailure, err
	}

	timeout := c.defaultTimeout
	if d, ok := req.Timeout(); ok {
		timeout = d
	}

	// The budget covers the send as well as the wait, so a bus stuck writing
	// to a slow peer cannot hold the call past it.
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := c.seq.Add(1)
	call, err := c.pending.register(id)
	if err != nil {
		return nil, outcome.DeliveryFailure, err
	}
	c.metrics.inflight.Inc()
	defer c.metrics.inflight.Dec()

	msg := &message.Message{
		ID:     id,
		Kind:   message.KindRequest,
		Source: c.self,
		Target: req.Target(),
		Body:   req.Body(),
	}
	if err := c.bus.Send(callCtx, msg); err != nil {
		c.pending.abandon(id)
		return nil, classifySendError(err), err
	}

	select {
	case done := <-call.ch:
		return classifyCompletion(done)
	case <-callCtx.Done():
		if c.pending.abandon(id) {
			if err := ctx.Err(); err != nil {
				return nil, contextKind(err), err
			}
			return nil, outcome.Timeout, fmt.Errorf("no reply from %s within %s", req.Target(), timeout)
		}
	}
	// The entry was removed by a reply racing the timer or context, so its
	// completion is already buffered.
	return classifyCompletion(<-call.ch)
}

func (c *Caller) cast(ctx context.Context, req *request.Request) (outcome.Kind, error) {
	if req == nil {
		return outcome.Invalid, ErrNilRequest
	}
	if req.ExpectsResponse() {
		return outcome.Invalid, ErrResponseExpected
	}
	if err := c.admit(); err != nil {
		return outcome.DeliveryFailure, err
	}

	msg := &message.Message{
		ID:     c.seq.Add(1),
		Kind:   message.KindCast,
		Source: c.self,
		Target: req.Target(),
		Body:   req.Body(),
	}
	if err := c.bus.Send(ctx, msg); err != nil {
		return classifySendError(err), err
	}
	return outcome.Success, nil
}

func (c *Caller) admit() error {
	if c.closed.Load() {
		return ErrCallerClosed
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

// deliver is the bus subscription. It runs on bus goroutines.
func (c *Caller) deliver(msg *message.Message) {
	if msg.Kind != message.KindResponse || msg.Target != c.self {
		return
	}
	if !c.pending.resolve(msg) {
		c.metrics.orphans.Inc()
		c.logger.Debug("discarding orphaned reply",
			zap.Uint64("id", msg.ID),
			zap.Stringer("source", msg.Source),
			zap.Stringer("status", msg.Status))
	}
}

// Close fails every in-flight call with DeliveryFailure, rejects new ones and
// unsubscribes from the bus. The bus itself is not closed.
func (c *Caller) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.unsubscribe()
	if n := c.pending.closeAll(ErrCallerClosed); n > 0 {
		c.logger.Info("caller closed with calls in flight", zap.Int("pending", n))
	}
	return nil
}

func (c *Caller) record(req *request.Request, kind outcome.Kind, elapsed time.Duration, err error) {
	var (
		method string
		target address.Address
	)
	if req != nil {
		method, target = req.Method(), req.Target()
	}
	c.metrics.observe(method, kind, elapsed)

	fields := []zap.Field{
		zap.String("method", method),
		zap.Stringer("target", target),
		zap.Stringer("outcome", kind),
		zap.Duration("elapsed", elapsed),
	}
	switch kind {
	case outcome.Success:
		c.logger.Debug("call completed", fields...)
	case outcome.DecodeFailure:
		c.logger.Warn("call reply did not decode", append(fields, zap.Error(err))...)
	default:
		c.logger.Debug("call failed", append(fields, zap.Error(err))...)
	}
}

func classifySendError(err error) outcome.Kind {
	switch {
	case errors.Is(err, bus.ErrProcessNotFound), errors.Is(err, bus.ErrNodeOffline):
		return outcome.Unreachable
	case errors.Is(err, context.DeadlineExceeded):
		return outcome.Timeout
	case errors.Is(err, context.Canceled):
		return outcome.Cancelled
	}
	return outcome.DeliveryFailure
}

func classifyCompletion(done completion) (*message.Message, outcome.Kind, error) {
	if done.err != nil {
		return nil, outcome.DeliveryFailure, done.err
	}
	msg := done.msg
	switch msg.Status {
	case message.StatusOK:
		return msg, outcome.Success, nil
	case message.StatusProcessNotFound:
		return nil, outcome.Unreachable, fmt.Errorf("%w: %s", bus.ErrProcessNotFound, msg.Source)
	case message.StatusNodeOffline:
		return nil, outcome.Unreachable, fmt.Errorf("%w: %s", bus.ErrNodeOffline, msg.Source.Node)
	}
	return nil, outcome.DeliveryFailure, fmt.Errorf("%w by %s (%s)", bus.ErrRejected, msg.Source, msg.Status)
}

func contextKind(err error) outcome.Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return outcome.Timeout
	}
	return outcome.Cancelled
}
