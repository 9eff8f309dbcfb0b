// Package stub is the shared pipeline behind every remote method.
//
// A Method binds a tag to its argument and result types, so a call site
// cannot pair a tag with the wrong argument. Every stub is the same three
// steps, parameterized only by the Method:
//
//	encode envelope {tag: args} → build request to target → dispatch.Send[R]
//
// Methods with several parameters take an envelope.Tuple2 or Tuple3 as A.
package stub

import (
	"context"
	"fmt"
	"time"

	"caller-rpc/address"
	"caller-rpc/dispatch"
	"caller-rpc/envelope"
	"caller-rpc/outcome"
	"caller-rpc/request"
)

// Method describes one remote method: its tag, argument type A and result type R.
type Method[A, R any] struct {
	name string
}

func NewMethod[A, R any](name string) Method[A, R] {
	if name == "" {
		panic("stub: method name must not be empty")
	}
	return Method[A, R]{name: name}
}

func (m Method[A, R]) Name() string { return m.name }

type callOptions struct {
	timeout    time.Duration
	timeoutSet bool
}

type CallOption func(*callOptions)

// WithTimeout overrides the Caller's default timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
		o.timeoutSet = true
	}
}

// Call invokes m on the process at target and waits for its result.
// Construction errors come back as an outcome.Invalid result; nothing is sent.
func Call[A, R any](ctx context.Context, c *dispatch.Caller, target address.Address, m Method[A, R], args A, opts ...CallOption) outcome.SendResult[R] {
	req, err := build(target, m.name, args, true, opts)
	if err != nil {
		return outcome.Fail[R](outcome.Invalid, err)
	}
	return dispatch.Send[R](ctx, c, req)
}

// Notify sends m to target without waiting for, or accepting, a result.
func Notify[A, R any](ctx context.Context, c *dispatch.Caller, target address.Address, m Method[A, R], args A) outcome.SendResult[struct{}] {
	req, err := build(target, m.name, args, false, nil)
	if err != nil {
		return outcome.Fail[struct{}](outcome.Invalid, err)
	}
	return c.Cast(ctx, req)
}

func build(target address.Address, tag string, args any, expectsResponse bool, opts []CallOption) (*request.Request, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	body, err := envelope.Encode(tag, args)
	if err != nil {
		return nil, err
	}

	b := request.To(target).Method(tag).Body(body).ExpectsResponse(expectsResponse)
	if o.timeoutSet {
		b.Timeout(o.timeout)
	}
	req, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("stub %s: %w", tag, err)
	}
	return req, nil
}
