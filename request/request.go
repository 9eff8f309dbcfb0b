// Package request assembles outbound bus requests.
//
// The builder performs no I/O. It collects the destination, the encoded body and
// per-call delivery options, and Build either returns an immutable *Request or
// fails synchronously with a construction error so nothing invalid reaches the
// dispatch stage.
//
//	req, err := request.To(target).
//		Method("Sign").
//		Body(body).
//		Timeout(2 * time.Second).
//		Build()
package request

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"caller-rpc/address"
)

var (
	ErrMissingBody         = errors.New("request: missing body")
	ErrInvalidTimeout      = errors.New("request: timeout must be positive")
	ErrTimeoutWithoutReply = errors.New("request: timeout set on a request that expects no response")
	ErrInvalidTarget       = errors.New("request: invalid target")
)

// Request is a fully validated outbound message. It is not reused between
// calls and cannot be modified once built.
type Request struct {
	target          address.Address
	method          string
	body            []byte
	timeout         time.Duration
	expectsResponse bool
}

func (r *Request) Target() address.Address { return r.target }

// Method is the envelope tag, kept for logging only.
func (r *Request) Method() string { return r.method }

// Body returns a copy of the encoded envelope.
func (r *Request) Body() []byte { return bytes.Clone(r.body) }

// Timeout returns the per-call timeout and whether one was set.
func (r *Request) Timeout() (time.Duration, bool) { return r.timeout, r.timeout > 0 }

func (r *Request) ExpectsResponse() bool { return r.expectsResponse }

// Builder accumulates request options. The zero value is not usable; start
// with To.
type Builder struct {
	target          address.Address
	method          string
	body            []byte
	timeout         time.Duration
	timeoutSet      bool
	expectsResponse bool
}

// To starts a request addressed to target. Requests expect a response unless
// ExpectsResponse(false) is called.
func To(target address.Address) *Builder {
	return &Builder{target: target, expectsResponse: true}
}

func (b *Builder) Method(tag string) *Builder {
	b.method = tag
	return b
}

func (b *Builder) Body(body []byte) *Builder {
	b.body = bytes.Clone(body)
	return b
}

func (b *Builder) Timeout(d time.Duration) *Builder {
	b.timeout = d
	b.timeoutSet = true
	return b
}

func (b *Builder) ExpectsResponse(expects bool) *Builder {
	b.expectsResponse = expects
	return b
}

// Build validates the accumulated options.
func (b *Builder) Build() (*Request, error) {
	if err := b.target.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	if len(b.body) == 0 {
		return nil, ErrMissingBody
	}
	if b.timeoutSet {
		if b.timeout <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTimeout, b.timeout)
		}
		if !b.expectsResponse {
			return nil, ErrTimeoutWithoutReply
		}
	}
	return &Request{
		target:          b.target,
		method:          b.method,
		body:            bytes.Clone(b.body),
		timeout:         b.timeout,
		expectsResponse: b.expectsResponse,
	}, nil
}
