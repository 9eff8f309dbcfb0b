// Package outcome defines SendResult, the single type every stub call returns.
//
// Two failure axes are kept apart. A SendResult that is not Success means the
// call itself did not complete. A Success whose value is an envelope.Result in
// its Err arm means the remote method ran and reported a domain error.
//
//	switch res.Kind() {
//	case outcome.Success:
//	case outcome.Timeout:
//	case outcome.Unreachable:
//	case outcome.DeliveryFailure:
//	case outcome.DecodeFailure:
//	case outcome.Invalid:
//	case outcome.Cancelled:
//	}
package outcome

import (
	"bytes"
	"errors"
	"fmt"
)

// Kind discriminates the outcome of a call.
type Kind uint8

const (
	// Unset is the kind of a SendResult that was never constructed. It is not
	// an outcome any call produces, and it never reports a value.
	Unset Kind = iota
	// Success: a correlated reply arrived and decoded into the result type.
	Success
	// Timeout: no reply within the call's budget.
	Timeout
	// Unreachable: the destination node or process was not found or is offline.
	Unreachable
	// DeliveryFailure: the local send was rejected, or the bus refused the message.
	DeliveryFailure
	// DecodeFailure: a reply arrived but does not parse into the result type.
	DecodeFailure
	// Invalid: the call could not be constructed; nothing was sent.
	Invalid
	// Cancelled: the caller's context ended before the call resolved.
	Cancelled
)

var kindNames = [...]string{
	Unset:           "unset",
	Success:         "success",
	Timeout:         "timeout",
	Unreachable:     "unreachable",
	DeliveryFailure: "delivery_failure",
	DecodeFailure:   "decode_failure",
	Invalid:         "invalid",
	Cancelled:       "cancelled",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Kinds lists every kind a call can resolve to, in declaration order.
func Kinds() []Kind {
	return []Kind{Success, Timeout, Unreachable, DeliveryFailure, DecodeFailure, Invalid, Cancelled}
}

var (
	ErrTimeout         = errors.New("call timed out")
	ErrUnreachable     = errors.New("destination unreachable")
	ErrDeliveryFailure = errors.New("delivery failed")
	ErrDecode          = errors.New("response decode failed")
	ErrInvalid         = errors.New("invalid call")
	ErrCancelled       = errors.New("call cancelled")
	ErrUnset           = errors.New("result not set")
)

var kindErrors = [...]error{
	Unset:           ErrUnset,
	Timeout:         ErrTimeout,
	Unreachable:     ErrUnreachable,
	DeliveryFailure: ErrDeliveryFailure,
	DecodeFailure:   ErrDecode,
	Invalid:         ErrInvalid,
	Cancelled:       ErrCancelled,
}

// Error is the error form of a non-success SendResult. It matches the kind's
// sentinel with errors.Is and unwraps to the underlying cause.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return kindErrors[e.Kind].Error()
	}
	return kindErrors[e.Kind].Error() + ": " + e.Cause.Error()
}

func (e *Error) Is(target error) bool {
	return target == kindErrors[e.Kind]
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// SendResult is the classified outcome of one call. Construct it with the
// functions in this package; the zero value is Unset and fails with ErrUnset.
type SendResult[T any] struct {
	kind  Kind
	value T
	err   *Error
	raw   []byte
}

func Succeed[T any](v T) SendResult[T] {
	return SendResult[T]{kind: Success, value: v}
}

// Fail builds a non-success result of kind k. Passing Success or Unset panics:
// a failure can never be represented as a silent success.
func Fail[T any](k Kind, cause error) SendResult[T] {
	if k == Success || k == Unset || int(k) >= len(kindNames) {
		panic(fmt.Sprintf("outcome: Fail called with kind %s", k))
	}
	return SendResult[T]{kind: k, err: &Error{Kind: k, Cause: cause}}
}

// Undecodable builds a DecodeFailure that keeps the raw reply bytes.
func Undecodable[T any](raw []byte, cause error) SendResult[T] {
	r := Fail[T](DecodeFailure, cause)
	r.raw = bytes.Clone(raw)
	return r
}

func (r SendResult[T]) Kind() Kind { return r.kind }

func (r SendResult[T]) IsSuccess() bool { return r.kind == Success }

// Value returns the decoded result; ok is false for every non-success kind.
func (r SendResult[T]) Value() (T, bool) {
	if r.kind != Success {
		var zero T
		return zero, false
	}
	return r.value, true
}

// Err returns nil on success and an *Error otherwise.
func (r SendResult[T]) Err() error {
	switch {
	case r.kind == Success:
		return nil
	case r.err == nil:
		return &Error{Kind: r.kind}
	}
	return r.err
}

// Raw returns the undecodable reply bytes of a DecodeFailure.
func (r SendResult[T]) Raw() []byte {
	return bytes.Clone(r.raw)
}

// Unwrap converts the result to the usual (value, error) pair.
func (r SendResult[T]) Unwrap() (T, error) {
	v, _ := r.Value()
	return v, r.Err()
}

func (r SendResult[T]) String() string {
	if r.kind == Success {
		return fmt.Sprintf("success(%v)", r.value)
	}
	return r.Err().Error()
}

// Map carries a result across a type change, keeping the failure as is.
func Map[T, U any](r SendResult[T], fn func(T) U) SendResult[U] {
	if r.kind == Success {
		return Succeed(fn(r.value))
	}
	return SendResult[U]{kind: r.kind, err: r.err, raw: r.raw}
}
