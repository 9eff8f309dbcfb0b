// Package sign is the caller and serving side of the sign interface: a
// process that signs messages with its node key and verifies signatures.
//
// Only the local bus binding exists. HTTP-facing variants of these methods are
// not implemented and deliberately absent.
package sign

import (
	"context"

	"caller-rpc/address"
	"caller-rpc/dispatch"
	"caller-rpc/envelope"
	"caller-rpc/outcome"
	"caller-rpc/stub"
)

type (
	SignResult   = envelope.Result[envelope.Bytes]
	VerifyResult = envelope.Result[bool]
	VerifyArgs   = envelope.Tuple2[envelope.Bytes, envelope.Bytes]
)

// InterfaceVersion is advertised by nodes hosting the sign process, so callers
// can constrain on it.
const InterfaceVersion = "1.0.0"

var (
	SignMethod   = stub.NewMethod[envelope.Bytes, SignResult]("Sign")
	VerifyMethod = stub.NewMethod[VerifyArgs, VerifyResult]("Verify")
)

// Sign asks the sign process at target to sign message.
func Sign(ctx context.Context, c *dispatch.Caller, target address.Address, message []byte, opts ...stub.CallOption) outcome.SendResult[SignResult] {
	return stub.Call(ctx, c, target, SignMethod, envelope.Bytes(message), opts...)
}

// Verify asks the sign process at target whether signature is valid for message.
func Verify(ctx context.Context, c *dispatch.Caller, target address.Address, message, signature []byte, opts ...stub.CallOption) outcome.SendResult[VerifyResult] {
	return stub.Call(ctx, c, target, VerifyMethod, envelope.Pair(envelope.Bytes(message), envelope.Bytes(signature)), opts...)
}
