package sign

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"caller-rpc/envelope"
	"caller-rpc/stub"
)

// Signer is the behavior a sign process serves.
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
	Verify(ctx context.Context, message, signature []byte) (bool, error)
}

// NewRouter serves s over the sign interface. Signer errors travel back as the
// Err arm of the result.
func NewRouter(s Signer) *stub.Router {
	r := stub.NewRouter()
	stub.Handle(r, SignMethod, func(ctx context.Context, msg envelope.Bytes) SignResult {
		sig, err := s.Sign(ctx, msg)
		if err != nil {
			return envelope.Err[envelope.Bytes](err.Error())
		}
		return envelope.Ok(envelope.Bytes(sig))
	})
	stub.Handle(r, VerifyMethod, func(ctx context.Context, args VerifyArgs) VerifyResult {
		ok, err := s.Verify(ctx, args.First, args.Second)
		if err != nil {
			return envelope.Err[bool](err.Error())
		}
		return envelope.Ok(ok)
	})
	return r
}

var ErrEmptyMessage = errors.New("sign: empty message")

// Ed25519Signer signs with a single ed25519 key.
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

func NewEd25519Signer(key ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{key: key}
}

func GenerateEd25519Signer() (*Ed25519Signer, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewEd25519Signer(key), nil
}

// LoadEd25519Signer reads a 32-byte seed from path.
func LoadEd25519Signer(path string) (*Ed25519Signer, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("sign: key file %s holds %d bytes, want %d", path, len(seed), ed25519.SeedSize)
	}
	return NewEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
}

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

func (s *Ed25519Signer) Sign(_ context.Context, message []byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, ErrEmptyMessage
	}
	return ed25519.Sign(s.key, message), nil
}

func (s *Ed25519Signer) Verify(_ context.Context, message, signature []byte) (bool, error) {
	if len(signature) != ed25519.SignatureSize {
		return false, fmt.Errorf("sign: signature is %d bytes, want %d", len(signature), ed25519.SignatureSize)
	}
	return ed25519.Verify(s.PublicKey(), message, signature), nil
}
