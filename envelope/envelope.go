// Package envelope converts method calls to and from the bus payload format.
//
// A request body is a single-key JSON object mapping the method tag to its
// argument value. One argument is carried directly, several are carried as an
// ordered array under the one tag:
//
//	{"Sign":   [104,101,108,108,111]}
//	{"Verify": [[104,101,108,108,111],[7,7,7]]}
//
// The receiving process dispatches purely on the tag, so both ends must agree
// on the schema. Replies are the bare JSON encoding of the result type.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrEmptyTag    = errors.New("envelope: empty method tag")
	ErrNotEnvelope = errors.New("envelope: payload is not a single-key object")
	ErrTrailing    = errors.New("envelope: trailing data after value")
)

// DecodeError reports bytes that do not parse into the expected type.
// Raw keeps a copy of the offending payload for diagnostics.
type DecodeError struct {
	Raw   []byte
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("envelope: decode %d bytes: %v", len(e.Raw), e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Encode builds the envelope for tag carrying data.
func Encode(tag string, data any) ([]byte, error) {
	if tag == "" {
		return nil, ErrEmptyTag
	}
	body, err := json.Marshal(map[string]any{tag: data})
	if err != nil {
		return nil, fmt.Errorf("envelope: encode %s: %w", tag, err)
	}
	return body, nil
}

// Open splits an envelope into its tag and the still-encoded data.
func Open(data []byte) (string, json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := strictUnmarshal(data, &m); err != nil {
		return "", nil, &DecodeError{Raw: bytes.Clone(data), Cause: err}
	}
	if len(m) != 1 {
		return "", nil, &DecodeError{Raw: bytes.Clone(data), Cause: ErrNotEnvelope}
	}
	var (
		tag string
		raw json.RawMessage
	)
	for tag, raw = range m {
	}
	if tag == "" {
		return "", nil, &DecodeError{Raw: bytes.Clone(data), Cause: ErrEmptyTag}
	}
	return tag, raw, nil
}

// Decode parses data into a T. Unknown object fields and trailing bytes are
// rejected so that a payload of the wrong shape is a *DecodeError rather than a
// silently zeroed value.
func Decode[T any](data []byte) (T, error) {
	var v T
	if err := strictUnmarshal(data, &v); err != nil {
		var zero T
		return zero, &DecodeError{Raw: bytes.Clone(data), Cause: err}
	}
	return v, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return ErrTrailing
	}
	return nil
}
