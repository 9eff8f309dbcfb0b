package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var null = []byte("null")

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), null)
}

// Bytes is a byte string that travels as an array of numbers, the way the
// receiving processes serialize Vec<u8>, instead of encoding/json's base64.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 2+len(b)*4)
	buf = append(buf, '[')
	for i, c := range b {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendUint(buf, uint64(c), 10)
	}
	return append(buf, ']'), nil
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return errors.New("envelope: null is not a byte array")
	}
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	out := make(Bytes, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("envelope: byte %d out of range: %d", i, n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

// RemoteError is the Err arm of a Result: the remote method ran and reported a
// failure of its own. It is not a transport error.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote: " + e.Message
}

// Result mirrors the externally tagged {"Ok": v} / {"Err": "msg"} encoding
// that remote methods use for fallible results.
type Result[T any] struct {
	value T
	err   *RemoteError
}

func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

func Err[T any](msg string) Result[T] {
	return Result[T]{err: &RemoteError{Message: msg}}
}

func (r Result[T]) IsOk() bool {
	return r.err == nil
}

// Get returns the Ok value, or a *RemoteError for the Err arm.
func (r Result[T]) Get() (T, error) {
	if r.err != nil {
		var zero T
		return zero, r.err
	}
	return r.value, nil
}

func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.err != nil {
		return json.Marshal(map[string]string{"Err": r.err.Message})
	}
	return json.Marshal(map[string]T{"Ok": r.value})
}

func (r *Result[T]) UnmarshalJSON(data []byte) error {
	tag, raw, err := Open(data)
	if err != nil {
		return err
	}
	switch tag {
	case "Ok":
		var v T
		if err := strictUnmarshal(raw, &v); err != nil {
			return err
		}
		*r = Ok(v)
	case "Err":
		var msg string
		if err := strictUnmarshal(raw, &msg); err != nil {
			return err
		}
		*r = Err[T](msg)
	default:
		return fmt.Errorf("envelope: unknown result variant %q", tag)
	}
	return nil
}

// Unit is the argument of a method that takes none. It travels as null.
type Unit struct{}

func (Unit) MarshalJSON() ([]byte, error) {
	return null, nil
}

func (*Unit) UnmarshalJSON(data []byte) error {
	if !isNull(data) {
		return errors.New("envelope: unit expects null")
	}
	return nil
}

// Tuple2 carries two ordered arguments as a JSON array.
type Tuple2[A, B any] struct {
	First  A
	Second B
}

func Pair[A, B any](a A, b B) Tuple2[A, B] {
	return Tuple2[A, B]{First: a, Second: b}
}

func (t Tuple2[A, B]) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{t.First, t.Second})
}

func (t *Tuple2[A, B]) UnmarshalJSON(data []byte) error {
	raw, err := splitTuple(data, 2)
	if err != nil {
		return err
	}
	if err := strictUnmarshal(raw[0], &t.First); err != nil {
		return err
	}
	return strictUnmarshal(raw[1], &t.Second)
}

// Tuple3 carries three ordered arguments as a JSON array.
type Tuple3[A, B, C any] struct {
	First  A
	Second B
	Third  C
}

func Triple[A, B, C any](a A, b B, c C) Tuple3[A, B, C] {
	return Tuple3[A, B, C]{First: a, Second: b, Third: c}
}

func (t Tuple3[A, B, C]) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{t.First, t.Second, t.Third})
}

func (t *Tuple3[A, B, C]) UnmarshalJSON(data []byte) error {
	raw, err := splitTuple(data, 3)
	if err != nil {
		return err
	}
	if err := strictUnmarshal(raw[0], &t.First); err != nil {
		return err
	}
	if err := strictUnmarshal(raw[1], &t.Second); err != nil {
		return err
	}
	return strictUnmarshal(raw[2], &t.Third)
}

func splitTuple(data []byte, n int) ([]json.RawMessage, error) {
	if isNull(data) {
		return nil, fmt.Errorf("envelope: null is not a %d-tuple", n)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw) != n {
		return nil, fmt.Errorf("envelope: expected %d-tuple, got %d elements", n, len(raw))
	}
	return raw, nil
}
