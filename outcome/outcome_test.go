package outcome

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSucceed(t *testing.T) {
	r := Succeed(42)
	assert.Equal(t, Success, r.Kind())
	assert.True(t, r.IsSuccess())
	v, ok := r.Value()
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	assert.NoError(t, r.Err())
	assert.Nil(t, r.Raw())
}

func TestFailKinds(t *testing.T) {
	cause := errors.New("boom")
	sentinels := map[Kind]error{
		Timeout:         ErrTimeout,
		Unreachable:     ErrUnreachable,
		DeliveryFailure: ErrDeliveryFailure,
		DecodeFailure:   ErrDecode,
		Invalid:         ErrInvalid,
		Cancelled:       ErrCancelled,
	}
	for _, k := range Kinds() {
		if k == Success {
			continue
		}
		r := Fail[string](k, cause)
		assert.Equal(t, k, r.Kind())
		assert.False(t, r.IsSuccess())

		_, ok := r.Value()
		assert.False(t, ok, "%s must not report a value", k)

		err := r.Err()
		require.Error(t, err)
		assert.ErrorIs(t, err, sentinels[k])
		assert.ErrorIs(t, err, cause)
		for other, sentinel := range sentinels {
			if other != k {
				assert.NotErrorIs(t, err, sentinel, "%s matched %s", k, other)
			}
		}

		var oe *Error
		require.ErrorAs(t, err, &oe)
		assert.Equal(t, k, oe.Kind)
	}
}

func TestZeroValueIsNotSuccess(t *testing.T) {
	var r SendResult[int]
	assert.Equal(t, Unset, r.Kind())
	assert.False(t, r.IsSuccess())
	_, ok := r.Value()
	assert.False(t, ok)
	assert.ErrorIs(t, r.Err(), ErrUnset)
	_, err := r.Unwrap()
	assert.Error(t, err)
	assert.Equal(t, "result not set", r.String())
	assert.NotContains(t, Kinds(), Unset)

	m := Map(r, func(v int) string { return "never" })
	_, ok = m.Value()
	assert.False(t, ok)
	assert.ErrorIs(t, m.Err(), ErrUnset)
}

func TestFailRejectsSuccess(t *testing.T) {
	assert.Panics(t, func() { Fail[int](Success, nil) })
	assert.Panics(t, func() { Fail[int](Unset, nil) })
	assert.Panics(t, func() { Fail[int](Kind(99), nil) })
}

func TestUndecodableKeepsRaw(t *testing.T) {
	raw := []byte("not json")
	r := Undecodable[int](raw, errors.New("syntax"))
	raw[0] = 'X'
	assert.Equal(t, DecodeFailure, r.Kind())
	assert.Equal(t, []byte("not json"), r.Raw())
	assert.ErrorIs(t, r.Err(), ErrDecode)
}

func TestUnwrap(t *testing.T) {
	v, err := Succeed("ok").Unwrap()
	assert.NoError(t, err)
	assert.Equal(t, "ok", v)

	v, err = Fail[string](Timeout, nil).Unwrap()
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, v)
	assert.Equal(t, "call timed out", err.Error())
}

func TestMap(t *testing.T) {
	n := Map(Succeed("abc"), func(s string) int { return len(s) })
	v, ok := n.Value()
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	f := Map(Undecodable[string]([]byte("x"), nil), func(s string) int { return len(s) })
	assert.Equal(t, DecodeFailure, f.Kind())
	assert.Equal(t, []byte("x"), f.Raw())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "timeout", Timeout.String())
	assert.Equal(t, "unset", Unset.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}
