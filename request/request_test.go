package request

import (
	"testing"
	"time"

	"caller-rpc/address"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var target = address.New("alice.os", "sign:sign:sys")

func TestBuild(t *testing.T) {
	body := []byte(`{"Sign":[1]}`)
	req, err := To(target).Method("Sign").Body(body).Timeout(2 * time.Second).Build()
	require.NoError(t, err)

	assert.Equal(t, target, req.Target())
	assert.Equal(t, "Sign", req.Method())
	assert.True(t, req.ExpectsResponse())
	d, ok := req.Timeout()
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	// The request owns its body.
	body[0] = 'X'
	got := req.Body()
	assert.Equal(t, byte('{'), got[0])
	got[0] = 'Y'
	assert.Equal(t, byte('{'), req.Body()[0])
}

func TestBuildDefaults(t *testing.T) {
	req, err := To(target).Body([]byte("x")).Build()
	require.NoError(t, err)
	_, ok := req.Timeout()
	assert.False(t, ok)
	assert.True(t, req.ExpectsResponse())
}

func TestBuildFireAndForget(t *testing.T) {
	req, err := To(target).Body([]byte("x")).ExpectsResponse(false).Build()
	require.NoError(t, err)
	assert.False(t, req.ExpectsResponse())
}

func TestBuildErrors(t *testing.T) {
	cases := []struct {
		name string
		b    *Builder
		want error
	}{
		{"zero target", To(address.Address{}).Body([]byte("x")), ErrInvalidTarget},
		{"missing process", To(address.New("n", "")).Body([]byte("x")), address.ErrMissingProcess},
		{"missing body", To(target), ErrMissingBody},
		{"zero timeout", To(target).Body([]byte("x")).Timeout(0), ErrInvalidTimeout},
		{"negative timeout", To(target).Body([]byte("x")).Timeout(-time.Second), ErrInvalidTimeout},
		{"timeout without reply", To(target).Body([]byte("x")).Timeout(time.Second).ExpectsResponse(false), ErrTimeoutWithoutReply},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := tc.b.Build()
			assert.Nil(t, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
