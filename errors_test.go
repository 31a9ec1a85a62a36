package dgstream

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	e := NewError("pool.acquire", ErrTimeout, "acquire deadline exceeded", cause)

	assert.Equal(t, "pool.acquire", e.Op)
	assert.Equal(t, ErrTimeout, e.Code)
	assert.Equal(t, "acquire deadline exceeded", e.Message)
	assert.Equal(t, cause, e.Err)
}

func TestNewError_NilCause(t *testing.T) {
	e := NewError("pooledsession.activate", ErrIllegalState, "not idle", nil)
	assert.Nil(t, e.Err)
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with_cause",
			err:  NewError("pool.acquire", ErrTimeout, "deadline exceeded", fmt.Errorf("poll exhausted")),
			want: "pool.acquire [timeout]: deadline exceeded: poll exhausted",
		},
		{
			name: "without_cause",
			err:  NewError("pool.close", ErrIllegalState, "already shut down", nil),
			want: "pool.close [illegal_state]: already shut down",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	e := NewError("session.connect", ErrTransport, "dial failed", cause)
	assert.ErrorIs(t, e, cause)
}

func TestError_Is(t *testing.T) {
	e1 := NewError("pool.acquire", ErrTimeout, "a", nil)
	e2 := NewError("pool.acquire.retry", ErrTimeout, "b", nil)
	e3 := NewError("pool.close", ErrIllegalState, "c", nil)

	assert.True(t, errors.Is(e1, e2))
	assert.False(t, errors.Is(e1, e3))
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(NewError("pool.acquire", ErrTimeout, "x", nil)))
	require.True(t, IsRetryable(NewError("session.send", ErrTransport, "x", nil)))
	require.False(t, IsRetryable(NewError("pool.new", ErrInvalidArgument, "x", nil)))
	require.False(t, IsRetryable(errors.New("plain error")))
}
