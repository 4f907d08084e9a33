package errors

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeString(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrUnexpectedState, "UnexpectedState"},
		{ErrPeerDisconnected, "PeerDisconnected"},
		{ErrPeerCrashed, "PeerCrashed"},
		{ErrProtocol, "Protocol"},
		{ErrorCode(42), "Unknown(42)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.String())
		})
	}
}

func TestZeroCopyError_Is(t *testing.T) {
	err := NewProtocolError("duplicate slot 3")

	assert.True(t, errors.Is(err, Protocol))
	assert.False(t, errors.Is(err, PeerCrashed))

	wrapped := fmt.Errorf("receive slot: %w", err)
	assert.True(t, IsProtocol(wrapped))
	assert.False(t, IsUnexpectedState(wrapped))
}

func TestZeroCopyError_Unwrap(t *testing.T) {
	err := NewPeerCrashedError("send failed", syscall.EPIPE)

	assert.True(t, errors.Is(err, syscall.EPIPE))
	assert.True(t, IsPeerCrashed(err))
	assert.Equal(t, "PeerCrashed: send failed: broken pipe", err.Error())
}

func TestCodeOf(t *testing.T) {
	code, ok := CodeOf(fmt.Errorf("ctx: %w", NewPeerDisconnectedError("bye")))
	assert.True(t, ok)
	assert.Equal(t, ErrPeerDisconnected, code)

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestNewUnexpectedStateError(t *testing.T) {
	err := NewUnexpectedStateError("Connect", "Connected")
	assert.Equal(t, "UnexpectedState: Connect not allowed in state Connected", err.Error())
	assert.True(t, IsUnexpectedState(err))
}
