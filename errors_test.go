package ltx

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewErrorFormatsMessage(t *testing.T) {
	err := NewError("register", ErrCodeProtocolViolation, "unknown message type")
	assert.Equal(t, "ltx: unknown message type (op=register)", err.Error())
}

func TestNewChildErrorIncludesTableID(t *testing.T) {
	err := NewChildError("exec", 5, ErrCodeResourceExhausted, "table full")
	assert.Equal(t, "ltx: table full (op=exec)", err.Error())
	assert.Equal(t, 5, err.TableID)
}

func TestWrapErrorMapsErrno(t *testing.T) {
	err := WrapError("write stdout", syscall.EPIPE)
	assert.Equal(t, ErrCodePeerHangup, err.Code)
	assert.Equal(t, syscall.EPIPE, err.Errno)
}

func TestWrapErrorPreservesStructuredError(t *testing.T) {
	inner := NewError("sendfile", ErrCodeSyscallFailure, "short write")
	wrapped := WrapError("get_file", inner)
	assert.Equal(t, ErrCodeSyscallFailure, wrapped.Code)
	assert.Equal(t, "get_file", wrapped.Op)
}

func TestIsCodeMatchesThroughWrap(t *testing.T) {
	err := NewError("decode", ErrCodeProtocolViolation, "bad arity")
	assert.True(t, IsCode(err, ErrCodeProtocolViolation))
	assert.False(t, IsCode(err, ErrCodeSyscallFailure))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeProtocolViolation))
}

func TestErrorIsComparesCode(t *testing.T) {
	a := NewError("x", ErrCodeProtocolViolation, "a")
	b := NewError("y", ErrCodeProtocolViolation, "b")
	c := NewError("z", ErrCodeSyscallFailure, "c")
	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}
