package colerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CapturesStack(t *testing.T) {
	err := New(ErrorTypeConfig, "bad quoting")
	assert.Equal(t, ErrorTypeConfig, err.Type)
	assert.Equal(t, "bad quoting", err.Message)
	assert.NotEmpty(t, err.Stack)
	assert.Equal(t, "config: bad quoting", err.Error())
}

func TestWrap_NilErrReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeIO, "unreachable"))
}

func TestWrap_WrapsPlainError(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, ErrorTypeIO, "failed to write page")
	require.NotNil(t, err)
	assert.Equal(t, ErrorTypeIO, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestWrap_PreservesStackOfExistingError(t *testing.T) {
	inner := New(ErrorTypeParse, "field too long")
	outer := Wrap(inner, ErrorTypeWorker, "task failed")
	assert.Equal(t, inner.Stack, outer.Stack)
}

func TestWithDetail_Chains(t *testing.T) {
	err := New(ErrorTypeConfig, "missing columns").WithDetail("columns", []string{"x"})
	assert.Equal(t, []string{"x"}, err.Details["columns"])
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeIntegrity, "pass-2 mismatch")
	assert.True(t, IsType(err, ErrorTypeIntegrity))
	assert.False(t, IsType(err, ErrorTypeIO))
	assert.False(t, IsType(fmt.Errorf("plain"), ErrorTypeIntegrity))
}

func TestIsRetryable_AlwaysFalse(t *testing.T) {
	assert.False(t, IsRetryable(New(ErrorTypeIO, "short read")))
	assert.False(t, IsRetryable(errors.New("anything")))
}
