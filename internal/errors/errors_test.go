package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCapturesStack(t *testing.T) {
	err := New("something broke")
	assert.Equal(t, "something broke", err.Message)
	assert.NotEmpty(t, err.StackTrace())
}

func TestErrorfFormatsMessage(t *testing.T) {
	err := Errorf("port %d is busy", 8080)
	assert.Contains(t, err.Error(), "port 8080 is busy")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, "failed to load configuration")

	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to load configuration")
	assert.Contains(t, err.Error(), "connection refused")

	assert.Nil(t, Wrap(nil, "ignored"))
}

func TestWrapfAndContext(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrapf(cause, "attempt %d failed", 3).
		WithOperation("startup").
		WithComponent("config")

	assert.Contains(t, err.Error(), "attempt 3 failed")
	assert.Contains(t, err.Error(), "operation=startup")
	assert.Contains(t, err.Error(), "component=config")
}

func TestWrapDoesNotDoubleWrap(t *testing.T) {
	inner := New("original").WithComponent("config")
	outer := Wrap(inner, "new message")

	assert.Same(t, inner, outer)
	assert.Equal(t, "new message", outer.Message)
	assert.Equal(t, "config", outer.Component)
}
