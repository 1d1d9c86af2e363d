package errs

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	err := Wrap(IO, "read", "/tmp/x", errors.New("boom"))
	assert.Equal(t, IO, KindOf(err))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
}

func TestErrorMessageIncludesSyscallAndPath(t *testing.T) {
	err := Wrap(IO, "write", "/tmp/x", errors.New("disk full"))
	assert.Contains(t, err.Error(), "write")
	assert.Contains(t, err.Error(), "/tmp/x")
	assert.Contains(t, err.Error(), "disk full")
}

func TestRetriableDetectsEINTRAndEAGAIN(t *testing.T) {
	assert.True(t, Retriable(syscall.EINTR))
	assert.True(t, Retriable(syscall.EAGAIN))
	assert.False(t, Retriable(syscall.ENOENT))
	assert.False(t, Retriable(errors.New("not an errno")))
}

func TestNotApplicableDetectsExpectedErrnos(t *testing.T) {
	assert.True(t, NotApplicable(syscall.ENOTSUP))
	assert.True(t, NotApplicable(syscall.EXDEV))
	assert.False(t, NotApplicable(syscall.EINVAL))
	assert.True(t, NotApplicable(ErrNotApplicable))
	assert.False(t, NotApplicable(syscall.ENOENT))
}

func TestSkipAllowed(t *testing.T) {
	assert.True(t, SkipAllowed(syscall.ENOENT, false))
	assert.True(t, SkipAllowed(errors.New("anything"), true))
	assert.False(t, SkipAllowed(errors.New("anything"), false))
}

func TestCauseReturnsInnermostError(t *testing.T) {
	inner := errors.New("inner")
	err := New(Internal, inner)
	assert.Equal(t, inner, err.Cause())
	assert.Equal(t, inner, errors.Unwrap(err))
}
