package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlWaitIfPausedBlocksUntilResume(t *testing.T) {
	c := NewControl()
	c.Pause()

	done := make(chan error, 1)
	go func() { done <- c.WaitIfPaused(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitIfPaused returned while still paused")
	case <-time.After(30 * time.Millisecond):
	}

	c.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not unblock after Resume")
	}
}

func TestControlCancelUnblocksPausedWaiter(t *testing.T) {
	c := NewControl()
	c.Pause()
	done := make(chan error, 1)
	go func() { done <- c.WaitIfPaused(context.Background()) }()

	c.Cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not unblock after Cancel")
	}
	assert.True(t, c.Cancelled())
}

func TestControlCancelIsIdempotent(t *testing.T) {
	c := NewControl()
	c.Cancel()
	assert.NotPanics(t, func() { c.Cancel() })
	assert.True(t, c.Cancelled())
}

func TestControlWaitIfPausedRespectsContext(t *testing.T) {
	c := NewControl()
	c.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.WaitIfPaused(ctx)
	assert.Error(t, err)
}

func TestControlNotPausedReturnsImmediately(t *testing.T) {
	c := NewControl()
	require.NoError(t, c.WaitIfPaused(context.Background()))
}

func TestControlPauseAfterCancelIsNoOp(t *testing.T) {
	c := NewControl()
	c.Cancel()
	c.Pause()
	require.NoError(t, c.WaitIfPaused(context.Background()))
}
