package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v-t-p/copyd/internal/copyjob"
)

func fillChannel(a *Aggregator) {
	for len(a.out) < cap(a.out) {
		a.out <- Event{Kind: EventLog, Message: "filler"}
	}
}

func TestPublishProgressDropsOldestOnOverflow(t *testing.T) {
	prog := &copyjob.Progress{}
	a := New(copyjob.NewID(), prog, time.Hour)
	fillChannel(a)
	require.Equal(t, DefaultChannelSize, len(a.out))

	a.publishProgress() // must not block: drops the oldest filler to make room

	assert.Equal(t, DefaultChannelSize, len(a.out))
	var sawProgress bool
	for n := len(a.out); n > 0; n-- {
		if ev := <-a.out; ev.Kind == EventProgress {
			sawProgress = true
		}
	}
	assert.True(t, sawProgress)
}

func TestPublishStatusTerminalBlocksUntilDelivered(t *testing.T) {
	prog := &copyjob.Progress{}
	a := New(copyjob.NewID(), prog, time.Hour)
	fillChannel(a)

	done := make(chan struct{})
	go func() {
		a.PublishStatus(context.Background(), copyjob.Completed)
		close(done)
	}()

	// Drain one slot so the blocked send can land.
	<-a.out
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal PublishStatus did not unblock after room was made")
	}

	var sawTerminal bool
	for n := len(a.out); n > 0; n-- {
		if ev := <-a.out; ev.Kind == EventStatusChange && ev.Terminal {
			sawTerminal = true
		}
	}
	assert.True(t, sawTerminal)
}

func TestPublishStatusNonTerminalDropsSilentlyWhenFull(t *testing.T) {
	prog := &copyjob.Progress{}
	a := New(copyjob.NewID(), prog, time.Hour)
	fillChannel(a)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	a.PublishStatus(ctx, copyjob.Running) // non-terminal, must not block
	assert.Equal(t, DefaultChannelSize, len(a.out))
}

func TestRunPublishesOnTick(t *testing.T) {
	prog := &copyjob.Progress{}
	a := New(copyjob.NewID(), prog, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	a.Run(ctx)

	select {
	case ev := <-a.Events():
		assert.Equal(t, EventProgress, ev.Kind)
	default:
		t.Fatal("expected at least one published progress event")
	}
}
