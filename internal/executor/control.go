package executor

import (
	"context"
	"sync"
)

// Control is the scheduler-to-executor signalling surface: pause is a
// gate the executor awaits at chunk boundaries, cancel is a one-shot
// signal (spec §5 Cancellation, §3 Ownership).
type Control struct {
	mu        sync.Mutex
	paused    bool
	resumeCh  chan struct{}
	cancelCh  chan struct{}
	cancelled bool
}

// NewControl returns a running, unpaused Control.
func NewControl() *Control {
	return &Control{cancelCh: make(chan struct{})}
}

// Pause marks the job paused; the executor observes this at the next
// chunk boundary (spec §4.8).
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || c.cancelled {
		return
	}
	c.paused = true
	c.resumeCh = make(chan struct{})
}

// Resume clears the pause gate, releasing any waiter in WaitIfPaused.
func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.resumeCh)
}

// Cancel is idempotent and safe to call more than once.
func (c *Control) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.cancelled = true
	close(c.cancelCh)
	if c.paused {
		c.paused = false
		close(c.resumeCh)
	}
}

// Cancelled reports whether Cancel has been called.
func (c *Control) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Done returns a channel closed once Cancel is called.
func (c *Control) Done() <-chan struct{} { return c.cancelCh }

// WaitIfPaused blocks while the job is paused, returning early if ctx
// is cancelled or the job itself is cancelled (spec §4.7: "honoring
// pause/cancel between chunks").
func (c *Control) WaitIfPaused(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.paused {
			c.mu.Unlock()
			return nil
		}
		ch := c.resumeCh
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.cancelCh:
			return nil
		}
	}
}
