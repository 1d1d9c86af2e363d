// Package pacer implements a retry pacer adapted from rclone's transfer
// pacer: exponential backoff with a decay/attack constant pair, used
// here for checkpoint fsync retries and transient accept-loop errors
// rather than remote-API rate limiting.
package pacer

import (
	"math/rand"
	"sync"
	"time"
)

// Pacer paces a sequence of retryable calls with exponential backoff.
type Pacer struct {
	mu             sync.Mutex
	minSleep       time.Duration
	maxSleep       time.Duration
	sleepTime      time.Duration
	retries        int
	decayConstant  uint
	attackConstant uint
}

// Option configures a Pacer at construction time.
type Option func(*Pacer)

// WithMinSleep sets the minimum backoff.
func WithMinSleep(d time.Duration) Option { return func(p *Pacer) { p.minSleep = d; p.sleepTime = d } }

// WithMaxSleep sets the maximum backoff.
func WithMaxSleep(d time.Duration) Option { return func(p *Pacer) { p.maxSleep = d } }

// WithRetries sets the maximum number of retries per Call.
func WithRetries(n int) Option { return func(p *Pacer) { p.retries = n } }

// New returns a Pacer with rclone-style defaults: 10ms min, 2s max,
// decay constant 2, attack constant 1, 3 retries.
func New(opts ...Option) *Pacer {
	p := &Pacer{
		minSleep:       10 * time.Millisecond,
		maxSleep:       2 * time.Second,
		decayConstant:  2,
		attackConstant: 1,
		retries:        3,
	}
	p.sleepTime = p.minSleep
	for _, o := range opts {
		o(p)
	}
	return p
}

// Call invokes fn, retrying with backoff while it returns (retry=true, err).
// fn returning (false, err) or (_, nil) ends the loop.
func (p *Pacer) Call(fn func() (retry bool, err error)) error {
	var err error
	for try := 0; try <= p.retries; try++ {
		var retry bool
		retry, err = fn()
		if !retry {
			p.attack()
			return err
		}
		p.decay()
		if try < p.retries {
			time.Sleep(p.jitter(p.currentSleep()))
		}
	}
	return err
}

func (p *Pacer) currentSleep() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sleepTime
}

// decay increases sleepTime towards maxSleep after a failed attempt.
func (p *Pacer) decay() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sleepTime *= time.Duration(p.decayConstant)
	if p.sleepTime > p.maxSleep {
		p.sleepTime = p.maxSleep
	}
	if p.sleepTime < p.minSleep {
		p.sleepTime = p.minSleep
	}
}

// attack decreases sleepTime towards minSleep after a successful attempt.
func (p *Pacer) attack() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attackConstant == 0 {
		p.sleepTime = p.minSleep
		return
	}
	p.sleepTime /= time.Duration(p.attackConstant + 1)
	if p.sleepTime < p.minSleep {
		p.sleepTime = p.minSleep
	}
}

func (p *Pacer) jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}
