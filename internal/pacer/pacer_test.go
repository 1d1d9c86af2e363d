package pacer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallSucceedsImmediately(t *testing.T) {
	p := New(WithMinSleep(time.Millisecond), WithMaxSleep(10*time.Millisecond))
	calls := 0
	err := p.Call(func() (bool, error) {
		calls++
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCallRetriesUntilSuccess(t *testing.T) {
	p := New(WithMinSleep(time.Millisecond), WithMaxSleep(5*time.Millisecond), WithRetries(5))
	calls := 0
	err := p.Call(func() (bool, error) {
		calls++
		if calls < 3 {
			return true, errors.New("transient")
		}
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestCallExhaustsRetries(t *testing.T) {
	p := New(WithMinSleep(time.Millisecond), WithMaxSleep(5*time.Millisecond), WithRetries(2))
	calls := 0
	wantErr := errors.New("always fails")
	err := p.Call(func() (bool, error) {
		calls++
		return true, wantErr
	})
	assert.Equal(t, wantErr, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestCallStopsOnNonRetriableError(t *testing.T) {
	p := New(WithMinSleep(time.Millisecond), WithRetries(5))
	calls := 0
	wantErr := errors.New("fatal")
	err := p.Call(func() (bool, error) {
		calls++
		return false, wantErr
	})
	assert.Equal(t, wantErr, err)
	assert.Equal(t, 1, calls)
}

func TestSleepTimeBoundedByMax(t *testing.T) {
	p := New(WithMinSleep(time.Millisecond), WithMaxSleep(4*time.Millisecond), WithRetries(10))
	for i := 0; i < 10; i++ {
		p.decay()
	}
	assert.LessOrEqual(t, p.currentSleep(), 4*time.Millisecond)
}

func TestAttackResetsTowardsMin(t *testing.T) {
	p := New(WithMinSleep(time.Millisecond), WithMaxSleep(100*time.Millisecond))
	p.decay()
	p.decay()
	p.decay()
	before := p.currentSleep()
	p.attack()
	assert.Less(t, p.currentSleep(), before)
}
