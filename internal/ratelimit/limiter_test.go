package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimitedNeverBlocks(t *testing.T) {
	l := Unlimited()
	assert.False(t, l.Limited())
	require.NoError(t, l.WaitN(context.Background(), 1<<30))
}

func TestNewWithNonPositiveRateIsUnlimited(t *testing.T) {
	l := New(0)
	assert.False(t, l.Limited())
	l2 := New(-5)
	assert.False(t, l2.Limited())
}

func TestCapacityMatchesOneSecondOfRefill(t *testing.T) {
	l := New(1000)
	assert.True(t, l.Limited())
	assert.Equal(t, int64(1000), l.Capacity())
}

func TestWaitNSplitsOversizedRequests(t *testing.T) {
	l := New(100) // 100 bytes/sec, burst 100
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err := l.WaitN(ctx, 250) // 3 chunks (100, 100, 50): ~1.5s minimum after the initial free burst
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestSetBytesPerSecDisablesAndEnablesCap(t *testing.T) {
	l := New(100)
	l.SetBytesPerSec(0)
	assert.False(t, l.Limited())
	l.SetBytesPerSec(50)
	assert.True(t, l.Limited())
	assert.Equal(t, int64(50), l.Capacity())
}

func TestPairWaitNConsultsBothTiers(t *testing.T) {
	pair := Pair{Global: New(1000), PerJob: New(1000)}
	require.NoError(t, pair.WaitN(context.Background(), 10))

	empty := Pair{}
	require.NoError(t, empty.WaitN(context.Background(), 10))
}

func TestWaitNRespectsContextCancellation(t *testing.T) {
	l := New(1) // 1 byte/sec, forces a long wait
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.WaitN(ctx, 1000)
	assert.Error(t, err)
}
