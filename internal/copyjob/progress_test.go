package copyjob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressSnapshotETASentinelWhenIdle(t *testing.T) {
	var p Progress
	p.WidenTotals(1000, 1)
	snap := p.Snapshot()
	assert.Equal(t, ETASentinel, snap.ETA)
	assert.Equal(t, int64(0), snap.BytesCopied)
	assert.Equal(t, int64(1000), snap.TotalBytesEstimate)
}

func TestWidenTotalsNeverLowers(t *testing.T) {
	var p Progress
	p.WidenTotals(500, 5)
	p.WidenTotals(100, 1) // smaller: ignored
	snap := p.Snapshot()
	assert.Equal(t, int64(500), snap.TotalBytesEstimate)
	assert.Equal(t, int64(5), snap.TotalFilesEstimate)

	p.WidenTotals(900, 9) // larger: applied
	snap = p.Snapshot()
	assert.Equal(t, int64(900), snap.TotalBytesEstimate)
}

func TestTickComputesPositiveThroughput(t *testing.T) {
	var p Progress
	p.SetWindow(100 * time.Millisecond)
	p.WidenTotals(1_000_000, 1)

	start := time.Now()
	p.Tick(start)
	p.AddBytes(500_000)
	p.Tick(start.Add(time.Second))

	snap := p.Snapshot()
	assert.Greater(t, snap.ThroughputBPS, 0.0)
	assert.NotEqual(t, ETASentinel, snap.ETA)
	assert.GreaterOrEqual(t, snap.ETA, time.Duration(0))
}

func TestAddBytesAndFilesAccumulate(t *testing.T) {
	var p Progress
	p.AddBytes(10)
	p.AddBytes(20)
	p.AddFiles(1)
	p.AddFiles(1)
	snap := p.Snapshot()
	assert.Equal(t, int64(30), snap.BytesCopied)
	assert.Equal(t, int64(2), snap.FilesCopied)
}
