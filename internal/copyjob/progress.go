package copyjob

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Progress folds per-chunk deltas into the counters a client reads from
// a job_status or progress event (spec §3, §4.6). Byte/file counters
// and the total estimates are atomics so the executor's hot loop and the
// estimator never block on a lock; the EWMA throughput state is guarded
// by mu since it is only touched by the single aggregator writer and
// occasional readers.
type Progress struct {
	bytesCopied  int64
	filesCopied  int64
	totalBytes   int64
	totalFiles   int64

	mu         sync.Mutex
	throughput float64 // bytes/sec, EWMA
	window     time.Duration
	lastSample time.Time
	lastBytes  int64
}

// Snapshot is an immutable view of Progress for publishing as an event.
type Snapshot struct {
	BytesCopied        int64
	FilesCopied        int64
	TotalBytesEstimate int64
	TotalFilesEstimate int64
	ThroughputBPS      float64
	ETA                time.Duration
}

// EWMA window default (spec §4.6).
const DefaultThroughputWindow = 2 * time.Second

// AddBytes records n bytes transferred. Safe for concurrent callers.
func (p *Progress) AddBytes(n int64) { atomic.AddInt64(&p.bytesCopied, n) }

// AddFiles records n files completed.
func (p *Progress) AddFiles(n int64) { atomic.AddInt64(&p.filesCopied, n) }

// WidenTotals raises the total estimates, never lowering them; the
// estimator pass may discover more work than an earlier pass guessed,
// and bytes_copied exceeding an earlier total is not a violated
// invariant (spec §3) — the aggregator widens rather than clamps.
func (p *Progress) WidenTotals(bytes, files int64) {
	for {
		old := atomic.LoadInt64(&p.totalBytes)
		if bytes <= old || atomic.CompareAndSwapInt64(&p.totalBytes, old, bytes) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&p.totalFiles)
		if files <= old || atomic.CompareAndSwapInt64(&p.totalFiles, old, files) {
			break
		}
	}
}

// Tick recomputes the EWMA throughput sample. Callers (the aggregator)
// invoke this periodically, not per chunk, to keep the average stable.
func (p *Progress) Tick(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.window == 0 {
		p.window = DefaultThroughputWindow
	}
	bytes := atomic.LoadInt64(&p.bytesCopied)
	if p.lastSample.IsZero() {
		p.lastSample = now
		p.lastBytes = bytes
		return
	}
	elapsed := now.Sub(p.lastSample).Seconds()
	if elapsed <= 0 {
		return
	}
	instant := float64(bytes-p.lastBytes) / elapsed
	alpha := 1 - math.Exp(-elapsed/p.window.Seconds())
	p.throughput = p.throughput + alpha*(instant-p.throughput)
	p.lastSample = now
	p.lastBytes = bytes
}

// SetWindow overrides the default EWMA window.
func (p *Progress) SetWindow(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.window = d
}

// ETASentinel is returned when throughput is zero (spec §4.6).
const ETASentinel = -1 * time.Second

// Snapshot returns a consistent-enough view for publishing.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	throughput := p.throughput
	p.mu.Unlock()

	bytesCopied := atomic.LoadInt64(&p.bytesCopied)
	totalBytes := atomic.LoadInt64(&p.totalBytes)

	eta := ETASentinel
	if throughput > 0 {
		remaining := float64(totalBytes - bytesCopied)
		if remaining < 0 {
			remaining = 0
		}
		eta = time.Duration(remaining / throughput * float64(time.Second))
		if eta < 0 {
			eta = 0
		}
	}

	return Snapshot{
		BytesCopied:        bytesCopied,
		FilesCopied:        atomic.LoadInt64(&p.filesCopied),
		TotalBytesEstimate: totalBytes,
		TotalFilesEstimate: atomic.LoadInt64(&p.totalFiles),
		ThroughputBPS:      throughput,
		ETA:                eta,
	}
}
