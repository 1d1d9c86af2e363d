// Package progress implements the per-job progress aggregator (spec
// §4.6): a single writer folds per-chunk deltas into copyjob.Progress
// and publishes Snapshot events on a bounded channel, dropping the
// oldest intermediate progress event on overflow while never dropping
// a terminal status event.
package progress

import (
	"context"
	"time"

	"github.com/v-t-p/copyd/internal/copyjob"
)

// EventKind tags the three JobEvent variants of spec §6.
type EventKind int

const (
	EventProgress EventKind = iota
	EventLog
	EventStatusChange
)

// Event is one item on a job's event stream.
type Event struct {
	JobID     copyjob.ID
	Kind      EventKind
	Progress  copyjob.Snapshot
	Message   string
	Status    copyjob.Status
	Terminal  bool
}

// Aggregator owns the single writer side of a job's event channel.
type Aggregator struct {
	jobID    copyjob.ID
	prog     *copyjob.Progress
	out      chan Event
	interval time.Duration
}

// DefaultChannelSize bounds the per-job event channel (spec §4.6).
const DefaultChannelSize = 64

// New returns an Aggregator publishing prog's snapshots for jobID.
func New(jobID copyjob.ID, prog *copyjob.Progress, tickInterval time.Duration) *Aggregator {
	if tickInterval <= 0 {
		tickInterval = 250 * time.Millisecond
	}
	return &Aggregator{
		jobID:    jobID,
		prog:     prog,
		out:      make(chan Event, DefaultChannelSize),
		interval: tickInterval,
	}
}

// Events returns the read side of the event channel.
func (a *Aggregator) Events() <-chan Event { return a.out }

// Run ticks the progress snapshot and publishes it until ctx is done.
// It does not close the channel (terminal events may still need to be
// published by the executor after Run returns).
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.prog.Tick(now)
			a.publishProgress()
		}
	}
}

// publishProgress sends a non-terminal progress snapshot, dropping the
// oldest queued event to make room if the channel is full (spec §4.6:
// "overflow drops the oldest intermediate progress").
func (a *Aggregator) publishProgress() {
	ev := Event{JobID: a.jobID, Kind: EventProgress, Progress: a.prog.Snapshot()}
	select {
	case a.out <- ev:
		return
	default:
	}
	select {
	case <-a.out:
	default:
	}
	select {
	case a.out <- ev:
	default:
		// Channel refilled concurrently by the time we retried; drop
		// this sample, a fresher one follows on the next tick.
	}
}

// PublishLog sends a log-line event, subject to the same drop-oldest
// overflow policy as progress events.
func (a *Aggregator) PublishLog(msg string) {
	ev := Event{JobID: a.jobID, Kind: EventLog, Message: msg}
	select {
	case a.out <- ev:
		return
	default:
	}
	select {
	case <-a.out:
	default:
	}
	select {
	case a.out <- ev:
	default:
	}
}

// PublishStatus sends a terminal or intermediate status-change event.
// Terminal events are never dropped (spec §4.6): it blocks until
// delivered or ctx is cancelled.
func (a *Aggregator) PublishStatus(ctx context.Context, status copyjob.Status) {
	ev := Event{JobID: a.jobID, Kind: EventStatusChange, Status: status, Terminal: status.Terminal()}
	if !ev.Terminal {
		select {
		case a.out <- ev:
		default:
		}
		return
	}
	select {
	case a.out <- ev:
	case <-ctx.Done():
	}
}
