// Package scheduler admits, queues, and runs jobs against the
// daemon-wide concurrency cap (spec §4.8), the way rclone's fs/rc/jobs
// package tracks a registry of running async jobs, generalized here to
// a priority queue with a bounded backlog.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/v-t-p/copyd/internal/checkpoint"
	"github.com/v-t-p/copyd/internal/copyjob"
	"github.com/v-t-p/copyd/internal/engine"
	"github.com/v-t-p/copyd/internal/executor"
	"github.com/v-t-p/copyd/internal/progress"
	"github.com/v-t-p/copyd/internal/ratelimit"
	"github.com/v-t-p/copyd/internal/security"
)

// ErrQueueFull is returned by Submit when the backlog is at capacity
// (spec §4.8, §7).
var ErrQueueFull = fmt.Errorf("scheduler: job queue is full")

// ErrNotFound is returned by job-control operations given an unknown id.
var ErrNotFound = fmt.Errorf("scheduler: job not found")

// entry is one item on the priority-ordered pending heap.
type entry struct {
	job   *copyjob.Job
	index int
}

// pendingHeap orders by priority descending, then submission time
// ascending, implementing container/heap.Interface (spec §4.8).
type pendingHeap []*entry

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].job.SubmittedAt.Before(h[j].job.SubmittedAt)
}
func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *pendingHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// running tracks a job currently executing, along with the Control
// handle the scheduler uses to pause/cancel it.
type running struct {
	job  *copyjob.Job
	exec *executor.Executor
}

// Config carries the tunables the scheduler itself needs, distinct from
// the per-job executor.Config (spec §6).
type Config struct {
	MaxConcurrentJobs int
	MaxQueueSize      int
	JobHistoryTTL     time.Duration
	ExecutorConfig    executor.Config
}

// Scheduler admits jobs, runs up to Config.MaxConcurrentJobs of them
// concurrently, and retains terminal jobs for JobHistoryTTL before
// pruning them (spec §4.8).
type Scheduler struct {
	cfg       Config
	registry  *engine.Registry
	global    *ratelimit.Limiter
	cpStore   *checkpoint.Store
	validator *security.Validator
	log       *logrus.Entry

	sem *semaphore.Weighted

	mu       sync.Mutex
	pending  pendingHeap
	byID     map[copyjob.ID]*entry
	runningM map[copyjob.ID]*running
	terminal map[copyjob.ID]*copyjob.Job
	wakeCh   chan struct{}
}

// New constructs a Scheduler. Call Run in a goroutine to start admitting
// queued jobs.
func New(cfg Config, registry *engine.Registry, global *ratelimit.Limiter, cpStore *checkpoint.Store, validator *security.Validator, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 1
	}
	return &Scheduler{
		cfg:       cfg,
		registry:  registry,
		global:    global,
		cpStore:   cpStore,
		validator: validator,
		log:       log.WithField("component", "scheduler"),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		byID:      make(map[copyjob.ID]*entry),
		runningM:  make(map[copyjob.ID]*running),
		terminal:  make(map[copyjob.ID]*copyjob.Job),
		wakeCh:    make(chan struct{}, 1),
	}
}

// Submit admits job into the pending queue, rejecting it if the backlog
// is already at MaxQueueSize (spec §4.8, §7).
func (s *Scheduler) Submit(job *copyjob.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.cfg.MaxQueueSize {
		return ErrQueueFull
	}
	e := &entry{job: job}
	heap.Push(&s.pending, e)
	s.byID[job.ID] = e
	s.wake()
	return nil
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run admits pending jobs onto available executor slots until ctx is
// cancelled. It should run for the daemon's whole lifetime.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		s.admitReady(ctx)
		select {
		case <-ctx.Done():
			return
		case <-s.wakeCh:
		case <-ticker.C:
			s.pruneHistory()
		}
	}
}

func (s *Scheduler) admitReady(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		if !s.sem.TryAcquire(1) {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.pending).(*entry)
		delete(s.byID, e.job.ID)
		job := e.job
		ex := executor.New(job, s.registry, s.global, s.cpStore, s.validator, s.cfg.ExecutorConfig, s.log)
		s.runningM[job.ID] = &running{job: job, exec: ex}
		s.mu.Unlock()

		job.SetStatus(copyjob.Running)
		go s.runJob(ctx, job, ex)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *copyjob.Job, ex *executor.Executor) {
	defer s.sem.Release(1)
	ex.Run(ctx)

	s.mu.Lock()
	delete(s.runningM, job.ID)
	s.terminal[job.ID] = job
	s.mu.Unlock()
	s.wake()
}

func (s *Scheduler) pruneHistory() {
	if s.cfg.JobHistoryTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.cfg.JobHistoryTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range s.terminal {
		_, completed := job.Timestamps()
		if completed.Before(cutoff) {
			delete(s.terminal, id)
		}
	}
}

// Lookup finds a job by id across all three sets, reporting which
// executor (if any) currently owns it.
func (s *Scheduler) Lookup(id copyjob.ID) (*copyjob.Job, *executor.Executor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byID[id]; ok {
		return e.job, nil, nil
	}
	if r, ok := s.runningM[id]; ok {
		return r.job, r.exec, nil
	}
	if job, ok := s.terminal[id]; ok {
		return job, nil, nil
	}
	return nil, nil, ErrNotFound
}

// Cancel cancels a pending or running job (spec §4.8).
func (s *Scheduler) Cancel(id copyjob.ID) error {
	s.mu.Lock()
	if e, ok := s.byID[id]; ok {
		heap.Remove(&s.pending, e.index)
		delete(s.byID, id)
		s.mu.Unlock()
		e.job.SetStatus(copyjob.Cancelled)
		return nil
	}
	if r, ok := s.runningM[id]; ok {
		s.mu.Unlock()
		r.exec.Control().Cancel()
		return nil
	}
	_, ok := s.terminal[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	// Already terminal: cancelling is a no-op success, the prior
	// terminal status is preserved (spec §7).
	return nil
}

// Pause pauses a running job (spec §4.8).
func (s *Scheduler) Pause(id copyjob.ID) error {
	s.mu.Lock()
	r, ok := s.runningM[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	r.exec.Control().Pause()
	r.job.SetStatus(copyjob.Paused)
	return nil
}

// Resume resumes a paused job (spec §4.8).
func (s *Scheduler) Resume(id copyjob.ID) error {
	s.mu.Lock()
	r, ok := s.runningM[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	r.exec.Control().Resume()
	r.job.SetStatus(copyjob.Running)
	return nil
}

// List returns a snapshot of every job the scheduler currently knows
// about, across all three sets.
func (s *Scheduler) List() []*copyjob.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*copyjob.Job, 0, len(s.byID)+len(s.runningM)+len(s.terminal))
	for _, e := range s.byID {
		jobs = append(jobs, e.job)
	}
	for _, r := range s.runningM {
		jobs = append(jobs, r.job)
	}
	for _, j := range s.terminal {
		jobs = append(jobs, j)
	}
	return jobs
}

// Stats summarizes queue depth and concurrency for get_stats (spec §6).
type Stats struct {
	Pending   int
	Running   int
	Terminal  int
	Capacity  int
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Pending:  len(s.byID),
		Running:  len(s.runningM),
		Terminal: len(s.terminal),
		Capacity: s.cfg.MaxConcurrentJobs,
	}
}

// Events returns the running job's progress event stream, for the
// server to relay over the control socket.
func (s *Scheduler) Events(id copyjob.ID) (<-chan progress.Event, error) {
	s.mu.Lock()
	r, ok := s.runningM[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r.exec.Events(), nil
}
