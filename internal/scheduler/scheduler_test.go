package scheduler

import (
	"container/heap"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v-t-p/copyd/internal/checkpoint"
	"github.com/v-t-p/copyd/internal/copyjob"
	"github.com/v-t-p/copyd/internal/engine"
	"github.com/v-t-p/copyd/internal/executor"
	"github.com/v-t-p/copyd/internal/security"
)

func TestPendingHeapOrdersByPriorityThenSubmission(t *testing.T) {
	var h pendingHeap
	now := time.Unix(1700000000, 0)
	low := &entry{job: &copyjob.Job{ID: copyjob.NewID(), Priority: 1, SubmittedAt: now}}
	highLater := &entry{job: &copyjob.Job{ID: copyjob.NewID(), Priority: 5, SubmittedAt: now.Add(time.Second)}}
	highEarlier := &entry{job: &copyjob.Job{ID: copyjob.NewID(), Priority: 5, SubmittedAt: now}}

	heap.Push(&h, low)
	heap.Push(&h, highLater)
	heap.Push(&h, highEarlier)

	first := heap.Pop(&h).(*entry)
	second := heap.Pop(&h).(*entry)
	third := heap.Pop(&h).(*entry)

	assert.Equal(t, highEarlier.job.ID, first.job.ID)
	assert.Equal(t, highLater.job.ID, second.job.ID)
	assert.Equal(t, low.job.ID, third.job.ID)
}

func newTestScheduler(t *testing.T, maxConcurrent int) *Scheduler {
	t.Helper()
	cpDir := t.TempDir()
	cpStore, err := checkpoint.New(cpDir)
	require.NoError(t, err)
	registry := engine.NewRegistry(nil, 0)
	validator := security.New(security.Policy{})

	return New(Config{
		MaxConcurrentJobs: maxConcurrent,
		MaxQueueSize:      2,
		ExecutorConfig:    executor.Config{EventTick: 10 * time.Millisecond, TempDir: t.TempDir()},
	}, registry, nil, cpStore, validator, nil)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	sc := newTestScheduler(t, 0) // Run is never started, so everything stays pending

	for i := 0; i < 2; i++ {
		j := copyjob.NewJob([]string{t.TempDir()}, t.TempDir())
		require.NoError(t, sc.Submit(j))
	}
	j := copyjob.NewJob([]string{t.TempDir()}, t.TempDir())
	assert.ErrorIs(t, sc.Submit(j), ErrQueueFull)
}

func TestCancelPendingJobRemovesFromQueue(t *testing.T) {
	sc := newTestScheduler(t, 0)
	j := copyjob.NewJob([]string{t.TempDir()}, t.TempDir())
	require.NoError(t, sc.Submit(j))

	require.NoError(t, sc.Cancel(j.ID))
	assert.Equal(t, copyjob.Cancelled, j.Status())

	_, _, err := sc.Lookup(j.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelUnknownJobReturnsErrNotFound(t *testing.T) {
	sc := newTestScheduler(t, 1)
	assert.ErrorIs(t, sc.Cancel(copyjob.NewID()), ErrNotFound)
}

func TestCancelAlreadyTerminalJobSucceedsAndPreservesStatus(t *testing.T) {
	sc := newTestScheduler(t, 1)
	job := copyjob.NewJob([]string{t.TempDir()}, t.TempDir())
	job.SetStatus(copyjob.Running)
	job.SetStatus(copyjob.Failed)
	sc.terminal[job.ID] = job

	require.NoError(t, sc.Cancel(job.ID))
	assert.Equal(t, copyjob.Failed, job.Status())
}

func TestLookupAndRunEndToEnd(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello world"), 0o644))
	destDir := t.TempDir()

	sc := newTestScheduler(t, 1)
	job := copyjob.NewJob([]string{srcDir}, destDir)
	job.Recursive = true
	require.NoError(t, sc.Submit(job))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go sc.Run(ctx)

	require.Eventually(t, func() bool {
		j, _, err := sc.Lookup(job.ID)
		return err == nil && j.Status().Terminal()
	}, time.Second, 5*time.Millisecond)

	j, _, err := sc.Lookup(job.ID)
	require.NoError(t, err)
	assert.Equal(t, copyjob.Completed, j.Status())

	got, err := os.ReadFile(filepath.Join(destDir, filepath.Base(srcDir), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestStatsReflectsQueueDepth(t *testing.T) {
	sc := newTestScheduler(t, 0)
	require.NoError(t, sc.Submit(copyjob.NewJob([]string{t.TempDir()}, t.TempDir())))
	require.NoError(t, sc.Submit(copyjob.NewJob([]string{t.TempDir()}, t.TempDir())))

	s := sc.Stats()
	assert.Equal(t, 2, s.Pending)
	assert.Equal(t, 0, s.Running)
}
