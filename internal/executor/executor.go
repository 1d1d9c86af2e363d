// Package executor runs one job end to end: pre-flight validation,
// traversal, engine dispatch, verification, and metadata application
// (spec §4.7). One Executor instance handles exactly one running job
// and is discarded when it reaches a terminal state.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/v-t-p/copyd/internal/checkpoint"
	"github.com/v-t-p/copyd/internal/copyjob"
	"github.com/v-t-p/copyd/internal/engine"
	"github.com/v-t-p/copyd/internal/errs"
	"github.com/v-t-p/copyd/internal/hardlink"
	"github.com/v-t-p/copyd/internal/progress"
	"github.com/v-t-p/copyd/internal/ratelimit"
	"github.com/v-t-p/copyd/internal/security"
	"github.com/v-t-p/copyd/internal/walk"
)

// Config carries the daemon-wide tunables an Executor needs (spec §6).
type Config struct {
	CheckpointInterval time.Duration // default 5s
	CheckpointBytes    int64         // default 64 MiB
	EventTick          time.Duration
	TempDir            string
}

// Executor runs a single job.
type Executor struct {
	job          *copyjob.Job
	registry     *engine.Registry
	globalLimit  *ratelimit.Limiter
	perJobLimit  *ratelimit.Limiter
	cpStore      *checkpoint.Store
	validator    *security.Validator
	table        *hardlink.Table
	agg          *progress.Aggregator
	control      *Control
	cfg          Config
	log          *logrus.Entry
}

// New constructs an Executor for job. globalLimit may be nil (no
// process-wide cap configured).
func New(job *copyjob.Job, registry *engine.Registry, globalLimit *ratelimit.Limiter,
	cpStore *checkpoint.Store, validator *security.Validator, cfg Config, log *logrus.Entry) *Executor {

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{
		job:         job,
		registry:    registry,
		globalLimit: globalLimit,
		perJobLimit: ratelimit.New(job.MaxRateBytesPS),
		cpStore:     cpStore,
		validator:   validator,
		table:       hardlink.New(),
		agg:         progress.New(job.ID, job.Progress(), cfg.EventTick),
		control:     NewControl(),
		cfg:         cfg,
		log:         log.WithField("job_id", job.ID.String()),
	}
}

// Control exposes the pause/cancel surface for the scheduler.
func (ex *Executor) Control() *Control { return ex.control }

// Events exposes the job's event stream for the server surface.
func (ex *Executor) Events() <-chan progress.Event { return ex.agg.Events() }

func (ex *Executor) limiterPair() ratelimit.Pair {
	return ratelimit.Pair{Global: ex.globalLimit, PerJob: ex.perJobLimit}
}

// Run executes the job to completion, returning the terminal status it
// reached. It never returns an error: all failures are folded into the
// job's status and first-error record per spec §4.7/§7.
func (ex *Executor) Run(ctx context.Context) copyjob.Status {
	aggCtx, stopAgg := context.WithCancel(ctx)
	defer stopAgg()
	go ex.agg.Run(aggCtx)

	status := ex.run(ctx)
	ex.job.SetStatus(status)
	ex.agg.PublishStatus(context.Background(), status)

	if err := ex.cpStore.Remove(ex.job.ID); err != nil {
		ex.log.WithError(err).Warn("failed to remove checkpoint on terminal status")
	}
	return status
}

func (ex *Executor) run(ctx context.Context) copyjob.Status {
	if err := ex.preflight(); err != nil {
		ex.job.RecordError(ex.job.Destination, err)
		return copyjob.Failed
	}

	destIsDir := ex.destinationIsDir()
	opt := walk.Options{
		Sources:       ex.job.Sources,
		Destination:   ex.job.Destination,
		Recursive:     ex.job.Recursive,
		OneFilesystem: ex.job.OneFilesystem,
		Rename:        ex.job.Rename,
		DestIsDir:     destIsDir,
	}
	w, err := walk.New(opt, ex.table)
	if err != nil {
		ex.job.RecordError(ex.job.Destination, err)
		return copyjob.Failed
	}

	estCtx, stopEst := context.WithCancel(ctx)
	defer stopEst()
	go walk.Estimate(estCtx, opt, ex.job.Progress())

	pendingOffset, err := ex.resume(w)
	if err != nil {
		ex.job.RecordError(ex.job.Destination, err)
		return copyjob.Failed
	}

	lastCheckpoint := time.Now()
	var bytesSinceCheckpoint int64
	checkpointInterval := ex.cfg.CheckpointInterval
	if checkpointInterval <= 0 {
		checkpointInterval = 5 * time.Second
	}
	checkpointBytes := ex.cfg.CheckpointBytes
	if checkpointBytes <= 0 {
		checkpointBytes = 64 << 20
	}

	maybeCheckpoint := func(entryIndex int64, offset int64, cursor string, force bool) {
		if !force && time.Since(lastCheckpoint) < checkpointInterval && bytesSinceCheckpoint < checkpointBytes {
			return
		}
		cp := copyjob.Checkpoint{
			JobID:           ex.job.ID,
			EntryIndex:      entryIndex,
			EntryOffset:     offset,
			Cursor:          cursor,
			ImmutableDigest: checkpoint.Digest(ex.job),
		}
		if err := ex.cpStore.Save(cp); err != nil {
			ex.log.WithError(err).Warn("checkpoint write failed")
		}
		ex.job.SetCursor(cursor)
		lastCheckpoint = time.Now()
		bytesSinceCheckpoint = 0
	}

	aborted := false
	for {
		if ex.control.Cancelled() {
			return copyjob.Cancelled
		}
		if err := ex.control.WaitIfPaused(ctx); err != nil {
			return copyjob.Cancelled
		}

		e, err := w.Next()
		if err != nil {
			break // io.EOF or other: traversal done
		}

		if e.Failed != nil {
			ex.job.RecordError(e.DestPath, e.Failed)
			aborted = true
			break
		}

		offset := int64(0)
		if pendingOffset > 0 && e.Kind == copyjob.KindFile {
			offset = pendingOffset
			pendingOffset = 0
		}

		if err := ex.validator.CheckEntry(e); err != nil {
			ex.job.RecordError(e.SourcePath, err)
			aborted = true
			break
		}

		n, err := ex.processEntry(ctx, e, offset, func(off int64) {
			bytesSinceCheckpoint += ex.job.ChunkSize
			maybeCheckpoint(w.EntriesEmitted()-1, off, e.DestPath, false)
		})
		if err != nil {
			ex.job.RecordError(e.SourcePath, err)
			if errs.SkipAllowed(err, ex.job.Collision == copyjob.CollisionSkip) {
				continue
			}
			aborted = true
			break
		}
		_ = n
		maybeCheckpoint(w.EntriesEmitted(), 0, e.DestPath, true)
	}

	if ex.control.Cancelled() {
		if ex.job.CleanupOnCancel {
			ex.log.Info("cleanup_on_cancel set; partially written files are not removed")
		}
		return copyjob.Cancelled
	}
	if aborted {
		return copyjob.Failed
	}

	if !ex.job.DryRun && ex.job.Verify != copyjob.VerifyNone {
		if err := ex.verifyAll(ctx); err != nil {
			ex.job.RecordError(ex.job.Destination, err)
			return copyjob.Failed
		}
	}

	return copyjob.Completed
}

// preflight canonicalizes sources/destination and rejects the
// conditions spec §4.7 step 1 names.
func (ex *Executor) preflight() error {
	for i, src := range ex.job.Sources {
		abs, err := filepath.Abs(src)
		if err != nil {
			return errs.New(errs.Precondition, err)
		}
		ex.job.Sources[i] = abs
		if _, err := os.Lstat(abs); err != nil {
			return errs.Wrap(errs.Precondition, "lstat", abs, err)
		}
	}
	destAbs, err := filepath.Abs(ex.job.Destination)
	if err != nil {
		return errs.New(errs.Precondition, err)
	}
	ex.job.Destination = destAbs

	if err := ex.validator.CheckSources(ex.job.Sources, ex.job.Destination); err != nil {
		return err
	}

	fi, err := os.Stat(ex.job.Destination)
	destExists := err == nil
	if destExists && !fi.IsDir() && (len(ex.job.Sources) > 1 || ex.job.Recursive) {
		return errs.New(errs.Precondition, fmt.Errorf("destination %q is not a directory", ex.job.Destination))
	}
	if !destExists && (len(ex.job.Sources) > 1 || ex.job.Recursive) {
		if !ex.job.DryRun {
			if err := os.MkdirAll(ex.job.Destination, 0o700); err != nil {
				return errs.Wrap(errs.IO, "mkdir", ex.job.Destination, err)
			}
		}
	}
	return nil
}

func (ex *Executor) destinationIsDir() bool {
	fi, err := os.Stat(ex.job.Destination)
	return err == nil && fi.IsDir()
}

// resume loads and validates a checkpoint, fast-forwarding w past
// completed entries, and returns the byte offset the first subsequent
// file entry should resume from (spec §4.4).
func (ex *Executor) resume(w *walk.Walker) (int64, error) {
	cp, err := ex.cpStore.Load(ex.job.ID)
	if err == checkpoint.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !checkpoint.Valid(cp, ex.job, "") {
		ex.log.Warn("checkpoint digest mismatch, restarting job from scratch")
		return 0, nil
	}
	if err := w.SeekCursor(cp.Cursor); err != nil {
		ex.log.WithError(err).Warn("checkpoint cursor not found, restarting job from scratch")
		return 0, nil
	}
	if cp.EntryOffset > 0 {
		if fi, statErr := os.Stat(cp.Cursor); statErr == nil && fi.Size() >= cp.EntryOffset {
			ex.log.WithField("offset", cp.EntryOffset).Info("resuming job from checkpoint")
			return cp.EntryOffset, nil
		}
		ex.log.Warn("checkpoint destination shorter than recorded offset, restarting that entry")
	}
	return 0, nil
}
