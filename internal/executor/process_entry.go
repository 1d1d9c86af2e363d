package executor

import (
	"context"
	"os"

	"github.com/v-t-p/copyd/internal/copyjob"
	"github.com/v-t-p/copyd/internal/errs"
)

// processEntry dispatches a single traversal entry to its kind-specific
// handler (spec §4.7 step 3). startOffset is non-zero only for the one
// file entry immediately following a checkpoint resume point.
func (ex *Executor) processEntry(ctx context.Context, e *copyjob.Entry, startOffset int64, onChunk checkpointFn) (int64, error) {
	switch e.Kind {
	case copyjob.KindDirectory:
		return 0, ex.processDirectory(e)
	case copyjob.KindSymlink:
		return 0, ex.processSymlink(e)
	case copyjob.KindHardlinkAlias:
		return 0, ex.processHardlinkAlias(e)
	case copyjob.KindSpecial:
		return 0, ex.processSpecial(e)
	case copyjob.KindFile:
		return ex.processFile(ctx, e, startOffset, onChunk)
	default:
		return 0, errs.New(errs.Internal, errNotImplementedKind(e.Kind))
	}
}

func errNotImplementedKind(k copyjob.EntryKind) error {
	return &unsupportedKindError{k}
}

type unsupportedKindError struct{ k copyjob.EntryKind }

func (e *unsupportedKindError) Error() string { return "unsupported entry kind: " + e.k.String() }

// processDirectory creates the directory with a restrictive mode on the
// pre-entry visit and applies the deferred metadata on the post-entry
// visit, once every child has already been written (spec §4.3, §4.7).
func (ex *Executor) processDirectory(e *copyjob.Entry) error {
	if e.IsPostEntry {
		if ex.job.DryRun {
			return nil
		}
		return applyMetadata(e, ex.job.Metadata, ex.log)
	}
	if ex.job.DryRun {
		return nil
	}
	if err := os.MkdirAll(e.DestPath, 0o700); err != nil && !os.IsExist(err) {
		return errs.Wrap(errs.IO, "mkdir", e.DestPath, err)
	}
	return nil
}

func (ex *Executor) processSymlink(e *copyjob.Entry) error {
	resolved, skip, err := resolveCollision(ex.job.Collision, e.DestPath)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}
	e.DestPath = resolved
	if ex.job.DryRun {
		return nil
	}
	if _, err := os.Lstat(e.DestPath); err == nil {
		if err := os.Remove(e.DestPath); err != nil {
			return errs.Wrap(errs.IO, "remove", e.DestPath, err)
		}
	}
	if err := os.Symlink(e.SymlinkTarget, e.DestPath); err != nil {
		return errs.Wrap(errs.IO, "symlink", e.DestPath, err)
	}
	if ex.job.Metadata.Times {
		return applyMetadata(e, copyjob.MetadataFlags{Times: true, Ownership: ex.job.Metadata.Ownership}, ex.log)
	}
	return nil
}

// processHardlinkAlias links e.DestPath to the previously created
// destination for the same (dev, ino) pair; metadata is shared via the
// inode and needs no separate application (spec §4.3 Hardlink handling).
func (ex *Executor) processHardlinkAlias(e *copyjob.Entry) error {
	if !ex.job.Metadata.HardLinks {
		return ex.processFileFallback(e)
	}
	resolved, skip, err := resolveCollision(ex.job.Collision, e.DestPath)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}
	e.DestPath = resolved
	if ex.job.DryRun {
		return nil
	}
	if _, err := os.Lstat(e.DestPath); err == nil {
		if err := os.Remove(e.DestPath); err != nil {
			return errs.Wrap(errs.IO, "remove", e.DestPath, err)
		}
	}
	if err := os.Link(e.HardlinkTarget, e.DestPath); err != nil {
		return errs.Wrap(errs.IO, "link", e.DestPath, err)
	}
	return nil
}

// processFileFallback copies a hardlink-aliased source as an independent
// file when the job is not configured to preserve hardlinks.
func (ex *Executor) processFileFallback(e *copyjob.Entry) error {
	fi, err := os.Stat(e.SourcePath)
	if err != nil {
		return errs.Wrap(errs.IO, "stat", e.SourcePath, err)
	}
	uid, gid, _ := ownerOf(fi)
	full := &copyjob.Entry{
		Kind: copyjob.KindFile, SourcePath: e.SourcePath, DestPath: e.DestPath,
		Size: fi.Size(), Mode: uint32(fi.Mode().Perm()), UID: uid, GID: gid, MTime: fi.ModTime(),
	}
	_, err = ex.processFile(context.Background(), full, 0, nil)
	return err
}

func (ex *Executor) processSpecial(e *copyjob.Entry) error {
	if !ex.job.Metadata.Special {
		ex.log.WithField("path", e.SourcePath).Info("special file skipped (special metadata class disabled)")
		return nil
	}
	resolved, skip, err := resolveCollision(ex.job.Collision, e.DestPath)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}
	e.DestPath = resolved
	if ex.job.DryRun {
		return nil
	}
	if err := mknodLike(e); err != nil {
		return err
	}
	return applyMetadata(e, ex.job.Metadata, ex.log)
}

func (ex *Executor) processFile(ctx context.Context, e *copyjob.Entry, startOffset int64, onChunk checkpointFn) (int64, error) {
	resolved, skip, err := resolveCollision(ex.job.Collision, e.DestPath)
	if err != nil {
		return 0, err
	}
	if skip {
		return 0, nil
	}
	e.DestPath = resolved

	if ex.job.DryRun {
		ex.job.Progress().AddFiles(1)
		return e.Size, nil
	}

	src, err := os.Open(e.SourcePath)
	if err != nil {
		return 0, errs.Wrap(errs.IO, "open", e.SourcePath, err)
	}
	defer src.Close()

	sparse := ex.job.Metadata.Sparse && e.Sparse
	if sparse {
		// A resumed sparse file restarts from offset 0.
		startOffset = 0
	}
	flags := os.O_WRONLY | os.O_CREATE
	if startOffset == 0 {
		flags |= os.O_TRUNC
	}
	dst, err := os.OpenFile(e.DestPath, flags, os.FileMode(e.Mode))
	if err != nil {
		return 0, errs.Wrap(errs.IO, "open", e.DestPath, err)
	}
	defer dst.Close()

	var n int64
	if sparse {
		n, err = ex.transferSparseFile(ctx, e, src, dst, onChunk)
	} else {
		n, err = ex.transferFile(ctx, e, src, dst, startOffset, onChunk)
	}
	if err != nil {
		return n, err
	}
	if err := dst.Sync(); err != nil {
		return n, errs.Wrap(errs.IO, "fsync", e.DestPath, err)
	}
	if err := applyMetadata(e, ex.job.Metadata, ex.log); err != nil {
		return n, err
	}
	ex.job.Progress().AddFiles(1)
	return n, nil
}
