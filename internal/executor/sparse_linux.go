//go:build linux

package executor

import (
	"context"
	"os"

	"golang.org/x/sys/unix"

	"github.com/v-t-p/copyd/internal/copyjob"
	"github.com/v-t-p/copyd/internal/engine"
	"github.com/v-t-p/copyd/internal/errs"
)

// transferSparseFile preallocates dst's full size (creating holes) then
// transfers only the data-bearing ranges SEEK_DATA/SEEK_HOLE report on
// src, so a sparse source stays sparse at the destination (spec §4.2
// Sparse file handling).
func (ex *Executor) transferSparseFile(ctx context.Context, e *copyjob.Entry, src, dst *os.File, onChunk checkpointFn) (int64, error) {
	if err := dst.Truncate(e.Size); err != nil {
		return 0, errs.Wrap(errs.IO, "truncate", e.DestPath, err)
	}

	ranges, err := engine.DataRanges(src, e.Size)
	if err != nil {
		return 0, errs.Wrap(errs.IO, "seek_data", e.SourcePath, err)
	}

	sameFS := ex.sameFilesystem(src, dst)
	chunkSize := ex.job.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}

	var total int64
	for _, rg := range ranges {
		offset := rg.Start
		end := rg.Start + rg.Length
		for offset < end {
			if err := ex.control.WaitIfPaused(ctx); err != nil {
				return total, err
			}
			select {
			case <-ex.control.Done():
				return total, errs.New(errs.Cancelled, context.Canceled)
			default:
			}

			length := end - offset
			if length > chunkSize {
				length = chunkSize
			}

			req := engine.Request{
				Ctx: ctx, Src: src, Dst: dst,
				SrcOffset: offset, DstOffset: offset,
				Length: length, ChunkSize: chunkSize,
				Limiter: ex.limiterPair(), SameFS: sameFS,
			}
			name := engine.Name("")
			if ex.job.Engine != copyjob.EngineAuto {
				name = engine.Name(ex.job.Engine)
			}
			res, err := ex.registry.Transfer(name, req)
			if err != nil {
				return total, err
			}
			if res.BytesCopied == 0 {
				break
			}
			offset += res.BytesCopied
			total += res.BytesCopied
			ex.job.Progress().AddBytes(res.BytesCopied)
			if onChunk != nil {
				onChunk(offset)
			}
		}
	}
	return total, nil
}

// mknodLike recreates a fifo, socket, or device node at e.DestPath
// (spec §4.3 Special file handling). Device nodes require the daemon to
// run privileged; a permission failure here is reported to the caller
// rather than silently downgraded, unlike ownership preservation.
func mknodLike(e *copyjob.Entry) error {
	fi, err := os.Lstat(e.SourcePath)
	if err != nil {
		return errs.Wrap(errs.IO, "lstat", e.SourcePath, err)
	}
	st, ok := fi.Sys().(*unix.Stat_t)
	if !ok {
		return errs.New(errs.IO, errUnsupportedStat)
	}
	mode := uint32(fi.Mode().Perm())
	switch {
	case fi.Mode()&os.ModeNamedPipe != 0:
		mode |= unix.S_IFIFO
	case fi.Mode()&os.ModeSocket != 0:
		mode |= unix.S_IFSOCK
	case fi.Mode()&os.ModeDevice != 0 && fi.Mode()&os.ModeCharDevice != 0:
		mode |= unix.S_IFCHR
	case fi.Mode()&os.ModeDevice != 0:
		mode |= unix.S_IFBLK
	default:
		return errs.New(errs.Precondition, errUnsupportedStat)
	}
	if err := unix.Mknod(e.DestPath, mode, int(st.Rdev)); err != nil {
		return errs.Wrap(errs.IO, "mknod", e.DestPath, err)
	}
	return nil
}

var errUnsupportedStat = errNotImplementedKind(copyjob.KindSpecial)
