package executor

import (
	"context"
	"os"

	"github.com/v-t-p/copyd/internal/copyjob"
	"github.com/v-t-p/copyd/internal/engine"
	"github.com/v-t-p/copyd/internal/errs"
)

// checkpointFn is invoked after each chunk with the byte offset reached
// so far within the current entry; it decides cadence (time/bytes
// elapsed) and persists if due (spec §4.4).
type checkpointFn func(offsetInEntry int64)

// transferFile copies one regular-file entry from startOffset, honoring
// pause/cancel between chunks and checkpointing after each one (spec
// §4.7 step 3). It returns the total bytes copied in this call (which,
// added to startOffset, should equal e.Size on success).
func (ex *Executor) transferFile(ctx context.Context, e *copyjob.Entry, src, dst *os.File, startOffset int64, onChunk checkpointFn) (int64, error) {
	sameFS := ex.sameFilesystem(src, dst)

	chunkSize := ex.job.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}

	offset := startOffset
	for offset < e.Size {
		if err := ex.control.WaitIfPaused(ctx); err != nil {
			return offset - startOffset, err
		}
		select {
		case <-ex.control.Done():
			return offset - startOffset, errs.New(errs.Cancelled, context.Canceled)
		default:
		}

		length := e.Size - offset
		if length > chunkSize {
			length = chunkSize
		}

		req := engine.Request{
			Ctx:       ctx,
			Src:       src,
			Dst:       dst,
			SrcOffset: offset,
			DstOffset: offset,
			Length:    length,
			ChunkSize: chunkSize,
			Limiter:   ex.limiterPair(),
			WholeFile: offset == 0 && length == e.Size,
			SameFS:    sameFS,
		}

		name := engine.Name("")
		if ex.job.Engine != copyjob.EngineAuto {
			name = engine.Name(ex.job.Engine)
		}

		res, err := ex.registry.Transfer(name, req)
		if err != nil {
			return offset - startOffset, err
		}
		if res.BytesCopied == 0 {
			break
		}
		offset += res.BytesCopied
		ex.job.Progress().AddBytes(res.BytesCopied)
		if onChunk != nil {
			onChunk(offset)
		}
		if res.EOF {
			break
		}
	}
	return offset - startOffset, nil
}

// sameFilesystem reports whether src/dst share a device, for reflink
// applicability (spec §4.2).
func (ex *Executor) sameFilesystem(src, dst *os.File) bool {
	sfi, err1 := src.Stat()
	dfi, err2 := dst.Stat()
	if err1 != nil || err2 != nil {
		return false
	}
	return statSameDevice(sfi, dfi)
}
