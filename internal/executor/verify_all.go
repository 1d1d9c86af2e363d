package executor

import (
	"context"
	"io"

	"github.com/v-t-p/copyd/internal/copyjob"
	"github.com/v-t-p/copyd/internal/hardlink"
	"github.com/v-t-p/copyd/internal/verify"
	"github.com/v-t-p/copyd/internal/walk"
)

// verifyAll re-walks the source tree and checks every regular file
// against its destination under the job's verify mode (spec §4.5). It
// runs after the main copy loop and reads the sources as they are then,
// so a source changed during the copy shows up as a mismatch.
func (ex *Executor) verifyAll(ctx context.Context) error {
	opt := walk.Options{
		Sources:       ex.job.Sources,
		Destination:   ex.job.Destination,
		Recursive:     ex.job.Recursive,
		OneFilesystem: ex.job.OneFilesystem,
		Rename:        ex.job.Rename,
		DestIsDir:     ex.destinationIsDir(),
	}
	w, err := walk.New(opt, hardlink.New())
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := w.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if e.Kind != copyjob.KindFile || e.IsPostEntry {
			continue
		}
		if err := verify.File(ctx, ex.job.Verify, e.SourcePath, e.DestPath, ex.job.ChunkSize, ex.limiterPair()); err != nil {
			return err
		}
	}
}
