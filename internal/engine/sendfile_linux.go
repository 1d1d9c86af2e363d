//go:build linux

package engine

import (
	"golang.org/x/sys/unix"

	"github.com/v-t-p/copyd/internal/errs"
)

// sendfileStrategy copies via sendfile(2), the fallback when
// copy_file_range is unavailable (old kernels, certain filesystem
// combinations) (spec §4.2).
type sendfileStrategy struct{}

func newSendfileStrategy() Strategy { return &sendfileStrategy{} }

func (s *sendfileStrategy) Name() Name { return Sendfile }

func (s *sendfileStrategy) Applicable(req Request) bool {
	// sendfile(2) has no destination-offset parameter; it always
	// writes at the destination's current file position, so it cannot
	// service requests that must land at a specific DstOffset other
	// than wherever the destination descriptor already sits. The
	// executor always opens/seeks destinations before transfer, so in
	// practice DstOffset tracks the descriptor's position already.
	return true
}

func (s *sendfileStrategy) Transfer(req Request) (Result, error) {
	srcOff := req.SrcOffset
	var copied int64
	for copied < req.Length {
		if err := req.Ctx.Err(); err != nil {
			return Result{BytesCopied: copied}, err
		}
		remaining := req.Length - copied
		chunk := remaining
		if req.ChunkSize > 0 && chunk > req.ChunkSize {
			chunk = req.ChunkSize
		}
		if err := req.Limiter.WaitN(req.Ctx, chunk); err != nil {
			return Result{BytesCopied: copied}, err
		}

		off := srcOff + copied
		n, err := unix.Sendfile(int(req.Dst.Fd()), int(req.Src.Fd()), &off, int(chunk))
		if err != nil {
			if errs.NotApplicable(err) {
				if copied == 0 {
					return Result{}, notApplicable(Sendfile)
				}
				return Result{BytesCopied: copied}, errs.Wrap(errs.IO, "sendfile", req.Dst.Name(), err)
			}
			if errs.Retriable(err) {
				continue
			}
			return Result{BytesCopied: copied}, errs.Wrap(errs.IO, "sendfile", req.Dst.Name(), err)
		}
		if n == 0 {
			return Result{BytesCopied: copied, EOF: true}, nil
		}
		copied += int64(n)
	}
	return Result{BytesCopied: copied, EOF: false}, nil
}
