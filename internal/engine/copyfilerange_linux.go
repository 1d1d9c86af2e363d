//go:build linux

package engine

import (
	"golang.org/x/sys/unix"

	"github.com/v-t-p/copyd/internal/errs"
)

// copyFileRangeStrategy issues the copy_file_range(2) syscall, looping
// past short writes until Length bytes are moved or EOF is reached
// (spec §4.2: "may short-write; must be looped").
type copyFileRangeStrategy struct{}

func newCopyFileRangeStrategy() Strategy { return &copyFileRangeStrategy{} }

func (s *copyFileRangeStrategy) Name() Name { return CopyFileRange }

func (s *copyFileRangeStrategy) Applicable(Request) bool { return true }

func (s *copyFileRangeStrategy) Transfer(req Request) (Result, error) {
	srcOff := req.SrcOffset
	dstOff := req.DstOffset
	var copied int64
	for copied < req.Length {
		if err := req.Ctx.Err(); err != nil {
			return Result{BytesCopied: copied}, err
		}
		remaining := req.Length - copied
		if err := req.Limiter.WaitN(req.Ctx, min64(remaining, req.ChunkSize)); err != nil {
			return Result{BytesCopied: copied}, err
		}

		so := srcOff + copied
		do := dstOff + copied
		n, err := unix.CopyFileRange(int(req.Src.Fd()), &so, int(req.Dst.Fd()), &do, int(remaining), 0)
		if err != nil {
			if errs.NotApplicable(err) {
				if copied == 0 {
					return Result{}, notApplicable(CopyFileRange)
				}
				// Partial progress already made: not applicable mid-way
				// through an entry is a hard failure, not a clean retry.
				return Result{BytesCopied: copied}, errs.Wrap(errs.IO, "copy_file_range", req.Dst.Name(), err)
			}
			if errs.Retriable(err) {
				continue
			}
			return Result{BytesCopied: copied}, errs.Wrap(errs.IO, "copy_file_range", req.Dst.Name(), err)
		}
		if n == 0 {
			return Result{BytesCopied: copied, EOF: true}, nil
		}
		copied += int64(n)
	}
	return Result{BytesCopied: copied, EOF: false}, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
