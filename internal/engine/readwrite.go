package engine

import (
	"io"

	"github.com/v-t-p/copyd/internal/errs"
)

// readWriteStrategy is the portable fallback: read into a user buffer
// of the job's chunk size, then write it out. Always applicable.
type readWriteStrategy struct{}

func newReadWriteStrategy() Strategy { return &readWriteStrategy{} }

func (s *readWriteStrategy) Name() Name { return ReadWrite }

func (s *readWriteStrategy) Applicable(Request) bool { return true }

func (s *readWriteStrategy) Transfer(req Request) (Result, error) {
	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	buf := make([]byte, chunkSize)

	var copied int64
	eof := false
	for copied < req.Length {
		if err := req.Ctx.Err(); err != nil {
			return Result{BytesCopied: copied}, err
		}
		want := req.Length - copied
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		if err := req.Limiter.WaitN(req.Ctx, want); err != nil {
			return Result{BytesCopied: copied}, err
		}

		n, err := readAt(req.Src, buf[:want], req.SrcOffset+copied)
		if n > 0 {
			if _, werr := writeAt(req.Dst, buf[:n], req.DstOffset+copied); werr != nil {
				return Result{BytesCopied: copied}, errs.Wrap(errs.IO, "write", req.Dst.Name(), werr)
			}
			copied += int64(n)
		}
		if err == io.EOF {
			eof = true
			break
		}
		if err != nil {
			return Result{BytesCopied: copied}, errs.Wrap(errs.IO, "read", req.Src.Name(), err)
		}
		if n == 0 {
			eof = true
			break
		}
	}
	return Result{BytesCopied: copied, EOF: eof}, nil
}

// readAt and writeAt loop past short reads/writes and retry EINTR,
// matching spec §7's "recoverable within a chunk" propagation policy.
func readAt(f interface{ ReadAt([]byte, int64) (int, error) }, buf []byte, off int64) (int, error) {
	for {
		n, err := f.ReadAt(buf, off)
		if err != nil && errs.Retriable(err) {
			continue
		}
		return n, err
	}
}

func writeAt(f interface{ WriteAt([]byte, int64) (int, error) }, buf []byte, off int64) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.WriteAt(buf[total:], off+int64(total))
		if n > 0 {
			total += n
		}
		if err != nil {
			if errs.Retriable(err) {
				continue
			}
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}
