// Package verify implements the optional post-copy integrity check
// (spec §4.5): size comparison or digest recomputation over both sides,
// sharing the job's rate limiter and chunk size.
package verify

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/v-t-p/copyd/internal/copyjob"
	"github.com/v-t-p/copyd/internal/errs"
	"github.com/v-t-p/copyd/internal/ratelimit"
)

// Mismatch describes a verification failure for a single path pair,
// attached to the job's first-error record (spec §4.5, §7).
type Mismatch struct {
	SourcePath string
	DestPath   string
	Expected   string
	Actual     string
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("verification failed for %s -> %s: expected %s, got %s",
		m.SourcePath, m.DestPath, m.Expected, m.Actual)
}

// File compares one source/destination pair under mode, using limiter
// to pace any digest reads and chunkSize as the read buffer size.
func File(ctx context.Context, mode copyjob.VerifyMode, srcPath, destPath string, chunkSize int64, limiter ratelimit.Pair) error {
	switch mode {
	case copyjob.VerifyNone:
		return nil
	case copyjob.VerifySize:
		return verifySize(srcPath, destPath)
	case copyjob.VerifyMD5:
		return verifyDigest(ctx, md5.New(), srcPath, destPath, chunkSize, limiter)
	case copyjob.VerifySHA256:
		return verifyDigest(ctx, sha256.New(), srcPath, destPath, chunkSize, limiter)
	default:
		return fmt.Errorf("unknown verify mode %d", mode)
	}
}

func verifySize(srcPath, destPath string) error {
	sfi, err := os.Stat(srcPath)
	if err != nil {
		return errs.Wrap(errs.IO, "stat", srcPath, err)
	}
	dfi, err := os.Stat(destPath)
	if err != nil {
		return errs.Wrap(errs.IO, "stat", destPath, err)
	}
	if sfi.Size() != dfi.Size() {
		return errs.New(errs.VerificationFailed, &Mismatch{
			SourcePath: srcPath, DestPath: destPath,
			Expected: fmt.Sprintf("%d bytes", sfi.Size()),
			Actual:   fmt.Sprintf("%d bytes", dfi.Size()),
		})
	}
	return nil
}

func verifyDigest(ctx context.Context, h hash.Hash, srcPath, destPath string, chunkSize int64, limiter ratelimit.Pair) error {
	srcSum, err := digestOf(ctx, h, srcPath, chunkSize, limiter)
	if err != nil {
		return err
	}
	h.Reset()
	dstSum, err := digestOf(ctx, h, destPath, chunkSize, limiter)
	if err != nil {
		return err
	}
	if srcSum != dstSum {
		return errs.New(errs.VerificationFailed, &Mismatch{
			SourcePath: srcPath, DestPath: destPath,
			Expected: srcSum, Actual: dstSum,
		})
	}
	return nil
}

func digestOf(ctx context.Context, h hash.Hash, path string, chunkSize int64, limiter ratelimit.Pair) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.Wrap(errs.IO, "open", path, err)
	}
	defer f.Close()

	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := f.Read(buf)
		if n > 0 {
			if werr := limiter.WaitN(ctx, int64(n)); werr != nil {
				return "", werr
			}
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errs.Wrap(errs.IO, "read", path, err)
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
