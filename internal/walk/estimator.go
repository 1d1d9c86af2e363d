package walk

import (
	"context"
	"os"
	"path/filepath"

	"github.com/v-t-p/copyd/internal/copyjob"
)

// Estimate runs a cheaper stat-only pass over opt.Sources concurrently
// with the transfer pass, widening prog's totals as it advances (spec
// §4.3). It never follows symlinks and applies the same one-filesystem
// rule as the transfer walker so its totals stay consistent with what
// the transfer pass will actually visit. If ctx is cancelled (because
// the job completed before the estimator finished), it stops promptly
// without reporting an error.
func Estimate(ctx context.Context, opt Options, prog *copyjob.Progress) {
	var files, bytes int64
	var rootDev uint64
	haveRoot := false

	var walkOne func(path string) error
	walkOne = func(path string) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fi, err := os.Lstat(path)
		if err != nil {
			return nil
		}
		mode := fi.Mode()
		switch {
		case mode&os.ModeSymlink != 0:
			files++
		case mode.IsDir():
			if !opt.Recursive {
				return nil
			}
			if opt.OneFilesystem {
				if dev, ok := deviceOf(fi); ok {
					if !haveRoot {
						rootDev = dev
						haveRoot = true
					} else if dev != rootDev {
						return nil
					}
				}
			}
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil
			}
			for _, e := range entries {
				if err := walkOne(filepath.Join(path, e.Name())); err != nil {
					return err
				}
			}
		default:
			files++
			bytes += fi.Size()
		}
		prog.WidenTotals(bytes, files)
		return nil
	}

	for _, src := range opt.Sources {
		if err := walkOne(src); err != nil {
			return
		}
	}
}
