//go:build linux

package engine

import (
	"os"

	"golang.org/x/sys/unix"
)

// DataRange is a [Start, Start+Length) span of a sparse file that
// actually holds data, as reported by SEEK_DATA/SEEK_HOLE (spec §4.2).
type DataRange struct {
	Start  int64
	Length int64
}

// DataRanges walks f's extents via SEEK_DATA/SEEK_HOLE and returns the
// data-bearing ranges up to size. The executor uses it for
// sparse-preserving copies: it truncates the destination to full size
// and passes only these ranges to the registry, so holes are recreated
// rather than written.
func DataRanges(f *os.File, size int64) ([]DataRange, error) {
	fd := int(f.Fd())
	var ranges []DataRange
	var pos int64
	for pos < size {
		dataStart, err := unix.Seek(fd, pos, unix.SEEK_DATA)
		if err != nil {
			if isENXIO(err) {
				break // no more data from pos onward
			}
			return nil, err
		}
		holeStart, err := unix.Seek(fd, dataStart, unix.SEEK_HOLE)
		if err != nil {
			if isENXIO(err) {
				holeStart = size
			} else {
				return nil, err
			}
		}
		if holeStart > size {
			holeStart = size
		}
		ranges = append(ranges, DataRange{Start: dataStart, Length: holeStart - dataStart})
		pos = holeStart
	}
	// restore descriptor offset so subsequent pread/pwrite-based
	// strategies are unaffected by this probe.
	_, _ = unix.Seek(fd, 0, unix.SEEK_SET)
	return ranges, nil
}

func isENXIO(err error) bool {
	errno, ok := err.(unix.Errno)
	return ok && errno == unix.ENXIO
}
