//go:build linux

package walk

import (
	"os"
	"syscall"

	"github.com/v-t-p/copyd/internal/copyjob"
)

func deviceOf(fi os.FileInfo) (uint64, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(st.Dev), true
}

func inodeOf(fi os.FileInfo) (copyjob.InodeKey, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return copyjob.InodeKey{}, false
	}
	return copyjob.InodeKey{Dev: uint64(st.Dev), Ino: st.Ino}, true
}

// sparseHint reports whether the file's allocated block count implies
// holes: fewer 512-byte blocks than its apparent size would require.
func sparseHint(fi os.FileInfo) (bool, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return false, false
	}
	allocated := st.Blocks * 512
	return allocated < fi.Size(), true
}

// ownerOf reads the source's numeric owner and group, for preservation
// by applyMetadata when the job requests ownership (spec §3, §4.7 step 4).
func ownerOf(fi os.FileInfo) (uid, gid uint32, ok bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return st.Uid, st.Gid, true
}
