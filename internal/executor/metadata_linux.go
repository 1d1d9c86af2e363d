//go:build linux

package executor

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/v-t-p/copyd/internal/copyjob"
	"github.com/v-t-p/copyd/internal/errs"
)

// applyMetadata applies mode/ownership/xattrs/times to destPath per the
// job's MetadataFlags, in the order spec §4.7 step 4 requires: mode,
// owner/group, extended attributes, then times last.
func applyMetadata(e *copyjob.Entry, flags copyjob.MetadataFlags, log logger) error {
	isSymlink := e.Kind == copyjob.KindSymlink

	if flags.Mode && !isSymlink {
		if err := os.Chmod(e.DestPath, os.FileMode(e.Mode)); err != nil {
			return errs.Wrap(errs.IO, "chmod", e.DestPath, err)
		}
	}

	if flags.Ownership {
		var err error
		if isSymlink {
			err = os.Lchown(e.DestPath, int(e.UID), int(e.GID))
		} else {
			err = os.Chown(e.DestPath, int(e.UID), int(e.GID))
		}
		if err != nil {
			// best-effort when not privileged (spec §4.7 step 4)
			if !os.IsPermission(err) {
				return errs.Wrap(errs.IO, "chown", e.DestPath, err)
			}
			log.Warnf("ownership preservation skipped for %s (not privileged): %v", e.DestPath, err)
		}
	}

	if flags.XAttrs && !isSymlink {
		if err := copyXAttrs(e.SourcePath, e.DestPath); err != nil {
			log.Warnf("extended attributes not fully preserved for %s: %v", e.DestPath, err)
		}
	}

	if flags.Times {
		atime := e.MTime
		if isSymlink {
			if err := unix.Lutimes(e.DestPath, []unix.Timeval{
				unix.NsecToTimeval(atime.UnixNano()),
				unix.NsecToTimeval(e.MTime.UnixNano()),
			}); err != nil {
				return errs.Wrap(errs.IO, "lutimes", e.DestPath, err)
			}
			return nil
		}
		if err := os.Chtimes(e.DestPath, atime, e.MTime); err != nil {
			return errs.Wrap(errs.IO, "utimes", e.DestPath, err)
		}
	}
	return nil
}

// logger is the minimal surface applyMetadata needs, satisfied by
// *logrus.Entry.
type logger interface {
	Warnf(format string, args ...interface{})
}

const xattrUserPrefix = "user."

func copyXAttrs(srcPath, destPath string) error {
	size, err := unix.Llistxattr(srcPath, nil)
	if err != nil || size == 0 {
		return nil
	}
	buf := make([]byte, size)
	n, err := unix.Llistxattr(srcPath, buf)
	if err != nil {
		return err
	}
	names := splitXAttrNames(buf[:n])
	for _, name := range names {
		vsize, err := unix.Lgetxattr(srcPath, name, nil)
		if err != nil || vsize == 0 {
			continue
		}
		val := make([]byte, vsize)
		vn, err := unix.Lgetxattr(srcPath, name, val)
		if err != nil {
			continue
		}
		_ = unix.Lsetxattr(destPath, name, val[:vn], 0)
	}
	return nil
}

func splitXAttrNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}
