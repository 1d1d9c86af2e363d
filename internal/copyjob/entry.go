package copyjob

import "time"

// EntryKind tags the filesystem object type carried by an Entry.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
	KindSymlink
	KindHardlinkAlias
	KindSpecial
)

func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindHardlinkAlias:
		return "hardlink-alias"
	case KindSpecial:
		return "special"
	default:
		return "unknown"
	}
}

// InodeKey identifies a file by (dev, ino) for hardlink coalescing.
type InodeKey struct {
	Dev uint64
	Ino uint64
}

// Entry is a single filesystem object produced by traversal (spec §3).
type Entry struct {
	Kind EntryKind

	SourcePath string
	DestPath   string

	Size  int64
	Mode  uint32
	UID   uint32
	GID   uint32
	MTime time.Time
	CTime time.Time

	Sparse bool

	// Inode identifies the source for hardlink coalescing; zero value
	// means "not tracked" (directories, symlinks).
	Inode InodeKey

	// HardlinkTarget is the previously-created destination path this
	// alias should link to; only set when Kind == KindHardlinkAlias.
	HardlinkTarget string

	// SymlinkTarget is the string read from the source symlink; only
	// set when Kind == KindSymlink.
	SymlinkTarget string

	// IsPostEntry marks the deferred directory visit used to apply
	// metadata after children have been written (spec §4.3).
	IsPostEntry bool

	// Failed carries a traversal-time rejection (e.g. rename escaped
	// the destination root) so the executor can record it without
	// attempting to write.
	Failed error
}
