// Package walk produces the ordered stream of copyjob.Entry values that
// drives a job's executor (spec §4.3): depth-first pre-order over
// sorted directory children, directories yielding a pre-entry (mkdir)
// and a deferred post-entry (metadata application), symlinks never
// followed, and sources sharing (dev, ino) coalesced through the
// job's hardlink table.
package walk

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/v-t-p/copyd/internal/copyjob"
	"github.com/v-t-p/copyd/internal/hardlink"
)

// Options configures a Walker from a job's immutable fields.
type Options struct {
	Sources       []string
	Destination   string
	Recursive     bool
	OneFilesystem bool
	Rename        *copyjob.RenameRule
	DestIsDir     bool // destination exists and is a directory
}

// frame is one pending node in the DFS stack.
type frame struct {
	srcPath  string
	destPath string
	info     os.FileInfo
	post     bool // true: this is the deferred post-entry for a directory
}

// Walker is a pull-based, memory-bounded traversal iterator.
type Walker struct {
	opt        Options
	table      *hardlink.Table
	rootDev    uint64
	haveRoot   bool
	stack      []frame
	renameRE   *regexp.Regexp
	emitted    int64
	skipUntil  string // when non-empty, entries are consumed silently until this dest path is seen (resume)
}

// New builds a Walker over opt.Sources, pushed onto the stack in order
// so that sorted-sibling determinism holds within each source and
// sources are visited in the order given (spec §3: "ordered list of
// source paths").
func New(opt Options, table *hardlink.Table) (*Walker, error) {
	w := &Walker{opt: opt, table: table}
	if opt.Rename != nil {
		re, err := regexp.Compile(opt.Rename.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rename pattern: %w", err)
		}
		w.renameRE = re
	}
	for i := len(opt.Sources) - 1; i >= 0; i-- {
		src := opt.Sources[i]
		fi, err := os.Lstat(src)
		if err != nil {
			return nil, err
		}
		dest := opt.Destination
		if opt.DestIsDir || len(opt.Sources) > 1 || opt.Recursive {
			dest = filepath.Join(opt.Destination, filepath.Base(filepath.Clean(src)))
		}
		w.stack = append(w.stack, frame{srcPath: src, destPath: dest, info: fi})
	}
	return w, nil
}

// SeekCursor fast-forwards the walker past every entry up to and
// including the one whose destination path equals cursor, for
// checkpoint resume (spec §4.4). It re-walks from the start, which is
// the traversal's only way to reconstruct DFS stack state, and is
// bounded by the size of the tree already completed.
func (w *Walker) SeekCursor(cursor string) error {
	if cursor == "" {
		return nil
	}
	for {
		e, err := w.next(false)
		if err == io.EOF {
			return fmt.Errorf("checkpoint cursor %q not found in traversal", cursor)
		}
		if err != nil {
			return err
		}
		if e.DestPath == cursor {
			return nil
		}
	}
}

// Next returns the next Entry, or io.EOF when traversal is complete.
func (w *Walker) Next() (*copyjob.Entry, error) {
	return w.next(true)
}

func (w *Walker) next(countEmitted bool) (*copyjob.Entry, error) {
	for len(w.stack) > 0 {
		n := len(w.stack) - 1
		fr := w.stack[n]
		w.stack = w.stack[:n]

		entry, recurse, err := w.visit(fr)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}
		if countEmitted {
			w.emitted++
		}
		if recurse {
			w.pushChildren(fr)
		}
		return entry, nil
	}
	return nil, io.EOF
}

// EntriesEmitted reports how many entries Next has returned so far,
// for computing the checkpoint's EntryIndex.
func (w *Walker) EntriesEmitted() int64 { return w.emitted }

func (w *Walker) visit(fr frame) (*copyjob.Entry, bool, error) {
	if fr.post {
		uid, gid, _ := ownerOf(fr.info)
		return &copyjob.Entry{
			Kind:        copyjob.KindDirectory,
			SourcePath:  fr.srcPath,
			DestPath:    w.applyRename(fr.destPath),
			Mode:        uint32(fr.info.Mode().Perm()),
			UID:         uid,
			GID:         gid,
			MTime:       fr.info.ModTime(),
			IsPostEntry: true,
		}, false, nil
	}

	mode := fr.info.Mode()
	destPath := w.applyRename(fr.destPath)
	if err := w.checkEscapes(destPath); err != nil {
		return &copyjob.Entry{SourcePath: fr.srcPath, DestPath: destPath, Failed: err}, false, nil
	}

	switch {
	case mode&os.ModeSymlink != 0:
		target, err := os.Readlink(fr.srcPath)
		if err != nil {
			return nil, false, err
		}
		uid, gid, _ := ownerOf(fr.info)
		return &copyjob.Entry{
			Kind:          copyjob.KindSymlink,
			SourcePath:    fr.srcPath,
			DestPath:      destPath,
			SymlinkTarget: target,
			UID:           uid,
			GID:           gid,
			MTime:         fr.info.ModTime(),
		}, false, nil

	case mode.IsDir():
		if !w.opt.Recursive {
			return nil, false, nil
		}
		if w.opt.OneFilesystem {
			dev, ok := deviceOf(fr.info)
			if ok {
				if !w.haveRoot {
					w.rootDev = dev
					w.haveRoot = true
				} else if dev != w.rootDev {
					return nil, false, nil
				}
			}
		}
		uid, gid, _ := ownerOf(fr.info)
		return &copyjob.Entry{
			Kind:       copyjob.KindDirectory,
			SourcePath: fr.srcPath,
			DestPath:   destPath,
			Mode:       uint32(mode.Perm()),
			UID:        uid,
			GID:        gid,
			MTime:      fr.info.ModTime(),
		}, true, nil

	case mode.IsRegular():
		key, ok := inodeOf(fr.info)
		if ok {
			if prior, seen := w.table.Lookup(key); seen {
				return &copyjob.Entry{
					Kind:           copyjob.KindHardlinkAlias,
					SourcePath:     fr.srcPath,
					DestPath:       destPath,
					HardlinkTarget: prior,
					Inode:          key,
				}, false, nil
			}
			w.table.Record(key, destPath)
		}
		sparse, _ := sparseHint(fr.info)
		uid, gid, _ := ownerOf(fr.info)
		return &copyjob.Entry{
			Kind:       copyjob.KindFile,
			SourcePath: fr.srcPath,
			DestPath:   destPath,
			Size:       fr.info.Size(),
			Mode:       uint32(mode.Perm()),
			UID:        uid,
			GID:        gid,
			MTime:      fr.info.ModTime(),
			Sparse:     sparse,
			Inode:      key,
		}, false, nil

	default:
		// fifo, socket, device
		uid, gid, _ := ownerOf(fr.info)
		return &copyjob.Entry{
			Kind:       copyjob.KindSpecial,
			SourcePath: fr.srcPath,
			DestPath:   destPath,
			Mode:       uint32(mode.Perm()),
			UID:        uid,
			GID:        gid,
			MTime:      fr.info.ModTime(),
		}, false, nil
	}
}

// pushChildren lists, sorts, and pushes a directory's children plus its
// own deferred post-entry, maintaining pre-order DFS with a post-visit
// for metadata application (spec §4.3).
func (w *Walker) pushChildren(fr frame) {
	entries, err := os.ReadDir(fr.srcPath)
	if err != nil {
		// A directory that vanished or became unreadable mid-walk gets
		// only its ordinary post-entry; its children are skipped and the
		// read error is not reported.
		w.stack = append(w.stack, frame{srcPath: fr.srcPath, destPath: fr.destPath, info: fr.info, post: true})
		return
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)

	w.stack = append(w.stack, frame{srcPath: fr.srcPath, destPath: fr.destPath, info: fr.info, post: true})
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		childSrc := filepath.Join(fr.srcPath, name)
		fi, err := os.Lstat(childSrc)
		if err != nil {
			continue
		}
		w.stack = append(w.stack, frame{
			srcPath:  childSrc,
			destPath: filepath.Join(fr.destPath, name),
			info:     fi,
		})
	}
}

// applyRename rewrites the final path component per the job's rename
// rule, if any (spec §3, §4.3).
func (w *Walker) applyRename(destPath string) string {
	if w.renameRE == nil {
		return destPath
	}
	dir, base := filepath.Split(destPath)
	newBase := w.renameRE.ReplaceAllString(base, w.opt.Rename.Replacement)
	return filepath.Join(dir, newBase)
}

// checkEscapes rejects a destination path that normalizes outside the
// destination root after rename (spec §3 Rename rule, §8 Rename safety).
func (w *Walker) checkEscapes(destPath string) error {
	root := filepath.Clean(w.opt.Destination)
	clean := filepath.Clean(destPath)
	if clean == root {
		return nil
	}
	if !strings.HasPrefix(clean, root+string(filepath.Separator)) {
		return fmt.Errorf("rename produced path %q outside destination root %q", clean, root)
	}
	return nil
}
