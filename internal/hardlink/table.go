// Package hardlink implements the job-scoped hardlink table that lets
// traversal coalesce multiple sources sharing (dev, ino) into a single
// destination file plus hard-link aliases (spec §3, §4.3).
package hardlink

import (
	"sync"

	"github.com/v-t-p/copyd/internal/copyjob"
)

// Table maps a source inode identity to the destination path created
// for the first source that reached it. It is single-writer (the
// executor) per spec §5 but Lookup is safe for concurrent readers in
// case the estimator pass wants to consult it.
type Table struct {
	mu   sync.RWMutex
	dest map[copyjob.InodeKey]string
}

// New returns an empty hardlink table.
func New() *Table {
	return &Table{dest: make(map[copyjob.InodeKey]string)}
}

// Lookup returns the destination path recorded for key, if any.
func (t *Table) Lookup(key copyjob.InodeKey) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.dest[key]
	return p, ok
}

// Record associates key with the destination path created for its
// first emission. Subsequent emissions of the same key become
// hardlink-alias entries pointing at this path.
func (t *Table) Record(key copyjob.InodeKey, destPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dest[key] = destPath
}

// Len reports how many distinct inodes have been recorded.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.dest)
}
