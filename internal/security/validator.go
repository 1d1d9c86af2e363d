// Package security implements the external validator the executor
// consults before any destination writes (spec §4.7 step 2): path
// traversal, blocked extensions, and file-size caps.
package security

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/v-t-p/copyd/internal/copyjob"
	"github.com/v-t-p/copyd/internal/errs"
)

// Policy is the set of checks applied to every entry before it is
// written. A zero-value Policy rejects nothing.
type Policy struct {
	BlockedExtensions []string // compared case-insensitively, with leading dot
	MaxFileSizeBytes  int64    // 0 = unlimited
}

// Validator applies a Policy to sources/entries ahead of any writes.
type Validator struct {
	policy Policy
}

// New returns a Validator enforcing policy.
func New(policy Policy) *Validator { return &Validator{policy: policy} }

// CheckSources rejects a source that, once made absolute, is equal to
// the destination or is an ancestor of it (the destination would lie
// inside the tree being copied).
func (v *Validator) CheckSources(sources []string, destination string) error {
	destAbs, err := filepath.Abs(destination)
	if err != nil {
		return errs.New(errs.Precondition, err)
	}
	for _, src := range sources {
		srcAbs, err := filepath.Abs(src)
		if err != nil {
			return errs.New(errs.Precondition, err)
		}
		if srcAbs == destAbs {
			return errs.New(errs.Precondition, fmt.Errorf("source %q equals destination", src))
		}
		if isAncestor(srcAbs, destAbs) {
			return errs.New(errs.Precondition, fmt.Errorf("source %q is an ancestor of destination %q", src, destination))
		}
	}
	return nil
}

// CheckEntry rejects an entry whose extension is blocked or whose size
// exceeds the configured cap.
func (v *Validator) CheckEntry(e *copyjob.Entry) error {
	if e.Kind != copyjob.KindFile {
		return nil
	}
	if len(v.policy.BlockedExtensions) > 0 {
		ext := strings.ToLower(filepath.Ext(e.SourcePath))
		for _, blocked := range v.policy.BlockedExtensions {
			if ext == strings.ToLower(blocked) {
				return errs.New(errs.Precondition, fmt.Errorf("extension %q is blocked", ext))
			}
		}
	}
	if v.policy.MaxFileSizeBytes > 0 && e.Size > v.policy.MaxFileSizeBytes {
		return errs.New(errs.Precondition, fmt.Errorf("file size %d exceeds cap %d", e.Size, v.policy.MaxFileSizeBytes))
	}
	return nil
}

// isAncestor reports whether candidate is a path prefix of target, i.e.
// target lives inside candidate's subtree.
func isAncestor(candidate, target string) bool {
	candidate = filepath.Clean(candidate)
	target = filepath.Clean(target)
	if candidate == target {
		return false
	}
	rel, err := filepath.Rel(candidate, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
