// Package engine implements the pluggable copy-engine abstraction
// (spec §4.2): a registry of strategies ordered by priority, each
// capable of transferring one chunk between two already-open
// descriptors, with graceful fallback when a strategy declares itself
// not applicable to a given pair.
package engine

import (
	"context"
	"os"

	"github.com/v-t-p/copyd/internal/errs"
	"github.com/v-t-p/copyd/internal/ratelimit"
)

// Name identifies a copy-engine strategy.
type Name string

const (
	Reflink       Name = "reflink"
	CopyFileRange Name = "copy_file_range"
	Sendfile      Name = "sendfile"
	IOUring       Name = "io_uring"
	ReadWrite     Name = "read_write"
)

// Request parameterizes a single chunk transfer call (spec §4.2).
type Request struct {
	Ctx        context.Context
	Src        *os.File
	Dst        *os.File
	SrcOffset  int64
	DstOffset  int64
	Length     int64 // maximum bytes to transfer this call
	ChunkSize  int64
	Limiter    ratelimit.Pair
	WholeFile  bool // true when SrcOffset==0 && Length==source size
	SameFS     bool // src and dst resolved to the same filesystem
}

// Result reports the outcome of one Transfer call.
type Result struct {
	BytesCopied int64
	EOF         bool
}

// Strategy is the capability contract every engine implements: given a
// Request, transfer up to Length bytes and report how much was copied
// and whether EOF was reached. A strategy that cannot service the
// Request at all (wrong filesystem, kernel lacks the feature) returns
// an error satisfying errs.NotApplicable instead of attempting the
// syscall; any other error is treated as a hard engine failure.
type Strategy interface {
	Name() Name
	// Applicable performs a cheap pre-flight check (no data movement)
	// so the registry can skip strategies that certainly cannot serve
	// this request without incurring a failed syscall.
	Applicable(req Request) bool
	Transfer(req Request) (Result, error)
}

// notApplicable wraps errs.ErrNotApplicable with strategy context.
func notApplicable(name Name) error {
	return errs.Wrap(errs.EngineUnsupported, "", string(name), errs.ErrNotApplicable)
}
