// Package copyjob holds the daemon's core data model: Job, Entry,
// Progress and Checkpoint, and the status state machine that governs
// them (spec §3). The scheduler owns Jobs; executors borrow a Job
// handle for the duration of a run and mutate it through the
// synchronized accessors here rather than touching fields directly.
package copyjob

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ID is a job's 128-bit identifier, rendered in canonical textual form
// for logs and the control socket.
type ID = uuid.UUID

// NewID mints a fresh job identifier.
func NewID() ID { return uuid.New() }

// ParseID parses a canonical textual job id.
func ParseID(s string) (ID, error) { return uuid.Parse(s) }

// Status is one of the absorbing-terminal state machine states (spec §3).
type Status int

const (
	Pending Status = iota
	Running
	Paused
	Completed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of the absorbing states.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// validTransitions enumerates the state machine edges from spec §3.
var validTransitions = map[Status]map[Status]bool{
	Pending: {Running: true, Cancelled: true},
	Running: {Paused: true, Completed: true, Failed: true, Cancelled: true},
	Paused:  {Running: true, Cancelled: true},
}

// CanTransition reports whether from->to is a legal edge.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	return validTransitions[from][to]
}

// VerifyMode selects the post-copy integrity check (spec §4.5).
type VerifyMode int

const (
	VerifyNone VerifyMode = iota
	VerifySize
	VerifyMD5
	VerifySHA256
)

func ParseVerifyMode(s string) (VerifyMode, error) {
	switch s {
	case "", "none":
		return VerifyNone, nil
	case "size":
		return VerifySize, nil
	case "md5":
		return VerifyMD5, nil
	case "sha256":
		return VerifySHA256, nil
	default:
		return VerifyNone, fmt.Errorf("unknown verify mode %q", s)
	}
}

// CollisionPolicy governs what happens when a destination already exists.
type CollisionPolicy int

const (
	CollisionOverwrite CollisionPolicy = iota
	CollisionSkip
	CollisionSerial
)

func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch s {
	case "", "overwrite":
		return CollisionOverwrite, nil
	case "skip":
		return CollisionSkip, nil
	case "serial":
		return CollisionSerial, nil
	default:
		return CollisionOverwrite, fmt.Errorf("unknown collision policy %q", s)
	}
}

// EngineRequest is "auto" or a specific strategy name (spec §4.2).
type EngineRequest string

const (
	EngineAuto           EngineRequest = "auto"
	EngineReflink        EngineRequest = "reflink"
	EngineCopyFileRange  EngineRequest = "copy_file_range"
	EngineSendfile       EngineRequest = "sendfile"
	EngineIOUring        EngineRequest = "io_uring"
	EngineReadWrite      EngineRequest = "read_write"
)

// RenameRule rewrites the final path component of emitted entries.
type RenameRule struct {
	Pattern     string
	Replacement string
}

// MetadataFlags selects which metadata classes are preserved (spec §3).
type MetadataFlags struct {
	Mode      bool
	Ownership bool
	Times     bool
	HardLinks bool
	Sparse    bool
	Special   bool
	XAttrs    bool
}

// FirstError is the job's sticky first-error record (spec §4.7, §7).
type FirstError struct {
	Path string
	Err  error
	At   time.Time
}

// Job is a unit of work. Immutable fields are set at creation and never
// change; mutable fields are guarded by mu and must be read/written
// through the methods below, except for the atomic progress counters
// which callers on the hot path may bump directly via Progress().
type Job struct {
	// Immutable
	ID               ID
	Sources          []string
	Destination      string
	Recursive        bool
	Metadata         MetadataFlags
	Verify           VerifyMode
	Collision        CollisionPolicy
	Priority         uint32
	MaxRateBytesPS   int64 // 0 = uncapped
	Engine           EngineRequest
	DryRun           bool
	Rename           *RenameRule
	ChunkSize        int64
	EnableCompress   bool
	EnableEncrypt    bool
	SubmittedAt      time.Time
	OneFilesystem    bool
	CleanupOnCancel  bool
	PreserveSparse   bool

	progress Progress

	mu          sync.Mutex
	status      Status
	firstErr    *FirstError
	errorCount  int64
	startedAt   time.Time
	completedAt time.Time
	cursor      string // opaque checkpoint cursor token
}

// NewJob constructs a Job in the Pending state.
func NewJob(sources []string, dest string) *Job {
	return &Job{
		ID:          NewID(),
		Sources:     sources,
		Destination: dest,
		ChunkSize:   1 << 20,
		Engine:      EngineAuto,
		SubmittedAt: time.Now(),
		status:      Pending,
	}
}

// Status returns the job's current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// SetStatus applies a status transition, returning false if the edge
// from the current status to next is not legal (terminal states are
// absorbing). Entering Running for the first time stamps StartedAt;
// entering a terminal state stamps CompletedAt.
func (j *Job) SetStatus(next Status) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !CanTransition(j.status, next) {
		return false
	}
	j.status = next
	if next == Running && j.startedAt.IsZero() {
		j.startedAt = time.Now()
	}
	if next.Terminal() {
		j.completedAt = time.Now()
	}
	return true
}

// RecordError stashes err as the sticky first error, or increments the
// overflow counter if one is already recorded (spec §4.7, §7).
func (j *Job) RecordError(path string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.firstErr == nil {
		j.firstErr = &FirstError{Path: path, Err: err, At: time.Now()}
		return
	}
	j.errorCount++
}

// FirstError returns the sticky first error and the count of suppressed
// subsequent errors.
func (j *Job) FirstError() (*FirstError, int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.firstErr, j.errorCount
}

// Timestamps returns started/completed times (zero if not yet set).
func (j *Job) Timestamps() (started, completed time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startedAt, j.completedAt
}

// SetCursor records the checkpoint cursor token.
func (j *Job) SetCursor(cursor string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cursor = cursor
}

// Cursor returns the last recorded checkpoint cursor token.
func (j *Job) Cursor() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cursor
}

// Progress returns the job's progress aggregator target. Safe for
// concurrent use; see Progress for its own synchronization.
func (j *Job) Progress() *Progress { return &j.progress }
