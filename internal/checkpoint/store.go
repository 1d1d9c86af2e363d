// Package checkpoint implements the durable per-job progress record
// described in spec §4.4: one file per active job under a configured
// directory, atomically replaced via append-then-rename, removed on
// terminal status.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/v-t-p/copyd/internal/copyjob"
	"github.com/v-t-p/copyd/internal/pacer"
)

// ErrNotFound is returned by Load when no checkpoint exists for a job.
var ErrNotFound = errors.New("checkpoint: not found")

// Store persists Checkpoints under a single directory, one JSON file
// per job id, named by its canonical textual form.
type Store struct {
	dir string
	p   *pacer.Pacer
}

// New returns a Store rooted at dir, creating it if necessary. A
// checkpoint directory that cannot be created or written to is a
// startup-fatal condition (spec §7: "checkpoint directory unwritable
// at startup").
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}
	probe := filepath.Join(dir, ".copyd-write-probe")
	if err := os.WriteFile(probe, []byte{}, 0o600); err != nil {
		return nil, fmt.Errorf("checkpoint store: directory not writable: %w", err)
	}
	_ = os.Remove(probe)
	return &Store{dir: dir, p: pacer.New(pacer.WithRetries(3))}, nil
}

func (s *Store) path(jobID copyjob.ID) string {
	return filepath.Join(s.dir, jobID.String()+".json")
}

// Save atomically replaces the checkpoint file for cp.JobID using
// write-to-temp-then-rename, so a reader never observes a partially
// written record (spec §4.4).
func (s *Store) Save(cp copyjob.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	path := s.path(cp.JobID)
	return s.p.Call(func() (bool, error) {
		err := renameio.WriteFile(path, data, 0o600)
		return err != nil, err
	})
}

// Load reads the checkpoint for jobID, or ErrNotFound if none exists.
func (s *Store) Load(jobID copyjob.ID) (*copyjob.Checkpoint, error) {
	data, err := os.ReadFile(s.path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var cp copyjob.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Remove deletes the checkpoint for jobID. Called when a job reaches a
// terminal state (spec §4.4, §5 Cancellation).
func (s *Store) Remove(jobID copyjob.ID) error {
	err := os.Remove(s.path(jobID))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Digest computes a stable hash over a job's immutable fields, used to
// reject resume against a mutated job (spec §3 Checkpoint invariants).
func Digest(j *copyjob.Job) string {
	type immutable struct {
		Sources     []string
		Destination string
		Recursive   bool
		Metadata    copyjob.MetadataFlags
		Verify      copyjob.VerifyMode
		Collision   copyjob.CollisionPolicy
		Engine      copyjob.EngineRequest
		ChunkSize   int64
		Rename      *copyjob.RenameRule
	}
	data, _ := json.Marshal(immutable{
		Sources:     j.Sources,
		Destination: j.Destination,
		Recursive:   j.Recursive,
		Metadata:    j.Metadata,
		Verify:      j.Verify,
		Collision:   j.Collision,
		Engine:      j.Engine,
		ChunkSize:   j.ChunkSize,
		Rename:      j.Rename,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Valid reports whether cp may be used to resume job: its immutable
// digest must match, and the partially-copied destination file (if
// any, identified by destPath) must have length >= cp.EntryOffset
// (spec §3 Checkpoint invariants, §4.4 Resume procedure).
func Valid(cp *copyjob.Checkpoint, j *copyjob.Job, destPath string) bool {
	if cp.ImmutableDigest != Digest(j) {
		return false
	}
	if destPath == "" {
		return true
	}
	fi, err := os.Stat(destPath)
	if err != nil {
		return false
	}
	return fi.Size() >= cp.EntryOffset
}
