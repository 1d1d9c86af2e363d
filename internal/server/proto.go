// Package server implements the Unix-domain control socket protocol
// (spec §6): 4-byte little-endian length-prefixed JSON frames, one request
// per frame, one response per frame, plus a streamed sequence of
// JobEvent frames for an in-flight create_job or job_events call.
package server

import (
	"time"

	"github.com/v-t-p/copyd/internal/copyjob"
)

// RequestType tags the operation a Request carries.
type RequestType string

const (
	OpCreateJob RequestType = "create_job"
	OpJobStatus RequestType = "job_status"
	OpListJobs  RequestType = "list_jobs"
	OpCancelJob RequestType = "cancel_job"
	OpPauseJob  RequestType = "pause_job"
	OpResumeJob RequestType = "resume_job"
	OpGetStats  RequestType = "get_stats"
	OpHealth    RequestType = "health_check"
)

// JobSpec is the client-supplied description of a job to create,
// mirroring copyjob.Job's configurable fields (spec §3, §6).
type JobSpec struct {
	Sources         []string            `json:"sources"`
	Destination     string              `json:"destination"`
	Recursive       bool                `json:"recursive"`
	Mode            bool                `json:"preserve_mode"`
	Ownership       bool                `json:"preserve_ownership"`
	Times           bool                `json:"preserve_times"`
	HardLinks       bool                `json:"preserve_hardlinks"`
	Sparse          bool                `json:"preserve_sparse"`
	Special         bool                `json:"preserve_special"`
	XAttrs          bool                `json:"preserve_xattrs"`
	Verify          string              `json:"verify"`
	Collision       string              `json:"collision"`
	Priority        uint32              `json:"priority"`
	MaxRateBytesPS  int64               `json:"max_rate_bytes_per_sec"`
	Engine          string              `json:"engine"`
	DryRun          bool                `json:"dry_run"`
	RenamePattern   string              `json:"rename_pattern,omitempty"`
	RenameReplace   string              `json:"rename_replacement,omitempty"`
	ChunkSize       int64               `json:"chunk_size,omitempty"`
	OneFilesystem   bool                `json:"one_filesystem"`
	CleanupOnCancel bool                `json:"cleanup_on_cancel"`
}

// ToJob converts a validated JobSpec into a pending copyjob.Job.
func (s JobSpec) ToJob() (*copyjob.Job, error) {
	job := copyjob.NewJob(append([]string(nil), s.Sources...), s.Destination)
	job.Recursive = s.Recursive
	job.Metadata = copyjob.MetadataFlags{
		Mode: s.Mode, Ownership: s.Ownership, Times: s.Times,
		HardLinks: s.HardLinks, Sparse: s.Sparse, Special: s.Special, XAttrs: s.XAttrs,
	}
	job.Priority = s.Priority
	job.MaxRateBytesPS = s.MaxRateBytesPS
	job.DryRun = s.DryRun
	job.OneFilesystem = s.OneFilesystem
	job.CleanupOnCancel = s.CleanupOnCancel

	if s.ChunkSize > 0 {
		job.ChunkSize = s.ChunkSize
	}
	if s.Engine != "" {
		job.Engine = copyjob.EngineRequest(s.Engine)
	}
	verify, err := copyjob.ParseVerifyMode(s.Verify)
	if err != nil {
		return nil, err
	}
	job.Verify = verify

	collision, err := copyjob.ParseCollisionPolicy(s.Collision)
	if err != nil {
		return nil, err
	}
	job.Collision = collision

	if s.RenamePattern != "" {
		job.Rename = &copyjob.RenameRule{Pattern: s.RenamePattern, Replacement: s.RenameReplace}
	}
	return job, nil
}

// Request is one client-to-daemon control frame.
type Request struct {
	Op     RequestType `json:"op"`
	JobID  string      `json:"job_id,omitempty"`
	Spec   *JobSpec    `json:"spec,omitempty"`
}

// Response is one daemon-to-client control frame.
type Response struct {
	OK      bool             `json:"ok"`
	Error   *ErrorPayload    `json:"error,omitempty"`
	JobID   string           `json:"job_id,omitempty"`
	Job     *JobStatus       `json:"job,omitempty"`
	Jobs    []*JobStatus     `json:"jobs,omitempty"`
	Stats   *StatsPayload    `json:"stats,omitempty"`
	Healthy bool             `json:"healthy,omitempty"`
}

// ErrorPayload renders an errs.Error's Kind and message to the client
// (spec §7).
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// JobStatus is the client-visible rendering of a copyjob.Job.
type JobStatus struct {
	JobID       string           `json:"job_id"`
	Status      string           `json:"status"`
	Sources     []string         `json:"sources"`
	Destination string           `json:"destination"`
	SubmittedAt time.Time        `json:"submitted_at"`
	StartedAt   time.Time        `json:"started_at,omitempty"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
	Progress    copyjob.Snapshot `json:"progress"`
	FirstError  string           `json:"first_error,omitempty"`
	ErrorCount  int64            `json:"suppressed_error_count,omitempty"`
}

// StatsPayload is the get_stats response body (spec §6).
type StatsPayload struct {
	PendingJobs  int `json:"pending_jobs"`
	RunningJobs  int `json:"running_jobs"`
	TerminalJobs int `json:"terminal_jobs"`
	Capacity     int `json:"capacity"`
}

// EventFrame is one item in the streamed sequence following a
// create_job response, carrying progress/log/status_change events
// (spec §4.6).
type EventFrame struct {
	JobID    string           `json:"job_id"`
	Kind     string           `json:"kind"`
	Progress copyjob.Snapshot `json:"progress,omitempty"`
	Message  string           `json:"message,omitempty"`
	Status   string           `json:"status,omitempty"`
	Terminal bool             `json:"terminal,omitempty"`
}
