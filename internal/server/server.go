package server

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/v-t-p/copyd/internal/copyjob"
	"github.com/v-t-p/copyd/internal/errs"
	"github.com/v-t-p/copyd/internal/pacer"
	"github.com/v-t-p/copyd/internal/progress"
	"github.com/v-t-p/copyd/internal/scheduler"
)

// maxFrameSize bounds a single request/response frame to guard against
// a misbehaving client exhausting memory with a bogus length prefix.
const maxFrameSize = 64 << 20

// Server accepts connections on a Unix-domain control socket and
// dispatches framed requests to the scheduler (spec §6).
type Server struct {
	socketPath string
	sched      *scheduler.Scheduler
	log        *logrus.Entry
}

// New returns a Server bound to socketPath, removing any stale socket
// file left behind by a previous instance.
func New(socketPath string, sched *scheduler.Scheduler, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{socketPath: socketPath, sched: sched, log: log.WithField("component", "server")}
}

// Serve listens and accepts connections until the listener is closed by
// the caller cancelling the passed-in stop channel's owning context; the
// caller is responsible for calling ln.Close() to unblock Accept.
func (s *Server) Serve() (net.Listener, error) {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("server: removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("server: listen: %w", err)
	}
	go s.acceptLoop(ln)
	return ln, nil
}

// acceptLoop paces retries on transient accept errors (e.g. the process
// briefly running out of file descriptors) instead of spinning, while
// treating a closed listener as the normal shutdown signal.
func (s *Server) acceptLoop(ln net.Listener) {
	p := pacer.New(pacer.WithMaxSleep(time.Second), pacer.WithRetries(5))
	for {
		var conn net.Conn
		err := p.Call(func() (bool, error) {
			var acceptErr error
			conn, acceptErr = ln.Accept()
			if acceptErr == nil {
				return false, nil
			}
			if ne, ok := acceptErr.(net.Error); ok && ne.Temporary() {
				s.log.WithError(acceptErr).Warn("transient accept error, retrying")
				return true, acceptErr
			}
			return false, acceptErr
		})
		if err != nil {
			return // listener closed or permanent error
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		req, err := readFrame(r)
		if err == io.EOF {
			return
		}
		if err != nil {
			s.log.WithError(err).Warn("malformed request frame, closing connection")
			return
		}
		var request Request
		if err := json.Unmarshal(req, &request); err != nil {
			writeFrame(conn, errorResponse(errs.New(errs.InvalidRequest, err)))
			continue
		}
		s.dispatch(conn, &request)
	}
}

func (s *Server) dispatch(conn net.Conn, req *Request) {
	switch req.Op {
	case OpCreateJob:
		s.handleCreateJob(conn, req)
	case OpJobStatus:
		s.handleJobStatus(conn, req)
	case OpListJobs:
		s.handleListJobs(conn)
	case OpCancelJob:
		s.handleControl(conn, req, s.sched.Cancel)
	case OpPauseJob:
		s.handleControl(conn, req, s.sched.Pause)
	case OpResumeJob:
		s.handleControl(conn, req, s.sched.Resume)
	case OpGetStats:
		s.handleGetStats(conn)
	case OpHealth:
		writeFrame(conn, Response{OK: true, Healthy: true})
	default:
		writeFrame(conn, errorResponse(errs.New(errs.InvalidRequest, fmt.Errorf("unknown op %q", req.Op))))
	}
}

func (s *Server) handleCreateJob(conn net.Conn, req *Request) {
	if req.Spec == nil {
		writeFrame(conn, errorResponse(errs.New(errs.InvalidRequest, fmt.Errorf("create_job requires spec"))))
		return
	}
	job, err := req.Spec.ToJob()
	if err != nil {
		writeFrame(conn, errorResponse(errs.New(errs.InvalidRequest, err)))
		return
	}
	if err := s.sched.Submit(job); err != nil {
		writeFrame(conn, errorResponse(errs.New(errs.Precondition, err)))
		return
	}
	writeFrame(conn, Response{OK: true, JobID: job.ID.String()})

	events, err := waitForEvents(s.sched, job.ID)
	if err != nil {
		return
	}
	streamEvents(conn, job.ID.String(), events)
}

// waitForEvents polls briefly for the scheduler to admit the job onto
// an executor so its event stream becomes available; create_job's
// streaming phase is best-effort and a client that disconnects loses
// nothing but the live feed (job_status remains authoritative).
func waitForEvents(sched *scheduler.Scheduler, id copyjob.ID) (<-chan progress.Event, error) {
	for i := 0; i < 50; i++ {
		if ev, err := sched.Events(id); err == nil {
			return ev, nil
		}
		if _, _, err := sched.Lookup(id); err == scheduler.ErrNotFound {
			return nil, err
		}
	}
	return nil, scheduler.ErrNotFound
}

func streamEvents(conn net.Conn, jobID string, events <-chan progress.Event) {
	for ev := range events {
		frame := EventFrame{JobID: jobID}
		switch ev.Kind {
		case progress.EventProgress:
			frame.Kind = "progress"
			frame.Progress = ev.Progress
		case progress.EventLog:
			frame.Kind = "log"
			frame.Message = ev.Message
		case progress.EventStatusChange:
			frame.Kind = "status_change"
			frame.Status = ev.Status.String()
			frame.Terminal = ev.Terminal
		}
		if err := writeFrame(conn, frame); err != nil {
			return
		}
		if frame.Terminal {
			return
		}
	}
}

func (s *Server) handleJobStatus(conn net.Conn, req *Request) {
	id, err := copyjob.ParseID(req.JobID)
	if err != nil {
		writeFrame(conn, errorResponse(errs.New(errs.InvalidRequest, err)))
		return
	}
	job, _, err := s.sched.Lookup(id)
	if err != nil {
		writeFrame(conn, errorResponse(errs.New(errs.NotFound, err)))
		return
	}
	status := renderJob(job)
	writeFrame(conn, Response{OK: true, Job: status})
}

func (s *Server) handleListJobs(conn net.Conn) {
	jobs := s.sched.List()
	out := make([]*JobStatus, len(jobs))
	for i, j := range jobs {
		out[i] = renderJob(j)
	}
	writeFrame(conn, Response{OK: true, Jobs: out})
}

func (s *Server) handleControl(conn net.Conn, req *Request, op func(copyjob.ID) error) {
	id, err := copyjob.ParseID(req.JobID)
	if err != nil {
		writeFrame(conn, errorResponse(errs.New(errs.InvalidRequest, err)))
		return
	}
	if err := op(id); err != nil {
		writeFrame(conn, errorResponse(errs.New(errs.NotFound, err)))
		return
	}
	writeFrame(conn, Response{OK: true, JobID: req.JobID})
}

func (s *Server) handleGetStats(conn net.Conn) {
	stats := s.sched.Stats()
	writeFrame(conn, Response{OK: true, Stats: &StatsPayload{
		PendingJobs: stats.Pending, RunningJobs: stats.Running,
		TerminalJobs: stats.Terminal, Capacity: stats.Capacity,
	}})
}

func renderJob(job *copyjob.Job) *JobStatus {
	started, completed := job.Timestamps()
	status := &JobStatus{
		JobID:       job.ID.String(),
		Status:      job.Status().String(),
		Sources:     job.Sources,
		Destination: job.Destination,
		SubmittedAt: job.SubmittedAt,
		StartedAt:   started,
		CompletedAt: completed,
		Progress:    job.Progress().Snapshot(),
	}
	if fe, count := job.FirstError(); fe != nil {
		status.FirstError = fmt.Sprintf("%s: %v", fe.Path, fe.Err)
		status.ErrorCount = count
	}
	return status
}

func errorResponse(err error) Response {
	return Response{OK: false, Error: &ErrorPayload{Kind: errs.KindOf(err).String(), Message: err.Error()}}
}

// readFrame reads one 4-byte-length-prefixed JSON frame.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("server: frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeFrame marshals v as JSON and writes it length-prefixed.
func writeFrame(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
