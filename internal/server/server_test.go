package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v-t-p/copyd/internal/checkpoint"
	"github.com/v-t-p/copyd/internal/engine"
	"github.com/v-t-p/copyd/internal/executor"
	"github.com/v-t-p/copyd/internal/scheduler"
	"github.com/v-t-p/copyd/internal/security"
)

func newTestServer(t *testing.T) (*Server, net.Listener, *scheduler.Scheduler, context.CancelFunc) {
	t.Helper()
	cpDir := t.TempDir()
	cpStore, err := checkpoint.New(cpDir)
	require.NoError(t, err)
	registry := engine.NewRegistry(nil, 0)
	validator := security.New(security.Policy{})

	sched := scheduler.New(scheduler.Config{
		MaxConcurrentJobs: 2,
		MaxQueueSize:      8,
		ExecutorConfig:    executor.Config{EventTick: 10 * time.Millisecond, TempDir: t.TempDir()},
	}, registry, nil, cpStore, validator, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	sockPath := filepath.Join(t.TempDir(), "copyd.sock")
	srv := New(sockPath, sched, nil)
	ln, err := srv.Serve()
	require.NoError(t, err)
	return srv, ln, sched, cancel
}

func roundTrip(t *testing.T, conn net.Conn, req Request) Response {
	t.Helper()
	require.NoError(t, writeFrame(conn, req))
	data, err := readFrame(bufio.NewReader(conn))
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestServerCreateJobStatusListCancel(t *testing.T) {
	_, ln, _, cancel := newTestServer(t)
	defer cancel()
	defer ln.Close()

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "f.txt"), []byte("data"), 0o644))
	destDir := t.TempDir()

	conn, err := net.Dial("unix", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	createReq := Request{Op: OpCreateJob, Spec: &JobSpec{Sources: []string{srcDir}, Destination: destDir, Recursive: true}}
	require.NoError(t, writeFrame(conn, createReq))
	data, err := readFrame(r)
	require.NoError(t, err)
	var created Response
	require.NoError(t, json.Unmarshal(data, &created))
	require.True(t, created.OK)
	require.NotEmpty(t, created.JobID)

	// Drain any streamed event frames until the job reaches a terminal status.
	for {
		data, err := readFrame(r)
		if err != nil {
			break
		}
		var ef EventFrame
		require.NoError(t, json.Unmarshal(data, &ef))
		if ef.Kind == "status_change" && ef.Terminal {
			break
		}
	}

	conn2, err := net.Dial("unix", ln.Addr().String())
	require.NoError(t, err)
	defer conn2.Close()

	statusResp := roundTrip(t, conn2, Request{Op: OpJobStatus, JobID: created.JobID})
	require.True(t, statusResp.OK)
	assert.Equal(t, created.JobID, statusResp.Job.JobID)

	listResp := roundTrip(t, conn2, Request{Op: OpListJobs})
	require.True(t, listResp.OK)
	assert.NotEmpty(t, listResp.Jobs)
}

func TestServerJobStatusUnknownIDReturnsError(t *testing.T) {
	_, ln, _, cancel := newTestServer(t)
	defer cancel()
	defer ln.Close()

	conn, err := net.Dial("unix", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, Request{Op: OpJobStatus, JobID: "00000000-0000-0000-0000-000000000000"})
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Kind)
}

func TestServerHealthCheck(t *testing.T) {
	_, ln, _, cancel := newTestServer(t)
	defer cancel()
	defer ln.Close()

	conn, err := net.Dial("unix", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, Request{Op: OpHealth})
	assert.True(t, resp.OK)
	assert.True(t, resp.Healthy)
}

func TestServerUnknownOpReturnsInvalidRequest(t *testing.T) {
	_, ln, _, cancel := newTestServer(t)
	defer cancel()
	defer ln.Close()

	conn, err := net.Dial("unix", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, Request{Op: RequestType("bogus")})
	assert.False(t, resp.OK)
	assert.Equal(t, "invalid_request", resp.Error.Kind)
}
