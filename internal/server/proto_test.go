package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Op: OpCreateJob, Spec: &JobSpec{Sources: []string{"/a"}, Destination: "/b"}}
	require.NoError(t, writeFrame(&buf, req))

	data, err := readFrame(bufio.NewReader(&buf))
	require.NoError(t, err)

	var got Request
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, req.Op, got.Op)
	assert.Equal(t, req.Spec.Sources, got.Spec.Sources)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	lenBuf[3] = 0xFF // most-significant byte of a little-endian length far exceeding maxFrameSize
	buf.Write(lenBuf[:])
	_, err := readFrame(bufio.NewReader(&buf))
	assert.Error(t, err)
}

func TestJobSpecToJobAppliesMetadataFlags(t *testing.T) {
	spec := JobSpec{
		Sources: []string{"/src"}, Destination: "/dst",
		Recursive: true, Mode: true, Ownership: true, Times: true,
		HardLinks: true, Sparse: true, Special: true, XAttrs: true,
		Verify: "sha256", Collision: "skip", Priority: 3,
	}
	job, err := spec.ToJob()
	require.NoError(t, err)
	assert.True(t, job.Recursive)
	assert.True(t, job.Metadata.Mode)
	assert.True(t, job.Metadata.XAttrs)
	assert.Equal(t, uint32(3), job.Priority)
}

func TestJobSpecToJobRejectsInvalidVerifyMode(t *testing.T) {
	spec := JobSpec{Sources: []string{"/src"}, Destination: "/dst", Verify: "bogus"}
	_, err := spec.ToJob()
	assert.Error(t, err)
}

func TestJobSpecToJobRejectsInvalidCollisionPolicy(t *testing.T) {
	spec := JobSpec{Sources: []string{"/src"}, Destination: "/dst", Collision: "bogus"}
	_, err := spec.ToJob()
	assert.Error(t, err)
}

func TestJobSpecToJobAppliesRenameRule(t *testing.T) {
	spec := JobSpec{
		Sources: []string{"/src"}, Destination: "/dst",
		RenamePattern: "^a", RenameReplace: "b",
	}
	job, err := spec.ToJob()
	require.NoError(t, err)
	require.NotNil(t, job.Rename)
	assert.Equal(t, "^a", job.Rename.Pattern)
	assert.Equal(t, "b", job.Rename.Replacement)
}

func TestJobSpecToJobDefaultsChunkSizeWhenUnset(t *testing.T) {
	spec := JobSpec{Sources: []string{"/src"}, Destination: "/dst"}
	job, err := spec.ToJob()
	require.NoError(t, err)
	assert.Greater(t, job.ChunkSize, int64(0))
}
