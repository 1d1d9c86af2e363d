package copyjob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	job := NewJob([]string{"/a"}, "/b")
	assert.Equal(t, Pending, job.Status())

	assert.True(t, job.SetStatus(Running))
	assert.Equal(t, Running, job.Status())

	assert.True(t, job.SetStatus(Paused))
	assert.True(t, job.SetStatus(Running))
	assert.True(t, job.SetStatus(Completed))

	// terminal states are absorbing
	assert.False(t, job.SetStatus(Running))
	assert.Equal(t, Completed, job.Status())
}

func TestStatusTransitionRejectsIllegalEdge(t *testing.T) {
	job := NewJob(nil, "/b")
	assert.False(t, job.SetStatus(Paused)) // cannot pause before running
	assert.False(t, job.SetStatus(Completed))
}

func TestTimestampsStampedOnTransition(t *testing.T) {
	job := NewJob(nil, "/b")
	started, completed := job.Timestamps()
	assert.True(t, started.IsZero())
	assert.True(t, completed.IsZero())

	job.SetStatus(Running)
	started, completed = job.Timestamps()
	assert.False(t, started.IsZero())
	assert.True(t, completed.IsZero())

	job.SetStatus(Failed)
	_, completed = job.Timestamps()
	assert.False(t, completed.IsZero())
}

func TestRecordErrorKeepsFirstAndCountsRest(t *testing.T) {
	job := NewJob(nil, "/b")
	job.RecordError("/a/1", assertErr("boom"))
	job.RecordError("/a/2", assertErr("bang"))
	job.RecordError("/a/3", assertErr("pow"))

	fe, count := job.FirstError()
	require.NotNil(t, fe)
	assert.Equal(t, "/a/1", fe.Path)
	assert.EqualError(t, fe.Err, "boom")
	assert.Equal(t, int64(2), count)
}

func TestParseVerifyMode(t *testing.T) {
	cases := map[string]VerifyMode{"": VerifyNone, "none": VerifyNone, "size": VerifySize, "md5": VerifyMD5, "sha256": VerifySHA256}
	for in, want := range cases {
		got, err := ParseVerifyMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseVerifyMode("bogus")
	assert.Error(t, err)
}

func TestParseCollisionPolicy(t *testing.T) {
	cases := map[string]CollisionPolicy{"": CollisionOverwrite, "overwrite": CollisionOverwrite, "skip": CollisionSkip, "serial": CollisionSerial}
	for in, want := range cases {
		got, err := ParseCollisionPolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCollisionPolicy("bogus")
	assert.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
