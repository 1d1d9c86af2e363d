package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v-t-p/copyd/internal/ratelimit"
)

func TestReadWriteStrategyCopiesWholeFile(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src")
	dstPath := filepath.Join(dir, "dst")
	content := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, os.WriteFile(srcPath, content, 0o600))
	require.NoError(t, os.WriteFile(dstPath, nil, 0o600))

	src, err := os.Open(srcPath)
	require.NoError(t, err)
	defer src.Close()
	dst, err := os.OpenFile(dstPath, os.O_WRONLY, 0o600)
	require.NoError(t, err)
	defer dst.Close()

	strat := newReadWriteStrategy()
	res, err := strat.Transfer(Request{
		Ctx: context.Background(), Src: src, Dst: dst,
		Length: int64(len(content)), ChunkSize: 4,
		Limiter: ratelimit.Pair{},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), res.BytesCopied)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestReadWriteStrategyAlwaysApplicable(t *testing.T) {
	strat := newReadWriteStrategy()
	assert.True(t, strat.Applicable(Request{}))
	assert.Equal(t, ReadWrite, strat.Name())
}
