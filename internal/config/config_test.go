package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysYAMLOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copyd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_concurrent_jobs: 8
log_level: debug
blocked_extensions: [".exe", ".bat"]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxConcurrentJobs)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{".exe", ".bat"}, cfg.BlockedExtensions)
	assert.Equal(t, Default().MaxJobQueueSize, cfg.MaxJobQueueSize) // untouched field keeps its default
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsEachInvalidField(t *testing.T) {
	base := Default()

	cases := []func(*Config){
		func(c *Config) { c.MaxConcurrentJobs = 0 },
		func(c *Config) { c.MaxJobQueueSize = 0 },
		func(c *Config) { c.DefaultBlockSize = 0 },
		func(c *Config) { c.MaxRateMBPS = -1 },
		func(c *Config) { c.SocketPath = "" },
		func(c *Config) { c.CheckpointDir = "" },
		func(c *Config) { c.JobHistoryDays = -1 },
	}
	for _, mutate := range cases {
		cfg := base
		mutate(&cfg)
		assert.Error(t, cfg.Validate())
	}
}

func TestCheckpointIntervalConvertsSeconds(t *testing.T) {
	cfg := Config{CheckpointIntervalSec: 5}
	assert.Equal(t, 5*time.Second, cfg.CheckpointInterval())
}

func TestMaxRateBytesPerSecConvertsMiB(t *testing.T) {
	cfg := Config{MaxRateMBPS: 10}
	assert.Equal(t, int64(10*(1<<20)), cfg.MaxRateBytesPerSec())

	cfg.MaxRateMBPS = 0
	assert.Equal(t, int64(0), cfg.MaxRateBytesPerSec())
}
