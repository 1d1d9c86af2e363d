// Package config loads the daemon's YAML configuration file (spec §6),
// applying defaults and validating the result the way rclone's
// fs.ConfigInfo loading layer does for its own config file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of daemon-wide tunables (spec §6).
type Config struct {
	SocketPath            string `yaml:"socket_path"`
	MaxConcurrentJobs     int    `yaml:"max_concurrent_jobs"`
	MaxJobQueueSize       int    `yaml:"max_job_queue_size"`
	DefaultBlockSize      int64  `yaml:"default_block_size"`
	MaxRateMBPS           int64  `yaml:"max_rate_mbps"`
	MetricsBindAddr       string `yaml:"metrics_bind_addr"`
	LogLevel              string `yaml:"log_level"`
	JobHistoryDays        int    `yaml:"job_history_days"`
	CheckpointIntervalSec int    `yaml:"checkpoint_interval_secs"`
	TempDir               string `yaml:"temp_dir"`
	EnableCompression     bool   `yaml:"enable_compression"`
	EnableEncryption      bool   `yaml:"enable_encryption"`
	IOUringEntries        uint32 `yaml:"io_uring_entries"`
	WatchdogEnabled       bool   `yaml:"watchdog_enabled"`
	CheckpointDir         string `yaml:"checkpoint_dir"`
	BlockedExtensions     []string `yaml:"blocked_extensions"`
	MaxFileSizeBytes      int64    `yaml:"max_file_size_bytes"`
}

// Default returns the built-in defaults (spec §6), applied before a
// config file is overlaid on top.
func Default() Config {
	return Config{
		SocketPath:            "/run/copyd/copyd.sock",
		MaxConcurrentJobs:     4,
		MaxJobQueueSize:       256,
		DefaultBlockSize:      1 << 20,
		MaxRateMBPS:           0,
		MetricsBindAddr:       "127.0.0.1:9090",
		LogLevel:              "info",
		JobHistoryDays:        7,
		CheckpointIntervalSec: 5,
		TempDir:               os.TempDir(),
		IOUringEntries:        256,
		WatchdogEnabled:       true,
		CheckpointDir:         "/var/lib/copyd/checkpoints",
	}
}

// Load reads and parses the YAML file at path, overlaying it onto
// Default(), then validates the result. An empty path returns the
// defaults unmodified (spec §6: config file is optional).
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects combinations that would leave the daemon unable to
// start (spec §6, §7).
func (c Config) Validate() error {
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("config: max_concurrent_jobs must be positive, got %d", c.MaxConcurrentJobs)
	}
	if c.MaxJobQueueSize <= 0 {
		return fmt.Errorf("config: max_job_queue_size must be positive, got %d", c.MaxJobQueueSize)
	}
	if c.DefaultBlockSize <= 0 {
		return fmt.Errorf("config: default_block_size must be positive, got %d", c.DefaultBlockSize)
	}
	if c.MaxRateMBPS < 0 {
		return fmt.Errorf("config: max_rate_mbps must not be negative")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("config: socket_path must not be empty")
	}
	if c.CheckpointDir == "" {
		return fmt.Errorf("config: checkpoint_dir must not be empty")
	}
	if c.JobHistoryDays < 0 {
		return fmt.Errorf("config: job_history_days must not be negative")
	}
	return nil
}

// CheckpointInterval converts the configured seconds to a Duration.
func (c Config) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalSec) * time.Second
}

// MaxRateBytesPerSec converts the configured MiB/s cap to bytes/sec, 0
// meaning uncapped.
func (c Config) MaxRateBytesPerSec() int64 {
	if c.MaxRateMBPS <= 0 {
		return 0
	}
	return c.MaxRateMBPS * (1 << 20)
}
