// Command copyd is the file-copy daemon: it loads its configuration,
// opens the control socket, and runs the scheduler until signalled to
// stop (spec §6).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/v-t-p/copyd/internal/checkpoint"
	"github.com/v-t-p/copyd/internal/config"
	"github.com/v-t-p/copyd/internal/engine"
	"github.com/v-t-p/copyd/internal/executor"
	"github.com/v-t-p/copyd/internal/metrics"
	"github.com/v-t-p/copyd/internal/ratelimit"
	"github.com/v-t-p/copyd/internal/scheduler"
	"github.com/v-t-p/copyd/internal/security"
	"github.com/v-t-p/copyd/internal/server"
)

// Exit codes per spec §6.
const (
	exitOK                = 0
	exitConfigError       = 3
	exitSocketError       = 1
	exitCheckpointError   = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		socketOverride string
		foreground bool
	)

	root := &cobra.Command{
		Use:   "copyd",
		Short: "Linux file-copy daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&socketOverride, "socket", "", "override the configured control socket path")
	root.PersistentFlags().BoolVar(&foreground, "foreground", true, "run attached to the controlling terminal")

	exitCode := exitOK
	root.RunE = func(cmd *cobra.Command, args []string) error {
		code, err := serve(configPath, socketOverride)
		exitCode = code
		return err
	}
	root.SilenceUsage = true

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "copyd:", err)
		if exitCode == exitOK {
			exitCode = exitConfigError
		}
	}
	return exitCode
}

func serve(configPath, socketOverride string) (int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return exitConfigError, err
	}
	if socketOverride != "" {
		cfg.SocketPath = socketOverride
	}

	log := newLogger(cfg.LogLevel)

	cpStore, err := checkpoint.New(cfg.CheckpointDir)
	if err != nil {
		log.WithError(err).Error("checkpoint store unavailable")
		return exitCheckpointError, err
	}

	registry := engine.NewRegistry(log, cfg.IOUringEntries)
	global := ratelimit.New(cfg.MaxRateBytesPerSec())
	validator := security.New(security.Policy{
		BlockedExtensions: cfg.BlockedExtensions,
		MaxFileSizeBytes:  cfg.MaxFileSizeBytes,
	})

	sched := scheduler.New(scheduler.Config{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		MaxQueueSize:      cfg.MaxJobQueueSize,
		JobHistoryTTL:     time.Duration(cfg.JobHistoryDays) * 24 * time.Hour,
		ExecutorConfig: executor.Config{
			CheckpointInterval: cfg.CheckpointInterval(),
			CheckpointBytes:    64 << 20,
			EventTick:          250 * time.Millisecond,
			TempDir:            cfg.TempDir,
		},
	}, registry, global, cpStore, validator, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)

	srv := server.New(cfg.SocketPath, sched, log)
	ln, err := srv.Serve()
	if err != nil {
		log.WithError(err).Error("failed to open control socket")
		return exitSocketError, err
	}
	defer closeListener(ln)

	if cfg.MetricsBindAddr != "" {
		m := metrics.New()
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsBindAddr, m, sched, 5*time.Second); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	log.WithFields(logrus.Fields{
		"socket":  cfg.SocketPath,
		"metrics": cfg.MetricsBindAddr,
	}).Info("copyd ready")

	<-ctx.Done()
	log.Info("shutting down")
	return exitOK, nil
}

func closeListener(ln net.Listener) {
	if ln != nil {
		_ = ln.Close()
	}
}

func newLogger(level string) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return logrus.NewEntry(l)
}
