// Package metrics exposes the daemon's Prometheus metrics endpoint
// (spec §6 metrics_bind_addr), the way rclone's fs/accounting package
// hooks into a client_golang registry for --rc stats.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/v-t-p/copyd/internal/scheduler"
)

// Metrics wraps a dedicated Prometheus registry with the daemon's gauges
// and counters.
type Metrics struct {
	registry *prometheus.Registry

	jobsPending  prometheus.Gauge
	jobsRunning  prometheus.Gauge
	jobsTerminal prometheus.Gauge
	jobsTotal    *prometheus.CounterVec
	bytesTotal   prometheus.Counter
}

// New constructs a Metrics instance with all series registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "copyd", Name: "jobs_pending", Help: "Jobs waiting in the admission queue.",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "copyd", Name: "jobs_running", Help: "Jobs currently executing.",
		}),
		jobsTerminal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "copyd", Name: "jobs_terminal_retained", Help: "Completed/failed/cancelled jobs retained in history.",
		}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "copyd", Name: "jobs_total", Help: "Jobs that have reached a terminal status, by outcome.",
		}, []string{"status"}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "copyd", Name: "bytes_copied_total", Help: "Cumulative bytes copied across all jobs.",
		}),
	}
	reg.MustRegister(m.jobsPending, m.jobsRunning, m.jobsTerminal, m.jobsTotal, m.bytesTotal)
	return m
}

// Handler returns the HTTP handler to mount at metrics_bind_addr.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStats copies a scheduler.Stats snapshot into the gauges.
func (m *Metrics) ObserveStats(s scheduler.Stats) {
	m.jobsPending.Set(float64(s.Pending))
	m.jobsRunning.Set(float64(s.Running))
	m.jobsTerminal.Set(float64(s.Terminal))
}

// RecordTerminal increments the outcome counter for a job that just
// reached a terminal status.
func (m *Metrics) RecordTerminal(status string) {
	m.jobsTotal.WithLabelValues(status).Inc()
}

// AddBytes accumulates the cumulative bytes-copied counter.
func (m *Metrics) AddBytes(n int64) {
	m.bytesTotal.Add(float64(n))
}

// Serve runs the metrics HTTP server until ctx is cancelled, polling sc
// for gauge updates every tick.
func Serve(ctx context.Context, addr string, m *Metrics, sc *scheduler.Scheduler, tick time.Duration) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	if tick <= 0 {
		tick = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ObserveStats(sc.Stats())
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
