// Package metrics records per-run orchestration metrics and exports them as a
// Prometheus textfile for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stackctl"

// Recorder collects the metrics of one command invocation.
type Recorder struct {
	phaseDuration     *prometheus.GaugeVec
	readinessAttempts *prometheus.GaugeVec
	readinessSeconds  *prometheus.GaugeVec
	setupOutcome      *prometheus.GaugeVec
	lastRun           *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.phaseDuration = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of the last run of each orchestration phase",
		},
		[]string{"phase", "status"},
	)
	r.readinessAttempts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "readiness_attempts",
			Help:      "Probe attempts used before the service became ready or timed out",
		},
		[]string{"service", "outcome"},
	)
	r.readinessSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "readiness_wait_seconds",
			Help:      "Time spent waiting for the service to become ready",
		},
		[]string{"service"},
	)
	r.setupOutcome = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "setup_outcome",
			Help:      "Outcome of first-run setup (1 for the outcome that happened)",
		},
		[]string{"outcome"},
	)
	r.lastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last command run",
		},
		[]string{"command", "status"},
	)

	r.registry.MustRegister(r.phaseDuration, r.readinessAttempts, r.readinessSeconds, r.setupOutcome, r.lastRun)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Phase records how long a phase took.
func (r *Recorder) Phase(phase string, took time.Duration, err error) {
	r.phaseDuration.WithLabelValues(phase, status(err)).Set(took.Seconds())
}

// Readiness records the result of waiting for a service.
func (r *Recorder) Readiness(service, outcome string, attempts int, waited time.Duration) {
	r.readinessAttempts.WithLabelValues(service, outcome).Set(float64(attempts))
	r.readinessSeconds.WithLabelValues(service).Set(waited.Seconds())
}

// Setup records the first-run setup outcome.
func (r *Recorder) Setup(outcome string) {
	r.setupOutcome.WithLabelValues(outcome).Set(1)
}

// Finished stamps the end of a command.
func (r *Recorder) Finished(command string, err error) {
	r.lastRun.WithLabelValues(command, status(err)).SetToCurrentTime()
}

// WriteTextfile writes all metrics to path atomically. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
