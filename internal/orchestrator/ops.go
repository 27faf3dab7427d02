package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"stackctl/internal/errdefs"
	"stackctl/internal/logs"
	"stackctl/internal/reporting"
	"stackctl/internal/runtime"
	"stackctl/internal/shutdown"
	"stackctl/internal/tunnel"
	"stackctl/pkg/logging"
)

// ErrNotRunning is returned by Logs when no deployment is live.
var ErrNotRunning = errors.New("no deployment is running; run 'stackctl start' first")

// StopOptions are the switches of the stop command.
type StopOptions struct {
	// Volumes also removes the named volumes of the services.
	Volumes bool
}

// Stop tears the deployment down and verifies that the reserved ports are free.
func (o *Orchestrator) Stop(ctx context.Context, opts StopOptions) (report shutdown.TeardownReport, err error) {
	o.journal.Event("stop_requested", zap.Bool("volumes", opts.Volumes))
	defer func() {
		o.metrics.Finished("stop", err)
		o.writeMetrics()
	}()

	err = o.runPhase(errdefs.PhaseTeardown, func() error {
		var terr error
		report, terr = o.coordinator.Teardown(ctx, shutdown.TeardownOptions{Volumes: opts.Volumes})
		return terr
	})

	for _, label := range report.Stopped {
		o.report(errdefs.PhaseTeardown, label, reporting.StateStopped, "", nil)
	}
	o.journal.Event("teardown",
		zap.Strings("stopped", report.Stopped),
		zap.Bool("forced", report.Forced),
		zap.Ints("bound_ports", report.Bound),
	)
	if err != nil {
		o.report(errdefs.PhaseTeardown, "ports", reporting.StateWarning, "still bound", err)
		return report, err
	}
	o.report(errdefs.PhaseTeardown, "deployment", reporting.StateStopped, "all services stopped", nil)
	return report, nil
}

// ProcessStatus is the state of one tracked process.
type ProcessStatus struct {
	Label string
	PID   int
	Alive bool
}

// Status describes the current deployment.
type Status struct {
	Services  []runtime.ServiceStatus
	Processes []ProcessStatus
	Hostnames []string
	LogDir    string
}

// Running reports whether any part of the deployment is live.
func (s Status) Running() bool {
	for _, svc := range s.Services {
		if svc.Running() {
			return true
		}
	}
	for _, p := range s.Processes {
		if p.Alive {
			return true
		}
	}
	return false
}

// Status collects container states, tracked process liveness and public hostnames.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	st := Status{LogDir: o.LogDir()}

	services, err := o.runtime.Status(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to query services: %w", err)
	}
	st.Services = services

	tracked, err := o.tracker.List()
	if err != nil {
		return st, fmt.Errorf("failed to list tracked processes: %w", err)
	}
	for _, t := range tracked {
		st.Processes = append(st.Processes, ProcessStatus{
			Label: t.Label,
			PID:   t.PID,
			Alive: o.tracker.IsAlive(t.Label),
		})
	}

	if o.tunnel != nil {
		st.Hostnames = tunnel.Hostnames(o.tunnel.Rules())
	}
	return st, nil
}

// Logs re-attaches the log view of a running deployment until ctx ends or an
// interrupt stops it.
func (o *Orchestrator) Logs(ctx context.Context, tail int) error {
	if !o.tracker.IsAlive(FollowerLabel) && !o.tracker.IsAlive(tunnel.Label) {
		return ErrNotRunning
	}
	defer o.coordinator.Finish()
	_, err := o.streamLogs(ctx, o.attachSources(tail))
	return err
}

// Capture writes the output of every service to path until the services stop
// or the process is signalled. It is the body of the detached log follower.
func (o *Orchestrator) Capture(ctx context.Context, path string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer f.Close()

	sources := make([]logs.Source, 0, len(o.stack.Services))
	for _, spec := range o.stack.Services {
		sources = append(sources, &logs.ServiceSource{Runtime: o.runtime, Service: spec.Name})
	}
	logging.Info("Orchestrator", "Capturing logs of %d services to %s", len(sources), path)
	return logs.Stream(ctx, sources, f).Wait()
}
