package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"stackctl/internal/config"
	"stackctl/internal/errdefs"
	"stackctl/internal/health"
	"stackctl/internal/initgate"
	"stackctl/internal/logs"
	"stackctl/internal/reporting"
	"stackctl/internal/runtime"
	"stackctl/internal/tunnel"
	"stackctl/pkg/logging"
)

const readinessLogTail = 20

// StartOptions are the switches of the start command.
type StartOptions struct {
	// ForceInit runs the setup steps without probing the marker.
	ForceInit bool
	// NoLogs returns once the deployment is up instead of streaming logs.
	NoLogs bool
}

// StartResult describes a successful start.
type StartResult struct {
	Setup      initgate.Outcome
	PublicURLs []string
	// Interrupted is true when the log view was ended by an interrupt.
	Interrupted bool
}

// Start brings the stack up. A failure after the services phase began is
// rolled back before Start returns.
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions) (result StartResult, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.coordinator.BeginStartup(cancel)
	o.journal.Event("start_requested", zap.Bool("force_init", opts.ForceInit), zap.Bool("no_logs", opts.NoLogs))

	started := false
	defer func() {
		if err != nil && started && errdefs.RequiresRollback(err) {
			o.report("rollback", "deployment", reporting.StateStopped, "rolling back", err)
			// the start context may be cancelled already
			if rbErr := o.coordinator.Rollback(context.WithoutCancel(ctx), err); rbErr != nil {
				logging.Error("Orchestrator", rbErr, "Rollback incomplete")
				o.journal.Event("rollback_incomplete", zap.Error(rbErr))
			} else {
				o.journal.Event("rollback_done")
			}
		}
		o.metrics.Finished("start", err)
		o.writeMetrics()
		o.coordinator.Finish()
	}()

	var tunnelConfig string
	if err := o.runPhase(errdefs.PhasePrerequisites, func() error {
		var perr error
		tunnelConfig, perr = o.preflight(ctx)
		return perr
	}); err != nil {
		return result, err
	}

	if err := o.runPhase(errdefs.PhaseStaleCheck, o.staleCheck); err != nil {
		return result, err
	}

	started = true
	specs, err := config.StartOrder(o.stack)
	if err != nil {
		return result, errdefs.InPhase(errdefs.PhaseServices, err)
	}
	if err := o.runPhase(errdefs.PhaseServices, func() error { return o.clearLeftovers(ctx) }); err != nil {
		return result, err
	}
	for _, spec := range specs {
		if err := o.runPhase(errdefs.PhaseServices, func() error { return o.startService(ctx, spec) }); err != nil {
			return result, err
		}
		if err := o.runPhase(errdefs.PhaseReadiness, func() error { return o.awaitReady(ctx, spec) }); err != nil {
			return result, err
		}
	}

	if err := o.runPhase(errdefs.PhaseSetup, func() error {
		var serr error
		result.Setup, serr = o.runSetup(ctx, opts.ForceInit)
		return serr
	}); err != nil {
		return result, err
	}

	if err := o.runPhase(errdefs.PhaseTunnel, func() error {
		var terr error
		result.PublicURLs, terr = o.startTunnel(ctx, tunnelConfig)
		return terr
	}); err != nil {
		return result, err
	}

	if err := o.runPhase(errdefs.PhaseSupervision, o.launchFollower); err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, errdefs.InPhase(errdefs.PhaseSupervision, err)
	}

	o.journal.Event("deployment_ready", zap.Strings("public_urls", result.PublicURLs))
	o.report(errdefs.PhaseSupervision, "deployment", reporting.StateReady, "all services running", nil)

	if opts.NoLogs {
		return result, nil
	}
	result.Interrupted, err = o.streamLogs(ctx, o.attachSources(50))
	if err != nil {
		return result, errdefs.InPhase(errdefs.PhaseSupervision, err)
	}
	return result, nil
}

// preflight checks the host and materializes the tunnel configuration.
// It starts nothing, so its failures need no rollback.
func (o *Orchestrator) preflight(ctx context.Context) (string, error) {
	if err := o.prereq(ctx, o.stack, o.runtime); err != nil {
		o.report(errdefs.PhasePrerequisites, "host", reporting.StateFailed, "", err)
		return "", err
	}
	o.report(errdefs.PhasePrerequisites, "host", reporting.StateReady, "prerequisites satisfied", nil)

	if o.tunnel == nil {
		return "", nil
	}
	path, err := o.tunnel.EnsureConfig(o.tunnel.Rules())
	if err != nil {
		return "", err
	}
	if err := o.tunnel.Validate(ctx, path); err != nil {
		o.report(errdefs.PhasePrerequisites, "tunnel config", reporting.StateFailed, path, err)
		return "", err
	}
	o.report(errdefs.PhasePrerequisites, "tunnel config", reporting.StateReady, path, nil)
	return path, nil
}

// staleCheck refuses to start over a live deployment and clears dead records.
func (o *Orchestrator) staleCheck() error {
	for _, label := range []string{tunnel.Label, FollowerLabel} {
		tracked, err := o.tracker.AdoptOrClear(label)
		if err != nil {
			return err
		}
		if tracked != nil {
			return &errdefs.StaleDeploymentConflict{Label: label, PID: tracked.PID}
		}
	}
	return nil
}

// clearLeftovers removes containers a crashed run left behind.
func (o *Orchestrator) clearLeftovers(ctx context.Context) error {
	statuses, err := o.runtime.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}
	if len(statuses) == 0 {
		return nil
	}
	logging.Info("Orchestrator", "Removing %d leftover service containers", len(statuses))
	o.report(errdefs.PhaseServices, "leftovers", reporting.StateStopped, fmt.Sprintf("%d containers", len(statuses)), nil)
	if err := o.runtime.Down(ctx, runtime.DownOptions{}); err != nil {
		return fmt.Errorf("failed to remove leftover services: %w", err)
	}
	return nil
}

func (o *Orchestrator) startService(ctx context.Context, spec config.ServiceSpec) error {
	o.report(errdefs.PhaseServices, spec.Name, reporting.StateStarting, spec.Container.Image, nil)
	if err := o.runtime.Up(ctx, []config.ServiceSpec{spec}); err != nil {
		o.report(errdefs.PhaseServices, spec.Name, reporting.StateFailed, "", err)
		return fmt.Errorf("failed to start %s: %w", spec.Name, err)
	}
	return nil
}

func (o *Orchestrator) awaitReady(ctx context.Context, spec config.ServiceSpec) error {
	res := o.gate.AwaitReady(ctx, spec)
	o.metrics.Readiness(spec.Name, res.Outcome.String(), res.Attempts, res.Elapsed)
	o.journal.Event("readiness",
		zap.String("service", spec.Name),
		zap.String("outcome", res.Outcome.String()),
		zap.Int("attempts", res.Attempts),
		zap.Duration("elapsed", res.Elapsed),
	)

	if res.Outcome == health.Ready {
		o.report(errdefs.PhaseReadiness, spec.Name, reporting.StateReady,
			fmt.Sprintf("after %d attempt(s)", res.Attempts), nil)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := &errdefs.ReadinessTimeout{
		Service:  spec.Name,
		Attempts: res.Attempts,
		LastErr:  res.LastErr,
		LogTail:  o.serviceLogTail(ctx, spec.Name, readinessLogTail),
	}
	o.report(errdefs.PhaseReadiness, spec.Name, reporting.StateFailed, "", timeout)
	return timeout
}

// serviceLogTail reads the last n lines of a service. Errors yield an empty tail.
func (o *Orchestrator) serviceLogTail(ctx context.Context, service string, n int) string {
	stream, err := o.runtime.Logs(ctx, service, runtime.LogOptions{Tail: n})
	if err != nil {
		logging.Debug("Orchestrator", "No log tail for %s: %v", service, err)
		return ""
	}
	defer stream.Close()
	data, err := io.ReadAll(io.LimitReader(stream, 64*1024))
	if err != nil {
		logging.Debug("Orchestrator", "Reading log tail of %s: %v", service, err)
	}
	return strings.TrimRight(string(data), "\n")
}

func (o *Orchestrator) runSetup(ctx context.Context, force bool) (initgate.Outcome, error) {
	if o.setup == nil {
		o.metrics.Setup(initgate.Skipped.String())
		return initgate.Skipped, nil
	}
	o.report(errdefs.PhaseSetup, o.stack.Setup.Service, reporting.StateStarting, "checking setup", nil)
	outcome, err := o.setup.EnsureInitialized(ctx, force)
	o.metrics.Setup(outcome.String())
	o.journal.Event("setup", zap.String("outcome", outcome.String()), zap.Bool("forced", force))
	if err != nil {
		o.report(errdefs.PhaseSetup, o.stack.Setup.Service, reporting.StateFailed, "", err)
		return outcome, err
	}
	state := reporting.StateReady
	if outcome == initgate.Skipped {
		state = reporting.StateSkipped
	}
	o.report(errdefs.PhaseSetup, o.stack.Setup.Service, state, outcome.String(), nil)
	return outcome, nil
}

// startTunnel launches the tunnel client and routes DNS for its hostnames.
// DNS failures are reported but do not fail the start.
func (o *Orchestrator) startTunnel(ctx context.Context, path string) ([]string, error) {
	if o.tunnel == nil {
		o.report(errdefs.PhaseTunnel, tunnel.Label, reporting.StateSkipped, "disabled", nil)
		return nil, nil
	}
	tracked, err := o.tunnel.Start(ctx, path)
	if err != nil {
		o.report(errdefs.PhaseTunnel, tunnel.Label, reporting.StateFailed, "", err)
		return nil, err
	}
	o.journal.Event("process_launched", zap.String("label", tunnel.Label), zap.Int("pid", tracked.PID))
	o.report(errdefs.PhaseTunnel, tunnel.Label, reporting.StateReady, fmt.Sprintf("pid %d", tracked.PID), nil)

	rules := o.tunnel.Rules()
	if o.dns != nil {
		created, err := o.dns.RouteDNS(ctx, rules)
		switch {
		case err != nil:
			o.report(errdefs.PhaseTunnel, "dns", reporting.StateWarning, "routing failed", err)
		case len(created) > 0:
			o.report(errdefs.PhaseTunnel, "dns", reporting.StateReady, "created "+strings.Join(created, ", "), nil)
		}
	}

	var urls []string
	for _, host := range tunnel.Hostnames(rules) {
		urls = append(urls, "https://"+host)
	}
	return urls, nil
}

func (o *Orchestrator) launchFollower() error {
	if len(o.followerCommand) == 0 {
		return nil
	}
	command := append(append([]string{}, o.followerCommand...), "logs", "--capture", o.ServicesLogPath())
	tracked, err := o.tracker.Launch(FollowerLabel, command)
	if err != nil {
		return fmt.Errorf("failed to launch log follower: %w", err)
	}
	o.journal.Event("process_launched", zap.String("label", FollowerLabel), zap.Int("pid", tracked.PID))
	o.report(errdefs.PhaseSupervision, FollowerLabel, reporting.StateReady, fmt.Sprintf("pid %d", tracked.PID), nil)
	return nil
}

// attachSources are the persistent log files of the deployment.
func (o *Orchestrator) attachSources(tail int) []logs.Source {
	sources := []logs.Source{
		&logs.FileSource{Label: "services", Path: o.ServicesLogPath(), Tail: tail},
	}
	if o.tunnel != nil {
		sources = append(sources, &logs.FileSource{Label: tunnel.Label, Path: o.tracker.LogPath(tunnel.Label), Tail: tail})
	}
	return sources
}

// streamLogs shows the log view until ctx ends or an interrupt stops it.
// It reports whether an interrupt ended the view. An interrupt handled
// before the view began is returned as an error.
func (o *Orchestrator) streamLogs(ctx context.Context, sources []logs.Source) (bool, error) {
	viewCtx, stopView := context.WithCancel(context.WithoutCancel(ctx))
	defer stopView()
	if !o.coordinator.BeginStreaming(stopView) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return false, context.Canceled
	}

	handle := logs.Stream(viewCtx, sources, o.logOut)
	select {
	case <-handle.Done():
	case <-ctx.Done():
		handle.Stop()
	}
	if err := handle.Wait(); err != nil {
		logging.Warn("Orchestrator", "Log view ended: %v", err)
	}
	if o.coordinator.Interrupted() {
		o.journal.Event("log_view_stopped")
		return true, nil
	}
	return false, nil
}

func (o *Orchestrator) writeMetrics() {
	if err := o.metrics.WriteTextfile(o.stack.MetricsFile); err != nil {
		logging.Warn("Orchestrator", "Failed to write metrics file: %v", err)
	}
}
