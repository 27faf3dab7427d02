package orchestrator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"stackctl/internal/config"
	"stackctl/internal/errdefs"
	"stackctl/internal/health"
	"stackctl/internal/initgate"
	"stackctl/internal/metrics"
	"stackctl/internal/process"
	"stackctl/internal/reporting"
	"stackctl/internal/runlog"
	"stackctl/internal/runtime"
	"stackctl/internal/shutdown"
	"stackctl/internal/tunnel"
)

// FollowerLabel is the tracked label of the detached log follower.
const FollowerLabel = "log-follower"

// ServicesLogFile is the file the log follower writes the service output to.
const ServicesLogFile = "services.log"

// SetupGate runs the one-time application setup.
type SetupGate interface {
	EnsureInitialized(ctx context.Context, force bool) (initgate.Outcome, error)
}

// DNSRouter creates public DNS records for the tunnel hostnames.
type DNSRouter interface {
	RouteDNS(ctx context.Context, rules []tunnel.Rule) ([]string, error)
}

// PrereqFunc verifies the host before anything is started.
type PrereqFunc func(ctx context.Context, cfg config.StackConfig, rt runtime.Runtime) error

// Config holds the collaborators of an Orchestrator. Runtime, Tracker and
// Coordinator are required; everything else has a default.
type Config struct {
	Stack       config.StackConfig
	Runtime     runtime.Runtime
	Tracker     *process.Tracker
	Coordinator *shutdown.Coordinator

	Gate     *health.Gate
	Setup    SetupGate
	Tunnel   *tunnel.Manager
	DNS      DNSRouter
	Prereq   PrereqFunc
	Reporter reporting.Reporter
	Metrics  *metrics.Recorder
	Journal  *runlog.Log

	// FollowerCommand is the command prefix that re-invokes this binary.
	// "logs --capture <file>" is appended when the log follower is launched.
	FollowerCommand []string

	// LogOutput receives the aggregated log view.
	LogOutput io.Writer
}

// Orchestrator drives start, stop, status and the log views of one stack.
type Orchestrator struct {
	stack       config.StackConfig
	runtime     runtime.Runtime
	tracker     *process.Tracker
	coordinator *shutdown.Coordinator

	gate     *health.Gate
	setup    SetupGate
	tunnel   *tunnel.Manager
	dns      DNSRouter
	prereq   PrereqFunc
	reporter reporting.Reporter
	metrics  *metrics.Recorder
	journal  *runlog.Log

	followerCommand []string
	logOut          io.Writer
}

// New creates an orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		stack:           cfg.Stack,
		runtime:         cfg.Runtime,
		tracker:         cfg.Tracker,
		coordinator:     cfg.Coordinator,
		gate:            cfg.Gate,
		setup:           cfg.Setup,
		tunnel:          cfg.Tunnel,
		dns:             cfg.DNS,
		prereq:          cfg.Prereq,
		reporter:        cfg.Reporter,
		metrics:         cfg.Metrics,
		journal:         cfg.Journal,
		followerCommand: cfg.FollowerCommand,
		logOut:          cfg.LogOutput,
	}
	if o.gate == nil {
		o.gate = health.NewGate(o.runtime)
	}
	if o.tunnel == nil && o.stack.Tunnel.IsEnabled() {
		o.tunnel = tunnel.NewManager(o.stack.Tunnel, o.tracker)
	}
	if o.prereq == nil {
		o.prereq = func(context.Context, config.StackConfig, runtime.Runtime) error { return nil }
	}
	if o.reporter == nil {
		o.reporter = reporting.Discard{}
	}
	if o.metrics == nil {
		o.metrics = metrics.NewRecorder()
	}
	if o.journal == nil {
		o.journal = runlog.Discard()
	}
	if o.logOut == nil {
		o.logOut = os.Stdout
	}
	return o
}

// LogDir is where persistent logs of the deployment live.
func (o *Orchestrator) LogDir() string {
	return filepath.Dir(o.tracker.LogPath(FollowerLabel))
}

// ServicesLogPath is the file captured by the log follower.
func (o *Orchestrator) ServicesLogPath() string {
	return filepath.Join(o.LogDir(), ServicesLogFile)
}

// runPhase times fn into the journal and metrics and tags its error with the phase.
func (o *Orchestrator) runPhase(phase errdefs.Phase, fn func() error) error {
	start := time.Now()
	err := fn()
	took := time.Since(start)
	o.journal.Phase(string(phase), took, err)
	o.metrics.Phase(string(phase), took, err)
	return errdefs.InPhase(phase, err)
}

func (o *Orchestrator) report(phase errdefs.Phase, subject string, state reporting.State, msg string, err error) {
	o.reporter.Report(reporting.Update{
		Timestamp: time.Now(),
		Phase:     string(phase),
		Subject:   subject,
		State:     state,
		Message:   msg,
		Err:       err,
	})
}
