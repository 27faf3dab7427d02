// Package initgate performs first-run setup exactly once.
//
// A read-only marker decides whether setup already happened. When it has not
// (or the marker cannot tell), the configured steps run in order, each with its
// own retry budget. Critical steps abort setup when they run out of attempts;
// best-effort steps only log a warning.
package initgate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"stackctl/internal/config"
	"stackctl/internal/errdefs"
	"stackctl/internal/runtime"
	"stackctl/pkg/logging"
)

// Outcome of EnsureInitialized.
type Outcome int

const (
	Skipped Outcome = iota
	Performed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Performed:
		return "performed"
	default:
		return "failed"
	}
}

// StepRunner executes a single setup step once.
type StepRunner interface {
	RunStep(ctx context.Context, step config.SetupStep) error
}

// ExecRunner runs steps inside a service container.
type ExecRunner struct {
	Runtime runtime.Runtime
	Service string
}

func (r *ExecRunner) RunStep(ctx context.Context, step config.SetupStep) error {
	res, err := r.Runtime.Exec(ctx, r.Service, step.Command)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with code %d: %s", strings.Join(step.Command, " "), res.ExitCode, lastLine(res.Output))
	}
	return nil
}

// Gate decides whether setup must run and runs it.
type Gate struct {
	marker Marker
	steps  []config.SetupStep
	runner StepRunner
}

// New creates a gate.
func New(marker Marker, steps []config.SetupStep, runner StepRunner) *Gate {
	return &Gate{marker: marker, steps: steps, runner: runner}
}

// FromConfig wires a gate for the configured setup service.
func FromConfig(cfg config.SetupConfig, rt runtime.Runtime) (*Gate, error) {
	marker, err := NewMarker(cfg.Marker, cfg.Service, rt)
	if err != nil {
		return nil, err
	}
	return New(marker, cfg.Steps, &ExecRunner{Runtime: rt, Service: cfg.Service}), nil
}

// EnsureInitialized probes the marker unless forced, then runs the steps when needed.
func (g *Gate) EnsureInitialized(ctx context.Context, force bool) (Outcome, error) {
	if len(g.steps) == 0 {
		return Skipped, nil
	}

	if force {
		logging.Info("InitGate", "Setup forced, skipping marker probe")
	} else {
		state, err := g.marker.Probe(ctx)
		switch state {
		case Initialized:
			logging.Info("InitGate", "Application already initialized, skipping setup")
			return Skipped, nil
		case Unknown:
			logging.Warn("InitGate", "Could not determine setup state (%v); treating as not initialized", err)
		default:
			logging.Info("InitGate", "Application not initialized, running setup")
		}
	}

	for _, step := range g.steps {
		err := g.runWithRetry(ctx, step)
		if err == nil {
			logging.Info("InitGate", "Step %s completed", step.Name)
			continue
		}
		if ctx.Err() != nil {
			return Failed, ctx.Err()
		}
		if step.Critical {
			return Failed, err
		}
		logging.Warn("InitGate", "Best-effort step %s failed, continuing: %v", step.Name, err)
	}
	return Performed, nil
}

func (g *Gate) runWithRetry(ctx context.Context, step config.SetupStep) error {
	attempts := step.Attempts
	if attempts < 1 {
		attempts = 1
	}
	interval := step.Interval
	if interval <= 0 {
		interval = time.Second
	}

	tries := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++
		logging.Debug("InitGate", "Running step %s (attempt %d/%d)", step.Name, tries, attempts)
		return struct{}{}, g.runner.RunStep(ctx, step)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.Warn("InitGate", "Step %s failed, retrying in %s: %v", step.Name, next, err)
		}),
	)
	if err != nil {
		return &errdefs.SetupStepFailed{Step: step.Name, Critical: step.Critical, Attempts: tries, Err: err}
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
