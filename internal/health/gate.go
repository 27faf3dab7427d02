// Package health waits for services to become ready.
//
// A Gate polls a service's readiness probe with a fixed interval and a bounded
// number of attempts. Each attempt owns one interval slot: the probe gets at
// most that long, and a failed attempt waits out the rest of its slot. A gate
// therefore never runs longer than attempts × interval.
package health

import (
	"context"
	"time"

	"stackctl/internal/config"
	"stackctl/internal/runtime"
	"stackctl/pkg/logging"
)

// Outcome of waiting for a service.
type Outcome int

const (
	Ready Outcome = iota
	TimedOut
)

func (o Outcome) String() string {
	if o == Ready {
		return "ready"
	}
	return "timed out"
}

// Result describes one AwaitReady call.
type Result struct {
	Service  string
	Outcome  Outcome
	Attempts int
	LastErr  error
	Elapsed  time.Duration
}

// CheckerFactory builds the probe for a service.
type CheckerFactory func(spec config.ServiceSpec, rt runtime.Runtime) (Checker, error)

// Gate runs readiness probes.
type Gate struct {
	runtime    runtime.Runtime
	newChecker CheckerFactory
}

// NewGate returns a gate whose exec probes go through rt.
func NewGate(rt runtime.Runtime) *Gate {
	return &Gate{runtime: rt, newChecker: NewChecker}
}

// WithCheckerFactory replaces the probe constructor.
func (g *Gate) WithCheckerFactory(f CheckerFactory) *Gate {
	g.newChecker = f
	return g
}

// AwaitReady polls the service until its probe succeeds or the retry policy is exhausted.
func (g *Gate) AwaitReady(ctx context.Context, spec config.ServiceSpec) Result {
	start := time.Now()
	res := Result{Service: spec.Name, Outcome: TimedOut}

	checker, err := g.newChecker(spec, g.runtime)
	if err != nil {
		res.LastErr = err
		return res
	}

	interval := spec.Retry.Interval
	probeTimeout := spec.Readiness.Timeout
	if probeTimeout <= 0 || probeTimeout > interval {
		probeTimeout = interval
	}

	for attempt := 1; attempt <= spec.Retry.MaxAttempts; attempt++ {
		slotEnd := time.Now().Add(interval)
		res.Attempts = attempt

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := checker.CheckHealth(probeCtx)
		cancel()
		if err == nil {
			res.Outcome = Ready
			res.LastErr = nil
			res.Elapsed = time.Since(start)
			logging.Info("HealthGate", "%s ready after %d attempt(s)", spec.Name, attempt)
			return res
		}
		res.LastErr = err
		logging.Debug("HealthGate", "%s not ready (attempt %d/%d): %v", spec.Name, attempt, spec.Retry.MaxAttempts, err)

		timer := time.NewTimer(time.Until(slotEnd))
		select {
		case <-ctx.Done():
			timer.Stop()
			res.LastErr = ctx.Err()
			res.Elapsed = time.Since(start)
			return res
		case <-timer.C:
		}
	}

	res.Elapsed = time.Since(start)
	logging.Warn("HealthGate", "%s not ready after %d attempts: %v", spec.Name, res.Attempts, res.LastErr)
	return res
}
