// Package errdefs defines the failure taxonomy shared by the orchestration
// components. Every fatal startup condition is one of these types so the
// orchestrator can decide between rollback and a plain exit.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

// Phase names the orchestration step an error was raised in.
type Phase string

const (
	PhasePrerequisites Phase = "prerequisites"
	PhaseStaleCheck    Phase = "stale-check"
	PhaseServices      Phase = "services"
	PhaseReadiness     Phase = "readiness"
	PhaseSetup         Phase = "setup"
	PhaseTunnel        Phase = "tunnel"
	PhaseSupervision   Phase = "supervision"
	PhaseLogs          Phase = "logs"
	PhaseTeardown      Phase = "teardown"
)

// PrerequisiteMissing is raised before anything is started, so no rollback is needed.
type PrerequisiteMissing struct {
	What   string
	Reason string
}

func (e *PrerequisiteMissing) Error() string {
	return fmt.Sprintf("prerequisite missing: %s: %s", e.What, e.Reason)
}

// ReadinessTimeout means a service never became ready within its retry policy.
type ReadinessTimeout struct {
	Service  string
	Attempts int
	LastErr  error
	// LogTail holds the most recent output of the service, if it could be read.
	LogTail string
}

func (e *ReadinessTimeout) Error() string {
	msg := fmt.Sprintf("service %s not ready after %d attempts", e.Service, e.Attempts)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *ReadinessTimeout) Unwrap() error { return e.LastErr }

// SetupStepFailed reports an exhausted setup step. Only critical failures abort startup.
type SetupStepFailed struct {
	Step     string
	Critical bool
	Attempts int
	Err      error
}

func (e *SetupStepFailed) Error() string {
	kind := "best-effort"
	if e.Critical {
		kind = "critical"
	}
	return fmt.Sprintf("%s setup step %q failed after %d attempts: %v", kind, e.Step, e.Attempts, e.Err)
}

func (e *SetupStepFailed) Unwrap() error { return e.Err }

// TunnelConfigInvalid is returned by the tunnel client's dry-run validation.
type TunnelConfigInvalid struct {
	Path   string
	Output string
	Err    error
}

func (e *TunnelConfigInvalid) Error() string {
	msg := fmt.Sprintf("tunnel configuration %s is invalid: %v", e.Path, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *TunnelConfigInvalid) Unwrap() error { return e.Err }

// TunnelLaunchFailed means the tunnel process could not be started or exited during the settle delay.
type TunnelLaunchFailed struct {
	Reason string
	Err    error
}

func (e *TunnelLaunchFailed) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tunnel launch failed: %s: %v", e.Reason, e.Err)
	}
	return "tunnel launch failed: " + e.Reason
}

func (e *TunnelLaunchFailed) Unwrap() error { return e.Err }

// StaleDeploymentConflict means a live process is already recorded for a label.
// The operator has to run stop before starting again.
type StaleDeploymentConflict struct {
	Label string
	PID   int
}

func (e *StaleDeploymentConflict) Error() string {
	return fmt.Sprintf("a deployment is already running (%s, pid %d); run 'stackctl stop' first", e.Label, e.PID)
}

// TeardownIncomplete lists ports that were still bound after the forced retry.
type TeardownIncomplete struct {
	Ports []int
}

func (e *TeardownIncomplete) Error() string {
	ports := make([]string, 0, len(e.Ports))
	for _, p := range e.Ports {
		ports = append(ports, fmt.Sprintf("%d", p))
	}
	return "teardown incomplete, ports still bound: " + strings.Join(ports, ", ")
}

// PhaseError attaches the failing phase to an error for user-facing output.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// InPhase wraps err with its phase unless it already carries one.
func InPhase(phase Phase, err error) error {
	if err == nil {
		return nil
	}
	var pe *PhaseError
	if errors.As(err, &pe) {
		return err
	}
	return &PhaseError{Phase: phase, Err: err}
}

// RequiresRollback reports whether err must unwind through the rollback path.
// Failures of the pre-flight phases (prerequisites, stale check) leave nothing
// behind. A failure tagged with any later phase always rolls back, even when
// its cause is a conflict with a live process.
func RequiresRollback(err error) bool {
	if err == nil {
		return false
	}
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase != PhasePrerequisites && pe.Phase != PhaseStaleCheck
	}
	var (
		pre     *PrerequisiteMissing
		stale   *StaleDeploymentConflict
		invalid *TunnelConfigInvalid
	)
	if errors.As(err, &pre) || errors.As(err, &stale) || errors.As(err, &invalid) {
		return false
	}
	return true
}
