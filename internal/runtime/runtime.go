// Package runtime drives the container engine that hosts the stack's core services.
//
// The orchestrator only needs a narrow contract: bring services up, report
// what is running, tear everything down, follow logs and run a command inside
// a service container. Docker implements it on the Engine API.
package runtime

import (
	"context"
	"io"

	"stackctl/internal/config"
)

// Runtime is the container engine contract used by the orchestrator.
type Runtime interface {
	// Ping fails when the engine cannot be reached.
	Ping(ctx context.Context) error
	// Up creates and starts the given services in order. Running services are left alone.
	Up(ctx context.Context, specs []config.ServiceSpec) error
	Status(ctx context.Context) ([]ServiceStatus, error)
	Down(ctx context.Context, opts DownOptions) error
	// Logs returns the demultiplexed output of a service. The caller closes the stream.
	Logs(ctx context.Context, service string, opts LogOptions) (io.ReadCloser, error)
	// Exec runs cmd inside the service container. A non-zero exit code is reported in
	// the result, not as an error.
	Exec(ctx context.Context, service string, cmd []string) (ExecResult, error)
}

// DownOptions controls teardown.
type DownOptions struct {
	// Volumes also removes the project's named volumes.
	Volumes bool
	// Force kills containers instead of asking them to stop.
	Force bool
}

// LogOptions controls log retrieval.
type LogOptions struct {
	Follow bool
	// Tail limits the output to the last N lines. Zero means all.
	Tail int
}

// ServiceStatus is the engine's view of one service container.
type ServiceStatus struct {
	Service     string
	ContainerID string
	State       string
	Status      string
	Ports       []string
}

// Running reports whether the container is up.
func (s ServiceStatus) Running() bool {
	return s.State == "running"
}

// ExecResult holds the outcome of a command run inside a container.
type ExecResult struct {
	ExitCode int
	Output   string
}
