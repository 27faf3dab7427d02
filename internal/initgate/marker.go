package initgate

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stackctl/internal/config"
	"stackctl/internal/runtime"
)

// State is the result of the read-only "already set up?" probe.
type State int

const (
	NotInitialized State = iota
	Initialized
	// Unknown means the probe itself failed. It is treated like NotInitialized.
	Unknown
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case NotInitialized:
		return "not initialized"
	default:
		return "unknown"
	}
}

// Marker inspects the application's persistent state without changing it.
type Marker interface {
	Probe(ctx context.Context) (State, error)
}

// NewMarker builds the marker described by spec.
func NewMarker(spec config.MarkerSpec, service string, rt runtime.Runtime) (Marker, error) {
	switch spec.Kind {
	case config.MarkerPostgres:
		return &PostgresMarker{DSN: spec.DSN, Query: spec.Query, Timeout: spec.Timeout}, nil
	case config.MarkerExec:
		return &ExecMarker{Runtime: rt, Service: service, Command: spec.Command, Timeout: spec.Timeout}, nil
	default:
		return nil, fmt.Errorf("unknown marker kind %q", spec.Kind)
	}
}

// PostgresMarker runs a query that returns a single boolean.
type PostgresMarker struct {
	DSN     string
	Query   string
	Timeout time.Duration
}

func (m *PostgresMarker) Probe(ctx context.Context) (State, error) {
	ctx, cancel := withOptionalTimeout(ctx, m.Timeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, m.DSN)
	if err != nil {
		return Unknown, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	var initialized bool
	if err := conn.QueryRow(ctx, m.Query).Scan(&initialized); err != nil {
		return Unknown, fmt.Errorf("marker query failed: %w", err)
	}
	if initialized {
		return Initialized, nil
	}
	return NotInitialized, nil
}

// ExecMarker runs a command in the service container: exit 0 means initialized,
// exit 1 means not initialized and anything else is unknown.
type ExecMarker struct {
	Runtime runtime.Runtime
	Service string
	Command []string
	Timeout time.Duration
}

func (m *ExecMarker) Probe(ctx context.Context) (State, error) {
	ctx, cancel := withOptionalTimeout(ctx, m.Timeout)
	defer cancel()

	res, err := m.Runtime.Exec(ctx, m.Service, m.Command)
	if err != nil {
		return Unknown, err
	}
	switch res.ExitCode {
	case 0:
		return Initialized, nil
	case 1:
		return NotInitialized, nil
	default:
		return Unknown, fmt.Errorf("marker command exited with code %d", res.ExitCode)
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
