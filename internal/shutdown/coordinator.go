// Package shutdown decides what an interrupt or a failure tears down.
//
// The coordinator tracks which phase the current command is in. A single
// signal handler asks it what to do:
//
//   - Startup: cancel the start; the caller then rolls back everything it created.
//   - Streaming: stop following logs only. Services and background processes stay up.
//   - Idle or Done: cancel the command context.
//
// Rollback and Teardown are the two ways of removing a deployment. Teardown,
// used by the stop command, additionally verifies that reserved ports are free.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"stackctl/internal/errdefs"
	"stackctl/internal/process"
	"stackctl/internal/runtime"
	"stackctl/pkg/logging"
)

// Phase of the running command.
type Phase int

const (
	Idle Phase = iota
	Startup
	Streaming
	Done
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Startup:
		return "startup"
	case Streaming:
		return "streaming"
	default:
		return "done"
	}
}

// Processes is the part of the process tracker the coordinator needs.
type Processes interface {
	List() ([]process.Tracked, error)
	Stop(ctx context.Context, label string, sig syscall.Signal) (bool, error)
}

// PortProbe reports whether something still listens on a local port.
type PortProbe func(port int) bool

// Coordinator owns the phase and the single interrupt handler.
type Coordinator struct {
	processes Processes
	runtime   runtime.Runtime
	ports     []int
	portBound PortProbe

	mu            sync.Mutex
	phase         Phase
	cancel        context.CancelFunc
	stopStreaming func()
	interrupted   bool
}

// New creates a coordinator. ports are verified after teardown.
func New(processes Processes, rt runtime.Runtime, ports []int) *Coordinator {
	return &Coordinator{
		processes: processes,
		runtime:   rt,
		ports:     ports,
		portBound: dialPort,
	}
}

// WithPortProbe replaces the port check.
func (c *Coordinator) WithPortProbe(p PortProbe) *Coordinator {
	c.portBound = p
	return c
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Interrupted reports whether an interrupt has been handled.
func (c *Coordinator) Interrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}

// BeginStartup enters the startup phase. cancel aborts the start on interrupt.
func (c *Coordinator) BeginStartup(cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = Startup
	c.cancel = cancel
}

// BeginStreaming enters the streaming phase. stop ends the log view on interrupt.
// It refuses the transition and returns false once an interrupt was handled,
// since that interrupt was meant for the earlier phase.
func (c *Coordinator) BeginStreaming(stop func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interrupted {
		return false
	}
	c.phase = Streaming
	c.stopStreaming = stop
	return true
}

// Finish marks the command as done.
func (c *Coordinator) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = Done
}

// Interrupt reacts to SIGINT/SIGTERM according to the current phase.
func (c *Coordinator) Interrupt() {
	c.mu.Lock()
	c.interrupted = true
	phase := c.phase
	cancel := c.cancel
	stop := c.stopStreaming
	c.mu.Unlock()

	logging.Debug("Shutdown", "Interrupt received during %s", phase)
	switch phase {
	case Streaming:
		if stop != nil {
			stop()
		}
	default:
		if cancel != nil {
			cancel()
		}
	}
}

// Install routes SIGINT and SIGTERM to Interrupt until the returned function is called.
func (c *Coordinator) Install() (release func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigChan:
				c.Interrupt()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(done)
		})
	}
}

// Rollback removes everything a failed start created: tracked processes in reverse
// creation order, then the runtime services. Records are gone afterwards.
func (c *Coordinator) Rollback(ctx context.Context, cause error) error {
	logging.Warn("Shutdown", "Rolling back startup: %v", cause)
	_, err := c.stopAll(ctx, syscall.SIGTERM)
	errs := []error{err}
	if err := c.runtime.Down(ctx, runtime.DownOptions{}); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop services: %w", err))
	}
	return errors.Join(errs...)
}

// TeardownOptions controls an explicit stop.
type TeardownOptions struct {
	Volumes bool
}

// TeardownReport summarizes an explicit stop.
type TeardownReport struct {
	Stopped []string
	Forced  bool
	// Bound lists reserved ports still in use at the end.
	Bound []int
}

// Teardown stops everything and verifies that the reserved ports are released.
// When a port is still bound it force-kills and removes, then checks once more.
func (c *Coordinator) Teardown(ctx context.Context, opts TeardownOptions) (TeardownReport, error) {
	var report TeardownReport

	stopped, err := c.stopAll(ctx, syscall.SIGTERM)
	report.Stopped = stopped
	if err != nil {
		logging.Warn("Shutdown", "Stopping background processes: %v", err)
	}
	if err := c.runtime.Down(ctx, runtime.DownOptions{Volumes: opts.Volumes}); err != nil {
		logging.Warn("Shutdown", "Stopping services: %v", err)
	}

	bound := c.boundPorts()
	if len(bound) == 0 {
		return report, nil
	}

	logging.Warn("Shutdown", "Ports %v still bound, forcing teardown", bound)
	report.Forced = true
	more, err := c.stopAll(ctx, syscall.SIGKILL)
	report.Stopped = append(report.Stopped, more...)
	if err != nil {
		logging.Warn("Shutdown", "Killing background processes: %v", err)
	}
	if err := c.runtime.Down(ctx, runtime.DownOptions{Volumes: opts.Volumes, Force: true}); err != nil {
		logging.Warn("Shutdown", "Force-removing services: %v", err)
	}

	report.Bound = c.boundPorts()
	if len(report.Bound) > 0 {
		return report, &errdefs.TeardownIncomplete{Ports: report.Bound}
	}
	return report, nil
}

// stopAll stops tracked processes newest first and returns the labels that were running.
func (c *Coordinator) stopAll(ctx context.Context, sig syscall.Signal) ([]string, error) {
	records, err := c.processes.List()
	if err != nil {
		return nil, err
	}

	var stopped []string
	var errs []error
	for i := len(records) - 1; i >= 0; i-- {
		label := records[i].Label
		wasRunning, err := c.processes.Stop(ctx, label, sig)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if wasRunning {
			stopped = append(stopped, label)
		}
	}
	return stopped, errors.Join(errs...)
}

func (c *Coordinator) boundPorts() []int {
	var bound []int
	for _, p := range c.ports {
		if c.portBound(p) {
			bound = append(bound, p)
		}
	}
	return bound
}

func dialPort(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
