// Package runtimetest provides an in-memory runtime.Runtime for tests.
package runtimetest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"stackctl/internal/config"
	"stackctl/internal/runtime"
)

// ExecFunc answers an Exec call.
type ExecFunc func(service string, cmd []string) (runtime.ExecResult, error)

// Fake records calls and keeps a set of "running" services.
type Fake struct {
	mu sync.Mutex

	PingErr error
	UpErr   error
	DownErr error
	// ExecFn answers Exec; nil means every command succeeds.
	ExecFn ExecFunc
	// LogLines are returned by Logs per service.
	LogLines map[string][]string

	running []string
	execs   [][]string
	downs   []runtime.DownOptions
	ups     int
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{LogLines: map[string][]string{}}
}

func (f *Fake) Ping(context.Context) error {
	return f.PingErr
}

func (f *Fake) Up(_ context.Context, specs []config.ServiceSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ups++
	if f.UpErr != nil {
		return f.UpErr
	}
	for _, s := range specs {
		if !contains(f.running, s.Name) {
			f.running = append(f.running, s.Name)
		}
	}
	return nil
}

func (f *Fake) Status(context.Context) ([]runtime.ServiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runtime.ServiceStatus, 0, len(f.running))
	for _, name := range f.running {
		out = append(out, runtime.ServiceStatus{Service: name, State: "running", Status: "Up"})
	}
	return out, nil
}

func (f *Fake) Down(_ context.Context, opts runtime.DownOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downs = append(f.downs, opts)
	if f.DownErr != nil {
		return f.DownErr
	}
	f.running = nil
	return nil
}

func (f *Fake) Logs(_ context.Context, service string, _ runtime.LogOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines, ok := f.LogLines[service]
	if !ok && !contains(f.running, service) {
		return nil, fmt.Errorf("no container for service %s", service)
	}
	text := ""
	if len(lines) > 0 {
		text = strings.Join(lines, "\n") + "\n"
	}
	return io.NopCloser(strings.NewReader(text)), nil
}

func (f *Fake) Exec(_ context.Context, service string, cmd []string) (runtime.ExecResult, error) {
	f.mu.Lock()
	f.execs = append(f.execs, append([]string{service}, cmd...))
	fn := f.ExecFn
	f.mu.Unlock()
	if fn == nil {
		return runtime.ExecResult{}, nil
	}
	return fn(service, cmd)
}

// Running returns the names of services currently up.
func (f *Fake) Running() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.running...)
}

// Execs returns every Exec call as service followed by the command.
func (f *Fake) Execs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.execs...)
}

// Downs returns the options of every Down call.
func (f *Fake) Downs() []runtime.DownOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runtime.DownOptions(nil), f.downs...)
}

// Ups returns how many times Up was called.
func (f *Fake) Ups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ups
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var _ runtime.Runtime = (*Fake)(nil)
