// Package process supervises detached background processes through PID records.
//
// Every tracked process has a label and a record file <runDir>/<label>.pid
// containing its PID as plain text. The tracker is the only component that
// reads or writes these files. Children are started in their own session so
// they outlive the invoking command, and are found again by later invocations
// through their records.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"stackctl/internal/errdefs"
	"stackctl/pkg/logging"
)

// For mocking in tests
var execCommand = exec.Command

const (
	recordSuffix = ".pid"
	lockFileName = ".lock"

	// DefaultGrace is how long Stop waits after the first signal before escalating.
	DefaultGrace = 5 * time.Second

	pollInterval = 100 * time.Millisecond
)

// Tracked describes a process known to the tracker.
type Tracked struct {
	Label      string
	PID        int
	RecordPath string
	LogPath    string
	StartedAt  time.Time
}

// Tracker manages PID records under a state directory.
type Tracker struct {
	runDir string
	logDir string
	grace  time.Duration
}

// NewTracker stores records in <stateDir>/run and process output in <stateDir>/logs.
func NewTracker(stateDir string) *Tracker {
	return &Tracker{
		runDir: filepath.Join(stateDir, "run"),
		logDir: filepath.Join(stateDir, "logs"),
		grace:  DefaultGrace,
	}
}

// WithGrace changes the period between the first signal and SIGKILL.
func (t *Tracker) WithGrace(d time.Duration) *Tracker {
	t.grace = d
	return t
}

// LogPath returns the file a label's output is appended to.
func (t *Tracker) LogPath(label string) string {
	return filepath.Join(t.logDir, label+".log")
}

// Launch starts command detached from the current session and records its PID.
// A live record for the same label fails with StaleDeploymentConflict and starts nothing.
func (t *Tracker) Launch(label string, command []string) (*Tracked, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command for %s", label)
	}

	unlock, err := t.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := t.adoptOrClear(label)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &errdefs.StaleDeploymentConflict{Label: label, PID: existing.PID}
	}

	if err := os.MkdirAll(t.logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logPath := t.LogPath(label)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file for %s: %w", label, err)
	}
	defer logFile.Close()

	cmd := execCommand(command[0], command[1:]...)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s (%s): %w", label, command[0], err)
	}
	pid := cmd.Process.Pid
	// reap the child if it exits while we are still running, so liveness checks see it gone
	go func() { _ = cmd.Wait() }()

	recordPath := t.recordPath(label)
	if err := writeFileAtomic(recordPath, []byte(strconv.Itoa(pid)+"\n")); err != nil {
		_ = unix.Kill(-pid, unix.SIGKILL)
		return nil, fmt.Errorf("failed to write record for %s: %w", label, err)
	}

	logging.Info("ProcessTracker", "Started %s (pid %d), output in %s", label, pid, logPath)
	return &Tracked{Label: label, PID: pid, RecordPath: recordPath, LogPath: logPath, StartedAt: time.Now()}, nil
}

// IsAlive reports whether label has a record whose process is running.
func (t *Tracker) IsAlive(label string) bool {
	tr, err := t.read(label)
	if err != nil || tr == nil {
		return false
	}
	return pidAlive(tr.PID)
}

// AdoptOrClear returns the live process recorded for label. A record whose process
// is gone is removed without signalling anything, and nil is returned.
func (t *Tracker) AdoptOrClear(label string) (*Tracked, error) {
	unlock, err := t.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.adoptOrClear(label)
}

func (t *Tracker) adoptOrClear(label string) (*Tracked, error) {
	tr, err := t.read(label)
	if err != nil {
		logging.Warn("ProcessTracker", "Unreadable record for %s, clearing it: %v", label, err)
		return nil, t.remove(label)
	}
	if tr == nil {
		return nil, nil
	}
	if pidAlive(tr.PID) {
		return tr, nil
	}
	logging.Info("ProcessTracker", "Clearing stale record for %s (pid %d)", label, tr.PID)
	return nil, t.remove(label)
}

// Stop signals the process and waits up to the grace period, then sends SIGKILL.
// The record is removed once the process is confirmed gone. It reports whether a
// live process was stopped. Cancelling ctx cuts the grace period short.
func (t *Tracker) Stop(ctx context.Context, label string, sig syscall.Signal) (bool, error) {
	tr, err := t.read(label)
	if err != nil {
		return false, t.remove(label)
	}
	if tr == nil {
		return false, nil
	}
	if !pidAlive(tr.PID) {
		return false, t.remove(label)
	}

	logging.Debug("ProcessTracker", "Sending %s to %s (pid %d)", sig, label, tr.PID)
	if err := signalGroup(tr.PID, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return false, fmt.Errorf("failed to signal %s (pid %d): %w", label, tr.PID, err)
	}

	if sig != unix.SIGKILL && !waitGone(ctx, tr.PID, t.grace) {
		logging.Warn("ProcessTracker", "%s (pid %d) still running after %s, sending SIGKILL", label, tr.PID, t.grace)
		if err := signalGroup(tr.PID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return false, fmt.Errorf("failed to kill %s (pid %d): %w", label, tr.PID, err)
		}
	}
	if !waitGone(context.WithoutCancel(ctx), tr.PID, 2*time.Second) {
		return false, fmt.Errorf("%s (pid %d) did not exit", label, tr.PID)
	}

	logging.Info("ProcessTracker", "Stopped %s (pid %d)", label, tr.PID)
	return true, t.remove(label)
}

// List returns all records in creation order, live or not.
func (t *Tracker) List() ([]Tracked, error) {
	entries, err := os.ReadDir(t.runDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", t.runDir, err)
	}

	var out []Tracked
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordSuffix) {
			continue
		}
		tr, err := t.read(strings.TrimSuffix(name, recordSuffix))
		if err != nil || tr == nil {
			continue
		}
		out = append(out, *tr)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Label < out[j].Label
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// read returns nil without error when no record exists.
func (t *Tracker) read(label string) (*Tracked, error) {
	path := t.recordPath(label)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("invalid pid record %s: %q", path, strings.TrimSpace(string(data)))
	}

	tr := &Tracked{Label: label, PID: pid, RecordPath: path, LogPath: t.LogPath(label)}
	if info, err := os.Stat(path); err == nil {
		tr.StartedAt = info.ModTime()
	}
	return tr, nil
}

func (t *Tracker) remove(label string) error {
	err := os.Remove(t.recordPath(label))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove record for %s: %w", label, err)
	}
	return nil
}

func (t *Tracker) recordPath(label string) string {
	return filepath.Join(t.runDir, label+recordSuffix)
}

func (t *Tracker) lock() (func(), error) {
	if err := os.MkdirAll(t.runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	fl := flock.New(filepath.Join(t.runDir, lockFileName))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", fl.Path(), err)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			logging.Warn("ProcessTracker", "Failed to release lock: %v", err)
		}
	}, nil
}

func pidAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// signalGroup signals the process group led by pid, falling back to the process itself.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}

func waitGone(ctx context.Context, pid int, timeout time.Duration) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(timeout)
	for {
		if !pidAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !pidAlive(pid)
		case <-ticker.C:
		}
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
