// Package tunnel exposes the application through cloudflared.
//
// The manager writes the ingress configuration once, validates it with the
// client's own dry run, starts the client as a tracked background process and
// checks that it is still alive after a short settle period.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stackctl/internal/config"
	"stackctl/internal/errdefs"
	"stackctl/internal/process"
	"stackctl/pkg/logging"
)

// Label is the process record name of the tunnel client.
const Label = "tunnel"

type fileConfig struct {
	Tunnel          string `yaml:"tunnel"`
	CredentialsFile string `yaml:"credentials-file"`
	Ingress         []Rule `yaml:"ingress"`
}

// Manager runs the cloudflared client.
type Manager struct {
	cfg     config.TunnelConfig
	tracker *process.Tracker
}

// NewManager creates a tunnel manager that launches through tracker.
func NewManager(cfg config.TunnelConfig, tracker *process.Tracker) *Manager {
	return &Manager{cfg: cfg, tracker: tracker}
}

// Rules returns the ordered ingress rules for the configured routes.
func (m *Manager) Rules() []Rule {
	return BuildRules(m.cfg.Routes, m.cfg.Fallback)
}

// EnsureConfig writes the client configuration unless a file already exists at the
// configured path. An existing file is never touched.
func (m *Manager) EnsureConfig(rules []Rule) (string, error) {
	path := m.cfg.ConfigPath
	if _, err := os.Stat(path); err == nil {
		logging.Info("Tunnel", "Using existing tunnel configuration %s", path)
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if len(rules) == 0 || !rules[len(rules)-1].IsFallback() {
		return "", fmt.Errorf("ingress rules must end with a fallback rule")
	}

	data, err := yaml.Marshal(fileConfig{
		Tunnel:          m.cfg.Name,
		CredentialsFile: m.cfg.CredentialsFile,
		Ingress:         rules,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render tunnel configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	// O_EXCL so a file created concurrently is not clobbered
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	logging.Info("Tunnel", "Wrote tunnel configuration with %d rule(s) to %s", len(rules), path)
	return path, nil
}

// Validate runs the client's ingress dry run against path.
func (m *Manager) Validate(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, m.binary(), "tunnel", "--config", path, "ingress", "validate")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &errdefs.TunnelConfigInvalid{Path: path, Output: strings.TrimSpace(string(out)), Err: err}
	}
	logging.Debug("Tunnel", "Ingress validation passed: %s", strings.TrimSpace(string(out)))
	return nil
}

// Start launches the client and confirms it is still running after the settle delay.
func (m *Manager) Start(ctx context.Context, path string) (*process.Tracked, error) {
	tracked, err := m.tracker.Launch(Label, m.RunCommand(path))
	if err != nil {
		var conflict *errdefs.StaleDeploymentConflict
		if errors.As(err, &conflict) {
			return nil, err
		}
		return nil, &errdefs.TunnelLaunchFailed{Reason: "could not start " + m.binary(), Err: err}
	}

	timer := time.NewTimer(m.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return tracked, ctx.Err()
	case <-timer.C:
	}

	if !m.tracker.IsAlive(Label) {
		// drop the dead record so a retry starts clean
		if _, err := m.tracker.AdoptOrClear(Label); err != nil {
			logging.Warn("Tunnel", "Failed to clear tunnel record: %v", err)
		}
		return nil, &errdefs.TunnelLaunchFailed{
			Reason: fmt.Sprintf("exited within %s; last output: %s", m.cfg.SettleDelay, tailFile(tracked.LogPath, 5)),
		}
	}
	logging.Info("Tunnel", "Tunnel %s running (pid %d)", m.cfg.Name, tracked.PID)
	return tracked, nil
}

// RunCommand is the command line of the long-running client.
func (m *Manager) RunCommand(path string) []string {
	return []string{m.binary(), "tunnel", "--config", path, "run", m.cfg.Name}
}

func (m *Manager) binary() string {
	if m.cfg.Binary == "" {
		return "cloudflared"
	}
	return m.cfg.Binary
}

// tailFile returns up to n last lines of a file joined with " | ".
func tailFile(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return "(no output)"
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if len(lines) == 0 {
		return "(no output)"
	}
	return strings.Join(lines, " | ")
}
