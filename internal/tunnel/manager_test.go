package tunnel

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"stackctl/internal/config"
	"stackctl/internal/errdefs"
	"stackctl/internal/process"
)

// fakeClient writes an executable shell script standing in for cloudflared.
func fakeClient(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cloudflared")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestManager(t *testing.T, binary string) (*Manager, *process.Tracker) {
	t.Helper()
	stateDir := t.TempDir()
	tracker := process.NewTracker(stateDir).WithGrace(500 * time.Millisecond)
	t.Cleanup(func() {
		_, _ = tracker.Stop(context.Background(), Label, syscall.SIGKILL)
	})
	cfg := config.TunnelConfig{
		Binary:          binary,
		Name:            "accesswash",
		ConfigPath:      filepath.Join(stateDir, "cloudflared", "config.yml"),
		CredentialsFile: "/home/dev/.cloudflared/accesswash.json",
		SettleDelay:     300 * time.Millisecond,
		Routes: []config.RouteSpec{
			{Hostname: "*.accesswash.org", Service: "http://localhost:8000"},
			{Hostname: "api.accesswash.org", Service: "http://localhost:8000"},
		},
		Fallback: "http_status:404",
	}
	return NewManager(cfg, tracker), tracker
}

func TestEnsureConfig_WritesOnce(t *testing.T) {
	m, _ := newTestManager(t, "cloudflared")

	path, err := m.EnsureConfig(m.Rules())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var written struct {
		Tunnel          string `yaml:"tunnel"`
		CredentialsFile string `yaml:"credentials-file"`
		Ingress         []Rule `yaml:"ingress"`
	}
	require.NoError(t, yaml.Unmarshal(data, &written))
	assert.Equal(t, "accesswash", written.Tunnel)
	assert.Equal(t, "/home/dev/.cloudflared/accesswash.json", written.CredentialsFile)
	assert.Equal(t, []Rule{
		{Hostname: "api.accesswash.org", Service: "http://localhost:8000"},
		{Hostname: "*.accesswash.org", Service: "http://localhost:8000"},
		{Service: "http_status:404"},
	}, written.Ingress)
	assert.Contains(t, string(data), "- service: http_status:404")

	custom := []byte("tunnel: accesswash\ningress:\n  - service: http://localhost:9999\n")
	require.NoError(t, os.WriteFile(path, custom, 0o644))

	again, err := m.EnsureConfig(m.Rules())
	require.NoError(t, err)
	assert.Equal(t, path, again)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, custom, data)
}

func TestEnsureConfig_RequiresFallback(t *testing.T) {
	m, _ := newTestManager(t, "cloudflared")
	_, err := m.EnsureConfig([]Rule{{Hostname: "api.accesswash.org", Service: "http://localhost:8000"}})
	assert.Error(t, err)
	assert.NoFileExists(t, m.cfg.ConfigPath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr bool
	}{
		{
			name:   "valid",
			script: `[ "$4" = "ingress" ] && [ "$5" = "validate" ] && echo OK && exit 0; exit 9`,
		},
		{
			name:    "invalid",
			script:  `echo "Validating rules from $3"; echo "rule #2 is a catch-all but is not last" >&2; exit 1`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, fakeClient(t, tt.script))
			err := m.Validate(context.Background(), "/tmp/config.yml")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var invalid *errdefs.TunnelConfigInvalid
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, "/tmp/config.yml", invalid.Path)
			assert.Contains(t, invalid.Output, "catch-all but is not last")
		})
	}
}

func TestStart_StaysUp(t *testing.T) {
	m, tracker := newTestManager(t, fakeClient(t, `echo "Registered tunnel connection"; exec sleep 30`))

	tracked, err := m.Start(context.Background(), "/tmp/config.yml")
	require.NoError(t, err)
	assert.True(t, tracker.IsAlive(Label))
	assert.Equal(t, Label, tracked.Label)
}

func TestStart_ExitsDuringSettle(t *testing.T) {
	m, tracker := newTestManager(t, fakeClient(t, `echo "failed to unmarshal credentials"; exit 1`))

	_, err := m.Start(context.Background(), "/tmp/config.yml")
	var launch *errdefs.TunnelLaunchFailed
	require.ErrorAs(t, err, &launch)
	assert.Contains(t, launch.Reason, "failed to unmarshal credentials")
	assert.False(t, tracker.IsAlive(Label))

	records, err := tracker.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStart_ConflictWithRunningTunnel(t *testing.T) {
	m, _ := newTestManager(t, fakeClient(t, `exec sleep 30`))

	_, err := m.Start(context.Background(), "/tmp/config.yml")
	require.NoError(t, err)

	_, err = m.Start(context.Background(), "/tmp/config.yml")
	var conflict *errdefs.StaleDeploymentConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestRunCommand(t *testing.T) {
	m, _ := newTestManager(t, "")
	assert.Equal(t, []string{"cloudflared", "tunnel", "--config", "/x.yml", "run", "accesswash"}, m.RunCommand("/x.yml"))
}
