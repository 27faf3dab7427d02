package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfigFile writes raw YAML to dir/filename.
func writeConfigFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// isolate points all config lookups into a temporary directory.
func isolate(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()

	originalHome := osUserHomeDir
	originalGetwd := osGetwd
	t.Cleanup(func() {
		osUserHomeDir = originalHome
		osGetwd = originalGetwd
	})
	osUserHomeDir = func() (string, error) { return filepath.Join(tempDir, "home"), nil }
	osGetwd = func() (string, error) { return filepath.Join(tempDir, "work"), nil }
	return tempDir
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	tempDir := isolate(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "accesswash", cfg.Project)
	assert.Equal(t, filepath.Join(tempDir, "work", ".stackctl"), cfg.StateDir)
	assert.Equal(t, filepath.Join(cfg.StateDir, "cloudflared", "config.yml"), cfg.Tunnel.ConfigPath)
	assert.Equal(t, filepath.Join(tempDir, "home", ".cloudflared", "accesswash.json"), cfg.Tunnel.CredentialsFile)
	assert.True(t, cfg.Tunnel.IsEnabled())

	names := make([]string, 0, len(cfg.Services))
	for _, s := range cfg.Services {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"db", "cache", "app"}, names)
	assert.ElementsMatch(t, []int{5432, 6379, 8000}, cfg.Ports())
}

func TestDefaultConfig_AppReadinessDoesNotNeedSetup(t *testing.T) {
	app, ok := GetDefaultConfig().Service("app")
	require.True(t, ok)

	// readiness is gated before setup runs, so the probe must not touch the schema
	assert.Equal(t, ProbeTCP, app.Readiness.Kind)
	assert.Equal(t, "localhost:8000", app.Readiness.Target)
	assert.Empty(t, app.Readiness.Command)
}

func TestDefaultConfig_SetupMarkerChecksSharedSchema(t *testing.T) {
	marker := GetDefaultConfig().Setup.Marker
	assert.Equal(t, MarkerPostgres, marker.Kind)
	assert.Equal(t, "SELECT to_regclass('public.tenants_utility') IS NOT NULL", marker.Query)
}

func TestLoadConfig_UserAndProjectOverride(t *testing.T) {
	tempDir := isolate(t)

	writeConfigFile(t, filepath.Join(tempDir, "home", userConfigDir), configFileName, `
project: personal
tunnel:
  settleDelay: 5s
`)
	writeConfigFile(t, filepath.Join(tempDir, "work", projectConfigDir), configFileName, `
project: team
services:
  - name: app
    dependsOn: [db]
    readiness:
      kind: http
      target: http://localhost:9000/ping/
    retry:
      maxAttempts: 5
      interval: 1s
    container:
      image: example/app:dev
      ports: ["9000:8000"]
  - name: worker
    dependsOn: [app]
    readiness:
      kind: exec
      command: ["true"]
    retry:
      maxAttempts: 2
      interval: 500ms
    container:
      image: example/app:dev
`)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "team", cfg.Project)
	assert.Equal(t, 5*time.Second, cfg.Tunnel.SettleDelay)
	require.Len(t, cfg.Services, 4)

	app, ok := cfg.Service("app")
	require.True(t, ok)
	assert.Equal(t, "http://localhost:9000/ping/", app.Readiness.Target)
	assert.Equal(t, RetryPolicy{MaxAttempts: 5, Interval: time.Second}, app.Retry)
	assert.Equal(t, "worker", cfg.Services[3].Name)
}

func TestLoadConfig_TunnelCanBeDisabled(t *testing.T) {
	tempDir := isolate(t)
	writeConfigFile(t, filepath.Join(tempDir, "work", projectConfigDir), configFileName, "tunnel:\n  enabled: false\n")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.Tunnel.IsEnabled())
	// routes from the defaults are kept but unused
	assert.NotEmpty(t, cfg.Tunnel.Routes)
}

func TestLoadConfigFromPath(t *testing.T) {
	tempDir := isolate(t)
	path := writeConfigFile(t, tempDir, "custom.yaml", "project: custom\nstateDir: /var/lib/stackctl\n")

	cfg, err := LoadConfigFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", cfg.Project)
	assert.Equal(t, "/var/lib/stackctl", cfg.StateDir)
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	tempDir := isolate(t)
	writeConfigFile(t, filepath.Join(tempDir, "work", projectConfigDir), configFileName, "services: [\n")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading project config")
}

func TestValidate(t *testing.T) {
	valid := func() StackConfig {
		cfg := GetDefaultConfig()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*StackConfig)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*StackConfig) {},
		},
		{
			name: "unknown dependency",
			mutate: func(c *StackConfig) {
				c.Services[2].DependsOn = []string{"queue"}
			},
			wantErr: "unknown node queue",
		},
		{
			name: "cycle",
			mutate: func(c *StackConfig) {
				c.Services[0].DependsOn = []string{"app"}
			},
			wantErr: "dependency cycle",
		},
		{
			name: "duplicate service",
			mutate: func(c *StackConfig) {
				c.Services = append(c.Services, c.Services[0])
			},
			wantErr: "declared twice",
		},
		{
			name: "bad probe kind",
			mutate: func(c *StackConfig) {
				c.Services[1].Readiness.Kind = "grpc"
			},
			wantErr: `unknown probe kind "grpc"`,
		},
		{
			name: "zero attempts",
			mutate: func(c *StackConfig) {
				c.Services[1].Retry.MaxAttempts = 0
			},
			wantErr: "maxAttempts >= 1",
		},
		{
			name: "missing fallback",
			mutate: func(c *StackConfig) {
				c.Tunnel.Fallback = ""
			},
			wantErr: "fallback rule is required",
		},
		{
			name: "missing fallback is fine without tunnel",
			mutate: func(c *StackConfig) {
				disabled := false
				c.Tunnel.Enabled = &disabled
				c.Tunnel.Fallback = ""
			},
		},
		{
			name: "setup service unknown",
			mutate: func(c *StackConfig) {
				c.Setup.Service = "web"
			},
			wantErr: `setup service "web" is not declared`,
		},
		{
			name: "bad port mapping",
			mutate: func(c *StackConfig) {
				c.Services[0].Container.Ports = []string{"5432"}
			},
			wantErr: "must be host:container",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStartOrder(t *testing.T) {
	cfg := GetDefaultConfig()
	// declare app first; dependencies must still come before it
	cfg.Services = []ServiceSpec{cfg.Services[2], cfg.Services[0], cfg.Services[1]}

	ordered, err := StartOrder(cfg)
	require.NoError(t, err)

	names := []string{}
	for _, s := range ordered {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"db", "cache", "app"}, names)
}
