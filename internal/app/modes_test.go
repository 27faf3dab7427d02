package app

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackctl/internal/errdefs"
	"stackctl/internal/orchestrator"
	"stackctl/internal/reporting"
	"stackctl/internal/runtime"
	"stackctl/internal/shutdown"
)

func TestPrintFailure(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		contains    []string
		notContains []string
	}{
		{
			name: "readiness timeout with log tail",
			err: errdefs.InPhase(errdefs.PhaseReadiness, &errdefs.ReadinessTimeout{
				Service:  "app",
				Attempts: 3,
				LastErr:  errors.New("status 502"),
				LogTail:  "Traceback\nImportError: no module named foo",
			}),
			contains: []string{
				"Startup failed during readiness: service app not ready after 3 attempts: status 502",
				"Recent output of app:",
				"  ImportError: no module named foo",
				"rolled back",
			},
		},
		{
			name:        "prerequisite failure is not rolled back",
			err:         errdefs.InPhase(errdefs.PhasePrerequisites, &errdefs.PrerequisiteMissing{What: "cloudflared", Reason: "not found on PATH"}),
			contains:    []string{"during prerequisites", "cloudflared"},
			notContains: []string{"rolled back"},
		},
		{
			name:     "error without phase",
			err:      errors.New("boom"),
			contains: []string{"Startup failed during startup: boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printFailure(&buf, tt.err)
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestReportTeardown(t *testing.T) {
	tests := []struct {
		name     string
		report   shutdown.TeardownReport
		err      error
		wantErr  bool
		contains []string
	}{
		{
			name:   "clean stop",
			report: shutdown.TeardownReport{Stopped: []string{"log-follower"}},
		},
		{
			name:     "ports held by another program",
			report:   shutdown.TeardownReport{Forced: true, Bound: []int{5432}},
			err:      errdefs.InPhase(errdefs.PhaseTeardown, &errdefs.TeardownIncomplete{Ports: []int{5432}}),
			contains: []string{"force-removed", "5432", "lsof -i :5432"},
		},
		{
			name:    "runtime failure",
			err:     errdefs.InPhase(errdefs.PhaseTeardown, errors.New("docker daemon unreachable")),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := reportTeardown(reporting.NewConsoleReporter(&buf), tt.report, tt.err)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}

func TestRenderStatus(t *testing.T) {
	var buf bytes.Buffer
	renderStatus(&buf, "accesswash", orchestrator.Status{
		Services: []runtime.ServiceStatus{
			{Service: "db", ContainerID: "abc123", State: "running", Status: "Up 2 minutes", Ports: []string{"5432->5432/tcp"}},
		},
		Processes: []orchestrator.ProcessStatus{
			{Label: "tunnel", PID: 4321, Alive: true},
			{Label: "log-follower", PID: 4322, Alive: false},
		},
		Hostnames: []string{"api.accesswash.org"},
		LogDir:    "/tmp/state/logs",
	})

	out := buf.String()
	assert.Contains(t, out, "Services of accesswash")
	assert.Contains(t, out, "5432->5432/tcp")
	assert.Contains(t, out, "4321")
	assert.Contains(t, out, "Public hostnames: api.accesswash.org")
	assert.Contains(t, out, "Logs: /tmp/state/logs")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("log-follower")), bytes.Index(buf.Bytes(), []byte("tunnel ")))
}

func TestRenderStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderStatus(&buf, "demo", orchestrator.Status{LogDir: "/x"})
	assert.Contains(t, buf.String(), "not running")
	assert.NotContains(t, buf.String(), "Public hostnames")
}

func TestCopyURL(t *testing.T) {
	orig := clipboardWrite
	defer func() { clipboardWrite = orig }()

	var copied string
	clipboardWrite = func(s string) error {
		copied = s
		return nil
	}
	var buf bytes.Buffer
	copyURL(reporting.NewConsoleReporter(&buf), "https://api.accesswash.org")
	assert.Equal(t, "https://api.accesswash.org", copied)
	assert.Contains(t, buf.String(), "copied https://api.accesswash.org")

	clipboardWrite = func(string) error { return errors.New("no clipboard utility") }
	buf.Reset()
	copyURL(reporting.NewConsoleReporter(&buf), "https://api.accesswash.org")
	assert.Contains(t, buf.String(), "no clipboard utility")
}

func TestFollowerCommand(t *testing.T) {
	orig := osExecutable
	defer func() { osExecutable = orig }()
	osExecutable = func() (string, error) { return "/usr/local/bin/stackctl", nil }

	cmd, err := followerCommand("")
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/local/bin/stackctl"}, cmd)

	cmd, err = followerCommand("/etc/stack.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/local/bin/stackctl", "--config", "/etc/stack.yaml"}, cmd)

	osExecutable = func() (string, error) { return "", errors.New("unsupported") }
	_, err = followerCommand("")
	assert.Error(t, err)
}

func TestNewApplication_LoadsConfigFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`project: demo
stateDir: state
services:
  - name: web
    readiness:
      kind: tcp
      target: localhost:8080
    retry:
      maxAttempts: 3
      interval: 1s
    container:
      image: nginx
      ports: ["8080:80"]
tunnel:
  enabled: false
`), 0o644))

	var out bytes.Buffer
	cfg := NewConfig(path, false)
	cfg.Out = &out
	a, err := NewApplication(cfg)
	require.NoError(t, err)

	stack := a.Stack()
	assert.Equal(t, "demo", stack.Project)
	web, ok := stack.Service("web")
	require.True(t, ok, "file services are layered over the defaults")
	assert.Equal(t, "nginx", web.Container.Image)
	assert.False(t, stack.Tunnel.IsEnabled())
	assert.True(t, filepath.IsAbs(stack.StateDir))
}

func TestNewApplication_MissingConfig(t *testing.T) {
	_, err := NewApplication(NewConfig(filepath.Join(t.TempDir(), "missing.yaml"), false))
	assert.ErrorContains(t, err, "failed to load stackctl configuration")
}
