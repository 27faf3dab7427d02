package runtime

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackctl/internal/config"
)

// dockerOrSkip returns a runtime for an isolated project, or skips when no engine is reachable.
func dockerOrSkip(t *testing.T) *Docker {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Docker test in short mode")
	}
	d, err := NewDocker("stackctl-test-" + strings.ToLower(t.Name()))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Ping(ctx); err != nil {
		t.Skip("Docker not available, skipping test")
	}
	t.Cleanup(func() {
		_ = d.Down(context.Background(), DownOptions{Volumes: true, Force: true})
		_ = d.Close()
	})
	return d
}

func TestVolumeBind(t *testing.T) {
	tests := []struct {
		spec      string
		wantBind  string
		wantNamed string
	}{
		{"pgdata:/var/lib/postgresql/data", "demo_pgdata:/var/lib/postgresql/data", "demo_pgdata"},
		{"/srv/media:/app/media", "/srv/media:/app/media", ""},
		{"./static:/app/static:ro", "./static:/app/static:ro", ""},
		{"anonymous", "anonymous", ""},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			bind, named := volumeBind("demo", tt.spec)
			assert.Equal(t, tt.wantBind, bind)
			assert.Equal(t, tt.wantNamed, named)
		})
	}
}

func TestEnvListIsSorted(t *testing.T) {
	env := envList(map[string]string{"REDIS_URL": "redis://cache:6379/1", "DEBUG": "True", "ALLOWED_HOSTS": "*"})
	assert.Equal(t, []string{"ALLOWED_HOSTS=*", "DEBUG=True", "REDIS_URL=redis://cache:6379/1"}, env)
}

func TestContainerNameAndShortID(t *testing.T) {
	assert.Equal(t, "accesswash-db", containerName("accesswash", "db"))
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestServiceStatusRunning(t *testing.T) {
	assert.True(t, ServiceStatus{State: "running"}.Running())
	assert.False(t, ServiceStatus{State: "exited"}.Running())
}

func TestDocker_Lifecycle(t *testing.T) {
	if os.Getenv("STACKCTL_DOCKER_TESTS") == "" {
		t.Skip("set STACKCTL_DOCKER_TESTS=1 to run against a local Docker engine")
	}
	d := dockerOrSkip(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	spec := config.ServiceSpec{
		Name: "cache",
		Container: config.ContainerSpec{
			Image: "redis:7-alpine",
		},
	}
	require.NoError(t, d.Up(ctx, []config.ServiceSpec{spec}))
	// a second Up must leave the running container alone
	require.NoError(t, d.Up(ctx, []config.ServiceSpec{spec}))

	statuses, err := d.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "cache", statuses[0].Service)

	res, err := d.Exec(ctx, "cache", []string{"redis-cli", "ping"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "PONG")

	res, err = d.Exec(ctx, "cache", []string{"sh", "-c", "exit 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)

	logs, err := d.Logs(ctx, "cache", LogOptions{Tail: 20})
	require.NoError(t, err)
	out, err := io.ReadAll(logs)
	require.NoError(t, err)
	require.NoError(t, logs.Close())
	assert.Contains(t, string(out), "Ready to accept connections")

	require.NoError(t, d.Down(ctx, DownOptions{Volumes: true}))
	statuses, err = d.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, statuses)
}
