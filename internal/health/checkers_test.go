package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackctl/internal/config"
	"stackctl/internal/runtime"
	"stackctl/internal/runtime/runtimetest"
)

func TestHTTPChecker_CheckHealth(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		expectError bool
		errorMsg    string
	}{
		{name: "ok", status: http.StatusOK},
		{name: "no content", status: http.StatusNoContent},
		{name: "server error", status: http.StatusInternalServerError, expectError: true, errorMsg: "returned status 500"},
		{name: "not found", status: http.StatusNotFound, expectError: true, errorMsg: "returned status 404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/health/", r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			checker := &HTTPChecker{URL: server.URL + "/health/"}
			err := checker.CheckHealth(context.Background())
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHTTPChecker_ConnectionRefused(t *testing.T) {
	checker := &HTTPChecker{URL: "http://" + closedAddr(t) + "/health/"}
	err := checker.CheckHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestTCPChecker_CheckHealth(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	assert.NoError(t, (&TCPChecker{Address: listener.Addr().String()}).CheckHealth(context.Background()))
	assert.Error(t, (&TCPChecker{Address: closedAddr(t)}).CheckHealth(context.Background()))
}

func TestRedisChecker_CheckHealth(t *testing.T) {
	mr := miniredis.RunT(t)

	checker := &RedisChecker{URL: "redis://" + mr.Addr() + "/1"}
	require.NoError(t, checker.CheckHealth(context.Background()))

	mr.Close()
	err := checker.CheckHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")

	assert.Error(t, (&RedisChecker{URL: "not a url"}).CheckHealth(context.Background()))
}

func TestPostgresChecker_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	checker := &PostgresChecker{DSN: "postgres://postgres:postgres@" + closedAddr(t) + "/app?sslmode=disable"}
	err := checker.CheckHealth(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres not accepting connections")
}

func TestExecChecker_CheckHealth(t *testing.T) {
	rt := runtimetest.New()
	rt.ExecFn = func(service string, cmd []string) (runtime.ExecResult, error) {
		switch cmd[0] {
		case "pg_isready":
			return runtime.ExecResult{ExitCode: 0, Output: "accepting connections"}, nil
		case "broken":
			return runtime.ExecResult{}, errors.New("no container for service db")
		default:
			return runtime.ExecResult{ExitCode: 2, Output: "no response\n"}, nil
		}
	}

	ok := &ExecChecker{Runtime: rt, Service: "db", Command: []string{"pg_isready", "-U", "postgres"}}
	assert.NoError(t, ok.CheckHealth(context.Background()))

	failing := &ExecChecker{Runtime: rt, Service: "db", Command: []string{"psql"}}
	err := failing.CheckHealth(context.Background())
	require.Error(t, err)
	assert.Equal(t, "psql exited with code 2: no response", err.Error())

	broken := &ExecChecker{Runtime: rt, Service: "db", Command: []string{"broken"}}
	assert.Error(t, broken.CheckHealth(context.Background()))

	assert.Equal(t, []string{"db", "pg_isready", "-U", "postgres"}, rt.Execs()[0])
}

func TestNewChecker(t *testing.T) {
	tests := []struct {
		kind    config.ProbeKind
		want    Checker
		wantErr bool
	}{
		{kind: config.ProbeHTTP, want: &HTTPChecker{}},
		{kind: config.ProbeTCP, want: &TCPChecker{}},
		{kind: config.ProbePostgres, want: &PostgresChecker{}},
		{kind: config.ProbeRedis, want: &RedisChecker{}},
		{kind: config.ProbeExec, want: &ExecChecker{}},
		{kind: "grpc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			spec := config.ServiceSpec{Name: "svc", Readiness: config.ProbeSpec{Kind: tt.kind}}
			c, err := NewChecker(spec, runtimetest.New())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
		})
	}
}

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}
