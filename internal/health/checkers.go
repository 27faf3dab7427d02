package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"stackctl/internal/config"
	"stackctl/internal/runtime"
)

// Checker probes a single service once.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// NewChecker builds the checker for a service's readiness probe.
func NewChecker(spec config.ServiceSpec, rt runtime.Runtime) (Checker, error) {
	p := spec.Readiness
	switch p.Kind {
	case config.ProbeHTTP:
		return &HTTPChecker{URL: p.Target}, nil
	case config.ProbeTCP:
		return &TCPChecker{Address: p.Target}, nil
	case config.ProbePostgres:
		return &PostgresChecker{DSN: p.Target}, nil
	case config.ProbeRedis:
		return &RedisChecker{URL: p.Target}, nil
	case config.ProbeExec:
		if rt == nil {
			return nil, fmt.Errorf("exec probe for %s needs a container runtime", spec.Name)
		}
		return &ExecChecker{Runtime: rt, Service: spec.Name, Command: p.Command}, nil
	default:
		return nil, fmt.Errorf("unknown probe kind %q for %s", p.Kind, spec.Name)
	}
}

// HTTPChecker is ready when a GET returns a 2xx status.
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

func (h *HTTPChecker) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", h.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", h.URL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// TCPChecker is ready when the address accepts a connection.
type TCPChecker struct {
	Address string
}

func (c *TCPChecker) CheckHealth(ctx context.Context) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.Address, err)
	}
	return conn.Close()
}

// PostgresChecker connects and pings the database.
type PostgresChecker struct {
	DSN string
}

func (c *PostgresChecker) CheckHealth(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, c.DSN)
	if err != nil {
		return fmt.Errorf("postgres not accepting connections: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// RedisChecker sends PING.
type RedisChecker struct {
	URL string
}

func (c *RedisChecker) CheckHealth(ctx context.Context) error {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	// one dial per attempt, the gate owns the retries
	opts.MaxRetries = -1
	client := redis.NewClient(opts)
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// ExecChecker runs a command inside the service container; exit code 0 is ready.
type ExecChecker struct {
	Runtime runtime.Runtime
	Service string
	Command []string
}

func (c *ExecChecker) CheckHealth(ctx context.Context) error {
	res, err := c.Runtime.Exec(ctx, c.Service, c.Command)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with code %d: %s", strings.Join(c.Command, " "), res.ExitCode, strings.TrimSpace(res.Output))
	}
	return nil
}
