package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StackConfig is the top-level configuration structure for stackctl.
type StackConfig struct {
	Project  string        `yaml:"project"`
	StateDir string        `yaml:"stateDir,omitempty"`
	Services []ServiceSpec `yaml:"services"`
	Setup    SetupConfig   `yaml:"setup"`
	Tunnel   TunnelConfig  `yaml:"tunnel"`

	// ReservedPorts are verified to be free after stop. Defaults to the host ports of all services.
	ReservedPorts []int `yaml:"reservedPorts,omitempty"`

	// MetricsFile, when set, receives a Prometheus textfile with the timings of the last run.
	MetricsFile string `yaml:"metricsFile,omitempty"`
}

// ProbeKind selects how readiness of a service is determined.
type ProbeKind string

const (
	ProbeHTTP     ProbeKind = "http"
	ProbeExec     ProbeKind = "exec"
	ProbePostgres ProbeKind = "postgres"
	ProbeRedis    ProbeKind = "redis"
	ProbeTCP      ProbeKind = "tcp"
)

// ServiceSpec declares one service of the stack. It is immutable once loaded.
type ServiceSpec struct {
	Name      string        `yaml:"name"`
	DependsOn []string      `yaml:"dependsOn,omitempty"`
	Readiness ProbeSpec     `yaml:"readiness"`
	Retry     RetryPolicy   `yaml:"retry"`
	Container ContainerSpec `yaml:"container"`
}

// ProbeSpec describes the readiness signal of a service.
type ProbeSpec struct {
	Kind ProbeKind `yaml:"kind"`
	// Target is a URL for http, a DSN for postgres, a redis URL for redis and host:port for tcp.
	Target string `yaml:"target,omitempty"`
	// Command is executed inside the service container for the exec kind.
	Command []string      `yaml:"command,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// RetryPolicy bounds how long a readiness or setup step is retried.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Interval    time.Duration `yaml:"interval"`
}

// Budget is the wall-clock bound implied by the policy.
func (r RetryPolicy) Budget() time.Duration {
	return time.Duration(r.MaxAttempts) * r.Interval
}

// ContainerSpec is handed to the service runtime and not interpreted otherwise.
type ContainerSpec struct {
	Image   string            `yaml:"image"`
	Command []string          `yaml:"command,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	// Ports are "host:container" mappings, e.g. "5432:5432".
	Ports []string `yaml:"ports,omitempty"`
	// Volumes are "name:/path" named volumes or "/abs/host:/path" binds.
	Volumes []string `yaml:"volumes,omitempty"`
}

// HostPorts returns the host side of every port mapping.
func (c ContainerSpec) HostPorts() ([]int, error) {
	ports := make([]int, 0, len(c.Ports))
	for _, mapping := range c.Ports {
		host, _, ok := strings.Cut(mapping, ":")
		if !ok {
			return nil, fmt.Errorf("port mapping %q must be host:container", mapping)
		}
		p, err := strconv.Atoi(host)
		if err != nil {
			return nil, fmt.Errorf("port mapping %q: invalid host port: %w", mapping, err)
		}
		ports = append(ports, p)
	}
	return ports, nil
}

// MarkerKind selects how first-run setup is detected.
type MarkerKind string

const (
	MarkerPostgres MarkerKind = "postgres"
	MarkerExec     MarkerKind = "exec"
)

// SetupConfig drives the first-run initialization.
type SetupConfig struct {
	// Service is the container setup commands are executed in.
	Service string      `yaml:"service"`
	Marker  MarkerSpec  `yaml:"marker"`
	Steps   []SetupStep `yaml:"steps,omitempty"`
}

// MarkerSpec is a read-only probe for "setup already happened".
type MarkerSpec struct {
	Kind MarkerKind `yaml:"kind"`
	DSN  string     `yaml:"dsn,omitempty"`
	// Query must return a single boolean.
	Query string `yaml:"query,omitempty"`
	// Command exits 0 when initialized and 1 when not; other codes mean unknown.
	Command []string      `yaml:"command,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// SetupStep is one command of the initialization sequence.
type SetupStep struct {
	Name     string        `yaml:"name"`
	Command  []string      `yaml:"command"`
	Critical bool          `yaml:"critical"`
	Attempts int           `yaml:"attempts,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

// TunnelConfig configures the outbound tunnel.
type TunnelConfig struct {
	// Enabled defaults to true when unset.
	Enabled         *bool         `yaml:"enabled,omitempty"`
	Binary          string        `yaml:"binary,omitempty"`
	Name            string        `yaml:"name,omitempty"`
	ConfigPath      string        `yaml:"configPath,omitempty"`
	CredentialsFile string        `yaml:"credentialsFile,omitempty"`
	SettleDelay     time.Duration `yaml:"settleDelay,omitempty"`
	Routes          []RouteSpec   `yaml:"routes,omitempty"`
	// Fallback is the service of the catch-all rule, e.g. "http_status:404".
	Fallback string    `yaml:"fallback,omitempty"`
	DNS      DNSConfig `yaml:"dns,omitempty"`
}

// IsEnabled reports whether the tunnel is part of the stack.
func (t TunnelConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// RouteSpec maps a public hostname (or wildcard) to a local service address.
type RouteSpec struct {
	Hostname string `yaml:"hostname"`
	Service  string `yaml:"service"`
}

// DNSConfig enables creation of DNS routes for the tunnel through the Cloudflare API.
type DNSConfig struct {
	ZoneID   string `yaml:"zoneId,omitempty"`
	TunnelID string `yaml:"tunnelId,omitempty"`
	// APITokenEnv names the environment variable holding the API token.
	APITokenEnv string `yaml:"apiTokenEnv,omitempty"`
}

// Enabled reports whether DNS routing is configured.
func (d DNSConfig) Enabled() bool {
	return d.ZoneID != "" && d.TunnelID != ""
}

// Service returns the declared service with the given name.
func (c StackConfig) Service(name string) (ServiceSpec, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return ServiceSpec{}, false
}

// Ports returns the ports that must be free once the stack is stopped.
func (c StackConfig) Ports() []int {
	if len(c.ReservedPorts) > 0 {
		return c.ReservedPorts
	}
	var ports []int
	for _, s := range c.Services {
		hp, err := s.Container.HostPorts()
		if err != nil {
			continue
		}
		ports = append(ports, hp...)
	}
	return ports
}
