package config

import (
	"errors"
	"fmt"
	"strings"

	"stackctl/internal/dependency"
)

// Validate checks the configuration for errors that would only surface half-way through a start.
func Validate(cfg StackConfig) error {
	var errs []error

	if cfg.Project == "" {
		errs = append(errs, errors.New("project name is required"))
	}
	if len(cfg.Services) == 0 {
		errs = append(errs, errors.New("at least one service is required"))
	}

	seen := make(map[string]bool, len(cfg.Services))
	for _, svc := range cfg.Services {
		if svc.Name == "" {
			errs = append(errs, errors.New("service without a name"))
			continue
		}
		if seen[svc.Name] {
			errs = append(errs, fmt.Errorf("service %s is declared twice", svc.Name))
		}
		seen[svc.Name] = true
		errs = append(errs, validateService(svc)...)
	}

	if _, err := StartOrder(cfg); err != nil {
		errs = append(errs, err)
	}

	if len(cfg.Setup.Steps) > 0 {
		if _, ok := cfg.Service(cfg.Setup.Service); !ok {
			errs = append(errs, fmt.Errorf("setup service %q is not declared", cfg.Setup.Service))
		}
		for _, step := range cfg.Setup.Steps {
			if step.Name == "" || len(step.Command) == 0 {
				errs = append(errs, fmt.Errorf("setup step %q needs a name and a command", step.Name))
			}
		}
		switch cfg.Setup.Marker.Kind {
		case MarkerPostgres:
			if cfg.Setup.Marker.DSN == "" || cfg.Setup.Marker.Query == "" {
				errs = append(errs, errors.New("postgres setup marker needs dsn and query"))
			}
		case MarkerExec:
			if len(cfg.Setup.Marker.Command) == 0 {
				errs = append(errs, errors.New("exec setup marker needs a command"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown setup marker kind %q", cfg.Setup.Marker.Kind))
		}
	}

	if cfg.Tunnel.IsEnabled() {
		if cfg.Tunnel.Name == "" {
			errs = append(errs, errors.New("tunnel name is required"))
		}
		if cfg.Tunnel.Fallback == "" {
			errs = append(errs, errors.New("tunnel fallback rule is required"))
		}
		for _, r := range cfg.Tunnel.Routes {
			if r.Hostname == "" || r.Service == "" {
				errs = append(errs, fmt.Errorf("tunnel route %q -> %q is incomplete", r.Hostname, r.Service))
			}
		}
	}

	return errors.Join(errs...)
}

func validateService(svc ServiceSpec) []error {
	var errs []error
	if svc.Container.Image == "" {
		errs = append(errs, fmt.Errorf("service %s: container image is required", svc.Name))
	}
	if _, err := svc.Container.HostPorts(); err != nil {
		errs = append(errs, fmt.Errorf("service %s: %w", svc.Name, err))
	}
	if svc.Retry.MaxAttempts < 1 || svc.Retry.Interval <= 0 {
		errs = append(errs, fmt.Errorf("service %s: retry policy needs maxAttempts >= 1 and a positive interval", svc.Name))
	}

	p := svc.Readiness
	switch p.Kind {
	case ProbeHTTP:
		if !strings.HasPrefix(p.Target, "http://") && !strings.HasPrefix(p.Target, "https://") {
			errs = append(errs, fmt.Errorf("service %s: http probe target must be a URL", svc.Name))
		}
	case ProbeExec:
		if len(p.Command) == 0 {
			errs = append(errs, fmt.Errorf("service %s: exec probe needs a command", svc.Name))
		}
	case ProbePostgres, ProbeRedis, ProbeTCP:
		if p.Target == "" {
			errs = append(errs, fmt.Errorf("service %s: %s probe needs a target", svc.Name, p.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("service %s: unknown probe kind %q", svc.Name, p.Kind))
	}
	return errs
}

// StartOrder returns the services sorted so that every service follows its dependencies.
func StartOrder(cfg StackConfig) ([]ServiceSpec, error) {
	g := dependency.New()
	for _, svc := range cfg.Services {
		deps := make([]dependency.NodeID, 0, len(svc.DependsOn))
		for _, d := range svc.DependsOn {
			deps = append(deps, dependency.NodeID(d))
		}
		g.AddNode(dependency.Node{
			ID:           dependency.NodeID(svc.Name),
			FriendlyName: svc.Name,
			DependsOn:    deps,
		})
	}

	ids, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	ordered := make([]ServiceSpec, 0, len(ids))
	for _, id := range ids {
		svc, _ := cfg.Service(string(id))
		ordered = append(ordered, svc)
	}
	return ordered, nil
}
