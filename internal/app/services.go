package app

import (
	"errors"
	"fmt"
	"os"

	"stackctl/internal/config"
	"stackctl/internal/initgate"
	"stackctl/internal/metrics"
	"stackctl/internal/orchestrator"
	"stackctl/internal/prereq"
	"stackctl/internal/process"
	"stackctl/internal/reporting"
	"stackctl/internal/runlog"
	"stackctl/internal/runtime"
	"stackctl/internal/shutdown"
	"stackctl/internal/tunnel"
	"stackctl/pkg/logging"
)

// osExecutable is mocked in tests.
var osExecutable = os.Executable

// Services holds everything a command needs.
type Services struct {
	Runtime      *runtime.Docker
	Tracker      *process.Tracker
	Coordinator  *shutdown.Coordinator
	Orchestrator *orchestrator.Orchestrator
	Reporter     *reporting.ConsoleReporter
	Journal      *runlog.Log
}

// InitializeServices wires the orchestrator for one command. A non-empty
// journal kind opens the matching run journal.
func InitializeServices(cfg *Config, journal runlog.Kind) (*Services, error) {
	stack := *cfg.Stack

	rt, err := runtime.NewDocker(stack.Project)
	if err != nil {
		return nil, fmt.Errorf("failed to create container runtime client: %w", err)
	}

	tracker := process.NewTracker(stack.StateDir)
	coordinator := shutdown.New(tracker, rt, stack.Ports())
	reporter := reporting.NewConsoleReporter(cfg.Out)

	log := runlog.Discard()
	if journal != "" {
		log, err = runlog.Open(stack.StateDir, journal)
		if err != nil {
			rt.Close()
			return nil, err
		}
		logging.Debug("Bootstrap", "Run %s journal: %s", log.RunID(), log.Path())
	}

	orchCfg := orchestrator.Config{
		Stack:       stack,
		Runtime:     rt,
		Tracker:     tracker,
		Coordinator: coordinator,
		Prereq:      prereq.Check,
		Reporter:    reporter,
		Metrics:     metrics.NewRecorder(),
		Journal:     log,
		LogOutput:   cfg.Out,
	}

	if len(stack.Setup.Steps) > 0 {
		gate, err := initgate.FromConfig(stack.Setup, rt)
		if err != nil {
			rt.Close()
			log.Close()
			return nil, fmt.Errorf("failed to set up init gate: %w", err)
		}
		orchCfg.Setup = gate
	}

	if router := dnsRouter(stack.Tunnel); router != nil {
		orchCfg.DNS = router
	}

	follower, err := followerCommand(cfg.ConfigPath)
	if err != nil {
		logging.Warn("Bootstrap", "Log follower disabled: %v", err)
	} else {
		orchCfg.FollowerCommand = follower
	}

	return &Services{
		Runtime:      rt,
		Tracker:      tracker,
		Coordinator:  coordinator,
		Orchestrator: orchestrator.New(orchCfg),
		Reporter:     reporter,
		Journal:      log,
	}, nil
}

// Close releases the runtime client and the journal.
func (s *Services) Close() error {
	return errors.Join(s.Runtime.Close(), s.Journal.Close())
}

// dnsRouter returns a router when DNS routing is configured and its token is set.
func dnsRouter(t config.TunnelConfig) *tunnel.DNSRouter {
	if !t.IsEnabled() || !t.DNS.Enabled() {
		return nil
	}
	token := os.Getenv(t.DNS.APITokenEnv)
	if token == "" {
		logging.Debug("Bootstrap", "DNS routing skipped, %s is not set", t.DNS.APITokenEnv)
		return nil
	}
	router, err := tunnel.NewDNSRouter(t.DNS, token)
	if err != nil {
		logging.Warn("Bootstrap", "DNS routing disabled: %v", err)
		return nil
	}
	return router
}

// followerCommand re-invokes this binary with the same configuration source.
func followerCommand(configPath string) ([]string, error) {
	exe, err := osExecutable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	command := []string{exe}
	if configPath != "" {
		command = append(command, "--config", configPath)
	}
	return command, nil
}
