// Package prereq checks the host before anything is started.
package prereq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"stackctl/internal/config"
	"stackctl/internal/errdefs"
	"stackctl/internal/runtime"
	"stackctl/pkg/logging"
)

// For mocking in tests
var (
	lookPath = exec.LookPath
	portFree = func(port int) bool {
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			return false
		}
		l.Close()
		return true
	}
)

// Check verifies the container engine, the tunnel client and its credentials, and
// that reserved ports are either free or held by this project's own containers.
// The first failure is returned as PrerequisiteMissing.
func Check(ctx context.Context, cfg config.StackConfig, rt runtime.Runtime) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rt.Ping(pingCtx); err != nil {
		return &errdefs.PrerequisiteMissing{What: "container engine", Reason: err.Error()}
	}

	if cfg.Tunnel.IsEnabled() {
		if _, err := lookPath(cfg.Tunnel.Binary); err != nil {
			return &errdefs.PrerequisiteMissing{What: cfg.Tunnel.Binary, Reason: "not found on PATH"}
		}
		if _, err := os.Stat(cfg.Tunnel.CredentialsFile); err != nil {
			reason := err.Error()
			if errors.Is(err, os.ErrNotExist) {
				reason = fmt.Sprintf("%s does not exist; run 'cloudflared tunnel create %s'", cfg.Tunnel.CredentialsFile, cfg.Tunnel.Name)
			}
			return &errdefs.PrerequisiteMissing{What: "tunnel credentials", Reason: reason}
		}
	}

	owned, err := ownedPorts(ctx, rt)
	if err != nil {
		return &errdefs.PrerequisiteMissing{What: "container engine", Reason: err.Error()}
	}
	var busy []string
	for _, p := range cfg.Ports() {
		if owned[p] || portFree(p) {
			continue
		}
		busy = append(busy, strconv.Itoa(p))
	}
	if len(busy) > 0 {
		return &errdefs.PrerequisiteMissing{
			What:   "ports",
			Reason: "in use by another program: " + strings.Join(busy, ", "),
		}
	}

	logging.Debug("Prereq", "All prerequisites satisfied")
	return nil
}

// ownedPorts returns the host ports published by the project's running containers.
func ownedPorts(ctx context.Context, rt runtime.Runtime) (map[int]bool, error) {
	statuses, err := rt.Status(ctx)
	if err != nil {
		return nil, err
	}
	owned := make(map[int]bool)
	for _, s := range statuses {
		if !s.Running() {
			continue
		}
		for _, mapping := range s.Ports {
			host, _, _ := strings.Cut(mapping, "->")
			if p, err := strconv.Atoi(host); err == nil {
				owned[p] = true
			}
		}
	}
	return owned, nil
}
