// Package orchestrator sequences a local deployment of the stack.
//
// # Startup
//
// Start runs a fixed series of phases on a single goroutine:
//
//  1. prerequisites: container engine, tunnel client, credentials, free ports,
//     plus materializing and validating the tunnel configuration
//  2. stale-check: a live tunnel or log follower from an earlier run is a
//     conflict; dead records are cleared
//  3. services: leftover containers are removed, then every service is
//     started in dependency order
//  4. readiness: each service is gated by its readiness probe before its
//     dependents are started
//  5. setup: the init gate runs the one-time setup steps when needed
//  6. tunnel: the tunnel client is launched and DNS routes are created
//  7. supervision: the detached log follower is launched
//  8. logs: the aggregated log view is streamed until interrupted
//
// Failures in the first two phases leave nothing behind. Any later failure,
// or an interrupt during startup, unwinds through the shutdown coordinator's
// rollback before Start returns.
//
// # Stop
//
// Stop delegates to the coordinator's teardown, which verifies that the
// reserved ports are released and forces the teardown once if they are not.
//
// # Journal and metrics
//
// Every phase is timed into the run journal and, when configured, into a
// Prometheus textfile.
package orchestrator
