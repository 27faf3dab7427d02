package reporting

import (
	"fmt"
	"time"
)

// State is the lifecycle state carried by an update.
type State string

const (
	StateStarting State = "Starting"
	StateReady    State = "Ready"
	StateSkipped  State = "Skipped"
	StateWarning  State = "Warning"
	StateFailed   State = "Failed"
	StateStopped  State = "Stopped"
)

// String makes State satisfy the fmt.Stringer interface.
func (s State) String() string {
	return string(s)
}

// Update is one user-facing progress event.
type Update struct {
	// Timestamp of when the event occurred or was reported.
	Timestamp time.Time
	// Phase is the orchestration step, e.g. "readiness" or "tunnel".
	Phase string
	// Subject is what the update is about: a service name, a setup step, a process label.
	Subject string
	State   State
	Message string
	Err     error
}

// String provides a simple string representation for debugging the update itself.
func (u Update) String() string {
	return fmt.Sprintf("Update(TS: %s, Phase: %s, Subject: %s, State: %s, Msg: '%s', Err: %v)",
		u.Timestamp.Format(time.RFC3339), u.Phase, u.Subject, u.State, u.Message, u.Err)
}

// Reporter receives progress updates. Implementations must be goroutine-safe.
type Reporter interface {
	Report(update Update)
}

// Discard drops every update.
type Discard struct{}

func (Discard) Report(Update) {}
