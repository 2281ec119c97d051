package process

import "time"

// State represents the current state of the supervisor.
type State string

// Supervisor states.
const (
	StateIdle         State = "idle"          // Nothing launched yet
	StateStarting     State = "starting"      // Child launched, waiting for readiness
	StateReady        State = "ready"         // Readiness check passed
	StateDegraded     State = "degraded"      // Was ready, health probe now failing
	StateRestarting   State = "restarting"    // Waiting out backoff before relaunch
	StateShuttingDown State = "shutting_down" // Terminal, child being stopped
	StateStopped      State = "stopped"       // See Outcome
)

// IsActive reports whether a child is launched or about to be.
func (s State) IsActive() bool {
	switch s {
	case StateStarting, StateReady, StateDegraded, StateRestarting:
		return true
	}
	return false
}

// Outcome describes how a stopped supervisor ended.
type Outcome string

// Outcomes reported with StateStopped.
const (
	OutcomeNone   Outcome = ""
	OutcomeClean  Outcome = "clean"
	OutcomeFailed Outcome = "failed"
)

// Status is a point-in-time snapshot of the supervisor for display.
type Status struct {
	State           State
	Outcome         Outcome
	SessionID       string
	PID             int
	StartedAt       time.Time
	ReadyAt         time.Time
	Launches        int
	Restarts        int
	BudgetRemaining int
	LastExitCode    *int
	LastError       error
}

// ExitInfo describes how a child process ended.
type ExitInfo struct {
	PID       int
	Code      int
	Signal    string
	Requested bool // exit was asked for by the shutdown path
	Hung      bool // child was terminated after failing health checks
	Uptime    time.Duration
	Err       error
}
