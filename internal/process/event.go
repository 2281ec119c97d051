package process

import (
	"context"
	"time"
)

// EventType identifies a supervisor lifecycle event.
type EventType string

// Lifecycle events, in the order a healthy session produces them.
const (
	EventStateChanged     EventType = "state_changed"
	EventStarted          EventType = "started"
	EventReady            EventType = "ready"
	EventDegraded         EventType = "degraded"
	EventRecovered        EventType = "recovered"
	EventHung             EventType = "hung"
	EventCrashed          EventType = "crashed"
	EventRestartScheduled EventType = "restart_scheduled"
	EventRepairing        EventType = "repairing"
	EventFailed           EventType = "failed"
	EventStopped          EventType = "stopped"
)

// Event is emitted by the supervisor loop. Handlers run on the loop
// goroutine and must not block.
type Event struct {
	Type      EventType
	SessionID string
	State     State
	From      State // previous state, for EventStateChanged
	PID       int
	ExitCode  int
	Signal    string
	Attempt   int
	Delay     time.Duration
	Err       error
	Time      time.Time
}

// EventHandler receives lifecycle events.
type EventHandler func(Event)

// StateChangeCallback is called when the supervisor state changes.
type StateChangeCallback func(oldState, newState State, err error)

// RepairHook is consulted once when the restart budget is exhausted.
// A nil error grants one more session with a fresh budget.
type RepairHook interface {
	Repair(ctx context.Context, cause error) error
}

// RepairFunc adapts a function to the RepairHook interface.
type RepairFunc func(ctx context.Context, cause error) error

// Repair calls f(ctx, cause).
func (f RepairFunc) Repair(ctx context.Context, cause error) error { return f(ctx, cause) }
