package events

// Event type constants for kelindar/event.
const (
	TypeBackendStateChanged uint32 = iota + 1
	TypeBackendStarted
	TypeBackendReady
	TypeBackendHealth
	TypeBackendCrashed
	TypeBackendRestartScheduled
	TypeBackendRepairing
	TypeBackendFailed
	TypeBackendStopped
	TypeLogEntry
	TypeBackendMetrics
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// BackendStateChangedEvent is published on every supervisor state transition.
// Used by metrics and the systemd notifier.
type BackendStateChangedEvent struct {
	SessionID string `json:"session_id" example:"5f0c4b8e-3f7a-4b1e-9a55-2c1d8e0f6a10" doc:"Supervision session"`
	From      string `json:"from" example:"starting" doc:"Previous state"`
	To        string `json:"to" example:"ready" doc:"New state"`
	Error     string `json:"error,omitempty" doc:"Error that caused the transition"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BackendStateChangedEvent.
func (e BackendStateChangedEvent) Type() uint32 { return TypeBackendStateChanged }

// BackendStartedEvent represents a spawned backend process.
type BackendStartedEvent struct {
	SessionID string `json:"session_id" doc:"Supervision session"`
	PID       int    `json:"pid" example:"4242" doc:"Backend process ID"`
	Attempt   int    `json:"attempt" example:"1" doc:"Launch number within the session"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BackendStartedEvent.
func (e BackendStartedEvent) Type() uint32 { return TypeBackendStarted }

// BackendReadyEvent represents a backend that passed its readiness check.
type BackendReadyEvent struct {
	SessionID string `json:"session_id" doc:"Supervision session"`
	PID       int    `json:"pid" example:"4242" doc:"Backend process ID"`
	Attempt   int    `json:"attempt" example:"1" doc:"Launch number within the session"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BackendReadyEvent.
func (e BackendReadyEvent) Type() uint32 { return TypeBackendReady }

// BackendHealthEvent reports a health transition of a ready backend.
type BackendHealthEvent struct {
	SessionID string `json:"session_id" doc:"Supervision session"`
	PID       int    `json:"pid" example:"4242" doc:"Backend process ID"`
	Status    string `json:"status" example:"degraded" doc:"degraded, recovered or hung"`
	Error     string `json:"error,omitempty" doc:"Last probe error"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BackendHealthEvent.
func (e BackendHealthEvent) Type() uint32 { return TypeBackendHealth }

// BackendCrashedEvent is published when the backend exits without being asked to.
type BackendCrashedEvent struct {
	SessionID string `json:"session_id" doc:"Supervision session"`
	PID       int    `json:"pid" example:"4242" doc:"Backend process ID"`
	ExitCode  int    `json:"exit_code" example:"1" doc:"Exit code, 128+N when killed by signal N"`
	Signal    string `json:"signal,omitempty" example:"killed" doc:"Terminating signal"`
	Error     string `json:"error" doc:"Exit description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BackendCrashedEvent.
func (e BackendCrashedEvent) Type() uint32 { return TypeBackendCrashed }

// BackendRestartScheduledEvent represents a relaunch waiting out its backoff.
type BackendRestartScheduledEvent struct {
	SessionID string `json:"session_id" doc:"Supervision session"`
	Attempt   int    `json:"attempt" example:"2" doc:"Restart number within the session"`
	DelayMS   int64  `json:"delay_ms" example:"500" doc:"Backoff before relaunch"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BackendRestartScheduledEvent.
func (e BackendRestartScheduledEvent) Type() uint32 { return TypeBackendRestartScheduled }

// BackendRepairingEvent is published when the repair hook is invoked.
type BackendRepairingEvent struct {
	SessionID string `json:"session_id" doc:"Supervision session"`
	Error     string `json:"error" doc:"Failure that triggered the repair"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BackendRepairingEvent.
func (e BackendRepairingEvent) Type() uint32 { return TypeBackendRepairing }

// BackendFailedEvent is published when supervision gives up.
type BackendFailedEvent struct {
	SessionID string `json:"session_id" doc:"Supervision session"`
	Code      string `json:"code" example:"RESTART_BUDGET_EXHAUSTED" doc:"Failure code"`
	Error     string `json:"error" doc:"Actionable failure message"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BackendFailedEvent.
func (e BackendFailedEvent) Type() uint32 { return TypeBackendFailed }

// BackendStoppedEvent is published once shutdown completes.
type BackendStoppedEvent struct {
	SessionID string `json:"session_id" doc:"Supervision session"`
	Error     string `json:"error,omitempty" doc:"Set if the backend outlived the kill signal"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BackendStoppedEvent.
func (e BackendStoppedEvent) Type() uint32 { return TypeBackendStopped }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"backend" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// BackendMetricsEvent is a periodic snapshot of the backend counters.
type BackendMetricsEvent struct {
	State         string  `json:"state" example:"ready" doc:"Current supervisor state"`
	Launches      int     `json:"launches" example:"1" doc:"Backend processes started"`
	Restarts      int     `json:"restarts" example:"0" doc:"Restarts scheduled"`
	Crashes       int     `json:"crashes" example:"0" doc:"Unexpected exits"`
	UptimeSeconds float64 `json:"uptime_seconds" example:"12.5" doc:"Seconds since the backend last became ready, 0 when not ready"`
	Timestamp     string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Snapshot time"`
}

// Type returns the event type identifier for BackendMetricsEvent.
func (e BackendMetricsEvent) Type() uint32 { return TypeBackendMetrics }
