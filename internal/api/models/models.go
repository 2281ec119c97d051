package models

import "time"

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"42" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Backend models

// BackendError is the last failure reported by the supervisor.
type BackendError struct {
	Code    string `json:"code" example:"READINESS_TIMEOUT" doc:"Machine readable error code"`
	Message string `json:"message" example:"backend did not become ready within 30s" doc:"Actionable message for the user"`
}

// BackendStatus is a snapshot of the supervised backend.
type BackendStatus struct {
	State           string        `json:"state" enum:"idle,starting,ready,degraded,restarting,shutting_down,stopped" example:"ready" doc:"Supervisor state"`
	Outcome         string        `json:"outcome,omitempty" enum:"clean,failed" doc:"How a stopped supervisor ended"`
	SessionID       string        `json:"session_id,omitempty" example:"5f0c4b8e-3f7a-4b1e-9a55-2c1d8e0f6a10" doc:"Current supervision session"`
	PID             int           `json:"pid,omitempty" example:"4242" doc:"Backend process ID"`
	StartedAt       *time.Time    `json:"started_at,omitempty" doc:"When the current process was launched"`
	ReadyAt         *time.Time    `json:"ready_at,omitempty" doc:"When the current process passed readiness"`
	Launches        int           `json:"launches" example:"1" doc:"Processes launched in this session"`
	Restarts        int           `json:"restarts" example:"0" doc:"Automatic restarts in this session"`
	BudgetRemaining int           `json:"budget_remaining" example:"3" doc:"Restarts left before giving up"`
	LastExitCode    *int          `json:"last_exit_code,omitempty" example:"1" doc:"Exit code of the previous process"`
	Error           *BackendError `json:"error,omitempty" doc:"Last error"`
}

type BackendStatusResponse struct {
	Body BackendStatus
}

// BackendStartRequest re-triggers startup.
type BackendStartRequest struct {
	Wait bool `query:"wait" doc:"Block until the backend is ready or has failed"`
}

// BackendStartResponse is 202 while starting, 200 once a waited start settles.
type BackendStartResponse struct {
	Status int
	Body   BackendStatus
}

// BackendOutputRequest selects recent output lines.
type BackendOutputRequest struct {
	Limit  int    `query:"limit" minimum:"0" maximum:"1000" default:"200" doc:"Maximum lines to return, newest kept"`
	Source string `query:"source" enum:"stdout,stderr" doc:"Only lines from this stream"`
}

// BackendOutputLine is one line written by the backend.
type BackendOutputLine struct {
	Seq       uint64    `json:"seq" example:"17" doc:"Monotonic sequence number"`
	Timestamp time.Time `json:"timestamp" doc:"When the line was read"`
	Source    string    `json:"source" example:"stderr" doc:"Output stream"`
	Level     string    `json:"level" example:"info" doc:"Level parsed from the line"`
	Message   string    `json:"message" example:"Uvicorn running on http://127.0.0.1:8000" doc:"Line text"`
}

type BackendOutputData struct {
	Lines []BackendOutputLine `json:"lines" doc:"Output lines, oldest first"`
	Count int                 `json:"count" example:"1" doc:"Number of lines returned"`
}

type BackendOutputResponse struct {
	Body BackendOutputData
}
