package process

import (
	"errors"
	"fmt"
)

// Error codes for supervisor failures.
const (
	ErrCodeExecutableNotFound     = "EXECUTABLE_NOT_FOUND"
	ErrCodeSpawnFailed            = "SPAWN_FAILED"
	ErrCodeReadinessTimeout       = "READINESS_TIMEOUT"
	ErrCodeUnexpectedExit         = "UNEXPECTED_EXIT"
	ErrCodeRestartBudgetExhausted = "RESTART_BUDGET_EXHAUSTED"
	ErrCodeShutdownTimedOut       = "SHUTDOWN_TIMED_OUT"
	ErrCodeAlreadyRunning         = "ALREADY_RUNNING"
	ErrCodeShutDown               = "SHUT_DOWN"
)

// Error represents a supervisor error with a code.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so the sentinels below
// work with errors.Is regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func newError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Sentinels for errors.Is.
var (
	ErrExecutableNotFound     = &Error{Code: ErrCodeExecutableNotFound}
	ErrSpawnFailed            = &Error{Code: ErrCodeSpawnFailed}
	ErrReadinessTimeout       = &Error{Code: ErrCodeReadinessTimeout}
	ErrUnexpectedExit         = &Error{Code: ErrCodeUnexpectedExit}
	ErrRestartBudgetExhausted = &Error{Code: ErrCodeRestartBudgetExhausted}
	ErrShutdownTimedOut       = &Error{Code: ErrCodeShutdownTimedOut}
	ErrAlreadyRunning         = &Error{Code: ErrCodeAlreadyRunning}
	ErrShutDown               = &Error{Code: ErrCodeShutDown}
)

// ExitError reports a child that exited without being asked to.
type ExitError struct {
	Info ExitInfo
}

func (e *ExitError) Error() string {
	if e.Info.Hung {
		return fmt.Sprintf("backend pid %d stopped responding and was terminated", e.Info.PID)
	}
	if e.Info.Signal != "" {
		return fmt.Sprintf("backend pid %d killed by signal %s", e.Info.PID, e.Info.Signal)
	}
	return fmt.Sprintf("backend pid %d exited with code %d", e.Info.PID, e.Info.Code)
}

// Is lets errors.Is(err, ErrUnexpectedExit) match.
func (e *ExitError) Is(target error) bool {
	return target == ErrUnexpectedExit
}

// Code returns the error code of err, or "" if err carries none. The
// outermost *Error wins over an ExitError it wraps.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return ErrCodeUnexpectedExit
	}
	return ""
}
