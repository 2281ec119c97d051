package process

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMatchesSentinelByCode(t *testing.T) {
	err := newError(ErrCodeReadinessTimeout, "backend not ready after 30s", errors.New("connection refused"))
	wrapped := fmt.Errorf("start: %w", err)

	if !errors.Is(wrapped, ErrReadinessTimeout) {
		t.Error("expected match on ErrReadinessTimeout")
	}
	if errors.Is(wrapped, ErrSpawnFailed) {
		t.Error("unexpected match on ErrSpawnFailed")
	}
	if got := Code(wrapped); got != ErrCodeReadinessTimeout {
		t.Errorf("expected code %s, got %s", ErrCodeReadinessTimeout, got)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("cause missing from %q", err)
	}
}

func TestExitErrorMessages(t *testing.T) {
	tests := []struct {
		info ExitInfo
		want string
	}{
		{ExitInfo{PID: 7, Code: 3}, "exited with code 3"},
		{ExitInfo{PID: 7, Code: 137, Signal: "killed"}, "killed by signal killed"},
		{ExitInfo{PID: 7, Code: 0, Hung: true}, "stopped responding"},
	}

	for _, tt := range tests {
		err := &ExitError{Info: tt.info}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("expected %q in %q", tt.want, err)
		}
		if Code(err) != ErrCodeUnexpectedExit {
			t.Errorf("expected code %s, got %s", ErrCodeUnexpectedExit, Code(err))
		}
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := Code(errors.New("plain")); got != "" {
		t.Errorf("expected no code, got %q", got)
	}
}

func TestCodePrefersOuterError(t *testing.T) {
	exitErr := &ExitError{Info: ExitInfo{PID: 7, Code: 1}}
	err := fmt.Errorf("supervise: %w", newError(ErrCodeRestartBudgetExhausted, "giving up", exitErr))

	if got := Code(err); got != ErrCodeRestartBudgetExhausted {
		t.Errorf("expected code %s, got %s", ErrCodeRestartBudgetExhausted, got)
	}
	if !errors.Is(err, ErrUnexpectedExit) {
		t.Error("wrapped exit should still match ErrUnexpectedExit")
	}
}
