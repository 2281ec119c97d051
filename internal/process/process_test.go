package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	serveScript      = `trap 'exit 0' INT TERM; while :; do sleep 0.05; done`
	stubbornScript   = `trap '' INT TERM; while :; do sleep 0.05; done`
	crashScript      = `exit 3`
	testWaitDeadline = 3 * time.Second
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a config running script under sh with short timeouts.
func testConfig(t *testing.T, script string) LaunchConfig {
	t.Helper()
	cfg := DefaultLaunchConfig()
	cfg.Executable = "sh"
	cfg.Args = []string{"-c", script}
	cfg.WorkDir = ""
	cfg.Anchor = t.TempDir()
	cfg.Readiness.Interval = 20 * time.Millisecond
	cfg.Readiness.Timeout = 2 * time.Second
	cfg.Health = HealthSpec{Interval: 20 * time.Millisecond, HungAfter: 200 * time.Millisecond}
	cfg.Restart = RestartSpec{
		MaxAttempts:        3,
		Window:             time.Minute,
		StabilityThreshold: time.Minute,
		InitialBackoff:     10 * time.Millisecond,
		MaxBackoff:         50 * time.Millisecond,
		Multiplier:         2,
	}
	cfg.Shutdown = ShutdownSpec{GracePeriod: 200 * time.Millisecond, KillWait: 500 * time.Millisecond}
	return cfg
}

func mustSpec(t *testing.T, cfg LaunchConfig) LaunchSpec {
	t.Helper()
	spec, err := NewLaunchSpec(cfg)
	if err != nil {
		t.Fatalf("NewLaunchSpec failed: %v", err)
	}
	return spec
}

// switchProbe succeeds while healthy is set.
type switchProbe struct {
	healthy  atomic.Bool
	calls    atomic.Int32
	lastCall atomic.Int64 // UnixNano
}

func (p *switchProbe) Check(context.Context) error {
	p.calls.Add(1)
	p.lastCall.Store(time.Now().UnixNano())
	if p.healthy.Load() {
		return nil
	}
	return errors.New("connection refused")
}

func healthyProbe() *switchProbe {
	p := &switchProbe{}
	p.healthy.Store(true)
	return p
}

// eventRecorder collects supervisor events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// types returns recorded event types without state changes.
func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []EventType
	for _, ev := range r.events {
		if ev.Type != EventStateChanged {
			types = append(types, ev.Type)
		}
	}
	return types
}

// transitions returns recorded state changes as "from->to".
func (r *eventRecorder) transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Type == EventStateChanged {
			out = append(out, string(ev.From)+"->"+string(ev.State))
		}
	}
	return out
}

func (r *eventRecorder) has(typ EventType) bool {
	for _, got := range r.types() {
		if got == typ {
			return true
		}
	}
	return false
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWaitDeadline)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func waitForState(t *testing.T, s *Supervisor, want State) Status {
	t.Helper()
	var st Status
	waitFor(t, "state "+string(want), func() bool {
		st = s.Status()
		return st.State == want
	})
	return st
}

func shutdown(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testWaitDeadline)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
