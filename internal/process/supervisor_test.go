package process

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestSupervisor(t *testing.T, cfg LaunchConfig, probe Probe, rec *eventRecorder) *Supervisor {
	t.Helper()
	opts := &Options{Probe: probe, Logger: testLogger()}
	if rec != nil {
		opts.OnEvent = rec.handle
	}
	return New(mustSpec(t, cfg), opts)
}

func TestSupervisorReadyAndShutdown(t *testing.T) {
	rec := &eventRecorder{}
	s := newTestSupervisor(t, testConfig(t, serveScript), healthyProbe(), rec)

	if st := s.Status(); st.State != StateIdle {
		t.Fatalf("expected idle, got %s", st.State)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), testWaitDeadline)
	defer cancel()
	st, err := s.WaitReady(ctx)
	if err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
	if st.State != StateReady || st.PID == 0 || st.Launches != 1 || st.SessionID == "" {
		t.Fatalf("unexpected status after ready: %+v", st)
	}
	pid := st.PID

	shutdown(t, s)

	st = s.Status()
	if st.State != StateStopped || st.Outcome != OutcomeClean {
		t.Errorf("expected stopped clean, got %s %q", st.State, st.Outcome)
	}
	if processExists(pid) {
		t.Errorf("backend pid %d still exists after shutdown", pid)
	}

	want := []EventType{EventStarted, EventReady, EventStopped}
	if got := rec.types(); !slices.Equal(got, want) {
		t.Errorf("expected events %v, got %v", want, got)
	}
	wantTransitions := []string{"idle->starting", "starting->ready", "ready->shutting_down", "shutting_down->stopped"}
	if got := rec.transitions(); !slices.Equal(got, wantTransitions) {
		t.Errorf("expected transitions %v, got %v", wantTransitions, got)
	}
}

func TestSupervisorStartAlreadyRunning(t *testing.T) {
	s := newTestSupervisor(t, testConfig(t, serveScript), healthyProbe(), nil)
	defer shutdown(t, s)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	err := s.Start(context.Background())
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if got := s.Status().Launches; got != 1 {
		t.Errorf("expected 1 launch, got %d", got)
	}
}

func TestSupervisorCrashLoopExhaustsBudget(t *testing.T) {
	rec := &eventRecorder{}
	s := newTestSupervisor(t, testConfig(t, crashScript), &switchProbe{}, rec)
	defer shutdown(t, s)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	st := waitForState(t, s, StateStopped)
	if st.Outcome != OutcomeFailed {
		t.Errorf("expected failed outcome, got %q", st.Outcome)
	}
	if !errors.Is(st.LastError, ErrRestartBudgetExhausted) {
		t.Errorf("expected ErrRestartBudgetExhausted, got %v", st.LastError)
	}
	if got := Code(st.LastError); got != ErrCodeRestartBudgetExhausted {
		t.Errorf("expected code %s, got %s", ErrCodeRestartBudgetExhausted, got)
	}
	if !errors.Is(st.LastError, ErrUnexpectedExit) {
		t.Errorf("expected exhaustion to wrap the last exit, got %v", st.LastError)
	}
	if st.Launches != 3 {
		t.Errorf("expected exactly 3 launches, got %d", st.Launches)
	}
	if st.LastExitCode == nil || *st.LastExitCode != 3 {
		t.Errorf("expected last exit code 3, got %v", st.LastExitCode)
	}
	if rec.has(EventReady) {
		t.Error("crashing backend must never be reported ready")
	}

	// No 4th launch after giving up
	time.Sleep(100 * time.Millisecond)
	if got := s.Status().Launches; got != 3 {
		t.Errorf("expected launches to stay at 3, got %d", got)
	}
}

func TestSupervisorStableUptimeKeepsRestarting(t *testing.T) {
	cfg := testConfig(t, `sleep 0.15; exit 1`)
	cfg.Restart.StabilityThreshold = 100 * time.Millisecond
	s := newTestSupervisor(t, cfg, healthyProbe(), nil)
	defer shutdown(t, s)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "four restarts", func() bool {
		return s.Status().Restarts >= 4
	})
	if st := s.Status(); st.State == StateStopped {
		t.Errorf("stable backend should not exhaust the budget: %v", st.LastError)
	}
}

func TestSupervisorStableRunClearsCountedFailures(t *testing.T) {
	cfg := testConfig(t, "")
	counter := filepath.Join(cfg.Anchor, "launches")
	// Odd launches crash at once, even launches stay up past the threshold
	cfg.Args = []string{"-c", `n=$(cat "$1" 2>/dev/null || echo 0); n=$((n+1)); echo $n > "$1"
if [ $((n % 2)) -eq 1 ]; then exit 1; fi
sleep 0.25; exit 1`, "sh", counter}
	cfg.Restart.StabilityThreshold = 100 * time.Millisecond
	s := newTestSupervisor(t, cfg, healthyProbe(), nil)
	defer shutdown(t, s)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	lowest := cfg.Restart.MaxAttempts
	waitFor(t, "four restarts", func() bool {
		st := s.Status()
		if st.State == StateStopped {
			t.Fatalf("budget exhausted after %d restarts: %v", st.Restarts, st.LastError)
		}
		lowest = min(lowest, st.BudgetRemaining)
		return st.Restarts >= 4
	})
	if lowest > cfg.Restart.MaxAttempts-2 {
		t.Errorf("expected two failures counted before a reset, lowest budget was %d", lowest)
	}
}

func TestSupervisorReadinessTimeout(t *testing.T) {
	cfg := testConfig(t, serveScript)
	cfg.Readiness.Timeout = 200 * time.Millisecond
	rec := &eventRecorder{}
	s := newTestSupervisor(t, cfg, &switchProbe{}, rec)

	started := time.Now()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	pid := s.Status().PID

	ctx, cancel := context.WithTimeout(context.Background(), testWaitDeadline)
	defer cancel()
	st, err := s.WaitReady(ctx)
	if !errors.Is(err, ErrReadinessTimeout) {
		t.Fatalf("expected ErrReadinessTimeout, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > cfg.Readiness.Timeout+500*time.Millisecond {
		t.Errorf("failure took %s, expected about %s", elapsed, cfg.Readiness.Timeout)
	}
	if st.State != StateStopped || st.Outcome != OutcomeFailed {
		t.Errorf("expected stopped failed, got %s %q", st.State, st.Outcome)
	}
	if st.Launches != 1 {
		t.Errorf("readiness timeout must not restart, got %d launches", st.Launches)
	}

	shutdown(t, s)
	if processExists(pid) {
		t.Errorf("unresponsive backend pid %d left running", pid)
	}
	if rec.has(EventReady) {
		t.Error("unexpected ready event")
	}
}

func TestSupervisorReadyWhenEndpointOpens(t *testing.T) {
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := reserved.Addr().String()
	reserved.Close()

	const openAfter = 300 * time.Millisecond
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})}
	served := make(chan struct{})
	go func() {
		defer close(served)
		time.Sleep(openAfter)
		ln, listenErr := net.Listen("tcp", addr)
		if listenErr != nil {
			t.Errorf("reopen %s: %v", addr, listenErr)
			return
		}
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
		<-served
	})

	cfg := testConfig(t, serveScript)
	cfg.Readiness.URL = "http://" + addr + "/health"
	cfg.Readiness.Interval = 50 * time.Millisecond
	cfg.Readiness.Timeout = 2 * time.Second
	s := New(mustSpec(t, cfg), &Options{Logger: testLogger()})
	defer shutdown(t, s)

	started := time.Now()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), testWaitDeadline)
	defer cancel()
	if _, err := s.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	elapsed := time.Since(started)
	if elapsed < openAfter {
		t.Errorf("ready after %s, before the endpoint opened", elapsed)
	}
	if limit := openAfter + cfg.Readiness.Interval + 100*time.Millisecond; elapsed > limit {
		t.Errorf("ready after %s, expected within %s", elapsed, limit)
	}
}

func TestSupervisorExecutableNotFound(t *testing.T) {
	cfg := testConfig(t, serveScript)
	cfg.Executable = "bin/missing-backend"
	s := newTestSupervisor(t, cfg, healthyProbe(), nil)
	defer shutdown(t, s)

	err := s.Start(context.Background())
	if !errors.Is(err, ErrExecutableNotFound) {
		t.Fatalf("expected ErrExecutableNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing-backend") {
		t.Errorf("error should name the path, got %q", err)
	}

	st := s.Status()
	if st.State != StateStopped || st.Outcome != OutcomeFailed || st.Launches != 0 {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestSupervisorEarlyExitDuringStartup(t *testing.T) {
	cfg := testConfig(t, `exit 2`)
	cfg.Restart.MaxAttempts = 1
	cfg.Readiness.Timeout = 5 * time.Second
	s := newTestSupervisor(t, cfg, &switchProbe{}, nil)
	defer shutdown(t, s)

	started := time.Now()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	st := waitForState(t, s, StateStopped)
	if time.Since(started) > time.Second {
		t.Error("early exit should be noticed well before the readiness timeout")
	}
	if errors.Is(st.LastError, ErrReadinessTimeout) {
		t.Errorf("early exit reported as readiness timeout: %v", st.LastError)
	}
	if !errors.Is(st.LastError, ErrUnexpectedExit) {
		t.Errorf("expected unexpected exit, got %v", st.LastError)
	}
	if st.LastExitCode == nil || *st.LastExitCode != 2 {
		t.Errorf("expected exit code 2, got %v", st.LastExitCode)
	}
}

func TestSupervisorShutdownWhileStarting(t *testing.T) {
	cfg := testConfig(t, serveScript)
	cfg.Readiness.Timeout = 10 * time.Second
	rec := &eventRecorder{}
	probe := &switchProbe{}
	s := newTestSupervisor(t, cfg, probe, rec)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	pid := s.Status().PID
	time.Sleep(50 * time.Millisecond)

	// The backend exits on SIGTERM after its current 50ms sleep
	const childExit = 150 * time.Millisecond
	started := time.Now()
	shutdown(t, s)
	if elapsed := time.Since(started); elapsed > cfg.Readiness.Interval+childExit {
		t.Errorf("shutdown took %s", elapsed)
	}

	last := time.Unix(0, probe.lastCall.Load())
	if late := last.Sub(started); late > cfg.Readiness.Interval {
		t.Errorf("readiness probe ran %s after shutdown began, interval is %s", late, cfg.Readiness.Interval)
	}
	calls := probe.calls.Load()
	time.Sleep(100 * time.Millisecond)
	if probe.calls.Load() != calls {
		t.Error("readiness probe kept running after shutdown")
	}
	if processExists(pid) {
		t.Errorf("backend pid %d still exists", pid)
	}
	if st := s.Status(); st.State != StateStopped || st.Outcome != OutcomeClean {
		t.Errorf("expected stopped clean, got %s %q", st.State, st.Outcome)
	}
	if rec.has(EventReady) {
		t.Error("ready reported after shutdown began")
	}
}

func TestSupervisorShutdownIdempotent(t *testing.T) {
	s := newTestSupervisor(t, testConfig(t, serveScript), healthyProbe(), nil)

	shutdown(t, s)
	shutdown(t, s)

	if st := s.Status(); st.State != StateStopped {
		t.Errorf("expected stopped, got %s", st.State)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrShutDown) {
		t.Errorf("expected ErrShutDown after shutdown, got %v", err)
	}
}

func TestSupervisorShutdownForceKill(t *testing.T) {
	cfg := testConfig(t, stubbornScript)
	cfg.Shutdown.GracePeriod = 100 * time.Millisecond
	s := newTestSupervisor(t, cfg, healthyProbe(), nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, s, StateReady)

	shutdown(t, s)

	st := s.Status()
	if st.LastExitCode == nil || *st.LastExitCode != 137 {
		t.Errorf("expected exit code 137, got %v", st.LastExitCode)
	}
}

func TestSupervisorShutdownDeadline(t *testing.T) {
	cfg := testConfig(t, stubbornScript)
	cfg.Shutdown.GracePeriod = time.Second
	s := newTestSupervisor(t, cfg, healthyProbe(), nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, s, StateReady)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); !errors.Is(err, ErrShutdownTimedOut) {
		t.Errorf("expected ErrShutdownTimedOut, got %v", err)
	}

	// Termination carries on and completes
	select {
	case <-s.Done():
	case <-time.After(testWaitDeadline):
		t.Fatal("supervisor never finished stopping")
	}
	shutdown(t, s)
}

func TestSupervisorDegradedRecovers(t *testing.T) {
	cfg := testConfig(t, serveScript)
	cfg.Health.HungAfter = 10 * time.Second
	rec := &eventRecorder{}
	probe := healthyProbe()
	s := newTestSupervisor(t, cfg, probe, rec)
	defer shutdown(t, s)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, s, StateReady)

	probe.healthy.Store(false)
	waitForState(t, s, StateDegraded)

	probe.healthy.Store(true)
	st := waitForState(t, s, StateReady)
	if st.Launches != 1 {
		t.Errorf("recovery must not relaunch, got %d launches", st.Launches)
	}
	if !rec.has(EventDegraded) || !rec.has(EventRecovered) {
		t.Errorf("expected degraded and recovered events, got %v", rec.types())
	}
}

func TestSupervisorHungBackendIsRestarted(t *testing.T) {
	rec := &eventRecorder{}
	probe := healthyProbe()
	opts := &Options{
		Probe:  probe,
		Logger: testLogger(),
		OnEvent: func(ev Event) {
			rec.handle(ev)
			if ev.Type == EventHung {
				probe.healthy.Store(true)
			}
		},
	}
	s := New(mustSpec(t, testConfig(t, serveScript)), opts)
	defer shutdown(t, s)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := waitForState(t, s, StateReady).PID

	probe.healthy.Store(false)
	waitFor(t, "relaunch after hang", func() bool {
		st := s.Status()
		return st.State == StateReady && st.Launches == 2
	})

	for _, want := range []EventType{EventDegraded, EventHung, EventCrashed, EventRestartScheduled} {
		if !rec.has(want) {
			t.Errorf("missing %s event in %v", want, rec.types())
		}
	}
	if processExists(first) {
		t.Errorf("hung backend pid %d still exists", first)
	}
}

func TestSupervisorRepairGrantsOneSession(t *testing.T) {
	cfg := testConfig(t, crashScript)
	cfg.Restart.MaxAttempts = 1
	var repairs atomic.Int32
	s := New(mustSpec(t, cfg), &Options{
		Probe:  &switchProbe{},
		Logger: testLogger(),
		Repair: RepairFunc(func(ctx context.Context, cause error) error {
			if !errors.Is(cause, ErrRestartBudgetExhausted) {
				t.Errorf("repair called with %v", cause)
			}
			repairs.Add(1)
			return nil
		}),
	})
	defer shutdown(t, s)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	st := waitForState(t, s, StateStopped)
	if got := repairs.Load(); got != 1 {
		t.Errorf("expected 1 repair, got %d", got)
	}
	if st.Launches != 2 {
		t.Errorf("expected 2 launches, got %d", st.Launches)
	}
	if !errors.Is(st.LastError, ErrRestartBudgetExhausted) {
		t.Errorf("expected ErrRestartBudgetExhausted, got %v", st.LastError)
	}
}

func TestSupervisorRepairFailureReportsExhaustion(t *testing.T) {
	cfg := testConfig(t, crashScript)
	cfg.Restart.MaxAttempts = 1
	s := New(mustSpec(t, cfg), &Options{
		Probe:  &switchProbe{},
		Logger: testLogger(),
		Repair: RepairFunc(func(context.Context, error) error {
			return errors.New("unit not found")
		}),
	})
	defer shutdown(t, s)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	st := waitForState(t, s, StateStopped)
	if st.Launches != 1 {
		t.Errorf("failed repair must not relaunch, got %d launches", st.Launches)
	}
	if !errors.Is(st.LastError, ErrRestartBudgetExhausted) {
		t.Errorf("expected ErrRestartBudgetExhausted, got %v", st.LastError)
	}
}

func TestSupervisorRetriggerAfterFailure(t *testing.T) {
	cfg := testConfig(t, crashScript)
	cfg.Restart.MaxAttempts = 1
	s := newTestSupervisor(t, cfg, &switchProbe{}, nil)
	defer shutdown(t, s)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := waitForState(t, s, StateStopped)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("re-trigger failed: %v", err)
	}
	var second Status
	waitFor(t, "second session to fail", func() bool {
		second = s.Status()
		return second.State == StateStopped && second.SessionID != first.SessionID
	})
	if second.Launches != 1 {
		t.Errorf("new session should start with a fresh count, got %d launches", second.Launches)
	}
}

func TestSupervisorStateChangeCallback(t *testing.T) {
	var transitions atomic.Int32
	var sawReady atomic.Bool
	s := New(mustSpec(t, testConfig(t, serveScript)), &Options{
		Probe:  healthyProbe(),
		Logger: testLogger(),
		OnStateChange: func(oldState, newState State, err error) {
			transitions.Add(1)
			if oldState == StateStarting && newState == StateReady {
				sawReady.Store(true)
			}
		},
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, s, StateReady)
	shutdown(t, s)

	if !sawReady.Load() {
		t.Error("expected starting -> ready transition")
	}
	// idle->starting, starting->ready, ready->shutting_down, shutting_down->stopped
	if got := transitions.Load(); got != 4 {
		t.Errorf("expected 4 transitions, got %d", got)
	}
}
