package process

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const repairTimeout = time.Minute

type commandKind int

const (
	cmdStart commandKind = iota
	cmdShutdown
)

type command struct {
	kind  commandKind
	reply chan error
}

type messageKind int

const (
	msgProbe messageKind = iota
	msgExited
	msgHealth
	msgTerminated
	msgRepaired
)

// message carries a helper goroutine's result back to the loop. gen ties it
// to the launch that produced it so results from a replaced child are dropped.
type message struct {
	kind    messageKind
	gen     uint64
	err     error
	exit    ExitInfo
	verdict healthVerdict
}

// Supervisor owns the backend child for the lifetime of the shell. All state
// transitions happen on a single loop goroutine; helpers for probing, exit
// detection, health checks and termination report back over a channel.
type Supervisor struct {
	spec     LaunchSpec
	opts     Options
	launcher *Launcher
	probe    Probe
	logger   *slog.Logger

	cmds     chan command
	msgs     chan message
	loopDone chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error // written by the loop before loopDone is closed

	mu      sync.RWMutex
	status  Status
	changed chan struct{}

	// Owned by the loop goroutine.
	state        State
	gen          uint64
	child        *Child
	attemptCtx   context.Context
	attemptStop  context.CancelFunc
	budget       *RestartBudget
	sessionID    string
	launches     int
	restarts     int
	repairUsed   bool
	repairCause  error
	repairCancel context.CancelFunc
	draining     bool // stopped, but the abandoned child is still being terminated
	pendingStart []chan error
	restartTimer *time.Timer
	stableTimer  *time.Timer
	finished     bool
}

// New creates a supervisor for spec and starts its loop. Nothing is launched
// until Start is called.
func New(spec LaunchSpec, opts *Options) *Supervisor {
	var o Options
	if opts != nil {
		o = *opts
	}

	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	launcher := o.Launcher
	if launcher == nil {
		launcher = &Launcher{Logger: logger}
	}
	probe := o.Probe
	if probe == nil {
		probe = NewProbe(spec.Readiness)
	}

	s := &Supervisor{
		spec:     spec,
		opts:     o,
		launcher: launcher,
		probe:    probe,
		logger:   logger,
		cmds:     make(chan command),
		msgs:     make(chan message, 16),
		loopDone: make(chan struct{}),
		changed:  make(chan struct{}),
		state:    StateIdle,
		status: Status{
			State:           StateIdle,
			BudgetRemaining: spec.Restart.MaxAttempts,
		},
	}

	go s.loop()
	return s
}

// Spec returns the launch specification being supervised.
func (s *Supervisor) Spec() LaunchSpec { return s.spec }

// Done is closed once shutdown has completed.
func (s *Supervisor) Done() <-chan struct{} { return s.loopDone }

// Start begins a supervision session from Idle or a failed Stop. It returns
// once the child has been spawned, not when it is ready; use WaitReady for
// that. Starting an active session returns ErrAlreadyRunning.
func (s *Supervisor) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{kind: cmdStart, reply: reply}:
	case <-s.loopDone:
		return shutDownError()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops supervision and terminates the child. It is safe to call
// more than once; every call returns the same result. If ctx expires first,
// ErrShutdownTimedOut is returned while termination continues in the
// background.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		select {
		case s.cmds <- command{kind: cmdShutdown}:
		case <-s.loopDone:
		}
	})

	select {
	case <-s.loopDone:
		return s.shutdownErr
	case <-ctx.Done():
		s.logger.Warn("Shutdown deadline passed with backend still stopping")
		return newError(ErrCodeShutdownTimedOut, "backend still stopping when the shutdown deadline passed", ctx.Err())
	}
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// WaitReady blocks until the backend is ready, supervision has stopped, or
// ctx is done. A stopped supervisor returns its last error.
func (s *Supervisor) WaitReady(ctx context.Context) (Status, error) {
	for {
		s.mu.RLock()
		st := s.snapshotLocked()
		changed := s.changed
		s.mu.RUnlock()

		switch st.State {
		case StateReady, StateDegraded:
			return st, nil
		case StateStopped, StateShuttingDown:
			if st.LastError != nil {
				return st, st.LastError
			}
			return st, shutDownError()
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

func (s *Supervisor) snapshotLocked() Status {
	st := s.status
	if st.LastExitCode != nil {
		code := *st.LastExitCode
		st.LastExitCode = &code
	}
	return st
}

func shutDownError() error {
	return newError(ErrCodeShutDown, "supervisor has shut down", nil)
}

func (s *Supervisor) loop() {
	defer close(s.loopDone)

	for !s.finished {
		select {
		case cmd := <-s.cmds:
			s.handleCommand(cmd)
		case msg := <-s.msgs:
			s.handleMessage(msg)
		case <-timerC(s.restartTimer):
			s.restartTimer = nil
			if s.state == StateRestarting {
				_ = s.launch()
			}
		case <-timerC(s.stableTimer):
			s.stableTimer = nil
			s.markStable()
		}
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// post hands a helper result to the loop. It never blocks once the loop has exited.
func (s *Supervisor) post(m message) {
	select {
	case s.msgs <- m:
	case <-s.loopDone:
	}
}

func (s *Supervisor) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdStart:
		switch {
		case s.state == StateShuttingDown:
			cmd.reply <- shutDownError()
		case s.state.IsActive():
			cmd.reply <- newError(ErrCodeAlreadyRunning, "backend is already "+string(s.state), nil)
		case s.draining:
			s.pendingStart = append(s.pendingStart, cmd.reply)
		default:
			cmd.reply <- s.beginSession()
		}
	case cmdShutdown:
		s.beginShutdown()
	}
}

func (s *Supervisor) handleMessage(m message) {
	if m.gen != s.gen {
		return
	}
	switch m.kind {
	case msgProbe:
		s.handleProbe(m.err)
	case msgExited:
		s.handleExit(m.exit)
	case msgHealth:
		s.handleHealth(m.verdict, m.err)
	case msgTerminated:
		s.handleTerminated(m.err)
	case msgRepaired:
		s.handleRepaired(m.err)
	}
}

func (s *Supervisor) beginSession() error {
	s.sessionID = uuid.NewString()
	s.budget = NewRestartBudget(s.spec.Restart)
	s.launches = 0
	s.restarts = 0
	s.repairUsed = false
	s.repairCause = nil
	s.update(func(st *Status) {
		st.SessionID = s.sessionID
		st.Outcome = OutcomeNone
		st.Launches = 0
		st.Restarts = 0
		st.BudgetRemaining = s.budget.Remaining()
		st.LastExitCode = nil
		st.LastError = nil
	})
	s.logger.Info("Starting backend session", "session", s.sessionID, "executable", s.spec.executable)
	return s.launch()
}

// launch spawns a child and sets off its readiness probe and exit watcher.
func (s *Supervisor) launch() error {
	s.gen++
	gen := s.gen

	child, err := s.launcher.Launch(s.spec)
	if err != nil {
		s.fail(err)
		return err
	}

	s.child = child
	s.launches++
	s.attemptCtx, s.attemptStop = context.WithCancel(context.Background())

	s.transition(StateStarting, func(st *Status) {
		st.PID = child.PID()
		st.StartedAt = child.StartedAt()
		st.ReadyAt = time.Time{}
		st.Launches = s.launches
	})
	s.emit(Event{Type: EventStarted, PID: child.PID(), Attempt: s.launches})

	go func() {
		<-child.Done()
		info, _ := child.Exit()
		s.post(message{kind: msgExited, gen: gen, exit: info})
	}()

	ctx := s.attemptCtx
	go func() {
		err := AwaitReady(ctx, child, s.probe, s.spec.Readiness.Timeout, s.spec.Readiness.Interval)
		s.post(message{kind: msgProbe, gen: gen, err: err})
	}()

	return nil
}

func (s *Supervisor) handleProbe(err error) {
	if s.state != StateStarting || s.child == nil {
		return
	}
	switch {
	case err == nil:
		s.becomeReady()
	case errors.Is(err, ErrReadinessTimeout):
		s.abandonStart(err)
	default:
		// early exits and cancellation arrive through their own messages
	}
}

func (s *Supervisor) becomeReady() {
	child := s.child
	now := time.Now()
	s.transition(StateReady, func(st *Status) {
		st.ReadyAt = now
		st.LastError = nil
	})
	s.logger.Info("Backend ready", "pid", child.PID(), "startup", now.Sub(child.StartedAt()))
	s.emit(Event{Type: EventReady, PID: child.PID(), Attempt: s.launches})

	gen := s.gen
	go monitorHealth(s.attemptCtx, s.probe, s.spec.Health, func(v healthVerdict, err error) {
		s.post(message{kind: msgHealth, gen: gen, verdict: v, err: err})
	})

	if t := s.spec.Restart.StabilityThreshold; t > 0 {
		s.stableTimer = time.NewTimer(max(t-time.Since(child.StartedAt()), 0))
	}
}

// markStable refills the budget once the child has stayed up past the
// stability threshold.
func (s *Supervisor) markStable() {
	if s.child == nil || (s.state != StateReady && s.state != StateDegraded) {
		return
	}
	s.budget.Reset()
	s.update(func(st *Status) { st.BudgetRemaining = s.budget.Remaining() })
	s.logger.Debug("Backend stable, restart budget reset", "pid", s.child.PID())
}

// abandonStart reports a readiness timeout immediately and terminates the
// unresponsive child in the background.
func (s *Supervisor) abandonStart(err error) {
	s.logger.Error("Backend did not become ready", "pid", s.child.PID(), "timeout", s.spec.Readiness.Timeout, "error", err)
	s.child.markRequested()
	s.draining = true
	s.terminate(s.child)
	s.fail(err)
}

func (s *Supervisor) handleExit(exit ExitInfo) {
	if s.child == nil {
		return
	}
	s.child = nil
	s.cancelAttempt()
	stopTimer(&s.stableTimer)

	code := exit.Code
	s.update(func(st *Status) {
		st.PID = 0
		st.LastExitCode = &code
	})

	switch {
	case s.state == StateShuttingDown:
		s.logger.Info("Backend stopped", "pid", exit.PID, "code", exit.Code, "signal", exit.Signal)
		s.finishShutdown(nil)
	case s.draining:
		s.draining = false
		s.logger.Debug("Abandoned backend reaped", "pid", exit.PID, "code", exit.Code)
		if pending := s.pendingStart; len(pending) > 0 {
			s.pendingStart = nil
			err := s.beginSession()
			for _, reply := range pending {
				reply <- err
			}
		}
	default:
		s.handleCrash(exit)
	}
}

func (s *Supervisor) handleCrash(exit ExitInfo) {
	exitErr := &ExitError{Info: exit}
	s.logger.Warn("Backend exited unexpectedly",
		"pid", exit.PID, "code", exit.Code, "signal", exit.Signal, "uptime", exit.Uptime, "hung", exit.Hung)
	s.emit(Event{Type: EventCrashed, PID: exit.PID, ExitCode: exit.Code, Signal: exit.Signal, Err: exitErr})

	decision := OnChildExit(exit, s.budget)
	switch decision.Action {
	case ActionRestart:
		s.restarts++
		s.transition(StateRestarting, func(st *Status) {
			st.Restarts = s.restarts
			st.BudgetRemaining = s.budget.Remaining()
			st.LastError = exitErr
		})
		s.logger.Info("Restarting backend", "attempt", s.restarts, "delay", decision.Delay, "budget_remaining", s.budget.Remaining())
		s.emit(Event{Type: EventRestartScheduled, Attempt: s.restarts, Delay: decision.Delay, Err: exitErr})
		s.restartTimer = time.NewTimer(decision.Delay)
	case ActionGiveUp:
		s.giveUp(decision.Reason)
	default:
		s.transition(StateStopped, func(st *Status) { st.Outcome = OutcomeClean })
	}
}

// giveUp runs the repair hook once per session before reporting failure.
func (s *Supervisor) giveUp(reason error) {
	if s.opts.Repair == nil || s.repairUsed {
		s.fail(reason)
		return
	}

	s.repairUsed = true
	s.repairCause = reason
	s.transition(StateRestarting, func(st *Status) {
		st.BudgetRemaining = 0
		st.LastError = reason
	})
	s.logger.Warn("Restart budget exhausted, attempting repair", "error", reason)
	s.emit(Event{Type: EventRepairing, Err: reason})

	ctx, cancel := context.WithTimeout(context.Background(), repairTimeout)
	s.repairCancel = cancel
	gen := s.gen
	go func() {
		defer cancel()
		err := s.opts.Repair.Repair(ctx, reason)
		s.post(message{kind: msgRepaired, gen: gen, err: err})
	}()
}

func (s *Supervisor) handleRepaired(err error) {
	if s.state != StateRestarting || s.repairCancel == nil {
		return
	}
	s.repairCancel = nil

	if err != nil {
		s.logger.Error("Backend repair failed", "error", err)
		s.fail(s.repairCause)
		return
	}

	s.logger.Info("Backend repaired, relaunching with a fresh restart budget")
	s.budget.Reset()
	s.update(func(st *Status) { st.BudgetRemaining = s.budget.Remaining() })
	_ = s.launch()
}

func (s *Supervisor) handleHealth(verdict healthVerdict, err error) {
	if s.child == nil {
		return
	}
	switch verdict {
	case healthDegraded:
		if s.state != StateReady {
			return
		}
		s.logger.Warn("Backend health check failing", "pid", s.child.PID(), "error", err)
		s.transition(StateDegraded, func(st *Status) { st.LastError = err })
		s.emit(Event{Type: EventDegraded, PID: s.child.PID(), Err: err})
	case healthRecovered:
		if s.state != StateDegraded {
			return
		}
		s.logger.Info("Backend health check recovered", "pid", s.child.PID())
		s.transition(StateReady, func(st *Status) { st.LastError = nil })
		s.emit(Event{Type: EventRecovered, PID: s.child.PID()})
	case healthHung:
		if s.state != StateReady && s.state != StateDegraded {
			return
		}
		s.logger.Error("Backend stopped responding, terminating", "pid", s.child.PID(), "hung_after", s.spec.Health.HungAfter)
		s.emit(Event{Type: EventHung, PID: s.child.PID(), Err: err})
		s.child.markHung()
		s.terminate(s.child)
	}
}

func (s *Supervisor) terminate(child *Child) {
	gen := s.gen
	grace, killWait := s.spec.Shutdown.GracePeriod, s.spec.Shutdown.KillWait
	go func() {
		_, err := Terminate(child, grace, killWait, s.logger)
		s.post(message{kind: msgTerminated, gen: gen, err: err})
	}()
}

// handleTerminated only matters when the child outlived SIGKILL.
func (s *Supervisor) handleTerminated(err error) {
	if err == nil || s.child == nil {
		return
	}
	pid := s.child.PID()
	s.child = nil
	s.gen++
	s.cancelAttempt()

	if s.state == StateShuttingDown {
		s.finishShutdown(err)
		return
	}

	s.logger.Error("Abandoning backend that survived kill", "pid", pid, "error", err)
	s.draining = false
	for _, reply := range s.pendingStart {
		reply <- err
	}
	s.pendingStart = nil
	if s.state != StateStopped {
		s.fail(err)
	}
}

func (s *Supervisor) beginShutdown() {
	s.logger.Info("Shutting down backend supervisor", "state", s.state)
	s.stopTimers()
	if s.repairCancel != nil {
		s.repairCancel()
		s.repairCancel = nil
	}
	for _, reply := range s.pendingStart {
		reply <- shutDownError()
	}
	s.pendingStart = nil

	// A stopped supervisor with nothing to reap keeps its outcome
	if s.state == StateStopped && s.child == nil {
		s.finished = true
		return
	}

	s.cancelAttempt()
	s.transition(StateShuttingDown, nil)

	if s.child == nil {
		s.finishShutdown(nil)
		return
	}
	s.child.markRequested()
	s.terminate(s.child)
}

func (s *Supervisor) finishShutdown(err error) {
	s.shutdownErr = err
	s.transition(StateStopped, func(st *Status) {
		st.PID = 0
		st.Outcome = OutcomeClean
		if err != nil {
			st.Outcome = OutcomeFailed
			st.LastError = err
		}
	})
	s.logger.Info("Backend supervisor stopped")
	s.emit(Event{Type: EventStopped, Err: err})
	s.finished = true
}

// fail moves to Stopped(Failed) and reports err.
func (s *Supervisor) fail(err error) {
	s.stopTimers()
	s.cancelAttempt()
	s.transition(StateStopped, func(st *Status) {
		st.Outcome = OutcomeFailed
		st.LastError = err
		if s.child == nil {
			st.PID = 0
		}
		if s.budget != nil {
			st.BudgetRemaining = s.budget.Remaining()
		}
	})
	s.logger.Error("Backend supervision failed", "code", Code(err), "error", err)
	s.emit(Event{Type: EventFailed, Err: err})
}

func (s *Supervisor) cancelAttempt() {
	if s.attemptStop != nil {
		s.attemptStop()
		s.attemptStop = nil
	}
}

func (s *Supervisor) stopTimers() {
	stopTimer(&s.restartTimer)
	stopTimer(&s.stableTimer)
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// transition changes state, applying mutate to the published snapshot first.
func (s *Supervisor) transition(newState State, mutate func(*Status)) {
	oldState := s.state
	s.state = newState
	s.update(func(st *Status) {
		st.State = newState
		if mutate != nil {
			mutate(st)
		}
	})

	if oldState == newState {
		return
	}
	s.logger.Debug("Backend state changed", "from", oldState, "to", newState)

	var err error
	if newState == StateStopped || newState == StateDegraded || newState == StateRestarting {
		err = s.Status().LastError
	}
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(oldState, newState, err)
	}
	s.emit(Event{Type: EventStateChanged, From: oldState, Err: err})
}

// update applies mutate under the lock and wakes WaitReady callers.
func (s *Supervisor) update(mutate func(*Status)) {
	s.mu.Lock()
	mutate(&s.status)
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

func (s *Supervisor) emit(ev Event) {
	if s.opts.OnEvent == nil {
		return
	}
	ev.SessionID = s.sessionID
	ev.State = s.state
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.opts.OnEvent(ev)
}
