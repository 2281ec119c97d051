package systemd

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/shellkeeper/internal/events"
)

type recordedNotify struct {
	mu     sync.Mutex
	states []string
	ch     chan string
}

func newTestNotifier() (*Notifier, *recordedNotify) {
	rec := &recordedNotify{ch: make(chan string, 16)}
	n := &Notifier{
		notify: func(state string) (bool, error) {
			rec.mu.Lock()
			rec.states = append(rec.states, state)
			rec.mu.Unlock()
			rec.ch <- state
			return true, nil
		},
		logger: slog.New(slog.DiscardHandler),
	}
	return n, rec
}

func (r *recordedNotify) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for sd_notify")
		return ""
	}
}

func TestNotifierReadyOnce(t *testing.T) {
	n, rec := newTestNotifier()
	bus := events.New()
	n.Attach(bus)
	defer n.Detach()

	bus.Publish(events.BackendReadyEvent{PID: 42})
	if got := rec.next(t); got != "READY=1\nSTATUS=Backend ready (pid 42)" {
		t.Errorf("first ready = %q", got)
	}

	bus.Publish(events.BackendReadyEvent{PID: 43})
	if got := rec.next(t); got != "STATUS=Backend ready (pid 43)" {
		t.Errorf("later ready should only update STATUS, got %q", got)
	}
}

func TestNotifierStatusUpdates(t *testing.T) {
	n, rec := newTestNotifier()
	bus := events.New()
	n.Attach(bus)
	defer n.Detach()

	bus.Publish(events.BackendFailedEvent{Code: "RESTART_BUDGET_EXHAUSTED", Error: "backend keeps crashing"})
	if got := rec.next(t); got != "STATUS=Backend failed: backend keeps crashing" {
		t.Errorf("failed status = %q", got)
	}

	bus.Publish(events.BackendHealthEvent{Status: "degraded"})
	if got := rec.next(t); got != "STATUS=Backend degraded" {
		t.Errorf("health status = %q", got)
	}

	bus.Publish(events.BackendRestartScheduledEvent{Attempt: 2})
	if got := rec.next(t); !strings.Contains(got, "attempt 2") {
		t.Errorf("restart status = %q", got)
	}
}

func TestNotifierStopping(t *testing.T) {
	n, rec := newTestNotifier()
	n.Stopping()
	if got := rec.next(t); !strings.HasPrefix(got, "STOPPING=1") {
		t.Errorf("Stopping sent %q", got)
	}
}

func TestNotifierDetach(t *testing.T) {
	n, rec := newTestNotifier()
	bus := events.New()
	n.Attach(bus)
	n.Detach()

	bus.Publish(events.BackendReadyEvent{PID: 1})
	select {
	case s := <-rec.ch:
		t.Errorf("detached notifier sent %q", s)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNotifierErrorsAreNotFatal(t *testing.T) {
	n := &Notifier{
		notify: func(string) (bool, error) { return false, errors.New("socket gone") },
		logger: slog.New(slog.DiscardHandler),
	}
	n.Stopping()
}

func TestWatchdogPingsWhileAlive(t *testing.T) {
	n, rec := newTestNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	alive := true
	done := make(chan struct{})
	go func() {
		n.runWatchdog(ctx, 5*time.Millisecond, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return alive
		})
		close(done)
	}()

	if got := rec.next(t); got != "WATCHDOG=1" {
		t.Errorf("watchdog sent %q", got)
	}

	mu.Lock()
	alive = false
	mu.Unlock()
	// Drain a ping that may have raced the flag
	time.Sleep(20 * time.Millisecond)
	for len(rec.ch) > 0 {
		<-rec.ch
	}
	select {
	case s := <-rec.ch:
		t.Errorf("watchdog pinged while not alive: %q", s)
	case <-time.After(30 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop on cancel")
	}
}
