package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/shellkeeper/internal/events"
	"github.com/smazurov/shellkeeper/internal/process"
)

// Recorder keeps the backend metrics in step with lifecycle events.
type Recorder struct {
	unsubscribers []func()

	mu      sync.Mutex
	pending map[string]launchTimes
}

// maxPending bounds launches that never became ready.
const maxPending = 64

// launchTimes pairs the started and ready timestamps of one launch.
// Each event type has its own subscriber, so either may arrive first.
type launchTimes struct {
	started time.Time
	ready   time.Time
}

// NewRecorder subscribes to bus. Call Close to detach.
func NewRecorder(bus *events.Bus) *Recorder {
	r := &Recorder{pending: make(map[string]launchTimes)}
	r.unsubscribers = []func(){
		bus.Subscribe(func(e events.BackendStateChangedEvent) {
			SetState(process.State(e.To))
		}),
		bus.Subscribe(func(e events.BackendStartedEvent) {
			RecordLaunch()
			r.launchEdge(e.SessionID, e.Attempt, parseTime(e.Timestamp), time.Time{})
		}),
		bus.Subscribe(func(e events.BackendReadyEvent) {
			r.launchEdge(e.SessionID, e.Attempt, time.Time{}, parseTime(e.Timestamp))
		}),
		bus.Subscribe(func(e events.BackendCrashedEvent) {
			if e.Signal != "" {
				RecordCrash(CrashSignal)
			} else {
				RecordCrash(CrashExit)
			}
		}),
		bus.Subscribe(func(e events.BackendHealthEvent) {
			if e.Status == string(process.EventHung) {
				RecordHung()
			}
		}),
		bus.Subscribe(func(events.BackendRestartScheduledEvent) {
			RecordRestart()
		}),
		bus.Subscribe(func(e events.BackendFailedEvent) {
			RecordFailure(e.Code)
		}),
	}
	return r
}

// Close unsubscribes from the bus.
func (r *Recorder) Close() {
	for _, unsub := range r.unsubscribers {
		unsub()
	}
	r.unsubscribers = nil
}

func (r *Recorder) launchEdge(session string, attempt int, started, ready time.Time) {
	key := fmt.Sprintf("%s/%d", session, attempt)

	r.mu.Lock()
	defer r.mu.Unlock()
	lt := r.pending[key]
	if !started.IsZero() {
		lt.started = started
	}
	if !ready.IsZero() {
		lt.ready = ready
	}
	if lt.started.IsZero() || lt.ready.IsZero() {
		if len(r.pending) >= maxPending {
			clear(r.pending)
		}
		r.pending[key] = lt
		return
	}
	delete(r.pending, key)
	ObserveReadiness(lt.ready.Sub(lt.started))
}

func parseTime(ts string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Now()
	}
	return t
}
