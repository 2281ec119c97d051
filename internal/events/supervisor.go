package events

import (
	"time"

	"github.com/smazurov/shellkeeper/internal/process"
)

// PublishLifecycle converts a supervisor event and publishes it.
// It satisfies process.EventHandler.
func (b *Bus) PublishLifecycle(ev process.Event) {
	ts := timestamp(ev.Time)
	switch ev.Type {
	case process.EventStateChanged:
		b.Publish(BackendStateChangedEvent{
			SessionID: ev.SessionID,
			From:      string(ev.From),
			To:        string(ev.State),
			Error:     errString(ev.Err),
			Timestamp: ts,
		})
	case process.EventStarted:
		b.Publish(BackendStartedEvent{SessionID: ev.SessionID, PID: ev.PID, Attempt: ev.Attempt, Timestamp: ts})
	case process.EventReady:
		b.Publish(BackendReadyEvent{SessionID: ev.SessionID, PID: ev.PID, Attempt: ev.Attempt, Timestamp: ts})
	case process.EventDegraded, process.EventRecovered, process.EventHung:
		b.Publish(BackendHealthEvent{
			SessionID: ev.SessionID,
			PID:       ev.PID,
			Status:    string(ev.Type),
			Error:     errString(ev.Err),
			Timestamp: ts,
		})
	case process.EventCrashed:
		b.Publish(BackendCrashedEvent{
			SessionID: ev.SessionID,
			PID:       ev.PID,
			ExitCode:  ev.ExitCode,
			Signal:    ev.Signal,
			Error:     errString(ev.Err),
			Timestamp: ts,
		})
	case process.EventRestartScheduled:
		b.Publish(BackendRestartScheduledEvent{
			SessionID: ev.SessionID,
			Attempt:   ev.Attempt,
			DelayMS:   ev.Delay.Milliseconds(),
			Timestamp: ts,
		})
	case process.EventRepairing:
		b.Publish(BackendRepairingEvent{SessionID: ev.SessionID, Error: errString(ev.Err), Timestamp: ts})
	case process.EventFailed:
		b.Publish(BackendFailedEvent{
			SessionID: ev.SessionID,
			Code:      process.Code(ev.Err),
			Error:     errString(ev.Err),
			Timestamp: ts,
		})
	case process.EventStopped:
		b.Publish(BackendStoppedEvent{SessionID: ev.SessionID, Error: errString(ev.Err), Timestamp: ts})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}
