package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(BackendReadyEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event is generic, so dispatch on the concrete type
	switch e := ev.(type) {
	case BackendStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case BackendStartedEvent:
		event.Publish(b.dispatcher, e)
	case BackendReadyEvent:
		event.Publish(b.dispatcher, e)
	case BackendHealthEvent:
		event.Publish(b.dispatcher, e)
	case BackendCrashedEvent:
		event.Publish(b.dispatcher, e)
	case BackendRestartScheduledEvent:
		event.Publish(b.dispatcher, e)
	case BackendRepairingEvent:
		event.Publish(b.dispatcher, e)
	case BackendFailedEvent:
		event.Publish(b.dispatcher, e)
	case BackendStoppedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	case BackendMetricsEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e BackendReadyEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(BackendStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BackendStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BackendReadyEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BackendHealthEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BackendCrashedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BackendRestartScheduledEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BackendRepairingEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BackendFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BackendStoppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BackendMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}
