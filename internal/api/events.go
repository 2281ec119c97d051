package api

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/shellkeeper/internal/events"
	"github.com/smazurov/shellkeeper/internal/metrics/exporters"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	eventTypes := map[string]any{
		"backend-state-changed":     events.BackendStateChangedEvent{},
		"backend-started":           events.BackendStartedEvent{},
		"backend-ready":             events.BackendReadyEvent{},
		"backend-health":            events.BackendHealthEvent{},
		"backend-crashed":           events.BackendCrashedEvent{},
		"backend-restart-scheduled": events.BackendRestartScheduledEvent{},
		"backend-repairing":         events.BackendRepairingEvent{},
		"backend-failed":            events.BackendFailedEvent{},
		"backend-stopped":           events.BackendStoppedEvent{},
	}
	maps.Copy(eventTypes, exporters.GetEventTypes())

	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time backend lifecycle events and periodic metrics. The current state is sent first.",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, eventTypes, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.BackendStateChangedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.BackendStartedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.BackendReadyEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.BackendHealthEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.BackendCrashedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.BackendRestartScheduledEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.BackendRepairingEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.BackendFailedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.BackendStoppedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.BackendMetricsEvent](s.options.EventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Late subscribers learn the current state without polling
		st := s.options.Backend.Status()
		initial := events.BackendStateChangedEvent{
			SessionID: st.SessionID,
			From:      string(st.State),
			To:        string(st.State),
			Timestamp: time.Now().Format(time.RFC3339),
		}
		if st.LastError != nil {
			initial.Error = st.LastError.Error()
		}
		if err := send.Data(initial); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
