package exporters

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/shellkeeper/internal/events"
	"github.com/smazurov/shellkeeper/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter periodically publishes a backend metrics snapshot so SSE
// clients can chart it without scraping /metrics.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: 1 * time.Second,
	}
}

// Start begins the export loop. It is a no-op if already running.
func (s *SSEExporter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *SSEExporter) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.publish(now)
		}
	}
}

func (s *SSEExporter) publish(now time.Time) {
	snap := metrics.GetSnapshot()
	var uptime float64
	if !snap.ReadySince.IsZero() {
		uptime = now.Sub(snap.ReadySince).Seconds()
	}
	s.eventBus.Publish(events.BackendMetricsEvent{
		State:         string(snap.State),
		Launches:      snap.Launches,
		Restarts:      snap.Restarts,
		Crashes:       snap.Crashes,
		UptimeSeconds: uptime,
		Timestamp:     now.UTC().Format(time.RFC3339Nano),
	})
}

// GetEventTypes returns event types for SSE endpoint registration.
func GetEventTypes() map[string]any {
	return map[string]any{
		"backend-metrics": events.BackendMetricsEvent{},
	}
}
