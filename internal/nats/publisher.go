package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/shellkeeper/internal/events"
	"github.com/smazurov/shellkeeper/internal/process"
)

// startTimeout bounds a remote start request.
const startTimeout = 10 * time.Second

// StartFunc handles a remote start request.
type StartFunc func(ctx context.Context) error

// Publisher forwards lifecycle events from the event bus to NATS and serves
// start requests. It gracefully degrades when NATS is unavailable.
type Publisher struct {
	url           string
	bus           *events.Bus
	onStart       StartFunc
	conn          *nats.Conn
	sub           *nats.Subscription
	unsubscribers []func()
	logger        *slog.Logger
	mu            sync.RWMutex
	connected     bool
}

// NewPublisher creates a publisher for url. Nothing connects until Connect.
func NewPublisher(url string, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		url:    url,
		bus:    bus,
		logger: logger.With("component", "nats-publisher"),
	}
}

// OnStartRequest sets the handler for shellkeeper.control.start. Call it
// before Connect.
func (p *Publisher) OnStartRequest(fn StartFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStart = fn
}

// Connect establishes the connection and starts forwarding. A failed
// connect is returned so the caller can log it; the shell keeps running.
func (p *Publisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	opts := []nats.Option{
		nats.Name("shellkeeper"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1), // Infinite reconnects
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.setConnected(false)
			if err != nil {
				p.logger.Warn("NATS disconnected", "error", err)
			} else {
				p.logger.Debug("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.setConnected(true)
			p.logger.Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(p.url, opts...)
	if err != nil {
		p.logger.Warn("Failed to connect to NATS, running without it", "url", p.url, "error", err)
		return err
	}

	p.conn = conn
	p.connected = true
	p.logger.Info("Connected to NATS", "url", p.url)

	if p.onStart != nil {
		sub, subErr := conn.Subscribe(SubjectControlStart, p.handleControl)
		if subErr != nil {
			p.logger.Warn("Failed to subscribe to control requests", "error", subErr)
		} else {
			p.sub = sub
		}
	}

	p.unsubscribers = []func(){
		forward[events.BackendStateChangedEvent](p, "backend-state-changed"),
		forward[events.BackendStartedEvent](p, "backend-started"),
		forward[events.BackendReadyEvent](p, "backend-ready"),
		forward[events.BackendHealthEvent](p, "backend-health"),
		forward[events.BackendCrashedEvent](p, "backend-crashed"),
		forward[events.BackendRestartScheduledEvent](p, "backend-restart-scheduled"),
		forward[events.BackendRepairingEvent](p, "backend-repairing"),
		forward[events.BackendFailedEvent](p, "backend-failed"),
		forward[events.BackendStoppedEvent](p, "backend-stopped"),
	}
	return nil
}

func forward[T events.Event](p *Publisher, name string) func() {
	subject := SubjectBackendEvent(name)
	return p.bus.Subscribe(func(e T) {
		p.publish(subject, e)
	})
}

// publish is a no-op while disconnected.
func (p *Publisher) publish(subject string, v any) {
	p.mu.RLock()
	conn := p.conn
	connected := p.connected
	p.mu.RUnlock()

	if conn == nil || !connected {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish event", "subject", subject, "error", err)
	}
}

func (p *Publisher) handleControl(msg *nats.Msg) {
	ctrl, err := UnmarshalControl(msg.Data)
	if err != nil {
		p.logger.Warn("Failed to unmarshal control message", "error", err)
		p.reply(msg, ControlReply{Error: "malformed control message"})
		return
	}
	if ctrl.Action != ActionStart {
		p.reply(msg, ControlReply{Error: "unknown action " + ctrl.Action})
		return
	}

	p.logger.Info("Received start request", "reason", ctrl.Reason)

	p.mu.RLock()
	onStart := p.onStart
	p.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	if err := onStart(ctx); err != nil {
		p.reply(msg, ControlReply{Code: process.Code(err), Error: err.Error()})
		return
	}
	p.reply(msg, ControlReply{OK: true})
}

func (p *Publisher) reply(msg *nats.Msg, r ControlReply) {
	if msg.Reply == "" {
		return
	}
	data, err := r.Marshal()
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		p.logger.Warn("Failed to reply to control request", "error", err)
	}
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = v
}

// IsConnected returns true if connected to NATS.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.conn != nil
}

// Close stops forwarding and closes the connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	unsubscribers := p.unsubscribers
	p.unsubscribers = nil
	p.mu.Unlock()

	// Bus handlers take the read lock, so unsubscribe without holding it
	for _, unsub := range unsubscribers {
		unsub()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub != nil {
		_ = p.sub.Unsubscribe()
		p.sub = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}

	p.connected = false
	p.logger.Debug("NATS publisher closed")
}
