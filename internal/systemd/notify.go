package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/smazurov/shellkeeper/internal/events"
	"github.com/smazurov/shellkeeper/internal/logging"
)

// Notifier reports backend lifecycle to the service manager over sd_notify.
// Every call is a no-op when NOTIFY_SOCKET is unset.
type Notifier struct {
	notify func(state string) (bool, error)
	logger *slog.Logger

	mu            sync.Mutex
	readySent     bool
	unsubscribers []func()
}

// NewNotifier creates a notifier using the process environment.
func NewNotifier() *Notifier {
	return &Notifier{
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		logger: logging.GetLogger("systemd"),
	}
}

// Attach subscribes to backend events on bus.
func (n *Notifier) Attach(bus *events.Bus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unsubscribers = append(n.unsubscribers,
		bus.Subscribe(func(e events.BackendReadyEvent) {
			n.ready(fmt.Sprintf("Backend ready (pid %d)", e.PID))
		}),
		bus.Subscribe(func(e events.BackendHealthEvent) {
			n.send("STATUS=Backend " + e.Status)
		}),
		bus.Subscribe(func(e events.BackendRestartScheduledEvent) {
			n.send(fmt.Sprintf("STATUS=Restarting backend (attempt %d)", e.Attempt))
		}),
		bus.Subscribe(func(e events.BackendFailedEvent) {
			n.send("STATUS=Backend failed: " + e.Error)
		}),
	)
}

// Detach removes the bus subscriptions.
func (n *Notifier) Detach() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, unsub := range n.unsubscribers {
		unsub()
	}
	n.unsubscribers = nil
}

// Stopping tells the service manager shutdown has begun.
func (n *Notifier) Stopping() {
	n.send(daemon.SdNotifyStopping + "\nSTATUS=Stopping backend")
}

// ready sends READY=1 once; later recoveries only update STATUS.
func (n *Notifier) ready(status string) {
	n.mu.Lock()
	first := !n.readySent
	n.readySent = true
	n.mu.Unlock()

	if first {
		n.send(daemon.SdNotifyReady + "\nSTATUS=" + status)
		return
	}
	n.send("STATUS=" + status)
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "error", err)
		return
	}
	if sent {
		n.logger.Debug("sd_notify sent", "state", state)
	}
}

// RunWatchdog pings the systemd watchdog at half the configured interval
// while alive reports true. It returns immediately when the watchdog is
// not enabled for this service.
func (n *Notifier) RunWatchdog(ctx context.Context, alive func() bool) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	n.runWatchdog(ctx, interval/2, alive)
}

func (n *Notifier) runWatchdog(ctx context.Context, every time.Duration, alive func() bool) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if alive() {
				n.send(daemon.SdNotifyWatchdog)
			}
		}
	}
}
