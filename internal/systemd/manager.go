// Package systemd integrates the supervisor with systemd: readiness
// notifications over sd_notify and unit restarts over D-Bus.
package systemd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/smazurov/shellkeeper/internal/logging"
)

// unitConn is the subset of *dbus.Conn the manager uses.
type unitConn interface {
	GetUnitPropertyContext(ctx context.Context, unit, propertyName string) (*dbus.Property, error)
	RestartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	Close()
}

// Manager handles systemd unit operations via D-Bus.
type Manager struct {
	conn   unitConn
	logger *slog.Logger
}

// NewManager creates a new systemd manager with a user-level D-Bus connection.
// The desktop shell runs in the user session, so the backend's companion
// units live in the user manager.
func NewManager(ctx context.Context) (*Manager, error) {
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to user systemd: %w", err)
	}
	return &Manager{conn: conn, logger: logging.GetLogger("systemd")}, nil
}

// UnitStatus retrieves the ActiveState property of a unit.
func (m *Manager) UnitStatus(ctx context.Context, unit string) (string, error) {
	prop, err := m.conn.GetUnitPropertyContext(ctx, unit, "ActiveState")
	if err != nil {
		return "", err
	}
	if s, ok := prop.Value.Value().(string); ok {
		return s, nil
	}
	return prop.Value.String(), nil
}

// RestartUnit restarts a unit in replace mode and waits for the job to finish.
func (m *Manager) RestartUnit(ctx context.Context, unit string) error {
	done := make(chan string, 1)
	if _, err := m.conn.RestartUnitContext(ctx, unit, "replace", done); err != nil {
		return fmt.Errorf("failed to restart %s: %w", unit, err)
	}
	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("restart of %s finished with result %q", unit, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cleanly closes the D-Bus connection.
func (m *Manager) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}
