package systemd

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"
	"github.com/smazurov/shellkeeper/internal/process"
)

type fakeConn struct {
	result     string
	restartErr error
	state      string
	restarted  []string
	closed     bool
}

func (f *fakeConn) GetUnitPropertyContext(_ context.Context, _, property string) (*dbus.Property, error) {
	return &dbus.Property{Name: property, Value: godbus.MakeVariant(f.state)}, nil
}

func (f *fakeConn) RestartUnitContext(_ context.Context, name, _ string, ch chan<- string) (int, error) {
	if f.restartErr != nil {
		return 0, f.restartErr
	}
	f.restarted = append(f.restarted, name)
	ch <- f.result
	return 1, nil
}

func (f *fakeConn) Close() { f.closed = true }

func newTestManager(conn *fakeConn) *Manager {
	return &Manager{conn: conn, logger: slog.New(slog.DiscardHandler)}
}

func TestUnitRepairer(t *testing.T) {
	tests := []struct {
		name    string
		conn    *fakeConn
		wantErr bool
	}{
		{"restart succeeds", &fakeConn{result: "done", state: "active"}, false},
		{"job failed", &fakeConn{result: "failed", state: "failed"}, true},
		{"dbus error", &fakeConn{restartErr: errors.New("access denied")}, true},
		{"inactive after restart", &fakeConn{result: "done", state: "inactive"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hook process.RepairHook = NewUnitRepairer(newTestManager(tt.conn), "fidu-core.service")
			err := hook.Repair(context.Background(), process.ErrRestartBudgetExhausted)
			if (err != nil) != tt.wantErr {
				t.Errorf("Repair() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestManagerUnitStatus(t *testing.T) {
	conn := &fakeConn{state: "activating"}
	m := newTestManager(conn)

	got, err := m.UnitStatus(context.Background(), "fidu-core.service")
	if err != nil {
		t.Fatal(err)
	}
	if got != "activating" {
		t.Errorf("UnitStatus = %q, want activating", got)
	}

	m.Close()
	if !conn.closed {
		t.Error("Close should close the connection")
	}
}

func TestRestartUnitHonoursContext(t *testing.T) {
	conn := &blockingConn{fakeConn: fakeConn{state: "active"}}
	m := newTestManager(&conn.fakeConn)
	m.conn = conn

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.RestartUnit(ctx, "fidu-core.service"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// blockingConn accepts the restart job but never reports completion.
type blockingConn struct {
	fakeConn
}

func (b *blockingConn) RestartUnitContext(context.Context, string, string, chan<- string) (int, error) {
	return 1, nil
}
