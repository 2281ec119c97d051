package systemd

import (
	"context"
	"fmt"
)

// UnitRepairer restarts a companion unit when the backend cannot be kept
// alive. It implements process.RepairHook.
type UnitRepairer struct {
	manager *Manager
	unit    string
}

// NewUnitRepairer returns a repair hook that restarts unit.
func NewUnitRepairer(manager *Manager, unit string) *UnitRepairer {
	return &UnitRepairer{manager: manager, unit: unit}
}

// Repair restarts the unit and checks that it came back active.
func (r *UnitRepairer) Repair(ctx context.Context, cause error) error {
	r.manager.logger.Warn("Restarting unit to repair backend", "unit", r.unit, "cause", cause)

	if err := r.manager.RestartUnit(ctx, r.unit); err != nil {
		return err
	}
	state, err := r.manager.UnitStatus(ctx, r.unit)
	if err != nil {
		return fmt.Errorf("failed to read state of %s: %w", r.unit, err)
	}
	if state != "active" {
		return fmt.Errorf("unit %s is %s after restart", r.unit, state)
	}

	r.manager.logger.Info("Unit restarted", "unit", r.unit)
	return nil
}
