package process

import "log/slog"

// Options configures a new Supervisor.
type Options struct {
	// Launcher starts backend processes. If nil, a Launcher logging to Logger is used.
	Launcher *Launcher

	// Probe overrides the probe built from the LaunchSpec readiness settings (optional).
	Probe Probe

	// OnStateChange is called when the supervisor state transitions (optional).
	OnStateChange StateChangeCallback

	// OnEvent receives lifecycle events (optional).
	OnEvent EventHandler

	// Repair is consulted once when the restart budget runs out (optional).
	// Without it the supervisor reports the failure and stops.
	Repair RepairHook

	// Logger for supervisor operations. If nil, uses slog.Default().
	Logger *slog.Logger
}
