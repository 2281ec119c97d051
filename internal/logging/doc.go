// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Keeps the last entries in a ring buffer served by the control API
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",      // Global log level: debug, info, warn, error
//		Format: "text",      // Output format: text or json
//		Modules: map[string]string{
//			"supervisor": "debug", // Per-module overrides
//			"backend":    "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("supervisor")
//	logger.Info("Backend ready", "pid", pid)
//
// Backend stdout and stderr are logged under the "backend" module, so
// quieting a chatty backend does not hide supervisor decisions.
//
// Levels can be changed at runtime with ApplyLevels, which the config
// watcher calls when the config file is edited.
//
// # Viewing Logs
//
//	journalctl -t shellkeeper                  # All shellkeeper logs
//	journalctl -t shellkeeper -f               # Follow live
//	journalctl -t shellkeeper MODULE=backend   # Backend output only
//	journalctl -t shellkeeper -p err           # Errors only
//
// # Configuration
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	supervisor = "debug"
//	backend = "warn"
package logging
