package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/shellkeeper/cmd"
	"github.com/smazurov/shellkeeper/internal/api"
	"github.com/smazurov/shellkeeper/internal/config"
	"github.com/smazurov/shellkeeper/internal/events"
	"github.com/smazurov/shellkeeper/internal/logging"
	"github.com/smazurov/shellkeeper/internal/metrics"
	"github.com/smazurov/shellkeeper/internal/metrics/exporters"
	"github.com/smazurov/shellkeeper/internal/nats"
	"github.com/smazurov/shellkeeper/internal/process"
	"github.com/smazurov/shellkeeper/internal/systemd"
	"github.com/spf13/cobra"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Address the control API listens on" short:"p" default:"127.0.0.1:8091" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings, both empty disables auth
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Optional NATS link for lifecycle events and remote start requests
	NatsURL string `help:"NATS server URL, empty disables" default:"" toml:"nats.url" env:"NATS_URL"`

	// Backend output kept for /api/backend/output
	OutputLines int `help:"Backend output lines to keep" default:"1000" toml:"output.lines" env:"OUTPUT_LINES"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSupervisor string `help:"Supervisor logging level" default:"info" toml:"logging.supervisor" env:"LOGGING_SUPERVISOR"`
	LoggingBackend    string `help:"Backend output logging level" default:"info" toml:"logging.backend" env:"LOGGING_BACKEND"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP       string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingSystemd    string `help:"systemd integration logging level" default:"info" toml:"logging.systemd" env:"LOGGING_SYSTEMD"`
	LoggingConfig     string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingNats       string `help:"NATS logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`

	config.Backend
}

// shutdownMargin is added to the backend's grace and kill waits.
const shutdownMargin = 2 * time.Second

func main() {
	var root *cobra.Command
	var parsed *Options

	// Create Huma CLI
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		parsed = opts

		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, root); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"supervisor": opts.LoggingSupervisor,
				"backend":    opts.LoggingBackend,
				"api":        opts.LoggingAPI,
				"http":       opts.LoggingHTTP,
				"systemd":    opts.LoggingSystemd,
				"config":     opts.LoggingConfig,
				"nats":       opts.LoggingNats,
			},
		})

		logger := logging.GetLogger("main")

		// Everything else is only needed when running the supervisor itself
		var (
			supervisor  *process.Supervisor
			server      *api.Server
			notifier    *systemd.Notifier
			recorder    *metrics.Recorder
			sseExporter *exporters.SSEExporter
			watcher     *config.Watcher[logging.Config]
			manager     *systemd.Manager
			publisher   *nats.Publisher
			cancel      context.CancelFunc = func() {}
		)

		stop := func() {
			logger.Info("Shutting down")
			if notifier != nil {
				notifier.Stopping()
			}

			if supervisor != nil {
				spec := supervisor.Spec()
				timeout := spec.Shutdown.GracePeriod + spec.Shutdown.KillWait + shutdownMargin
				ctx, done := context.WithTimeout(context.Background(), timeout)
				err := supervisor.Shutdown(ctx)
				done()
				switch {
				case errors.Is(err, process.ErrShutdownTimedOut):
					logger.Warn("Backend outlived shutdown", "error", err)
				case err != nil:
					logger.Error("Backend shutdown failed", "error", err)
				}
			}

			// Stop the API after the backend so the shell sees the final state
			if server != nil {
				ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
				if stopErr := server.Stop(ctx); stopErr != nil {
					logger.Error("Error stopping HTTP server", "error", stopErr)
				}
				done()
			}

			cancel()
			if publisher != nil {
				publisher.Close()
			}
			if watcher != nil {
				_ = watcher.Stop()
			}
			if sseExporter != nil {
				sseExporter.Stop()
			}
			if recorder != nil {
				recorder.Close()
			}
			if notifier != nil {
				notifier.Detach()
			}
			if manager != nil {
				manager.Close()
			}
		}

		hooks.OnStart(func() {
			spec, specErr := opts.Backend.LaunchSpec()
			if specErr != nil {
				logger.Error("Invalid backend configuration", "error", specErr)
				os.Exit(1)
			}

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			// Create event bus for in-process event handling
			eventBus := events.New()
			logging.SetLogCallback(func(entry logging.LogEntry) {
				eventBus.Publish(events.LogEntryEvent{
					Seq:        entry.Seq,
					Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
					Level:      entry.Level,
					Module:     entry.Module,
					Message:    entry.Message,
					Attributes: entry.Attributes,
				})
			})

			recorder = metrics.NewRecorder(eventBus)
			sseExporter = exporters.NewSSEExporter(eventBus)
			sseExporter.Start(ctx)

			notifier = systemd.NewNotifier()
			notifier.Attach(eventBus)

			supervisorOpts := &process.Options{
				Logger:  logging.GetLogger("supervisor"),
				OnEvent: eventBus.PublishLifecycle,
			}

			lines := opts.OutputLines
			if lines <= 0 {
				lines = 1000
			}
			output := logging.NewOutputBuffer("backend", lines, process.ParseLogLevel)
			supervisorOpts.Launcher = &process.Launcher{
				Logger:       supervisorOpts.Logger,
				OutputLogger: logging.GetLogger("backend"),
				LogParser:    process.ParseLogLevel,
				Output:       output,
			}

			if opts.RepairSystemdUnit != "" {
				m, connErr := systemd.NewManager(ctx)
				if connErr != nil {
					logger.Warn("Repair unit configured but systemd is unreachable", "unit", opts.RepairSystemdUnit, "error", connErr)
				} else {
					manager = m
					supervisorOpts.Repair = systemd.NewUnitRepairer(m, opts.RepairSystemdUnit)
				}
			}

			supervisor = process.New(spec, supervisorOpts)

			go notifier.RunWatchdog(ctx, func() bool {
				select {
				case <-supervisor.Done():
					return false
				default:
					return true
				}
			})

			// A failed first launch is reported through status, not fatal
			if startErr := supervisor.Start(ctx); startErr != nil {
				logger.Error("Backend failed to start", "error", startErr, "code", process.Code(startErr))
			}

			if opts.NatsURL != "" {
				publisher = nats.NewPublisher(opts.NatsURL, eventBus, logging.GetLogger("nats"))
				publisher.OnStartRequest(supervisor.Start)
				// Unreachable NATS is logged by Connect and not fatal
				_ = publisher.Connect()
			}

			watcher = config.WatchLogging(opts.Config)
			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Log level hot reload disabled", "config", opts.Config, "error", watchErr)
			}

			server = api.NewServer(&api.Options{
				AuthUsername:      opts.AuthUsername,
				AuthPassword:      opts.AuthPassword,
				Backend:           supervisor,
				Output:            output,
				EventBus:          eventBus,
				PrometheusHandler: exporters.HTTPHandler(),
			})

			logger.Info("Starting HTTP server", "addr", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				stop()
				os.Exit(1)
			}
		})

		hooks.OnStop(stop)
	})
	root = cli.Root()
	root.Use = "shellkeeper"
	root.Short = "Supervise the local backend server of a desktop shell"

	loadSpec := func() (process.LaunchSpec, error) {
		return parsed.Backend.LaunchSpec()
	}

	cli.Root().AddCommand(cmd.CreateCheckCmd(loadSpec))
	cli.Root().AddCommand(cmd.CreateProbeCmd(loadSpec))
	cli.Root().AddCommand(cmd.CreateVersionCmd())
	cli.Root().AddCommand(cmd.CreateRequestStartCmd(func() string { return parsed.NatsURL }))

	// Run the CLI
	cli.Run()
}
