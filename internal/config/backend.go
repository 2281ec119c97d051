package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/smazurov/shellkeeper/internal/process"
)

// Backend holds the supervisor settings. main embeds it in the CLI options,
// so every field is also a flag, an env var and a TOML key.
// Durations are strings parsed with time.ParseDuration.
type Backend struct {
	BackendExecutable string `help:"Backend executable, relative to the anchor unless absolute" default:".venv/bin/python" toml:"backend.executable" env:"BACKEND_EXECUTABLE"`
	BackendArgs       string `help:"Backend arguments, space separated (a TOML array keeps spaces)" default:"src/fidu_core/main.py" toml:"backend.args" env:"BACKEND_ARGS"`
	BackendWorkdir    string `help:"Backend working directory, relative to the anchor" default:"." toml:"backend.workdir" env:"BACKEND_WORKDIR"`
	BackendEnv        string `help:"Backend environment overrides, space separated KEY=VALUE (a TOML array keeps spaces)" default:"" toml:"backend.env" env:"BACKEND_ENV"`
	BackendAnchor     string `help:"Directory relative paths resolve against (default: directory of this binary)" default:"" toml:"backend.anchor" env:"BACKEND_ANCHOR"`

	ReadinessKind     string `help:"Readiness check (http, tcp)" default:"http" toml:"readiness.kind" env:"READINESS_KIND"`
	ReadinessAddress  string `help:"host:port dialed by the tcp check" default:"127.0.0.1:8000" toml:"readiness.address" env:"READINESS_ADDRESS"`
	ReadinessURL      string `name:"readiness-url" help:"URL polled by the http check" default:"http://127.0.0.1:8000/health" toml:"readiness.url" env:"READINESS_URL"`
	ReadinessInterval string `help:"Readiness poll interval" default:"200ms" toml:"readiness.interval" env:"READINESS_INTERVAL"`
	ReadinessTimeout  string `help:"Time allowed to become ready" default:"30s" toml:"readiness.timeout" env:"READINESS_TIMEOUT"`

	HealthInterval  string `help:"Health check interval while ready" default:"2s" toml:"health.interval" env:"HEALTH_INTERVAL"`
	HealthHungAfter string `help:"Failing health checks for this long mark the backend hung (0 disables)" default:"15s" toml:"health.hung_after" env:"HEALTH_HUNG_AFTER"`

	RestartMaxAttempts        int    `help:"Unexpected exits tolerated within the window" default:"3" toml:"restart.max_attempts" env:"RESTART_MAX_ATTEMPTS"`
	RestartWindow             string `help:"Rolling window for counting exits" default:"5m" toml:"restart.window" env:"RESTART_WINDOW"`
	RestartStabilityThreshold string `help:"Uptime after which the restart budget resets" default:"30s" toml:"restart.stability_threshold" env:"RESTART_STABILITY_THRESHOLD"`
	RestartInitialBackoff     string `help:"First restart delay" default:"500ms" toml:"restart.initial_backoff" env:"RESTART_INITIAL_BACKOFF"`
	RestartMaxBackoff         string `help:"Restart delay cap" default:"10s" toml:"restart.max_backoff" env:"RESTART_MAX_BACKOFF"`

	ShutdownGracePeriod string `help:"Wait after SIGTERM before SIGKILL" default:"5s" toml:"shutdown.grace_period" env:"SHUTDOWN_GRACE_PERIOD"`
	ShutdownKillWait    string `help:"Wait after SIGKILL" default:"2s" toml:"shutdown.kill_wait" env:"SHUTDOWN_KILL_WAIT"`

	RepairSystemdUnit string `help:"systemd unit restarted when the restart budget is exhausted" default:"" toml:"repair.systemd_unit" env:"REPAIR_SYSTEMD_UNIT"`
}

// LaunchConfig converts the options into a process.LaunchConfig. Empty
// values keep the stock defaults.
func (b Backend) LaunchConfig() (process.LaunchConfig, error) {
	cfg := process.DefaultLaunchConfig()

	if b.BackendExecutable != "" {
		cfg.Executable = b.BackendExecutable
	}
	if args := SplitList(b.BackendArgs); args != nil {
		cfg.Args = args
	}
	if b.BackendWorkdir != "" {
		cfg.WorkDir = b.BackendWorkdir
	}
	cfg.Env = SplitList(b.BackendEnv)
	cfg.Anchor = b.BackendAnchor

	if b.ReadinessKind != "" {
		cfg.Readiness.Kind = process.ProbeKind(strings.ToLower(b.ReadinessKind))
	}
	if b.ReadinessAddress != "" {
		cfg.Readiness.Address = b.ReadinessAddress
	}
	if b.ReadinessURL != "" {
		cfg.Readiness.URL = b.ReadinessURL
	}
	if b.RestartMaxAttempts > 0 {
		cfg.Restart.MaxAttempts = b.RestartMaxAttempts
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"readiness.interval", b.ReadinessInterval, &cfg.Readiness.Interval},
		{"readiness.timeout", b.ReadinessTimeout, &cfg.Readiness.Timeout},
		{"health.interval", b.HealthInterval, &cfg.Health.Interval},
		{"health.hung_after", b.HealthHungAfter, &cfg.Health.HungAfter},
		{"restart.window", b.RestartWindow, &cfg.Restart.Window},
		{"restart.stability_threshold", b.RestartStabilityThreshold, &cfg.Restart.StabilityThreshold},
		{"restart.initial_backoff", b.RestartInitialBackoff, &cfg.Restart.InitialBackoff},
		{"restart.max_backoff", b.RestartMaxBackoff, &cfg.Restart.MaxBackoff},
		{"shutdown.grace_period", b.ShutdownGracePeriod, &cfg.Shutdown.GracePeriod},
		{"shutdown.kill_wait", b.ShutdownKillWait, &cfg.Shutdown.KillWait},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return process.LaunchConfig{}, fmt.Errorf("invalid %s %q: %w", d.key, d.value, err)
		}
		if parsed < 0 {
			return process.LaunchConfig{}, fmt.Errorf("invalid %s %q: must not be negative", d.key, d.value)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// LaunchSpec builds and validates the immutable launch spec.
func (b Backend) LaunchSpec() (process.LaunchSpec, error) {
	cfg, err := b.LaunchConfig()
	if err != nil {
		return process.LaunchSpec{}, err
	}
	return process.NewLaunchSpec(cfg)
}
