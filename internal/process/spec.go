package process

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// ProbeKind selects how readiness is checked.
type ProbeKind string

// Probe kinds.
const (
	ProbeTCP  ProbeKind = "tcp"
	ProbeHTTP ProbeKind = "http"
)

// ReadinessSpec describes how to tell the backend can serve requests.
type ReadinessSpec struct {
	Kind     ProbeKind
	Address  string // host:port for tcp
	URL      string // health endpoint for http
	Interval time.Duration
	Timeout  time.Duration
}

// HealthSpec configures post-ready monitoring. HungAfter of zero disables
// hung detection.
type HealthSpec struct {
	Interval  time.Duration
	HungAfter time.Duration
}

// RestartSpec bounds automatic relaunches.
type RestartSpec struct {
	MaxAttempts        int
	Window             time.Duration
	StabilityThreshold time.Duration
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	Multiplier         float64
}

// ShutdownSpec bounds cooperative and forced termination.
type ShutdownSpec struct {
	GracePeriod time.Duration
	KillWait    time.Duration
}

// LaunchSpec is the immutable description of the backend to supervise.
// Build one with NewLaunchSpec; the accessors return copies.
type LaunchSpec struct {
	executable string
	args       []string
	workDir    string
	env        []string
	anchor     string

	Readiness ReadinessSpec
	Health    HealthSpec
	Restart   RestartSpec
	Shutdown  ShutdownSpec
}

// LaunchConfig is the mutable input to NewLaunchSpec.
type LaunchConfig struct {
	Executable string
	Args       []string
	WorkDir    string
	Env        []string // KEY=VALUE overrides
	Anchor     string   // empty = directory of the running binary

	Readiness ReadinessSpec
	Health    HealthSpec
	Restart   RestartSpec
	Shutdown  ShutdownSpec
}

// DefaultLaunchConfig returns the stock backend configuration: the bundled
// Python server answering /health on port 8000.
func DefaultLaunchConfig() LaunchConfig {
	return LaunchConfig{
		Executable: ".venv/bin/python",
		Args:       []string{"src/fidu_core/main.py"},
		WorkDir:    ".",
		Readiness: ReadinessSpec{
			Kind:     ProbeHTTP,
			Address:  "127.0.0.1:8000",
			URL:      "http://127.0.0.1:8000/health",
			Interval: 200 * time.Millisecond,
			Timeout:  30 * time.Second,
		},
		Health: HealthSpec{
			Interval:  2 * time.Second,
			HungAfter: 15 * time.Second,
		},
		Restart: RestartSpec{
			MaxAttempts:        3,
			Window:             5 * time.Minute,
			StabilityThreshold: 30 * time.Second,
			InitialBackoff:     500 * time.Millisecond,
			MaxBackoff:         10 * time.Second,
			Multiplier:         2.0,
		},
		Shutdown: ShutdownSpec{
			GracePeriod: 5 * time.Second,
			KillWait:    2 * time.Second,
		},
	}
}

// NewLaunchSpec validates cfg and freezes it. An empty Anchor is replaced by
// the directory holding the running binary, never the current directory.
func NewLaunchSpec(cfg LaunchConfig) (LaunchSpec, error) {
	if strings.TrimSpace(cfg.Executable) == "" {
		return LaunchSpec{}, fmt.Errorf("backend executable is required")
	}
	for _, kv := range cfg.Env {
		if !strings.Contains(kv, "=") {
			return LaunchSpec{}, fmt.Errorf("invalid env override %q, expected KEY=VALUE", kv)
		}
	}

	anchor := cfg.Anchor
	if anchor == "" {
		var err error
		anchor, err = InstallDir()
		if err != nil {
			return LaunchSpec{}, fmt.Errorf("failed to determine install directory: %w", err)
		}
	}
	if !filepath.IsAbs(anchor) {
		return LaunchSpec{}, fmt.Errorf("anchor %q must be an absolute path", anchor)
	}

	switch cfg.Readiness.Kind {
	case ProbeTCP:
		if cfg.Readiness.Address == "" {
			return LaunchSpec{}, fmt.Errorf("tcp readiness requires an address")
		}
	case ProbeHTTP:
		if cfg.Readiness.URL == "" {
			return LaunchSpec{}, fmt.Errorf("http readiness requires a url")
		}
	default:
		return LaunchSpec{}, fmt.Errorf("unknown readiness kind %q", cfg.Readiness.Kind)
	}
	if cfg.Readiness.Interval <= 0 || cfg.Readiness.Timeout <= 0 {
		return LaunchSpec{}, fmt.Errorf("readiness interval and timeout must be positive")
	}
	if cfg.Restart.MaxAttempts < 1 {
		return LaunchSpec{}, fmt.Errorf("restart max attempts must be at least 1")
	}
	if cfg.Restart.Multiplier < 1 {
		cfg.Restart.Multiplier = 1
	}
	if cfg.Health.Interval <= 0 {
		cfg.Health.Interval = cfg.Readiness.Interval
	}

	return LaunchSpec{
		executable: cfg.Executable,
		args:       slices.Clone(cfg.Args),
		workDir:    cfg.WorkDir,
		env:        slices.Clone(cfg.Env),
		anchor:     filepath.Clean(anchor),
		Readiness:  cfg.Readiness,
		Health:     cfg.Health,
		Restart:    cfg.Restart,
		Shutdown:   cfg.Shutdown,
	}, nil
}

// Executable returns the configured (unresolved) executable.
func (s LaunchSpec) Executable() string { return s.executable }

// Args returns a copy of the argument vector.
func (s LaunchSpec) Args() []string { return slices.Clone(s.args) }

// Env returns a copy of the environment overrides.
func (s LaunchSpec) Env() []string { return slices.Clone(s.env) }

// Anchor returns the directory relative paths are resolved against.
func (s LaunchSpec) Anchor() string { return s.anchor }

// ResolveWorkDir returns the absolute working directory for the child.
func (s LaunchSpec) ResolveWorkDir() string {
	if s.workDir == "" {
		return s.anchor
	}
	return s.anchored(s.workDir)
}

func (s LaunchSpec) anchored(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(s.anchor, p)
}

// InstallDir returns the directory containing the running binary with
// symlinks resolved.
func InstallDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}
