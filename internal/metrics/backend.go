// Package metrics provides Prometheus metrics for the supervised backend.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smazurov/shellkeeper/internal/process"
)

var states = []process.State{
	process.StateIdle,
	process.StateStarting,
	process.StateReady,
	process.StateDegraded,
	process.StateRestarting,
	process.StateShuttingDown,
	process.StateStopped,
}

var (
	backendUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shellkeeper",
		Subsystem: "backend",
		Name:      "up",
		Help:      "1 while the backend is ready or degraded",
	})

	backendState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "shellkeeper",
		Subsystem: "backend",
		Name:      "state",
		Help:      "Supervisor state, 1 for the current state",
	}, []string{"state"})

	backendLaunches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shellkeeper",
		Subsystem: "backend",
		Name:      "launches_total",
		Help:      "Backend processes started",
	})

	backendRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shellkeeper",
		Subsystem: "backend",
		Name:      "restarts_total",
		Help:      "Restarts scheduled by the restart policy",
	})

	backendCrashes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shellkeeper",
		Subsystem: "backend",
		Name:      "crashes_total",
		Help:      "Unexpected backend exits",
	}, []string{"reason"})

	backendHung = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shellkeeper",
		Subsystem: "backend",
		Name:      "hung_total",
		Help:      "Backends terminated after failing health checks",
	})

	backendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shellkeeper",
		Subsystem: "backend",
		Name:      "failures_total",
		Help:      "Sessions that ended in a failure",
	}, []string{"code"})

	backendReadiness = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shellkeeper",
		Subsystem: "backend",
		Name:      "readiness_seconds",
		Help:      "Time from launch to a passing readiness check",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// Local copy for the SSE exporter.
	snapshot   Snapshot
	snapshotMu sync.RWMutex
)

// Crash reasons.
const (
	CrashExit   = "exit"
	CrashSignal = "signal"
)

// Snapshot holds the current counter values.
type Snapshot struct {
	State      process.State
	Launches   int
	Restarts   int
	Crashes    int
	ReadySince time.Time
}

func init() {
	SetState(process.StateIdle)
}

// SetState marks state as current.
func SetState(state process.State) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		backendState.WithLabelValues(string(s)).Set(v)
	}

	up := state == process.StateReady || state == process.StateDegraded
	if up {
		backendUp.Set(1)
	} else {
		backendUp.Set(0)
	}

	snapshotMu.Lock()
	defer snapshotMu.Unlock()
	snapshot.State = state
	switch {
	case !up:
		snapshot.ReadySince = time.Time{}
	case snapshot.ReadySince.IsZero():
		snapshot.ReadySince = time.Now()
	}
}

// RecordLaunch counts a started backend process.
func RecordLaunch() {
	backendLaunches.Inc()
	update(func(s *Snapshot) { s.Launches++ })
}

// RecordRestart counts a scheduled restart.
func RecordRestart() {
	backendRestarts.Inc()
	update(func(s *Snapshot) { s.Restarts++ })
}

// RecordCrash counts an unexpected exit. reason is CrashExit or CrashSignal.
func RecordCrash(reason string) {
	backendCrashes.WithLabelValues(reason).Inc()
	update(func(s *Snapshot) { s.Crashes++ })
}

// RecordHung counts a backend declared hung.
func RecordHung() {
	backendHung.Inc()
}

// RecordFailure counts a session that gave up, labelled by error code.
func RecordFailure(code string) {
	if code == "" {
		code = "UNKNOWN"
	}
	backendFailures.WithLabelValues(code).Inc()
}

// ObserveReadiness records how long a launch took to become ready.
func ObserveReadiness(d time.Duration) {
	backendReadiness.Observe(d.Seconds())
}

// GetSnapshot returns a copy of the current values.
func GetSnapshot() Snapshot {
	snapshotMu.RLock()
	defer snapshotMu.RUnlock()
	return snapshot
}

func update(fn func(*Snapshot)) {
	snapshotMu.Lock()
	defer snapshotMu.Unlock()
	fn(&snapshot)
}
