package process

import (
	"context"
	"time"
)

type healthVerdict int

const (
	healthDegraded healthVerdict = iota
	healthRecovered
	healthHung
)

// monitorHealth re-runs the readiness probe every spec.Interval while ctx is
// live and reports transitions: the first failure, a recovery, and a failure
// streak reaching spec.HungAfter. It returns after reporting hung.
func monitorHealth(ctx context.Context, probe Probe, spec HealthSpec, report func(healthVerdict, error)) {
	ticker := time.NewTicker(spec.Interval)
	defer ticker.Stop()

	var failingSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		probeCtx, cancel := context.WithTimeout(ctx, spec.Interval)
		err := probe.Check(probeCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			if !failingSince.IsZero() {
				failingSince = time.Time{}
				report(healthRecovered, nil)
			}
			continue
		}

		if failingSince.IsZero() {
			failingSince = time.Now()
			report(healthDegraded, err)
		}
		if spec.HungAfter > 0 && time.Since(failingSince) >= spec.HungAfter {
			report(healthHung, err)
			return
		}
	}
}
