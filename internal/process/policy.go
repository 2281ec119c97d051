package process

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Action is what the restart policy wants done after a child exit.
type Action int

// Restart policy actions.
const (
	ActionNone    Action = iota // requested exit, nothing to do
	ActionRestart               // relaunch after Delay
	ActionGiveUp                // budget exhausted, see Reason
)

// String returns a human-readable action name.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRestart:
		return "restart"
	case ActionGiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// Decision is the restart policy's verdict on a child exit.
type Decision struct {
	Action Action
	Delay  time.Duration
	Reason error
}

// RestartBudget counts unexpected exits inside a rolling window.
// It is not safe for concurrent use; the supervisor loop owns it.
type RestartBudget struct {
	spec     RestartSpec
	failures []time.Time
	backoff  *backoff.ExponentialBackOff
	now      func() time.Time
}

// NewRestartBudget creates a full budget for spec.
func NewRestartBudget(spec RestartSpec) *RestartBudget {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = spec.InitialBackoff
	b.MaxInterval = spec.MaxBackoff
	b.Multiplier = spec.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return &RestartBudget{
		spec:    spec,
		backoff: b,
		now:     time.Now,
	}
}

// Remaining returns how many more unexpected exits are tolerated.
func (b *RestartBudget) Remaining() int {
	b.prune()
	if n := b.spec.MaxAttempts - len(b.failures); n > 0 {
		return n
	}
	return 0
}

// Failures returns the unexpected exits counted in the current window.
func (b *RestartBudget) Failures() int {
	b.prune()
	return len(b.failures)
}

// Reset restores the full budget and the initial backoff delay.
func (b *RestartBudget) Reset() {
	b.failures = b.failures[:0]
	b.backoff.Reset()
}

func (b *RestartBudget) prune() {
	if b.spec.Window <= 0 {
		return
	}
	cutoff := b.now().Add(-b.spec.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

func (b *RestartBudget) record() int {
	b.prune()
	b.failures = append(b.failures, b.now())
	return len(b.failures)
}

// OnChildExit decides what follows a child exit. A requested exit never
// restarts. A child that ran past the stability threshold resets the budget
// before its exit is counted.
func OnChildExit(exit ExitInfo, budget *RestartBudget) Decision {
	if exit.Requested {
		return Decision{Action: ActionNone}
	}

	if t := budget.spec.StabilityThreshold; t > 0 && exit.Uptime >= t {
		budget.Reset()
	}

	failures := budget.record()
	if failures >= budget.spec.MaxAttempts {
		return Decision{
			Action: ActionGiveUp,
			Reason: newError(ErrCodeRestartBudgetExhausted,
				fmt.Sprintf("backend failed %d times within %s; giving up", failures, budget.spec.Window),
				&ExitError{Info: exit}),
		}
	}

	return Decision{
		Action: ActionRestart,
		Delay:  budget.backoff.NextBackOff(),
	}
}
