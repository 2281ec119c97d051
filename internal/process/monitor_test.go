package process

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMonitorHealthTransitions(t *testing.T) {
	// healthy, failing, healthy, then failing for good
	var tick atomic.Int32
	probe := ProbeFunc(func(context.Context) error {
		switch n := tick.Add(1); {
		case n <= 2, n == 5:
			return nil
		default:
			return errors.New("timeout")
		}
	})

	var mu sync.Mutex
	var got []healthVerdict
	done := make(chan struct{})
	go func() {
		defer close(done)
		monitorHealth(context.Background(), probe, HealthSpec{Interval: 10 * time.Millisecond, HungAfter: 100 * time.Millisecond},
			func(v healthVerdict, _ error) {
				mu.Lock()
				got = append(got, v)
				mu.Unlock()
			})
	}()

	select {
	case <-done:
	case <-time.After(testWaitDeadline):
		t.Fatal("monitor never reported hung")
	}

	want := []healthVerdict{healthDegraded, healthRecovered, healthDegraded, healthHung}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMonitorHealthStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	probe := ProbeFunc(func(context.Context) error {
		calls.Add(1)
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		monitorHealth(ctx, probe, HealthSpec{Interval: 10 * time.Millisecond}, func(healthVerdict, error) {
			t.Error("healthy backend should report nothing")
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
	if calls.Load() == 0 {
		t.Error("expected probe to run")
	}
}
