package process

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Probe checks once whether the backend can serve requests.
// Implementations must be passive and honor ctx.
type Probe interface {
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) error

// Check calls f(ctx).
func (f ProbeFunc) Check(ctx context.Context) error { return f(ctx) }

// TCPProbe is ready once Address accepts a connection.
type TCPProbe struct {
	Address string
	Timeout time.Duration
}

// Check dials the address and closes the connection immediately.
func (p TCPProbe) Check(ctx context.Context) error {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// HTTPProbe is ready once URL answers GET with a 2xx status.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// Check performs a single GET against the health endpoint.
func (p HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// NewProbe builds the probe described by spec. Each attempt is bounded by
// the polling interval so a stalled endpoint cannot stretch the loop.
func NewProbe(spec ReadinessSpec) Probe {
	attempt := spec.Interval
	if attempt < 100*time.Millisecond {
		attempt = 100 * time.Millisecond
	}
	switch spec.Kind {
	case ProbeTCP:
		return TCPProbe{Address: spec.Address, Timeout: attempt}
	default:
		return HTTPProbe{URL: spec.URL, Client: &http.Client{Timeout: attempt}}
	}
}

// AwaitReady polls probe every interval until it succeeds, timeout elapses,
// the child exits, or ctx is cancelled. An early child exit is reported as
// *ExitError as soon as it happens.
func AwaitReady(ctx context.Context, c *Child, probe Probe, timeout, interval time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		lastErr = probe.Check(probeCtx)
		cancel()
		if lastErr == nil {
			// A child that died between probes is not ready, whatever answered
			if info, exited := childExit(c); exited {
				return &ExitError{Info: info}
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-childDone(c):
			info, _ := c.Exit()
			return &ExitError{Info: info}
		case <-deadline.C:
			return newError(ErrCodeReadinessTimeout,
				fmt.Sprintf("backend not ready after %s", timeout), lastErr)
		case <-ticker.C:
		}
	}
}

// childDone tolerates a nil child for standalone probing.
func childDone(c *Child) <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.done
}

func childExit(c *Child) (ExitInfo, bool) {
	if c == nil {
		return ExitInfo{}, false
	}
	return c.Exit()
}
