package process

import (
	"errors"
	"log/slog"
	"time"
)

var errProcessGone = errors.New("process already exited")

// Terminate stops the child: a polite stop signal to its process group, up
// to grace for a voluntary exit, then SIGKILL and up to killWait more.
// Calling it on an exited child is a no-op. The returned error is
// ErrShutdownTimedOut only if the child outlived the kill as well.
func Terminate(c *Child, grace, killWait time.Duration, logger *slog.Logger) (ExitInfo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if info, exited := c.Exit(); exited {
		return info, nil
	}

	logger.Info("Sending stop signal to backend", "pid", c.pid)
	if err := signalStop(c.pid); err != nil && !errors.Is(err, errProcessGone) {
		logger.Warn("Failed to send stop signal", "pid", c.pid, "error", err)
	}

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()
	select {
	case <-c.done:
		return c.exit, nil
	case <-graceTimer.C:
	}

	logger.Warn("Graceful shutdown timeout, forcing kill", "pid", c.pid, "grace_period", grace)
	if err := signalKill(c.pid); err != nil && !errors.Is(err, errProcessGone) {
		logger.Error("Failed to kill backend", "pid", c.pid, "error", err)
	}

	killTimer := time.NewTimer(killWait)
	defer killTimer.Stop()
	select {
	case <-c.done:
		return c.exit, nil
	case <-killTimer.C:
		logger.Error("Backend did not exit after kill signal", "pid", c.pid)
		return ExitInfo{PID: c.pid, Code: -1, Requested: c.requested.Load()},
			newError(ErrCodeShutdownTimedOut, "backend did not exit after kill signal", nil)
	}
}

// markRequested records that the coming exit was asked for.
func (c *Child) markRequested() {
	c.requested.Store(true)
}

// markHung records that the coming exit follows a hung verdict.
func (c *Child) markHung() {
	c.hung.Store(true)
}
