//go:build unix

package process

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the backend in its own process group so that
// workers it forks are signalled with it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalStop asks the backend process group to exit.
func signalStop(pid int) error {
	return signalGroup(pid, unix.SIGTERM)
}

// signalKill forcibly terminates the backend process group.
func signalKill(pid int) error {
	return signalGroup(pid, unix.SIGKILL)
}

func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		// Group already gone, try the leader alone
		err = unix.Kill(pid, sig)
	}
	if errors.Is(err, unix.ESRCH) {
		return errProcessGone
	}
	return err
}

// processExists reports whether pid is still present in the process table.
func processExists(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
