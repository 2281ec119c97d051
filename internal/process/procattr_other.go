//go:build !unix

package process

import (
	"errors"
	"os"
	"os/exec"
)

func setProcessGroup(_ *exec.Cmd) {}

// signalStop has no cooperative equivalent here; the backend is killed.
func signalStop(pid int) error {
	return signalKill(pid)
}

func signalKill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return errProcessGone
	}
	if err := p.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return errProcessGone
		}
		return err
	}
	return nil
}

func processExists(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
