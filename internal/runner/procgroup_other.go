//go:build !unix

package runner

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

func startInGroup(cmd *exec.Cmd) {}

// signalGroup falls back to the direct child where process groups are unavailable.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	var err error
	if sig == syscall.SIGKILL {
		err = cmd.Process.Kill()
	} else {
		err = cmd.Process.Signal(sig)
	}
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
