package launch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/airsenal-launcher/internal/log"
)

// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
const terminationGracePeriod = 10 * time.Second

// ChildLauncher runs the target as a child process and waits for it.
//
// Signals are relayed to the child while it runs. GracePeriod bounds how long
// the child may take to exit after SIGTERM once ctx is cancelled.
type ChildLauncher struct {
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
	Signals     []os.Signal
	GracePeriod time.Duration
	logger      *slog.Logger
}

// NewChildLauncher returns a ChildLauncher wired to the process stdio.
func NewChildLauncher() *ChildLauncher {
	return &ChildLauncher{
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Signals:     []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		GracePeriod: terminationGracePeriod,
		logger:      log.WithComponent("launch"),
	}
}

// Launch starts t, relays signals, and returns the child's exit status.
// Cancelling ctx sends SIGTERM, then SIGKILL after GracePeriod.
func (l *ChildLauncher) Launch(ctx context.Context, t Target) (ExitCode, error) {
	logger := l.logger
	if logger == nil {
		logger = log.WithComponent("launch")
	}
	path, err := Resolve(t)
	if err != nil {
		return ExitCodeOf(err), err
	}

	cmd := exec.Command(path, t.Args...)
	cmd.Args = t.Argv()
	cmd.Dir = t.Dir
	cmd.Env = t.Env
	cmd.Stdin = l.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	if err := cmd.Start(); err != nil {
		le := newLaunchError(t, err)
		return le.Code, le
	}
	logger.Debug("collaborator started", "target", t.Name, "pid", cmd.Process.Pid)

	sigCh := make(chan os.Signal, 1)
	if len(l.Signals) > 0 {
		signal.Notify(sigCh, l.Signals...)
		defer signal.Stop(sigCh)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	for {
		select {
		case sig := <-sigCh:
			logger.Info("relaying signal to collaborator", "signal", sig.String())
			_ = cmd.Process.Signal(sig)
		case <-ctx.Done():
			logger.Warn("context cancelled, sending SIGTERM to collaborator")
			_ = cmd.Process.Signal(syscall.SIGTERM)

			grace := l.GracePeriod
			if grace <= 0 {
				grace = terminationGracePeriod
			}
			timer := time.NewTimer(grace)
			defer timer.Stop()

			select {
			case err := <-waitErr:
				return exitCodeFromWait(err)
			case <-timer.C:
				logger.Warn("collaborator did not exit after SIGTERM, sending SIGKILL")
				_ = cmd.Process.Kill()
				return exitCodeFromWait(<-waitErr)
			}
		case err := <-waitErr:
			return exitCodeFromWait(err)
		}
	}
}

// exitCodeFromWait converts a Wait result into the status a shell would report.
// A non-zero exit is not an error: the code itself is the result.
func exitCodeFromWait(err error) (ExitCode, error) {
	if err == nil {
		return ExitOK, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ExitFailure, err
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitCode(exitSignalBase + int(ws.Signal())), nil
	}
	return ExitCode(exitErr.ExitCode()), nil
}
