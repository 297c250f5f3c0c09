// Package runner executes airsenal commands on behalf of the web server.
//
// Commands run one at a time under a file lock, in the configured work
// directory, with a hard timeout: SIGTERM, then SIGKILL after a grace period,
// delivered to the command's whole process group.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattjoyce/airsenal-launcher/internal/lock"
	"github.com/mattjoyce/airsenal-launcher/internal/log"
)

// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
const terminationGracePeriod = 5 * time.Second

// ErrBusy is returned when another command holds the run lock.
var ErrBusy = errors.New("a process is already running")

// Options configures a Runner.
type Options struct {
	WorkDir        string
	Home           string
	Timeout        time.Duration
	MaxOutputBytes int
	LockPath       string
	GracePeriod    time.Duration
}

// Request is one command invocation. TeamID is exported as FPL_TEAM_ID for
// this run only. Started, if set, is called once the run lock is held and the
// process is running; it is never called for a busy or failed start.
type Request struct {
	RunID   string
	Argv    []string
	TeamID  string
	Started func()
}

// Result is the outcome of a command that started.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration

	// Cancelled is set when ctx ended the run, e.g. on server shutdown.
	Cancelled bool
}

// Succeeded reports a zero exit without timeout.
func (r *Result) Succeeded() bool {
	return r != nil && !r.TimedOut && !r.Cancelled && r.ExitCode == 0
}

// Runner spawns airsenal commands.
type Runner struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = terminationGracePeriod
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 1024 * 1024
	}
	return &Runner{opts: opts, logger: log.WithComponent("runner")}
}

// Timeout returns the configured per-command timeout.
func (r *Runner) Timeout() time.Duration { return r.opts.Timeout }

// Run executes req.Argv and waits for it. A non-nil error means the command
// never ran to completion for reasons other than its own exit status: the lock
// was busy (ErrBusy) or the process could not be started.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	logger := r.logger.With("run_id", req.RunID, "command", req.Argv[0])

	if r.opts.LockPath != "" {
		l, err := lock.AcquirePIDLock(r.opts.LockPath)
		if err != nil {
			if errors.Is(err, lock.ErrHeld) {
				return nil, ErrBusy
			}
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		defer func() { _ = l.Release() }()
	}

	logger.Info("executing command", "argv", req.Argv, "work_dir", r.opts.WorkDir, "timeout", r.opts.Timeout)

	cmd := exec.Command(req.Argv[0], req.Argv[1:]...)
	cmd.Dir = r.opts.WorkDir
	cmd.Env = r.env(req)

	stdout := newCappedBuffer(r.opts.MaxOutputBytes)
	stderr := newCappedBuffer(r.opts.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	startInGroup(cmd)
	// Bounds Wait when a process outside the group still holds the output pipes.
	cmd.WaitDelay = r.opts.GracePeriod

	start := time.Now()
	if err := cmd.Start(); err != nil {
		logger.Error("command failed to start", "error", err)
		return nil, fmt.Errorf("start process: %w", err)
	}
	if req.Started != nil {
		req.Started()
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeoutC <-chan time.Time
	if r.opts.Timeout > 0 {
		timer := time.NewTimer(r.opts.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	res := &Result{}
	var err error
	select {
	case <-timeoutC:
		logger.Warn("command timed out, sending SIGTERM")
		res.TimedOut = true
		err = r.terminate(cmd, waitErr, logger)
	case <-ctx.Done():
		logger.Warn("run cancelled, sending SIGTERM")
		res.Cancelled = true
		err = r.terminate(cmd, waitErr, logger)
	case err = <-waitErr:
	}

	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if errors.Is(err, exec.ErrWaitDelay) {
		logger.Warn("command exited but left processes holding its output, killing them", "grace_period", r.opts.GracePeriod)
		if kerr := signalGroup(cmd, syscall.SIGKILL); kerr != nil {
			logger.Error("failed to send SIGKILL", "error", kerr)
		}
		err = nil
	}
	res.ExitCode = exitCode(err)

	if err != nil && !isExitError(err) {
		return res, fmt.Errorf("wait for process: %w", err)
	}
	if res.ExitCode != 0 {
		logger.Warn("command exited with non-zero status", "exit_code", res.ExitCode, "timed_out", res.TimedOut)
	} else {
		logger.Info("command completed", "duration_ms", res.Duration.Milliseconds())
	}
	return res, nil
}

// terminate signals the command's whole process group so forked workers
// cannot keep the run lock or the output pipes after the deadline.
func (r *Runner) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) error {
	if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(r.opts.GracePeriod)
	defer grace.Stop()

	select {
	case err := <-waitErr:
		logger.Info("command exited after SIGTERM")
		return err
	case <-grace.C:
		logger.Warn("command did not exit after SIGTERM, sending SIGKILL")
		if err := signalGroup(cmd, syscall.SIGKILL); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		return <-waitErr
	}
}

func (r *Runner) env(req Request) []string {
	env := os.Environ()
	if r.opts.Home != "" {
		env = append(env, "AIRSENAL_HOME="+r.opts.Home)
	}
	if req.TeamID != "" {
		env = append(env, "FPL_TEAM_ID="+req.TeamID)
	}
	return env
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return -1
}
