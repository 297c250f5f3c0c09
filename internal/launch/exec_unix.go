//go:build unix

package launch

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ExecLauncher replaces the current process with the target via execve(2).
// Launch only returns when the replacement failed.
type ExecLauncher struct {
	exec  func(argv0 string, argv []string, envv []string) error
	chdir func(dir string) error
}

// NewExecLauncher returns an ExecLauncher backed by unix.Exec.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{exec: unix.Exec, chdir: os.Chdir}
}

// Launch resolves t on PATH and execs it with the inherited environment.
func (l *ExecLauncher) Launch(ctx context.Context, t Target) (ExitCode, error) {
	if err := ctx.Err(); err != nil {
		return ExitFailure, err
	}
	path, err := Resolve(t)
	if err != nil {
		return ExitCodeOf(err), err
	}
	if t.Dir != "" {
		if err := l.chdir(t.Dir); err != nil {
			le := newLaunchError(t, fmt.Errorf("chdir %s: %w", t.Dir, err))
			return le.Code, le
		}
	}
	env := t.Env
	if env == nil {
		env = os.Environ()
	}

	argv := t.Argv()
	err = l.exec(path, argv, env)
	// Only reachable if execve failed.
	le := newLaunchError(t, err)
	return le.Code, le
}

// Default returns the launcher used by the container entrypoint.
func Default() Launcher {
	return NewExecLauncher()
}
