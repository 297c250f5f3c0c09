package launch

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strconv"
	"syscall"
)

// ExitCode is a process exit status as reported to the container runtime.
type ExitCode int

const (
	ExitOK ExitCode = 0
	// ExitFailure is used when a launch fails for a reason with no more
	// specific shell convention.
	ExitFailure ExitCode = 1
	// ExitCannotExecute follows the shell convention for "found but not executable".
	ExitCannotExecute ExitCode = 126
	// ExitNotFound follows the shell convention for "command not found".
	ExitNotFound ExitCode = 127
	// exitSignalBase is added to the signal number when a child dies from a signal.
	exitSignalBase = 128
)

// IsSuccess reports whether c is zero.
func (c ExitCode) IsSuccess() bool { return c == ExitOK }

func (c ExitCode) String() string { return strconv.Itoa(int(c)) }

// LaunchError reports that a collaborator could not be started. The container
// exits with Code.
type LaunchError struct {
	Target string
	Path   string
	Code   ExitCode
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s collaborator %q: %v", e.Target, e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ExitCodeOf returns the exit code carried by err: the LaunchError code if err
// wraps one, ExitOK for nil, ExitFailure otherwise.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return ExitOK
	}
	var le *LaunchError
	if errors.As(err, &le) {
		return le.Code
	}
	return ExitFailure
}

func newLaunchError(t Target, err error) *LaunchError {
	return &LaunchError{Target: t.Name, Path: t.Path, Code: classifyStartError(err), Err: err}
}

func classifyStartError(err error) ExitCode {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOENT):
		return ExitNotFound
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.ENOEXEC):
		return ExitCannotExecute
	default:
		return ExitFailure
	}
}

// Resolve locates the target executable the way a shell would, without
// starting it.
func Resolve(t Target) (string, error) {
	if t.Path == "" {
		return "", newLaunchError(t, exec.ErrNotFound)
	}
	path, err := exec.LookPath(t.Path)
	if err != nil {
		return "", newLaunchError(t, err)
	}
	return path, nil
}
