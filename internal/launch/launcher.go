package launch

import "context"

// Launcher starts a Target and reports its exit status.
type Launcher interface {
	Launch(ctx context.Context, t Target) (ExitCode, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, t Target) (ExitCode, error)

func (f LauncherFunc) Launch(ctx context.Context, t Target) (ExitCode, error) {
	return f(ctx, t)
}
