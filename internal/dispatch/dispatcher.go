package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/airsenal-launcher/internal/launch"
	"github.com/mattjoyce/airsenal-launcher/internal/log"
	"github.com/mattjoyce/airsenal-launcher/internal/mode"
)

// State is a dispatcher lifecycle stage.
type State string

const (
	StateUnresolved       State = "unresolved"
	StatePipelineSelected State = "pipeline_selected"
	StateWebSelected      State = "web_selected"
	StateExeced           State = "execed"
)

// Dispatcher selects and launches one collaborator.
type Dispatcher struct {
	targets  launch.Targets
	launcher launch.Launcher
	logger   *slog.Logger
	state    State
}

// New creates a Dispatcher for the given targets and launch strategy.
func New(targets launch.Targets, launcher launch.Launcher) *Dispatcher {
	return &Dispatcher{
		targets:  targets,
		launcher: launcher,
		logger:   log.WithComponent("dispatch"),
		state:    StateUnresolved,
	}
}

// State returns the current lifecycle stage.
func (d *Dispatcher) State() State { return d.state }

// Select resolves the target for s without launching it.
func (d *Dispatcher) Select(s mode.Settings) (launch.Target, error) {
	t, err := d.targets.For(s.Mode)
	if err != nil {
		return launch.Target{}, err
	}
	switch s.Mode {
	case mode.Pipeline:
		d.state = StatePipelineSelected
	default:
		d.state = StateWebSelected
	}
	return t, nil
}

// Run selects a target from s and launches it exactly once. The returned exit
// code is what the container should exit with.
func (d *Dispatcher) Run(ctx context.Context, s mode.Settings) (launch.ExitCode, error) {
	if d.state != StateUnresolved {
		return launch.ExitFailure, fmt.Errorf("dispatcher already %s", d.state)
	}

	target, err := d.Select(s)
	if err != nil {
		return launch.ExitFailure, err
	}

	logger := log.WithMode(s.Mode.String()).With("component", "dispatch")
	logger.Info("launching collaborator",
		"target", target.String(),
		"run_mode_set", s.Set,
		"run_mode_raw", s.Raw,
		"advisory_port", s.Port,
	)

	d.state = StateExeced
	code, err := d.launcher.Launch(ctx, target)
	if err != nil {
		logger.Error("collaborator launch failed", "target", target.Name, "exit_code", int(code), "error", err)
		return code, err
	}
	if !code.IsSuccess() {
		logger.Warn("collaborator exited with non-zero status", "target", target.Name, "exit_code", int(code))
	}
	return code, nil
}
