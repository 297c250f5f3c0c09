// Package launch starts collaborator processes for the dispatcher.
//
// Two strategies are provided. ExecLauncher replaces the current process image
// and never returns on success. ChildLauncher starts the collaborator as a child,
// relays termination signals, and hands back its exit status.
package launch

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/airsenal-launcher/internal/mode"
)

const (
	// PipelineExecutable is the installed console script for the batch pipeline.
	PipelineExecutable = "airsenal_run_pipeline"
	// WebInterpreter runs WebScript.
	WebInterpreter = "python"
	// WebScript is resolved against the working directory.
	WebScript = "web_app.py"
)

// Target is one fixed collaborator command.
//
// Dir is the working directory and Env the child environment; their zero
// values inherit the launcher's.
type Target struct {
	Name string
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Argv returns the argument vector including argv[0].
func (t Target) Argv() []string {
	return append([]string{t.Path}, t.Args...)
}

func (t Target) String() string {
	return strings.Join(t.Argv(), " ")
}

// Targets pairs each RuntimeMode with its collaborator.
type Targets struct {
	Pipeline Target
	Web      Target
}

// DefaultTargets returns the collaborator commands baked into the image. Neither
// takes arguments.
func DefaultTargets() Targets {
	return Targets{
		Pipeline: Target{Name: mode.Pipeline.String(), Path: PipelineExecutable},
		Web:      Target{Name: mode.Web.String(), Path: WebInterpreter, Args: []string{WebScript}},
	}
}

// For returns the target selected by m.
func (t Targets) For(m mode.RuntimeMode) (Target, error) {
	switch m {
	case mode.Pipeline:
		return t.Pipeline, nil
	case mode.Web:
		return t.Web, nil
	default:
		return Target{}, fmt.Errorf("no target for %s", m)
	}
}
