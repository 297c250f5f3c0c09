package runner

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Action names a web-triggerable airsenal command.
type Action string

const (
	ActionSetup    Action = "setup"
	ActionUpdate   Action = "update"
	ActionPredict  Action = "predict"
	ActionOptimize Action = "optimize"
	ActionPipeline Action = "pipeline"
)

const (
	DefaultWeeksAhead = 3
	MaxWeeksAhead     = 38
)

// ErrUnknownAction is returned for actions outside the fixed set.
var ErrUnknownAction = errors.New("invalid action")

// ActionSpec describes how an Action maps to an installed executable.
type ActionSpec struct {
	Action     Action
	Label      string
	Executable string
	// TakesWeeks appends --weeks_ahead N.
	TakesWeeks bool
	// NeedsTeamID is enforced by the page only; the server accepts runs without one.
	NeedsTeamID bool
}

// Actions lists the commands in page order.
var Actions = []ActionSpec{
	{Action: ActionSetup, Label: "🔧 Setup Initial Database", Executable: "airsenal_setup_initial_db"},
	{Action: ActionUpdate, Label: "🔄 Update Database", Executable: "airsenal_update_db", NeedsTeamID: true},
	{Action: ActionPredict, Label: "📊 Run Predictions", Executable: "airsenal_run_prediction", TakesWeeks: true, NeedsTeamID: true},
	{Action: ActionOptimize, Label: "🎯 Run Optimization", Executable: "airsenal_run_optimization", TakesWeeks: true, NeedsTeamID: true},
	{Action: ActionPipeline, Label: "🚀 Run Full Pipeline", Executable: "airsenal_run_pipeline", TakesWeeks: true, NeedsTeamID: true},
}

// Lookup returns the spec for name.
func Lookup(name string) (ActionSpec, error) {
	for _, spec := range Actions {
		if string(spec.Action) == name {
			return spec, nil
		}
	}
	return ActionSpec{}, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// Argv builds the argument vector for spec. No shell is involved.
func (s ActionSpec) Argv(weeksAhead int) []string {
	argv := []string{s.Executable}
	if s.TakesWeeks {
		argv = append(argv, "--weeks_ahead", strconv.Itoa(weeksAhead))
	}
	return argv
}

// Title returns the action name with its first letter upper-cased, as used
// in result messages ("Predict completed successfully!").
func (a Action) Title() string {
	s := string(a)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// ParseWeeksAhead accepts the page's string value or a JSON number. Absent
// values default to DefaultWeeksAhead.
func ParseWeeksAhead(v any) (int, error) {
	var n int
	switch x := v.(type) {
	case nil:
		return DefaultWeeksAhead, nil
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("weeks_ahead must be a whole number (got %v)", x)
		}
		n = int(x)
	case int:
		n = x
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return DefaultWeeksAhead, nil
		}
		parsed, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("weeks_ahead must be an integer (got %q)", x)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("weeks_ahead has unsupported type %T", v)
	}
	if n < 1 || n > MaxWeeksAhead {
		return 0, fmt.Errorf("weeks_ahead must be between 1 and %d (got %d)", MaxWeeksAhead, n)
	}
	return n, nil
}
