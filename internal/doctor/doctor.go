// Package doctor checks that the container environment can serve either run mode.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/airsenal-launcher/internal/config"
	"github.com/mattjoyce/airsenal-launcher/internal/launch"
	"github.com/mattjoyce/airsenal-launcher/internal/mode"
	"github.com/mattjoyce/airsenal-launcher/internal/runner"
	"github.com/mattjoyce/airsenal-launcher/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Mode     string  `json:"mode"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates the environment for the selected mode. Problems that only
// matter for the other mode are reported as warnings.
type Doctor struct {
	cfg      *config.Config
	targets  launch.Targets
	selected mode.RuntimeMode

	cwd      string
	resolve  func(launch.Target) (string, error)
	lookPath func(string) (string, error)
	checkFS  func(storage.Location) error
}

// New creates a Doctor from a loaded config, the dispatcher targets and the
// mode the current environment selects.
func New(cfg *config.Config, targets launch.Targets, selected mode.RuntimeMode) *Doctor {
	cwd, _ := os.Getwd()
	return &Doctor{
		cfg:      cfg,
		targets:  targets,
		selected: selected,
		cwd:      cwd,
		resolve:  launch.Resolve,
		lookPath: exec.LookPath,
		checkFS:  storage.CheckLocal,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true, Mode: d.selected.String()}

	d.validateTargets(r)
	d.validateWebScript(r)
	d.validateWebConfig(r)
	d.validateLockingFilesystems(r)
	d.warnMissingActions(r)
	d.warnOpenProductionBind(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// addFor records an error when m is the selected mode, otherwise a warning.
func (d *Doctor) addFor(r *Result, m mode.RuntimeMode, category, field, msg string) {
	if m == d.selected {
		d.addError(r, category, field, msg)
		return
	}
	d.addWarning(r, category, field, msg)
}

// validateTargets checks that each collaborator resolves on PATH.
func (d *Doctor) validateTargets(r *Result) {
	for _, m := range mode.All {
		t, err := d.targets.For(m)
		if err != nil {
			d.addError(r, "targets", m.String(), err.Error())
			continue
		}
		if _, err := d.resolve(t); err != nil {
			d.addFor(r, m, "targets", m.String(),
				fmt.Sprintf("%s target %q cannot be launched: %v", m, t.Path, err))
		}
	}
}

// validateWebScript checks that the web target's script exists relative to
// the directory it will be launched from.
func (d *Doctor) validateWebScript(r *Result) {
	t := d.targets.Web
	if len(t.Args) == 0 {
		return
	}
	script := t.Args[0]
	if !filepath.IsAbs(script) {
		dir := t.Dir
		if dir == "" {
			dir = d.cwd
		}
		script = filepath.Join(dir, script)
	}
	info, err := os.Stat(script)
	switch {
	case err != nil:
		d.addFor(r, mode.Web, "targets", "web.script", fmt.Sprintf("web script %s not found", script))
	case info.IsDir():
		d.addFor(r, mode.Web, "targets", "web.script", fmt.Sprintf("web script %s is a directory", script))
	}
}

// validateWebConfig checks directories the web server depends on.
func (d *Doctor) validateWebConfig(r *Result) {
	if d.cfg == nil {
		d.addError(r, "config", "", "no configuration loaded")
		return
	}
	checkDir := func(field, path string) {
		info, err := os.Stat(path)
		if err != nil {
			d.addFor(r, mode.Web, "config", field, fmt.Sprintf("%s does not exist", path))
			return
		}
		if !info.IsDir() {
			d.addFor(r, mode.Web, "config", field, fmt.Sprintf("%s is not a directory", path))
		}
	}
	checkDir("web.work_dir", d.cfg.Web.WorkDir)
	checkDir("web.home", d.cfg.Web.Home)

	stateDir := filepath.Dir(d.cfg.State.Path)
	if d.cfg.State.Path != ":memory:" {
		if _, err := os.Stat(stateDir); err != nil {
			d.addWarning(r, "config", "state.path", fmt.Sprintf("%s does not exist yet; it will be created", stateDir))
		}
	}
}

// validateLockingFilesystems checks that the run-history database and the
// run lock are not on a network mount.
func (d *Doctor) validateLockingFilesystems(r *Result) {
	if d.cfg == nil {
		return
	}
	for _, loc := range []storage.Location{
		storage.RunHistory(d.cfg.State.Path),
		storage.RunLock(d.cfg.Web.LockPath),
	} {
		err := d.checkFS(loc)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrNetworkFilesystem):
			d.addFor(r, mode.Web, "storage", loc.Setting, err.Error())
		default:
			d.addWarning(r, "storage", loc.Setting, fmt.Sprintf("could not inspect filesystem: %v", err))
		}
	}
}

// warnMissingActions reports page actions whose executables are not installed.
func (d *Doctor) warnMissingActions(r *Result) {
	for _, spec := range runner.Actions {
		if _, err := d.lookPath(spec.Executable); err != nil {
			d.addWarning(r, "actions", string(spec.Action),
				fmt.Sprintf("%s not found on PATH; the %s button will fail", spec.Executable, spec.Action))
		}
	}
}

func (d *Doctor) warnOpenProductionBind(r *Result) {
	if d.cfg == nil || !d.cfg.Web.Production || d.cfg.Web.APIKey != "" {
		return
	}
	d.addWarning(r, "web", "web.api_key", "web server binds 0.0.0.0 without an api_key")
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		fmt.Fprintf(&b, "Environment ready for %s mode.\n", r.Mode)
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Environment ready for %s mode (%d warning(s))\n", r.Mode, len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Environment not ready for %s mode (%d error(s), %d warning(s))\n", r.Mode, len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
