package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/airsenal-launcher/internal/launch"
	"github.com/mattjoyce/airsenal-launcher/internal/log"
	"github.com/mattjoyce/airsenal-launcher/internal/runlog"
	"github.com/mattjoyce/airsenal-launcher/internal/storage"
)

func TestMain(m *testing.M) {
	log.SetupWriter("error", io.Discard)
	os.Exit(m.Run())
}

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func captureCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

// stubLauncher records the target dispatch would have launched.
func stubLauncher(t *testing.T, code launch.ExitCode, err error) *[]launch.Target {
	t.Helper()
	var launched []launch.Target
	old := dispatchLauncher
	dispatchLauncher = func() launch.Launcher {
		return launch.LauncherFunc(func(_ context.Context, target launch.Target) (launch.ExitCode, error) {
			launched = append(launched, target)
			return code, err
		})
	}
	t.Cleanup(func() { dispatchLauncher = old })
	return &launched
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

// isolateEnv clears the variables config.Load overlays.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "RENDER", "AIRSENAL_HOME", "FPL_TEAM_ID", "LOG_LEVEL", "AIRSENAL_LAUNCHER_CONFIG"} {
		unsetEnv(t, key)
	}
}

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "launcher.yaml")
	body := "state:\n  path: " + filepath.Join(dir, "launcher.db") + "\n" +
		"web:\n  work_dir: " + dir + "\n  home: " + dir + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, dir
}

func TestDispatchSelectsTarget(t *testing.T) {
	tests := []struct {
		name     string
		runMode  *string
		wantArgv []string
	}{
		{name: "pipeline", runMode: strPtr("pipeline"), wantArgv: []string{"airsenal_run_pipeline"}},
		{name: "unset", runMode: nil, wantArgv: []string{"python", "web_app.py"}},
		{name: "empty", runMode: strPtr(""), wantArgv: []string{"python", "web_app.py"}},
		{name: "case differs", runMode: strPtr("Pipeline"), wantArgv: []string{"python", "web_app.py"}},
		{name: "padded", runMode: strPtr(" pipeline"), wantArgv: []string{"python", "web_app.py"}},
		{name: "web", runMode: strPtr("web"), wantArgv: []string{"python", "web_app.py"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.runMode == nil {
				unsetEnv(t, "RUN_MODE")
			} else {
				t.Setenv("RUN_MODE", *tt.runMode)
			}
			launched := stubLauncher(t, launch.ExitOK, nil)

			code, _, _ := captureCLI(t)

			assert.Equal(t, 0, code)
			require.Len(t, *launched, 1)
			assert.Equal(t, tt.wantArgv, (*launched)[0].Argv())
		})
	}
}

func TestDispatchPropagatesExitCode(t *testing.T) {
	t.Setenv("RUN_MODE", "pipeline")
	stubLauncher(t, launch.ExitCode(3), nil)

	code, _, _ := captureCLI(t, "dispatch")
	assert.Equal(t, 3, code)
}

func TestDispatchLaunchFailure(t *testing.T) {
	t.Setenv("RUN_MODE", "pipeline")
	launchErr := &launch.LaunchError{Target: "pipeline", Path: "airsenal_run_pipeline", Code: launch.ExitNotFound, Err: errors.New("not found")}
	launched := stubLauncher(t, launch.ExitNotFound, launchErr)

	code, _, stderr := captureCLI(t)

	assert.Equal(t, 127, code)
	assert.Len(t, *launched, 1, "no fallback to the web target")
	assert.Contains(t, stderr, "airsenal-launcher:")
}

func TestDispatchRejectsArguments(t *testing.T) {
	launched := stubLauncher(t, launch.ExitOK, nil)

	code, _, stderr := captureCLI(t, "dispatch", "extra")

	assert.Equal(t, 1, code)
	assert.Empty(t, *launched)
	assert.Contains(t, stderr, "Usage")
}

func TestModeJSON(t *testing.T) {
	t.Setenv("RUN_MODE", "pipeline")

	code, stdout, _ := captureCLI(t, "mode", "--json")
	require.Equal(t, 0, code)

	var info modeInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, "pipeline", info.Mode)
	assert.Equal(t, "pipeline", info.RunMode)
	assert.True(t, info.RunModeSet)
	assert.Equal(t, "airsenal_run_pipeline", info.Target)
	assert.Equal(t, 10000, info.AdvisoryPort)
}

func TestModeHumanUnset(t *testing.T) {
	unsetEnv(t, "RUN_MODE")

	code, stdout, _ := captureCLI(t, "mode")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "mode:     web")
	assert.Contains(t, stdout, "(unset)")
	assert.Contains(t, stdout, "python web_app.py")
}

func TestVersionJSON(t *testing.T) {
	code, stdout, _ := captureCLI(t, "version", "--json")
	require.Equal(t, 0, code)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, version, info.Version)
	assert.NotEmpty(t, info.Commit)
}

func TestVersionRejectsArgs(t *testing.T) {
	code, _, stderr := captureCLI(t, "version", "now")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage")
}

func TestHelpAndUnknown(t *testing.T) {
	code, stdout, _ := captureCLI(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "RUN_MODE")

	code, _, stderr := captureCLI(t, "bogus")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: bogus")
}

func TestRunsEmptyJSON(t *testing.T) {
	isolateEnv(t)
	cfgPath, _ := writeConfig(t)

	code, stdout, stderr := captureCLI(t, "runs", "--config", cfgPath, "--json")
	require.Equal(t, 0, code, stderr)
	assert.JSONEq(t, `[]`, stdout)
}

func TestRunsTable(t *testing.T) {
	isolateEnv(t)
	cfgPath, dir := writeConfig(t)

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(dir, "launcher.db"))
	require.NoError(t, err)
	store := runlog.New(db)
	id, err := store.Start(ctx, runlog.StartRequest{Action: "optimize", Argv: []string{"airsenal_run_optimization"}, SubmittedBy: "web"})
	require.NoError(t, err)
	code := 1
	require.NoError(t, store.Complete(ctx, id, runlog.CompleteRequest{Status: runlog.StatusFailed, ExitCode: &code}))
	require.NoError(t, db.Close())

	exit, stdout, stderr := captureCLI(t, "runs", "--config", cfgPath)
	require.Equal(t, 0, exit, stderr)
	assert.Contains(t, stdout, "ACTION")
	assert.Contains(t, stdout, "optimize")
	assert.Contains(t, stdout, "failed")
	assert.Contains(t, stdout, id)
}

func TestRunsBadConfig(t *testing.T) {
	isolateEnv(t)

	code, _, stderr := captureCLI(t, "runs", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Failed to load config")
}

func TestCheckJSON(t *testing.T) {
	isolateEnv(t)
	t.Setenv("RUN_MODE", "pipeline")
	cfgPath, _ := writeConfig(t)

	code, stdout, _ := captureCLI(t, "check", "--config", cfgPath, "--json")

	var result struct {
		Valid bool   `json:"valid"`
		Mode  string `json:"mode"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result), stdout)
	assert.Equal(t, "pipeline", result.Mode)
	if result.Valid {
		assert.Equal(t, 0, code)
	} else {
		assert.Equal(t, 1, code)
	}
}

func TestCheckHuman(t *testing.T) {
	isolateEnv(t)
	cfgPath, _ := writeConfig(t)

	_, stdout, _ := captureCLI(t, "check", "--config", cfgPath)
	assert.True(t, strings.Contains(stdout, "Environment"), stdout)
}

func TestThemeReportKeepsLines(t *testing.T) {
	out := newTheme().report("Environment not ready for web mode (1 error(s), 0 warning(s))\n  ERROR [targets] web: missing\n", false)
	assert.Contains(t, out, "ERROR [targets] web: missing")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func strPtr(s string) *string { return &s }
