//go:build unix

package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/mattjoyce/airsenal-launcher/internal/lock"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.GracePeriod == 0 {
		opts.GracePeriod = time.Second
	}
	return New(opts)
}

func TestRunCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "hello", `echo "weeks=$2"; echo "warn" >&2`)

	r := newTestRunner(t, Options{})
	res, err := r.Run(context.Background(), Request{RunID: "r1", Argv: []string{script, "--weeks_ahead", "3"}})
	require.NoError(t, err)

	assert.True(t, res.Succeeded())
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "weeks=3\n", res.Stdout)
	assert.Equal(t, "warn\n", res.Stderr)
	assert.False(t, res.TimedOut)
}

func TestRunNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "fail", `echo "db locked" >&2; exit 2`)

	res, err := newTestRunner(t, Options{}).Run(context.Background(), Request{Argv: []string{script}})
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "db locked\n", res.Stderr)
}

func TestRunUsesWorkDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	work := t.TempDir()
	script := writeScript(t, dir, "env", `pwd; echo "$AIRSENAL_HOME"; echo "$FPL_TEAM_ID"`)

	r := newTestRunner(t, Options{WorkDir: work, Home: "/data/home"})
	res, err := r.Run(context.Background(), Request{Argv: []string{script}, TeamID: "998877"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	require.Len(t, lines, 3)
	wantDir, _ := filepath.EvalSymlinks(work)
	gotDir, _ := filepath.EvalSymlinks(lines[0])
	assert.Equal(t, wantDir, gotDir)
	assert.Equal(t, "/data/home", lines[1])
	assert.Equal(t, "998877", lines[2])

	_, set := os.LookupEnv("FPL_TEAM_ID")
	if set {
		assert.NotEqual(t, "998877", os.Getenv("FPL_TEAM_ID"), "team id must not leak into the server environment")
	}
}

func TestRunTimeout(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "slow", "exec sleep 30")

	r := newTestRunner(t, Options{Timeout: 200 * time.Millisecond})
	start := time.Now()
	res, err := r.Run(context.Background(), Request{Argv: []string{script}})
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.False(t, res.Succeeded())
	assert.Equal(t, 128+15, res.ExitCode)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunIgnoresSIGTERMThenKilled(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "stubborn", `trap '' TERM; while :; do sleep 1; done`)

	r := newTestRunner(t, Options{Timeout: 200 * time.Millisecond, GracePeriod: 300 * time.Millisecond})
	res, err := r.Run(context.Background(), Request{Argv: []string{script}})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, 128+9, res.ExitCode)
}

// pidAlive treats an unreaped zombie as dead.
func pidAlive(pid int) bool {
	if unix.Kill(pid, 0) != nil {
		return false
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return true
	}
	i := strings.LastIndexByte(string(data), ')')
	return i < 0 || i+2 >= len(data) || data[i+2] != 'Z'
}

func readPID(t *testing.T, path string) int {
	t.Helper()
	var pid int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil && pid > 0
	}, 2*time.Second, 10*time.Millisecond)
	return pid
}

func TestRunTimeoutKillsForkedWorkers(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "worker.pid")
	lockPath := filepath.Join(dir, "run.lock")
	script := writeScript(t, dir, "forks", `sleep 6 & echo $! > "`+pidFile+`"; sleep 6`)

	r := newTestRunner(t, Options{
		Timeout:     200 * time.Millisecond,
		GracePeriod: 200 * time.Millisecond,
		LockPath:    lockPath,
	})
	start := time.Now()
	res, err := r.Run(context.Background(), Request{Argv: []string{script}})
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 3*time.Second)

	worker := readPID(t, pidFile)
	assert.Eventually(t, func() bool { return !pidAlive(worker) }, 2*time.Second, 20*time.Millisecond,
		"forked worker %d survived the timeout", worker)

	held, err := lock.AcquirePIDLock(lockPath)
	require.NoError(t, err, "run lock must be free after the timeout")
	require.NoError(t, held.Release())
}

func TestRunReapsWorkersHoldingOutput(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "worker.pid")
	script := writeScript(t, dir, "leaks", `sleep 6 & echo $! > "`+pidFile+`"; echo done`)

	r := newTestRunner(t, Options{GracePeriod: 300 * time.Millisecond})
	start := time.Now()
	res, err := r.Run(context.Background(), Request{Argv: []string{script}})
	require.NoError(t, err)

	assert.True(t, res.Succeeded())
	assert.Equal(t, "done\n", res.Stdout)
	assert.Less(t, time.Since(start), 3*time.Second)

	worker := readPID(t, pidFile)
	assert.Eventually(t, func() bool { return !pidAlive(worker) }, 2*time.Second, 20*time.Millisecond)
}

func TestRunStartFailure(t *testing.T) {
	r := newTestRunner(t, Options{})
	res, err := r.Run(context.Background(), Request{Argv: []string{"airsenal-launcher-no-such-command"}})
	require.Error(t, err)
	assert.Nil(t, res)
}

func TestRunEmptyArgv(t *testing.T) {
	_, err := newTestRunner(t, Options{}).Run(context.Background(), Request{})
	assert.Error(t, err)
}

func TestRunBusyWhenLockHeld(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "run.lock")
	script := writeScript(t, dir, "ok", "echo ok")

	held, err := lock.AcquirePIDLock(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = held.Release() })

	r := newTestRunner(t, Options{LockPath: lockPath})
	_, err = r.Run(context.Background(), Request{Argv: []string{script}})
	assert.True(t, errors.Is(err, ErrBusy))

	require.NoError(t, held.Release())
	res, err := r.Run(context.Background(), Request{Argv: []string{script}})
	require.NoError(t, err)
	assert.Equal(t, "ok\n", res.Stdout)
}

func TestRunStartedHook(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "run.lock")
	script := writeScript(t, dir, "ok", "echo ok")
	r := newTestRunner(t, Options{LockPath: lockPath})

	calls := 0
	started := func() { calls++ }

	_, err := r.Run(context.Background(), Request{Argv: []string{script}, Started: started})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	held, err := lock.AcquirePIDLock(lockPath)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), Request{Argv: []string{script}, Started: started})
	require.ErrorIs(t, err, ErrBusy)
	require.NoError(t, held.Release())

	_, err = r.Run(context.Background(), Request{Argv: []string{"airsenal-launcher-no-such-command"}, Started: started})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "busy and failed starts must not report a start")
}

func TestRunTruncatesOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "chatty", `i=0; while [ $i -lt 200 ]; do echo "line $i"; i=$((i+1)); done`)

	r := newTestRunner(t, Options{MaxOutputBytes: 64})
	res, err := r.Run(context.Background(), Request{Argv: []string{script}})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Stdout, truncatedMarker))
	assert.Equal(t, 64+len(truncatedMarker), len(res.Stdout))
}
