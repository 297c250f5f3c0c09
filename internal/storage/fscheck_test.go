package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFS(fsType string) func(string) (string, error) {
	return func(string) (string, error) { return fsType, nil }
}

func TestCheckLocal_RunLockOnNetworkMount(t *testing.T) {
	t.Parallel()

	loc := RunLock(filepath.Join(t.TempDir(), "airsenal-launcher.lock"))
	err := checkLocalWith(loc, fixedFS("nfs"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetworkFilesystem)

	var mountErr *NetworkMountError
	require.True(t, errors.As(err, &mountErr))
	assert.Equal(t, "web.lock_path", mountErr.Location.Setting)
	assert.Equal(t, "nfs", mountErr.FSType)
	assert.Contains(t, err.Error(), "flock locking is unreliable")
	assert.Contains(t, err.Error(), "AIRSENAL_HOME")
}

func TestCheckLocal_RunHistoryOnNetworkMount(t *testing.T) {
	t.Parallel()

	loc := RunHistory(filepath.Join(t.TempDir(), "airsenal-launcher.db"))
	err := checkLocalWith(loc, fixedFS("CIFS"))
	require.ErrorIs(t, err, ErrNetworkFilesystem)
	assert.Contains(t, err.Error(), "state.path")
	assert.Contains(t, err.Error(), "sqlite locking is unreliable")
}

func TestCheckLocal_LocalDiskPasses(t *testing.T) {
	t.Parallel()

	for _, loc := range []Location{
		RunHistory(filepath.Join(t.TempDir(), "airsenal-launcher.db")),
		RunLock(filepath.Join(t.TempDir(), "airsenal-launcher.lock")),
	} {
		assert.NoError(t, checkLocalWith(loc, fixedFS("0xef53")), loc.Setting)
	}
}

func TestCheckLocal_SkipsUninspectablePaths(t *testing.T) {
	t.Parallel()

	called := false
	detect := func(string) (string, error) {
		called = true
		return "nfs", nil
	}
	assert.NoError(t, checkLocalWith(RunHistory(":memory:"), detect))
	assert.NoError(t, checkLocalWith(RunLock(""), detect))
	assert.False(t, called, "detector must not run for :memory: or disabled lock")
}

func TestCheckLocal_UnsupportedPlatformPasses(t *testing.T) {
	t.Parallel()

	detect := func(string) (string, error) { return "", errFilesystemDetectionUnsupported }
	assert.NoError(t, checkLocalWith(RunLock(filepath.Join(t.TempDir(), "x.lock")), detect))
}

func TestCheckLocal_DetectorFailureNamesSetting(t *testing.T) {
	t.Parallel()

	detect := func(string) (string, error) { return "", errors.New("statfs: permission denied") }
	err := checkLocalWith(RunLock(filepath.Join(t.TempDir(), "x.lock")), detect)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNetworkFilesystem)
	assert.Contains(t, err.Error(), "web.lock_path")
}

func TestCheckLocal_InspectsHomeBeforeFilesExist(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	var inspected string
	detect := func(path string) (string, error) {
		inspected = path
		return "0xef53", nil
	}
	require.NoError(t, checkLocalWith(RunHistory(filepath.Join(home, "state", "airsenal-launcher.db")), detect))
	assert.Equal(t, home, inspected)
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"nfs":     true,
		" SMB2 ":  true,
		"webdav":  true,
		"0xef53":  false,
		"apfs":    false,
		"overlay": false,
	}
	for fs, want := range cases {
		assert.Equal(t, want, isNetworkFilesystem(fs), fs)
	}
}
