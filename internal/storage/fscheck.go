package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem matches a *NetworkMountError with errors.Is.
var ErrNetworkFilesystem = errors.New("path is on a network filesystem")

// errFilesystemDetectionUnsupported is returned by detectFilesystemType on
// platforms without a statfs implementation. CheckLocal treats it as a pass.
var errFilesystemDetectionUnsupported = errors.New("filesystem detection is unsupported on this platform")

// Mount types where sqlite file locking and flock(2) cannot be trusted.
var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// Location is a file under AIRSENAL_HOME whose correctness depends on local
// file locking. Setting is the config key that moves it.
type Location struct {
	Setting string
	Path    string
	Locking string
}

// RunHistory is the sqlite run-history database.
func RunHistory(path string) Location {
	return Location{Setting: "state.path", Path: path, Locking: "sqlite"}
}

// RunLock is the flock file that keeps commands one at a time.
func RunLock(path string) Location {
	return Location{Setting: "web.lock_path", Path: path, Locking: "flock"}
}

// NetworkMountError reports a Location that lives on a network mount.
type NetworkMountError struct {
	Location Location
	FSType   string
}

func (e *NetworkMountError) Error() string {
	return fmt.Sprintf("%s %q is on network filesystem %q where %s locking is unreliable; point %s (or AIRSENAL_HOME) at local disk",
		e.Location.Setting, e.Location.Path, e.FSType, e.Location.Locking, e.Location.Setting)
}

func (e *NetworkMountError) Is(target error) bool {
	return target == ErrNetworkFilesystem
}

// CheckLocal returns a *NetworkMountError if loc would be created on a
// network mount. Empty and :memory: paths, and platforms without statfs,
// always pass.
func CheckLocal(loc Location) error {
	return checkLocalWith(loc, detectFilesystemType)
}

func checkLocalWith(loc Location, detect func(string) (string, error)) error {
	if loc.Path == "" || loc.Path == ":memory:" {
		return nil
	}

	dir, err := existingAncestor(loc.Path)
	if err != nil {
		return fmt.Errorf("%s: %w", loc.Setting, err)
	}

	fsType, err := detect(dir)
	if errors.Is(err, errFilesystemDetectionUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: detect filesystem for %q: %w", loc.Setting, dir, err)
	}

	if isNetworkFilesystem(fsType) {
		return &NetworkMountError{Location: loc, FSType: fsType}
	}
	return nil
}

// existingAncestor walks up from path to the first entry that exists. The
// database and lock files are created lazily, so their directory is what
// gets mounted.
func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	for {
		_, statErr := os.Stat(p)
		switch {
		case statErr == nil:
			return p, nil
		case !errors.Is(statErr, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", p, statErr)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		p = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return found
}
