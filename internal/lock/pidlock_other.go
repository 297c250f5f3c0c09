//go:build !unix

package lock

import "errors"

// ErrHeld is returned when another process or run already holds the lock.
var ErrHeld = errors.New("lock is held")

var errUnsupported = errors.New("file locks are unsupported on this platform")

// PIDLock is unavailable without flock(2).
type PIDLock struct{ path string }

func AcquirePIDLock(lockPath string) (*PIDLock, error) { return nil, errUnsupported }

func ReadHolder(lockPath string) (int, bool) { return 0, false }

func (l *PIDLock) Path() string { return l.path }

func (l *PIDLock) Release() error { return nil }
