package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Lock is a cross-process exclusive file lock scoped to one artifact
// digest. Its lifetime is meant to be coupled to the struct that owns
// the artifact (a CRTFile or a C-object Success payload): the lock is
// released when that owner is destroyed, guaranteeing no concurrent
// Compilation can overwrite the artifact while a consumer holds it.
//
// Uses golang.org/x/sys/unix.Flock directly rather than a higher-level
// file-locking library, since a raw flock wrapper is all this needs.
type Lock struct {
	path string
	f    *os.File
}

// TryLock acquires an exclusive, non-blocking lock on path, creating
// the lock file if necessary. It returns an error immediately if
// another process already holds the lock instead of blocking.
func TryLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cache: mkdir lock dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cache: open lock %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("cache: lock %s: %w", path, err)
	}
	return &Lock{path: path, f: f}, nil
}

// LockWait acquires an exclusive lock on path, blocking until it is available.
func LockWait(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cache: mkdir lock dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cache: open lock %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("cache: lock %s: %w", path, err)
	}
	return &Lock{path: path, f: f}, nil
}

// Release unlocks and closes the underlying file descriptor. It is
// safe to call on a nil Lock or to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return err
	}
	return closeErr
}

// Path returns the filesystem path backing this lock.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}
