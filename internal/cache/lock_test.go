package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTryLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.lock")

	first, err := TryLock(path)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	defer first.Release()

	if _, err := TryLock(path); err == nil {
		t.Fatalf("TryLock on an already-held lock succeeded, want error")
	}
}

func TestLockReleaseThenReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.lock")

	l, err := TryLock(path)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	l2, err := TryLock(path)
	if err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	l2.Release()
}

func TestLockCreatesParentDirs(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "locks", "ab", "abcdef.lock")

	l, err := TryLock(path)
	if err != nil {
		t.Fatalf("TryLock on a non-existent parent dir: %v", err)
	}
	defer l.Release()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}

	waitPath := filepath.Join(root, "locks", "cd", "cdef01.lock")
	l2, err := LockWait(waitPath)
	if err != nil {
		t.Fatalf("LockWait on a non-existent parent dir: %v", err)
	}
	l2.Release()
}

func TestLockReleaseIdempotent(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Fatalf("Release on nil lock: %v", err)
	}

	path := filepath.Join(t.TempDir(), "artifact.lock")
	l2, err := TryLock(path)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if err := l2.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := l2.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}
