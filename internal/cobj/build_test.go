package cobj

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"forge/internal/cache"
)

// writeFakeClang installs a shell script standing in for clang: it
// creates the object file named by "-o" and appends one line to
// callLog every time it runs, so tests can assert whether a cache hit
// skipped the child-process invocation entirely.
func writeFakeClang(t *testing.T, dir, callLog string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-clang.sh")
	script := fmt.Sprintf(`#!/bin/sh
echo run >> %q
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-o" ]; then
    out="$arg"
  fi
  prev="$arg"
done
if [ -n "$out" ]; then
  touch "$out"
fi
`, callLog)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake clang: %v", err)
	}
	return path
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

func TestBuildMissThenHitSkipsSecondInvocation(t *testing.T) {
	dir := t.TempDir()
	callLog := filepath.Join(dir, "calls.log")
	clangPath := writeFakeClang(t, dir, callLog)

	srcPath := filepath.Join(dir, "main.c")
	if err := os.WriteFile(srcPath, []byte("int main(){return 0;}"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	store, err := cache.Open(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}

	newCfg := func() BuildConfig {
		return BuildConfig{
			Store:     store,
			ClangPath: clangPath,
			Target:    linuxTarget(),
			BaseHash:  map[string]string{"target": "x86_64-linux-gnu"},
			Args:      CCArgsInput{Kind: KindC, Target: linuxTarget()},
			OutDir:    dir,
			RootName:  "main",
			ObjectExt: ".o",
		}
	}

	slot := NewSlot(srcPath, nil)
	if err := Build(newCfg(), slot); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	if slot.Status != StatusSuccess {
		t.Fatalf("Status after first Build = %v, want StatusSuccess", slot.Status)
	}
	if got := countLines(t, callLog); got != 1 {
		t.Fatalf("compiler invocations after first Build = %d, want 1", got)
	}
	firstObjectPath := slot.ObjectPath
	slot.Lock.Release()

	slot2 := NewSlot(srcPath, nil)
	if err := Build(newCfg(), slot2); err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if slot2.Status != StatusSuccess {
		t.Fatalf("Status after second Build = %v, want StatusSuccess", slot2.Status)
	}
	if got := countLines(t, callLog); got != 1 {
		t.Fatalf("compiler invocations after second (cached) Build = %d, want still 1", got)
	}
	if slot2.ObjectPath != firstObjectPath {
		t.Fatalf("ObjectPath changed across a cache hit: %q != %q", slot2.ObjectPath, firstObjectPath)
	}
	slot2.Lock.Release()
}

func TestBuildRecordsFailureOnNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	failingClang := filepath.Join(dir, "failing-clang.sh")
	if err := os.WriteFile(failingClang, []byte("#!/bin/sh\necho boom 1>&2\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("write failing clang: %v", err)
	}

	srcPath := filepath.Join(dir, "main.c")
	if err := os.WriteFile(srcPath, []byte("broken"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	store, err := cache.Open(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}

	cfg := BuildConfig{
		Store:     store,
		ClangPath: failingClang,
		Target:    linuxTarget(),
		BaseHash:  map[string]string{"target": "x86_64-linux-gnu"},
		Args:      CCArgsInput{Kind: KindC, Target: linuxTarget()},
		OutDir:    dir,
		RootName:  "main",
		ObjectExt: ".o",
	}

	slot := NewSlot(srcPath, nil)
	if err := Build(cfg, slot); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if slot.Status != StatusFailure {
		t.Fatalf("Status = %v, want StatusFailure", slot.Status)
	}
	if slot.Message == "" {
		t.Fatalf("expected a failure message")
	}
}
