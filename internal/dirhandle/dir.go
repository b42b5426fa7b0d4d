// Package dirhandle wraps a filesystem path together with an opened
// *os.File directory handle, so a Compilation can pass a stable,
// already-open directory to child processes (e.g. as a working
// directory or an fd to pin against renames) without repeatedly
// re-resolving the path.
package dirhandle

import (
	"fmt"
	"os"
)

// Handle is a path plus its opened directory descriptor.
type Handle struct {
	Path string
	f    *os.File
}

// Open opens the directory at path, creating it first if it doesn't exist.
func Open(path string) (*Handle, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("dirhandle: mkdir %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dirhandle: open %s: %w", path, err)
	}
	return &Handle{Path: path, f: f}, nil
}

// Close releases the underlying directory descriptor.
func (h *Handle) Close() error {
	if h == nil || h.f == nil {
		return nil
	}
	err := h.f.Close()
	h.f = nil
	return err
}

// Join resolves a relative sub-path against this handle's directory.
func (h *Handle) Join(elems ...string) string {
	full := append([]string{h.Path}, elems...)
	return joinPath(full)
}

func joinPath(elems []string) string {
	out := elems[0]
	for _, e := range elems[1:] {
		out += string(os.PathSeparator) + e
	}
	return out
}
