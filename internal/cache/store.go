// Package cache implements the content-addressed cache manifest and
// artifact lock (components B and C): a per-artifact hash transaction
// that decides cache hit/miss, records file dependencies, and holds a
// cross-process lock over the winning artifact directory.
//
// Built on github.com/gophersatwork/granular for the underlying
// content-addressed store (KeyBuilder/Cache/Result/WriteBuilder), with
// an obtain/hit/unhit/final transaction shape layered on top of it that
// granular's API does not natively expose: granular only computes a
// key hash lazily when a Key is used, with no way to snapshot an
// in-progress KeyBuilder and roll it back. Manifest buffers its input
// descriptors and defers building a granular KeyBuilder until Hit/Final
// actually need a digest, so peekBin/unhit become "record/rewind the
// length of the buffered input slice".
package cache

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/gophersatwork/granular"
)

// Store owns one granular.Cache rooted at a local-cache directory and
// the lock files that guard artifact digests within it.
type Store struct {
	g    *granular.Cache
	root string
}

// Open opens (creating if necessary) a content-addressed cache rooted
// at dir, matching the driver's `<local-cache>/h` and `<local-cache>/o`
// layout (granular calls these "manifests" and "objects").
func Open(dir string) (*Store, error) {
	g, err := granular.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", dir, err)
	}
	return &Store{g: g, root: dir}, nil
}

// LockPath returns the path of the artifact lock file for a digest.
func (s *Store) LockPath(digest string) string {
	prefix := digest
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(s.root, "locks", prefix, digest+".lock")
}

// ObjectPath predicts the path granular will copy a committed output
// file to for a given digest and basename, mirroring granular's own
// "<root>/objects/<hash[:2]>/<hash>/<basename>" layout (granular
// preserves the source file's basename on Commit but never exposes the
// resulting path directly, so callers that need to know it ahead of
// time — to populate a Success slot before Commit runs — predict it
// here instead of parsing granular's WriteBuilder internals).
func (s *Store) ObjectPath(digest, basename string) string {
	prefix := digest
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(s.root, "objects", prefix, digest, basename)
}

// Clear empties the entire cache, matching a `forgec cache clear` invocation.
func (s *Store) Clear() error {
	return s.g.Clear()
}

// Obtain begins a manifest transaction seeded with the compilation's
// common base hash fields: compiler version, lib directory, optimize
// mode, target facts, and so on, passed as a flat string map so
// callers can build it however is convenient.
func (s *Store) Obtain(base map[string]string) *Manifest {
	return &Manifest{store: s, base: base}
}

type inputKind int

const (
	inputBytes inputKind = iota
	inputFile
)

type inputDesc struct {
	kind  inputKind
	bytes []byte
	path  string
}

// Manifest accumulates the inputs of one cache transaction and, once
// finalized, exposes the digest and an owned artifact Lock.
type Manifest struct {
	store  *Store
	base   map[string]string
	inputs []inputDesc

	digest string
	lock   *Lock
	result *granular.Result
}

// AddBytes folds raw bytes into the manifest hash.
func (m *Manifest) AddBytes(b []byte) {
	m.digest = ""
	m.inputs = append(m.inputs, inputDesc{kind: inputBytes, bytes: append([]byte(nil), b...)})
}

// AddFile registers a file dependency: its content is folded into the
// hash the next time the manifest's digest is computed.
func (m *Manifest) AddFile(path string) {
	m.digest = ""
	m.inputs = append(m.inputs, inputDesc{kind: inputFile, path: path})
}

// AddDepFilePost reads a Makefile-style dependency file produced by
// the child compiler and folds every file it lists into the manifest.
func (m *Manifest) AddDepFilePost(dir, basename string) error {
	deps, err := ParseDepFile(filepath.Join(dir, basename))
	if err != nil {
		return fmt.Errorf("cache: read dep file: %w", err)
	}
	for _, dep := range deps {
		m.AddFile(dep)
	}
	return nil
}

// PeekBin snapshots the current input count so an optimistic Hit can
// be rolled back with Unhit.
func (m *Manifest) PeekBin() int {
	return len(m.inputs)
}

// Unhit restores a snapshot taken by PeekBin, truncating the input
// list back to that point and releasing any lock a disproved Hit
// acquired. nFiles is asserted against the snapshot for consistency
// with callers that track the two independently.
func (m *Manifest) Unhit(prevState, nFiles int) {
	if prevState != nFiles {
		panic(fmt.Sprintf("cache: unhit state/file-count mismatch: %d != %d", prevState, nFiles))
	}
	if m.lock != nil {
		m.lock.Release()
		m.lock = nil
	}
	m.inputs = m.inputs[:prevState]
	m.digest = ""
	m.result = nil
}

func (m *Manifest) buildKey() granular.Key {
	kb := m.store.g.Key()
	for _, in := range m.inputs {
		switch in.kind {
		case inputBytes:
			kb = kb.Bytes(in.bytes)
		case inputFile:
			kb = kb.File(in.path)
		}
	}
	keys := make([]string, 0, len(m.base))
	for k := range m.base {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kb = kb.String(k, m.base[k])
	}
	return kb.Build()
}

// Hit computes the manifest's digest from its current inputs and
// reports whether a matching artifact already exists in the cache. On
// a hit, it acquires the artifact's lock so the caller may safely read
// the cached files.
func (m *Manifest) Hit() (bool, error) {
	key := m.buildKey()
	digest := key.Hash()
	if digest == "" {
		return false, fmt.Errorf("cache: manifest has invalid inputs")
	}
	m.digest = digest

	res, err := m.store.g.Get(key)
	if errors.Is(err, granular.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: get %s: %w", digest, err)
	}

	lock, err := TryLock(m.store.LockPath(digest))
	if err != nil {
		return false, fmt.Errorf("cache: lock %s: %w", digest, err)
	}
	m.lock = lock
	m.result = res
	return true, nil
}

// Result returns the cached result from the most recent successful Hit.
func (m *Manifest) Result() *granular.Result {
	return m.result
}

// Digest returns the manifest's most recently computed digest, or the
// empty string if none has been computed yet.
func (m *Manifest) Digest() string {
	return m.digest
}

// Final computes the digest (if not already known from a prior Hit)
// and converts the manifest's held lock into an owned lock returned to
// the caller, blocking if necessary to acquire it.
func (m *Manifest) Final() (string, *Lock, error) {
	if m.digest == "" {
		key := m.buildKey()
		digest := key.Hash()
		if digest == "" {
			return "", nil, fmt.Errorf("cache: manifest has invalid inputs")
		}
		m.digest = digest
	}
	if m.lock == nil {
		lock, err := LockWait(m.store.LockPath(m.digest))
		if err != nil {
			return "", nil, fmt.Errorf("cache: lock %s: %w", m.digest, err)
		}
		m.lock = lock
	}
	lock := m.lock
	m.lock = nil
	return m.digest, lock, nil
}

// WriteManifest persists the produced output files (name -> path) and
// any metadata under this manifest's key, so a future Hit against the
// same inputs observes them.
func (m *Manifest) WriteManifest(outputs map[string]string, meta map[string]string) error {
	key := m.buildKey()
	wb := m.store.g.Put(key)
	for name, path := range outputs {
		wb = wb.File(name, path)
	}
	for k, v := range meta {
		wb = wb.Meta(k, v)
	}
	if err := wb.Commit(); err != nil {
		return fmt.Errorf("cache: write manifest: %w", err)
	}
	return nil
}
