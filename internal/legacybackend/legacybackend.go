// Package legacybackend implements the legacy back-end bridge: drives
// a monolithic external code generator that has no
// incremental-compilation support of its own, bridging it through a
// stable artifact directory plus a symlink-encoded digest+flags cache
// key.
//
// Uses the atomic-write pattern (os.CreateTemp + os.Rename) and
// vmihailenco/msgpack for compact binary payloads for the libs.txt
// sidecar: the exact quoting convention for a newline-separated
// libs.txt is otherwise unspecified, so this sidesteps the question
// entirely by persisting the discovered-library list as msgpack rather
// than delimited text.
package legacybackend

import (
	"fmt"
	"os"
	"path/filepath"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"

	"forge/internal/cache"
	"forge/internal/diagsink"
)

// Flags packs the small set of boolean/emit facts recorded alongside
// the digest in the stage1.id symlink target.
type Flags struct {
	Valgrind         bool
	SingleThreaded   bool
	HasOSVersionRange bool
	DllExportFns     bool
	FunctionSections bool
	IsTest           bool
	EmitBin          bool
	EmitH            bool
	EmitAsm          bool
	EmitLLVMIR       bool
	EmitAnalysis     bool
	EmitDocs         bool
}

const (
	flagValgrind = 1 << iota
	flagSingleThreaded
	flagHasOSVersionRange
	flagDllExportFns
	flagFunctionSections
	flagIsTest
	flagEmitBin
	flagEmitH
)

// Byte packs the flags into a single byte for the symlink target's
// trailing hex pair. Some rarely-combined emit flags are intentionally
// not represented; a cache hit under those flags degrades to a miss,
// which is safe (just slower), never incorrect.
func (f Flags) Byte() byte {
	var b byte
	if f.Valgrind {
		b |= flagValgrind
	}
	if f.SingleThreaded {
		b |= flagSingleThreaded
	}
	if f.HasOSVersionRange {
		b |= flagHasOSVersionRange
	}
	if f.DllExportFns {
		b |= flagDllExportFns
	}
	if f.FunctionSections {
		b |= flagFunctionSections
	}
	if f.IsTest {
		b |= flagIsTest
	}
	if f.EmitBin {
		b |= flagEmitBin
	}
	if f.EmitH {
		b |= flagEmitH
	}
	return b
}

func flagsFromByte(b byte) Flags {
	return Flags{
		Valgrind:          b&flagValgrind != 0,
		SingleThreaded:    b&flagSingleThreaded != 0,
		HasOSVersionRange: b&flagHasOSVersionRange != 0,
		DllExportFns:      b&flagDllExportFns != 0,
		FunctionSections:  b&flagFunctionSections != 0,
		IsTest:            b&flagIsTest != 0,
		EmitBin:           b&flagEmitBin != 0,
		EmitH:             b&flagEmitH != 0,
	}
}

// SystemLibs is the append-only, shared sequence of system libraries
// discovered by the legacy back-end. Indices into it are stable once
// assigned, satisfying the driver queue's monotonicity guarantee for
// WindowsImportLib(i) jobs.
type SystemLibs struct {
	names []string
	seen  map[string]bool
}

func NewSystemLibs() *SystemLibs {
	return &SystemLibs{seen: make(map[string]bool)}
}

// AddLinkLib inserts name if not already present; if this is a new
// entry and isWindows is true, enqueue is called with the new entry's
// index, so a WindowsImportLib job gets scheduled for it. The slot
// count is range-checked against uint32 before growing the table,
// matching the interned-table slot-index guard used elsewhere in
// this codebase.
func (s *SystemLibs) AddLinkLib(name string, isWindows bool, enqueue func(index int)) error {
	if s.seen[name] {
		return nil
	}
	if _, err := safecast.Conv[uint32](len(s.names)); err != nil {
		return fmt.Errorf("legacybackend: too many system libs: %w", err)
	}
	s.seen[name] = true
	idx := len(s.names)
	s.names = append(s.names, name)
	if isWindows && enqueue != nil {
		enqueue(idx)
	}
	return nil
}

func (s *SystemLibs) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// ExternalResult is what the opaque external "create + build_object"
// call reports back.
type ExternalResult struct {
	DiscoveredLibs []string
}

// Bridge drives one artifact directory's worth of legacy-back-end state.
type Bridge struct {
	Store       *cache.Store
	ArtifactDir string
	Libs        *SystemLibs
	Diags       *diagsink.Bag
}

func (b *Bridge) warnf(format string, args ...any) {
	b.Diags.Add(diagsink.Diagnostic{Severity: diagsink.SevWarning, Message: fmt.Sprintf(format, args...)})
}

func stage1IDPath(dir string) string { return filepath.Join(dir, "stage1.id") }
func libsTxtPath(dir string) string  { return filepath.Join(dir, "libs.txt") }

// Run executes the legacy-backend bridge algorithm: check the
// stage1.id symlink for a reusable cache hit, and on a miss invoke
// externalCompile — the opaque "create module + build_object" call —
// and persist the result. enqueueWindowsImportLib is forwarded to
// AddLinkLib for any newly discovered libraries.
func (b *Bridge) Run(mainSrcPath string, flags Flags, target string, isWindows bool, externalCompile func() (ExternalResult, error), enqueueWindowsImportLib func(index int)) (*cache.Lock, Flags, error) {
	manifest := b.Store.Obtain(map[string]string{
		"kind":   "legacy-backend",
		"target": target,
	})
	manifest.AddFile(mainSrcPath)
	manifest.AddBytes([]byte{flags.Byte()})

	prevState := manifest.PeekBin()

	hit, err := manifest.Hit()
	if err != nil {
		return nil, Flags{}, fmt.Errorf("legacybackend: manifest hit: %w", err)
	}

	if hit {
		unpacked := flags.EmitAsm || flags.EmitLLVMIR || flags.EmitAnalysis || flags.EmitDocs
		if !unpacked {
			if lock, gotFlags, ok := b.tryReuseSymlink(manifest); ok {
				return lock, gotFlags, nil
			}
		}
		manifest.Unhit(prevState, prevState)
	}

	os.Remove(stage1IDPath(b.ArtifactDir))

	result, err := externalCompile()
	if err != nil {
		return nil, Flags{}, &FatalError{Err: err}
	}
	for _, lib := range result.DiscoveredLibs {
		if err := b.Libs.AddLinkLib(lib, isWindows, enqueueWindowsImportLib); err != nil {
			return nil, Flags{}, &FatalError{Err: err}
		}
	}

	digest, lock, err := manifest.Final()
	if err != nil {
		return nil, Flags{}, fmt.Errorf("legacybackend: finalize manifest: %w", err)
	}

	if err := writeLibsTxt(libsTxtPath(b.ArtifactDir), result.DiscoveredLibs); err != nil {
		b.warnf("legacybackend: persist libs.txt: %v", err)
	}
	if err := writeStage1ID(b.ArtifactDir, digest, flags.Byte()); err != nil {
		b.warnf("legacybackend: persist stage1.id: %v", err)
	}
	if err := manifest.WriteManifest(nil, map[string]string{"target": target}); err != nil {
		b.warnf("legacybackend: write manifest: %v", err)
	}

	return lock, flags, nil
}

// tryReuseSymlink handles a manifest hit: validate the symlink
// target's digest prefix and, if it matches, replay the previously
// discovered libs and retain the lock.
func (b *Bridge) tryReuseSymlink(manifest *cache.Manifest) (*cache.Lock, Flags, bool) {
	digest := manifest.Digest()
	target, err := os.Readlink(stage1IDPath(b.ArtifactDir))
	if err != nil {
		return nil, Flags{}, false
	}
	if len(target) < len(digest)+2 || target[:len(digest)] != digest {
		return nil, Flags{}, false
	}
	flagsByte, err := parseHexByte(target[len(digest):])
	if err != nil {
		return nil, Flags{}, false
	}
	libs, err := readLibsTxt(libsTxtPath(b.ArtifactDir))
	if err != nil {
		return nil, Flags{}, false
	}
	for _, lib := range libs {
		if err := b.Libs.AddLinkLib(lib, false, nil); err != nil {
			return nil, Flags{}, false
		}
	}
	_, lock, err := manifest.Final()
	if err != nil {
		return nil, Flags{}, false
	}
	return lock, flagsFromByte(flagsByte), true
}

func writeStage1ID(dir, digest string, flagsByte byte) error {
	target := fmt.Sprintf("%s%02x", digest, flagsByte)
	path := stage1IDPath(dir)
	os.Remove(path)
	return os.Symlink(target, path)
}

func writeLibsTxt(path string, libs []string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "libs-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := msgpack.NewEncoder(tmp).Encode(libs); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readLibsTxt(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var libs []string
	if err := msgpack.NewDecoder(f).Decode(&libs); err != nil {
		return nil, err
	}
	return libs, nil
}

func parseHexByte(s string) (byte, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("legacybackend: short flags hex %q", s)
	}
	var v byte
	if _, err := fmt.Sscanf(s[:2], "%02x", &v); err != nil {
		return 0, err
	}
	return v, nil
}

// FatalError wraps an external-compiler crash; this is a fatal runtime
// error that aborts the compilation.
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return fmt.Sprintf("legacy backend failed: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }
