// Package subcompile implements the recursive sub-compilation
// mechanism: building compiler-rt or the target language's own libc
// constructs a full child Compilation and waits for it; building
// glibc/musl/mingw/libunwind/libc++/libc++abi artifacts instead calls
// an opaque per-recipe builder service, since those recipes' vendored
// sources are out of scope for this driver.
//
// Runs the nested Compilation as an inner stage and propagates its
// single result outward — "inner pipeline run to completion, outer
// captures its result".
package subcompile

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"forge/internal/cache"
	"forge/internal/cfgresolve"
)

// CRTFile is a built C-runtime artifact captured from a sub-compilation
// or a CRT builder service. Destroying it (via Release) releases the
// lock and drops the path.
type CRTFile struct {
	FullObjectPath string
	Lock           *cache.Lock
}

// Release drops the artifact lock, if any.
func (c *CRTFile) Release() {
	if c == nil {
		return
	}
	c.Lock.Release()
	c.Lock = nil
}

// FatalError wraps any sub-compilation or CRT-builder failure. These
// abort the whole compilation rather than being recorded per-slot.
type FatalError struct {
	Name string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("building %s failed: %v", e.Name, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Overrides captures the fixed set of option overrides needed for a
// child Compilation building compiler_rt or the target language's own
// libc.
type Overrides struct {
	Name                  string
	SyntheticRootPackage  string // "" for CRT files, "std/special/<name>" for compiler-rt/libc
	LinkMode              cfgresolve.LinkMode
	FunctionSections      bool
	WantSanitizeC         bool
	WantStackCheck        bool
	WantValgrind          bool
	IsCompilerRtOrLibc    bool
	ParentCompilationLinkLibc bool
	OutputMode            cfgresolve.OutputMode
}

// NewOverrides builds the fixed override set for name, deriving
// output_mode = Obj iff the target is wasm else Lib.
func NewOverrides(name string, syntheticRootPackage string, parentLinkLibc, isWasmTarget bool) Overrides {
	outputMode := cfgresolve.OutputLib
	if isWasmTarget {
		outputMode = cfgresolve.OutputObj
	}
	return Overrides{
		Name:                  name,
		SyntheticRootPackage:  syntheticRootPackage,
		LinkMode:              cfgresolve.LinkStatic,
		FunctionSections:      true,
		IsCompilerRtOrLibc:    true,
		ParentCompilationLinkLibc: parentLinkLibc,
		OutputMode:            outputMode,
	}
}

// ChildRunner is the narrow slice of a Compilation a sub-compilation
// needs: run to completion and report its single output. Defined here
// rather than depending on internal/driver directly, so internal/driver
// can implement it and pass itself in via Factory without an import
// cycle (driver -> subcompile -> driver).
type ChildRunner interface {
	Update() error
	Output() (CRTFile, error)
}

// Factory constructs a child Compilation from a set of overrides.
type Factory func(Overrides) (ChildRunner, error)

// Build runs one sub-compilation to completion: create the child,
// update it, and capture its single output. Any error — construction,
// update, or missing output — is fatal.
func Build(factory Factory, overrides Overrides) (CRTFile, error) {
	child, err := factory(overrides)
	if err != nil {
		return CRTFile{}, &FatalError{Name: overrides.Name, Err: err}
	}
	if err := child.Update(); err != nil {
		return CRTFile{}, &FatalError{Name: overrides.Name, Err: err}
	}
	out, err := child.Output()
	if err != nil {
		return CRTFile{}, &FatalError{Name: overrides.Name, Err: err}
	}
	return out, nil
}

// BuildParallel runs several independent sub-compilations concurrently,
// for jobs that need more than one synthetic sub-package with no data
// dependency between them (compiler-rt has historically shipped as two
// separate static libraries, compiler_rt and builtins, that a real
// front end would fetch together). Drives them through
// errgroup.WithContext plus SetLimit rather than raw goroutines, to
// bound concurrency.
func BuildParallel(factory Factory, overridesList []Overrides) ([]CRTFile, error) {
	out := make([]CRTFile, len(overridesList))
	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(len(overridesList))
	for i, ov := range overridesList {
		i, ov := i, ov
		g.Go(func() error {
			f, err := Build(factory, ov)
			if err != nil {
				return err
			}
			out[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CRTKind names a glibc/musl/mingw CRT object requested through Builder.
type CRTKind int

const (
	CRTKindCrt1 CRTKind = iota
	CRTKindScrt1
	CRTKindCrti
	CRTKindCrtn
	CRTKindLibcA
)

// Builder is the opaque per-recipe CRT builder service for
// glibc/musl/mingw/libunwind/libc++/libc++abi. A real implementation
// would drive vendored recipe sources; this package only defines the
// boundary plus a fake.
type Builder interface {
	GlibcCrtFile(kind CRTKind) (CRTFile, error)
	GlibcSharedObjects() (CRTFile, error)
	MuslCrtFile(kind CRTKind) (CRTFile, error)
	MingwCrtFile(kind CRTKind) (CRTFile, error)
	Libunwind() (CRTFile, error)
	Libcxx() (CRTFile, error)
	Libcxxabi() (CRTFile, error)
}

// FakeBuilder writes an empty placeholder object file for every
// requested artifact, under outDir, for use in tests and unsupported
// targets.
type FakeBuilder struct {
	OutDir string
}

func (b *FakeBuilder) write(name string) (CRTFile, error) {
	path := b.OutDir + "/" + name
	if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
		return CRTFile{}, err
	}
	return CRTFile{FullObjectPath: path}, nil
}

func (b *FakeBuilder) GlibcCrtFile(kind CRTKind) (CRTFile, error)   { return b.write(crtKindName(kind)) }
func (b *FakeBuilder) GlibcSharedObjects() (CRTFile, error)         { return b.write("libc.so") }
func (b *FakeBuilder) MuslCrtFile(kind CRTKind) (CRTFile, error)    { return b.write(crtKindName(kind)) }
func (b *FakeBuilder) MingwCrtFile(kind CRTKind) (CRTFile, error)   { return b.write(crtKindName(kind)) }
func (b *FakeBuilder) Libunwind() (CRTFile, error)                  { return b.write("libunwind.a") }
func (b *FakeBuilder) Libcxx() (CRTFile, error)                     { return b.write("libc++.a") }
func (b *FakeBuilder) Libcxxabi() (CRTFile, error)                  { return b.write("libc++abi.a") }

// ImportLibBuilder produces a Windows import library (a .lib stub
// that resolves symbols to a runtime .dll) for one system library
// name discovered by the legacy back-end. Unlike the CRT recipes,
// generating an import lib is in scope for this driver: a real
// implementation drives a dlltool/lib.exe-equivalent invocation over
// the discovered symbol list.
type ImportLibBuilder interface {
	BuildImportLib(name string) (CRTFile, error)
}

// FakeImportLibBuilder writes an empty placeholder ".lib" file for
// every requested import library, under OutDir, for use in tests and
// non-Windows targets that never reach this path.
type FakeImportLibBuilder struct {
	OutDir string
}

func (b *FakeImportLibBuilder) BuildImportLib(name string) (CRTFile, error) {
	return (&FakeBuilder{OutDir: b.OutDir}).write(name + ".lib")
}

func crtKindName(k CRTKind) string {
	switch k {
	case CRTKindCrt1:
		return "crt1.o"
	case CRTKindScrt1:
		return "Scrt1.o"
	case CRTKindCrti:
		return "crti.o"
	case CRTKindCrtn:
		return "crtn.o"
	case CRTKindLibcA:
		return "libc.a"
	default:
		return "unknown.o"
	}
}
