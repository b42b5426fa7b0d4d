package subcompile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"forge/internal/cfgresolve"
)

type fakeChild struct {
	updateErr error
	output    CRTFile
	outputErr error
}

func (c *fakeChild) Update() error                  { return c.updateErr }
func (c *fakeChild) Output() (CRTFile, error) { return c.output, c.outputErr }

func TestNewOverridesUsesObjOutputForWasm(t *testing.T) {
	ov := NewOverrides("compiler_rt", "std/special/compiler_rt", true, true)
	if ov.OutputMode != cfgresolve.OutputObj {
		t.Fatalf("OutputMode = %v, want OutputObj for a wasm target", ov.OutputMode)
	}
	if !ov.IsCompilerRtOrLibc {
		t.Fatalf("expected IsCompilerRtOrLibc to be set")
	}
	if ov.LinkMode != cfgresolve.LinkStatic {
		t.Fatalf("LinkMode = %v, want LinkStatic", ov.LinkMode)
	}
}

func TestNewOverridesUsesLibOutputForNonWasm(t *testing.T) {
	ov := NewOverrides("libc", "std/special/libc", false, false)
	if ov.OutputMode != cfgresolve.OutputLib {
		t.Fatalf("OutputMode = %v, want OutputLib for a non-wasm target", ov.OutputMode)
	}
}

func TestBuildReturnsChildOutputOnSuccess(t *testing.T) {
	want := CRTFile{FullObjectPath: "/tmp/crt1.o"}
	factory := func(ov Overrides) (ChildRunner, error) {
		return &fakeChild{output: want}, nil
	}
	got, err := Build(factory, Overrides{Name: "crt1"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got != want {
		t.Fatalf("Build() = %+v, want %+v", got, want)
	}
}

func TestBuildWrapsFactoryErrorAsFatal(t *testing.T) {
	factory := func(ov Overrides) (ChildRunner, error) {
		return nil, errors.New("no factory")
	}
	_, err := Build(factory, Overrides{Name: "crt1"})
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("err = %v, want *FatalError", err)
	}
	if fatal.Name != "crt1" {
		t.Fatalf("FatalError.Name = %q, want crt1", fatal.Name)
	}
}

func TestBuildWrapsUpdateErrorAsFatal(t *testing.T) {
	factory := func(ov Overrides) (ChildRunner, error) {
		return &fakeChild{updateErr: errors.New("update failed")}, nil
	}
	_, err := Build(factory, Overrides{Name: "libc"})
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("err = %v, want *FatalError", err)
	}
}

func TestBuildWrapsOutputErrorAsFatal(t *testing.T) {
	factory := func(ov Overrides) (ChildRunner, error) {
		return &fakeChild{outputErr: errors.New("no output")}, nil
	}
	_, err := Build(factory, Overrides{Name: "libc"})
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("err = %v, want *FatalError", err)
	}
}

func TestBuildParallelCollectsAllOutputsInOrder(t *testing.T) {
	factory := func(ov Overrides) (ChildRunner, error) {
		return &fakeChild{output: CRTFile{FullObjectPath: ov.Name + ".a"}}, nil
	}
	got, err := BuildParallel(factory, []Overrides{{Name: "compiler_rt"}, {Name: "builtins"}})
	if err != nil {
		t.Fatalf("BuildParallel: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].FullObjectPath != "compiler_rt.a" || got[1].FullObjectPath != "builtins.a" {
		t.Fatalf("got = %+v, want order preserved matching input", got)
	}
}

func TestBuildParallelPropagatesAnyFailure(t *testing.T) {
	factory := func(ov Overrides) (ChildRunner, error) {
		if ov.Name == "bad" {
			return nil, errors.New("boom")
		}
		return &fakeChild{output: CRTFile{FullObjectPath: ov.Name}}, nil
	}
	_, err := BuildParallel(factory, []Overrides{{Name: "good"}, {Name: "bad"}})
	if err == nil {
		t.Fatalf("expected an error when one sub-compilation fails")
	}
}

func TestFakeBuilderWritesPlaceholderFiles(t *testing.T) {
	dir := t.TempDir()
	b := &FakeBuilder{OutDir: dir}

	crt, err := b.GlibcCrtFile(CRTKindCrt1)
	if err != nil {
		t.Fatalf("GlibcCrtFile: %v", err)
	}
	if filepath.Base(crt.FullObjectPath) != "crt1.o" {
		t.Fatalf("FullObjectPath = %q, want basename crt1.o", crt.FullObjectPath)
	}
	if _, err := os.Stat(crt.FullObjectPath); err != nil {
		t.Fatalf("expected placeholder file to exist: %v", err)
	}

	libcxx, err := b.Libcxx()
	if err != nil {
		t.Fatalf("Libcxx: %v", err)
	}
	if filepath.Base(libcxx.FullObjectPath) != "libc++.a" {
		t.Fatalf("FullObjectPath = %q, want basename libc++.a", libcxx.FullObjectPath)
	}
}

func TestCRTFileReleaseIsNilSafe(t *testing.T) {
	var c *CRTFile
	c.Release()
}
