package driver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"forge/internal/builtinsrc"
	"forge/internal/cfgresolve"
	"forge/internal/linker"
	"forge/internal/module"
	"forge/internal/target"
)

func testTarget() *target.Info {
	return &target.Info{Arch: target.ArchX86_64, OS: target.OSLinux, ABI: target.ABIMusl, ObjectFormat: target.ObjectFormatElf}
}

func minimalOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{"lib", "local-cache", "global-cache", "out"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", sub, err)
		}
	}
	return Options{
		Resolve: cfgresolve.Options{
			Output:        cfgresolve.OutputExe,
			HasRootModule: false,
		},
		Target:      testTarget(),
		RootName:    "app",
		ObjectExt:   ".o",
		ClangPath:   "clang",
		ZigLib:      filepath.Join(dir, "lib"),
		LocalCache:  filepath.Join(dir, "local-cache"),
		GlobalCache: filepath.Join(dir, "global-cache"),
		OutDir:      filepath.Join(dir, "out"),
	}
}

func TestCreateDefaultsModuleAndLinkerWhenNil(t *testing.T) {
	comp, err := Create(minimalOptions(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer comp.Destroy()

	if comp.Module == nil {
		t.Fatalf("expected a default module.Module")
	}
	if comp.Linker == nil {
		t.Fatalf("expected a default linker.Linker")
	}
	if _, ok := comp.Linker.(*linker.Fake); !ok {
		t.Fatalf("Linker = %T, want *linker.Fake by default", comp.Linker)
	}
}

func TestCreateEnqueuesBuiltinSourceJob(t *testing.T) {
	comp, err := Create(minimalOptions(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer comp.Destroy()

	if comp.Queue.Len() != 1 {
		t.Fatalf("Queue.Len() = %d, want 1 (builtin source job only, no root module)", comp.Queue.Len())
	}
	job, ok := comp.Queue.Pop()
	if !ok || job.Kind != JobGenerateBuiltinSource {
		t.Fatalf("first job = %+v, want JobGenerateBuiltinSource", job)
	}
}

func TestCreateSkipsCRTSequenceWithoutRootModule(t *testing.T) {
	opts := minimalOptions(t)
	opts.Resolve.HasRootModule = false
	comp, err := Create(opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer comp.Destroy()

	for comp.Queue.Len() > 0 {
		job, _ := comp.Queue.Pop()
		if job.Kind == JobGlibcCrtFile || job.Kind == JobMuslCrtFile || job.Kind == JobLibunwind || job.Kind == JobCompilerRt {
			t.Fatalf("unexpected CRT job %v enqueued despite HasRootModule=false", job.Kind)
		}
	}
}

func TestUpdateWritesBuiltinSourceAndFlushesLinker(t *testing.T) {
	opts := minimalOptions(t)
	comp, err := Create(opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer comp.Destroy()

	if err := comp.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	builtinPath := filepath.Join(opts.OutDir, "builtin.zig")
	if _, err := os.Stat(builtinPath); err != nil {
		t.Fatalf("expected builtin source file to be written: %v", err)
	}

	fake, ok := comp.Linker.(*linker.Fake)
	if !ok {
		t.Fatalf("Linker = %T, want *linker.Fake", comp.Linker)
	}
	if len(fake.Flushed) != 1 {
		t.Fatalf("Flushed = %v, want exactly one flush", fake.Flushed)
	}
}

func TestUpdateSetsNoEntryPointWhenNoDeclsPushed(t *testing.T) {
	comp, err := Create(minimalOptions(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer comp.Destroy()

	if err := comp.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !comp.Diags.NoEntryPointFound() {
		t.Fatalf("expected NoEntryPointFound with an empty module and no decls")
	}
}

func TestUpdateSkipsLinkWhenJobErrorsAlreadyExist(t *testing.T) {
	comp, err := Create(minimalOptions(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer comp.Destroy()

	comp.Diags.Addf("a pre-existing job error")

	if err := comp.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	fake := comp.Linker.(*linker.Fake)
	if len(fake.Flushed) != 0 {
		t.Fatalf("expected Update to skip linking when job errors exist, got Flushed = %v", fake.Flushed)
	}
	if comp.Diags.NoEntryPointFound() {
		t.Fatalf("NoEntryPointFound should stay suppressed once a job error exists")
	}
}

func TestUpdateRecoversFatalAbortAsError(t *testing.T) {
	opts := minimalOptions(t)
	comp, err := Create(opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer comp.Destroy()

	// Pre-create a directory at the exact path dispatchBuiltinSource
	// writes to, so its os.Create fails with "is a directory"
	// regardless of file-permission bits or the test's effective
	// user, driving dispatch's panic(fatalAbort{...}) path; Update
	// must recover it into a plain error rather than letting the
	// panic escape.
	builtinPath := filepath.Join(opts.OutDir, "builtin.zig")
	if err := os.MkdirAll(builtinPath, 0o755); err != nil {
		t.Fatalf("mkdir conflicting builtin.zig dir: %v", err)
	}

	err = comp.Update()
	if err == nil {
		t.Fatalf("expected Update to return an error after a fatal abort")
	}
}

func TestUpdateThreadsCodeModelAndOSVersionIntoBuiltinSource(t *testing.T) {
	opts := minimalOptions(t)
	opts.Resolve.MachineCodeModel = "large"
	opts.Resolve.UseLLVM = cfgresolve.Set(true)
	opts.OSVersionRange = builtinsrc.OSVersionRange{
		Kind:         builtinsrc.OSVersionLinuxGlibc,
		GlibcVersion: "2.31",
	}

	comp, err := Create(opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer comp.Destroy()

	if err := comp.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	contents, err := os.ReadFile(filepath.Join(opts.OutDir, "builtin.zig"))
	if err != nil {
		t.Fatalf("read builtin.zig: %v", err)
	}
	out := string(contents)
	if !strings.Contains(out, "const code_model = .large;") {
		t.Fatalf("expected resolved code model .large in builtin source, got:\n%s", out)
	}
	if !strings.Contains(out, `.glibc = "2.31"`) {
		t.Fatalf("expected resolved glibc OS version range in builtin source, got:\n%s", out)
	}
}

func TestDestroyIsIdempotentWithNoCObjects(t *testing.T) {
	comp, err := Create(minimalOptions(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	comp.Destroy()
	comp.Destroy()
}

func TestCreateDefaultsBuilderWhenNilAndRunsCRTSequence(t *testing.T) {
	opts := minimalOptions(t)
	opts.Resolve.HasRootModule = true
	opts.Resolve.LinkLibc = cfgresolve.Set(true)

	comp, err := Create(opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer comp.Destroy()

	if comp.Builder == nil {
		t.Fatalf("expected a default Builder")
	}
	if comp.ImportLibBuilder == nil {
		t.Fatalf("expected a default ImportLibBuilder")
	}

	if err := comp.Update(); err != nil {
		t.Fatalf("Update with a nil-defaulted Builder must not fail: %v", err)
	}

	for _, name := range []string{"crt1.o", "Scrt1.o", "libc.a"} {
		if _, ok := comp.CRTFiles[name]; !ok {
			t.Fatalf("CRTFiles missing %q, got %v", name, comp.CRTFiles)
		}
	}
	if comp.LibunwindLib == nil {
		t.Fatalf("expected Libunwind to have run")
	}
	if comp.CompilerRtLib == nil {
		t.Fatalf("expected compiler_rt sub-compilation to have run")
	}
}

func TestCreatePassesThroughSuppliedModule(t *testing.T) {
	opts := minimalOptions(t)
	mod := module.New()
	mod.Decls = append(mod.Decls, &module.Decl{Name: "x"})
	opts.Module = mod

	comp, err := Create(opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer comp.Destroy()

	if comp.Module != mod {
		t.Fatalf("expected Create to use the supplied module, not a default")
	}
	if len(comp.Module.Decls) != 1 {
		t.Fatalf("expected the supplied module's decls to survive")
	}
}
