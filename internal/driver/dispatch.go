package driver

import (
	"fmt"
	"path/filepath"
	"strings"

	"forge/internal/builtinsrc"
	"forge/internal/cfgresolve"
	"forge/internal/cobj"
	"forge/internal/legacybackend"
	"forge/internal/module"
	"forge/internal/subcompile"
	"forge/internal/target"
	"forge/internal/version"
)

// dispatch runs one job to completion against its job-kind's table
// row. Errors are handled per-row: most are recorded on the
// diagnostics bag and the drain continues; CRT/runtime and
// legacy-backend failures abort the whole compilation via
// panic(fatalAbort{...}), caught by Update's deferred recover below.
// Structured per-job errors for those fatal kinds remain a possible
// future refinement; today they fail loud instead.
func (c *Compilation) dispatch(j Job) {
	switch j.Kind {
	case JobCodegenDecl:
		c.dispatchCodegenDecl(j.Decl)
	case JobAnalyzeDecl:
		if err := c.Module.EnsureDeclAnalyzed(j.Decl); err != nil {
			// AnalysisFail: continue, error already recorded by the module.
		}
	case JobUpdateLineNumber:
		if err := c.Linker.UpdateDeclLineNumber(j.Decl.Name, 0); err != nil {
			c.Diags.Addf("unable to codegen: %v", err)
		}
	case JobCObject:
		c.dispatchCObject(j.Slot.Index)
	case JobGlibcCrtFile:
		c.dispatchCRT("glibc crt file", func() (subcompile.CRTFile, error) {
			return c.Builder.GlibcCrtFile(subcompile.CRTKind(j.CRTKindArg))
		}, crtBasenameGlibc(subcompile.CRTKind(j.CRTKindArg)))
	case JobGlibcSharedObjects:
		c.dispatchCRT("glibc shared objects", c.Builder.GlibcSharedObjects, "libc.so")
	case JobMuslCrtFile:
		c.dispatchCRT("musl crt file", func() (subcompile.CRTFile, error) {
			return c.Builder.MuslCrtFile(subcompile.CRTKind(j.CRTKindArg))
		}, crtBasenameMusl(subcompile.CRTKind(j.CRTKindArg)))
	case JobMingwCrtFile:
		c.dispatchCRT("mingw crt file", func() (subcompile.CRTFile, error) {
			return c.Builder.MingwCrtFile(subcompile.CRTKind(j.CRTKindArg))
		}, "crt1.o")
	case JobLibunwind:
		f, err := c.Builder.Libunwind()
		c.recordWellKnown("building libunwind", err, &c.LibunwindLib, f)
	case JobLibcxx:
		f, err := c.Builder.Libcxx()
		c.recordWellKnown("building libc++", err, &c.LibcxxLib, f)
	case JobLibcxxabi:
		f, err := c.Builder.Libcxxabi()
		c.recordWellKnown("building libc++abi", err, &c.LibcxxabiLib, f)
	case JobCompilerRt:
		c.dispatchSubcompile("compiler_rt", &c.CompilerRtLib)
	case JobZigLibc:
		c.dispatchSubcompile("zig_libc", &c.LibcLib)
	case JobGenerateBuiltinSource:
		c.dispatchBuiltinSource()
	case JobLegacyBackend:
		c.dispatchLegacyBackend()
	case JobWindowsImportLib:
		c.dispatchWindowsImportLib(j.LibIndex)
	}
}

func (c *Compilation) dispatchCodegenDecl(d *module.Decl) {
	if d.Analysis != module.StateComplete && d.Analysis != module.StateCodegenFailureRetryable {
		return
	}
	if d.IsFunction && d.Analysis == module.StateQueued {
		if err := c.Module.EnsureDeclAnalyzed(d); err != nil {
			d.Analysis = module.StateDependencyFailure
			return
		}
	}
	if err := c.Module.CodegenDecl(d); err != nil {
		if _, ok := err.(*module.AnalysisFail); ok {
			d.Analysis = module.StateDependencyFailure
			return
		}
		d.Analysis = module.StateCodegenFailureRetryable
		c.Diags.Addf("unable to codegen: %v", err)
		return
	}
	if err := c.Linker.UpdateDecl(d.Name, nil); err != nil {
		d.Analysis = module.StateCodegenFailureRetryable
		c.Diags.Addf("unable to codegen: %v", err)
	}
}

func (c *Compilation) dispatchCObject(idx int) {
	slot := c.CObjects[idx]
	kind := cobj.KindOther
	if idx < len(c.CSourceKinds) {
		kind = c.CSourceKinds[idx]
	}

	args := c.ccArgsFor(slot, kind)
	cfg := cobj.BuildConfig{
		Store:     c.Store,
		ClangPath: c.Opts.ClangPath,
		Target:    c.Opts.Target,
		BaseHash:  c.baseHash(),

		Args:         args,
		Preprocessor: cobj.PreprocessorOff,
		Passthrough:  false,

		RootName:         c.Opts.RootName,
		ObjectExt:        c.Opts.ObjectExt,
		HasRootModule:    c.Opts.Resolve.HasRootModule,
		IsObjOutput:      c.Opts.Resolve.Output == cfgresolve.OutputObj,
		OtherLinkObjects: len(c.CObjects) > 1,
		SingleCSource:    len(c.CObjects) == 1,

		OutDir: c.OutDir.Path,
	}

	if err := cobj.Build(cfg, slot); err != nil {
		delete(c.FailedCObjects, idx)
		c.Diags.Addf("unable to build C object: %v", err)
		return
	}
	if slot.Status == cobj.StatusFailure {
		c.FailedCObjects[idx] = slot.Message
		c.Diags.Addf("unable to build C object: %s", slot.Message)
	} else {
		delete(c.FailedCObjects, idx)
	}
}

// baseHash builds the cache-key fields shared by every artifact this
// compilation produces: everything that can change the bytes clang or
// the linker emits has to be represented here, or two builds that
// differ only in that field will collide on the same cache entry and
// reuse the wrong artifact.
func (c *Compilation) baseHash() map[string]string {
	r := c.Resolved
	ti := c.Opts.Target
	return map[string]string{
		"compiler_version":  version.Version,
		"lib_dir":           c.ZigLibDir.Path,
		"optimize":          fmt.Sprint(int(c.Opts.Resolve.Optimize)),
		"target":            ti.Triple(),
		"target_cpu":        ti.CPUModel,
		"target_features":   targetFeatureKey(ti),
		"object_format":     string(ti.ObjectFormat),
		"pic":               boolStr(r.PIC),
		"stack_check":       boolStr(r.StackCheck),
		"link_mode":         fmt.Sprint(int(r.LinkMode)),
		"strip":             boolStr(r.Strip),
		"link_libc":         boolStr(r.LinkLibc),
		"link_libcpp":       boolStr(r.UseLLD && r.LinkLibc),
		"function_sections": boolStr(true),
		"code_model":        c.Opts.Resolve.MachineCodeModel,
		"emits_binary":      boolStr(r.IsExeOrDynLib),
		"output_mode":       fmt.Sprint(int(c.Opts.Resolve.Output)),
	}
}

// targetFeatureKey renders a deterministic "+name,-name,..." encoding
// of a target's CPU feature list, in declaration order, so two targets
// differing only in an enabled/disabled feature hash differently.
func targetFeatureKey(ti *target.Info) string {
	var b strings.Builder
	for i, f := range ti.Features {
		if i > 0 {
			b.WriteByte(',')
		}
		sign := "-"
		if f.Enabled {
			sign = "+"
		}
		b.WriteString(sign)
		b.WriteString(f.Name)
	}
	return b.String()
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (c *Compilation) ccArgsFor(slot *cobj.Slot, kind cobj.FileKind) cobj.CCArgsInput {
	r := c.Resolved
	return cobj.CCArgsInput{
		Kind:             kind,
		Passthrough:      false,
		FunctionSections: true,
		LinkLibcpp:       r.UseLLD && r.LinkLibc,
		LibDir:           c.ZigLibDir.Path,
		Target:           c.Opts.Target,
		CodeModel:        c.Opts.Resolve.MachineCodeModel,
		Strip:            r.Strip,
		FramePointer:     !r.Strip && r.IsSafeMode,
		SanitizeC:        r.SanitizeC,
		Mode:             c.Opts.Resolve.Optimize,
		LinkLibc:         r.LinkLibc,
		PIC:              r.PIC,
		Freestanding:     c.Opts.Target.IsFreestanding(),
	}
}

// dispatchCRT invokes a CRT-builder-service job
// (GlibcCrtFile/GlibcSharedObjects/MuslCrtFile/MingwCrtFile): any
// failure is fatal and aborts the entire compilation.
func (c *Compilation) dispatchCRT(name string, call func() (subcompile.CRTFile, error), basename string) {
	f, err := call()
	if err != nil {
		panic(fatalAbort{Name: name, Err: err})
	}
	c.CRTFiles[basename] = f
}

func (c *Compilation) recordWellKnown(name string, err error, dst **subcompile.CRTFile, f subcompile.CRTFile) {
	if err != nil {
		panic(fatalAbort{Name: name, Err: err})
	}
	*dst = &f
}

// dispatchSubcompile runs the recursive child-Compilation path for
// compiler_rt or the target language's own libc. compiler_rt fans out
// into two independent sub-packages (compiler_rt proper and its
// builtins) built concurrently via subcompile.BuildParallel, since
// neither depends on the other's output.
func (c *Compilation) dispatchSubcompile(name string, dst **subcompile.CRTFile) {
	if name == "compiler_rt" {
		overridesList := []subcompile.Overrides{
			subcompile.NewOverrides("compiler_rt", "std/special/compiler_rt", c.Resolved.LinkLibc, c.Opts.IsWasmTarget),
			subcompile.NewOverrides("builtins", "std/special/builtins", c.Resolved.LinkLibc, c.Opts.IsWasmTarget),
		}
		files, err := subcompile.BuildParallel(c.factory, overridesList)
		if err != nil {
			panic(fatalAbort{Name: name, Err: err})
		}
		*dst = &files[0]
		c.CRTFiles["builtins"] = files[1]
		return
	}

	ov := subcompile.NewOverrides(name, "std/special/"+name, c.Resolved.LinkLibc, c.Opts.IsWasmTarget)
	f, err := subcompile.Build(c.factory, ov)
	if err != nil {
		panic(fatalAbort{Name: name, Err: err})
	}
	*dst = &f
}

func (c *Compilation) dispatchBuiltinSource() {
	path := filepath.Join(c.OutDir.Path, "builtin.zig")
	in := builtinsrc.Input{
		Target:    c.Opts.Target,
		Resolved:  c.Resolved,
		Output:    c.Opts.Resolve.Output,
		LinkMode:  c.Resolved.LinkMode,
		IsTest:    c.Opts.IsTest,
		CodeModel: c.Opts.Resolve.MachineCodeModel,
		OSVersion: c.Opts.OSVersionRange,
	}
	if err := builtinsrc.WriteFile(path, in); err != nil {
		panic(fatalAbort{Name: "builtin source", Err: err})
	}
}

func (c *Compilation) dispatchLegacyBackend() {
	bridge := &legacybackend.Bridge{
		Store:       c.Store,
		ArtifactDir: c.OutDir.Path,
		Libs:        c.SystemLibs,
		Diags:       c.Diags,
	}
	flags := legacybackend.Flags{
		Valgrind:         c.Resolved.Valgrind,
		SingleThreaded:   c.Resolved.SingleThreaded,
		DllExportFns:     c.Resolved.DllExportFns,
		FunctionSections: true,
		IsTest:           c.Opts.IsTest,
	}
	isWindows := c.Opts.Target.OS == target.OSWindows

	lock, _, err := bridge.Run(c.Opts.RootModulePath, flags, c.Opts.Target.Triple(), isWindows,
		func() (legacybackend.ExternalResult, error) {
			return legacybackend.ExternalResult{}, nil
		},
		func(index int) {
			c.Queue.Push(Job{Kind: JobWindowsImportLib, LibIndex: index})
		})
	if err != nil {
		panic(fatalAbort{Name: "legacy backend", Err: err})
	}
	c.LegacyBackendLock = lock
}

// dispatchWindowsImportLib builds the Windows import library for the
// system lib at names[index], via the compilation's ImportLibBuilder.
// The job runs exactly once per newly discovered system lib (indices
// are assigned by legacybackend.SystemLibs.AddLinkLib and never
// reused), and any build failure is fatal.
func (c *Compilation) dispatchWindowsImportLib(index int) {
	names := c.SystemLibs.Names()
	if index < 0 || index >= len(names) {
		panic(fatalAbort{Name: "windows import lib", Err: fmt.Errorf("index %d out of range", index)})
	}
	name := names[index]
	f, err := c.ImportLibBuilder.BuildImportLib(name)
	if err != nil {
		panic(fatalAbort{Name: "windows import lib", Err: err})
	}
	c.ImportLibs[name] = f
}

func crtBasenameGlibc(k subcompile.CRTKind) string { return crtBasename(k) }
func crtBasenameMusl(k subcompile.CRTKind) string  { return crtBasename(k) }

func crtBasename(k subcompile.CRTKind) string {
	switch k {
	case subcompile.CRTKindCrt1:
		return "crt1.o"
	case subcompile.CRTKindScrt1:
		return "Scrt1.o"
	case subcompile.CRTKindCrti:
		return "crti.o"
	case subcompile.CRTKindCrtn:
		return "crtn.o"
	case subcompile.CRTKindLibcA:
		return "libc.a"
	default:
		return "unknown.o"
	}
}

// fatalAbort is the panic payload for the dispatch table's fatal job
// kinds; Update recovers it at its top level and turns it into a
// returned error.
type fatalAbort struct {
	Name string
	Err  error
}
