// Package driver implements the compilation driver core (the
// Compilation object): it owns the work queue, the C-object slot
// table, the CRT-file table, the module and linker collaborators, and
// runs the create/update/destroy lifecycle.
//
// Shaped like a single entry point taking a request struct and
// returning a result struct, internally dispatching to per-stage
// helpers, with a create/lookup/evict lifecycle for the general shape
// of "one long-lived object owning several caches and a lock table".
package driver

import (
	"fmt"
	"path/filepath"

	"forge/internal/builtinsrc"
	"forge/internal/cache"
	"forge/internal/cfgresolve"
	"forge/internal/cobj"
	"forge/internal/diagsink"
	"forge/internal/dirhandle"
	"forge/internal/legacybackend"
	"forge/internal/linker"
	"forge/internal/module"
	"forge/internal/subcompile"
	"forge/internal/target"
)

// Options bundles everything Create needs beyond the pure cfgresolve
// inputs: the source list, target, and directory roots. Kept distinct
// from cfgresolve.Options so the config-resolution pure function stays
// free of filesystem concerns.
type Options struct {
	Resolve cfgresolve.Options
	Target  *target.Info

	RootModulePath string // "" if HasRootModule is false
	CSources       []CSourceInput

	RootName   string
	ObjectExt  string
	ClangPath  string

	ZigLib      string // system-include root for libcxx/libc/compiler-rt headers
	LocalCache  string
	GlobalCache string
	OutDir      string

	IsWasmTarget bool
	IsTest       bool

	// OSVersionRange carries the target's minimum/maximum supported OS
	// version, if any, into the generated builtin source's "os" constant.
	// Zero value (OSVersionNone) is correct for targets with no such
	// range (freestanding, wasm, and any caller that doesn't track it).
	OSVersionRange builtinsrc.OSVersionRange

	Linker           linker.Linker               // nil selects linker.NewFake()
	Module           *module.Module              // nil selects module.New()
	Builder          subcompile.Builder          // nil selects &subcompile.FakeBuilder{OutDir: opts.OutDir}
	ImportLibBuilder subcompile.ImportLibBuilder // nil selects &subcompile.FakeImportLibBuilder{OutDir: opts.OutDir}
}

// CSourceInput is one C/C++/H input file plus its extra clang flags.
type CSourceInput struct {
	Path       string
	ExtraFlags []string
	Kind       cobj.FileKind
}

// Compilation owns the full driver state for one build. Destroy() must
// be called to release held locks and directory handles; calling it
// again afterwards is a no-op.
type Compilation struct {
	Opts     Options
	Resolved *cfgresolve.Resolved

	Module *module.Module
	Linker linker.Linker

	Store       *cache.Store
	ZigLibDir   *dirhandle.Handle
	LocalCache  *dirhandle.Handle
	GlobalCache *dirhandle.Handle
	OutDir      *dirhandle.Handle

	CObjects        []*cobj.Slot
	CSourceKinds    []cobj.FileKind // parallel to CObjects
	FailedCObjects  map[int]string // slot index -> message, mirrors Slot.Message for O(1) lookup

	CRTFiles map[string]subcompile.CRTFile

	LibcxxLib      *subcompile.CRTFile
	LibcxxabiLib   *subcompile.CRTFile
	LibunwindLib   *subcompile.CRTFile
	LibcLib        *subcompile.CRTFile
	CompilerRtLib  *subcompile.CRTFile

	SystemLibs *legacybackend.SystemLibs
	Builder    subcompile.Builder
	ImportLibBuilder subcompile.ImportLibBuilder
	ImportLibs       map[string]subcompile.CRTFile

	Queue Queue
	Diags *diagsink.Bag

	LegacyBackendLock *cache.Lock

	factory subcompile.Factory
}

// Create implements construction: resolve config, open directory
// handles and the cache, allocate C-object slots one-for-one with the
// input sources, and enqueue the jobs Compilation always starts with
// (builtin-source generation plus, for cross-compiled targets needing
// libc from source, the CRT/runtime job sequence).
func Create(opts Options) (*Compilation, error) {
	resolved, err := cfgresolve.Resolve(opts.Resolve, opts.Target)
	if err != nil {
		return nil, err
	}

	store, err := cache.Open(opts.LocalCache)
	if err != nil {
		return nil, fmt.Errorf("driver: open cache: %w", err)
	}

	zigLib, err := dirhandle.Open(opts.ZigLib)
	if err != nil {
		return nil, fmt.Errorf("driver: open lib dir: %w", err)
	}
	localCache, err := dirhandle.Open(opts.LocalCache)
	if err != nil {
		return nil, fmt.Errorf("driver: open local cache dir: %w", err)
	}
	globalCache, err := dirhandle.Open(opts.GlobalCache)
	if err != nil {
		return nil, fmt.Errorf("driver: open global cache dir: %w", err)
	}
	outDir, err := dirhandle.Open(opts.OutDir)
	if err != nil {
		return nil, fmt.Errorf("driver: open out dir: %w", err)
	}

	mod := opts.Module
	if mod == nil {
		mod = module.New()
	}
	lnk := opts.Linker
	if lnk == nil {
		lnk = linker.NewFake()
	}
	builder := opts.Builder
	if builder == nil {
		builder = &subcompile.FakeBuilder{OutDir: opts.OutDir}
	}
	importLibBuilder := opts.ImportLibBuilder
	if importLibBuilder == nil {
		importLibBuilder = &subcompile.FakeImportLibBuilder{OutDir: opts.OutDir}
	}

	c := &Compilation{
		Opts:             opts,
		Resolved:         resolved,
		Module:           mod,
		Linker:           lnk,
		Store:            store,
		ZigLibDir:        zigLib,
		LocalCache:       localCache,
		GlobalCache:      globalCache,
		OutDir:           outDir,
		FailedCObjects:   make(map[int]string),
		CRTFiles:         make(map[string]subcompile.CRTFile),
		SystemLibs:       legacybackend.NewSystemLibs(),
		Builder:          builder,
		ImportLibBuilder: importLibBuilder,
		ImportLibs:       make(map[string]subcompile.CRTFile),
		Diags:            diagsink.NewBag(),
	}
	c.factory = func(ov subcompile.Overrides) (subcompile.ChildRunner, error) {
		return newChildCompilation(c, ov)
	}

	for _, src := range opts.CSources {
		c.CObjects = append(c.CObjects, cobj.NewSlot(src.Path, src.ExtraFlags))
		c.CSourceKinds = append(c.CSourceKinds, src.Kind)
	}

	c.Queue.Push(Job{Kind: JobGenerateBuiltinSource})

	if opts.Resolve.RunningUnderLegacyBackend {
		c.Queue.Push(Job{Kind: JobLegacyBackend})
	}

	if resolved.LinkLibc && opts.Resolve.HasRootModule {
		enqueueCRTSequence(c)
	}

	return c, nil
}

// enqueueCRTSequence pushes the CRT/runtime job sequence for a
// cross-compiled libc build, per scenario 3's expected ordering:
// GenerateBuiltinSource has already been pushed; this appends
// <libc>CrtFile(...) x N, Libunwind, and, for exe or dynamic-library
// outputs only, CompilerRt (so a static-lib sub-compilation never
// enqueues another compiler-rt sub-compilation).
func enqueueCRTSequence(c *Compilation) {
	switch {
	case c.Opts.Target.IsMusl():
		c.Queue.Push(Job{Kind: JobMuslCrtFile, CRTKindArg: int(subcompile.CRTKindCrt1)})
		c.Queue.Push(Job{Kind: JobMuslCrtFile, CRTKindArg: int(subcompile.CRTKindScrt1)})
		c.Queue.Push(Job{Kind: JobMuslCrtFile, CRTKindArg: int(subcompile.CRTKindLibcA)})
	case c.Opts.Target.IsGlibc():
		c.Queue.Push(Job{Kind: JobGlibcCrtFile, CRTKindArg: int(subcompile.CRTKindCrt1)})
		c.Queue.Push(Job{Kind: JobGlibcCrtFile, CRTKindArg: int(subcompile.CRTKindScrt1)})
		c.Queue.Push(Job{Kind: JobGlibcCrtFile, CRTKindArg: int(subcompile.CRTKindCrti)})
		c.Queue.Push(Job{Kind: JobGlibcCrtFile, CRTKindArg: int(subcompile.CRTKindCrtn)})
		c.Queue.Push(Job{Kind: JobGlibcSharedObjects})
	case c.Opts.Target.OS == target.OSWindows:
		c.Queue.Push(Job{Kind: JobMingwCrtFile, CRTKindArg: int(subcompile.CRTKindCrt1)})
	}
	c.Queue.Push(Job{Kind: JobLibunwind})
	if c.Resolved.IsExeOrDynLib {
		c.Queue.Push(Job{Kind: JobCompilerRt})
	}
}

// Update drains the queue once. Any jobs left over from Create (or
// from a prior Update, e.g. WindowsImportLib jobs enqueued but not yet
// reached) run before the freshly-pushed CObject jobs, preserving FIFO
// order across calls.
func (c *Compilation) Update() (err error) {
	defer func() {
		if r := recover(); r != nil {
			abort, ok := r.(fatalAbort)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("driver: fatal: %s: %w", abort.Name, abort.Err)
		}
	}()

	for i := range c.CObjects {
		c.Queue.Push(Job{Kind: JobCObject, Slot: &CObjectSlotID{Index: i}})
	}

	if !c.Opts.Resolve.RunningUnderLegacyBackend {
		c.Module.Generation++
		c.Module.UnloadRootSource()
		c.reanalyzeRoot()
	}

	for {
		job, ok := c.Queue.Pop()
		if !ok {
			break
		}
		c.dispatch(job)
	}

	if !c.Opts.Resolve.RunningUnderLegacyBackend {
		c.Module.SweepDeletions()
	}

	if c.Diags.TotalErrorCount() > 0 {
		c.Diags.ClearLinkerFlags()
		return nil
	}

	outputPath := filepath.Join(c.OutDir.Path, c.Opts.RootName+outputExt(c))
	if err := c.Linker.Flush(outputPath); err != nil {
		return fmt.Errorf("driver: linker flush: %w", err)
	}
	flags := c.Linker.ErrorFlags()
	if flags.NoEntryPointFound {
		c.Diags.SetNoEntryPointFound()
	}

	if c.Diags.TotalErrorCount() == 0 {
		c.Module.UnloadRootSource()
	}
	return nil
}

func outputExt(c *Compilation) string {
	if c.Resolved.IsDynLib {
		return ".so"
	}
	if c.Opts.Resolve.Output == cfgresolve.OutputExe {
		return ""
	}
	return c.Opts.ObjectExt
}

func (c *Compilation) reanalyzeRoot() {
	for _, d := range c.Module.Decls {
		if err := c.Module.EnsureDeclAnalyzed(d); err != nil {
			continue
		}
	}
}

// Destroy tears down the Compilation: it clears the C-object slots,
// releases the CRT-file, import-library and runtime-library locks,
// then the legacy-backend lock, and finally closes the directory
// handles. The linker and module are left as they are.
func (c *Compilation) Destroy() {
	for _, slot := range c.CObjects {
		slot.Clear()
	}
	for k, crt := range c.CRTFiles {
		crt.Release()
		delete(c.CRTFiles, k)
	}
	for k, lib := range c.ImportLibs {
		lib.Release()
		delete(c.ImportLibs, k)
	}
	c.LibcxxLib.Release()
	c.LibcxxabiLib.Release()
	c.LibunwindLib.Release()
	c.LibcLib.Release()
	c.CompilerRtLib.Release()
	if c.LegacyBackendLock != nil {
		c.LegacyBackendLock.Release()
		c.LegacyBackendLock = nil
	}
	c.OutDir.Close()
	c.GlobalCache.Close()
	c.LocalCache.Close()
	c.ZigLibDir.Close()
}
