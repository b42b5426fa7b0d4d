package driver

import (
	"fmt"
	"path/filepath"

	"forge/internal/cfgresolve"
	"forge/internal/subcompile"
)

// childCompilation adapts a nested Compilation to subcompile.ChildRunner,
// letting internal/subcompile drive it without importing internal/driver
// (the Factory closure below is what breaks the cycle: subcompile only
// ever sees the ChildRunner interface it defines itself).
type childCompilation struct {
	inner *Compilation
	out   subcompile.CRTFile
}

// newChildCompilation implements subcompile.Factory: build a nested
// Compilation with the fixed overrides a compiler-rt/libc
// sub-compilation requires, sharing the parent's cache roots and
// target so digests are computed the same way, but pointed at its own
// scratch output directory.
func newChildCompilation(parent *Compilation, ov subcompile.Overrides) (subcompile.ChildRunner, error) {
	childOut := filepath.Join(parent.OutDir.Path, "subcompile", ov.Name)

	opts := Options{
		Resolve: cfgresolve.Options{
			Optimize:      parent.Opts.Resolve.Optimize,
			Output:        ov.OutputMode,
			LinkMode:      ov.LinkMode,
			HasRootModule: ov.SyntheticRootPackage != "",
			LinkLibc:      cfgresolve.Set(ov.ParentCompilationLinkLibc),
			SanitizeC:     cfgresolve.Set(ov.WantSanitizeC),
			StackCheck:    cfgresolve.Set(ov.WantStackCheck),
			Valgrind:      cfgresolve.Set(ov.WantValgrind),
		},
		Target:      parent.Opts.Target,
		RootName:    ov.Name,
		ObjectExt:   parent.Opts.ObjectExt,
		ClangPath:   parent.Opts.ClangPath,
		ZigLib:      parent.Opts.ZigLib,
		LocalCache:  parent.Opts.GlobalCache, // child's local cache is the parent's global cache
		GlobalCache: parent.Opts.GlobalCache,
		OutDir:      childOut,
		IsWasmTarget:     parent.Opts.IsWasmTarget,
		Builder:          parent.Builder,
		ImportLibBuilder: parent.ImportLibBuilder,
	}

	child, err := Create(opts)
	if err != nil {
		return nil, fmt.Errorf("subcompile %s: create: %w", ov.Name, err)
	}
	return &childCompilation{inner: child}, nil
}

// Update drives the nested Compilation to completion and captures its
// single output lock. It deliberately never calls inner.Destroy(): that
// would release every lock the child took, including the one guarding
// the artifact captured into cc.out and about to be handed to the
// parent. The child's directory handles are left open for the process
// lifetime instead — a leaked *os.File per sub-compilation is a small,
// fixed cost against a use-after-release bug in the cache.
func (cc *childCompilation) Update() error {
	if err := cc.inner.Update(); err != nil {
		return err
	}
	if cc.inner.Diags.TotalErrorCount() > 0 {
		return fmt.Errorf("child compilation reported %d error(s)", cc.inner.Diags.TotalErrorCount())
	}
	for _, f := range cc.inner.CRTFiles {
		cc.out = f
		return nil
	}
	if len(cc.inner.CObjects) > 0 {
		last := cc.inner.CObjects[len(cc.inner.CObjects)-1]
		cc.out = subcompile.CRTFile{FullObjectPath: last.ObjectPath, Lock: last.Lock}
	}
	return nil
}

func (cc *childCompilation) Output() (subcompile.CRTFile, error) {
	if cc.out.FullObjectPath == "" {
		return subcompile.CRTFile{}, fmt.Errorf("subcompile: no output produced")
	}
	return cc.out, nil
}
