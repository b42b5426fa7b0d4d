// Package cfgresolve implements the configuration resolution pipeline
// (component H): a pure function deriving a consistent set of build
// decisions from user-supplied options and a target, rejecting
// inconsistent requests with a specific error kind.
//
// Shaped as a deterministic, ordered rule pipeline over a resolution
// options record, with explicit-vs-default option resolution and named
// error returns. This is pure computation over in-memory structs with
// no I/O, so it stays on the standard library: no rules-engine or
// constraint-solver library fits deriving a handful of booleans from a
// handful of other booleans, and reaching for one here would obscure
// the straight-line logic this pipeline lays out as a numbered list.
package cfgresolve

import "forge/internal/target"

type OptimizeMode int

const (
	Debug OptimizeMode = iota
	ReleaseSafe
	ReleaseFast
	ReleaseSmall
)

type OutputMode int

const (
	OutputObj OutputMode = iota
	OutputLib
	OutputExe
)

type LinkMode int

const (
	LinkUnspecified LinkMode = iota
	LinkStatic
	LinkDynamic
)

// tri is an explicit-or-default tri-state boolean.
type tri int

const (
	triUnset tri = iota
	triTrue
	triFalse
)

// Options is the raw, possibly-partial set of user-supplied build
// decisions; unset fields fall back to target- or mode-derived
// defaults inside Resolve.
type Options struct {
	Optimize   OptimizeMode
	Output     OutputMode
	LinkMode   LinkMode
	HasRootModule bool
	RunningUnderLegacyBackend bool

	SystemLibs      []string
	ExternalObjects bool
	CSources        bool
	Frameworks      bool
	LinkCpp         bool
	EhFrameHdr      bool
	EmitRelocs      bool
	LinkerScript    bool
	VersionScript   bool
	ExtraLDArgs     bool

	MachineCodeModel string // "" means default

	UseLLVM  triFlag
	UseLLD   triFlag
	LinkLibc triFlag
	Pic      triFlag
	UseClang triFlag

	SanitizeC      triFlag
	StackCheck     triFlag
	Valgrind       triFlag
	SingleThreaded triFlag
	Strip          triFlag
	DllExportFns   triFlag
}

// triFlag is the exported explicit/default tri-state used in Options.
type triFlag struct {
	set   bool
	value bool
}

func Set(v bool) triFlag { return triFlag{set: true, value: v} }

var Unset = triFlag{}

// Resolved is the deterministic output of the pipeline: every decision
// the rest of the driver needs to construct a Compilation.
type Resolved struct {
	IsDynLib        bool
	IsExeOrDynLib   bool
	UseLLVM         bool
	UseLLD          bool
	LinkLibc        bool
	MustDynamicLink bool
	LinkMode        LinkMode
	DllExportFns    bool
	MustPIC         bool
	PIC             bool
	UseClang        bool
	IsSafeMode      bool
	SanitizeC       bool
	StackCheck      bool
	Valgrind        bool
	SingleThreaded  bool
	Strip           bool
	ErrorReturnTracing bool
}

// ErrorKind names the abstract configuration-error kinds Resolve can
// return.
type ErrorKind int

const (
	_ ErrorKind = iota
	MachineCodeModelNotSupported
	UnableToStaticLink
	TargetRequiresPIC
	LibCInstallationNotAvailable
	LibCInstallationMissingCRTDir
)

func (k ErrorKind) String() string {
	switch k {
	case MachineCodeModelNotSupported:
		return "machine code model not supported without LLVM"
	case UnableToStaticLink:
		return "unable to static link"
	case TargetRequiresPIC:
		return "target requires position-independent code"
	case LibCInstallationNotAvailable:
		return "libc installation not available"
	case LibCInstallationMissingCRTDir:
		return "libc installation missing CRT directory"
	default:
		return "unknown configuration error"
	}
}

// ConfigError aborts Compilation construction with one of the named
// configuration errors.
type ConfigError struct {
	Kind ErrorKind
}

func (e *ConfigError) Error() string { return e.Kind.String() }

func fail(k ErrorKind) (*Resolved, error) { return nil, &ConfigError{Kind: k} }

// Resolve applies config rules 1-18 in order (rule 6 is computed just
// ahead of rule 5, see below), returning the first violated rule as a
// ConfigError. It does not build the LLVM CPU-feature string.
func Resolve(o Options, ti *target.Info) (*Resolved, error) {
	r := &Resolved{}

	// 1. is_dyn_lib
	r.IsDynLib = o.Output == OutputLib && o.LinkMode == LinkDynamic
	// 2. is_exe_or_dyn_lib
	r.IsExeOrDynLib = o.Output == OutputExe || r.IsDynLib

	// 3. use_llvm
	switch {
	case o.UseLLVM.set:
		r.UseLLVM = o.UseLLVM.value
	case !o.HasRootModule:
		r.UseLLVM = false
	case o.RunningUnderLegacyBackend:
		r.UseLLVM = true
	default:
		r.UseLLVM = false
	}

	// 4. machine code model requires LLVM
	if o.MachineCodeModel != "" && o.MachineCodeModel != "default" && !r.UseLLVM {
		return fail(MachineCodeModelNotSupported)
	}

	// 6. link_libc — computed ahead of rule 5 below: use_lld's own
	// trigger list references link_libc, so it must already be known.
	r.LinkLibc = (o.LinkLibc.set && o.LinkLibc.value) || ti.RequiresLibc()

	// 5. use_lld
	switch {
	case o.UseLLD.set:
		r.UseLLD = o.UseLLD.value
	case !r.UseLLVM || ti.ObjectFormat == target.ObjectFormatCSource:
		r.UseLLD = false
	default:
		needsLLD := o.ExternalObjects || o.CSources || o.Frameworks || len(o.SystemLibs) > 0 ||
			r.LinkLibc || o.LinkCpp || o.EhFrameHdr || o.EmitRelocs ||
			o.Output == OutputLib || o.LinkerScript || o.VersionScript || o.ExtraLDArgs
		if needsLLD {
			r.UseLLD = true
		} else {
			r.UseLLD = r.UseLLVM && o.HasRootModule
		}
	}

	// 7. must_dynamic_link
	switch {
	case ti.ForbidsDynamicLinking():
		r.MustDynamicLink = false
	case r.IsExeOrDynLib && r.LinkLibc && (ti.IsGlibc() || ti.RequiresLibc()):
		r.MustDynamicLink = true
	case len(o.SystemLibs) > 0:
		r.MustDynamicLink = true
	default:
		r.MustDynamicLink = false
	}

	// 8. link_mode
	if o.LinkMode != LinkUnspecified {
		if o.LinkMode == LinkStatic && r.MustDynamicLink {
			return fail(UnableToStaticLink)
		}
		r.LinkMode = o.LinkMode
	} else if r.MustDynamicLink {
		r.LinkMode = LinkDynamic
	} else {
		r.LinkMode = LinkStatic
	}

	// 9. dll_export_fns
	if o.DllExportFns.set {
		r.DllExportFns = o.DllExportFns.value
	} else {
		r.DllExportFns = r.IsDynLib
	}

	// 10. must_pic / pic
	r.MustPIC = ti.RequiresPIC(r.LinkLibc) || r.LinkMode == LinkDynamic
	if o.Pic.set {
		if !o.Pic.value && r.MustPIC {
			return fail(TargetRequiresPIC)
		}
		r.PIC = o.Pic.value
	} else {
		r.PIC = r.MustPIC
	}

	// 11. use_clang
	if o.UseClang.set {
		r.UseClang = o.UseClang.value
	} else {
		r.UseClang = !r.UseLLVM
	}

	// 12. is_safe_mode
	r.IsSafeMode = o.Optimize == Debug || o.Optimize == ReleaseSafe

	// 13. sanitize_c
	if o.SanitizeC.set {
		r.SanitizeC = o.SanitizeC.value
	} else {
		r.SanitizeC = r.IsSafeMode
	}

	// 14. stack_check
	if !ti.SupportsStackProbing() {
		r.StackCheck = false
	} else if o.StackCheck.set {
		r.StackCheck = o.StackCheck.value
	} else {
		r.StackCheck = r.IsSafeMode
	}

	// 15. valgrind
	if !ti.SupportsValgrind() {
		r.Valgrind = false
	} else if o.Valgrind.set {
		r.Valgrind = o.Valgrind.value
	} else {
		r.Valgrind = o.Optimize == Debug
	}

	// 16. single_threaded
	r.SingleThreaded = (o.SingleThreaded.set && o.SingleThreaded.value) || ti.IsSingleThreaded()

	// 17. strip
	r.Strip = (o.Strip.set && o.Strip.value) || !ti.HasDebugInfo()

	// 18. error_return_tracing
	r.ErrorReturnTracing = !r.Strip && r.IsSafeMode

	return r, nil
}
