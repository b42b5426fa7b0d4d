// Package target models the subset of triple-derived facts the driver
// needs to resolve build options and construct C compiler argument
// vectors: PIC support, libc requirements, stack-probing support, and
// LLVM feature-name tables.
package target

// Arch identifies a target CPU architecture.
type Arch string

const (
	ArchX86_64  Arch = "x86_64"
	ArchAarch64 Arch = "aarch64"
	ArchRISCV64 Arch = "riscv64"
	ArchWasm32  Arch = "wasm32"
)

// OS identifies a target operating system.
type OS string

const (
	OSLinux   OS = "linux"
	OSMacOS   OS = "macos"
	OSWindows OS = "windows"
	OSFreestanding OS = "freestanding"
	OSWasi    OS = "wasi"
)

// ABI identifies the target C ABI / libc flavor.
type ABI string

const (
	ABINone  ABI = "none"
	ABIGnu   ABI = "gnu"
	ABIMusl  ABI = "musl"
	ABIMsvc  ABI = "msvc"
	ABIGnuEabi ABI = "gnueabi"
)

// ObjectFormat identifies the object file container the target emits.
type ObjectFormat string

const (
	ObjectFormatElf    ObjectFormat = "elf"
	ObjectFormatMachO  ObjectFormat = "macho"
	ObjectFormatCoff   ObjectFormat = "coff"
	ObjectFormatWasm   ObjectFormat = "wasm"
	ObjectFormatCSource ObjectFormat = "c" // "translate-c" style pseudo target
)

// Feature is a named target CPU feature with its LLVM spelling.
type Feature struct {
	Name     string
	LLVMName string
	Enabled  bool
}

// Info describes everything the driver needs to know about a triple.
type Info struct {
	Arch         Arch
	OS           OS
	ABI          ABI
	CPUModel     string
	LLVMCPUName  string
	Features     []Feature
	ObjectFormat ObjectFormat
}

// Triple renders the canonical arch-os-abi triple string.
func (i Info) Triple() string {
	if i.ABI == ABINone || i.ABI == "" {
		return string(i.Arch) + "-" + string(i.OS)
	}
	return string(i.Arch) + "-" + string(i.OS) + "-" + string(i.ABI)
}

// RequiresLibc reports whether the target OS cannot produce a freestanding
// binary without a libc.
func (i Info) RequiresLibc() bool {
	switch i.OS {
	case OSMacOS:
		return true
	default:
		return false
	}
}

// ForbidsDynamicLinking reports whether the target has no dynamic loader
// at all.
func (i Info) ForbidsDynamicLinking() bool {
	return i.OS == OSFreestanding || i.OS == OSWasi || i.Arch == ArchWasm32
}

// RequiresPIC reports whether the target mandates position-independent
// code regardless of user request. Only macOS requires it; the
// linkLibc argument is not consulted.
func (i Info) RequiresPIC(linkLibc bool) bool {
	if i.OS == OSMacOS {
		return true
	}
	return false
}

// SupportsStackProbing reports whether the backend can emit stack-check
// probes for this target.
func (i Info) SupportsStackProbing() bool {
	switch i.Arch {
	case ArchX86_64, ArchAarch64:
		return true
	default:
		return false
	}
}

// SupportsValgrind reports whether valgrind instrumentation is meaningful
// on this target.
func (i Info) SupportsValgrind() bool {
	return i.OS == OSLinux && i.Arch == ArchX86_64
}

// IsSingleThreaded reports whether the target has no threading support
// at all, forcing single_threaded regardless of user request.
func (i Info) IsSingleThreaded() bool {
	return i.Arch == ArchWasm32 && i.OS != OSWasi
}

// HasDebugInfo reports whether the target's object format can carry
// debug info at all.
func (i Info) HasDebugInfo() bool {
	return i.ObjectFormat != ObjectFormatCSource
}

// SupportsPIC reports whether -fPIC is meaningful for this target.
func (i Info) SupportsPIC() bool {
	return i.OS != OSWindows
}

// IsFreestanding reports whether -ffreestanding should be passed to the
// C compiler.
func (i Info) IsFreestanding() bool {
	return i.OS == OSFreestanding
}

// IsWindowsGNU reports whether this is the mingw-flavored Windows ABI,
// which needs the -Wno-pragma-pack workaround.
func (i Info) IsWindowsGNU() bool {
	return i.OS == OSWindows && i.ABI == ABIGnu
}

// IsGlibc reports whether the target's libc is glibc.
func (i Info) IsGlibc() bool {
	return i.OS == OSLinux && i.ABI == ABIGnu
}

// IsMusl reports whether the target's libc is musl, which addCCArgs
// uses to decide whether to define _LIBCPP_HAS_MUSL_LIBC.
func (i Info) IsMusl() bool {
	return i.ABI == ABIMusl
}

// FeatureLLVMName looks up the LLVM spelling for a named target feature.
func (i Info) FeatureLLVMName(name string) (string, bool) {
	for _, f := range i.Features {
		if f.Name == name {
			return f.LLVMName, true
		}
	}
	return "", false
}

// RelaxFeature reports the state of RISC-V's "relax" feature, used by
// addCCArgs' -mrelax/-mno-relax clause. ok is false when the target is
// not RISC-V and the flag should not be emitted at all.
func (i Info) RelaxFeature() (enabled bool, ok bool) {
	if i.Arch != ArchRISCV64 {
		return false, false
	}
	for _, f := range i.Features {
		if f.Name == "relax" {
			return f.Enabled, true
		}
	}
	return true, true
}
