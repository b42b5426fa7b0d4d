// Package cobj implements the C-object slot and its builder: compiling
// one C/C++/H input to an object file through a cached,
// content-addressed child-process invocation of clang, plus the pure
// addCCArgs argument-vector builder.
//
// Shells out to clang via os/exec and captures stderr in a
// strings.Builder; the command line itself is not printed.
package cobj

import (
	"forge/internal/cfgresolve"
	"forge/internal/target"
)

// FileKind classifies a source's extension for AddCCArgs purposes.
type FileKind int

const (
	KindC FileKind = iota
	KindCXX
	KindHeader
	KindOther
)

func (k FileKind) isCFamily() bool {
	return k == KindC || k == KindCXX || k == KindHeader
}

// CCArgsInput is everything AddCCArgs needs, gathered from the
// resolved configuration and the classified input file.
type CCArgsInput struct {
	Kind FileKind

	Passthrough      bool
	FunctionSections bool
	FrameworkDirs    []string

	LinkLibcpp bool
	LibDir     string // e.g. <zig-lib>

	Target *target.Info

	LibcIncludeDirs []string
	CodeModel       string // "" or "default" means unset

	Strip          bool
	FramePointer   bool // -fno-omit-frame-pointer iff true
	SanitizeC      bool
	Mode           cfgresolve.OptimizeMode
	LinkLibc       bool
	PIC            bool

	DepPath string // "" means no dep file requested

	Freestanding bool

	ClangArgv []string
}

// AddCCArgs is a pure function building the clang argument vector for
// one C/C++/H compilation. The bullet order below matches the
// contract's clause order exactly so testable scenarios can assert an
// exact flag list.
func AddCCArgs(in CCArgsInput) []string {
	var args []string

	if in.Kind == KindCXX {
		args = append(args, "-nostdinc++")
	}
	if !in.Passthrough {
		args = append(args, "-fno-caret-diagnostics")
	}
	if in.FunctionSections {
		args = append(args, "-ffunction-sections")
	}
	for _, d := range in.FrameworkDirs {
		args = append(args, "-iframework", d)
	}
	if in.LinkLibcpp {
		args = append(args,
			"-isystem", in.LibDir+"/libcxx/include",
			"-isystem", in.LibDir+"/libcxxabi/include",
		)
		if in.Target.IsMusl() {
			args = append(args, "-D_LIBCPP_HAS_MUSL_LIBC")
		}
		args = append(args,
			"-D_LIBCPP_DISABLE_VISIBILITY_ANNOTATIONS",
			"-D_LIBCXXABI_DISABLE_VISIBILITY_ANNOTATIONS",
		)
	}

	args = append(args, "-target", in.Target.Triple())

	if in.Kind.isCFamily() {
		args = append(args, "-nostdinc", "-fno-spell-checking")
		args = append(args, "-isystem", in.LibDir+"/include")
		for _, d := range in.LibcIncludeDirs {
			args = append(args, "-isystem", d)
		}
		if in.Target.LLVMCPUName != "" {
			args = append(args, "-Xclang", "-target-cpu", "-Xclang", in.Target.LLVMCPUName)
		}
		for _, f := range in.Target.Features {
			if f.LLVMName == "" {
				continue
			}
			sign := "-"
			if f.Enabled {
				sign = "+"
			}
			args = append(args, "-Xclang", "-target-feature", "-Xclang", sign+f.LLVMName)
		}
		if in.CodeModel != "" && in.CodeModel != "default" {
			args = append(args, "-mcmodel="+in.CodeModel)
		}
		if in.Target.IsWindowsGNU() {
			args = append(args, "-Wno-pragma-pack")
		}
		if !in.Strip {
			args = append(args, "-g")
		}
		if in.FramePointer {
			args = append(args, "-fno-omit-frame-pointer")
		} else {
			args = append(args, "-fomit-frame-pointer")
		}
		if in.SanitizeC {
			args = append(args, "-fsanitize=undefined", "-fsanitize-trap=undefined")
		}

		switch in.Mode {
		case cfgresolve.Debug:
			args = append(args, "-D_DEBUG", "-Og")
			args = append(args, stackProtectorFlags(in.LinkLibc)...)
		case cfgresolve.ReleaseSafe:
			args = append(args, "-O2", "-D_FORTIFY_SOURCE=2")
			args = append(args, stackProtectorFlags(in.LinkLibc)...)
		case cfgresolve.ReleaseFast:
			args = append(args, "-DNDEBUG", "-O2", "-fno-stack-protector")
		case cfgresolve.ReleaseSmall:
			args = append(args, "-DNDEBUG", "-Os", "-fno-stack-protector")
		}

		if in.Target.SupportsPIC() && in.PIC {
			args = append(args, "-fPIC")
		}
	}

	if in.DepPath != "" {
		args = append(args, "-MD", "-MV", "-MF", in.DepPath)
	}

	if in.Target.Arch == target.ArchRISCV64 {
		if enabled, ok := in.Target.RelaxFeature(); ok {
			if enabled {
				args = append(args, "-mrelax")
			} else {
				args = append(args, "-mno-relax")
			}
		}
	}

	if in.Freestanding {
		args = append(args, "-ffreestanding")
	}

	args = append(args, in.ClangArgv...)

	return args
}

func stackProtectorFlags(linkLibc bool) []string {
	if linkLibc {
		return []string{"-fstack-protector-strong", "--param", "ssp-buffer-size=4"}
	}
	return []string{"-fno-stack-protector"}
}
