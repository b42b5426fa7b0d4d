// Package builtinsrc materializes the generated builtin-source file: a
// small synthetic source module declaring the resolved build facts a
// root module can introspect at comptime (output mode, ABI, target
// facts, sanitizer/strip/PIC decisions, and — for test builds — the
// late-bound test function table).
//
// Builtin-source text generation joins the module analyzer and the
// linker as a driver collaborator with a narrow, fully specified
// contract, so it gets a real implementation here rather than staying
// an opaque interface like the CRT recipe builders.
//
// Writes a generated text artifact with direct fmt.Fprintf calls
// against an os.Create'd file rather than a templating library: no
// third-party templating engine fits emitting a few dozen constant
// declarations line by line, so this stays on the standard library.
package builtinsrc

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"forge/internal/cfgresolve"
	"forge/internal/target"
)

// OSVersionRange captures the tagged-union shape the emitted "os"
// constant needs: none, semver, linux+glibc, or windows min/max.
type OSVersionRangeKind int

const (
	OSVersionNone OSVersionRangeKind = iota
	OSVersionSemver
	OSVersionLinuxGlibc
	OSVersionWindowsMinMax
)

type OSVersionRange struct {
	Kind OSVersionRangeKind

	// Semver
	Min, Max string

	// LinuxGlibc
	GlibcVersion string

	// WindowsMinMax
	WinMin, WinMax string
}

// TestIOMode selects how a test build's runner communicates results.
type TestIOMode int

const (
	TestIOBlocking TestIOMode = iota
	TestIOEvented
)

// Input carries every fact the builtin-source contract requires in
// the emitted file.
type Input struct {
	Target   *target.Info
	Resolved *cfgresolve.Resolved
	Output   cfgresolve.OutputMode
	LinkMode cfgresolve.LinkMode

	IsTest         bool
	TestFunctions  []string // late-bound; empty until the module's test scan completes
	TestIOMode     TestIOMode

	OSVersion OSVersionRange

	// CodeModel mirrors cfgresolve.Options.MachineCodeModel: "" (or
	// "default") means the target's default code model, otherwise a
	// concrete model name ("tiny", "small", "kernel", "medium", "large").
	CodeModel string
}

// Write emits the builtin-source file's full contents to w.
func Write(w io.Writer, in Input) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "const output_mode = %s;\n", outputModeName(in.Output))
	fmt.Fprintf(bw, "const link_mode = %s;\n", linkModeName(in.LinkMode))
	fmt.Fprintf(bw, "const is_test = %s;\n", boolLit(in.IsTest))
	fmt.Fprintf(bw, "const single_threaded = %s;\n", boolLit(in.Resolved.SingleThreaded))
	fmt.Fprintf(bw, "const abi = %q;\n", string(in.Target.ABI))

	fmt.Fprintf(bw, "const cpu = .{ .arch = %q, .model = %q, .features = %s };\n",
		string(in.Target.Arch), in.Target.CPUModel, featureList(in.Target))

	fmt.Fprintf(bw, "const os = %s;\n", osVersionLiteral(in.Target.OS, in.OSVersion))

	fmt.Fprintf(bw, "const object_format = %q;\n", string(in.Target.ObjectFormat))
	fmt.Fprintf(bw, "const mode = %s;\n", modeName(in.Resolved))
	fmt.Fprintf(bw, "const link_libc = %s;\n", boolLit(in.Resolved.LinkLibc))
	fmt.Fprintf(bw, "const link_libcpp = %s;\n", boolLit(in.Resolved.UseLLD && in.Resolved.LinkLibc))
	fmt.Fprintf(bw, "const have_error_return_tracing = %s;\n", boolLit(in.Resolved.ErrorReturnTracing))
	fmt.Fprintf(bw, "const valgrind_support = %s;\n", boolLit(in.Resolved.Valgrind))
	fmt.Fprintf(bw, "const position_independent_code = %s;\n", boolLit(in.Resolved.PIC))
	fmt.Fprintf(bw, "const strip_debug_info = %s;\n", boolLit(in.Resolved.Strip))
	fmt.Fprintf(bw, "const code_model = %s;\n", codeModelName(in.CodeModel))

	if in.IsTest {
		fmt.Fprint(bw, "const test_functions = [_]TestFn{\n")
		for _, name := range in.TestFunctions {
			fmt.Fprintf(bw, "    .{ .name = %q, .func = %s },\n", name, name)
		}
		fmt.Fprint(bw, "};\n")
		fmt.Fprintf(bw, "const test_io_mode = %s;\n", testIOModeName(in.TestIOMode))
	}

	return bw.Flush()
}

// WriteFile emits the builtin-source file to path, matching
// GenerateBuiltinSource's "materialize into the module's artifact
// directory" contract. Any failure is fatal per the dispatch table.
func WriteFile(path string, in Input) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("builtinsrc: create %s: %w", path, err)
	}
	if err := Write(f, in); err != nil {
		f.Close()
		return fmt.Errorf("builtinsrc: write %s: %w", path, err)
	}
	return f.Close()
}

func boolLit(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func outputModeName(m cfgresolve.OutputMode) string {
	switch m {
	case cfgresolve.OutputExe:
		return ".exe"
	case cfgresolve.OutputLib:
		return ".lib"
	default:
		return ".obj"
	}
}

func linkModeName(m cfgresolve.LinkMode) string {
	if m == cfgresolve.LinkDynamic {
		return ".dynamic"
	}
	return ".static"
}

func modeName(r *cfgresolve.Resolved) string {
	if r.IsSafeMode {
		return ".safe"
	}
	return ".fast"
}

func codeModelName(model string) string {
	switch model {
	case "tiny":
		return ".tiny"
	case "small":
		return ".small"
	case "kernel":
		return ".kernel"
	case "medium":
		return ".medium"
	case "large":
		return ".large"
	default:
		return ".default"
	}
}

func testIOModeName(m TestIOMode) string {
	if m == TestIOEvented {
		return ".evented"
	}
	return ".blocking"
}

func featureList(ti *target.Info) string {
	if len(ti.Features) == 0 {
		return "&.{}"
	}
	s := "&.{ "
	for i, f := range ti.Features {
		if i > 0 {
			s += ", "
		}
		sign := "-"
		if f.Enabled {
			sign = "+"
		}
		s += fmt.Sprintf("%q", sign+f.Name)
	}
	return s + " }"
}

func osVersionLiteral(os target.OS, r OSVersionRange) string {
	switch r.Kind {
	case OSVersionSemver:
		return fmt.Sprintf(".{ .tag = %q, .range = .{ .semver = .{ .min = %q, .max = %q } } }", string(os), r.Min, r.Max)
	case OSVersionLinuxGlibc:
		return fmt.Sprintf(".{ .tag = %q, .range = .{ .linux = .{ .glibc = %q } } }", string(os), r.GlibcVersion)
	case OSVersionWindowsMinMax:
		return fmt.Sprintf(".{ .tag = %q, .range = .{ .windows = .{ .min = %q, .max = %q } } }", string(os), r.WinMin, r.WinMax)
	default:
		return fmt.Sprintf(".{ .tag = %q, .range = .none }", string(os))
	}
}
