package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"forge/internal/cfgresolve"
	"forge/internal/cobj"
	"forge/internal/diagsink"
	"forge/internal/driver"
	"forge/internal/subcompile"
	"forge/internal/target"
)

var buildCmd = &cobra.Command{
	Use:   "build [flags] [path]",
	Short: "Run one compilation through the driver core",
	Long:  "Resolve build options against forge.toml (if present) and the given flags, then run a single Create+Update+Destroy cycle.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().String("target", "x86_64-linux-gnu", "target triple (arch-os[-abi])")
	buildCmd.Flags().String("out-dir", "target", "output directory")
	buildCmd.Flags().String("cache-dir", ".forge-cache", "local cache directory")
	buildCmd.Flags().String("global-cache-dir", "", "global cache directory (defaults to local cache dir)")
	buildCmd.Flags().String("lib-dir", "", "system-include root for libcxx/libc/compiler-rt headers")
	buildCmd.Flags().String("clang", "clang", "path to the clang binary")
	buildCmd.Flags().StringSlice("source", nil, "C/C++ source file to compile (repeatable)")
	buildCmd.Flags().String("output", "exe", "output mode (obj|lib|exe)")
	buildCmd.Flags().Bool("release-safe", false, "optimize with safety checks")
	buildCmd.Flags().Bool("release-fast", false, "optimize for speed")
	buildCmd.Flags().Bool("release-small", false, "optimize for size")
	buildCmd.Flags().Bool("static", false, "prefer static linking")
	buildCmd.Flags().Bool("no-link-libc", false, "do not link against the target's libc")
}

func runBuild(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) > 0 && args[0] != "" {
		root = args[0]
	}

	name := filepath.Base(root)
	if manifest, ok, err := loadProjectManifest(root); err == nil && ok {
		root = manifest.Root
		if manifest.Config.Package.Name != "" {
			name = manifest.Config.Package.Name
		}
	}

	tripleStr, _ := cmd.Flags().GetString("target")
	info, err := target.Parse(tripleStr)
	if err != nil {
		return fmt.Errorf("forgec build: %w", err)
	}

	outDir, _ := cmd.Flags().GetString("out-dir")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("forgec build: create out dir: %w", err)
	}
	localCache, _ := cmd.Flags().GetString("cache-dir")
	if err := os.MkdirAll(localCache, 0o755); err != nil {
		return fmt.Errorf("forgec build: create cache dir: %w", err)
	}
	globalCache, _ := cmd.Flags().GetString("global-cache-dir")
	if globalCache == "" {
		globalCache = localCache
	}
	if err := os.MkdirAll(globalCache, 0o755); err != nil {
		return fmt.Errorf("forgec build: create global cache dir: %w", err)
	}
	libDir, _ := cmd.Flags().GetString("lib-dir")
	if libDir == "" {
		libDir = filepath.Join(outDir, "lib")
	}
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		return fmt.Errorf("forgec build: create lib dir: %w", err)
	}

	clangPath, _ := cmd.Flags().GetString("clang")

	sources, _ := cmd.Flags().GetStringSlice("source")
	cSources := make([]driver.CSourceInput, 0, len(sources))
	for _, s := range sources {
		cSources = append(cSources, driver.CSourceInput{
			Path: s,
			Kind: sourceKindFor(s),
		})
	}

	outputMode, err := parseOutputMode(cmd)
	if err != nil {
		return err
	}
	optimize, err := parseOptimizeMode(cmd)
	if err != nil {
		return err
	}
	static, _ := cmd.Flags().GetBool("static")
	noLinkLibc, _ := cmd.Flags().GetBool("no-link-libc")

	linkMode := cfgresolve.LinkUnspecified
	if static {
		linkMode = cfgresolve.LinkStatic
	}
	linkLibc := cfgresolve.Unset
	if noLinkLibc {
		linkLibc = cfgresolve.Set(false)
	}

	opts := driver.Options{
		Resolve: cfgresolve.Options{
			Optimize:      optimize,
			Output:        outputMode,
			LinkMode:      linkMode,
			HasRootModule: true,
			LinkLibc:      linkLibc,
		},
		Target:         info,
		RootModulePath: filepath.Join(root, "main"),
		CSources:       cSources,
		RootName:       name,
		ObjectExt:      objectExtFor(info),
		ClangPath:      clangPath,
		ZigLib:         libDir,
		LocalCache:     localCache,
		GlobalCache:    globalCache,
		OutDir:         outDir,
		Builder:        &subcompile.FakeBuilder{OutDir: outDir},
	}

	comp, err := driver.Create(opts)
	if err != nil {
		return fmt.Errorf("forgec build: %w", err)
	}
	defer comp.Destroy()

	if err := comp.Update(); err != nil {
		return fmt.Errorf("forgec build: %w", err)
	}

	diagsink.WriteSummary(cmd.OutOrStdout(), comp.Diags)
	if comp.Diags.TotalErrorCount() > 0 {
		return fmt.Errorf("forgec build: compilation failed")
	}
	return nil
}

func sourceKindFor(path string) cobj.FileKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".c":
		return cobj.KindC
	case ".cc", ".cpp", ".cxx":
		return cobj.KindCXX
	case ".h", ".hpp":
		return cobj.KindHeader
	default:
		return cobj.KindOther
	}
}

func objectExtFor(info *target.Info) string {
	if info.OS == target.OSWindows {
		return ".obj"
	}
	return ".o"
}

func parseOutputMode(cmd *cobra.Command) (cfgresolve.OutputMode, error) {
	v, _ := cmd.Flags().GetString("output")
	switch strings.ToLower(v) {
	case "obj":
		return cfgresolve.OutputObj, nil
	case "lib":
		return cfgresolve.OutputLib, nil
	case "exe":
		return cfgresolve.OutputExe, nil
	default:
		return 0, fmt.Errorf("forgec build: unsupported --output %q (must be obj|lib|exe)", v)
	}
}

func parseOptimizeMode(cmd *cobra.Command) (cfgresolve.OptimizeMode, error) {
	safe, _ := cmd.Flags().GetBool("release-safe")
	fast, _ := cmd.Flags().GetBool("release-fast")
	small, _ := cmd.Flags().GetBool("release-small")
	count := 0
	for _, b := range []bool{safe, fast, small} {
		if b {
			count++
		}
	}
	if count > 1 {
		return 0, fmt.Errorf("forgec build: --release-safe, --release-fast, and --release-small are mutually exclusive")
	}
	switch {
	case safe:
		return cfgresolve.ReleaseSafe, nil
	case fast:
		return cfgresolve.ReleaseFast, nil
	case small:
		return cfgresolve.ReleaseSmall, nil
	default:
		return cfgresolve.Debug, nil
	}
}
