package cobj

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"forge/internal/cache"
	"forge/internal/target"
)

// maxCapturedStderr bounds captured-mode stderr reads.
const maxCapturedStderr = 10 << 20

// BuildConfig carries the base-hash fields and the per-artifact knobs
// the C-object builder needs beyond what's already folded into
// CCArgsInput.
type BuildConfig struct {
	Store     *cache.Store
	ClangPath string
	Target    *target.Info
	BaseHash  map[string]string

	Args         CCArgsInput
	Preprocessor PreprocessorMode
	Passthrough  bool

	// Direct-to-output shortcut inputs.
	RootName         string
	ObjectExt        string
	HasRootModule    bool
	IsObjOutput      bool
	OtherLinkObjects bool
	SingleCSource    bool

	OutDir string // scratch directory for compiler output and dep files
}

// Build runs the full C-object transaction for one slot.
func Build(cfg BuildConfig, slot *Slot) error {
	slot.Clear()

	base := make(map[string]string, len(cfg.BaseHash)+5)
	for k, v := range cfg.BaseHash {
		base[k] = v
	}
	base["sanitize_c"] = boolStr(cfg.Args.SanitizeC)
	base["clang_argv"] = strings.Join(cfg.Args.ClangArgv, "\x1f")
	base["link_libcpp"] = boolStr(cfg.Args.LinkLibcpp)
	base["libc_include_dirs"] = strings.Join(cfg.Args.LibcIncludeDirs, "\x1f")
	base["preprocessor_mode"] = fmt.Sprint(int(cfg.Preprocessor))

	manifest := cfg.Store.Obtain(base)
	manifest.AddFile(slot.SrcPath)

	for i := 0; i < len(slot.ExtraFlags); i++ {
		flag := slot.ExtraFlags[i]
		manifest.AddBytes([]byte(flag))
		if flag == "-include" && i+1 < len(slot.ExtraFlags) {
			manifest.AddFile(slot.ExtraFlags[i+1])
		}
	}

	basename := cfg.outputBasename(slot.SrcPath)
	depRequested := cfg.Preprocessor == PreprocessorOff
	var depPath string
	if depRequested {
		depPath = filepath.Join(cfg.OutDir, basename+".d")
	}

	hit, err := manifest.Hit()
	if err != nil {
		return fmt.Errorf("cobj: manifest hit: %w", err)
	}

	if !depRequested || !hit {
		if err := cfg.invokeClang(slot, manifest, basename, depPath); err != nil {
			return err
		}
		if slot.Status == StatusFailure {
			return nil
		}
	}

	digest, lock, err := manifest.Final()
	if err != nil {
		return fmt.Errorf("cobj: finalize manifest: %w", err)
	}

	objectPath := cfg.Store.ObjectPath(digest, basename)
	compiledPath := filepath.Join(cfg.OutDir, basename)
	if err := manifest.WriteManifest(map[string]string{"object": compiledPath}, nil); err != nil {
		lock.Release()
		return fmt.Errorf("cobj: write manifest: %w", err)
	}

	slot.setSuccess(objectPath, lock)
	return nil
}

func (cfg BuildConfig) outputBasename(srcPath string) string {
	if cfg.SingleCSource && !cfg.HasRootModule && cfg.IsObjOutput && !cfg.OtherLinkObjects {
		return cfg.RootName + cfg.ObjectExt
	}
	stem := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	return stem + cfg.ObjectExt
}

// invokeClang runs the child compiler in passthrough or captured mode,
// directing its object output to <OutDir>/<basename> so a subsequent
// WriteManifest can hand it to the cache store under its own basename.
func (cfg BuildConfig) invokeClang(slot *Slot, manifest *cache.Manifest, basename, depPath string) error {
	args := AddCCArgs(withDep(cfg.Args, depPath))
	outObj := filepath.Join(cfg.OutDir, basename)

	fullArgs := append([]string{"-c", slot.SrcPath}, args...)
	if cfg.Preprocessor == PreprocessorOff {
		fullArgs = append(fullArgs, "-o", outObj)
	}
	fullArgs = append(fullArgs, slot.ExtraFlags...)

	cmd := exec.Command(cfg.ClangPath, fullArgs...)

	if cfg.Passthrough {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			if cfg.Preprocessor == PreprocessorStdout {
				return err
			}
			os.Exit(1)
		}
		if cfg.Preprocessor == PreprocessorStdout {
			os.Exit(0)
		}
	} else {
		var stdout, stderr strings.Builder
		cmd.Stdout = &stdout
		cmd.Stderr = &limitedWriter{limit: maxCapturedStderr, buf: &stderr}
		if err := cmd.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				slot.setFailure("clang exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
				return nil
			}
			slot.setFailure("clang terminated unexpectedly: %v", err)
			return nil
		}
	}

	if depPath != "" {
		if _, statErr := os.Stat(depPath); statErr == nil {
			if err := manifest.AddDepFilePost(filepath.Dir(depPath), filepath.Base(depPath)); err != nil {
				return fmt.Errorf("cobj: ingest dep file: %w", err)
			}
			os.Remove(depPath)
		}
	}

	if cfg.Preprocessor == PreprocessorOff {
		if _, statErr := os.Stat(outObj); statErr != nil {
			slot.setFailure("clang did not produce an object file: %v", statErr)
		}
	}

	return nil
}

func withDep(in CCArgsInput, depPath string) CCArgsInput {
	in.DepPath = depPath
	return in
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// limitedWriter caps how much stderr is buffered from the child
// process, matching maxCapturedStderr.
type limitedWriter struct {
	limit int
	n     int
	buf   *strings.Builder
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.n >= w.limit {
		return len(p), nil
	}
	room := w.limit - w.n
	if len(p) > room {
		w.buf.Write(p[:room])
		w.n = w.limit
		return len(p), nil
	}
	w.buf.Write(p)
	w.n += len(p)
	return len(p), nil
}
