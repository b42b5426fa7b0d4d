// Package ctranslate implements the C-import translator: translating a
// C source blob into equivalent target-language source, cached
// exactly like a C object.
//
// The actual translation logic — parsing C and emitting target-language
// AST — is an opaque front-end concern out of scope for this package,
// which only owns the caching transaction around it: Translator is the
// narrow interface a real front end would implement.
//
// Follows internal/cobj/build.go's manifest transaction shape (obtain
// -> add inputs -> hit -> invoke-on-miss -> final -> write), reused
// here since this component is cached the same way a C object is.
package ctranslate

import (
	"fmt"
	"os"
	"path/filepath"

	"forge/internal/cache"
)

// Translator is the opaque C-to-target-language front end.
type Translator interface {
	Translate(srcPath string, args []string) ([]byte, error)
}

// Config carries the cache root and base hash fields shared with every
// other cached artifact kind.
type Config struct {
	Store    *cache.Store
	Base     map[string]string
	OutDir   string
	Front    Translator
}

// Result mirrors a C-object Success payload: an on-disk path plus the
// artifact lock guarding it.
type Result struct {
	OutputPath string
	Lock       *cache.Lock
}

// Release drops the held lock, if any.
func (r *Result) Release() {
	if r == nil {
		return
	}
	r.Lock.Release()
	r.Lock = nil
}

// Translate runs the cached-translation transaction for one C source
// file: on a cache hit, the previously translated file is reused
// without invoking the front end at all.
func Translate(cfg Config, srcPath string, args []string) (Result, error) {
	base := make(map[string]string, len(cfg.Base)+1)
	for k, v := range cfg.Base {
		base[k] = v
	}
	base["kind"] = "ctranslate"

	manifest := cfg.Store.Obtain(base)
	manifest.AddFile(srcPath)
	for _, a := range args {
		manifest.AddBytes([]byte(a))
	}

	basename := filepath.Base(srcPath) + ".translated"
	outPath := filepath.Join(cfg.OutDir, basename)

	hit, err := manifest.Hit()
	if err != nil {
		return Result{}, fmt.Errorf("ctranslate: manifest hit: %w", err)
	}

	if !hit {
		out, err := cfg.Front.Translate(srcPath, args)
		if err != nil {
			return Result{}, fmt.Errorf("ctranslate: translate %s: %w", srcPath, err)
		}
		if err := os.WriteFile(outPath, out, 0o644); err != nil {
			return Result{}, fmt.Errorf("ctranslate: write output: %w", err)
		}
	}

	digest, lock, err := manifest.Final()
	if err != nil {
		return Result{}, fmt.Errorf("ctranslate: finalize manifest: %w", err)
	}
	cachedPath := cfg.Store.ObjectPath(digest, basename)
	if err := manifest.WriteManifest(map[string]string{"translated": outPath}, nil); err != nil {
		lock.Release()
		return Result{}, fmt.Errorf("ctranslate: write manifest: %w", err)
	}

	return Result{OutputPath: cachedPath, Lock: lock}, nil
}
