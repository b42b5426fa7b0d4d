// Package module models the opaque root-module / declaration-graph
// collaborator: the language module's semantic analyzer and IR
// generator, invoked as an opaque "analyze declaration" / "codegen
// declaration" service external to the driver core.
//
// The driver core only ever needs a narrow slice of this collaborator's
// behavior (the CodegenDecl/AnalyzeDecl/UpdateLineNumber jobs, the
// generation counter and root-source load/unload, and the module's
// deletion-set sweep). This package defines that slice as a minimal
// in-memory concrete type with pluggable analyze/codegen hooks, so
// internal/driver is independently testable without a real front end.
package module

// AnalysisState is the declaration analysis state machine referenced
// by the CodegenDecl dispatch table.
type AnalysisState int

const (
	StateUnreferenced AnalysisState = iota
	StateQueued
	StateInProgress
	StateComplete
	StateOutdated
	StateSemaFailure
	StateCodegenFailure
	StateCodegenFailureRetryable
	StateDependencyFailure
)

// AnalysisFail is returned by Ensure/Codegen calls when the underlying
// analysis failed; the caller records the failure and continues rather
// than propagating it.
type AnalysisFail struct{ Err error }

func (e *AnalysisFail) Error() string { return "analysis failed: " + e.Err.Error() }

// Decl is one declaration in the module's dependency graph.
type Decl struct {
	Name         string
	Analysis     AnalysisState
	IsFunction   bool
	MarkedDelete bool
	dependants   map[*Decl]struct{}
}

func (d *Decl) AddDependant(other *Decl) {
	if d.dependants == nil {
		d.dependants = make(map[*Decl]struct{})
	}
	d.dependants[other] = struct{}{}
}

func (d *Decl) RemoveDependant(other *Decl) {
	delete(d.dependants, other)
}

func (d *Decl) HasDependants() bool {
	return len(d.dependants) > 0
}

// AnalyzeFunc and CodegenFunc are pluggable hooks a test or a real
// front end supplies; the zero value marks every declaration complete
// immediately.
type AnalyzeFunc func(*Decl) error
type CodegenFunc func(*Decl) error

// Module is the opaque collaborator: a generation-counted graph of
// declarations plus a loaded/unloaded root source flag.
type Module struct {
	Generation int
	Loaded     bool
	Decls      []*Decl

	Analyze AnalyzeFunc
	Codegen CodegenFunc
}

// New creates an empty module with no-op analyze/codegen hooks.
func New() *Module {
	return &Module{
		Analyze: func(*Decl) error { return nil },
		Codegen: func(*Decl) error { return nil },
	}
}

// LoadRootSource marks the module loaded and bumps the generation
// counter. The driver's Update loop does not call it: it bumps
// Generation itself, then unloads and re-analyzes the root container.
func (m *Module) LoadRootSource() {
	m.Generation++
	m.Loaded = true
}

// UnloadRootSource reclaims the loaded source.
func (m *Module) UnloadRootSource() {
	m.Loaded = false
}

// EnsureDeclAnalyzed runs the module's analyze hook for one decl,
// wrapping the sentinel AnalysisFail error so callers can special-case
// it in the AnalyzeDecl dispatch row.
func (m *Module) EnsureDeclAnalyzed(d *Decl) error {
	if d.Analysis == StateComplete {
		return nil
	}
	if err := m.Analyze(d); err != nil {
		d.Analysis = StateSemaFailure
		return &AnalysisFail{Err: err}
	}
	d.Analysis = StateComplete
	return nil
}

// CodegenDecl runs the module's codegen hook for one decl.
func (m *Module) CodegenDecl(d *Decl) error {
	return m.Codegen(d)
}

// SweepDeletions removes any declaration marked for deletion whose
// dependant set is empty from the graph; others have their deletion
// flag cleared.
func (m *Module) SweepDeletions() {
	kept := m.Decls[:0]
	for _, d := range m.Decls {
		if d.MarkedDelete && !d.HasDependants() {
			continue
		}
		d.MarkedDelete = false
		kept = append(kept, d)
	}
	m.Decls = kept
}
