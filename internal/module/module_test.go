package module

import (
	"errors"
	"testing"
)

func TestLoadRootSourceBumpsGenerationAndSetsLoaded(t *testing.T) {
	m := New()
	if m.Loaded {
		t.Fatalf("expected fresh module to be unloaded")
	}
	m.LoadRootSource()
	if !m.Loaded {
		t.Fatalf("expected LoadRootSource to set Loaded")
	}
	if m.Generation != 1 {
		t.Fatalf("Generation = %d, want 1", m.Generation)
	}
	m.UnloadRootSource()
	if m.Loaded {
		t.Fatalf("expected UnloadRootSource to clear Loaded")
	}
	m.LoadRootSource()
	if m.Generation != 2 {
		t.Fatalf("Generation = %d, want 2 after second load", m.Generation)
	}
}

func TestEnsureDeclAnalyzedSkipsAlreadyComplete(t *testing.T) {
	calls := 0
	m := New()
	m.Analyze = func(*Decl) error { calls++; return nil }

	d := &Decl{Name: "x", Analysis: StateComplete}
	if err := m.EnsureDeclAnalyzed(d); err != nil {
		t.Fatalf("EnsureDeclAnalyzed: %v", err)
	}
	if calls != 0 {
		t.Fatalf("Analyze called %d times, want 0 for an already-complete decl", calls)
	}
}

func TestEnsureDeclAnalyzedMarksSemaFailureOnError(t *testing.T) {
	m := New()
	wantErr := errors.New("boom")
	m.Analyze = func(*Decl) error { return wantErr }

	d := &Decl{Name: "x"}
	err := m.EnsureDeclAnalyzed(d)
	var fail *AnalysisFail
	if !errors.As(err, &fail) {
		t.Fatalf("err = %v, want *AnalysisFail", err)
	}
	if d.Analysis != StateSemaFailure {
		t.Fatalf("Analysis = %v, want StateSemaFailure", d.Analysis)
	}
}

func TestEnsureDeclAnalyzedMarksCompleteOnSuccess(t *testing.T) {
	m := New()
	d := &Decl{Name: "x"}
	if err := m.EnsureDeclAnalyzed(d); err != nil {
		t.Fatalf("EnsureDeclAnalyzed: %v", err)
	}
	if d.Analysis != StateComplete {
		t.Fatalf("Analysis = %v, want StateComplete", d.Analysis)
	}
}

func TestDependantTracking(t *testing.T) {
	a := &Decl{Name: "a"}
	b := &Decl{Name: "b"}
	if a.HasDependants() {
		t.Fatalf("fresh decl should have no dependants")
	}
	a.AddDependant(b)
	if !a.HasDependants() {
		t.Fatalf("expected HasDependants true after AddDependant")
	}
	a.RemoveDependant(b)
	if a.HasDependants() {
		t.Fatalf("expected HasDependants false after RemoveDependant")
	}
}

func TestSweepDeletionsRemovesOnlyUnreferencedMarkedDecls(t *testing.T) {
	m := New()
	kept := &Decl{Name: "kept"}
	deletedNoDeps := &Decl{Name: "deleted", MarkedDelete: true}
	keptButMarked := &Decl{Name: "referenced", MarkedDelete: true}
	dependant := &Decl{Name: "dependant"}
	keptButMarked.AddDependant(dependant)

	m.Decls = []*Decl{kept, deletedNoDeps, keptButMarked}
	m.SweepDeletions()

	if len(m.Decls) != 2 {
		t.Fatalf("len(Decls) = %d, want 2, got %+v", len(m.Decls), m.Decls)
	}
	for _, d := range m.Decls {
		if d.Name == "deleted" {
			t.Fatalf("expected the unreferenced marked decl to be removed")
		}
		if d.MarkedDelete {
			t.Fatalf("expected surviving decls to have MarkedDelete cleared: %s", d.Name)
		}
	}
}
