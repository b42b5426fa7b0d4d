package diagsink

import (
	"strings"
	"testing"
)

func TestBagAddfIncrementsErrorCount(t *testing.T) {
	b := NewBag()
	b.Addf("bad thing: %d", 42)
	if got := b.TotalErrorCount(); got != 1 {
		t.Fatalf("TotalErrorCount() = %d, want 1", got)
	}
	if !b.HasErrors() {
		t.Fatalf("expected HasErrors() true")
	}
}

func TestBagIgnoresNonErrorSeverityInCount(t *testing.T) {
	b := NewBag()
	b.Add(Diagnostic{Severity: SevWarning, Message: "warn"})
	b.Add(Diagnostic{Severity: SevInfo, Message: "info"})
	if got := b.TotalErrorCount(); got != 0 {
		t.Fatalf("TotalErrorCount() = %d, want 0", got)
	}
	if b.HasErrors() {
		t.Fatalf("expected HasErrors() false for only warnings/info")
	}
}

func TestNoEntryPointFoundExclusiveWithJobErrors(t *testing.T) {
	b := NewBag()
	b.SetNoEntryPointFound()
	if !b.NoEntryPointFound() {
		t.Fatalf("expected NoEntryPointFound() true with no other errors")
	}

	b.Addf("some other error")
	if b.NoEntryPointFound() {
		t.Fatalf("expected NoEntryPointFound() to be suppressed once a job error exists")
	}
}

func TestClearLinkerFlagsResetsState(t *testing.T) {
	b := NewBag()
	b.SetNoEntryPointFound()
	b.ClearLinkerFlags()
	if b.NoEntryPointFound() {
		t.Fatalf("expected NoEntryPointFound() false after ClearLinkerFlags")
	}
}

func TestItemsReturnsAccumulatedDiagnostics(t *testing.T) {
	b := NewBag()
	b.Addf("first")
	b.Addf("second")
	if got := len(b.Items()); got != 2 {
		t.Fatalf("len(Items()) = %d, want 2", got)
	}
}

func TestDiagnosticStringWithAndWithoutPosition(t *testing.T) {
	d := New("boom")
	if !strings.Contains(d.String(), "boom") {
		t.Fatalf("String() = %q, want it to contain the message", d.String())
	}

	withPos := Diagnostic{Severity: SevError, Message: "boom", Pos: &Position{File: "a.c", Line: 3, Column: 5}}
	got := withPos.String()
	if !strings.Contains(got, "a.c:3:5") {
		t.Fatalf("String() = %q, want it to contain the resolved position", got)
	}
}

func TestWriteSummaryReportsFailOnErrors(t *testing.T) {
	b := NewBag()
	b.Addf("broken")
	var buf strings.Builder
	WriteSummary(&buf, b)
	if !strings.Contains(buf.String(), "FAIL") {
		t.Fatalf("WriteSummary() = %q, want it to report FAIL", buf.String())
	}
}

func TestWriteSummaryReportsOKWithNoErrors(t *testing.T) {
	b := NewBag()
	var buf strings.Builder
	WriteSummary(&buf, b)
	if !strings.Contains(buf.String(), "OK") {
		t.Fatalf("WriteSummary() = %q, want it to report OK", buf.String())
	}
}

func TestWriteSummaryCountsNoEntryPointAsAnError(t *testing.T) {
	b := NewBag()
	b.SetNoEntryPointFound()
	var buf strings.Builder
	WriteSummary(&buf, b)
	out := buf.String()
	if !strings.Contains(out, "no entry point found") {
		t.Fatalf("WriteSummary() = %q, want the no-entry-point diagnostic", out)
	}
	if !strings.Contains(out, "FAIL") {
		t.Fatalf("WriteSummary() = %q, want FAIL since no-entry-point counts as an error", out)
	}
}
