package diagsink

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	errorTag = color.New(color.BgRed, color.FgWhite).SprintFunc()
	warnTag  = color.New(color.BgYellow, color.FgBlack).SprintFunc()
	infoTag  = color.New(color.BgGreen, color.FgBlack).SprintFunc()
	dimText  = color.New(color.FgHiBlack).SprintFunc()
)

// tag renders the colored severity banner as an " ERROR "/" WARN "/" INFO " prefix.
func tag(s Severity) string {
	switch s {
	case SevError:
		return errorTag(" ERROR ")
	case SevWarning:
		return warnTag(" WARN ")
	default:
		return infoTag(" INFO ")
	}
}

// WriteDiagnostic renders a single diagnostic to w.
func WriteDiagnostic(w io.Writer, d Diagnostic) {
	if d.Pos != nil {
		fmt.Fprintf(w, "%s %s:%d:%d %s\n", tag(d.Severity), d.Pos.File, d.Pos.Line, d.Pos.Column, d.Message)
	} else {
		fmt.Fprintf(w, "%s %s\n", tag(d.Severity), d.Message)
	}
}

// WriteSummary renders the bag's contents followed by a pass/fail tally.
func WriteSummary(w io.Writer, b *Bag) {
	for _, d := range b.Items() {
		WriteDiagnostic(w, d)
	}

	errs := b.TotalErrorCount()
	if b.NoEntryPointFound() {
		WriteDiagnostic(w, New("no entry point found"))
		errs++
	}

	if errs == 0 {
		fmt.Fprintln(w, infoTag(" OK "), dimText("build succeeded"))
	} else {
		fmt.Fprintln(w, errorTag(" FAIL "), dimText(fmt.Sprintf("%d error(s)", errs)))
	}
}
