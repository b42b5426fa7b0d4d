// Package diagsink implements the driver's error record (component D)
// and error aggregator (component O): per-job failures are captured as
// Diagnostics rather than aborting the compilation, and are collected
// into a single reportable Bag once Update() finishes draining the
// queue.
//
// Severity/Diagnostic/Bag carry a byte offset instead of a lexer
// source.Span, since this driver has no lexer of its own (positions
// come from a dep-file line/column, not a parsed token stream).
package diagsink

import "fmt"

// Severity is the importance of a diagnostic.
type Severity uint8

const (
	SevInfo Severity = iota
	SevWarning
	SevError
)

func (s Severity) String() string {
	switch s {
	case SevInfo:
		return "info"
	case SevWarning:
		return "warning"
	case SevError:
		return "error"
	default:
		return "unknown"
	}
}

// Position resolves a byte offset to file/line/column for display,
// filled in lazily since most diagnostics never need to be shown.
type Position struct {
	File   string
	Line   int
	Column int
}

// Diagnostic is a single reportable error or warning, keyed by the byte
// offset into the artifact that produced it.
type Diagnostic struct {
	Severity   Severity
	ByteOffset int64
	Message    string
	Pos        *Position // nil until resolved
}

func (d Diagnostic) String() string {
	if d.Pos != nil {
		return fmt.Sprintf("%s:%d:%d: %s: %s", d.Pos.File, d.Pos.Line, d.Pos.Column, d.Severity, d.Message)
	}
	return fmt.Sprintf("<offset %d>: %s: %s", d.ByteOffset, d.Severity, d.Message)
}

// New builds a plain error diagnostic with no resolved position.
func New(message string, args ...any) Diagnostic {
	return Diagnostic{Severity: SevError, Message: fmt.Sprintf(message, args...)}
}
