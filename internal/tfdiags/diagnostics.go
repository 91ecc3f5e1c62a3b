// Package tfdiags is a trimmed reimplementation of the severity-tagged
// diagnostics contract: just enough to carry human-readable, severity-
// tagged failures out of a preparation step that must stop before any
// state changes, without collapsing them into a single error string.
package tfdiags

import "strings"

// Severity classifies a Diagnostic. Only Error severity causes
// Diagnostics.HasErrors to report true; Warning diagnostics are
// informational.
type Severity int

const (
	Error Severity = iota
	Warning
)

func (s Severity) String() string {
	switch s {
	case Error:
		return "Error"
	case Warning:
		return "Warning"
	default:
		return "Unknown"
	}
}

// Diagnostic is one severity-tagged, human-readable failure or warning.
// It carries no source location; this package has no notion of a
// manifest or source file to point at.
type Diagnostic struct {
	Severity Severity
	Summary  string
	Detail   string
}

// Error satisfies the error interface so a single Diagnostic can be
// returned or wrapped wherever a plain error is expected.
func (d Diagnostic) Error() string {
	if d.Detail == "" {
		return d.Summary
	}
	return d.Summary + ": " + d.Detail
}

// Sourceless constructs a Diagnostic that has no associated source
// location, which is the only kind this package produces.
func Sourceless(severity Severity, summary, detail string) Diagnostic {
	return Diagnostic{Severity: severity, Summary: summary, Detail: detail}
}

// Diagnostics is an ordered collection of Diagnostic values.
type Diagnostics []Diagnostic

// Append returns d with new appended. Diagnostics is deliberately a value
// type so Append composes the way append() does: callers must assign the
// result back.
func (d Diagnostics) Append(new ...Diagnostic) Diagnostics {
	return append(d, new...)
}

// HasErrors reports whether any diagnostic in d has Error severity.
func (d Diagnostics) HasErrors() bool {
	for _, diag := range d {
		if diag.Severity == Error {
			return true
		}
	}
	return false
}

// Err returns d as an error if it HasErrors, or nil otherwise.
func (d Diagnostics) Err() error {
	if !d.HasErrors() {
		return nil
	}
	return d
}

// Error joins every diagnostic's message, one per line.
func (d Diagnostics) Error() string {
	lines := make([]string, len(d))
	for i, diag := range d {
		lines[i] = diag.Severity.String() + ": " + diag.Error()
	}
	return strings.Join(lines, "\n")
}
