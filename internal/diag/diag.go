// Package diag collects structured diagnostics for one generation run.
//
// Every stage reports into a shared Report instead of aborting; the run
// fails at the end if the report holds any error.
package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/cxxada/internal/ir"
)

// Kind is the diagnostic taxonomy.
type Kind string

const (
	ParseError              Kind = "ParseError"
	ValidationError         Kind = "ValidationError"
	AmbiguousSpecialization Kind = "AmbiguousSpecialization"
	InstantiationCycle      Kind = "InstantiationCycle"
	InstantiationFailed     Kind = "InstantiationFailed"
	UnsupportedLayout       Kind = "UnsupportedLayout"
	EmissionNameCollision   Kind = "EmissionNameCollision"
)

// Diagnostic codes. E1xx structural validation codes live in the compiler.
const (
	CodeParse         = "E200"
	CodeRootParse     = "E201"
	CodeAmbiguous     = "E300"
	CodeCycle         = "E301"
	CodeDepth         = "E302"
	CodeDependent     = "E303"
	CodeNoTemplate    = "E304"
	CodeArgCount      = "E305"
	CodeDeduction     = "E306"
	CodeLayout        = "E400"
	CodeOpaqueByValue = "E401"
	CodeSymbolClash   = "E402"
	CodeCollision     = "E500"
	CodePackageCycle  = "E501"
)

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one structured error record.
type Diagnostic struct {
	Kind     Kind        `json:"kind"`
	Code     string      `json:"code"`
	Severity Severity    `json:"severity"`
	Path     string      `json:"path,omitempty"`
	Loc      ir.Location `json:"loc"`
	Message  string      `json:"message"`
}

// Error implements the error interface.
func (d Diagnostic) Error() string {
	var b strings.Builder
	if d.Loc.File != "" {
		b.WriteString(d.Loc.String())
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%s [%s] %s", d.Severity, d.Code, d.Kind)
	if d.Path != "" {
		fmt.Fprintf(&b, " %s", d.Path)
	}
	b.WriteString(": ")
	b.WriteString(d.Message)
	return b.String()
}

// IsError reports whether the diagnostic fails the run.
func (d Diagnostic) IsError() bool { return d.Severity != SeverityWarning }

// Errorf builds an error diagnostic.
func Errorf(kind Kind, code, path string, loc ir.Location, format string, args ...any) Diagnostic {
	return Diagnostic{
		Kind:     kind,
		Code:     code,
		Severity: SeverityError,
		Path:     path,
		Loc:      loc,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Warnf builds a warning diagnostic.
func Warnf(kind Kind, code, path string, loc ir.Location, format string, args ...any) Diagnostic {
	d := Errorf(kind, code, path, loc, format, args...)
	d.Severity = SeverityWarning
	return d
}

// Report accumulates diagnostics from concurrent stages.
type Report struct {
	mu    sync.Mutex
	items []Diagnostic
	seen  map[Diagnostic]bool
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{seen: make(map[Diagnostic]bool)}
}

// Add records diagnostics. Duplicates equal in every field are dropped;
// the rendered text is not a key since it omits a location without a file.
func (r *Report) Add(ds ...Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range ds {
		if r.seen[d] {
			continue
		}
		r.seen[d] = true
		r.items = append(r.items, d)
	}
}

// Items returns every diagnostic in stable order: errors first, then by
// location, path and code.
func (r *Report) Items() []Diagnostic {
	r.mu.Lock()
	out := append([]Diagnostic(nil), r.items...)
	r.mu.Unlock()
	Sort(out)
	return out
}

// Sort orders diagnostics deterministically.
func Sort(ds []Diagnostic) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.IsError() != b.IsError() {
			return a.IsError()
		}
		if a.Loc.File != b.Loc.File {
			return a.Loc.File < b.Loc.File
		}
		if a.Loc.Line != b.Loc.Line {
			return a.Loc.Line < b.Loc.Line
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Message < b.Message
	})
}

// HasErrors reports whether any error-severity diagnostic was recorded.
func (r *Report) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.items {
		if d.IsError() {
			return true
		}
	}
	return false
}

// Errors returns only error-severity diagnostics.
func (r *Report) Errors() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Items() {
		if d.IsError() {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of recorded diagnostics.
func (r *Report) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Err returns a *BatchError holding every error diagnostic, or nil.
func (r *Report) Err() error {
	errs := r.Errors()
	if len(errs) == 0 {
		return nil
	}
	return &BatchError{Diagnostics: errs}
}

// WriteText writes one diagnostic per line.
func (r *Report) WriteText(w io.Writer) error {
	for _, d := range r.Items() {
		if _, err := fmt.Fprintln(w, d.Error()); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON writes the diagnostics as a JSON array.
func (r *Report) WriteJSON(w io.Writer) error {
	items := r.Items()
	if items == nil {
		items = []Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// BatchError is the end-of-run failure: the complete list of unresolved
// declarations and reasons.
type BatchError struct {
	Diagnostics []Diagnostic
}

func (e *BatchError) Error() string {
	if len(e.Diagnostics) == 1 {
		return e.Diagnostics[0].Error()
	}
	return fmt.Sprintf("%d errors; first: %s", len(e.Diagnostics), e.Diagnostics[0].Error())
}

// Kinds returns the distinct kinds present, sorted.
func Kinds(ds []Diagnostic) []Kind {
	set := make(map[Kind]bool)
	for _, d := range ds {
		set[d.Kind] = true
	}
	out := make([]Kind, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
