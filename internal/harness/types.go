package harness

import (
	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/pipeline"
)

// Result is the outcome of running a case.
type Result struct {
	// Name of the case.
	Name string `json:"name"`

	// Pass is true if every expectation held.
	Pass bool `json:"pass"`

	// Skipped is set when a validation case could not run because a tool
	// is missing; SkipReason says which.
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`

	// Errors are the failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`

	// Comparison is set by the validation tier.
	Comparison *Comparison `json:"comparison,omitempty"`

	// Run is the pipeline output the expectations were checked against.
	Run *pipeline.Result `json:"-"`
}

// NewResult creates a passing result for the named case.
func NewResult(name string) *Result {
	return &Result{
		Name:   name,
		Pass:   true,
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Skip marks the result as skipped. A skipped result still passes.
func (r *Result) Skip(reason string) {
	r.Skipped = true
	r.SkipReason = reason
}
