package instantiate

import (
	"errors"
	"fmt"

	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/ir"
)

// Failure explains why an instance could not be materialized.
//
// Failures are per key: the instance is withdrawn from the module, and so is
// every instance that contains it by value. Instances that only point to it
// survive.
type Failure struct {
	// Kind is the diagnostic category.
	Kind diag.Kind

	// Code is the E3xx diagnostic code.
	Code string

	// Key identifies the failed instance. It is the request key when the
	// arguments could not be normalized.
	Key ir.InstanceKey

	// Message is a human-readable description.
	Message string

	// Cause is the failed instance at the bottom of a containment chain
	// when this instance failed only because it contains it by value.
	Cause ir.InstanceKey
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Key != "" {
		return fmt.Sprintf("[%s] %s: %s", f.Code, f.Key, f.Message)
	}
	return fmt.Sprintf("[%s] %s", f.Code, f.Message)
}

// Diagnostic converts the failure for the run report. from names the
// declaration or instance whose use required the key.
func (f *Failure) Diagnostic(loc ir.Location, from string) diag.Diagnostic {
	msg := f.Message
	if from != "" {
		msg += " (required by " + from + ")"
	}
	return diag.Errorf(f.Kind, f.Code, string(f.Key), loc, "%s", msg)
}

func failf(kind diag.Kind, code string, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCycle reports whether err is an instantiation cycle, including an
// exceeded depth limit.
func IsCycle(err error) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind == diag.InstantiationCycle
	}
	var de *DepthExceededError
	return errors.As(err, &de)
}

// IsAmbiguous reports whether err is an ambiguous specialization choice.
func IsAmbiguous(err error) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind == diag.AmbiguousSpecialization
	}
	return false
}
