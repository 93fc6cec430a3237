// Package config loads the configuration of a generation run from CUE or
// YAML files.
//
// CUE files are unified with an embedded schema before decoding, so type
// and constraint violations are reported with their source position. YAML
// files are decoded strictly: unknown keys are errors. Command-line flags
// override file values; Validate checks the merged result.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/instantiate"
	"github.com/roach88/cxxada/internal/ir"
	"github.com/roach88/cxxada/internal/naming"
)

// Config is the configuration of one generation run.
type Config struct {
	// Headers are parsed in order.
	Headers []string `json:"headers" yaml:"headers"`

	// Roots are the headers whose parse errors fail the run. Errors in
	// other headers only skip the declaration they occur in. Defaults to
	// every header.
	Roots []string `json:"roots,omitempty" yaml:"roots,omitempty"`

	// Output is the directory the units are written to.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	RootPackage   string `json:"root_package,omitempty" yaml:"root_package,omitempty"`
	GlobalPackage string `json:"global_package,omitempty" yaml:"global_package,omitempty"`
	DataModel     string `json:"data_model,omitempty" yaml:"data_model,omitempty"`
	MaxDepth      int    `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`

	// Jobs bounds parallel work; 0 means GOMAXPROCS.
	Jobs  int  `json:"jobs,omitempty" yaml:"jobs,omitempty"`
	SPARK bool `json:"spark,omitempty" yaml:"spark,omitempty"`

	// Database, when set, is the symbol database the run is recorded in.
	Database string `json:"database,omitempty" yaml:"database,omitempty"`

	// Reference is a symbol list (nm output) or symbol database to compare
	// the resolved symbols against.
	Reference string `json:"reference,omitempty" yaml:"reference,omitempty"`
}

// Default values.
const (
	DefaultOutput    = "ada"
	DefaultDataModel = "lp64"
)

// Defaults returns a configuration with every default applied.
func Defaults() Config {
	return Config{
		Output:    DefaultOutput,
		DataModel: DefaultDataModel,
		MaxDepth:  instantiate.DefaultMaxDepth,
	}
}

// applyDefaults fills the fields left unset.
func (c *Config) applyDefaults() {
	d := Defaults()
	if c.Output == "" {
		c.Output = d.Output
	}
	if c.DataModel == "" {
		c.DataModel = d.DataModel
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = d.MaxDepth
	}
}

// resolve makes relative paths relative to dir, the directory of the
// configuration file.
func (c *Config) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	for i := range c.Headers {
		c.Headers[i] = abs(c.Headers[i])
	}
	for i := range c.Roots {
		c.Roots[i] = abs(c.Roots[i])
	}
	c.Output = abs(c.Output)
	c.Database = abs(c.Database)
	c.Reference = abs(c.Reference)
}

// Model returns the data model the configuration names.
func (c *Config) Model() (*abi.DataModel, error) {
	return abi.ByName(c.DataModel)
}

// IsRoot reports whether header is a root header.
func (c *Config) IsRoot(header string) bool {
	if len(c.Roots) == 0 {
		return true
	}
	for _, r := range c.Roots {
		if r == header {
			return true
		}
	}
	return false
}

// Validate checks the configuration. Every problem is reported, joined.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Headers) == 0 {
		errs = append(errs, &Error{Code: ErrCodeNoHeaders, Field: "headers", Message: "no headers given"})
	}
	for _, r := range c.Roots {
		found := false
		for _, h := range c.Headers {
			if h == r {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, &Error{Code: ErrCodeInvalidField, Field: "roots",
				Message: fmt.Sprintf("root %s is not among the headers", r)})
		}
	}
	if _, err := abi.ByName(c.DataModel); err != nil {
		errs = append(errs, &Error{Code: ErrCodeInvalidField, Field: "data_model", Message: err.Error()})
	}
	if c.MaxDepth < 0 {
		errs = append(errs, &Error{Code: ErrCodeInvalidField, Field: "max_depth",
			Message: fmt.Sprintf("must not be negative, got %d", c.MaxDepth)})
	}
	if c.Jobs < 0 {
		errs = append(errs, &Error{Code: ErrCodeInvalidField, Field: "jobs",
			Message: fmt.Sprintf("must not be negative, got %d", c.Jobs)})
	}
	if c.RootPackage != "" {
		for _, seg := range strings.Split(c.RootPackage, ".") {
			if !naming.IsValidIdentifier(seg) || naming.IsReserved(seg) {
				errs = append(errs, &Error{Code: ErrCodeInvalidField, Field: "root_package",
					Message: fmt.Sprintf("%q is not an Ada package name", c.RootPackage)})
				break
			}
		}
	}
	if c.GlobalPackage != "" && (!naming.IsValidIdentifier(c.GlobalPackage) || naming.IsReserved(c.GlobalPackage)) {
		errs = append(errs, &Error{Code: ErrCodeInvalidField, Field: "global_package",
			Message: fmt.Sprintf("%q is not an Ada identifier", c.GlobalPackage)})
	}
	return errors.Join(errs...)
}

// Digest identifies the settings that shape the output. Paths of the
// output directory, database and reference are left out.
func (c *Config) Digest() string {
	headers := append([]string(nil), c.Headers...)
	roots := append([]string(nil), c.Roots...)
	return ir.MustDigest(ir.DomainRun, map[string]any{
		"headers":        headers,
		"roots":          roots,
		"root_package":   c.RootPackage,
		"global_package": c.GlobalPackage,
		"data_model":     c.DataModel,
		"max_depth":      c.MaxDepth,
		"spark":          c.SPARK,
	})
}
