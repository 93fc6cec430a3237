package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tier selects how far a case runs.
type Tier string

const (
	TierParser      Tier = "parser"
	TierUnit        Tier = "unit"
	TierIntegration Tier = "integration"
	TierValidation  Tier = "validation"
)

// Case is one verification case.
type Case struct {
	// Name identifies the case and its golden file.
	Name string `yaml:"name"`

	// Description says what the case checks.
	Description string `yaml:"description"`

	Tier Tier `yaml:"tier"`

	// Source is an inline header, parsed as <name>.hpp.
	Source string `yaml:"source,omitempty"`

	// Headers are header files relative to the case file.
	Headers []string `yaml:"headers,omitempty"`

	// Roots restricts the headers whose parse errors are fatal.
	Roots []string `yaml:"roots,omitempty"`

	Options CaseOptions `yaml:"options,omitempty"`

	// Reference is C++ code compiled after the headers for the
	// validation tier, typically explicit instantiations and definitions
	// that make the compiler emit the symbols under test.
	Reference string `yaml:"reference,omitempty"`

	Expect Expect `yaml:"expect"`
}

// CaseOptions override the run configuration.
type CaseOptions struct {
	RootPackage   string `yaml:"root_package,omitempty"`
	GlobalPackage string `yaml:"global_package,omitempty"`
	DataModel     string `yaml:"data_model,omitempty"`
	MaxDepth      int    `yaml:"max_depth,omitempty"`
	SPARK         bool   `yaml:"spark,omitempty"`
}

// Expect lists what the run must produce. Every field is optional; an
// empty Expect only requires the case to run.
type Expect struct {
	// Clean requires a run without error diagnostics.
	Clean bool `yaml:"clean,omitempty"`

	// Diagnostics are kinds or codes that must each be reported.
	Diagnostics []string `yaml:"diagnostics,omitempty"`

	// Decls are qualified names that must be declared.
	Decls []string `yaml:"decls,omitempty"`

	// Instances are the exact instance keys, in any order.
	Instances []string `yaml:"instances,omitempty"`

	// Symbols maps declaration IDs to their external names.
	Symbols map[string]string `yaml:"symbols,omitempty"`

	Layouts map[string]LayoutExpect `yaml:"layouts,omitempty"`

	// Units are the file names that must be generated.
	Units []string `yaml:"units,omitempty"`

	// Emitted maps package names to substrings of their spec.
	Emitted map[string][]string `yaml:"emitted,omitempty"`
}

// LayoutExpect checks a class layout. Zero sizes are not checked.
type LayoutExpect struct {
	Size   int64            `yaml:"size,omitempty"`
	Align  int64            `yaml:"align,omitempty"`
	Fields map[string]int64 `yaml:"fields,omitempty"`
}

// HeaderName is the name an inline source is parsed under.
func (c *Case) HeaderName() string {
	return c.Name + ".hpp"
}

// LoadCase reads and validates a case file. Header paths are resolved
// relative to the file.
func LoadCase(path string) (*Case, error) {
	return LoadCaseWithBasePath(path, filepath.Dir(path))
}

// LoadCaseWithBasePath reads a case file, resolving header paths relative
// to basePath.
func LoadCaseWithBasePath(path, basePath string) (*Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case file: %w", err)
	}

	var c Case
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, h := range c.Headers {
		if !filepath.IsAbs(h) && basePath != "" {
			c.Headers[i] = filepath.Join(basePath, h)
		}
	}
	for i, r := range c.Roots {
		if !filepath.IsAbs(r) && basePath != "" {
			c.Roots[i] = filepath.Join(basePath, r)
		}
	}

	if err := validateCase(&c); err != nil {
		return nil, fmt.Errorf("invalid case %s: %w", path, err)
	}
	return &c, nil
}

// LoadCases loads every *.yaml and *.yml file in dir, sorted by file
// name.
func LoadCases(dir string) ([]*Case, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read case directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	cases := make([]*Case, 0, len(names))
	seen := make(map[string]string)
	for _, name := range names {
		c, err := LoadCase(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[c.Name]; ok {
			return nil, fmt.Errorf("case name %q used by both %s and %s", c.Name, prev, name)
		}
		seen[c.Name] = name
		cases = append(cases, c)
	}
	return cases, nil
}

func validateCase(c *Case) error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(c.Name, `/\ `) {
		return fmt.Errorf("name %q must not contain spaces or path separators", c.Name)
	}
	if c.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch c.Tier {
	case TierParser, TierUnit, TierIntegration, TierValidation:
	case "":
		return fmt.Errorf("tier is required")
	default:
		return fmt.Errorf("unknown tier %q", c.Tier)
	}

	switch {
	case c.Source == "" && len(c.Headers) == 0:
		return fmt.Errorf("one of source or headers is required")
	case c.Source != "" && len(c.Headers) > 0:
		return fmt.Errorf("source and headers are mutually exclusive")
	}
	for _, h := range c.Headers {
		if _, err := os.Stat(h); os.IsNotExist(err) {
			return fmt.Errorf("header not found: %s", h)
		}
	}

	e := c.Expect
	if c.Tier == TierParser && (len(e.Symbols) > 0 || len(e.Layouts) > 0 || len(e.Instances) > 0) {
		return fmt.Errorf("parser tier cannot check instances, symbols or layouts")
	}
	if (c.Tier == TierParser || c.Tier == TierUnit) && (len(e.Units) > 0 || len(e.Emitted) > 0) {
		return fmt.Errorf("%s tier cannot check emitted units", c.Tier)
	}
	if c.Reference != "" && c.Tier != TierValidation {
		return fmt.Errorf("reference is only used by the validation tier")
	}
	return nil
}
