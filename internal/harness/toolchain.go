package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/emit"
	"github.com/roach88/cxxada/internal/store"
)

// MissingToolError reports a tool that is not on PATH.
type MissingToolError struct {
	Tool string
}

func (e *MissingToolError) Error() string {
	return fmt.Sprintf("%s not found in PATH", e.Tool)
}

// IsMissingTool reports whether err is a *MissingToolError.
func IsMissingTool(err error) bool {
	var m *MissingToolError
	return errors.As(err, &m)
}

// ToolError is a tool that ran and failed.
type ToolError struct {
	Tool   string
	Args   []string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s %s: %v\n%s", e.Tool, strings.Join(e.Args, " "), e.Err, e.Output)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Toolchain runs the host compilers that validate generated output: a C++
// compiler and nm for the reference symbol table, and GNAT for checking
// the generated specs.
type Toolchain struct {
	CXX  string
	NM   string
	GNAT string

	// CXXFlags are passed before the translation unit.
	CXXFlags []string

	Logger *slog.Logger
}

// FindToolchain looks the tools up on PATH. GNAT is detected through
// gnatmake, since gcc alone may lack the Ada front end.
func FindToolchain() (*Toolchain, error) {
	tc := &Toolchain{CXXFlags: []string{"-std=c++17"}}
	for _, tool := range []struct {
		name string
		dst  *string
	}{
		{"c++", &tc.CXX},
		{"nm", &tc.NM},
		{"gcc", &tc.GNAT},
	} {
		path, err := exec.LookPath(tool.name)
		if err != nil {
			return nil, &MissingToolError{Tool: tool.name}
		}
		*tool.dst = path
	}
	if _, err := exec.LookPath("gnatmake"); err != nil {
		return nil, &MissingToolError{Tool: "gnatmake"}
	}
	return tc, nil
}

func (tc *Toolchain) logger() *slog.Logger {
	if tc.Logger == nil {
		return slog.Default()
	}
	return tc.Logger
}

func (tc *Toolchain) run(ctx context.Context, dir, tool string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	tc.logger().Debug("running tool", "tool", filepath.Base(tool), "args", args, "dir", dir)
	if err := cmd.Run(); err != nil {
		return nil, &ToolError{Tool: filepath.Base(tool), Args: args, Output: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

// ReferenceSymbols compiles a translation unit that includes headers and
// then reference, and returns every symbol nm lists for the object file,
// defined or not. An ILP32 model compiles with -m32.
func (tc *Toolchain) ReferenceSymbols(ctx context.Context, headers []string, reference string, model *abi.DataModel) ([]string, error) {
	dir, err := os.MkdirTemp("", "cxxada-ref-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	var tu strings.Builder
	for _, h := range headers {
		abs, err := filepath.Abs(h)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&tu, "#include %q\n", abs)
	}
	tu.WriteString(reference)
	tu.WriteString("\n")
	if err := os.WriteFile(filepath.Join(dir, "reference.cpp"), []byte(tu.String()), 0o644); err != nil {
		return nil, err
	}

	args := append([]string(nil), tc.CXXFlags...)
	if model != nil && model.Name == "ilp32" {
		args = append(args, "-m32")
	}
	args = append(args, "-c", "reference.cpp", "-o", "reference.o")
	if _, err := tc.run(ctx, dir, tc.CXX, args...); err != nil {
		return nil, err
	}
	out, err := tc.run(ctx, dir, tc.NM, "reference.o")
	if err != nil {
		return nil, err
	}
	return store.ParseSymbolList(bytes.NewReader(out))
}

// CheckUnits writes units into a scratch directory and runs the Ada
// front end on each in semantic-check-only mode. Every failing unit is
// reported; the error joins them.
func (tc *Toolchain) CheckUnits(ctx context.Context, units []emit.Unit) error {
	dir, err := os.MkdirTemp("", "cxxada-ada-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	for _, u := range units {
		if err := os.WriteFile(filepath.Join(dir, u.File), []byte(u.Text), 0o644); err != nil {
			return err
		}
	}
	var errs []error
	for _, u := range units {
		if _, err := tc.run(ctx, dir, tc.GNAT, "-c", "-gnatc", "-gnat2012", u.File); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.File, err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// MissingSymbol is a resolved symbol the reference does not contain.
type MissingSymbol struct {
	Decl   string `json:"decl"`
	Symbol string `json:"symbol"`
}

// Comparison is the result of CompareSymbols.
type Comparison struct {
	Matched int             `json:"matched"`
	Missing []MissingSymbol `json:"missing,omitempty"`
}

// OK reports whether every resolved symbol was found.
func (c *Comparison) OK() bool { return len(c.Missing) == 0 }

// CompareSymbols checks every symbol of table against reference, a list
// of names as produced by a C++ compiler for the same headers. Missing
// symbols are sorted by declaration ID.
func CompareSymbols(table *abi.Table, reference []string) *Comparison {
	known := make(map[string]bool, len(reference))
	for _, name := range reference {
		known[name] = true
	}
	c := &Comparison{}
	for _, id := range table.SymbolIDs() {
		sym := table.Symbols[id]
		if known[sym.Name] {
			c.Matched++
			continue
		}
		c.Missing = append(c.Missing, MissingSymbol{Decl: id, Symbol: sym.Name})
	}
	return c
}
