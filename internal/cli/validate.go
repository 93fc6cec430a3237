package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cxxada/internal/harness"
	"github.com/roach88/cxxada/internal/pipeline"
	"github.com/roach88/cxxada/internal/store"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	ConfigFlags
	Reference string
	Source    string
	Database  string
}

// ValidateResult is the payload of the validate command.
type ValidateResult struct {
	Valid     bool                    `json:"valid"`
	Reference string                  `json:"reference"`
	Symbols   int                     `json:"symbols"`
	Matched   int                     `json:"matched"`
	Missing   []harness.MissingSymbol `json:"missing,omitempty"`
	Imported  int                     `json:"imported,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <header>...",
		Short: "Compare resolved symbols with a reference symbol table",
		Long: `Resolve the symbols of the headers and check that each one appears in a
reference symbol table: nm output of the compiled C++ library, a plain
list of names, or a symbol database (.db) holding imported references.

With --db, a reference list is also imported into the database under
--source (default: the file name) for later runs.

Exit codes:
  0 - Every symbol was found
  1 - Symbols are missing or the headers have errors
  2 - Command error

Examples:
  nm -D libgeo.so > geo.nm
  cxxada validate geo.hpp --reference geo.nm
  cxxada validate geo.hpp --reference geo.nm --db symbols.db
  cxxada validate geo.hpp --reference symbols.db --source geo.nm`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	opts.ConfigFlags.register(cmd)
	cmd.Flags().StringVar(&opts.Reference, "reference", "", "symbol list or symbol database to compare with")
	cmd.Flags().StringVar(&opts.Source, "source", "", "reference name inside a symbol database")
	cmd.Flags().StringVar(&opts.Database, "db", "", "import the reference list into this symbol database")

	return cmd
}

func runValidate(opts *ValidateOptions, headers []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	res, err := opts.ConfigFlags.run(cmd.Context(), opts.RootOptions, cmd, headers, pipeline.StageResolve)
	if err != nil {
		return err
	}
	ref := opts.Reference
	if ref == "" {
		ref = res.Config.Reference
	}
	if ref == "" {
		return NewExitError(ExitCommandError, "no reference given: use --reference or set reference in the configuration")
	}

	result := ValidateResult{Reference: ref, Symbols: len(res.Table.Symbols)}
	names, err := opts.loadReference(cmd.Context(), ref, &result)
	if err != nil {
		return err
	}
	formatter.VerboseLog("Loaded %d reference symbol(s) from %s", len(names), ref)

	cmp := harness.CompareSymbols(res.Table, names)
	result.Matched = cmp.Matched
	result.Missing = cmp.Missing
	result.Valid = cmp.OK() && !res.HasErrors()

	if err := formatter.Report(result, res.Diagnostics(), func(w io.Writer) error {
		return writeValidateText(w, result)
	}); err != nil {
		return err
	}
	switch {
	case len(result.Missing) > 0:
		return reported(ExitFailure, fmt.Sprintf("%d symbol(s) missing", len(result.Missing)))
	case !result.Valid:
		return reported(ExitFailure, "headers have errors")
	}
	return nil
}

func isDatabase(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

// loadReference reads the reference names from a symbol list or a
// database, importing a list into --db when asked.
func (opts *ValidateOptions) loadReference(ctx context.Context, ref string, result *ValidateResult) ([]string, error) {
	if isDatabase(ref) {
		if _, err := os.Stat(ref); err != nil {
			return nil, WrapExitError(ExitCommandError, "symbol database not found", err)
		}
		st, err := store.Open(ref)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "opening symbol database", err)
		}
		defer st.Close()
		return referenceFromStore(ctx, st, opts.Source)
	}

	f, err := os.Open(ref)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening reference", err)
	}
	defer f.Close()
	names, err := store.ParseSymbolList(f)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "reading reference", err)
	}

	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "opening symbol database", err)
		}
		defer st.Close()
		source := opts.Source
		if source == "" {
			source = filepath.Base(ref)
		}
		n, err := st.ImportReference(ctx, source, names)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "importing reference", err)
		}
		result.Imported = n
	}
	return names, nil
}

// referenceFromStore returns the names of one imported reference, or of
// all of them when source is empty.
func referenceFromStore(ctx context.Context, st *store.Store, source string) ([]string, error) {
	sources := []string{source}
	if source == "" {
		var err error
		if sources, err = st.ReferenceSources(ctx); err != nil {
			return nil, WrapExitError(ExitCommandError, "reading symbol database", err)
		}
		if len(sources) == 0 {
			return nil, NewExitError(ExitCommandError, "symbol database holds no reference symbols")
		}
	}
	var names []string
	for _, s := range sources {
		list, err := st.ReferenceSymbols(ctx, s)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "reading symbol database", err)
		}
		if len(list) == 0 {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("no reference named %q in the symbol database", s))
		}
		names = append(names, list...)
	}
	return names, nil
}

func writeValidateText(w io.Writer, r ValidateResult) error {
	if r.Valid {
		fmt.Fprintf(w, "✓ All %d symbol(s) found in %s\n", r.Symbols, r.Reference)
	} else {
		fmt.Fprintf(w, "✗ %d of %d symbol(s) found in %s\n", r.Matched, r.Symbols, r.Reference)
		for _, m := range r.Missing {
			fmt.Fprintf(w, "  missing %s  (%s)\n", m.Symbol, m.Decl)
		}
	}
	if r.Imported > 0 {
		fmt.Fprintf(w, "Imported %d reference symbol(s)\n", r.Imported)
	}
	return nil
}
