package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/pipeline"
)

// SymbolsOptions holds flags for the symbols command.
type SymbolsOptions struct {
	*RootOptions
	ConfigFlags
}

// SymbolEntry is one resolved symbol.
type SymbolEntry struct {
	Decl       string         `json:"decl"`
	Name       string         `json:"name"`
	Convention abi.Convention `json:"convention"`
}

// LayoutEntry is one resolved class layout.
type LayoutEntry struct {
	Path   string      `json:"path"`
	Layout *abi.Layout `json:"layout"`
}

// SymbolsResult is the payload of the symbols command.
type SymbolsResult struct {
	DataModel string        `json:"data_model"`
	Symbols   []SymbolEntry `json:"symbols"`
	Layouts   []LayoutEntry `json:"layouts"`
}

// NewSymbolsCommand creates the symbols command.
func NewSymbolsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SymbolsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "symbols <header>...",
		Short: "List mangled symbols and record layouts",
		Long: `Resolve the external names of every function and variable and the
Itanium ABI layout of every class, without generating Ada.

Examples:
  cxxada symbols geo.hpp
  cxxada symbols geo.hpp --data-model ilp32 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSymbols(opts, args, cmd)
		},
	}

	opts.ConfigFlags.register(cmd)

	return cmd
}

func runSymbols(opts *SymbolsOptions, headers []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	res, err := opts.ConfigFlags.run(cmd.Context(), opts.RootOptions, cmd, headers, pipeline.StageResolve)
	if err != nil {
		return err
	}

	result := symbolsResult(res)
	if err := formatter.Report(result, res.Diagnostics(), func(w io.Writer) error {
		return writeSymbolsText(w, result)
	}); err != nil {
		return err
	}
	if res.HasErrors() {
		return reported(ExitFailure, "headers have errors")
	}
	return nil
}

func symbolsResult(res *pipeline.Result) SymbolsResult {
	result := SymbolsResult{
		DataModel: res.Model.Name,
		Symbols:   []SymbolEntry{},
		Layouts:   []LayoutEntry{},
	}
	for _, id := range res.Table.SymbolIDs() {
		sym := res.Table.Symbols[id]
		result.Symbols = append(result.Symbols, SymbolEntry{Decl: id, Name: sym.Name, Convention: sym.Convention})
	}
	for _, path := range res.Table.LayoutPaths() {
		result.Layouts = append(result.Layouts, LayoutEntry{Path: path, Layout: res.Table.Layouts[path]})
	}
	return result
}

func writeSymbolsText(w io.Writer, r SymbolsResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Symbols (%s):\n", r.DataModel)
	for _, s := range r.Symbols {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", s.Decl, s.Name, s.Convention)
	}
	fmt.Fprintln(tw, "Layouts:")
	for _, l := range r.Layouts {
		fmt.Fprintf(tw, "  %s\tsize=%d\talign=%d\n", l.Path, l.Layout.Size, l.Layout.Align)
		for _, f := range l.Layout.Fields {
			fmt.Fprintf(tw, "    %s\t@%d\t(%d)\n", f.Name, f.Offset, f.Size)
		}
	}
	return tw.Flush()
}
