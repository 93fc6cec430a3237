package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/cxxada/internal/ir"
	"github.com/roach88/cxxada/internal/pipeline"
)

// ParseOptions holds flags for the parse command.
type ParseOptions struct {
	*RootOptions
	ConfigFlags
	Instantiate bool
}

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ParseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "parse <header>...",
		Short: "Dump the IR of C++ headers as canonical JSON",
		Long: `Parse headers, build the IR and print it as canonical JSON.

Every namespace-scope declaration is listed with its members. With
--instantiate, template instances requested by the headers are
materialized first and listed under "instances".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(opts, args, cmd)
		},
	}

	opts.ConfigFlags.register(cmd)
	cmd.Flags().BoolVar(&opts.Instantiate, "instantiate", false, "instantiate templates before dumping")

	return cmd
}

func runParse(opts *ParseOptions, headers []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	stop := pipeline.StageBuild
	if opts.Instantiate {
		stop = pipeline.StageInstantiate
	}
	res, err := opts.ConfigFlags.run(cmd.Context(), opts.RootOptions, cmd, headers, stop)
	if err != nil {
		return err
	}

	dump, err := ir.MarshalCanonical(moduleShape(res.Module, opts.Instantiate))
	if err != nil {
		return WrapExitError(ExitCommandError, "encoding IR", err)
	}
	if err := formatter.Report(json.RawMessage(dump), res.Diagnostics(), func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s\n", dump)
		return err
	}); err != nil {
		return err
	}
	if res.HasErrors() {
		return reported(ExitFailure, "headers have errors")
	}
	return nil
}

// moduleShape lists the namespace-scope declarations of mod, namespace by
// namespace, in declaration order.
func moduleShape(mod *ir.Module, instances bool) map[string]any {
	namespaces := make([]any, 0)
	for _, ns := range mod.Namespaces() {
		var decls []any
		for _, d := range mod.Children(ns) {
			if d.Kind == ir.KindNamespace || d.Instance != nil {
				continue
			}
			decls = append(decls, ir.DeclShape(d))
		}
		if len(decls) == 0 {
			continue
		}
		namespaces = append(namespaces, map[string]any{
			"namespace": ns.String(),
			"decls":     decls,
		})
	}
	out := map[string]any{"namespaces": namespaces}
	if instances {
		list := make([]any, 0)
		for _, d := range mod.Instances() {
			list = append(list, ir.DeclShape(d))
		}
		out["instances"] = list
	}
	return out
}
