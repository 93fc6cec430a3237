package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/cxxada/internal/emit"
	"github.com/roach88/cxxada/internal/pipeline"
	"github.com/roach88/cxxada/internal/store"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	ConfigFlags
	Output   string
	Database string
}

// GenerateResult is the payload of the generate command.
type GenerateResult struct {
	Output string      `json:"output,omitempty"`
	Units  []emit.Unit `json:"units"`
	RunID  string      `json:"run_id,omitempty"`
	RunSeq int64       `json:"run_seq,omitempty"`
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate [headers...]",
		Short: "Generate Ada package specs from C++ headers",
		Long: `Run the whole pipeline and write one Ada package spec per namespace.

Headers come from the arguments or the configuration file. No unit is
written when the run reports an error.

Examples:
  cxxada generate geo.hpp --root Geo_Lib --out ada
  cxxada generate -c cxxada.cue --db symbols.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(opts, args, cmd)
		},
	}

	opts.ConfigFlags.register(cmd)
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "output directory (default from config, else ada)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this symbol database")

	return cmd
}

func runGenerate(opts *GenerateOptions, headers []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	res, err := opts.ConfigFlags.run(cmd.Context(), opts.RootOptions, cmd, headers, "")
	if err != nil {
		return err
	}
	out := res.Config.Output
	if opts.Output != "" {
		out = opts.Output
	}
	dbPath := res.Config.Database
	if opts.Database != "" {
		dbPath = opts.Database
	}

	result := GenerateResult{Units: res.Units}
	if dbPath != "" {
		run, err := record(cmd, dbPath, res)
		if err != nil {
			return err
		}
		result.RunID, result.RunSeq = run.ID, run.Seq
		formatter.VerboseLog("Recorded run %d (%s) in %s", run.Seq, run.ID, dbPath)
	}

	if res.HasErrors() {
		if err := formatter.Report(result, res.Diagnostics(), nil); err != nil {
			return err
		}
		return reported(ExitFailure, fmt.Sprintf("%d error(s), no units written", len(res.Report.Errors())))
	}

	if err := pipeline.WriteUnits(out, res); err != nil {
		return WrapExitError(ExitCommandError, "writing units", err)
	}
	result.Output = out

	return formatter.Report(result, res.Diagnostics(), func(w io.Writer) error {
		fmt.Fprintf(w, "✓ Generated %d unit(s) in %s\n", len(res.Units), out)
		for _, u := range res.Units {
			fmt.Fprintf(w, "  %s  %s\n", filepath.Join(out, u.File), u.Package)
		}
		return nil
	})
}

func record(cmd *cobra.Command, dbPath string, res *pipeline.Result) (store.Run, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return store.Run{}, WrapExitError(ExitCommandError, "opening symbol database", err)
	}
	defer st.Close()

	run, err := pipeline.Record(cmd.Context(), st, res)
	if err != nil {
		return store.Run{}, WrapExitError(ExitCommandError, "recording run", err)
	}
	return run, nil
}
