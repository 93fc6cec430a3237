package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cxxada/internal/harness"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // case filter (glob pattern on the file name)
}

// CaseResult holds the result of a single case.
type CaseResult struct {
	Name    string   `json:"name"`
	Tier    string   `json:"tier,omitempty"`
	Pass    bool     `json:"pass"`
	Skipped bool     `json:"skipped,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// VerifyResult holds the overall result.
type VerifyResult struct {
	Cases   []CaseResult `json:"cases"`
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Skipped int          `json:"skipped"`
	Total   int          `json:"total"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <cases-dir>",
		Short: "Run verification cases",
		Long: `Run the YAML verification cases in a directory.

Each case runs the pipeline up to its tier and checks its expectations.
When golden/<name>.golden exists next to the case, the output snapshot
must match it byte for byte. Validation cases are skipped when the C++
compiler, nm or GNAT is not installed.

Exit codes:
  0 - All cases passed
  1 - One or more cases failed
  2 - Command error (invalid paths, etc.)

Examples:
  cxxada verify ./cases
  cxxada verify ./cases --filter "box-*"
  cxxada verify ./cases --update
  cxxada verify ./cases --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter cases by glob pattern")

	return cmd
}

func runVerify(opts *VerifyOptions, casesDir string, cmd *cobra.Command) error {
	if info, err := os.Stat(casesDir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("cases directory not found: %s", casesDir))
	}

	caseFiles, err := findCaseFiles(casesDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find cases", err)
	}

	if len(caseFiles) == 0 {
		if opts.Format == "json" {
			return outputVerifyJSON(cmd, VerifyResult{Cases: []CaseResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No cases found.")
		return nil
	}

	h := harness.New(harness.Options{Logger: opts.logger(cmd)})
	result := VerifyResult{
		Cases: make([]CaseResult, 0, len(caseFiles)),
		Total: len(caseFiles),
	}
	for _, caseFile := range caseFiles {
		cr := runCase(cmd.Context(), h, caseFile, opts, cmd)
		result.Cases = append(result.Cases, cr)
		switch {
		case !cr.Pass:
			result.Failed++
		case cr.Skipped:
			result.Skipped++
		default:
			result.Passed++
		}
	}

	if opts.Format == "json" {
		if err := outputVerifyJSON(cmd, result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d passed, %d failed, %d skipped, %d total\n",
			result.Passed, result.Failed, result.Skipped, result.Total)
	}
	if result.Failed > 0 {
		return reported(ExitFailure, fmt.Sprintf("%d case(s) failed", result.Failed))
	}
	return nil
}

// findCaseFiles finds the YAML case files directly inside dir, sorted.
func findCaseFiles(dir, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(e.Name(), ext))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// runCase loads and runs one case, then checks or updates its golden file.
func runCase(ctx context.Context, h *harness.Harness, caseFile string, opts *VerifyOptions, cmd *cobra.Command) CaseResult {
	w := cmd.OutOrStdout()
	text := opts.Format != "json"
	fail := func(name string, errs ...string) CaseResult {
		if text {
			fmt.Fprintf(w, "✗ %s\n", name)
			for _, e := range errs {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		return CaseResult{Name: name, Pass: false, Errors: errs}
	}

	c, err := harness.LoadCase(caseFile)
	if err != nil {
		return fail(filepath.Base(caseFile), fmt.Sprintf("failed to load case: %v", err))
	}
	result, err := h.Run(ctx, c)
	if err != nil {
		return fail(c.Name, fmt.Sprintf("execution failed: %v", err))
	}

	goldenPath := goldenFilePath(caseFile, c.Name)
	snapshot, err := harness.Snapshot(c, result)
	if err != nil {
		return fail(c.Name, fmt.Sprintf("snapshot failed: %v", err))
	}
	golden := ""
	if opts.Update && !result.Skipped {
		if err := updateGoldenFile(goldenPath, snapshot); err != nil {
			return fail(c.Name, fmt.Sprintf("failed to update golden file: %v", err))
		}
		golden = " (golden updated)"
	} else if want, err := os.ReadFile(goldenPath); err == nil && !result.Skipped {
		if !bytes.Equal(want, snapshot) {
			result.AddError("output does not match golden file (run with --update to regenerate)")
		}
	}

	cr := CaseResult{Name: c.Name, Tier: string(c.Tier), Pass: result.Pass, Skipped: result.Skipped, Errors: result.Errors}
	if !cr.Pass {
		r := fail(c.Name, result.Errors...)
		r.Tier = cr.Tier
		return r
	}
	if text {
		switch {
		case cr.Skipped:
			fmt.Fprintf(w, "- %s (skipped: %s)\n", c.Name, result.SkipReason)
		default:
			fmt.Fprintf(w, "✓ %s%s\n", c.Name, golden)
		}
	}
	return cr
}

// goldenFilePath returns the path to the golden file of a case.
func goldenFilePath(caseFile, name string) string {
	return filepath.Join(filepath.Dir(caseFile), "golden", name+".golden")
}

// updateGoldenFile writes the snapshot as the golden file.
func updateGoldenFile(goldenPath string, snapshot []byte) error {
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(goldenPath, snapshot, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// outputVerifyJSON outputs the verify result as JSON.
func outputVerifyJSON(cmd *cobra.Command, result VerifyResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(CLIResponse{Status: status, Data: result})
}
