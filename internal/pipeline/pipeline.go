// Package pipeline runs the stages of a generation run in order: parse,
// build the IR, instantiate templates, resolve symbols and layouts, emit
// the Ada units. Every stage reports into one diag.Report; the run goes on
// past errors so that a single invocation shows all of them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/compiler"
	"github.com/roach88/cxxada/internal/config"
	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/emit"
	"github.com/roach88/cxxada/internal/instantiate"
	"github.com/roach88/cxxada/internal/ir"
	"github.com/roach88/cxxada/internal/source"
	"github.com/roach88/cxxada/internal/store"
)

// Options configures a run.
type Options struct {
	// Sources supplies header contents by name instead of reading them
	// from disk.
	Sources map[string][]byte

	// Stop ends the run after the named stage: "parse", "build",
	// "instantiate" or "resolve". Empty runs every stage.
	Stop string

	Logger *slog.Logger
}

// Stage names accepted by Options.Stop.
const (
	StageParse       = "parse"
	StageBuild       = "build"
	StageInstantiate = "instantiate"
	StageResolve     = "resolve"
)

// Result is what a run produced. Fields of stages that did not run are
// nil.
type Result struct {
	Files  []*source.File
	Module *ir.Module
	Engine *instantiate.Engine
	Table  *abi.Table
	Units  []emit.Unit
	Report *diag.Report
	Model  *abi.DataModel
	Config config.Config
}

// Diagnostics returns the report in stable order.
func (r *Result) Diagnostics() []diag.Diagnostic { return r.Report.Items() }

// HasErrors reports whether the run recorded an error diagnostic.
func (r *Result) HasErrors() bool { return r.Report.HasErrors() }

// Run executes the pipeline for cfg. The error is set for problems with the
// run itself (unreadable headers, bad configuration, cancellation); problems
// with the headers are in the report.
func Run(ctx context.Context, cfg config.Config, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	model, err := cfg.Model()
	if err != nil {
		return nil, err
	}
	res := &Result{Report: diag.NewReport(), Model: model, Config: cfg}

	files, err := parse(ctx, cfg, opts.Sources, res.Report)
	if err != nil {
		return nil, err
	}
	res.Files = files
	log.Debug("parsed headers", "files", len(files))
	if opts.Stop == StageParse {
		return res, nil
	}

	mod, diags := compiler.Build(files, compiler.Options{DataModel: model, Logger: log})
	res.Module = mod
	res.Report.Add(diags...)
	if opts.Stop == StageBuild {
		return res, nil
	}

	res.Engine = instantiate.New(mod, instantiate.Options{
		DataModel: model,
		MaxDepth:  cfg.MaxDepth,
		Jobs:      cfg.Jobs,
		Logger:    log,
	})
	res.Report.Add(res.Engine.Run(ctx)...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Stop == StageInstantiate {
		return res, nil
	}

	table, diags := abi.NewResolver(mod, model).Resolve()
	res.Table = table
	res.Report.Add(diags...)
	if opts.Stop == StageResolve {
		return res, nil
	}

	units, diags, err := emit.New(mod, table, emit.Options{
		RootPackage:   cfg.RootPackage,
		GlobalPackage: cfg.GlobalPackage,
		SPARK:         cfg.SPARK,
		DataModel:     model,
		Jobs:          cfg.Jobs,
		Logger:        log,
	}).Emit(ctx)
	if err != nil {
		return nil, err
	}
	res.Units = units
	res.Report.Add(diags...)

	log.Info("run complete",
		"headers", len(cfg.Headers),
		"instances", len(mod.Instances()),
		"symbols", len(table.Symbols),
		"units", len(units),
		"diagnostics", res.Report.Len())
	return res, nil
}

// parse reads and parses every header in parallel. A parse error inside a
// declaration only skips that declaration and is a warning, unless the
// header is a root. A header that cannot be tokenized at all is an error.
func parse(ctx context.Context, cfg config.Config, sources map[string][]byte, report *diag.Report) ([]*source.File, error) {
	files := make([]*source.File, len(cfg.Headers))
	g, ctx := errgroup.WithContext(ctx)
	if cfg.Jobs > 0 {
		g.SetLimit(cfg.Jobs)
	}
	for i, header := range cfg.Headers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src, ok := sources[header]
			if !ok {
				var err error
				if src, err = os.ReadFile(header); err != nil {
					return fmt.Errorf("read header: %w", err)
				}
			}
			f, errs := source.Parse(header, src)
			files[i] = f
			root := cfg.IsRoot(header)
			for _, pe := range errs {
				report.Add(parseDiagnostic(pe, root))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func parseDiagnostic(pe *source.ParseError, root bool) diag.Diagnostic {
	switch {
	case pe.Fatal:
		return diag.Errorf(diag.ParseError, diag.CodeParse, "", pe.Loc, "%s", pe.Msg)
	case root:
		return diag.Errorf(diag.ParseError, diag.CodeRootParse, pe.Decl, pe.Loc, "%s", pe.Msg)
	default:
		return diag.Warnf(diag.ParseError, diag.CodeParse, pe.Decl, pe.Loc, "%s (declaration skipped)", pe.Msg)
	}
}

// ErrHasErrors is returned by WriteUnits when the run has error
// diagnostics; no unit is written then.
var ErrHasErrors = errors.New("run has errors; no units written")

// WriteUnits writes the units of res into dir, creating it. It refuses to
// write anything when the report holds an error.
func WriteUnits(dir string, res *Result) error {
	if res.HasErrors() {
		return ErrHasErrors
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, u := range res.Units {
		path := filepath.Join(dir, u.File)
		if err := os.WriteFile(path, []byte(u.Text), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", u.File, err)
		}
	}
	return nil
}

// Record stores the run in the symbol database.
func Record(ctx context.Context, st *store.Store, res *Result) (store.Run, error) {
	in := store.RunInput{
		DataModel:    res.Model.Name,
		RootPackage:  res.Config.RootPackage,
		ConfigDigest: res.Config.Digest(),
		Table:        res.Table,
		Units:        res.Units,
		Diagnostics:  res.Diagnostics(),
	}
	if res.Module != nil {
		in.Instances = res.Module.Instances()
	}
	run, err := st.WriteRun(ctx, in)
	if err != nil {
		return store.Run{}, fmt.Errorf("record run: %w", err)
	}
	return run, nil
}
