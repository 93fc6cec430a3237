package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/cxxada/internal/config"
	"github.com/roach88/cxxada/internal/pipeline"
)

// Options configures a Harness.
type Options struct {
	// Logger receives pipeline logs. Defaults to discarding them.
	Logger *slog.Logger

	// Toolchain runs validation cases. Nil looks the tools up on PATH on
	// first use.
	Toolchain *Toolchain
}

// Harness runs cases. It is safe for concurrent use.
type Harness struct {
	logger *slog.Logger

	once     sync.Once
	tools    *Toolchain
	toolsErr error
}

// New creates a harness.
func New(opts Options) *Harness {
	h := &Harness{logger: opts.Logger, tools: opts.Toolchain}
	if h.logger == nil {
		h.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if h.tools != nil {
		h.once.Do(func() {})
	}
	return h
}

// Run executes c with a default harness.
func Run(ctx context.Context, c *Case) (*Result, error) {
	return New(Options{}).Run(ctx, c)
}

// Run executes c up to its tier and checks its expectations. The error is
// set when the case cannot run at all; failed expectations are in the
// result.
func (h *Harness) Run(ctx context.Context, c *Case) (*Result, error) {
	cfg, sources := c.config()
	opts := pipeline.Options{Sources: sources, Logger: h.logger}
	switch c.Tier {
	case TierParser:
		opts.Stop = pipeline.StageBuild
	case TierUnit:
		opts.Stop = pipeline.StageResolve
	}

	res, err := pipeline.Run(ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", c.Name, err)
	}

	result := NewResult(c.Name)
	result.Run = res
	result.Diagnostics = res.Diagnostics()
	for _, msg := range check(c.Expect, res) {
		result.AddError(msg)
	}

	if c.Tier == TierValidation {
		if err := h.validate(ctx, c, res, result); err != nil {
			return nil, fmt.Errorf("case %s: %w", c.Name, err)
		}
	}
	return result, nil
}

// config builds the run configuration of c. Inline sources are handed to
// the pipeline in memory.
func (c *Case) config() (config.Config, map[string][]byte) {
	cfg := config.Defaults()
	var sources map[string][]byte
	if c.Source != "" {
		cfg.Headers = []string{c.HeaderName()}
		sources = map[string][]byte{c.HeaderName(): []byte(c.Source)}
	} else {
		cfg.Headers = append([]string(nil), c.Headers...)
	}
	cfg.Roots = append([]string(nil), c.Roots...)
	cfg.RootPackage = c.Options.RootPackage
	cfg.GlobalPackage = c.Options.GlobalPackage
	cfg.SPARK = c.Options.SPARK
	if c.Options.DataModel != "" {
		cfg.DataModel = c.Options.DataModel
	}
	if c.Options.MaxDepth > 0 {
		cfg.MaxDepth = c.Options.MaxDepth
	}
	return cfg, sources
}

func (h *Harness) toolchain() (*Toolchain, error) {
	h.once.Do(func() {
		h.tools, h.toolsErr = FindToolchain()
		if h.tools != nil {
			h.tools.Logger = h.logger
		}
	})
	return h.tools, h.toolsErr
}

// validate compares the resolved symbols with the host compiler's and
// checks the generated specs with GNAT.
func (h *Harness) validate(ctx context.Context, c *Case, res *pipeline.Result, result *Result) error {
	tc, err := h.toolchain()
	if IsMissingTool(err) {
		result.Skip(err.Error())
		return nil
	}
	if err != nil {
		return err
	}
	if res.HasErrors() {
		result.AddError("validation needs a run without errors")
		return nil
	}

	headers := c.Headers
	if c.Source != "" {
		dir, err := os.MkdirTemp("", "cxxada-case-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, c.HeaderName())
		if err := os.WriteFile(path, []byte(c.Source), 0o644); err != nil {
			return err
		}
		headers = []string{path}
	}

	reference, err := tc.ReferenceSymbols(ctx, headers, c.Reference, res.Model)
	if err != nil {
		result.AddError(fmt.Sprintf("reference compile failed: %v", err))
		return nil
	}
	cmp := CompareSymbols(res.Table, reference)
	result.Comparison = cmp
	for _, m := range cmp.Missing {
		result.AddError(fmt.Sprintf("symbol %s of %s not produced by the C++ compiler", m.Symbol, m.Decl))
	}

	if err := tc.CheckUnits(ctx, res.Units); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result.AddError(fmt.Sprintf("generated specs do not compile: %v", err))
	}
	return nil
}
