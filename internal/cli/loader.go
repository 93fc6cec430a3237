package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/cxxada/internal/config"
	"github.com/roach88/cxxada/internal/pipeline"
)

// ConfigFlags are the run settings shared by every command that runs the
// pipeline. Flags override the configuration file.
type ConfigFlags struct {
	ConfigFile  string
	RootPackage string
	DataModel   string
	MaxDepth    int
	Jobs        int
	SPARK       bool
}

func (f *ConfigFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.ConfigFile, "config", "c", "", "configuration file (.cue, .yaml or .yml)")
	fl.StringVar(&f.RootPackage, "root", "", "root Ada package of the generated units")
	fl.StringVar(&f.DataModel, "data-model", config.DefaultDataModel, "target data model (lp64|ilp32)")
	fl.IntVar(&f.MaxDepth, "max-depth", 0, "maximum template instantiation depth")
	fl.IntVarP(&f.Jobs, "jobs", "j", 0, "parallel jobs (0 = GOMAXPROCS)")
	fl.BoolVar(&f.SPARK, "spark", false, "mark units with SPARK_Mode")
}

// load builds the configuration of a run. Headers given as arguments
// replace those of the configuration file, and the roots with them.
func (f *ConfigFlags) load(cmd *cobra.Command, headers []string) (config.Config, error) {
	cfg := config.Defaults()
	if f.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(f.ConfigFile); err != nil {
			return config.Config{}, configExitError(err)
		}
	}
	if len(headers) > 0 {
		cfg.Headers = append([]string(nil), headers...)
		cfg.Roots = nil
	}

	fl := cmd.Flags()
	if fl.Changed("root") {
		cfg.RootPackage = f.RootPackage
	}
	if fl.Changed("data-model") {
		cfg.DataModel = f.DataModel
	}
	if fl.Changed("max-depth") {
		cfg.MaxDepth = f.MaxDepth
	}
	if fl.Changed("jobs") {
		cfg.Jobs = f.Jobs
	}
	if fl.Changed("spark") {
		cfg.SPARK = f.SPARK
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, configExitError(err)
	}
	return cfg, nil
}

// run loads the configuration and runs the pipeline up to stop.
func (f *ConfigFlags) run(ctx context.Context, opts *RootOptions, cmd *cobra.Command, headers []string, stop string) (*pipeline.Result, error) {
	cfg, err := f.load(cmd, headers)
	if err != nil {
		return nil, err
	}
	res, err := pipeline.Run(ctx, cfg, pipeline.Options{Stop: stop, Logger: opts.logger(cmd)})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "run failed", err)
	}
	return res, nil
}

// configExitError turns a configuration problem into a command error that
// carries the code of its first *config.Error.
func configExitError(err error) error {
	var cerr *config.Error
	if errors.As(err, &cerr) {
		return WrapExitError(ExitCommandError, cerr.Code+": invalid configuration", err)
	}
	return WrapExitError(ExitCommandError, "invalid configuration", err)
}
