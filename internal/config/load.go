package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Load reads the configuration file at path. The format follows the
// extension: .cue, .yaml or .yml. Relative paths in the file are resolved
// against the file's directory and defaults are applied. Load does not
// validate; callers merge flag overrides first.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("config file not found: %s", path)}
	}
	if err != nil {
		return Config{}, &Error{Code: ErrCodeLoadFailed, Message: err.Error()}
	}

	var cfg Config
	switch ext := filepath.Ext(path); ext {
	case ".cue":
		cfg, err = ParseCUE(path, data)
	case ".yaml", ".yml":
		cfg, err = ParseYAML(data)
	default:
		return Config{}, &Error{Code: ErrCodeUnknownExt, Message: fmt.Sprintf("unsupported config format %q (want .cue, .yaml or .yml)", ext)}
	}
	if err != nil {
		return Config{}, err
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// ParseCUE decodes a CUE configuration after checking it against the
// schema. filename is used in positions.
func ParseCUE(filename string, data []byte) (Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("config schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Config{}, cueError(ErrCodeLoadFailed, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, cueError(ErrCodeSchema, err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, cueError(ErrCodeLoadFailed, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ParseYAML decodes a YAML configuration. Unknown keys are errors.
func ParseYAML(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &Error{Code: ErrCodeLoadFailed, Message: err.Error()}
	}
	cfg.applyDefaults()
	return cfg, nil
}

// cueError converts the first CUE error to an Error with its position.
func cueError(code string, err error) *Error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return &Error{Code: code, Message: err.Error()}
	}
	first := list[0]
	format, args := first.Msg()
	e := &Error{Code: code, Message: fmt.Sprintf(format, args...), Pos: first.Position()}
	path := first.Path()
	if len(path) > 0 && path[0] == "#Config" {
		path = path[1:]
	}
	e.Field = strings.Join(path, ".")
	return e
}
