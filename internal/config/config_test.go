package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCUE(t *testing.T) {
	cfg, err := ParseCUE("cxxada.cue", []byte(`
headers: ["geo.hpp", "util.hpp"]
roots: ["geo.hpp"]
root_package: "Lib.Bindings"
data_model: "ilp32"
spark: true
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"geo.hpp", "util.hpp"}, cfg.Headers)
	assert.Equal(t, "Lib.Bindings", cfg.RootPackage)
	assert.Equal(t, "ilp32", cfg.DataModel)
	assert.True(t, cfg.SPARK)
	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.Equal(t, Defaults().MaxDepth, cfg.MaxDepth)
	assert.True(t, cfg.IsRoot("geo.hpp"))
	assert.False(t, cfg.IsRoot("util.hpp"))
	assert.NoError(t, cfg.Validate())
}

func TestParseCUESchemaViolation(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"bad data model", `headers: ["a.hpp"]
data_model: "lp128"
`},
		{"negative depth", `headers: ["a.hpp"]
max_depth: -1
`},
		{"unknown field", `headers: ["a.hpp"]
colour: "blue"
`},
		{"bad root package", `headers: ["a.hpp"]
root_package: "lib..x"
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCUE("cxxada.cue", []byte(tt.src))
			require.Error(t, err)
			var cerr *Error
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, ErrCodeSchema, cerr.Code)
		})
	}
}

func TestParseCUESyntaxError(t *testing.T) {
	_, err := ParseCUE("cxxada.cue", []byte(`headers: [`))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, ErrCodeLoadFailed, cerr.Code)
	assert.True(t, cerr.Pos.IsValid())
	assert.Contains(t, err.Error(), "cxxada.cue:")
}

func TestParseYAML(t *testing.T) {
	cfg, err := ParseYAML([]byte(`
headers: [a.hpp]
global_package: Top
jobs: 4
database: symbols.db
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.hpp"}, cfg.Headers)
	assert.Equal(t, "Top", cfg.GlobalPackage)
	assert.Equal(t, 4, cfg.Jobs)
	assert.Equal(t, "symbols.db", cfg.Database)
	assert.Equal(t, DefaultDataModel, cfg.DataModel)
}

func TestParseYAMLRejectsUnknownKeys(t *testing.T) {
	_, err := ParseYAML([]byte("headers: [a.hpp]\ncolour: blue\n"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, ErrCodeLoadFailed, cerr.Code)
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cxxada.yaml")
	require.NoError(t, os.WriteFile(path, []byte("headers: [include/geo.hpp, /abs/x.hpp]\noutput: out\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "include/geo.hpp"), "/abs/x.hpp"}, cfg.Headers)
	assert.Equal(t, filepath.Join(dir, "out"), cfg.Output)
	assert.Empty(t, cfg.Database)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.cue"))
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, ErrCodeNotFound, cerr.Code)

	path := filepath.Join(dir, "cxxada.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))
	_, err = Load(path)
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, ErrCodeUnknownExt, cerr.Code)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoHeaders)

	cfg.Headers = []string{"a.hpp"}
	cfg.Roots = []string{"b.hpp"}
	cfg.DataModel = "lp128"
	cfg.RootPackage = "Lib.type"
	cfg.Jobs = -1
	err = cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{"roots", "data_model", "root_package", "jobs"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestDigestIgnoresPaths(t *testing.T) {
	a := Defaults()
	a.Headers = []string{"a.hpp"}
	b := a
	b.Output = "elsewhere"
	b.Database = "x.db"
	assert.Equal(t, a.Digest(), b.Digest())

	b.SPARK = true
	assert.NotEqual(t, a.Digest(), b.Digest())
}
