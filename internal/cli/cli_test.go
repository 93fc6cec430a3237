package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cxxada/internal/store"
	"github.com/roach88/cxxada/internal/testutil"
)

const normSymbol = testutil.GeoNormSymbol

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "cxxada", cmd.Use)
	assert.Contains(t, cmd.Long, "Itanium C++ ABI")

	for _, name := range []string{"generate", "parse", "symbols", "validate", "verify"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestGenerateCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	gen, _, err := cmd.Find([]string{"generate"})
	require.NoError(t, err)

	for _, flag := range []string{"config", "root", "out", "db", "data-model", "max-depth", "jobs", "spark"} {
		assert.NotNil(t, gen.Flags().Lookup(flag), "flag %s", flag)
	}
	assert.Equal(t, "c", gen.Flags().Lookup("config").Shorthand)
	assert.Equal(t, "o", gen.Flags().Lookup("out").Shorthand)
}

func TestExecute_InvalidFormat(t *testing.T) {
	code, _, stderr := execute(t, "symbols", "x.hpp", "--format", "yaml")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, `invalid format "yaml"`)
}

func TestExecute_UnknownFlag(t *testing.T) {
	code, _, stderr := execute(t, "generate", "--nope")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "unknown flag")
}

func TestGenerate_WritesUnits(t *testing.T) {
	dir, header := testutil.GeoDir(t)
	out := filepath.Join(dir, "ada")

	code, stdout, stderr := execute(t, "generate", header, "--root", "Geo_Lib", "--out", out)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "✓ Generated 2 unit(s)")

	parent, err := os.ReadFile(filepath.Join(out, "geo_lib.ads"))
	require.NoError(t, err)
	assert.Contains(t, string(parent), "package Geo_Lib is")

	child, err := os.ReadFile(filepath.Join(out, "geo_lib-geo.ads"))
	require.NoError(t, err)
	assert.Contains(t, string(child), "package Geo_Lib.Geo is")
	assert.Contains(t, string(child), normSymbol)
}

func TestGenerate_RecordsRun(t *testing.T) {
	dir, header := testutil.GeoDir(t)
	db := filepath.Join(dir, "symbols.db")

	code, stdout, stderr := execute(t, "generate", header, "--out", filepath.Join(dir, "ada"), "--db", db, "--format", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var resp struct {
		Status string         `json:"status"`
		Data   GenerateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(1), resp.Data.RunSeq)
	assert.NotEmpty(t, resp.Data.RunID)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	run, err := st.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, resp.Data.RunID, run.ID)
	symbols, err := st.Symbols(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, normSymbol, symbols[0].Name)
}

func TestGenerate_FromConfigFile(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "geo.hpp", testutil.GeoHeader)
	cfg := testutil.WriteFile(t, dir, "cxxada.yaml", "headers: [geo.hpp]\noutput: gen\nroot_package: Bindings\nspark: true\n")

	code, _, stderr := execute(t, "generate", "-c", cfg)
	require.Equal(t, ExitSuccess, code, stderr)

	text, err := os.ReadFile(filepath.Join(dir, "gen", "bindings-geo.ads"))
	require.NoError(t, err)
	assert.Contains(t, string(text), "SPARK_Mode")
}

func TestGenerate_ErrorsWriteNothing(t *testing.T) {
	dir := t.TempDir()
	header := testutil.WriteFile(t, dir, "clash.hpp", testutil.CollidingHeader)
	out := filepath.Join(dir, "ada")

	code, _, stderr := execute(t, "generate", header, "--out", out)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "E500")
	assert.NoDirExists(t, out)
}

func TestGenerate_CommandErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing header", []string{"generate", filepath.Join(dir, "missing.hpp")}, "run failed"},
		{"no headers", []string{"generate"}, "E010"},
		{"bad data model", []string{"generate", "x.hpp", "--data-model", "lp128"}, "data_model"},
		{"missing config", []string{"generate", "-c", filepath.Join(dir, "none.cue")}, "invalid configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, tt.args...)
			assert.Equal(t, ExitCommandError, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestParse_DumpsCanonicalIR(t *testing.T) {
	_, header := testutil.GeoDir(t)

	code, stdout, stderr := execute(t, "parse", header)
	require.Equal(t, ExitSuccess, code, stderr)

	var dump map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &dump))
	namespaces, ok := dump["namespaces"].([]any)
	require.True(t, ok)
	require.Len(t, namespaces, 1)
	ns := namespaces[0].(map[string]any)
	assert.Equal(t, "geo", ns["namespace"])
	assert.Len(t, ns["decls"], 2)
	assert.NotContains(t, dump, "instances")
}

func TestParse_InstantiateListsInstances(t *testing.T) {
	dir := t.TempDir()
	header := testutil.WriteFile(t, dir, "box.hpp", "template <typename T> struct Box { T value; };\nBox<int> b;\n")

	code, stdout, stderr := execute(t, "parse", header, "--instantiate", "--format", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Instances []map[string]any `json:"instances"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Instances, 1)
	assert.Equal(t, "Box<int>", resp.Data.Instances[0]["instance"])
}

func TestSymbols_ListsSymbolsAndLayouts(t *testing.T) {
	_, header := testutil.GeoDir(t)

	code, stdout, stderr := execute(t, "symbols", header)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "Symbols (lp64):")
	assert.Contains(t, stdout, normSymbol)
	assert.Contains(t, stdout, "geo::Point")

	code, stdout, stderr = execute(t, "symbols", header, "--format", "json", "--data-model", "ilp32")
	require.Equal(t, ExitSuccess, code, stderr)
	var resp struct {
		Data SymbolsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ilp32", resp.Data.DataModel)
	require.Len(t, resp.Data.Symbols, 1)
	assert.Equal(t, "geo::norm(geo::Point const&)", resp.Data.Symbols[0].Decl)
	require.Len(t, resp.Data.Layouts, 1)
	assert.Equal(t, int64(8), resp.Data.Layouts[0].Layout.Size)
}

func TestValidate(t *testing.T) {
	dir, header := testutil.GeoDir(t)
	good := testutil.WriteFile(t, dir, "good.nm", "libgeo.o:\n0000000000000000 T "+normSymbol+"\n                 U sqrt\n")
	bad := testutil.WriteFile(t, dir, "bad.nm", "0000000000000000 T _Z4normv\n")
	db := filepath.Join(dir, "refs.db")

	t.Run("all found", func(t *testing.T) {
		code, stdout, stderr := execute(t, "validate", header, "--reference", good)
		assert.Equal(t, ExitSuccess, code, stderr)
		assert.Contains(t, stdout, "✓ All 1 symbol(s) found")
	})

	t.Run("missing", func(t *testing.T) {
		code, stdout, _ := execute(t, "validate", header, "--reference", bad)
		assert.Equal(t, ExitFailure, code)
		assert.Contains(t, stdout, "missing "+normSymbol)
	})

	t.Run("import then read back from database", func(t *testing.T) {
		code, stdout, stderr := execute(t, "validate", header, "--reference", good, "--db", db)
		require.Equal(t, ExitSuccess, code, stderr)
		assert.Contains(t, stdout, "Imported 2 reference symbol(s)")

		code, _, stderr = execute(t, "validate", header, "--reference", db)
		assert.Equal(t, ExitSuccess, code, stderr)

		code, _, stderr = execute(t, "validate", header, "--reference", db, "--source", "other.nm")
		assert.Equal(t, ExitCommandError, code)
		assert.Contains(t, stderr, `no reference named "other.nm"`)
	})

	t.Run("no reference", func(t *testing.T) {
		code, _, stderr := execute(t, "validate", header)
		assert.Equal(t, ExitCommandError, code)
		assert.Contains(t, stderr, "no reference given")
	})
}

const passingCase = `name: point
description: "geo::Point is laid out like two ints"
tier: unit
source: |
  namespace geo { struct Point { int x; int y; }; }
expect:
  clean: true
  layouts:
    "geo::Point": { size: 8, align: 4 }
`

const failingCase = `name: wrong_size
description: "expects the wrong size"
tier: unit
source: |
  struct S { char c; };
expect:
  layouts:
    "S": { size: 2 }
`

func TestVerify(t *testing.T) {
	t.Run("passing cases", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteFile(t, dir, "point.yaml", passingCase)

		code, stdout, stderr := execute(t, "verify", dir)
		assert.Equal(t, ExitSuccess, code, stderr)
		assert.Contains(t, stdout, "✓ point")
		assert.Contains(t, stdout, "1 passed, 0 failed, 0 skipped, 1 total")
	})

	t.Run("failing case", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteFile(t, dir, "point.yaml", passingCase)
		testutil.WriteFile(t, dir, "wrong.yaml", failingCase)

		code, stdout, _ := execute(t, "verify", dir, "--format", "json")
		assert.Equal(t, ExitFailure, code)

		var resp struct {
			Status string       `json:"status"`
			Data   VerifyResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
		assert.Equal(t, "error", resp.Status)
		assert.Equal(t, 1, resp.Data.Passed)
		assert.Equal(t, 1, resp.Data.Failed)
		assert.Equal(t, []string{"size of S: expected 2, got 1"}, resp.Data.Cases[1].Errors)
	})

	t.Run("filter", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteFile(t, dir, "point.yaml", passingCase)
		testutil.WriteFile(t, dir, "wrong.yaml", failingCase)

		code, stdout, stderr := execute(t, "verify", dir, "--filter", "po*")
		assert.Equal(t, ExitSuccess, code, stderr)
		assert.Contains(t, stdout, "1 total")
	})

	t.Run("golden files", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteFile(t, dir, "point.yaml", passingCase)

		code, stdout, stderr := execute(t, "verify", dir, "--update")
		require.Equal(t, ExitSuccess, code, stderr)
		assert.Contains(t, stdout, "✓ point (golden updated)")
		golden := filepath.Join(dir, "golden", "point.golden")
		require.FileExists(t, golden)

		code, _, stderr = execute(t, "verify", dir)
		assert.Equal(t, ExitSuccess, code, stderr)

		require.NoError(t, os.WriteFile(golden, []byte("{}"), 0o644))
		code, stdout, _ = execute(t, "verify", dir)
		assert.Equal(t, ExitFailure, code)
		assert.Contains(t, stdout, "does not match golden file")
	})

	t.Run("load error fails the case", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteFile(t, dir, "broken.yaml", "name: broken\n")

		code, stdout, _ := execute(t, "verify", dir)
		assert.Equal(t, ExitFailure, code)
		assert.Contains(t, stdout, "✗ broken.yaml")
	})

	t.Run("missing directory", func(t *testing.T) {
		code, _, stderr := execute(t, "verify", filepath.Join(t.TempDir(), "none"))
		assert.Equal(t, ExitCommandError, code)
		assert.Contains(t, stderr, "cases directory not found")
	})
}
