package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cxxada/internal/abi"
)

func loadCase(t *testing.T, name string) *Case {
	t.Helper()
	c, err := LoadCase(filepath.Join("testdata", "cases", name+".yaml"))
	require.NoError(t, err)
	return c
}

func TestRun_Cases(t *testing.T) {
	cases, err := LoadCases("testdata/cases")
	require.NoError(t, err)

	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			result, err := Run(context.Background(), c)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_ParserTierStopsAfterBuild(t *testing.T) {
	result, err := Run(context.Background(), loadCase(t, "point_decl"))
	require.NoError(t, err)

	require.NotNil(t, result.Run)
	assert.NotNil(t, result.Run.Module)
	assert.Nil(t, result.Run.Table)
	assert.Nil(t, result.Run.Units)
}

func TestRun_UnitTierSkipsEmission(t *testing.T) {
	result, err := Run(context.Background(), loadCase(t, "geo_layout"))
	require.NoError(t, err)

	require.NotNil(t, result.Run.Table)
	assert.Nil(t, result.Run.Units)
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	c := &Case{
		Name:        "wrong",
		Description: "every expectation is wrong",
		Tier:        TierIntegration,
		Source:      "template <typename T> struct Box { T value; int get() const; };\nBox<int> b;\n",
		Expect: Expect{
			Diagnostics: []string{"InstantiationCycle"},
			Decls:       []string{"Missing"},
			Instances:   []string{"Box<char>"},
			Symbols:     map[string]string{"Box<int>::get() const": "_Z3getv", "nope()": "_Z4nopev"},
			Layouts: map[string]LayoutExpect{
				"Box<int>": {Size: 8, Align: 8, Fields: map[string]int64{"value": 4, "other": 0}},
				"Nope":     {Size: 1},
			},
			Units:   []string{"other.ads"},
			Emitted: map[string][]string{"Global": {"type Nothing is"}, "Other": {"x"}},
		},
	}
	result, err := Run(context.Background(), c)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		"expected diagnostic InstantiationCycle, got none",
		"expected declaration Missing",
		"instances: expected [Box<char>], got [Box<int>]",
		"symbol of Box<int>::get() const: expected _Z3getv, got _ZNK3BoxIiE3getEv",
		"no symbol for nope()",
		"size of Box<int>: expected 8, got 4",
		"alignment of Box<int>: expected 8, got 4",
		"Box<int> has no field other",
		"offset of Box<int>.value: expected 4, got 0",
		"no layout for Nope",
		"expected unit file other.ads",
		`package Global does not contain "type Nothing is"`,
		"expected package Other",
	}, result.Errors)
}

func TestRun_CleanFailsOnErrorDiagnostics(t *testing.T) {
	c := &Case{
		Name:        "collide",
		Description: "collision with clean set",
		Tier:        TierIntegration,
		Source:      "struct Foo { int a; };\nstruct foo { int b; };\n",
		Expect:      Expect{Clean: true},
	}
	result, err := Run(context.Background(), c)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "expected a clean run")
}

func TestRun_OptionsReachThePipeline(t *testing.T) {
	src := "struct L { long v; };\n"
	tests := []struct {
		model string
		size  int64
	}{
		{"lp64", 8},
		{"ilp32", 4},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			c := &Case{
				Name:        "long_" + tt.model,
				Description: "long follows the data model",
				Tier:        TierIntegration,
				Source:      src,
				Options:     CaseOptions{DataModel: tt.model, RootPackage: "Lib", SPARK: true},
				Expect: Expect{
					Clean:   true,
					Layouts: map[string]LayoutExpect{"L": {Size: tt.size, Align: tt.size}},
					Units:   []string{"lib.ads"},
					Emitted: map[string][]string{"Lib": {"SPARK_Mode"}},
				},
			}
			result, err := Run(context.Background(), c)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_InvalidOptionsFailTheCase(t *testing.T) {
	c := &Case{
		Name:        "bad_model",
		Description: "unknown data model",
		Tier:        TierUnit,
		Source:      "int x;\n",
		Options:     CaseOptions{DataModel: "lp128"},
	}
	_, err := Run(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "case bad_model")
}

func TestRun_ValidationSkipsWithoutTools(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	c := &Case{
		Name:        "needs_tools",
		Description: "validation without a toolchain",
		Tier:        TierValidation,
		Source:      "int add(int a, int b);\n",
		Reference:   "int (*use_add)(int, int) = &add;",
	}
	result, err := New(Options{}).Run(context.Background(), c)
	require.NoError(t, err)

	assert.True(t, result.Pass)
	assert.True(t, result.Skipped)
	assert.Contains(t, result.SkipReason, "not found in PATH")
}

func TestRun_ValidationAgainstHostCompiler(t *testing.T) {
	tc, err := FindToolchain()
	if err != nil {
		t.Skipf("toolchain unavailable: %v", err)
	}

	c := &Case{
		Name:        "host_box",
		Description: "mangled names agree with the host compiler",
		Tier:        TierValidation,
		Source:      "template <typename T> struct Box { T value; int get() const; };\nint add(int a, int b);\n",
		Reference: "template struct Box<int>;\n" +
			"int use() { Box<int> b{}; return b.get() + add(1, 2); }\n",
	}
	result, err := New(Options{Toolchain: tc}).Run(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	require.NotNil(t, result.Comparison)
	assert.True(t, result.Comparison.OK(), "missing: %v", result.Comparison.Missing)
}

func TestRunWithGolden(t *testing.T) {
	result, err := RunWithGolden(t, loadCase(t, "point_decl"))
	require.NoError(t, err)
	assert.True(t, result.Pass)
}

func TestAssertGolden_SnapshotIsStableAcrossRuns(t *testing.T) {
	c := loadCase(t, "box_int")
	dir := t.TempDir()

	first, err := Run(context.Background(), c)
	require.NoError(t, err)
	data, err := Snapshot(c, first)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, c.Name+".golden"), data, 0o644))

	second, err := Run(context.Background(), c)
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, c, second, goldie.WithFixtureDir(dir)))

	assert.Contains(t, string(data), `"Box<int>::get() const":"_ZNK3BoxIiE3getEv"`)
	assert.Contains(t, string(data), `"instances":["Box<int>"]`)
}

func TestCompareSymbols(t *testing.T) {
	table := &abi.Table{
		Symbols: map[string]abi.Symbol{
			"add(int,int)":          {Name: "_Z3addii", Convention: abi.ConventionCPP},
			"Box<int>::get() const": {Name: "_ZNK3BoxIiE3getEv", Convention: abi.ConventionCPP},
			"c_api()":               {Name: "c_api", Convention: abi.ConventionC},
		},
		Layouts: map[string]*abi.Layout{},
	}

	cmp := CompareSymbols(table, []string{"_Z3addii", "c_api", "_Z5otherv"})
	assert.Equal(t, 2, cmp.Matched)
	assert.False(t, cmp.OK())
	assert.Equal(t, []MissingSymbol{{Decl: "Box<int>::get() const", Symbol: "_ZNK3BoxIiE3getEv"}}, cmp.Missing)

	cmp = CompareSymbols(table, []string{"_Z3addii", "c_api", "_ZNK3BoxIiE3getEv"})
	assert.True(t, cmp.OK())
	assert.Equal(t, 3, cmp.Matched)
}

func TestFindToolchain_MissingTool(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := FindToolchain()
	require.Error(t, err)
	assert.True(t, IsMissingTool(err))
	assert.Equal(t, "c++ not found in PATH", err.Error())
}
