package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/emit"
	"github.com/roach88/cxxada/internal/ir"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun builds a run input with one symbol, one layout, one
// instance and one unit.
func createTestRun() RunInput {
	box := &ir.Decl{
		Kind:  ir.KindClass,
		Name:  "Box",
		Path:  ir.Path{"Box<int>"},
		Class: &ir.ClassInfo{Key: "struct", Fields: []ir.Field{{Name: "value", Type: ir.Prim("int")}}},
		Instance: &ir.InstanceInfo{
			Template:       ir.Path{"Box"},
			Args:           []ir.TemplateArg{ir.TypeArg(ir.Prim("int"))},
			Key:            "Box<int>",
			Specialization: -1,
		},
	}
	return RunInput{
		DataModel:   "lp64",
		RootPackage: "Lib",
		Table: &abi.Table{
			Symbols: map[string]abi.Symbol{
				"geo::norm(geo::Point const&)": {Name: "_ZN3geo4normERKNS_5PointE", Convention: abi.ConventionCPP},
				"c_add(int,int)":               {Name: "c_add", Convention: abi.ConventionC},
			},
			Layouts: map[string]*abi.Layout{
				"geo::Point": {
					Size: 8, Align: 4, DSize: 8, NVSize: 8, POD: true,
					Fields: []abi.FieldLayout{
						{Name: "x", Offset: 0, Size: 4, Align: 4},
						{Name: "y", Offset: 4, Size: 4, Align: 4},
					},
				},
			},
		},
		Instances: []*ir.Decl{box},
		Units:     []emit.Unit{{Package: "Lib.Geo", File: "lib-geo.ads", Digest: "abc"}},
		Diagnostics: []diag.Diagnostic{
			diag.Warnf(diag.ParseError, diag.CodeParse, "", ir.Location{File: "a.hpp", Line: 2, Column: 1}, "skipped"),
		},
	}
}
