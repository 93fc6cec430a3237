package harness

import (
	"context"
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cxxada/internal/ir"
)

// Snapshot renders what a case produced as canonical JSON: diagnostics,
// declarations, and, for the stages that ran, instances, symbols, layouts
// and the text of every unit.
func Snapshot(c *Case, r *Result) ([]byte, error) {
	diags := make([]string, len(r.Diagnostics))
	for i, d := range r.Diagnostics {
		diags[i] = d.Error()
	}
	snap := map[string]any{
		"name":        c.Name,
		"tier":        string(c.Tier),
		"diagnostics": diags,
	}

	res := r.Run
	if res == nil {
		return ir.MarshalCanonical(snap)
	}
	if res.Module != nil {
		var decls []string
		_ = res.Module.Walk(func(d *ir.Decl) error {
			if d.Kind != ir.KindNamespace {
				decls = append(decls, d.ID())
			}
			return nil
		})
		sort.Strings(decls)
		snap["decls"] = decls
	}
	if res.Table != nil && c.Tier != TierParser {
		instances := []string{}
		for _, d := range res.Module.Instances() {
			instances = append(instances, string(d.Instance.Key))
		}
		sort.Strings(instances)
		snap["instances"] = instances

		symbols := make(map[string]any, len(res.Table.Symbols))
		for id, sym := range res.Table.Symbols {
			symbols[id] = sym.Name
		}
		snap["symbols"] = symbols

		layouts := make(map[string]any, len(res.Table.Layouts))
		for path, l := range res.Table.Layouts {
			fields := make([]any, len(l.Fields))
			for i, f := range l.Fields {
				fields[i] = map[string]any{"name": f.Name, "offset": f.Offset}
			}
			layouts[path] = map[string]any{"size": l.Size, "align": l.Align, "fields": fields}
		}
		snap["layouts"] = layouts
	}
	if res.Units != nil {
		units := make([]any, len(res.Units))
		for i, u := range res.Units {
			units[i] = map[string]any{"package": u.Package, "file": u.File, "text": u.Text}
		}
		snap["units"] = units
	}
	return ir.MarshalCanonical(snap)
}

// RunWithGolden runs c and compares its snapshot with
// testdata/golden/<name>.golden. Expectation failures are reported
// through t as well.
//
// To regenerate golden files, run:
//
//	go test ./... -update
func RunWithGolden(t *testing.T, c *Case, opts ...goldie.Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), c)
	if err != nil {
		return nil, err
	}
	for _, msg := range result.Errors {
		t.Errorf("%s: %s", c.Name, msg)
	}
	if err := AssertGolden(t, c, result, opts...); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the snapshot of an existing result with its
// golden file. opts are applied after the defaults.
func AssertGolden(t *testing.T, c *Case, result *Result, opts ...goldie.Option) error {
	t.Helper()

	data, err := Snapshot(c, result)
	if err != nil {
		return err
	}
	options := append([]goldie.Option{
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	}, opts...)
	g := goldie.New(t, options...)
	g.Assert(t, c.Name, data)
	return nil
}
