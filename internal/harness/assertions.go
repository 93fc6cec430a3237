package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/ir"
	"github.com/roach88/cxxada/internal/pipeline"
)

// check evaluates every expectation of e against res and returns the
// failures in a fixed order.
func check(e Expect, res *pipeline.Result) []string {
	var errs []string
	errs = append(errs, checkDiagnostics(e, res.Diagnostics())...)
	if res.Module != nil {
		errs = append(errs, checkDecls(e.Decls, res.Module)...)
		if len(e.Instances) > 0 {
			errs = append(errs, checkInstances(e.Instances, res.Module)...)
		}
	}
	if res.Table != nil {
		errs = append(errs, checkSymbols(e.Symbols, res)...)
		errs = append(errs, checkLayouts(e.Layouts, res)...)
	}
	errs = append(errs, checkUnits(e, res)...)
	return errs
}

func checkDiagnostics(e Expect, ds []diag.Diagnostic) []string {
	var errs []string
	if e.Clean {
		for _, d := range ds {
			if d.IsError() {
				errs = append(errs, fmt.Sprintf("expected a clean run, got %s", d.Error()))
			}
		}
	}
	for _, want := range e.Diagnostics {
		found := false
		for _, d := range ds {
			if string(d.Kind) == want || d.Code == want {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, fmt.Sprintf("expected diagnostic %s, got %s", want, summarize(ds)))
		}
	}
	return errs
}

func summarize(ds []diag.Diagnostic) string {
	if len(ds) == 0 {
		return "none"
	}
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = fmt.Sprintf("%s(%s)", d.Kind, d.Code)
	}
	return strings.Join(parts, ", ")
}

func checkDecls(names []string, mod *ir.Module) []string {
	var errs []string
	for _, name := range names {
		if mod.Lookup(ir.ParsePath(name)) == nil {
			errs = append(errs, fmt.Sprintf("expected declaration %s", name))
		}
	}
	return errs
}

func checkInstances(want []string, mod *ir.Module) []string {
	got := make([]string, 0, len(mod.Instances()))
	for _, d := range mod.Instances() {
		got = append(got, string(d.Instance.Key))
	}
	sort.Strings(got)
	sorted := append([]string(nil), want...)
	sort.Strings(sorted)
	if strings.Join(got, "\x00") != strings.Join(sorted, "\x00") {
		return []string{fmt.Sprintf("instances: expected %v, got %v", sorted, got)}
	}
	return nil
}

func checkSymbols(want map[string]string, res *pipeline.Result) []string {
	var errs []string
	for _, id := range sortedKeys(want) {
		sym, ok := res.Table.Symbols[id]
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("no symbol for %s", id))
		case sym.Name != want[id]:
			errs = append(errs, fmt.Sprintf("symbol of %s: expected %s, got %s", id, want[id], sym.Name))
		}
	}
	return errs
}

func checkLayouts(want map[string]LayoutExpect, res *pipeline.Result) []string {
	var errs []string
	for _, path := range sortedKeys(want) {
		exp := want[path]
		l, ok := res.Table.Layouts[path]
		if !ok {
			errs = append(errs, fmt.Sprintf("no layout for %s", path))
			continue
		}
		if exp.Size != 0 && l.Size != exp.Size {
			errs = append(errs, fmt.Sprintf("size of %s: expected %d, got %d", path, exp.Size, l.Size))
		}
		if exp.Align != 0 && l.Align != exp.Align {
			errs = append(errs, fmt.Sprintf("alignment of %s: expected %d, got %d", path, exp.Align, l.Align))
		}
		for _, name := range sortedKeys(exp.Fields) {
			f, ok := l.Field(name)
			switch {
			case !ok:
				errs = append(errs, fmt.Sprintf("%s has no field %s", path, name))
			case f.Offset != exp.Fields[name]:
				errs = append(errs, fmt.Sprintf("offset of %s.%s: expected %d, got %d", path, name, exp.Fields[name], f.Offset))
			}
		}
	}
	return errs
}

func checkUnits(e Expect, res *pipeline.Result) []string {
	var errs []string
	files := make(map[string]bool, len(res.Units))
	text := make(map[string]string, len(res.Units))
	for _, u := range res.Units {
		files[u.File] = true
		text[u.Package] = u.Text
	}
	for _, f := range e.Units {
		if !files[f] {
			errs = append(errs, fmt.Sprintf("expected unit file %s", f))
		}
	}
	for _, pkg := range sortedKeys(e.Emitted) {
		t, ok := text[pkg]
		if !ok {
			errs = append(errs, fmt.Sprintf("expected package %s", pkg))
			continue
		}
		for _, s := range e.Emitted[pkg] {
			if !strings.Contains(t, s) {
				errs = append(errs, fmt.Sprintf("package %s does not contain %q", pkg, s))
			}
		}
	}
	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
