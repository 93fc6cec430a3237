package emit

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/compiler"
	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/ir"
	"github.com/roach88/cxxada/internal/naming"
)

// DefaultGlobalPackage names the package of the global namespace when no
// root package is set.
const DefaultGlobalPackage = "Global"

// Options configures an Emitter.
type Options struct {
	// RootPackage, when set, is the parent of every generated package.
	RootPackage string

	// GlobalPackage names the package of the global namespace. Defaults to
	// DefaultGlobalPackage without a root package; with one, the global
	// namespace maps to the root package itself.
	GlobalPackage string

	// SPARK marks every unit with SPARK_Mode.
	SPARK bool

	// DataModel must match the one the table was resolved with. Defaults
	// to LP64.
	DataModel *abi.DataModel

	// Jobs bounds the units rendered at once. Defaults to GOMAXPROCS.
	Jobs int

	Logger *slog.Logger
}

// Unit is one generated Ada package spec.
type Unit struct {
	Package string `json:"package"`
	File    string `json:"file"`
	Text    string `json:"-"`
	Digest  string `json:"digest"`
}

// Emitter renders a resolved module as Ada package specs.
type Emitter struct {
	mod   *ir.Module
	table *abi.Table
	opts  Options
	model *abi.DataModel
	log   *slog.Logger

	places map[string]place
	units  map[string]*unit
}

// New returns an emitter for mod, whose symbols and layouts are in table.
func New(mod *ir.Module, table *abi.Table, opts Options) *Emitter {
	if opts.DataModel == nil {
		opts.DataModel = abi.LP64()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Jobs <= 0 {
		opts.Jobs = runtime.GOMAXPROCS(0)
	}
	if opts.GlobalPackage == "" && opts.RootPackage == "" {
		opts.GlobalPackage = DefaultGlobalPackage
	}
	if table == nil {
		table = &abi.Table{Symbols: map[string]abi.Symbol{}, Layouts: map[string]*abi.Layout{}}
	}
	return &Emitter{
		mod:    mod,
		table:  table,
		opts:   opts,
		model:  opts.DataModel,
		log:    opts.Logger,
		places: make(map[string]place),
		units:  make(map[string]*unit),
	}
}

// Emit renders every unit. Units come back sorted by package name. The
// returned error is only set when ctx is cancelled; problems with the
// bound interface are diagnostics.
func (e *Emitter) Emit(ctx context.Context) ([]Unit, []diag.Diagnostic, error) {
	e.plan()

	pkgs := make([]string, 0, len(e.units))
	for pkg := range e.units {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)

	out := make([]Unit, len(pkgs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Jobs)
	for i, pkg := range pkgs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			text := e.units[pkg].render()
			out[i] = Unit{
				Package: pkg,
				File:    naming.FileName(pkg),
				Text:    text,
				Digest:  ir.UnitDigest(pkg, text),
			}
			e.log.Debug("emitted unit", "package", pkg, "bytes", len(text))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("emit: %w", err)
	}

	var diags []diag.Diagnostic
	for _, pkg := range pkgs {
		diags = append(diags, e.units[pkg].diags...)
	}
	diags = append(diags, e.packageCycles(pkgs)...)
	diag.Sort(diags)
	e.log.Info("emission complete", "units", len(out), "diagnostics", len(diags))
	return out, diags, nil
}

// plan assigns every emitted declaration to its unit and fixes the order
// in which each unit declares its types.
func (e *Emitter) plan() {
	namespaces := make(map[string]bool)
	for _, ns := range e.mod.Namespaces() {
		namespaces[ns.String()] = true
	}
	namespaceOf := func(p ir.Path) ir.Path {
		ns := p.Parent()
		for len(ns) > 0 && !namespaces[ns.String()] {
			ns = ns.Parent()
		}
		return ns
	}
	unitFor := func(ns ir.Path) *unit {
		pkg := naming.PackageName(e.opts.RootPackage, ns, e.opts.GlobalPackage)
		u, ok := e.units[pkg]
		if !ok {
			u = newUnit(e, pkg, ns)
			e.units[pkg] = u
		}
		return u
	}

	_ = e.mod.Walk(func(d *ir.Decl) error {
		switch d.Kind {
		case ir.KindNamespace, ir.KindTemplate:
			return nil
		case ir.KindFunction:
			if e.isMember(d) {
				return nil
			}
		}
		ns := namespaceOf(d.Path)
		u := unitFor(ns)
		switch d.Kind {
		case ir.KindClass, ir.KindEnum, ir.KindTypedef:
			e.places[d.Path.String()] = place{pkg: u.pkg, name: e.localName(ns, d.Path)}
			u.decls = append(u.decls, d)
		case ir.KindVariable:
			e.places[d.Path.String()] = place{pkg: u.pkg, name: e.localName(ns, d.Path)}
			u.objects = append(u.objects, d)
		case ir.KindFunction:
			u.funcs = append(u.funcs, d)
		}
		return nil
	})

	// Every ancestor package must exist for a child package to compile.
	for pkg := range e.units {
		for i := strings.LastIndex(pkg, "."); i > 0; i = strings.LastIndex(pkg[:i], ".") {
			parent := pkg[:i]
			if _, ok := e.units[parent]; !ok {
				e.units[parent] = newUnit(e, parent, nil)
			}
		}
	}
	for pkg := range e.units {
		if i := strings.LastIndex(pkg, "."); i > 0 {
			parent := e.units[pkg[:i]]
			parent.children = append(parent.children, pkg[i+1:])
		}
	}
	for _, u := range e.units {
		sort.Strings(u.children)
		u.decls = e.order(u)
	}
}

// isMember reports whether d is a member function of a class.
func (e *Emitter) isMember(d *ir.Decl) bool {
	parent := e.mod.Lookup(d.Path.Parent())
	return parent != nil && parent.Kind == ir.KindClass
}

// order sorts the types of u so that each follows the types it holds by
// value. Opaque types come first; otherwise declaration order is kept.
func (e *Emitter) order(u *unit) []*ir.Decl {
	var opaque, rest []*ir.Decl
	for _, d := range u.decls {
		if d.Kind == ir.KindClass && d.Opaque {
			opaque = append(opaque, d)
		} else {
			rest = append(rest, d)
		}
	}

	index := make(map[string]int, len(rest))
	for i, d := range rest {
		index[d.Path.String()] = i
	}
	deps := make([][]int, len(rest))
	for i, d := range rest {
		for _, p := range e.valueDeps(d) {
			if j, ok := index[p]; ok && j != i {
				deps[i] = append(deps[i], j)
			}
		}
	}

	out := append([]*ir.Decl(nil), opaque...)
	placed := make([]bool, len(rest))
	for n := 0; n < len(rest); {
		progress := false
		for i, d := range rest {
			if placed[i] || !allPlaced(deps[i], placed) {
				continue
			}
			placed[i] = true
			out = append(out, d)
			n++
			progress = true
			break
		}
		if progress {
			continue
		}
		// A by-value cycle was rejected upstream; keep what is left in
		// declaration order.
		for i, d := range rest {
			if !placed[i] {
				placed[i] = true
				out = append(out, d)
				n++
			}
		}
	}
	return out
}

func allPlaced(deps []int, placed []bool) bool {
	for _, j := range deps {
		if !placed[j] {
			return false
		}
	}
	return true
}

// valueDeps returns the paths of the declarations d needs complete: class
// bases and fields, and typedef targets, looking through arrays but not
// through pointers.
func (e *Emitter) valueDeps(d *ir.Decl) []string {
	var types []ir.TypeRef
	switch {
	case d.Class != nil:
		for _, b := range d.Class.Bases {
			types = append(types, b.Type)
		}
		for _, f := range d.Class.Fields {
			types = append(types, f.Type)
		}
	case d.Alias != nil:
		types = append(types, *d.Alias)
	}
	var out []string
	for _, t := range types {
		for t.Kind == ir.TypeArray && t.Elem != nil {
			t = *t.Elem
		}
		if dep := e.declOf(t); dep != nil {
			out = append(out, dep.Path.String())
		}
	}
	return out
}

// packageCycles warns about cycles among full with clauses, which no Ada
// compiler accepts.
func (e *Emitter) packageCycles(pkgs []string) []diag.Diagnostic {
	g := compiler.Graph{}
	for _, pkg := range pkgs {
		g.AddNode(pkg)
		var deps []string
		for dep, full := range e.units[pkg].withs {
			if full {
				deps = append(deps, dep)
			}
		}
		sort.Strings(deps)
		for _, dep := range deps {
			g.AddEdge(pkg, dep)
		}
	}
	var out []diag.Diagnostic
	for _, c := range compiler.AnalyzeCycles(g) {
		out = append(out, diag.Warnf(diag.ValidationError, diag.CodePackageCycle, c.Path[0], ir.Location{},
			"with clauses form a cycle: %s", strings.Join(c.Path, " -> ")))
	}
	return out
}
