package abi

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/ir"
)

// Convention is the calling convention of an imported entity.
type Convention string

const (
	ConventionCPP Convention = "CPP"
	ConventionC   Convention = "C"
)

// Symbol is the resolved external name of a function or variable.
type Symbol struct {
	Name       string     `json:"name"`
	Convention Convention `json:"convention"`
}

// Table is the output of resolution: symbols by declaration ID and class
// layouts by qualified path.
type Table struct {
	Symbols map[string]Symbol  `json:"symbols"`
	Layouts map[string]*Layout `json:"layouts"`
}

// SymbolIDs returns the declaration IDs with symbols, sorted.
func (t *Table) SymbolIDs() []string {
	out := make([]string, 0, len(t.Symbols))
	for id := range t.Symbols {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LayoutPaths returns the class paths with layouts, sorted.
func (t *Table) LayoutPaths() []string {
	out := make([]string, 0, len(t.Layouts))
	for p := range t.Layouts {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Resolver computes and caches symbols and layouts for one module.
type Resolver struct {
	mod     *ir.Module
	mangler *Mangler
	calc    *Calculator

	mu      sync.Mutex
	symbols map[string]Symbol
}

// NewResolver returns a resolver for mod under model.
func NewResolver(mod *ir.Module, model *DataModel) *Resolver {
	return &Resolver{
		mod:     mod,
		mangler: NewMangler(mod),
		calc:    NewCalculator(mod, model),
		symbols: make(map[string]Symbol),
	}
}

// Calculator returns the resolver's layout calculator.
func (r *Resolver) Calculator() *Calculator { return r.calc }

// Symbol returns the external symbol of a function or variable, computing
// it on first use.
func (r *Resolver) Symbol(d *ir.Decl) (Symbol, error) {
	id := d.ID()
	r.mu.Lock()
	if s, ok := r.symbols[id]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	name, err := r.mangler.Mangle(d)
	if err != nil {
		return Symbol{}, err
	}
	s := Symbol{Name: name, Convention: ConventionCPP}
	if d.Linkage == ir.LinkageC {
		s.Convention = ConventionC
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.symbols[id]; ok {
		return prev, nil
	}
	r.symbols[id] = s
	return s, nil
}

// Layout returns the layout of a class declaration.
func (r *Resolver) Layout(d *ir.Decl) (*Layout, error) {
	return r.calc.Layout(d)
}

// Resolve annotates every concrete declaration of the module: each
// function and variable gets a symbol and each defined class a layout.
// Template definitions, deleted functions and opaque classes are skipped.
// Failures are returned as diagnostics; the table holds what resolved.
func (r *Resolver) Resolve() (*Table, []diag.Diagnostic) {
	t := &Table{Symbols: make(map[string]Symbol), Layouts: make(map[string]*Layout)}
	var ds []diag.Diagnostic
	_ = r.mod.Walk(func(d *ir.Decl) error {
		switch d.Kind {
		case ir.KindFunction:
			if d.Func.Deleted {
				return nil
			}
			fallthrough
		case ir.KindVariable:
			if d.Var != nil && d.Var.IsConstant() && !d.Var.Extern {
				// Named numbers are emitted by value.
				return nil
			}
			s, err := r.Symbol(d)
			if err != nil {
				ds = append(ds, diag.Errorf(diag.UnsupportedLayout, diag.CodeLayout, d.ID(), d.Loc, "%v", err))
				return nil
			}
			t.Symbols[d.ID()] = s
		case ir.KindClass:
			if d.Opaque {
				return nil
			}
			l, err := r.Layout(d)
			if err != nil {
				var le *LayoutError
				if errors.As(err, &le) {
					ds = append(ds, le.Diagnostic(d.Loc))
				} else {
					ds = append(ds, diag.Errorf(diag.UnsupportedLayout, diag.CodeLayout, d.Path.String(), d.Loc, "%v", err))
				}
				return nil
			}
			t.Layouts[d.Path.String()] = l
		}
		return nil
	})
	ds = append(ds, CheckUnique(t)...)
	diag.Sort(ds)
	return t, ds
}

// CheckUnique reports symbols shared by distinct declarations.
func CheckUnique(t *Table) []diag.Diagnostic {
	owners := make(map[string][]string)
	for _, id := range t.SymbolIDs() {
		name := t.Symbols[id].Name
		owners[name] = append(owners[name], id)
	}
	names := make([]string, 0, len(owners))
	for n, ids := range owners {
		if len(ids) > 1 {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	var ds []diag.Diagnostic
	for _, n := range names {
		ids := owners[n]
		ds = append(ds, diag.Errorf(diag.UnsupportedLayout, diag.CodeSymbolClash, ids[1], ir.Location{},
			"symbol %s is shared with %s", n, ids[0]))
	}
	return ds
}

// String renders a symbol for listings.
func (s Symbol) String() string {
	return fmt.Sprintf("%s [%s]", s.Name, s.Convention)
}
