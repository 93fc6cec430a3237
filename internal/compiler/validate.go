package compiler

import (
	"fmt"
	"sort"

	"github.com/roach88/cxxada/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// Name resolution (E101-E104)
	ErrUnknownName   = "E101" // name not declared in any enclosing scope
	ErrNotAType      = "E102" // name used as a type denotes something else
	ErrNotATemplate  = "E103" // template arguments on a non-template
	ErrTemplateArgs  = "E104" // missing, surplus or non-deducible template arguments
	ErrDuplicateName = "E105" // redeclaration or duplicate member name

	// IR structure (E106-E107)
	ErrFreeParameter = "E106" // template parameter outside a template
	ErrDanglingRef   = "E107" // reference to a declaration or instance that does not exist

	// Lowering (E108-E111)
	ErrUnsupported       = "E108" // construct outside the supported header subset
	ErrNotConstant       = "E109" // expression does not fold to a constant
	ErrNoPrimary         = "E110" // specialization without a matching primary template
	ErrSkippedDependency = "E111" // depends on a declaration that was skipped
)

// ValidationError represents a structural invariant violation in a module.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks the structural invariants of a module.
// Returns all errors found (does not fail-fast).
//
// Every named type reference must resolve to an interned declaration, every
// template-id must be materialized or queued for instantiation, template
// parameters may only appear inside template definitions, member names must
// be unique within a class, and every request must target a template.
func Validate(mod *ir.Module) []ValidationError {
	v := &validator{mod: mod, queued: make(map[ir.InstanceKey]bool)}
	for _, r := range mod.Requests() {
		v.queued[r.Key] = true
	}

	// E107: requests must target templates
	for _, r := range mod.Requests() {
		if d := mod.Lookup(r.Ref.Path); d == nil || d.Kind != ir.KindTemplate {
			v.add(string(r.Key), r.Loc, ErrDanglingRef, "instantiation request for %s, which is not a template", r.Ref.Path)
		}
	}

	_ = mod.Walk(func(d *ir.Decl) error {
		v.decl(d)
		return nil
	})

	sort.SliceStable(v.errs, func(i, j int) bool {
		if v.errs[i].Field != v.errs[j].Field {
			return v.errs[i].Field < v.errs[j].Field
		}
		return v.errs[i].Code < v.errs[j].Code
	})
	return v.errs
}

type validator struct {
	mod    *ir.Module
	queued map[ir.InstanceKey]bool
	errs   []ValidationError
}

func (v *validator) add(field string, loc ir.Location, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
		Line:    loc.Line,
	})
}

func (v *validator) decl(d *ir.Decl) {
	field := d.ID()
	check := func(t ir.TypeRef, loc ir.Location) {
		v.typeRef(&t, field, loc)
	}
	switch {
	case d.Class != nil:
		for _, b := range d.Class.Bases {
			check(b.Type, d.Loc)
		}
		for _, f := range d.Class.Fields {
			check(f.Type, f.Loc)
		}
		v.members(d)
	case d.Func != nil:
		check(d.Func.Result, d.Loc)
		for _, p := range d.Func.Params {
			check(p.Type, d.Loc)
		}
	case d.Alias != nil:
		check(*d.Alias, d.Loc)
	case d.Var != nil:
		check(d.Var.Type, d.Loc)
		v.expr(d.Var.Init, field, d.Loc)
	case d.Enum != nil:
		for _, e := range d.Enum.Values {
			v.expr(e.Value, field, d.Loc)
		}
	}
}

func (v *validator) typeRef(t *ir.TypeRef, field string, loc ir.Location) {
	t.Visit(func(r *ir.TypeRef) {
		switch r.Kind {
		case ir.TypeNamed:
			// E107: named reference must be interned
			if v.mod.Lookup(r.Path) == nil {
				v.add(field, loc, ErrDanglingRef, "reference to undeclared %s", r.Path)
			}
		case ir.TypeInstance:
			key := r.Key
			if key == "" {
				key = ir.KeyFor(r.Path, r.Args)
			}
			if r.IsDependent() {
				break
			}
			// E107: template-id must be materialized or queued
			if _, ok := v.mod.Instance(key); !ok && !v.queued[key] {
				v.add(field, loc, ErrDanglingRef, "template-id %s is neither instantiated nor requested", key)
			}
		case ir.TypeParamRef:
			// E106: free parameter outside a template
			v.add(field, loc, ErrFreeParameter, "template parameter %s used outside a template", r.Name)
		}
		if r.Len != nil {
			v.expr(r.Len, field, loc)
		}
	})
}

func (v *validator) expr(e *ir.ConstExpr, field string, loc ir.Location) {
	if e == nil {
		return
	}
	switch e.Kind {
	case ir.ExprParam:
		v.add(field, loc, ErrFreeParameter, "template parameter %s used outside a template", e.Name)
	case ir.ExprName:
		if v.mod.Lookup(e.Path) == nil {
			v.add(field, loc, ErrDanglingRef, "reference to undeclared constant %s", e.Path)
		}
	}
	if e.Arg != nil {
		v.typeRef(e.Arg, field, loc)
	}
	v.expr(e.X, field, loc)
	v.expr(e.Y, field, loc)
	v.expr(e.Z, field, loc)
}

// members reports E105 for fields and nested declarations sharing a name.
// Methods may overload each other but not reuse a data member's name.
func (v *validator) members(d *ir.Decl) {
	seen := make(map[string]string)
	claim := func(name, what string, loc ir.Location) {
		if prev, ok := seen[name]; ok {
			v.add(d.Path.Child(name).String(), loc, ErrDuplicateName, "%s %q conflicts with %s of the same name", what, name, prev)
			return
		}
		seen[name] = what
	}
	for _, f := range d.Class.Fields {
		if f.Name != "" {
			claim(f.Name, "field", f.Loc)
		}
	}
	for _, n := range d.Class.Nested {
		claim(n.Name, string(n.Kind), n.Loc)
	}
	methods := make(map[string]bool)
	for _, m := range d.Class.Methods {
		if methods[m.Name] || m.Func.Kind == ir.FuncConstructor || m.Func.Kind == ir.FuncDestructor {
			continue
		}
		methods[m.Name] = true
		claim(m.Name, "method", m.Loc)
	}
}
