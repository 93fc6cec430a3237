package instantiate

import (
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/ir"
)

// selection is the definition chosen for an argument list.
type selection struct {
	body  *ir.Decl
	bound []ir.TemplateArg // arguments for the body's own parameters
	index int              // specialization index, -1 for the primary
}

type candidate struct {
	index   int
	spec    *ir.Specialization
	pattern []ir.TemplateArg
	bound   []ir.TemplateArg
}

// selectDef picks the definition of a class template for normalized args.
//
// A matching full specialization wins outright. Otherwise the matching
// partial specializations are ordered by C++ partial ordering: one is more
// specialized than another when the other's pattern can be deduced from
// it but not the reverse. If several remain unordered, the one with fewer
// parameters wins, then the one with more concrete structure; an exact tie
// is ambiguous. With no match the primary template is used.
func (s *subst) selectDef(tmpl *ir.Decl, args []ir.TemplateArg) (selection, *Failure) {
	info := tmpl.Template
	var partial []candidate
	for i := range info.Specializations {
		sp := &info.Specializations[i]
		pat := s.specPattern(tmpl, sp)
		if pat == nil || len(pat) != len(args) {
			continue
		}
		u := newUnifier(len(sp.Params))
		if !u.list(pat, args) || !u.complete() {
			continue
		}
		if sp.IsFull() {
			return selection{body: sp.Body, index: i}, nil
		}
		partial = append(partial, candidate{index: i, spec: sp, pattern: pat, bound: u.bound})
	}
	if len(partial) == 0 {
		return selection{body: info.Body, bound: args, index: -1}, nil
	}
	best := mostSpecialized(partial)
	if len(best) > 1 {
		names := make([]string, len(best))
		for i, c := range best {
			names[i] = tmpl.Path.String() + "<" + ir.CanonicalArgs(c.pattern) + ">"
		}
		return selection{}, failf(diag.AmbiguousSpecialization, diag.CodeAmbiguous,
			"ambiguous partial specializations for %s<%s>: %s",
			tmpl.Path, ir.CanonicalArgs(args), strings.Join(names, ", "))
	}
	c := best[0]
	return selection{body: c.spec.Body, bound: c.bound, index: c.index}, nil
}

// specPattern normalizes a specialization pattern the way arguments are
// normalized, padded with defaults. It returns nil for a pattern that
// cannot be normalized.
func (s *subst) specPattern(tmpl *ir.Decl, sp *ir.Specialization) []ir.TemplateArg {
	ps := s.scratch()
	var given []ir.TemplateArg
	if len(sp.Pattern) == 0 && tmpl.Template.IsFunction() {
		params := make([]ir.TypeRef, len(sp.Body.Func.Params))
		for i, p := range sp.Body.Func.Params {
			params[i] = p.Type
		}
		given = ps.deduce(tmpl, nil, params, &sp.Body.Func.Result)
	} else {
		for _, a := range sp.Pattern {
			given = append(given, ps.arg(a))
		}
	}
	if ps.failed() {
		return nil
	}
	pat := ps.normalizeArgs(tmpl, given)
	if ps.failed() {
		return nil
	}
	return pat
}

// mostSpecialized returns the maximal candidates under partial ordering,
// narrowed by structural rank.
func mostSpecialized(cands []candidate) []candidate {
	var maximal []candidate
	for i, c := range cands {
		dominated := false
		for j, d := range cands {
			if i != j && moreSpecialized(d, c) {
				dominated = true
				break
			}
		}
		if !dominated {
			maximal = append(maximal, c)
		}
	}
	if len(maximal) <= 1 {
		return maximal
	}
	sort.SliceStable(maximal, func(i, j int) bool { return rankLess(maximal[i], maximal[j]) })
	tied := maximal[:1]
	for _, c := range maximal[1:] {
		if rankLess(tied[0], c) {
			break
		}
		tied = append(tied, c)
	}
	return tied
}

func moreSpecialized(a, b candidate) bool {
	return covers(b, a) && !covers(a, b)
}

// covers reports whether general's pattern matches everything specific's
// pattern matches, by deducing general from specific with its parameters
// frozen into unique types.
func covers(general, specific candidate) bool {
	u := newUnifier(len(general.spec.Params))
	return u.list(general.pattern, freezeArgs(specific.pattern))
}

func rankLess(a, b candidate) bool {
	if len(a.spec.Params) != len(b.spec.Params) {
		return len(a.spec.Params) < len(b.spec.Params)
	}
	return concreteness(a.pattern) > concreteness(b.pattern)
}

// concreteness counts the non-parameter nodes of a pattern, qualifiers
// included.
func concreteness(args []ir.TemplateArg) int {
	n := 0
	for _, a := range args {
		if a.Value != nil {
			if !a.Value.IsDependent() {
				n++
			}
			continue
		}
		t := *a.Type
		t.Visit(func(r *ir.TypeRef) {
			if r.Kind != ir.TypeParamRef {
				n++
			}
			if r.Const || r.Volatile {
				n++
			}
			if r.Len != nil && !r.Len.IsDependent() {
				n++
			}
		})
	}
	return n
}

func frozen(index int) ir.Path {
	return ir.Path{"$" + strconv.Itoa(index)}
}

func freezeArgs(args []ir.TemplateArg) []ir.TemplateArg {
	out := make([]ir.TemplateArg, len(args))
	for i, a := range args {
		if a.Type != nil {
			out[i] = ir.TypeArg(freezeType(*a.Type))
		} else {
			out[i] = ir.ValueArg(freezeExpr(a.Value))
		}
	}
	return out
}

func freezeType(t ir.TypeRef) ir.TypeRef {
	if t.Kind == ir.TypeParamRef {
		return ir.Named(frozen(t.Index)).Qualified(t.Const, t.Volatile)
	}
	if t.Elem != nil {
		e := freezeType(*t.Elem)
		t.Elem = &e
	}
	if t.Class != nil {
		c := freezeType(*t.Class)
		t.Class = &c
	}
	if t.Result != nil {
		r := freezeType(*t.Result)
		t.Result = &r
	}
	if t.Params != nil {
		ps := make([]ir.TypeRef, len(t.Params))
		for i, p := range t.Params {
			ps[i] = freezeType(p)
		}
		t.Params = ps
	}
	if t.Args != nil {
		t.Args = freezeArgs(t.Args)
	}
	t.Len = freezeExpr(t.Len)
	return t
}

func freezeExpr(e *ir.ConstExpr) *ir.ConstExpr {
	if e == nil {
		return nil
	}
	if e.Kind == ir.ExprParam {
		return &ir.ConstExpr{Kind: ir.ExprName, Path: frozen(e.Index)}
	}
	out := *e
	if e.Arg != nil {
		a := freezeType(*e.Arg)
		out.Arg = &a
	}
	out.X, out.Y, out.Z = freezeExpr(e.X), freezeExpr(e.Y), freezeExpr(e.Z)
	return &out
}

// unifier deduces template parameters by matching a pattern against
// concrete arguments.
type unifier struct {
	bound []ir.TemplateArg
	set   []bool
}

func newUnifier(n int) *unifier {
	return &unifier{bound: make([]ir.TemplateArg, n), set: make([]bool, n)}
}

func (u *unifier) complete() bool {
	for _, ok := range u.set {
		if !ok {
			return false
		}
	}
	return true
}

func (u *unifier) bind(i int, v ir.TemplateArg) bool {
	if i < 0 || i >= len(u.bound) {
		return false
	}
	if u.set[i] {
		return ir.CanonicalArg(u.bound[i]) == ir.CanonicalArg(v)
	}
	u.bound[i], u.set[i] = v, true
	return true
}

func (u *unifier) list(pattern, args []ir.TemplateArg) bool {
	if len(pattern) != len(args) {
		return false
	}
	for i := range pattern {
		if !u.arg(pattern[i], args[i]) {
			return false
		}
	}
	return true
}

func (u *unifier) arg(p, a ir.TemplateArg) bool {
	switch {
	case p.Type != nil && a.Type != nil:
		return u.types(*p.Type, *a.Type)
	case p.Value != nil && a.Value != nil:
		return u.exprs(p.Value, a.Value)
	}
	return false
}

func (u *unifier) types(p, a ir.TypeRef) bool {
	if p.Kind == ir.TypeParamRef {
		// The pattern's qualifiers must be present on the argument; the
		// parameter binds to what remains.
		if (p.Const && !a.Const) || (p.Volatile && !a.Volatile) {
			return false
		}
		if p.Const {
			a.Const = false
		}
		if p.Volatile {
			a.Volatile = false
		}
		return u.bind(p.Index, ir.TypeArg(a))
	}
	if p.Kind != a.Kind || p.Const != a.Const || p.Volatile != a.Volatile {
		return false
	}
	switch p.Kind {
	case ir.TypePrimitive:
		return p.Name == a.Name
	case ir.TypeNamed:
		return p.Path.Equal(a.Path)
	case ir.TypePointer, ir.TypeReference, ir.TypeRValueRef:
		return u.types(*p.Elem, *a.Elem)
	case ir.TypeArray:
		return u.types(*p.Elem, *a.Elem) && u.exprs(p.Len, a.Len)
	case ir.TypeFunction:
		if len(p.Params) != len(a.Params) || p.Variadic != a.Variadic || !u.types(*p.Result, *a.Result) {
			return false
		}
		for i := range p.Params {
			if !u.types(p.Params[i], a.Params[i]) {
				return false
			}
		}
		return true
	case ir.TypeMemberPointer:
		return u.types(*p.Class, *a.Class) && u.types(*p.Elem, *a.Elem)
	case ir.TypeInstance:
		return p.Path.Equal(a.Path) && u.list(p.Args, a.Args)
	}
	return false
}

func (u *unifier) exprs(p, a *ir.ConstExpr) bool {
	if p == nil || a == nil {
		return p == nil && a == nil
	}
	if p.Kind == ir.ExprParam {
		return u.bind(p.Index, ir.ValueArg(a))
	}
	if p.IsLit() && a.IsLit() {
		return p.Value == a.Value
	}
	return ir.CanonicalExpr(p) == ir.CanonicalExpr(a)
}

// deduce computes the arguments of a function template from a declared
// signature. explicit arguments fill the leading parameters; the rest are
// deduced from the parameter and return types or taken from defaults.
func (s *subst) deduce(tmpl *ir.Decl, explicit []ir.TemplateArg, params []ir.TypeRef, result *ir.TypeRef) []ir.TemplateArg {
	info := tmpl.Template
	prim := info.Body.Func
	if len(explicit) > len(info.Params) {
		s.out.fail(failf(diag.InstantiationFailed, diag.CodeArgCount,
			"too many template arguments for %s (%d, want %d)", tmpl.Path, len(explicit), len(info.Params)))
		return nil
	}
	if len(params) != len(prim.Params) {
		s.out.fail(failf(diag.InstantiationFailed, diag.CodeDeduction,
			"signature has %d parameters, %s takes %d", len(params), tmpl.Path, len(prim.Params)))
		return nil
	}
	u := newUnifier(len(info.Params))
	for i, a := range explicit {
		u.bind(i, a)
	}
	pat := s.scratch()
	for i, p := range prim.Params {
		want := decay(pat.typ(p.Type, true))
		got := decay(s.typ(params[i], true))
		if !u.types(want, got) {
			s.out.fail(failf(diag.InstantiationFailed, diag.CodeDeduction,
				"cannot match parameter %d of %s: %s against %s", i+1, tmpl.Path, ir.CanonicalType(want), ir.CanonicalType(got)))
			return nil
		}
	}
	if result != nil {
		want, got := pat.typ(prim.Result, true), s.typ(*result, true)
		if !u.types(want, got) {
			s.out.fail(failf(diag.InstantiationFailed, diag.CodeDeduction,
				"cannot match return type of %s: %s against %s", tmpl.Path, ir.CanonicalType(want), ir.CanonicalType(got)))
			return nil
		}
	}
	out := make([]ir.TemplateArg, 0, len(info.Params))
	for i, p := range info.Params {
		switch {
		case u.set[i]:
			out = append(out, u.bound[i])
		case p.Default != nil:
			out = append(out, s.with(out).arg(*p.Default))
		default:
			s.out.fail(failf(diag.InstantiationFailed, diag.CodeDeduction,
				"cannot deduce template parameter %s of %s", p.Name, tmpl.Path))
			return nil
		}
	}
	return out
}

// verify checks an instantiated function against the declared signature.
func (s *subst) verify(d *ir.Decl, sig *ir.FuncSig) *Failure {
	for i, p := range d.Func.Params {
		if i >= len(sig.Params) {
			break
		}
		got := ir.CanonicalType(decay(s.typ(p.Type, true)))
		want := ir.CanonicalType(decay(s.typ(sig.Params[i], true)))
		if got != want {
			return failf(diag.InstantiationFailed, diag.CodeDeduction,
				"instantiated parameter %d is %s, declared %s", i+1, got, want)
		}
	}
	return nil
}
