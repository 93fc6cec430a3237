package instantiate

import (
	"errors"
	"slices"
	"sort"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/ir"
)

// sink accumulates the side effects of one materialization.
type sink struct {
	reqs    []pending
	seen    map[ir.InstanceKey]bool
	missing []ir.InstanceKey
	err     *Failure
}

func newSink() *sink {
	return &sink{seen: make(map[ir.InstanceKey]bool)}
}

func (k *sink) fail(f *Failure) {
	if k.err == nil {
		k.err = f
	}
}

// subst rewrites template definitions for one argument list.
//
// Every rewritten type is also normalized: template-ids get their default
// arguments, folded constants and instance key, and alias templates are
// expanded. Concrete template-ids met on the way are queued as requests.
// Errors are sticky; the first one wins and later output is discarded.
type subst struct {
	e    *Engine
	out  *sink
	own  ir.InstanceKey
	args []ir.TemplateArg

	// keep leaves template parameters in place. Specialization patterns
	// are normalized this way.
	keep bool

	// from is the path of the definition body, to the instance path.
	from, to ir.Path

	locals map[string]ir.TypeRef
	consts map[string]*ir.ConstExpr

	depth int
	loc   ir.Location
	by    string
	chain []ir.InstanceKey // alias templates being expanded
}

func (e *Engine) newSubst(p pending) *subst {
	return &subst{
		e:      e,
		out:    newSink(),
		depth:  p.depth,
		loc:    p.loc,
		by:     p.from,
		chain:  p.chain,
		locals: make(map[string]ir.TypeRef),
		consts: make(map[string]*ir.ConstExpr),
	}
}

// with returns a substitution of args in the scope of a template
// declaration, sharing s's output.
func (s *subst) with(args []ir.TemplateArg) *subst {
	c := *s
	c.args = args
	c.keep = false
	c.from, c.to = nil, nil
	c.locals, c.consts = nil, nil
	return &c
}

// scratch returns a parameter-preserving substitution whose output is
// thrown away.
func (s *subst) scratch() *subst {
	c := s.with(nil)
	c.keep = true
	c.out = newSink()
	return c
}

func (s *subst) failed() bool { return s.out.err != nil }

func (s *subst) remap(p ir.Path) ir.Path {
	if len(s.from) == 0 || !p.HasPrefix(s.from) {
		return p
	}
	out := append(ir.Path{}, s.to...)
	return append(out, p[len(s.from):]...)
}

func (s *subst) typ(t ir.TypeRef, strip bool) ir.TypeRef {
	out := t
	switch t.Kind {
	case ir.TypeParamRef:
		if s.keep {
			return t
		}
		if t.Index >= len(s.args) || s.args[t.Index].Type == nil {
			s.out.fail(failf(diag.InstantiationFailed, diag.CodeDependent, "template parameter %s has no type argument", t.Name))
			return t
		}
		return qualify(*s.args[t.Index].Type, t.Const, t.Volatile)

	case ir.TypeNamed:
		out.Path = s.remap(t.Path)
		if strip {
			return s.strip(out)
		}

	case ir.TypePointer:
		elem := s.typ(*t.Elem, strip)
		out.Elem = &elem

	case ir.TypeReference, ir.TypeRValueRef:
		elem := s.typ(*t.Elem, strip)
		if elem.Kind == ir.TypeReference || elem.Kind == ir.TypeRValueRef {
			// A reference to a reference collapses; & wins over &&.
			if t.Kind == ir.TypeReference {
				elem.Kind = ir.TypeReference
			}
			return elem
		}
		out.Elem = &elem

	case ir.TypeArray:
		elem := s.typ(*t.Elem, strip)
		out.Elem = &elem
		out.Len = s.expr(t.Len)

	case ir.TypeFunction:
		result := s.typ(*t.Result, strip)
		out.Result = &result
		out.Params = make([]ir.TypeRef, len(t.Params))
		for i, p := range t.Params {
			out.Params[i] = decay(s.typ(p, strip))
		}

	case ir.TypeMemberPointer:
		cls := s.typ(*t.Class, strip)
		elem := s.typ(*t.Elem, strip)
		out.Class, out.Elem = &cls, &elem

	case ir.TypeInstance:
		return s.instance(t)
	}
	return out
}

// strip resolves typedefs at the top of t, local ones first.
func (s *subst) strip(t ir.TypeRef) ir.TypeRef {
	for t.Kind == ir.TypeNamed {
		if a, ok := s.locals[t.Path.String()]; ok {
			t = qualify(a, t.Const, t.Volatile)
			continue
		}
		d := s.e.mod.Lookup(t.Path)
		if d == nil || d.Kind != ir.KindTypedef || d.Alias == nil {
			return t
		}
		return qualify(s.typ(*d.Alias, true), t.Const, t.Volatile)
	}
	return t
}

// instance normalizes a template-id and requests it when it is concrete.
func (s *subst) instance(t ir.TypeRef) ir.TypeRef {
	given := make([]ir.TemplateArg, len(t.Args))
	for i, a := range t.Args {
		given[i] = s.arg(a)
	}
	tmpl := s.e.template(t.Path)
	switch {
	case tmpl == nil:
		s.out.fail(failf(diag.InstantiationFailed, diag.CodeNoTemplate, "%s is not a class template", t.Path))
		return t
	case tmpl.Template.IsFunction():
		s.out.fail(failf(diag.InstantiationFailed, diag.CodeNoTemplate, "function template %s used as a type", t.Path))
		return t
	}
	args := s.normalizeArgs(tmpl, given)
	if s.failed() {
		return t
	}
	ref := ir.InstanceOf(t.Path, args...)
	ref.Const, ref.Volatile = t.Const, t.Volatile
	if tmpl.Template.IsAlias() {
		return s.expandAlias(t, tmpl, args)
	}
	if ref.IsDependent() {
		return ref
	}
	ref.Key = ir.KeyFor(t.Path, args)
	s.request(ref)
	return ref
}

// expandAlias substitutes args into an alias template. Expansions are
// computed in place rather than through the cache.
func (s *subst) expandAlias(t ir.TypeRef, tmpl *ir.Decl, args []ir.TemplateArg) ir.TypeRef {
	key := ir.KeyFor(tmpl.Path, args)
	if slices.Contains(s.chain, key) || len(s.chain) >= s.e.quota.Max() {
		s.out.fail(failf(diag.InstantiationCycle, diag.CodeCycle, "alias template %s refers to itself", key))
		return t
	}
	c := s.with(args)
	c.chain = append(slices.Clone(s.chain), key)
	return qualify(c.typ(*tmpl.Template.Body.Alias, true), t.Const, t.Volatile)
}

func (s *subst) request(ref ir.TypeRef) {
	if s.keep || ref.Key == s.own || s.out.seen[ref.Key] {
		return
	}
	s.out.seen[ref.Key] = true
	s.out.reqs = append(s.out.reqs, pending{
		ref:   ref,
		key:   ref.Key,
		loc:   s.loc,
		from:  s.by,
		depth: s.depth + 1,
	})
}

func (s *subst) arg(a ir.TemplateArg) ir.TemplateArg {
	if a.Type != nil {
		return ir.TypeArg(s.typ(*a.Type, true))
	}
	return ir.ValueArg(s.expr(a.Value))
}

// normalizeArgs completes an already substituted argument list with the
// template's defaults and converts constants to their parameter types.
func (s *subst) normalizeArgs(tmpl *ir.Decl, given []ir.TemplateArg) []ir.TemplateArg {
	params := tmpl.Template.Params
	if len(given) > len(params) {
		s.out.fail(failf(diag.InstantiationFailed, diag.CodeArgCount,
			"too many template arguments for %s (%d, want %d)", tmpl.Path, len(given), len(params)))
		return given
	}
	out := make([]ir.TemplateArg, 0, len(params))
	for i, p := range params {
		var a ir.TemplateArg
		switch {
		case i < len(given):
			a = given[i]
		case p.Default != nil:
			a = s.with(out).arg(*p.Default)
		default:
			s.out.fail(failf(diag.InstantiationFailed, diag.CodeArgCount,
				"missing argument for template parameter %s of %s", p.Name, tmpl.Path))
			return out
		}
		switch {
		case p.Kind == ir.ParamType && a.Type == nil:
			s.out.fail(failf(diag.InstantiationFailed, diag.CodeArgCount,
				"template argument %d of %s must be a type", i+1, tmpl.Path))
			return out
		case p.Kind == ir.ParamValue && a.Value == nil:
			s.out.fail(failf(diag.InstantiationFailed, diag.CodeArgCount,
				"template argument %d of %s must be a constant", i+1, tmpl.Path))
			return out
		case p.Kind == ir.ParamValue:
			a = ir.ValueArg(s.convert(a.Value, p, out))
		}
		out = append(out, a)
	}
	return out
}

// convert casts a constant argument to the type of its parameter.
func (s *subst) convert(v *ir.ConstExpr, p ir.TemplateParam, bound []ir.TemplateArg) *ir.ConstExpr {
	if !v.IsLit() {
		if !s.keep && !v.IsDependent() && len(s.out.missing) == 0 {
			s.out.fail(failf(diag.InstantiationFailed, diag.CodeDependent,
				"template argument %s for %s is not a constant expression", ir.CanonicalExpr(v), p.Name))
		}
		return v
	}
	if p.Type == nil {
		return v
	}
	typ := s.with(bound).typ(*p.Type, true)
	if typ.Kind == ir.TypeNamed {
		if d := s.e.mod.Lookup(typ.Path); d != nil && d.Kind == ir.KindEnum {
			typ = d.Enum.Underlying
			if typ.Kind == "" {
				typ = ir.Prim("int")
			}
		}
	}
	if typ.Kind != ir.TypePrimitive || !ir.IsIntegral(typ.Name) || typ.Name == v.Type {
		return v
	}
	out, err := ir.Fold(&ir.ConstExpr{Kind: ir.ExprCast, Arg: &typ, X: v}, s.e.model.FoldEnv())
	if err != nil {
		s.out.fail(failf(diag.InstantiationFailed, diag.CodeDependent, "template argument for %s: %v", p.Name, err))
		return v
	}
	return out
}

func (s *subst) expr(x *ir.ConstExpr) *ir.ConstExpr {
	if x == nil {
		return nil
	}
	sub := s.substExpr(x)
	v, err := ir.Fold(sub, s.foldEnv())
	if err != nil {
		s.out.fail(failf(diag.InstantiationFailed, diag.CodeDependent, "constant %s: %v", ir.CanonicalExpr(sub), err))
		return sub
	}
	return v
}

func (s *subst) substExpr(x *ir.ConstExpr) *ir.ConstExpr {
	if x == nil {
		return nil
	}
	switch x.Kind {
	case ir.ExprLit:
		return x
	case ir.ExprParam:
		if s.keep {
			return x
		}
		if x.Index >= len(s.args) || s.args[x.Index].Value == nil {
			s.out.fail(failf(diag.InstantiationFailed, diag.CodeDependent, "template parameter %s has no constant argument", x.Name))
			return x
		}
		return s.args[x.Index].Value
	}
	out := *x
	out.Path = s.remap(x.Path)
	if x.Arg != nil {
		t := s.typ(*x.Arg, true)
		out.Arg = &t
	}
	out.X, out.Y, out.Z = s.substExpr(x.X), s.substExpr(x.Y), s.substExpr(x.Z)
	return &out
}

func (s *subst) foldEnv() ir.FoldEnv {
	env := s.e.model.FoldEnv()
	env.Constant = s.constant
	env.Layout = s.layout
	return env
}

func (s *subst) constant(p ir.Path) (*ir.ConstExpr, bool) {
	if c, ok := s.consts[p.String()]; ok {
		return c, c.IsLit()
	}
	for _, d := range s.e.mod.LookupAll(p) {
		if d.Kind == ir.KindVariable && d.Var != nil && d.Var.IsConstant() {
			return d.Var.Init, d.Var.Init.IsLit()
		}
	}
	return nil, false
}

// layout sizes t for sizeof and alignof. A type that waits on an instance
// of the current wave is recorded, and the materialization is retried once
// that instance is published.
func (s *subst) layout(t ir.TypeRef) (size, align int64, ok bool) {
	calc := s.e.calc.Load()
	if calc == nil {
		return 0, 0, false
	}
	info, err := calc.TypeInfo(t)
	if err == nil {
		return info.Size, info.Align, true
	}
	var le *abi.LayoutError
	if errors.As(err, &le) && le.Missing != "" {
		s.wait(s.e.canonicalKey(le.Missing))
	}
	return 0, 0, false
}

func (s *subst) wait(key ir.InstanceKey) {
	switch {
	case key == s.own:
		s.out.fail(failf(diag.InstantiationFailed, diag.CodeDependent, "incomplete type %s used in a constant expression", key))
	case s.e.failure(key) != nil:
		s.out.fail(failf(diag.InstantiationFailed, diag.CodeDependent, "depends on failed instance %s", key))
	case !slices.Contains(s.out.missing, key):
		s.out.missing = append(s.out.missing, key)
	}
}

// class materializes a class body at path.
func (s *subst) class(body *ir.Decl, path ir.Path) *ir.Decl {
	d := &ir.Decl{
		Kind:    ir.KindClass,
		Name:    path.Last(),
		Path:    path,
		Loc:     body.Loc,
		Linkage: body.Linkage,
		Opaque:  body.Opaque,
	}
	src := body.Class
	if src == nil {
		src = &ir.ClassInfo{Key: "struct"}
	}
	cls := &ir.ClassInfo{Key: src.Key, Align: src.Align}
	d.Class = cls
	if body.Opaque {
		return d
	}

	// Member typedefs and constants come first so that fields and array
	// bounds can use them.
	for _, n := range src.Nested {
		if m := s.nested(n); m != nil {
			cls.Nested = append(cls.Nested, m)
		}
	}
	for _, b := range src.Bases {
		cls.Bases = append(cls.Bases, ir.Base{Type: s.typ(b.Type, false), Access: b.Access, Virtual: b.Virtual})
	}
	for _, f := range src.Fields {
		g := f
		g.Type = s.typ(f.Type, false)
		cls.Fields = append(cls.Fields, g)
	}
	for _, m := range src.Methods {
		if fn := s.function(m, s.remap(m.Path)); fn != nil {
			cls.Methods = append(cls.Methods, fn)
		}
	}
	return d
}

func (s *subst) nested(n *ir.Decl) *ir.Decl {
	path := s.remap(n.Path)
	out := &ir.Decl{Kind: n.Kind, Name: n.Name, Path: path, Loc: n.Loc, Linkage: n.Linkage, Opaque: n.Opaque}
	switch n.Kind {
	case ir.KindTypedef:
		alias := s.typ(*n.Alias, false)
		out.Alias = &alias
		s.locals[path.String()] = s.typ(*n.Alias, true)
	case ir.KindVariable:
		v := *n.Var
		v.Type = s.typ(n.Var.Type, false)
		v.Init = s.expr(n.Var.Init)
		out.Var = &v
		if v.IsConstant() {
			s.consts[path.String()] = v.Init
		}
	case ir.KindEnum:
		en := &ir.EnumInfo{Scoped: n.Enum.Scoped, Underlying: s.typ(n.Enum.Underlying, true)}
		for _, v := range n.Enum.Values {
			en.Values = append(en.Values, ir.Enumerator{Name: v.Name, Value: s.expr(v.Value)})
		}
		out.Enum = en
	case ir.KindClass:
		return s.class(n, path)
	default:
		// Member templates are instantiated only on use, which the
		// supported subset does not express.
		return nil
	}
	return out
}

func (s *subst) function(m *ir.Decl, path ir.Path) *ir.Decl {
	if m.Kind != ir.KindFunction || m.Func == nil {
		return nil
	}
	f := *m.Func
	f.Params = make([]ir.Param, len(m.Func.Params))
	for i, p := range m.Func.Params {
		f.Params[i] = ir.Param{Name: p.Name, Type: decay(s.typ(p.Type, false))}
	}
	f.Result = s.typ(m.Func.Result, false)
	f.TemplateArgs, f.Pattern = nil, nil
	return &ir.Decl{Kind: ir.KindFunction, Name: m.Name, Path: path, Loc: m.Loc, Linkage: m.Linkage, Func: &f}
}

// containsOf lists the instances a class holds by value, through bases,
// fields and arrays of them.
func (s *subst) containsOf(cls *ir.ClassInfo) []ir.InstanceKey {
	seen := make(map[ir.InstanceKey]bool)
	var out []ir.InstanceKey
	add := func(t ir.TypeRef) {
		t = s.strip(t)
		for t.Kind == ir.TypeArray {
			t = s.strip(*t.Elem)
		}
		if t.Kind == ir.TypeInstance && t.Key != "" && !seen[t.Key] {
			seen[t.Key] = true
			out = append(out, t.Key)
		}
	}
	for _, b := range cls.Bases {
		add(b.Type)
	}
	for _, f := range cls.Fields {
		add(f.Type)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// result finalizes a materialization. A failed one carries no requests; a
// waiting one keeps them so that what it waits on gets built.
func (s *subst) result(r *result) *result {
	if s.out.err != nil {
		f := *s.out.err
		if f.Key == "" {
			f.Key = s.own
		}
		return &result{err: &f}
	}
	r.reqs = s.out.reqs
	if len(s.out.missing) > 0 {
		return &result{reqs: r.reqs, retry: true}
	}
	return r
}

// qualify adds cv-qualifiers to a substituted type. They do not apply to
// references and functions and move to the element of an array.
func qualify(t ir.TypeRef, c, v bool) ir.TypeRef {
	if !c && !v {
		return t
	}
	switch t.Kind {
	case ir.TypeReference, ir.TypeRValueRef, ir.TypeFunction:
		return t
	case ir.TypeArray:
		elem := qualify(*t.Elem, c, v)
		t.Elem = &elem
		return t
	}
	return t.Qualified(c, v)
}

// decay applies the parameter adjustments: arrays and functions become
// pointers and top-level cv-qualifiers are dropped.
func decay(t ir.TypeRef) ir.TypeRef {
	switch t.Kind {
	case ir.TypeArray:
		t = ir.PointerTo(*t.Elem)
	case ir.TypeFunction:
		t = ir.PointerTo(t)
	}
	return t.Unqualified()
}
