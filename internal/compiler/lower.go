package compiler

import (
	"errors"
	"math"

	"github.com/roach88/cxxada/internal/ir"
	"github.com/roach88/cxxada/internal/source"
)

// at fills in a missing location.
func at(err *CompileError, loc ir.Location) *CompileError {
	if err != nil && !err.Pos.IsValid() {
		err.Pos = loc
	}
	return err
}

// request queues a concrete template-id for instantiation.
func (b *builder) request(ref ir.TypeRef, loc ir.Location, ctx *scopeCtx) {
	r := ir.Request{Ref: ref, Loc: loc}
	if ctx.owner != nil {
		r.From = ctx.owner.Path.String()
	}
	b.reqs = append(b.reqs, pendingRequest{req: r, owner: ctx.owner})
}

// lowerType resolves a written type.
func (b *builder) lowerType(t *source.TypeExpr, ctx *scopeCtx) (ir.TypeRef, *CompileError) {
	var out ir.TypeRef
	switch t.Kind {
	case source.TypeBuiltin:
		out = ir.Prim(t.Builtin)

	case source.TypeName:
		r, err := b.resolveTypeName(t.Name, t.Loc, ctx)
		if err != nil {
			return out, err
		}
		out = r

	case source.TypePointer, source.TypeRef, source.TypeRRef:
		elem, err := b.lowerType(t.Elem, ctx)
		if err != nil {
			return out, err
		}
		kind := ir.TypePointer
		switch t.Kind {
		case source.TypeRef:
			kind = ir.TypeReference
		case source.TypeRRef:
			kind = ir.TypeRValueRef
		}
		out = ir.TypeRef{Kind: kind, Elem: &elem}

	case source.TypeArray:
		elem, err := b.lowerType(t.Elem, ctx)
		if err != nil {
			return out, err
		}
		out = ir.TypeRef{Kind: ir.TypeArray, Elem: &elem}
		if t.Len != nil {
			n, err := b.constExpr(t.Len, ctx)
			if err != nil {
				return out, err
			}
			out.Len = n
		}

	case source.TypeFunc:
		result, err := b.lowerType(t.Result, ctx)
		if err != nil {
			return out, err
		}
		out = ir.TypeRef{Kind: ir.TypeFunction, Result: &result, Variadic: t.Variadic}
		for _, p := range t.Params {
			pt, err := b.lowerType(p.Type, ctx)
			if err != nil {
				return out, err
			}
			out.Params = append(out.Params, adjustParam(pt))
		}

	case source.TypeMemberPtr:
		cls, err := b.resolveTypeName(t.Class, t.Loc, ctx)
		if err != nil {
			return out, err
		}
		elem, err := b.lowerType(t.Elem, ctx)
		if err != nil {
			return out, err
		}
		out = ir.TypeRef{Kind: ir.TypeMemberPointer, Elem: &elem, Class: &cls}

	default:
		return out, errorf(ErrUnsupported, nil, t.Loc, "unsupported type %s", t)
	}
	return out.Qualified(t.Const, t.Volatile), nil
}

// adjustParam applies the parameter type adjustments: arrays and functions
// decay to pointers and top-level cv-qualifiers are dropped.
func adjustParam(t ir.TypeRef) ir.TypeRef {
	switch t.Kind {
	case ir.TypeArray:
		t = ir.PointerTo(*t.Elem)
	case ir.TypeFunction:
		t = ir.PointerTo(t)
	}
	return t.Unqualified()
}

// resolveTypeName resolves a name used as a type.
func (b *builder) resolveTypeName(q *source.QualName, loc ir.Location, ctx *scopeCtx) (ir.TypeRef, *CompileError) {
	last := q.Last()
	if !q.Global && len(q.Segs) == 1 {
		if i, p := ctx.param(last.Name); p != nil {
			switch {
			case p.Kind != ir.ParamType:
				return ir.TypeRef{}, errorf(ErrNotAType, nil, loc, "template parameter %s is not a type", p.Name)
			case last.HasArgs:
				return ir.TypeRef{}, errorf(ErrUnsupported, nil, loc, "template template parameters are not supported")
			}
			return ir.ParamRef(p.Name, i), nil
		}
	}

	s, err := b.lookupQual(q, ctx.path)
	if s == nil {
		if name := stdName(q); name != "" {
			if prim, ok := b.model.StdType(name); ok {
				return ir.Prim(prim), nil
			}
		}
		return ir.TypeRef{}, at(err, loc)
	}

	switch s.kind {
	case symClass, symEnum, symTypedef:
		if last.HasArgs {
			return ir.TypeRef{}, errorf(ErrNotATemplate, nil, loc, "%s is not a template", s.path)
		}
		if s.kind == symTypedef {
			if err := b.ensure(s); err != nil {
				return ir.TypeRef{}, errorf(ErrSkippedDependency, nil, loc, "depends on skipped declaration %s", s.path)
			}
		}
		return ir.Named(s.path), nil

	case symTemplate:
		if s.function {
			return ir.TypeRef{}, errorf(ErrNotAType, nil, loc, "function template %s is not a type", s.path)
		}
		if !last.HasArgs {
			if ctx.tmpl != nil && ctx.tmpl.path.Equal(s.path) {
				return ir.InstanceOf(s.path, ctx.tmpl.self...), nil
			}
			return ir.TypeRef{}, errorf(ErrTemplateArgs, nil, loc, "template %s used without arguments", s.path)
		}
		args, err := b.lowerArgs(last.Args, ctx)
		if err != nil {
			return ir.TypeRef{}, at(err, loc)
		}
		ref := ir.InstanceOf(s.path, args...)
		if !ref.IsDependent() {
			b.request(ref, loc, ctx)
		}
		return ref, nil
	}
	return ir.TypeRef{}, errorf(ErrNotAType, nil, loc, "%s %s is not a type", symKindNames[s.kind], s.path)
}

func (b *builder) lowerArgs(args []*source.TemplateArgExpr, ctx *scopeCtx) ([]ir.TemplateArg, *CompileError) {
	out := make([]ir.TemplateArg, 0, len(args))
	for _, a := range args {
		arg, err := b.lowerArg(a, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, arg)
	}
	return out, nil
}

// lowerArg lowers one template argument. The parser reads an ambiguous name
// as a type; a name that denotes a constant is reinterpreted as a value.
func (b *builder) lowerArg(a *source.TemplateArgExpr, ctx *scopeCtx) (ir.TemplateArg, *CompileError) {
	if a.Type != nil {
		if !b.denotesValue(a.Type, ctx) {
			t, err := b.lowerType(a.Type, ctx)
			if err != nil {
				return ir.TemplateArg{}, err
			}
			return ir.TypeArg(t), nil
		}
		e, err := b.constExpr(&source.Expr{Kind: source.ExprName, Name: a.Type.Name, Loc: a.Type.Loc}, ctx)
		if err != nil {
			return ir.TemplateArg{}, err
		}
		return ir.ValueArg(e), nil
	}
	e, err := b.constExpr(a.Expr, ctx)
	if err != nil {
		return ir.TemplateArg{}, err
	}
	return ir.ValueArg(e), nil
}

func (b *builder) denotesValue(t *source.TypeExpr, ctx *scopeCtx) bool {
	if t.Kind != source.TypeName || t.Const || t.Volatile || t.Name.Last().HasArgs {
		return false
	}
	if !t.Name.Global && len(t.Name.Segs) == 1 {
		if _, p := ctx.param(t.Name.Segs[0].Name); p != nil {
			return p.Kind == ir.ParamValue
		}
	}
	s, _ := b.lookupQual(t.Name, ctx.path)
	return s != nil && (s.kind == symVariable || s.kind == symEnumerator)
}

// constExpr lowers and folds a constant expression. The result is a literal
// unless it depends on template parameters or on sizes only the layout
// calculator knows.
func (b *builder) constExpr(e *source.Expr, ctx *scopeCtx) (*ir.ConstExpr, *CompileError) {
	c, err := b.lowerExpr(e, ctx)
	if err != nil {
		return nil, err
	}
	folded, ferr := ir.Fold(c, b.foldEnv())
	if ferr != nil {
		var fe *ir.FoldError
		if errors.As(ferr, &fe) {
			return nil, errorf(ErrNotConstant, nil, e.Loc, "%s", fe.Error())
		}
		return nil, errorf(ErrNotConstant, nil, e.Loc, "%v", ferr)
	}
	return folded, nil
}

// constInt evaluates a constant that must fold to an integer.
func (b *builder) constInt(e *source.Expr, ctx *scopeCtx) (int64, *CompileError) {
	c, err := b.constExpr(e, ctx)
	if err != nil {
		return 0, err
	}
	if !c.IsLit() {
		return 0, errorf(ErrNotConstant, nil, e.Loc, "%s is not a constant", ir.CanonicalExpr(c))
	}
	return c.Value, nil
}

func (b *builder) lowerExpr(e *source.Expr, ctx *scopeCtx) (*ir.ConstExpr, *CompileError) {
	switch e.Kind {
	case source.ExprInt, source.ExprBool:
		return ir.Lit(e.Value, e.Type), nil

	case source.ExprName:
		q := e.Name
		if !q.Global && len(q.Segs) == 1 {
			if i, p := ctx.param(q.Segs[0].Name); p != nil {
				if p.Kind != ir.ParamValue {
					return nil, errorf(ErrNotConstant, nil, e.Loc, "type parameter %s used as a value", p.Name)
				}
				return &ir.ConstExpr{Kind: ir.ExprParam, Name: p.Name, Index: i}, nil
			}
		}
		s, err := b.lookupQual(q, ctx.path)
		if s == nil {
			return nil, at(err, e.Loc)
		}
		switch s.kind {
		case symEnumerator:
			v, err := b.enumeratorValue(s)
			return v, at(err, e.Loc)
		case symVariable:
			return &ir.ConstExpr{Kind: ir.ExprName, Path: s.path}, nil
		}
		return nil, errorf(ErrNotConstant, nil, e.Loc, "%s %s is not a constant", symKindNames[s.kind], s.path)

	case source.ExprUnary:
		x, err := b.lowerExpr(e.X, ctx)
		if err != nil {
			return nil, err
		}
		return &ir.ConstExpr{Kind: ir.ExprUnary, Op: e.Op, X: x}, nil

	case source.ExprBinary:
		x, err := b.lowerExpr(e.X, ctx)
		if err != nil {
			return nil, err
		}
		y, err := b.lowerExpr(e.Y, ctx)
		if err != nil {
			return nil, err
		}
		return &ir.ConstExpr{Kind: ir.ExprBinary, Op: e.Op, X: x, Y: y}, nil

	case source.ExprCond:
		x, err := b.lowerExpr(e.X, ctx)
		if err != nil {
			return nil, err
		}
		y, err := b.lowerExpr(e.Y, ctx)
		if err != nil {
			return nil, err
		}
		z, err := b.lowerExpr(e.Z, ctx)
		if err != nil {
			return nil, err
		}
		return &ir.ConstExpr{Kind: ir.ExprCond, X: x, Y: y, Z: z}, nil

	case source.ExprSizeof, source.ExprAlign, source.ExprCast:
		t, err := b.lowerType(e.Arg, ctx)
		if err != nil {
			return nil, err
		}
		if e.Kind != source.ExprCast {
			kind := ir.ExprSizeof
			if e.Kind == source.ExprAlign {
				kind = ir.ExprAlign
			}
			return &ir.ConstExpr{Kind: kind, Arg: &t}, nil
		}
		x, err := b.lowerExpr(e.X, ctx)
		if err != nil {
			return nil, err
		}
		return &ir.ConstExpr{Kind: ir.ExprCast, Arg: &t, X: x}, nil
	}
	return nil, errorf(ErrNotConstant, nil, e.Loc, "%s is not an integral constant expression", e)
}

func (b *builder) enumeratorValue(s *symbol) (*ir.ConstExpr, *CompileError) {
	vals := s.enum.decl.Enum.Values
	if s.index < len(vals) && vals[s.index].Value != nil {
		return vals[s.index].Value, nil
	}
	if err := b.ensure(s.enum); err != nil {
		return nil, errorf(ErrNotConstant, nil, ir.Location{}, "enumerator %s has no value: %s", s.path, err.Message)
	}
	return s.enum.decl.Enum.Values[s.index].Value, nil
}

func (b *builder) foldEnv() ir.FoldEnv {
	env := b.model.FoldEnv()
	env.Constant = b.constantValue
	env.Layout = b.simpleLayout
	return env
}

// constantValue resolves a named constant outside template bodies.
func (b *builder) constantValue(p ir.Path) (*ir.ConstExpr, bool) {
	s := b.syms[p.String()]
	if s == nil || s.kind != symVariable || s.tctx != nil {
		return nil, false
	}
	if b.ensure(s) != nil || s.decl.Var == nil || !s.decl.Var.IsConstant() {
		return nil, false
	}
	return s.decl.Var.Init, s.decl.Var.Init.IsLit()
}

// simpleLayout sizes the types constant folding can size without the layout
// calculator: primitives, pointers, enums and arrays of those.
func (b *builder) simpleLayout(t ir.TypeRef) (size, align int64, ok bool) {
	switch t.Kind {
	case ir.TypePrimitive:
		i, ok := b.model.Primitive(t.Name)
		return i.Size, i.Align, ok
	case ir.TypePointer:
		p := b.model.Pointer()
		return p.Size, p.Align, true
	case ir.TypeReference, ir.TypeRValueRef:
		return b.simpleLayout(*t.Elem)
	case ir.TypeMemberPointer:
		p := b.model.Pointer()
		if t.Elem.Kind == ir.TypeFunction {
			return 2 * p.Size, p.Align, true
		}
		return p.Size, p.Align, true
	case ir.TypeArray:
		if !t.Len.IsLit() {
			return 0, 0, false
		}
		size, align, ok := b.simpleLayout(*t.Elem)
		return size * t.Len.Value, align, ok
	case ir.TypeNamed:
		s := b.syms[t.Path.String()]
		if s == nil || b.ensure(s) != nil {
			return 0, 0, false
		}
		switch s.kind {
		case symTypedef:
			return b.simpleLayout(*s.decl.Alias)
		case symEnum:
			if s.decl.Opaque && s.decl.Enum.Underlying.Kind == "" {
				return 0, 0, false
			}
			return b.simpleLayout(s.decl.Enum.Underlying)
		}
	}
	return 0, 0, false
}

// lowerClass fills in a class definition. Methods and nested declarations
// that fail are dropped individually; a failing base or field fails the
// class.
func (b *builder) lowerClass(decl *ir.Decl, src *source.Decl, ctx *scopeCtx) *CompileError {
	info := &ir.ClassInfo{Key: src.ClassKey}
	if src.Align != nil {
		a, err := b.constInt(src.Align, ctx)
		if err != nil {
			return err
		}
		info.Align = a
	}
	for _, base := range src.Bases {
		t, err := b.lowerType(base.Type, ctx)
		if err != nil {
			return err
		}
		info.Bases = append(info.Bases, ir.Base{Type: t, Access: base.Access, Virtual: base.Virtual})
	}

	inner := ctx.in(decl.Path)
	for _, m := range src.Members {
		if b.ignore[m] {
			continue
		}
		switch m.Kind {
		case source.DeclField:
			f, err := b.lowerField(m, inner)
			if err != nil {
				return at(err, m.Loc)
			}
			info.Fields = append(info.Fields, f)

		case source.DeclFunction:
			md := &ir.Decl{Kind: ir.KindFunction, Name: m.Name, Path: decl.Path.Child(m.Name), Loc: m.Loc}
			if err := b.lowerFunction(md, m, inner, true); err != nil {
				b.dropMember(md.Path, at(err, m.Loc))
				continue
			}
			info.Methods = append(info.Methods, md)

		case source.DeclClass, source.DeclEnum, source.DeclTypedef, source.DeclVariable:
			s := b.symOf[m]
			if s == nil || s.src != m {
				continue
			}
			if err := b.ensure(s); err != nil {
				b.dropMember(s.path, at(err, m.Loc))
				continue
			}
			info.Nested = append(info.Nested, s.decl)
		}
	}
	decl.Class = info
	decl.Opaque = false
	return nil
}

func (b *builder) lowerField(m *source.Decl, ctx *scopeCtx) (ir.Field, *CompileError) {
	t, err := b.lowerType(m.Type, ctx)
	if err != nil {
		return ir.Field{}, err
	}
	f := ir.Field{Name: m.Name, Type: t, Access: m.Access, Loc: m.Loc}
	if m.Align != nil {
		if f.Align, err = b.constInt(m.Align, ctx); err != nil {
			return ir.Field{}, err
		}
	}
	if m.BitWidth != nil {
		w, err := b.constInt(m.BitWidth, ctx)
		if err != nil {
			return ir.Field{}, err
		}
		if w < 0 {
			return ir.Field{}, errorf(ErrNotConstant, nil, m.Loc, "negative bit-field width %d", w)
		}
		f.BitWidth = int(w)
	}
	return f, nil
}

// lowerFunction fills in a free function, method or function template body.
func (b *builder) lowerFunction(decl *ir.Decl, src *source.Decl, ctx *scopeCtx, member bool) *CompileError {
	fd := src.Func
	ft := fd.Type
	info := &ir.FuncInfo{
		Kind:      fd.Kind,
		Operator:  fd.Operator,
		Variadic:  ft.Variadic,
		Method:    member && !fd.Static,
		Const:     ft.Const,
		Static:    fd.Static,
		Virtual:   fd.Virtual || fd.Override,
		Pure:      fd.Pure,
		Deleted:   fd.Deleted,
		Defaulted: fd.Defaulted,
		Inline:    fd.Inline,
		Result:    ir.Prim("void"),
	}
	if member {
		info.Access = src.Access
	}
	for _, p := range ft.Params {
		t, err := b.lowerType(p.Type, ctx)
		if err != nil {
			return err
		}
		info.Params = append(info.Params, ir.Param{Name: p.Name, Type: adjustParam(t)})
	}
	if fd.Kind != ir.FuncConstructor && fd.Kind != ir.FuncDestructor {
		r, err := b.lowerType(ft.Result, ctx)
		if err != nil {
			return err
		}
		info.Result = r
	}
	decl.Func = info
	return nil
}

// lowerEnum fills in an enum definition, folding every enumerator. An enum
// without a fixed underlying type gets the first of int, unsigned int, long
// and unsigned long that holds all its values.
func (b *builder) lowerEnum(decl *ir.Decl, src *source.Decl, ctx *scopeCtx) *CompileError {
	info := decl.Enum
	info.Values = nil
	var fixed string
	switch {
	case src.Type != nil:
		t, err := b.lowerType(src.Type, ctx)
		if err != nil {
			return err
		}
		u := b.underlyingPrim(t)
		if !ir.IsIntegral(u) {
			return errorf(ErrNotAType, nil, src.Loc, "enum underlying type %s is not integral", ir.CanonicalType(t))
		}
		fixed = u
		info.Underlying = t.Unqualified()
	case src.Scoped:
		fixed = "int"
		info.Underlying = ir.Prim(fixed)
	}
	if src.Forward {
		return nil
	}

	env := b.foldEnv()
	var prev *ir.ConstExpr
	for _, e := range src.Enumerators {
		var (
			v   *ir.ConstExpr
			err *CompileError
		)
		switch {
		case e.Value != nil:
			if v, err = b.constExpr(e.Value, ctx); err != nil {
				return at(err, e.Loc)
			}
		case prev == nil:
			v = ir.Lit(0, "int")
		default:
			v = &ir.ConstExpr{Kind: ir.ExprBinary, Op: "+", X: prev, Y: ir.Lit(1, "int")}
		}
		if fixed != "" {
			v = &ir.ConstExpr{Kind: ir.ExprCast, Arg: &ir.TypeRef{Kind: ir.TypePrimitive, Name: fixed}, X: v}
		}
		folded, ferr := ir.Fold(v, env)
		if ferr != nil {
			return errorf(ErrNotConstant, nil, e.Loc, "%v", ferr)
		}
		if !folded.IsLit() && ctx.tmpl == nil {
			return errorf(ErrNotConstant, nil, e.Loc, "enumerator %s is not a constant", e.Name)
		}
		info.Values = append(info.Values, ir.Enumerator{Name: e.Name, Value: folded})
		prev = folded
	}
	if fixed == "" {
		fixed = enumType(info.Values)
		info.Underlying = ir.Prim(fixed)
		for i, v := range info.Values {
			if v.Value.IsLit() {
				info.Values[i].Value = ir.Lit(v.Value.Value, fixed)
			}
		}
	}
	decl.Opaque = false
	return nil
}

func enumType(vals []ir.Enumerator) string {
	fitsInt, fitsUint, fitsLong, negative := true, true, true, false
	for _, v := range vals {
		if !v.Value.IsLit() {
			continue
		}
		n := v.Value.Value
		if ir.IsUnsigned(v.Value.Type) {
			u := uint64(n)
			fitsInt = fitsInt && u <= math.MaxInt32
			fitsUint = fitsUint && u <= math.MaxUint32
			fitsLong = fitsLong && u <= math.MaxInt64
			continue
		}
		negative = negative || n < 0
		fitsInt = fitsInt && n >= math.MinInt32 && n <= math.MaxInt32
		fitsUint = fitsUint && n >= 0 && n <= math.MaxUint32
	}
	switch {
	case fitsInt:
		return "int"
	case fitsUint && !negative:
		return "unsigned int"
	case fitsLong:
		return "long"
	}
	return "unsigned long"
}

// underlyingPrim resolves typedefs down to a primitive name, or "".
func (b *builder) underlyingPrim(t ir.TypeRef) string {
	for i := 0; i < 16; i++ {
		switch t.Kind {
		case ir.TypePrimitive:
			return t.Name
		case ir.TypeNamed:
			s := b.syms[t.Path.String()]
			if s == nil || s.kind != symTypedef || b.ensure(s) != nil {
				return ""
			}
			t = *s.decl.Alias
		default:
			return ""
		}
	}
	return ""
}

func (b *builder) lowerVariable(decl *ir.Decl, src *source.Decl, ctx *scopeCtx) *CompileError {
	t, err := b.lowerType(src.Type, ctx)
	if err != nil {
		return err
	}
	v := &ir.VarInfo{
		Type:      t,
		Const:     t.Const || src.Constexpr,
		Constexpr: src.Constexpr,
		Static:    src.Static,
		Extern:    src.Extern,
	}
	if src.Init != nil {
		// Initializers that do not fold (floating, string, calls) are kept
		// out of the IR; the variable is still bound.
		if c, err := b.constExpr(src.Init, ctx); err == nil {
			if u := t.Unqualified(); u.Kind == ir.TypePrimitive && ir.IsIntegral(u.Name) && c.IsLit() {
				cast := &ir.ConstExpr{Kind: ir.ExprCast, Arg: &u, X: c}
				if folded, ferr := ir.Fold(cast, b.foldEnv()); ferr == nil {
					c = folded
				}
			}
			v.Init = c
		}
	}
	decl.Var = v
	return nil
}
