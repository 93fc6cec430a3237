package compiler

import (
	"strings"

	"github.com/roach88/cxxada/internal/ir"
	"github.com/roach88/cxxada/internal/source"
)

// lowerParams lowers a template parameter list into t. Later parameters and
// default arguments may refer to earlier parameters.
func (b *builder) lowerParams(t *tmplCtx, params []*source.TemplateParamDecl, ctx *scopeCtx) *CompileError {
	t.params = nil
	pctx := *ctx
	pctx.tmpl = t
	for _, p := range params {
		tp := ir.TemplateParam{Name: p.Name, Kind: p.Kind}
		if p.Kind == ir.ParamValue {
			typ, err := b.lowerType(p.Type, &pctx)
			if err != nil {
				return at(err, p.Loc)
			}
			tp.Type = &typ
		}
		if p.Default != nil {
			a, err := b.lowerArg(p.Default, &pctx)
			if err != nil {
				return at(err, p.Loc)
			}
			tp.Default = &a
		}
		t.params = append(t.params, tp)
	}
	t.self = selfArgs(t.params)
	return nil
}

// selfArgs is the argument list naming each parameter in order, which is
// what the injected class name means inside a primary template.
func selfArgs(params []ir.TemplateParam) []ir.TemplateArg {
	out := make([]ir.TemplateArg, len(params))
	for i, p := range params {
		if p.Kind == ir.ParamType {
			out[i] = ir.TypeArg(ir.ParamRef(p.Name, i))
		} else {
			out[i] = ir.ValueArg(&ir.ConstExpr{Kind: ir.ExprParam, Name: p.Name, Index: i})
		}
	}
	return out
}

// ensureParams lowers a primary template's parameter list on first use.
func (b *builder) ensureParams(t *tmplCtx) *CompileError {
	if t.ready {
		return nil
	}
	s := t.sym
	if s.src == nil || s.src.Template == nil {
		return errorf(ErrUnsupported, nil, ir.Location{}, "%s has no template header", s.path)
	}
	t.ready = true
	ctx := &scopeCtx{path: s.scope, owner: s.owner}
	if err := b.lowerParams(t, s.src.Template.Params, ctx); err != nil {
		t.ready = false
		return err
	}
	return nil
}

// lowerTemplate fills in a primary class, function or alias template.
func (b *builder) lowerTemplate(s *symbol, ctx *scopeCtx) *CompileError {
	t := s.tctx
	if err := b.ensureParams(t); err != nil {
		return err
	}
	info := s.decl.Template
	info.Params = t.params
	ctx.tmpl = t

	src := s.src
	body := &ir.Decl{Name: s.decl.Name, Path: s.path, Loc: src.Loc}
	switch src.Kind {
	case source.DeclClass:
		body.Kind = ir.KindClass
		body.Class = &ir.ClassInfo{Key: src.ClassKey}
		body.Opaque = true
		if !src.Forward {
			if err := b.lowerClass(body, src, ctx); err != nil {
				return err
			}
		}
	case source.DeclTypedef:
		body.Kind = ir.KindTypedef
		alias, err := b.lowerType(src.Type, ctx)
		if err != nil {
			return err
		}
		body.Alias = &alias
	case source.DeclFunction:
		body.Kind = ir.KindFunction
		body.Linkage = src.Linkage
		if err := b.lowerFunction(body, src, ctx, false); err != nil {
			return err
		}
	default:
		return errorf(ErrUnsupported, nil, src.Loc, "unsupported template of %s", src.Kind)
	}
	info.Body = body
	return nil
}

// lowerSpecialization attaches a full or partial specialization to its
// primary template. A failing specialization is dropped on its own.
func (b *builder) lowerSpecialization(d *source.Decl, scope ir.Path) {
	s := b.lookup(d.Name, scope)
	field := scope.Child(d.Name).String() + "<...>"
	if s == nil || s.kind != symTemplate {
		b.warn(errorf(ErrNoPrimary, nil, d.Loc, "specialization of unknown template %s", d.Name).withField(field))
		return
	}
	if err := b.ensure(s); err != nil {
		return // the primary is already reported
	}
	if s.function != (d.Kind == source.DeclFunction) {
		b.warn(errorf(ErrNoPrimary, nil, d.Loc, "specialization does not match template %s", s.path).withField(field))
		return
	}

	err := b.lowerSpecBody(s, d, scope)
	if err != nil {
		b.warn(at(err, d.Loc).withField(field))
	}
}

func (b *builder) lowerSpecBody(s *symbol, d *source.Decl, scope ir.Path) *CompileError {
	info := s.decl.Template
	tc := &tmplCtx{sym: s, path: s.path, ready: true}
	ctx := &scopeCtx{path: scope, owner: s.decl}
	var params []*source.TemplateParamDecl
	if d.Template != nil {
		params = d.Template.Params
	}
	if err := b.lowerParams(tc, params, ctx); err != nil {
		return err
	}
	ctx.tmpl = tc

	patternSrc := d.SpecArgs
	if d.Func != nil {
		patternSrc = d.Func.TemplateArgs
	}
	pattern, err := b.lowerArgs(patternSrc, ctx)
	if err != nil {
		return err
	}
	if len(pattern) > len(info.Params) {
		return errorf(ErrTemplateArgs, nil, d.Loc, "too many arguments for %s (%d, want %d)", s.path, len(pattern), len(info.Params))
	}
	if d.Func == nil && len(pattern) == 0 {
		return errorf(ErrTemplateArgs, nil, d.Loc, "class template specialization without arguments")
	}
	for i, p := range tc.params {
		if !usesParam(pattern, i) {
			return errorf(ErrTemplateArgs, nil, d.Loc, "partial specialization parameter %s is not deducible", p.Name)
		}
	}
	tc.self = pattern

	body := &ir.Decl{Name: s.decl.Name, Loc: d.Loc}
	if d.Kind == source.DeclFunction {
		body.Kind = ir.KindFunction
		body.Path = s.path
		body.Linkage = d.Linkage
		if err := b.lowerFunction(body, d, ctx, false); err != nil {
			return err
		}
	} else {
		body.Kind = ir.KindClass
		body.Path = s.path.Parent().Child(ir.InstanceSegment(s.path, pattern))
		body.Class = &ir.ClassInfo{Key: d.ClassKey}
		body.Opaque = true
		if !d.Forward {
			b.declare(d.Members, body.Path, s.decl, tc)
			if err := b.lowerClass(body, d, ctx); err != nil {
				return err
			}
		}
	}

	spec := ir.Specialization{Params: tc.params, Pattern: pattern, Body: body, Loc: d.Loc}
	key := ir.CanonicalArgs(pattern)
	for i, old := range info.Specializations {
		if len(pattern) == 0 || ir.CanonicalArgs(old.Pattern) != key || len(old.Params) != len(spec.Params) {
			continue
		}
		if old.Body.Opaque && !body.Opaque {
			info.Specializations[i] = spec
			return nil
		}
		if body.Opaque {
			return nil
		}
		return errorf(ErrDuplicateName, nil, d.Loc, "redefinition of specialization %s<%s>", s.path, key)
	}
	info.Specializations = append(info.Specializations, spec)
	return nil
}

// usesParam reports whether parameter index appears in args.
func usesParam(args []ir.TemplateArg, index int) bool {
	found := false
	var inExpr func(e *ir.ConstExpr)
	inExpr = func(e *ir.ConstExpr) {
		if e == nil || found {
			return
		}
		if e.Kind == ir.ExprParam && e.Index == index {
			found = true
			return
		}
		if e.Arg != nil && typeUsesParam(e.Arg, index) {
			found = true
		}
		inExpr(e.X)
		inExpr(e.Y)
		inExpr(e.Z)
	}
	for i := range args {
		a := args[i]
		if a.Value != nil {
			inExpr(a.Value)
			continue
		}
		if typeUsesParam(a.Type, index) {
			return true
		}
	}
	return found
}

func typeUsesParam(t *ir.TypeRef, index int) bool {
	found := false
	t.Visit(func(r *ir.TypeRef) {
		switch {
		case r.Kind == ir.TypeParamRef && r.Index == index:
			found = true
		case r.Len != nil && usesParam([]ir.TemplateArg{ir.ValueArg(r.Len)}, index):
			found = true
		}
		for _, x := range r.Args {
			if x.Value != nil && usesParam([]ir.TemplateArg{x}, index) {
				found = true
			}
		}
	})
	return found
}

// lowerInstantiation queues an explicit instantiation request.
func (b *builder) lowerInstantiation(d *source.Decl, scope ir.Path) {
	ctx := &scopeCtx{path: scope}
	field := d.Target.String()
	fail := func(err *CompileError) {
		b.warn(at(err, d.Loc).withField(field))
	}

	if d.Func == nil {
		ref, err := b.resolveTypeName(d.Target, d.Loc, ctx)
		if err != nil {
			fail(err)
			return
		}
		if ref.Kind != ir.TypeInstance {
			fail(errorf(ErrNotATemplate, nil, d.Loc, "%s is not a template-id", d.Target))
			return
		}
		b.reqs = append(b.reqs, pendingRequest{req: ir.Request{Ref: ref, Loc: d.Loc, Explicit: true}})
		return
	}

	s, err := b.lookupQual(d.Target, scope)
	if s == nil {
		fail(err)
		return
	}
	if s.kind != symTemplate || !s.function {
		fail(errorf(ErrNotATemplate, nil, d.Loc, "%s is not a function template", s.path))
		return
	}
	if err := b.ensure(s); err != nil {
		return
	}
	args, err := b.lowerArgs(d.Func.TemplateArgs, ctx)
	if err != nil {
		fail(err)
		return
	}
	fn, err := b.lowerType(d.Func.Type, ctx)
	if err != nil {
		fail(err)
		return
	}
	sig := &ir.FuncSig{Params: fn.Params, Result: *fn.Result}
	ref := ir.InstanceOf(s.path, args...)
	req := ir.Request{Ref: ref, Loc: d.Loc, Explicit: true, Signature: sig}
	if len(args) < len(s.decl.Template.Params) {
		req.Key = PendingKey(s.path, sig)
	}
	b.reqs = append(b.reqs, pendingRequest{req: req})
}

// PendingKey identifies a function template instantiation whose arguments
// are still to be deduced from sig.
func PendingKey(template ir.Path, sig *ir.FuncSig) ir.InstanceKey {
	params := make([]string, len(sig.Params))
	for i, p := range sig.Params {
		params[i] = ir.CanonicalType(p)
	}
	return ir.InstanceKey(template.String() + "<?>(" + strings.Join(params, ",") + ")")
}

func (e *CompileError) withField(f string) *CompileError {
	if e.Field == "" {
		e.Field = f
	}
	return e
}
