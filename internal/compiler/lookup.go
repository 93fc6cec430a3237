package compiler

import (
	"github.com/roach88/cxxada/internal/ir"
	"github.com/roach88/cxxada/internal/source"
)

// scopeCtx is where a declaration is being lowered.
type scopeCtx struct {
	path  ir.Path  // innermost enclosing namespace or class
	tmpl  *tmplCtx // enclosing template parameter scope
	owner *ir.Decl // namespace-scope declaration requests are attributed to
}

// in returns a copy of the context for the member scope p.
func (c *scopeCtx) in(p ir.Path) *scopeCtx {
	out := *c
	out.path = p
	return &out
}

// param finds a template parameter by name.
func (c *scopeCtx) param(name string) (int, *ir.TemplateParam) {
	if c.tmpl == nil {
		return -1, nil
	}
	for i := range c.tmpl.params {
		if c.tmpl.params[i].Name == name {
			return i, &c.tmpl.params[i]
		}
	}
	return -1, nil
}

// lookup performs unqualified lookup of name from scope outwards.
func (b *builder) lookup(name string, scope ir.Path) *symbol {
	for p := scope; ; p = p.Parent() {
		if s := b.lookupIn(p, name, make(map[string]bool)); s != nil {
			return s
		}
		if len(p) == 0 {
			return nil
		}
	}
}

// lookupIn finds name as a member of scope: directly, then in base classes,
// then in namespaces nominated by using-directives (inline namespaces
// included).
func (b *builder) lookupIn(scope ir.Path, name string, seen map[string]bool) *symbol {
	key := scope.String()
	if seen[key] {
		return nil
	}
	seen[key] = true
	if s := b.syms[scope.Child(name).String()]; s != nil {
		return s
	}
	if cs := b.syms[key]; cs != nil && cs.kind == symClass {
		for _, base := range b.baseScopes(cs) {
			if s := b.lookupIn(base, name, seen); s != nil {
				return s
			}
		}
	}
	for _, u := range b.usings[key] {
		if s := b.lookupIn(u, name, seen); s != nil {
			return s
		}
	}
	return nil
}

// baseScopes resolves the non-template base classes of a class for member
// lookup. Bases that are template instances are not searched.
func (b *builder) baseScopes(cs *symbol) []ir.Path {
	if cs.basesResolved || cs.src == nil {
		return cs.bases
	}
	cs.basesResolved = true
	for _, base := range cs.src.Bases {
		q := base.Type.Name
		if q == nil || q.Last().HasArgs {
			continue
		}
		s, _ := b.lookupQual(q, cs.scope)
		if s = b.scopeOf(s); s != nil && s.kind == symClass {
			cs.bases = append(cs.bases, s.path)
		}
	}
	return cs.bases
}

// scopeOf returns the symbol whose members a qualified name continues into:
// typedefs of classes are followed.
func (b *builder) scopeOf(s *symbol) *symbol {
	for i := 0; s != nil && s.kind == symTypedef && i < 16; i++ {
		if b.ensure(s) != nil || s.decl.Alias == nil || s.decl.Alias.Kind != ir.TypeNamed {
			return nil
		}
		s = b.syms[s.decl.Alias.Path.String()]
	}
	return s
}

// lookupQual resolves a possibly qualified name. Template arguments on the
// final segment are ignored here; members of template instances are not
// supported.
func (b *builder) lookupQual(q *source.QualName, scope ir.Path) (*symbol, *CompileError) {
	var s *symbol
	for i, seg := range q.Segs {
		last := i == len(q.Segs)-1
		if !last && seg.HasArgs {
			return nil, errorf(ErrUnsupported, nil, ir.Location{}, "members of template instances (%s) are not supported", q)
		}
		switch {
		case i == 0 && q.Global:
			s = b.lookupIn(ir.Path{}, seg.Name, make(map[string]bool))
		case i == 0:
			s = b.lookup(seg.Name, scope)
		default:
			s = b.lookupIn(s.path, seg.Name, make(map[string]bool))
		}
		if s == nil {
			return nil, errorf(ErrUnknownName, nil, ir.Location{}, "unknown name %s", q)
		}
		if !last {
			if s = b.scopeOf(s); s == nil {
				return nil, errorf(ErrUnknownName, nil, ir.Location{}, "%s does not name a scope", q)
			}
			if s.kind == symTemplate {
				return nil, errorf(ErrNotATemplate, nil, ir.Location{}, "template %s used without arguments in %s", s.path, q)
			}
		}
	}
	return s, nil
}

// stdName returns the name a fallback <cstdint> lookup should use, or "".
func stdName(q *source.QualName) string {
	for _, s := range q.Segs {
		if s.HasArgs {
			return ""
		}
	}
	switch {
	case len(q.Segs) == 1:
		return q.Segs[0].Name
	case len(q.Segs) == 2 && q.Segs[0].Name == "std":
		return "std::" + q.Segs[1].Name
	}
	return ""
}
