// Package compiler lowers parsed headers into the IR and checks the
// structural invariants of the result.
package compiler

import (
	"fmt"
	"log/slog"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/ir"
	"github.com/roach88/cxxada/internal/source"
)

// Options configures IR construction.
type Options struct {
	// DataModel fixes primitive widths for constant folding and the
	// <cstdint> names. Defaults to LP64.
	DataModel *abi.DataModel
	Logger    *slog.Logger
}

// CompileError reports a declaration that could not be lowered. The
// declaration is dropped and the error surfaces as a diagnostic.
type CompileError struct {
	Field   string      // qualified name of the declaration
	Code    string      // E1xx
	Message string
	Pos     ir.Location
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: [%s] %s: %s", e.Pos, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

type symKind int

const (
	symNamespace symKind = iota
	symClass
	symEnum
	symTypedef
	symTemplate
	symVariable
	symEnumerator
)

var symKindNames = map[symKind]string{
	symNamespace:  "namespace",
	symClass:      "class",
	symEnum:       "enum",
	symTypedef:    "typedef",
	symTemplate:   "template",
	symVariable:   "variable",
	symEnumerator: "enumerator",
}

const (
	statePending = iota
	stateLowering
	stateDone
	stateFailed
)

// symbol is a name-table entry. Namespace-scope and member declarations
// share one table keyed by qualified path.
type symbol struct {
	kind  symKind
	path  ir.Path
	decl  *ir.Decl
	src   *source.Decl // defining declaration, or the first forward declaration
	scope ir.Path      // scope the declaration appears in
	tctx  *tmplCtx     // enclosing template, for members of template bodies
	owner *ir.Decl     // namespace-scope declaration the symbol belongs to

	// Function templates cannot be named as types.
	function bool

	// Enumerators point at their enum.
	enum  *symbol
	index int

	state int
	err   *CompileError

	bases         []ir.Path
	basesResolved bool
}

// tmplCtx is the template-parameter scope of a template or specialization
// body.
type tmplCtx struct {
	sym    *symbol
	path   ir.Path // the template
	params []ir.TemplateParam
	self   []ir.TemplateArg // injected class name arguments
	ready  bool
}

type pendingRequest struct {
	req   ir.Request
	owner *ir.Decl
}

type builder struct {
	log   *slog.Logger
	model *abi.DataModel

	syms   map[string]*symbol
	usings map[string][]ir.Path
	symOf  map[*source.Decl]*symbol
	funcs  map[*source.Decl]*ir.Decl
	ignore map[*source.Decl]bool

	order   []*ir.Decl
	failed  map[*ir.Decl]*CompileError
	dropped map[string]bool
	reqs    []pendingRequest
	diags   []diag.Diagnostic
}

// Build lowers parsed headers into a module.
//
// Construction runs in two passes over all files: the first declares every
// name so that lookup sees forward references and later definitions; the
// second lowers bodies. A declaration that cannot be lowered is dropped
// with a warning diagnostic, and so is every declaration that refers to it.
// Concrete template-ids are queued on the module as instantiation requests.
func Build(files []*source.File, opts Options) (*ir.Module, []diag.Diagnostic) {
	b := &builder{
		log:     opts.Logger,
		model:   opts.DataModel,
		syms:    make(map[string]*symbol),
		usings:  make(map[string][]ir.Path),
		symOf:   make(map[*source.Decl]*symbol),
		funcs:   make(map[*source.Decl]*ir.Decl),
		ignore:  make(map[*source.Decl]bool),
		failed:  make(map[*ir.Decl]*CompileError),
		dropped: make(map[string]bool),
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	if b.model == nil {
		b.model = abi.LP64()
	}

	for _, f := range files {
		b.declare(f.Decls, ir.Path{}, nil, nil)
	}
	for _, f := range files {
		b.lowerSeq(f.Decls, ir.Path{})
	}
	b.cascade()
	mod := b.finish()

	b.log.Debug("module built",
		"files", len(files),
		"decls", len(b.order),
		"requests", len(mod.Requests()),
		"dropped", len(b.failed))
	return mod, b.diags
}

// errorf builds a CompileError for the declaration at path.
func errorf(code string, path ir.Path, loc ir.Location, format string, args ...any) *CompileError {
	return &CompileError{Field: path.String(), Code: code, Message: fmt.Sprintf(format, args...), Pos: loc}
}

func (b *builder) warn(err *CompileError) {
	b.diags = append(b.diags, diag.Warnf(diag.ParseError, err.Code, err.Field, err.Pos, "%s", err.Message))
}

// fail drops a namespace-scope declaration.
func (b *builder) fail(d *ir.Decl, err *CompileError) {
	if _, ok := b.failed[d]; ok {
		return
	}
	if err.Field == "" {
		err.Field = d.Path.String()
	}
	b.failed[d] = err
	b.dropped[d.Path.String()] = true
	b.warn(err)
}

// dropMember records a skipped class member without failing the class.
func (b *builder) dropMember(path ir.Path, err *CompileError) {
	b.dropped[path.String()] = true
	if err.Field == "" {
		err.Field = path.String()
	}
	b.warn(err)
}

func (b *builder) register(s *symbol) {
	b.syms[s.path.String()] = s
	if s.owner == nil {
		s.owner = s.decl
	}
}

func (b *builder) addUsing(scope, target ir.Path) {
	key := scope.String()
	for _, u := range b.usings[key] {
		if u.Equal(target) {
			return
		}
	}
	b.usings[key] = append(b.usings[key], target)
}

func isSpecialization(d *source.Decl) bool {
	if d.Template == nil {
		return len(d.SpecArgs) > 0
	}
	if len(d.SpecArgs) > 0 || len(d.Template.Params) == 0 {
		return true
	}
	return d.Func != nil && len(d.Func.TemplateArgs) > 0
}

// declare registers the names introduced by decls in scope. owner is the
// namespace-scope declaration members belong to (nil at namespace scope);
// tctx is the enclosing template body, if any.
func (b *builder) declare(decls []*source.Decl, scope ir.Path, owner *ir.Decl, tctx *tmplCtx) {
	for _, d := range decls {
		b.declareOne(d, scope, owner, tctx)
	}
}

func (b *builder) declareOne(d *source.Decl, scope ir.Path, owner *ir.Decl, tctx *tmplCtx) {
	p := scope.Child(d.Name)
	existing := b.syms[p.String()]
	top := owner == nil

	newSym := func(kind symKind, decl *ir.Decl) *symbol {
		s := &symbol{kind: kind, path: p, decl: decl, src: d, scope: scope, tctx: tctx, owner: owner}
		b.register(s)
		b.symOf[d] = s
		if top {
			b.order = append(b.order, decl)
		}
		return s
	}
	clash := func(what string) {
		err := errorf(ErrDuplicateName, p, d.Loc, "%s redeclared as %s", symKindNames[existing.kind], what)
		b.ignore[d] = true
		b.warn(err)
	}

	switch d.Kind {
	case source.DeclNamespace:
		if existing == nil {
			existing = newSym(symNamespace, &ir.Decl{Kind: ir.KindNamespace, Name: d.Name, Path: p, Loc: d.Loc})
		} else if existing.kind != symNamespace {
			clash("namespace")
			return
		}
		if d.Inline {
			b.addUsing(scope, p)
		}
		b.declare(d.Members, p, nil, nil)

	case source.DeclUsingDirective:
		s, _ := b.lookupQual(d.Target, scope)
		if s == nil || s.kind != symNamespace {
			if d.Target.Segs[0].Name != "std" {
				b.warn(errorf(ErrUnknownName, scope, d.Loc, "using-directive names unknown namespace %s", d.Target))
			}
			return
		}
		b.addUsing(scope, s.path)

	case source.DeclUsing:
		s, err := b.lookupQual(d.Target, scope)
		if s == nil {
			err.Pos, err.Field = d.Loc, p.String()
			b.warn(err)
			return
		}
		if existing == nil {
			b.syms[p.String()] = s
		}

	case source.DeclClass:
		if isSpecialization(d) {
			return
		}
		if d.Template != nil {
			if existing == nil {
				decl := &ir.Decl{Kind: ir.KindTemplate, Name: d.Name, Path: p, Loc: d.Loc, Template: &ir.TemplateInfo{}}
				existing = newSym(symTemplate, decl)
				existing.tctx = &tmplCtx{sym: existing, path: p}
			} else if existing.kind != symTemplate || existing.function {
				clash("class template")
				return
			} else {
				b.symOf[d] = existing
			}
		} else {
			if existing == nil {
				decl := &ir.Decl{Kind: ir.KindClass, Name: d.Name, Path: p, Loc: d.Loc, Opaque: true, Class: &ir.ClassInfo{Key: d.ClassKey}}
				existing = newSym(symClass, decl)
			} else if existing.kind != symClass {
				clash("class")
				return
			} else {
				b.symOf[d] = existing
			}
		}
		if d.Forward {
			return
		}
		if existing.src != nil && existing.src != d && !existing.src.Forward {
			err := errorf(ErrDuplicateName, p, d.Loc, "redefinition of %s", p)
			b.ignore[d] = true
			b.warn(err)
			return
		}
		existing.src, existing.scope = d, scope
		bodyCtx := tctx
		if existing.kind == symTemplate {
			bodyCtx = existing.tctx
		}
		b.declare(d.Members, p, existing.owner, bodyCtx)

	case source.DeclEnum:
		if existing == nil {
			decl := &ir.Decl{Kind: ir.KindEnum, Name: d.Name, Path: p, Loc: d.Loc, Opaque: d.Forward, Enum: &ir.EnumInfo{Scoped: d.Scoped}}
			existing = newSym(symEnum, decl)
		} else if existing.kind != symEnum {
			clash("enum")
			return
		} else {
			b.symOf[d] = existing
		}
		if d.Forward {
			return
		}
		existing.src, existing.scope = d, scope
		encl := scope
		if d.Scoped {
			encl = p
		}
		for i, e := range d.Enumerators {
			ep := encl.Child(e.Name)
			if b.syms[ep.String()] != nil {
				b.warn(errorf(ErrDuplicateName, ep, e.Loc, "enumerator redeclares %s", ep))
				continue
			}
			b.register(&symbol{kind: symEnumerator, path: ep, scope: encl, enum: existing, index: i, owner: existing.owner, tctx: tctx})
		}

	case source.DeclTypedef:
		if d.Template != nil {
			if existing != nil {
				clash("alias template")
				return
			}
			decl := &ir.Decl{Kind: ir.KindTemplate, Name: d.Name, Path: p, Loc: d.Loc, Template: &ir.TemplateInfo{}}
			s := newSym(symTemplate, decl)
			s.tctx = &tmplCtx{sym: s, path: p}
			return
		}
		if existing != nil {
			if (existing.kind == symClass || existing.kind == symEnum) && selfAlias(d) {
				// typedef struct S S;
				b.ignore[d] = true
				return
			}
			clash("typedef")
			return
		}
		newSym(symTypedef, &ir.Decl{Kind: ir.KindTypedef, Name: d.Name, Path: p, Loc: d.Loc})

	case source.DeclVariable:
		if existing != nil {
			if existing.kind == symVariable && (d.Extern || existing.src.Extern) {
				if existing.src.Extern && !d.Extern {
					existing.src = d
				}
				b.ignore[d] = true
				return
			}
			clash("variable")
			return
		}
		decl := &ir.Decl{Kind: ir.KindVariable, Name: d.Name, Path: p, Loc: d.Loc}
		if top {
			decl.Linkage = d.Linkage
		}
		newSym(symVariable, decl)

	case source.DeclFunction:
		if owner != nil {
			return // methods are lowered with their class
		}
		if isSpecialization(d) {
			return
		}
		if d.Template != nil {
			if existing != nil {
				if existing.kind == symTemplate && existing.function {
					err := errorf(ErrUnsupported, p, d.Loc, "overloaded function templates are not supported")
					b.ignore[d] = true
					b.warn(err)
					return
				}
				clash("function template")
				return
			}
			decl := &ir.Decl{Kind: ir.KindTemplate, Name: d.Name, Path: p, Loc: d.Loc, Linkage: d.Linkage, Template: &ir.TemplateInfo{}}
			s := newSym(symTemplate, decl)
			s.function = true
			s.tctx = &tmplCtx{sym: s, path: p}
			return
		}
		decl := &ir.Decl{Kind: ir.KindFunction, Name: d.Name, Path: p, Loc: d.Loc, Linkage: d.Linkage}
		b.funcs[d] = decl
		b.order = append(b.order, decl)
	}
}

func selfAlias(d *source.Decl) bool {
	t := d.Type
	return t != nil && t.Kind == source.TypeName && !t.Const && !t.Volatile &&
		len(t.Name.Segs) == 1 && t.Name.Segs[0].Name == d.Name && !t.Name.Segs[0].HasArgs
}

// lowerSeq lowers the bodies of decls, which appear in scope.
func (b *builder) lowerSeq(decls []*source.Decl, scope ir.Path) {
	for _, d := range decls {
		if b.ignore[d] {
			continue
		}
		switch d.Kind {
		case source.DeclNamespace:
			b.lowerSeq(d.Members, scope.Child(d.Name))
		case source.DeclClass, source.DeclFunction:
			if isSpecialization(d) {
				b.lowerSpecialization(d, scope)
				continue
			}
			if fd, ok := b.funcs[d]; ok {
				ctx := &scopeCtx{path: scope, owner: fd}
				if err := b.lowerFunction(fd, d, ctx, false); err != nil {
					b.fail(fd, err)
				}
				continue
			}
			if s := b.symOf[d]; s != nil && s.src == d {
				b.ensure(s)
			}
		case source.DeclEnum, source.DeclTypedef, source.DeclVariable:
			if s := b.symOf[d]; s != nil && s.src == d {
				b.ensure(s)
			}
		case source.DeclInstantiation:
			b.lowerInstantiation(d, scope)
		}
	}
}

// ensure lowers a symbol's declaration on first use. Enums, typedefs and
// constants are needed out of order by constant folding and lookup.
func (b *builder) ensure(s *symbol) *CompileError {
	switch s.state {
	case stateDone:
		return nil
	case stateFailed:
		return s.err
	case stateLowering:
		return errorf(ErrNotConstant, s.path, s.src.Loc, "%s is defined in terms of itself", s.path)
	}
	if s.kind == symEnumerator {
		return b.ensure(s.enum)
	}
	if s.kind == symNamespace {
		s.state = stateDone
		return nil
	}
	s.state = stateLowering
	err := b.lowerSymbol(s)
	if err != nil {
		s.state, s.err = stateFailed, err
		if s.owner == s.decl {
			b.fail(s.decl, err)
		}
		return err
	}
	s.state = stateDone
	return nil
}

func (b *builder) lowerSymbol(s *symbol) *CompileError {
	ctx, err := b.ctxFor(s)
	if err != nil {
		return err
	}
	switch s.kind {
	case symClass:
		if s.src == nil || s.src.Forward {
			return nil
		}
		return b.lowerClass(s.decl, s.src, ctx)
	case symEnum:
		return b.lowerEnum(s.decl, s.src, ctx)
	case symTypedef:
		t, err := b.lowerType(s.src.Type, ctx)
		if err != nil {
			return err
		}
		s.decl.Alias = &t
		return nil
	case symVariable:
		return b.lowerVariable(s.decl, s.src, ctx)
	case symTemplate:
		return b.lowerTemplate(s, ctx)
	}
	return nil
}

// ctxFor builds the lowering context of a symbol's declaration.
func (b *builder) ctxFor(s *symbol) (*scopeCtx, *CompileError) {
	ctx := &scopeCtx{path: s.scope, owner: s.owner}
	if s.tctx != nil && s.kind != symTemplate {
		if err := b.ensureParams(s.tctx); err != nil {
			return nil, err
		}
		ctx.tmpl = s.tctx
	}
	return ctx, nil
}

// cascade drops every declaration that refers to a dropped one, until no
// more declarations are dropped.
func (b *builder) cascade() {
	for changed := true; changed; {
		changed = false
		for _, d := range b.order {
			if b.failed[d] != nil || d.Kind == ir.KindNamespace {
				continue
			}
			if dep, loc := b.deadReference(d); dep != "" {
				b.fail(d, errorf(ErrSkippedDependency, d.Path, loc, "depends on skipped declaration %s", dep))
				changed = true
			}
		}
	}
}

// deadReference reports a dropped declaration that d cannot exist without.
// Methods and nested declarations that refer to dropped declarations are
// removed from their class instead.
func (b *builder) deadReference(d *ir.Decl) (string, ir.Location) {
	check := func(ts ...ir.TypeRef) string {
		for i := range ts {
			if dep := b.deadType(&ts[i]); dep != "" {
				return dep
			}
		}
		return ""
	}
	switch {
	case d.Template != nil:
		if d.Template.Body != nil {
			return b.deadReference(d.Template.Body)
		}
	case d.Class != nil:
		for _, base := range d.Class.Bases {
			if dep := check(base.Type); dep != "" {
				return dep, d.Loc
			}
		}
		for _, f := range d.Class.Fields {
			if dep := check(f.Type); dep != "" {
				return dep, f.Loc
			}
		}
		d.Class.Methods = b.pruneMembers(d.Class.Methods)
		d.Class.Nested = b.pruneMembers(d.Class.Nested)
	case d.Func != nil:
		if dep := check(funcTypes(d.Func)...); dep != "" {
			return dep, d.Loc
		}
	case d.Alias != nil:
		return check(*d.Alias), d.Loc
	case d.Var != nil:
		return check(d.Var.Type), d.Loc
	case d.Enum != nil:
		return check(d.Enum.Underlying), d.Loc
	}
	return "", d.Loc
}

func (b *builder) pruneMembers(ms []*ir.Decl) []*ir.Decl {
	out := ms[:0]
	for _, m := range ms {
		if dep, loc := b.deadReference(m); dep != "" {
			b.dropMember(m.Path, errorf(ErrSkippedDependency, m.Path, loc, "depends on skipped declaration %s", dep))
			continue
		}
		out = append(out, m)
	}
	return out
}

func funcTypes(f *ir.FuncInfo) []ir.TypeRef {
	ts := []ir.TypeRef{f.Result}
	for _, p := range f.Params {
		ts = append(ts, p.Type)
	}
	return ts
}

func (b *builder) deadType(t *ir.TypeRef) string {
	var dep string
	t.Visit(func(r *ir.TypeRef) {
		if dep != "" {
			return
		}
		if r.Kind == ir.TypeNamed || r.Kind == ir.TypeInstance {
			if k := r.Path.String(); b.dropped[k] {
				dep = k
			}
		}
	})
	return dep
}

// finish interns the surviving declarations and requests.
func (b *builder) finish() *ir.Module {
	mod := ir.NewModule()
	for _, d := range b.order {
		if b.failed[d] != nil {
			continue
		}
		mod.Add(d)
	}
	for _, r := range b.reqs {
		if r.owner != nil && b.failed[r.owner] != nil {
			continue
		}
		if r.req.Ref.IsDependent() || b.deadType(&r.req.Ref) != "" {
			continue
		}
		mod.Request(r.req)
	}
	diag.Sort(b.diags)
	return mod
}
