// Package source parses the supported C++ header subset into a raw
// declaration tree.
//
// The parser recovers from errors at declaration granularity: a malformed
// declaration is reported as a ParseError and skipped up to the next ';' or
// the end of its balanced braces, and parsing continues.
package source

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/cxxada/internal/ir"
)

// ParseError reports a malformed or unsupported construct.
type ParseError struct {
	Loc  ir.Location `json:"loc"`
	Decl string      `json:"decl,omitempty"` // qualified name of the skipped declaration, when known
	Msg  string      `json:"message"`
	// Fatal marks a header that could not be tokenized; nothing in it
	// was parsed.
	Fatal bool `json:"fatal,omitempty"`
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Decl != "" {
		return fmt.Sprintf("%s: %s: %s", e.Loc, e.Decl, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Loc, e.Msg)
}

// memberError marks a class member that is skipped without invalidating
// the enclosing class (member templates, friends, ref-qualified methods).
type memberError struct{ *ParseError }

// Parse lexes and parses one header.
func Parse(name string, src []byte) (*File, []*ParseError) {
	f := &File{Name: name}
	toks, err := Lex(name, src)
	if err != nil {
		var pe *ParseError
		if !errors.As(err, &pe) {
			pe = &ParseError{Loc: ir.Location{File: name}, Msg: err.Error()}
		}
		pe.Fatal = true
		return f, []*ParseError{pe}
	}
	p := &parser{toks: toks, file: f}
	f.Decls = p.parseDeclSeq(ir.LinkageCXX)
	if !p.at(EOF) {
		p.errs = append(p.errs, &ParseError{Loc: p.peek().Loc, Msg: "unbalanced '}'"})
	}
	return f, p.errs
}

type parser struct {
	toks []Token
	pos  int
	file *File
	errs []*ParseError

	scope    ir.Path
	declName string
	tparams  []map[string]bool
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) peekN(n int) Token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() Token {
	t := p.toks[p.pos]
	if t.Kind != EOF {
		p.pos++
	}
	return t
}

func (p *parser) at(kind TokenKind) bool { return p.peek().Kind == kind }

func (p *parser) is(text string) bool { return p.peek().Is(text) }

func (p *parser) accept(text string) bool {
	if p.is(text) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if !p.accept(text) {
		return p.errorf("expected %q, got %s", text, p.peek())
	}
	return nil
}

func (p *parser) ident() (Token, error) {
	t := p.peek()
	if t.Kind != Ident || isKeyword(t.Text) {
		return t, p.errorf("expected identifier, got %s", t)
	}
	return p.next(), nil
}

func (p *parser) qualified(name string) string {
	if name == "" {
		return ""
	}
	return p.scope.Child(name).String()
}

func (p *parser) errorf(format string, args ...any) *ParseError {
	return &ParseError{Loc: p.peek().Loc, Decl: p.qualified(p.declName), Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) memberErrorf(format string, args ...any) error {
	return &memberError{p.errorf(format, args...)}
}

func (p *parser) report(err error) {
	var me *memberError
	if errors.As(err, &me) {
		p.errs = append(p.errs, me.ParseError)
		return
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		p.errs = append(p.errs, pe)
		return
	}
	p.errs = append(p.errs, &ParseError{Loc: p.peek().Loc, Decl: p.qualified(p.declName), Msg: err.Error()})
}

// recoverAt rewinds to start and skips one declaration: up to and including
// the next ';' at brace depth zero, or through a balanced brace group (and a
// following ';'). An unmatched '}' is left for the enclosing scope.
func (p *parser) recoverAt(start int) {
	p.pos = start
	depth := 0
	for !p.at(EOF) {
		t := p.peek()
		switch {
		case t.Is("{"):
			depth++
		case t.Is("}"):
			if depth == 0 {
				return
			}
			depth--
			if depth == 0 {
				p.next()
				p.accept(";")
				return
			}
		case t.Is(";") && depth == 0:
			p.next()
			return
		}
		p.next()
	}
}

// skipBalanced consumes a group starting at the current open token.
func (p *parser) skipBalanced(open, close string) error {
	if err := p.expect(open); err != nil {
		return err
	}
	depth := 1
	for depth > 0 {
		if p.at(EOF) {
			return p.errorf("unterminated %q", open)
		}
		t := p.next()
		switch {
		case t.Is(open):
			depth++
		case t.Is(close):
			depth--
		}
	}
	return nil
}

func (p *parser) pushParams(params []*TemplateParamDecl) {
	m := make(map[string]bool, len(params))
	for _, tp := range params {
		m[tp.Name] = true
	}
	p.tparams = append(p.tparams, m)
}

func (p *parser) popParams() { p.tparams = p.tparams[:len(p.tparams)-1] }

func (p *parser) isTemplateParam(name string) bool {
	for i := len(p.tparams) - 1; i >= 0; i-- {
		if p.tparams[i][name] {
			return true
		}
	}
	return false
}

// parseDeclSeq parses declarations until EOF or an unmatched '}'.
func (p *parser) parseDeclSeq(linkage ir.Linkage) []*Decl {
	var out []*Decl
	for !p.at(EOF) && !p.is("}") {
		start := p.pos
		saved := p.declName
		p.declName = ""
		ds, err := p.parseDeclaration(declCtx{linkage: linkage})
		if err != nil {
			p.report(err)
			p.recoverAt(start)
		} else {
			out = append(out, ds...)
		}
		p.declName = saved
	}
	return out
}

// declCtx carries the state a declaration is parsed in.
type declCtx struct {
	linkage  ir.Linkage
	class    *Decl
	access   ir.Access
	template *TemplateHeader
}

func (p *parser) parseDeclaration(ctx declCtx) ([]*Decl, error) {
	p.skipAttributes()
	t := p.peek()
	switch {
	case t.Is(";"):
		p.next()
		return nil, nil
	case t.Is("namespace"), t.Is("inline") && p.peekN(1).Is("namespace"):
		return p.parseNamespace(ctx)
	case t.Is("extern") && p.peekN(1).Kind == String:
		return p.parseLinkageSpec(ctx)
	case t.Is("extern") && p.peekN(1).Is("template"):
		p.next()
		return p.parseTemplate(ctx, true)
	case t.Is("template"):
		return p.parseTemplate(ctx, false)
	case t.Is("using"):
		return p.parseUsing(ctx)
	case t.Is("static_assert"):
		return nil, p.skipStatement()
	}
	return p.parseSimpleDeclaration(ctx)
}

func (p *parser) skipStatement() error {
	for !p.at(EOF) {
		switch {
		case p.is("("):
			if err := p.skipBalanced("(", ")"); err != nil {
				return err
			}
			continue
		case p.is("{"):
			if err := p.skipBalanced("{", "}"); err != nil {
				return err
			}
			continue
		case p.is(";"):
			p.next()
			return nil
		}
		p.next()
	}
	return p.errorf("expected ';'")
}

func (p *parser) parseNamespace(ctx declCtx) ([]*Decl, error) {
	inline := p.accept("inline")
	loc := p.next().Loc // namespace
	p.skipAttributes()
	if p.is("{") {
		// Anonymous namespace: internal linkage, nothing to bind.
		if err := p.skipBalanced("{", "}"); err != nil {
			return nil, err
		}
		return nil, nil
	}
	var names []string
	for {
		id, err := p.ident()
		if err != nil {
			return nil, err
		}
		names = append(names, id.Text)
		if !p.accept("::") {
			break
		}
		p.accept("inline")
	}
	p.declName = names[0]
	if p.is("=") {
		return nil, p.errorf("namespace aliases are not supported")
	}
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	saved := p.scope
	p.scope = append(p.scope.Child(names[0]), names[1:]...)
	members := p.parseDeclSeq(ctx.linkage)
	p.scope = saved
	if err := p.expect("}"); err != nil {
		return nil, err
	}
	// Build the nested chain inside out for "namespace a::b {".
	var d *Decl
	for i := len(names) - 1; i >= 0; i-- {
		nd := &Decl{Kind: DeclNamespace, Name: names[i], Loc: loc, Members: members}
		if i == len(names)-1 {
			nd.Inline = inline
		}
		d = nd
		members = []*Decl{nd}
	}
	return []*Decl{d}, nil
}

func (p *parser) parseLinkageSpec(ctx declCtx) ([]*Decl, error) {
	p.next() // extern
	lit := p.next()
	var lk ir.Linkage
	switch lit.Text {
	case `"C"`:
		lk = ir.LinkageC
	case `"C++"`:
		lk = ir.LinkageCXX
	default:
		return nil, p.errorf("unsupported linkage %s", lit.Text)
	}
	if p.accept("{") {
		members := p.parseDeclSeq(lk)
		if err := p.expect("}"); err != nil {
			return nil, err
		}
		return members, nil
	}
	ctx.linkage = lk
	return p.parseDeclaration(ctx)
}

func (p *parser) parseUsing(ctx declCtx) ([]*Decl, error) {
	loc := p.next().Loc // using
	if p.accept("namespace") {
		q, err := p.parseQualName(false)
		if err != nil {
			return nil, err
		}
		if err := p.expect(";"); err != nil {
			return nil, err
		}
		return []*Decl{{Kind: DeclUsingDirective, Loc: loc, Target: q}}, nil
	}
	if p.peek().Kind == Ident && p.peekN(1).Is("=") {
		name := p.next()
		p.declName = name.Text
		p.next() // =
		typ, err := p.parseTypeID()
		if err != nil {
			return nil, err
		}
		if err := p.expect(";"); err != nil {
			return nil, err
		}
		return []*Decl{{Kind: DeclTypedef, Name: name.Text, Loc: name.Loc, Type: typ, Access: ctx.access, Template: ctx.template}}, nil
	}
	if ctx.template != nil {
		return nil, p.errorf("expected alias declaration after template header")
	}
	p.accept("typename")
	q, err := p.parseQualName(false)
	if err != nil {
		return nil, err
	}
	if err := p.expect(";"); err != nil {
		return nil, err
	}
	if ctx.class != nil {
		// Inheriting constructors and member using-declarations do not
		// change the bound interface.
		return nil, nil
	}
	return []*Decl{{Kind: DeclUsing, Name: q.Last().Name, Loc: loc, Target: q}}, nil
}

func (p *parser) parseTemplate(ctx declCtx, extern bool) ([]*Decl, error) {
	p.next() // template
	if !p.is("<") {
		return p.parseExplicitInstantiation(ctx, extern)
	}
	if extern {
		return nil, p.errorf("expected explicit instantiation after 'extern template'")
	}
	if ctx.class != nil {
		return nil, p.memberErrorf("member templates are not supported")
	}
	params, err := p.parseTemplateParams()
	if err != nil {
		return nil, err
	}
	if p.is("template") {
		return nil, p.errorf("nested template headers are not supported")
	}
	p.pushParams(params)
	defer p.popParams()

	ctx.template = &TemplateHeader{Params: params}
	if p.is("using") {
		return p.parseUsing(ctx)
	}
	if p.is("friend") {
		return nil, p.skipStatement()
	}
	decls, err := p.parseSimpleDeclaration(ctx)
	if err != nil {
		return nil, err
	}
	if len(decls) != 1 {
		return nil, p.errorf("a template declaration must declare exactly one entity")
	}
	d := decls[0]
	switch d.Kind {
	case DeclClass, DeclFunction:
	case DeclVariable:
		return nil, p.errorf("variable templates are not supported")
	default:
		return nil, p.errorf("unsupported template declaration of %s", d.Kind)
	}
	return decls, nil
}

func (p *parser) parseTemplateParams() ([]*TemplateParamDecl, error) {
	if err := p.expect("<"); err != nil {
		return nil, err
	}
	var params []*TemplateParamDecl
	if p.accept(">") {
		return params, nil
	}
	for {
		loc := p.peek().Loc
		tp := &TemplateParamDecl{Loc: loc}
		switch {
		case p.is("typename") || p.is("class"):
			p.next()
			if p.is("...") {
				return nil, p.errorf("variadic templates are not supported")
			}
			tp.Kind = ir.ParamType
			if p.peek().Kind == Ident && !isKeyword(p.peek().Text) {
				tp.Name = p.next().Text
			}
			if p.accept("=") {
				typ, err := p.parseTypeID()
				if err != nil {
					return nil, err
				}
				tp.Default = &TemplateArgExpr{Type: typ}
			}
		case p.is("template"):
			return nil, p.errorf("template template parameters are not supported")
		default:
			specs, err := p.parseDeclSpecifiers(declCtx{}, false)
			if err != nil {
				return nil, err
			}
			if p.is("...") {
				return nil, p.errorf("variadic templates are not supported")
			}
			dcl, err := p.parseDeclarator(true)
			if err != nil {
				return nil, err
			}
			tp.Kind = ir.ParamValue
			tp.Type = dcl.build(specs.typ)
			if dcl.name != nil {
				tp.Name = dcl.name.Last().Name
			}
			if p.accept("=") {
				expr, err := p.parseExpr(true)
				if err != nil {
					return nil, err
				}
				tp.Default = &TemplateArgExpr{Expr: expr}
			}
		}
		if tp.Name == "" {
			tp.Name = fmt.Sprintf("$%d", len(params))
		}
		params = append(params, tp)
		if p.accept(">") {
			return params, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseExplicitInstantiation(ctx declCtx, extern bool) ([]*Decl, error) {
	loc := p.peek().Loc
	if p.is("class") || p.is("struct") || p.is("union") {
		p.next()
		q, err := p.parseQualName(true)
		if err != nil {
			return nil, err
		}
		p.declName = q.String()
		if err := p.expect(";"); err != nil {
			return nil, err
		}
		p.recordUse(q)
		return []*Decl{{
			Kind:    DeclInstantiation,
			Name:    q.Last().Name,
			Loc:     loc,
			Extern:  extern,
			Type:    &TypeExpr{Kind: TypeName, Name: q, Loc: loc},
			Target:  q,
			Linkage: ctx.linkage,
		}}, nil
	}
	specs, err := p.parseDeclSpecifiers(ctx, true)
	if err != nil {
		return nil, err
	}
	dcl, err := p.parseDeclarator(false)
	if err != nil {
		return nil, err
	}
	if dcl.name == nil {
		return nil, p.errorf("expected a name in explicit instantiation")
	}
	typ := dcl.build(specs.typ)
	if typ.Kind != TypeFunc {
		return nil, p.errorf("only class and function templates can be explicitly instantiated")
	}
	p.declName = dcl.name.String()
	if err := p.expect(";"); err != nil {
		return nil, err
	}
	last := dcl.name.Last()
	return []*Decl{{
		Kind:    DeclInstantiation,
		Name:    last.Name,
		Loc:     loc,
		Extern:  extern,
		Target:  dcl.name,
		Linkage: ctx.linkage,
		Func:    &FuncDecl{Kind: ir.FuncOrdinary, Type: typ, TemplateArgs: last.Args},
	}}, nil
}

// parseSimpleDeclaration parses decl-specifiers followed by zero or more
// declarators, or a class/enum definition.
func (p *parser) parseSimpleDeclaration(ctx declCtx) ([]*Decl, error) {
	specs, err := p.parseDeclSpecifiers(ctx, true)
	if err != nil {
		return nil, err
	}
	if specs.friend {
		return nil, p.skipStatement()
	}

	var out []*Decl
	if specs.tagDecl != nil {
		td := specs.tagDecl
		td.Linkage = ctx.linkage
		td.Access = ctx.access
		if p.is(";") && !specs.typedef {
			p.next()
			td.Template = ctx.template
			if td.Name == "" && td.Kind == DeclClass {
				return nil, p.errorf("anonymous %s declarations are not supported", td.ClassKey)
			}
			return []*Decl{td}, nil
		}
		if ctx.template != nil {
			return nil, p.errorf("a class template definition cannot declare objects")
		}
		if td.Name == "" && specs.typedef && p.peek().Kind == Ident && p.peekN(1).Is(";") {
			// typedef struct { ... } Name;
			td.Name = p.next().Text
			p.next()
			return []*Decl{td}, nil
		}
		if td.Name == "" {
			return nil, p.errorf("anonymous %s types in declarations are not supported", td.Kind)
		}
		if !td.Forward {
			out = append(out, td)
		}
	}

	for {
		d, done, err := p.parseInitDeclarator(ctx, specs)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, d)
		}
		if done {
			return out, nil
		}
		if p.accept(",") {
			continue
		}
		if err := p.expect(";"); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// parseInitDeclarator parses one declarator with its initializer, body or
// trailing function specifiers. done is true when a function body ended the
// declaration.
func (p *parser) parseInitDeclarator(ctx declCtx, specs *declSpecs) (d *Decl, done bool, err error) {
	dcl, err := p.parseDeclarator(false)
	if err != nil {
		return nil, false, err
	}
	if dcl.simpleName() == "" {
		return nil, false, p.errorf("expected declarator, got %s", p.peek())
	}
	base := specs.typ
	switch {
	case dcl.conversion != nil:
		base = dcl.conversion
	case base == nil:
		base = &TypeExpr{Kind: TypeBuiltin, Builtin: "void"}
	}
	typ := dcl.build(base)
	name, loc := dcl.simpleName(), dcl.loc
	p.declName = name
	p.skipAttributes()

	qualified := dcl.name != nil && len(dcl.name.Segs) > 1
	if qualified && typ.Kind == TypeFunc {
		// Out-of-line member definition or redeclaration.
		body, err := p.parseFunctionTail(&FuncDecl{})
		return nil, body, err
	}
	if qualified {
		return nil, false, p.skipInitializer()
	}

	switch {
	case specs.typedef:
		if ctx.template != nil {
			return nil, false, p.errorf("template typedefs are not supported")
		}
		return &Decl{Kind: DeclTypedef, Name: name, Loc: loc, Type: typ, Access: ctx.access, Linkage: ctx.linkage}, false, nil

	case typ.Kind == TypeFunc:
		fd := &FuncDecl{
			Kind:     ir.FuncOrdinary,
			Type:     typ,
			Static:   specs.static,
			Virtual:  specs.virtual,
			Inline:   specs.inline || specs.constexpr,
			Operator: dcl.operator,
		}
		if dcl.name != nil {
			fd.TemplateArgs = dcl.name.Last().Args
		}
		switch {
		case specs.ctor:
			fd.Kind = ir.FuncConstructor
		case strings.HasPrefix(name, "~"):
			fd.Kind = ir.FuncDestructor
		case dcl.operator != "":
			fd.Kind = ir.FuncOperator
		}
		if dcl.refQualified {
			return nil, false, p.memberErrorf("ref-qualified member functions are not supported")
		}
		d := &Decl{Kind: DeclFunction, Name: name, Loc: loc, Func: fd, Access: ctx.access, Linkage: ctx.linkage, Template: ctx.template}
		body, err := p.parseFunctionTail(fd)
		if err != nil {
			return nil, false, err
		}
		if body {
			fd.Inline = true
		}
		return d, body, nil

	case ctx.class != nil && !specs.static:
		f := &Decl{Kind: DeclField, Name: name, Loc: loc, Type: typ, Access: ctx.access, Align: specs.align}
		if p.accept(":") {
			w, err := p.parseExpr(false)
			if err != nil {
				return nil, false, err
			}
			f.BitWidth = w
		}
		return f, false, p.skipInitializer()

	default:
		v := &Decl{
			Kind:      DeclVariable,
			Name:      name,
			Loc:       loc,
			Type:      typ,
			Static:    specs.static,
			Constexpr: specs.constexpr,
			Extern:    specs.extern,
			Access:    ctx.access,
			Linkage:   ctx.linkage,
			Template:  ctx.template,
		}
		switch {
		case p.accept("="):
			if p.is("{") {
				init, err := p.parseBraceInit()
				if err != nil {
					return nil, false, err
				}
				v.Init = init
				break
			}
			init, err := p.parseExpr(false)
			if err != nil {
				return nil, false, err
			}
			v.Init = init
		case p.is("{"):
			init, err := p.parseBraceInit()
			if err != nil {
				return nil, false, err
			}
			v.Init = init
		}
		return v, false, nil
	}
}

// parseBraceInit reads "{expr}" as expr; anything else is not foldable.
func (p *parser) parseBraceInit() (*Expr, error) {
	start := p.pos
	loc := p.peek().Loc
	p.next() // {
	if !p.is("}") {
		e, err := p.parseExpr(false)
		if err == nil && p.accept("}") {
			return e, nil
		}
	}
	p.pos = start
	if err := p.skipBalanced("{", "}"); err != nil {
		return nil, err
	}
	return &Expr{Kind: ExprOther, Text: "{...}", Loc: loc}, nil
}

// skipInitializer consumes a default member initializer or bit-field tail.
func (p *parser) skipInitializer() error {
	switch {
	case p.is("{"):
		return p.skipBalanced("{", "}")
	case p.accept("="):
		for !p.at(EOF) && !p.is(",") && !p.is(";") {
			switch {
			case p.is("("):
				if err := p.skipBalanced("(", ")"); err != nil {
					return err
				}
			case p.is("{"):
				if err := p.skipBalanced("{", "}"); err != nil {
					return err
				}
			default:
				p.next()
			}
		}
	}
	return nil
}

// parseFunctionTail consumes virt-specifiers, pure/deleted/defaulted
// markers and an optional body. It reports whether a body was present.
func (p *parser) parseFunctionTail(fd *FuncDecl) (bool, error) {
	for {
		if p.accept("override") {
			fd.Override = true
			fd.Virtual = true
			continue
		}
		if p.accept("final") {
			fd.Virtual = true
			continue
		}
		break
	}
	if p.accept("=") {
		switch {
		case p.peek().Kind == Number && p.peek().Text == "0":
			p.next()
			fd.Pure = true
		case p.accept("delete"):
			fd.Deleted = true
		case p.accept("default"):
			fd.Defaulted = true
		default:
			return false, p.errorf("unexpected %s after '='", p.peek())
		}
		return false, nil
	}
	if p.is(":") || p.is("{") || p.is("try") {
		return true, p.skipFunctionTail()
	}
	return false, nil
}

// skipFunctionTail skips an optional constructor initializer list and a
// function body.
func (p *parser) skipFunctionTail() error {
	p.accept("try")
	if p.accept(":") {
		for !p.at(EOF) && !p.is("{") {
			if _, err := p.parseQualName(true); err != nil {
				return err
			}
			switch {
			case p.is("("):
				if err := p.skipBalanced("(", ")"); err != nil {
					return err
				}
			case p.is("{"):
				if err := p.skipBalanced("{", "}"); err != nil {
					return err
				}
			default:
				return p.errorf("malformed member initializer")
			}
			if !p.accept(",") {
				break
			}
		}
	}
	if p.is("{") {
		return p.skipBalanced("{", "}")
	}
	return p.expect(";")
}

// skipAttributes drops [[...]], __attribute__((...)) and __declspec(...).
func (p *parser) skipAttributes() {
	for {
		switch {
		case p.is("[") && p.peekN(1).Is("["):
			depth := 0
			for !p.at(EOF) {
				t := p.next()
				if t.Is("[") {
					depth++
				} else if t.Is("]") {
					depth--
					if depth == 0 {
						break
					}
				}
			}
		case p.is("__attribute__") || p.is("__declspec"):
			p.next()
			if p.is("(") {
				if p.skipBalanced("(", ")") != nil {
					return
				}
			}
		default:
			return
		}
	}
}

func (p *parser) recordUse(q *QualName) {
	for i, s := range q.Segs {
		if !s.HasArgs {
			continue
		}
		prefix := &QualName{Global: q.Global, Segs: q.Segs[:i+1]}
		p.file.UseSites = append(p.file.UseSites, UseSite{
			Name:  prefix,
			Scope: append(ir.Path{}, p.scope...),
			Loc:   p.peek().Loc,
		})
	}
}
