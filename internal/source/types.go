package source

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/cxxada/internal/ir"
)

var keywords = map[string]bool{}

func init() {
	for _, k := range strings.Fields(`
		alignas alignof auto bool break case catch char char8_t char16_t char32_t class
		const consteval constexpr constinit const_cast continue decltype default delete
		do double dynamic_cast else enum explicit export extern false final float for friend
		goto if inline int long mutable namespace new noexcept nullptr operator override
		private protected public register reinterpret_cast return short signed sizeof static
		static_assert static_cast struct switch template this thread_local throw true try
		typedef typeid typename union unsigned using virtual void volatile wchar_t while`) {
		keywords[k] = true
	}
	// final and override are contextual.
	delete(keywords, "final")
	delete(keywords, "override")
}

func isKeyword(s string) bool { return keywords[s] }

var builtinWords = map[string]bool{
	"void": true, "bool": true, "char": true, "wchar_t": true, "char8_t": true,
	"char16_t": true, "char32_t": true, "short": true, "int": true, "long": true,
	"signed": true, "unsigned": true, "float": true, "double": true, "auto": true,
	"__int128": true,
}

// declSpecs collects a decl-specifier-seq.
type declSpecs struct {
	typ       *TypeExpr
	tagDecl   *Decl // class or enum defined or declared by the specifiers
	typedef   bool
	static    bool
	extern    bool
	inline    bool
	virtual   bool
	explicit  bool
	constexpr bool
	friend    bool
	ctor      bool
	align     *Expr
}

// parseDeclSpecifiers parses storage classes, function specifiers,
// cv-qualifiers and one type specifier. When ctx.class is set, a class name
// immediately followed by '(' is a constructor declarator, not a type.
func (p *parser) parseDeclSpecifiers(ctx declCtx, allowStorage bool) (*declSpecs, error) {
	specs := &declSpecs{}
	var words []string
	var isConst, isVol bool
	loc := p.peek().Loc
	for {
		p.skipAttributes()
		t := p.peek()
		if t.Kind != Ident && !t.Is("::") {
			break
		}
		switch {
		case allowStorage && t.Is("typedef"):
			specs.typedef = true
		case allowStorage && t.Is("static"):
			specs.static = true
		case allowStorage && t.Is("extern"):
			specs.extern = true
		case allowStorage && t.Is("inline"):
			specs.inline = true
		case allowStorage && t.Is("virtual"):
			specs.virtual = true
		case allowStorage && t.Is("explicit"):
			specs.explicit = true
			if p.peekN(1).Is("(") {
				p.next()
				if err := p.skipBalanced("(", ")"); err != nil {
					return nil, err
				}
				continue
			}
		case allowStorage && (t.Is("constexpr") || t.Is("consteval") || t.Is("constinit")):
			specs.constexpr = true
		case allowStorage && t.Is("friend"):
			specs.friend = true
		case t.Is("mutable"), t.Is("register"), t.Is("thread_local"):
		case t.Is("const"):
			isConst = true
		case t.Is("volatile"):
			isVol = true
		case t.Is("alignas"):
			p.next()
			e, err := p.parseAlignas()
			if err != nil {
				return nil, err
			}
			specs.align = e
			continue
		case builtinWords[t.Text]:
			if specs.typ != nil {
				return nil, p.errorf("unexpected %s after type", t)
			}
			words = append(words, t.Text)
		case t.Is("class") || t.Is("struct") || t.Is("union"):
			if specs.typ != nil || len(words) > 0 {
				return nil, p.errorf("unexpected %s after type", t)
			}
			d, typ, err := p.parseClassSpecifier(ctx)
			if err != nil {
				return nil, err
			}
			specs.tagDecl, specs.typ = d, typ
			continue
		case t.Is("enum"):
			if specs.typ != nil || len(words) > 0 {
				return nil, p.errorf("unexpected %s after type", t)
			}
			d, typ, err := p.parseEnumSpecifier()
			if err != nil {
				return nil, err
			}
			specs.tagDecl, specs.typ = d, typ
			continue
		case t.Is("typename"):
			p.next()
			q, err := p.parseQualName(true)
			if err != nil {
				return nil, err
			}
			if err := p.checkDependent(q, true); err != nil {
				return nil, err
			}
			specs.typ = &TypeExpr{Kind: TypeName, Name: q, Loc: t.Loc}
			continue
		case t.Is("decltype"):
			return nil, p.errorf("decltype is not supported")
		case t.Is("operator") || t.Is("~"):
			goto done
		default:
			if isKeyword(t.Text) || specs.typ != nil || specs.tagDecl != nil || len(words) > 0 {
				goto done
			}
			if ctx.class != nil && t.Text == ctx.class.Name && p.peekN(1).Is("(") {
				specs.ctor = true
				goto done
			}
			q, err := p.parseQualName(true)
			if err != nil {
				return nil, err
			}
			if err := p.checkDependent(q, false); err != nil {
				return nil, err
			}
			p.recordUse(q)
			specs.typ = &TypeExpr{Kind: TypeName, Name: q, Loc: t.Loc}
			continue
		}
		p.next()
	}
done:
	if len(words) > 0 {
		b, err := builtinName(words)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		specs.typ = &TypeExpr{Kind: TypeBuiltin, Builtin: b, Loc: loc}
	}
	if specs.typ != nil {
		specs.typ.Const = specs.typ.Const || isConst
		specs.typ.Volatile = specs.typ.Volatile || isVol
	} else if (isConst || isVol) && specs.tagDecl == nil {
		return nil, p.errorf("cv-qualifier without a type")
	}
	// An unnamed class or enum has no type expression of its own; the
	// declaration names it or rejects it.
	if specs.typ == nil && specs.tagDecl == nil && !specs.ctor && !p.is("~") && !p.is("operator") {
		return nil, p.errorf("expected type, got %s", p.peek())
	}
	return specs, nil
}

// checkDependent rejects dependent member types such as T::value_type.
func (p *parser) checkDependent(q *QualName, typename bool) error {
	if len(q.Segs) < 2 {
		return nil
	}
	for _, s := range q.Segs[:len(q.Segs)-1] {
		if p.isTemplateParam(s.Name) || (typename && s.HasArgs) {
			return p.errorf("dependent member type %s is not supported", q)
		}
	}
	return nil
}

func (p *parser) parseAlignas() (*Expr, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var e *Expr
	if p.looksLikeType() {
		start := p.pos
		typ, err := p.parseTypeID()
		if err == nil && p.is(")") {
			e = &Expr{Kind: ExprAlign, Arg: typ, Loc: typ.Loc}
		} else {
			p.pos = start
		}
	}
	if e == nil {
		var err error
		if e, err = p.parseExpr(false); err != nil {
			return nil, err
		}
	}
	return e, p.expect(")")
}

// builtinName canonicalizes a multi-word builtin type.
func builtinName(words []string) (string, error) {
	var longs int
	var signed, unsigned, short bool
	var base string
	for _, w := range words {
		switch w {
		case "long":
			longs++
		case "signed":
			signed = true
		case "unsigned":
			unsigned = true
		case "short":
			short = true
		default:
			if base != "" {
				return "", fmt.Errorf("conflicting type specifiers %q", strings.Join(words, " "))
			}
			base = w
		}
	}
	bad := func() (string, error) {
		return "", fmt.Errorf("invalid type %q", strings.Join(words, " "))
	}
	if signed && unsigned || short && longs > 0 || longs > 2 {
		return bad()
	}
	switch base {
	case "char":
		if short || longs > 0 {
			return bad()
		}
		switch {
		case signed:
			return "signed char", nil
		case unsigned:
			return "unsigned char", nil
		}
		return "char", nil
	case "double":
		if signed || unsigned || short || longs > 1 {
			return bad()
		}
		if longs == 1 {
			return "long double", nil
		}
		return "double", nil
	case "__int128":
		if short || longs > 0 {
			return bad()
		}
		if unsigned {
			return "unsigned __int128", nil
		}
		return "__int128", nil
	case "", "int":
		prefix := ""
		if unsigned {
			prefix = "unsigned "
		}
		switch {
		case short:
			return prefix + "short", nil
		case longs == 1:
			return prefix + "long", nil
		case longs == 2:
			return prefix + "long long", nil
		}
		return prefix + "int", nil
	}
	if signed || unsigned || short || longs > 0 {
		return bad()
	}
	return base, nil
}

// parseQualName parses [::] name [<args>] {:: name [<args>]}. Template
// argument lists are only parsed when allowArgs is set.
func (p *parser) parseQualName(allowArgs bool) (*QualName, error) {
	q := &QualName{}
	if p.accept("::") {
		q.Global = true
	}
	for {
		p.accept("template")
		id, err := p.ident()
		if err != nil {
			return nil, err
		}
		seg := &NameSeg{Name: id.Text}
		if allowArgs && p.is("<") {
			args, err := p.parseTemplateArgs()
			if err != nil {
				return nil, err
			}
			seg.Args, seg.HasArgs = args, true
		}
		q.Segs = append(q.Segs, seg)
		if !p.is("::") || p.peekN(1).Is("*") || p.peekN(1).Is("~") || p.peekN(1).Is("operator") {
			return q, nil
		}
		p.next()
	}
}

func (p *parser) parseTemplateArgs() ([]*TemplateArgExpr, error) {
	if err := p.expect("<"); err != nil {
		return nil, err
	}
	args := []*TemplateArgExpr{}
	if p.accept(">") {
		return args, nil
	}
	for {
		a, err := p.parseTemplateArg()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.accept(">") {
			return args, nil
		}
		if p.is("...") {
			return nil, p.errorf("pack expansions are not supported")
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

// parseTemplateArg prefers a type-id and falls back to a constant
// expression in which '>' closes the argument list.
func (p *parser) parseTemplateArg() (*TemplateArgExpr, error) {
	if p.looksLikeType() {
		start, nerrs, nuses := p.pos, len(p.errs), len(p.file.UseSites)
		typ, err := p.parseTypeID()
		if err == nil && (p.is(",") || p.is(">")) {
			return &TemplateArgExpr{Type: typ}, nil
		}
		p.pos, p.errs, p.file.UseSites = start, p.errs[:nerrs], p.file.UseSites[:nuses]
	}
	e, err := p.parseExpr(true)
	if err != nil {
		return nil, err
	}
	return &TemplateArgExpr{Expr: e}, nil
}

func (p *parser) looksLikeType() bool {
	t := p.peek()
	if t.Is("::") {
		return true
	}
	if t.Kind != Ident {
		return false
	}
	switch t.Text {
	case "const", "volatile", "typename", "class", "struct", "union", "enum":
		return true
	case "true", "false", "sizeof", "alignof", "nullptr", "static_cast", "reinterpret_cast", "const_cast":
		return false
	}
	return builtinWords[t.Text] || !isKeyword(t.Text)
}

// parseTypeID parses a type-id: specifiers plus an abstract declarator.
func (p *parser) parseTypeID() (*TypeExpr, error) {
	specs, err := p.parseDeclSpecifiers(declCtx{}, false)
	if err != nil {
		return nil, err
	}
	if specs.typ == nil {
		return nil, p.errorf("expected type")
	}
	dcl, err := p.parseDeclarator(true)
	if err != nil {
		return nil, err
	}
	if dcl.name != nil {
		return nil, p.errorf("unexpected name %s in type", dcl.name)
	}
	return dcl.build(specs.typ), nil
}

// parseClassSpecifier parses a class-key and what follows: a definition, a
// forward declaration or an elaborated type reference.
func (p *parser) parseClassSpecifier(ctx declCtx) (*Decl, *TypeExpr, error) {
	keyTok := p.next()
	d := &Decl{Kind: DeclClass, ClassKey: keyTok.Text, Loc: keyTok.Loc}
	for {
		p.skipAttributes()
		if !p.accept("alignas") {
			break
		}
		e, err := p.parseAlignas()
		if err != nil {
			return nil, nil, err
		}
		d.Align = e
	}
	var q *QualName
	if p.peek().Kind == Ident && !isKeyword(p.peek().Text) || p.is("::") {
		var err error
		if q, err = p.parseQualName(true); err != nil {
			return nil, nil, err
		}
		last := q.Last()
		d.Name = last.Name
		d.Loc = keyTok.Loc
		if last.HasArgs {
			d.SpecArgs = last.Args
		}
		p.declName = d.Name
	}
	p.accept("final")
	if !p.is("{") && !p.is(":") {
		if q == nil {
			return nil, nil, p.errorf("expected class name or body")
		}
		d.Forward = true
		if d.SpecArgs != nil {
			p.recordUse(q)
		}
		return d, &TypeExpr{Kind: TypeName, Name: q, Loc: keyTok.Loc}, nil
	}
	if q != nil && len(q.Segs) > 1 {
		return nil, nil, p.errorf("out-of-line nested class definitions are not supported")
	}
	if p.accept(":") {
		bases, err := p.parseBaseClause()
		if err != nil {
			return nil, nil, err
		}
		d.Bases = bases
	}
	if err := p.parseClassBody(d, ctx); err != nil {
		return nil, nil, err
	}
	var typ *TypeExpr
	if d.Name != "" {
		typ = &TypeExpr{Kind: TypeName, Name: &QualName{Segs: []*NameSeg{{Name: d.Name}}}, Loc: keyTok.Loc}
	}
	return d, typ, nil
}

func (p *parser) parseBaseClause() ([]*BaseSpec, error) {
	var bases []*BaseSpec
	for {
		b := &BaseSpec{}
		for {
			switch {
			case p.accept("virtual"):
				b.Virtual = true
				continue
			case p.accept("public"):
				b.Access = ir.AccessPublic
				continue
			case p.accept("protected"):
				b.Access = ir.AccessProtected
				continue
			case p.accept("private"):
				b.Access = ir.AccessPrivate
				continue
			}
			break
		}
		loc := p.peek().Loc
		q, err := p.parseQualName(true)
		if err != nil {
			return nil, err
		}
		if err := p.checkDependent(q, false); err != nil {
			return nil, err
		}
		p.recordUse(q)
		b.Type = &TypeExpr{Kind: TypeName, Name: q, Loc: loc}
		bases = append(bases, b)
		if p.is("...") {
			return nil, p.errorf("pack expansions are not supported")
		}
		if !p.accept(",") {
			return bases, nil
		}
	}
}

func (p *parser) parseClassBody(d *Decl, outer declCtx) error {
	if err := p.expect("{"); err != nil {
		return err
	}
	access := ir.AccessPublic
	if d.ClassKey == "class" {
		access = ir.AccessPrivate
	}
	for _, b := range d.Bases {
		if b.Access == "" {
			b.Access = access
		}
	}
	saved := p.scope
	p.scope = p.scope.Child(d.Name)
	defer func() { p.scope = saved }()

	for !p.is("}") {
		if p.at(EOF) {
			return p.errorf("unterminated class body")
		}
		if (p.is("public") || p.is("private") || p.is("protected")) && p.peekN(1).Is(":") {
			access = ir.Access(p.next().Text)
			p.next()
			continue
		}
		start := p.pos
		savedName := p.declName
		p.declName = ""
		members, err := p.parseMember(declCtx{linkage: outer.linkage, class: d, access: access})
		p.declName = savedName
		if err != nil {
			var me *memberError
			if !errors.As(err, &me) {
				return err
			}
			p.report(err)
			p.recoverAt(start)
			continue
		}
		d.Members = append(d.Members, members...)
	}
	p.next() // }
	return nil
}

func (p *parser) parseMember(ctx declCtx) ([]*Decl, error) {
	p.skipAttributes()
	switch {
	case p.is(";"):
		p.next()
		return nil, nil
	case p.is("template"):
		return p.parseTemplate(ctx, false)
	case p.is("using"):
		return p.parseUsing(ctx)
	case p.is("friend"):
		return nil, p.skipStatement()
	case p.is("static_assert"):
		return nil, p.skipStatement()
	}
	return p.parseSimpleDeclaration(ctx)
}

// parseEnumSpecifier parses an enum definition, opaque declaration or
// elaborated reference.
func (p *parser) parseEnumSpecifier() (*Decl, *TypeExpr, error) {
	kw := p.next()
	d := &Decl{Kind: DeclEnum, Loc: kw.Loc}
	if p.accept("class") || p.accept("struct") {
		d.Scoped = true
	}
	p.skipAttributes()
	var q *QualName
	if p.peek().Kind == Ident && !isKeyword(p.peek().Text) {
		var err error
		if q, err = p.parseQualName(false); err != nil {
			return nil, nil, err
		}
		d.Name = q.Last().Name
		p.declName = d.Name
	}
	if p.accept(":") {
		specs, err := p.parseDeclSpecifiers(declCtx{}, false)
		if err != nil {
			return nil, nil, err
		}
		d.Type = specs.typ
	}
	var typ *TypeExpr
	if q != nil {
		typ = &TypeExpr{Kind: TypeName, Name: q, Loc: kw.Loc}
	}
	if !p.is("{") {
		if q == nil {
			return nil, nil, p.errorf("expected enum name or body")
		}
		d.Forward = true
		return d, typ, nil
	}
	p.next()
	for !p.is("}") {
		id, err := p.ident()
		if err != nil {
			return nil, nil, err
		}
		p.skipAttributes()
		ec := &EnumConst{Name: id.Text, Loc: id.Loc}
		if p.accept("=") {
			if ec.Value, err = p.parseExpr(false); err != nil {
				return nil, nil, err
			}
		}
		d.Enumerators = append(d.Enumerators, ec)
		if !p.accept(",") {
			break
		}
	}
	if err := p.expect("}"); err != nil {
		return nil, nil, err
	}
	return d, typ, nil
}

// declarator is a parsed (possibly abstract) declarator. The declared type
// is built inside out by build.
type declarator struct {
	name         *QualName
	loc          ir.Location
	ptrs         []ptrOp
	inner        *declarator
	suffixes     []suffix
	operator     string
	conversion   *TypeExpr
	refQualified bool
}

type ptrOp struct {
	kind     TypeExprKind
	class    *QualName
	isConst  bool
	volatile bool
}

type suffix struct {
	array    bool
	length   *Expr
	params   []*ParamDecl
	variadic bool
	isConst  bool
	volatile bool
	ret      *TypeExpr
}

func (d *declarator) simpleName() string {
	if d.name == nil {
		if d.inner != nil {
			return d.inner.simpleName()
		}
		return ""
	}
	return d.name.Last().Name
}

func (d *declarator) build(base *TypeExpr) *TypeExpr {
	t := base
	for _, op := range d.ptrs {
		t = &TypeExpr{Kind: op.kind, Elem: t, Class: op.class, Const: op.isConst, Volatile: op.volatile, Loc: t.Loc}
	}
	for i := len(d.suffixes) - 1; i >= 0; i-- {
		s := d.suffixes[i]
		if s.array {
			t = &TypeExpr{Kind: TypeArray, Elem: t, Len: s.length, Loc: t.Loc}
			continue
		}
		res := t
		if s.ret != nil {
			res = s.ret
		}
		t = &TypeExpr{
			Kind:     TypeFunc,
			Result:   res,
			Params:   s.params,
			Variadic: s.variadic,
			Const:    s.isConst,
			Volatile: s.volatile,
			Loc:      t.Loc,
		}
	}
	if d.inner != nil {
		t = d.inner.build(t)
	}
	return t
}

// parseDeclarator parses ptr-operators, a declarator-id (or a nested
// declarator) and array/function suffixes. With abstract set the name is
// optional.
func (p *parser) parseDeclarator(abstract bool) (*declarator, error) {
	d := &declarator{loc: p.peek().Loc}
	for {
		op, ok, err := p.parsePtrOp()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		d.ptrs = append(d.ptrs, op)
	}
	p.skipAttributes()

	switch {
	case p.is("(") && p.nestedDeclaratorAhead():
		p.next()
		inner, err := p.parseDeclarator(abstract)
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		d.inner, d.loc = inner, inner.loc
	case p.is("operator"):
		if err := p.parseOperatorName(d); err != nil {
			return nil, err
		}
	case p.is("~") && p.peekN(1).Kind == Ident:
		p.next()
		id := p.next()
		d.loc = id.Loc
		d.name = &QualName{Segs: []*NameSeg{{Name: "~" + id.Text}}}
	case p.peek().Kind == Ident && !isKeyword(p.peek().Text) || p.is("::"):
		d.loc = p.peek().Loc
		q, err := p.parseDeclaratorID()
		if err != nil {
			return nil, err
		}
		d.name = q
		if q.Last().Name == "operator" {
			if err := p.parseOperatorName(d); err != nil {
				return nil, err
			}
		}
	}
	if d.name != nil && d.inner == nil {
		p.declName = d.name.Last().Name
	}

	for {
		switch {
		case p.is("["):
			p.next()
			s := suffix{array: true}
			if !p.is("]") {
				e, err := p.parseExpr(false)
				if err != nil {
					return nil, err
				}
				s.length = e
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			d.suffixes = append(d.suffixes, s)
		case p.is("("):
			s, err := p.parseFuncSuffix(d)
			if err != nil {
				return nil, err
			}
			d.suffixes = append(d.suffixes, s)
		default:
			return d, nil
		}
	}
}

// parseDeclaratorID parses a possibly qualified declarator name. Qualified
// names may end in ~Dtor or operator@.
func (p *parser) parseDeclaratorID() (*QualName, error) {
	q, err := p.parseQualName(true)
	if err != nil {
		return nil, err
	}
	if p.is("::") && p.peekN(1).Is("~") {
		p.next()
		p.next()
		id, err := p.ident()
		if err != nil {
			return nil, err
		}
		q.Segs = append(q.Segs, &NameSeg{Name: "~" + id.Text})
	} else if p.is("::") && p.peekN(1).Is("operator") {
		p.next()
		q.Segs = append(q.Segs, &NameSeg{Name: "operator"})
	}
	return q, nil
}

func (p *parser) parseOperatorName(d *declarator) error {
	opTok := p.next() // operator
	if d.name == nil {
		d.name = &QualName{Segs: []*NameSeg{{Name: "operator"}}}
		d.loc = opTok.Loc
	}
	var op string
	t := p.peek()
	switch {
	case t.Is("(") && p.peekN(1).Is(")"):
		p.next()
		p.next()
		op = "()"
	case t.Is("[") && p.peekN(1).Is("]"):
		p.next()
		p.next()
		op = "[]"
	case t.Is("new") || t.Is("delete"):
		p.next()
		op = t.Text
		if p.is("[") && p.peekN(1).Is("]") {
			p.next()
			p.next()
			op += "[]"
		}
	case t.Is(">") && p.peekN(1).Is(">") && !p.peekN(1).Space:
		p.next()
		p.next()
		op = ">>"
	case t.Is(">") && p.peekN(1).Is(">=") && !p.peekN(1).Space:
		p.next()
		p.next()
		op = ">>="
	case t.Kind == Punct && !t.Is("(") && !t.Is("::"):
		p.next()
		op = t.Text
	default:
		// Conversion function: operator T().
		specs, err := p.parseDeclSpecifiers(declCtx{}, false)
		if err != nil {
			return err
		}
		var ptrs []ptrOp
		for {
			po, ok, err := p.parsePtrOp()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			ptrs = append(ptrs, po)
		}
		d.conversion = (&declarator{ptrs: ptrs}).build(specs.typ)
		op = "cv"
	}
	d.operator = op
	last := d.name.Last()
	if op == "cv" {
		last.Name = "operator " + d.conversion.String()
	} else {
		last.Name = "operator" + op
	}
	return nil
}

// nestedDeclaratorAhead reports whether the '(' at the cursor opens a nested
// declarator such as (*fp) or (S::*pm), rather than a parameter list.
func (p *parser) nestedDeclaratorAhead() bool {
	n := p.peekN(1)
	if n.Is("*") || n.Is("&") || n.Is("&&") || n.Is("^") {
		return true
	}
	// (Class::*name)
	i := 1
	for {
		t := p.peekN(i)
		if t.Kind != Ident {
			return false
		}
		if !p.peekN(i + 1).Is("::") {
			return false
		}
		if p.peekN(i + 2).Is("*") {
			return true
		}
		i += 2
	}
}

// parsePtrOp parses one of '*', '&', '&&' or 'Class::*' with trailing
// cv-qualifiers.
func (p *parser) parsePtrOp() (ptrOp, bool, error) {
	var op ptrOp
	switch {
	case p.is("*"):
		p.next()
		op.kind = TypePointer
	case p.is("&"):
		p.next()
		op.kind = TypeRef
		return op, true, nil
	case p.is("&&"):
		p.next()
		op.kind = TypeRRef
		return op, true, nil
	case p.memberPointerAhead():
		q := &QualName{}
		if p.accept("::") {
			q.Global = true
		}
		for {
			id := p.next()
			seg := &NameSeg{Name: id.Text}
			if p.is("<") {
				args, err := p.parseTemplateArgs()
				if err != nil {
					return op, false, err
				}
				seg.Args, seg.HasArgs = args, true
			}
			q.Segs = append(q.Segs, seg)
			p.next() // ::
			if p.accept("*") {
				break
			}
		}
		op.kind = TypeMemberPtr
		op.class = q
	default:
		return op, false, nil
	}
	for {
		switch {
		case p.accept("const"):
			op.isConst = true
			continue
		case p.accept("volatile"):
			op.volatile = true
			continue
		case p.accept("__restrict") || p.accept("__restrict__") || p.accept("restrict"):
			continue
		}
		return op, true, nil
	}
}

// memberPointerAhead looks for Name [<...>] :: ... :: * without consuming.
func (p *parser) memberPointerAhead() bool {
	i := 0
	if p.peekN(0).Is("::") {
		i++
	}
	for {
		t := p.peekN(i)
		if t.Kind != Ident || isKeyword(t.Text) {
			return false
		}
		i++
		if p.peekN(i).Is("<") {
			depth := 0
			for {
				t := p.peekN(i)
				if t.Kind == EOF || t.Is(";") || t.Is("{") {
					return false
				}
				if t.Is("<") {
					depth++
				} else if t.Is(">") {
					depth--
					if depth == 0 {
						i++
						break
					}
				}
				i++
			}
		}
		if !p.peekN(i).Is("::") {
			return false
		}
		i++
		if p.peekN(i).Is("*") {
			return true
		}
	}
}

func (p *parser) parseFuncSuffix(d *declarator) (suffix, error) {
	s := suffix{}
	if err := p.expect("("); err != nil {
		return s, err
	}
	if p.is("void") && p.peekN(1).Is(")") {
		p.next()
	}
	for !p.is(")") {
		if p.accept("...") {
			s.variadic = true
			break
		}
		specs, err := p.parseDeclSpecifiers(declCtx{}, false)
		if err != nil {
			return s, err
		}
		saved := p.declName
		pd, err := p.parseDeclarator(true)
		p.declName = saved
		if err != nil {
			return s, err
		}
		param := &ParamDecl{Type: pd.build(specs.typ)}
		if pd.name != nil {
			param.Name = pd.name.Last().Name
		} else if pd.inner != nil {
			param.Name = pd.inner.simpleName()
		}
		if p.accept("=") {
			param.HasDefault = true
			if err := p.skipDefaultArg(); err != nil {
				return s, err
			}
		}
		s.params = append(s.params, param)
		if p.accept("...") {
			return s, p.errorf("parameter packs are not supported")
		}
		if !p.accept(",") {
			break
		}
	}
	if err := p.expect(")"); err != nil {
		return s, err
	}
	for {
		switch {
		case p.accept("const"):
			s.isConst = true
			continue
		case p.accept("volatile"):
			s.volatile = true
			continue
		case p.is("&") || p.is("&&"):
			p.next()
			d.refQualified = true
			continue
		case p.accept("noexcept"):
			if p.is("(") {
				if err := p.skipBalanced("(", ")"); err != nil {
					return s, err
				}
			}
			continue
		case p.accept("throw"):
			if err := p.skipBalanced("(", ")"); err != nil {
				return s, err
			}
			continue
		case p.accept("->"):
			ret, err := p.parseTypeID()
			if err != nil {
				return s, err
			}
			s.ret = ret
			continue
		}
		p.skipAttributes()
		return s, nil
	}
}

// skipDefaultArg skips a default argument up to the next ',' or ')' at
// nesting depth zero.
func (p *parser) skipDefaultArg() error {
	for !p.at(EOF) {
		switch {
		case p.is(",") || p.is(")"):
			return nil
		case p.is("("):
			if err := p.skipBalanced("(", ")"); err != nil {
				return err
			}
		case p.is("{"):
			if err := p.skipBalanced("{", "}"); err != nil {
				return err
			}
		case p.is("["):
			if err := p.skipBalanced("[", "]"); err != nil {
				return err
			}
		default:
			p.next()
		}
	}
	return p.errorf("unterminated default argument")
}
