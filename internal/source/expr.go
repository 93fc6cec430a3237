package source

import (
	"strconv"
	"strings"
)

// precedence returns the binding strength of a binary operator, or 0.
func precedence(op string) int {
	switch op {
	case "||":
		return 1
	case "&&":
		return 2
	case "|":
		return 3
	case "^":
		return 4
	case "&":
		return 5
	case "==", "!=":
		return 6
	case "<", ">", "<=", ">=":
		return 7
	case "<<", ">>":
		return 8
	case "+", "-":
		return 9
	case "*", "/", "%":
		return 10
	}
	return 0
}

// parseExpr parses a conditional expression. With noGT set a bare '>'
// terminates the expression, as inside a template argument list.
func (p *parser) parseExpr(noGT bool) (*Expr, error) {
	cond, err := p.parseBinary(1, noGT)
	if err != nil {
		return nil, err
	}
	if !p.is("?") {
		return cond, nil
	}
	loc := p.next().Loc
	then, err := p.parseExpr(noGT)
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	els, err := p.parseExpr(noGT)
	if err != nil {
		return nil, err
	}
	return &Expr{Kind: ExprCond, X: cond, Y: then, Z: els, Loc: loc}, nil
}

// binaryOp returns the operator at the cursor and its token width. ">>" is
// two adjacent '>' tokens.
func (p *parser) binaryOp(noGT bool) (string, int) {
	t := p.peek()
	if t.Kind != Punct {
		return "", 0
	}
	if t.Is(">") {
		if noGT {
			return "", 0
		}
		if n := p.peekN(1); n.Is(">") && !n.Space {
			return ">>", 2
		}
	}
	if precedence(t.Text) > 0 {
		return t.Text, 1
	}
	return "", 0
}

func (p *parser) parseBinary(minPrec int, noGT bool) (*Expr, error) {
	x, err := p.parseUnary(noGT)
	if err != nil {
		return nil, err
	}
	for {
		op, width := p.binaryOp(noGT)
		prec := precedence(op)
		if op == "" || prec < minPrec {
			return x, nil
		}
		loc := p.peek().Loc
		for i := 0; i < width; i++ {
			p.next()
		}
		y, err := p.parseBinary(prec+1, noGT)
		if err != nil {
			return nil, err
		}
		x = &Expr{Kind: ExprBinary, Op: op, X: x, Y: y, Loc: loc}
	}
}

func (p *parser) parseUnary(noGT bool) (*Expr, error) {
	t := p.peek()
	switch {
	case t.Is("+") || t.Is("-") || t.Is("!") || t.Is("~"):
		p.next()
		x, err := p.parseUnary(noGT)
		if err != nil {
			return nil, err
		}
		if t.Text == "+" {
			return x, nil
		}
		return &Expr{Kind: ExprUnary, Op: t.Text, X: x, Loc: t.Loc}, nil
	case t.Is("sizeof") || t.Is("alignof") || t.Is("_Alignof"):
		p.next()
		kind := ExprSizeof
		if t.Text != "sizeof" {
			kind = ExprAlign
		}
		if err := p.expect("("); err != nil {
			return nil, err
		}
		typ, err := p.parseTypeID()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return &Expr{Kind: kind, Arg: typ, Loc: t.Loc}, nil
	case t.Is("static_cast"):
		p.next()
		if err := p.expect("<"); err != nil {
			return nil, err
		}
		typ, err := p.parseTypeID()
		if err != nil {
			return nil, err
		}
		if err := p.expect(">"); err != nil {
			return nil, err
		}
		if err := p.expect("("); err != nil {
			return nil, err
		}
		x, err := p.parseExpr(false)
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return &Expr{Kind: ExprCast, Arg: typ, X: x, Loc: t.Loc}, nil
	case t.Is("(") && builtinWords[p.peekN(1).Text]:
		// C-style cast to a builtin type.
		p.next()
		typ, err := p.parseTypeID()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		x, err := p.parseUnary(noGT)
		if err != nil {
			return nil, err
		}
		return &Expr{Kind: ExprCast, Arg: typ, X: x, Loc: t.Loc}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*Expr, error) {
	t := p.peek()
	switch {
	case t.Is("("):
		p.next()
		x, err := p.parseExpr(false)
		if err != nil {
			return nil, err
		}
		return x, p.expect(")")
	case t.Is("true") || t.Is("false"):
		p.next()
		var v int64
		if t.Text == "true" {
			v = 1
		}
		return &Expr{Kind: ExprBool, Value: v, Type: "bool", Text: t.Text, Loc: t.Loc}, nil
	case t.Is("nullptr"):
		p.next()
		return &Expr{Kind: ExprOther, Text: t.Text, Loc: t.Loc}, nil
	case t.Kind == Number:
		p.next()
		return numberLiteral(t), nil
	case t.Kind == Char:
		p.next()
		return charLiteral(t), nil
	case t.Kind == String:
		p.next()
		for p.at(String) {
			p.next()
		}
		return &Expr{Kind: ExprOther, Text: t.Text, Loc: t.Loc}, nil
	case t.Kind == Ident && !isKeyword(t.Text) || t.Is("::"):
		q, err := p.parseQualName(false)
		if err != nil {
			return nil, err
		}
		if p.is("(") {
			// Calls are not constant-foldable here.
			if err := p.skipBalanced("(", ")"); err != nil {
				return nil, err
			}
			return &Expr{Kind: ExprOther, Text: q.String() + "(...)", Loc: t.Loc}, nil
		}
		return &Expr{Kind: ExprName, Name: q, Loc: t.Loc}, nil
	}
	return nil, p.errorf("expected expression, got %s", t)
}

// numberLiteral decodes an integer literal and assigns it the type C++ would:
// the first of int, long, long long (or their unsigned forms when allowed)
// that can represent the value, constrained by the suffix. Floating literals
// are kept as text.
func numberLiteral(t Token) *Expr {
	text := strings.ReplaceAll(t.Text, "'", "")
	lower := strings.ToLower(text)
	e := &Expr{Kind: ExprOther, Text: t.Text, Loc: t.Loc}

	isHex := strings.HasPrefix(lower, "0x")
	if !isHex && strings.ContainsAny(lower, ".e") || isHex && strings.Contains(lower, "p") {
		return e
	}
	digits := strings.TrimRight(lower, "ul")
	suffix := lower[len(digits):]
	if strings.Contains(suffix, "z") {
		return e
	}
	var (
		v   uint64
		err error
	)
	switch {
	case isHex:
		v, err = strconv.ParseUint(digits[2:], 16, 64)
	case strings.HasPrefix(digits, "0b"):
		v, err = strconv.ParseUint(digits[2:], 2, 64)
	case len(digits) > 1 && digits[0] == '0':
		v, err = strconv.ParseUint(digits[1:], 8, 64)
	default:
		v, err = strconv.ParseUint(digits, 10, 64)
	}
	if err != nil {
		return e
	}
	unsigned := strings.Contains(suffix, "u")
	longs := strings.Count(suffix, "l")
	decimal := !isHex && digits[0] != '0' || digits == "0"

	candidates := []struct {
		name string
		max  uint64
	}{
		{"int", 1<<31 - 1}, {"unsigned int", 1<<32 - 1},
		{"long", 1<<63 - 1}, {"unsigned long", 1<<64 - 1},
		{"long long", 1<<63 - 1}, {"unsigned long long", 1<<64 - 1},
	}
	e.Kind, e.Value, e.Type = ExprInt, int64(v), "unsigned long long"
	for i, c := range candidates {
		rank := i / 2
		isU := i%2 == 1
		switch {
		case rank < longs:
			continue
		case unsigned && !isU:
			continue
		case isU && !unsigned && decimal:
			continue
		}
		if v <= c.max {
			e.Type = c.name
			break
		}
	}
	return e
}

func charLiteral(t Token) *Expr {
	e := &Expr{Kind: ExprOther, Text: t.Text, Loc: t.Loc}
	text := t.Text
	prefix := text[:strings.IndexByte(text, '\'')]
	body := text[len(prefix)+1 : len(text)-1]
	r, _, tail, err := strconv.UnquoteChar(body, '\'')
	if err != nil || tail != "" {
		return e
	}
	e.Kind, e.Value = ExprInt, int64(r)
	switch prefix {
	case "":
		e.Type = "char"
		if r <= 0xff {
			e.Value = int64(int8(r))
		}
	case "L":
		e.Type = "wchar_t"
	case "u8":
		e.Type = "char8_t"
	case "u":
		e.Type = "char16_t"
	case "U":
		e.Type = "char32_t"
	}
	return e
}
