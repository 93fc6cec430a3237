package ir

import (
	"fmt"
	"strings"
)

// FoldEnv supplies what constant folding cannot derive from the expression
// itself. Nil callbacks leave the corresponding subexpressions unfolded.
type FoldEnv struct {
	// Bits returns the width of an integral primitive; nil uses LP64 widths.
	Bits func(prim string) int
	// Constant resolves an enumerator or named constant to a literal.
	Constant func(p Path) (*ConstExpr, bool)
	// Layout returns the size and alignment of a type.
	Layout func(t TypeRef) (size, align int64, ok bool)
	// SizeType is the type of sizeof and alignof ("unsigned long" if empty).
	SizeType string
}

// FoldError reports an expression that is ill-formed as a constant.
type FoldError struct {
	Expr    string
	Message string
}

// Error implements the error interface.
func (e *FoldError) Error() string {
	return fmt.Sprintf("constant expression %s: %s", e.Expr, e.Message)
}

var lp64Bits = map[string]int{
	"bool": 8, "char": 8, "signed char": 8, "unsigned char": 8, "char8_t": 8,
	"short": 16, "unsigned short": 16, "char16_t": 16,
	"int": 32, "unsigned int": 32, "wchar_t": 32, "char32_t": 32,
	"long": 64, "unsigned long": 64, "long long": 64, "unsigned long long": 64,
}

// IsIntegral reports whether prim names an integral primitive type.
func IsIntegral(prim string) bool {
	_, ok := lp64Bits[prim]
	return ok
}

// IsUnsigned reports whether prim is an unsigned integral type.
func IsUnsigned(prim string) bool {
	switch prim {
	case "bool", "char8_t", "char16_t", "char32_t":
		return true
	}
	return strings.HasPrefix(prim, "unsigned ")
}

func (env FoldEnv) bits(prim string) int {
	if env.Bits != nil {
		if n := env.Bits(prim); n > 0 {
			return n
		}
	}
	if n, ok := lp64Bits[prim]; ok {
		return n
	}
	return 32
}

// truncate wraps v to the width and signedness of typ.
func (env FoldEnv) truncate(v int64, typ string) int64 {
	if typ == "bool" {
		if v != 0 {
			return 1
		}
		return 0
	}
	n := env.bits(typ)
	if n >= 64 {
		return v
	}
	mask := uint64(1)<<uint(n) - 1
	u := uint64(v) & mask
	if !IsUnsigned(typ) && u&(1<<uint(n-1)) != 0 {
		u |= ^mask
	}
	return int64(u)
}

// promote applies the integral promotions.
func (env FoldEnv) promote(typ string) string {
	switch typ {
	case "", "int", "unsigned int", "long", "unsigned long", "long long", "unsigned long long":
		if typ == "" {
			return "int"
		}
		return typ
	}
	if env.bits(typ) < env.bits("int") || typ == "bool" {
		return "int"
	}
	if IsUnsigned(typ) {
		return "unsigned int"
	}
	return "int"
}

func rank(typ string) int {
	switch strings.TrimPrefix(typ, "unsigned ") {
	case "long":
		return 2
	case "long long":
		return 3
	}
	return 1
}

// common applies the usual arithmetic conversions to two promoted types.
func (env FoldEnv) common(a, b string) string {
	a, b = env.promote(a), env.promote(b)
	if a == b {
		return a
	}
	ua, ub := IsUnsigned(a), IsUnsigned(b)
	if ua == ub {
		if rank(a) >= rank(b) {
			return a
		}
		return b
	}
	u, s := a, b
	if ub {
		u, s = b, a
	}
	if rank(u) >= rank(s) {
		return u
	}
	if env.bits(s) > env.bits(u) {
		return s
	}
	return "unsigned " + s
}

// Fold evaluates e as far as the environment allows. A fully constant
// expression yields a literal; otherwise the result is e with every constant
// subexpression folded. Division by zero and out-of-range shifts are errors.
func Fold(e *ConstExpr, env FoldEnv) (*ConstExpr, error) {
	if e == nil {
		return nil, nil
	}
	switch e.Kind {
	case ExprLit, ExprParam:
		return e, nil

	case ExprName:
		if env.Constant != nil {
			if c, ok := env.Constant(e.Path); ok && c.IsLit() {
				return c, nil
			}
		}
		return e, nil

	case ExprSizeof, ExprAlign:
		if env.Layout == nil || e.Arg.IsDependent() {
			return e, nil
		}
		size, align, ok := env.Layout(*e.Arg)
		if !ok {
			return e, nil
		}
		typ := env.SizeType
		if typ == "" {
			typ = "unsigned long"
		}
		if e.Kind == ExprSizeof {
			return Lit(size, typ), nil
		}
		return Lit(align, typ), nil

	case ExprCast:
		x, err := Fold(e.X, env)
		if err != nil {
			return nil, err
		}
		if !x.IsLit() || e.Arg.Kind != TypePrimitive || !IsIntegral(e.Arg.Name) {
			return &ConstExpr{Kind: ExprCast, Arg: e.Arg, X: x}, nil
		}
		return Lit(env.truncate(x.Value, e.Arg.Name), e.Arg.Name), nil

	case ExprUnary:
		x, err := Fold(e.X, env)
		if err != nil {
			return nil, err
		}
		if !x.IsLit() {
			return &ConstExpr{Kind: ExprUnary, Op: e.Op, X: x}, nil
		}
		if e.Op == "!" {
			return boolLit(x.Value == 0), nil
		}
		typ := env.promote(x.Type)
		v := env.truncate(x.Value, typ)
		switch e.Op {
		case "-":
			v = -v
		case "~":
			v = ^v
		default:
			return nil, &FoldError{Expr: CanonicalExpr(e), Message: "unknown operator " + e.Op}
		}
		return Lit(env.truncate(v, typ), typ), nil

	case ExprBinary:
		return env.foldBinary(e)

	case ExprCond:
		c, err := Fold(e.X, env)
		if err != nil {
			return nil, err
		}
		y, err := Fold(e.Y, env)
		if err != nil {
			return nil, err
		}
		z, err := Fold(e.Z, env)
		if err != nil {
			return nil, err
		}
		if !c.IsLit() || !y.IsLit() || !z.IsLit() {
			return &ConstExpr{Kind: ExprCond, X: c, Y: y, Z: z}, nil
		}
		typ := env.common(y.Type, z.Type)
		if y.Type == "bool" && z.Type == "bool" {
			typ = "bool"
		}
		pick := z
		if c.Value != 0 {
			pick = y
		}
		return Lit(env.truncate(pick.Value, typ), typ), nil
	}
	return nil, &FoldError{Expr: CanonicalExpr(e), Message: "unsupported expression kind " + string(e.Kind)}
}

func boolLit(b bool) *ConstExpr {
	if b {
		return Lit(1, "bool")
	}
	return Lit(0, "bool")
}

func (env FoldEnv) foldBinary(e *ConstExpr) (*ConstExpr, error) {
	x, err := Fold(e.X, env)
	if err != nil {
		return nil, err
	}
	y, err := Fold(e.Y, env)
	if err != nil {
		return nil, err
	}
	if !x.IsLit() || !y.IsLit() {
		return &ConstExpr{Kind: ExprBinary, Op: e.Op, X: x, Y: y}, nil
	}
	fail := func(msg string) (*ConstExpr, error) {
		return nil, &FoldError{Expr: CanonicalExpr(e), Message: msg}
	}

	switch e.Op {
	case "&&":
		return boolLit(x.Value != 0 && y.Value != 0), nil
	case "||":
		return boolLit(x.Value != 0 || y.Value != 0), nil
	case "<<", ">>":
		typ := env.promote(x.Type)
		n := env.bits(typ)
		if y.Value < 0 || y.Value >= int64(n) {
			return fail(fmt.Sprintf("shift count %d out of range", y.Value))
		}
		a := env.truncate(x.Value, typ)
		if e.Op == "<<" {
			return Lit(env.truncate(a<<uint(y.Value), typ), typ), nil
		}
		if IsUnsigned(typ) {
			return Lit(env.truncate(int64(env.unsignedBits(a, typ)>>uint(y.Value)), typ), typ), nil
		}
		return Lit(a>>uint(y.Value), typ), nil
	}

	typ := env.common(x.Type, y.Type)
	a, b := env.truncate(x.Value, typ), env.truncate(y.Value, typ)
	unsigned := IsUnsigned(typ)
	ua, ub := env.unsignedBits(a, typ), env.unsignedBits(b, typ)

	switch e.Op {
	case "+":
		return Lit(env.truncate(a+b, typ), typ), nil
	case "-":
		return Lit(env.truncate(a-b, typ), typ), nil
	case "*":
		return Lit(env.truncate(a*b, typ), typ), nil
	case "/", "%":
		if b == 0 {
			return fail("division by zero")
		}
		var v int64
		switch {
		case unsigned && e.Op == "/":
			v = int64(ua / ub)
		case unsigned:
			v = int64(ua % ub)
		case e.Op == "/":
			v = a / b
		default:
			v = a % b
		}
		return Lit(env.truncate(v, typ), typ), nil
	case "&":
		return Lit(env.truncate(a&b, typ), typ), nil
	case "|":
		return Lit(env.truncate(a|b, typ), typ), nil
	case "^":
		return Lit(env.truncate(a^b, typ), typ), nil
	case "==":
		return boolLit(a == b), nil
	case "!=":
		return boolLit(a != b), nil
	case "<", ">", "<=", ">=":
		var less, greater bool
		if unsigned {
			less, greater = ua < ub, ua > ub
		} else {
			less, greater = a < b, a > b
		}
		switch e.Op {
		case "<":
			return boolLit(less), nil
		case ">":
			return boolLit(greater), nil
		case "<=":
			return boolLit(!greater), nil
		}
		return boolLit(!less), nil
	}
	return fail("unknown operator " + e.Op)
}

// unsignedBits returns v's bit pattern at the width of typ.
func (env FoldEnv) unsignedBits(v int64, typ string) uint64 {
	n := env.bits(typ)
	if n >= 64 {
		return uint64(v)
	}
	return uint64(v) & (uint64(1)<<uint(n) - 1)
}
