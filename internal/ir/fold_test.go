package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bin(op string, x, y *ConstExpr) *ConstExpr {
	return &ConstExpr{Kind: ExprBinary, Op: op, X: x, Y: y}
}

func TestFoldArithmetic(t *testing.T) {
	tests := []struct {
		name  string
		expr  *ConstExpr
		value int64
		typ   string
	}{
		{"add", bin("+", Lit(2, "int"), Lit(3, "int")), 5, "int"},
		{"precedence already in tree", bin("*", bin("+", Lit(1, "int"), Lit(2, "int")), Lit(4, "int")), 12, "int"},
		{"shift", bin("<<", Lit(1, "int"), Lit(4, "int")), 16, "int"},
		{"unsigned wraps", bin("-", Lit(0, "unsigned int"), Lit(1, "int")), 4294967295, "unsigned int"},
		{"long wins", bin("+", Lit(1, "long"), Lit(1, "int")), 2, "long"},
		{"char promotes", bin("+", Lit('a', "char"), Lit(1, "char")), 98, "int"},
		{"signed division truncates", bin("/", Lit(-7, "int"), Lit(2, "int")), -3, "int"},
		{"modulo", bin("%", Lit(7, "int"), Lit(3, "int")), 1, "int"},
		{"comparison", bin("<", Lit(-1, "int"), Lit(1, "unsigned int")), 0, "bool"},
		{"logical", bin("&&", Lit(1, "bool"), Lit(0, "int")), 0, "bool"},
		{"negate", &ConstExpr{Kind: ExprUnary, Op: "-", X: Lit(3, "int")}, -3, "int"},
		{"complement", &ConstExpr{Kind: ExprUnary, Op: "~", X: Lit(0, "unsigned char")}, -1, "int"},
		{"not", &ConstExpr{Kind: ExprUnary, Op: "!", X: Lit(0, "int")}, 1, "bool"},
		{"cond", &ConstExpr{Kind: ExprCond, X: Lit(1, "bool"), Y: Lit(4, "int"), Z: Lit(5, "long")}, 4, "long"},
		{"cast truncates", &ConstExpr{Kind: ExprCast, Arg: &TypeRef{Kind: TypePrimitive, Name: "unsigned char"}, X: Lit(300, "int")}, 44, "unsigned char"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Fold(tt.expr, FoldEnv{})
			require.NoError(t, err)
			require.True(t, got.IsLit(), "got %s", CanonicalExpr(got))
			assert.Equal(t, tt.value, got.Value)
			assert.Equal(t, tt.typ, got.Type)
		})
	}
}

func TestFoldResolvesNamesAndLayouts(t *testing.T) {
	env := FoldEnv{
		Constant: func(p Path) (*ConstExpr, bool) {
			if p.String() == "ns::Size" {
				return Lit(8, "int"), true
			}
			return nil, false
		},
		Layout: func(t TypeRef) (int64, int64, bool) {
			if t.Kind == TypePrimitive && t.Name == "long" {
				return 8, 8, true
			}
			return 0, 0, false
		},
	}
	e := bin("+", &ConstExpr{Kind: ExprName, Path: Path{"ns", "Size"}},
		&ConstExpr{Kind: ExprSizeof, Arg: &TypeRef{Kind: TypePrimitive, Name: "long"}})
	got, err := Fold(e, env)
	require.NoError(t, err)
	assert.Equal(t, int64(16), got.Value)
	assert.Equal(t, "unsigned long", got.Type)
}

func TestFoldLeavesDependentPartsAlone(t *testing.T) {
	n := &ConstExpr{Kind: ExprParam, Name: "N"}
	e := bin("+", n, bin("*", Lit(2, "int"), Lit(3, "int")))
	got, err := Fold(e, FoldEnv{})
	require.NoError(t, err)
	assert.False(t, got.IsLit())
	assert.Equal(t, "(N+6)", CanonicalExpr(got))
}

func TestFoldErrors(t *testing.T) {
	_, err := Fold(bin("/", Lit(1, "int"), Lit(0, "int")), FoldEnv{})
	var fe *FoldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "division by zero", fe.Message)

	_, err = Fold(bin("<<", Lit(1, "int"), Lit(40, "int")), FoldEnv{})
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Message, "out of range")
}

func TestFoldUsesDataModelWidths(t *testing.T) {
	ilp32 := FoldEnv{Bits: func(p string) int {
		if p == "long" || p == "unsigned long" {
			return 32
		}
		return 0
	}}
	got, err := Fold(bin("+", Lit(0x7fffffff, "long"), Lit(1, "long")), ilp32)
	require.NoError(t, err)
	assert.Equal(t, int64(-2147483648), got.Value)
}

func TestCanonicalUnsignedLiteral(t *testing.T) {
	assert.Equal(t, "18446744073709551615", CanonicalExpr(Lit(-1, "unsigned long")))
}
