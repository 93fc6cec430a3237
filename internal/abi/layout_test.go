package abi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/ir"
)

func layoutOf(t *testing.T, c *abi.Calculator, mod *ir.Module, path string) *abi.Layout {
	t.Helper()
	d := mod.Lookup(ir.ParsePath(path))
	require.NotNil(t, d, "no declaration at %s", path)
	l, err := c.Layout(d)
	require.NoError(t, err)
	return l
}

func offsets(l *abi.Layout) map[string]int64 {
	out := make(map[string]int64)
	for _, f := range l.Fields {
		out[f.Name] = f.Offset
	}
	return out
}

func TestLayoutPadding(t *testing.T) {
	src := `
struct P { char c; int i; short s; };
struct D { char c; double d; };
struct Arr { int a[3]; char b; };
`
	mod := buildModule(t, src, abi.LP64())
	c := abi.NewCalculator(mod, abi.LP64())

	p := layoutOf(t, c, mod, "P")
	assert.Equal(t, map[string]int64{"c": 0, "i": 4, "s": 8}, offsets(p))
	assert.Equal(t, int64(12), p.Size)
	assert.Equal(t, int64(4), p.Align)
	assert.True(t, p.POD)

	d := layoutOf(t, c, mod, "D")
	assert.Equal(t, int64(8), offsets(d)["d"])
	assert.Equal(t, int64(16), d.Size)

	arr := layoutOf(t, c, mod, "Arr")
	assert.Equal(t, int64(12), offsets(arr)["b"])
	assert.Equal(t, int64(16), arr.Size)
}

func TestLayoutDataModels(t *testing.T) {
	src := `struct D { char c; double d; long l; };`
	mod := buildModule(t, src, abi.ILP32())
	d := layoutOf(t, abi.NewCalculator(mod, abi.ILP32()), mod, "D")
	assert.Equal(t, map[string]int64{"c": 0, "d": 4, "l": 12}, offsets(d))
	assert.Equal(t, int64(16), d.Size)
	assert.Equal(t, int64(4), d.Align)

	mod = buildModule(t, src, abi.LP64())
	d = layoutOf(t, abi.NewCalculator(mod, abi.LP64()), mod, "D")
	assert.Equal(t, map[string]int64{"c": 0, "d": 8, "l": 16}, offsets(d))
	assert.Equal(t, int64(24), d.Size)
}

func TestLayoutEmptyBases(t *testing.T) {
	mod := buildModule(t, `
struct E {};
struct F : E { int x; };
struct G : E { E e; int x; };
`, nil)
	c := abi.NewCalculator(mod, abi.LP64())

	e := layoutOf(t, c, mod, "E")
	assert.True(t, e.Empty)
	assert.Equal(t, int64(1), e.Size)
	assert.Equal(t, int64(0), e.DSize)

	f := layoutOf(t, c, mod, "F")
	require.Len(t, f.Bases, 1)
	assert.Equal(t, int64(0), f.Bases[0].Offset)
	assert.Equal(t, int64(0), offsets(f)["x"])
	assert.Equal(t, int64(4), f.Size)

	// The member e cannot share address 0 with the E base subobject.
	g := layoutOf(t, c, mod, "G")
	assert.Equal(t, map[string]int64{"e": 1, "x": 4}, offsets(g))
	assert.Equal(t, int64(8), g.Size)
}

func TestLayoutDynamicClasses(t *testing.T) {
	mod := buildModule(t, `
struct V { virtual void f(); int x; };
struct W : V { int y; };
struct N { int n; };
struct Dy : N { virtual void g(); };
`, nil)
	c := abi.NewCalculator(mod, abi.LP64())

	v := layoutOf(t, c, mod, "V")
	assert.True(t, v.Dynamic)
	assert.True(t, v.OwnVptr)
	assert.Equal(t, int64(8), offsets(v)["x"])
	assert.Equal(t, int64(16), v.Size)
	assert.Equal(t, int64(12), v.NVSize)

	// y reuses the tail padding of the non-POD primary base.
	w := layoutOf(t, c, mod, "W")
	assert.False(t, w.OwnVptr)
	require.Len(t, w.Bases, 1)
	assert.True(t, w.Bases[0].Primary)
	assert.Equal(t, int64(12), offsets(w)["y"])
	assert.Equal(t, int64(16), w.Size)

	dy := layoutOf(t, c, mod, "Dy")
	assert.True(t, dy.OwnVptr)
	require.Len(t, dy.Bases, 1)
	assert.Equal(t, int64(8), dy.Bases[0].Offset)
	assert.Equal(t, int64(16), dy.Size)
}

func TestLayoutTailPadding(t *testing.T) {
	mod := buildModule(t, `
struct A { A(); int i; char c; };
struct B : A { char d; };
struct PA { int i; char c; };
struct PB : PA { char d; };
`, nil)
	c := abi.NewCalculator(mod, abi.LP64())

	a := layoutOf(t, c, mod, "A")
	assert.False(t, a.POD)
	assert.Equal(t, int64(5), a.DSize)
	assert.Equal(t, int64(8), a.Size)

	b := layoutOf(t, c, mod, "B")
	assert.Equal(t, int64(5), offsets(b)["d"])
	assert.Equal(t, int64(8), b.Size)

	pb := layoutOf(t, c, mod, "PB")
	assert.Equal(t, int64(8), offsets(pb)["d"])
	assert.Equal(t, int64(12), pb.Size)
}

func TestLayoutMultipleInheritance(t *testing.T) {
	mod := buildModule(t, `
struct B1 { int a; };
struct B2 { int b; };
struct MI : B1, B2 { int c; };
`, nil)
	c := abi.NewCalculator(mod, abi.LP64())

	mi := layoutOf(t, c, mod, "MI")
	require.Len(t, mi.Bases, 2)
	assert.Equal(t, int64(0), mi.Bases[0].Offset)
	assert.Equal(t, int64(4), mi.Bases[1].Offset)
	assert.Equal(t, int64(8), offsets(mi)["c"])
	assert.Equal(t, int64(12), mi.Size)
}

func TestLayoutAlignasUnionsEnums(t *testing.T) {
	mod := buildModule(t, `
struct alignas(16) Q { int x; };
union U { int i; double d; char c[3]; };
enum class Small : unsigned char { A, B };
struct ES { Small s; int x; };
`, nil)
	c := abi.NewCalculator(mod, abi.LP64())

	q := layoutOf(t, c, mod, "Q")
	assert.Equal(t, int64(16), q.Size)
	assert.Equal(t, int64(16), q.Align)

	u := layoutOf(t, c, mod, "U")
	assert.Equal(t, map[string]int64{"i": 0, "d": 0, "c": 0}, offsets(u))
	assert.Equal(t, int64(8), u.Size)
	assert.Equal(t, int64(8), u.Align)

	es := layoutOf(t, c, mod, "ES")
	assert.Equal(t, map[string]int64{"s": 0, "x": 4}, offsets(es))
}

func TestLayoutMemberPointers(t *testing.T) {
	mod := ir.NewModule()
	s := ir.Named(ir.Path{"S"})
	mod.Add(&ir.Decl{Kind: ir.KindClass, Name: "S", Path: ir.Path{"S"}, Opaque: true, Class: &ir.ClassInfo{Key: "struct"}})
	method := ir.TypeRef{Kind: ir.TypeFunction, Result: &ir.TypeRef{Kind: ir.TypePrimitive, Name: "void"}}
	mod.Add(&ir.Decl{Kind: ir.KindClass, Name: "MP", Path: ir.Path{"MP"}, Class: &ir.ClassInfo{Key: "struct", Fields: []ir.Field{
		{Name: "d", Type: ir.TypeRef{Kind: ir.TypeMemberPointer, Class: &s, Elem: &ir.TypeRef{Kind: ir.TypePrimitive, Name: "int"}}},
		{Name: "f", Type: ir.TypeRef{Kind: ir.TypeMemberPointer, Class: &s, Elem: &method}},
	}}})

	mp := layoutOf(t, abi.NewCalculator(mod, abi.LP64()), mod, "MP")
	assert.Equal(t, map[string]int64{"d": 0, "f": 8}, offsets(mp))
	assert.Equal(t, int64(24), mp.Size)
}

func TestLayoutUnsupported(t *testing.T) {
	mod := ir.NewModule()
	fwd := mod.Add(&ir.Decl{Kind: ir.KindClass, Name: "Fwd", Path: ir.Path{"Fwd"}, Opaque: true, Class: &ir.ClassInfo{Key: "struct"}})
	holder := mod.Add(&ir.Decl{Kind: ir.KindClass, Name: "H", Path: ir.Path{"H"}, Class: &ir.ClassInfo{Key: "struct", Fields: []ir.Field{
		{Name: "f", Type: ir.Named(ir.Path{"Fwd"})},
	}}})
	bits := mod.Add(&ir.Decl{Kind: ir.KindClass, Name: "BF", Path: ir.Path{"BF"}, Class: &ir.ClassInfo{Key: "struct", Fields: []ir.Field{
		{Name: "a", Type: ir.Prim("int"), BitWidth: 3},
	}}})
	base := ir.Named(ir.Path{"BF"})
	virt := mod.Add(&ir.Decl{Kind: ir.KindClass, Name: "VB", Path: ir.Path{"VB"}, Class: &ir.ClassInfo{Key: "struct",
		Bases: []ir.Base{{Type: base, Virtual: true}},
	}})
	c := abi.NewCalculator(mod, abi.LP64())

	for _, tc := range []struct {
		decl *ir.Decl
		code string
	}{
		{fwd, "E401"},
		{holder, "E401"},
		{bits, "E400"},
		{virt, "E400"},
	} {
		_, err := c.Layout(tc.decl)
		var le *abi.LayoutError
		require.ErrorAs(t, err, &le, tc.decl.Name)
		assert.Equal(t, tc.code, le.Code, tc.decl.Name)
		assert.Equal(t, tc.decl.Path.String(), le.Path, tc.decl.Name)
	}

	_, err := c.TypeInfo(ir.ParamRef("T", 0))
	assert.ErrorContains(t, err, "dependent")
	_, err = c.TypeInfo(ir.Prim("void"))
	assert.Error(t, err)
}

func TestLayoutIsDeterministic(t *testing.T) {
	src := `
struct E {};
struct V { virtual void f(); char c; };
struct X : E, V { E e; short s; double d; };
`
	mod := buildModule(t, src, nil)
	first := layoutOf(t, abi.NewCalculator(mod, abi.LP64()), mod, "X")
	second := layoutOf(t, abi.NewCalculator(mod, abi.LP64()), mod, "X")
	assert.Equal(t, first, second)
}

func TestCalculatorFoldEnv(t *testing.T) {
	mod := buildModule(t, `struct P { char c; double d; };`, nil)
	env := abi.NewCalculator(mod, abi.LP64()).FoldEnv()
	size, align, ok := env.Layout(ir.Named(ir.Path{"P"}))
	require.True(t, ok)
	assert.Equal(t, int64(16), size)
	assert.Equal(t, int64(8), align)
}
