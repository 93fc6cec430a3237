package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		in   string
		want Path
	}{
		{"", Path{}},
		{"A", Path{"A"}},
		{"A::B::C", Path{"A", "B", "C"}},
		{"ns::Box<ns::Foo>", Path{"ns", "Box<ns::Foo>"}},
		{"Pair<A::X,Box<B::Y>>::first", Path{"Pair<A::X,Box<B::Y>>", "first"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePath(tt.in))
			assert.Equal(t, tt.in, ParsePath(tt.in).String())
		})
	}
}

func TestPathHelpers(t *testing.T) {
	p := Path{"a", "b"}
	c := p.Child("c")

	assert.Equal(t, Path{"a", "b"}, p, "Child must not modify the receiver")
	assert.Equal(t, "a::b::c", c.String())
	assert.Equal(t, p, c.Parent())
	assert.Equal(t, "c", c.Last())
	assert.True(t, c.HasPrefix(p))
	assert.False(t, p.HasPrefix(c))
	assert.Equal(t, Path{}, Path{}.Parent())
	assert.Equal(t, "", Path{}.Last())
}

func TestDeclIDDistinguishesOverloads(t *testing.T) {
	f := func(params ...TypeRef) *Decl {
		fi := &FuncInfo{Kind: FuncOrdinary, Result: Prim("void")}
		for _, p := range params {
			fi.Params = append(fi.Params, Param{Type: p})
		}
		return &Decl{Kind: KindFunction, Path: Path{"ns", "f"}, Func: fi}
	}

	a := f(Prim("int"))
	b := f(Prim("long"))
	c := f()
	d := f(Prim("int"))
	d.Func.Const = true

	assert.Equal(t, "ns::f(int)", a.ID())
	assert.Equal(t, "ns::f()", c.ID())
	assert.Equal(t, "ns::f(int) const", d.ID())
	assert.NotEqual(t, a.ID(), b.ID())

	cls := &Decl{Kind: KindClass, Path: Path{"ns", "S"}}
	assert.Equal(t, "ns::S", cls.ID())
}

func TestTypeRefIsDependent(t *testing.T) {
	assert.False(t, Prim("int").IsDependent())
	assert.True(t, ParamRef("T", 0).IsDependent())
	assert.True(t, PointerTo(ParamRef("T", 0)).IsDependent())
	assert.True(t, InstanceOf(Path{"Box"}, TypeArg(ParamRef("T", 0))).IsDependent())
	assert.True(t, InstanceOf(Path{"Arr"}, ValueArg(&ConstExpr{Kind: ExprParam, Name: "N"})).IsDependent())
	assert.False(t, InstanceOf(Path{"Arr"}, ValueArg(Lit(2, "int"))).IsDependent())
}

func TestTypeRefVisit(t *testing.T) {
	ref := PointerTo(InstanceOf(Path{"Box"}, TypeArg(Named(Path{"S"}))))
	var kinds []TypeKind
	ref.Visit(func(r *TypeRef) { kinds = append(kinds, r.Kind) })
	assert.Equal(t, []TypeKind{TypePointer, TypeInstance, TypeNamed}, kinds)
}

func TestClassInfoPredicates(t *testing.T) {
	ctor := &Decl{Kind: KindFunction, Func: &FuncInfo{Kind: FuncConstructor}}
	virt := &Decl{Kind: KindFunction, Func: &FuncInfo{Kind: FuncOrdinary, Virtual: true}}
	defaulted := &Decl{Kind: KindFunction, Func: &FuncInfo{Kind: FuncDestructor, Defaulted: true}}

	assert.True(t, (&ClassInfo{Methods: []*Decl{ctor}}).HasUserSpecial())
	assert.False(t, (&ClassInfo{Methods: []*Decl{defaulted}}).HasUserSpecial())
	assert.True(t, (&ClassInfo{Methods: []*Decl{virt}}).HasVirtual())
	assert.True(t, (&ClassInfo{Key: "union"}).IsUnion())
}
