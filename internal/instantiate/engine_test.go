package instantiate_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cxxada/internal/compiler"
	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/instantiate"
	"github.com/roach88/cxxada/internal/ir"
	"github.com/roach88/cxxada/internal/source"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func build(t *testing.T, src string) *ir.Module {
	t.Helper()
	f, errs := source.Parse("test.hpp", []byte(src))
	require.Empty(t, errs)
	mod, diags := compiler.Build([]*source.File{f}, compiler.Options{Logger: quiet()})
	for _, d := range diags {
		t.Errorf("unexpected diagnostic: %v", d)
	}
	return mod
}

func run(t *testing.T, src string, opts ...instantiate.Options) (*ir.Module, *instantiate.Engine, []diag.Diagnostic) {
	t.Helper()
	mod := build(t, src)
	o := instantiate.Options{Logger: quiet()}
	if len(opts) > 0 {
		o = opts[0]
		o.Logger = quiet()
	}
	e := instantiate.New(mod, o)
	return mod, e, e.Run(context.Background())
}

func instance(t *testing.T, mod *ir.Module, key string) *ir.Decl {
	t.Helper()
	d, ok := mod.Instance(ir.InstanceKey(key))
	require.True(t, ok, "no instance %s", key)
	return d
}

func keys(mod *ir.Module) []string {
	var out []string
	for _, d := range mod.Instances() {
		out = append(out, string(d.Instance.Key))
	}
	return out
}

func codes(ds []diag.Diagnostic) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Code
	}
	return out
}

func TestRunSharesOneInstancePerKey(t *testing.T) {
	mod, e, diags := run(t, `
template <typename T> struct Box { T value; };
Box<int> a;
Box<int> b;
`)
	assert.Empty(t, diags)
	assert.Equal(t, []string{"Box<int>"}, keys(mod))

	box := instance(t, mod, "Box<int>")
	assert.Equal(t, ir.Path{"Box<int>"}, box.Path)
	require.Len(t, box.Class.Fields, 1)
	assert.Equal(t, ir.Prim("int"), box.Class.Fields[0].Type)
	assert.Equal(t, -1, box.Instance.Specialization)

	hits, misses := e.Cache().Stats()
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, 1, e.Cache().Len())

	for _, name := range []string{"a", "b"} {
		v := mod.Lookup(ir.Path{name})
		require.NotNil(t, v)
		assert.Equal(t, ir.InstanceKey("Box<int>"), v.Var.Type.Key)
	}
}

func TestRunNestedArgumentsAreRequested(t *testing.T) {
	mod, _, diags := run(t, `
template <typename T> struct Box { T value; };
Box<Box<char> > nested;
`)
	assert.Empty(t, diags)
	assert.Equal(t, []string{"Box<Box<char>>", "Box<char>"}, keys(mod))

	outer := instance(t, mod, "Box<Box<char>>")
	field := outer.Class.Fields[0].Type
	assert.Equal(t, ir.TypeInstance, field.Kind)
	assert.Equal(t, ir.InstanceKey("Box<char>"), field.Key)
}

func TestRunAppliesDefaultArguments(t *testing.T) {
	mod, e, diags := run(t, `
template <typename T, int N = 4> struct Buf { T data[N]; Buf* self; };
Buf<int> a;
Buf<int, 4> b;
`)
	assert.Empty(t, diags)
	assert.Equal(t, []string{"Buf<int,4>"}, keys(mod))

	key, ok := e.Key("Buf<int>")
	require.True(t, ok)
	assert.Equal(t, ir.InstanceKey("Buf<int,4>"), key)

	buf := instance(t, mod, "Buf<int,4>")
	require.Len(t, buf.Class.Fields, 2)
	assert.Equal(t, "int[4]", ir.CanonicalType(buf.Class.Fields[0].Type))
	self := buf.Class.Fields[1].Type
	require.Equal(t, ir.TypePointer, self.Kind)
	assert.Equal(t, ir.InstanceKey("Buf<int,4>"), self.Elem.Key)

	a := mod.Lookup(ir.Path{"a"})
	require.NotNil(t, a)
	assert.Equal(t, ir.InstanceKey("Buf<int,4>"), a.Var.Type.Key)
	assert.Len(t, a.Var.Type.Args, 2)
}

func TestRunSelectsSpecializations(t *testing.T) {
	mod, _, diags := run(t, `
template <typename T> struct Box { T value; };
template <typename T> struct Box<T*> { T* ptr; };
template <> struct Box<bool> { unsigned char bits; };
Box<int*> p;
Box<bool> f;
Box<char> c;
`)
	assert.Empty(t, diags)

	tests := []struct {
		key   string
		spec  int
		field string
		typ   string
	}{
		{"Box<int*>", 0, "ptr", "int*"},
		{"Box<bool>", 1, "bits", "unsigned char"},
		{"Box<char>", -1, "value", "char"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			d := instance(t, mod, tt.key)
			assert.Equal(t, tt.spec, d.Instance.Specialization)
			require.Len(t, d.Class.Fields, 1)
			assert.Equal(t, tt.field, d.Class.Fields[0].Name)
			assert.Equal(t, tt.typ, ir.CanonicalType(d.Class.Fields[0].Type))
		})
	}
}

func TestRunPrefersMoreSpecializedPartial(t *testing.T) {
	mod, _, diags := run(t, `
template <typename T> struct W { int tag; };
template <typename T> struct W<T*> { int one; };
template <typename T> struct W<T**> { int two; };
W<int**> w;
`)
	assert.Empty(t, diags)
	d := instance(t, mod, "W<int**>")
	assert.Equal(t, 1, d.Instance.Specialization)
	assert.Equal(t, "two", d.Class.Fields[0].Name)
}

func TestRunReportsAmbiguousSpecialization(t *testing.T) {
	mod, e, diags := run(t, `
template <typename A, typename B> struct Pair { A a; B b; };
template <typename A> struct Pair<A, int> { A first; };
template <typename B> struct Pair<int, B> { B second; };
Pair<int, int> x;
Pair<char, int> y;
`)
	assert.Equal(t, []string{"Pair<char,int>"}, keys(mod))
	assert.Contains(t, codes(diags), diag.CodeAmbiguous)
	assert.Contains(t, codes(diags), diag.CodeDependent, "x refers to the failed instance")

	_, err := e.Instantiate(context.Background(),
		ir.InstanceOf(ir.Path{"Pair"}, ir.TypeArg(ir.Prim("int")), ir.TypeArg(ir.Prim("int"))))
	require.Error(t, err)
	assert.True(t, instantiate.IsAmbiguous(err))
}

func TestRunStopsAtMaximumDepth(t *testing.T) {
	mod, _, diags := run(t, `
template <typename T> struct R { R<T*>* next; };
R<int> r;
`, instantiate.Options{MaxDepth: 8})

	assert.Len(t, mod.Instances(), 9)
	instance(t, mod, "R<int>")
	assert.Contains(t, codes(diags), diag.CodeDepth)
	for _, d := range diags {
		if d.Code == diag.CodeDepth {
			assert.Equal(t, diag.InstantiationCycle, d.Kind)
			assert.Equal(t, "R<int*********>", d.Path)
		}
	}
}

func TestRunReportsContainmentChainOnce(t *testing.T) {
	mod, e, diags := run(t, `
template <typename T> struct G { G<G<T>> g; };
G<int> x;
`, instantiate.Options{MaxDepth: 8})

	assert.Empty(t, mod.Instances())
	assert.Greater(t, len(e.Failures()), 2, "every instance of the chain is withdrawn")
	require.Len(t, diags, 2, "%v", diags)
	assert.ElementsMatch(t, []string{diag.CodeDepth, diag.CodeDependent}, codes(diags))

	var root string
	for _, d := range diags {
		if d.Code == diag.CodeDepth {
			root = d.Path
		}
	}
	require.NotEmpty(t, root)
	for _, d := range diags {
		if d.Code == diag.CodeDependent {
			assert.Contains(t, d.Message, "refers to failed instance G<int>")
			assert.Contains(t, d.Message, "contains failed instance "+root+" by value")
		}
	}
}

func TestRunRejectsSelfContainment(t *testing.T) {
	mod, e, diags := run(t, `
template <typename T> struct S { S<T> inner; };
S<int> s;
`)
	assert.Empty(t, mod.Instances())
	assert.Contains(t, codes(diags), diag.CodeCycle)
	assert.Contains(t, diag.Kinds(diags), diag.InstantiationCycle)

	failures := e.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, ir.InstanceKey("S<int>"), failures[0].Key)
	assert.True(t, instantiate.IsCycle(failures[0]))
}

func TestRunDeducesFunctionTemplateArguments(t *testing.T) {
	mod, e, diags := run(t, `
template <typename T> T id(T);
template int id<int>(int);
template long id(long);
`)
	assert.Empty(t, diags)
	assert.Equal(t, []string{"id<int>", "id<long>"}, keys(mod))

	key, ok := e.Key(compiler.PendingKey(ir.Path{"id"}, &ir.FuncSig{Params: []ir.TypeRef{ir.Prim("long")}}))
	require.True(t, ok)
	assert.Equal(t, ir.InstanceKey("id<long>"), key)

	d := instance(t, mod, "id<long>")
	assert.Equal(t, "id", d.Name)
	require.Len(t, d.Func.Params, 1)
	assert.Equal(t, ir.Prim("long"), d.Func.Params[0].Type)
	assert.Equal(t, ir.Prim("long"), d.Func.Result)
	assert.Equal(t, "long", ir.CanonicalArgs(d.Func.TemplateArgs))
	require.NotNil(t, d.Func.Pattern)
	assert.Equal(t, ir.ParamRef("T", 0), d.Func.Pattern.Result)
}

func TestRunExpandsAliasTemplates(t *testing.T) {
	mod, _, diags := run(t, `
template <typename T> struct Box { T value; };
template <typename T> using Ptr = Box<T>*;
Ptr<int> p;
`)
	assert.Empty(t, diags)
	assert.Equal(t, []string{"Box<int>"}, keys(mod))

	p := mod.Lookup(ir.Path{"p"})
	require.NotNil(t, p)
	require.Equal(t, ir.TypePointer, p.Var.Type.Kind)
	assert.Equal(t, ir.InstanceKey("Box<int>"), p.Var.Type.Elem.Key)
}

func TestInstantiateOnDemand(t *testing.T) {
	mod := build(t, `template <typename T> struct Box { T value; };`)
	e := instantiate.New(mod, instantiate.Options{Logger: quiet()})
	assert.Empty(t, e.Run(context.Background()))

	d, err := e.Instantiate(context.Background(), ir.InstanceOf(ir.Path{"Box"}, ir.TypeArg(ir.Prim("double"))))
	require.NoError(t, err)
	assert.Equal(t, ir.InstanceKey("Box<double>"), d.Instance.Key)

	again, err := e.Instantiate(context.Background(), ir.InstanceOf(ir.Path{"Box"}, ir.TypeArg(ir.Prim("double"))))
	require.NoError(t, err)
	assert.Same(t, d, again)

	_, err = e.Instantiate(context.Background(), ir.InstanceOf(ir.Path{"Nope"}, ir.TypeArg(ir.Prim("int"))))
	require.Error(t, err)
}

func TestRunIsDeterministicAcrossJobCounts(t *testing.T) {
	src := `
namespace n {
template <typename T> struct P { T a; };
template <typename T> struct Q { P<T> p; P<T*> q; };
template <typename A, typename B> struct Pair { A a; B b; };
template <typename A> struct Pair<A, int> { A first; };
template <typename B> struct Pair<int, B> { B second; };
struct S { Q<int> x; Q<char> y; Pair<int, int> z; };
}
`
	shape := func(jobs int) ([]string, []string) {
		mod, _, diags := run(t, src, instantiate.Options{Jobs: jobs})
		msgs := make([]string, len(diags))
		for i, d := range diags {
			msgs[i] = d.Error()
		}
		return keys(mod), msgs
	}
	k1, d1 := shape(1)
	k8, d8 := shape(8)
	assert.Equal(t, k1, k8)
	assert.Equal(t, d1, d8)
	assert.Contains(t, k1, "n::P<int*>")
}
