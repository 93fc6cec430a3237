package abi_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/compiler"
	"github.com/roach88/cxxada/internal/ir"
	"github.com/roach88/cxxada/internal/source"
)

func buildModule(t *testing.T, src string, model *abi.DataModel) *ir.Module {
	t.Helper()
	f, errs := source.Parse("test.hpp", []byte(src))
	require.Empty(t, errs)
	mod, diags := compiler.Build([]*source.File{f}, compiler.Options{
		DataModel: model,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	for _, d := range diags {
		t.Errorf("unexpected diagnostic: %v", d)
	}
	return mod
}

// symbols mangles every function and variable of mod, keyed by ID.
func symbols(t *testing.T, mod *ir.Module) map[string]string {
	t.Helper()
	m := abi.NewMangler(mod)
	out := make(map[string]string)
	require.NoError(t, mod.Walk(func(d *ir.Decl) error {
		if d.Kind != ir.KindFunction && d.Kind != ir.KindVariable {
			return nil
		}
		name, err := m.Mangle(d)
		if err != nil {
			return err
		}
		out[d.ID()] = name
		return nil
	}))
	return out
}

func TestMangleFreeFunctions(t *testing.T) {
	mod := buildModule(t, `
int add(int a, int b);
void f();
void g(const char* s);
void h(char* a, char* b);
void cb(int (*fn)(double));
void wide(unsigned long a, long long b);
int printf_like(const char* fmt, ...);
extern "C" int c_add(int a, int b);
extern int counter;
namespace geo {
struct Point { int x; int y; };
double dist(const Point& a, const Point& b);
extern int counter;
struct A {};
struct B {};
void g(A a, B b);
}
`, nil)

	got := symbols(t, mod)
	for _, tc := range []struct{ id, want string }{
		{"add(int,int)", "_Z3addii"},
		{"f()", "_Z1fv"},
		{"g(char const*)", "_Z1gPKc"},
		{"h(char*,char*)", "_Z1hPcS_"},
		{"cb(int(double)*)", "_Z2cbPFidE"},
		{"wide(unsigned long,long long)", "_Z4widemx"},
		{"printf_like(char const*,...)", "_Z11printf_likePKcz"},
		{"c_add(int,int)", "c_add"},
		{"counter", "counter"},
		{"geo::dist(geo::Point const&,geo::Point const&)", "_ZN3geo4distERKNS_5PointES2_"},
		{"geo::counter", "_ZN3geo7counterE"},
		{"geo::g(geo::A,geo::B)", "_ZN3geo1gENS_1AENS_1BE"},
	} {
		assert.Equal(t, tc.want, got[tc.id], tc.id)
	}
}

func TestMangleMembers(t *testing.T) {
	mod := buildModule(t, `
struct S {
	S();
	S(int v);
	~S();
	int get() const;
	static int count;
	static S* make(int v);
};
struct V {
	V& operator+=(const V& o);
	bool operator==(const V& o) const;
	V operator-() const;
	V operator-(const V& o) const;
	int operator[](int i) const;
	operator bool() const;
};
`, nil)

	got := symbols(t, mod)
	for _, tc := range []struct{ id, want string }{
		{"S::S()", "_ZN1SC1Ev"},
		{"S::S(int)", "_ZN1SC1Ei"},
		{"S::~S()", "_ZN1SD1Ev"},
		{"S::get() const", "_ZNK1S3getEv"},
		{"S::count", "_ZN1S5countE"},
		{"S::make(int)", "_ZN1S4makeEi"},
		{"V::operator+=(V const&)", "_ZN1VpLERKS_"},
		{"V::operator==(V const&) const", "_ZNK1VeqERKS_"},
		{"V::operator-() const", "_ZNK1VngEv"},
		{"V::operator-(V const&) const", "_ZNK1VmiERKS_"},
		{"V::operator[](int) const", "_ZNK1VixEi"},
		{"V::operator bool() const", "_ZNK1VcvbEv"},
	} {
		assert.Equal(t, tc.want, got[tc.id], tc.id)
	}
}

func fn(path ir.Path, result ir.TypeRef, params ...ir.TypeRef) *ir.Decl {
	f := &ir.FuncInfo{Kind: ir.FuncOrdinary, Result: result}
	for _, p := range params {
		f.Params = append(f.Params, ir.Param{Type: p})
	}
	return &ir.Decl{Kind: ir.KindFunction, Name: path.Last(), Path: path, Func: f}
}

func mangle(t *testing.T, mod *ir.Module, d *ir.Decl) string {
	t.Helper()
	name, err := abi.NewMangler(mod).Mangle(d)
	require.NoError(t, err)
	return name
}

func TestMangleMemberPointers(t *testing.T) {
	mod := ir.NewModule()
	mod.Add(&ir.Decl{Kind: ir.KindClass, Name: "S", Path: ir.Path{"S"}, Class: &ir.ClassInfo{Key: "struct"}})
	s := ir.Named(ir.Path{"S"})
	data := ir.TypeRef{Kind: ir.TypeMemberPointer, Class: &s, Elem: &ir.TypeRef{Kind: ir.TypePrimitive, Name: "int"}}
	method := ir.TypeRef{Kind: ir.TypeFunction, Result: &ir.TypeRef{Kind: ir.TypePrimitive, Name: "void"}, Const: true}
	fnptr := ir.TypeRef{Kind: ir.TypeMemberPointer, Class: &s, Elem: &method}

	assert.Equal(t, "_Z1fM1Si", mangle(t, mod, fn(ir.Path{"f"}, ir.Prim("void"), data)))
	assert.Equal(t, "_Z1fM1SKFvvE", mangle(t, mod, fn(ir.Path{"f"}, ir.Prim("void"), fnptr)))

	arr := ir.TypeRef{Kind: ir.TypeArray, Elem: &ir.TypeRef{Kind: ir.TypePrimitive, Name: "int"}, Len: ir.Lit(4, "int")}
	assert.Equal(t, "_Z1fRA4_i", mangle(t, mod, fn(ir.Path{"f"}, ir.Prim("void"), ir.RefTo(arr))))
}

func TestMangleStdAbbreviation(t *testing.T) {
	mod := ir.NewModule()
	assert.Equal(t, "_ZSt3fooi", mangle(t, mod, fn(ir.Path{"std", "foo"}, ir.Prim("void"), ir.Prim("int"))))
	assert.Equal(t, "_ZNSt6detail3barEv", mangle(t, mod, fn(ir.Path{"std", "detail", "bar"}, ir.Prim("void"))))
}

func TestMangleTypedefsAreTransparent(t *testing.T) {
	mod := buildModule(t, `
typedef unsigned long size_type;
typedef const char* cstr;
void f(size_type n, cstr a, cstr b);
`, nil)
	got := symbols(t, mod)
	assert.Equal(t, "_Z1fmPKcS0_", got["f(size_type,cstr,cstr)"])
}

// box materializes Box<args> with a const get() and a copy constructor.
func box(mod *ir.Module, args ...ir.TemplateArg) *ir.Decl {
	tmpl := ir.Path{"Box"}
	path := ir.Path{ir.InstanceSegment(tmpl, args)}
	self := ir.InstanceOf(tmpl, args...)
	get := fn(path.Child("get"), ir.Prim("int"))
	get.Func.Method, get.Func.Const = true, true
	ctor := fn(path.Child(path.Last()), ir.Prim("void"), ir.RefTo(self.Qualified(true, false)))
	ctor.Func.Kind, ctor.Func.Method = ir.FuncConstructor, true
	d := &ir.Decl{
		Kind: ir.KindClass, Name: path.Last(), Path: path,
		Class:    &ir.ClassInfo{Key: "struct", Methods: []*ir.Decl{get, ctor}},
		Instance: &ir.InstanceInfo{Template: tmpl, Args: args, Key: ir.KeyFor(tmpl, args), Specialization: -1},
	}
	registered, _ := mod.AddInstance(d)
	return registered
}

func templateModule() *ir.Module {
	mod := ir.NewModule()
	mod.Add(&ir.Decl{Kind: ir.KindTemplate, Name: "Box", Path: ir.Path{"Box"}, Template: &ir.TemplateInfo{
		Params: []ir.TemplateParam{{Name: "T", Kind: ir.ParamType}},
	}})
	return mod
}

func TestMangleClassTemplateInstances(t *testing.T) {
	mod := templateModule()
	b := box(mod, ir.TypeArg(ir.Prim("int")))

	assert.Equal(t, "_ZNK3BoxIiE3getEv", mangle(t, mod, b.Class.Methods[0]))
	assert.Equal(t, "_ZN3BoxIiEC1ERKS0_", mangle(t, mod, b.Class.Methods[1]))

	boxInt := ir.InstanceOf(ir.Path{"Box"}, ir.TypeArg(ir.Prim("int")))
	assert.Equal(t, "_Z1f3BoxIiES0_", mangle(t, mod, fn(ir.Path{"f"}, ir.Prim("void"), boxInt, boxInt)))
}

func TestMangleValueArguments(t *testing.T) {
	mod := ir.NewModule()
	arr := func(n int64) *ir.Decl {
		tmpl := ir.Path{"Arr"}
		args := []ir.TemplateArg{ir.TypeArg(ir.Prim("int")), ir.ValueArg(ir.Lit(n, "int"))}
		path := ir.Path{ir.InstanceSegment(tmpl, args)}
		size := fn(path.Child("size"), ir.Prim("int"))
		size.Func.Method = true
		d := &ir.Decl{
			Kind: ir.KindClass, Name: path.Last(), Path: path,
			Class:    &ir.ClassInfo{Key: "struct", Methods: []*ir.Decl{size}},
			Instance: &ir.InstanceInfo{Template: tmpl, Args: args, Key: ir.KeyFor(tmpl, args), Specialization: -1},
		}
		mod.AddInstance(d)
		return size
	}

	assert.Equal(t, "_ZN3ArrIiLi3EE4sizeEv", mangle(t, mod, arr(3)))
	assert.Equal(t, "_ZN3ArrIiLin1EE4sizeEv", mangle(t, mod, arr(-1)))
}

func funcInstance(mod *ir.Module, tmpl ir.Path, arity int) *ir.Decl {
	tp := ir.ParamRef("T", 0)
	args := []ir.TemplateArg{ir.TypeArg(ir.Prim("int"))}
	d := fn(tmpl, ir.Prim("int"))
	pattern := &ir.FuncSig{Result: tp}
	for i := 0; i < arity; i++ {
		d.Func.Params = append(d.Func.Params, ir.Param{Type: ir.Prim("int")})
		pattern.Params = append(pattern.Params, tp)
	}
	d.Func.TemplateArgs = args
	d.Func.Pattern = pattern
	d.Instance = &ir.InstanceInfo{Template: tmpl, Args: args, Key: ir.KeyFor(tmpl, args), Specialization: -1}
	registered, _ := mod.AddInstance(d)
	return registered
}

func TestMangleFunctionTemplateInstances(t *testing.T) {
	mod := ir.NewModule()
	assert.Equal(t, "_Z2idIiET_S0_", mangle(t, mod, funcInstance(mod, ir.Path{"id"}, 1)))
	assert.Equal(t, "_ZN2ns3maxIiEET_S1_S1_", mangle(t, mod, funcInstance(mod, ir.Path{"ns", "max"}, 2)))
}

func TestMangleQualifiedTemplateParams(t *testing.T) {
	mod := ir.NewModule()
	tp := ir.ParamRef("T", 0)
	instance := func(tmpl ir.Path, arg ir.TypeRef, d *ir.Decl, pattern *ir.FuncSig) *ir.Decl {
		args := []ir.TemplateArg{ir.TypeArg(arg)}
		d.Func.TemplateArgs = args
		d.Func.Pattern = pattern
		d.Instance = &ir.InstanceInfo{Template: tmpl, Args: args, Key: ir.KeyFor(tmpl, args), Specialization: -1}
		registered, _ := mod.AddInstance(d)
		return registered
	}

	// template<class T> const T& h4(volatile T*), called with int.
	h4 := ir.Path{"h4"}
	h4Decl := fn(h4, ir.RefTo(ir.Prim("int").Qualified(true, false)), ir.PointerTo(ir.Prim("int").Qualified(false, true)))
	h4Pattern := &ir.FuncSig{
		Result: ir.RefTo(tp.Qualified(true, false)),
		Params: []ir.TypeRef{ir.PointerTo(tp.Qualified(false, true))},
	}
	assert.Equal(t, "_Z2h4IiERKT_PVS0_", mangle(t, mod, instance(h4, ir.Prim("int"), h4Decl, h4Pattern)))

	// namespace ns { struct D {}; template<class T> void tf(T, const T*, T&); }
	d := ir.Path{"ns", "D"}
	mod.Add(&ir.Decl{Kind: ir.KindNamespace, Name: "ns", Path: ir.Path{"ns"}})
	mod.Add(&ir.Decl{Kind: ir.KindClass, Name: "D", Path: d, Class: &ir.ClassInfo{Key: "struct"}})
	dt := ir.Named(d)
	tf := ir.Path{"ns", "tf"}
	tfDecl := fn(tf, ir.Prim("void"), dt, ir.PointerTo(dt.Qualified(true, false)), ir.RefTo(dt))
	tfPattern := &ir.FuncSig{
		Result: ir.Prim("void"),
		Params: []ir.TypeRef{tp, ir.PointerTo(tp.Qualified(true, false)), ir.RefTo(tp)},
	}
	assert.Equal(t, "_ZN2ns2tfINS_1DEEEvT_PKS2_RS2_", mangle(t, mod, instance(tf, dt, tfDecl, tfPattern)))
}

func TestMangleErrors(t *testing.T) {
	mod := templateModule()

	_, err := abi.NewMangler(mod).Mangle(mod.Lookup(ir.Path{"Box"}))
	require.Error(t, err)

	dangling := fn(ir.Path{"f"}, ir.Prim("void"), ir.InstanceOf(ir.Path{"Box"}, ir.TypeArg(ir.Prim("char"))))
	_, err = abi.NewMangler(mod).Mangle(dangling)
	var me *abi.MangleError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "f(Box<char>)", me.Path)
	assert.Contains(t, me.Message, "not materialized")
}

func TestResolverCheckUnique(t *testing.T) {
	mod := ir.NewModule()
	mod.Add(fn(ir.Path{"f"}, ir.Prim("void"), ir.Prim("int")))
	clash := fn(ir.Path{"f_alias"}, ir.Prim("void"))
	clash.Linkage = ir.LinkageC
	clash.Name = "_Z1fi"
	mod.Add(clash)

	table, ds := abi.NewResolver(mod, abi.LP64()).Resolve()
	assert.Len(t, table.Symbols, 2)
	require.Len(t, ds, 1)
	assert.Equal(t, "E402", ds[0].Code)
}

func TestResolverCachesSymbols(t *testing.T) {
	mod := ir.NewModule()
	d := mod.Add(fn(ir.Path{"ns", "f"}, ir.Prim("void")))
	r := abi.NewResolver(mod, abi.LP64())

	s1, err := r.Symbol(d)
	require.NoError(t, err)
	s2, err := r.Symbol(d)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.Equal(t, abi.Symbol{Name: "_ZN2ns1fEv", Convention: abi.ConventionCPP}, s1)
}
