package emit_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/compiler"
	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/emit"
	"github.com/roach88/cxxada/internal/instantiate"
	"github.com/roach88/cxxada/internal/naming"
	"github.com/roach88/cxxada/internal/source"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func generate(t *testing.T, src string, opts emit.Options) ([]emit.Unit, []diag.Diagnostic) {
	t.Helper()
	ctx := context.Background()
	f, errs := source.Parse("test.hpp", []byte(src))
	require.Empty(t, errs)
	mod, diags := compiler.Build([]*source.File{f}, compiler.Options{Logger: quiet()})
	require.Empty(t, diags)
	require.Empty(t, instantiate.New(mod, instantiate.Options{Logger: quiet()}).Run(ctx))
	table, diags := abi.NewResolver(mod, abi.LP64()).Resolve()
	require.Empty(t, diags)

	opts.Logger = quiet()
	units, diags, err := emit.New(mod, table, opts).Emit(ctx)
	require.NoError(t, err)
	return units, diags
}

func unitText(t *testing.T, units []emit.Unit, pkg string) string {
	t.Helper()
	for _, u := range units {
		if u.Package == pkg {
			return u.Text
		}
	}
	t.Fatalf("no unit %s", pkg)
	return ""
}

func packages(units []emit.Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Package
	}
	return out
}

func TestEmitRecordWithRepresentation(t *testing.T) {
	units, diags := generate(t, `
namespace geo {
struct Point { int x; int y; };
double norm(const Point& p);
}
`, emit.Options{})
	assert.Empty(t, diags)
	require.Equal(t, []string{"Geo"}, packages(units))
	assert.Equal(t, "geo.ads", units[0].File)
	assert.NotEmpty(t, units[0].Digest)

	text := units[0].Text
	assert.True(t, strings.HasPrefix(text, "--  Generated by cxxada"))
	assert.Contains(t, text, "with Interfaces.C;\n")
	assert.Contains(t, text, "package Geo is\n")
	assert.Contains(t, text, "   type Point is record\n"+
		"      x : aliased Interfaces.C.int;\n"+
		"      y : aliased Interfaces.C.int;\n"+
		"   end record\n"+
		"   with Convention => C_Pass_By_Copy;\n")
	assert.Contains(t, text, "      x at 0 range 0 .. 31;\n")
	assert.Contains(t, text, "      y at 4 range 0 .. 31;\n")
	assert.Contains(t, text, "   for Point'Size use 64;\n")
	assert.Contains(t, text, "   for Point'Alignment use 4;\n")
	assert.Contains(t, text, "   function norm (p : aliased Point) return Interfaces.C.double\n"+
		`   with Import => True, Convention => CPP, External_Name => "_ZN3geo4normERKNS_5PointE";`)
	assert.True(t, strings.HasSuffix(text, "end Geo;\n"))
}

func TestEmitParameterPolicy(t *testing.T) {
	units, diags := generate(t, `
struct S { int v; };
void take(S& a, const S* b, S* c, void* d, char* e, S f);
`, emit.Options{})
	assert.Empty(t, diags)
	text := unitText(t, units, "Global")
	assert.Contains(t, text, "procedure take (a : in out S; b : access constant S; c : access S; "+
		"d : System.Address; e : Interfaces.C.Strings.chars_ptr; f : S)")
	assert.Contains(t, text, "with Interfaces.C.Strings;\n")
	assert.Contains(t, text, "with System;\n")
}

func TestEmitInstanceNames(t *testing.T) {
	units, diags := generate(t, `
template <typename T> struct Box { T value; };
Box<int> b;
`, emit.Options{})
	assert.Empty(t, diags)
	text := unitText(t, units, "Global")
	assert.Contains(t, text, "   type Box_int is record\n")
	assert.Contains(t, text, "   b : aliased Box_int\n")
}

func TestEmitEscapesReservedNames(t *testing.T) {
	units, diags := generate(t, `
struct _Tag { int type; };
`, emit.Options{})
	assert.Empty(t, diags)
	text := unitText(t, units, "Global")
	name := naming.Escape("_Tag")
	assert.NotEqual(t, "_Tag", name)
	assert.Contains(t, text, "   type "+name+" is record\n")
	assert.Contains(t, text, "      "+naming.Escape("type")+" : aliased Interfaces.C.int;\n")

	back, err := naming.Unescape(name)
	require.NoError(t, err)
	assert.Equal(t, "_Tag", back)
}

func TestEmitEnumerations(t *testing.T) {
	units, diags := generate(t, `
enum Color { Red, Green = 5, Blue };
enum Flags { A = 1, B = 1 };
`, emit.Options{})
	assert.Empty(t, diags)
	text := unitText(t, units, "Global")
	assert.Contains(t, text, "   type Color is (Red, Green, Blue)\n   with Convention => C;\n")
	assert.Contains(t, text, "   for Color use (Red => 0, Green => 5, Blue => 6);\n")
	assert.Contains(t, text, "   subtype Flags is ")
	assert.Contains(t, text, "   Flags_A : constant Flags := 1;\n")
	assert.Contains(t, text, "   Flags_B : constant Flags := 1;\n")
}

func TestEmitCreatesParentPackages(t *testing.T) {
	units, diags := generate(t, `
namespace a { namespace b { struct S { int v; }; } }
`, emit.Options{RootPackage: "Lib"})
	assert.Empty(t, diags)
	assert.Equal(t, []string{"Lib", "Lib.A", "Lib.A.B"}, packages(units))
	assert.Contains(t, unitText(t, units, "Lib.A"), "package Lib.A is\nend Lib.A;\n")
	assert.Equal(t, "lib-a-b.ads", units[2].File)
}

func TestEmitWithClauses(t *testing.T) {
	units, diags := generate(t, `
namespace a { struct P { int v; }; }
namespace b { struct Q { a::P p; }; }
namespace c { struct R { a::P* p; }; }
`, emit.Options{})
	assert.Empty(t, diags)
	assert.Contains(t, unitText(t, units, "B"), "\nwith A;\n")
	c := unitText(t, units, "C")
	assert.Contains(t, c, "limited with A;\n")
	assert.Contains(t, c, "p : aliased access A.P;\n")
}

func TestEmitForwardDeclaresSelfReference(t *testing.T) {
	units, diags := generate(t, `
struct Node { int v; Node* next; };
`, emit.Options{})
	assert.Empty(t, diags)
	text := unitText(t, units, "Global")
	assert.Contains(t, text, "   type Node;\n")
	assert.Contains(t, text, "      next : aliased access Node;\n")
	assert.Less(t, strings.Index(text, "type Node;"), strings.Index(text, "type Node is record"))
}

func TestEmitOrdersTypesByValueDependency(t *testing.T) {
	units, diags := generate(t, `
struct Outer {
  struct In { int v; };
  In i;
};
`, emit.Options{})
	assert.Empty(t, diags)
	text := unitText(t, units, "Global")
	assert.Contains(t, text, "      i : aliased Outer_In;\n")
	assert.Less(t, strings.Index(text, "type Outer_In is record"), strings.Index(text, "type Outer is record"))
}

func TestEmitEscapesFlattenedNestedNamesOnce(t *testing.T) {
	units, diags := generate(t, `
struct Outer {
  struct _Hidden { int v; };
  _Hidden h;
};
`, emit.Options{})
	assert.Empty(t, diags)
	text := unitText(t, units, "Global")
	assert.Contains(t, text, "type Esc_Outerx5fx5fHidden is record")
	assert.Contains(t, text, "      h : aliased Esc_Outerx5fx5fHidden;\n")

	raw, err := naming.Unescape("Esc_Outerx5fx5fHidden")
	require.NoError(t, err)
	assert.Equal(t, "Outer__Hidden", raw)
}

func TestEmitReportsNameCollisions(t *testing.T) {
	_, diags := generate(t, `
struct Foo { int a; };
struct foo { int b; };
`, emit.Options{})
	require.NotEmpty(t, diags)
	assert.Equal(t, []diag.Kind{diag.EmissionNameCollision}, diag.Kinds(diags))
	assert.Equal(t, diag.CodeCollision, diags[0].Code)
}

func TestEmitOverloadsDoNotCollide(t *testing.T) {
	units, diags := generate(t, `
void f(int);
void f(long);
`, emit.Options{})
	assert.Empty(t, diags)
	text := unitText(t, units, "Global")
	assert.Equal(t, 2, strings.Count(text, "procedure f ("))
}

func TestEmitSPARKMode(t *testing.T) {
	units, _ := generate(t, `struct S { int v; };`, emit.Options{SPARK: true})
	assert.Contains(t, unitText(t, units, "Global"), "package Global\n  with SPARK_Mode => On\nis\n")
}

func TestEmitIsDeterministicAcrossJobCounts(t *testing.T) {
	src := `
namespace a { struct P { int v; }; template <typename T> struct Box { T value; }; }
namespace b { struct Q { a::P p; a::Box<a::P> box; }; int count(const Q& q); }
namespace c { enum E { X, Y }; struct R { a::P* p; c::E e; }; }
`
	one, d1 := generate(t, src, emit.Options{Jobs: 1})
	many, d8 := generate(t, src, emit.Options{Jobs: 8})
	assert.Equal(t, one, many)
	assert.Equal(t, d1, d8)
}
