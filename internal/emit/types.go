package emit

import (
	"fmt"
	"strings"

	"github.com/roach88/cxxada/internal/ir"
	"github.com/roach88/cxxada/internal/naming"
)

var primitives = map[string]string{
	"bool":               "Interfaces.C.Extensions.bool",
	"char":               "Interfaces.C.char",
	"signed char":        "Interfaces.C.signed_char",
	"unsigned char":      "Interfaces.C.unsigned_char",
	"char8_t":            "Interfaces.C.unsigned_char",
	"short":              "Interfaces.C.short",
	"unsigned short":     "Interfaces.C.unsigned_short",
	"int":                "Interfaces.C.int",
	"unsigned int":       "Interfaces.C.unsigned",
	"long":               "Interfaces.C.long",
	"unsigned long":      "Interfaces.C.unsigned_long",
	"long long":          "Interfaces.C.Extensions.long_long",
	"unsigned long long": "Interfaces.C.Extensions.unsigned_long_long",
	"__int128":           "Interfaces.C.Extensions.Signed_128",
	"unsigned __int128":  "Interfaces.C.Extensions.Unsigned_128",
	"float":              "Interfaces.C.C_float",
	"double":             "Interfaces.C.double",
	"long double":        "Interfaces.C.long_double",
	"wchar_t":            "Interfaces.C.wchar_t",
	"char16_t":           "Interfaces.C.char16_t",
	"char32_t":           "Interfaces.C.char32_t",
	"std::nullptr_t":     "System.Address",
}

const (
	address    = "System.Address"
	charsPtr   = "Interfaces.C.Strings.chars_ptr"
	ptrdiff    = "Interfaces.C.ptrdiff_t"
	memberFunc = "Member_Function_Pointer"
)

// use tells whether a reference needs the full view of a type or only
// designates it through an access type.
type use int

const (
	useValue use = iota
	useAccess
)

// std records the predefined package of a qualified name and returns the
// name.
func (u *unit) std(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		u.stdWiths[name[:i]] = true
	}
	return name
}

// typeName maps t as the type of a component, object or result.
func (u *unit) typeName(t ir.TypeRef) string {
	switch t.Kind {
	case ir.TypePrimitive:
		if name, ok := primitives[t.Name]; ok {
			return u.std(name)
		}
		u.failf("no Ada type for %s", t.Name)
	case ir.TypeNamed, ir.TypeInstance:
		return u.declRef(t, useValue)
	case ir.TypePointer, ir.TypeReference, ir.TypeRValueRef:
		return u.pointer(*t.Elem)
	case ir.TypeArray:
		return u.arrayType(t)
	case ir.TypeFunction:
		return u.subprogramAccess(t)
	case ir.TypeMemberPointer:
		if t.Elem != nil && t.Elem.Kind == ir.TypeFunction {
			return u.memberFunctionPointer()
		}
		return u.std(ptrdiff)
	case ir.TypeParamRef:
		u.failf("free template parameter %s", t.Name)
	}
	return u.std(address)
}

// pointer maps a pointer to elem. Raw addresses are the fallback for what
// has no typed access equivalent.
func (u *unit) pointer(elem ir.TypeRef) string {
	under := u.e.mod.Underlying(elem)
	constant := elem.Const || under.Const
	switch {
	case under.Kind == ir.TypePrimitive && (under.Name == "void" || under.Name == "std::nullptr_t"):
		return u.std(address)
	case under.Kind == ir.TypePrimitive && under.Name == "char":
		return u.std(charsPtr)
	case under.Kind == ir.TypeFunction:
		return u.subprogramAccess(under)
	case under.IsIndirect(), under.Kind == ir.TypeArray, under.Kind == ir.TypeMemberPointer:
		return u.std(address)
	}
	var target string
	if under.Kind == ir.TypePrimitive {
		target = u.typeName(under)
	} else {
		target = u.declRef(under, useAccess)
	}
	if constant {
		return "access constant " + target
	}
	return "access " + target
}

// param maps a parameter type under the passing policy: references become
// aliased or in out parameters, pointers become access parameters.
func (u *unit) param(t ir.TypeRef) string {
	if t.Kind != ir.TypeReference && t.Kind != ir.TypeRValueRef {
		return u.typeName(t)
	}
	elem := *t.Elem
	under := u.e.mod.Underlying(elem)
	name := u.typeName(elem)
	if strings.HasPrefix(name, "access ") {
		name = u.std(address)
	}
	if t.Kind == ir.TypeRValueRef || elem.Const || under.Const {
		return "aliased " + name
	}
	return "in out " + name
}

// declRef names the declaration a named type or template-id refers to.
func (u *unit) declRef(t ir.TypeRef, how use) string {
	d := u.e.declOf(t)
	if d == nil {
		u.failf("%s does not name a declaration", ir.CanonicalType(t))
		return u.std(address)
	}
	pl, ok := u.e.places[d.Path.String()]
	if !ok {
		u.failf("%s is not emitted", d.Path)
		return u.std(address)
	}
	if how == useAccess && pl.pkg == u.pkg {
		u.forward(d)
	}
	u.with(pl.pkg, how)
	return pl.qualified(u.pkg)
}

func (e *Emitter) declOf(t ir.TypeRef) *ir.Decl {
	switch t.Kind {
	case ir.TypeNamed:
		return e.mod.Lookup(t.Path)
	case ir.TypeInstance:
		key := t.Key
		if key == "" {
			key = ir.KeyFor(t.Path, t.Args)
		}
		d, _ := e.mod.Instance(key)
		return d
	}
	return nil
}

// arrayType declares the constrained array type for t on first use.
func (u *unit) arrayType(t ir.TypeRef) string {
	if t.Len == nil || !t.Len.IsLit() || t.Len.Value <= 0 {
		u.failf("array %s has no constant bound", ir.CanonicalType(t))
		return u.std(address)
	}
	elem := u.typeName(*t.Elem)
	name := naming.Escape(naming.TypeFragment(t.Unqualified()))
	if u.onDemand[name] {
		return name
	}
	u.onDemand[name] = true
	fmt.Fprintf(&u.visible, "   type %s is array (0 .. %d) of aliased %s\n", name, t.Len.Value-1, elem)
	u.visible.WriteString("   with Convention => C;\n\n")
	u.declare(name, entType, "", "")
	return name
}

func (u *unit) memberFunctionPointer() string {
	if !u.onDemand[memberFunc] {
		u.onDemand[memberFunc] = true
		fmt.Fprintf(&u.visible, "   type %s is record\n", memberFunc)
		fmt.Fprintf(&u.visible, "      Ptr : %s;\n", u.std(address))
		fmt.Fprintf(&u.visible, "      Adj : %s;\n", u.std(ptrdiff))
		u.visible.WriteString("   end record\n   with Convention => C_Pass_By_Copy;\n\n")
		u.declare(memberFunc, entType, "", "")
	}
	return memberFunc
}

// subprogramAccess maps a function type to an anonymous access-to-
// subprogram type.
func (u *unit) subprogramAccess(fn ir.TypeRef) string {
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = fmt.Sprintf("Arg%d : %s", i+1, u.param(p))
	}
	var b strings.Builder
	if fn.Result == nil || fn.Result.IsVoid() {
		b.WriteString("access procedure")
	} else {
		b.WriteString("access function")
	}
	if len(params) > 0 {
		b.WriteString(" (" + strings.Join(params, "; ") + ")")
	}
	if fn.Result != nil && !fn.Result.IsVoid() {
		b.WriteString(" return " + u.typeName(*fn.Result))
	}
	return b.String()
}

// typeMark strips parameter modes from a mapped parameter type. Ada
// overloading ignores modes.
func typeMark(s string) string {
	s = strings.TrimPrefix(s, "aliased ")
	s = strings.TrimPrefix(s, "in out ")
	return strings.ToLower(s)
}
