package abi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/cxxada/internal/ir"
)

// MangleError reports a declaration whose external name cannot be formed.
type MangleError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *MangleError) Error() string {
	return fmt.Sprintf("mangling %s: %s", e.Path, e.Message)
}

var builtinCodes = map[string]string{
	"void":               "v",
	"wchar_t":            "w",
	"bool":               "b",
	"char":               "c",
	"signed char":        "a",
	"unsigned char":      "h",
	"short":              "s",
	"unsigned short":     "t",
	"int":                "i",
	"unsigned int":       "j",
	"long":               "l",
	"unsigned long":      "m",
	"long long":          "x",
	"unsigned long long": "y",
	"__int128":           "n",
	"unsigned __int128":  "o",
	"float":              "f",
	"double":             "d",
	"long double":        "e",
	"char8_t":            "Du",
	"char16_t":           "Ds",
	"char32_t":           "Di",
	"std::nullptr_t":     "Dn",
}

var operatorCodes = map[string]string{
	"new": "nw", "new[]": "na", "delete": "dl", "delete[]": "da",
	"~": "co", "/": "dv", "%": "rm", "|": "or", "^": "eo",
	"=": "aS", "+=": "pL", "-=": "mI", "*=": "mL", "/=": "dV", "%=": "rM",
	"&=": "aN", "|=": "oR", "^=": "eO", "<<": "ls", ">>": "rs",
	"<<=": "lS", ">>=": "rS", "==": "eq", "!=": "ne", "<": "lt", ">": "gt",
	"<=": "le", ">=": "ge", "<=>": "ss", "!": "nt", "&&": "aa", "||": "oo",
	"++": "pp", "--": "mm", ",": "cm", "->*": "pm", "->": "pt", "()": "cl",
	"[]": "ix",
}

// Operators whose code depends on arity: unary form first.
var arityCodes = map[string][2]string{
	"+": {"ps", "pl"},
	"-": {"ng", "mi"},
	"*": {"de", "ml"},
	"&": {"ad", "an"},
}

// Mangler produces Itanium C++ ABI external names for declarations of a
// module. Class template instances must be materialized in the module so
// that their template and arguments can be recovered from their paths.
type Mangler struct {
	mod *ir.Module
}

// NewMangler returns a mangler over mod.
func NewMangler(mod *ir.Module) *Mangler {
	return &Mangler{mod: mod}
}

// Mangle returns the external name of a function or variable. Declarations
// with C language linkage and global-namespace variables are not mangled.
func (m *Mangler) Mangle(d *ir.Decl) (name string, err error) {
	switch d.Kind {
	case ir.KindFunction, ir.KindVariable:
	default:
		return "", &MangleError{Path: d.Path.String(), Message: fmt.Sprintf("%s declarations have no symbol", d.Kind)}
	}
	if d.Linkage == ir.LinkageC || d.Kind == ir.KindVariable && len(d.Path) == 1 {
		return d.Name, nil
	}

	defer func() {
		if r := recover(); r != nil {
			me, ok := r.(*MangleError)
			if !ok {
				panic(r)
			}
			me.Path = d.ID()
			name, err = "", me
		}
	}()
	s := &mangleState{mod: m.mod, subs: make(map[string]int)}
	s.WriteString("_Z")
	s.encoding(d)
	return s.String(), nil
}

// mangleState is the output and substitution dictionary of one name.
type mangleState struct {
	strings.Builder
	mod  *ir.Module
	subs map[string]int
}

func fail(format string, args ...any) {
	panic(&MangleError{Message: fmt.Sprintf(format, args...)})
}

func (s *mangleState) add(key string) {
	if _, ok := s.subs[key]; !ok {
		s.subs[key] = len(s.subs)
	}
}

// sub writes the substitution for key if there is one.
func (s *mangleState) sub(key string) bool {
	i, ok := s.subs[key]
	if !ok {
		return false
	}
	s.WriteByte('S')
	if i > 0 {
		s.WriteString(strings.ToUpper(strconv.FormatInt(int64(i-1), 36)))
	}
	s.WriteByte('_')
	return true
}

func (s *mangleState) source(name string) {
	s.WriteString(strconv.Itoa(len(name)))
	s.WriteString(name)
}

// nested reports whether p needs a nested-name (N ... E). Names directly in
// std use the St abbreviation instead.
func nested(p ir.Path) bool {
	return len(p) > 1 && !(len(p) == 2 && p[0] == "std")
}

func (s *mangleState) encoding(d *ir.Decl) {
	f := d.Func
	var inst *ir.InstanceInfo
	if f != nil && d.Instance != nil {
		inst = d.Instance
	}

	if nested(d.Path) {
		s.WriteByte('N')
		if f != nil && f.Method && f.Const {
			s.WriteByte('K')
		}
		s.prefix(d.Path.Parent())
		s.unqualified(d)
		if inst != nil {
			s.add("N:" + d.Path.String())
			s.templateArgs(inst.Args)
		}
		s.WriteByte('E')
	} else {
		s.prefix(d.Path.Parent())
		s.unqualified(d)
		if inst != nil {
			s.add("N:" + d.Path.String())
			s.templateArgs(inst.Args)
		}
	}
	if f == nil {
		return
	}

	params, result := make([]ir.TypeRef, len(f.Params)), f.Result
	for i, p := range f.Params {
		params[i] = p.Type
	}
	if inst != nil {
		// Function template instances encode the template's own signature,
		// return type included, with parameters as T_ references.
		if f.Pattern == nil {
			fail("function template instance without its pattern signature")
		}
		params, result = f.Pattern.Params, f.Pattern.Result
		s.typ(result)
	}
	s.bareParams(params, f.Variadic)
}

func (s *mangleState) unqualified(d *ir.Decl) {
	f := d.Func
	if f == nil {
		s.source(d.Name)
		return
	}
	switch f.Kind {
	case ir.FuncConstructor:
		s.WriteString("C1")
	case ir.FuncDestructor:
		s.WriteString("D1")
	case ir.FuncOperator:
		if f.Operator == "cv" {
			s.WriteString("cv")
			s.typ(f.Result)
			return
		}
		if codes, ok := arityCodes[f.Operator]; ok {
			operands := len(f.Params)
			if f.Method {
				operands++
			}
			if operands == 1 {
				s.WriteString(codes[0])
			} else {
				s.WriteString(codes[1])
			}
			return
		}
		code, ok := operatorCodes[f.Operator]
		if !ok {
			fail("no mangling for operator%s", f.Operator)
		}
		s.WriteString(code)
	default:
		name := d.Name
		if d.Instance != nil {
			name = d.Instance.Template.Last()
		}
		s.source(name)
	}
}

// prefix writes the scope p, adding each component as a substitution
// candidate. Class template instances contribute their template-prefix and
// arguments.
func (s *mangleState) prefix(p ir.Path) {
	if len(p) == 0 {
		return
	}
	key := "N:" + p.String()
	if s.sub(key) {
		return
	}
	if len(p) == 1 && p[0] == "std" {
		s.WriteString("St")
		return
	}
	d := s.mod.Lookup(p)
	if d != nil && d.Instance != nil && d.Kind == ir.KindClass {
		tmpl := d.Instance.Template
		if !s.sub("N:" + tmpl.String()) {
			s.prefix(p.Parent())
			s.source(tmpl.Last())
			s.add("N:" + tmpl.String())
		}
		s.templateArgs(d.Instance.Args)
		s.add(key)
		return
	}
	s.prefix(p.Parent())
	s.source(p.Last())
	s.add(key)
}

func (s *mangleState) templateArgs(args []ir.TemplateArg) {
	s.WriteByte('I')
	for _, a := range args {
		if a.Type != nil {
			s.typ(*a.Type)
			continue
		}
		v := a.Value
		if !v.IsLit() {
			fail("template argument %s is not a constant", ir.CanonicalExpr(v))
		}
		code, ok := builtinCodes[v.Type]
		if !ok {
			fail("no literal mangling for type %s", v.Type)
		}
		s.WriteByte('L')
		s.WriteString(code)
		switch {
		case ir.IsUnsigned(v.Type):
			s.WriteString(strconv.FormatUint(uint64(v.Value), 10))
		case v.Value < 0:
			s.WriteByte('n')
			s.WriteString(strconv.FormatUint(uint64(-v.Value), 10))
		default:
			s.WriteString(strconv.FormatInt(v.Value, 10))
		}
		s.WriteByte('E')
	}
	s.WriteByte('E')
}

func (s *mangleState) bareParams(params []ir.TypeRef, variadic bool) {
	for _, p := range params {
		s.mangleType(s.resolve(p).Unqualified(), true)
	}
	switch {
	case variadic:
		s.WriteByte('z')
	case len(params) == 0:
		s.WriteByte('v')
	}
}

// resolve strips typedefs at every level and replaces instance references
// by the path of the materialized declaration, so that spellings of the
// same type share one substitution key.
func (s *mangleState) resolve(t ir.TypeRef) ir.TypeRef {
	t = s.mod.Underlying(t)
	switch t.Kind {
	case ir.TypeInstance:
		d := s.mod.DeclOf(t)
		if d == nil {
			fail("template instance %s is not materialized", ir.KeyFor(t.Path, t.Args))
		}
		return ir.Named(d.Path).Qualified(t.Const, t.Volatile)
	case ir.TypePointer, ir.TypeReference, ir.TypeRValueRef, ir.TypeArray:
		elem := s.resolve(*t.Elem)
		t.Elem = &elem
	case ir.TypeMemberPointer:
		elem, cls := s.resolve(*t.Elem), s.resolve(*t.Class)
		t.Elem, t.Class = &elem, &cls
	case ir.TypeFunction:
		result := s.resolve(*t.Result)
		t.Result = &result
		params := make([]ir.TypeRef, len(t.Params))
		for i, p := range t.Params {
			params[i] = s.resolve(p)
		}
		t.Params = params
	}
	return t
}

func (s *mangleState) typ(t ir.TypeRef) {
	s.mangleType(s.resolve(t), true)
}

// mangleType writes a resolved type. substitutable is false for the
// function type of a pointer to member function.
func (s *mangleState) mangleType(t ir.TypeRef, substitutable bool) {
	if t.Kind == ir.TypePrimitive && !t.Const && !t.Volatile {
		code, ok := builtinCodes[t.Name]
		if !ok {
			fail("no mangling for type %s", t.Name)
		}
		s.WriteString(code)
		return
	}
	if t.Kind == ir.TypeNamed && !t.Const && !t.Volatile {
		s.className(t.Path)
		return
	}

	key := "Y:" + ir.CanonicalType(t)
	if t.Kind == ir.TypeParamRef {
		// A qualified parameter is its own candidate; only the bare T_
		// shares the parameter's key.
		key = "T:" + strconv.Itoa(t.Index)
		if t.Volatile {
			key += "V"
		}
		if t.Const {
			key += "K"
		}
	}
	if substitutable && s.sub(key) {
		return
	}

	if t.Const || t.Volatile {
		if t.Volatile {
			s.WriteByte('V')
		}
		if t.Const {
			s.WriteByte('K')
		}
		s.mangleType(t.Unqualified(), substitutable)
	} else {
		switch t.Kind {
		case ir.TypePointer:
			s.WriteByte('P')
			s.mangleType(*t.Elem, true)
		case ir.TypeReference:
			s.WriteByte('R')
			s.mangleType(*t.Elem, true)
		case ir.TypeRValueRef:
			s.WriteByte('O')
			s.mangleType(*t.Elem, true)
		case ir.TypeArray:
			s.WriteByte('A')
			if t.Len != nil {
				if !t.Len.IsLit() {
					fail("array bound %s is not a constant", ir.CanonicalExpr(t.Len))
				}
				s.WriteString(strconv.FormatInt(t.Len.Value, 10))
			}
			s.WriteByte('_')
			s.mangleType(*t.Elem, true)
		case ir.TypeFunction:
			s.WriteByte('F')
			s.mangleType(*t.Result, true)
			s.bareParams(t.Params, t.Variadic)
			s.WriteByte('E')
		case ir.TypeMemberPointer:
			s.WriteByte('M')
			s.mangleType(*t.Class, true)
			s.mangleType(*t.Elem, t.Elem.Kind != ir.TypeFunction)
		case ir.TypeParamRef:
			s.WriteByte('T')
			if t.Index > 0 {
				s.WriteString(strconv.Itoa(t.Index - 1))
			}
			s.WriteByte('_')
		default:
			fail("no mangling for %s type %s", t.Kind, ir.CanonicalType(t))
		}
	}
	if substitutable {
		s.add(key)
	}
}

// className writes a class or enum type, which is substitutable under the
// same key as the scope of its members.
func (s *mangleState) className(p ir.Path) {
	if s.sub("N:" + p.String()) {
		return
	}
	if nested(p) {
		s.WriteByte('N')
		s.prefix(p)
		s.WriteByte('E')
		return
	}
	s.prefix(p)
}
