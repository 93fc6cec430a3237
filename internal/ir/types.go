package ir

import (
	"fmt"
	"strings"
)

// Path is a qualified declaration path, outermost segment first.
// The global namespace is the empty path.
type Path []string

// String renders the path with C++ scope separators.
func (p Path) String() string {
	return strings.Join(p, "::")
}

// Child returns a new path with name appended. The receiver is not modified.
func (p Path) Child(name string) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = name
	return out
}

// Parent returns the enclosing path. The parent of the global namespace is itself.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Path{}
	}
	return append(Path{}, p[:len(p)-1]...)
}

// Last returns the final segment, or "" for the global namespace.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Equal reports whether two paths have identical segments.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether q is a (non-strict) prefix of p.
func (p Path) HasPrefix(q Path) bool {
	if len(q) > len(p) {
		return false
	}
	return p[:len(q)].Equal(q)
}

// ParsePath splits a "::" separated path. Separators nested inside template
// argument lists ("Box<ns::Foo>") do not split.
func ParsePath(s string) Path {
	if s == "" {
		return Path{}
	}
	var (
		out   Path
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			depth--
		case ':':
			if depth == 0 && i+1 < len(s) && s[i+1] == ':' {
				out = append(out, s[start:i])
				i++
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

// Location identifies a position in a source header.
type Location struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// IsValid reports whether the location carries a line number.
func (l Location) IsValid() bool { return l.Line > 0 }

func (l Location) String() string {
	if !l.IsValid() {
		return l.File
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// DeclKind discriminates declaration variants.
type DeclKind string

const (
	KindNamespace DeclKind = "namespace"
	KindClass     DeclKind = "class"
	KindFunction  DeclKind = "function"
	KindTypedef   DeclKind = "typedef"
	KindEnum      DeclKind = "enum"
	KindVariable  DeclKind = "variable"
	KindTemplate  DeclKind = "template"
)

// Linkage is the language linkage of a declaration.
type Linkage string

const (
	LinkageCXX Linkage = "C++"
	LinkageC   Linkage = "C"
)

// Access is a C++ member access level.
type Access string

const (
	AccessPublic    Access = "public"
	AccessProtected Access = "protected"
	AccessPrivate   Access = "private"
)

// Decl is a named entity of the bound interface.
//
// Exactly one of the variant pointers is set, matching Kind. Namespaces carry
// no variant; their members are tracked by the Module.
type Decl struct {
	Kind    DeclKind `json:"kind"`
	Name    string   `json:"name"`
	Path    Path     `json:"path"`
	Loc     Location `json:"loc"`
	Linkage Linkage  `json:"linkage,omitempty"`

	// Opaque marks a class that was only forward declared.
	Opaque bool `json:"opaque,omitempty"`

	Class    *ClassInfo    `json:"class,omitempty"`
	Func     *FuncInfo     `json:"func,omitempty"`
	Alias    *TypeRef      `json:"alias,omitempty"`
	Enum     *EnumInfo     `json:"enum,omitempty"`
	Var      *VarInfo      `json:"var,omitempty"`
	Template *TemplateInfo `json:"template,omitempty"`
	Instance *InstanceInfo `json:"instance,omitempty"`
}

// ID returns the declaration identity: the qualified path, extended with the
// parameter signature for functions so that overloads stay distinct.
func (d *Decl) ID() string {
	id := d.Path.String()
	if d.Func == nil {
		return id
	}
	params := make([]string, len(d.Func.Params))
	for i, p := range d.Func.Params {
		params[i] = CanonicalType(p.Type)
	}
	if d.Func.Variadic {
		params = append(params, "...")
	}
	id += "(" + strings.Join(params, ",") + ")"
	if d.Func.Const {
		id += " const"
	}
	if len(d.Func.TemplateArgs) > 0 {
		id += " <" + CanonicalArgs(d.Func.TemplateArgs) + ">"
	}
	return id
}

// IsInstance reports whether the declaration was materialized from a template.
func (d *Decl) IsInstance() bool { return d.Instance != nil }

// ClassInfo describes a class, struct or union body.
type ClassInfo struct {
	Key     string  `json:"key"` // "class", "struct" or "union"
	Bases   []Base  `json:"bases,omitempty"`
	Fields  []Field `json:"fields,omitempty"`
	Methods []*Decl `json:"methods,omitempty"`
	Nested  []*Decl `json:"nested,omitempty"`
	Align   int64   `json:"align,omitempty"`
}

// IsUnion reports whether the class is a union.
func (c *ClassInfo) IsUnion() bool { return c.Key == "union" }

// HasVirtual reports whether the class declares a virtual member function.
func (c *ClassInfo) HasVirtual() bool {
	for _, m := range c.Methods {
		if m.Func.Virtual {
			return true
		}
	}
	return false
}

// HasUserSpecial reports whether the class declares a non-defaulted
// constructor or destructor.
func (c *ClassInfo) HasUserSpecial() bool {
	for _, m := range c.Methods {
		switch m.Func.Kind {
		case FuncConstructor, FuncDestructor:
			if !m.Func.Defaulted {
				return true
			}
		}
	}
	return false
}

// Base is a direct base class.
type Base struct {
	Type    TypeRef `json:"type"`
	Access  Access  `json:"access"`
	Virtual bool    `json:"virtual,omitempty"`
}

// Field is a non-static data member.
type Field struct {
	Name     string   `json:"name"`
	Type     TypeRef  `json:"type"`
	Access   Access   `json:"access"`
	Align    int64    `json:"align,omitempty"`
	BitWidth int      `json:"bit_width,omitempty"`
	Loc      Location `json:"loc"`
}

// FuncKind discriminates special member functions.
type FuncKind string

const (
	FuncOrdinary    FuncKind = "function"
	FuncConstructor FuncKind = "constructor"
	FuncDestructor  FuncKind = "destructor"
	FuncOperator    FuncKind = "operator"
)

// Param is a function parameter.
type Param struct {
	Name string  `json:"name,omitempty"`
	Type TypeRef `json:"type"`
}

// FuncSig is an uninstantiated function signature. Function template
// instances keep it because their external names encode the pattern.
type FuncSig struct {
	Params []TypeRef `json:"params"`
	Result TypeRef   `json:"result"`
}

// FuncInfo describes a free or member function.
type FuncInfo struct {
	Kind      FuncKind `json:"kind"`
	Operator  string   `json:"operator,omitempty"`
	Params    []Param  `json:"params"`
	Result    TypeRef  `json:"result"`
	Variadic  bool     `json:"variadic,omitempty"`
	Method    bool     `json:"method,omitempty"`
	Const     bool     `json:"const,omitempty"`
	Static    bool     `json:"static,omitempty"`
	Virtual   bool     `json:"virtual,omitempty"`
	Pure      bool     `json:"pure,omitempty"`
	Deleted   bool     `json:"deleted,omitempty"`
	Defaulted bool     `json:"defaulted,omitempty"`
	Inline    bool     `json:"inline,omitempty"`
	Access    Access   `json:"access,omitempty"`

	TemplateArgs []TemplateArg `json:"template_args,omitempty"`
	Pattern      *FuncSig      `json:"pattern,omitempty"`
}

// EnumInfo describes an enumeration.
type EnumInfo struct {
	Scoped     bool         `json:"scoped,omitempty"`
	Underlying TypeRef      `json:"underlying"`
	Values     []Enumerator `json:"values"`
}

// Enumerator is one enumeration constant. Value is folded once the
// expression is constant.
type Enumerator struct {
	Name  string     `json:"name"`
	Value *ConstExpr `json:"value"`
}

// VarInfo describes a variable or named constant.
type VarInfo struct {
	Type      TypeRef    `json:"type"`
	Const     bool       `json:"const,omitempty"`
	Constexpr bool       `json:"constexpr,omitempty"`
	Static    bool       `json:"static,omitempty"`
	Extern    bool       `json:"extern,omitempty"`
	Init      *ConstExpr `json:"init,omitempty"`
}

// IsConstant reports whether the variable is a compile-time constant.
func (v *VarInfo) IsConstant() bool {
	return (v.Const || v.Constexpr) && v.Init != nil
}

// TemplateParamKind discriminates template parameters.
type TemplateParamKind string

const (
	ParamType  TemplateParamKind = "type"
	ParamValue TemplateParamKind = "value"
)

// TemplateParam is one template parameter.
type TemplateParam struct {
	Name    string            `json:"name"`
	Kind    TemplateParamKind `json:"kind"`
	Type    *TypeRef          `json:"type,omitempty"` // value parameters only
	Default *TemplateArg      `json:"default,omitempty"`
}

// TemplateInfo describes a template definition: the primary pattern plus any
// specializations, which are consulted before the primary.
type TemplateInfo struct {
	Params          []TemplateParam  `json:"params"`
	Body            *Decl            `json:"body,omitempty"`
	Specializations []Specialization `json:"specializations,omitempty"`
}

// IsAlias reports whether this is an alias template.
func (t *TemplateInfo) IsAlias() bool {
	return t.Body != nil && t.Body.Kind == KindTypedef
}

// IsFunction reports whether this is a function template.
func (t *TemplateInfo) IsFunction() bool {
	return t.Body != nil && t.Body.Kind == KindFunction
}

// Specialization is an alternative definition keyed by a pattern. A full
// specialization has no parameters.
type Specialization struct {
	Params  []TemplateParam `json:"params,omitempty"`
	Pattern []TemplateArg   `json:"pattern"`
	Body    *Decl           `json:"body"`
	Loc     Location        `json:"loc"`
}

// IsFull reports whether the specialization binds every argument.
func (s *Specialization) IsFull() bool { return len(s.Params) == 0 }

// InstanceKey identifies a template instance: the canonical encoding of the
// template path and its normalized argument list.
type InstanceKey string

// InstanceInfo links a materialized declaration back to its template.
type InstanceInfo struct {
	Template       Path          `json:"template"`
	Args           []TemplateArg `json:"args"`
	Key            InstanceKey   `json:"key"`
	Specialization int           `json:"specialization"` // -1 for the primary template
}

// TypeKind discriminates type references.
type TypeKind string

const (
	TypePrimitive     TypeKind = "primitive"
	TypeNamed         TypeKind = "named"
	TypePointer       TypeKind = "pointer"
	TypeReference     TypeKind = "reference"
	TypeRValueRef     TypeKind = "rvalue_reference"
	TypeArray         TypeKind = "array"
	TypeFunction      TypeKind = "function"
	TypeMemberPointer TypeKind = "member_pointer"
	TypeInstance      TypeKind = "instance"
	TypeParamRef      TypeKind = "param"
)

// TypeRef is a reference to a type.
//
// Named and instance references carry a Path (the declaration or template);
// composite references carry Elem. Function types carry Result and Params;
// member pointers carry Class and Elem.
type TypeRef struct {
	Kind     TypeKind      `json:"kind"`
	Name     string        `json:"name,omitempty"`
	Index    int           `json:"index,omitempty"`
	Path     Path          `json:"path,omitempty"`
	Args     []TemplateArg `json:"args,omitempty"`
	Key      InstanceKey   `json:"key,omitempty"`
	Elem     *TypeRef      `json:"elem,omitempty"`
	Class    *TypeRef      `json:"class,omitempty"`
	Params   []TypeRef     `json:"params,omitempty"`
	Result   *TypeRef      `json:"result,omitempty"`
	Variadic bool          `json:"variadic,omitempty"`
	Len      *ConstExpr    `json:"len,omitempty"`
	Const    bool          `json:"const,omitempty"`
	Volatile bool          `json:"volatile,omitempty"`
}

// Prim returns a primitive type reference.
func Prim(name string) TypeRef { return TypeRef{Kind: TypePrimitive, Name: name} }

// Named returns a reference to the declaration at path.
func Named(p Path) TypeRef { return TypeRef{Kind: TypeNamed, Path: p} }

// PointerTo returns a pointer to elem.
func PointerTo(elem TypeRef) TypeRef { return TypeRef{Kind: TypePointer, Elem: &elem} }

// RefTo returns an lvalue reference to elem.
func RefTo(elem TypeRef) TypeRef { return TypeRef{Kind: TypeReference, Elem: &elem} }

// InstanceOf returns a template-id reference.
func InstanceOf(template Path, args ...TemplateArg) TypeRef {
	return TypeRef{Kind: TypeInstance, Path: template, Args: args}
}

// ParamRef returns a reference to the index'th template parameter.
func ParamRef(name string, index int) TypeRef {
	return TypeRef{Kind: TypeParamRef, Name: name, Index: index}
}

// Qualified returns a copy with const/volatile added.
func (t TypeRef) Qualified(c, v bool) TypeRef {
	t.Const = t.Const || c
	t.Volatile = t.Volatile || v
	return t
}

// Unqualified returns a copy without top-level cv-qualifiers.
func (t TypeRef) Unqualified() TypeRef {
	t.Const, t.Volatile = false, false
	return t
}

// IsVoid reports whether t is the void type.
func (t TypeRef) IsVoid() bool { return t.Kind == TypePrimitive && t.Name == "void" }

// IsIndirect reports whether t is a pointer or reference.
func (t TypeRef) IsIndirect() bool {
	switch t.Kind {
	case TypePointer, TypeReference, TypeRValueRef:
		return true
	}
	return false
}

// IsDependent reports whether t mentions a free template parameter.
func (t TypeRef) IsDependent() bool {
	if t.Kind == TypeParamRef {
		return true
	}
	if t.Elem != nil && t.Elem.IsDependent() {
		return true
	}
	if t.Class != nil && t.Class.IsDependent() {
		return true
	}
	if t.Result != nil && t.Result.IsDependent() {
		return true
	}
	for _, p := range t.Params {
		if p.IsDependent() {
			return true
		}
	}
	for _, a := range t.Args {
		if a.IsDependent() {
			return true
		}
	}
	return t.Len != nil && t.Len.IsDependent()
}

// Visit calls fn for t and every type reference nested in it, outermost first.
// Template arguments are visited as well.
func (t *TypeRef) Visit(fn func(*TypeRef)) {
	fn(t)
	if t.Elem != nil {
		t.Elem.Visit(fn)
	}
	if t.Class != nil {
		t.Class.Visit(fn)
	}
	if t.Result != nil {
		t.Result.Visit(fn)
	}
	for i := range t.Params {
		t.Params[i].Visit(fn)
	}
	for i := range t.Args {
		if t.Args[i].Type != nil {
			t.Args[i].Type.Visit(fn)
		}
	}
}

// TemplateArg is a type or constant template argument.
type TemplateArg struct {
	Type  *TypeRef   `json:"type,omitempty"`
	Value *ConstExpr `json:"value,omitempty"`
}

// TypeArg wraps a type as a template argument.
func TypeArg(t TypeRef) TemplateArg { return TemplateArg{Type: &t} }

// ValueArg wraps a constant as a template argument.
func ValueArg(e *ConstExpr) TemplateArg { return TemplateArg{Value: e} }

// IsDependent reports whether the argument mentions a free parameter.
func (a TemplateArg) IsDependent() bool {
	if a.Type != nil {
		return a.Type.IsDependent()
	}
	return a.Value != nil && a.Value.IsDependent()
}

// ExprKind discriminates constant expressions.
type ExprKind string

const (
	ExprLit    ExprKind = "lit"
	ExprParam  ExprKind = "param"
	ExprName   ExprKind = "name"
	ExprUnary  ExprKind = "unary"
	ExprBinary ExprKind = "binary"
	ExprCond   ExprKind = "cond"
	ExprSizeof ExprKind = "sizeof"
	ExprAlign  ExprKind = "alignof"
	ExprCast   ExprKind = "cast"
)

// ConstExpr is an integral constant expression. Literals carry the
// primitive type they were folded to ("int", "bool", "unsigned long", ...).
type ConstExpr struct {
	Kind  ExprKind   `json:"kind"`
	Value int64      `json:"value,omitempty"`
	Type  string     `json:"type,omitempty"`
	Name  string     `json:"name,omitempty"`
	Index int        `json:"index,omitempty"`
	Path  Path       `json:"path,omitempty"`
	Op    string     `json:"op,omitempty"`
	X     *ConstExpr `json:"x,omitempty"`
	Y     *ConstExpr `json:"y,omitempty"`
	Z     *ConstExpr `json:"z,omitempty"`
	Arg   *TypeRef   `json:"arg,omitempty"` // sizeof, alignof and cast operand type
}

// Lit returns a literal of the given primitive type.
func Lit(v int64, typ string) *ConstExpr {
	return &ConstExpr{Kind: ExprLit, Value: v, Type: typ}
}

// IsLit reports whether the expression is fully folded.
func (e *ConstExpr) IsLit() bool { return e != nil && e.Kind == ExprLit }

// IsDependent reports whether the expression mentions a template parameter.
func (e *ConstExpr) IsDependent() bool {
	if e == nil {
		return false
	}
	if e.Kind == ExprParam {
		return true
	}
	if e.Arg != nil && e.Arg.IsDependent() {
		return true
	}
	return e.X.IsDependent() || e.Y.IsDependent() || e.Z.IsDependent()
}
