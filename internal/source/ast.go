package source

import (
	"strings"

	"github.com/roach88/cxxada/internal/ir"
)

// File is the raw declaration tree of one header.
type File struct {
	Name     string    `json:"name"`
	Decls    []*Decl   `json:"decls"`
	UseSites []UseSite `json:"use_sites,omitempty"`
}

// UseSite is a template-id encountered in the header with concrete or
// dependent arguments.
type UseSite struct {
	Name  *QualName   `json:"name"`
	Scope ir.Path     `json:"scope"`
	Loc   ir.Location `json:"loc"`
}

// DeclKind discriminates raw declarations.
type DeclKind string

const (
	DeclNamespace      DeclKind = "namespace"
	DeclClass          DeclKind = "class"
	DeclFunction       DeclKind = "function"
	DeclTypedef        DeclKind = "typedef"
	DeclEnum           DeclKind = "enum"
	DeclVariable       DeclKind = "variable"
	DeclField          DeclKind = "field"
	DeclUsingDirective DeclKind = "using_directive"
	DeclUsing          DeclKind = "using"
	DeclInstantiation  DeclKind = "explicit_instantiation"
)

// Decl is one raw declaration. Fields are populated according to Kind.
type Decl struct {
	Kind    DeclKind    `json:"kind"`
	Name    string      `json:"name,omitempty"`
	Loc     ir.Location `json:"loc"`
	Linkage ir.Linkage  `json:"linkage,omitempty"`
	Access  ir.Access   `json:"access,omitempty"`

	// Template is set for template definitions, specializations and alias
	// templates. Params is empty for full specializations ("template<>").
	Template *TemplateHeader `json:"template,omitempty"`
	// SpecArgs is the specialization pattern ("Box<T*>" gives [T*]).
	SpecArgs []*TemplateArgExpr `json:"spec_args,omitempty"`

	// Namespace, class and linkage block members.
	Members []*Decl `json:"members,omitempty"`
	Inline  bool    `json:"inline,omitempty"`

	// Class.
	ClassKey string      `json:"class_key,omitempty"`
	Forward  bool        `json:"forward,omitempty"`
	Bases    []*BaseSpec `json:"bases,omitempty"`
	Align    *Expr       `json:"align,omitempty"`

	// Function.
	Func *FuncDecl `json:"func,omitempty"`

	// Typedef target, variable/field type, enum underlying type, explicit
	// instantiation target.
	Type *TypeExpr `json:"type,omitempty"`

	// Enum.
	Scoped      bool         `json:"scoped,omitempty"`
	Enumerators []*EnumConst `json:"enumerators,omitempty"`

	// Variable and field.
	Init      *Expr `json:"init,omitempty"`
	Static    bool  `json:"static,omitempty"`
	Constexpr bool  `json:"constexpr,omitempty"`
	Extern    bool  `json:"extern,omitempty"`
	BitWidth  *Expr `json:"bit_width,omitempty"`

	// Using directive / declaration target.
	Target *QualName `json:"target,omitempty"`
}

// TemplateHeader is a template parameter list.
type TemplateHeader struct {
	Params []*TemplateParamDecl `json:"params"`
}

// TemplateParamDecl is one template parameter.
type TemplateParamDecl struct {
	Name    string               `json:"name"`
	Kind    ir.TemplateParamKind `json:"kind"`
	Type    *TypeExpr            `json:"type,omitempty"` // value parameters
	Default *TemplateArgExpr     `json:"default,omitempty"`
	Loc     ir.Location          `json:"loc"`
}

// BaseSpec is a base-clause entry.
type BaseSpec struct {
	Type    *TypeExpr `json:"type"`
	Access  ir.Access `json:"access"`
	Virtual bool      `json:"virtual,omitempty"`
}

// EnumConst is one enumerator.
type EnumConst struct {
	Name  string      `json:"name"`
	Value *Expr       `json:"value,omitempty"`
	Loc   ir.Location `json:"loc"`
}

// FuncDecl holds what the declarator and trailing specifiers say about a
// function.
type FuncDecl struct {
	Kind      ir.FuncKind `json:"kind"`
	Operator  string      `json:"operator,omitempty"`
	Type      *TypeExpr   `json:"type"` // TypeFunc
	Static    bool        `json:"static,omitempty"`
	Virtual   bool        `json:"virtual,omitempty"`
	Pure      bool        `json:"pure,omitempty"`
	Deleted   bool        `json:"deleted,omitempty"`
	Defaulted bool        `json:"defaulted,omitempty"`
	Inline    bool        `json:"inline,omitempty"`
	Override  bool        `json:"override,omitempty"`
	// TemplateArgs are explicit arguments on the declarator-id, as in
	// "template<> int max<int>(int, int)".
	TemplateArgs []*TemplateArgExpr `json:"template_args,omitempty"`
}

// QualName is a possibly qualified, possibly templated name.
type QualName struct {
	Global bool       `json:"global,omitempty"`
	Segs   []*NameSeg `json:"segs"`
}

// NameSeg is one name segment with optional template arguments.
type NameSeg struct {
	Name    string             `json:"name"`
	Args    []*TemplateArgExpr `json:"args,omitempty"`
	HasArgs bool               `json:"has_args,omitempty"`
}

// Last returns the final segment.
func (q *QualName) Last() *NameSeg { return q.Segs[len(q.Segs)-1] }

func (q *QualName) String() string {
	var b strings.Builder
	if q.Global {
		b.WriteString("::")
	}
	for i, s := range q.Segs {
		if i > 0 {
			b.WriteString("::")
		}
		b.WriteString(s.Name)
		if s.HasArgs {
			b.WriteByte('<')
			for j, a := range s.Args {
				if j > 0 {
					b.WriteByte(',')
				}
				b.WriteString(a.String())
			}
			b.WriteByte('>')
		}
	}
	return b.String()
}

// TypeExprKind discriminates raw type expressions.
type TypeExprKind string

const (
	TypeBuiltin   TypeExprKind = "builtin"
	TypeName      TypeExprKind = "name"
	TypePointer   TypeExprKind = "pointer"
	TypeRef       TypeExprKind = "reference"
	TypeRRef      TypeExprKind = "rvalue_reference"
	TypeArray     TypeExprKind = "array"
	TypeFunc      TypeExprKind = "function"
	TypeMemberPtr TypeExprKind = "member_pointer"
)

// TypeExpr is a type as written, before name resolution.
type TypeExpr struct {
	Kind     TypeExprKind `json:"kind"`
	Builtin  string       `json:"builtin,omitempty"` // canonical spelling, e.g. "unsigned long"
	Name     *QualName    `json:"name,omitempty"`
	Elem     *TypeExpr    `json:"elem,omitempty"`
	Class    *QualName    `json:"class,omitempty"`
	Params   []*ParamDecl `json:"params,omitempty"`
	Result   *TypeExpr    `json:"result,omitempty"`
	Variadic bool         `json:"variadic,omitempty"`
	Len      *Expr        `json:"len,omitempty"`
	Const    bool         `json:"const,omitempty"`
	Volatile bool         `json:"volatile,omitempty"`
	Loc      ir.Location  `json:"loc"`
}

func (t *TypeExpr) String() string {
	if t == nil {
		return ""
	}
	var s string
	switch t.Kind {
	case TypeBuiltin:
		s = t.Builtin
	case TypeName:
		s = t.Name.String()
	case TypePointer:
		s = t.Elem.String() + "*"
	case TypeRef:
		s = t.Elem.String() + "&"
	case TypeRRef:
		s = t.Elem.String() + "&&"
	case TypeArray:
		s = t.Elem.String() + "[" + t.Len.String() + "]"
	case TypeFunc:
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.Type.String()
		}
		if t.Variadic {
			parts = append(parts, "...")
		}
		s = t.Result.String() + "(" + strings.Join(parts, ",") + ")"
	case TypeMemberPtr:
		s = t.Elem.String() + " " + t.Class.String() + "::*"
	}
	if t.Const {
		s += " const"
	}
	if t.Volatile {
		s += " volatile"
	}
	return s
}

// ParamDecl is a function parameter.
type ParamDecl struct {
	Name       string    `json:"name,omitempty"`
	Type       *TypeExpr `json:"type"`
	HasDefault bool      `json:"has_default,omitempty"`
}

// TemplateArgExpr is a template argument as written. The parser prefers the
// type reading; the compiler reinterprets a name that resolves to a value.
type TemplateArgExpr struct {
	Type *TypeExpr `json:"type,omitempty"`
	Expr *Expr     `json:"expr,omitempty"`
}

func (a *TemplateArgExpr) String() string {
	if a.Type != nil {
		return a.Type.String()
	}
	return a.Expr.String()
}

// ExprKind discriminates raw constant expressions.
type ExprKind string

const (
	ExprInt    ExprKind = "int"
	ExprBool   ExprKind = "bool"
	ExprName   ExprKind = "name"
	ExprUnary  ExprKind = "unary"
	ExprBinary ExprKind = "binary"
	ExprCond   ExprKind = "cond"
	ExprSizeof ExprKind = "sizeof"
	ExprAlign  ExprKind = "alignof"
	ExprCast   ExprKind = "cast"
	ExprOther  ExprKind = "other" // strings, floats, calls: not foldable
)

// Expr is a constant expression as written.
type Expr struct {
	Kind  ExprKind    `json:"kind"`
	Value int64       `json:"value,omitempty"`
	Type  string      `json:"type,omitempty"` // literal type after suffixes: "int", "unsigned long", ...
	Name  *QualName   `json:"name,omitempty"`
	Op    string      `json:"op,omitempty"`
	X     *Expr       `json:"x,omitempty"`
	Y     *Expr       `json:"y,omitempty"`
	Z     *Expr       `json:"z,omitempty"`
	Arg   *TypeExpr   `json:"arg,omitempty"` // sizeof, alignof, casts
	Text  string      `json:"text,omitempty"`
	Loc   ir.Location `json:"loc"`
}

func (e *Expr) String() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case ExprInt, ExprBool, ExprOther:
		return e.Text
	case ExprName:
		return e.Name.String()
	case ExprUnary:
		return e.Op + e.X.String()
	case ExprBinary:
		return "(" + e.X.String() + e.Op + e.Y.String() + ")"
	case ExprCond:
		return "(" + e.X.String() + "?" + e.Y.String() + ":" + e.Z.String() + ")"
	case ExprSizeof, ExprAlign:
		return string(e.Kind) + "(" + e.Arg.String() + ")"
	case ExprCast:
		return "(" + e.Arg.String() + ")" + e.X.String()
	}
	return "?"
}
