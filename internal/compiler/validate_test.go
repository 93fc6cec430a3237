package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cxxada/internal/ir"
)

func variable(name string, t ir.TypeRef) *ir.Decl {
	return &ir.Decl{Kind: ir.KindVariable, Name: name, Path: ir.Path{name}, Var: &ir.VarInfo{Type: t}}
}

func TestValidateValidModule(t *testing.T) {
	mod := ir.NewModule()
	mod.Add(&ir.Decl{Kind: ir.KindClass, Name: "S", Path: ir.Path{"S"}, Class: &ir.ClassInfo{
		Key:    "struct",
		Fields: []ir.Field{{Name: "self", Type: ir.PointerTo(ir.Named(ir.Path{"S"}))}},
	}})
	mod.Add(&ir.Decl{Kind: ir.KindTemplate, Name: "Box", Path: ir.Path{"Box"}, Template: &ir.TemplateInfo{
		Params: []ir.TemplateParam{{Name: "T", Kind: ir.ParamType}},
	}})
	boxInt := ir.InstanceOf(ir.Path{"Box"}, ir.TypeArg(ir.Prim("int")))
	mod.Add(variable("v", boxInt))
	mod.Request(ir.Request{Ref: boxInt})

	assert.Empty(t, Validate(mod))
}

func TestValidateDanglingNamedRef(t *testing.T) {
	mod := ir.NewModule()
	mod.Add(variable("v", ir.PointerTo(ir.Named(ir.Path{"Nope"}))))

	errs := Validate(mod)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDanglingRef, errs[0].Code)
	assert.Equal(t, "v", errs[0].Field)
	assert.Contains(t, errs[0].Message, "Nope")
}

func TestValidateUnrequestedInstance(t *testing.T) {
	mod := ir.NewModule()
	mod.Add(&ir.Decl{Kind: ir.KindTemplate, Name: "Box", Path: ir.Path{"Box"}, Template: &ir.TemplateInfo{}})
	mod.Add(variable("v", ir.InstanceOf(ir.Path{"Box"}, ir.TypeArg(ir.Prim("char")))))

	errs := Validate(mod)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDanglingRef, errs[0].Code)
	assert.Contains(t, errs[0].Message, "Box<char>")
}

func TestValidateFreeParameter(t *testing.T) {
	mod := ir.NewModule()
	mod.Add(variable("p", ir.ParamRef("T", 0)))
	arr := ir.TypeRef{Kind: ir.TypeArray, Elem: &ir.TypeRef{Kind: ir.TypePrimitive, Name: "int"},
		Len: &ir.ConstExpr{Kind: ir.ExprParam, Name: "N", Index: 1}}
	mod.Add(variable("q", arr))

	errs := Validate(mod)
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.Equal(t, ErrFreeParameter, e.Code)
	}
	assert.Equal(t, "p", errs[0].Field)
	assert.Equal(t, "q", errs[1].Field)
}

func TestValidateDuplicateMembers(t *testing.T) {
	mod := ir.NewModule()
	get := func() *ir.Decl {
		return &ir.Decl{Kind: ir.KindFunction, Name: "get", Path: ir.Path{"D", "get"},
			Func: &ir.FuncInfo{Kind: ir.FuncOrdinary, Result: ir.Prim("int"), Method: true}}
	}
	overload := get()
	overload.Func.Params = []ir.Param{{Type: ir.Prim("int")}}
	mod.Add(&ir.Decl{Kind: ir.KindClass, Name: "D", Path: ir.Path{"D"}, Loc: ir.Location{File: "d.hpp", Line: 1}, Class: &ir.ClassInfo{
		Key: "struct",
		Fields: []ir.Field{
			{Name: "a", Type: ir.Prim("int"), Loc: ir.Location{File: "d.hpp", Line: 2}},
			{Name: "a", Type: ir.Prim("long"), Loc: ir.Location{File: "d.hpp", Line: 3}},
		},
		Methods: []*ir.Decl{get(), overload},
	}})

	errs := Validate(mod)
	require.Len(t, errs, 1, "overloaded methods are not duplicates")
	assert.Equal(t, ErrDuplicateName, errs[0].Code)
	assert.Equal(t, "D::a", errs[0].Field)
	assert.Equal(t, 3, errs[0].Line)
}

func TestValidateMethodShadowingField(t *testing.T) {
	mod := ir.NewModule()
	mod.Add(&ir.Decl{Kind: ir.KindClass, Name: "D", Path: ir.Path{"D"}, Class: &ir.ClassInfo{
		Key:    "struct",
		Fields: []ir.Field{{Name: "size", Type: ir.Prim("int")}},
		Methods: []*ir.Decl{{Kind: ir.KindFunction, Name: "size", Path: ir.Path{"D", "size"},
			Func: &ir.FuncInfo{Kind: ir.FuncOrdinary, Result: ir.Prim("int"), Method: true}}},
	}})

	errs := Validate(mod)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateName, errs[0].Code)
	assert.Contains(t, errs[0].Message, "method")
}

func TestValidateRequestMustTargetTemplate(t *testing.T) {
	mod := ir.NewModule()
	mod.Add(&ir.Decl{Kind: ir.KindClass, Name: "S", Path: ir.Path{"S"}, Class: &ir.ClassInfo{Key: "struct"}})
	mod.Request(ir.Request{Ref: ir.InstanceOf(ir.Path{"S"}, ir.TypeArg(ir.Prim("int")))})

	errs := Validate(mod)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDanglingRef, errs[0].Code)
	assert.Equal(t, "S<int>", errs[0].Field)
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "ns::S", Message: "boom", Code: ErrDanglingRef, Line: 7}
	assert.Equal(t, "[E107] line 7: ns::S: boom", err.Error())

	err.Line = 0
	assert.Equal(t, "[E107] ns::S: boom", err.Error())
}
