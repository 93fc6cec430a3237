package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boxInstance(arg TypeRef) *Decl {
	args := []TemplateArg{TypeArg(arg)}
	return &Decl{
		Kind: KindClass,
		Name: InstanceSegment(Path{"Box"}, args),
		Path: Path{InstanceSegment(Path{"Box"}, args)},
		Class: &ClassInfo{
			Key:    "class",
			Fields: []Field{{Name: "value", Type: arg, Access: AccessPrivate}},
		},
		Instance: &InstanceInfo{Template: Path{"Box"}, Args: args, Key: KeyFor(Path{"Box"}, args), Specialization: -1},
	}
}

func TestInstanceDigestDeterminism(t *testing.T) {
	d1, err := InstanceDigest(boxInstance(Prim("int")))
	require.NoError(t, err)
	d2, err := InstanceDigest(boxInstance(Prim("int")))
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64, "SHA-256 hex is 64 characters")
}

func TestInstanceDigestIgnoresLocation(t *testing.T) {
	a := boxInstance(Prim("int"))
	b := boxInstance(Prim("int"))
	b.Loc = Location{File: "other.hpp", Line: 9}
	b.Class.Fields[0].Loc = Location{File: "other.hpp", Line: 10}

	assert.Equal(t, MustDigest(DomainInstance, DeclShape(a)), MustDigest(DomainInstance, DeclShape(b)))
}

func TestInstanceDigestChangesWithArgs(t *testing.T) {
	a := MustDigest(DomainInstance, DeclShape(boxInstance(Prim("int"))))
	b := MustDigest(DomainInstance, DeclShape(boxInstance(Prim("long"))))
	assert.NotEqual(t, a, b)
}

func TestInstanceDigestRejectsNonInstance(t *testing.T) {
	_, err := InstanceDigest(&Decl{Kind: KindClass, Path: Path{"S"}})
	require.Error(t, err)
}

func TestDomainSeparation(t *testing.T) {
	shape := map[string]any{"a": 1}
	assert.NotEqual(t, MustDigest(DomainInstance, shape), MustDigest(DomainRun, shape))
	assert.NotEqual(t, UnitDigest("A", "x"), UnitDigest("A.B", "x"))
}
