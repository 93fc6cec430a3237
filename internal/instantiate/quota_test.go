package instantiate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/ir"
)

func TestDepthQuota(t *testing.T) {
	q := NewDepthQuota(0)
	assert.Equal(t, DefaultMaxDepth, q.Max())

	q = NewDepthQuota(2)
	assert.NoError(t, q.Check("R<int>", 0))
	assert.NoError(t, q.Check("R<int**>", 2))

	err := q.Check("R<int***>", 3)
	require.Error(t, err)
	assert.True(t, IsDepthExceeded(err))
	assert.True(t, IsCycle(err))
	assert.Contains(t, err.Error(), "3 > 2")

	var de *DepthExceededError
	require.ErrorAs(t, err, &de)
	f := de.Failure()
	assert.Equal(t, diag.InstantiationCycle, f.Kind)
	assert.Equal(t, diag.CodeDepth, f.Code)
	assert.Equal(t, "R<int***>", string(f.Key))
}

func TestFailureDiagnostic(t *testing.T) {
	f := failf(diag.InstantiationFailed, diag.CodeDependent, "incomplete type")
	f.Key = "Box<S>"
	d := f.Diagnostic(ir.Location{File: "a.hpp", Line: 3}, "holder")
	assert.Equal(t, "Box<S>", d.Path)
	assert.Equal(t, diag.CodeDependent, d.Code)
	assert.Equal(t, "incomplete type (required by holder)", d.Message)
	assert.False(t, IsAmbiguous(f))
}
