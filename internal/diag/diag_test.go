package diag

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cxxada/internal/ir"
)

func TestDiagnosticError(t *testing.T) {
	d := Errorf(AmbiguousSpecialization, CodeAmbiguous, "Pair<int*,int*>",
		ir.Location{File: "pair.hpp", Line: 12, Column: 3}, "%d candidates", 2)

	assert.Equal(t, "pair.hpp:12:3: error [E300] AmbiguousSpecialization Pair<int*,int*>: 2 candidates", d.Error())
	assert.True(t, d.IsError())

	w := Warnf(ParseError, CodeParse, "", ir.Location{}, "skipped")
	assert.Equal(t, "warning [E200] ParseError: skipped", w.Error())
	assert.False(t, w.IsError())
}

func TestReportOrderingAndDedup(t *testing.T) {
	r := NewReport()
	r.Add(
		Warnf(ParseError, CodeParse, "a", ir.Location{File: "a.hpp", Line: 1}, "w"),
		Errorf(UnsupportedLayout, CodeLayout, "z", ir.Location{File: "b.hpp", Line: 5}, "bits"),
		Errorf(InstantiationCycle, CodeCycle, "y", ir.Location{File: "a.hpp", Line: 9}, "cycle"),
	)
	r.Add(Errorf(UnsupportedLayout, CodeLayout, "z", ir.Location{File: "b.hpp", Line: 5}, "bits"))

	items := r.Items()
	require.Len(t, items, 3)
	assert.Equal(t, InstantiationCycle, items[0].Kind)
	assert.Equal(t, UnsupportedLayout, items[1].Kind)
	assert.Equal(t, ParseError, items[2].Kind)
	assert.True(t, r.HasErrors())
	assert.Len(t, r.Errors(), 2)
	assert.Equal(t, []Kind{InstantiationCycle, ParseError, UnsupportedLayout}, Kinds(items))
}

func TestReportErr(t *testing.T) {
	r := NewReport()
	assert.NoError(t, r.Err())

	r.Add(Warnf(ParseError, CodeParse, "", ir.Location{}, "only a warning"))
	assert.NoError(t, r.Err())

	r.Add(Errorf(EmissionNameCollision, CodeCollision, "ns", ir.Location{}, "clash"))
	err := r.Err()
	require.Error(t, err)

	var batch *BatchError
	require.True(t, errors.As(err, &batch))
	assert.Len(t, batch.Diagnostics, 1)
}

func TestReportConcurrentAdd(t *testing.T) {
	r := NewReport()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Add(Errorf(UnsupportedLayout, CodeLayout, "p", ir.Location{Line: i + 1}, "n"))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
}

func TestReportKeepsDiagnosticsApartByLocation(t *testing.T) {
	r := NewReport()
	d := Warnf(ParseError, CodeParse, "", ir.Location{Line: 3}, "decltype is not supported")
	r.Add(d, d)
	other := d
	other.Loc.Column = 7
	r.Add(other)
	r.Add(Errorf(ParseError, CodeParse, "", ir.Location{Line: 3}, "decltype is not supported"))

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, d.Error(), other.Error())
}

func TestReportWriters(t *testing.T) {
	r := NewReport()
	r.Add(Errorf(UnsupportedLayout, CodeLayout, "S", ir.Location{File: "s.hpp", Line: 2}, "bit-field"))

	var text bytes.Buffer
	require.NoError(t, r.WriteText(&text))
	assert.Equal(t, "s.hpp:2:0: error [E400] UnsupportedLayout S: bit-field\n", text.String())

	var js bytes.Buffer
	require.NoError(t, r.WriteJSON(&js))
	var decoded []Diagnostic
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "S", decoded[0].Path)

	var empty bytes.Buffer
	require.NoError(t, NewReport().WriteJSON(&empty))
	assert.Equal(t, "[]\n", empty.String())
}
