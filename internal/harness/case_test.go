package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCase_ResolvesHeadersRelativeToFile(t *testing.T) {
	c, err := LoadCase("testdata/cases/geo_layout.yaml")
	require.NoError(t, err)

	assert.Equal(t, "geo_layout", c.Name)
	assert.Equal(t, TierUnit, c.Tier)
	assert.Equal(t, []string{filepath.Join("testdata", "cases", "geo.hpp")}, c.Headers)
	assert.True(t, c.Expect.Clean)
	assert.Equal(t, LayoutExpect{Size: 8, Align: 4, Fields: map[string]int64{"x": 0, "y": 4}},
		c.Expect.Layouts["geo::Point"])
}

func TestLoadCase_InlineSource(t *testing.T) {
	c, err := LoadCase("testdata/cases/box_int.yaml")
	require.NoError(t, err)

	assert.Equal(t, "box_int.hpp", c.HeaderName())
	assert.Contains(t, c.Source, "template <typename T> struct Box")
	assert.Equal(t, "_ZNK3BoxIiE3getEv", c.Expect.Symbols["Box<int>::get() const"])
	assert.Equal(t, []string{"type Box_int is record", `External_Name => "_ZNK3BoxIiE3getEv"`},
		c.Expect.Emitted["Global"])
}

func TestLoadCase_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: "name: a\ndescription: d\ntier: unit\nsource: \"int x;\"\nexpects: {}\n",
			wantErr: "field expects not found",
		},
		{
			name:    "missing name",
			content: "description: d\ntier: unit\nsource: \"int x;\"\n",
			wantErr: "name is required",
		},
		{
			name:    "name with separator",
			content: "name: a/b\ndescription: d\ntier: unit\nsource: \"int x;\"\n",
			wantErr: "must not contain",
		},
		{
			name:    "missing description",
			content: "name: a\ntier: unit\nsource: \"int x;\"\n",
			wantErr: "description is required",
		},
		{
			name:    "missing tier",
			content: "name: a\ndescription: d\nsource: \"int x;\"\n",
			wantErr: "tier is required",
		},
		{
			name:    "unknown tier",
			content: "name: a\ndescription: d\ntier: smoke\nsource: \"int x;\"\n",
			wantErr: `unknown tier "smoke"`,
		},
		{
			name:    "no input",
			content: "name: a\ndescription: d\ntier: unit\n",
			wantErr: "one of source or headers is required",
		},
		{
			name:    "both inputs",
			content: "name: a\ndescription: d\ntier: unit\nsource: \"int x;\"\nheaders: [x.hpp]\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "missing header",
			content: "name: a\ndescription: d\ntier: unit\nheaders: [nope.hpp]\n",
			wantErr: "header not found",
		},
		{
			name:    "parser tier checks symbols",
			content: "name: a\ndescription: d\ntier: parser\nsource: \"int x;\"\nexpect:\n  symbols: {x: x}\n",
			wantErr: "parser tier cannot check",
		},
		{
			name:    "unit tier checks units",
			content: "name: a\ndescription: d\ntier: unit\nsource: \"int x;\"\nexpect:\n  units: [global.ads]\n",
			wantErr: "unit tier cannot check emitted units",
		},
		{
			name:    "reference outside validation",
			content: "name: a\ndescription: d\ntier: integration\nsource: \"int x;\"\nreference: \"int y;\"\n",
			wantErr: "reference is only used by the validation tier",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "case.yaml", tt.content)
			_, err := LoadCase(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadCase_FileNotFound(t *testing.T) {
	_, err := LoadCase(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadCases_SortedByFileName(t *testing.T) {
	cases, err := LoadCases("testdata/cases")
	require.NoError(t, err)

	names := make([]string, len(cases))
	for i, c := range cases {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"box_int", "geo_layout", "leading_underscore", "name_collision", "point_decl"}, names)
}

func TestLoadCases_RejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "name: same\ndescription: d\ntier: unit\nsource: \"int x;\"\n")
	writeFile(t, dir, "b.yml", "name: same\ndescription: d\ntier: unit\nsource: \"int y;\"\n")
	writeFile(t, dir, "notes.txt", "ignored")

	_, err := LoadCases(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `case name "same" used by both a.yaml and b.yml`)
}
