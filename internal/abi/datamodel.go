// Package abi resolves the Itanium C++ ABI facts a binding depends on:
// external symbol names and record layouts.
package abi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/cxxada/internal/ir"
)

// Info is the size and alignment of a type in bytes.
type Info struct {
	Size  int64
	Align int64
}

// DataModel fixes the sizes and alignments of the primitive types.
type DataModel struct {
	Name        string
	PointerSize int64
	prims       map[string]Info
	std         map[string]string
}

var (
	lp64  = newLP64()
	ilp32 = newILP32()
)

// LP64 is the x86-64 System V data model.
func LP64() *DataModel { return lp64 }

// ILP32 is the i386 System V data model.
func ILP32() *DataModel { return ilp32 }

// ByName returns the data model called name ("lp64" or "ilp32").
func ByName(name string) (*DataModel, error) {
	switch strings.ToLower(name) {
	case "", "lp64":
		return lp64, nil
	case "ilp32":
		return ilp32, nil
	}
	return nil, fmt.Errorf("unknown data model %q (want lp64 or ilp32)", name)
}

func common() map[string]Info {
	return map[string]Info{
		"bool":           {1, 1},
		"char":           {1, 1},
		"signed char":    {1, 1},
		"unsigned char":  {1, 1},
		"char8_t":        {1, 1},
		"short":          {2, 2},
		"unsigned short": {2, 2},
		"char16_t":       {2, 2},
		"int":            {4, 4},
		"unsigned int":   {4, 4},
		"wchar_t":        {4, 4},
		"char32_t":       {4, 4},
		"float":          {4, 4},
	}
}

func newLP64() *DataModel {
	p := common()
	for k, v := range map[string]Info{
		"long":               {8, 8},
		"unsigned long":      {8, 8},
		"long long":          {8, 8},
		"unsigned long long": {8, 8},
		"double":             {8, 8},
		"long double":        {16, 16},
		"__int128":           {16, 16},
		"unsigned __int128":  {16, 16},
		"std::nullptr_t":     {8, 8},
	} {
		p[k] = v
	}
	return &DataModel{Name: "lp64", PointerSize: 8, prims: p, std: stdTypes("long", "unsigned long", "long")}
}

func newILP32() *DataModel {
	p := common()
	for k, v := range map[string]Info{
		"long":               {4, 4},
		"unsigned long":      {4, 4},
		"long long":          {8, 4},
		"unsigned long long": {8, 4},
		"double":             {8, 4},
		"long double":        {12, 4},
		"std::nullptr_t":     {4, 4},
	} {
		p[k] = v
	}
	return &DataModel{Name: "ilp32", PointerSize: 4, prims: p, std: stdTypes("long long", "unsigned int", "int")}
}

// stdTypes maps <cstdint> and <cstddef> names. int64 is the spelling of the
// 64-bit type, size and diff the size_t and ptrdiff_t types.
func stdTypes(int64Name, size, diff string) map[string]string {
	uint64Name := "unsigned " + int64Name
	ssize := strings.TrimPrefix(size, "unsigned ")
	return map[string]string{
		"int8_t":    "signed char",
		"uint8_t":   "unsigned char",
		"int16_t":   "short",
		"uint16_t":  "unsigned short",
		"int32_t":   "int",
		"uint32_t":  "unsigned int",
		"int64_t":   int64Name,
		"uint64_t":  uint64Name,
		"intptr_t":  diff,
		"uintptr_t": size,
		"intmax_t":  int64Name,
		"uintmax_t": uint64Name,
		"size_t":    size,
		"ssize_t":   ssize,
		"ptrdiff_t": diff,
		"nullptr_t": "std::nullptr_t",
	}
}

// Primitive returns the layout of a primitive type. void has none.
func (m *DataModel) Primitive(name string) (Info, bool) {
	i, ok := m.prims[name]
	return i, ok
}

// Bits returns the width of an integral primitive, or 0.
func (m *DataModel) Bits(name string) int {
	if !ir.IsIntegral(name) {
		return 0
	}
	return int(m.prims[name].Size * 8)
}

// SizeType is the primitive spelling of size_t.
func (m *DataModel) SizeType() string { return m.std["size_t"] }

// StdType maps a <cstdint>/<cstddef> typedef name, with or without the std::
// qualifier, to its primitive.
func (m *DataModel) StdType(name string) (string, bool) {
	p, ok := m.std[strings.TrimPrefix(name, "std::")]
	return p, ok
}

// StdTypeNames returns the recognised typedef names, sorted.
func (m *DataModel) StdTypeNames() []string {
	out := make([]string, 0, len(m.std))
	for k := range m.std {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Pointer is the layout of a data or function pointer.
func (m *DataModel) Pointer() Info { return Info{m.PointerSize, m.PointerSize} }

// FoldEnv returns constant-folding widths for this model.
func (m *DataModel) FoldEnv() ir.FoldEnv {
	return ir.FoldEnv{Bits: m.Bits, SizeType: m.SizeType()}
}

// AlignTo rounds offset up to a multiple of align.
func AlignTo(offset, align int64) int64 {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) / align * align
}
