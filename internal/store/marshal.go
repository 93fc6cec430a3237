package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/ir"
)

// marshalLayout converts a layout to canonical JSON TEXT for storage.
func marshalLayout(l *abi.Layout) (string, error) {
	bases := make([]any, len(l.Bases))
	for i, b := range l.Bases {
		bases[i] = map[string]any{
			"path":    []string(b.Path),
			"offset":  b.Offset,
			"size":    b.Size,
			"primary": b.Primary,
			"empty":   b.Empty,
		}
	}
	fields := make([]any, len(l.Fields))
	for i, f := range l.Fields {
		fields[i] = map[string]any{
			"name":   f.Name,
			"offset": f.Offset,
			"size":   f.Size,
			"align":  f.Align,
		}
	}
	data, err := ir.MarshalCanonical(map[string]any{
		"size":     l.Size,
		"align":    l.Align,
		"dsize":    l.DSize,
		"nvsize":   l.NVSize,
		"own_vptr": l.OwnVptr,
		"dynamic":  l.Dynamic,
		"pod":      l.POD,
		"empty":    l.Empty,
		"bases":    bases,
		"fields":   fields,
	})
	if err != nil {
		return "", fmt.Errorf("marshal layout: %w", err)
	}
	return string(data), nil
}

// unmarshalLayout parses layout JSON TEXT.
func unmarshalLayout(data string) (*abi.Layout, error) {
	var l abi.Layout
	if err := json.Unmarshal([]byte(data), &l); err != nil {
		return nil, fmt.Errorf("unmarshal layout: %w", err)
	}
	return &l, nil
}
