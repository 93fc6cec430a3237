package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainInstance = "cxxada/instance/v1"
	DomainUnit     = "cxxada/unit/v1"
	DomainRun      = "cxxada/run/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest hashes v's canonical JSON under domain.
func Digest(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("Digest: failed to marshal: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

// InstanceDigest is the content digest of a materialized instance: its key
// plus the canonical spelling of every member. Two materializations of the
// same key must produce the same digest.
func InstanceDigest(d *Decl) (string, error) {
	if d.Instance == nil {
		return "", fmt.Errorf("InstanceDigest: %s is not a template instance", d.Path)
	}
	return Digest(DomainInstance, DeclShape(d))
}

// UnitDigest hashes one emitted unit's text.
func UnitDigest(pkg, text string) string {
	return hashWithDomain(DomainUnit, []byte(pkg+"\x00"+text))
}

// MustDigest is like Digest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDigest(domain string, v any) string {
	d, err := Digest(domain, v)
	if err != nil {
		panic(err)
	}
	return d
}

// DeclShape renders the structure of a declaration as canonical-JSON-ready
// values. Locations are excluded so that the shape depends only on structure.
func DeclShape(d *Decl) map[string]any {
	out := map[string]any{
		"kind": string(d.Kind),
		"path": d.Path.String(),
	}
	if d.Linkage != "" {
		out["linkage"] = string(d.Linkage)
	}
	if d.Opaque {
		out["opaque"] = true
	}
	if d.Instance != nil {
		out["instance"] = string(d.Instance.Key)
		out["specialization"] = d.Instance.Specialization
	}
	switch {
	case d.Class != nil:
		c := d.Class
		bases := make([]any, len(c.Bases))
		for i, b := range c.Bases {
			bases[i] = map[string]any{
				"type":    CanonicalType(b.Type),
				"access":  string(b.Access),
				"virtual": b.Virtual,
			}
		}
		fields := make([]any, len(c.Fields))
		for i, f := range c.Fields {
			fields[i] = map[string]any{
				"name":   f.Name,
				"type":   CanonicalType(f.Type),
				"access": string(f.Access),
				"align":  f.Align,
				"bits":   f.BitWidth,
			}
		}
		methods := make([]any, len(c.Methods))
		for i, m := range c.Methods {
			methods[i] = DeclShape(m)
		}
		nested := make([]any, len(c.Nested))
		for i, n := range c.Nested {
			nested[i] = DeclShape(n)
		}
		out["class"] = map[string]any{
			"key":     c.Key,
			"align":   c.Align,
			"bases":   bases,
			"fields":  fields,
			"methods": methods,
			"nested":  nested,
		}
	case d.Func != nil:
		f := d.Func
		params := make([]any, len(f.Params))
		for i, p := range f.Params {
			params[i] = CanonicalType(p.Type)
		}
		out["func"] = map[string]any{
			"kind":     string(f.Kind),
			"operator": f.Operator,
			"params":   params,
			"result":   CanonicalType(f.Result),
			"variadic": f.Variadic,
			"const":    f.Const,
			"static":   f.Static,
			"virtual":  f.Virtual,
			"args":     CanonicalArgs(f.TemplateArgs),
		}
	case d.Alias != nil:
		out["alias"] = CanonicalType(*d.Alias)
	case d.Enum != nil:
		values := make([]any, len(d.Enum.Values))
		for i, v := range d.Enum.Values {
			values[i] = v.Name + "=" + CanonicalExpr(v.Value)
		}
		out["enum"] = map[string]any{
			"scoped":     d.Enum.Scoped,
			"underlying": CanonicalType(d.Enum.Underlying),
			"values":     values,
		}
	case d.Var != nil:
		out["var"] = map[string]any{
			"type":      CanonicalType(d.Var.Type),
			"constexpr": d.Var.Constexpr,
			"init":      CanonicalExpr(d.Var.Init),
		}
	}
	return out
}
