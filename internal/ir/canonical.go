package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// CanonicalType renders a type reference in the canonical spelling used for
// instance keys. cv-qualifiers are written postfix ("int const*"), so every
// type has exactly one spelling.
func CanonicalType(t TypeRef) string {
	var b strings.Builder
	writeType(&b, t)
	return b.String()
}

// CanonicalArgs renders a template argument list without the angle brackets.
func CanonicalArgs(args []TemplateArg) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = CanonicalArg(a)
	}
	return strings.Join(parts, ",")
}

// CanonicalArg renders one template argument.
func CanonicalArg(a TemplateArg) string {
	if a.Type != nil {
		return CanonicalType(*a.Type)
	}
	return CanonicalExpr(a.Value)
}

// KeyFor builds the instance key of template applied to args.
func KeyFor(template Path, args []TemplateArg) InstanceKey {
	return InstanceKey(template.String() + "<" + CanonicalArgs(args) + ">")
}

// InstanceSegment is the path segment a materialized instance is registered
// under, e.g. "Box<int>" for ns::Box<int>.
func InstanceSegment(template Path, args []TemplateArg) string {
	return template.Last() + "<" + CanonicalArgs(args) + ">"
}

func writeType(b *strings.Builder, t TypeRef) {
	switch t.Kind {
	case TypePrimitive:
		b.WriteString(t.Name)
	case TypeNamed:
		b.WriteString(t.Path.String())
	case TypeParamRef:
		b.WriteString(t.Name)
	case TypeInstance:
		b.WriteString(t.Path.String())
		b.WriteByte('<')
		b.WriteString(CanonicalArgs(t.Args))
		b.WriteByte('>')
	case TypePointer:
		writeType(b, *t.Elem)
		b.WriteByte('*')
	case TypeReference:
		writeType(b, *t.Elem)
		b.WriteByte('&')
	case TypeRValueRef:
		writeType(b, *t.Elem)
		b.WriteString("&&")
	case TypeArray:
		writeType(b, *t.Elem)
		b.WriteByte('[')
		if t.Len != nil {
			b.WriteString(CanonicalExpr(t.Len))
		}
		b.WriteByte(']')
	case TypeFunction:
		writeType(b, *t.Result)
		b.WriteByte('(')
		for i, p := range t.Params {
			if i > 0 {
				b.WriteByte(',')
			}
			writeType(b, p)
		}
		if t.Variadic {
			if len(t.Params) > 0 {
				b.WriteByte(',')
			}
			b.WriteString("...")
		}
		b.WriteByte(')')
	case TypeMemberPointer:
		writeType(b, *t.Elem)
		b.WriteByte(' ')
		writeType(b, *t.Class)
		b.WriteString("::*")
	default:
		b.WriteString("?")
	}
	if t.Const {
		b.WriteString(" const")
	}
	if t.Volatile {
		b.WriteString(" volatile")
	}
}

// CanonicalExpr renders a constant expression. Folded literals print as
// plain decimals (bool as true/false).
func CanonicalExpr(e *ConstExpr) string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case ExprLit:
		if e.Type == "bool" {
			return strconv.FormatBool(e.Value != 0)
		}
		if IsUnsigned(e.Type) {
			return strconv.FormatUint(uint64(e.Value), 10)
		}
		return strconv.FormatInt(e.Value, 10)
	case ExprParam:
		return e.Name
	case ExprName:
		return e.Path.String()
	case ExprUnary:
		return e.Op + "(" + CanonicalExpr(e.X) + ")"
	case ExprBinary:
		return "(" + CanonicalExpr(e.X) + e.Op + CanonicalExpr(e.Y) + ")"
	case ExprCond:
		return "(" + CanonicalExpr(e.X) + "?" + CanonicalExpr(e.Y) + ":" + CanonicalExpr(e.Z) + ")"
	case ExprSizeof, ExprAlign:
		return string(e.Kind) + "(" + CanonicalType(*e.Arg) + ")"
	case ExprCast:
		return "(" + CanonicalType(*e.Arg) + ")(" + CanonicalExpr(e.X) + ")"
	}
	return "?"
}

// MarshalCanonical produces RFC 8785 style canonical JSON for hashing.
// This is the ONLY serialization used for digest computation.
//
// Differences from encoding/json:
//  1. Object keys sorted by UTF-16 code units
//  2. No HTML escaping
//  3. Strings are NFC normalized
//  4. Floats and nulls are rejected
//
// Accepted values: string, bool, int, int64, []string, []any, map[string]any.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := marshalCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return marshalCanonicalString(buf, val)
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case []string:
		buf.WriteByte('[')
		for i, s := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalCanonicalString(buf, s); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		buf.WriteByte('{')
		for i, k := range sortedKeysUTF16(val) {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalCanonicalString(buf, k); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.WriteByte(':')
			if err := marshalCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	case float32, float64:
		return fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// marshalCanonicalString writes a JSON string with NFC normalization and
// without HTML escaping.
func marshalCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	out := bytes.TrimSuffix(tmp.Bytes(), []byte("\n"))
	// encoding/json escapes U+2028/U+2029 for JavaScript; RFC 8785 does not.
	buf.Write(unescapeLineSeparators(out))
	return nil
}

// unescapeLineSeparators turns \u2028 and \u2029 escapes back into literal
// characters, leaving escaped backslashes followed by "u2028" untouched.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && data[i+1] == 'u' &&
			string(data[i+2:i+5]) == "202" && (data[i+5] == '8' || data[i+5] == '9') {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		if data[i] == '\\' && i+1 < len(data) {
			out = append(out, data[i], data[i+1])
			i++
			continue
		}
		out = append(out, data[i])
	}
	return out
}

// sortedKeysUTF16 orders keys by UTF-16 code units as RFC 8785 requires.
func sortedKeysUTF16(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := utf16.Encode([]rune(keys[i])), utf16.Encode([]rune(keys[j]))
		for n := 0; n < len(a) && n < len(b); n++ {
			if a[n] != b[n] {
				return a[n] < b[n]
			}
		}
		return len(a) < len(b)
	})
	return keys
}
