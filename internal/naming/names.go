package naming

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/cxxada/internal/ir"
)

// AdaCase converts an identifier to Ada's Mixed_Case style, e.g. "my_ns" to
// "My_Ns". Escaped identifiers are returned untouched because their case is
// significant to Unescape.
func AdaCase(s string) string {
	if strings.HasPrefix(s, Marker) || NeedsEscape(s) {
		return s
	}
	// Casers are stateful; units are emitted concurrently.
	titler := cases.Title(language.Und, cases.NoLower)
	parts := strings.Split(s, "_")
	for i, p := range parts {
		parts[i] = titler.String(p)
	}
	return strings.Join(parts, "_")
}

// PackageName maps a namespace path to an Ada package name. The global
// namespace maps to global; every package sits under root when root is set.
func PackageName(root string, ns ir.Path, global string) string {
	var segs []string
	if root != "" {
		segs = append(segs, strings.Split(root, ".")...)
	}
	if len(ns) == 0 {
		if global != "" {
			segs = append(segs, global)
		}
	}
	for _, s := range ns {
		segs = append(segs, AdaCase(Escape(s)))
	}
	return strings.Join(segs, ".")
}

// FileName returns the GNAT source file name of a package spec:
// "A.B.C" becomes "a-b-c.ads".
func FileName(pkg string) string {
	return strings.ToLower(strings.ReplaceAll(pkg, ".", "-")) + ".ads"
}

// InstanceName is the synthetic Ada name of a template instance: the
// template name followed by an encoding of each argument, e.g. Box<int> is
// "Box_int" and Pair<char const*,3> is "Pair_char_Const_Ptr_3".
func InstanceName(template string, args []ir.TemplateArg) string {
	parts := []string{template}
	for _, a := range args {
		parts = append(parts, ArgFragment(a))
	}
	return Escape(squeeze(strings.Join(parts, "_")))
}

// ArgFragment encodes one template argument as identifier characters.
func ArgFragment(a ir.TemplateArg) string {
	if a.Type != nil {
		return TypeFragment(*a.Type)
	}
	return exprFragment(a.Value)
}

// TypeFragment encodes a type as identifier characters.
func TypeFragment(t ir.TypeRef) string {
	var s string
	switch t.Kind {
	case ir.TypePrimitive, ir.TypeParamRef:
		s = strings.ReplaceAll(t.Name, " ", "_")
	case ir.TypeNamed:
		s = strings.Join(t.Path, "_")
	case ir.TypeInstance:
		s = InstanceName(strings.Join(t.Path, "_"), t.Args)
		s = strings.TrimPrefix(s, Marker)
	case ir.TypePointer:
		s = TypeFragment(*t.Elem) + "_Ptr"
	case ir.TypeReference:
		s = TypeFragment(*t.Elem) + "_Ref"
	case ir.TypeRValueRef:
		s = TypeFragment(*t.Elem) + "_RRef"
	case ir.TypeArray:
		s = TypeFragment(*t.Elem) + "_Array"
		if t.Len != nil {
			s += "_" + exprFragment(t.Len)
		}
	case ir.TypeFunction:
		parts := []string{"Func"}
		for _, p := range t.Params {
			parts = append(parts, TypeFragment(p))
		}
		if t.Variadic {
			parts = append(parts, "Varargs")
		}
		parts = append(parts, "Ret", TypeFragment(*t.Result))
		s = strings.Join(parts, "_")
	case ir.TypeMemberPointer:
		s = TypeFragment(*t.Elem) + "_Member_" + TypeFragment(*t.Class)
	}
	if t.Const {
		s += "_Const"
	}
	if t.Volatile {
		s += "_Volatile"
	}
	return s
}

func exprFragment(e *ir.ConstExpr) string {
	if e == nil {
		return ""
	}
	if e.IsLit() {
		if e.Type == "bool" {
			if e.Value != 0 {
				return "True"
			}
			return "False"
		}
		if e.Value < 0 {
			return "Neg" + strconv.FormatUint(uint64(-e.Value), 10)
		}
		return strconv.FormatInt(e.Value, 10)
	}
	if e.Kind == ir.ExprName {
		return strings.Join(e.Path, "_")
	}
	return "Expr"
}

// squeeze collapses runs of underscores and trims leading and trailing ones
// produced by joining fragments. Leading underscores of the template name
// itself are kept so that Escape still sees them.
func squeeze(s string) string {
	lead := len(s) - len(strings.TrimLeft(s, "_"))
	body := s[lead:]
	var b strings.Builder
	prev := byte(0)
	for i := 0; i < len(body); i++ {
		if body[i] == '_' && prev == '_' {
			continue
		}
		b.WriteByte(body[i])
		prev = body[i]
	}
	return s[:lead] + strings.TrimRight(b.String(), "_")
}
