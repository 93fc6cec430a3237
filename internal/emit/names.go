package emit

import (
	"fmt"
	"strings"

	"github.com/roach88/cxxada/internal/ir"
	"github.com/roach88/cxxada/internal/naming"
)

// place is where a declaration lands: the Ada package and the simple name
// inside it.
type place struct {
	pkg  string
	name string
}

func (p place) qualified(from string) string {
	if p.pkg == from {
		return p.name
	}
	return p.pkg + "." + p.name
}

var operatorNames = map[string]string{
	"+": "Op_Add", "-": "Op_Sub", "*": "Op_Mul", "/": "Op_Div", "%": "Op_Mod",
	"^": "Op_Xor", "&": "Op_Bit_And", "|": "Op_Bit_Or", "~": "Op_Compl", "!": "Op_Not",
	"=": "Op_Assign", "<": "Op_Lt", ">": "Op_Gt", "<=": "Op_Le", ">=": "Op_Ge",
	"==": "Op_Eq", "!=": "Op_Ne", "<=>": "Op_Cmp", "&&": "Op_And", "||": "Op_Or",
	"+=": "Op_Add_Assign", "-=": "Op_Sub_Assign", "*=": "Op_Mul_Assign",
	"/=": "Op_Div_Assign", "%=": "Op_Mod_Assign", "^=": "Op_Xor_Assign",
	"&=": "Op_And_Assign", "|=": "Op_Or_Assign", "<<": "Op_Shl", ">>": "Op_Shr",
	"<<=": "Op_Shl_Assign", ">>=": "Op_Shr_Assign", "++": "Op_Inc", "--": "Op_Dec",
	",": "Op_Comma", "->*": "Op_Arrow_Star", "->": "Op_Arrow", "()": "Op_Call",
	"[]": "Op_Index", "new": "Op_New", "new[]": "Op_New_Array",
	"delete": "Op_Delete", "delete[]": "Op_Delete_Array",
}

// localName is the Ada name of a type declared at p inside namespace ns.
// Nested classes are flattened into their namespace: Outer::Inner becomes
// Outer_Inner. Template instances use their synthetic name. The flattened
// name is escaped as a whole, so a reserved inner segment such as In is
// kept verbatim in Outer_In.
func (e *Emitter) localName(ns, p ir.Path) string {
	if len(p) == len(ns)+1 {
		if name, ok := e.instanceName(p); ok {
			return name
		}
		return naming.Escape(p.Last())
	}
	segs := make([]string, 0, len(p)-len(ns))
	for i := len(ns) + 1; i <= len(p); i++ {
		name, ok := e.instanceName(p[:i])
		if ok {
			name = strings.TrimPrefix(name, naming.Marker)
		} else {
			name = p[i-1]
		}
		segs = append(segs, name)
	}
	return naming.Escape(strings.Join(segs, "_"))
}

func (e *Emitter) instanceName(p ir.Path) (string, bool) {
	if d := e.mod.Lookup(p); d != nil && d.Instance != nil {
		return naming.InstanceName(d.Instance.Template.Last(), d.Instance.Args), true
	}
	return "", false
}

// subprogramName is the Ada name of a function or method. Static members
// are prefixed with their class, since Ada subprograms live at package
// level and have no receiver to tell them apart.
func (e *Emitter) subprogramName(d *ir.Decl, owner string) string {
	f := d.Func
	var name string
	switch {
	case f.Kind == ir.FuncConstructor:
		return "Construct"
	case f.Kind == ir.FuncDestructor:
		return "Destroy"
	case f.Kind == ir.FuncOperator && f.Operator == "cv":
		name = "To_" + naming.TypeFragment(f.Result)
	case f.Kind == ir.FuncOperator:
		if n, ok := operatorNames[f.Operator]; ok {
			name = n
		} else {
			name = fmt.Sprintf("Op_%x", f.Operator)
		}
	case d.Instance != nil:
		return naming.InstanceName(d.Name, f.TemplateArgs)
	default:
		name = d.Name
	}
	if owner != "" && !f.Method {
		name = owner + "_" + name
	}
	return naming.Escape(name)
}

// paramName is the Ada name of the i-th parameter.
func paramName(p ir.Param, i int) string {
	if p.Name == "" {
		return fmt.Sprintf("Arg%d", i+1)
	}
	return naming.Escape(p.Name)
}
