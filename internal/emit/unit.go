package emit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/ir"
	"github.com/roach88/cxxada/internal/naming"
)

type entKind int

const (
	entType entKind = iota
	entObject
	entSubprogram
	entLiteral
)

// entity is a name declared in a package, kept for collision checks.
type entity struct {
	name    string
	kind    entKind
	profile string // type marks of subprograms and literals
	id      string
	loc     ir.Location
}

// unit renders one package spec.
type unit struct {
	e        *Emitter
	pkg      string
	ns       ir.Path
	decls    []*ir.Decl // types
	objects  []*ir.Decl
	funcs    []*ir.Decl
	children []string

	visible strings.Builder
	private strings.Builder

	withs      map[string]bool // package -> needs the full view
	stdWiths   map[string]bool
	onDemand   map[string]bool
	done       map[string]bool
	incomplete []string
	ents       []entity
	cur        *ir.Decl
	diags      []diag.Diagnostic
}

func newUnit(e *Emitter, pkg string, ns ir.Path) *unit {
	return &unit{
		e:        e,
		pkg:      pkg,
		ns:       ns,
		withs:    make(map[string]bool),
		stdWiths: make(map[string]bool),
		onDemand: make(map[string]bool),
		done:     make(map[string]bool),
	}
}

func (u *unit) failf(format string, args ...any) {
	id, loc := u.pkg, ir.Location{}
	if u.cur != nil {
		id, loc = u.cur.ID(), u.cur.Loc
	}
	u.diags = append(u.diags, diag.Errorf(diag.UnsupportedLayout, diag.CodeLayout, id, loc, format, args...))
}

func (u *unit) declare(name string, kind entKind, profile, id string) {
	var loc ir.Location
	if id == "" {
		if u.cur != nil {
			id, loc = u.cur.ID(), u.cur.Loc
		} else {
			id = u.pkg + "." + name
		}
	} else if u.cur != nil {
		loc = u.cur.Loc
	}
	u.ents = append(u.ents, entity{name: name, kind: kind, profile: profile, id: id, loc: loc})
}

func (u *unit) with(pkg string, how use) {
	if pkg == u.pkg || strings.HasPrefix(u.pkg, pkg+".") {
		return
	}
	if how == useValue {
		u.withs[pkg] = true
		return
	}
	if _, ok := u.withs[pkg]; !ok {
		u.withs[pkg] = false
	}
}

// forward notes an access to a record of this package that is declared
// further down; it gets an incomplete declaration at the top.
func (u *unit) forward(d *ir.Decl) {
	key := d.Path.String()
	if u.done[key] || d.Kind != ir.KindClass || d.Opaque {
		return
	}
	name := u.e.places[key].name
	for _, n := range u.incomplete {
		if n == name {
			return
		}
	}
	u.incomplete = append(u.incomplete, name)
}

func (u *unit) render() string {
	for _, d := range u.decls {
		u.cur = d
		switch d.Kind {
		case ir.KindClass:
			if d.Opaque {
				u.opaque(d)
			} else {
				u.record(d)
			}
		case ir.KindEnum:
			u.enum(d)
		case ir.KindTypedef:
			u.typedef(d)
		}
		u.done[d.Path.String()] = true
	}
	for _, d := range u.objects {
		u.cur = d
		u.object(d)
	}
	for _, d := range u.decls {
		if d.Kind != ir.KindClass || d.Class == nil {
			continue
		}
		for _, m := range d.Class.Methods {
			u.cur = m
			u.subprogram(m, d)
		}
	}
	for _, d := range u.funcs {
		u.cur = d
		u.subprogram(d, nil)
	}
	u.cur = nil
	u.checkCollisions()
	return u.assemble()
}

func (u *unit) assemble() string {
	var b strings.Builder
	b.WriteString("--  Generated by cxxada from C++ headers. Do not edit.\n\n")
	b.WriteString("pragma Ada_2012;\npragma Style_Checks (Off);\n\n")

	type clause struct{ pkg, text string }
	var clauses []clause
	for pkg := range u.stdWiths {
		clauses = append(clauses, clause{pkg, "with " + pkg + ";"})
	}
	for pkg, full := range u.withs {
		if full {
			clauses = append(clauses, clause{pkg, "with " + pkg + ";"})
		} else {
			clauses = append(clauses, clause{pkg, "limited with " + pkg + ";"})
		}
	}
	sort.Slice(clauses, func(i, j int) bool { return clauses[i].pkg < clauses[j].pkg })
	for _, c := range clauses {
		b.WriteString(c.text + "\n")
	}
	if len(clauses) > 0 {
		b.WriteString("\n")
	}

	if u.e.opts.SPARK {
		fmt.Fprintf(&b, "package %s\n  with SPARK_Mode => On\nis\n", u.pkg)
	} else {
		fmt.Fprintf(&b, "package %s is\n", u.pkg)
	}
	var body strings.Builder
	for _, name := range u.incomplete {
		fmt.Fprintf(&body, "   type %s;\n", name)
	}
	if len(u.incomplete) > 0 {
		body.WriteString("\n")
	}
	body.WriteString(u.visible.String())
	if text := strings.TrimRight(body.String(), "\n"); text != "" {
		b.WriteString("\n" + text + "\n\n")
	}
	if u.private.Len() > 0 {
		b.WriteString("private\n\n")
		b.WriteString(strings.TrimRight(u.private.String(), "\n") + "\n\n")
	}
	fmt.Fprintf(&b, "end %s;\n", u.pkg)
	return b.String()
}

type component struct {
	name   string
	typ    string
	offset int64
	bits   int64
}

func (u *unit) record(d *ir.Decl) {
	key := d.Path.String()
	name := u.e.places[key].name
	l := u.e.table.Layouts[key]
	if l == nil {
		// The resolver reported why the layout is missing.
		return
	}
	var comps []component
	if l.OwnVptr {
		comps = append(comps, component{"Vptr", u.std(address), 0, u.e.model.PointerSize * 8})
	}
	for _, bl := range l.Bases {
		if bl.Empty {
			continue
		}
		typ := u.declRef(ir.Named(bl.Path), useValue)
		comps = append(comps, component{"Base_" + u.e.places[bl.Path.String()].name, typ, bl.Offset, bl.Size * 8})
	}
	for i, f := range d.Class.Fields {
		if i >= len(l.Fields) {
			break
		}
		fl := l.Fields[i]
		comps = append(comps, component{naming.Escape(f.Name), u.typeName(f.Type), fl.Offset, fl.Size * 8})
	}

	seen := make(map[string]string)
	for _, c := range comps {
		k := strings.ToLower(c.name)
		if prev, ok := seen[k]; ok {
			u.diags = append(u.diags, diag.Errorf(diag.EmissionNameCollision, diag.CodeCollision, d.ID(), d.Loc,
				"component %s of %s collides with %s", c.name, name, prev))
			continue
		}
		seen[k] = c.name
	}

	convention := "C_Pass_By_Copy"
	if d.Class.HasVirtual() || d.Class.HasUserSpecial() {
		convention = "C"
	}

	var b strings.Builder
	switch {
	case len(comps) == 0:
		fmt.Fprintf(&b, "   type %s is null record\n   with Convention => %s;\n\n", name, convention)
	case d.Class.IsUnion():
		fmt.Fprintf(&b, "   type %s (Which : %s := 0) is record\n", name, u.std("Interfaces.C.unsigned"))
		b.WriteString("      case Which is\n")
		for i, c := range comps {
			if i == len(comps)-1 {
				b.WriteString("         when others =>\n")
			} else {
				fmt.Fprintf(&b, "         when %d =>\n", i)
			}
			fmt.Fprintf(&b, "            %s : aliased %s;\n", c.name, c.typ)
		}
		b.WriteString("      end case;\n   end record\n")
		fmt.Fprintf(&b, "   with Unchecked_Union, Convention => %s;\n\n", convention)
	default:
		fmt.Fprintf(&b, "   type %s is record\n", name)
		for _, c := range comps {
			fmt.Fprintf(&b, "      %s : aliased %s;\n", c.name, c.typ)
		}
		fmt.Fprintf(&b, "   end record\n   with Convention => %s;\n\n", convention)
		fmt.Fprintf(&b, "   for %s use record\n", name)
		for _, c := range comps {
			fmt.Fprintf(&b, "      %s at %d range 0 .. %d;\n", c.name, c.offset, c.bits-1)
		}
		b.WriteString("   end record;\n")
	}
	fmt.Fprintf(&b, "   for %s'Size use %d;\n", name, l.Size*8)
	fmt.Fprintf(&b, "   for %s'Alignment use %d;\n\n", name, l.Align)
	u.visible.WriteString(b.String())
	u.declare(name, entType, "", "")
}

func (u *unit) opaque(d *ir.Decl) {
	name := u.e.places[d.Path.String()].name
	fmt.Fprintf(&u.visible, "   type %s is limited private;\n\n", name)
	fmt.Fprintf(&u.private, "   type %s is limited null record;\n", name)
	u.declare(name, entType, "", "")
}

func (u *unit) enum(d *ir.Decl) {
	name := u.e.places[d.Path.String()].name
	under := d.Enum.Underlying
	if under.Kind == "" {
		under = ir.Prim("int")
	}
	vals := d.Enum.Values
	increasing := len(vals) > 0 && !d.Opaque
	for i, v := range vals {
		if !v.Value.IsLit() || i > 0 && v.Value.Value <= vals[i-1].Value.Value {
			increasing = false
			break
		}
	}

	var b strings.Builder
	if !increasing {
		// Duplicate or unordered values have no enumeration equivalent.
		base := u.typeName(under)
		fmt.Fprintf(&b, "   subtype %s is %s;\n", name, base)
		u.declare(name, entType, "", "")
		for _, v := range vals {
			if !v.Value.IsLit() {
				u.failf("enumerator %s is not constant", v.Name)
				continue
			}
			c := naming.Escape(name + "_" + v.Name)
			fmt.Fprintf(&b, "   %s : constant %s := %d;\n", c, name, v.Value.Value)
			u.declare(c, entObject, "", "")
		}
		u.visible.WriteString(b.String() + "\n")
		return
	}

	lits := make([]string, len(vals))
	reps := make([]string, len(vals))
	for i, v := range vals {
		lits[i] = naming.Escape(v.Name)
		reps[i] = fmt.Sprintf("%s => %d", lits[i], v.Value.Value)
	}
	fmt.Fprintf(&b, "   type %s is (%s)\n   with Convention => C;\n", name, strings.Join(lits, ", "))
	fmt.Fprintf(&b, "   for %s use (%s);\n", name, strings.Join(reps, ", "))
	if info, ok := u.e.model.Primitive(under.Name); ok {
		fmt.Fprintf(&b, "   for %s'Size use %d;\n", name, info.Size*8)
	}
	u.visible.WriteString(b.String() + "\n")
	u.declare(name, entType, "", "")
	for _, l := range lits {
		u.declare(l, entLiteral, "return "+strings.ToLower(name), "")
	}
}

func (u *unit) typedef(d *ir.Decl) {
	name := u.e.places[d.Path.String()].name
	t := *d.Alias
	under := u.e.mod.Underlying(t)
	if under.Kind == ir.TypeFunction {
		fmt.Fprintf(&u.visible, "   type %s is %s\n   with Convention => C;\n\n", name, u.subprogramAccess(under))
		u.declare(name, entType, "", "")
		return
	}
	if under.IsIndirect() {
		target := u.pointer(*under.Elem)
		switch {
		case strings.HasPrefix(target, "access procedure"), strings.HasPrefix(target, "access function"):
			fmt.Fprintf(&u.visible, "   type %s is %s\n   with Convention => C;\n\n", name, target)
		case strings.HasPrefix(target, "access constant "):
			fmt.Fprintf(&u.visible, "   type %s is %s\n   with Convention => C;\n\n", name, target)
		case strings.HasPrefix(target, "access "):
			fmt.Fprintf(&u.visible, "   type %s is access all %s\n   with Convention => C;\n\n", name, strings.TrimPrefix(target, "access "))
		default:
			fmt.Fprintf(&u.visible, "   subtype %s is %s;\n\n", name, target)
		}
		u.declare(name, entType, "", "")
		return
	}
	fmt.Fprintf(&u.visible, "   subtype %s is %s;\n\n", name, u.typeName(t))
	u.declare(name, entType, "", "")
}

func (u *unit) object(d *ir.Decl) {
	name := u.e.places[d.Path.String()].name
	v := d.Var
	if v.IsConstant() && !v.Extern && v.Init.IsLit() && (ir.IsIntegral(v.Init.Type) || v.Init.Type == "") {
		fmt.Fprintf(&u.visible, "   %s : constant := %d;\n\n", name, v.Init.Value)
		u.declare(name, entObject, "", "")
		return
	}
	sym, ok := u.e.table.Symbols[d.ID()]
	if !ok {
		return
	}
	constant := ""
	if v.Const || v.Constexpr {
		constant = "constant "
	}
	fmt.Fprintf(&u.visible, "   %s : aliased %s%s\n   with Import => True, Convention => %s, External_Name => %q;\n\n",
		name, constant, u.typeName(v.Type), sym.Convention, sym.Name)
	u.declare(name, entObject, "", "")
}

// subprogram imports a free function, or a member function of owner.
func (u *unit) subprogram(d *ir.Decl, owner *ir.Decl) {
	f := d.Func
	if f.Deleted {
		return
	}
	sym, ok := u.e.table.Symbols[d.ID()]
	if !ok {
		return
	}
	ownerName := ""
	if owner != nil {
		ownerName = u.e.places[owner.Path.String()].name
	}
	name := u.e.subprogramName(d, ownerName)

	var params, marks []string
	seen := make(map[string]bool)
	if owner != nil && f.Method {
		mode := "in out "
		if f.Const {
			mode = "aliased "
		}
		params = append(params, "This : "+mode+ownerName)
		marks = append(marks, strings.ToLower(ownerName))
		seen["this"] = true
	}
	for i, p := range f.Params {
		pn := paramName(p, i)
		if seen[strings.ToLower(pn)] {
			pn = fmt.Sprintf("%s_%d", pn, i+1)
		}
		seen[strings.ToLower(pn)] = true
		pt := u.param(p.Type)
		params = append(params, pn+" : "+pt)
		marks = append(marks, typeMark(pt))
	}

	convention := string(sym.Convention)
	if f.Variadic && sym.Convention == abi.ConventionC {
		convention = fmt.Sprintf("C_Variadic_%d", len(f.Params))
	}

	var header strings.Builder
	function := !f.Result.IsVoid() && f.Kind != ir.FuncConstructor && f.Kind != ir.FuncDestructor
	if function {
		header.WriteString("function " + name)
	} else {
		header.WriteString("procedure " + name)
	}
	if len(params) > 0 {
		header.WriteString(" (" + strings.Join(params, "; ") + ")")
	}
	if function {
		rt := u.typeName(f.Result)
		header.WriteString(" return " + rt)
		marks = append(marks, "return "+strings.ToLower(rt))
	}
	fmt.Fprintf(&u.visible, "   %s\n   with Import => True, Convention => %s, External_Name => %q;\n\n",
		header.String(), convention, sym.Name)
	u.declare(name, entSubprogram, strings.Join(marks, "; "), d.ID())
}

// checkCollisions reports Ada names declared twice in the package. Ada is
// case insensitive; subprograms and enumeration literals may share a name
// as long as their profiles differ. A declaration also may not reuse the
// name of a child package.
func (u *unit) checkCollisions() {
	groups := make(map[string][]entity)
	var order []string
	for _, en := range u.ents {
		k := strings.ToLower(en.name)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], en)
	}
	for _, child := range u.children {
		for _, en := range groups[strings.ToLower(child)] {
			u.diags = append(u.diags, diag.Errorf(diag.EmissionNameCollision, diag.CodeCollision, en.id, en.loc,
				"Ada name %s collides with child package %s.%s", en.name, u.pkg, child))
		}
	}
	for _, k := range order {
		group := groups[k]
		for i := 1; i < len(group); i++ {
			cur := group[i]
			for _, prev := range group[:i] {
				if clash(prev, cur) {
					u.diags = append(u.diags, diag.Errorf(diag.EmissionNameCollision, diag.CodeCollision, cur.id, cur.loc,
						"Ada name %s.%s is also declared by %s", u.pkg, cur.name, prev.id))
					break
				}
			}
		}
	}
}

func clash(a, b entity) bool {
	overloadable := func(k entKind) bool { return k == entSubprogram || k == entLiteral }
	if !overloadable(a.kind) || !overloadable(b.kind) {
		return true
	}
	return a.profile == b.profile
}
