package abi

import (
	"fmt"
	"sync"

	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/ir"
)

// Layout is the Itanium ABI record layout of a class.
//
// DSize is the data size: the offset just past the last byte of data,
// without tail padding. NVSize is the size the class occupies when it is a
// base subobject; it differs from Size for non-POD classes, whose tail
// padding a derived class may reuse.
type Layout struct {
	Size    int64         `json:"size"`
	Align   int64         `json:"align"`
	DSize   int64         `json:"dsize"`
	NVSize  int64         `json:"nvsize"`
	OwnVptr bool          `json:"own_vptr,omitempty"`
	Dynamic bool          `json:"dynamic,omitempty"`
	POD     bool          `json:"pod,omitempty"`
	Empty   bool          `json:"empty,omitempty"`
	Bases   []BaseLayout  `json:"bases,omitempty"`
	Fields  []FieldLayout `json:"fields"`
}

// BaseLayout places a direct non-virtual base.
type BaseLayout struct {
	Path    ir.Path `json:"path"`
	Offset  int64   `json:"offset"`
	Size    int64   `json:"size"`
	Primary bool    `json:"primary,omitempty"`
	Empty   bool    `json:"empty,omitempty"`
}

// FieldLayout places a non-static data member. Fields are listed in
// declaration order, parallel to ClassInfo.Fields.
type FieldLayout struct {
	Name   string `json:"name"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	Align  int64  `json:"align"`
}

// Field returns the placement of the named field.
func (l *Layout) Field(name string) (FieldLayout, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldLayout{}, false
}

// LayoutError reports a type whose layout cannot be determined from its
// declaration alone.
type LayoutError struct {
	Path    string
	Code    string
	Message string

	// Missing is set when the layout waits on an instance that has not
	// been materialized yet.
	Missing ir.InstanceKey
}

// Error implements the error interface.
func (e *LayoutError) Error() string {
	return fmt.Sprintf("[%s] layout of %s: %s", e.Code, e.Path, e.Message)
}

// Diagnostic converts the error for the run report.
func (e *LayoutError) Diagnostic(loc ir.Location) diag.Diagnostic {
	return diag.Errorf(diag.UnsupportedLayout, e.Code, e.Path, loc, "%s", e.Message)
}

func unsupported(path, format string, args ...any) *LayoutError {
	return &LayoutError{Path: path, Code: diag.CodeLayout, Message: fmt.Sprintf(format, args...)}
}

// Calculator computes record layouts for the classes of a module under one
// data model. Results are cached per class path; it is safe for concurrent
// use.
type Calculator struct {
	mod   *ir.Module
	model *DataModel

	mu    sync.Mutex
	cache map[string]*Layout
	errs  map[string]*LayoutError
	busy  map[string]bool
}

// NewCalculator returns a calculator over mod.
func NewCalculator(mod *ir.Module, model *DataModel) *Calculator {
	return &Calculator{
		mod:   mod,
		model: model,
		cache: make(map[string]*Layout),
		errs:  make(map[string]*LayoutError),
		busy:  make(map[string]bool),
	}
}

// Model returns the calculator's data model.
func (c *Calculator) Model() *DataModel { return c.model }

// Layout returns the layout of a class declaration.
func (c *Calculator) Layout(d *ir.Decl) (*Layout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.layout(d)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// TypeInfo returns the size and alignment of a complete object type.
func (c *Calculator) TypeInfo(t ir.TypeRef) (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.info(t)
	if err != nil {
		return Info{}, err
	}
	return i, nil
}

// FoldEnv returns a constant-folding environment whose sizeof and alignof
// use this calculator.
func (c *Calculator) FoldEnv() ir.FoldEnv {
	env := c.model.FoldEnv()
	env.Layout = func(t ir.TypeRef) (int64, int64, bool) {
		i, err := c.TypeInfo(t)
		return i.Size, i.Align, err == nil
	}
	return env
}

func (c *Calculator) info(t ir.TypeRef) (Info, *LayoutError) {
	t = c.mod.Underlying(t)
	name := ir.CanonicalType(t)
	switch t.Kind {
	case ir.TypePrimitive:
		i, ok := c.model.Primitive(t.Name)
		if !ok {
			return Info{}, unsupported(name, "%s has no object layout", t.Name)
		}
		return i, nil
	case ir.TypePointer, ir.TypeReference, ir.TypeRValueRef:
		return c.model.Pointer(), nil
	case ir.TypeMemberPointer:
		p := c.model.Pointer()
		if t.Elem.Kind == ir.TypeFunction {
			return Info{Size: 2 * p.Size, Align: p.Align}, nil
		}
		return p, nil
	case ir.TypeArray:
		if t.Len == nil {
			return Info{}, unsupported(name, "array of unknown bound")
		}
		if !t.Len.IsLit() {
			return Info{}, unsupported(name, "array bound %s is not a constant", ir.CanonicalExpr(t.Len))
		}
		elem, err := c.info(*t.Elem)
		if err != nil {
			return Info{}, err
		}
		return Info{Size: elem.Size * t.Len.Value, Align: elem.Align}, nil
	case ir.TypeParamRef:
		return Info{}, unsupported(name, "dependent type")
	case ir.TypeFunction:
		return Info{}, unsupported(name, "function types have no object layout")
	}

	d := c.mod.DeclOf(t)
	if d == nil {
		if t.Kind == ir.TypeInstance {
			if t.IsDependent() {
				return Info{}, unsupported(name, "dependent type")
			}
			err := unsupported(name, "template instance is not materialized")
			err.Missing = t.Key
			if err.Missing == "" {
				err.Missing = ir.KeyFor(t.Path, t.Args)
			}
			return Info{}, err
		}
		return Info{}, unsupported(name, "unknown type")
	}
	switch d.Kind {
	case ir.KindEnum:
		u := d.Enum.Underlying
		if u.Kind == "" {
			u = ir.Prim("int")
		}
		return c.info(u)
	case ir.KindClass:
		l, err := c.layout(d)
		if err != nil {
			return Info{}, err
		}
		return Info{Size: l.Size, Align: l.Align}, nil
	}
	return Info{}, unsupported(name, "%s is a %s, not a type", d.Path, d.Kind)
}

func (c *Calculator) layout(d *ir.Decl) (*Layout, *LayoutError) {
	key := d.Path.String()
	if l, ok := c.cache[key]; ok {
		return l, nil
	}
	if err, ok := c.errs[key]; ok {
		return nil, err
	}
	if c.busy[key] {
		return nil, unsupported(key, "class contains itself by value")
	}
	c.busy[key] = true
	l, err := c.compute(d)
	delete(c.busy, key)
	if err != nil {
		c.errs[key] = err
		return nil, err
	}
	c.cache[key] = l
	return l, nil
}

func (c *Calculator) compute(d *ir.Decl) (*Layout, *LayoutError) {
	path := d.Path.String()
	switch {
	case d.Kind != ir.KindClass || d.Class == nil:
		return nil, unsupported(path, "%s is not a class", d.Kind)
	case d.Opaque:
		return nil, &LayoutError{Path: path, Code: diag.CodeOpaqueByValue, Message: "incomplete class used by value"}
	}
	cls := d.Class
	for _, f := range cls.Fields {
		if f.BitWidth > 0 {
			return nil, unsupported(path, "bit-field %s", f.Name)
		}
	}
	if cls.IsUnion() {
		return c.union(d)
	}

	r := &recordBuilder{calc: c, path: path, align: 1, occupied: make(map[int64][]string)}
	l := &Layout{}
	bases := make([]*Layout, len(cls.Bases))
	baseDecls := make([]*ir.Decl, len(cls.Bases))
	for i, b := range cls.Bases {
		if b.Virtual {
			return nil, unsupported(path, "virtual base %s", ir.CanonicalType(b.Type))
		}
		bd := c.mod.DeclOf(b.Type)
		if bd == nil || bd.Kind != ir.KindClass {
			err := unsupported(path, "base %s is not a class", ir.CanonicalType(b.Type))
			if t := c.mod.Underlying(b.Type); bd == nil && t.Kind == ir.TypeInstance && !t.IsDependent() {
				err.Message = fmt.Sprintf("base %s is not materialized", ir.CanonicalType(b.Type))
				err.Missing = t.Key
				if err.Missing == "" {
					err.Missing = ir.KeyFor(t.Path, t.Args)
				}
			}
			return nil, err
		}
		bl, err := c.layout(bd)
		if err != nil {
			return nil, err
		}
		bases[i], baseDecls[i] = bl, bd
		if bl.Dynamic {
			l.Dynamic = true
		}
	}
	if cls.HasVirtual() {
		l.Dynamic = true
	}

	primary := -1
	for i, bl := range bases {
		if bl.Dynamic {
			primary = i
			break
		}
	}
	if l.Dynamic && primary < 0 {
		ptr := c.model.Pointer()
		l.OwnVptr = true
		r.dsize, r.size, r.align = ptr.Size, ptr.Size, ptr.Align
	}

	place := func(i int) {
		bl, bd := bases[i], baseDecls[i]
		var off int64
		switch {
		case i == primary:
			off = 0
		case bl.Empty:
			off = r.placeEmpty(bd, bl)
		default:
			off = r.placeBase(bd, bl)
		}
		l.Bases = append(l.Bases, BaseLayout{
			Path: bd.Path, Offset: off, Size: bl.NVSize, Primary: i == primary, Empty: bl.Empty,
		})
	}
	if primary >= 0 {
		place(primary)
		r.dsize, r.size = bases[primary].NVSize, bases[primary].NVSize
		r.align = max(r.align, bases[primary].Align)
		r.record(baseDecls[primary], 0)
	}
	for i := range bases {
		if i != primary {
			place(i)
		}
	}
	// Bases were appended primary first; report them in declaration order.
	if primary > 0 {
		reordered := make([]BaseLayout, 0, len(l.Bases))
		reordered = append(reordered, l.Bases[1:primary+1]...)
		reordered = append(reordered, l.Bases[0])
		reordered = append(reordered, l.Bases[primary+1:]...)
		l.Bases = reordered
	}

	l.Fields = make([]FieldLayout, 0, len(cls.Fields))
	for _, f := range cls.Fields {
		fi, err := c.info(f.Type)
		if err != nil {
			if err.Path != path {
				err = &LayoutError{Path: path, Code: err.Code, Message: fmt.Sprintf("field %s: %s: %s", f.Name, err.Path, err.Message), Missing: err.Missing}
			}
			return nil, err
		}
		align := max(fi.Align, f.Align)
		off := AlignTo(r.dsize, align)
		if fd := c.classOf(f.Type); fd != nil {
			off = r.clear(fd, off, align)
			r.record(fd, off)
		}
		l.Fields = append(l.Fields, FieldLayout{Name: f.Name, Offset: off, Size: fi.Size, Align: align})
		r.dsize = off + fi.Size
		r.size = max(r.size, r.dsize)
		r.align = max(r.align, align)
	}

	l.Empty = !l.Dynamic && len(cls.Fields) == 0
	for _, bl := range bases {
		l.Empty = l.Empty && bl.Empty
	}
	l.Align = max(r.align, cls.Align)
	l.DSize = r.dsize
	l.Size = AlignTo(max(r.size, r.dsize), l.Align)
	if l.Size == 0 {
		l.Size = 1
	}
	l.POD = c.isPOD(d, l)
	switch {
	case l.Empty:
		l.NVSize = 0
	case l.POD:
		l.NVSize = l.Size
	default:
		l.NVSize = l.DSize
	}
	return l, nil
}

func (c *Calculator) union(d *ir.Decl) (*Layout, *LayoutError) {
	path := d.Path.String()
	l := &Layout{Align: 1, Fields: make([]FieldLayout, 0, len(d.Class.Fields))}
	for _, f := range d.Class.Fields {
		fi, err := c.info(f.Type)
		if err != nil {
			return nil, &LayoutError{Path: path, Code: err.Code, Message: fmt.Sprintf("field %s: %s", f.Name, err.Message), Missing: err.Missing}
		}
		align := max(fi.Align, f.Align)
		l.Fields = append(l.Fields, FieldLayout{Name: f.Name, Size: fi.Size, Align: align})
		l.Size = max(l.Size, fi.Size)
		l.Align = max(l.Align, align)
	}
	l.Align = max(l.Align, d.Class.Align)
	l.Size = AlignTo(l.Size, l.Align)
	if l.Size == 0 {
		l.Size = 1
	}
	l.DSize, l.NVSize = l.Size, l.Size
	l.POD = c.isPOD(d, l)
	return l, nil
}

// classOf returns the class declaration of a by-value class type, looking
// through arrays.
func (c *Calculator) classOf(t ir.TypeRef) *ir.Decl {
	t = c.mod.Underlying(t)
	for t.Kind == ir.TypeArray {
		t = c.mod.Underlying(*t.Elem)
	}
	d := c.mod.DeclOf(t)
	if d == nil || d.Kind != ir.KindClass {
		return nil
	}
	return d
}

// isPOD applies the C++03 POD definition the ABI uses to decide whether
// tail padding may be reused.
func (c *Calculator) isPOD(d *ir.Decl, l *Layout) bool {
	cls := d.Class
	if l.Dynamic || len(cls.Bases) > 0 || cls.HasUserSpecial() {
		return false
	}
	for _, f := range cls.Fields {
		if f.Access == ir.AccessPrivate || f.Access == ir.AccessProtected {
			return false
		}
		t := c.mod.Underlying(f.Type)
		if t.Kind == ir.TypeReference || t.Kind == ir.TypeRValueRef {
			return false
		}
		if fd := c.classOf(f.Type); fd != nil {
			fl, ok := c.cache[fd.Path.String()]
			if !ok || !fl.POD {
				return false
			}
		}
	}
	return true
}

// recordBuilder tracks the allocation state of one class. occupied maps an
// offset to the class subobjects starting there, for the rule that two
// subobjects of the same type never share an address.
type recordBuilder struct {
	calc     *Calculator
	path     string
	dsize    int64
	size     int64
	align    int64
	occupied map[int64][]string
}

// record registers d and its base subobjects at off.
func (r *recordBuilder) record(d *ir.Decl, off int64) {
	r.occupied[off] = append(r.occupied[off], d.Path.String())
	l := r.calc.cache[d.Path.String()]
	if l == nil {
		return
	}
	for _, b := range l.Bases {
		if bd := r.calc.mod.Lookup(b.Path); bd != nil {
			r.record(bd, off+b.Offset)
		}
	}
}

func (r *recordBuilder) conflicts(d *ir.Decl, off int64) bool {
	key := d.Path.String()
	for _, p := range r.occupied[off] {
		if p == key {
			return true
		}
	}
	l := r.calc.cache[key]
	if l == nil {
		return false
	}
	for _, b := range l.Bases {
		if bd := r.calc.mod.Lookup(b.Path); bd != nil && r.conflicts(bd, off+b.Offset) {
			return true
		}
	}
	return false
}

// clear moves off forward by align until d no longer collides with a
// subobject of the same type.
func (r *recordBuilder) clear(d *ir.Decl, off, align int64) int64 {
	for r.conflicts(d, off) {
		off += max(align, 1)
	}
	return off
}

func (r *recordBuilder) placeEmpty(d *ir.Decl, l *Layout) int64 {
	off := int64(0)
	if r.conflicts(d, off) {
		off = r.clear(d, AlignTo(r.dsize, l.Align), l.Align)
	}
	r.record(d, off)
	r.size = max(r.size, off+l.Size)
	r.align = max(r.align, l.Align)
	return off
}

func (r *recordBuilder) placeBase(d *ir.Decl, l *Layout) int64 {
	off := r.clear(d, AlignTo(r.dsize, l.Align), l.Align)
	r.record(d, off)
	r.dsize = off + l.NVSize
	r.size = max(r.size, off+l.Size)
	r.align = max(r.align, l.Align)
	return off
}
