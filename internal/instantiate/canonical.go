package instantiate

import (
	"github.com/roach88/cxxada/internal/ir"
)

// Canonicalize rewrites every template-id in the module to the key and
// argument list of the instance it resolved to, and replaces alias template
// uses with their expansion. Run canonicalizes on completion; call this
// after adding declarations to the module by hand.
func (e *Engine) Canonicalize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.canonicalize()
}

func (e *Engine) canonicalize() {
	_ = e.mod.Walk(func(d *ir.Decl) error {
		if d.Kind == ir.KindTemplate {
			return nil
		}
		eachType(d, func(t *ir.TypeRef) {
			t.Visit(e.canonicalRef)
		})
		return nil
	})
}

func (e *Engine) canonicalRef(r *ir.TypeRef) {
	if r.Kind != ir.TypeInstance || r.IsDependent() {
		return
	}
	raw := r.Key
	if raw == "" {
		raw = ir.KeyFor(r.Path, r.Args)
	}
	key, ok := e.keys[raw]
	if !ok {
		return
	}
	if alias, ok := e.aliases[key]; ok {
		*r = qualify(alias, r.Const, r.Volatile)
		return
	}
	if r.Key == key {
		return
	}
	d, ok := e.mod.Instance(key)
	if !ok {
		return
	}
	r.Key = key
	r.Args = append([]ir.TemplateArg(nil), d.Instance.Args...)
}

// eachType calls fn for every type reference a declaration owns directly.
// Members and nested declarations are separate declarations.
func eachType(d *ir.Decl, fn func(*ir.TypeRef)) {
	if c := d.Class; c != nil {
		for i := range c.Bases {
			fn(&c.Bases[i].Type)
		}
		for i := range c.Fields {
			fn(&c.Fields[i].Type)
		}
	}
	if f := d.Func; f != nil {
		fn(&f.Result)
		for i := range f.Params {
			fn(&f.Params[i].Type)
		}
	}
	if d.Alias != nil {
		fn(d.Alias)
	}
	if d.Var != nil {
		fn(&d.Var.Type)
	}
	if d.Enum != nil {
		fn(&d.Enum.Underlying)
	}
}
