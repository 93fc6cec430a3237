package ir

import (
	"sort"
	"sync"
)

// Request is a pending template instantiation discovered during
// construction or substitution.
type Request struct {
	Ref      TypeRef     `json:"ref"` // Kind == TypeInstance
	Key      InstanceKey `json:"key"`
	Loc      Location    `json:"loc"`
	Explicit bool        `json:"explicit,omitempty"`
	From     string      `json:"from,omitempty"` // ID of the requesting declaration

	// Signature is the declared signature of an explicit function template
	// instantiation, used for argument deduction.
	Signature *FuncSig `json:"signature,omitempty"`
}

// Module is the declaration arena of one generation run.
//
// Declarations are indexed by canonical path; overloads share a path.
// Materialized instances are additionally indexed by InstanceKey. All methods
// are safe for concurrent use.
type Module struct {
	mu        sync.RWMutex
	decls     []*Decl
	byPath    map[string][]*Decl
	children  map[string][]*Decl
	instances map[InstanceKey]*Decl
	requests  []Request
}

// NewModule returns an empty module containing only the global namespace.
func NewModule() *Module {
	m := &Module{
		byPath:    make(map[string][]*Decl),
		children:  make(map[string][]*Decl),
		instances: make(map[InstanceKey]*Decl),
	}
	m.byPath[""] = []*Decl{{Kind: KindNamespace, Path: Path{}}}
	return m
}

// Add interns d and returns the declaration now registered at its path.
//
// A forward-declared (opaque) class or template is merged in place with a
// later definition, so earlier pointers to it observe the definition.
// Namespaces are reopened rather than duplicated.
func (m *Module) Add(d *Decl) *Decl {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(d)
}

func (m *Module) addLocked(d *Decl) *Decl {
	key := d.Path.String()
	if existing := m.mergeTarget(key, d); existing != nil {
		if mergeable(existing, d) {
			*existing = *d
			m.registerMembers(existing)
		}
		return existing
	}
	m.byPath[key] = append(m.byPath[key], d)
	parent := d.Path.Parent().String()
	m.children[parent] = append(m.children[parent], d)
	m.decls = append(m.decls, d)
	m.registerMembers(d)
	return d
}

// mergeTarget returns the existing declaration d should merge into, if any.
func (m *Module) mergeTarget(key string, d *Decl) *Decl {
	for _, e := range m.byPath[key] {
		if e.Kind != d.Kind {
			continue
		}
		switch d.Kind {
		case KindNamespace, KindClass, KindTemplate, KindEnum:
			return e
		}
	}
	return nil
}

// mergeable reports whether d should replace the opaque existing decl.
func mergeable(existing, d *Decl) bool {
	switch d.Kind {
	case KindClass, KindEnum:
		return existing.Opaque && !d.Opaque
	case KindTemplate:
		if existing.Template == nil || existing.Template.Body == nil {
			return false
		}
		if d.Template == nil || d.Template.Body == nil {
			return false
		}
		if existing.Template.Body.Opaque && !d.Template.Body.Opaque {
			d.Template.Specializations = append(existing.Template.Specializations, d.Template.Specializations...)
			return true
		}
	}
	return false
}

func (m *Module) registerMembers(d *Decl) {
	if d.Class == nil {
		return
	}
	for _, meth := range d.Class.Methods {
		k := meth.Path.String()
		m.byPath[k] = append(m.byPath[k], meth)
	}
	for _, n := range d.Class.Nested {
		k := n.Path.String()
		m.byPath[k] = append(m.byPath[k], n)
		m.registerMembers(n)
	}
}

// Lookup returns the first declaration registered at p, or nil.
func (m *Module) Lookup(p Path) *Decl {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds := m.byPath[p.String()]
	if len(ds) == 0 {
		return nil
	}
	return ds[0]
}

// LookupAll returns every declaration registered at p (an overload set).
func (m *Module) LookupAll(p Path) []*Decl {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Decl(nil), m.byPath[p.String()]...)
}

// Children returns the namespace-scope declarations directly inside p, in
// declaration order. Class members are reached through ClassInfo.
func (m *Module) Children(p Path) []*Decl {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Decl(nil), m.children[p.String()]...)
}

// Namespaces returns every namespace path, including the global namespace,
// sorted by qualified name.
func (m *Module) Namespaces() []Path {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Path{{}}
	for _, d := range m.decls {
		if d.Kind == KindNamespace {
			out = append(out, d.Path)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Request queues a template instantiation request.
func (m *Module) Request(r Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Key == "" {
		r.Key = KeyFor(r.Ref.Path, r.Ref.Args)
	}
	m.requests = append(m.requests, r)
}

// Requests returns a snapshot of all queued requests in discovery order.
func (m *Module) Requests() []Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Request(nil), m.requests...)
}

// AddInstance registers a materialized instance under its key. If the key is
// already present the existing declaration is returned with added == false.
func (m *Module) AddInstance(d *Decl) (registered *Decl, added bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := d.Instance.Key
	if existing, ok := m.instances[key]; ok {
		return existing, false
	}
	m.instances[key] = d
	if d.Kind == KindFunction {
		// Function instances are overloads of their template's name.
		k := d.Path.String()
		m.byPath[k] = append(m.byPath[k], d)
		parent := d.Path.Parent().String()
		m.children[parent] = append(m.children[parent], d)
		m.decls = append(m.decls, d)
		return d, true
	}
	m.addLocked(d)
	return d, true
}

// RemoveInstance withdraws a materialized instance, together with its
// registered members. It reports whether key was present.
func (m *Module) RemoveInstance(key InstanceKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.instances[key]
	if !ok {
		return false
	}
	delete(m.instances, key)
	m.decls = without(m.decls, d)
	parent := d.Path.Parent().String()
	m.children[parent] = without(m.children[parent], d)
	m.unregister(d)
	return true
}

func (m *Module) unregister(d *Decl) {
	k := d.Path.String()
	if rest := without(m.byPath[k], d); len(rest) > 0 {
		m.byPath[k] = rest
	} else {
		delete(m.byPath, k)
	}
	if d.Class == nil {
		return
	}
	for _, meth := range d.Class.Methods {
		m.unregister(meth)
	}
	for _, n := range d.Class.Nested {
		m.unregister(n)
	}
}

func without(ds []*Decl, d *Decl) []*Decl {
	out := ds[:0:0]
	for _, x := range ds {
		if x != d {
			out = append(out, x)
		}
	}
	return out
}

// Instance returns the materialized declaration for key.
func (m *Module) Instance(key InstanceKey) (*Decl, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.instances[key]
	return d, ok
}

// Instances returns all materialized instances sorted by key.
func (m *Module) Instances() []*Decl {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.instances))
	for k := range m.instances {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	out := make([]*Decl, len(keys))
	for i, k := range keys {
		out[i] = m.instances[InstanceKey(k)]
	}
	return out
}

// Walk calls fn for every concrete declaration in declaration order,
// descending into class members and nested classes. Template definitions are
// visited but not their bodies. Walk stops at the first error.
func (m *Module) Walk(fn func(*Decl) error) error {
	m.mu.RLock()
	decls := append([]*Decl(nil), m.decls...)
	m.mu.RUnlock()
	for _, d := range decls {
		if err := walkDecl(d, fn); err != nil {
			return err
		}
	}
	return nil
}

func walkDecl(d *Decl, fn func(*Decl) error) error {
	if err := fn(d); err != nil {
		return err
	}
	if d.Class == nil {
		return nil
	}
	for _, n := range d.Class.Nested {
		if err := walkDecl(n, fn); err != nil {
			return err
		}
	}
	for _, meth := range d.Class.Methods {
		if err := fn(meth); err != nil {
			return err
		}
	}
	return nil
}

// Underlying strips typedefs from t, accumulating their cv-qualifiers.
func (m *Module) Underlying(t TypeRef) TypeRef {
	for i := 0; i < 64 && t.Kind == TypeNamed; i++ {
		d := m.Lookup(t.Path)
		if d == nil || d.Kind != KindTypedef || d.Alias == nil {
			break
		}
		t = d.Alias.Qualified(t.Const, t.Volatile)
	}
	return t
}

// DeclOf returns the class, enum or instance declaration t refers to after
// typedef resolution, or nil.
func (m *Module) DeclOf(t TypeRef) *Decl {
	t = m.Underlying(t)
	switch t.Kind {
	case TypeNamed:
		return m.Lookup(t.Path)
	case TypeInstance:
		key := t.Key
		if key == "" {
			key = KeyFor(t.Path, t.Args)
		}
		d, _ := m.Instance(key)
		return d
	}
	return nil
}
