package instantiate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/compiler"
	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/ir"
)

// Options configures an Engine.
type Options struct {
	// DataModel sizes the types used in sizeof and alignof. Defaults to
	// LP64.
	DataModel *abi.DataModel

	// MaxDepth bounds chains of nested requests. Defaults to
	// DefaultMaxDepth.
	MaxDepth int

	// Jobs bounds the materializations running at once. Defaults to
	// GOMAXPROCS.
	Jobs int

	Logger *slog.Logger
}

// pending is one instantiation request in flight.
type pending struct {
	ref      ir.TypeRef
	key      ir.InstanceKey // as requested; normalized once processed
	loc      ir.Location
	from     string
	sig      *ir.FuncSig
	explicit bool
	depth    int
	tries    int
	chain    []ir.InstanceKey
}

// outcome is the processed form of a pending request.
type outcome struct {
	p    pending
	key  ir.InstanceKey // normalized, empty if normalization failed
	res  *result
	reqs []pending // found while normalizing the arguments
}

// Engine drains the instantiation requests of one module.
type Engine struct {
	mod   *ir.Module
	model *abi.DataModel
	log   *slog.Logger
	jobs  int
	quota *DepthQuota
	cache *Cache

	// calc sizes types for the wave in progress.
	calc atomic.Pointer[abi.Calculator]

	mu       sync.RWMutex
	next     int
	seen     map[ir.InstanceKey]bool
	keys     map[ir.InstanceKey]ir.InstanceKey
	first    map[ir.InstanceKey]pending
	aliases  map[ir.InstanceKey]ir.TypeRef
	contains map[ir.InstanceKey][]ir.InstanceKey
	failures map[ir.InstanceKey]*Failure
	reported map[string]bool
}

// New returns an engine over mod.
func New(mod *ir.Module, opts Options) *Engine {
	if opts.DataModel == nil {
		opts.DataModel = abi.LP64()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Jobs <= 0 {
		opts.Jobs = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		mod:      mod,
		model:    opts.DataModel,
		log:      opts.Logger,
		jobs:     opts.Jobs,
		quota:    NewDepthQuota(opts.MaxDepth),
		cache:    NewCache(),
		seen:     make(map[ir.InstanceKey]bool),
		keys:     make(map[ir.InstanceKey]ir.InstanceKey),
		first:    make(map[ir.InstanceKey]pending),
		aliases:  make(map[ir.InstanceKey]ir.TypeRef),
		contains: make(map[ir.InstanceKey][]ir.InstanceKey),
		failures: make(map[ir.InstanceKey]*Failure),
		reported: make(map[string]bool),
	}
}

// Cache returns the engine's instance cache.
func (e *Engine) Cache() *Cache { return e.cache }

// Run processes every request queued on the module since the previous run,
// and transitively the requests they produce. It returns the diagnostics
// of the run: failed instances, containment cycles and declarations left
// referring to an instance that does not exist.
func (e *Engine) Run(ctx context.Context) []diag.Diagnostic {
	reqs := e.mod.Requests()
	e.mu.Lock()
	start := e.next
	e.next = len(reqs)
	e.mu.Unlock()

	queue := make([]pending, 0, len(reqs)-start)
	for _, r := range reqs[start:] {
		key := r.Key
		if key == "" {
			key = ir.KeyFor(r.Ref.Path, r.Ref.Args)
		}
		queue = append(queue, pending{
			ref:      r.Ref,
			key:      key,
			loc:      r.Loc,
			from:     r.From,
			sig:      r.Signature,
			explicit: r.Explicit,
		})
	}

	for wave := 0; ; wave++ {
		queue = e.admit(queue)
		if len(queue) == 0 {
			break
		}
		e.log.Debug("instantiation wave", "wave", wave, "requests", len(queue))
		outs, err := e.wave(ctx, queue)
		queue = e.publish(outs)
		if err != nil {
			e.log.Warn("instantiation stopped", "wave", wave, "pending", len(queue), "error", err)
			break
		}
	}

	ds := e.finish()
	diag.Sort(ds)
	hits, misses := e.cache.Stats()
	e.log.Info("instantiation complete",
		"instances", len(e.mod.Instances()),
		"failed", len(e.Failures()),
		"cache_hits", hits,
		"cache_misses", misses)
	return ds
}

// Instantiate requests ref, drains the queue and returns the declaration
// materialized for it.
func (e *Engine) Instantiate(ctx context.Context, ref ir.TypeRef) (*ir.Decl, error) {
	raw := ir.KeyFor(ref.Path, ref.Args)
	e.mod.Request(ir.Request{Ref: ref, Key: raw, Explicit: true})
	e.Run(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	key, ok := e.keys[raw]
	var f *Failure
	if ok {
		f = e.failures[key]
	} else {
		f = e.failures[raw]
	}
	e.mu.RUnlock()
	if f != nil {
		return nil, f
	}
	if !ok {
		return nil, fmt.Errorf("%s was not instantiated", raw)
	}
	d, found := e.mod.Instance(key)
	if !found {
		return nil, fmt.Errorf("%s does not name a class or function", key)
	}
	return d, nil
}

// Key returns the normalized key a requested key resolved to.
func (e *Engine) Key(requested ir.InstanceKey) (ir.InstanceKey, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	k, ok := e.keys[requested]
	return k, ok
}

// Failures returns the failed keys with their reasons, sorted by key.
func (e *Engine) Failures() []*Failure {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Failure, 0, len(e.failures))
	for _, f := range e.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (e *Engine) failure(key ir.InstanceKey) *Failure {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.failures[key]
}

func (e *Engine) canonicalKey(key ir.InstanceKey) ir.InstanceKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if k, ok := e.keys[key]; ok {
		return k
	}
	return key
}

// template returns the template declared at p.
func (e *Engine) template(p ir.Path) *ir.Decl {
	for _, d := range e.mod.LookupAll(p) {
		if d.Kind == ir.KindTemplate && d.Template != nil && d.Template.Body != nil {
			return d
		}
	}
	return nil
}

// admit drops requests for keys already handled and enforces the depth
// quota. Requests from the headers always pass so that repeated uses reach
// the cache.
func (e *Engine) admit(queue []pending) []pending {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := queue[:0]
	for _, p := range queue {
		if p.tries == 0 && p.depth > 0 {
			if e.seen[p.key] {
				continue
			}
			e.seen[p.key] = true
		}
		if err := e.quota.Check(p.key, p.depth); err != nil {
			var de *DepthExceededError
			if errors.As(err, &de) {
				e.failLocked(p.key, de.Failure(), p)
			}
			continue
		}
		out = append(out, p)
	}
	return out
}

// wave materializes queue concurrently.
func (e *Engine) wave(ctx context.Context, queue []pending) ([]outcome, error) {
	e.calc.Store(abi.NewCalculator(e.mod, e.model))
	outs := make([]outcome, len(queue))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.jobs)
	for i := range queue {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outs[i] = e.process(queue[i])
			return nil
		})
	}
	return outs, g.Wait()
}

func (e *Engine) process(p pending) outcome {
	o := outcome{p: p}
	tmpl := e.template(p.ref.Path)
	if tmpl == nil {
		o.res = &result{err: failf(diag.InstantiationFailed, diag.CodeNoTemplate, "%s is not a template", p.ref.Path)}
		return o
	}

	s := e.newSubst(p)
	given := make([]ir.TemplateArg, len(p.ref.Args))
	for i, a := range p.ref.Args {
		given[i] = s.arg(a)
	}
	args := given
	if tmpl.Template.IsFunction() && p.sig != nil && !s.failed() {
		args = s.deduce(tmpl, given, p.sig.Params, &p.sig.Result)
	}
	if !s.failed() {
		args = s.normalizeArgs(tmpl, args)
	}
	if s.failed() || len(s.out.missing) > 0 {
		o.res = s.result(&result{})
		return o
	}
	o.reqs = s.out.reqs

	key := ir.KeyFor(tmpl.Path, args)
	o.key = key
	o.res = e.cache.do(key, func() *result {
		return e.materialize(tmpl, args, key, p)
	})
	if d := o.res.decl; d != nil && d.Func != nil && p.sig != nil {
		if f := s.verify(d, p.sig); f != nil {
			f.Key = key
			o.res = &result{err: f}
		}
	}
	return o
}

// materialize builds the instance of tmpl for normalized args.
func (e *Engine) materialize(tmpl *ir.Decl, args []ir.TemplateArg, key ir.InstanceKey, p pending) *result {
	info := tmpl.Template
	s := e.newSubst(p)
	s.own, s.by = key, string(key)

	switch {
	case info.IsAlias():
		s.args = args
		s.chain = append(append([]ir.InstanceKey(nil), p.chain...), key)
		alias := s.typ(*info.Body.Alias, true)
		return s.result(&result{alias: &alias})
	case info.IsFunction():
		return s.result(&result{decl: s.functionInstance(tmpl, args, key)})
	}

	sel, f := s.selectDef(tmpl, args)
	if f != nil {
		s.out.fail(f)
		return s.result(&result{})
	}
	path := tmpl.Path.Parent().Child(ir.InstanceSegment(tmpl.Path, args))
	s.args, s.from, s.to = sel.bound, sel.body.Path, path
	d := s.class(sel.body, path)
	d.Instance = &ir.InstanceInfo{Template: tmpl.Path, Args: args, Key: key, Specialization: sel.index}
	return s.result(&result{decl: d, contains: s.containsOf(d.Class)})
}

// functionInstance builds a function template instance. Its name stays the
// template's; the primary signature is kept as the pattern.
func (s *subst) functionInstance(tmpl *ir.Decl, args []ir.TemplateArg, key ir.InstanceKey) *ir.Decl {
	info := tmpl.Template
	body, index := info.Body, -1
	want := ir.CanonicalArgs(args)
	for i := range info.Specializations {
		sp := &info.Specializations[i]
		if !sp.IsFull() {
			continue
		}
		if pat := s.specPattern(tmpl, sp); pat != nil && ir.CanonicalArgs(pat) == want {
			body, index = sp.Body, i
			break
		}
	}
	if index < 0 {
		s.args = args
	}
	d := s.function(body, tmpl.Path)
	if d == nil {
		s.out.fail(failf(diag.InstantiationFailed, diag.CodeNoTemplate, "%s has no function definition", tmpl.Path))
		return nil
	}
	prim := info.Body.Func
	pattern := &ir.FuncSig{Params: make([]ir.TypeRef, len(prim.Params)), Result: prim.Result}
	for i, p := range prim.Params {
		pattern.Params[i] = p.Type
	}
	d.Name = tmpl.Name
	d.Func.TemplateArgs = args
	d.Func.Pattern = pattern
	d.Instance = &ir.InstanceInfo{Template: tmpl.Path, Args: args, Key: key, Specialization: index}
	return d
}

// publish registers the outcomes of a wave in key order and returns the
// next wave.
func (e *Engine) publish(outs []outcome) []pending {
	sort.SliceStable(outs, func(i, j int) bool {
		if outs[i].key != outs[j].key {
			return outs[i].key < outs[j].key
		}
		return outs[i].p.key < outs[j].p.key
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	var next, later []pending
	for _, o := range outs {
		if o.res == nil {
			continue
		}
		key := o.key
		if key == "" {
			key = o.p.key
		}
		e.keys[o.p.key] = key
		e.keys[key] = key
		if _, ok := e.first[key]; !ok {
			e.first[key] = o.p
		}

		res := o.res
		switch {
		case res.err != nil:
			f := *res.err
			f.Key = key
			e.failLocked(key, &f, o.p)
			continue
		case res.retry:
			if o.p.tries >= e.quota.Max() {
				e.failLocked(key, failf(diag.InstantiationCycle, diag.CodeCycle,
					"constant evaluation never completes; instances wait on each other's size"), o.p)
				continue
			}
			p := o.p
			p.tries++
			later = append(later, p)
		case res.alias != nil:
			e.aliases[key] = *res.alias
		case res.decl != nil:
			if _, added := e.mod.AddInstance(res.decl); added {
				e.contains[key] = res.contains
				e.log.Debug("instance materialized",
					"key", key,
					"specialization", res.decl.Instance.Specialization,
					"depth", o.p.depth,
					"explicit", o.p.explicit)
			}
		}
		next = append(next, o.reqs...)
		next = append(next, res.reqs...)
	}
	return append(next, later...)
}

func (e *Engine) failLocked(key ir.InstanceKey, f *Failure, p pending) {
	if _, ok := e.failures[key]; ok {
		return
	}
	if f.Key == "" {
		f.Key = key
	}
	e.failures[key] = f
	if _, ok := e.first[key]; !ok {
		e.first[key] = p
	}
	e.log.Debug("instance failed", "key", key, "code", f.Code, "error", f.Message)
}

// finish fails containment cycles, propagates failures to the instances
// that contain a failed one by value, withdraws them and canonicalizes the
// module.
func (e *Engine) finish() []diag.Diagnostic {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.failCycles()
	e.propagate()
	for key := range e.failures {
		e.mod.RemoveInstance(key)
	}

	var ds []diag.Diagnostic
	for _, key := range sortedKeys(e.failures) {
		if e.failures[key].Cause != "" || e.reported[string(key)] {
			continue
		}
		e.reported[string(key)] = true
		p := e.first[key]
		ds = append(ds, e.failures[key].Diagnostic(p.loc, p.from))
	}
	e.canonicalize()
	dangling, named := e.dangling()
	ds = append(ds, dangling...)

	// A containment chain is reported once: at its outermost instance, and
	// only when no declaration referring to that instance was reported.
	inner := e.containedFailures()
	for _, key := range sortedKeys(e.failures) {
		f := e.failures[key]
		if f.Cause == "" || inner[key] || named[key] || e.reported[string(key)] {
			continue
		}
		e.reported[string(key)] = true
		p := e.first[key]
		ds = append(ds, f.Diagnostic(p.loc, p.from))
	}
	return ds
}

// containedFailures returns the failed keys that a failed instance contains
// by value.
func (e *Engine) containedFailures() map[ir.InstanceKey]bool {
	inner := make(map[ir.InstanceKey]bool)
	for key, deps := range e.contains {
		if e.failures[key] == nil {
			continue
		}
		for _, dep := range deps {
			if dep != key && e.failures[dep] != nil {
				inner[dep] = true
			}
		}
	}
	return inner
}

func (e *Engine) failCycles() {
	g := compiler.Graph{}
	for _, key := range sortedKeys(e.contains) {
		if e.failures[key] != nil {
			continue
		}
		g.AddNode(string(key))
		for _, dep := range e.contains[key] {
			g.AddEdge(string(key), string(dep))
		}
	}
	members := compiler.CycleMembers(g)
	if len(members) == 0 {
		return
	}
	paths := make(map[string]string)
	for _, w := range compiler.AnalyzeCycles(g) {
		for _, n := range w.Path {
			if _, ok := paths[n]; !ok {
				paths[n] = strings.Join(w.Path, " -> ")
			}
		}
	}
	names := make([]string, 0, len(members))
	for n := range members {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		msg := "contains itself by value"
		if p, ok := paths[n]; ok {
			msg += ": " + p
		}
		key := ir.InstanceKey(n)
		e.failLocked(key, failf(diag.InstantiationCycle, diag.CodeCycle, "%s", msg), e.first[key])
	}
}

func (e *Engine) propagate() {
	keys := sortedKeys(e.contains)
	for changed := true; changed; {
		changed = false
		for _, key := range keys {
			if e.failures[key] != nil {
				continue
			}
			for _, dep := range e.contains[key] {
				df := e.failures[dep]
				if df == nil {
					continue
				}
				cause := dep
				if df.Cause != "" {
					cause = df.Cause
				}
				f := failf(diag.InstantiationFailed, diag.CodeDependent, "contains failed instance %s by value", cause)
				f.Cause = cause
				e.failLocked(key, f, e.first[key])
				changed = true
				break
			}
		}
	}
}

// dangling reports declarations that refer to an instance that is not in
// the module. named holds the missing keys some declaration refers to.
func (e *Engine) dangling() (ds []diag.Diagnostic, named map[ir.InstanceKey]bool) {
	named = make(map[ir.InstanceKey]bool)
	_ = e.mod.Walk(func(d *ir.Decl) error {
		if d.Kind == ir.KindTemplate || d.Kind == ir.KindNamespace {
			return nil
		}
		var missing ir.InstanceKey
		eachType(d, func(t *ir.TypeRef) {
			t.Visit(func(r *ir.TypeRef) {
				if missing != "" || r.Kind != ir.TypeInstance || r.IsDependent() {
					return
				}
				key := r.Key
				if key == "" {
					key = ir.KeyFor(r.Path, r.Args)
				}
				if _, ok := e.mod.Instance(key); !ok {
					missing = key
				}
			})
		})
		if missing == "" {
			return nil
		}
		named[missing] = true
		id := d.ID() + " " + string(missing)
		if e.reported[id] {
			return nil
		}
		e.reported[id] = true
		msg := fmt.Sprintf("refers to %s, which was not instantiated", missing)
		if f := e.failures[missing]; f != nil {
			msg = fmt.Sprintf("refers to failed instance %s", missing)
			if f.Cause != "" {
				msg += ", which " + f.Message
			}
		}
		ds = append(ds, diag.Errorf(diag.InstantiationFailed, diag.CodeDependent, d.ID(), d.Loc, "%s", msg))
		return nil
	})
	return ds, named
}

func sortedKeys[V any](m map[ir.InstanceKey]V) []ir.InstanceKey {
	out := make([]ir.InstanceKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
