package resource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Graph.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PathSeparator joins resource names into a location path.
const PathSeparator = "/"

// Default tuning values.
const (
	DefaultMaxReferenceDepth = 32
	DefaultPersistTimeout    = 5 * time.Second
)

// Options configures a Graph. The zero value is an in-memory graph.
type Options struct {
	// Repository persists real resources. Nil keeps the graph in memory only.
	Repository Repository

	// Gate is consulted before administrative operations. Nil allows everything.
	Gate Gate

	// MaxReferenceDepth bounds reference chains and alias walks.
	MaxReferenceDepth int

	// PersistTimeout bounds each repository call made by a mutation.
	PersistTimeout time.Duration
}

// node is a real resource.
type node struct {
	id        int64
	name      string
	typ       *Type
	parent    *node
	children  map[string]*node
	order     []*node
	value     any
	active    bool
	decorator bool
	owner     string
	modified  time.Time

	target    *node   // non-nil for reference nodes
	referrers []*node // reference nodes targeting this node

	claims   []claim
	claimSeq uint64

	handle *Handle
}

func (n *node) path() string { return n.handle.path }

func (n *node) removeChild(c *node) {
	if n.children[c.name] == c {
		delete(n.children, c.name)
	}
	for i, cur := range n.order {
		if cur == c {
			n.order = append(n.order[:i:i], n.order[i+1:]...)
			return
		}
	}
}

func (n *node) removeReferrer(r *node) {
	for i, cur := range n.referrers {
		if cur == r {
			n.referrers = append(n.referrers[:i:i], n.referrers[i+1:]...)
			return
		}
	}
}

// Graph is the resource graph: the store of real resources together with the
// overlay of virtual placeholders, references and listeners.
//
// All public methods are thread-safe. Listener callbacks run on the goroutine
// that made the change, after the graph lock is released and before the
// mutating call returns, so callbacks may use the graph freely.
type Graph struct {
	types          *Types
	repo           Repository
	gate           Gate
	logger         Logger
	maxRefDepth    int
	persistTimeout time.Duration
	now            func() time.Time

	mu            sync.RWMutex
	nextID        int64
	nodes         []*node // creation order
	byID          map[int64]*node
	top           []*node
	handles       map[string]*Handle // canonical handle per location path
	typeListeners []*typeEntry
	observers     []*observerEntry
	listenerCount int
}

// NewGraph creates an empty graph over the given type registry.
func NewGraph(types *Types, opts Options) *Graph {
	if types == nil {
		types = NewTypes()
	}
	if opts.MaxReferenceDepth <= 0 {
		opts.MaxReferenceDepth = DefaultMaxReferenceDepth
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	return &Graph{
		types:          types,
		repo:           opts.Repository,
		gate:           opts.Gate,
		logger:         noopLogger{},
		maxRefDepth:    opts.MaxReferenceDepth,
		persistTimeout: opts.PersistTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		byID:           make(map[int64]*node),
		handles:        make(map[string]*Handle),
	}
}

// SetLogger sets the logger for the graph.
func (g *Graph) SetLogger(logger Logger) {
	g.logger = logger
}

// SetGate replaces the permission gate. Nil allows everything.
func (g *Graph) SetGate(gate Gate) {
	g.mu.Lock()
	g.gate = gate
	g.mu.Unlock()
}

// Types returns the type registry the graph was created with.
func (g *Graph) Types() *Types {
	return g.types
}

// Stats is a point-in-time summary of the graph.
type Stats struct {
	Nodes      int `json:"nodes"`
	TopLevel   int `json:"top_level"`
	References int `json:"references"`
	Active     int `json:"active"`
	Handles    int `json:"handles"`
	Listeners  int `json:"listeners"`
}

// Stats returns counters describing the graph.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Stats{
		Nodes:     len(g.nodes),
		TopLevel:  len(g.top),
		Handles:   len(g.handles),
		Listeners: g.listenerCount,
	}
	for _, n := range g.nodes {
		if n.target != nil {
			s.References++
		}
		if n.active {
			s.Active++
		}
	}
	return s
}

// TopLevel returns the handle of the real top-level resource called name.
func (g *Graph) TopLevel(name string) (*Handle, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.top {
		if n.name == name {
			return n.handle, nil
		}
	}
	return nil, opError("lookup", name, ErrNotFound)
}

// TopLevels returns all top-level resources in creation order.
func (g *Graph) TopLevels() []*Handle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Handle, 0, len(g.top))
	for _, n := range g.top {
		out = append(out, n.handle)
	}
	return out
}

// Lookup navigates a location path such as "thermostat/temperatureSensor/reading".
// Optional members that do not exist yet resolve to virtual handles.
func (g *Graph) Lookup(path string) (*Handle, error) {
	names := strings.Split(strings.Trim(path, PathSeparator), PathSeparator)
	h, err := g.TopLevel(names[0])
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, name := range names[1:] {
		if h, err = g.childLocked(h, name, nil); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// ResourcesOfType returns all real, non-reference resources whose type is
// assignable to t, in creation order.
func (g *Graph) ResourcesOfType(t *Type) []*Handle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ofTypeLocked(t)
}

func (g *Graph) ofTypeLocked(t *Type) []*Handle {
	var out []*Handle
	for _, n := range g.nodes {
		if n.target == nil && n.typ.AssignableTo(t) {
			out = append(out, n.handle)
		}
	}
	return out
}

// handleLocked returns the canonical handle for name under parent, creating
// an empty virtual one if none is indexed yet.
//
// Handles are never removed from the index, including those of deleted
// decorators and top-level resources, so a held handle and its listeners
// stay canonical if the path is recreated. The index therefore grows with
// the number of distinct paths ever navigated, which the schema bounds for
// member slots; only decorator and top-level names add to it freely.
func (g *Graph) handleLocked(parent *Handle, name string) *Handle {
	path := name
	if parent != nil {
		path = parent.path + PathSeparator + name
	}
	if h, ok := g.handles[path]; ok {
		return h
	}
	h := &Handle{g: g, path: path, name: name, parent: parent}
	g.handles[path] = h
	return h
}

// resolveLocked follows references from h and returns the real resource
// that carries its state, or nil when h is virtual.
func (g *Graph) resolveLocked(h *Handle) *node {
	n := h.node
	for depth := 0; n != nil && n.target != nil; depth++ {
		if depth >= g.maxRefDepth {
			g.logger.Warn("reference chain exceeds depth limit", "path", h.path, "limit", g.maxRefDepth)
			return nil
		}
		n = n.target
	}
	return n
}

// baseLocked returns the handle navigation continues from: the handle of the
// referenced resource for references, h itself otherwise.
func (g *Graph) baseLocked(h *Handle) *Handle {
	if n := g.resolveLocked(h); n != nil {
		return n.handle
	}
	return h
}

// aliasesLocked returns h together with the handles of every reference that
// reaches h's resource, directly or through other references.
func (g *Graph) aliasesLocked(h *Handle) []*Handle {
	out := []*Handle{h}
	if h.node == nil || len(h.node.referrers) == 0 {
		return out
	}
	seen := map[*node]bool{h.node: true}
	frontier := []*node{h.node}
	for depth := 0; len(frontier) > 0 && depth < g.maxRefDepth; depth++ {
		var next []*node
		for _, n := range frontier {
			for _, r := range n.referrers {
				if !seen[r] {
					seen[r] = true
					out = append(out, r.handle)
					next = append(next, r)
				}
			}
		}
		frontier = next
	}
	return out
}

// childLocked implements Child and Decorator. A non-nil dtype requests a
// decorator slot of that type when the name is not a declared member.
func (g *Graph) childLocked(h *Handle, name string, dtype *Type) (*Handle, error) {
	if !IsValidName(name) {
		return nil, opError("child", h.path+PathSeparator+name, ErrInvalidName)
	}
	if h.detached {
		return nil, opError("child", h.path, ErrNotFound)
	}

	base := g.baseLocked(h)
	if base.node != nil {
		if c, ok := base.node.children[name]; ok {
			if dtype != nil {
				if ct := g.typeLocked(c.handle); !ct.AssignableTo(dtype) {
					return nil, opError("decorate", c.path(), fmt.Errorf("%w: %s is %s", ErrTypeMismatch, name, ct))
				}
			}
			return c.handle, nil
		}
	}

	bt := g.typeLocked(base)
	if bt == nil {
		return nil, opError("child", base.path, ErrNotFound)
	}
	path := base.path + PathSeparator + name

	if mt, declared := bt.Member(name); declared {
		vt := mt
		if dtype != nil {
			if !dtype.AssignableTo(mt) {
				return nil, opError("decorate", path, fmt.Errorf("%w: member %s is %s", ErrTypeMismatch, name, mt))
			}
			vt = dtype
		}
		c := g.handleLocked(base, name)
		c.vtype = vt
		c.decorator = false
		c.detached = false
		return c, nil
	}

	if dtype != nil {
		if bt.IsList() && !dtype.AssignableTo(bt.Element()) {
			return nil, opError("decorate", path, fmt.Errorf("%w: list of %s", ErrTypeMismatch, bt.Element()))
		}
		c := g.handleLocked(base, name)
		c.vtype = dtype
		c.decorator = true
		c.detached = false
		return c, nil
	}

	if c, ok := g.handles[path]; ok && c.decorator && !c.detached {
		return c, nil
	}
	return nil, opError("child", path, ErrNotFound)
}

func (g *Graph) typeLocked(h *Handle) *Type {
	if n := g.resolveLocked(h); n != nil {
		return n.typ
	}
	return h.vtype
}

// update runs fn under the write lock and then delivers the callbacks it
// queued. fn must only queue events after the change is committed.
func (g *Graph) update(fn func(b *batch) error) error {
	b := &batch{g: g}
	g.mu.Lock()
	err := fn(b)
	g.mu.Unlock()
	if err != nil {
		return err
	}
	b.flush()
	return nil
}

// persistLocked writes the given changes through to the repository.
func (g *Graph) persistLocked(save []Record, remove []int64) error {
	if g.repo == nil || (len(save) == 0 && len(remove) == 0) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.persistTimeout)
	defer cancel()
	if len(remove) > 0 {
		if err := g.repo.Delete(ctx, remove); err != nil {
			return fmt.Errorf("deleting resources: %w", err)
		}
	}
	if len(save) > 0 {
		if err := g.repo.Save(ctx, save); err != nil {
			return fmt.Errorf("saving resources: %w", err)
		}
	}
	return nil
}

// linkLocked commits a new node into the indexes.
func (g *Graph) linkLocked(n *node) {
	if n.parent != nil {
		n.parent.children[n.name] = n
		n.parent.order = append(n.parent.order, n)
	} else {
		g.top = append(g.top, n)
	}
	if n.target != nil {
		n.target.referrers = append(n.target.referrers, n)
	}
	g.nodes = append(g.nodes, n)
	g.byID[n.id] = n
	n.handle.node = n
	n.handle.detached = false
}

// Load rebuilds the graph from the repository. It must be called on an empty
// graph after all types the stored resources use have been registered.
// No listeners are notified.
func (g *Graph) Load(ctx context.Context) error {
	if g.repo == nil {
		return nil
	}
	records, err := g.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading resources: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.nodes) > 0 {
		return fmt.Errorf("loading resources: graph is not empty")
	}

	// Records are ordered by id, so parents precede their children.
	for _, rec := range records {
		t, ok := g.types.Get(rec.Type)
		if !ok {
			return fmt.Errorf("loading resource %d: %w: unknown type %q", rec.ID, ErrInvalidType, rec.Type)
		}
		var parent *node
		var parentHandle *Handle
		if rec.ParentID != 0 {
			if parent, ok = g.byID[rec.ParentID]; !ok {
				return fmt.Errorf("loading resource %d: %w: parent %d", rec.ID, ErrNotFound, rec.ParentID)
			}
			parentHandle = parent.handle
		}
		value, err := DecodeValue(t, rec.Value)
		if err != nil {
			return fmt.Errorf("loading resource %d: %w", rec.ID, err)
		}
		if rec.TargetID != 0 {
			value = nil
		}
		n := &node{
			id:        rec.ID,
			name:      rec.Name,
			typ:       t,
			parent:    parent,
			children:  make(map[string]*node),
			value:     value,
			active:    rec.Active,
			decorator: rec.Decorator,
			owner:     rec.Owner,
			modified:  rec.Modified,
		}
		h := g.handleLocked(parentHandle, rec.Name)
		h.vtype = t
		h.decorator = rec.Decorator
		n.handle = h
		g.linkLocked(n)
		if rec.ID > g.nextID {
			g.nextID = rec.ID
		}
	}

	// Targets may have been created after their references.
	for _, rec := range records {
		if rec.TargetID == 0 {
			continue
		}
		target, ok := g.byID[rec.TargetID]
		if !ok {
			return fmt.Errorf("loading reference %d: %w: target %d", rec.ID, ErrNotFound, rec.TargetID)
		}
		ref := g.byID[rec.ID]
		ref.target = target
		target.referrers = append(target.referrers, ref)
	}

	g.logger.Info("resource graph loaded", "count", len(records))
	return nil
}
