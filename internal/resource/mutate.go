package resource

import (
	"fmt"
	"slices"
)

// AddTopLevel creates a real top-level resource. It fails with
// ErrAlreadyExists if a top-level resource with that name exists.
// The new resource is inactive.
func (g *Graph) AddTopLevel(name string, t *Type, owner string) (*Handle, error) {
	if !IsValidName(name) {
		return nil, opError("add", name, ErrInvalidName)
	}
	if t == nil {
		return nil, opError("add", name, ErrInvalidType)
	}
	var h *Handle
	err := g.update(func(b *batch) error {
		if existing, ok := g.handles[name]; ok && existing.node != nil {
			return opError("add", name, ErrAlreadyExists)
		}
		n := &node{
			id:       g.nextID + 1,
			name:     name,
			typ:      t,
			children: make(map[string]*node),
			value:    zeroValue(t),
			owner:    owner,
			modified: g.now(),
		}
		h = g.handleLocked(nil, name)
		n.handle = h
		rec, err := n.record()
		if err != nil {
			return opError("add", name, err)
		}
		if err := g.persistLocked([]Record{rec}, nil); err != nil {
			return opError("add", name, err)
		}
		g.nextID = n.id
		h.vtype = t
		h.decorator = false
		g.linkLocked(n)
		b.structure(StructureEvent{Kind: EventCreated, Source: h})
		b.added(h, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Create materializes the resource behind a virtual handle, creating any
// virtual ancestors first. Creating an existing resource is a no-op.
func (h *Handle) Create() error {
	return h.CreateAs("")
}

// CreateAs is Create with an owner tag for the new resources. Creating a
// decorator below a resource owned by someone else is subject to the gate.
func (h *Handle) CreateAs(owner string) error {
	if err := h.g.checkDecorate(h, owner); err != nil {
		return err
	}
	return h.g.update(func(b *batch) error {
		_, err := h.g.materializeLocked(b, h, owner, nil)
		return err
	})
}

// checkDecorate asks the gate before owner places a decorator (or a chain
// ending in one) below a real resource owned by a different owner.
func (g *Graph) checkDecorate(h *Handle, owner string) error {
	g.mu.RLock()
	decorates := false
	cur := h
	for cur != nil && cur.node == nil {
		decorates = decorates || cur.decorator
		cur = cur.parent
	}
	needed := decorates && cur != nil && cur.node.owner != "" && cur.node.owner != owner
	g.mu.RUnlock()
	if !needed {
		return nil
	}
	return g.check(OpDecorate, owner, cur)
}

// materializeLocked turns h and its virtual ancestors into real resources.
// With a non-nil target, h becomes a reference to it. It returns the node
// now behind h.
func (g *Graph) materializeLocked(b *batch, h *Handle, owner string, target *node) (*node, error) {
	if h.node != nil {
		return h.node, nil
	}

	var chain []*Handle
	for cur := h; cur.node == nil; cur = cur.parent {
		if cur.detached || cur.parent == nil || cur.vtype == nil {
			return nil, opError("create", cur.path, ErrNotFound)
		}
		chain = append(chain, cur)
	}
	slices.Reverse(chain)

	now := g.now()
	id := g.nextID
	created := make([]*node, 0, len(chain))
	records := make([]Record, 0, len(chain))
	parent := chain[0].parent.node
	if parent.target != nil {
		return nil, opError("create", chain[0].path, fmt.Errorf("%w: parent is a reference", ErrTypeMismatch))
	}
	for _, c := range chain {
		decorator, err := checkSlot(parent.typ, c)
		if err != nil {
			return nil, err
		}
		id++
		n := &node{
			id:        id,
			name:      c.name,
			typ:       c.vtype,
			parent:    parent,
			children:  make(map[string]*node),
			value:     zeroValue(c.vtype),
			decorator: decorator,
			owner:     owner,
			modified:  now,
			handle:    c,
		}
		created = append(created, n)
		parent = n
	}
	last := created[len(created)-1]
	if target != nil {
		last.target = target
		last.value = nil
	}
	for _, n := range created {
		rec, err := n.record()
		if err != nil {
			return nil, opError("create", n.path(), err)
		}
		records = append(records, rec)
	}
	if err := g.persistLocked(records, nil); err != nil {
		return nil, opError("create", h.path, err)
	}

	g.nextID = id
	for _, n := range created {
		n.handle.decorator = n.decorator
		g.linkLocked(n)
	}
	for _, n := range created {
		b.structure(StructureEvent{Kind: EventCreated, Source: n.handle})
		b.structure(StructureEvent{Kind: EventSubResourceAdded, Source: n.parent.handle, Child: n.handle})
		if n.target != nil {
			b.structure(StructureEvent{Kind: EventReferenceAdded, Source: n.target.handle, Child: n.handle})
		} else {
			b.added(n.handle, n.typ)
		}
	}
	return last, nil
}

// checkSlot re-derives the virtual slot c against the current type pt of
// its parent. The slot's type was fixed when it was last navigated to, and
// the parent may have been replaced since. It reports whether c is created
// as a decorator.
func checkSlot(pt *Type, c *Handle) (bool, error) {
	if mt, declared := pt.Member(c.name); declared {
		if !c.vtype.AssignableTo(mt) {
			return false, opError("create", c.path, fmt.Errorf("%w: member %s is %s", ErrTypeMismatch, c.name, mt))
		}
		return false, nil
	}
	if !c.decorator {
		return false, opError("create", c.path, fmt.Errorf("%w: %s declares no member %s", ErrNotFound, pt, c.name))
	}
	if pt.IsList() && !c.vtype.AssignableTo(pt.Element()) {
		return false, opError("create", c.path, fmt.Errorf("%w: list of %s", ErrTypeMismatch, pt.Element()))
	}
	return true, nil
}

// Delete removes the resource behind h together with its sub-resources and
// every reference pointing into the removed subtree. Optional member slots
// become virtual again; decorator and top-level slots disappear. Deleting
// a reference removes only the reference. Deleting a virtual handle is a
// no-op.
func (h *Handle) Delete() error {
	return h.g.update(func(b *batch) error {
		if h.node == nil {
			return nil
		}
		return h.g.deleteLocked(b, h.node)
	})
}

func (g *Graph) deleteLocked(b *batch, root *node) error {
	var doomed []*node
	seen := make(map[*node]bool)
	var collect func(n *node)
	collect = func(n *node) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, c := range n.order {
			collect(c)
		}
		for _, r := range n.referrers {
			collect(r)
		}
		doomed = append(doomed, n)
	}
	collect(root)

	ids := make([]int64, len(doomed))
	for i, n := range doomed {
		ids[i] = n.id
	}
	if err := g.persistLocked(nil, ids); err != nil {
		return opError("delete", root.path(), err)
	}

	for _, n := range doomed {
		if n.parent != nil {
			n.parent.removeChild(n)
		} else {
			g.top = slices.DeleteFunc(g.top, func(cur *node) bool { return cur == n })
		}
		if n.target != nil {
			n.target.removeReferrer(n)
		}
		delete(g.byID, n.id)
		n.claims = nil

		h := n.handle
		h.node = nil
		h.vtype = n.typ
		h.decorator = n.decorator
		h.detached = n.parent == nil || n.decorator
	}
	g.nodes = slices.DeleteFunc(g.nodes, func(n *node) bool { return seen[n] })

	for _, n := range doomed {
		if n.target != nil {
			b.structure(StructureEvent{Kind: EventReferenceRemoved, Source: n.target.handle, Child: n.handle})
		}
		b.structure(StructureEvent{Kind: EventDeleted, Source: n.handle})
		if n.parent != nil {
			b.structure(StructureEvent{Kind: EventSubResourceRemoved, Source: n.parent.handle, Child: n.handle})
		}
		if n.target == nil {
			b.removed(n.handle, n.typ)
		}
	}
	return nil
}

// Activate marks the resource (the target, for references) active. With
// recursive set, real sub-resources are activated too; references inside
// the subtree are not followed. Activating a virtual handle fails with
// ErrNotMaterialized.
func (h *Handle) Activate(recursive bool) error {
	return h.setActive(true, recursive)
}

// Deactivate marks the resource inactive, optionally with its sub-resources.
// Deactivating a virtual handle is a no-op.
func (h *Handle) Deactivate(recursive bool) error {
	return h.setActive(false, recursive)
}

func (h *Handle) setActive(active, recursive bool) error {
	g := h.g
	return g.update(func(b *batch) error {
		n := g.resolveLocked(h)
		if n == nil {
			if !active {
				return nil
			}
			return opError("activate", h.path, ErrNotMaterialized)
		}
		nodes := []*node{n}
		if recursive {
			nodes = subtree(n)
		}
		return g.setActiveLocked(b, nodes, active)
	})
}

// subtree lists n and its real descendants, parents first.
func subtree(n *node) []*node {
	out := []*node{n}
	for i := 0; i < len(out); i++ {
		if out[i].target != nil {
			continue
		}
		out = append(out, out[i].order...)
	}
	return out
}

func (g *Graph) setActiveLocked(b *batch, nodes []*node, active bool) error {
	var changed []*node
	var records []Record
	seen := make(map[*node]bool, len(nodes))
	for _, n := range nodes {
		if n.target != nil || n.active == active || seen[n] {
			continue
		}
		seen[n] = true
		rec, err := n.record()
		if err != nil {
			return opError("activate", n.path(), err)
		}
		rec.Active = active
		changed = append(changed, n)
		records = append(records, rec)
	}
	if len(changed) == 0 {
		return nil
	}
	if err := g.persistLocked(records, nil); err != nil {
		return opError("activate", changed[0].path(), err)
	}
	kind := EventActivated
	if !active {
		kind = EventDeactivated
	}
	for _, n := range changed {
		n.active = active
	}
	for _, n := range changed {
		b.structure(StructureEvent{Kind: kind, Source: n.handle})
	}
	return nil
}

// ActivateAll activates the given resources as one unit on behalf of actor:
// the gate is asked first, then either every handle is activated or, if any
// of them is virtual, none is.
func (g *Graph) ActivateAll(actor string, handles []*Handle) error {
	return g.setActiveAll(OpBulkActivate, actor, handles, true)
}

// DeactivateAll deactivates the given resources as one unit. Virtual handles
// are skipped.
func (g *Graph) DeactivateAll(actor string, handles []*Handle) error {
	return g.setActiveAll(OpBulkDeactivate, actor, handles, false)
}

func (g *Graph) setActiveAll(op Operation, actor string, handles []*Handle, active bool) error {
	for _, h := range handles {
		if err := g.check(op, actor, h); err != nil {
			return err
		}
	}
	return g.update(func(b *batch) error {
		nodes := make([]*node, 0, len(handles))
		for _, h := range handles {
			n := g.resolveLocked(h)
			if n == nil {
				if !active {
					continue
				}
				return opError(string(op), h.path, ErrNotMaterialized)
			}
			nodes = append(nodes, n)
		}
		return g.setActiveLocked(b, nodes, active)
	})
}

// SetValue writes the payload anonymously at the lowest priority.
// Writes to a virtual handle are ignored.
func (h *Handle) SetValue(v any) error {
	return h.SetValueAs(Writer{}, v)
}

// SetValueAs writes the payload on behalf of w. The value is converted to
// the declared kind; ErrTypeMismatch or ErrInvalidValue is returned if that
// is impossible. The write is rejected with ErrAccessDenied when another
// owner holds exclusive access at a priority not below w's.
func (h *Handle) SetValueAs(w Writer, v any) error {
	g := h.g
	return g.update(func(b *batch) error {
		n := g.resolveLocked(h)
		if n == nil {
			return nil
		}
		value, err := coerce(n.typ, v)
		if err != nil {
			return opError("set value", h.path, err)
		}
		if !n.canWrite(w) {
			holder := n.holder()
			return opError("set value", h.path,
				fmt.Errorf("%w: held by %s at %s", ErrAccessDenied, holder.owner, holder.priority))
		}

		rec, err := n.record()
		if err != nil {
			return opError("set value", h.path, err)
		}
		now := g.now()
		if rec.Value, err = EncodeValue(value); err != nil {
			return opError("set value", h.path, err)
		}
		rec.Modified = now
		if err := g.persistLocked([]Record{rec}, nil); err != nil {
			return opError("set value", h.path, err)
		}

		old := n.value
		n.value = value
		n.modified = now
		b.value(ValueEvent{
			Source: n.handle,
			Old:    cloneValue(old),
			New:    cloneValue(value),
			Writer: w.Owner,
			Time:   now,
		})
		return nil
	})
}
