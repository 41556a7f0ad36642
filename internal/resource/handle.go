package resource

import "time"

// Handle is the single way callers address a resource, whether it is real,
// a virtual placeholder for an optional member or decorator, or a reference.
//
// There is exactly one Handle per location path. Creating or deleting the
// resource behind a handle changes its state in place, so a handle and the
// listeners attached to it stay valid across materialization and deletion.
type Handle struct {
	g      *Graph
	path   string
	name   string
	parent *Handle

	// Guarded by g.mu.
	node      *node // nil while virtual
	vtype     *Type // declared type while virtual
	decorator bool  // virtual decorator slot
	detached  bool  // deleted decorator or top-level slot
	structure []*structureEntry
	values    []*valueEntry
}

// Graph returns the graph the handle belongs to.
func (h *Handle) Graph() *Graph { return h.g }

// Path returns the location path of the slot.
func (h *Handle) Path() string { return h.path }

// Name returns the last path element.
func (h *Handle) Name() string { return h.name }

// Parent returns the parent handle, or nil for top-level resources.
func (h *Handle) Parent() *Handle { return h.parent }

// String implements fmt.Stringer.
func (h *Handle) String() string { return h.path }

// ID returns the store id of the real resource in this slot, or 0 when virtual.
func (h *Handle) ID() int64 {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	if h.node == nil {
		return 0
	}
	return h.node.id
}

// Type returns the resource type. References report the type of their target;
// virtual handles report the declared type of the slot.
func (h *Handle) Type() *Type {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	return h.g.typeLocked(h)
}

// Exists reports whether the slot holds a real resource or reference.
func (h *Handle) Exists() bool {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	return h.node != nil
}

// IsActive reports whether the resource, or the target of a reference, is active.
func (h *Handle) IsActive() bool {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	n := h.g.resolveLocked(h)
	return n != nil && n.active
}

// IsDecorator reports whether the slot lies outside the parent's declared members.
func (h *Handle) IsDecorator() bool {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	if h.node != nil {
		return h.node.decorator
	}
	return h.decorator
}

// IsReference reports whether the slot holds a reference.
func (h *Handle) IsReference() bool {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	return h.node != nil && h.node.target != nil
}

// Owner returns the owner tag of the resource, "" when virtual.
func (h *Handle) Owner() string {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	if n := h.g.resolveLocked(h); n != nil {
		return n.owner
	}
	return ""
}

// Modified returns the time of the last write to the resource.
func (h *Handle) Modified() time.Time {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	if n := h.g.resolveLocked(h); n != nil {
		return n.modified
	}
	return time.Time{}
}

// Location returns the path of the resource that actually carries the state:
// the final target for references, the handle's own path otherwise.
func (h *Handle) Location() string {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	if n := h.g.resolveLocked(h); n != nil {
		return n.path()
	}
	return h.path
}

// Target returns the handle a reference points at directly, or nil.
func (h *Handle) Target() *Handle {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	if h.node == nil || h.node.target == nil {
		return nil
	}
	return h.node.target.handle
}

// Child returns the named sub-resource. Declared members that do not exist
// yet resolve to virtual handles; ErrNotFound is returned only for names
// that are neither real children, declared members nor pending decorators.
// Navigating through a reference continues at the referenced resource.
func (h *Handle) Child(name string) (*Handle, error) {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	return h.g.childLocked(h, name, nil)
}

// Decorator returns the slot for a decorator called name of type t. If a
// real child or declared member with that name exists, it is returned
// provided the types are compatible. Nothing is created until Create.
func (h *Handle) Decorator(name string, t *Type) (*Handle, error) {
	if t == nil {
		return nil, opError("decorate", h.path+PathSeparator+name, ErrInvalidType)
	}
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	return h.g.childLocked(h, name, t)
}

// Children returns the real sub-resources in creation order.
func (h *Handle) Children() []*Handle {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	n := h.g.resolveLocked(h)
	if n == nil {
		return nil
	}
	out := make([]*Handle, 0, len(n.order))
	for _, c := range n.order {
		out = append(out, c.handle)
	}
	return out
}

// Value returns a copy of the payload. Virtual handles return the default
// value for their type.
func (h *Handle) Value() any {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	if n := h.g.resolveLocked(h); n != nil {
		return cloneValue(n.value)
	}
	return zeroValue(h.vtype)
}
