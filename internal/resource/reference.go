package resource

import "fmt"

// SetAsReference makes the slot behind h a reference to target. A virtual
// slot is materialized (with its virtual ancestors) as a reference; an
// existing reference is re-targeted in place, keeping its id, name and
// parent; an existing plain resource is deleted and replaced.
//
// The target must exist and its type must be assignable to the slot's type.
// ErrGraphCycle is returned if the target is an ancestor of the slot or if
// its reference chain leads back to the slot.
func (h *Handle) SetAsReference(target *Handle) error {
	return h.setAsReference(target, "")
}

func (h *Handle) setAsReference(target *Handle, owner string) error {
	if err := h.g.checkDecorate(h, owner); err != nil {
		return err
	}
	g := h.g
	return g.update(func(b *batch) error {
		if target.g != g || target.node == nil {
			return opError("reference", h.path, fmt.Errorf("%w: target %s", ErrNotMaterialized, target.path))
		}
		if h.detached {
			return opError("reference", h.path, ErrNotFound)
		}

		slotType := h.vtype
		if h.node != nil && h.node.target == nil {
			slotType = h.node.typ
		}
		if slotType == nil {
			return opError("reference", h.path, ErrNotFound)
		}
		if tt := g.typeLocked(target); !tt.AssignableTo(slotType) {
			return opError("reference", h.path, fmt.Errorf("%w: %s is not a %s", ErrTypeMismatch, tt, slotType))
		}
		if err := g.checkCycleLocked(h, target.node); err != nil {
			return err
		}

		switch {
		case h.node == nil:
			_, err := g.materializeLocked(b, h, owner, target.node)
			return err
		case h.node.target != nil:
			return g.retargetLocked(b, h.node, target.node)
		default:
			if err := g.deleteLocked(b, h.node); err != nil {
				return err
			}
			h.detached = false
			_, err := g.materializeLocked(b, h, owner, target.node)
			return err
		}
	})
}

// AddReference installs a reference called name below h pointing at target.
// With decorating unset, name must be a declared member of h's type; with
// decorating set, the reference is a decorator typed after the target.
func (h *Handle) AddReference(name string, target *Handle, decorating bool) (*Handle, error) {
	return h.AddReferenceAs(name, target, decorating, "")
}

// AddReferenceAs is AddReference with an owner tag for the new slot.
func (h *Handle) AddReferenceAs(name string, target *Handle, decorating bool, owner string) (*Handle, error) {
	var (
		slot *Handle
		err  error
	)
	if decorating {
		slot, err = h.Decorator(name, target.Type())
	} else {
		slot, err = h.Child(name)
	}
	if err != nil {
		return nil, err
	}
	if err := slot.setAsReference(target, owner); err != nil {
		return nil, err
	}
	return slot, nil
}

// checkCycleLocked rejects a reference from slot to target that would make
// navigation loop. Both walks are bounded.
func (g *Graph) checkCycleLocked(slot *Handle, target *node) error {
	final := target
	for depth := 0; final.target != nil; depth++ {
		if depth >= g.maxRefDepth {
			return opError("reference", slot.path, fmt.Errorf("%w: chain longer than %d", ErrGraphCycle, g.maxRefDepth))
		}
		if final == slot.node {
			return opError("reference", slot.path, ErrGraphCycle)
		}
		final = final.target
	}
	if final == slot.node {
		return opError("reference", slot.path, ErrGraphCycle)
	}

	// Parent handles are always canonical, so this walk is finite; the
	// counter guards against a corrupted index.
	depth := 0
	for p := slot.parent; p != nil; p = p.parent {
		if p.node == final {
			return opError("reference", slot.path, fmt.Errorf("%w: %s is an ancestor", ErrGraphCycle, final.path()))
		}
		if depth++; depth > maxPathDepth {
			return opError("reference", slot.path, ErrGraphCycle)
		}
	}
	return nil
}

// maxPathDepth bounds parent walks.
const maxPathDepth = 1024

func (g *Graph) retargetLocked(b *batch, ref, target *node) error {
	if ref.target == target {
		return nil
	}
	rec, err := ref.record()
	if err != nil {
		return opError("reference", ref.path(), err)
	}
	rec.TargetID = target.id
	rec.Modified = g.now()
	if err := g.persistLocked([]Record{rec}, nil); err != nil {
		return opError("reference", ref.path(), err)
	}

	old := ref.target
	old.removeReferrer(ref)
	ref.target = target
	ref.modified = rec.Modified
	target.referrers = append(target.referrers, ref)

	b.structure(StructureEvent{Kind: EventReferenceRemoved, Source: old.handle, Child: ref.handle})
	b.structure(StructureEvent{Kind: EventReferenceAdded, Source: target.handle, Child: ref.handle})
	b.structure(StructureEvent{Kind: EventRetargeted, Source: ref.handle})
	return nil
}
