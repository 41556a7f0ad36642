package pattern

import (
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// fieldState is the evaluated state of one field.
type fieldState struct {
	handle    *resource.Handle // nil when the path does not resolve
	exists    bool
	active    bool
	typeOK    bool
	available bool
	location  string
}

// Instance is the evaluation of a descriptor against one anchor: the
// handles its fields resolve to and whether the pattern is satisfied.
// Instances are snapshots; a later evaluation produces a new one.
type Instance struct {
	desc      *Descriptor
	anchor    *resource.Handle
	fields    []fieldState
	satisfied bool

	// watch lists every handle whose change can alter the result: the
	// anchor, each resolved hop, and the field handles themselves.
	watch []*resource.Handle
}

// Descriptor returns the pattern the instance was evaluated against.
func (i *Instance) Descriptor() *Descriptor { return i.desc }

// Anchor returns the anchor resource.
func (i *Instance) Anchor() *resource.Handle { return i.anchor }

// Satisfied reports whether the anchor and every required field exist,
// are active (unless the pattern allows inactive resources) and have
// compatible types.
func (i *Instance) Satisfied() bool { return i.satisfied }

// Field returns the handle the named field resolved to. The handle may be
// virtual for optional fields; nil is returned for unknown fields and for
// paths that could not be resolved at all.
func (i *Instance) Field(name string) *resource.Handle {
	for idx, f := range i.desc.fields {
		if f.Name == name {
			return i.fields[idx].handle
		}
	}
	return nil
}

// Available reports whether the named field currently meets the pattern's
// requirements, whether or not it is optional.
func (i *Instance) Available(name string) bool {
	for idx, f := range i.desc.fields {
		if f.Name == name {
			return i.fields[idx].available
		}
	}
	return false
}

// Value returns the current value of the named field, or nil if the field
// does not resolve.
func (i *Instance) Value(name string) any {
	if h := i.Field(name); h != nil {
		return h.Value()
	}
	return nil
}

// Equal reports whether two instances describe the same state.
func (i *Instance) Equal(o *Instance) bool {
	if i == nil || o == nil {
		return i == o
	}
	if i.desc != o.desc || i.anchor != o.anchor || i.satisfied != o.satisfied || len(i.fields) != len(o.fields) {
		return false
	}
	for idx := range i.fields {
		if i.fields[idx] != o.fields[idx] {
			return false
		}
	}
	return true
}

// Evaluate resolves desc against anchor. It does not modify the graph and
// gives the same result for the same graph state. A nil anchor yields an
// unsatisfied instance with no resolved fields.
func Evaluate(desc *Descriptor, anchor *resource.Handle) *Instance {
	inst := &Instance{
		desc:   desc,
		anchor: anchor,
		fields: make([]fieldState, len(desc.fields)),
	}
	if anchor == nil {
		return inst
	}
	inst.watch = []*resource.Handle{anchor}
	seen := map[*resource.Handle]bool{anchor: true}
	watch := func(h *resource.Handle) {
		if !seen[h] {
			seen[h] = true
			inst.watch = append(inst.watch, h)
		}
	}

	satisfied := anchor.Exists() &&
		anchor.Type().AssignableTo(desc.anchor) &&
		(!desc.requireActive || anchor.IsActive())

	for idx, f := range desc.fields {
		cur := anchor
		for _, name := range f.Path {
			next, err := cur.Child(name)
			if err != nil {
				cur = nil
				break
			}
			watch(next)
			cur = next
		}

		st := fieldState{handle: cur}
		if cur != nil {
			st.exists = cur.Exists()
			st.active = cur.IsActive()
			st.typeOK = cur.Type().AssignableTo(f.Type)
			st.location = cur.Location()
		}
		st.available = st.exists && st.typeOK && (st.active || !desc.requireActive)
		inst.fields[idx] = st

		if f.Existence == Required && !st.available {
			satisfied = false
		}
	}
	inst.satisfied = satisfied
	return inst
}
