package pattern

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// demand tracks the instances of one pattern for one listener.
//
// Graph events re-evaluate the affected candidate under d.mu and queue the
// resulting callbacks. Callbacks run from drain with d.mu released, one at
// a time and in order, so a listener may mutate the graph or unregister
// itself from inside a callback.
type demand struct {
	m        *Manager
	desc     *Descriptor
	listener Listener
	owner    string
	priority resource.Priority

	// individual demands track explicitly added anchors instead of every
	// resource of the anchor type.
	individual bool

	// changesOnly demands report field changes whether or not the instance
	// is satisfied and never claim access.
	changesOnly bool

	// passive demands receive the full lifecycle but never claim access.
	passive bool

	stopped atomic.Bool

	mu         sync.Mutex
	typeReg    resource.Registration
	candidates map[*resource.Handle]*candidate
	order      []*resource.Handle
	queue      []func()
	draining   bool
}

type candidate struct {
	anchor    *resource.Handle
	inst      *Instance
	available bool
	watches   map[*resource.Handle]*watch
	claimed   map[*resource.Handle]bool
}

type watch struct {
	structure resource.Registration
	value     resource.Registration
}

// trigger is the event that caused a re-evaluation, if any.
type trigger struct {
	watched   *resource.Handle
	structure *resource.StructureEvent
	value     *resource.ValueEvent
}

func newDemand(m *Manager, desc *Descriptor, l Listener, owner string, prio resource.Priority) *demand {
	return &demand{
		m:          m,
		desc:       desc,
		listener:   l,
		owner:      owner,
		priority:   prio,
		candidates: make(map[*resource.Handle]*candidate),
	}
}

// start begins watching the anchor type and evaluates every resource that
// already exists.
func (d *demand) start() {
	d.mu.Lock()
	if d.stopped.Load() {
		d.mu.Unlock()
		return
	}
	reg, existing := d.m.graph.WatchType(d.desc.anchor, d)
	d.typeReg = reg
	for _, h := range existing {
		d.trackLocked(h)
	}
	d.mu.Unlock()
	d.drain()
}

// track adds an explicitly supplied anchor. It reports false if the anchor
// was already tracked or the demand is stopped. The callbacks it queues are
// delivered by the next drain.
func (d *demand) track(h *resource.Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped.Load() {
		return false
	}
	if _, dup := d.candidates[h]; dup {
		return false
	}
	d.trackLocked(h)
	return true
}

// untrack stops tracking an explicitly supplied anchor without callbacks.
// It reports whether no anchors remain.
func (d *demand) untrack(h *resource.Handle) (empty bool, err error) {
	d.mu.Lock()
	c, ok := d.candidates[h]
	if ok {
		err = d.dropLocked(c)
	}
	empty = len(d.candidates) == 0
	d.mu.Unlock()
	return empty, err
}

// ResourceAdded implements resource.TypeListener.
func (d *demand) ResourceAdded(h *resource.Handle) {
	d.mu.Lock()
	d.trackLocked(h)
	d.mu.Unlock()
	d.drain()
}

// ResourceRemoved implements resource.TypeListener.
func (d *demand) ResourceRemoved(h *resource.Handle) {
	d.mu.Lock()
	if c, ok := d.candidates[h]; ok && !d.stopped.Load() {
		d.evaluateLocked(c, trigger{})
		if err := d.dropLocked(c); err != nil {
			d.m.logger.Warn("dropping pattern candidate", "pattern", d.desc.name, "anchor", h.Path(), "error", err)
		}
	}
	d.mu.Unlock()
	d.drain()
}

func (d *demand) trackLocked(h *resource.Handle) {
	if d.stopped.Load() {
		return
	}
	c, ok := d.candidates[h]
	if !ok {
		c = &candidate{
			anchor:  h,
			watches: make(map[*resource.Handle]*watch),
			claimed: make(map[*resource.Handle]bool),
		}
		d.candidates[h] = c
		d.order = append(d.order, h)
	}
	d.evaluateLocked(c, trigger{})
}

func (d *demand) onStructure(c *candidate, watched *resource.Handle, e resource.StructureEvent) {
	d.mu.Lock()
	if d.candidates[c.anchor] == c {
		d.evaluateLocked(c, trigger{watched: watched, structure: &e})
	}
	d.mu.Unlock()
	d.drain()
}

func (d *demand) onValue(c *candidate, watched *resource.Handle, e resource.ValueEvent) {
	d.mu.Lock()
	if d.candidates[c.anchor] == c {
		d.evaluateLocked(c, trigger{watched: watched, value: &e})
	}
	d.mu.Unlock()
	d.drain()
}

// evaluateLocked re-evaluates c and queues the callbacks implied by the
// transition from its previous state.
func (d *demand) evaluateLocked(c *candidate, tr trigger) {
	if d.stopped.Load() {
		return
	}
	inst := Evaluate(d.desc, c.anchor)
	d.rewatchLocked(c, inst)
	prev := c.inst
	c.inst = inst

	switch {
	case d.changesOnly:
		if prev != nil {
			if changes := d.diff(prev, inst, tr); len(changes) > 0 {
				d.enqueue(CallbackChanged, func() { d.listener.PatternChanged(inst, changes) })
			}
		}
	case !c.available && inst.satisfied:
		c.available = true
		d.claimLocked(c, inst)
		d.enqueue(CallbackAvailable, func() { d.listener.PatternAvailable(inst) })
	case c.available && !inst.satisfied:
		c.available = false
		d.releaseLocked(c)
		d.enqueue(CallbackUnavailable, func() { d.listener.PatternUnavailable(inst) })
	case c.available:
		d.claimLocked(c, inst)
		if changes := d.diff(prev, inst, tr); len(changes) > 0 {
			d.enqueue(CallbackChanged, func() { d.listener.PatternChanged(inst, changes) })
		}
	}
}

// diff lists the subscribed field changes between two evaluations.
func (d *demand) diff(prev, cur *Instance, tr trigger) []ChangeEvent {
	var changes []ChangeEvent
	for idx, f := range d.desc.fields {
		was, now := prev.fields[idx], cur.fields[idx]
		if f.NotifyStructure && (was.available != now.available || was.location != now.location || was.handle != now.handle) {
			ev := ChangeEvent{Field: f.Name, Kind: StructureChanged, Handle: now.handle}
			if tr.structure != nil && tr.watched == now.handle {
				ev.Structure = tr.structure
			}
			changes = append(changes, ev)
		}
		if f.NotifyValue && tr.value != nil && now.handle != nil && tr.watched == now.handle {
			changes = append(changes, ChangeEvent{Field: f.Name, Kind: ValueChanged, Handle: now.handle, Value: tr.value})
		}
	}
	return changes
}

// rewatchLocked moves c's listeners to the handles inst depends on.
func (d *demand) rewatchLocked(c *candidate, inst *Instance) {
	wantValue := make(map[*resource.Handle]bool)
	for idx, f := range d.desc.fields {
		if h := inst.fields[idx].handle; f.NotifyValue && h != nil {
			wantValue[h] = true
		}
	}

	keep := make(map[*resource.Handle]bool, len(inst.watch))
	for _, h := range inst.watch {
		keep[h] = true
		w, ok := c.watches[h]
		if !ok {
			w = &watch{}
			c.watches[h] = w
			w.structure = h.AddStructureListener(resource.StructureListenerFunc(func(e resource.StructureEvent) {
				d.onStructure(c, h, e)
			}))
		}
		switch {
		case wantValue[h] && w.value == nil:
			w.value = h.AddValueListener(resource.ValueListenerFunc(func(e resource.ValueEvent) {
				d.onValue(c, h, e)
			}))
		case !wantValue[h] && w.value != nil:
			w.value.Remove()
			w.value = nil
		}
	}
	for h, w := range c.watches {
		if !keep[h] {
			w.remove()
			delete(c.watches, h)
		}
	}
}

func (w *watch) remove() {
	w.structure.Remove()
	if w.value != nil {
		w.value.Remove()
	}
}

// claimLocked requests the access declared by the pattern on every existing
// field of inst and drops claims on handles no longer in use.
func (d *demand) claimLocked(c *candidate, inst *Instance) {
	if d.changesOnly || d.passive {
		return
	}
	want := make(map[*resource.Handle]bool)
	for idx, f := range d.desc.fields {
		st := inst.fields[idx]
		if f.Access == resource.AccessReadOnly || st.handle == nil || !st.exists {
			continue
		}
		prio := d.priority
		if f.Priority != nil {
			prio = *f.Priority
		}
		granted, err := st.handle.RequestAccess(d.owner, f.Access, prio)
		if err != nil {
			d.m.logger.Warn("requesting field access", "pattern", d.desc.name, "field", f.Name, "error", err)
			continue
		}
		if granted != f.Access {
			d.m.logger.Debug("field access downgraded", "pattern", d.desc.name, "field", f.Name, "granted", granted.String())
		}
		want[st.handle] = true
	}
	for h := range c.claimed {
		if !want[h] {
			h.ReleaseAccess(d.owner)
		}
	}
	c.claimed = want
}

func (d *demand) releaseLocked(c *candidate) {
	for h := range c.claimed {
		h.ReleaseAccess(d.owner)
	}
	clear(c.claimed)
}

// dropLocked forgets c, removing its listeners and claims.
func (d *demand) dropLocked(c *candidate) error {
	delete(d.candidates, c.anchor)
	for i, h := range d.order {
		if h == c.anchor {
			d.order = append(d.order[:i:i], d.order[i+1:]...)
			break
		}
	}
	var errs []error
	for h, w := range c.watches {
		if err := safely(w.remove); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Path(), err))
		}
	}
	clear(c.watches)
	if err := safely(func() { d.releaseLocked(c) }); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// stop tears the demand down. Queued callbacks are discarded and no
// callback starts after stop returns, except one already running.
func (d *demand) stop() error {
	d.stopped.Store(true)
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if d.typeReg != nil {
		if err := safely(d.typeReg.Remove); err != nil {
			errs = append(errs, err)
		}
		d.typeReg = nil
	}
	for _, h := range append([]*resource.Handle(nil), d.order...) {
		if err := d.dropLocked(d.candidates[h]); err != nil {
			errs = append(errs, err)
		}
	}
	d.queue = nil
	return errors.Join(errs...)
}

// instances returns the current evaluation of every tracked anchor.
func (d *demand) instances() []*Instance {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Instance, 0, len(d.order))
	for _, h := range d.order {
		if c := d.candidates[h]; c.inst != nil {
			out = append(out, c.inst)
		}
	}
	return out
}

func (d *demand) enqueue(kind CallbackKind, fn func()) {
	d.queue = append(d.queue, func() {
		fn()
		d.m.recorder.CallbackDelivered(d.desc.name, kind)
	})
}

// drain delivers queued callbacks. Only one goroutine drains at a time;
// callbacks queued from inside a callback are picked up by the loop.
func (d *demand) drain() {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	for len(d.queue) > 0 {
		fn := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		if !d.stopped.Load() {
			d.deliver(fn)
		}
		d.mu.Lock()
	}
	d.draining = false
	d.mu.Unlock()
}

func (d *demand) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.m.logger.Error("pattern listener panicked", "pattern", d.desc.name, "panic", r)
		}
	}()
	fn()
}

// safely runs fn, converting a panic into an error.
func safely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}
