package resource

import (
	"sync"
	"time"
)

// EventKind classifies a structure event.
type EventKind int

// Structure event kinds.
const (
	EventCreated EventKind = iota + 1
	EventDeleted
	EventActivated
	EventDeactivated
	EventSubResourceAdded
	EventSubResourceRemoved
	EventReferenceAdded
	EventReferenceRemoved
	EventRetargeted
)

var eventKindNames = map[EventKind]string{
	EventCreated:            "created",
	EventDeleted:            "deleted",
	EventActivated:          "activated",
	EventDeactivated:        "deactivated",
	EventSubResourceAdded:   "sub_resource_added",
	EventSubResourceRemoved: "sub_resource_removed",
	EventReferenceAdded:     "reference_added",
	EventReferenceRemoved:   "reference_removed",
	EventRetargeted:         "retargeted",
}

// String returns the snake_case name of the kind.
func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// StructureEvent reports a structural change of Source.
// Child is set for sub-resource and reference events: the added or removed
// child, or the referencing slot.
type StructureEvent struct {
	Kind   EventKind
	Source *Handle
	Child  *Handle
}

// ValueEvent reports a payload write on Source.
type ValueEvent struct {
	Source *Handle
	Old    any
	New    any
	Writer string
	Time   time.Time
}

// StructureListener receives structure events for a handle.
type StructureListener interface {
	ResourceStructureChanged(StructureEvent)
}

// ValueListener receives value events for a handle.
type ValueListener interface {
	ResourceValueChanged(ValueEvent)
}

// StructureListenerFunc adapts a function to StructureListener.
type StructureListenerFunc func(StructureEvent)

// ResourceStructureChanged calls f(e).
func (f StructureListenerFunc) ResourceStructureChanged(e StructureEvent) { f(e) }

// ValueListenerFunc adapts a function to ValueListener.
type ValueListenerFunc func(ValueEvent)

// ResourceValueChanged calls f(e).
func (f ValueListenerFunc) ResourceValueChanged(e ValueEvent) { f(e) }

// TypeListener is told about real resources of a watched type appearing
// and disappearing anywhere in the graph.
type TypeListener interface {
	ResourceAdded(*Handle)
	ResourceRemoved(*Handle)
}

// Observer receives every structure and value event in the graph.
type Observer interface {
	StructureListener
	ValueListener
}

// Registration undoes a listener registration.
// Remove is idempotent and safe to call from inside a callback.
type Registration interface {
	Remove()
}

type registration struct {
	once sync.Once
	fn   func()
}

func (r *registration) Remove() {
	r.once.Do(r.fn)
}

type structureEntry struct{ l StructureListener }

type valueEntry struct{ l ValueListener }

type observerEntry struct{ o Observer }

type typeEntry struct {
	t *Type
	l TypeListener
}

// AddStructureListener registers l for structure events on h. Listeners
// survive materialization and deletion of the resource behind h, and also
// see events of any resource h references.
func (h *Handle) AddStructureListener(l StructureListener) Registration {
	g := h.g
	e := &structureEntry{l: l}
	g.mu.Lock()
	h.structure = append(h.structure, e)
	g.listenerCount++
	g.mu.Unlock()
	return &registration{fn: func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, cur := range h.structure {
			if cur == e {
				h.structure = append(h.structure[:i:i], h.structure[i+1:]...)
				g.listenerCount--
				return
			}
		}
	}}
}

// AddValueListener registers l for value events on h.
func (h *Handle) AddValueListener(l ValueListener) Registration {
	g := h.g
	e := &valueEntry{l: l}
	g.mu.Lock()
	h.values = append(h.values, e)
	g.listenerCount++
	g.mu.Unlock()
	return &registration{fn: func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, cur := range h.values {
			if cur == e {
				h.values = append(h.values[:i:i], h.values[i+1:]...)
				g.listenerCount--
				return
			}
		}
	}}
}

// WatchType registers l for real, non-reference resources assignable to t
// and returns the resources that already exist, in creation order. Both
// happen under one lock so no resource is missed or reported twice.
func (g *Graph) WatchType(t *Type, l TypeListener) (Registration, []*Handle) {
	e := &typeEntry{t: t, l: l}
	g.mu.Lock()
	g.typeListeners = append(g.typeListeners, e)
	g.listenerCount++
	existing := g.ofTypeLocked(t)
	g.mu.Unlock()
	return &registration{fn: func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, cur := range g.typeListeners {
			if cur == e {
				g.typeListeners = append(g.typeListeners[:i:i], g.typeListeners[i+1:]...)
				g.listenerCount--
				return
			}
		}
	}}, existing
}

// Observe registers o for every event in the graph.
func (g *Graph) Observe(o Observer) Registration {
	e := &observerEntry{o: o}
	g.mu.Lock()
	g.observers = append(g.observers, e)
	g.listenerCount++
	g.mu.Unlock()
	return &registration{fn: func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, cur := range g.observers {
			if cur == e {
				g.observers = append(g.observers[:i:i], g.observers[i+1:]...)
				g.listenerCount--
				return
			}
		}
	}}
}

// ListenerCount returns the number of live registrations of all kinds.
func (g *Graph) ListenerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.listenerCount
}

// batch collects the callbacks produced by one mutation. It is filled while
// the graph lock is held and flushed after the lock is released.
type batch struct {
	g       *Graph
	pending []func()
}

// structure queues e for listeners on e.Source, on every handle that
// references it, and for observers.
func (b *batch) structure(e StructureEvent) {
	for _, h := range b.g.aliasesLocked(e.Source) {
		for _, entry := range h.structure {
			l := entry.l
			b.pending = append(b.pending, func() { l.ResourceStructureChanged(e) })
		}
	}
	for _, entry := range b.g.observers {
		o := entry.o
		b.pending = append(b.pending, func() { o.ResourceStructureChanged(e) })
	}
}

func (b *batch) value(e ValueEvent) {
	for _, h := range b.g.aliasesLocked(e.Source) {
		for _, entry := range h.values {
			l := entry.l
			b.pending = append(b.pending, func() { l.ResourceValueChanged(e) })
		}
	}
	for _, entry := range b.g.observers {
		o := entry.o
		b.pending = append(b.pending, func() { o.ResourceValueChanged(e) })
	}
}

func (b *batch) added(h *Handle, t *Type) {
	for _, e := range b.g.typeListeners {
		if t.AssignableTo(e.t) {
			l := e.l
			b.pending = append(b.pending, func() { l.ResourceAdded(h) })
		}
	}
}

func (b *batch) removed(h *Handle, t *Type) {
	for _, e := range b.g.typeListeners {
		if t.AssignableTo(e.t) {
			l := e.l
			b.pending = append(b.pending, func() { l.ResourceRemoved(h) })
		}
	}
}

// flush runs the queued callbacks in order. A panicking listener is logged
// and does not stop delivery to the others.
func (b *batch) flush() {
	for _, fn := range b.pending {
		b.g.deliver(fn)
	}
	b.pending = nil
}

func (g *Graph) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("listener panicked", "panic", r)
		}
	}()
	fn()
}
