package pattern

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// Logger defines the logging interface used by the pattern manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type demandKey struct {
	pattern  string
	listener Listener
}

type individualKey struct {
	pattern  string
	listener Listener
}

type changeKey struct {
	pattern  string
	anchor   *resource.Handle
	listener ChangeListener
}

// Manager keeps the registry of pattern demands over one graph.
type Manager struct {
	graph    *resource.Graph
	catalog  *Catalog
	logger   Logger
	recorder Recorder

	mu         sync.Mutex
	demands    map[demandKey]*demand
	individual map[individualKey]*demand
	changes    map[changeKey]*demand
	closed     bool
}

// NewManager creates a manager matching patterns from catalog against g.
func NewManager(g *resource.Graph, catalog *Catalog) *Manager {
	return &Manager{
		graph:      g,
		catalog:    catalog,
		logger:     noopLogger{},
		recorder:   noopRecorder{},
		demands:    make(map[demandKey]*demand),
		individual: make(map[individualKey]*demand),
		changes:    make(map[changeKey]*demand),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetRecorder sets the callback recorder, typically a metrics adapter.
func (m *Manager) SetRecorder(r Recorder) {
	if r != nil {
		m.recorder = r
	}
}

// Catalog returns the descriptor catalog.
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

func validListener(l any) error {
	if l == nil {
		return fmt.Errorf("%w: nil", ErrInvalidListener)
	}
	if t := reflect.TypeOf(l); !t.Comparable() {
		return fmt.Errorf("%w: %s is not comparable", ErrInvalidListener, t)
	}
	return nil
}

func newOwner(pattern string) string {
	return "pattern/" + pattern + "/" + uuid.NewString()
}

// AddPatternDemand registers l for every instance of the named pattern in
// the graph. l is told at once about instances that are already satisfied.
// Registering the same (pattern, listener) pair twice is a no-op.
func (m *Manager) AddPatternDemand(name string, l Listener, prio resource.Priority) error {
	desc, err := m.catalog.Get(name)
	if err != nil {
		return err
	}
	if err := validListener(l); err != nil {
		return err
	}

	key := demandKey{pattern: name, listener: l}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.demands[key]; ok {
		m.mu.Unlock()
		m.logger.Warn("pattern demand already registered", "pattern", name)
		return nil
	}
	d := newDemand(m, desc, l, newOwner(name), prio)
	m.demands[key] = d
	m.mu.Unlock()

	m.logger.Debug("pattern demand registered", "pattern", name, "priority", prio.String())
	d.start()
	return nil
}

// AddPatternObserver is AddPatternDemand without access claims: l sees
// every instance come and go but never competes for write access. It is
// removed with RemovePatternDemand.
func (m *Manager) AddPatternObserver(name string, l Listener) error {
	desc, err := m.catalog.Get(name)
	if err != nil {
		return err
	}
	if err := validListener(l); err != nil {
		return err
	}

	key := demandKey{pattern: name, listener: l}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.demands[key]; ok {
		m.mu.Unlock()
		return nil
	}
	d := newDemand(m, desc, l, "", resource.PriorityLowest)
	d.passive = true
	m.demands[key] = d
	m.mu.Unlock()

	d.start()
	return nil
}

// RemovePatternDemand unregisters l. Removing an unknown demand is a no-op.
// It is safe to call from inside one of l's callbacks; no callback is
// started for the demand afterwards.
func (m *Manager) RemovePatternDemand(name string, l Listener) {
	key := demandKey{pattern: name, listener: l}
	m.mu.Lock()
	d, ok := m.demands[key]
	delete(m.demands, key)
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := d.stop(); err != nil {
		m.logger.Warn("tearing down pattern demand", "pattern", name, "error", err)
	}
	m.logger.Debug("pattern demand removed", "pattern", name)
}

// AddIndividualPatternDemand registers l for the instance anchored at
// anchor only. Further anchors for the same (pattern, listener) pair join
// the existing demand.
func (m *Manager) AddIndividualPatternDemand(name string, anchor *resource.Handle, l Listener, prio resource.Priority) error {
	desc, err := m.catalog.Get(name)
	if err != nil {
		return err
	}
	if err := validListener(l); err != nil {
		return err
	}
	if anchor == nil {
		return fmt.Errorf("individual demand %s: %w", name, resource.ErrNotFound)
	}
	if !anchor.Type().AssignableTo(desc.anchor) {
		return fmt.Errorf("individual demand %s on %s: %w", name, anchor.Path(), ErrAnchorType)
	}

	// The anchor joins the demand under m.mu so a concurrent removal of the
	// last anchor cannot stop the demand in between.
	key := individualKey{pattern: name, listener: l}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	d, ok := m.individual[key]
	if !ok {
		d = newDemand(m, desc, l, newOwner(name), prio)
		d.individual = true
		m.individual[key] = d
	}
	added := d.track(anchor)
	m.mu.Unlock()

	d.drain()
	if !added {
		m.logger.Warn("individual pattern demand already registered", "pattern", name, "anchor", anchor.Path())
	}
	return nil
}

// RemoveIndividualPatternDemand stops tracking anchor for l. When no
// anchors remain the demand is removed as a whole.
func (m *Manager) RemoveIndividualPatternDemand(name string, anchor *resource.Handle, l Listener) {
	key := individualKey{pattern: name, listener: l}
	m.mu.Lock()
	d, ok := m.individual[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	empty, err := d.untrack(anchor)
	if empty {
		delete(m.individual, key)
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("untracking pattern anchor", "pattern", name, "anchor", anchor.Path(), "error", err)
	}
	if !empty {
		return
	}
	if err := d.stop(); err != nil {
		m.logger.Warn("tearing down pattern demand", "pattern", name, "error", err)
	}
}

// AddPatternChangeListener reports changes of the subscribed fields of
// inst to l, whether or not inst is satisfied.
func (m *Manager) AddPatternChangeListener(inst *Instance, l ChangeListener) error {
	if inst == nil {
		return fmt.Errorf("%w: nil instance", ErrInvalidDescriptor)
	}
	if err := validListener(l); err != nil {
		return err
	}

	key := changeKey{pattern: inst.desc.name, anchor: inst.anchor, listener: l}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.changes[key]; ok {
		m.mu.Unlock()
		m.logger.Warn("pattern change listener already registered", "pattern", key.pattern, "anchor", inst.anchor.Path())
		return nil
	}
	d := newDemand(m, inst.desc, changeOnly{l: l}, "", resource.PriorityLowest)
	d.individual = true
	d.changesOnly = true
	m.changes[key] = d
	m.mu.Unlock()

	d.track(inst.anchor)
	d.drain()
	return nil
}

// RemovePatternChangeListener unregisters l from inst.
func (m *Manager) RemovePatternChangeListener(inst *Instance, l ChangeListener) {
	if inst == nil {
		return
	}
	key := changeKey{pattern: inst.desc.name, anchor: inst.anchor, listener: l}
	m.mu.Lock()
	d, ok := m.changes[key]
	delete(m.changes, key)
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := d.stop(); err != nil {
		m.logger.Warn("tearing down pattern change listener", "pattern", key.pattern, "error", err)
	}
}

// GetPatternInstances returns the satisfied instances of the named pattern
// currently in the graph, in creation order. Instances with a field whose
// exclusive access is held by another owner at prio or above are left out,
// since a demand at prio could not write them.
func (m *Manager) GetPatternInstances(name string, prio resource.Priority) ([]*Instance, error) {
	desc, err := m.catalog.Get(name)
	if err != nil {
		return nil, err
	}
	var out []*Instance
	for _, anchor := range m.graph.ResourcesOfType(desc.anchor) {
		inst := Evaluate(desc, anchor)
		if inst.satisfied && writable(inst, prio) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func writable(inst *Instance, prio resource.Priority) bool {
	for idx, f := range inst.desc.fields {
		st := inst.fields[idx]
		if f.Access != resource.AccessExclusive || !st.exists {
			continue
		}
		if _, held, ok := st.handle.AccessHolder(); ok && held >= prio {
			return false
		}
	}
	return true
}

// IsSatisfied evaluates the named pattern against anchor.
func (m *Manager) IsSatisfied(anchor *resource.Handle, name string) (bool, error) {
	inst, err := m.Evaluate(anchor, name)
	if err != nil {
		return false, err
	}
	return inst.satisfied, nil
}

// Evaluate evaluates the named pattern against anchor.
func (m *Manager) Evaluate(anchor *resource.Handle, name string) (*Instance, error) {
	desc, err := m.catalog.Get(name)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, fmt.Errorf("evaluate %s: %w", name, resource.ErrNotFound)
	}
	return Evaluate(desc, anchor), nil
}

// CreatePatternInstance creates a top-level resource of the pattern's
// anchor type called resourceName and materializes its required fields.
// Nothing is activated. If a field cannot be created the anchor is removed
// again.
func (m *Manager) CreatePatternInstance(name, resourceName, owner string) (*Instance, error) {
	desc, err := m.catalog.Get(name)
	if err != nil {
		return nil, err
	}
	anchor, err := m.graph.AddTopLevel(resourceName, desc.anchor, owner)
	if err != nil {
		return nil, err
	}
	return m.materialize(desc, anchor, owner)
}

// AddPatternDecorator creates a decorator called decoratorName below parent
// with the pattern's anchor type and materializes its required fields.
func (m *Manager) AddPatternDecorator(parent *resource.Handle, decoratorName, name, owner string) (*Instance, error) {
	desc, err := m.catalog.Get(name)
	if err != nil {
		return nil, err
	}
	anchor, err := parent.Decorator(decoratorName, desc.anchor)
	if err != nil {
		return nil, err
	}
	if anchor.Exists() {
		return nil, fmt.Errorf("add decorator %s: %w", anchor.Path(), resource.ErrAlreadyExists)
	}
	if err := anchor.CreateAs(owner); err != nil {
		return nil, err
	}
	return m.materialize(desc, anchor, owner)
}

func (m *Manager) materialize(desc *Descriptor, anchor *resource.Handle, owner string) (*Instance, error) {
	for _, f := range desc.fields {
		if f.Existence != Required {
			continue
		}
		h, err := fieldSlot(anchor, f)
		if err == nil {
			err = h.CreateAs(owner)
		}
		if err != nil {
			if derr := anchor.Delete(); derr != nil {
				m.logger.Error("removing partially created pattern instance", "anchor", anchor.Path(), "error", derr)
			}
			return nil, fmt.Errorf("create %s field %s: %w", desc.name, f.Name, err)
		}
	}
	return Evaluate(desc, anchor), nil
}

// fieldSlot resolves f below anchor. A last path element that is neither a
// member nor an existing child becomes a decorator slot of the field type.
func fieldSlot(anchor *resource.Handle, f FieldSpec) (*resource.Handle, error) {
	cur := anchor
	for i, name := range f.Path {
		next, err := cur.Child(name)
		if errors.Is(err, resource.ErrNotFound) && i == len(f.Path)-1 {
			next, err = cur.Decorator(name, f.Type)
		}
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// ActivatePatternInstance activates the anchor, every existing resource on
// the way to a field, and the fields themselves as one unit. It fails
// without activating anything if a required field does not exist.
func (m *Manager) ActivatePatternInstance(actor string, inst *Instance) error {
	handles, err := m.instanceHandles(inst, true)
	if err != nil {
		return err
	}
	return m.graph.ActivateAll(actor, handles)
}

// DeactivatePatternInstance deactivates the anchor and every existing field
// of inst as one unit.
func (m *Manager) DeactivatePatternInstance(actor string, inst *Instance) error {
	handles, err := m.instanceHandles(inst, false)
	if err != nil {
		return err
	}
	return m.graph.DeactivateAll(actor, handles)
}

func (m *Manager) instanceHandles(inst *Instance, activate bool) ([]*resource.Handle, error) {
	if inst == nil {
		return nil, fmt.Errorf("%w: nil instance", ErrInvalidDescriptor)
	}
	if inst.anchor == nil {
		return nil, fmt.Errorf("%s instance: %w", inst.desc.name, resource.ErrNotFound)
	}
	cur := Evaluate(inst.desc, inst.anchor)
	required := make(map[*resource.Handle]bool)
	for idx, f := range cur.desc.fields {
		if f.Existence != Required {
			continue
		}
		h := cur.fields[idx].handle
		if h == nil {
			if activate {
				return nil, fmt.Errorf("activate %s field %s: %w", cur.desc.name, f.Name, resource.ErrNotMaterialized)
			}
			continue
		}
		required[h] = true
	}

	handles := make([]*resource.Handle, 0, len(cur.watch))
	for _, h := range cur.watch {
		if h.Exists() || (activate && (required[h] || h == cur.anchor)) {
			handles = append(handles, h)
		}
	}
	return handles, nil
}

// DemandInfo summarizes one registered demand.
type DemandInfo struct {
	Pattern    string `json:"pattern"`
	Owner      string `json:"owner,omitempty"`
	Priority   string `json:"priority"`
	Individual bool   `json:"individual"`
	Changes    bool   `json:"changes_only"`
	Tracked    int    `json:"tracked"`
	Available  int    `json:"available"`
}

// Demands lists the registered demands.
func (m *Manager) Demands() []DemandInfo {
	m.mu.Lock()
	all := m.allLocked()
	m.mu.Unlock()

	out := make([]DemandInfo, 0, len(all))
	for _, d := range all {
		info := DemandInfo{
			Pattern:    d.desc.name,
			Owner:      d.owner,
			Priority:   d.priority.String(),
			Individual: d.individual,
			Changes:    d.changesOnly,
		}
		d.mu.Lock()
		info.Tracked = len(d.candidates)
		for _, c := range d.candidates {
			if c.available {
				info.Available++
			}
		}
		d.mu.Unlock()
		out = append(out, info)
	}
	return out
}

// DemandCount returns the number of registered demands of all kinds.
func (m *Manager) DemandCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.demands) + len(m.individual) + len(m.changes)
}

func (m *Manager) allLocked() []*demand {
	all := make([]*demand, 0, len(m.demands)+len(m.individual)+len(m.changes))
	for _, d := range m.demands {
		all = append(all, d)
	}
	for _, d := range m.individual {
		all = append(all, d)
	}
	for _, d := range m.changes {
		all = append(all, d)
	}
	return all
}

// Close unregisters every demand. Teardown failures are logged and do not
// stop the remaining demands from being removed. Close is idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	all := m.allLocked()
	clear(m.demands)
	clear(m.individual)
	clear(m.changes)
	m.mu.Unlock()

	var errs []error
	for _, d := range all {
		if err := d.stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.desc.name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Warn("closing pattern manager", "error", err)
	}
	if len(all) > 0 {
		m.logger.Info("pattern manager closed", "demands", len(all))
	}
}
