package pattern

import (
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

func newTestGraph(t *testing.T) *resource.Graph {
	t.Helper()
	types := resource.NewTypes()
	defs := []resource.TypeDef{
		{Name: "TemperatureSensor", Members: []resource.MemberDef{{Name: "reading", Type: resource.TypeFloat}}},
		{Name: "ValveSetting", Members: []resource.MemberDef{
			{Name: "stateControl", Type: resource.TypeFloat},
			{Name: "stateFeedback", Type: resource.TypeFloat},
		}},
		{Name: "Valve", Members: []resource.MemberDef{{Name: "setting", Type: "ValveSetting"}}},
		{Name: "Thermostat", Members: []resource.MemberDef{
			{Name: "temperatureSensor", Type: "TemperatureSensor"},
			{Name: "valve", Type: "Valve"},
		}},
	}
	for _, def := range defs {
		if _, err := types.Register(def); err != nil {
			t.Fatalf("Register(%s) error = %v", def.Name, err)
		}
	}
	return resource.NewGraph(types, resource.Options{})
}

func thermostatPattern(t *testing.T, g *resource.Graph) *Descriptor {
	t.Helper()
	types := g.Types()
	float := types.MustGet(resource.TypeFloat)
	desc, err := Define("thermostat", types.MustGet("Thermostat")).
		Field("reading", "temperatureSensor/reading", float).NotifyValue().
		Field("control", "valve/setting/stateControl", float).Optional().AccessMode(resource.AccessExclusive).
		Field("feedback", "valve/setting/stateFeedback", float).Optional().NotifyStructure().
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return desc
}

func newTestManager(t *testing.T) (*Manager, *resource.Graph) {
	t.Helper()
	g := newTestGraph(t)
	catalog := NewCatalog()
	if err := catalog.Register(thermostatPattern(t, g)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	m := NewManager(g, catalog)
	t.Cleanup(m.Close)
	return m, g
}

func mustTop(t *testing.T, g *resource.Graph, name string) *resource.Handle {
	t.Helper()
	h, err := g.AddTopLevel(name, g.Types().MustGet("Thermostat"), "test")
	if err != nil {
		t.Fatalf("AddTopLevel(%s) error = %v", name, err)
	}
	return h
}

func mustLookup(t *testing.T, g *resource.Graph, path string) *resource.Handle {
	t.Helper()
	h, err := g.Lookup(path)
	if err != nil {
		t.Fatalf("Lookup(%s) error = %v", path, err)
	}
	return h
}

func mustCreate(t *testing.T, g *resource.Graph, path string) *resource.Handle {
	t.Helper()
	h := mustLookup(t, g, path)
	if err := h.Create(); err != nil {
		t.Fatalf("Create(%s) error = %v", path, err)
	}
	return h
}

// newSatisfiedThermostat creates a thermostat whose reading exists and is active.
func newSatisfiedThermostat(t *testing.T, g *resource.Graph, name string) *resource.Handle {
	t.Helper()
	th := mustTop(t, g, name)
	mustCreate(t, g, name+"/temperatureSensor/reading")
	if err := th.Activate(true); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	return th
}

// patternRecorder records callbacks in arrival order.
type patternRecorder struct {
	mu          sync.Mutex
	available   []*Instance
	unavailable []*Instance
	changed     [][]ChangeEvent
	order       []CallbackKind

	onAvailable func(*Instance)
}

func (r *patternRecorder) PatternAvailable(inst *Instance) {
	r.mu.Lock()
	r.available = append(r.available, inst)
	r.order = append(r.order, CallbackAvailable)
	fn := r.onAvailable
	r.mu.Unlock()
	if fn != nil {
		fn(inst)
	}
}

func (r *patternRecorder) PatternUnavailable(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = append(r.unavailable, inst)
	r.order = append(r.order, CallbackUnavailable)
}

func (r *patternRecorder) PatternChanged(_ *Instance, changes []ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, changes)
	r.order = append(r.order, CallbackChanged)
}

func (r *patternRecorder) counts() (available, unavailable, changed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.available), len(r.unavailable), len(r.changed)
}
