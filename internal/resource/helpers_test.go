package resource

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	records map[int64]Record
	// For testing error paths
	saveErr   error
	deleteErr error
	saves     int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{records: make(map[int64]Record)}
}

func (m *MockRepository) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockRepository) Save(_ context.Context, records []Record) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.ID] = r
	}
	m.saves++
	return nil
}

func (m *MockRepository) Delete(_ context.Context, ids []int64) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *MockRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

var errStorage = errors.New("storage offline")

// registerTestTypes installs a small heating schema:
//
//	Thermostat
//	├── temperatureSensor: TemperatureSensor
//	│   └── reading: FloatResource
//	├── valve: Valve
//	│   └── setting: ValveSetting
//	│       ├── stateControl: FloatResource
//	│       └── stateFeedback: FloatResource
//	└── history: FloatArrayResource
//
//	SensorList: list of TemperatureSensor
func registerTestTypes(t *testing.T, types *Types) {
	t.Helper()
	defs := []TypeDef{
		{Name: "TemperatureSensor", Members: []MemberDef{{Name: "reading", Type: TypeFloat}}},
		{Name: "ValveSetting", Members: []MemberDef{
			{Name: "stateControl", Type: TypeFloat},
			{Name: "stateFeedback", Type: TypeFloat},
		}},
		{Name: "Valve", Members: []MemberDef{{Name: "setting", Type: "ValveSetting"}}},
		{Name: "Thermostat", Members: []MemberDef{
			{Name: "temperatureSensor", Type: "TemperatureSensor"},
			{Name: "valve", Type: "Valve"},
			{Name: "history", Type: TypeFloatArray},
		}},
		{Name: "SensorList", Element: "TemperatureSensor"},
	}
	for _, d := range defs {
		if _, err := types.Register(d); err != nil {
			t.Fatalf("Register(%s) error = %v", d.Name, err)
		}
	}
}

func newTestGraph(t *testing.T, repo Repository) *Graph {
	t.Helper()
	types := NewTypes()
	registerTestTypes(t, types)
	opts := Options{}
	if repo != nil {
		opts.Repository = repo
	}
	return NewGraph(types, opts)
}

func mustType(t *testing.T, g *Graph, name string) *Type {
	t.Helper()
	typ, ok := g.Types().Get(name)
	if !ok {
		t.Fatalf("type %s not registered", name)
	}
	return typ
}

func mustTop(t *testing.T, g *Graph, name, typeName string) *Handle {
	t.Helper()
	h, err := g.AddTopLevel(name, mustType(t, g, typeName), "test")
	if err != nil {
		t.Fatalf("AddTopLevel(%s) error = %v", name, err)
	}
	return h
}

func mustLookup(t *testing.T, g *Graph, path string) *Handle {
	t.Helper()
	h, err := g.Lookup(path)
	if err != nil {
		t.Fatalf("Lookup(%s) error = %v", path, err)
	}
	return h
}

// recorder captures events delivered to a listener.
type recorder struct {
	mu        sync.Mutex
	structure []StructureEvent
	values    []ValueEvent
}

func (r *recorder) ResourceStructureChanged(e StructureEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.structure = append(r.structure, e)
}

func (r *recorder) ResourceValueChanged(e ValueEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.structure))
	for i, e := range r.structure {
		out[i] = e.Kind
	}
	return out
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *recorder) valueCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}
