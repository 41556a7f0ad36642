package pattern

import (
	"testing"

	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

func TestEvaluate(t *testing.T) {
	g := newTestGraph(t)
	desc := thermostatPattern(t, g)
	th := mustTop(t, g, "thermostat")

	inst := Evaluate(desc, th)
	if inst.Satisfied() {
		t.Error("inactive anchor without reading should not satisfy")
	}
	if inst.Field("reading") == nil || inst.Field("reading").Exists() {
		t.Error("reading should resolve to a virtual handle")
	}
	if inst.Field("unknown") != nil {
		t.Error("Field(unknown) should be nil")
	}

	reading := mustCreate(t, g, "thermostat/temperatureSensor/reading")
	if Evaluate(desc, th).Satisfied() {
		t.Error("inactive resources should not satisfy")
	}

	if err := th.Activate(true); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	inst = Evaluate(desc, th)
	if !inst.Satisfied() || inst.Field("reading") != reading || !inst.Available("reading") {
		t.Errorf("Satisfied() = %v, Field(reading) = %v", inst.Satisfied(), inst.Field("reading"))
	}
	if inst.Available("feedback") {
		t.Error("virtual optional field reported available")
	}
	if err := reading.SetValue(21.5); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	if v := inst.Value("reading"); v != 21.5 {
		t.Errorf("Value(reading) = %v, want 21.5", v)
	}
}

func TestEvaluate_NilAnchor(t *testing.T) {
	g := newTestGraph(t)
	inst := Evaluate(thermostatPattern(t, g), nil)
	if inst.Satisfied() {
		t.Error("nil anchor should not satisfy")
	}
	if inst.Field("reading") != nil || inst.Available("reading") {
		t.Error("fields of a nil anchor should not resolve")
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	g := newTestGraph(t)
	desc := thermostatPattern(t, g)
	th := newSatisfiedThermostat(t, g, "thermostat")
	before := g.Stats()

	a, b := Evaluate(desc, th), Evaluate(desc, th)
	if !a.Equal(b) {
		t.Error("two evaluations of an unchanged graph differ")
	}
	if after := g.Stats(); after.Nodes != before.Nodes || after.Active != before.Active {
		t.Errorf("Evaluate() changed the graph: %+v -> %+v", before, after)
	}
}

func TestEvaluate_AllowInactive(t *testing.T) {
	g := newTestGraph(t)
	types := g.Types()
	desc := Define("loose", types.MustGet("Thermostat")).
		Field("reading", "temperatureSensor/reading", types.MustGet(resource.TypeFloat)).
		AllowInactive().
		MustBuild()
	th := mustTop(t, g, "thermostat")
	mustCreate(t, g, "thermostat/temperatureSensor/reading")

	if !Evaluate(desc, th).Satisfied() {
		t.Error("AllowInactive pattern should be satisfied by inactive resources")
	}
}

func TestEvaluate_TypeMismatch(t *testing.T) {
	g := newTestGraph(t)
	types := g.Types()
	desc := Define("strict", types.MustGet("Thermostat")).
		Field("reading", "temperatureSensor/reading", types.MustGet(resource.TypeString)).
		MustBuild()
	th := newSatisfiedThermostat(t, g, "thermostat")

	if Evaluate(desc, th).Satisfied() {
		t.Error("field of incompatible type should not satisfy")
	}
}

func TestEvaluate_ThroughReference(t *testing.T) {
	g := newTestGraph(t)
	desc := thermostatPattern(t, g)
	th := mustTop(t, g, "thermostat")
	sensor, err := g.AddTopLevel("sensor", g.Types().MustGet("TemperatureSensor"), "test")
	if err != nil {
		t.Fatalf("AddTopLevel() error = %v", err)
	}
	reading := mustCreate(t, g, "sensor/reading")
	if _, err := th.AddReference("temperatureSensor", sensor, false); err != nil {
		t.Fatalf("AddReference() error = %v", err)
	}
	if err := th.Activate(false); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if err := sensor.Activate(true); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	inst := Evaluate(desc, th)
	if !inst.Satisfied() || inst.Field("reading") != reading {
		t.Errorf("Satisfied() = %v, Field(reading) = %v, want the shared reading", inst.Satisfied(), inst.Field("reading"))
	}
}
