package pattern

import (
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

func TestDefine_Build(t *testing.T) {
	g := newTestGraph(t)
	desc := thermostatPattern(t, g)

	if desc.Name() != "thermostat" || desc.AnchorType().Name() != "Thermostat" {
		t.Errorf("Name() = %q, AnchorType() = %v", desc.Name(), desc.AnchorType())
	}
	if !desc.RequireActive() {
		t.Error("RequireActive() should default to true")
	}
	fields := desc.Fields()
	if len(fields) != 3 {
		t.Fatalf("Fields() returned %d fields, want 3", len(fields))
	}
	reading, ok := desc.Field("reading")
	if !ok || reading.Existence != Required || !reading.NotifyValue || reading.PathString() != "temperatureSensor/reading" {
		t.Errorf("Field(reading) = %+v", reading)
	}
	control, _ := desc.Field("control")
	if control.Existence != Optional || control.Access != resource.AccessExclusive || control.Priority != nil {
		t.Errorf("Field(control) = %+v", control)
	}

	// Fields returns a copy.
	fields[0].Name = "mutated"
	if _, ok := desc.Field("reading"); !ok {
		t.Error("Fields() exposed internal state")
	}
}

func TestDefine_Invalid(t *testing.T) {
	g := newTestGraph(t)
	float := g.Types().MustGet(resource.TypeFloat)
	thermostat := g.Types().MustGet("Thermostat")

	tests := []struct {
		name    string
		builder *Builder
	}{
		{"empty name", Define("", thermostat).Field("a", "valve", float)},
		{"nil anchor", Define("p", nil)},
		{"duplicate field", Define("p", thermostat).Field("a", "valve", float).Field("a", "valve", float)},
		{"empty path", Define("p", thermostat).Field("a", "/", float)},
		{"bad path element", Define("p", thermostat).Field("a", "valve/se tting", float)},
		{"nil field type", Define("p", thermostat).Field("a", "valve", nil)},
		{"modifier before field", Define("p", thermostat).Optional()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			if !errors.Is(err, ErrInvalidDescriptor) {
				t.Errorf("Build() error = %v, want ErrInvalidDescriptor", err)
			}
		})
	}
}

func TestCatalog(t *testing.T) {
	g := newTestGraph(t)
	c := NewCatalog()
	desc := thermostatPattern(t, g)

	if err := c.Register(desc); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := c.Register(desc); err != nil {
		t.Errorf("Register(same) error = %v, want nil", err)
	}
	if err := c.Register(thermostatPattern(t, g)); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("Register(conflict) error = %v, want ErrInvalidDescriptor", err)
	}
	if !thermostatPattern(t, g).Equal(desc) {
		t.Error("Equal() = false for identical definitions")
	}
	inactive := Define("thermostat", desc.AnchorType()).AllowInactive().MustBuild()
	if inactive.Equal(desc) {
		t.Error("Equal() = true for different definitions")
	}
	if _, err := c.Get("missing"); !errors.Is(err, ErrUnknownPattern) {
		t.Errorf("Get(missing) error = %v, want ErrUnknownPattern", err)
	}
	if names := c.Names(); len(names) != 1 || names[0] != "thermostat" {
		t.Errorf("Names() = %v", names)
	}
}
