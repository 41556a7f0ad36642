package pattern

import "github.com/nerrad567/gray-logic-resgraph/internal/resource"

// Listener receives the lifecycle of pattern instances matched by a demand.
//
// Listeners are registry keys, so their dynamic type must be comparable;
// pointer receivers are the usual choice.
type Listener interface {
	// PatternAvailable is called when an instance becomes satisfied.
	PatternAvailable(inst *Instance)

	// PatternUnavailable is called when an available instance stops being
	// satisfied, including when its anchor is deleted.
	PatternUnavailable(inst *Instance)

	// PatternChanged is called while an instance stays available and a
	// field with a declared subscription changed.
	PatternChanged(inst *Instance, changes []ChangeEvent)
}

// ChangeListener receives field changes of one instance regardless of
// whether it is currently satisfied.
type ChangeListener interface {
	PatternChanged(inst *Instance, changes []ChangeEvent)
}

// ChangeKind classifies a field change.
type ChangeKind int

// Change kinds.
const (
	ValueChanged ChangeKind = iota + 1
	StructureChanged
)

// String returns the snake_case name of the kind.
func (k ChangeKind) String() string {
	switch k {
	case ValueChanged:
		return "value_changed"
	case StructureChanged:
		return "structure_changed"
	default:
		return "unknown"
	}
}

// ChangeEvent describes one change of one field.
type ChangeEvent struct {
	Field  string
	Kind   ChangeKind
	Handle *resource.Handle

	// Value is set for value changes.
	Value *resource.ValueEvent

	// Structure is the event that triggered a structure change, when the
	// change was caused by an event on the field itself.
	Structure *resource.StructureEvent
}

// CallbackKind names the callback delivered to a listener.
type CallbackKind string

// Callback kinds.
const (
	CallbackAvailable   CallbackKind = "available"
	CallbackUnavailable CallbackKind = "unavailable"
	CallbackChanged     CallbackKind = "changed"
)

// Recorder is told about every callback delivered to a listener.
type Recorder interface {
	CallbackDelivered(pattern string, kind CallbackKind)
}

type noopRecorder struct{}

func (noopRecorder) CallbackDelivered(string, CallbackKind) {}

// changeOnly adapts a ChangeListener to the demand machinery. Instances
// are reported whether or not they are satisfied.
type changeOnly struct {
	l ChangeListener
}

func (c changeOnly) PatternAvailable(*Instance)   {}
func (c changeOnly) PatternUnavailable(*Instance) {}
func (c changeOnly) PatternChanged(inst *Instance, changes []ChangeEvent) {
	c.l.PatternChanged(inst, changes)
}
