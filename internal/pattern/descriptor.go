package pattern

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// Existence says whether a field must exist for the pattern to be satisfied.
type Existence int

// Existence requirements.
const (
	Required Existence = iota
	Optional
)

// String returns the lower-case name.
func (e Existence) String() string {
	if e == Optional {
		return "optional"
	}
	return "required"
}

// FieldSpec describes one field of a pattern: a relative path from the
// anchor and the requirements on the resource found there.
type FieldSpec struct {
	Name      string
	Path      []string
	Type      *resource.Type
	Existence Existence

	// Access is the write access requested while the instance is available.
	// AccessReadOnly requests nothing.
	Access resource.AccessMode

	// Priority for the access claim; nil uses the demand's priority.
	Priority *resource.Priority

	NotifyValue     bool
	NotifyStructure bool
}

// PathString returns the field path joined with the resource path separator.
func (f FieldSpec) PathString() string {
	return strings.Join(f.Path, resource.PathSeparator)
}

// Descriptor is an immutable pattern definition: an anchor type and an
// ordered list of fields. Build one with Define.
type Descriptor struct {
	name          string
	anchor        *resource.Type
	fields        []FieldSpec
	requireActive bool
}

// Name returns the stable identifier of the pattern.
func (d *Descriptor) Name() string { return d.name }

// AnchorType returns the type the pattern is evaluated against.
func (d *Descriptor) AnchorType() *resource.Type { return d.anchor }

// RequireActive reports whether the anchor and required fields must be
// active for the pattern to be satisfied.
func (d *Descriptor) RequireActive() bool { return d.requireActive }

// Fields returns a copy of the field list in declaration order.
func (d *Descriptor) Fields() []FieldSpec {
	return append([]FieldSpec(nil), d.fields...)
}

// Field returns the named field.
func (d *Descriptor) Field(name string) (FieldSpec, bool) {
	for _, f := range d.fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Equal reports whether d and o define the same pattern.
func (d *Descriptor) Equal(o *Descriptor) bool {
	if d == o {
		return true
	}
	if d == nil || o == nil || d.name != o.name || d.anchor != o.anchor ||
		d.requireActive != o.requireActive || len(d.fields) != len(o.fields) {
		return false
	}
	for i := range d.fields {
		if !d.fields[i].equal(o.fields[i]) {
			return false
		}
	}
	return true
}

func (f FieldSpec) equal(o FieldSpec) bool {
	if f.Name != o.Name || f.Type != o.Type || f.Existence != o.Existence ||
		f.Access != o.Access || f.NotifyValue != o.NotifyValue ||
		f.NotifyStructure != o.NotifyStructure || f.PathString() != o.PathString() {
		return false
	}
	if (f.Priority == nil) != (o.Priority == nil) {
		return false
	}
	return f.Priority == nil || *f.Priority == *o.Priority
}

// Builder assembles a Descriptor. Modifier methods apply to the most
// recently added field. Errors are collected and reported by Build.
type Builder struct {
	desc Descriptor
	errs []error
}

// Define starts a pattern named name anchored at resources of anchorType.
//
//	desc, err := pattern.Define("thermostat", thermostatType).
//	    Field("reading", "temperatureSensor/reading", floatType).NotifyValue().
//	    Field("feedback", "valve/setting/stateFeedback", floatType).Optional().NotifyStructure().
//	    Build()
func Define(name string, anchorType *resource.Type) *Builder {
	return &Builder{desc: Descriptor{name: name, anchor: anchorType, requireActive: true}}
}

// Field appends a field resolved by following path from the anchor.
func (b *Builder) Field(name, path string, t *resource.Type) *Builder {
	var parts []string
	if trimmed := strings.Trim(path, resource.PathSeparator); trimmed != "" {
		parts = strings.Split(trimmed, resource.PathSeparator)
	}
	b.desc.fields = append(b.desc.fields, FieldSpec{Name: name, Path: parts, Type: t})
	return b
}

func (b *Builder) last(modifier string) *FieldSpec {
	if len(b.desc.fields) == 0 {
		b.errs = append(b.errs, fmt.Errorf("%s() before Field()", modifier))
		return nil
	}
	return &b.desc.fields[len(b.desc.fields)-1]
}

// Optional marks the last field as optional.
func (b *Builder) Optional() *Builder {
	if f := b.last("Optional"); f != nil {
		f.Existence = Optional
	}
	return b
}

// Access requests write access on the last field while instances are available.
func (b *Builder) Access(mode resource.AccessMode, prio resource.Priority) *Builder {
	if f := b.last("Access"); f != nil {
		f.Access = mode
		f.Priority = &prio
	}
	return b
}

// AccessMode requests write access at the demand's priority.
func (b *Builder) AccessMode(mode resource.AccessMode) *Builder {
	if f := b.last("AccessMode"); f != nil {
		f.Access = mode
	}
	return b
}

// NotifyValue subscribes to value changes of the last field.
func (b *Builder) NotifyValue() *Builder {
	if f := b.last("NotifyValue"); f != nil {
		f.NotifyValue = true
	}
	return b
}

// NotifyStructure subscribes to structure changes of the last field.
func (b *Builder) NotifyStructure() *Builder {
	if f := b.last("NotifyStructure"); f != nil {
		f.NotifyStructure = true
	}
	return b
}

// AllowInactive lets instances be satisfied while resources are inactive.
func (b *Builder) AllowInactive() *Builder {
	b.desc.requireActive = false
	return b
}

// Build validates and returns the descriptor.
func (b *Builder) Build() (*Descriptor, error) {
	errs := append([]error(nil), b.errs...)
	d := b.desc

	if !resource.IsValidName(d.name) {
		errs = append(errs, fmt.Errorf("name %q", d.name))
	}
	if d.anchor == nil {
		errs = append(errs, errors.New("missing anchor type"))
	}
	seen := make(map[string]bool, len(d.fields))
	for _, f := range d.fields {
		switch {
		case !resource.IsValidName(f.Name):
			errs = append(errs, fmt.Errorf("field name %q", f.Name))
		case seen[f.Name]:
			errs = append(errs, fmt.Errorf("duplicate field %q", f.Name))
		}
		seen[f.Name] = true
		if len(f.Path) == 0 {
			errs = append(errs, fmt.Errorf("field %s: empty path", f.Name))
		}
		for _, p := range f.Path {
			if !resource.IsValidName(p) {
				errs = append(errs, fmt.Errorf("field %s: path element %q", f.Name, p))
			}
		}
		if f.Type == nil {
			errs = append(errs, fmt.Errorf("field %s: missing type", f.Name))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDescriptor, d.name, errors.Join(errs...))
	}

	d.fields = append([]FieldSpec(nil), d.fields...)
	return &d, nil
}

// MustBuild is Build for static definitions; it panics on error.
func (b *Builder) MustBuild() *Descriptor {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}
