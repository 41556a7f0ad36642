package resource

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// ValueKind identifies the scalar payload carried by a leaf type.
type ValueKind string

// Payload kinds.
const (
	KindNone    ValueKind = ""
	KindBoolean ValueKind = "boolean"
	KindInteger ValueKind = "integer"
	KindFloat   ValueKind = "float"
	KindLong    ValueKind = "long"
	KindTime    ValueKind = "time"
	KindString  ValueKind = "string"
)

// Built-in type names.
const (
	TypeResource          = "Resource"
	TypeBoolean           = "BooleanResource"
	TypeInteger           = "IntegerResource"
	TypeFloat             = "FloatResource"
	TypeLong              = "LongResource"
	TypeTime              = "TimeResource"
	TypeString            = "StringResource"
	TypeBooleanArray      = "BooleanArrayResource"
	TypeIntegerArray      = "IntegerArrayResource"
	TypeFloatArray        = "FloatArrayResource"
	TypeLongArray         = "LongArrayResource"
	TypeTimeArray         = "TimeArrayResource"
	TypeStringArray       = "StringArrayResource"
	TypeList              = "ResourceList"
	maxTypeHierarchyDepth = 64
)

// namePattern is the syntax for resource names, member names and type names.
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsValidName reports whether s can be used as a resource or type name.
func IsValidName(s string) bool {
	return namePattern.MatchString(s)
}

// IsValid reports whether k is a known payload kind.
func (k ValueKind) IsValid() bool {
	switch k {
	case KindNone, KindBoolean, KindInteger, KindFloat, KindLong, KindTime, KindString:
		return true
	}
	return false
}

// Member is a schema-declared optional child of a type.
type Member struct {
	Name string
	Type *Type
}

// Type is a registered resource schema. Types are immutable once registered
// and safe to share between goroutines.
type Type struct {
	name    string
	base    *Type
	members []Member
	value   ValueKind
	array   bool
	element *Type
}

// Name returns the unique type name.
func (t *Type) Name() string { return t.name }

// Base returns the supertype, or nil for the root Resource type.
func (t *Type) Base() *Type { return t.base }

// ValueKind returns the payload kind, KindNone for structural types.
func (t *Type) ValueKind() ValueKind { return t.value }

// IsArray reports whether the payload is an array of ValueKind.
func (t *Type) IsArray() bool { return t.array }

// Element returns the element type of a list type, or nil.
func (t *Type) Element() *Type { return t.element }

// IsList reports whether t is a "list of T" type.
func (t *Type) IsList() bool { return t.element != nil }

// HasValue reports whether resources of this type carry a payload.
func (t *Type) HasValue() bool { return t.value != KindNone }

// String implements fmt.Stringer.
func (t *Type) String() string { return t.name }

// AssignableTo reports whether a resource of type t may be used where u is expected.
func (t *Type) AssignableTo(u *Type) bool {
	if t == nil || u == nil {
		return false
	}
	for cur, depth := t, 0; cur != nil && depth < maxTypeHierarchyDepth; cur, depth = cur.base, depth+1 {
		if cur == u {
			return true
		}
	}
	return false
}

// Member looks up a declared member, searching the supertype chain.
func (t *Type) Member(name string) (*Type, bool) {
	for cur := t; cur != nil; cur = cur.base {
		for _, m := range cur.members {
			if m.Name == name {
				return m.Type, true
			}
		}
	}
	return nil, false
}

// Members returns all declared members, inherited members first.
func (t *Type) Members() []Member {
	var chain []*Type
	for cur := t; cur != nil; cur = cur.base {
		chain = append(chain, cur)
	}
	var out []Member
	seen := make(map[string]int)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, m := range chain[i].members {
			if idx, ok := seen[m.Name]; ok {
				out[idx] = m // narrowed in a subtype
				continue
			}
			seen[m.Name] = len(out)
			out = append(out, m)
		}
	}
	return out
}

// MemberDef declares a member in a TypeDef.
type MemberDef struct {
	Name string
	Type string
}

// TypeDef is the registration input for a type.
type TypeDef struct {
	Name    string
	Extends string // defaults to Resource (ResourceList when Element is set)
	Members []MemberDef
	Value   ValueKind
	Array   bool
	Element string
}

// Types is the registry of resource types.
//
// Registration is idempotent: registering a name that is already known returns
// the existing type. All methods are safe for concurrent use.
type Types struct {
	mu     sync.RWMutex
	byName map[string]*Type
}

// NewTypes creates a registry pre-populated with the built-in types.
func NewTypes() *Types {
	r := &Types{byName: make(map[string]*Type)}

	root := &Type{name: TypeResource}
	r.byName[root.name] = root

	scalars := []struct {
		name, array string
		kind        ValueKind
	}{
		{TypeBoolean, TypeBooleanArray, KindBoolean},
		{TypeInteger, TypeIntegerArray, KindInteger},
		{TypeFloat, TypeFloatArray, KindFloat},
		{TypeLong, TypeLongArray, KindLong},
		{TypeTime, TypeTimeArray, KindTime},
		{TypeString, TypeStringArray, KindString},
	}
	for _, s := range scalars {
		r.byName[s.name] = &Type{name: s.name, base: root, value: s.kind}
		r.byName[s.array] = &Type{name: s.array, base: root, value: s.kind, array: true}
	}
	r.byName[TypeList] = &Type{name: TypeList, base: root, element: root}

	return r
}

// Get returns the type registered under name.
func (r *Types) Get(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// MustGet returns the named type and panics if it is unknown.
// Intended for built-in names and tests.
func (r *Types) MustGet(name string) *Type {
	t, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("resource: unknown type %q", name))
	}
	return t
}

// Names returns all registered type names in sorted order.
func (r *Types) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Register adds a type. If a type with the same name is already registered
// the existing type is returned unchanged.
func (r *Types) Register(def TypeDef) (*Type, error) {
	if !IsValidName(def.Name) {
		return nil, fmt.Errorf("%w: name %q", ErrInvalidType, def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[def.Name]; ok {
		return existing, nil
	}

	t := &Type{name: def.Name, value: def.Value, array: def.Array}

	if def.Element != "" {
		elem, ok := r.byName[def.Element]
		if !ok && def.Element != def.Name {
			return nil, fmt.Errorf("%w: %s: unknown element type %q", ErrInvalidType, def.Name, def.Element)
		}
		if def.Element == def.Name {
			elem = t
		}
		t.element = elem
	}

	extends := def.Extends
	if extends == "" {
		extends = TypeResource
		if t.element != nil {
			extends = TypeList
		}
	}
	base, ok := r.byName[extends]
	if !ok {
		return nil, fmt.Errorf("%w: %s: unknown supertype %q", ErrInvalidType, def.Name, extends)
	}
	t.base = base

	if err := inheritPayload(t, base); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(def.Members))
	for _, md := range def.Members {
		if !IsValidName(md.Name) || seen[md.Name] {
			return nil, fmt.Errorf("%w: %s: member %q", ErrInvalidType, def.Name, md.Name)
		}
		seen[md.Name] = true

		var mt *Type
		if md.Type == def.Name {
			mt = t
		} else if mt, ok = r.byName[md.Type]; !ok {
			return nil, fmt.Errorf("%w: %s.%s: unknown type %q", ErrInvalidType, def.Name, md.Name, md.Type)
		}
		if inherited, ok := base.Member(md.Name); ok && !mt.AssignableTo(inherited) {
			return nil, fmt.Errorf("%w: %s.%s: %s does not narrow %s", ErrInvalidType, def.Name, md.Name, mt.name, inherited.name)
		}
		t.members = append(t.members, Member{Name: md.Name, Type: mt})
	}

	r.byName[t.name] = t
	return t, nil
}

// inheritPayload copies payload settings from base and rejects conflicts.
func inheritPayload(t, base *Type) error {
	if !t.value.IsValid() {
		return fmt.Errorf("%w: %s: unknown value kind %q", ErrInvalidType, t.name, t.value)
	}
	if base.value != KindNone {
		if t.value != KindNone && (t.value != base.value || t.array != base.array) {
			return fmt.Errorf("%w: %s: payload conflicts with %s", ErrInvalidType, t.name, base.name)
		}
		t.value = base.value
		t.array = base.array
	}
	if t.array && t.value == KindNone {
		return fmt.Errorf("%w: %s: array without value kind", ErrInvalidType, t.name)
	}
	if base.element != nil {
		if t.element == nil {
			t.element = base.element
		} else if !t.element.AssignableTo(base.element) {
			return fmt.Errorf("%w: %s: element %s does not narrow %s", ErrInvalidType, t.name, t.element.name, base.element.name)
		}
	}
	if t.element != nil && t.value != KindNone {
		return fmt.Errorf("%w: %s: list types carry no payload", ErrInvalidType, t.name)
	}
	return nil
}
