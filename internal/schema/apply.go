package schema

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/nerrad567/gray-logic-resgraph/internal/pattern"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// Result lists what an Apply call changed.
type Result struct {
	// Types are newly registered type names.
	Types []string `json:"types"`

	// Patterns are newly registered pattern names.
	Patterns []string `json:"patterns"`

	// Replaced are patterns whose definition changed. Demands registered
	// before the change keep the old definition.
	Replaced []string `json:"replaced,omitempty"`
}

// Empty reports whether nothing changed.
func (r Result) Empty() bool {
	return len(r.Types) == 0 && len(r.Patterns) == 0 && len(r.Replaced) == 0
}

// Apply registers the types and patterns defined in files.
//
// Types may reference each other in any order, across files. Type
// registration is idempotent, so a type already known under the same name
// is left untouched. Everything that resolves is applied; the returned error
// joins every definition that could not be.
func Apply(types *resource.Types, catalog *pattern.Catalog, files []*File) (Result, error) {
	var res Result
	var errs []error

	specs, err := mergeTypes(files)
	if err != nil {
		errs = append(errs, err)
	}
	res.Types, err = registerTypes(types, specs)
	if err != nil {
		errs = append(errs, err)
	}

	for _, f := range files {
		for _, ps := range f.Patterns {
			desc, err := buildPattern(types, ps)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: pattern %s: %w", f.Path, ps.Name, err))
				continue
			}
			existing, err := catalog.Get(desc.Name())
			switch {
			case err != nil:
				if err := catalog.Register(desc); err != nil {
					errs = append(errs, err)
					continue
				}
				res.Patterns = append(res.Patterns, desc.Name())
			case !existing.Equal(desc):
				catalog.Replace(desc)
				res.Replaced = append(res.Replaced, desc.Name())
			}
		}
	}

	return res, errors.Join(errs...)
}

// mergeTypes collects type specs across files. The same name may appear in
// several files only with an identical definition.
func mergeTypes(files []*File) ([]TypeSpec, error) {
	byName := make(map[string]TypeSpec)
	var order []string
	var errs []error
	for _, f := range files {
		for _, ts := range f.Types {
			if prev, ok := byName[ts.Name]; ok {
				if !reflect.DeepEqual(prev, ts) {
					errs = append(errs, fmt.Errorf("%w: %s: type %s defined differently in another file", ErrInvalidDefinition, f.Path, ts.Name))
				}
				continue
			}
			byName[ts.Name] = ts
			order = append(order, ts.Name)
		}
	}
	specs := make([]TypeSpec, 0, len(order))
	for _, name := range order {
		specs = append(specs, byName[name])
	}
	return specs, errors.Join(errs...)
}

// registerTypes registers specs once everything they depend on is known,
// repeating until no further progress is possible.
func registerTypes(types *resource.Types, specs []TypeSpec) ([]string, error) {
	var added []string
	var errs []error
	pending := specs

	for len(pending) > 0 {
		var next []TypeSpec
		for _, ts := range pending {
			if !dependenciesKnown(types, ts) {
				next = append(next, ts)
				continue
			}
			_, known := types.Get(ts.Name)
			if _, err := types.Register(typeDef(ts)); err != nil {
				errs = append(errs, err)
				continue
			}
			if !known {
				added = append(added, ts.Name)
			}
		}
		if len(next) == len(pending) {
			names := make([]string, 0, len(next))
			for _, ts := range next {
				names = append(names, ts.Name)
			}
			sort.Strings(names)
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnresolvedType, strings.Join(names, ", ")))
			break
		}
		pending = next
	}
	return added, errors.Join(errs...)
}

func dependenciesKnown(types *resource.Types, ts TypeSpec) bool {
	deps := []string{ts.Extends, ts.Element}
	for _, m := range ts.Members {
		deps = append(deps, m.Type)
	}
	for _, d := range deps {
		if d == "" || d == ts.Name {
			continue
		}
		if _, ok := types.Get(d); !ok {
			return false
		}
	}
	return true
}

func typeDef(ts TypeSpec) resource.TypeDef {
	def := resource.TypeDef{
		Name:    ts.Name,
		Extends: ts.Extends,
		Value:   resource.ValueKind(ts.Value),
		Array:   ts.Array,
		Element: ts.Element,
	}
	for _, m := range ts.Members {
		def.Members = append(def.Members, resource.MemberDef{Name: m.Name, Type: m.Type})
	}
	return def
}

func buildPattern(types *resource.Types, ps PatternSpec) (*pattern.Descriptor, error) {
	lookup := func(name string) (*resource.Type, error) {
		t, ok := types.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedType, name)
		}
		return t, nil
	}

	anchor, err := lookup(ps.Anchor)
	if err != nil {
		return nil, err
	}
	b := pattern.Define(ps.Name, anchor)
	if ps.AllowInactive {
		b.AllowInactive()
	}

	for _, field := range ps.Fields {
		t, err := lookup(field.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		b.Field(field.Name, field.Path, t)
		if field.Optional {
			b.Optional()
		}

		mode, err := resource.ParseAccessMode(field.Access)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		if field.Priority != "" {
			prio, err := resource.ParsePriority(field.Priority)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field.Name, err)
			}
			b.Access(mode, prio)
		} else if mode != resource.AccessReadOnly {
			b.AccessMode(mode)
		}

		for _, n := range field.Notify {
			switch n {
			case "value":
				b.NotifyValue()
			case "structure":
				b.NotifyStructure()
			}
		}
	}
	return b.Build()
}
