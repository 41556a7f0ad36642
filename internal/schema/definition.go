package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// File is one definition file.
//
//	types:
//	  - name: TemperatureSensor
//	    extends: FloatResource
//	  - name: Thermostat
//	    members:
//	      - {name: temperatureSensor, type: TemperatureSensor}
//	patterns:
//	  - name: thermostat
//	    anchor: Thermostat
//	    fields:
//	      - name: reading
//	        path: temperatureSensor
//	        type: TemperatureSensor
//	        notify: [value]
type File struct {
	Path     string        `yaml:"-"`
	Types    []TypeSpec    `yaml:"types" validate:"dive"`
	Patterns []PatternSpec `yaml:"patterns" validate:"dive"`
}

// TypeSpec defines a resource type.
type TypeSpec struct {
	Name    string       `yaml:"name" validate:"required,resname"`
	Extends string       `yaml:"extends" validate:"omitempty,resname"`
	Value   string       `yaml:"value" validate:"omitempty,oneof=boolean integer float long time string"`
	Array   bool         `yaml:"array"`
	Element string       `yaml:"element" validate:"omitempty,resname"`
	Members []MemberSpec `yaml:"members" validate:"unique=Name,dive"`
}

// MemberSpec declares an optional child of a type.
type MemberSpec struct {
	Name string `yaml:"name" validate:"required,resname"`
	Type string `yaml:"type" validate:"required,resname"`
}

// PatternSpec defines a pattern.
type PatternSpec struct {
	Name          string      `yaml:"name" validate:"required,resname"`
	Anchor        string      `yaml:"anchor" validate:"required,resname"`
	AllowInactive bool        `yaml:"allow_inactive"`
	Fields        []FieldSpec `yaml:"fields" validate:"unique=Name,dive"`
}

// FieldSpec defines one pattern field.
type FieldSpec struct {
	Name     string   `yaml:"name" validate:"required,resname"`
	Path     string   `yaml:"path" validate:"required,respath"`
	Type     string   `yaml:"type" validate:"required,resname"`
	Optional bool     `yaml:"optional"`
	Access   string   `yaml:"access" validate:"omitempty,oneof=read_only shared exclusive"`
	Priority string   `yaml:"priority" validate:"omitempty,oneof=lowest low normal high highest"`
	Notify   []string `yaml:"notify" validate:"unique,dive,oneof=value structure"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string { return yamlName(f.Tag.Get("yaml")) })
	_ = v.RegisterValidation("resname", func(fl validator.FieldLevel) bool { //nolint:errcheck // Static tag
		return resource.IsValidName(fl.Field().String())
	})
	_ = v.RegisterValidation("respath", func(fl validator.FieldLevel) bool { //nolint:errcheck // Static tag
		return validPath(fl.Field().String())
	})
	return v
}

func yamlName(tag string) string {
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	return name
}

func validPath(p string) bool {
	for _, seg := range strings.Split(p, resource.PathSeparator) {
		if !resource.IsValidName(seg) {
			return false
		}
	}
	return true
}

// Parse decodes and validates one definition document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	return &f, nil
}

// LoadFile reads and parses a definition file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("reading definitions: %w", err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// LoadFiles loads every path, collecting all failures.
func LoadFiles(paths []string) ([]*File, error) {
	files := make([]*File, 0, len(paths))
	var errs []error
	for _, p := range paths {
		f, err := LoadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		files = append(files, f)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return files, nil
}
