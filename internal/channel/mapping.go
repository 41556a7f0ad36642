package channel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// Direction says which way values flow over a mapping.
type Direction string

// Mapping directions.
const (
	// DirectionIn writes values received on the topic into the resource.
	DirectionIn Direction = "in"

	// DirectionOut publishes value changes of the resource on the topic.
	DirectionOut Direction = "out"
)

// Mapping binds one resource path to one MQTT topic.
type Mapping struct {
	Path      string    `yaml:"path" validate:"required,respath"`
	Direction Direction `yaml:"direction" validate:"required,oneof=in out"`

	// Topic defaults to the service's set or value topic for Path.
	Topic string `yaml:"topic" validate:"omitempty,excludesall=+#"`

	// Retain publishes outbound values as retained messages.
	Retain bool `yaml:"retain"`
}

// mappingFile is the on-disk layout.
type mappingFile struct {
	Mappings []Mapping `yaml:"mappings" validate:"dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	//nolint:errcheck // tag name is a constant and the func is non-nil
	v.RegisterValidation("respath", func(fl validator.FieldLevel) bool {
		return validPath(fl.Field().String())
	})
	return v
}

func validPath(p string) bool {
	if p == "" {
		return false
	}
	for _, part := range strings.Split(p, resource.PathSeparator) {
		if !resource.IsValidName(part) {
			return false
		}
	}
	return true
}

// ParseMappings reads a mapping document, fills default topics and checks
// that no two inbound mappings share a topic.
//
//	mappings:
//	  - path: livingRoom/thermostat/temperatureSensor
//	    direction: in
//	    topic: sensors/living/temperature
//	  - path: livingRoom/thermostat/valve/setting
//	    direction: out
//	    retain: true
func ParseMappings(r io.Reader) ([]Mapping, error) {
	var f mappingFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMapping, err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMapping, err)
	}

	var topics mqtt.Topics
	inbound := make(map[string]string)
	for i := range f.Mappings {
		m := &f.Mappings[i]
		if m.Topic == "" {
			if m.Direction == DirectionIn {
				m.Topic = topics.ResourceSet(m.Path)
			} else {
				m.Topic = topics.ResourceValue(m.Path)
			}
		}
		if m.Direction != DirectionIn {
			continue
		}
		if prev, ok := inbound[m.Topic]; ok {
			return nil, fmt.Errorf("%w: topic %q is mapped to %s and %s", ErrInvalidMapping, m.Topic, prev, m.Path)
		}
		inbound[m.Topic] = m.Path
	}
	return f.Mappings, nil
}

// LoadMappings reads the mapping file at path.
func LoadMappings(path string) ([]Mapping, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from trusted configuration
	if err != nil {
		return nil, fmt.Errorf("opening mapping file: %w", err)
	}
	defer f.Close()

	mappings, err := ParseMappings(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mappings, nil
}
