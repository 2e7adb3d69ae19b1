// Package schema loads event variant declarations from YAML catalogs.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/louisbranch/typedevents/internal/dispatch"
	"gopkg.in/yaml.v3"
)

// ErrCatalogInvalid indicates a catalog document that cannot describe events.
var ErrCatalogInvalid = errors.New("event catalog is invalid")

// Catalog is a static list of event variants.
type Catalog struct {
	Events []EventSpec `yaml:"events"`
}

// EventSpec declares one event variant. Omitting fields declares an event
// without payload.
type EventSpec struct {
	Name   string      `yaml:"name"`
	Closed bool        `yaml:"closed"`
	Fields []FieldSpec `yaml:"fields"`
}

// FieldSpec declares one payload member. Items describes array elements and
// ignores its own name.
type FieldSpec struct {
	Name     string      `yaml:"name"`
	Type     string      `yaml:"type"`
	Optional bool        `yaml:"optional"`
	Enum     []string    `yaml:"enum"`
	Closed   bool        `yaml:"closed"`
	Fields   []FieldSpec `yaml:"fields"`
	Items    *FieldSpec  `yaml:"items"`
}

// Load decodes a single catalog document. Unknown keys and type names are
// rejected, as is any event whose shape is malformed.
func Load(r io.Reader) (Catalog, error) {
	if r == nil {
		return Catalog{}, fmt.Errorf("%w: reader is required", ErrCatalogInvalid)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var catalog Catalog
	if err := dec.Decode(&catalog); err != nil {
		if errors.Is(err, io.EOF) {
			return Catalog{}, nil
		}
		return Catalog{}, fmt.Errorf("%w: %v", ErrCatalogInvalid, err)
	}
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return Catalog{}, fmt.Errorf("%w: multiple YAML documents are not supported", ErrCatalogInvalid)
	} else if !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("%w: after first document: %v", ErrCatalogInvalid, err)
	}

	for i, event := range catalog.Events {
		if strings.TrimSpace(event.Name) == "" {
			return Catalog{}, fmt.Errorf("%w: event %d has no name", ErrCatalogInvalid, i)
		}
	}
	// Registering into a scratch registry surfaces duplicate names and
	// malformed shapes at load time.
	if err := catalog.Register(dispatch.NewRegistry()); err != nil {
		if errors.Is(err, ErrCatalogInvalid) {
			return Catalog{}, err
		}
		return Catalog{}, fmt.Errorf("%w: %w", ErrCatalogInvalid, err)
	}
	return catalog, nil
}

// LoadFile loads the catalog stored at path.
func LoadFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	catalog, err := Load(f)
	if err != nil {
		return Catalog{}, fmt.Errorf("load %s: %w", path, err)
	}
	return catalog, nil
}

// Register adds every catalog event to registry in declaration order.
func (c Catalog) Register(registry *dispatch.Registry) error {
	for _, event := range c.Events {
		shape, err := event.Shape()
		if err != nil {
			return err
		}
		if err := registry.Register(dispatch.Name(event.Name), shape); err != nil {
			return err
		}
	}
	return nil
}

// Shape converts the declaration into a dispatch shape.
func (e EventSpec) Shape() (dispatch.Shape, error) {
	fields, err := convertFields(e.Fields, e.Name)
	if err != nil {
		return dispatch.Shape{}, err
	}
	return dispatch.Shape{Fields: fields, Closed: e.Closed}, nil
}

func convertFields(specs []FieldSpec, path string) ([]dispatch.Field, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	fields := make([]dispatch.Field, 0, len(specs))
	for _, spec := range specs {
		field, err := spec.field(path + "." + spec.Name)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func (s FieldSpec) field(path string) (dispatch.Field, error) {
	kind, err := parseKind(s.Type)
	if err != nil {
		return dispatch.Field{}, fmt.Errorf("%w: %s: %v", ErrCatalogInvalid, path, err)
	}
	nested, err := convertFields(s.Fields, path)
	if err != nil {
		return dispatch.Field{}, err
	}
	field := dispatch.Field{
		Name:     s.Name,
		Kind:     kind,
		Optional: s.Optional,
		Enum:     s.Enum,
		Shape:    dispatch.Shape{Fields: nested, Closed: s.Closed},
		Unsigned: strings.EqualFold(strings.TrimSpace(s.Type), "uint"),
	}
	if s.Items != nil {
		elem, err := s.Items.field(path + "[]")
		if err != nil {
			return dispatch.Field{}, err
		}
		elem.Name = ""
		field.Elem = &elem
	}
	return field, nil
}

func parseKind(name string) (dispatch.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "string":
		return dispatch.KindString, nil
	case "number", "float":
		return dispatch.KindNumber, nil
	case "int", "integer", "uint":
		return dispatch.KindInteger, nil
	case "bool", "boolean":
		return dispatch.KindBool, nil
	case "object":
		return dispatch.KindObject, nil
	case "array":
		return dispatch.KindArray, nil
	case "any":
		return dispatch.KindAny, nil
	case "":
		return "", errors.New("type is required")
	default:
		return "", fmt.Errorf("unknown type %q", name)
	}
}
