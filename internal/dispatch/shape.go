package dispatch

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind names the structural type a payload field must carry.
type Kind string

const (
	// KindString accepts Go strings.
	KindString Kind = "string"
	// KindNumber accepts any Go integer or float and json.Number.
	KindNumber Kind = "number"
	// KindInteger accepts whole numbers that fit the field's Bits and
	// Unsigned constraints.
	KindInteger Kind = "integer"
	// KindBool accepts Go booleans.
	KindBool Kind = "bool"
	// KindObject accepts string-keyed maps checked against a nested shape.
	KindObject Kind = "object"
	// KindArray accepts slices whose elements match Elem.
	KindArray Kind = "array"
	// KindAny accepts any non-null value.
	KindAny Kind = "any"
)

func (k Kind) valid() bool {
	switch k {
	case KindString, KindNumber, KindInteger, KindBool, KindObject, KindArray, KindAny:
		return true
	default:
		return false
	}
}

// Field describes one named member of a payload shape.
type Field struct {
	Name     string
	Kind     Kind
	Optional bool
	// Enum restricts a string field to a closed set of literals.
	Enum []string
	// Shape describes the members of an object field. An empty shape accepts
	// any object.
	Shape Shape
	// Elem describes each element of an array field. Its Name is ignored.
	Elem *Field
	// Bits bounds an integer field to the range of a signed or unsigned
	// integer of that width: 8, 16, 32 or 64. Zero means 64.
	Bits int
	// Unsigned rejects negative values on an integer field.
	Unsigned bool
}

// Shape is the structural contract a payload must satisfy.
//
// A shape with no fields declares that the variant takes no payload.
type Shape struct {
	Fields []Field
	// Closed rejects payload members that are not declared in Fields.
	Closed bool
}

// NewShape builds an open shape from the given fields.
func NewShape(fields ...Field) Shape {
	return Shape{Fields: fields}
}

// Strict returns a copy of the shape that rejects undeclared members.
func (s Shape) Strict() Shape {
	out := s.clone()
	out.Closed = true
	return out
}

// Empty reports whether the shape declares no payload.
func (s Shape) Empty() bool {
	return len(s.Fields) == 0
}

// String renders the shape as a compact type literal, e.g.
// {userId: string, tags?: string[]}.
func (s Shape) String() string {
	if len(s.Fields) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(s.Fields))
	for _, field := range s.Fields {
		name := field.Name
		if field.Optional {
			name += "?"
		}
		parts = append(parts, name+": "+field.typeString())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (f Field) typeString() string {
	switch f.Kind {
	case KindString:
		if len(f.Enum) == 0 {
			return string(KindString)
		}
		quoted := make([]string, len(f.Enum))
		for i, value := range f.Enum {
			quoted[i] = strconv.Quote(value)
		}
		return strings.Join(quoted, " | ")
	case KindObject:
		if f.Shape.Empty() {
			return string(KindObject)
		}
		return f.Shape.String()
	case KindArray:
		if f.Elem == nil {
			return "array"
		}
		elem := f.Elem.typeString()
		if len(f.Elem.Enum) > 0 {
			elem = "(" + elem + ")"
		}
		return elem + "[]"
	default:
		return string(f.Kind)
	}
}

// String declares a required string field.
func String(name string) Field {
	return Field{Name: name, Kind: KindString}
}

// Number declares a required numeric field.
func Number(name string) Field {
	return Field{Name: name, Kind: KindNumber}
}

// Integer declares a required whole-number field within the int64 range.
func Integer(name string) Field {
	return Field{Name: name, Kind: KindInteger}
}

// Bool declares a required boolean field.
func Bool(name string) Field {
	return Field{Name: name, Kind: KindBool}
}

// Any declares a required field of unconstrained type.
func Any(name string) Field {
	return Field{Name: name, Kind: KindAny}
}

// Enum declares a required string field limited to values.
func Enum(name string, values ...string) Field {
	return Field{Name: name, Kind: KindString, Enum: values}
}

// Object declares a required object field with the given members.
func Object(name string, fields ...Field) Field {
	return Field{Name: name, Kind: KindObject, Shape: Shape{Fields: fields}}
}

// Array declares a required array field whose elements match elem.
func Array(name string, elem Field) Field {
	elem.Name = ""
	return Field{Name: name, Kind: KindArray, Elem: &elem}
}

// AsOptional returns a copy of the field that may be omitted.
func (f Field) AsOptional() Field {
	f.Optional = true
	return f
}

func (s Shape) clone() Shape {
	if s.Fields == nil {
		return Shape{Closed: s.Closed}
	}
	fields := make([]Field, len(s.Fields))
	for i, field := range s.Fields {
		fields[i] = field.clone()
	}
	return Shape{Fields: fields, Closed: s.Closed}
}

func (f Field) clone() Field {
	if f.Enum != nil {
		f.Enum = append([]string(nil), f.Enum...)
	}
	f.Shape = f.Shape.clone()
	if f.Elem != nil {
		elem := f.Elem.clone()
		f.Elem = &elem
	}
	return f
}

// checkShape reports the first structural defect in a shape declaration.
func checkShape(s Shape, prefix string) error {
	seen := make(map[string]struct{}, len(s.Fields))
	for _, field := range s.Fields {
		name := strings.TrimSpace(field.Name)
		if name == "" {
			return fmt.Errorf("%w: field name is required in %s", ErrShapeInvalid, describePrefix(prefix))
		}
		if name != field.Name {
			return fmt.Errorf("%w: field name %q has surrounding whitespace", ErrShapeInvalid, field.Name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: field %s declared twice", ErrShapeInvalid, joinPath(prefix, name))
		}
		seen[name] = struct{}{}
		if err := checkField(field, joinPath(prefix, name)); err != nil {
			return err
		}
	}
	return nil
}

func checkField(field Field, path string) error {
	if !field.Kind.valid() {
		return fmt.Errorf("%w: field %s has unknown kind %q", ErrShapeInvalid, path, field.Kind)
	}
	if len(field.Enum) > 0 && field.Kind != KindString {
		return fmt.Errorf("%w: field %s declares enum values on a %s", ErrShapeInvalid, path, field.Kind)
	}
	if field.Kind != KindObject && !field.Shape.Empty() {
		return fmt.Errorf("%w: field %s declares members on a %s", ErrShapeInvalid, path, field.Kind)
	}
	if field.Kind != KindObject && field.Shape.Closed {
		return fmt.Errorf("%w: field %s declares closed on a %s", ErrShapeInvalid, path, field.Kind)
	}
	if field.Kind != KindInteger && (field.Bits != 0 || field.Unsigned) {
		return fmt.Errorf("%w: field %s declares integer bounds on a %s", ErrShapeInvalid, path, field.Kind)
	}
	switch field.Bits {
	case 0, 8, 16, 32, 64:
	default:
		return fmt.Errorf("%w: field %s has unsupported integer width %d", ErrShapeInvalid, path, field.Bits)
	}
	switch field.Kind {
	case KindObject:
		return checkShape(field.Shape, path)
	case KindArray:
		if field.Elem == nil {
			return fmt.Errorf("%w: array field %s has no element type", ErrShapeInvalid, path)
		}
		return checkField(*field.Elem, path+"[]")
	default:
		if field.Elem != nil {
			return fmt.Errorf("%w: field %s declares an element type on a %s", ErrShapeInvalid, path, field.Kind)
		}
	}
	return nil
}

func describePrefix(prefix string) string {
	if prefix == "" {
		return "payload"
	}
	return prefix
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
