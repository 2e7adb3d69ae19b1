package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"
)

var (
	timeType       = reflect.TypeFor[time.Time]()
	jsonNumberType = reflect.TypeFor[json.Number]()
	rawMessageType = reflect.TypeFor[json.RawMessage]()
)

// ShapeOf derives a payload shape from the JSON encoding of struct type P.
//
// Members follow encoding/json naming. Pointer and omitempty members are
// optional; nested structs become objects; slices become arrays; string-keyed
// maps become open objects and interfaces accept any value. The empty struct
// yields the empty shape, i.e. an event without payload.
func ShapeOf[P any]() (Shape, error) {
	t := reflect.TypeFor[P]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return Shape{}, fmt.Errorf("%w: %s is not a struct", ErrShapeInvalid, t)
	}
	return shapeFromStruct(t, map[reflect.Type]bool{})
}

func shapeFromStruct(t reflect.Type, visiting map[reflect.Type]bool) (Shape, error) {
	if visiting[t] {
		return Shape{}, fmt.Errorf("%w: %s is recursive", ErrShapeInvalid, t)
	}
	visiting[t] = true
	defer delete(visiting, t)

	var shape Shape
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if sf.Anonymous && name == "" {
			embedded := sf.Type
			if embedded.Kind() == reflect.Pointer {
				embedded = embedded.Elem()
			}
			if embedded.Kind() == reflect.Struct {
				inner, err := shapeFromStruct(embedded, visiting)
				if err != nil {
					return Shape{}, err
				}
				shape.Fields = append(shape.Fields, inner.Fields...)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		field, err := fieldFromType(name, sf.Type, visiting)
		if err != nil {
			return Shape{}, fmt.Errorf("%s.%s: %w", t.Name(), sf.Name, err)
		}
		if strings.Contains(","+opts+",", ",omitempty,") || strings.Contains(","+opts+",", ",omitzero,") {
			field.Optional = true
		}
		shape.Fields = append(shape.Fields, field)
	}
	return shape, nil
}

func fieldFromType(name string, t reflect.Type, visiting map[reflect.Type]bool) (Field, error) {
	optional := false
	for t.Kind() == reflect.Pointer {
		optional = true
		t = t.Elem()
	}
	field := Field{Name: name, Optional: optional}

	switch {
	case t == timeType:
		field.Kind = KindString
		return field, nil
	case t == jsonNumberType:
		field.Kind = KindNumber
		return field, nil
	case t == rawMessageType:
		field.Kind = KindAny
		return field, nil
	}

	switch t.Kind() {
	case reflect.String:
		field.Kind = KindString
	case reflect.Bool:
		field.Kind = KindBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		field.Kind = KindInteger
		field.Bits = t.Bits()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		field.Kind = KindInteger
		field.Bits = t.Bits()
		field.Unsigned = true
	case reflect.Float32, reflect.Float64:
		field.Kind = KindNumber
	case reflect.Interface:
		field.Kind = KindAny
	case reflect.Struct:
		nested, err := shapeFromStruct(t, visiting)
		if err != nil {
			return Field{}, err
		}
		field.Kind = KindObject
		field.Shape = nested
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return Field{}, fmt.Errorf("%w: map key %s is not a string", ErrShapeInvalid, t.Key())
		}
		field.Kind = KindObject
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			// encoding/json writes byte slices as base64 strings.
			field.Kind = KindString
			return field, nil
		}
		elem, err := fieldFromType("", t.Elem(), visiting)
		if err != nil {
			return Field{}, err
		}
		elem.Optional = false
		field.Kind = KindArray
		field.Elem = &elem
	default:
		return Field{}, fmt.Errorf("%w: %s has no payload representation", ErrShapeInvalid, t)
	}
	return field, nil
}

// RegisterType registers name with the shape derived from P.
func RegisterType[P any](r *Registry, name Name) error {
	shape, err := ShapeOf[P]()
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	return r.Register(name, shape)
}

// Handle subscribes fn to name with the validated payload decoded into P.
func Handle[P any](r *Registry, name Name, fn func(context.Context, P) (any, error)) error {
	if fn == nil {
		return ErrHandlerRequired
	}
	return r.Subscribe(name, func(ctx context.Context, payload Payload) (any, error) {
		typed, err := Decode[P](payload)
		if err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", name, err)
		}
		return fn(ctx, typed)
	})
}

// Decode converts a validated payload into P through its JSON encoding. A nil
// payload decodes to the zero value.
func Decode[P any](payload Payload) (P, error) {
	var typed P
	if payload == nil {
		return typed, nil
	}
	data, err := json.Marshal(map[string]any(payload))
	if err != nil {
		return typed, fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, &typed); err != nil {
		return typed, err
	}
	return typed, nil
}

// DecodePayload parses a JSON payload document. Empty input and null mean the
// payload was omitted. Numbers keep their literal form as json.Number.
func DecodePayload(raw []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: payload json: %v", ErrInvalidPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: payload json has trailing data", ErrInvalidPayload)
	}
	members, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: payload must be a JSON object, got %s", ErrInvalidPayload, describe(value))
	}
	return Payload(members), nil
}

// DispatchJSON decodes raw with DecodePayload and dispatches the result.
func (r *Registry) DispatchJSON(ctx context.Context, name Name, raw []byte) (Result, error) {
	payload, err := DecodePayload(raw)
	if err != nil {
		return Result{}, err
	}
	return r.Dispatch(ctx, name, payload)
}
