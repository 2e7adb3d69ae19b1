package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
	"strconv"
)

const (
	reasonMissing    = "missing"
	reasonUndeclared = "not declared by the event shape"
)

// validatePayload walks the shape depth-first. A single member stops at its
// first problem; problems across members all accumulate.
func validatePayload(shape Shape, payload Payload) []FieldError {
	var problems []FieldError
	checkMembers(shape, payload, "", &problems)
	return problems
}

func checkMembers(shape Shape, members map[string]any, prefix string, out *[]FieldError) {
	for _, field := range shape.Fields {
		path := joinPath(prefix, field.Name)
		value, ok := members[field.Name]
		if !ok || value == nil {
			if !field.Optional {
				*out = append(*out, FieldError{Path: path, Reason: reasonMissing})
			}
			continue
		}
		checkValue(field, value, path, out)
	}
	if !shape.Closed {
		return
	}
	var extras []string
	for name := range members {
		if !declares(shape, name) {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		*out = append(*out, FieldError{Path: joinPath(prefix, name), Reason: reasonUndeclared})
	}
}

func declares(shape Shape, name string) bool {
	for _, field := range shape.Fields {
		if field.Name == name {
			return true
		}
	}
	return false
}

func checkValue(field Field, value any, path string, out *[]FieldError) {
	mismatch := func() {
		*out = append(*out, FieldError{
			Path:   path,
			Reason: fmt.Sprintf("expected %s, got %s", field.typeString(), describe(value)),
		})
	}
	if value == nil {
		mismatch()
		return
	}

	switch field.Kind {
	case KindAny:
	case KindString:
		s, ok := value.(string)
		if !ok {
			mismatch()
			return
		}
		if len(field.Enum) > 0 && !slices.Contains(field.Enum, s) {
			mismatch()
		}
	case KindNumber:
		if !isNumber(value) {
			mismatch()
		}
	case KindInteger:
		if !isNumber(value) {
			mismatch()
			return
		}
		whole, inRange := checkInteger(field, value)
		switch {
		case !whole:
			mismatch()
		case !inRange:
			*out = append(*out, FieldError{
				Path:   path,
				Reason: fmt.Sprintf("%v out of range for %s", value, integerType(field)),
			})
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			mismatch()
		}
	case KindObject:
		members, ok := asObject(value)
		if !ok {
			mismatch()
			return
		}
		checkMembers(field.Shape, members, path, out)
	case KindArray:
		items, ok := asArray(value)
		if !ok {
			mismatch()
			return
		}
		for i, item := range items {
			checkValue(*field.Elem, item, path+"["+strconv.Itoa(i)+"]", out)
		}
	}
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	default:
		return false
	}
}

// checkInteger reports whether a numeric value is a whole number and whether
// it fits the field's width and sign. json.Number must be a plain integer
// literal, matching what encoding/json accepts for Go integer types.
func checkInteger(field Field, value any) (whole, inRange bool) {
	bits := field.Bits
	if bits == 0 {
		bits = 64
	}
	maxInt := int64(math.MaxInt64 >> (64 - bits))
	minInt := -maxInt - 1
	maxUint := uint64(math.MaxUint64 >> (64 - bits))

	if n, ok := value.(json.Number); ok {
		literal := string(n)
		var err error
		if field.Unsigned {
			_, err = strconv.ParseUint(literal, 10, bits)
			if err != nil {
				if _, signed := strconv.ParseInt(literal, 10, 64); signed == nil {
					return true, false
				}
			}
		} else {
			_, err = strconv.ParseInt(literal, 10, bits)
		}
		if err == nil {
			return true, true
		}
		if errors.Is(err, strconv.ErrRange) {
			return true, false
		}
		return false, false
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v := rv.Int()
		if field.Unsigned {
			return true, v >= 0 && uint64(v) <= maxUint
		}
		return true, v >= minInt && v <= maxInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v := rv.Uint()
		if field.Unsigned {
			return true, v <= maxUint
		}
		return true, v <= uint64(maxInt)
	case reflect.Float32, reflect.Float64:
		v := rv.Float()
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return false, false
		}
		if field.Unsigned {
			return true, !math.Signbit(v) && v < math.Ldexp(1, bits)
		}
		limit := math.Ldexp(1, bits-1)
		return true, v >= -limit && v < limit
	}
	return false, false
}

// integerType names the Go integer type a field's bounds correspond to.
func integerType(field Field) string {
	bits := field.Bits
	if bits == 0 {
		bits = 64
	}
	name := "int"
	if field.Unsigned {
		name = "uint"
	}
	return name + strconv.Itoa(bits)
}

func asObject(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case Payload:
		return v, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	members := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		members[iter.Key().String()] = iter.Value().Interface()
	}
	return members, true
}

func asArray(value any) ([]any, bool) {
	if items, ok := value.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// describe names the structural type of a payload value for diagnostics.
func describe(value any) string {
	if value == nil {
		return "null"
	}
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	}
	if isNumber(value) {
		return "number"
	}
	if _, ok := asObject(value); ok {
		return "object"
	}
	if _, ok := asArray(value); ok {
		return "array"
	}
	return fmt.Sprintf("%T", value)
}
