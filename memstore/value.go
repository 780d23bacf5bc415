// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memstore

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ValueType classifies the structural shape of a stored value.
//
// The type is computed at write time from the value itself; callers
// pattern-match on it instead of type-asserting an opaque interface.
type ValueType string

const (
	// TypeString is a UTF-8 string value.
	TypeString ValueType = "string"

	// TypeNumber is a float64 value. Integers written through FromAny
	// are widened to float64, matching JSON number semantics.
	TypeNumber ValueType = "number"

	// TypeBoolean is a true/false value.
	TypeBoolean ValueType = "boolean"

	// TypeObject is a string-keyed mapping of nested values.
	TypeObject ValueType = "object"

	// TypeArray is an ordered sequence of nested values.
	TypeArray ValueType = "array"

	// TypeNull is an explicit null written by a caller.
	TypeNull ValueType = "null"

	// TypeAbsent marks a value that does not exist. It is the sentinel
	// returned by Read for missing keys and is never stored.
	TypeAbsent ValueType = "absent"
)

// Value is a tagged union over the shapes a store entry may hold.
//
// # Description
//
// Value is immutable once constructed: the constructors deep-copy any
// maps or slices they receive, and the accessors return deep copies, so
// neither a caller nor the store can mutate the other's state through a
// shared reference.
//
// The zero Value is the absent sentinel.
//
// # Thread Safety
//
// Value is safe for concurrent use because it is never mutated after
// construction.
type Value struct {
	typ  ValueType
	str  string
	num  float64
	b    bool
	obj  map[string]Value
	arr  []Value
}

// StringValue returns a string-typed Value.
func StringValue(s string) Value {
	return Value{typ: TypeString, str: s}
}

// NumberValue returns a number-typed Value.
func NumberValue(n float64) Value {
	return Value{typ: TypeNumber, num: n}
}

// BoolValue returns a boolean-typed Value.
func BoolValue(b bool) Value {
	return Value{typ: TypeBoolean, b: b}
}

// ObjectValue returns an object-typed Value. The input map is deep-copied.
func ObjectValue(fields map[string]Value) Value {
	obj := make(map[string]Value, len(fields))
	for k, v := range fields {
		obj[k] = v
	}
	return Value{typ: TypeObject, obj: obj}
}

// ArrayValue returns an array-typed Value. The input slice is copied.
func ArrayValue(items []Value) Value {
	arr := make([]Value, len(items))
	copy(arr, items)
	return Value{typ: TypeArray, arr: arr}
}

// NullValue returns the explicit null Value.
func NullValue() Value {
	return Value{typ: TypeNull}
}

// AbsentValue returns the not-found sentinel.
func AbsentValue() Value {
	return Value{}
}

// FromAny converts a JSON-shaped dynamic value into a Value.
//
// # Description
//
// Accepts the types produced by encoding/json decoding into any
// (string, float64, bool, map[string]any, []any, nil) plus the common
// Go integer types. Nested containers are converted recursively.
//
// # Outputs
//
//   - Value: The converted value.
//   - error: Non-nil if the dynamic type has no store representation.
func FromAny(v any) (Value, error) {
	switch tv := v.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return tv, nil
	case string:
		return StringValue(tv), nil
	case bool:
		return BoolValue(tv), nil
	case float64:
		return NumberValue(tv), nil
	case float32:
		return NumberValue(float64(tv)), nil
	case int:
		return NumberValue(float64(tv)), nil
	case int32:
		return NumberValue(float64(tv)), nil
	case int64:
		return NumberValue(float64(tv)), nil
	case map[string]any:
		obj := make(map[string]Value, len(tv))
		for k, nested := range tv {
			cv, err := FromAny(nested)
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", k, err)
			}
			obj[k] = cv
		}
		return Value{typ: TypeObject, obj: obj}, nil
	case []any:
		arr := make([]Value, 0, len(tv))
		for i, nested := range tv {
			cv, err := FromAny(nested)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			arr = append(arr, cv)
		}
		return Value{typ: TypeArray, arr: arr}, nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// Type returns the value's type tag.
func (v Value) Type() ValueType {
	if v.typ == "" {
		return TypeAbsent
	}
	return v.typ
}

// IsAbsent reports whether this is the not-found sentinel.
func (v Value) IsAbsent() bool {
	return v.Type() == TypeAbsent
}

// IsNull reports whether this is an explicit null.
func (v Value) IsNull() bool {
	return v.typ == TypeNull
}

// AsString returns the string payload. The second return is false if
// the value is not a string.
func (v Value) AsString() (string, bool) {
	return v.str, v.typ == TypeString
}

// AsNumber returns the numeric payload.
func (v Value) AsNumber() (float64, bool) {
	return v.num, v.typ == TypeNumber
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.typ == TypeBoolean
}

// AsObject returns a copy of the object payload.
func (v Value) AsObject() (map[string]Value, bool) {
	if v.typ != TypeObject {
		return nil, false
	}
	obj := make(map[string]Value, len(v.obj))
	for k, nested := range v.obj {
		obj[k] = nested
	}
	return obj, true
}

// AsArray returns a copy of the array payload.
func (v Value) AsArray() ([]Value, bool) {
	if v.typ != TypeArray {
		return nil, false
	}
	arr := make([]Value, len(v.arr))
	copy(arr, v.arr)
	return arr, true
}

// Interface converts the Value back into a JSON-shaped dynamic value.
//
// Absent converts to nil, same as null; use IsAbsent to distinguish.
func (v Value) Interface() any {
	switch v.typ {
	case TypeString:
		return v.str
	case TypeNumber:
		return v.num
	case TypeBoolean:
		return v.b
	case TypeObject:
		out := make(map[string]any, len(v.obj))
		for k, nested := range v.obj {
			out[k] = nested.Interface()
		}
		return out
	case TypeArray:
		out := make([]any, 0, len(v.arr))
		for _, nested := range v.arr {
			out = append(out, nested.Interface())
		}
		return out
	default:
		return nil
	}
}

// Equal reports structural equality between two values.
func (v Value) Equal(other Value) bool {
	if v.Type() != other.Type() {
		return false
	}
	switch v.typ {
	case TypeString:
		return v.str == other.str
	case TypeNumber:
		return v.num == other.num || (math.IsNaN(v.num) && math.IsNaN(other.num))
	case TypeBoolean:
		return v.b == other.b
	case TypeObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, nested := range v.obj {
			ov, ok := other.obj[k]
			if !ok || !nested.Equal(ov) {
				return false
			}
		}
		return true
	case TypeArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i, nested := range v.arr {
			if !nested.Equal(other.arr[i]) {
				return false
			}
		}
		return true
	default:
		// null == null, absent == absent
		return true
	}
}

// String renders the value for logs and test failures.
func (v Value) String() string {
	switch v.typ {
	case TypeString:
		return fmt.Sprintf("%q", v.str)
	case TypeNumber:
		return fmt.Sprintf("%g", v.num)
	case TypeBoolean:
		return fmt.Sprintf("%t", v.b)
	case TypeObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s := "{"
		for i, k := range keys {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("%s: %s", k, v.obj[k])
		}
		return s + "}"
	case TypeArray:
		s := "["
		for i, nested := range v.arr {
			if i > 0 {
				s += ", "
			}
			s += nested.String()
		}
		return s + "]"
	case TypeNull:
		return "null"
	default:
		return "<absent>"
	}
}

// valueJSON is the wire shape for snapshot serialization. The type tag
// is stored explicitly so null and absent survive a round trip.
type valueJSON struct {
	Type  ValueType       `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	wire := valueJSON{Type: v.Type()}
	switch v.typ {
	case TypeString, TypeNumber, TypeBoolean, TypeObject, TypeArray:
		raw, err := json.Marshal(v.Interface())
		if err != nil {
			return nil, err
		}
		wire.Value = raw
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var wire valueJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch wire.Type {
	case TypeNull:
		*v = NullValue()
		return nil
	case TypeAbsent, "":
		*v = AbsentValue()
		return nil
	}
	var payload any
	if err := json.Unmarshal(wire.Value, &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", wire.Type, err)
	}
	decoded, err := FromAny(payload)
	if err != nil {
		return err
	}
	if decoded.Type() != wire.Type {
		return fmt.Errorf("%w: payload is %s, tag says %s",
			ErrValueTypeMismatch, decoded.Type(), wire.Type)
	}
	*v = decoded
	return nil
}

// DetectType computes the ValueType a dynamic value would be stored as.
func DetectType(v any) (ValueType, error) {
	converted, err := FromAny(v)
	if err != nil {
		return "", err
	}
	return converted.Type(), nil
}
