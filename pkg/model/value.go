package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind identifies the concrete type held by a Value.
type ValueKind int

const (
	KindAbsent ValueKind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
)

// String returns the kind name used in logs and error messages.
func (k ValueKind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a closed tagged union over the types an event field may carry.
// The zero Value is absent. Comparisons are typed: a mismatch between the
// kinds of two values makes the comparison false, it never raises an error.
type Value struct {
	kind ValueKind
	str  string
	i    int64
	f    float64
	b    bool
	list []Value
}

// Absent returns the absent Value. Looking up a missing event field
// yields this; it fails every predicate except an explicit absent check.
func Absent() Value { return Value{} }

// StringValue constructs a string Value.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// IntValue constructs an integer Value.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// FloatValue constructs a float Value.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// BoolValue constructs a boolean Value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// ListValue constructs a list Value from the given elements.
func ListValue(elems ...Value) Value {
	return Value{kind: KindList, list: elems}
}

// FromAny converts a value decoded from JSON or YAML into a Value.
// Unsupported types (nested maps, nil) convert to absent.
func FromAny(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Absent()
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case int:
		return IntValue(int64(t))
	case int32:
		return IntValue(int64(t))
	case int64:
		return IntValue(t)
	case uint64:
		return IntValue(int64(t))
	case float32:
		return FloatValue(float64(t))
	case float64:
		return FloatValue(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i)
		}
		if f, err := t.Float64(); err == nil {
			return FloatValue(f)
		}
		return StringValue(t.String())
	case []interface{}:
		elems := make([]Value, 0, len(t))
		for _, e := range t {
			elems = append(elems, FromAny(e))
		}
		return ListValue(elems...)
	case []string:
		elems := make([]Value, 0, len(t))
		for _, e := range t {
			elems = append(elems, StringValue(e))
		}
		return ListValue(elems...)
	case Value:
		return t
	default:
		return Absent()
	}
}

// Kind returns the kind tag of the value.
func (v Value) Kind() ValueKind { return v.kind }

// IsAbsent reports whether the value is absent.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// AsString returns the string payload. ok is false for non-string kinds.
func (v Value) AsString() (s string, ok bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsFloat returns the numeric payload for int and float kinds.
func (v Value) AsFloat() (f float64, ok bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// AsBool returns the boolean payload. ok is false for non-bool kinds.
func (v Value) AsBool() (b bool, ok bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsList returns the list elements. ok is false for non-list kinds.
func (v Value) AsList() (elems []Value, ok bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Equal reports typed equality. Int and float compare numerically with
// each other; any other kind mismatch is false. Absent never equals
// anything, including another absent value.
func (v Value) Equal(other Value) bool {
	if v.kind == KindAbsent || other.kind == KindAbsent {
		return false
	}
	switch v.kind {
	case KindString:
		return other.kind == KindString && v.str == other.str
	case KindBool:
		return other.kind == KindBool && v.b == other.b
	case KindInt, KindFloat:
		a, _ := v.AsFloat()
		b, ok := other.AsFloat()
		return ok && a == b
	case KindList:
		if other.kind != KindList || len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// KeyString renders the value as a stable string for use in correlation
// keys. Absent renders as the empty string.
func (v Value) KeyString() string {
	switch v.kind {
	case KindAbsent:
		return ""
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.KeyString()
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

// String implements fmt.Stringer for logs and test failure messages.
func (v Value) String() string {
	if v.kind == KindAbsent {
		return "<absent>"
	}
	return v.KeyString()
}

// Interface returns the native Go representation, for JSON encoding.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes the value as its native JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a native JSON value, preserving integer kinds.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	*v = FromAny(raw)
	return nil
}
