package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Parse decodes a single JSON document into a Value.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("unexpected data after top-level value")
	}
	return FromInterface(raw)
}

// FromInterface converts decoded JSON (or equivalent Go values) into a Value.
// A mapping entry "__replace__": true becomes the mapping's replace flag.
func FromInterface(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return x, nil
	case string:
		return NewString(x), nil
	case bool:
		return NewBool(x), nil
	case json.Number:
		if i, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			return NewInt(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q", x)
		}
		return NewFloat(f), nil
	case int:
		return NewInt(int64(x)), nil
	case int32:
		return NewInt(int64(x)), nil
	case int64:
		return NewInt(x), nil
	case float32:
		return NewFloat(float64(x)), nil
	case float64:
		return NewFloat(x), nil
	case []string:
		items := make([]Value, len(x))
		for i, s := range x {
			items[i] = NewString(s)
		}
		return Value{kind: Sequence, seq: items}, nil
	case []interface{}:
		items := make([]Value, len(x))
		for i, e := range x {
			v, err := FromInterface(e)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = v
		}
		return Value{kind: Sequence, seq: items}, nil
	case map[string]interface{}:
		out := Value{kind: Mapping, mapping: make(map[string]Value, len(x))}
		for k, e := range x {
			if k == ReplaceKey {
				flag, ok := e.(bool)
				if !ok {
					return Value{}, fmt.Errorf("%s must be a boolean", ReplaceKey)
				}
				out.replace = flag
				continue
			}
			v, err := FromInterface(e)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			out.mapping[k] = v
		}
		return out, nil
	case map[string]string:
		out := Value{kind: Mapping, mapping: make(map[string]Value, len(x))}
		for k, s := range x {
			out.mapping[k] = NewString(s)
		}
		return out, nil
	}
	return Value{}, fmt.Errorf("unsupported type %T", raw)
}

// MustFrom is FromInterface for literals known to be valid, such as test fixtures.
func MustFrom(raw interface{}) Value {
	v, err := FromInterface(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// Interface converts v to plain Go values: nil, string, bool, int64, float64,
// []interface{} and map[string]interface{}. Replace flags are not represented.
func (v Value) Interface() interface{} {
	switch v.kind {
	case Scalar:
		return v.scalar
	case Mapping:
		out := make(map[string]interface{}, len(v.mapping))
		for k, e := range v.mapping {
			out[k] = e.Interface()
		}
		return out
	case Sequence:
		out := make([]interface{}, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.Interface()
		}
		return out
	}
	return nil
}

// Map returns the mapping as map[string]interface{}, or an empty map for other kinds.
func (v Value) Map() map[string]interface{} {
	if m, ok := v.Interface().(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	if f, ok := v.scalar.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
		return nil, fmt.Errorf("cannot encode %v as JSON", f)
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
