// Package value holds the closed sum type used for every test-list field
// before it is bound to a concrete Go type: Null, Scalar, Mapping and Sequence.
//
// Mappings decoded with a "__replace__": true key do not keep the key. The
// sentinel becomes a flag on the mapping which Merge consumes.
package value

import (
	"fmt"
	"math"
	"sort"
)

// ReplaceKey is the mapping key that requests wholesale replacement on merge.
const ReplaceKey = "__replace__"

// Kind is the variant tag of a Value
type Kind int

const (
	Null Kind = iota
	Scalar
	Mapping
	Sequence
)

// String returns the name of the kind
func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Scalar:
		return "scalar"
	case Mapping:
		return "mapping"
	case Sequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Value is an immutable test-list value. The zero Value is Null.
type Value struct {
	kind    Kind
	scalar  interface{} // string, int64, float64 or bool
	mapping map[string]Value
	seq     []Value
	replace bool
}

// NewNull returns the Null value
func NewNull() Value { return Value{} }

// NewString returns a string scalar
func NewString(s string) Value { return Value{kind: Scalar, scalar: s} }

// NewBool returns a bool scalar
func NewBool(b bool) Value { return Value{kind: Scalar, scalar: b} }

// NewInt returns an integer scalar
func NewInt(i int64) Value { return Value{kind: Scalar, scalar: i} }

// NewFloat returns a float scalar
func NewFloat(f float64) Value { return Value{kind: Scalar, scalar: f} }

// NewMapping returns a mapping value. The map is copied.
func NewMapping(m map[string]Value) Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return Value{kind: Mapping, mapping: out}
}

// NewReplaceMapping returns a mapping that replaces, rather than merges into,
// the mapping beneath it.
func NewReplaceMapping(m map[string]Value) Value {
	v := NewMapping(m)
	v.replace = true
	return v
}

// NewSequence returns a sequence value. The slice is copied.
func NewSequence(items []Value) Value {
	out := make([]Value, len(items))
	copy(out, items)
	return Value{kind: Sequence, seq: out}
}

// Kind returns the variant tag
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null
func (v Value) IsNull() bool { return v.kind == Null }

// IsMapping reports whether v is a Mapping
func (v Value) IsMapping() bool { return v.kind == Mapping }

// IsSequence reports whether v is a Sequence
func (v Value) IsSequence() bool { return v.kind == Sequence }

// Replace reports whether the mapping carried the replace sentinel
func (v Value) Replace() bool { return v.replace }

// Str returns the string scalar
func (v Value) Str() (string, bool) {
	s, ok := v.scalar.(string)
	return s, ok && v.kind == Scalar
}

// Bool returns the bool scalar
func (v Value) Bool() (bool, bool) {
	b, ok := v.scalar.(bool)
	return b, ok && v.kind == Scalar
}

// Int returns an integer scalar. Floats with no fractional part are accepted.
func (v Value) Int() (int64, bool) {
	switch n := v.scalar.(type) {
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

// Float returns a numeric scalar as float64
func (v Value) Float() (float64, bool) {
	switch n := v.scalar.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Get returns the value at key of a mapping
func (v Value) Get(key string) (Value, bool) {
	if v.kind != Mapping {
		return Value{}, false
	}
	got, ok := v.mapping[key]
	return got, ok
}

// Has reports whether a mapping contains key
func (v Value) Has(key string) bool {
	_, ok := v.Get(key)
	return ok
}

// Keys returns the mapping keys in sorted order
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.mapping))
	for k := range v.mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries of a mapping or sequence
func (v Value) Len() int {
	switch v.kind {
	case Mapping:
		return len(v.mapping)
	case Sequence:
		return len(v.seq)
	}
	return 0
}

// Items returns the elements of a sequence. The slice must not be modified.
func (v Value) Items() []Value {
	return v.seq
}

// With returns a copy of the mapping with key set to item.
// A non-mapping receiver is treated as an empty mapping.
func (v Value) With(key string, item Value) Value {
	out := Value{kind: Mapping, mapping: make(map[string]Value, len(v.mapping)+1), replace: v.replace}
	for k, e := range v.mapping {
		out.mapping[k] = e
	}
	out.mapping[key] = item
	return out
}

// Without returns a copy of the mapping with keys removed.
func (v Value) Without(keys ...string) Value {
	if v.kind != Mapping {
		return v
	}
	out := Value{kind: Mapping, mapping: make(map[string]Value, len(v.mapping)), replace: v.replace}
	for k, e := range v.mapping {
		out.mapping[k] = e
	}
	for _, k := range keys {
		delete(out.mapping, k)
	}
	return out
}

// ClearReplace returns v without its own replace flag. Flags of nested
// mappings are kept.
func (v Value) ClearReplace() Value {
	v.replace = false
	return v
}

// Settle returns v with every replace flag cleared, recursively.
func Settle(v Value) Value {
	switch v.kind {
	case Mapping:
		out := Value{kind: Mapping, mapping: make(map[string]Value, len(v.mapping))}
		for k, e := range v.mapping {
			out.mapping[k] = Settle(e)
		}
		return out
	case Sequence:
		out := Value{kind: Sequence, seq: make([]Value, len(v.seq))}
		for i, e := range v.seq {
			out.seq[i] = Settle(e)
		}
		return out
	}
	return v
}

// Equal reports whether two values hold the same data. Replace flags are ignored.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case Scalar:
		if a, ok := v.Float(); ok {
			b, ok := o.Float()
			return ok && a == b
		}
		return v.scalar == o.scalar
	case Mapping:
		if len(v.mapping) != len(o.mapping) {
			return false
		}
		for k, e := range v.mapping {
			oe, ok := o.mapping[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	case Sequence:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders v for error messages
func (v Value) String() string {
	return fmt.Sprintf("%v", v.Interface())
}
