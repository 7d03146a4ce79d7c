package expr

import (
	"fmt"
	"math"
	"strings"

	"github.com/dop251/goja/token"
)

// Truthy reports whether v counts as true in a condition: nil, false, zero,
// and empty strings, lists and mappings are false.
func Truthy(v interface{}) bool {
	return truthy(v)
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case []interface{}:
		return len(x) > 0
	case map[string]interface{}:
		return len(x) > 0
	}
	return true
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "None"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case []interface{}:
		return "list"
	case map[string]interface{}:
		return "dict"
	case Func:
		return "function"
	case Object:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func negate(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case int64:
		return -x, nil
	case float64:
		return -x, nil
	}
	return nil, fmt.Errorf("unary - on %s", typeName(v))
}

func attr(obj interface{}, name string) (interface{}, error) {
	switch o := obj.(type) {
	case map[string]interface{}:
		v, ok := o[name]
		if !ok {
			return nil, fmt.Errorf("no attribute %q", name)
		}
		return normalize(v), nil
	case Object:
		v, ok := o.Attr(name)
		if !ok {
			return nil, fmt.Errorf("no attribute %q", name)
		}
		return normalize(v), nil
	case []interface{}:
		if name == "length" {
			return int64(len(o)), nil
		}
	case string:
		if name == "length" {
			return int64(len([]rune(o))), nil
		}
	}
	return nil, fmt.Errorf("%s has no attribute %q", typeName(obj), name)
}

func index(obj, key interface{}) (interface{}, error) {
	switch o := obj.(type) {
	case map[string]interface{}, Object:
		k, ok := key.(string)
		if !ok {
			return nil, fmt.Errorf("%s key must be str, got %s", typeName(obj), typeName(key))
		}
		return attr(o, k)
	case []interface{}:
		i, err := sequenceIndex(key, len(o))
		if err != nil {
			return nil, err
		}
		return o[i], nil
	case string:
		runes := []rune(o)
		i, err := sequenceIndex(key, len(runes))
		if err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	}
	return nil, fmt.Errorf("%s is not subscriptable", typeName(obj))
}

// sequenceIndex accepts negative indices counting from the end.
func sequenceIndex(key interface{}, n int) (int, error) {
	var i int64
	switch k := key.(type) {
	case int64:
		i = k
	case float64:
		if k != math.Trunc(k) {
			return 0, fmt.Errorf("index must be an integer, got %v", k)
		}
		i = int64(k)
	default:
		return 0, fmt.Errorf("index must be an integer, got %s", typeName(key))
	}
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, fmt.Errorf("index %v out of range", key)
	}
	return int(i), nil
}

func add(a, b interface{}) (interface{}, error) {
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return x + y, nil
		}
	case []interface{}:
		if y, ok := b.([]interface{}); ok {
			out := make([]interface{}, 0, len(x)+len(y))
			return append(append(out, x...), y...), nil
		}
	case int64:
		if y, ok := b.(int64); ok {
			return x + y, nil
		}
	}
	if isNumber(a) && isNumber(b) {
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return fa + fb, nil
	}
	return nil, fmt.Errorf("unsupported operands for +: %s and %s", typeName(a), typeName(b))
}

func arith(op token.Token, a, b interface{}) (interface{}, error) {
	if !isNumber(a) || !isNumber(b) {
		if op == token.MULTIPLY {
			return repeat(a, b)
		}
		return nil, fmt.Errorf("unsupported operands for %s: %s and %s", op, typeName(a), typeName(b))
	}

	ia, aInt := a.(int64)
	ib, bInt := b.(int64)
	fa, _ := toFloat(a)
	fb, _ := toFloat(b)

	switch op {
	case token.MINUS:
		if aInt && bInt {
			return ia - ib, nil
		}
		return fa - fb, nil
	case token.MULTIPLY:
		if aInt && bInt {
			return ia * ib, nil
		}
		return fa * fb, nil
	case token.SLASH:
		if fb == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return fa / fb, nil
	case token.REMAINDER:
		if fb == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		if aInt && bInt {
			// sign follows the divisor
			m := ia % ib
			if m != 0 && (m < 0) != (ib < 0) {
				m += ib
			}
			return m, nil
		}
		m := math.Mod(fa, fb)
		if m != 0 && (m < 0) != (fb < 0) {
			m += fb
		}
		return m, nil
	}
	return nil, fmt.Errorf("operator %s is not allowed", op)
}

// repeat implements str * int and list * int.
func repeat(a, b interface{}) (interface{}, error) {
	n, ok := b.(int64)
	if !ok {
		return nil, fmt.Errorf("unsupported operands for *: %s and %s", typeName(a), typeName(b))
	}
	if n < 0 {
		n = 0
	}
	switch x := a.(type) {
	case string:
		return strings.Repeat(x, int(n)), nil
	case []interface{}:
		out := make([]interface{}, 0, len(x)*int(n))
		for i := int64(0); i < n; i++ {
			out = append(out, x...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported operands for *: %s and %s", typeName(a), typeName(b))
}

func equal(a, b interface{}) bool {
	if isNumber(a) && isNumber(b) {
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return fa == fb
	}
	switch x := a.(type) {
	case []interface{}:
		y, ok := b.([]interface{})
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		y, ok := b.(map[string]interface{})
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !equal(v, w) {
				return false
			}
		}
		return true
	case nil, bool, string:
		return a == b
	}
	return false
}

func compare(op token.Token, a, b interface{}) (bool, error) {
	var c int
	switch {
	case isNumber(a) && isNumber(b):
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			c = -1
		case fa > fb:
			c = 1
		}
	default:
		sa, aok := a.(string)
		sb, bok := b.(string)
		if !aok || !bok {
			return false, fmt.Errorf("cannot compare %s and %s", typeName(a), typeName(b))
		}
		c = strings.Compare(sa, sb)
	}

	switch op {
	case token.LESS:
		return c < 0, nil
	case token.LESS_OR_EQUAL:
		return c <= 0, nil
	case token.GREATER:
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

// contains implements `item in container`.
func contains(container, item interface{}) (bool, error) {
	switch c := container.(type) {
	case []interface{}:
		for _, e := range c {
			if equal(e, item) {
				return true, nil
			}
		}
		return false, nil
	case map[string]interface{}:
		k, ok := item.(string)
		if !ok {
			return false, nil
		}
		_, found := c[k]
		return found, nil
	case Object:
		k, ok := item.(string)
		if !ok {
			return false, nil
		}
		_, found := c.Attr(k)
		return found, nil
	case string:
		s, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("'in <str>' requires str, got %s", typeName(item))
		}
		return strings.Contains(c, s), nil
	}
	return false, fmt.Errorf("%s is not a container", typeName(container))
}

func deepCopy(v interface{}) interface{} {
	switch x := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = deepCopy(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = deepCopy(e)
		}
		return out
	}
	return v
}

// normalize converts common Go values supplied by callers to the evaluator's
// value set.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case []string:
		out := make([]interface{}, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case map[string]string:
		out := make(map[string]interface{}, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out
	case func(args ...interface{}) (interface{}, error):
		return Func(x)
	}
	return v
}
