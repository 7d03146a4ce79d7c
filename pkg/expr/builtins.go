package expr

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var builtins map[string]Func

func init() {
	builtins = map[string]Func{
		"len":        builtinLen,
		"str":        builtinStr,
		"int":        builtinInt,
		"float":      builtinFloat,
		"bool":       unary(func(v interface{}) (interface{}, error) { return truthy(v), nil }),
		"abs":        builtinAbs,
		"min":        extreme(orderLess),
		"max":        extreme(orderGreater),
		"sorted":     builtinSorted,
		"range":      builtinRange,
		"join":       builtinJoin,
		"contains":   builtinContains,
		"keys":       builtinKeys,
		"lower":      stringFunc(strings.ToLower),
		"upper":      stringFunc(strings.ToUpper),
		"startswith": stringPredicate(strings.HasPrefix),
		"endswith":   stringPredicate(strings.HasSuffix),
	}
}

// Builtins returns the names of the allow-listed functions, sorted
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func arity(name string, args []interface{}, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s() takes %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

func unary(f func(interface{}) (interface{}, error)) Func {
	return func(args ...interface{}) (interface{}, error) {
		if err := arity("function", args, 1); err != nil {
			return nil, err
		}
		return f(args[0])
	}
}

func builtinLen(args ...interface{}) (interface{}, error) {
	if err := arity("len", args, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case string:
		return int64(len([]rune(x))), nil
	case []interface{}:
		return int64(len(x)), nil
	case map[string]interface{}:
		return int64(len(x)), nil
	}
	return nil, fmt.Errorf("object of type %s has no len()", typeName(args[0]))
}

// Str renders a value the way test lists expect: None/True/False for the
// Python constants and integral floats without a fraction.
func Str(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}

func builtinStr(args ...interface{}) (interface{}, error) {
	if err := arity("str", args, 1); err != nil {
		return nil, err
	}
	return Str(args[0]), nil
}

func builtinInt(args ...interface{}) (interface{}, error) {
	if err := arity("int", args, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid literal for int(): %q", x)
		}
		return i, nil
	}
	return nil, fmt.Errorf("int() argument must be a number or string, not %s", typeName(args[0]))
}

func builtinFloat(args ...interface{}) (interface{}, error) {
	if err := arity("float", args, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("could not convert string to float: %q", x)
		}
		return f, nil
	}
	return nil, fmt.Errorf("float() argument must be a number or string, not %s", typeName(args[0]))
}

func builtinAbs(args ...interface{}) (interface{}, error) {
	if err := arity("abs", args, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case int64:
		if x < 0 {
			return -x, nil
		}
		return x, nil
	case float64:
		return math.Abs(x), nil
	}
	return nil, fmt.Errorf("bad operand type for abs(): %s", typeName(args[0]))
}

type ordering int

const (
	orderLess ordering = iota
	orderGreater
)

// extreme implements min and max over either varargs or one list.
func extreme(want ordering) Func {
	return func(args ...interface{}) (interface{}, error) {
		items := args
		if len(args) == 1 {
			list, ok := args[0].([]interface{})
			if !ok {
				return nil, fmt.Errorf("%s object is not iterable", typeName(args[0]))
			}
			items = list
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("arg is an empty sequence")
		}

		best := items[0]
		for _, item := range items[1:] {
			c, err := order(item, best)
			if err != nil {
				return nil, err
			}
			if (want == orderLess && c < 0) || (want == orderGreater && c > 0) {
				best = item
			}
		}
		return best, nil
	}
}

func order(a, b interface{}) (int, error) {
	if isNumber(a) && isNumber(b) {
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		}
		return 0, nil
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if !aok || !bok {
		return 0, fmt.Errorf("cannot order %s and %s", typeName(a), typeName(b))
	}
	return strings.Compare(sa, sb), nil
}

func builtinSorted(args ...interface{}) (interface{}, error) {
	if err := arity("sorted", args, 1); err != nil {
		return nil, err
	}
	list, ok := args[0].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s object is not iterable", typeName(args[0]))
	}

	out := make([]interface{}, len(list))
	copy(out, list)
	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		c, err := order(out[i], out[j])
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return out, nil
}

func builtinRange(args ...interface{}) (interface{}, error) {
	var start, stop int64
	switch len(args) {
	case 1:
		n, ok := args[0].(int64)
		if !ok {
			return nil, fmt.Errorf("range() argument must be int")
		}
		stop = n
	case 2:
		a, aok := args[0].(int64)
		b, bok := args[1].(int64)
		if !aok || !bok {
			return nil, fmt.Errorf("range() arguments must be int")
		}
		start, stop = a, b
	default:
		return nil, fmt.Errorf("range() takes 1 or 2 arguments, got %d", len(args))
	}

	if stop-start > 10000 {
		return nil, fmt.Errorf("range() too large")
	}
	out := make([]interface{}, 0)
	for i := start; i < stop; i++ {
		out = append(out, i)
	}
	return out, nil
}

func builtinJoin(args ...interface{}) (interface{}, error) {
	if err := arity("join", args, 2); err != nil {
		return nil, err
	}
	list, ok := args[0].([]interface{})
	if !ok {
		return nil, fmt.Errorf("join() expects a list, got %s", typeName(args[0]))
	}
	sep, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("join() separator must be str")
	}

	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = Str(item)
	}
	return strings.Join(parts, sep), nil
}

func builtinContains(args ...interface{}) (interface{}, error) {
	if err := arity("contains", args, 2); err != nil {
		return nil, err
	}
	return contains(args[0], args[1])
}

func builtinKeys(args ...interface{}) (interface{}, error) {
	if err := arity("keys", args, 1); err != nil {
		return nil, err
	}
	m, ok := args[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("keys() expects a dict, got %s", typeName(args[0]))
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]interface{}, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out, nil
}

func stringFunc(f func(string) string) Func {
	return func(args ...interface{}) (interface{}, error) {
		if err := arity("function", args, 1); err != nil {
			return nil, err
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("expected str, got %s", typeName(args[0]))
		}
		return f(s), nil
	}
}

func stringPredicate(f func(s, affix string) bool) Func {
	return func(args ...interface{}) (interface{}, error) {
		if err := arity("function", args, 2); err != nil {
			return nil, err
		}
		s, sok := args[0].(string)
		affix, aok := args[1].(string)
		if !sok || !aok {
			return nil, fmt.Errorf("expected two str arguments")
		}
		return f(s, affix), nil
	}
}
