package expr

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/arccode/factory-sub002/pkg/core"
)

type stateProxy map[string]interface{}

func (s stateProxy) Attr(name string) (interface{}, bool) {
	if name == "get_shared_data" {
		return Func(func(args ...interface{}) (interface{}, error) {
			key, _ := args[0].(string)
			return s[key], nil
		}), true
	}
	v, ok := s[name]
	return v, ok
}

func testNamespace() Namespace {
	return Namespace{
		"constants": map[string]interface{}{
			"timeout": int64(30),
			"sku":     "coral",
			"nested":  map[string]interface{}{"list": []interface{}{int64(1), int64(2), int64(3)}},
		},
		"options": map[string]interface{}{"phase": "PVT"},
		"locals":  map[string]interface{}{"count": 2},
		"device":  map[string]interface{}{"component": map[string]interface{}{"has_touchscreen": true}},
		"state_proxy": stateProxy{
			"serial": "ABC123",
		},
	}
}

func TestEval(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want interface{}
	}{
		{"int literal", "42", int64(42)},
		{"float literal", "1.5", 1.5},
		{"string literal", `"abc"`, "abc"},
		{"python aliases", "[True, False, None]", []interface{}{true, false, nil}},
		{"arithmetic", "constants.timeout * 2 + 1", int64(61)},
		{"true division", "7 / 2", 3.5},
		{"modulo sign", "-7 % 3", int64(2)},
		{"string concat", `constants.sku + "_rev1"`, "coral_rev1"},
		{"comparison", "constants.timeout >= 30", true},
		{"string comparison", `options.phase == "PVT"`, true},
		{"int float equality", "1 == 1.0", true},
		{"logical returns operand", `constants.missing_ok || "fallback"`, "fallback"},
		{"logical and", "constants.timeout > 10 && constants.sku", "coral"},
		{"not", "!device.component.has_touchscreen", false},
		{"ternary", `options.phase == "DVT" ? 1 : 2`, int64(2)},
		{"bracket access", `constants["nested"]["list"][-1]`, int64(3)},
		{"in list", "2 in constants.nested.list", true},
		{"in dict", `"sku" in constants`, true},
		{"in string", `"or" in constants.sku`, true},
		{"locals normalized", "locals.count + 1", int64(3)},
		{"object literal", `{"a": 1, b: [1, 2]}`, map[string]interface{}{"a": int64(1), "b": []interface{}{int64(1), int64(2)}}},
		{"builtin len", "len(constants.nested.list)", int64(3)},
		{"builtin str", "str(constants.timeout) + 's'", "30s"},
		{"builtin max", "max(constants.nested.list)", int64(3)},
		{"builtin sorted", `sorted(["b", "a"])`, []interface{}{"a", "b"}},
		{"builtin range", "range(3)", []interface{}{int64(0), int64(1), int64(2)}},
		{"builtin join", `join(["a", 1], "-")`, "a-1"},
		{"object attr", "state_proxy.serial", "ABC123"},
		{"object method", `state_proxy.get_shared_data("serial")`, "ABC123"},
		{"length property", "constants.nested.list.length", int64(3)},
		{"python and not", "constants.timeout > 10 and not device.component.has_touchscreen", false},
		{"python not", "not constants.missing_ok", true},
		{"python or", `constants.missing_ok or "fallback"`, "fallback"},
		{"python conditional", `1 if constants.sku == "coral" else 2`, int64(1)},
		{"python nested conditional", `1 if options.phase == "DVT" else 2 if constants.timeout > 10 else 3`, int64(2)},
		{"python not in", "4 not in constants.nested.list", true},
		{"python is", "constants.missing_ok is None", true},
		{"python is not", "constants.sku is not None", true},
		{"python operators in call", "len([constants.missing_ok or 1, 2])", int64(2)},
	}

	ns := testNamespace()
	ns["constants"].(map[string]interface{})["missing_ok"] = nil

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(tt.expr, ns)
			if err != nil {
				t.Fatalf("Eval(%q) error = %v", tt.expr, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Eval(%q) mismatch (-want +got):\n%s", tt.expr, diff)
			}
		})
	}
}

func TestCompile_Rejects(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", "   "},
		{"two statements", "1; 2"},
		{"sequence", "1, 2"},
		{"function literal", "function() { return 1 }"},
		{"arrow function", "(x) => x"},
		{"assignment", "constants.timeout = 3"},
		{"free variable", "unknown_name + 1"},
		{"free variable in call", "len(secret)"},
		{"template literal", "`${constants.sku}`"},
		{"new", "new Date()"},
		{"increment", "locals.count++"},
		{"typeof", "typeof constants"},
		{"statement", "if (true) { 1 }"},
		{"syntax error", "1 +"},
	}

	names := testNamespace().Names()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.expr, names)
			if err == nil {
				t.Fatalf("Compile(%q) expected error", tt.expr)
			}
			if !errors.Is(err, core.ErrConfigSyntax) {
				t.Errorf("Compile(%q) error = %v, want ErrConfigSyntax", tt.expr, err)
			}
		})
	}
}

func TestLowerPython(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"a && !b", "a && !b"},
		{"a and not b", "(a) && (!(b))"},
		{"a or b and c", "(a) || ((b) && (c))"},
		{"x if c else y", "(c) ? (x) : (y)"},
		{"a not in b", "!((a) in (b))"},
		{"a is not None", "a != None"},
		{"a is None", "a == None"},
		{`device.is and "or" in s`, `(device.is) && ("or" in s)`},
		{"f(a or b, c)", "f((a) || (b), c)"},
		{`{"k": a or b}`, `{"k":(a) || (b)}`},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			if got := lowerPython(tt.src); got != tt.want {
				t.Errorf("lowerPython(%q) = %q, want %q", tt.src, got, tt.want)
			}
		})
	}
}

func TestEval_RuntimeErrors(t *testing.T) {
	ns := testNamespace()
	for _, src := range []string{
		"constants.nope",
		"constants.nested.list[10]",
		`1 + "a"`,
		"1 / 0",
		"len(1)",
	} {
		_, err := Eval(src, ns)
		var evalErr *EvalError
		if !errors.As(err, &evalErr) {
			t.Errorf("Eval(%q) error = %v, want *EvalError", src, err)
		}
	}
}

func TestEval_DoesNotMutateNamespace(t *testing.T) {
	ns := testNamespace()
	got, err := Eval("constants.nested.list", ns)
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	got.([]interface{})[0] = "changed"

	again, err := Eval("constants.nested.list[0]", ns)
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if again != int64(1) {
		t.Errorf("namespace was mutated through a result: %v", again)
	}
}

func TestEval_ResultIsNotReevaluated(t *testing.T) {
	ns := Namespace{"constants": map[string]interface{}{"s": "eval! 1 + 1"}}
	got, err := Eval("constants.s", ns)
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if got != "eval! 1 + 1" {
		t.Errorf("Eval() = %v, want the raw string", got)
	}
}

func TestStripEval(t *testing.T) {
	if src, ok := StripEval("eval! 1 + 2"); !ok || src != "1 + 2" {
		t.Errorf("StripEval() = %q, %v", src, ok)
	}
	if _, ok := StripEval("eval!1"); ok {
		t.Error("StripEval() accepted a marker without the space")
	}
}
