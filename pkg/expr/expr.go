// Package expr evaluates the restricted single-expression language used by
// "eval! " test arguments and run_if conditions.
//
// Expressions are parsed with goja's ECMAScript parser and walked by a small
// interpreter that only understands literals, arithmetic, comparison and
// boolean operators, conditional expressions, attribute and index access,
// array and object literals, and calls into an allow-listed set of builtins.
// Functions, assignments, sequences, templates and any identifier missing
// from the namespace are rejected before evaluation.
package expr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"

	"github.com/arccode/factory-sub002/pkg/core"
)

// EvalPrefix marks a string argument as an expression.
const EvalPrefix = "eval! "

// Namespace maps top-level names to values visible to an expression.
// Values are plain Go data (nil, bool, int64, float64, string, []interface{},
// map[string]interface{}), Object implementations, or Func.
type Namespace map[string]interface{}

// Names returns the namespace keys in sorted order
func (ns Namespace) Names() []string {
	names := make([]string, 0, len(ns))
	for k := range ns {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Object exposes named attributes to expressions, e.g. a state proxy.
type Object interface {
	Attr(name string) (interface{}, bool)
}

// Func is a callable value
type Func func(args ...interface{}) (interface{}, error)

// literal aliases for test lists written with Python constants
var aliases = map[string]interface{}{
	"True":      true,
	"False":     false,
	"None":      nil,
	"undefined": nil,
}

// Program is a parsed and validated expression
type Program struct {
	src  string
	root ast.Expression
}

// Compile parses src and checks that it only refers to the given names,
// builtins and literal aliases. Failures are core.ErrConfigSyntax errors.
func Compile(src string, names []string) (*Program, error) {
	root, err := parseExpression(src)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(names)+len(builtins)+len(aliases))
	for _, n := range names {
		allowed[n] = true
	}
	for n := range builtins {
		allowed[n] = true
	}
	for n := range aliases {
		allowed[n] = true
	}

	c := &checker{src: src, allowed: allowed}
	c.check(root)
	if c.err != nil {
		return nil, c.err
	}
	return &Program{src: src, root: root}, nil
}

// Check validates src without evaluating it.
func Check(src string, names []string) error {
	_, err := Compile(src, names)
	return err
}

// Eval runs the program against ns. The namespace is never modified and the
// returned value shares no mutable state with it.
func (p *Program) Eval(ns Namespace) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EvalError{Expr: p.src, Err: fmt.Errorf("%v", r)}
		}
	}()

	e := &evaluator{ns: ns}
	v, err := e.eval(p.root)
	if err != nil {
		return nil, &EvalError{Expr: p.src, Err: err}
	}
	if _, ok := v.(Func); ok {
		return nil, &EvalError{Expr: p.src, Err: fmt.Errorf("expression evaluates to a function")}
	}
	return deepCopy(v), nil
}

// Eval compiles src against the names of ns and evaluates it.
func Eval(src string, ns Namespace) (interface{}, error) {
	p, err := Compile(src, ns.Names())
	if err != nil {
		return nil, err
	}
	return p.Eval(ns)
}

// StripEval returns the expression inside an "eval! " string.
func StripEval(s string) (string, bool) {
	if strings.HasPrefix(s, EvalPrefix) {
		return strings.TrimPrefix(s, EvalPrefix), true
	}
	return s, false
}

// EvalError is a run-time evaluation failure
type EvalError struct {
	Expr string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluating %q: %v", e.Expr, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

func parseExpression(src string) (ast.Expression, error) {
	if strings.TrimSpace(src) == "" {
		return nil, syntaxError(src, "empty expression")
	}

	code := lowerPython(src)
	prog, err := parser.ParseFile(nil, "", code, 0)
	if err == nil {
		if e, ok := singleExpression(prog); ok {
			return e, nil
		}
	}

	// A leading brace parses as a block; retry as an object literal.
	if strings.HasPrefix(strings.TrimSpace(code), "{") {
		if wrapped, werr := parser.ParseFile(nil, "", "(\n"+code+"\n)", 0); werr == nil {
			if e, ok := singleExpression(wrapped); ok {
				return e, nil
			}
		}
	}

	if err != nil {
		return nil, core.ErrConfigSyntax.WithMessage(fmt.Sprintf("cannot parse expression %q", src)).WithCause(err)
	}
	return nil, syntaxError(src, "must be exactly one expression")
}

func singleExpression(prog *ast.Program) (ast.Expression, bool) {
	if prog == nil || len(prog.Body) != 1 {
		return nil, false
	}
	stmt, ok := prog.Body[0].(*ast.ExpressionStatement)
	if !ok {
		return nil, false
	}
	return stmt.Expression, true
}

func syntaxError(src, msg string) error {
	return core.ErrConfigSyntax.WithMessage(fmt.Sprintf("invalid expression %q: %s", src, msg))
}
