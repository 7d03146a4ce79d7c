package expr

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/token"
)

type evaluator struct {
	ns Namespace
}

func (e *evaluator) eval(node ast.Expression) (interface{}, error) {
	switch n := node.(type) {
	case *ast.NullLiteral:
		return nil, nil
	case *ast.BooleanLiteral:
		return n.Value, nil
	case *ast.NumberLiteral:
		return normalizeNumber(n.Value)
	case *ast.StringLiteral:
		return n.Value.String(), nil

	case *ast.Identifier:
		return e.lookup(n.Name.String())

	case *ast.BinaryExpression:
		return e.binary(n)

	case *ast.UnaryExpression:
		v, err := e.eval(n.Operand)
		if err != nil {
			return nil, err
		}
		switch n.Operator {
		case token.NOT:
			return !truthy(v), nil
		case token.MINUS:
			return negate(v)
		case token.PLUS:
			if !isNumber(v) {
				return nil, fmt.Errorf("unary + on %s", typeName(v))
			}
			return v, nil
		}

	case *ast.ConditionalExpression:
		test, err := e.eval(n.Test)
		if err != nil {
			return nil, err
		}
		if truthy(test) {
			return e.eval(n.Consequent)
		}
		return e.eval(n.Alternate)

	case *ast.DotExpression:
		left, err := e.eval(n.Left)
		if err != nil {
			return nil, err
		}
		return attr(left, n.Identifier.Name.String())

	case *ast.BracketExpression:
		left, err := e.eval(n.Left)
		if err != nil {
			return nil, err
		}
		member, err := e.eval(n.Member)
		if err != nil {
			return nil, err
		}
		return index(left, member)

	case *ast.CallExpression:
		callee, err := e.eval(n.Callee)
		if err != nil {
			return nil, err
		}
		fn, ok := callee.(Func)
		if !ok {
			return nil, fmt.Errorf("%s is not callable", typeName(callee))
		}
		args := make([]interface{}, len(n.ArgumentList))
		for i, a := range n.ArgumentList {
			if args[i], err = e.eval(a); err != nil {
				return nil, err
			}
		}
		return fn(args...)

	case *ast.ArrayLiteral:
		out := make([]interface{}, len(n.Value))
		for i, item := range n.Value {
			v, err := e.eval(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *ast.ObjectLiteral:
		out := make(map[string]interface{}, len(n.Value))
		for _, prop := range n.Value {
			keyed := prop.(*ast.PropertyKeyed)
			key, err := propertyKey(keyed.Key)
			if err != nil {
				return nil, err
			}
			v, err := e.eval(keyed.Value)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported construct %T", node)
}

func (e *evaluator) lookup(name string) (interface{}, error) {
	if v, ok := e.ns[name]; ok {
		return normalize(v), nil
	}
	if v, ok := aliases[name]; ok {
		return v, nil
	}
	if fn, ok := builtins[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("name %q is not defined", name)
}

func (e *evaluator) binary(n *ast.BinaryExpression) (interface{}, error) {
	left, err := e.eval(n.Left)
	if err != nil {
		return nil, err
	}

	// short-circuit operators return the deciding operand
	switch n.Operator {
	case token.LOGICAL_AND:
		if !truthy(left) {
			return left, nil
		}
		return e.eval(n.Right)
	case token.LOGICAL_OR:
		if truthy(left) {
			return left, nil
		}
		return e.eval(n.Right)
	}

	right, err := e.eval(n.Right)
	if err != nil {
		return nil, err
	}

	switch n.Operator {
	case token.PLUS:
		return add(left, right)
	case token.MINUS, token.MULTIPLY, token.SLASH, token.REMAINDER:
		return arith(n.Operator, left, right)
	case token.EQUAL, token.STRICT_EQUAL:
		return equal(left, right), nil
	case token.NOT_EQUAL, token.STRICT_NOT_EQUAL:
		return !equal(left, right), nil
	case token.LESS, token.LESS_OR_EQUAL, token.GREATER, token.GREATER_OR_EQUAL:
		return compare(n.Operator, left, right)
	case token.IN:
		return contains(right, left)
	}
	return nil, fmt.Errorf("operator %s is not allowed", n.Operator)
}

func propertyKey(key ast.Expression) (string, error) {
	switch k := key.(type) {
	case *ast.StringLiteral:
		return k.Value.String(), nil
	case *ast.Identifier:
		return k.Name.String(), nil
	case *ast.NumberLiteral:
		return k.Literal, nil
	}
	return "", fmt.Errorf("unsupported object key %T", key)
}

func normalizeNumber(v interface{}) (interface{}, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return nil, fmt.Errorf("unsupported number literal %v", v)
}
