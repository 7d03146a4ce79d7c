package expr

import (
	"fmt"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/token"
)

var binaryOps = map[token.Token]bool{
	token.PLUS:             true,
	token.MINUS:            true,
	token.MULTIPLY:         true,
	token.SLASH:            true,
	token.REMAINDER:        true,
	token.EQUAL:            true,
	token.STRICT_EQUAL:     true,
	token.NOT_EQUAL:        true,
	token.STRICT_NOT_EQUAL: true,
	token.LESS:             true,
	token.LESS_OR_EQUAL:    true,
	token.GREATER:          true,
	token.GREATER_OR_EQUAL: true,
	token.LOGICAL_AND:      true,
	token.LOGICAL_OR:       true,
	token.IN:               true,
}

var unaryOps = map[token.Token]bool{
	token.NOT:   true,
	token.MINUS: true,
	token.PLUS:  true,
}

// checker rejects every construct the evaluator does not support.
// It stops at the first problem.
type checker struct {
	src     string
	allowed map[string]bool
	err     error
}

func (c *checker) fail(format string, args ...interface{}) {
	if c.err == nil {
		c.err = syntaxError(c.src, fmt.Sprintf(format, args...))
	}
}

func (c *checker) check(node ast.Expression) {
	if c.err != nil {
		return
	}

	switch n := node.(type) {
	case *ast.NullLiteral, *ast.BooleanLiteral, *ast.NumberLiteral, *ast.StringLiteral:
		return

	case *ast.Identifier:
		name := n.Name.String()
		if !c.allowed[name] {
			c.fail("unknown name %q", name)
		}

	case *ast.BinaryExpression:
		if !binaryOps[n.Operator] {
			c.fail("operator %s is not allowed", n.Operator)
			return
		}
		c.check(n.Left)
		c.check(n.Right)

	case *ast.UnaryExpression:
		if n.Postfix || !unaryOps[n.Operator] {
			c.fail("operator %s is not allowed", n.Operator)
			return
		}
		c.check(n.Operand)

	case *ast.ConditionalExpression:
		c.check(n.Test)
		c.check(n.Consequent)
		c.check(n.Alternate)

	case *ast.DotExpression:
		c.check(n.Left)

	case *ast.BracketExpression:
		c.check(n.Left)
		c.check(n.Member)

	case *ast.CallExpression:
		c.check(n.Callee)
		for _, arg := range n.ArgumentList {
			c.check(arg)
		}

	case *ast.ArrayLiteral:
		for _, item := range n.Value {
			if item == nil {
				c.fail("array holes are not allowed")
				return
			}
			c.check(item)
		}

	case *ast.ObjectLiteral:
		for _, prop := range n.Value {
			keyed, ok := prop.(*ast.PropertyKeyed)
			if !ok || keyed.Computed || keyed.Kind != ast.PropertyKindValue {
				c.fail("only plain key: value object properties are allowed")
				return
			}
			switch keyed.Key.(type) {
			case *ast.StringLiteral, *ast.Identifier, *ast.NumberLiteral:
			default:
				c.fail("unsupported object key")
				return
			}
			c.check(keyed.Value)
		}

	case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral:
		c.fail("function literals are not allowed")
	case *ast.YieldExpression:
		c.fail("yield is not allowed")
	case *ast.SequenceExpression:
		c.fail("must be exactly one expression")
	case *ast.AssignExpression:
		c.fail("assignment is not allowed")

	default:
		c.fail("unsupported construct %T", node)
	}
}
