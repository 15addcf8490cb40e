// Package expr evaluates the condition expressions guarding if-blocks.
//
// Conditions are built from number and boolean literals, host queries,
// arithmetic, comparisons and the logical operators and/or/xor/not. The
// compiler type-checks a condition tree with Check; the structural
// interpreter evaluates it with Eval, and the VM evaluates its postfix
// encoding with a Machine. All three share Apply.
package expr

import (
	"fmt"
	"math"

	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/types"
)

// Node is a condition expression tree node.
type Node interface {
	String() string
}

// Literal is a number or boolean constant.
type Literal struct {
	Value types.Value
}

// Query asks the host for a value, e.g. moving() or get_time().
type Query struct {
	Name string
}

// Unary applies not or negation.
type Unary struct {
	Op byte
	X  Node
}

// Binary applies a logical, comparison or arithmetic operator.
type Binary struct {
	Op   byte
	L, R Node
}

func (l *Literal) String() string { return l.Value.String() }
func (q *Query) String() string   { return q.Name + "()" }

func (u *Unary) String() string {
	if u.Op == opcode.OpNeg {
		return "-" + u.X.String()
	}
	return opcode.OpName(u.Op) + " " + u.X.String()
}

func (b *Binary) String() string {
	return b.L.String() + " " + opcode.OpName(b.Op) + " " + b.R.String()
}

// Equal reports whether two trees are structurally identical.
func Equal(a, b Node) bool {
	switch x := a.(type) {
	case *Literal:
		y, ok := b.(*Literal)
		return ok && x.Value.Equal(y.Value)
	case *Query:
		y, ok := b.(*Query)
		return ok && x.Name == y.Name
	case *Unary:
		y, ok := b.(*Unary)
		return ok && x.Op == y.Op && Equal(x.X, y.X)
	case *Binary:
		y, ok := b.(*Binary)
		return ok && x.Op == y.Op && Equal(x.L, y.L) && Equal(x.R, y.R)
	}
	return false
}

// Lookup resolves a query name to its return kind.
type Lookup func(name string) (types.Kind, error)

// Check returns the kind n evaluates to, or a TypeMismatch error.
func Check(n Node, lookup Lookup) (types.Kind, error) {
	switch x := n.(type) {
	case *Literal:
		return x.Value.Kind(), nil
	case *Query:
		if lookup == nil {
			return 0, types.Errorf(types.ErrUnknownOperation, "unknown query").ForOp(x.Name)
		}
		return lookup(x.Name)
	case *Unary:
		k, err := Check(x.X, lookup)
		if err != nil {
			return 0, err
		}
		want := types.KindNumber
		if x.Op == opcode.OpNot {
			want = types.KindBool
		}
		if k != want {
			return 0, mismatch(x.Op, "%s needs a %s operand, got %s", opcode.OpName(x.Op), want, k)
		}
		return want, nil
	case *Binary:
		l, err := Check(x.L, lookup)
		if err != nil {
			return 0, err
		}
		r, err := Check(x.R, lookup)
		if err != nil {
			return 0, err
		}
		return resultKind(x.Op, l, r)
	}
	return 0, fmt.Errorf("expr: unknown node %T", n)
}

func resultKind(op byte, l, r types.Kind) (types.Kind, error) {
	name := opcode.OpName(op)
	switch op {
	case opcode.OpAnd, opcode.OpOr, opcode.OpXor:
		if l != types.KindBool || r != types.KindBool {
			return 0, mismatch(op, "%s needs bool operands, got %s and %s", name, l, r)
		}
		return types.KindBool, nil
	case opcode.OpEq:
		if l != r {
			return 0, mismatch(op, "cannot compare %s with %s", l, r)
		}
		return types.KindBool, nil
	case opcode.OpGt, opcode.OpLt, opcode.OpGe, opcode.OpLe:
		if l != types.KindNumber || r != types.KindNumber {
			return 0, mismatch(op, "%s needs number operands, got %s and %s", name, l, r)
		}
		return types.KindBool, nil
	case opcode.OpAdd, opcode.OpSub, opcode.OpMul, opcode.OpDiv, opcode.OpPow:
		if l != types.KindNumber || r != types.KindNumber {
			return 0, mismatch(op, "%s needs number operands, got %s and %s", name, l, r)
		}
		return types.KindNumber, nil
	}
	return 0, fmt.Errorf("expr: unknown operator 0x%02X", op)
}

func mismatch(op byte, format string, args ...any) error {
	return types.Errorf(types.ErrTypeMismatch, format, args...).ForOp(opcode.OpName(op))
}

// Apply evaluates one operator over already-evaluated operands.
func Apply(op byte, args ...types.Value) (types.Value, error) {
	if opcode.IsUnary(op) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expr: %s takes 1 operand, got %d", opcode.OpName(op), len(args))
		}
		switch op {
		case opcode.OpNot:
			b, ok := args[0].(types.Boolean)
			if !ok {
				return nil, mismatch(op, "not needs a bool operand, got %s", args[0].Kind())
			}
			return !b, nil
		default:
			n, ok := args[0].(types.Number)
			if !ok {
				return nil, mismatch(op, "negation needs a number operand, got %s", args[0].Kind())
			}
			return -n, nil
		}
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("expr: %s takes 2 operands, got %d", opcode.OpName(op), len(args))
	}
	l, r := args[0], args[1]
	if _, err := resultKind(op, l.Kind(), r.Kind()); err != nil {
		return nil, err
	}

	switch op {
	case opcode.OpAnd:
		return l.(types.Boolean) && r.(types.Boolean), nil
	case opcode.OpOr:
		return l.(types.Boolean) || r.(types.Boolean), nil
	case opcode.OpXor:
		return types.Boolean(l.(types.Boolean) != r.(types.Boolean)), nil
	case opcode.OpEq:
		return types.Boolean(l.Equal(r)), nil
	}

	a, b := l.(types.Number), r.(types.Number)
	switch op {
	case opcode.OpGt:
		return types.Boolean(a > b), nil
	case opcode.OpLt:
		return types.Boolean(a < b), nil
	case opcode.OpGe:
		return types.Boolean(a >= b), nil
	case opcode.OpLe:
		return types.Boolean(a <= b), nil
	case opcode.OpAdd:
		return a + b, nil
	case opcode.OpSub:
		return a - b, nil
	case opcode.OpMul:
		return a * b, nil
	case opcode.OpDiv:
		return a / b, nil
	default:
		return types.Number(math.Pow(float64(a), float64(b))), nil
	}
}

// Querier answers host queries during evaluation.
type Querier interface {
	Query(name string) (types.Value, error)
}

// QuerierFunc adapts a function to Querier.
type QuerierFunc func(name string) (types.Value, error)

func (f QuerierFunc) Query(name string) (types.Value, error) { return f(name) }

// Eval evaluates n directly. Queries go to q; kinds are assumed checked.
func Eval(n Node, q Querier) (types.Value, error) {
	switch x := n.(type) {
	case *Literal:
		return x.Value, nil
	case *Query:
		if q == nil {
			return nil, fmt.Errorf("expr: no querier for %s()", x.Name)
		}
		return q.Query(x.Name)
	case *Unary:
		v, err := Eval(x.X, q)
		if err != nil {
			return nil, err
		}
		return Apply(x.Op, v)
	case *Binary:
		l, err := Eval(x.L, q)
		if err != nil {
			return nil, err
		}
		r, err := Eval(x.R, q)
		if err != nil {
			return nil, err
		}
		return Apply(x.Op, l, r)
	}
	return nil, fmt.Errorf("expr: unknown node %T", n)
}

// Walk calls fn for every node of n in postfix order.
func Walk(n Node, fn func(Node)) {
	switch x := n.(type) {
	case *Unary:
		Walk(x.X, fn)
	case *Binary:
		Walk(x.L, fn)
		Walk(x.R, fn)
	}
	fn(n)
}
