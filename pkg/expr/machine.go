package expr

import (
	"fmt"

	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/types"
)

// MaxDepth bounds the operand stack of a single condition.
const MaxDepth = 64

// Depth returns the operand stack depth a Machine needs to evaluate n in
// postfix order.
func Depth(n Node) int {
	switch n := n.(type) {
	case *Unary:
		return Depth(n.X)
	case *Binary:
		return max(Depth(n.L), 1+Depth(n.R))
	}
	return 1
}

// Machine evaluates a condition in postfix order: operands are pushed,
// operators pop their operands and push the result.
type Machine struct {
	stack []types.Value
}

// Reset clears the operand stack.
func (m *Machine) Reset() {
	m.stack = m.stack[:0]
}

// Push pushes an operand.
func (m *Machine) Push(v types.Value) error {
	if len(m.stack) >= MaxDepth {
		return fmt.Errorf("expr: condition stack overflow")
	}
	m.stack = append(m.stack, v)
	return nil
}

// Op applies an operator to the top of the stack.
func (m *Machine) Op(op byte) error {
	n := 2
	if opcode.IsUnary(op) {
		n = 1
	}
	if len(m.stack) < n {
		return fmt.Errorf("expr: stack underflow at %s", opcode.OpName(op))
	}
	args := m.stack[len(m.stack)-n:]
	v, err := Apply(op, args...)
	if err != nil {
		return err
	}
	m.stack = append(m.stack[:len(m.stack)-n], v)
	return nil
}

// Result returns the single value left on the stack.
func (m *Machine) Result() (types.Value, error) {
	if len(m.stack) != 1 {
		return nil, fmt.Errorf("expr: condition left %d values on the stack", len(m.stack))
	}
	return m.stack[0], nil
}
