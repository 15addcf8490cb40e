package bytecode

import (
	"encoding/binary"
	"math"

	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/types"
)

// InstrKind classifies a decoded instruction.
type InstrKind byte

const (
	InstrCall     InstrKind = iota + 1 // action opcode with its operands
	InstrLiteral                       // operand tag inside a condition
	InstrQuery                         // query opcode inside a condition
	InstrOperator                      // condition operator
	InstrIfOpen
	InstrCondEnd
	InstrIfClose
)

// Instr is one decoded instruction.
type Instr struct {
	Kind  InstrKind
	Op    byte
	Pos   int // absolute offset of the opcode
	Spec  *opcode.Spec
	Args  []types.Value // InstrCall
	Value types.Value   // InstrLiteral
}

// Invocation returns the call as a host invocation.
func (in Instr) Invocation() types.Invocation {
	return types.Invocation{Op: in.Spec.Name, Args: in.Args}
}

// Name returns the operation name for calls and queries, else the marker name.
func (in Instr) Name() string {
	if in.Spec != nil {
		return in.Spec.Name
	}
	return opcode.OpName(in.Op)
}

// Cursor decodes the instructions of one section in order.
type Cursor struct {
	seg   Segment
	table *opcode.Table
	pc    int
}

// NewCursor returns a cursor at the start of seg.
func NewCursor(seg Segment, table *opcode.Table) *Cursor {
	return &Cursor{seg: seg, table: table}
}

// Done reports whether the cursor is past the end of the section.
func (c *Cursor) Done() bool { return c.pc >= len(c.seg.Body) }

// Pos returns the absolute offset of the next instruction.
func (c *Cursor) Pos() int { return c.seg.Offset + c.pc }

// Next decodes the instruction at the cursor and advances past it.
// On error the cursor does not move.
func (c *Cursor) Next() (Instr, error) {
	body := c.seg.Body
	if c.pc >= len(body) {
		return Instr{}, decodeErr(c.Pos(), "read past end of section")
	}
	op := body[c.pc]
	in := Instr{Op: op, Pos: c.Pos()}
	pc := c.pc + 1

	switch {
	case opcode.IsAction(op):
		spec, ok := c.table.ByCode(op)
		if !ok {
			return Instr{}, decodeErr(in.Pos, "unknown action opcode 0x%02X", op)
		}
		in.Kind = InstrCall
		in.Spec = spec
		in.Args = make([]types.Value, 0, spec.Arity())
		for i, want := range spec.Params {
			v, n, err := c.literal(pc)
			if err != nil {
				return Instr{}, err
			}
			if v.Kind() != want {
				return Instr{}, decodeErr(c.seg.Offset+pc, "%s operand %d: expected %s, got %s", spec.Name, i+1, want, v.Kind())
			}
			in.Args = append(in.Args, v)
			pc += n
		}

	case opcode.IsQuery(op):
		spec, ok := c.table.ByCode(op)
		if !ok {
			return Instr{}, decodeErr(in.Pos, "unknown query opcode 0x%02X", op)
		}
		in.Kind = InstrQuery
		in.Spec = spec

	case opcode.IsOperator(op):
		in.Kind = InstrOperator

	case opcode.IsLiteral(op):
		v, n, err := c.literal(c.pc)
		if err != nil {
			return Instr{}, err
		}
		in.Kind = InstrLiteral
		in.Value = v
		pc = c.pc + n

	case op == opcode.OpIfOpen:
		in.Kind = InstrIfOpen
	case op == opcode.OpCondEnd:
		in.Kind = InstrCondEnd
	case op == opcode.OpIfClose:
		in.Kind = InstrIfClose

	default:
		return Instr{}, decodeErr(in.Pos, "invalid opcode 0x%02X", op)
	}

	c.pc = pc
	return in, nil
}

// literal decodes the tagged operand at pc and returns its encoded length.
func (c *Cursor) literal(pc int) (types.Value, int, error) {
	body := c.seg.Body
	if pc >= len(body) {
		return nil, 0, decodeErr(c.seg.Offset+pc, "truncated operand")
	}
	switch body[pc] {
	case opcode.OpNumber:
		if pc+1+opcode.NumberSize > len(body) {
			return nil, 0, decodeErr(c.seg.Offset+pc, "truncated number operand")
		}
		bits := binary.BigEndian.Uint64(body[pc+1 : pc+1+opcode.NumberSize])
		return types.Number(math.Float64frombits(bits)), 1 + opcode.NumberSize, nil
	case opcode.OpTrue:
		return types.Boolean(true), 1, nil
	case opcode.OpFalse:
		return types.Boolean(false), 1, nil
	}
	return nil, 0, decodeErr(c.seg.Offset+pc, "expected operand tag, got 0x%02X", body[pc])
}

// appendValue encodes v as a tagged operand.
func appendValue(buf []byte, v types.Value) ([]byte, bool) {
	switch v := v.(type) {
	case types.Boolean:
		if v {
			return append(buf, opcode.OpTrue), true
		}
		return append(buf, opcode.OpFalse), true
	case types.Number:
		buf = append(buf, opcode.OpNumber)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(float64(v))), true
	}
	return buf, false
}
