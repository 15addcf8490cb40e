package bytecode

import (
	"github.com/mmspellbook/spellbook/pkg/expr"
	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/parser"
)

// Decode rebuilds the program AST from bytecode. Statement positions are
// byte offsets rather than source lines.
func Decode(code []byte, table *opcode.Table) (*parser.Program, error) {
	img, err := Open(code)
	if err != nil {
		return nil, err
	}
	if err := img.CheckTable(table); err != nil {
		return nil, err
	}
	prog := &parser.Program{}
	for _, seg := range img.Segments {
		body, err := DecodeSection(seg, table)
		if err != nil {
			return nil, err
		}
		prog.Sections = append(prog.Sections, &parser.Section{Kind: seg.Kind, Body: body})
	}
	return prog, nil
}

// DecodeSection decodes the statements of one section.
func DecodeSection(seg Segment, table *opcode.Table) ([]parser.Statement, error) {
	var top []parser.Statement
	var open []*parser.If // enclosing if-blocks, innermost last

	c := NewCursor(seg, table)
	for !c.Done() {
		in, err := c.Next()
		if err != nil {
			return nil, err
		}
		var st parser.Statement
		switch in.Kind {
		case InstrCall:
			st = &parser.Call{Name: in.Spec.Name, Args: in.Args, Offset: in.Pos}
		case InstrIfOpen:
			cond, err := decodeCond(c)
			if err != nil {
				return nil, err
			}
			st = &parser.If{Cond: cond, Offset: in.Pos}
		case InstrIfClose:
			if len(open) == 0 {
				return nil, decodeErr(in.Pos, "if-block close without open")
			}
			open = open[:len(open)-1]
			continue
		default:
			return nil, decodeErr(in.Pos, "%s outside of a condition", in.Name())
		}

		if len(open) > 0 {
			blk := open[len(open)-1]
			blk.Body = append(blk.Body, st)
		} else {
			top = append(top, st)
		}
		if blk, ok := st.(*parser.If); ok {
			open = append(open, blk)
		}
	}
	if len(open) > 0 {
		return nil, decodeErr(open[len(open)-1].Offset, "if-block never closed")
	}
	return top, nil
}

// decodeCond reads a postfix condition up to and including the end marker.
func decodeCond(c *Cursor) (expr.Node, error) {
	var stack []expr.Node
	for {
		if c.Done() {
			return nil, decodeErr(c.Pos(), "condition runs past end of section")
		}
		in, err := c.Next()
		if err != nil {
			return nil, err
		}
		switch in.Kind {
		case InstrLiteral:
			stack = append(stack, &expr.Literal{Value: in.Value})
		case InstrQuery:
			stack = append(stack, &expr.Query{Name: in.Spec.Name})
		case InstrOperator:
			if opcode.IsUnary(in.Op) {
				if len(stack) < 1 {
					return nil, decodeErr(in.Pos, "%s: condition stack underflow", opcode.OpName(in.Op))
				}
				stack[len(stack)-1] = &expr.Unary{Op: in.Op, X: stack[len(stack)-1]}
				continue
			}
			if len(stack) < 2 {
				return nil, decodeErr(in.Pos, "%s: condition stack underflow", opcode.OpName(in.Op))
			}
			l, r := stack[len(stack)-2], stack[len(stack)-1]
			stack = append(stack[:len(stack)-2], &expr.Binary{Op: in.Op, L: l, R: r})
		case InstrCondEnd:
			if len(stack) != 1 {
				return nil, decodeErr(in.Pos, "condition leaves %d values", len(stack))
			}
			return stack[0], nil
		default:
			return nil, decodeErr(in.Pos, "%s inside a condition", in.Name())
		}
	}
}
