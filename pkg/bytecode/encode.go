package bytecode

import (
	"encoding/binary"

	"github.com/mmspellbook/spellbook/pkg/expr"
	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/parser"
	"github.com/mmspellbook/spellbook/pkg/types"
)

// Encode serializes a resolved program. Names must resolve in table and
// operands must match their signatures; the compiler checks both first.
func Encode(prog *parser.Program, table *opcode.Table) ([]byte, error) {
	buf := header(table.Digest())
	for _, sec := range prog.Sections {
		tag := byte(opcode.OpSectionRepeat)
		if sec.Kind == types.SectionCreation {
			tag = opcode.OpSectionCreation
		}
		buf = append(buf, tag, 0, 0, 0, 0)
		lenAt := len(buf) - 4

		var err error
		if buf, err = encodeBody(buf, sec.Body, table); err != nil {
			return nil, err
		}
		binary.BigEndian.PutUint32(buf[lenAt:], uint32(len(buf)-lenAt-4))
	}
	return buf, nil
}

func encodeBody(buf []byte, stmts []parser.Statement, table *opcode.Table) ([]byte, error) {
	for _, st := range stmts {
		switch st := st.(type) {
		case *parser.Call:
			spec, ok := table.Lookup(st.Name)
			if !ok || spec.Kind != opcode.Action {
				return nil, types.Errorf(types.ErrUnknownOperation, "no action with this name").ForOp(st.Name).AtLine(st.Line)
			}
			if len(st.Args) != spec.Arity() {
				return nil, types.Errorf(types.ErrArity, "expected %s", spec.Signature()).ForOp(st.Name).AtLine(st.Line)
			}
			buf = append(buf, spec.Code)
			for _, a := range st.Args {
				if buf, ok = appendValue(buf, a); !ok {
					return nil, types.Errorf(types.ErrType, "cannot encode operand %v", a).ForOp(st.Name).AtLine(st.Line)
				}
			}

		case *parser.If:
			buf = append(buf, opcode.OpIfOpen)
			var err error
			if buf, err = encodeCond(buf, st.Cond, table); err != nil {
				if e, ok := err.(*types.Error); ok {
					return nil, e.AtLine(st.Line)
				}
				return nil, err
			}
			buf = append(buf, opcode.OpCondEnd)
			if buf, err = encodeBody(buf, st.Body, table); err != nil {
				return nil, err
			}
			buf = append(buf, opcode.OpIfClose)
		}
	}
	return buf, nil
}

// encodeCond emits the condition tree in postfix order.
func encodeCond(buf []byte, cond expr.Node, table *opcode.Table) ([]byte, error) {
	var err error
	expr.Walk(cond, func(n expr.Node) {
		if err != nil {
			return
		}
		switch n := n.(type) {
		case *expr.Literal:
			var ok bool
			if buf, ok = appendValue(buf, n.Value); !ok {
				err = types.Errorf(types.ErrType, "cannot encode literal %v", n.Value)
			}
		case *expr.Query:
			spec, ok := table.Lookup(n.Name)
			if !ok || spec.Kind != opcode.Query {
				err = types.Errorf(types.ErrUnknownOperation, "no query with this name").ForOp(n.Name)
				return
			}
			buf = append(buf, spec.Code)
		case *expr.Unary:
			buf = append(buf, n.Op)
		case *expr.Binary:
			buf = append(buf, n.Op)
		}
	})
	return buf, err
}
