package bytecode

import (
	"fmt"
	"strings"

	"github.com/mmspellbook/spellbook/pkg/opcode"
)

// Disassemble converts bytecode back to a text listing. Decoding stops at the
// first error, which is reported in the listing.
func Disassemble(code []byte, table *opcode.Table) string {
	var sb strings.Builder

	img, err := Open(code)
	if err != nil {
		sb.WriteString(fmt.Sprintf("?? %v\n", err))
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("; %s v%d table %016x", Magic, img.Version, img.Digest))
	if table != nil && img.Digest != table.Digest() {
		sb.WriteString(fmt.Sprintf(" (runtime table %016x)", table.Digest()))
	}
	sb.WriteString("\n")
	if table == nil {
		table = opcode.Default()
	}

	for _, seg := range img.Segments {
		sb.WriteString(fmt.Sprintf("%04X: %s: ; %d bytes\n", seg.Offset-opcode.SectionHeaderSize, seg.Kind, len(seg.Body)))
		depth := 1
		c := NewCursor(seg, table)
		for !c.Done() {
			in, err := c.Next()
			if err != nil {
				sb.WriteString(fmt.Sprintf("%04X: ?? %v\n", c.Pos(), err))
				break
			}
			if in.Kind == InstrIfClose && depth > 1 {
				depth--
			}
			sb.WriteString(fmt.Sprintf("%04X: %s", in.Pos, strings.Repeat("  ", depth)))

			switch in.Kind {
			case InstrCall:
				sb.WriteString(in.Invocation().String())
			case InstrLiteral:
				sb.WriteString(in.Value.String())
			case InstrQuery:
				sb.WriteString(in.Spec.Name + "()")
			case InstrOperator:
				sb.WriteString(opcode.OpName(in.Op))
			case InstrIfOpen:
				sb.WriteString("if")
				depth++
			case InstrCondEnd:
				sb.WriteString("then")
			case InstrIfClose:
				sb.WriteString("end")
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}
