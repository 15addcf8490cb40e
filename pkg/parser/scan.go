package parser

import (
	"errors"
	"strings"

	"github.com/mmspellbook/spellbook/pkg/types"
)

// sectionHeaders maps header lines (without the trailing colon) to sections.
var sectionHeaders = map[string]types.Section{
	"on_creation":  types.SectionCreation,
	"when_created": types.SectionCreation,
	"repeat":       types.SectionRepeat,
}

// Parse parses spell source into a Program.
//
// Each non-blank line is a section header, an operation call, an if line
// ending in "{", or a lone "}" closing the innermost open if-block.
// Errors are *types.Error values carrying the offending line.
func Parse(source string) (*Program, error) {
	prog := &Program{}
	var cur *Section
	var open []*If // explicit stack of unclosed if-blocks

	endSection := func() error {
		if len(open) > 0 {
			blk := open[len(open)-1]
			return types.Errorf(types.ErrSyntax, "if-block is never closed").AtLine(blk.Line)
		}
		return nil
	}

	lines := strings.Split(source, "\n")
	for i, raw := range lines {
		lineNum := i + 1
		line := strings.TrimSpace(stripComment(raw))
		if line == "" {
			continue
		}

		if name, ok := headerName(line); ok {
			kind, known := sectionHeaders[name]
			if !known {
				return nil, types.Errorf(types.ErrStructure, "unknown section %q", name).AtLine(lineNum)
			}
			if err := endSection(); err != nil {
				return nil, err
			}
			if prev := prog.Section(kind); prev != nil {
				return nil, types.Errorf(types.ErrStructure, "section %s already defined at line %d", kind, prev.Line).AtLine(lineNum)
			}
			cur = &Section{Kind: kind, Line: lineNum}
			prog.Sections = append(prog.Sections, cur)
			continue
		}

		if cur == nil {
			return nil, types.Errorf(types.ErrStructure, "statement outside of a section; start with on_creation: or repeat:").AtLine(lineNum)
		}

		body := &cur.Body
		if len(open) > 0 {
			body = &open[len(open)-1].Body
		}

		switch {
		case line == "}":
			if len(open) == 0 {
				return nil, types.Errorf(types.ErrSyntax, "} without an open if-block").AtLine(lineNum)
			}
			open = open[:len(open)-1]

		case strings.HasPrefix(line, "}"):
			return nil, types.Errorf(types.ErrSyntax, "} must be alone on its line").AtLine(lineNum)

		case isIfLine(line):
			blk, err := parseIf(line)
			if err != nil {
				return nil, atLine(err, lineNum)
			}
			blk.Line = lineNum
			*body = append(*body, blk)
			open = append(open, blk)

		default:
			if strings.ContainsAny(line, "{}") {
				return nil, types.Errorf(types.ErrSyntax, "braces may only open an if-block or close one on its own line").AtLine(lineNum)
			}
			call, err := ParseCall(line)
			if err != nil {
				return nil, atLine(err, lineNum)
			}
			call.Line = lineNum
			*body = append(*body, call)
		}
	}

	if err := endSection(); err != nil {
		return nil, err
	}
	return prog, nil
}

func parseIf(line string) (*If, error) {
	if !strings.HasSuffix(line, "{") {
		return nil, types.Errorf(types.ErrSyntax, "opening brace must be the last character of an if line")
	}
	cond := strings.TrimSpace(line[len("if") : len(line)-1])
	if strings.ContainsAny(cond, "{}") {
		return nil, types.Errorf(types.ErrSyntax, "opening brace must be the last character of an if line")
	}
	if cond == "" {
		return nil, types.Errorf(types.ErrSyntax, "if without a condition")
	}
	node, err := ParseCondition(cond)
	if err != nil {
		return nil, err
	}
	return &If{Cond: node}, nil
}

// headerName reports whether line is a section header such as "repeat:".
func headerName(line string) (string, bool) {
	if name, ok := strings.CutSuffix(line, ":"); ok {
		name = strings.TrimSpace(name)
		if isIdent(name) {
			return name, true
		}
		return "", false
	}
	if _, ok := sectionHeaders[line]; ok {
		return line, true
	}
	return "", false
}

func isIfLine(line string) bool {
	if !strings.HasPrefix(line, "if") {
		return false
	}
	return len(line) == 2 || !isIdentChar(line[2])
}

func isIdent(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func stripComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}

func atLine(err error, line int) error {
	var e *types.Error
	if errors.As(err, &e) {
		return e.AtLine(line)
	}
	return types.Errorf(types.ErrSyntax, "%v", err).AtLine(line)
}
