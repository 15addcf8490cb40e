package parser

import (
	"strings"
	"testing"

	"github.com/mmspellbook/spellbook/pkg/expr"
	"github.com/mmspellbook/spellbook/pkg/types"
)

func mustParse(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return prog
}

func TestParseSections(t *testing.T) {
	prog := mustParse(t, `
# a comment
on_creation:
    take_form(2)

repeat:
    give_velocity(1, 0, -0.5)  # trailing comment
    anchor()
`)
	if len(prog.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(prog.Sections))
	}
	create := prog.Section(types.SectionCreation)
	if create == nil || len(create.Body) != 1 {
		t.Fatalf("on_creation: %+v", create)
	}
	repeat := prog.Section(types.SectionRepeat)
	if repeat == nil || len(repeat.Body) != 2 {
		t.Fatalf("repeat: %+v", repeat)
	}

	call := repeat.Body[0].(*Call)
	want := types.Invocation{Op: "give_velocity", Args: []types.Value{types.Number(1), types.Number(0), types.Number(-0.5)}}
	if !call.Invocation().Equal(want) {
		t.Errorf("got %v, want %v", call.Invocation(), want)
	}
	if call.Line != 7 {
		t.Errorf("line: got %d want 7", call.Line)
	}
}

func TestWhenCreatedAlias(t *testing.T) {
	prog := mustParse(t, "when_created:\nperish()\n")
	if prog.Section(types.SectionCreation) == nil {
		t.Fatal("when_created should map to on_creation")
	}
}

func TestParseIfBlock(t *testing.T) {
	prog := mustParse(t, "repeat:\nif true {\ngive_velocity(1, 0, 0)\n}")
	body := prog.Section(types.SectionRepeat).Body
	if len(body) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(body))
	}
	blk, ok := body[0].(*If)
	if !ok {
		t.Fatalf("expected *If, got %T", body[0])
	}
	if !expr.Equal(blk.Cond, &expr.Literal{Value: types.Boolean(true)}) {
		t.Errorf("condition: %s", blk.Cond)
	}
	if len(blk.Body) != 1 {
		t.Errorf("if body: %d statements", len(blk.Body))
	}
}

func TestParseNestedIf(t *testing.T) {
	prog := mustParse(t, `repeat:
if moving() {
  if get_time() > 10 {
    perish()
  }
  anchor()
}
undo_anchor()
`)
	body := prog.Section(types.SectionRepeat).Body
	if len(body) != 2 {
		t.Fatalf("expected 2 top-level statements, got %d", len(body))
	}
	outer := body[0].(*If)
	if len(outer.Body) != 2 {
		t.Fatalf("outer body: %d", len(outer.Body))
	}
	inner := outer.Body[0].(*If)
	if inner.Line != 3 || len(inner.Body) != 1 {
		t.Errorf("inner: line %d, %d statements", inner.Line, len(inner.Body))
	}

	var names []string
	_ = Walk(body, func(st Statement) error {
		if c, ok := st.(*Call); ok {
			names = append(names, c.Name)
		}
		return nil
	})
	if strings.Join(names, ",") != "perish,anchor,undo_anchor" {
		t.Errorf("walk order: %v", names)
	}
}

func TestParseConditionPrecedence(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"2 = 4 - 2", "2 = 4 - 2"},
		{"5 > 3 and true", "5 > 3 and true"},
		{"1 + 2 * 3 = 7", "1 + 2 * 3 = 7"},
		{"not moving() or true", "not moving() or true"},
		{"-2 ^ 2 < 0", "-2 ^ 2 < 0"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			n, err := ParseCondition(tt.src)
			if err != nil {
				t.Fatalf("ParseCondition: %v", err)
			}
			if n.String() != tt.want {
				t.Errorf("got %q want %q", n.String(), tt.want)
			}
		})
	}

	// and/or share precedence and associate left: (true or false) and false
	n, err := ParseCondition("true or false and false")
	if err != nil {
		t.Fatal(err)
	}
	v, err := expr.Eval(n, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != types.Boolean(false) {
		t.Errorf("left-to-right evaluation expected false, got %v", v)
	}

	// multiplication binds tighter than addition
	n, _ = ParseCondition("1 + 2 * 3 = 7")
	if v, _ := expr.Eval(n, nil); v != types.Boolean(true) {
		t.Errorf("1 + 2 * 3 = 7 evaluated to %v", v)
	}
}

func TestParseCallArguments(t *testing.T) {
	call, err := ParseCall("take_shape(-1.5e2, true, false, .5)")
	if err != nil {
		t.Fatal(err)
	}
	want := []types.Value{types.Number(-150), types.Boolean(true), types.Boolean(false), types.Number(0.5)}
	if len(call.Args) != len(want) {
		t.Fatalf("args: %v", call.Args)
	}
	for i := range want {
		if !call.Args[i].Equal(want[i]) {
			t.Errorf("arg %d: got %v want %v", i, call.Args[i], want[i])
		}
	}

	if call, err := ParseCall("anchor()"); err != nil || len(call.Args) != 0 {
		t.Errorf("anchor(): %v %v", call, err)
	}
}

func TestParseCallOutOfRange(t *testing.T) {
	for _, text := range []string{"give_velocity(1e999, 0, 0)", "give_velocity(0, -1e400, 0)"} {
		_, err := ParseCall(text)
		if !types.IsKind(err, types.ErrSyntax) {
			t.Fatalf("%s: got %v, want SyntaxError", text, err)
		}
		msg := err.Error()
		if !strings.Contains(msg, "out of range") || !strings.Contains(msg, "give_velocity") {
			t.Errorf("%s: message %q should name the operation and the range error", text, msg)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind types.ErrorKind
		line int
	}{
		{"outside section", "give_velocity(1, 0, 0)", types.ErrStructure, 1},
		{"unknown section", "metadata:\n", types.ErrStructure, 1},
		{"duplicate section", "repeat:\nanchor()\nrepeat:\n", types.ErrStructure, 3},
		{"brace not last", "repeat:\nif true { give_velocity(1, 0, 0)\n}", types.ErrSyntax, 2},
		{"missing brace", "repeat:\nif true\nanchor()\n", types.ErrSyntax, 2},
		{"unclosed block", "repeat:\nif true {\nanchor()\n", types.ErrSyntax, 2},
		{"unclosed before next section", "repeat:\nif true {\non_creation:\n", types.ErrSyntax, 2},
		{"stray close", "repeat:\n}\n", types.ErrSyntax, 2},
		{"close with text", "repeat:\nif true {\n} anchor()\n", types.ErrSyntax, 3},
		{"empty condition", "repeat:\nif {\n}\n", types.ErrSyntax, 2},
		{"malformed call", "repeat:\ngive_velocity(1, 0\n", types.ErrSyntax, 2},
		{"string argument", "repeat:\ntake_form(fire)\n", types.ErrSyntax, 2},
		{"negated bool", "repeat:\ntake_form(-true)\n", types.ErrSyntax, 2},
		{"brace in call", "repeat:\nanchor() {\n", types.ErrSyntax, 2},
		{"bad condition", "repeat:\nif 5 > {\n}\n", types.ErrSyntax, 2},
		{"argument out of range", "repeat:\nanchor()\ngive_velocity(1e999, 0, 0)\n", types.ErrSyntax, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			if err == nil {
				t.Fatal("expected error")
			}
			if !types.IsKind(err, tt.kind) {
				t.Fatalf("got %v, want %v", err, tt.kind)
			}
			if e := err.(*types.Error); e.Line != tt.line {
				t.Errorf("line: got %d want %d (%v)", e.Line, tt.line, err)
			}
		})
	}
}

func TestProgramEqual(t *testing.T) {
	src := "repeat:\nif 5 > 3 {\ngive_velocity(1, 0, 0)\n}\n"
	a := mustParse(t, src)
	b := mustParse(t, "\n\n"+src)
	if !Equal(a, b) {
		t.Error("line positions should not affect equality")
	}
	c := mustParse(t, "repeat:\nif 5 > 3 {\ngive_velocity(1, 0, 1)\n}\n")
	if Equal(a, c) {
		t.Error("different operands should not be equal")
	}
}
