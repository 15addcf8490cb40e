package opcode

import (
	"strings"
	"testing"

	"github.com/mmspellbook/spellbook/pkg/types"
)

func TestDefaultTable(t *testing.T) {
	tbl := Default()

	gv, ok := tbl.Lookup("give_velocity")
	if !ok {
		t.Fatal("give_velocity missing from default table")
	}
	if gv.Arity() != 3 || gv.Kind != Action {
		t.Errorf("give_velocity: arity %d kind %v", gv.Arity(), gv.Kind)
	}
	if got, ok := tbl.ByCode(gv.Code); !ok || got != gv {
		t.Error("ByCode does not round-trip give_velocity")
	}

	moving, ok := tbl.Lookup("moving")
	if !ok || moving.Kind != Query || moving.Returns != types.KindBool {
		t.Errorf("moving: %+v", moving)
	}

	specs := tbl.Specs()
	for i := 1; i < len(specs); i++ {
		if specs[i-1].Code >= specs[i].Code {
			t.Fatalf("specs not ordered by code at %d", i)
		}
	}
}

func TestSignature(t *testing.T) {
	gv, _ := Default().Lookup("give_velocity")
	if got := gv.Signature(); got != "give_velocity(number, number, number)" {
		t.Errorf("got %q", got)
	}
	q, _ := Default().Lookup("get_time")
	if got := q.Signature(); got != "get_time() -> number" {
		t.Errorf("got %q", got)
	}
}

func TestDigestTracksContents(t *testing.T) {
	a := MustTable(DefaultSpecs())
	b := MustTable(DefaultSpecs())
	if a.Digest() != b.Digest() {
		t.Fatal("identical tables should share a digest")
	}

	specs := DefaultSpecs()
	specs[0].Cost = 6
	c := MustTable(specs)
	if c.Digest() == a.Digest() {
		t.Error("changing a cost should change the digest")
	}
}

func TestNewTableRejects(t *testing.T) {
	n := types.KindNumber
	tests := []struct {
		name  string
		specs []Spec
		want  string
	}{
		{"bad name", []Spec{{Name: "9lives", Code: 1}}, "invalid name"},
		{"reserved", []Spec{{Name: "if", Code: 1}}, "invalid name"},
		{"dup name", []Spec{{Name: "a", Code: 1}, {Name: "a", Code: 2}}, "duplicate name"},
		{"dup code", []Spec{{Name: "a", Code: 1}, {Name: "b", Code: 1}}, "already used"},
		{"negative cost", []Spec{{Name: "a", Code: 1, Cost: -1}}, "non-negative"},
		{"action range", []Spec{{Name: "a", Code: 0x41}}, "action code"},
		{"query range", []Spec{{Name: "a", Code: 0x01, Kind: Query, Returns: n}}, "query code"},
		{"query params", []Spec{{Name: "a", Code: 0x41, Kind: Query, Returns: n, Params: []types.Kind{n}}}, "no parameters"},
		{"query returns", []Spec{{Name: "a", Code: 0x41, Kind: Query}}, "return kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.specs)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestOperatorRanges(t *testing.T) {
	for name, op := range Operators {
		if !IsOperator(op) {
			t.Errorf("%s (0x%02X) outside operator range", name, op)
		}
		if OpName(op) != name {
			t.Errorf("OpName(0x%02X) = %q, want %q", op, OpName(op), name)
		}
	}
	if !IsUnary(OpNot) || !IsUnary(OpNeg) || IsUnary(OpAdd) {
		t.Error("IsUnary misclassifies operators")
	}
	if IsLiteral(OpIfOpen) || !IsLiteral(OpNumber) {
		t.Error("IsLiteral misclassifies")
	}
}
