package types

import (
	"fmt"
	"testing"
)

func TestValueEquality(t *testing.T) {
	tests := []struct {
		a, b Value
		want bool
	}{
		{Number(1), Number(1), true},
		{Number(1), Number(2), false},
		{Boolean(true), Boolean(true), true},
		{Boolean(true), Number(1), false},
		{Number(0), Boolean(false), false},
	}
	for _, tt := range tests {
		if got := tt.a.Equal(tt.b); got != tt.want {
			t.Errorf("%v.Equal(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNumberString(t *testing.T) {
	tests := map[Number]string{
		1:    "1",
		-2.5: "-2.5",
		0.1:  "0.1",
		1e21: "1e+21",
	}
	for n, want := range tests {
		if got := n.String(); got != want {
			t.Errorf("Number(%v).String() = %q, want %q", float64(n), got, want)
		}
	}
}

func TestInvocationString(t *testing.T) {
	inv := Invocation{Op: "give_velocity", Args: []Value{Number(1), Number(0), Boolean(true)}}
	if got := inv.String(); got != "give_velocity(1, 0, true)" {
		t.Errorf("got %q", got)
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"number": KindNumber, "Float": KindNumber, "bool": KindBool, " boolean ": KindBool} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseKind("string"); err == nil {
		t.Error("expected error for string kind")
	}
}

func TestErrorFormatting(t *testing.T) {
	err := Errorf(ErrArity, "expected 3 operands, got 1").ForOp("give_velocity").AtLine(4)
	want := "ArityError at line 4: give_velocity: expected 3 operands, got 1"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}

	wrapped := fmt.Errorf("compile: %w", err)
	if !IsKind(wrapped, ErrArity) {
		t.Error("IsKind should see through wrapping")
	}
	if IsKind(wrapped, ErrSyntax) {
		t.Error("IsKind matched the wrong kind")
	}
}
