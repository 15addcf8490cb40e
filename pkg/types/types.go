// Package types defines the core value types shared by the spell compiler,
// the virtual machine and the hosts that drive them.
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the static type of an operand or expression.
type Kind byte

const (
	KindNumber Kind = iota + 1
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// ParseKind maps the configuration spelling of a kind to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "number", "float", "num":
		return KindNumber, nil
	case "bool", "boolean":
		return KindBool, nil
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

// Value is the interface all spell operand values implement.
type Value interface {
	// String returns a human-readable representation
	String() string
	// Kind returns the static kind of the value
	Kind() Kind
	// Equal checks equality with another value
	Equal(other Value) bool
}

// Number is an IEEE-754 double. Integers in source are numbers too.
type Number float64

func (n Number) String() string {
	return strconv.FormatFloat(float64(n), 'g', -1, 64)
}

func (n Number) Kind() Kind { return KindNumber }

func (n Number) Equal(other Value) bool {
	if o, ok := other.(Number); ok {
		return n == o
	}
	return false
}

// Boolean represents true/false
type Boolean bool

func (b Boolean) String() string {
	if b {
		return "true"
	}
	return "false"
}

func (b Boolean) Kind() Kind { return KindBool }

func (b Boolean) Equal(other Value) bool {
	if o, ok := other.(Boolean); ok {
		return b == o
	}
	return false
}

// Zero returns the zero value of a kind.
func Zero(k Kind) Value {
	if k == KindBool {
		return Boolean(false)
	}
	return Number(0)
}

// Section names one of the two top-level phases of a spell.
type Section byte

const (
	SectionCreation Section = iota + 1 // runs once when the spell is cast
	SectionRepeat                      // runs once per host tick
)

func (s Section) String() string {
	switch s {
	case SectionCreation:
		return "on_creation"
	case SectionRepeat:
		return "repeat"
	default:
		return fmt.Sprintf("section(%d)", byte(s))
	}
}

// Invocation is one dispatch of a host operation with decoded operands.
type Invocation struct {
	Op   string
	Args []Value
}

func (inv Invocation) String() string {
	parts := make([]string, len(inv.Args))
	for i, a := range inv.Args {
		parts[i] = a.String()
	}
	return inv.Op + "(" + strings.Join(parts, ", ") + ")"
}

// Equal reports whether two invocations name the same operation with equal operands.
func (inv Invocation) Equal(o Invocation) bool {
	if inv.Op != o.Op || len(inv.Args) != len(o.Args) {
		return false
	}
	for i, a := range inv.Args {
		if !a.Equal(o.Args[i]) {
			return false
		}
	}
	return true
}
