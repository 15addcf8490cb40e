package parser

import (
	"github.com/mmspellbook/spellbook/pkg/expr"
	"github.com/mmspellbook/spellbook/pkg/types"
)

// Program is a parsed spell: at most one section of each kind, in source order.
type Program struct {
	Sections []*Section
}

// Section returns the section of the given kind, or nil.
func (p *Program) Section(kind types.Section) *Section {
	for _, s := range p.Sections {
		if s.Kind == kind {
			return s
		}
	}
	return nil
}

// Section is one top-level phase and its statements.
type Section struct {
	Kind types.Section
	Line int
	Body []Statement
}

// Statement is either a *Call or an *If.
type Statement interface {
	statement()
}

// Call invokes an operation with literal operands.
// Line is set for parsed source, Offset for decoded bytecode.
type Call struct {
	Name   string
	Args   []types.Value
	Line   int
	Offset int
}

// If runs Body when Cond holds.
type If struct {
	Cond   expr.Node
	Body   []Statement
	Line   int
	Offset int
}

func (*Call) statement() {}
func (*If) statement()   {}

// Invocation returns the call as a host invocation.
func (c *Call) Invocation() types.Invocation {
	return types.Invocation{Op: c.Name, Args: c.Args}
}

// Walk visits every statement depth-first in source order, including the
// bodies of if-blocks regardless of their conditions.
func Walk(stmts []Statement, fn func(Statement) error) error {
	for _, st := range stmts {
		if err := fn(st); err != nil {
			return err
		}
		if blk, ok := st.(*If); ok {
			if err := Walk(blk.Body, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Equal reports whether two programs have the same structure and operands.
// Positions are ignored.
func Equal(a, b *Program) bool {
	if len(a.Sections) != len(b.Sections) {
		return false
	}
	for i, s := range a.Sections {
		o := b.Sections[i]
		if s.Kind != o.Kind || !equalBody(s.Body, o.Body) {
			return false
		}
	}
	return true
}

func equalBody(a, b []Statement) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		switch x := a[i].(type) {
		case *Call:
			y, ok := b[i].(*Call)
			if !ok || !x.Invocation().Equal(y.Invocation()) {
				return false
			}
		case *If:
			y, ok := b[i].(*If)
			if !ok || !expr.Equal(x.Cond, y.Cond) || !equalBody(x.Body, y.Body) {
				return false
			}
		default:
			return false
		}
	}
	return true
}
