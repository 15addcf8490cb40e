// Package parser turns spell source text into a Program.
//
// Section and block structure is line oriented and handled by a small
// scanner; the contents of call lines and if-conditions are parsed with
// Participle v2, with the grammar defined as Go structs with tags.
package parser

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/mmspellbook/spellbook/pkg/expr"
	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/types"
)

// callLine: name(arg, arg, ...)
type callLine struct {
	Name string `@Ident "("`
	Args []*arg `( @@ ( "," @@ )* )? ")"`
}

// Numbers are captured as text so a range error names the argument
// instead of failing the whole match.
type arg struct {
	Neg    bool    `@"-"?`
	Number *string `( @Number`
	Bool   *string `| @("true" | "false") )`
}

// condition: clause (("and" | "or" | "xor") clause)*, left to right
type condition struct {
	Head *clause    `@@`
	Tail []*logicOp `@@*`
}

type logicOp struct {
	Op    string  `@("and" | "or" | "xor")`
	Right *clause `@@`
}

type clause struct {
	Not bool        `@"not"?`
	Cmp *comparison `@@`
}

type comparison struct {
	Left  *sum   `@@`
	Op    string `( @(">=" | "<=" | "=" | ">" | "<")`
	Right *sum   `  @@ )?`
}

type sum struct {
	Head *product `@@`
	Tail []*sumOp `@@*`
}

type sumOp struct {
	Op    string   `@("+" | "-")`
	Right *product `@@`
}

type product struct {
	Head *unary       `@@`
	Tail []*productOp `@@*`
}

type productOp struct {
	Op    string `@("*" | "/")`
	Right *unary `@@`
}

type unary struct {
	Neg   bool   `@"-"?`
	Power *power `@@`
}

// power is right associative: 2 ^ 3 ^ 2 = 2 ^ 9
type power struct {
	Base *primary `@@`
	Exp  *unary   `( "^" @@ )?`
}

type primary struct {
	Number *float64 `  @Number`
	Bool   *string  `| @("true" | "false")`
	Query  *string  `| @Ident "(" ")"`
}

// Spell lexer definition
var spellLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r]+`},

	// Literals
	{Name: "Number", Pattern: `(?:[0-9]+\.?[0-9]*|\.[0-9]+)(?:[eE][+-]?[0-9]+)?`},

	// Identifiers, including keywords like true, false, and, or, not
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},

	{Name: "Operator", Pattern: `>=|<=|[=<>+\-*/^]`},
	{Name: "Punct", Pattern: `[(),]`},
})

var (
	callParser = participle.MustBuild[callLine](
		participle.Lexer(spellLexer),
		participle.Elide("Whitespace"),
		participle.UseLookahead(2),
	)
	condParser = participle.MustBuild[condition](
		participle.Lexer(spellLexer),
		participle.Elide("Whitespace"),
		participle.UseLookahead(2),
	)
)

// ParseCall parses a single operation call such as give_velocity(1, 0, 0).
func ParseCall(text string) (*Call, error) {
	ast, err := callParser.ParseString("", text)
	if err != nil {
		return nil, syntaxError("malformed operation call", err)
	}
	call := &Call{Name: ast.Name, Args: make([]types.Value, 0, len(ast.Args))}
	for i, a := range ast.Args {
		v, err := a.toValue()
		if err != nil {
			return nil, types.Errorf(types.ErrSyntax, "argument %d: %v", i+1, err).ForOp(ast.Name)
		}
		call.Args = append(call.Args, v)
	}
	return call, nil
}

// ParseCondition parses an if-condition into an expression tree.
func ParseCondition(text string) (expr.Node, error) {
	ast, err := condParser.ParseString("", text)
	if err != nil {
		return nil, syntaxError("malformed condition", err)
	}
	return ast.toNode(), nil
}

func syntaxError(what string, err error) *types.Error {
	var perr participle.Error
	if errors.As(err, &perr) {
		return types.Errorf(types.ErrSyntax, "%s: column %d: %s", what, perr.Position().Column, perr.Message())
	}
	return types.Errorf(types.ErrSyntax, "%s: %v", what, err)
}

func (a *arg) toValue() (types.Value, error) {
	switch {
	case a.Number != nil:
		f, err := strconv.ParseFloat(*a.Number, 64)
		if errors.Is(err, strconv.ErrRange) {
			return nil, fmt.Errorf("value %s out of range", *a.Number)
		} else if err != nil {
			return nil, fmt.Errorf("invalid number %s", *a.Number)
		}
		if a.Neg {
			f = -f
		}
		return types.Number(f), nil
	case a.Bool != nil:
		if a.Neg {
			return nil, fmt.Errorf("cannot negate %s", *a.Bool)
		}
		return types.Boolean(*a.Bool == "true"), nil
	}
	return nil, fmt.Errorf("empty argument")
}

func (c *condition) toNode() expr.Node {
	n := c.Head.toNode()
	for _, t := range c.Tail {
		n = &expr.Binary{Op: opcode.Operators[t.Op], L: n, R: t.Right.toNode()}
	}
	return n
}

func (c *clause) toNode() expr.Node {
	n := c.Cmp.toNode()
	if c.Not {
		return &expr.Unary{Op: opcode.OpNot, X: n}
	}
	return n
}

func (c *comparison) toNode() expr.Node {
	n := c.Left.toNode()
	if c.Right != nil {
		return &expr.Binary{Op: opcode.Operators[c.Op], L: n, R: c.Right.toNode()}
	}
	return n
}

func (s *sum) toNode() expr.Node {
	n := s.Head.toNode()
	for _, t := range s.Tail {
		n = &expr.Binary{Op: opcode.Operators[t.Op], L: n, R: t.Right.toNode()}
	}
	return n
}

func (p *product) toNode() expr.Node {
	n := p.Head.toNode()
	for _, t := range p.Tail {
		n = &expr.Binary{Op: opcode.Operators[t.Op], L: n, R: t.Right.toNode()}
	}
	return n
}

func (u *unary) toNode() expr.Node {
	n := u.Power.toNode()
	if u.Neg {
		return &expr.Unary{Op: opcode.OpNeg, X: n}
	}
	return n
}

func (p *power) toNode() expr.Node {
	n := p.Base.toNode()
	if p.Exp != nil {
		return &expr.Binary{Op: opcode.OpPow, L: n, R: p.Exp.toNode()}
	}
	return n
}

func (p *primary) toNode() expr.Node {
	switch {
	case p.Number != nil:
		return &expr.Literal{Value: types.Number(*p.Number)}
	case p.Bool != nil:
		return &expr.Literal{Value: types.Boolean(*p.Bool == "true")}
	default:
		return &expr.Query{Name: *p.Query}
	}
}
