// Package compiler turns spell source into bytecode: parse, resolve every
// operation against the table, type-check operands and conditions, encode.
package compiler

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/mmspellbook/spellbook/pkg/bytecode"
	"github.com/mmspellbook/spellbook/pkg/expr"
	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/parser"
	"github.com/mmspellbook/spellbook/pkg/types"
)

var log = commonlog.GetLogger("spellbook.compiler")

// Result is the outcome of compiling one source text.
type Result struct {
	Successful   bool
	Bytecode     []byte
	ErrorMessage string
	Err          error
}

// Compiler compiles against one operation table.
type Compiler struct {
	Table *opcode.Table
}

// New returns a compiler for table, or the default table when nil.
func New(table *opcode.Table) *Compiler {
	if table == nil {
		table = opcode.Default()
	}
	return &Compiler{Table: table}
}

// Compile compiles src against the default table.
func Compile(src string) Result {
	return New(nil).Compile(src)
}

// Compile compiles src. It never panics; failures are reported in the result.
func (c *Compiler) Compile(src string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("compiler: internal error: %v", r)
			res = Result{ErrorMessage: err.Error(), Err: err}
		}
	}()

	_, code, err := c.Build(src)
	if err != nil {
		return Result{ErrorMessage: err.Error(), Err: err}
	}
	return Result{Successful: true, Bytecode: code}
}

// Build parses, checks and encodes src, returning the checked AST as well.
func (c *Compiler) Build(src string) (*parser.Program, []byte, error) {
	prog, err := parser.Parse(src)
	if err != nil {
		return nil, nil, err
	}
	if err := c.Check(prog); err != nil {
		return prog, nil, err
	}
	code, err := bytecode.Encode(prog, c.Table)
	if err != nil {
		return prog, nil, err
	}
	log.Debugf("compiled %d sections into %d bytes", len(prog.Sections), len(code))
	return prog, code, nil
}

// Check resolves and type-checks every statement of prog.
func (c *Compiler) Check(prog *parser.Program) error {
	for _, sec := range prog.Sections {
		err := parser.Walk(sec.Body, func(st parser.Statement) error {
			switch st := st.(type) {
			case *parser.Call:
				return c.checkCall(st)
			case *parser.If:
				return c.checkCond(st)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) checkCall(call *parser.Call) error {
	spec, ok := c.Table.Lookup(call.Name)
	if !ok {
		return types.Errorf(types.ErrUnknownOperation, "unknown operation").ForOp(call.Name).AtLine(call.Line)
	}
	if spec.Kind == opcode.Query {
		return types.Errorf(types.ErrType, "%s is a query and can only be used in a condition", spec.Signature()).ForOp(call.Name).AtLine(call.Line)
	}
	if len(call.Args) != spec.Arity() {
		return types.Errorf(types.ErrArity, "expected %d arguments, got %d; usage: %s",
			spec.Arity(), len(call.Args), spec.Signature()).ForOp(call.Name).AtLine(call.Line)
	}
	for i, a := range call.Args {
		if want := spec.Params[i]; a.Kind() != want {
			return types.Errorf(types.ErrType, "argument %d: expected %s, got %s %s; usage: %s",
				i+1, want, a.Kind(), a, spec.Signature()).ForOp(call.Name).AtLine(call.Line)
		}
	}
	return nil
}

func (c *Compiler) checkCond(blk *parser.If) error {
	kind, err := expr.Check(blk.Cond, c.queryKind)
	if err != nil {
		var e *types.Error
		if errors.As(err, &e) {
			return e.AtLine(blk.Line)
		}
		return fmt.Errorf("line %d: %w", blk.Line, err)
	}
	if kind != types.KindBool {
		return types.Errorf(types.ErrTypeMismatch, "condition must be bool, got %s", kind).AtLine(blk.Line)
	}
	if d := expr.Depth(blk.Cond); d > expr.MaxDepth {
		return types.Errorf(types.ErrSyntax, "condition too deep: needs %d stack slots, limit is %d", d, expr.MaxDepth).AtLine(blk.Line)
	}
	return nil
}

func (c *Compiler) queryKind(name string) (types.Kind, error) {
	spec, ok := c.Table.Lookup(name)
	if !ok {
		return 0, types.Errorf(types.ErrUnknownOperation, "unknown query").ForOp(name)
	}
	if spec.Kind != opcode.Query {
		return 0, types.Errorf(types.ErrType, "%s is an action and cannot be used in a condition", spec.Signature()).ForOp(name)
	}
	return spec.Returns, nil
}
