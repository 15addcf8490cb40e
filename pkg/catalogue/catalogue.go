// Package catalogue records which operations an actor may cast, optionally
// restricting the operand values of each, and checks compiled spells
// against that record.
//
// The check is static: every call site in the program counts, including
// calls inside if-blocks whose conditions would be false at run time and
// queries used inside conditions. A program is allowed or denied as a whole.
package catalogue

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mmspellbook/spellbook/pkg/bytecode"
	"github.com/mmspellbook/spellbook/pkg/expr"
	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/parser"
	"github.com/mmspellbook/spellbook/pkg/types"
)

// Entry is one granted operation. Params is nil for an unrestricted grant;
// otherwise Params[i] lists the alternatives accepted for operand i.
type Entry struct {
	Params [][]Restriction
}

// Unrestricted reports whether the entry accepts any operands.
func (e Entry) Unrestricted() bool { return e.Params == nil }

// Describe renders the entry as op(set, set, ...).
func (e Entry) Describe(op string) string {
	if e.Unrestricted() {
		return op + " (unrestricted)"
	}
	parts := make([]string, len(e.Params))
	for i, set := range e.Params {
		parts[i] = FormatSet(set)
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

// Verdict is the outcome of an access check.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Catalogue is one actor's set of granted operations. It is not safe for
// concurrent mutation; Check only reads.
type Catalogue struct {
	table   *opcode.Table
	entries map[string]Entry
}

// New returns an empty catalogue over table, or the default table when nil.
func New(table *opcode.Table) *Catalogue {
	if table == nil {
		table = opcode.Default()
	}
	return &Catalogue{table: table, entries: make(map[string]Entry)}
}

// Table returns the operation table grants are validated against.
func (c *Catalogue) Table() *opcode.Table { return c.table }

// Grant permits op. With no params the grant is unrestricted; otherwise
// there must be one non-empty restriction set per parameter. Granting an
// operation again replaces its entry.
func (c *Catalogue) Grant(op string, params ...[]Restriction) error {
	spec, ok := c.table.Lookup(op)
	if !ok {
		return types.Errorf(types.ErrUnknownOperation, "cannot grant unknown operation").ForOp(op)
	}
	if len(params) == 0 {
		c.entries[op] = Entry{}
		return nil
	}
	if len(params) != spec.Arity() {
		return types.Errorf(types.ErrArity, "%d restriction sets for %s", len(params), spec.Signature()).ForOp(op)
	}
	entry := Entry{Params: make([][]Restriction, len(params))}
	for i, set := range params {
		if len(set) == 0 {
			return types.Errorf(types.ErrType, "parameter %d: empty restriction set", i+1).ForOp(op)
		}
		for _, r := range set {
			if err := r.validate(); err != nil {
				return types.Errorf(types.ErrType, "parameter %d: %v", i+1, err).ForOp(op)
			}
			if !r.fits(spec.Params[i]) {
				return types.Errorf(types.ErrType, "parameter %d is %s, cannot restrict it to %s", i+1, spec.Params[i], r).ForOp(op)
			}
		}
		entry.Params[i] = append([]Restriction(nil), set...)
	}
	c.entries[op] = entry
	return nil
}

// Revoke removes op and reports whether it was granted.
func (c *Catalogue) Revoke(op string) bool {
	_, ok := c.entries[op]
	delete(c.entries, op)
	return ok
}

// Lookup returns the entry for op.
func (c *Catalogue) Lookup(op string) (Entry, bool) {
	e, ok := c.entries[op]
	return e, ok
}

// Operations returns the granted operation names in order.
func (c *Catalogue) Operations() []string {
	ops := make([]string, 0, len(c.entries))
	for op := range c.entries {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Len returns the number of granted operations.
func (c *Catalogue) Len() int { return len(c.entries) }

// Check walks every call site of prog. The reason of a denial starts with
// the name of the first offending operation.
func (c *Catalogue) Check(prog *parser.Program) (bool, string) {
	if err := c.Verify(prog); err != nil {
		var e *types.Error
		if errors.As(err, &e) {
			return false, e.Op + ": " + e.Msg
		}
		return false, err.Error()
	}
	return true, ""
}

// Verify is Check returning a PermissionDenied error.
func (c *Catalogue) Verify(prog *parser.Program) error {
	for _, sec := range prog.Sections {
		err := parser.Walk(sec.Body, func(st parser.Statement) error {
			switch st := st.(type) {
			case *parser.Call:
				return c.checkCall(st)
			case *parser.If:
				var err error
				expr.Walk(st.Cond, func(n expr.Node) {
					if q, ok := n.(*expr.Query); ok && err == nil {
						if _, granted := c.entries[q.Name]; !granted {
							err = denied(q.Name, st.Line, st.Offset, "not in catalogue")
						}
					}
				})
				return err
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalogue) checkCall(call *parser.Call) error {
	entry, ok := c.entries[call.Name]
	if !ok {
		return denied(call.Name, call.Line, call.Offset, "not in catalogue")
	}
	if entry.Unrestricted() {
		return nil
	}
	if len(entry.Params) != len(call.Args) {
		return denied(call.Name, call.Line, call.Offset, "granted for %d operands, called with %d", len(entry.Params), len(call.Args))
	}
	for i, arg := range call.Args {
		if !acceptsAny(entry.Params[i], arg) {
			return denied(call.Name, call.Line, call.Offset, "argument %d (%s) outside allowed %s", i+1, arg, FormatSet(entry.Params[i]))
		}
	}
	return nil
}

func acceptsAny(set []Restriction, v types.Value) bool {
	for _, r := range set {
		if r.Accepts(v) {
			return true
		}
	}
	return false
}

func denied(op string, line, off int, format string, args ...any) error {
	return types.Errorf(types.ErrPermissionDenied, format, args...).ForOp(op).AtLine(line).AtOffset(off)
}

// CheckAllowed decodes code and checks it. Bytecode that does not decode
// against the catalogue's table is denied with the decode error as reason.
func (c *Catalogue) CheckAllowed(code []byte) Verdict {
	prog, err := bytecode.Decode(code, c.table)
	if err != nil {
		return Verdict{Reason: fmt.Sprintf("undecodable spell: %v", err)}
	}
	ok, reason := c.Check(prog)
	return Verdict{Allowed: ok, Reason: reason}
}
