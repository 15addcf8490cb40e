// Package interpreter runs a parsed spell directly from its AST.
//
// It applies the same cost, efficiency and halting rules as the bytecode VM
// and reports the same Result, which makes it the reference the VM is
// checked against.
package interpreter

import (
	"fmt"

	"github.com/mmspellbook/spellbook/pkg/efficiency"
	"github.com/mmspellbook/spellbook/pkg/expr"
	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/parser"
	"github.com/mmspellbook/spellbook/pkg/types"
	"github.com/mmspellbook/spellbook/pkg/vm"
)

// Interpreter walks statements in source order. Like the VM it keeps no
// per-run state.
type Interpreter struct {
	Table   *opcode.Table
	Policy  efficiency.Policy
	Handler vm.Handler
	Querier expr.Querier
}

// New creates an Interpreter over table with the default progression policy.
func New(table *opcode.Table) *Interpreter {
	if table == nil {
		table = opcode.Default()
	}
	return &Interpreter{Table: table, Policy: efficiency.DefaultPolicy}
}

// RunSection executes one section of prog. A missing section completes
// immediately.
func (i *Interpreter) RunSection(prog *parser.Program, kind types.Section, energy float64, view efficiency.View) *vm.Result {
	sec := prog.Section(kind)
	if sec == nil {
		return &vm.Result{Energy: energy, State: vm.HaltedComplete, Deltas: efficiency.Deltas{}}
	}
	return i.Run(sec.Body, energy, view)
}

// Run executes stmts in order.
func (i *Interpreter) Run(stmts []parser.Statement, energy float64, view efficiency.View) *vm.Result {
	if view == nil {
		view = efficiency.Table(nil)
	}
	if energy < 0 {
		energy = 0
	}
	res := &vm.Result{Energy: energy, State: vm.Running, Deltas: efficiency.Deltas{}}
	if i.execute(stmts, res, view) {
		res.State = vm.HaltedComplete
	}
	return res
}

// execute returns false once the run has halted.
func (i *Interpreter) execute(stmts []parser.Statement, res *vm.Result, view efficiency.View) bool {
	for _, st := range stmts {
		switch st := st.(type) {
		case *parser.Call:
			if !i.call(st, res, view) {
				return false
			}
		case *parser.If:
			v, err := expr.Eval(st.Cond, expr.QuerierFunc(i.query))
			if err != nil {
				return fail(res, err)
			}
			b, ok := v.(types.Boolean)
			if !ok {
				return fail(res, types.Errorf(types.ErrTypeMismatch, "condition must be bool, got %s", v.Kind()).AtLine(st.Line))
			}
			if bool(b) && !i.execute(st.Body, res, view) {
				return false
			}
		}
	}
	return true
}

func (i *Interpreter) call(c *parser.Call, res *vm.Result, view efficiency.View) bool {
	spec, ok := i.Table.Lookup(c.Name)
	if !ok || spec.Kind != opcode.Action {
		return fail(res, types.Errorf(types.ErrUnknownOperation, "no action with this name").ForOp(c.Name).AtLine(c.Line))
	}
	level := view.Level(c.Name)
	cost := efficiency.Cost(spec.Cost, level)
	if cost > res.Energy {
		res.State = vm.HaltedDepleted
		return false
	}
	res.Energy -= cost
	res.Spent += cost

	inv := c.Invocation()
	res.Invocations = append(res.Invocations, inv)
	if i.Handler != nil {
		if err := i.Handler.Invoke(inv); err != nil {
			return fail(res, fmt.Errorf("%s: %w", inv, err))
		}
	}
	if i.Policy != nil {
		res.Deltas.Add(c.Name, i.Policy.Increase(c.Name, level, cost))
	}
	return true
}

func (i *Interpreter) query(name string) (types.Value, error) {
	spec, ok := i.Table.Lookup(name)
	if !ok || spec.Kind != opcode.Query {
		return nil, types.Errorf(types.ErrUnknownOperation, "no query with this name").ForOp(name)
	}
	if i.Querier == nil {
		return types.Zero(spec.Returns), nil
	}
	v, err := i.Querier.Query(name)
	if err != nil {
		return nil, fmt.Errorf("%s(): %w", name, err)
	}
	if v == nil || v.Kind() != spec.Returns {
		return nil, types.Errorf(types.ErrTypeMismatch, "host answered %v, want %s", v, spec.Returns).ForOp(name)
	}
	return v, nil
}

func fail(res *vm.Result, err error) bool {
	res.State = vm.HaltedError
	res.Err = err
	return false
}
