// Package vm executes spell bytecode against a depletable energy pool.
//
// Each action costs its base cost scaled by the caster's efficiency level.
// An action whose cost exceeds the remaining energy halts the run before
// anything is spent or dispatched. False conditions skip their whole block
// at no cost. The VM never mutates efficiency; increases are reported in
// the result for the host to apply.
package vm

import (
	"fmt"
	"math"

	"github.com/tliron/commonlog"

	"github.com/mmspellbook/spellbook/pkg/bytecode"
	"github.com/mmspellbook/spellbook/pkg/efficiency"
	"github.com/mmspellbook/spellbook/pkg/expr"
	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/types"
)

var log = commonlog.GetLogger("spellbook.vm")

// State is the execution state of one run.
type State byte

const (
	Ready State = iota
	Running
	HaltedComplete
	HaltedDepleted
	HaltedError
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case HaltedComplete:
		return "halted-complete"
	case HaltedDepleted:
		return "halted-depleted"
	case HaltedError:
		return "halted-error"
	default:
		return fmt.Sprintf("state(%d)", byte(s))
	}
}

// Halted reports whether s is terminal.
func (s State) Halted() bool { return s >= HaltedComplete }

// Handler performs host effects for dispatched actions.
type Handler interface {
	Invoke(inv types.Invocation) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(inv types.Invocation) error

func (f HandlerFunc) Invoke(inv types.Invocation) error { return f(inv) }

// VM holds the configuration shared by every run. It keeps no per-run
// state and may be used by many spell instances concurrently as long as
// Handler and Querier are safe for that.
type VM struct {
	Table   *opcode.Table
	Policy  efficiency.Policy
	Handler Handler      // optional
	Querier expr.Querier // optional; queries answer the zero value without one
}

// New creates a VM over table with the default progression policy.
func New(table *opcode.Table) *VM {
	if table == nil {
		table = opcode.Default()
	}
	return &VM{Table: table, Policy: efficiency.DefaultPolicy}
}

// Result reports the outcome of one run.
type Result struct {
	Energy      float64 // remaining energy
	Spent       float64
	State       State
	Err         error // set when State is HaltedError
	Invocations []types.Invocation
	Deltas      efficiency.Deltas
}

// Reason describes why the run halted.
func (r *Result) Reason() string {
	switch r.State {
	case HaltedDepleted:
		return types.ErrEnergyDepleted.String()
	case HaltedError:
		if r.Err != nil {
			return r.Err.Error()
		}
	}
	return r.State.String()
}

// Run executes one section body with the given energy and efficiency view.
func (vm *VM) Run(section []byte, energy float64, view efficiency.View) *Result {
	return vm.RunSegment(bytecode.Segment{Body: section}, energy, view)
}

// RunSegment executes a section taken from an opened image, so that errors
// carry absolute offsets.
func (vm *VM) RunSegment(seg bytecode.Segment, energy float64, view efficiency.View) *Result {
	x := vm.Start(seg, energy, view)
	for x.Step() {
	}
	return &x.Result
}

// Exec is one run in progress: the cursor, the energy pool and the stack
// of entered if-blocks.
type Exec struct {
	Result

	vm   *VM
	cur  *bytecode.Cursor
	view efficiency.View
	open []int // offsets of entered if-blocks, innermost last
	cond expr.Machine
}

// Start prepares a run without executing anything.
func (vm *VM) Start(seg bytecode.Segment, energy float64, view efficiency.View) *Exec {
	if view == nil {
		view = efficiency.Table(nil)
	}
	if energy < 0 || math.IsNaN(energy) {
		energy = 0
	}
	return &Exec{
		Result: Result{Energy: energy, State: Ready, Deltas: efficiency.Deltas{}},
		vm:     vm,
		cur:    bytecode.NewCursor(seg, vm.Table),
		view:   view,
	}
}

// Step executes one statement. It returns false once the run has halted.
func (x *Exec) Step() bool {
	if x.State.Halted() {
		return false
	}
	x.State = Running

	if x.cur.Done() {
		if len(x.open) > 0 {
			x.fail(types.Errorf(types.ErrDecode, "if-block never closed").AtOffset(x.open[len(x.open)-1]))
			return false
		}
		x.halt(HaltedComplete)
		return false
	}

	in, err := x.cur.Next()
	if err != nil {
		x.fail(err)
		return false
	}

	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("%04X %-14s energy=%g depth=%d", in.Pos, in.Name(), x.Energy, len(x.open))
	}

	switch in.Kind {
	case bytecode.InstrCall:
		x.call(in)

	case bytecode.InstrIfOpen:
		ok, err := x.condition()
		if err != nil {
			x.fail(err)
			break
		}
		if ok {
			x.open = append(x.open, in.Pos)
			break
		}
		if err := x.skip(in.Pos); err != nil {
			x.fail(err)
		}

	case bytecode.InstrIfClose:
		if len(x.open) == 0 {
			x.fail(types.Errorf(types.ErrDecode, "if-block close without open").AtOffset(in.Pos))
			break
		}
		x.open = x.open[:len(x.open)-1]

	default:
		x.fail(types.Errorf(types.ErrDecode, "%s outside of a condition", in.Name()).AtOffset(in.Pos))
	}

	return !x.State.Halted()
}

// call charges and dispatches one action. Actions are atomic with respect
// to energy: either the whole cost is paid or nothing happens.
func (x *Exec) call(in bytecode.Instr) {
	name := in.Spec.Name
	level := x.view.Level(name)
	cost := efficiency.Cost(in.Spec.Cost, level)
	if cost > x.Energy {
		log.Debugf("%s needs %g energy, %g left", name, cost, x.Energy)
		x.halt(HaltedDepleted)
		return
	}
	x.Energy -= cost
	x.Spent += cost

	inv := in.Invocation()
	x.Invocations = append(x.Invocations, inv)
	if h := x.vm.Handler; h != nil {
		if err := h.Invoke(inv); err != nil {
			x.fail(fmt.Errorf("%s: %w", inv, err))
			return
		}
	}
	if p := x.vm.Policy; p != nil {
		x.Deltas.Add(name, p.Increase(name, level, cost))
	}
}

// condition evaluates the postfix condition following an if-block open
// marker, consuming the end-of-condition marker.
func (x *Exec) condition() (bool, error) {
	x.cond.Reset()
	for {
		if x.cur.Done() {
			return false, types.Errorf(types.ErrDecode, "condition runs past end of section").AtOffset(x.cur.Pos())
		}
		in, err := x.cur.Next()
		if err != nil {
			return false, err
		}
		switch in.Kind {
		case bytecode.InstrLiteral:
			err = x.cond.Push(in.Value)
		case bytecode.InstrQuery:
			v, qerr := x.query(in.Spec)
			if qerr != nil {
				return false, qerr
			}
			err = x.cond.Push(v)
		case bytecode.InstrOperator:
			err = x.cond.Op(in.Op)
		case bytecode.InstrCondEnd:
			v, err := x.cond.Result()
			if err != nil {
				return false, types.Errorf(types.ErrDecode, "%v", err).AtOffset(in.Pos)
			}
			b, ok := v.(types.Boolean)
			if !ok {
				return false, types.Errorf(types.ErrDecode, "condition yields %s, not bool", v.Kind()).AtOffset(in.Pos)
			}
			return bool(b), nil
		default:
			return false, types.Errorf(types.ErrDecode, "%s inside a condition", in.Name()).AtOffset(in.Pos)
		}
		if err != nil {
			return false, decodeAt(err, in.Pos)
		}
	}
}

func (x *Exec) query(spec *opcode.Spec) (types.Value, error) {
	if x.vm.Querier == nil {
		return types.Zero(spec.Returns), nil
	}
	v, err := x.vm.Querier.Query(spec.Name)
	if err != nil {
		return nil, fmt.Errorf("%s(): %w", spec.Name, err)
	}
	if v == nil || v.Kind() != spec.Returns {
		return nil, types.Errorf(types.ErrTypeMismatch, "host answered %v, want %s", v, spec.Returns).ForOp(spec.Name)
	}
	return v, nil
}

// skip advances past the body of the block opened at pos, up to and
// including its matching close marker. Instructions are decoded rather
// than scanned so operand payloads never read as markers. Nothing inside
// is charged or dispatched.
func (x *Exec) skip(pos int) error {
	pending := []int{pos}
	for len(pending) > 0 {
		if x.cur.Done() {
			return types.Errorf(types.ErrDecode, "if-block never closed").AtOffset(pending[len(pending)-1])
		}
		in, err := x.cur.Next()
		if err != nil {
			return err
		}
		switch in.Kind {
		case bytecode.InstrIfOpen:
			pending = append(pending, in.Pos)
		case bytecode.InstrIfClose:
			pending = pending[:len(pending)-1]
		}
	}
	log.Debugf("%04X skipped block", pos)
	return nil
}

func (x *Exec) halt(s State) {
	x.State = s
}

func (x *Exec) fail(err error) {
	x.State = HaltedError
	x.Err = err
	log.Debugf("halted: %v", err)
}

// decodeAt reports a condition that cannot be evaluated as corrupt
// bytecode, since a compiled condition always type-checks.
func decodeAt(err error, pos int) error {
	if types.IsKind(err, types.ErrDecode) {
		return err
	}
	return types.Errorf(types.ErrDecode, "invalid condition: %v", err).AtOffset(pos)
}
