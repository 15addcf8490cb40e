package vm

import (
	"errors"

	"github.com/mmspellbook/spellbook/pkg/bytecode"
	"github.com/mmspellbook/spellbook/pkg/efficiency"
	"github.com/mmspellbook/spellbook/pkg/types"
)

// ErrAlreadyCreated is reported by a second Create on the same instance.
var ErrAlreadyCreated = errors.New("vm: on_creation already ran")

// Spell is one casting instance: a compiled program plus its own energy
// pool. Energy carries over between ticks until the host recharges it.
// A Spell must not be ticked from more than one goroutine at a time.
type Spell struct {
	vm      *VM
	img     *bytecode.Image
	energy  float64
	created bool
	failed  error
}

// NewSpell validates code against the VM's table and returns an instance
// holding energy.
func NewSpell(vm *VM, code []byte, energy float64) (*Spell, error) {
	img, err := bytecode.Open(code)
	if err != nil {
		return nil, err
	}
	if err := img.CheckTable(vm.Table); err != nil {
		return nil, err
	}
	if energy < 0 {
		energy = 0
	}
	return &Spell{vm: vm, img: img, energy: energy}, nil
}

// Energy returns the remaining energy.
func (s *Spell) Energy() float64 { return s.energy }

// Recharge sets the energy pool to e.
func (s *Spell) Recharge(e float64) {
	if e < 0 {
		e = 0
	}
	s.energy = e
}

// Created reports whether on_creation has run.
func (s *Spell) Created() bool { return s.created }

// Failed returns the error that halted the instance for good, if any.
func (s *Spell) Failed() error { return s.failed }

// HasSection reports whether the program contains the section.
func (s *Spell) HasSection(kind types.Section) bool {
	_, ok := s.img.Section(kind)
	return ok
}

// Create runs on_creation. It runs at most once per instance; later calls
// halt in error with ErrAlreadyCreated and change nothing.
func (s *Spell) Create(view efficiency.View) *Result {
	if s.created {
		return &Result{Energy: s.energy, State: HaltedError, Err: ErrAlreadyCreated, Deltas: efficiency.Deltas{}}
	}
	s.created = true
	return s.run(types.SectionCreation, view)
}

// Tick runs the repeat section once.
func (s *Spell) Tick(view efficiency.View) *Result {
	return s.run(types.SectionRepeat, view)
}

func (s *Spell) run(kind types.Section, view efficiency.View) *Result {
	if s.failed != nil {
		return &Result{Energy: s.energy, State: HaltedError, Err: s.failed, Deltas: efficiency.Deltas{}}
	}
	seg, ok := s.img.Section(kind)
	if !ok {
		return &Result{Energy: s.energy, State: HaltedComplete, Deltas: efficiency.Deltas{}}
	}
	res := s.vm.RunSegment(seg, s.energy, view)
	s.energy = res.Energy
	if res.State == HaltedError && types.IsKind(res.Err, types.ErrDecode) {
		s.failed = res.Err
	}
	return res
}
