package vm

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/mmspellbook/spellbook/pkg/bytecode"
	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/types"
)

func TestSpellLifecycle(t *testing.T) {
	code := compile(t, "on_creation:\ntake_form(1)\nrepeat:\ngive_velocity(0, 1, 0)\n")
	s, err := NewSpell(New(nil), code, 40)
	if err != nil {
		t.Fatal(err)
	}

	res := s.Create(nil)
	if res.State != HaltedComplete || len(res.Invocations) != 1 || res.Invocations[0].Op != "take_form" {
		t.Fatalf("create: %+v", res)
	}
	if s.Energy() != 20 {
		t.Errorf("energy after create = %g", s.Energy())
	}

	again := s.Create(nil)
	if !errors.Is(again.Err, ErrAlreadyCreated) || len(again.Invocations) != 0 || s.Energy() != 20 {
		t.Errorf("second create: %+v", again)
	}

	// energy persists across ticks: 20 -> 15 -> 10 -> 5 -> 0 -> depleted
	for i := 0; i < 4; i++ {
		if res := s.Tick(nil); res.State != HaltedComplete {
			t.Fatalf("tick %d: %s", i, res.State)
		}
	}
	if res := s.Tick(nil); res.State != HaltedDepleted || s.Energy() != 0 {
		t.Errorf("fifth tick: %s, energy %g", res.State, s.Energy())
	}

	s.Recharge(5)
	if res := s.Tick(nil); res.State != HaltedComplete || len(res.Invocations) != 1 {
		t.Errorf("after recharge: %+v", res)
	}
}

func TestSpellMissingSections(t *testing.T) {
	s, err := NewSpell(New(nil), compile(t, "repeat:\nperish()\n"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if s.HasSection(types.SectionCreation) {
		t.Error("no on_creation section expected")
	}
	if res := s.Create(nil); res.State != HaltedComplete || len(res.Invocations) != 0 {
		t.Errorf("create without section: %+v", res)
	}
	if !s.Created() {
		t.Error("Create should mark the instance created")
	}
}

func TestSpellRejectsForeignBytecode(t *testing.T) {
	code := compile(t, "repeat:\nperish()\n")

	specs := opcode.DefaultSpecs()
	specs[len(specs)-1].Name = "clock"
	other := New(opcode.MustTable(specs))

	if _, err := NewSpell(other, code, 10); !types.IsKind(err, types.ErrDecode) {
		t.Errorf("expected DecodeError, got %v", err)
	}
	if _, err := NewSpell(New(nil), []byte("MMSB"), 10); err == nil {
		t.Error("expected error for truncated header")
	}
}

func TestSpellDecodeFailureIsFinal(t *testing.T) {
	// hand-built image whose repeat section ends inside an operand
	code := compile(t, "")
	body := []byte{0x00, opcode.OpNumber, 0x3F}
	code = append(code, opcode.OpSectionRepeat)
	code = binary.BigEndian.AppendUint32(code, uint32(len(body)))
	code = append(code, body...)

	s, err := NewSpell(New(nil), code, 10)
	if err != nil {
		t.Fatal(err)
	}
	first := s.Tick(nil)
	if first.State != HaltedError || !types.IsKind(first.Err, types.ErrDecode) {
		t.Fatalf("first tick: %s %v", first.State, first.Err)
	}
	if e := first.Err.(*types.Error); e.Offset < bytecode.HeaderSize {
		t.Errorf("offset %d should be absolute", e.Offset)
	}
	if s.Failed() == nil {
		t.Error("instance should be marked failed")
	}
	if res := s.Tick(nil); res.State != HaltedError || res.Err != first.Err {
		t.Errorf("second tick: %s %v", res.State, res.Err)
	}
}
