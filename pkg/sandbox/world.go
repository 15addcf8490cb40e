package sandbox

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"github.com/mmspellbook/spellbook/pkg/config"
	"github.com/mmspellbook/spellbook/pkg/efficiency"
	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/types"
	"github.com/mmspellbook/spellbook/pkg/vm"
)

// FormBook resolves take_form ids. *config.Config satisfies it.
type FormBook interface {
	Form(id float64) (config.Form, bool)
}

// World holds casters and the bodies they have released.
type World struct {
	Tick int
	DT   float64 // seconds per tick

	Casters []*Caster
	Bodies  []*Body

	Table     *opcode.Table
	Policy    efficiency.Policy
	Forms     FormBook // optional
	HitRadius float64
	Rng       *rand.Rand

	// OnDeltas, when set, sees every efficiency increase credited to a
	// caster, e.g. to persist it.
	OnDeltas func(caster string, d efficiency.Deltas)

	// running totals over all runs
	Spent       float64
	Invocations int

	casterByName map[string]*Caster
}

// NewWorld creates an empty world over the default operation table.
func NewWorld(rng *rand.Rand) *World {
	return &World{
		DT:           0.1,
		Table:        opcode.Default(),
		Policy:       efficiency.DefaultPolicy,
		HitRadius:    1,
		Rng:          rng,
		casterByName: make(map[string]*Caster),
	}
}

// AddCaster places c in the world. Names must be unique.
func (w *World) AddCaster(c *Caster) error {
	if _, dup := w.casterByName[c.Name]; dup {
		return fmt.Errorf("caster %q already in world", c.Name)
	}
	if c.Efficiency == nil {
		c.Efficiency = efficiency.Table{}
	}
	w.Casters = append(w.Casters, c)
	w.casterByName[c.Name] = c
	return nil
}

// CasterByName returns the caster with the given name, or nil.
func (w *World) CasterByName(name string) *Caster {
	return w.casterByName[name]
}

// LiveBodies returns the bodies still in the world, ordered by id.
func (w *World) LiveBodies() []*Body {
	out := make([]*Body, 0, len(w.Bodies))
	for _, b := range w.Bodies {
		if b.Alive() {
			out = append(out, b)
		}
	}
	sortBodies(out)
	return out
}

// Release turns c's charge into a body at c's position and runs its
// on_creation section.
func (w *World) Release(c *Caster) (*Body, []Event, error) {
	energy, err := c.release()
	if err != nil {
		return nil, nil, err
	}

	id, err := uuid.NewRandomFromReader(w.Rng)
	if err != nil {
		return nil, nil, err
	}
	b := &Body{ID: id, Owner: c, Born: w.Tick, Pos: c.Pos}
	m := &vm.VM{Table: w.Table, Policy: w.Policy, Querier: b}
	if b.Spell, err = vm.NewSpell(m, c.Loaded, energy); err != nil {
		return nil, nil, err
	}
	c.adopt(b)
	w.Bodies = append(w.Bodies, b)

	events := []Event{{Tick: w.Tick, Kind: EventRelease, Caster: c.Name, Body: b.ID.String(), Energy: energy}}
	res := b.Spell.Create(c.Efficiency)
	events = append(events, w.apply(b, res)...)
	return b, events, nil
}

// apply carries out a run's invocations, credits its efficiency increases
// to the owner and dissolves the body if the run did not complete.
func (w *World) apply(b *Body, res *vm.Result) []Event {
	var events []Event
	for _, inv := range res.Invocations {
		if b.Dissolved {
			break // perished mid-run
		}
		ev := Event{Tick: w.Tick, Kind: EventInvoke, Caster: b.Owner.Name, Body: b.ID.String(), Detail: inv.String()}
		if note := w.effect(b, inv); note != "" {
			ev.Detail += ": " + note
		}
		events = append(events, ev)
	}
	w.Spent += res.Spent
	w.Invocations += len(res.Invocations)
	b.Owner.Efficiency.Apply(res.Deltas)
	if w.OnDeltas != nil && len(res.Deltas) > 0 {
		w.OnDeltas(b.Owner.Name, res.Deltas)
	}

	if res.State == vm.HaltedDepleted || res.State == vm.HaltedError {
		b.dissolve(res.Reason())
	}
	if b.Dissolved {
		events = append(events, Event{Tick: w.Tick, Kind: EventDissolve, Caster: b.Owner.Name, Body: b.ID.String(), Detail: b.Reason})
	}
	return events
}

// effect performs one host operation on b. It returns a note when the
// operation had no effect.
func (w *World) effect(b *Body, inv types.Invocation) string {
	num := func(i int) float64 { return float64(inv.Args[i].(types.Number)) }

	switch inv.Op {
	case "give_velocity":
		if b.Anchored {
			return "anchored"
		}
		b.Vel = b.Vel.Add(Vec{num(0), num(1), num(2)})
	case "take_form":
		if w.Forms == nil {
			return "no forms configured"
		}
		f, ok := w.Forms.Form(num(0))
		if !ok {
			return "unknown form"
		}
		if b.Energy() < f.EnergyRequired {
			return fmt.Sprintf("form needs %g energy", f.EnergyRequired)
		}
		b.Form = uint64(num(0))
	case "undo_form":
		b.Form = 0
	case "recharge_to":
		need := num(0) - b.Energy()
		if need <= 0 {
			return "already charged"
		}
		if ctl := b.Owner.Control(); need > ctl {
			need = max(ctl, 0)
		}
		b.Spell.Recharge(b.Energy() + need)
	case "anchor":
		b.Anchored = true
		b.Vel = Vec{}
	case "undo_anchor":
		b.Anchored = false
	case "perish":
		b.dissolve("perished")
	case "take_shape":
		b.Shape = num(0)
	case "undo_shape":
		b.Shape = 0
	case "set_damage":
		b.Damage = num(0)
	default:
		return "no effect in sandbox"
	}
	return ""
}

// move advances every live body by its velocity.
func (w *World) move() {
	for _, b := range w.Bodies {
		if b.Alive() && !b.Anchored {
			b.Pos = b.Pos.Add(b.Vel.Scale(w.DT))
		}
	}
}

// collide lets damaging bodies strike casters other than their owner.
// A body is spent by its first hit.
func (w *World) collide() []Event {
	var events []Event
	for _, b := range w.LiveBodies() {
		if b.Damage <= 0 {
			continue
		}
		for _, c := range w.Casters {
			if c == b.Owner || !c.Alive() || c.Pos.Dist(b.Pos) > w.HitRadius {
				continue
			}
			c.TakeDamage(b.Damage)
			events = append(events, Event{Tick: w.Tick, Kind: EventHit, Caster: c.Name, Body: b.ID.String(), Energy: b.Damage})
			if !c.Alive() {
				events = append(events, Event{Tick: w.Tick, Kind: EventPerish, Caster: c.Name})
			}
			b.dissolve("hit " + c.Name)
			events = append(events, Event{Tick: w.Tick, Kind: EventDissolve, Caster: b.Owner.Name, Body: b.ID.String(), Detail: b.Reason})
			break
		}
	}
	return events
}

// prune drops dissolved bodies.
func (w *World) prune() {
	live := w.Bodies[:0]
	for _, b := range w.Bodies {
		if b.Alive() {
			live = append(live, b)
		}
	}
	for i := len(live); i < len(w.Bodies); i++ {
		w.Bodies[i] = nil
	}
	w.Bodies = live
}

// HeldEnergy returns the energy carried by all live bodies.
func (w *World) HeldEnergy() float64 {
	total := 0.0
	for _, b := range w.Bodies {
		if b.Alive() {
			total += b.Energy()
		}
	}
	return total
}

func sortBodies(bs []*Body) {
	sort.Slice(bs, func(i, j int) bool {
		return bytes.Compare(bs[i].ID[:], bs[j].ID[:]) < 0
	})
}
