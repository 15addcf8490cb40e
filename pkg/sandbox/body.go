package sandbox

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/mmspellbook/spellbook/pkg/types"
	"github.com/mmspellbook/spellbook/pkg/vm"
)

// Vec is a position or velocity in world units.
type Vec [3]float64

func (v Vec) Add(o Vec) Vec       { return Vec{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v Vec) Scale(k float64) Vec { return Vec{v[0] * k, v[1] * k, v[2] * k} }
func (v Vec) Len() float64        { return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2]) }

// Dist returns the euclidean distance between v and o.
func (v Vec) Dist(o Vec) float64 {
	return Vec{v[0] - o[0], v[1] - o[1], v[2] - o[2]}.Len()
}

// Body is a released spell living in the world. Its program runs once per
// tick against the body's own energy pool.
type Body struct {
	ID    uuid.UUID
	Owner *Caster
	Born  int // tick of release

	Pos      Vec
	Vel      Vec
	Form     uint64 // 0 = formless
	Shape    float64
	Anchored bool
	Damage   float64

	Spell *vm.Spell

	// Dissolved is set once the body leaves the world; Reason says why.
	Dissolved bool
	Reason    string

	now float64 // seconds since release, refreshed before each run
}

// Alive returns true if the body is still in the world.
func (b *Body) Alive() bool {
	return !b.Dissolved
}

// Energy returns the energy held by the body's spell.
func (b *Body) Energy() float64 {
	if b.Spell == nil {
		return 0
	}
	return b.Spell.Energy()
}

// Moving reports whether the body has a non-zero velocity.
func (b *Body) Moving() bool {
	return !b.Anchored && b.Vel.Len() > 0
}

// Query answers the spell's query components from the body's state.
func (b *Body) Query(name string) (types.Value, error) {
	switch name {
	case "moving":
		return types.Boolean(b.Moving()), nil
	case "get_time":
		return types.Number(b.now), nil
	}
	return nil, fmt.Errorf("body cannot answer %s()", name)
}

func (b *Body) dissolve(reason string) {
	if b.Dissolved {
		return
	}
	b.Dissolved = true
	b.Reason = reason
}

func (b *Body) String() string {
	return b.ID.String()[:8]
}
