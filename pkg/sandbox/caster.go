package sandbox

import (
	"errors"
	"math"

	"github.com/mmspellbook/spellbook/pkg/catalogue"
	"github.com/mmspellbook/spellbook/pkg/compiler"
	"github.com/mmspellbook/spellbook/pkg/efficiency"
	"github.com/mmspellbook/spellbook/pkg/types"
)

// focusLevelToFocus scales focus level into the focus sigmoid.
const focusLevelToFocus = 0.05

// MinCharge is the least energy worth releasing; releasing less keeps
// charging.
const MinCharge = 1.0

var (
	ErrNoSpell      = errors.New("no spell loaded")
	ErrUndercharged = errors.New("charge below release threshold")
	ErrDead         = errors.New("caster has perished")
)

// Cast loads Code at tick Start, charges it for Hold ticks and then
// releases it.
type Cast struct {
	Label string
	Code  []byte
	Start int
	Hold  int
}

// Caster is an actor that charges energy into a loaded spell and releases
// it into the world as a Body.
type Caster struct {
	Name string
	Pos  Vec

	Health     float64
	Shield     float64
	FocusLevel float64
	MaxControl float64
	MaxPower   float64
	PowerLeft  float64 // fraction of MaxPower still available

	Catalogue  *catalogue.Catalogue // nil permits everything
	Efficiency efficiency.Table

	Loaded  []byte  // compiled spell ready to release
	Charged float64 // energy held for the next release

	Plan []Cast // scripted casts, driven by the scheduler

	bodies []*Body // released bodies, live or not yet pruned
}

// NewCaster creates a caster with default stats and an empty efficiency
// table.
func NewCaster(name string) *Caster {
	return &Caster{
		Name:       name,
		Health:     100,
		MaxControl: 10,
		MaxPower:   1,
		PowerLeft:  1,
		Efficiency: efficiency.Table{},
	}
}

// Alive returns true while the caster has health left.
func (c *Caster) Alive() bool {
	return c.Health > 0
}

// TakeDamage drains the shield first and the health with what is left.
func (c *Caster) TakeDamage(energy float64) {
	if c.Shield-energy > 0 {
		c.Shield -= energy
		return
	}
	rest := energy - c.Shield
	c.Shield = 0
	c.Health = math.Max(c.Health-rest, 0)
}

// Focus ranges over (0, 2); a focus level of 0 gives 1.
func (c *Caster) Focus() float64 {
	return 2 / (1 + math.Exp(-c.FocusLevel*focusLevelToFocus))
}

// Power is the energy the caster can charge per second.
func (c *Caster) Power() float64 {
	return c.MaxPower * c.Focus() * c.PowerLeft
}

// Control is the energy the caster can still hold: its focused capacity
// minus what its live bodies carry.
func (c *Caster) Control() float64 {
	held := 0.0
	live := c.bodies[:0]
	for _, b := range c.bodies {
		if b.Alive() {
			held += b.Energy()
			live = append(live, b)
		}
	}
	c.bodies = live
	return c.MaxControl*c.Focus() - held
}

// Load compiles src and makes it the spell released next.
func (c *Caster) Load(src string) error {
	res := compiler.Compile(src)
	if !res.Successful {
		return res.Err
	}
	c.Loaded = res.Bytecode
	return nil
}

// Charge adds power*dt to the charge, capped by control.
func (c *Caster) Charge(dt float64) {
	extra := c.Power() * dt
	ctl := c.Control()
	if ctl >= c.Charged+extra {
		c.Charged += extra
	} else {
		c.Charged = math.Max(ctl, 0)
	}
}

// release checks the loaded spell and hands out the charge. A charge under
// MinCharge is kept for later. A spell the catalogue refuses loses the
// charge and returns a PermissionDenied error.
func (c *Caster) release() (float64, error) {
	if !c.Alive() {
		return 0, ErrDead
	}
	if c.Loaded == nil {
		return 0, ErrNoSpell
	}
	if c.Charged < MinCharge {
		return 0, ErrUndercharged
	}
	if ctl := c.Control(); ctl < c.Charged {
		c.Charged = math.Max(ctl, 0)
	}
	energy := c.Charged
	c.Charged = 0

	if c.Catalogue != nil {
		if v := c.Catalogue.CheckAllowed(c.Loaded); !v.Allowed {
			return 0, types.Errorf(types.ErrPermissionDenied, "%s", v.Reason)
		}
	}
	return energy, nil
}

func (c *Caster) adopt(b *Body) {
	c.bodies = append(c.bodies, b)
}
