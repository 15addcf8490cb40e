// Package efficiency holds per-operation skill levels and the rules that turn
// them into energy costs and progression.
//
// The VM only reads levels through a View and reports increases as deltas;
// the host owns the Table and decides when to Apply them.
package efficiency

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DefaultLevel is the level of an operation with no recorded efficiency.
const DefaultLevel = 1.0

// View is read-only access to an actor's efficiency levels.
type View interface {
	Level(op string) float64
}

// Table maps operation names to levels.
type Table map[string]float64

// Level returns the recorded level for op, or DefaultLevel.
func (t Table) Level(op string) float64 {
	if lv, ok := t[op]; ok {
		return lv
	}
	return DefaultLevel
}

// Apply adds deltas to the recorded levels, starting unrecorded operations
// at DefaultLevel.
func (t Table) Apply(deltas Deltas) {
	for op, d := range deltas {
		t[op] = t.Level(op) + d
	}
}

// Clone returns an independent copy of t.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for op, lv := range t {
		out[op] = lv
	}
	return out
}

func (t Table) String() string {
	ops := make([]string, 0, len(t))
	for op := range t {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = fmt.Sprintf("%s=%g", op, t[op])
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Cost scales a base cost inversely by level. Levels that are not positive
// and finite leave the base cost unscaled.
func Cost(base, level float64) float64 {
	if level > 0 && !math.IsInf(level, 0) {
		return base / level
	}
	return base
}

// Deltas accumulates efficiency increases per operation.
type Deltas map[string]float64

// Add records an increase of d for op.
func (d Deltas) Add(op string, inc float64) {
	if inc != 0 {
		d[op] += inc
	}
}

// Policy decides how much an operation's level grows after a dispatch that
// cost cost energy at level level.
type Policy interface {
	Increase(op string, level, cost float64) float64
}

// FixedStep grows every dispatched operation by the same amount.
type FixedStep float64

func (s FixedStep) Increase(string, float64, float64) float64 {
	return float64(s)
}

// Diminishing grows by Step/level, so practice pays off less as skill rises.
type Diminishing struct {
	Step float64
}

func (d Diminishing) Increase(_ string, level, _ float64) float64 {
	if level > 0 && !math.IsInf(level, 0) {
		return d.Step / level
	}
	return d.Step
}

// Frozen never grows.
type Frozen struct{}

func (Frozen) Increase(string, float64, float64) float64 { return 0 }

// DefaultPolicy is used when the host configures none.
var DefaultPolicy Policy = Diminishing{Step: 0.01}

// NewPolicy builds a policy from its configuration name.
func NewPolicy(name string, step float64) (Policy, error) {
	if math.IsNaN(step) || math.IsInf(step, 0) || step < 0 {
		return nil, fmt.Errorf("efficiency: step must be a non-negative number, got %v", step)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fixed", "fixed_step":
		return FixedStep(step), nil
	case "", "diminishing":
		return Diminishing{Step: step}, nil
	case "none", "frozen":
		return Frozen{}, nil
	}
	return nil, fmt.Errorf("efficiency: unknown policy %q", name)
}
